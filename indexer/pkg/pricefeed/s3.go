package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/pricelake/indexer/pkg/frame"
)

// S3API is the subset of the S3 client used to read price objects.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3ClientConfig struct {
	Region string
	// Endpoint is set for S3-compatible stores such as MinIO.
	Endpoint       string
	ForcePathStyle bool
}

// NewS3Client builds an S3 client from the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}

type S3Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Client S3API
	Bucket string
	Key    string
}

func (cfg *S3Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("s3 client is required")
	}
	if cfg.Bucket == "" {
		return errors.New("bucket is required")
	}
	if cfg.Key == "" {
		return errors.New("key is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// S3Source reads a price CSV stored as one S3 object.
type S3Source struct {
	log *slog.Logger
	cfg S3Config
	csv *CSVSource
}

func NewS3Source(cfg S3Config) (*S3Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &S3Source{log: cfg.Logger, cfg: cfg}
	csv, err := NewCSVSource(CSVConfig{
		Logger: cfg.Logger,
		Clock:  cfg.Clock,
		Open:   s.getObject,
	})
	if err != nil {
		return nil, err
	}
	s.csv = csv
	return s, nil
}

func (s *S3Source) Fetch(ctx context.Context, req Request) (*frame.Frame, error) {
	s.log.Debug("pricefeed: fetching s3 object", "bucket", s.cfg.Bucket, "key", s.cfg.Key)
	return s.csv.Fetch(ctx, req)
}

func (s *S3Source) getObject(ctx context.Context) (io.ReadCloser, error) {
	out, err := s.cfg.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) || strings.Contains(err.Error(), "NotFound") {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.cfg.Bucket, s.cfg.Key, os.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", s.cfg.Bucket, s.cfg.Key, err)
	}
	return out.Body, nil
}
