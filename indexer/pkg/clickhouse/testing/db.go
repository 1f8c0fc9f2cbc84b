package clickhousetesting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	tcch "github.com/testcontainers/testcontainers-go/modules/clickhouse"

	"github.com/malbeclabs/pricelake/indexer/pkg/clickhouse"
)

type DBConfig struct {
	Database       string
	Username       string
	Password       string
	Port           string
	ContainerImage string
}

func (cfg *DBConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "test"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.Port == "" {
		cfg.Port = "9000"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "clickhouse/clickhouse-server:latest"
	}
	return nil
}

// DB is a ClickHouse container shared by the tests of a package. Each test
// gets its own database inside it.
type DB struct {
	log       *slog.Logger
	cfg       *DBConfig
	addr      string
	container *tcch.ClickHouseContainer
}

// Config returns client settings for the given database.
func (db *DB) Config(database string) clickhouse.Config {
	return clickhouse.Config{
		Addr:     db.addr,
		Database: database,
		Username: db.cfg.Username,
		Password: db.cfg.Password,
	}
}

func (db *DB) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(terminateCtx); err != nil {
		db.log.Error("failed to terminate ClickHouse container", "error", err)
	}
}

// NewDB starts a ClickHouse container.
func NewDB(ctx context.Context, log *slog.Logger, cfg *DBConfig) (*DB, error) {
	if cfg == nil {
		cfg = &DBConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate DB config: %w", err)
	}

	// Retry container start up to 3 times for retryable errors
	var container *tcch.ClickHouseContainer
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		var err error
		container, err = tcch.Run(ctx,
			cfg.ContainerImage,
			tcch.WithDatabase(cfg.Database),
			tcch.WithUsername(cfg.Username),
			tcch.WithPassword(cfg.Password),
		)
		if err != nil {
			lastErr = err
			if isRetryableContainerStartErr(err) && attempt < 3 {
				time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
				continue
			}
			return nil, fmt.Errorf("failed to start ClickHouse container after retries: %w", lastErr)
		}
		break
	}
	if container == nil {
		return nil, fmt.Errorf("failed to start ClickHouse container after retries: %w", lastErr)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ClickHouse container host: %w", err)
	}
	mappedPort, err := container.MappedPort(ctx, nat.Port(cfg.Port+"/tcp"))
	if err != nil {
		return nil, fmt.Errorf("failed to get ClickHouse container mapped port: %w", err)
	}

	return &DB{
		log:       log,
		cfg:       cfg,
		addr:      fmt.Sprintf("%s:%s", host, mappedPort.Port()),
		container: container,
	}, nil
}

// NewTestClient creates a database for the test, applies the embedded
// migrations to it, and returns a client bound to it. The database is
// dropped when the test ends.
func NewTestClient(t *testing.T, db *DB) clickhouse.Client {
	ctx := t.Context()

	admin := connectWithRetry(t, db, db.cfg.Database)
	adminConn, err := admin.Conn(ctx)
	require.NoError(t, err)

	databaseName := "test_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	require.NoError(t, clickhouse.CreateDatabase(ctx, db.log, adminConn, databaseName))
	require.NoError(t, clickhouse.Up(ctx, db.log, db.Config(databaseName)))

	client := connectWithRetry(t, db, databaseName)
	t.Cleanup(func() {
		dropCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := adminConn.Exec(dropCtx, "DROP DATABASE IF EXISTS "+databaseName); err != nil {
			db.log.Error("failed to drop test database", "database", databaseName, "error", err)
		}
		client.Close()
		admin.Close()
	})
	return client
}

// NewTestStore returns a warehouse store over a fresh migrated database.
func NewTestStore(t *testing.T, db *DB) (*clickhouse.Store, clickhouse.Client) {
	client := NewTestClient(t, db)
	store, err := clickhouse.NewStore(clickhouse.StoreConfig{Logger: db.log, ClickHouse: client})
	require.NoError(t, err)
	return store, client
}

// connectWithRetry opens a client, retrying while the server finishes
// starting up.
func connectWithRetry(t *testing.T, db *DB, database string) clickhouse.Client {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		client, err := clickhouse.NewClient(t.Context(), db.log, db.Config(database))
		if err == nil {
			return client
		}
		lastErr = err
		if !isRetryableConnectionErr(err) {
			break
		}
		time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
	}
	require.NoError(t, lastErr, "failed to create ClickHouse client")
	return nil
}

func isRetryableContainerStartErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded") ||
		strings.Contains(s, "/containers/") && strings.Contains(s, "json") ||
		strings.Contains(s, "Get \"http://%2Fvar%2Frun%2Fdocker.sock")
}

func isRetryableConnectionErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "handshake") ||
		strings.Contains(s, "packet") ||
		strings.Contains(s, "failed to ping") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded") ||
		strings.Contains(s, "dial tcp")
}
