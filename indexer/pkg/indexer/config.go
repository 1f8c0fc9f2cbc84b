package indexer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/pricelake/indexer/pkg/features"
	"github.com/malbeclabs/pricelake/indexer/pkg/pricefeed"
	"github.com/malbeclabs/pricelake/indexer/pkg/warehouse"
)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	Store    warehouse.Store
	Source   pricefeed.Source
	Universe pricefeed.Universe

	Industries []string
	Symbols    []string

	Features       features.Config
	MaxConcurrency int

	PricesTable   string
	FeaturesTable string
	KeepStaging   bool

	RefreshInterval time.Duration
	Lookback        time.Duration

	// Migrate creates the warehouse tables when MigrationsEnable is set.
	MigrationsEnable bool
	Migrate          func(ctx context.Context) error
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Source == nil {
		return errors.New("price source is required")
	}
	if cfg.RefreshInterval <= 0 {
		return errors.New("refresh interval must be greater than 0")
	}
	if cfg.MigrationsEnable && cfg.Migrate == nil {
		return errors.New("migrate func is required when migrations are enabled")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}
