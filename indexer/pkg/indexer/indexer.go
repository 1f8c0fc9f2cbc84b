package indexer

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/malbeclabs/pricelake/indexer/pkg/features"
	"github.com/malbeclabs/pricelake/indexer/pkg/prices"
	"github.com/malbeclabs/pricelake/indexer/pkg/warehouse"
)

type Indexer struct {
	log *slog.Logger
	cfg Config

	engine *warehouse.Engine
	prices *prices.View

	startedAt time.Time
}

func New(ctx context.Context, cfg Config) (*Indexer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.MigrationsEnable {
		if err := cfg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to run warehouse migrations: %w", err)
		}
		cfg.Logger.Info("warehouse migrations completed")
	}

	engine, err := warehouse.NewEngine(warehouse.EngineConfig{
		Logger:      cfg.Logger,
		Store:       cfg.Store,
		KeepStaging: cfg.KeepStaging,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create upsert engine: %w", err)
	}

	if !cfg.KeepStaging {
		sweepStaging(ctx, cfg.Logger, engine,
			cmp.Or(cfg.PricesTable, prices.DefaultPricesTable),
			cmp.Or(cfg.FeaturesTable, prices.DefaultFeaturesTable))
	}

	opts := []features.Option{features.WithLogger(cfg.Logger)}
	if cfg.MaxConcurrency > 0 {
		opts = append(opts, features.WithMaxConcurrency(cfg.MaxConcurrency))
	}
	pipeline, err := features.New(cfg.Features, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create feature pipeline: %w", err)
	}

	pricesView, err := prices.NewView(prices.ViewConfig{
		Logger:          cfg.Logger,
		Clock:           cfg.Clock,
		Source:          cfg.Source,
		Upserter:        engine,
		Pipeline:        pipeline,
		Universe:        cfg.Universe,
		Industries:      cfg.Industries,
		Symbols:         cfg.Symbols,
		PricesTable:     cfg.PricesTable,
		FeaturesTable:   cfg.FeaturesTable,
		Lookback:        cfg.Lookback,
		RefreshInterval: cfg.RefreshInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create prices view: %w", err)
	}

	return &Indexer{
		log:    cfg.Logger,
		cfg:    cfg,
		engine: engine,
		prices: pricesView,
	}, nil
}

// sweepStaging drops staging tables a previous process left behind. Failures
// are logged; the next upsert does not depend on them.
func sweepStaging(ctx context.Context, log *slog.Logger, engine *warehouse.Engine, tables ...string) {
	for _, table := range tables {
		n, err := engine.SweepStaging(ctx, table)
		if err != nil {
			log.Warn("indexer: failed to sweep staging tables", "table", table, "error", err)
			continue
		}
		if n > 0 {
			log.Info("indexer: swept staging tables", "table", table, "dropped", n)
		}
	}
}

func (i *Indexer) Engine() *warehouse.Engine {
	return i.engine
}

func (i *Indexer) Ready() bool {
	return i.prices.Ready()
}

func (i *Indexer) Start(ctx context.Context) {
	i.startedAt = i.cfg.Clock.Now()
	i.prices.Start(ctx)
}

// Refresh runs one load outside the refresh loop.
func (i *Indexer) Refresh(ctx context.Context) error {
	return i.prices.Refresh(ctx)
}

func (i *Indexer) Close() error {
	return nil
}
