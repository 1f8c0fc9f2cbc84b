// Package prices keeps the warehouse price and feature tables current by
// periodically reading a price source, computing indicators and upserting
// both datasets.
package prices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/pricelake/indexer/pkg/features"
	"github.com/malbeclabs/pricelake/indexer/pkg/frame"
	"github.com/malbeclabs/pricelake/indexer/pkg/metrics"
	"github.com/malbeclabs/pricelake/indexer/pkg/pricefeed"
	"github.com/malbeclabs/pricelake/indexer/pkg/warehouse"
	"github.com/malbeclabs/pricelake/utils/pkg/retry"
)

const (
	DefaultPricesTable   = "stock_prices"
	DefaultFeaturesTable = "stock_features"
	DefaultLookback      = 5 * 365 * 24 * time.Hour

	viewType = "prices"
)

// Upserter merges a dataset into a table.
type Upserter interface {
	Upsert(ctx context.Context, f *frame.Frame, table string) (warehouse.Result, error)
}

type ViewConfig struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Source   pricefeed.Source
	Upserter Upserter
	Pipeline *features.Pipeline

	// Universe resolves Industries to symbols. Symbols are always fetched
	// in addition, e.g. commodity futures such as CL=F. With neither set,
	// every symbol in the source is loaded.
	Universe   pricefeed.Universe
	Industries []string
	Symbols    []string

	PricesTable   string
	FeaturesTable string

	Lookback        time.Duration
	RefreshInterval time.Duration
	Retry           retry.Config
}

func (cfg *ViewConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Source == nil {
		return errors.New("price source is required")
	}
	if cfg.Upserter == nil {
		return errors.New("upserter is required")
	}
	if cfg.Pipeline == nil {
		return errors.New("feature pipeline is required")
	}
	if len(cfg.Industries) > 0 && cfg.Universe == nil {
		return errors.New("universe is required when industries are set")
	}
	if cfg.RefreshInterval <= 0 {
		return errors.New("refresh interval must be greater than 0")
	}
	if cfg.Lookback < 0 {
		return errors.New("lookback must not be negative")
	}
	if cfg.Lookback == 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.PricesTable == "" {
		cfg.PricesTable = DefaultPricesTable
	}
	if cfg.FeaturesTable == "" {
		cfg.FeaturesTable = DefaultFeaturesTable
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = warehouse.IsTransient
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type View struct {
	log       *slog.Logger
	cfg       ViewConfig
	refreshMu sync.Mutex

	readyOnce sync.Once
	readyCh   chan struct{}
}

func NewView(cfg ViewConfig) (*View, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &View{
		log:     cfg.Logger,
		cfg:     cfg,
		readyCh: make(chan struct{}),
	}, nil
}

func (v *View) Ready() bool {
	select {
	case <-v.readyCh:
		return true
	default:
		return false
	}
}

func (v *View) WaitReady(ctx context.Context) error {
	select {
	case <-v.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for prices view: %w", ctx.Err())
	}
}

func (v *View) Start(ctx context.Context) {
	go func() {
		v.log.Info("prices: starting refresh loop", "interval", v.cfg.RefreshInterval)

		v.safeRefresh(ctx)

		ticker := v.cfg.Clock.NewTicker(v.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				v.safeRefresh(ctx)
			}
		}
	}()
}

func (v *View) safeRefresh(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			v.log.Error("prices: refresh panicked", "panic", r)
			metrics.ViewRefreshTotal.WithLabelValues(viewType, "panic").Inc()
		}
	}()

	if err := v.Refresh(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		v.log.Error("prices: refresh failed", "error", err)
	}
}

// Refresh runs one load of the lookback window. Concurrent calls are
// serialized.
func (v *View) Refresh(ctx context.Context) error {
	v.refreshMu.Lock()
	defer v.refreshMu.Unlock()

	refreshStart := time.Now()
	v.log.Debug("prices: refresh started")
	defer func() {
		duration := time.Since(refreshStart)
		v.log.Info("prices: refresh completed", "duration", duration.String())
		metrics.ViewRefreshDuration.WithLabelValues(viewType).Observe(duration.Seconds())
	}()

	if err := v.refresh(ctx); err != nil {
		metrics.ViewRefreshTotal.WithLabelValues(viewType, "error").Inc()
		return err
	}
	metrics.ViewRefreshTotal.WithLabelValues(viewType, "success").Inc()
	v.readyOnce.Do(func() {
		close(v.readyCh)
		v.log.Info("prices: view is now ready")
	})
	return nil
}

func (v *View) refresh(ctx context.Context) error {
	symbols, err := v.symbols(ctx)
	if err != nil {
		return err
	}
	if symbols != nil && len(symbols) == 0 {
		v.log.Warn("prices: no symbols in configured industries", "industries", v.cfg.Industries)
		return nil
	}

	now := v.cfg.Clock.Now().UTC()
	req := pricefeed.Request{
		Symbols: symbols,
		Start:   now.Add(-v.cfg.Lookback).Truncate(24 * time.Hour),
		End:     now,
	}
	prices, err := v.cfg.Source.Fetch(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to fetch prices: %w", err)
	}
	if prices.Empty() {
		v.log.Info("prices: source returned no rows", "symbols", len(symbols), "start", req.Start, "end", req.End)
		return nil
	}

	if _, err := v.upsert(ctx, prices, v.cfg.PricesTable); err != nil {
		return err
	}

	enriched, err := v.cfg.Pipeline.Apply(ctx, prices)
	if err != nil {
		return fmt.Errorf("failed to compute features: %w", err)
	}
	if _, err := v.upsert(ctx, enriched, v.cfg.FeaturesTable); err != nil {
		return err
	}
	return nil
}

// symbols returns nil when the whole source should be loaded.
func (v *View) symbols(ctx context.Context) ([]string, error) {
	if len(v.cfg.Industries) == 0 && len(v.cfg.Symbols) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(v.cfg.Symbols))
	for _, industry := range v.cfg.Industries {
		var syms []string
		err := retry.Do(ctx, v.cfg.Retry, func() error {
			var err error
			syms, err = v.cfg.Universe.SymbolsByIndustry(ctx, industry)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get symbols for industry %q: %w", industry, err)
		}
		v.log.Debug("prices: resolved industry", "industry", industry, "symbols", len(syms))
		out = append(out, syms...)
	}
	out = append(out, v.cfg.Symbols...)
	slices.Sort(out)
	return slices.Compact(out), nil
}

func (v *View) upsert(ctx context.Context, f *frame.Frame, table string) (warehouse.Result, error) {
	cfg := v.cfg.Retry
	cfg.OnRetry = func(attempt int, err error) {
		metrics.UpsertRetries.WithLabelValues(table).Inc()
		v.log.Warn("prices: retrying upsert", "table", table, "attempt", attempt, "error", err)
	}

	var res warehouse.Result
	err := retry.Do(ctx, cfg, func() error {
		var err error
		res, err = v.cfg.Upserter.Upsert(ctx, f, table)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("failed to upsert %s: %w", table, err)
	}
	if res.CleanupErr != nil {
		v.log.Warn("prices: staging table left behind", "table", table, "staging", res.Staging.String(), "error", res.CleanupErr)
	}
	v.log.Info("prices: upserted", "table", table, "rows", res.Rows, "duplicates", res.Duplicates)
	return res, nil
}
