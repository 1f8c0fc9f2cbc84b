// Package features enriches a price frame with technical indicator columns.
package features

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/pricelake/indexer/pkg/frame"
	"github.com/malbeclabs/pricelake/indexer/pkg/indicators"
)

const (
	CloseColumn  = "close"
	SymbolColumn = "symbol"
	DateColumn   = "date"
)

var ErrMissingColumn = errors.New("missing required column")

type Option func(*Pipeline)

// WithMaxConcurrency bounds how many symbol groups are computed at once.
func WithMaxConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxConcurrency = n
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

type Pipeline struct {
	log            *slog.Logger
	cfg            Config
	columns        []string
	maxConcurrency int
}

// New returns a pipeline for cfg, with nil fields taking their defaults.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		log:            slog.New(slog.DiscardHandler),
		cfg:            cfg,
		columns:        cfg.Columns(),
		maxConcurrency: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Columns returns the names of the indicator columns Apply adds.
func (p *Pipeline) Columns() []string {
	return append([]string(nil), p.columns...)
}

// Apply returns a copy of in with the configured indicator columns added.
// When in has a symbol column each symbol's rows form their own series,
// ordered by date when a date column of timestamps is present.
func (p *Pipeline) Apply(ctx context.Context, in *frame.Frame) (*frame.Frame, error) {
	if in == nil || !in.Has(CloseColumn) {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, CloseColumn)
	}
	closes, err := in.Floats(CloseColumn)
	if err != nil {
		return nil, fmt.Errorf("failed to read close prices: %w", err)
	}

	groups, err := p.seriesGroups(in)
	if err != nil {
		return nil, err
	}

	n := in.Len()
	results := make(map[string][]float64, len(p.columns))
	for _, col := range p.columns {
		results[col] = make([]float64, n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrency)
	for _, rows := range groups {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			series := make([]float64, len(rows))
			for i, r := range rows {
				series[i] = closes[r]
			}
			for col, vals := range p.compute(series) {
				dst := results[col]
				for i, r := range rows {
					dst[r] = vals[i]
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := in.Clone()
	for _, col := range p.columns {
		if err := out.SetColumn(col, frame.FloatValues(results[col])); err != nil {
			return nil, fmt.Errorf("failed to set column %s: %w", col, err)
		}
	}
	p.log.Debug("features: applied", "rows", n, "groups", len(groups), "columns", len(p.columns))
	return out, nil
}

// compute returns every configured indicator over one series.
func (p *Pipeline) compute(series []float64) map[string][]float64 {
	out := make(map[string][]float64, len(p.columns))
	for _, period := range p.cfg.RSIPeriods {
		out[fmt.Sprintf("rsi_%d", period)] = indicators.RSI(series, period)
	}
	for _, period := range p.cfg.SMAPeriods {
		out[fmt.Sprintf("sma_%d", period)] = indicators.MovingAverage(series, period)
	}
	for _, period := range p.cfg.BollingerPeriods {
		upper, lower := indicators.BollingerBands(series, period)
		out[fmt.Sprintf("bb_upper_%d", period)] = upper
		out[fmt.Sprintf("bb_lower_%d", period)] = lower
	}
	return out
}

// seriesGroups returns the row positions of each independent series.
func (p *Pipeline) seriesGroups(in *frame.Frame) ([][]int, error) {
	var groups [][]int
	if in.Has(SymbolColumn) {
		gs, err := in.GroupBy(SymbolColumn)
		if err != nil {
			return nil, err
		}
		for _, g := range gs {
			groups = append(groups, g.Rows)
		}
	} else {
		all := make([]int, in.Len())
		for i := range all {
			all[i] = i
		}
		groups = append(groups, all)
	}

	if !in.Has(DateColumn) {
		return groups, nil
	}
	dates, err := in.Values(DateColumn)
	if err != nil {
		return nil, err
	}
	for _, rows := range groups {
		sortByTime(rows, dates)
	}
	return groups, nil
}

// sortByTime stably orders rows by their date value. Rows are left as they
// are unless every date in the group is a time.Time.
func sortByTime(rows []int, dates []any) {
	for _, r := range rows {
		if _, ok := dates[r].(time.Time); !ok {
			return
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return dates[rows[i]].(time.Time).Before(dates[rows[j]].(time.Time))
	})
}
