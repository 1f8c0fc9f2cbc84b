// Package pricefeed reads already downloaded daily price datasets and
// standardizes them into frames the feature pipeline and warehouse accept.
package pricefeed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/pricelake/indexer/pkg/frame"
)

const (
	ColumnSymbol    = "symbol"
	ColumnDate      = "date"
	ColumnVolume    = "volume"
	ColumnUpdatedAt = "updated_at"
)

var (
	ErrMissingHeader = errors.New("csv header is required")
	ErrMissingColumn = errors.New("missing required column")
)

// Request selects the rows a source returns. Empty Symbols means every
// symbol; a zero Start or End leaves that side of the range open. Both ends
// are inclusive.
type Request struct {
	Symbols []string
	Start   time.Time
	End     time.Time
}

func (r Request) matchDate(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// Source fetches a standardized price frame with at least symbol and date
// columns, stamped with updated_at.
type Source interface {
	Fetch(ctx context.Context, req Request) (*frame.Frame, error)
}

type CSVConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// Path is read when Open is nil.
	Path string
	Open func(ctx context.Context) (io.ReadCloser, error)
}

func (cfg *CSVConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Path == "" && cfg.Open == nil {
		return errors.New("path or open func is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// CSVSource reads a headered CSV of daily prices, one row per symbol and
// date.
type CSVSource struct {
	log *slog.Logger
	cfg CSVConfig
}

func NewCSVSource(cfg CSVConfig) (*CSVSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CSVSource{log: cfg.Logger, cfg: cfg}, nil
}

func (s *CSVSource) open(ctx context.Context) (io.ReadCloser, error) {
	if s.cfg.Open != nil {
		return s.cfg.Open(ctx)
	}
	return os.Open(s.cfg.Path)
}

func (s *CSVSource) Fetch(ctx context.Context, req Request) (*frame.Frame, error) {
	rc, err := s.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open price csv: %w", err)
	}
	defer rc.Close()

	f, err := ReadCSV(rc, s.cfg.Clock.Now())
	if err != nil {
		return nil, err
	}
	out, err := Filter(f, req)
	if err != nil {
		return nil, err
	}
	s.log.Debug("pricefeed: read csv", "rows", f.Len(), "matched", out.Len(), "symbols", len(req.Symbols))
	return out, nil
}

// ReadCSV parses a price CSV into a standardized frame. Column names are
// lowercased with spaces turned into underscores, ticker becomes symbol and
// every row is stamped with updatedAt. Dates parse as 2006-01-02 or
// RFC3339, volume as an integer, other numeric-looking columns as floats
// and the rest as text. Empty cells are nil.
func ReadCSV(r io.Reader, updatedAt time.Time) (*frame.Frame, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrMissingHeader
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	names := standardNames(header)

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv records: %w", err)
	}

	cols := make([]frame.Column, len(names))
	for i, name := range names {
		vals, err := parseColumn(name, records, i)
		if err != nil {
			return nil, err
		}
		cols[i] = frame.Column{Name: name, Values: vals}
	}

	f, err := frame.New(cols...)
	if err != nil {
		return nil, fmt.Errorf("failed to build price frame: %w", err)
	}
	if !f.Has(ColumnUpdatedAt) {
		stamp := make([]any, len(records))
		for i := range stamp {
			stamp[i] = updatedAt.UTC()
		}
		if err := f.AddColumn(ColumnUpdatedAt, stamp); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func standardNames(header []string) []string {
	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.ReplaceAll(frame.NormalizeName(h), " ", "_")
	}
	if i := slices.Index(names, "ticker"); i >= 0 && !slices.Contains(names, ColumnSymbol) {
		names[i] = ColumnSymbol
	}
	return names
}

func parseColumn(name string, records [][]string, idx int) ([]any, error) {
	vals := make([]any, len(records))
	switch name {
	case ColumnSymbol:
		// Tickers such as 0700 or 7203 look numeric but are keys.
		for r, rec := range records {
			if cell := strings.TrimSpace(rec[idx]); cell != "" {
				vals[r] = cell
			}
		}
		return vals, nil
	case ColumnDate, ColumnUpdatedAt:
		for r, rec := range records {
			cell := strings.TrimSpace(rec[idx])
			if cell == "" {
				continue
			}
			t, err := parseDate(cell)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", r+1, name, err)
			}
			vals[r] = t
		}
		return vals, nil
	case ColumnVolume:
		for r, rec := range records {
			cell := strings.TrimSpace(rec[idx])
			if cell == "" {
				continue
			}
			n, err := strconv.ParseInt(cell, 10, 64)
			if err != nil {
				// Some exports write volume as 1234.0.
				x, ferr := strconv.ParseFloat(cell, 64)
				if ferr != nil {
					return nil, fmt.Errorf("row %d column %s: %w", r+1, name, err)
				}
				n = int64(x)
			}
			vals[r] = n
		}
		return vals, nil
	}

	numeric := true
	for _, rec := range records {
		cell := strings.TrimSpace(rec[idx])
		if cell == "" {
			continue
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			numeric = false
			break
		}
	}
	for r, rec := range records {
		cell := strings.TrimSpace(rec[idx])
		if cell == "" {
			continue
		}
		if numeric {
			x, _ := strconv.ParseFloat(cell, 64)
			vals[r] = x
			continue
		}
		vals[r] = cell
	}
	return vals, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

// Filter returns the rows of f matching req. Symbol comparison is case
// sensitive; rows without a date never match a bounded range.
func Filter(f *frame.Frame, req Request) (*frame.Frame, error) {
	if !f.Has(ColumnSymbol) {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColumnSymbol)
	}
	if !f.Has(ColumnDate) {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColumnDate)
	}
	symbols, _ := f.Values(ColumnSymbol)
	dates, _ := f.Values(ColumnDate)

	var want map[string]struct{}
	if len(req.Symbols) > 0 {
		want = make(map[string]struct{}, len(req.Symbols))
		for _, s := range req.Symbols {
			want[s] = struct{}{}
		}
	}
	bounded := !req.Start.IsZero() || !req.End.IsZero()

	rows := make([]int, 0, f.Len())
	for i := range f.Len() {
		if want != nil {
			sym, _ := symbols[i].(string)
			if _, ok := want[sym]; !ok {
				continue
			}
		}
		if bounded {
			t, ok := dates[i].(time.Time)
			if !ok || !req.matchDate(t) {
				continue
			}
		}
		rows = append(rows, i)
	}
	return f.Take(rows), nil
}
