// Package warehouse upserts tabular datasets into relational stores through
// a per-call staging table, using the destination's own metadata to pick
// column types and the merge key.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/malbeclabs/pricelake/indexer/pkg/frame"
	"github.com/malbeclabs/pricelake/indexer/pkg/metrics"
)

const cleanupTimeout = 30 * time.Second

type EngineConfig struct {
	Logger *slog.Logger
	Store  Store

	// KeepStaging leaves staging tables in place after a merge.
	KeepStaging bool
}

func (cfg *EngineConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	return nil
}

// Engine merges datasets into destination tables. It holds no per-call
// state and is safe for concurrent use.
type Engine struct {
	log     *slog.Logger
	cfg     EngineConfig
	store   Store
	dialect Dialect
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		log:     cfg.Logger,
		cfg:     cfg,
		store:   cfg.Store,
		dialect: cfg.Store.Dialect(),
	}, nil
}

// Result summarizes one upsert.
type Result struct {
	Table   TableRef
	Staging TableRef

	// Rows is the number of distinct keyed rows merged.
	Rows int
	// Duplicates is the number of input rows dropped because a later row
	// had the same key.
	Duplicates int

	KeyColumns    []string
	UpdateColumns []string

	// CleanupErr is set when the staging table could not be dropped after
	// the merge committed. The merge itself succeeded.
	CleanupErr error
}

// plan is the resolved shape of one upsert.
type plan struct {
	columns   []ColumnDef
	key       UniqueKey
	update    []string
	preserved []string
}

// Upsert merges f into table: rows whose key matches a destination row
// overwrite its non-key columns, other rows are inserted. table is "name"
// or "schema.name". An empty frame is a no-op.
func (e *Engine) Upsert(ctx context.Context, f *frame.Frame, table string) (Result, error) {
	if f.Empty() {
		e.log.Debug("upsert: empty dataset, nothing to do", "table", table)
		return Result{}, nil
	}

	start := time.Now()
	res, err := e.upsert(ctx, f, table)
	label := res.Table.String()
	if label == "" {
		label = table
	}
	metrics.UpsertDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpsertTotal.WithLabelValues(label, "error").Inc()
		return res, err
	}
	metrics.UpsertTotal.WithLabelValues(label, "success").Inc()
	metrics.UpsertRows.WithLabelValues(label).Add(float64(res.Rows))
	return res, nil
}

func (e *Engine) upsert(ctx context.Context, f *frame.Frame, table string) (Result, error) {
	ref, err := ParseTableRef(table, e.dialect.DefaultSchema(), e.dialect.MaxIdentifierLength())
	if err != nil {
		return Result{}, err
	}
	res := Result{Table: ref}

	p, err := e.plan(ctx, f, ref)
	if err != nil {
		return res, err
	}
	res.KeyColumns = p.key.Columns
	res.UpdateColumns = p.update

	rows, dups, err := keyedRows(f, p.key.Columns)
	if err != nil {
		return res, fmt.Errorf("%s: %w", ref, err)
	}
	if dups > 0 {
		e.log.Warn("upsert: collapsed rows with duplicate keys", "table", ref.String(), "duplicates", dups, "key", p.key.Columns)
	}
	res.Rows = len(rows)
	res.Duplicates = dups

	staging := StagingRef(ref, e.dialect.MaxIdentifierLength())
	res.Staging = staging

	names := f.Names()
	spec := MergeSpec{
		Target:           ref,
		Staging:          staging,
		Columns:          names,
		KeyColumns:       p.key.Columns,
		UpdateColumns:    p.update,
		PreservedColumns: p.preserved,
	}

	e.log.Debug("upsert: staging", "table", ref.String(), "staging", staging.String(), "rows", len(rows), "key", p.key.Columns)
	err = e.store.InTx(ctx, func(tx Tx) error {
		for _, stmt := range e.dialect.CreateStagingTable(staging, p.columns) {
			if err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create staging table: %w", err)
			}
		}
		if err := tx.BulkInsert(ctx, staging, names, rows); err != nil {
			return fmt.Errorf("failed to load staging table: %w", err)
		}
		if err := tx.Exec(ctx, e.dialect.Merge(spec)); err != nil {
			return fmt.Errorf("failed to merge into %s: %w", ref, err)
		}
		return nil
	})
	if err != nil {
		// Staging DDL rolls back with the transaction on transactional
		// stores; others may have left the table behind.
		e.dropStaging(ctx, ref, staging)
		return res, err
	}

	if !e.cfg.KeepStaging {
		res.CleanupErr = e.dropStaging(ctx, ref, staging)
	}
	e.log.Info("upsert: merged", "table", ref.String(), "rows", res.Rows, "duplicates", dups, "update_columns", len(p.update))
	return res, nil
}

// SweepStaging drops staging tables left behind for table by earlier runs
// and returns how many it dropped. Stores that cannot list tables are
// skipped. It must not run while another writer is upserting into table
// on a store whose staging DDL is not transactional.
func (e *Engine) SweepStaging(ctx context.Context, table string) (int, error) {
	ref, err := ParseTableRef(table, e.dialect.DefaultSchema(), e.dialect.MaxIdentifierLength())
	if err != nil {
		return 0, err
	}
	lister, ok := e.store.(TableLister)
	if !ok {
		return 0, nil
	}
	maxLen := e.dialect.MaxIdentifierLength()
	names, err := lister.ListTables(ctx, ref.Schema, stagingPrefix(ref.Name, maxLen))
	if err != nil {
		return 0, fmt.Errorf("failed to list staging tables for %s: %w", ref, err)
	}

	var dropped int
	for _, name := range names {
		if !IsStagingName(ref.Name, name, maxLen) {
			continue
		}
		staging := TableRef{Schema: ref.Schema, Name: name}
		if err := e.store.Exec(ctx, e.dialect.DropTable(staging)); err != nil {
			return dropped, fmt.Errorf("failed to drop staging table %s: %w", staging, err)
		}
		e.log.Info("upsert: dropped leftover staging table", "table", ref.String(), "staging", staging.String())
		dropped++
	}
	return dropped, nil
}

// dropStaging removes a staging table, logging rather than returning any
// failure.
func (e *Engine) dropStaging(ctx context.Context, target, staging TableRef) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := e.store.Exec(ctx, e.dialect.DropTable(staging)); err != nil {
		e.log.Warn("upsert: failed to drop staging table", "table", target.String(), "staging", staging.String(), "error", err)
		metrics.StagingCleanupFailures.WithLabelValues(target.String()).Inc()
		return err
	}
	return nil
}

// plan resolves column types and the merge key before anything is written.
func (e *Engine) plan(ctx context.Context, f *frame.Frame, ref TableRef) (*plan, error) {
	names := f.Names()
	if err := validateColumns(names, e.dialect.MaxIdentifierLength()); err != nil {
		return nil, err
	}

	columns, existing, err := e.resolveColumnTypes(ctx, f, ref)
	if err != nil {
		return nil, err
	}

	keys, err := e.store.UniqueKeys(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get unique keys for %s: %w", ref, err)
	}
	if len(keys) == 0 {
		return nil, &ConfigurationError{Table: ref, Err: ErrNoUniqueKey}
	}
	key, err := selectKey(ref, keys, names)
	if err != nil {
		return nil, err
	}

	p := &plan{columns: columns, key: key}
	for _, n := range names {
		if !slices.Contains(key.Columns, n) {
			p.update = append(p.update, n)
		}
	}
	for _, c := range existing {
		if !slices.Contains(names, c.Name) {
			p.preserved = append(p.preserved, c.Name)
		}
	}
	return p, nil
}

// ResolveColumnTypes returns the declared type for each column of f: the
// destination's type when table exists, else one inferred from the values.
func (e *Engine) ResolveColumnTypes(ctx context.Context, f *frame.Frame, table string) ([]ColumnDef, error) {
	ref, err := ParseTableRef(table, e.dialect.DefaultSchema(), e.dialect.MaxIdentifierLength())
	if err != nil {
		return nil, err
	}
	columns, _, err := e.resolveColumnTypes(ctx, f, ref)
	return columns, err
}

func (e *Engine) resolveColumnTypes(ctx context.Context, f *frame.Frame, ref TableRef) ([]ColumnDef, []ColumnInfo, error) {
	existing, err := e.store.ColumnTypes(ctx, ref)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get column types for %s: %w", ref, err)
	}

	names := f.Names()
	columns := make([]ColumnDef, len(names))
	if len(existing) == 0 {
		for i, n := range names {
			vals, _ := f.Values(n)
			columns[i] = ColumnDef{Name: n, Type: InferColumnType(vals)}
		}
		return columns, nil, nil
	}

	byName := make(map[string]ColumnType, len(existing))
	for _, c := range existing {
		byName[c.Name] = c.Type
	}
	var missing []string
	for i, n := range names {
		t, ok := byName[n]
		if !ok {
			missing = append(missing, n)
			continue
		}
		columns[i] = ColumnDef{Name: n, Type: t}
	}
	if len(missing) > 0 {
		return nil, nil, &SchemaMismatchError{Table: ref, Columns: missing, Reason: "dataset columns not in destination"}
	}
	return columns, existing, nil
}

// selectKey picks the first constraint, primary key first, whose columns
// are all present in the dataset.
func selectKey(ref TableRef, keys []UniqueKey, names []string) (UniqueKey, error) {
	for _, k := range keys {
		if len(k.Columns) > 0 && containsAll(names, k.Columns) {
			return k, nil
		}
	}
	var missing []string
	for _, c := range keys[0].Columns {
		if !slices.Contains(names, c) {
			missing = append(missing, c)
		}
	}
	return UniqueKey{}, &SchemaMismatchError{Table: ref, Columns: missing, Reason: "dataset lacks key columns"}
}

func containsAll(haystack, needles []string) bool {
	for _, n := range needles {
		if !slices.Contains(haystack, n) {
			return false
		}
	}
	return true
}

// keyedRows returns f's rows with later rows replacing earlier ones that
// share a key, keeping first-seen order, and the number of rows replaced.
func keyedRows(f *frame.Frame, key []string) ([][]any, int, error) {
	keyVals := make([][]any, len(key))
	for i, k := range key {
		vals, err := f.Values(k)
		if err != nil {
			return nil, 0, err
		}
		keyVals[i] = vals
	}

	n := f.Len()
	pos := make(map[string]int, n)
	rows := make([][]any, 0, n)
	tuple := make([]any, len(key))
	dups := 0
	for r := range n {
		for i, vals := range keyVals {
			v := vals[r]
			if isNull(v) {
				return nil, 0, fmt.Errorf("%w: %s at row %d", ErrNullKey, key[i], r)
			}
			tuple[i] = v
		}
		k := naturalKey(tuple)
		if at, ok := pos[k]; ok {
			rows[at] = f.Row(r)
			dups++
			continue
		}
		pos[k] = len(rows)
		rows = append(rows, f.Row(r))
	}
	return rows, dups, nil
}

func isNull(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(t)
	case float32:
		return math.IsNaN(float64(t))
	case string:
		return t == ""
	}
	return false
}
