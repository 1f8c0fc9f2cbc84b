// Package frame holds the in-memory tabular dataset that flows from price
// sources through the feature pipeline into the warehouse.
package frame

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrColumnNotFound  = errors.New("column not found")
	ErrDuplicateColumn = errors.New("duplicate column")
	ErrLengthMismatch  = errors.New("column length mismatch")
	ErrNotNumeric      = errors.New("column is not numeric")
)

// Column is a named sequence of values. A nil value means no value.
type Column struct {
	Name   string
	Values []any
}

// Frame is an ordered set of equally long columns with lowercase names.
type Frame struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// New builds a frame from the given columns in order.
func New(cols ...Column) (*Frame, error) {
	f := &Frame{index: make(map[string]int, len(cols))}
	for _, c := range cols {
		if err := f.AddColumn(c.Name, c.Values); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// FromRecords builds a frame from a header and row-major records.
func FromRecords(names []string, records [][]any) (*Frame, error) {
	cols := make([]Column, len(names))
	for i, name := range names {
		cols[i] = Column{Name: name, Values: make([]any, len(records))}
	}
	for r, rec := range records {
		if len(rec) != len(names) {
			return nil, fmt.Errorf("%w: record %d has %d values, want %d", ErrLengthMismatch, r, len(rec), len(names))
		}
		for i, v := range rec {
			cols[i].Values[r] = v
		}
	}
	return New(cols...)
}

// NormalizeName lowercases and trims a column name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// AddColumn appends a column. The frame keeps a reference to values.
func (f *Frame) AddColumn(name string, values []any) error {
	name = NormalizeName(name)
	if name == "" {
		return errors.New("column name is required")
	}
	if f.index == nil {
		f.index = make(map[string]int)
	}
	if _, ok := f.index[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateColumn, name)
	}
	if len(f.cols) > 0 && len(values) != f.rows {
		return fmt.Errorf("%w: %s has %d values, want %d", ErrLengthMismatch, name, len(values), f.rows)
	}
	if len(f.cols) == 0 {
		f.rows = len(values)
	}
	f.index[name] = len(f.cols)
	f.cols = append(f.cols, &Column{Name: name, Values: values})
	return nil
}

// SetColumn replaces the values of an existing column or appends a new one.
func (f *Frame) SetColumn(name string, values []any) error {
	name = NormalizeName(name)
	i, ok := f.index[name]
	if !ok {
		return f.AddColumn(name, values)
	}
	if len(values) != f.rows {
		return fmt.Errorf("%w: %s has %d values, want %d", ErrLengthMismatch, name, len(values), f.rows)
	}
	f.cols[i].Values = values
	return nil
}

// RenameColumn renames a column in place. Renaming onto an existing name
// is an error.
func (f *Frame) RenameColumn(from, to string) error {
	from, to = NormalizeName(from), NormalizeName(to)
	i, ok := f.index[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrColumnNotFound, from)
	}
	if from == to {
		return nil
	}
	if _, ok := f.index[to]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateColumn, to)
	}
	delete(f.index, from)
	f.index[to] = i
	f.cols[i].Name = to
	return nil
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return f.rows
}

// Width returns the number of columns.
func (f *Frame) Width() int {
	if f == nil {
		return 0
	}
	return len(f.cols)
}

// Empty reports whether the frame has no rows or no columns.
func (f *Frame) Empty() bool {
	return f.Len() == 0 || f.Width() == 0
}

// Names returns the column names in order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.Name
	}
	return names
}

// Has reports whether the frame has the named column.
func (f *Frame) Has(name string) bool {
	_, ok := f.index[NormalizeName(name)]
	return ok
}

// Values returns the values of the named column. The returned slice is
// shared with the frame and must not be modified.
func (f *Frame) Values(name string) ([]any, error) {
	i, ok := f.index[NormalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	return f.cols[i].Values, nil
}

// Row returns the values of row i in column order.
func (f *Frame) Row(i int) []any {
	row := make([]any, len(f.cols))
	for j, c := range f.cols {
		row[j] = c.Values[i]
	}
	return row
}

// Clone returns a copy of the frame whose column slices are independent of
// the original.
func (f *Frame) Clone() *Frame {
	out := &Frame{
		cols:  make([]*Column, len(f.cols)),
		index: make(map[string]int, len(f.cols)),
		rows:  f.rows,
	}
	for i, c := range f.cols {
		vals := make([]any, len(c.Values))
		copy(vals, c.Values)
		out.cols[i] = &Column{Name: c.Name, Values: vals}
		out.index[c.Name] = i
	}
	return out
}

// Take returns a new frame holding the given rows in the given order.
func (f *Frame) Take(rows []int) *Frame {
	out := &Frame{
		cols:  make([]*Column, len(f.cols)),
		index: make(map[string]int, len(f.cols)),
		rows:  len(rows),
	}
	for i, c := range f.cols {
		vals := make([]any, len(rows))
		for j, r := range rows {
			vals[j] = c.Values[r]
		}
		out.cols[i] = &Column{Name: c.Name, Values: vals}
		out.index[c.Name] = i
	}
	return out
}

// Group is the set of row positions sharing one key value.
type Group struct {
	Key  any
	Rows []int
}

// GroupBy partitions row positions by the value of the named column. Groups
// are returned in order of first appearance and rows keep their order.
func (f *Frame) GroupBy(name string) ([]Group, error) {
	vals, err := f.Values(name)
	if err != nil {
		return nil, err
	}
	var groups []Group
	pos := make(map[any]int)
	for i, v := range vals {
		key := groupKey(v)
		g, ok := pos[key]
		if !ok {
			g = len(groups)
			pos[key] = g
			groups = append(groups, Group{Key: v})
		}
		groups[g].Rows = append(groups[g].Rows, i)
	}
	return groups, nil
}

func groupKey(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UnixNano()
	case []byte:
		return string(t)
	default:
		return v
	}
}

// Floats returns the named column as float64, with nil values as NaN.
func (f *Frame) Floats(name string) ([]float64, error) {
	vals, err := f.Values(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		x, ok := ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s row %d has %T", ErrNotNumeric, name, i, v)
		}
		out[i] = x
	}
	return out, nil
}

// FloatValues converts a float series to column values, mapping NaN and
// infinities to nil.
func FloatValues(series []float64) []any {
	out := make([]any, len(series))
	for i, x := range series {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		out[i] = x
	}
	return out
}

// ToFloat converts a numeric value to float64. nil converts to NaN.
func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return math.NaN(), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	default:
		return 0, false
	}
}

// NormalizeToFirstValue rescales each named numeric column in place so its
// first non-nil value becomes 1. Missing columns and columns without values
// are left alone; a zero first value is an error.
func (f *Frame) NormalizeToFirstValue(names ...string) error {
	for _, name := range names {
		if !f.Has(name) {
			continue
		}
		series, err := f.Floats(name)
		if err != nil {
			return err
		}
		base := math.NaN()
		for _, x := range series {
			if !math.IsNaN(x) {
				base = x
				break
			}
		}
		if math.IsNaN(base) {
			continue
		}
		if base == 0 {
			return fmt.Errorf("cannot normalize %s: first value is zero", name)
		}
		for i := range series {
			series[i] /= base
		}
		if err := f.SetColumn(name, FloatValues(series)); err != nil {
			return err
		}
	}
	return nil
}
