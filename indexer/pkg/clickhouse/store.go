package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/malbeclabs/pricelake/indexer/pkg/warehouse"
)

// maxIdentifierLength keeps staging names within common filesystem limits.
const maxIdentifierLength = 200

type StoreConfig struct {
	Logger     *slog.Logger
	ClickHouse Client
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ClickHouse == nil {
		return errors.New("clickhouse client is required")
	}
	return nil
}

// Store is a warehouse store over ClickHouse. Only ReplacingMergeTree
// tables expose a merge key: their sorting key.
type Store struct {
	log     *slog.Logger
	client  Client
	dialect Dialect
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log:     cfg.Logger,
		client:  cfg.ClickHouse,
		dialect: Dialect{Database: cfg.ClickHouse.Database()},
	}, nil
}

func (s *Store) Dialect() warehouse.Dialect { return s.dialect }

func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	conn, err := s.client.Conn(ctx)
	if err != nil {
		return wrapError("get connection", err)
	}
	defer conn.Close()
	if err := conn.Exec(ctx, query, args...); err != nil {
		return wrapError("exec", err)
	}
	return nil
}

// InTx runs fn directly; ClickHouse has no multi-statement transactions.
func (s *Store) InTx(ctx context.Context, fn func(tx warehouse.Tx) error) error {
	conn, err := s.client.Conn(ctx)
	if err != nil {
		return wrapError("get connection", err)
	}
	defer conn.Close()
	return fn(&writer{conn: conn, dialect: s.dialect})
}

func (s *Store) ColumnTypes(ctx context.Context, table warehouse.TableRef) ([]warehouse.ColumnInfo, error) {
	conn, err := s.client.Conn(ctx)
	if err != nil {
		return nil, wrapError("get connection", err)
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, `
		SELECT name, type
		FROM system.columns
		WHERE database = ? AND table = ?
		ORDER BY position
	`, table.Schema, table.Name)
	if err != nil {
		return nil, wrapError("query column types", err)
	}
	defer rows.Close()

	var cols []warehouse.ColumnInfo
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, fmt.Errorf("failed to scan column type: %w", err)
		}
		cols = append(cols, warehouse.ColumnInfo{Name: strings.ToLower(name), Type: classifyType(typ)})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("read column types", err)
	}
	return cols, nil
}

// ListTables returns the tables in database schema whose names start with
// prefix.
func (s *Store) ListTables(ctx context.Context, schema, prefix string) ([]string, error) {
	conn, err := s.client.Conn(ctx)
	if err != nil {
		return nil, wrapError("get connection", err)
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, `
		SELECT name
		FROM system.tables
		WHERE database = ? AND startsWith(name, ?)
		ORDER BY name
	`, schema, prefix)
	if err != nil {
		return nil, wrapError("list tables", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("read tables", err)
	}
	return names, nil
}

// UniqueKeys reports the sorting key of a ReplacingMergeTree table as its
// primary key. Other engines, and sorting keys with expressions, have none.
func (s *Store) UniqueKeys(ctx context.Context, table warehouse.TableRef) ([]warehouse.UniqueKey, error) {
	conn, err := s.client.Conn(ctx)
	if err != nil {
		return nil, wrapError("get connection", err)
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, `
		SELECT engine, sorting_key
		FROM system.tables
		WHERE database = ? AND name = ?
	`, table.Schema, table.Name)
	if err != nil {
		return nil, wrapError("query sorting key", err)
	}
	defer rows.Close()

	var engine, sortingKey string
	found := false
	for rows.Next() {
		if err := rows.Scan(&engine, &sortingKey); err != nil {
			return nil, fmt.Errorf("failed to scan sorting key: %w", err)
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("read sorting key", err)
	}
	if !found || !strings.Contains(engine, "ReplacingMergeTree") {
		return nil, nil
	}

	cols := parseSortingKey(sortingKey)
	if len(cols) == 0 {
		s.log.Debug("clickhouse: sorting key is not a plain column list", "table", table.String(), "sorting_key", sortingKey)
		return nil, nil
	}
	return []warehouse.UniqueKey{{Name: "sorting_key", Primary: true, Columns: cols}}, nil
}

func parseSortingKey(key string) []string {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	var cols []string
	for _, part := range strings.Split(key, ",") {
		c := strings.Trim(strings.TrimSpace(part), "`")
		if warehouse.ValidateIdentifier(c, 0) != nil {
			return nil
		}
		cols = append(cols, strings.ToLower(c))
	}
	return cols
}

var (
	wrapperRE    = regexp.MustCompile(`^(?:Nullable|LowCardinality)\((.*)\)$`)
	datetime64RE = regexp.MustCompile(`^DateTime64\((\d+)`)
	fixedRE      = regexp.MustCompile(`^FixedString\((\d+)\)$`)
)

// classifyType maps a ClickHouse type name, such as Nullable(Float64) or
// DateTime64(3, 'UTC'), to a warehouse column type.
func classifyType(typ string) warehouse.ColumnType {
	for {
		m := wrapperRE.FindStringSubmatch(typ)
		if m == nil {
			break
		}
		typ = m[1]
	}

	var charMax, precision *int64
	switch {
	case strings.HasPrefix(typ, "String"):
		unbounded := int64(-1)
		charMax = &unbounded
	case fixedRE.MatchString(typ):
		n, _ := strconv.ParseInt(fixedRE.FindStringSubmatch(typ)[1], 10, 64)
		charMax = &n
	case datetime64RE.MatchString(typ):
		p, _ := strconv.ParseInt(datetime64RE.FindStringSubmatch(typ)[1], 10, 64)
		precision = &p
	}
	return warehouse.ClassifyType(typ, charMax, precision)
}

// Dialect renders ClickHouse statements. Schemas are databases.
type Dialect struct {
	Database string
}

func (Dialect) Name() string             { return "clickhouse" }
func (d Dialect) DefaultSchema() string  { return d.Database }
func (Dialect) MaxIdentifierLength() int { return maxIdentifierLength }

func (Dialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d Dialect) QuoteTable(ref warehouse.TableRef) string {
	if ref.Schema == "" {
		return d.QuoteIdent(ref.Name)
	}
	return d.QuoteIdent(ref.Schema) + "." + d.QuoteIdent(ref.Name)
}

func (Dialect) typeName(t warehouse.ColumnType) string {
	switch t.Kind {
	case warehouse.KindInteger:
		return "Nullable(Int64)"
	case warehouse.KindFloat:
		return "Nullable(Float64)"
	case warehouse.KindTimestamp:
		return fmt.Sprintf("Nullable(DateTime64(%d, 'UTC'))", min(t.Precision, 9))
	default:
		return "Nullable(String)"
	}
}

// CreateStagingTable uses the Memory engine with every column Nullable, so
// staging accepts any row the frame holds.
func (d Dialect) CreateStagingTable(ref warehouse.TableRef, columns []warehouse.ColumnDef) []string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = d.QuoteIdent(c.Name) + " " + d.typeName(c.Type)
	}
	return []string{
		d.DropTable(ref),
		fmt.Sprintf("CREATE TABLE %s (%s) ENGINE = Memory", d.QuoteTable(ref), strings.Join(defs, ", ")),
	}
}

func (d Dialect) DropTable(ref warehouse.TableRef) string {
	return "DROP TABLE IF EXISTS " + d.QuoteTable(ref)
}

// Merge appends the staged rows as new versions; ReplacingMergeTree keeps
// the last inserted version per sorting key. Columns only the target has
// are carried over from the current version.
func (d Dialect) Merge(spec warehouse.MergeSpec) string {
	if len(spec.PreservedColumns) == 0 {
		cols := d.quoteList(spec.Columns)
		return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			d.QuoteTable(spec.Target), cols, cols, d.QuoteTable(spec.Staging))
	}

	all := append(append([]string{}, spec.Columns...), spec.PreservedColumns...)
	selects := make([]string, 0, len(all))
	for _, c := range spec.Columns {
		selects = append(selects, "s."+d.QuoteIdent(c))
	}
	for _, c := range spec.PreservedColumns {
		selects = append(selects, "t."+d.QuoteIdent(c))
	}
	conds := make([]string, len(spec.KeyColumns))
	for i, k := range spec.KeyColumns {
		q := d.QuoteIdent(k)
		conds[i] = "s." + q + " = t." + q
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s AS s LEFT JOIN (SELECT * FROM %s FINAL) AS t ON %s",
		d.QuoteTable(spec.Target), d.quoteList(all), strings.Join(selects, ", "),
		d.QuoteTable(spec.Staging), d.QuoteTable(spec.Target), strings.Join(conds, " AND "))
}

func (d Dialect) quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

type writer struct {
	conn    Connection
	dialect Dialect
}

func (w *writer) Exec(ctx context.Context, query string, args ...any) error {
	if err := w.conn.Exec(ContextWithSyncInsert(ctx), query, args...); err != nil {
		return wrapError("exec", err)
	}
	return nil
}

// BulkInsert loads rows with one native batch.
func (w *writer) BulkInsert(ctx context.Context, table warehouse.TableRef, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	syncCtx := ContextWithSyncInsert(ctx)
	batch, err := w.conn.PrepareBatch(syncCtx, fmt.Sprintf("INSERT INTO %s (%s)", w.dialect.QuoteTable(table), w.dialect.quoteList(columns)))
	if err != nil {
		return wrapError("prepare staging batch", err)
	}
	defer batch.Close() // Always release the connection back to the pool

	values := make([]any, len(columns))
	for i, row := range rows {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during staging insert: %w", ctx.Err())
		default:
		}
		for j, v := range row {
			values[j] = coerce(v)
		}
		if err := batch.Append(values...); err != nil {
			return fmt.Errorf("failed to append row %d: %w", i, err)
		}
	}
	if err := batch.Send(); err != nil {
		return wrapError("send staging batch", err)
	}
	return nil
}

// coerce converts frame values to the types the native column encoders
// accept. NaN becomes NULL.
func coerce(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return coerce(float64(t))
	case float64:
		if math.IsNaN(t) {
			return nil
		}
		return t
	case time.Time:
		return t.UTC()
	case string, int64, bool:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// ClickHouse exception codes worth retrying.
var transientCodes = map[int32]warehouse.ErrorType{
	159: warehouse.ErrorTypeTimeout,        // TIMEOUT_EXCEEDED
	209: warehouse.ErrorTypeTimeout,        // SOCKET_TIMEOUT
	210: warehouse.ErrorTypeConnectivity,   // NETWORK_ERROR
	202: warehouse.ErrorTypeConnectivity,   // TOO_MANY_SIMULTANEOUS_QUERIES
	242: warehouse.ErrorTypeConnectivity,   // TABLE_IS_READ_ONLY
	252: warehouse.ErrorTypeLockContention, // TOO_MANY_PARTS
	319: warehouse.ErrorTypeConnectivity,   // UNKNOWN_STATUS_OF_INSERT
	473: warehouse.ErrorTypeLockContention, // DEADLOCK_AVOIDED
	999: warehouse.ErrorTypeConnectivity,   // KEEPER_EXCEPTION
}

// wrapError classifies ClickHouse exceptions by code and defers everything
// else to the warehouse classifier.
func wrapError(op string, err error) error {
	var ex *clickhouse.Exception
	if errors.As(err, &ex) {
		if _, ok := transientCodes[ex.Code]; ok {
			return &warehouse.TransientStoreError{Op: op, Err: err}
		}
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return warehouse.WrapStoreError(op, err)
}
