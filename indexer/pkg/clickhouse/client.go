// Package clickhouse connects the warehouse to ClickHouse: a client over the
// native protocol, embedded migrations, and a warehouse store that merges
// through ReplacingMergeTree tables.
package clickhouse

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const DefaultDatabase = "default"

// ContextWithSyncInsert returns a context configured for synchronous inserts.
// Use this when rows must be readable as soon as the insert returns.
func ContextWithSyncInsert(ctx context.Context) context.Context {
	return clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"async_insert":                           0,
		"wait_for_async_insert":                  1,
		"async_insert_use_adaptive_busy_timeout": 0, // 24.3+ can override the async settings otherwise
		"insert_deduplicate":                     0,
		"select_sequential_consistency":          1,
	}))
}

// Config holds connection settings for a ClickHouse server.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	// Secure enables TLS, as required by ClickHouse Cloud on port 9440.
	Secure bool

	MaxExecutionTime time.Duration
	DialTimeout      time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Addr == "" {
		return errors.New("clickhouse addr is required")
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.MaxExecutionTime <= 0 {
		cfg.MaxExecutionTime = 60 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return nil
}

func (cfg *Config) options() *clickhouse.Options {
	options := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": int(cfg.MaxExecutionTime.Seconds()),
		},
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.Secure {
		options.TLS = &tls.Config{}
	}
	return options
}

// Client represents a ClickHouse database connection
type Client interface {
	Conn(ctx context.Context) (Connection, error)
	Database() string
	Close() error
}

// Connection represents a ClickHouse connection
type Connection interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	PrepareBatch(ctx context.Context, query string) (driver.Batch, error)
	Close() error
}

type client struct {
	conn     driver.Conn
	database string
	log      *slog.Logger
}

type connection struct {
	conn driver.Conn
}

// NewClient opens and pings a ClickHouse connection.
func NewClient(ctx context.Context, log *slog.Logger, cfg Config) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(cfg.options())
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Info("ClickHouse client initialized", "addr", cfg.Addr, "database", cfg.Database, "secure", cfg.Secure)

	return &client{
		conn:     conn,
		database: cfg.Database,
		log:      log,
	}, nil
}

func (c *client) Conn(ctx context.Context) (Connection, error) {
	return &connection{conn: c.conn}, nil
}

func (c *client) Database() string {
	return c.database
}

func (c *client) Close() error {
	return c.conn.Close()
}

func (c *connection) Exec(ctx context.Context, query string, args ...any) error {
	return c.conn.Exec(ctx, query, args...)
}

func (c *connection) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

func (c *connection) PrepareBatch(ctx context.Context, query string) (driver.Batch, error) {
	return c.conn.PrepareBatch(ctx, query)
}

func (c *connection) Close() error {
	// Connection is shared, don't close it
	return nil
}
