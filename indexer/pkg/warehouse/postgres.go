package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// PostgresConfig holds connection settings for a Postgres warehouse.
type PostgresConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
	MaxConns int32
}

func (cfg *PostgresConfig) Validate() error {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == "" {
		cfg.Port = "5432"
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 10
	}
	if cfg.Database == "" {
		return errors.New("postgres database is required")
	}
	if cfg.Username == "" {
		return errors.New("postgres username is required")
	}
	if cfg.Password == "" {
		return errors.New("postgres password is required")
	}
	return nil
}

// ConnString renders the configuration as a postgres URL.
func (cfg *PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, cfg.Port),
		Path:     "/" + cfg.Database,
		RawQuery: url.Values{"sslmode": []string{cfg.SSLMode}}.Encode(),
	}
	return u.String()
}

// OpenPostgres opens a pgx pool for connString and returns it wrapped as a
// database/sql handle. Closing the returned DB does not close the pool.
func OpenPostgres(ctx context.Context, connString string, maxConns int32) (*sql.DB, *pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return stdlib.OpenDBFromPool(pool), pool, nil
}
