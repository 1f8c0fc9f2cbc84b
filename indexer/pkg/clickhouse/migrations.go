package clickhouse

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pressly/goose/v3"

	"github.com/malbeclabs/pricelake/indexer"
)

const migrationsDir = "db/clickhouse/migrations"

// CreateDatabase creates database if it does not exist.
func CreateDatabase(ctx context.Context, log *slog.Logger, conn Connection, database string) error {
	log.Info("creating ClickHouse database", "database", database)
	return conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", database))
}

// slogGooseLogger adapts slog.Logger to goose.Logger interface
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func newProvider(log *slog.Logger, cfg Config) (*goose.Provider, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	fsys, err := fs.Sub(indexer.ClickHouseMigrationsFS, migrationsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	db := clickhouse.OpenDB(cfg.options())
	provider, err := goose.NewProvider(goose.DialectClickHouse, db, fsys,
		goose.WithLogger(&slogGooseLogger{log: log}),
	)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return provider, db.Close, nil
}

// Up applies all pending migrations.
func Up(ctx context.Context, log *slog.Logger, cfg Config) error {
	log.Info("running ClickHouse migrations (up)", "database", cfg.Database)

	provider, closeDB, err := newProvider(log, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	for _, r := range results {
		log.Debug("applied migration", "source", r.Source.Path, "duration", r.Duration.String())
	}

	log.Info("ClickHouse migrations completed successfully", "applied", len(results))
	return nil
}

// DownTo rolls back migrations newer than version.
func DownTo(ctx context.Context, log *slog.Logger, cfg Config, version int64) error {
	log.Info("rolling back ClickHouse migrations to version", "version", version)

	provider, closeDB, err := newProvider(log, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	if _, err := provider.DownTo(ctx, version); err != nil {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}

	log.Info("ClickHouse migrations rolled back successfully", "version", version)
	return nil
}

// Version returns the current migration version.
func Version(ctx context.Context, log *slog.Logger, cfg Config) (int64, error) {
	provider, closeDB, err := newProvider(log, cfg)
	if err != nil {
		return 0, err
	}
	defer closeDB()

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get version: %w", err)
	}
	return version, nil
}
