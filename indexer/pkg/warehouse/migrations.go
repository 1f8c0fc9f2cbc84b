package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/malbeclabs/pricelake/indexer"
)

type migrationSet struct {
	gooseDialect goose.Dialect
	fsys         fs.FS
	dir          string
}

var migrationSets = map[string]migrationSet{
	Postgres{}.Name(): {gooseDialect: goose.DialectPostgres, fsys: indexer.PostgresMigrationsFS, dir: "db/postgres/migrations"},
	SQLite{}.Name():   {gooseDialect: goose.DialectSQLite3, fsys: indexer.SQLiteMigrationsFS, dir: "db/sqlite/migrations"},
}

// HasMigrations reports whether tables for dialect can be created by
// RunMigrations.
func HasMigrations(dialect Dialect) bool {
	_, ok := migrationSets[dialect.Name()]
	return ok
}

// RunMigrations applies the embedded table migrations for dialect.
func RunMigrations(ctx context.Context, log *slog.Logger, db *sql.DB, dialect Dialect) error {
	set, ok := migrationSets[dialect.Name()]
	if !ok {
		return fmt.Errorf("no migrations for dialect %q", dialect.Name())
	}
	log.Info("running warehouse migrations", "dialect", dialect.Name())

	provider, err := goose.NewProvider(set.gooseDialect, db, mustSub(set.fsys, set.dir),
		goose.WithLogger(&slogGooseLogger{log: log}),
	)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	for _, r := range results {
		log.Debug("applied migration", "source", r.Source.Path, "duration", r.Duration.String())
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	log.Info("warehouse migrations completed", "dialect", dialect.Name(), "version", version)
	return nil
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(fmt.Sprintf("invalid embedded migrations dir %q: %v", dir, err))
	}
	return sub
}

// slogGooseLogger adapts slog.Logger to goose.Logger.
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(fmt.Sprintf(format, v...))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(fmt.Sprintf(format, v...))
}
