package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/malbeclabs/pricelake/indexer/pkg/clickhouse"
	"github.com/malbeclabs/pricelake/indexer/pkg/features"
	"github.com/malbeclabs/pricelake/indexer/pkg/indexer"
	"github.com/malbeclabs/pricelake/indexer/pkg/pricefeed"
	"github.com/malbeclabs/pricelake/indexer/pkg/server"
	"github.com/malbeclabs/pricelake/indexer/pkg/warehouse"
	"github.com/malbeclabs/pricelake/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr      = "0.0.0.0:8080"
	defaultRefreshInterval = 6 * time.Hour
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type storeFlags struct {
	kind string

	sqlitePath   string
	sqlserverDSN string

	postgres   warehouse.PostgresConfig
	clickhouse clickhouse.Config
}

// openedStore is a warehouse store plus what the runner needs around it.
type openedStore struct {
	store    warehouse.Store
	universe pricefeed.Universe
	migrate  func(ctx context.Context) error
	close    func() error
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP listen address for health, version and metrics (or set PRICELAKE_LISTEN_ADDR env var)")
	onceFlag := flag.Bool("once", false, "run a single load and exit instead of serving")

	var sf storeFlags
	flag.StringVar(&sf.kind, "store", "sqlite", "destination store: postgres, sqlserver, sqlite or clickhouse (or set PRICELAKE_STORE env var)")
	flag.StringVar(&sf.sqlitePath, "sqlite-path", "pricelake.db", "SQLite database file (or set PRICELAKE_SQLITE_PATH env var)")
	flag.StringVar(&sf.sqlserverDSN, "sqlserver-dsn", "", "SQL Server connection string (or set SQLSERVER_DSN env var)")

	// PostgreSQL configuration
	flag.StringVar(&sf.postgres.Host, "postgres-host", "localhost", "PostgreSQL host (or set POSTGRES_HOST env var)")
	flag.StringVar(&sf.postgres.Port, "postgres-port", "5432", "PostgreSQL port (or set POSTGRES_PORT env var)")
	flag.StringVar(&sf.postgres.Database, "postgres-database", "", "PostgreSQL database (or set POSTGRES_DB env var)")
	flag.StringVar(&sf.postgres.Username, "postgres-username", "", "PostgreSQL username (or set POSTGRES_USER env var)")
	flag.StringVar(&sf.postgres.Password, "postgres-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")
	flag.StringVar(&sf.postgres.SSLMode, "postgres-sslmode", "disable", "PostgreSQL sslmode (or set POSTGRES_SSLMODE env var)")

	// ClickHouse configuration
	flag.StringVar(&sf.clickhouse.Addr, "clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	flag.StringVar(&sf.clickhouse.Database, "clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	flag.StringVar(&sf.clickhouse.Username, "clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	flag.StringVar(&sf.clickhouse.Password, "clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	flag.BoolVar(&sf.clickhouse.Secure, "clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	// Price source
	sourceFileFlag := flag.String("source-file", "", "local price CSV (or set PRICELAKE_SOURCE_FILE env var)")
	s3BucketFlag := flag.String("s3-bucket", "", "S3 bucket holding the price CSV (or set PRICELAKE_S3_BUCKET env var)")
	s3KeyFlag := flag.String("s3-key", "", "S3 object key of the price CSV (or set PRICELAKE_S3_KEY env var)")
	s3EndpointFlag := flag.String("s3-endpoint", "", "S3-compatible endpoint URL (or set AWS_ENDPOINT_URL_S3 env var)")
	s3RegionFlag := flag.String("s3-region", "", "S3 region (or set AWS_REGION env var)")
	s3PathStyleFlag := flag.Bool("s3-path-style", false, "use path-style S3 addressing")

	// Universe and features
	industriesFlag := flag.StringSlice("industries", nil, "industries from asset_header to load (or set PRICELAKE_INDUSTRIES env var)")
	symbolsFlag := flag.StringSlice("symbols", []string{"CL=F"}, "symbols loaded in addition to the industries (or set PRICELAKE_SYMBOLS env var)")
	rsiFlag := flag.IntSlice("rsi-periods", features.DefaultConfig().RSIPeriods, "RSI periods")
	smaFlag := flag.IntSlice("sma-periods", features.DefaultConfig().SMAPeriods, "simple moving average periods")
	bollingerFlag := flag.IntSlice("bollinger-periods", features.DefaultConfig().BollingerPeriods, "Bollinger band periods")
	maxConcurrencyFlag := flag.Int("max-concurrency", 0, "maximum symbols computed concurrently (0 = GOMAXPROCS)")

	refreshIntervalFlag := flag.Duration("refresh-interval", defaultRefreshInterval, "interval between loads")
	lookbackFlag := flag.Duration("lookback", 0, "how far back each load reaches (0 = five years)")
	pricesTableFlag := flag.String("prices-table", "", "destination table for raw prices")
	featuresTableFlag := flag.String("features-table", "", "destination table for prices with indicators")
	migrateFlag := flag.Bool("migrate", true, "create warehouse tables on startup")
	keepStagingFlag := flag.Bool("keep-staging", false, "leave staging tables in place after each merge")

	flag.Parse()

	log := logger.New(*verboseFlag)

	overrideString(listenAddrFlag, "PRICELAKE_LISTEN_ADDR")
	overrideString(&sf.kind, "PRICELAKE_STORE")
	overrideString(&sf.sqlitePath, "PRICELAKE_SQLITE_PATH")
	overrideString(&sf.sqlserverDSN, "SQLSERVER_DSN")
	overrideString(&sf.postgres.Host, "POSTGRES_HOST")
	overrideString(&sf.postgres.Database, "POSTGRES_DB")
	overrideString(&sf.postgres.Username, "POSTGRES_USER")
	overrideString(&sf.postgres.Password, "POSTGRES_PASSWORD")
	overrideString(&sf.postgres.SSLMode, "POSTGRES_SSLMODE")
	overrideString(&sf.postgres.Port, "POSTGRES_PORT")
	overrideString(&sf.clickhouse.Addr, "CLICKHOUSE_ADDR_TCP")
	overrideString(&sf.clickhouse.Database, "CLICKHOUSE_DATABASE")
	overrideString(&sf.clickhouse.Username, "CLICKHOUSE_USERNAME")
	overrideString(&sf.clickhouse.Password, "CLICKHOUSE_PASSWORD")
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		sf.clickhouse.Secure = true
	}
	overrideString(sourceFileFlag, "PRICELAKE_SOURCE_FILE")
	overrideString(s3BucketFlag, "PRICELAKE_S3_BUCKET")
	overrideString(s3KeyFlag, "PRICELAKE_S3_KEY")
	overrideString(s3EndpointFlag, "AWS_ENDPOINT_URL_S3")
	overrideString(s3RegionFlag, "AWS_REGION")
	overrideList(industriesFlag, "PRICELAKE_INDUSTRIES")
	overrideList(symbolsFlag, "PRICELAKE_SYMBOLS")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	source, err := newSource(ctx, log, *sourceFileFlag, *s3BucketFlag, *s3KeyFlag, pricefeed.S3ClientConfig{
		Region:         *s3RegionFlag,
		Endpoint:       *s3EndpointFlag,
		ForcePathStyle: *s3PathStyleFlag,
	})
	if err != nil {
		return err
	}

	opened, err := openStore(ctx, log, sf)
	if err != nil {
		return err
	}
	defer func() {
		if err := opened.close(); err != nil {
			log.Warn("failed to close store", "error", err)
		}
	}()

	if len(*industriesFlag) > 0 && opened.universe == nil {
		return fmt.Errorf("--industries is not supported with --store=%s", sf.kind)
	}

	indexerCfg := indexer.Config{
		Logger:   log,
		Store:    opened.store,
		Source:   source,
		Universe: opened.universe,

		Industries: *industriesFlag,
		Symbols:    *symbolsFlag,

		Features: features.Config{
			RSIPeriods:       *rsiFlag,
			SMAPeriods:       *smaFlag,
			BollingerPeriods: *bollingerFlag,
		},
		MaxConcurrency: *maxConcurrencyFlag,

		PricesTable:   *pricesTableFlag,
		FeaturesTable: *featuresTableFlag,
		KeepStaging:   *keepStagingFlag,

		RefreshInterval: *refreshIntervalFlag,
		Lookback:        *lookbackFlag,

		MigrationsEnable: *migrateFlag && opened.migrate != nil,
		Migrate:          opened.migrate,
	}
	if *migrateFlag && opened.migrate == nil {
		log.Warn("no embedded migrations for store, expecting tables to exist", "store", sf.kind)
	}

	if *onceFlag {
		idx, err := indexer.New(ctx, indexerCfg)
		if err != nil {
			return err
		}
		defer idx.Close()
		return idx.Refresh(ctx)
	}

	srv, err := server.New(ctx, server.Config{
		ListenAddr:    *listenAddrFlag,
		VersionInfo:   server.VersionInfo{Version: version, Commit: commit, Date: date},
		IndexerConfig: indexerCfg,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Run(ctx)
}

func overrideString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func overrideList(dst *[]string, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func newSource(ctx context.Context, log *slog.Logger, file, bucket, key string, s3Cfg pricefeed.S3ClientConfig) (pricefeed.Source, error) {
	switch {
	case file != "" && bucket != "":
		return nil, errors.New("--source-file and --s3-bucket are mutually exclusive")
	case file != "":
		return pricefeed.NewCSVSource(pricefeed.CSVConfig{Logger: log, Path: file})
	case bucket != "":
		client, err := pricefeed.NewS3Client(ctx, s3Cfg)
		if err != nil {
			return nil, err
		}
		return pricefeed.NewS3Source(pricefeed.S3Config{
			Logger: log,
			Client: client,
			Bucket: bucket,
			Key:    key,
		})
	default:
		return nil, errors.New("a price source is required: --source-file or --s3-bucket")
	}
}

func openStore(ctx context.Context, log *slog.Logger, sf storeFlags) (*openedStore, error) {
	switch strings.ToLower(sf.kind) {
	case "postgres", "postgresql":
		if err := sf.postgres.Validate(); err != nil {
			return nil, fmt.Errorf("invalid postgres config: %w", err)
		}
		db, pool, err := warehouse.OpenPostgres(ctx, sf.postgres.ConnString(), sf.postgres.MaxConns)
		if err != nil {
			return nil, err
		}
		opened, err := sqlStore(log, db, warehouse.Postgres{})
		if err != nil {
			db.Close()
			pool.Close()
			return nil, err
		}
		opened.close = func() error {
			defer pool.Close()
			return db.Close()
		}
		return opened, nil

	case "sqlserver", "mssql":
		if sf.sqlserverDSN == "" {
			return nil, errors.New("--sqlserver-dsn is required for --store=sqlserver")
		}
		db, err := sql.Open("sqlserver", sf.sqlserverDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sql server: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping sql server: %w", err)
		}
		return sqlStore(log, db, warehouse.SQLServer{})

	case "sqlite", "sqlite3":
		db, err := sql.Open("sqlite3", warehouse.SQLiteDSN(sf.sqlitePath))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		return sqlStore(log, db, warehouse.SQLite{})

	case "clickhouse":
		if err := sf.clickhouse.Validate(); err != nil {
			return nil, fmt.Errorf("invalid clickhouse config: %w", err)
		}
		client, err := clickhouse.NewClient(ctx, log, sf.clickhouse)
		if err != nil {
			return nil, err
		}
		store, err := clickhouse.NewStore(clickhouse.StoreConfig{Logger: log, ClickHouse: client})
		if err != nil {
			client.Close()
			return nil, err
		}
		return &openedStore{
			store:    store,
			universe: store,
			migrate: func(ctx context.Context) error {
				return clickhouse.Up(ctx, log, sf.clickhouse)
			},
			close: client.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store %q", sf.kind)
	}
}

func sqlStore(log *slog.Logger, db *sql.DB, dialect warehouse.SQLDialect) (*openedStore, error) {
	store, err := warehouse.NewSQLStore(db, dialect)
	if err != nil {
		return nil, err
	}
	opened := &openedStore{
		store:    store,
		universe: pricefeed.NewSQLUniverse(db, dialect),
		close:    db.Close,
	}
	if warehouse.HasMigrations(dialect) {
		opened.migrate = func(ctx context.Context) error {
			return warehouse.RunMigrations(ctx, log, db, dialect)
		}
	}
	return opened, nil
}
