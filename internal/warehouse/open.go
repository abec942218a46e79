// Package warehouse opens the analytics database the executor reads from and
// exposes object-store parquet files to it as views.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
)

const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver string
	// DSN is a DuckDB file path (empty for in-memory) or a Postgres URL or
	// keyword/value string.
	DSN             string
	ReadOnly        bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// Dialect names the SQL dialect used in translation prompts.
func (c Config) Dialect() string {
	if c.Driver == DriverPostgres {
		return "PostgreSQL"
	}
	return "DuckDB"
}

// InMemory reports whether cfg names a transient DuckDB database, which is
// always writable.
func (c Config) InMemory() bool {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	dsn := strings.TrimSpace(c.DSN)
	return (driver == "" || driver == DriverDuckDB) && (dsn == "" || strings.HasPrefix(dsn, ":memory:"))
}

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	driverName, dsn, err := resolveDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open warehouse db: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping warehouse db: %w", err)
	}

	return db, nil
}

func resolveDSN(cfg Config) (string, string, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverDuckDB:
		if cfg.ReadOnly {
			if dsn == "" {
				return "", "", fmt.Errorf("read-only duckdb warehouse needs a database file")
			}
			dsn = withQueryParam(dsn, "access_mode", "READ_ONLY")
		}
		return "duckdb", dsn, nil
	case DriverPostgres:
		if dsn == "" {
			return "", "", fmt.Errorf("warehouse dsn is required for postgres")
		}
		if cfg.ReadOnly {
			dsn = withPostgresParam(dsn, "default_transaction_read_only", "on")
		}
		return "pgx", dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported warehouse driver %q", cfg.Driver)
	}
}

func withQueryParam(dsn, key, value string) string {
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + key + "=" + value
}

// withPostgresParam adds a session parameter in whichever DSN form is used;
// pgx forwards unknown keys as runtime parameters.
func withPostgresParam(dsn, key, value string) string {
	if strings.Contains(dsn, "://") {
		parsed, err := url.Parse(dsn)
		if err == nil {
			query := parsed.Query()
			query.Set(key, value)
			parsed.RawQuery = query.Encode()
			return parsed.String()
		}
	}
	return dsn + " " + key + "=" + value
}

// Lockdown turns off DuckDB access to files, URLs and extensions and then
// freezes the configuration so no later statement can turn it back on. Views
// over parquet files stop resolving afterwards; load with Materialize first.
func Lockdown(ctx context.Context, db *sql.DB) error {
	for _, stmt := range []string{
		"SET enable_external_access = false",
		"SET lock_configuration = true",
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("lock down warehouse (%s): %w", stmt, err)
		}
	}
	return nil
}
