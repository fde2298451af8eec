// internal/platform/storage/storage.go

// Package storage opens the SQL backends shared by the catalog and the user directory.
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // goqu dialect
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // goqu dialect
	_ "github.com/jackc/pgx/v5/stdlib"                  // "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // "postgres" driver
	_ "modernc.org/sqlite" // "sqlite" driver
)

// Dialect names the SQL flavour a DB speaks; values match goqu dialect names.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// DB is a sqlx handle paired with its goqu dialect.
type DB struct {
	*sqlx.DB
	Dialect Dialect
}

// Builder returns a goqu builder producing prepared (placeholder) statements for the dialect.
func (db *DB) Builder() goqu.DialectWrapper {
	return goqu.Dialect(string(db.Dialect))
}

// OpenPostgres opens a Postgres pool through driver ("postgres" for lib/pq or "pgx") and migrates it.
func OpenPostgres(ctx context.Context, driver, dsn string) (*DB, error) {
	const defaultMaxOpenConnections = 50
	const defaultMaxIdleConnections = 10
	const defaultMaxConnLifetime = time.Hour
	const defaultMaxConnIdleTime = time.Minute * 5

	switch driver {
	case "", "postgres":
		driver = "postgres"
	case "pgx":
	default:
		return nil, fmt.Errorf("unsupported postgres driver %q", driver)
	}

	sqlDB, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB.SetMaxOpenConns(defaultMaxOpenConnections)
	sqlDB.SetMaxIdleConns(defaultMaxIdleConnections)
	sqlDB.SetConnMaxLifetime(defaultMaxConnLifetime)
	sqlDB.SetConnMaxIdleTime(defaultMaxConnIdleTime)

	return finishOpen(ctx, &DB{DB: sqlDB, Dialect: DialectPostgres})
}

// OpenSQLite opens (or creates) the SQLite file at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	sqlDB, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; the busy timeout covers readers in other processes.
	sqlDB.SetMaxOpenConns(1)

	return finishOpen(ctx, &DB{DB: sqlDB, Dialect: DialectSQLite})
}

func finishOpen(ctx context.Context, db *DB) (*DB, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", db.Dialect, err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// ToMillis and FromMillis convert timestamps to the integer columns used by both dialects.
func ToMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func FromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
