// Package database manages the SQL connection and schema migrations for
// OpenBook. PostgreSQL is the production driver; SQLite is supported for
// local development and tests.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver for local development
)

// Driver names accepted by Config
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds database connection configuration
type Config struct {
	Driver      string
	DSN         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// DefaultConfig returns connection defaults suitable for production
func DefaultConfig() Config {
	return Config{
		Driver:      DriverPostgres,
		MaxConns:    25,
		MinConns:    5,
		Timeout:     10 * time.Second,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	}
}

// Open connects to the configured database and verifies the connection
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Dialect captures the few DDL differences between the supported drivers
type Dialect string

const (
	DialectPostgres Dialect = DriverPostgres
	DialectSQLite   Dialect = DriverSQLite
)

// DialectFor returns the dialect matching a driver name
func DialectFor(driver string) Dialect {
	if driver == DriverSQLite {
		return DialectSQLite
	}
	return DialectPostgres
}

// IDColumn returns the auto-incrementing primary key column definition
func (d Dialect) IDColumn() string {
	if d == DialectSQLite {
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return "BIGSERIAL PRIMARY KEY"
}
