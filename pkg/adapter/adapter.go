// Package adapter provides the database access contract for the dataset
// compiler. Every compiler and validation stage issues its short read-only
// queries through an Adapter; concrete implementations live in
// pkg/adapters/ subdirectories and register themselves on import.
package adapter

import (
	"context"
	"database/sql"
	"time"

	"github.com/millstone-labs/grainsql/pkg/dialect"
)

// Config holds connection settings for an adapter.
type Config struct {
	Type     string `koanf:"type"` // postgres, duckdb
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"` // database name, or file path for duckdb
	Username string `koanf:"user"`
	Password string `koanf:"password"`
	Schema   string `koanf:"schema"`

	// StatementTimeout bounds each exploratory query. Zero disables the
	// bound on engines that support one.
	StatementTimeout time.Duration `koanf:"statement_timeout"`

	// Options holds driver-specific settings (e.g. sslmode).
	Options map[string]string `koanf:"options"`
}

// Adapter is the interface all database adapters implement. All SQL issued
// through it is read-only (SELECT/EXPLAIN) plus the timeout SET statements.
type Adapter interface {
	// Connect establishes a connection using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the connection and releases resources.
	Close() error

	// Exec executes a statement that returns no rows (timeout SETs).
	Exec(ctx context.Context, sqlStr string) error

	// Query executes a statement that returns rows.
	Query(ctx context.Context, sqlStr string, args ...any) (*sql.Rows, error)

	// QueryRow executes a statement expected to return at most one row.
	QueryRow(ctx context.Context, sqlStr string, args ...any) *sql.Row

	// SetStatementTimeout bounds subsequent query runtime on the current
	// connection. A no-op on engines without timeout support.
	SetStatementTimeout(ctx context.Context, d time.Duration) error

	// ResetStatementTimeout removes the runtime bound.
	ResetStatementTimeout(ctx context.Context) error

	// Dialect returns the SQL dialect for this adapter.
	Dialect() *dialect.Dialect
}
