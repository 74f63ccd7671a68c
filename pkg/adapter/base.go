package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/millstone-labs/grainsql/pkg/dialect"
)

// BaseSQLAdapter provides common database/sql functionality for adapters.
// Embed this struct in concrete adapter implementations to get standard
// Close, Exec, Query, and timeout implementations.
type BaseSQLAdapter struct {
	DB     *sql.DB
	Cfg    Config
	D      *dialect.Dialect
	Logger *slog.Logger
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.DB != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing database connection")
		}
		return b.DB.Close()
	}
	return nil
}

// Exec executes a SQL statement that doesn't return rows.
func (b *BaseSQLAdapter) Exec(ctx context.Context, sqlStr string) error {
	if b.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	_, err := b.DB.ExecContext(ctx, sqlStr)
	if err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// Query executes a SQL statement that returns rows.
func (b *BaseSQLAdapter) Query(ctx context.Context, sqlStr string, args ...any) (*sql.Rows, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := b.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return rows, nil
}

// QueryRow executes a SQL statement expected to return at most one row.
func (b *BaseSQLAdapter) QueryRow(ctx context.Context, sqlStr string, args ...any) *sql.Row {
	return b.DB.QueryRowContext(ctx, sqlStr, args...)
}

// SetStatementTimeout bounds query runtime on the current connection.
// Engines without timeout support make this a no-op.
func (b *BaseSQLAdapter) SetStatementTimeout(ctx context.Context, d time.Duration) error {
	stmt := b.D.StatementTimeoutSQL(int(d.Milliseconds()))
	if stmt == "" {
		return nil
	}
	return b.Exec(ctx, stmt)
}

// ResetStatementTimeout removes the runtime bound set by SetStatementTimeout.
func (b *BaseSQLAdapter) ResetStatementTimeout(ctx context.Context) error {
	stmt := b.D.StatementTimeoutSQL(0)
	if stmt == "" {
		return nil
	}
	return b.Exec(ctx, stmt)
}

// Dialect returns the SQL dialect configuration for this adapter.
func (b *BaseSQLAdapter) Dialect() *dialect.Dialect {
	return b.D
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.DB != nil
}

// ParseQualifiedName splits a table reference into schema and name.
// Uses the dialect's default schema if not specified.
func ParseQualifiedName(table string, d *dialect.Dialect) (schema, name string) {
	if parts := strings.Split(table, "."); len(parts) == 2 {
		return parts[0], parts[1]
	}
	return d.DefaultSchema, table
}

// NewFromDB wraps an existing *sql.DB in an adapter. Used by tests (with
// go-sqlmock) and by callers that manage their own connections.
func NewFromDB(db *sql.DB, d *dialect.Dialect, logger *slog.Logger) Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &wrappedAdapter{BaseSQLAdapter{DB: db, D: d, Logger: logger}}
}

type wrappedAdapter struct {
	BaseSQLAdapter
}

// Connect is a no-op: the wrapped connection is already established.
func (w *wrappedAdapter) Connect(ctx context.Context, cfg Config) error {
	w.Cfg = cfg
	return nil
}
