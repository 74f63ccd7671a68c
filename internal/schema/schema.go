// Package schema provides read-only metadata lookups used to validate
// definitions against the live database: table existence, column
// name/type/nullability, planner row estimates, and date-likeness
// classification. It performs no discovery of its own beyond
// information_schema queries.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/millstone-labs/grainsql/pkg/adapter"
)

// Column describes one column of a table.
type Column struct {
	Name     string
	DataType string
	Nullable bool
}

// Service answers metadata questions through a database adapter.
type Service struct {
	db     adapter.Adapter
	logger *slog.Logger
}

// NewService creates a metadata service. A nil logger discards output.
func NewService(db adapter.Adapter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{db: db, logger: logger}
}

// TableExists reports whether schema.table exists.
func (s *Service) TableExists(ctx context.Context, schema, table string) (bool, error) {
	d := s.db.Dialect()
	query := fmt.Sprintf(`SELECT EXISTS (
	SELECT 1 FROM information_schema.tables
	WHERE table_schema = %s AND table_name = %s
)`, d.FormatPlaceholder(1), d.FormatPlaceholder(2))

	var exists bool
	if err := s.db.QueryRow(ctx, query, schema, table).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check table existence: %w", err)
	}
	return exists, nil
}

// Columns returns column metadata for schema.table in ordinal order.
func (s *Service) Columns(ctx context.Context, schema, table string) ([]Column, error) {
	d := s.db.Dialect()
	query := fmt.Sprintf(`SELECT column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = %s AND table_name = %s
ORDER BY ordinal_position`, d.FormatPlaceholder(1), d.FormatPlaceholder(2))

	rows, err := s.db.Query(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cols []Column
	for rows.Next() {
		var col Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.DataType, &nullable); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read column metadata: %w", err)
	}
	return cols, nil
}

// RowEstimate returns the planner's approximate row count for schema.table,
// or -1 when the engine keeps no usable statistics. Callers must fall back
// to an exact count when the estimate is not positive.
func (s *Service) RowEstimate(ctx context.Context, schema, table string) (int64, error) {
	d := s.db.Dialect()
	if d.RowEstimateSQL == "" {
		return -1, nil
	}

	var estimate int64
	if err := s.db.QueryRow(ctx, d.RowEstimateSQL, schema, table).Scan(&estimate); err != nil {
		return 0, fmt.Errorf("failed to query row estimate: %w", err)
	}
	return estimate, nil
}

// Find returns the column with the given name (case-insensitive) and true,
// or a zero Column and false.
func Find(cols []Column, name string) (Column, bool) {
	for _, c := range cols {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// Names returns the lowercased set of column names, the allowlist used for
// existence checks.
func Names(cols []Column) map[string]struct{} {
	names := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		names[strings.ToLower(c.Name)] = struct{}{}
	}
	return names
}

// dateTypes are SQL types that carry a date component. "time" is excluded:
// it has no date component.
var dateTypes = []string{
	"date", "timestamp", "timestamptz",
	"timestamp with time zone", "timestamp without time zone",
}

// IsDateLike reports whether a SQL data type carries a date component.
func IsDateLike(dataType string) bool {
	lower := strings.ToLower(dataType)
	for _, dt := range dateTypes {
		if strings.Contains(lower, dt) {
			return true
		}
	}
	return false
}

var numericTypes = []string{"integer", "bigint", "smallint", "numeric", "decimal", "real", "double precision", "int4", "int8", "float"}

var textTypes = []string{"text", "varchar", "character varying", "char", "uuid"}

// IsNumeric reports whether the type is a numeric class for join
// compatibility checks.
func IsNumeric(dataType string) bool {
	return containsAny(dataType, numericTypes)
}

// IsText reports whether the type is a textual class for join compatibility
// checks.
func IsText(dataType string) bool {
	return containsAny(dataType, textTypes)
}

func containsAny(dataType string, classes []string) bool {
	lower := strings.ToLower(dataType)
	for _, c := range classes {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}
