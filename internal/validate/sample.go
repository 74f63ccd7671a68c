package validate

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Sample error categories.
const (
	SampleErrSyntax         = "SYNTAX_ERROR"
	SampleErrColumnNotFound = "COLUMN_NOT_FOUND"
	SampleErrTableNotFound  = "TABLE_NOT_FOUND"
	SampleErrTimeout        = "TIMEOUT"
	SampleErrUnknown        = "UNKNOWN"
)

// SampleResult is the outcome of a trial run of a statement on a row sample.
type SampleResult struct {
	Valid        bool             `json:"is_valid"`
	SampleRows   []map[string]any `json:"sample_rows"`
	RowCount     int              `json:"row_count"`
	ColumnNames  []string         `json:"column_names"`
	ErrorMessage string           `json:"error_message,omitempty"`
	ErrorType    string           `json:"error_type,omitempty"`
}

// SampleRun executes a statement with a LIMIT under a statement timeout to
// catch runtime problems before a full-table run. Execution failures are
// categorized into the result rather than returned, so callers can surface
// them to the user directly. At most 100 rows are retained.
func (v *Validator) SampleRun(ctx context.Context, sqlStr string, limit int, timeout time.Duration) *SampleResult {
	if limit <= 0 {
		limit = 1000
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cleanSQL := strings.TrimSuffix(strings.TrimSpace(sqlStr), ";")
	var sampleSQL string
	if strings.HasPrefix(strings.ToUpper(cleanSQL), "WITH") {
		// A bare LIMIT cannot be appended to a CTE chain that already ends
		// in its own clauses, so wrap the whole statement.
		sampleSQL = fmt.Sprintf("SELECT * FROM (\n%s\n) AS sample_query\nLIMIT %d", cleanSQL, limit)
	} else {
		sampleSQL = fmt.Sprintf("%s\nLIMIT %d", cleanSQL, limit)
	}

	if err := v.db.SetStatementTimeout(ctx, timeout); err != nil {
		v.logger.Debug("failed to set statement timeout", "error", err)
	}
	defer func() {
		if err := v.db.ResetStatementTimeout(ctx); err != nil {
			v.logger.Debug("failed to reset statement timeout", "error", err)
		}
	}()

	rows, err := v.db.Query(ctx, sampleSQL)
	if err != nil {
		return sampleFailure(err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return sampleFailure(err)
	}

	res := &SampleResult{Valid: true, ColumnNames: columns}
	for rows.Next() {
		res.RowCount++
		if len(res.SampleRows) >= 100 {
			continue
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return sampleFailure(err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		res.SampleRows = append(res.SampleRows, row)
	}
	if err := rows.Err(); err != nil {
		return sampleFailure(err)
	}
	return res
}

func sampleFailure(err error) *SampleResult {
	msg := err.Error()
	lower := strings.ToLower(msg)

	var errType string
	switch {
	case strings.Contains(lower, "syntax"):
		errType = SampleErrSyntax
	case strings.Contains(lower, "column") && strings.Contains(lower, "not"):
		errType = SampleErrColumnNotFound
	case strings.Contains(lower, "relation") || strings.Contains(lower, "table"):
		errType = SampleErrTableNotFound
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "cancel"):
		errType = SampleErrTimeout
	default:
		errType = SampleErrUnknown
	}
	return &SampleResult{ErrorMessage: msg, ErrorType: errType}
}

// CheckLeakagePatterns statically scans a statement for patterns that leak
// future data into features. It cannot prove absence of leakage; it only
// catches the obvious cases without touching the database.
func CheckLeakagePatterns(sqlStr string) []string {
	var warnings []string
	upper := strings.ToUpper(sqlStr)

	if !strings.Contains(upper, "OBSERVATION_DATE") {
		warnings = append(warnings, "No observation_date reference found. May cause data leakage.")
		return warnings
	}
	if strings.Contains(upper, "> G.OBSERVATION_DATE") {
		warnings = append(warnings, "Event date > observation_date found. This causes leakage.")
	}
	return warnings
}
