// Package dialect captures the engine-specific SQL the dataset compiler
// needs: plan explanation, planner row estimates, statement timeouts,
// random sampling, and the ordered-aggregate mode function. Generated
// dataset SQL is otherwise common to all supported engines (CTEs, window
// functions, date casts, generate_series).
package dialect

import (
	"fmt"
	"sort"
	"sync"
)

// Dialect describes one SQL engine.
type Dialect struct {
	// Name is the registry key, e.g. "postgres".
	Name string
	// DefaultSchema is used when a table reference is unqualified.
	DefaultSchema string
	// ExplainPrefix is prepended to a query to obtain its plan without
	// executing it.
	ExplainPrefix string
	// RowEstimateSQL, when non-empty, is a query with two positional
	// placeholders (schema, table) returning the planner's approximate
	// row count. Empty means the engine keeps no usable statistics and
	// callers must fall back to an exact count.
	RowEstimateSQL string
	// SupportsStatementTimeout reports whether the engine honors a
	// per-connection statement timeout.
	SupportsStatementTimeout bool
	// ModeExprFunc formats the most-frequent-value aggregate over a
	// column reference.
	ModeExprFunc func(colRef string) string
	// SampleClauseFunc formats a percentage-based random table sample
	// clause, or returns "" when unsupported.
	SampleClauseFunc func(percent float64) string
	// PlaceholderFunc formats the n-th (1-based) query placeholder.
	PlaceholderFunc func(n int) string
}

// ModeExpr formats the mode aggregate for a column reference.
func (d *Dialect) ModeExpr(colRef string) string {
	if d.ModeExprFunc == nil {
		return fmt.Sprintf("MODE() WITHIN GROUP (ORDER BY %s)", colRef)
	}
	return d.ModeExprFunc(colRef)
}

// SampleClause formats a random-sampling clause for the given percentage.
func (d *Dialect) SampleClause(percent float64) string {
	if d.SampleClauseFunc == nil {
		return ""
	}
	return d.SampleClauseFunc(percent)
}

// StatementTimeoutSQL returns the statement that bounds query runtime to the
// given number of milliseconds, or "" when the engine has no such control.
// A zero or negative value resets the timeout to unlimited.
func (d *Dialect) StatementTimeoutSQL(ms int) string {
	if !d.SupportsStatementTimeout {
		return ""
	}
	if ms <= 0 {
		ms = 0
	}
	return fmt.Sprintf("SET statement_timeout = %d", ms)
}

// FormatPlaceholder formats the n-th (1-based) placeholder.
func (d *Dialect) FormatPlaceholder(n int) string {
	if d.PlaceholderFunc == nil {
		return "?"
	}
	return d.PlaceholderFunc(n)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Dialect)
)

// Register adds a dialect to the registry, keyed by its name.
func Register(d *Dialect) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Name] = d
}

// Get retrieves a dialect by name.
func Get(name string) (*Dialect, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[name]
	return d, ok
}

// List returns all registered dialect names, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
