package dialect

import "fmt"

// builtinPostgres is the primary production dialect.
var builtinPostgres = &Dialect{
	Name:          "postgres",
	DefaultSchema: "public",
	ExplainPrefix: "EXPLAIN",
	RowEstimateSQL: `SELECT COALESCE(
	(SELECT c.reltuples::BIGINT
	 FROM pg_class c
	 JOIN pg_namespace n ON n.oid = c.relnamespace
	 WHERE n.nspname = $1 AND c.relname = $2),
	0)`,
	SupportsStatementTimeout: true,
	ModeExprFunc: func(colRef string) string {
		return fmt.Sprintf("MODE() WITHIN GROUP (ORDER BY %s)", colRef)
	},
	SampleClauseFunc: func(percent float64) string {
		return fmt.Sprintf("TABLESAMPLE BERNOULLI(%.3f)", percent)
	},
	PlaceholderFunc: func(n int) string { return fmt.Sprintf("$%d", n) },
}

// builtinDuckDB supports local and offline dataset work. DuckDB keeps no
// planner statistics table, so row estimates always fall back to exact
// counts, and it has no statement timeout control.
var builtinDuckDB = &Dialect{
	Name:          "duckdb",
	DefaultSchema: "main",
	ExplainPrefix: "EXPLAIN",
	ModeExprFunc: func(colRef string) string {
		return fmt.Sprintf("MODE(%s)", colRef)
	},
	SampleClauseFunc: func(percent float64) string {
		return fmt.Sprintf("USING SAMPLE %.3f%% (bernoulli)", percent)
	},
	PlaceholderFunc: func(n int) string { return "?" },
}

func init() {
	Register(builtinPostgres)
	Register(builtinDuckDB)
}
