// Package missing rewrites feature column references to handle NULLs
// produced by left joins. Handling happens at two layers: COALESCE-style
// defaults applied in SQL, and optional is_missing_<column> indicator
// columns so a model can distinguish "absent" from "zero".
package missing

import (
	"fmt"
	"strings"

	"github.com/millstone-labs/grainsql/internal/feature"
	"github.com/millstone-labs/grainsql/pkg/ident"
)

// Strategy is a missing value handling strategy.
type Strategy string

const (
	// Zero replaces NULL with 0. Right for counts and sums, where absence
	// of events genuinely means zero.
	Zero Strategy = "zero"
	// Null passes NULL through. Right for averages, where absence is a
	// missing signal rather than a value.
	Null Strategy = "null"
	// Sentinel replaces NULL with a large value so "never happened" sorts
	// as far away instead of colliding with zero. Right for recency.
	Sentinel Strategy = "sentinel"
	// Mean marks the column for a later data-dependent imputation pass.
	// Mean needs a second aggregation over the results, so it cannot be
	// resolved in this SQL layer; the column passes through unchanged.
	Mean Strategy = "mean"
)

// DefaultSentinel is the sentinel replacement when none is configured.
const DefaultSentinel = 99999

// ColumnConfig says how to handle missing values in one feature column.
type ColumnConfig struct {
	ColumnName    string   `json:"column_name"`
	Strategy      Strategy `json:"strategy"`
	AddIndicator  bool     `json:"add_indicator"`
	SentinelValue int      `json:"sentinel_value"`
}

// NewColumnConfig validates a column config and applies defaults.
func NewColumnConfig(c ColumnConfig) (*ColumnConfig, error) {
	if err := ident.Validate(c.ColumnName, "column_name"); err != nil {
		return nil, err
	}
	if c.Strategy == "" {
		c.Strategy = Zero
	}
	switch c.Strategy {
	case Zero, Null, Sentinel, Mean:
	default:
		return nil, fmt.Errorf("unknown strategy: %q", c.Strategy)
	}
	if c.SentinelValue == 0 {
		c.SentinelValue = DefaultSentinel
	}
	return &c, nil
}

// FeatureConfig is the missing value configuration for one feature's
// columns. SourceAlias names the CTE the wrapped columns read from.
type FeatureConfig struct {
	FeatureName string         `json:"feature_name"`
	FeatureKey  string         `json:"feature_key"`
	Columns     []ColumnConfig `json:"columns"`
	SourceAlias string         `json:"source_alias"`
}

// NewFeatureConfig validates a feature config.
func NewFeatureConfig(c FeatureConfig) (*FeatureConfig, error) {
	if err := ident.Validate(c.FeatureKey, "feature_key"); err != nil {
		return nil, err
	}
	if c.SourceAlias != "" {
		if err := ident.Validate(c.SourceAlias, "source_alias"); err != nil {
			return nil, err
		}
	}
	for i := range c.Columns {
		validated, err := NewColumnConfig(c.Columns[i])
		if err != nil {
			return nil, err
		}
		c.Columns[i] = *validated
	}
	return &c, nil
}

// MeanColumns returns the columns configured for mean imputation. Mean is
// resolved after SQL execution, so these columns need a numeric type check
// before export.
func (c *FeatureConfig) MeanColumns() []string {
	var cols []string
	for _, col := range c.Columns {
		if col.Strategy == Mean {
			cols = append(cols, col.ColumnName)
		}
	}
	return cols
}

// Expr returns the SQL expression for a column with the strategy applied.
func Expr(columnName string, strategy Strategy, alias string, sentinelValue int) (string, error) {
	if err := ident.Validate(columnName, "column_name"); err != nil {
		return "", err
	}
	if alias != "" {
		if err := ident.Validate(alias, "alias"); err != nil {
			return "", err
		}
	}
	if sentinelValue == 0 {
		sentinelValue = DefaultSentinel
	}

	colRef := columnName
	if alias != "" {
		colRef = alias + "." + columnName
	}

	switch strategy {
	case Zero:
		return fmt.Sprintf("COALESCE(%s, 0)", colRef), nil
	case Null, Mean:
		return colRef, nil
	case Sentinel:
		return fmt.Sprintf("COALESCE(%s, %d)", colRef, sentinelValue), nil
	default:
		return "", fmt.Errorf("unknown strategy: %q", strategy)
	}
}

// IndicatorColumn returns the name and SQL expression of the missingness
// indicator for a column.
func IndicatorColumn(columnName, alias string) (name, expr string, err error) {
	colRef := columnName
	if alias != "" {
		colRef = alias + "." + columnName
	}
	name = "is_missing_" + columnName
	if err := ident.Validate(name, "indicator column name"); err != nil {
		return "", "", err
	}
	return name, fmt.Sprintf("CASE WHEN %s IS NULL THEN 1 ELSE 0 END", colRef), nil
}

// SelectColumn is one generated projection: an output name and the SQL
// expression producing it.
type SelectColumn struct {
	Name string
	Expr string
}

// SelectColumns expands a feature config into its projections, main columns
// first, each followed by its indicator when requested.
func SelectColumns(cfg *FeatureConfig) ([]SelectColumn, error) {
	var out []SelectColumn
	for _, col := range cfg.Columns {
		expr, err := Expr(col.ColumnName, col.Strategy, cfg.SourceAlias, col.SentinelValue)
		if err != nil {
			return nil, err
		}
		out = append(out, SelectColumn{Name: col.ColumnName, Expr: expr})

		if col.AddIndicator {
			name, indExpr, err := IndicatorColumn(col.ColumnName, cfg.SourceAlias)
			if err != nil {
				return nil, err
			}
			out = append(out, SelectColumn{Name: name, Expr: indExpr})
		}
	}
	return out, nil
}

// WrapCTE generates a CTE that reads a feature CTE and re-emits its columns
// with missing value handling applied. Passthrough columns (the join keys)
// are emitted unchanged ahead of the handled columns.
func WrapCTE(wrapperAlias string, cfg *FeatureConfig, passthrough []string) (string, error) {
	if err := ident.Validate(wrapperAlias, "feature_alias"); err != nil {
		return "", err
	}
	if passthrough == nil {
		passthrough = []string{"entity_id", "observation_date"}
	}

	columns := make([]string, 0, len(passthrough)+2*len(cfg.Columns))
	for _, col := range passthrough {
		columns = append(columns, cfg.SourceAlias+"."+col)
	}

	handled, err := SelectColumns(cfg)
	if err != nil {
		return "", err
	}
	for _, c := range handled {
		columns = append(columns, fmt.Sprintf("%s AS %s", c.Expr, c.Name))
	}

	return fmt.Sprintf(`%s AS (
    SELECT
        %s
    FROM %s
)`, wrapperAlias, strings.Join(columns, ",\n        "), cfg.SourceAlias), nil
}

// Recommendation is the advisory default strategy for a template type. It
// is never enforced; callers may override freely.
type Recommendation struct {
	Strategy     Strategy `json:"strategy"`
	AddIndicator bool     `json:"add_indicator"`
	Reason       string   `json:"reason"`
}

var recommendations = map[feature.TemplateType]Recommendation{
	feature.RollingCount: {
		Strategy: Zero,
		Reason:   "Count of 0 is meaningful (no events)",
	},
	feature.RollingSum: {
		Strategy: Zero,
		Reason:   "Sum of 0 is meaningful (no events)",
	},
	feature.RollingAvg: {
		Strategy:     Null,
		AddIndicator: true,
		Reason:       "NULL avg means no data; indicator helps model",
	},
	feature.Recency: {
		Strategy:     Sentinel,
		AddIndicator: true,
		Reason:       "NULL means no prior event; sentinel (99999) preserves ordering",
	},
	feature.DistinctCount: {
		Strategy: Zero,
		Reason:   "Count of 0 unique values is meaningful",
	},
}

// Recommended returns the advisory strategy for a template type.
func Recommended(templateType feature.TemplateType) Recommendation {
	if rec, ok := recommendations[templateType]; ok {
		return rec
	}
	return Recommendation{
		Strategy:     Null,
		AddIndicator: true,
		Reason:       "Default: keep NULL with indicator for unknown template",
	}
}

// StrategyInfo describes one strategy for catalog listings.
type StrategyInfo struct {
	Strategy    Strategy `json:"strategy"`
	Description string   `json:"description"`
	SQLExample  string   `json:"sql_example"`
	BestFor     []string `json:"best_for"`
}

// Strategies returns the catalog of available strategies.
func Strategies() []StrategyInfo {
	return []StrategyInfo{
		{
			Strategy:    Zero,
			Description: "Replace NULL with 0",
			SQLExample:  "COALESCE(column, 0)",
			BestFor:     []string{"counts", "sums", "distinct_count"},
		},
		{
			Strategy:    Null,
			Description: "Keep NULL as-is",
			SQLExample:  "column",
			BestFor:     []string{"averages", "meaningful nulls"},
		},
		{
			Strategy:    Sentinel,
			Description: "Replace NULL with large value (default: 99999)",
			SQLExample:  "COALESCE(column, 99999)",
			BestFor:     []string{"recency", "time-since features"},
		},
		{
			Strategy:    Mean,
			Description: "Marker for post-SQL mean imputation",
			SQLExample:  "column /* IMPUTE_MEAN */",
			BestFor:     []string{"numeric features requiring mean imputation"},
		},
	}
}
