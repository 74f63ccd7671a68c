package feature

import (
	"fmt"

	"github.com/millstone-labs/grainsql/pkg/dialect"
)

// templateSpec is the pure definition of one template: how to name its
// output column, the aggregate expression, and whether the join clause is
// bounded by the rolling window or looks back indefinitely.
type templateSpec struct {
	displayName   string
	catalogDesc   string
	requiresValue bool
	windowed      bool
	columnName    func(d *Definition) string
	expr          func(d *Definition, dia *dialect.Dialect) string
	describe      func(d *Definition) string
}

var templateOrder = []TemplateType{
	RollingCount, RollingSum, RollingAvg, RollingMin, RollingMax,
	RollingStddev, DistinctCount, Mode, PctTrue, Recency,
}

var templates = map[TemplateType]templateSpec{
	RollingCount: {
		displayName: "Rolling Count",
		catalogDesc: "Count of events in a rolling time window",
		windowed:    true,
		columnName: func(d *Definition) string {
			return fmt.Sprintf("cnt_%s_%dd", d.Key, d.WindowDays)
		},
		expr: func(d *Definition, _ *dialect.Dialect) string {
			return fmt.Sprintf(`COUNT(e."%s")`, d.JoinColumn)
		},
		describe: func(d *Definition) string {
			return fmt.Sprintf("Count of events in last %d days", d.WindowDays)
		},
	},
	RollingSum: {
		displayName:   "Rolling Sum",
		catalogDesc:   "Sum of a column in a rolling time window",
		requiresValue: true,
		windowed:      true,
		columnName: func(d *Definition) string {
			return fmt.Sprintf("sum_%s_%dd", d.Key, d.WindowDays)
		},
		expr: func(d *Definition, _ *dialect.Dialect) string {
			return fmt.Sprintf(`COALESCE(SUM(e."%s"), 0)`, d.ValueColumn)
		},
		describe: func(d *Definition) string {
			return fmt.Sprintf("Sum of %s in last %d days", d.ValueColumn, d.WindowDays)
		},
	},
	RollingAvg: {
		displayName:   "Rolling Average",
		catalogDesc:   "Average of a column in a rolling time window",
		requiresValue: true,
		windowed:      true,
		columnName: func(d *Definition) string {
			return fmt.Sprintf("avg_%s_%dd", d.Key, d.WindowDays)
		},
		expr: func(d *Definition, _ *dialect.Dialect) string {
			// No COALESCE: an empty window is genuinely missing, not zero.
			return fmt.Sprintf(`AVG(e."%s")`, d.ValueColumn)
		},
		describe: func(d *Definition) string {
			return fmt.Sprintf("Avg of %s in last %d days", d.ValueColumn, d.WindowDays)
		},
	},
	RollingMin: {
		displayName:   "Rolling Min",
		catalogDesc:   "Minimum value in a rolling time window",
		requiresValue: true,
		windowed:      true,
		columnName: func(d *Definition) string {
			return fmt.Sprintf("%s_min_%dd", d.Key, d.WindowDays)
		},
		expr: func(d *Definition, _ *dialect.Dialect) string {
			return fmt.Sprintf(`MIN(e."%s")`, d.ValueColumn)
		},
		describe: func(d *Definition) string {
			return fmt.Sprintf("Min %s in last %d days", d.ValueColumn, d.WindowDays)
		},
	},
	RollingMax: {
		displayName:   "Rolling Max",
		catalogDesc:   "Maximum value in a rolling time window",
		requiresValue: true,
		windowed:      true,
		columnName: func(d *Definition) string {
			return fmt.Sprintf("%s_max_%dd", d.Key, d.WindowDays)
		},
		expr: func(d *Definition, _ *dialect.Dialect) string {
			return fmt.Sprintf(`MAX(e."%s")`, d.ValueColumn)
		},
		describe: func(d *Definition) string {
			return fmt.Sprintf("Max %s in last %d days", d.ValueColumn, d.WindowDays)
		},
	},
	RollingStddev: {
		displayName:   "Rolling Std Dev",
		catalogDesc:   "Standard deviation in a rolling time window",
		requiresValue: true,
		windowed:      true,
		columnName: func(d *Definition) string {
			return fmt.Sprintf("%s_stddev_%dd", d.Key, d.WindowDays)
		},
		expr: func(d *Definition, _ *dialect.Dialect) string {
			return fmt.Sprintf(`COALESCE(STDDEV(e."%s"), 0)`, d.ValueColumn)
		},
		describe: func(d *Definition) string {
			return fmt.Sprintf("Std dev of %s in last %d days", d.ValueColumn, d.WindowDays)
		},
	},
	DistinctCount: {
		displayName:   "Distinct Count",
		catalogDesc:   "Count of unique values in a rolling time window",
		requiresValue: true,
		windowed:      true,
		columnName: func(d *Definition) string {
			return fmt.Sprintf("uniq_%s_%dd", d.Key, d.WindowDays)
		},
		expr: func(d *Definition, _ *dialect.Dialect) string {
			return fmt.Sprintf(`COUNT(DISTINCT e."%s")`, d.ValueColumn)
		},
		describe: func(d *Definition) string {
			return fmt.Sprintf("Unique %s values in last %d days", d.ValueColumn, d.WindowDays)
		},
	},
	Mode: {
		displayName:   "Mode",
		catalogDesc:   "Most frequent value in a rolling time window",
		requiresValue: true,
		windowed:      true,
		columnName: func(d *Definition) string {
			return fmt.Sprintf("%s_mode_%dd", d.Key, d.WindowDays)
		},
		expr: func(d *Definition, dia *dialect.Dialect) string {
			return dia.ModeExpr(fmt.Sprintf(`e."%s"`, d.ValueColumn))
		},
		describe: func(d *Definition) string {
			return fmt.Sprintf("Most frequent %s in last %d days", d.ValueColumn, d.WindowDays)
		},
	},
	PctTrue: {
		displayName:   "Percent True",
		catalogDesc:   "Percentage of true values for boolean columns",
		requiresValue: true,
		windowed:      true,
		columnName: func(d *Definition) string {
			return fmt.Sprintf("%s_pct_true_%dd", d.Key, d.WindowDays)
		},
		expr: func(d *Definition, _ *dialect.Dialect) string {
			return fmt.Sprintf(`COALESCE(
        100.0 * SUM(CASE WHEN e."%s" THEN 1 ELSE 0 END)::FLOAT /
        NULLIF(COUNT(*), 0),
        0
    )`, d.ValueColumn)
		},
		describe: func(d *Definition) string {
			return fmt.Sprintf("Percentage of %s true in last %d days", d.ValueColumn, d.WindowDays)
		},
	},
	Recency: {
		displayName: "Recency",
		catalogDesc: "Days since last event (relative to observation_date)",
		columnName: func(d *Definition) string {
			return fmt.Sprintf("days_since_%s", d.Key)
		},
		expr: func(d *Definition, _ *dialect.Dialect) string {
			return fmt.Sprintf(`(g.observation_date - MAX(e."%s"::DATE))`, d.TimeColumn)
		},
		describe: func(d *Definition) string {
			return "Days since last event (NULL if no events)"
		},
	},
}
