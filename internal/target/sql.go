package target

import (
	"fmt"
	"strings"

	"github.com/millstone-labs/grainsql/internal/grain"
)

// positiveCondition builds the boolean expression classifying an event row
// as positive. Values are escaped as string literals; identifiers were
// already guarded at construction.
func positiveCondition(d *Definition) string {
	escaped := make([]string, len(d.PositiveValues))
	for i, v := range d.PositiveValues {
		escaped[i] = strings.ReplaceAll(v, "'", "''")
	}
	if len(escaped) == 1 {
		return fmt.Sprintf(`"%s" = '%s'`, d.LabelEventColumn, escaped[0])
	}
	return fmt.Sprintf(`"%s" IN ('%s')`, d.LabelEventColumn, strings.Join(escaped, "', '"))
}

// extractionExpr is the SQL expression for "today": either the pinned
// extraction date or the database clock.
func extractionExpr(d *Definition) string {
	if d.ExtractionDate != "" {
		return fmt.Sprintf("'%s'::DATE", d.ExtractionDate)
	}
	return "CURRENT_DATE"
}

// CTEs returns the label_events and target_calc common table expressions,
// without a grain CTE. The assembler embeds these after its own grain CTE
// so the grain is declared exactly once per dataset query.
func CTEs(d *Definition) string {
	labelEvents := fmt.Sprintf(`label_events AS (
    SELECT
        "%s" AS entity_id,
        "%s"::DATE AS event_date,
        %s AS is_positive
    FROM "%s"."%s"
    WHERE "%s" IS NOT NULL
)`,
		d.LabelJoinColumn, d.LabelEventTimeColumn, positiveCondition(d),
		d.Schema, d.LabelTable, d.LabelEventTimeColumn)

	// The maturity filter excludes observations whose window plus wait
	// period has not fully elapsed. Without it, recent observations get
	// labeled 0 before their outcome is knowable, biasing the positive
	// rate downward.
	totalMonths := d.WindowMonths + d.MaturityMonths
	targetCalc := fmt.Sprintf(`target_calc AS (
    SELECT
        g.entity_id,
        g.observation_date,
        MAX(CASE
            WHEN e.is_positive = TRUE
             AND e.event_date > g.observation_date
             AND e.event_date <= g.observation_date + INTERVAL '%d months'
            THEN 1 ELSE 0
        END) AS %s
    FROM grain g
    LEFT JOIN label_events e ON g.entity_id = e.entity_id
    WHERE g.observation_date + INTERVAL '%d months' <= %s
    GROUP BY g.entity_id, g.observation_date
)`,
		d.WindowMonths, d.TargetName, totalMonths, extractionExpr(d))

	return labelEvents + ",\n" + targetCalc
}

// SQL returns the standalone query producing (entity_id, observation_date,
// target), declaring its own grain CTE from the given grain definition.
func SQL(d *Definition, g *grain.Definition) string {
	return SQLWithGrain(d, grain.SQL(g, false))
}

// SQLWithGrain is SQL with a pre-generated grain query.
func SQLWithGrain(d *Definition, grainSQL string) string {
	return strings.TrimSpace(fmt.Sprintf(`WITH grain AS (
    %s
),
%s
SELECT entity_id, observation_date, %s
FROM target_calc`,
		grainSQL, CTEs(d), d.TargetName))
}
