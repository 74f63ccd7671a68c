package grain

import (
	"fmt"
	"strings"
)

var snapshotIntervals = map[SnapshotStrategy]string{
	SnapshotMonthly: "1 month",
	SnapshotWeekly:  "1 week",
	SnapshotDaily:   "1 day",
}

// SQL generates the query producing the grain rows: unique entity plus
// observation date pairs under the configured deduplication policy. The
// result is the base every downstream join builds on. When includeSplit is
// set and boundary dates exist, a train/valid/test label column is appended.
func SQL(d *Definition, includeSplit bool) string {
	var obsExpr, nullFilter string
	if d.IsFixedObservation() {
		obsExpr = fmt.Sprintf("'%s'::DATE", d.ObservationDateValue)
		nullFilter = fmt.Sprintf(`"%s" IS NOT NULL`, d.EntityIDColumn)
	} else {
		obsExpr = fmt.Sprintf(`"%s"::DATE`, d.ObservationDateColumn)
		nullFilter = fmt.Sprintf(`"%s" IS NOT NULL AND "%s" IS NOT NULL`, d.EntityIDColumn, d.ObservationDateColumn)
	}

	if d.IsSnapshot() {
		return snapshotSQL(d, splitExpr(d, includeSplit, "observation_date"))
	}

	orderParts := []string{fmt.Sprintf(`"%s"`, d.DedupOrderBy)}
	if d.DedupTiebreaker != "" {
		orderParts = append(orderParts, fmt.Sprintf(`"%s"`, d.DedupTiebreaker))
	}
	orderClause := strings.Join(orderParts, ", ")

	switch d.DedupRule {
	case KeepLatest, KeepFirst:
		direction := "DESC"
		if d.DedupRule == KeepFirst {
			direction = "ASC"
		}
		return strings.TrimSpace(fmt.Sprintf(`
WITH ranked AS (
    SELECT
        "%s" AS entity_id,
        %s AS observation_date,
        ROW_NUMBER() OVER (
            PARTITION BY "%s"
            ORDER BY %s %s
        ) AS rn
    FROM "%s"."%s"
    WHERE %s
)
SELECT entity_id, observation_date%s
FROM ranked
WHERE rn = 1`,
			d.EntityIDColumn, obsExpr, d.EntityIDColumn, orderClause, direction,
			d.Schema, d.EntityTable, nullFilter,
			splitExpr(d, includeSplit, "observation_date")))
	default:
		// keep_all and error both pass rows through unchanged. The split
		// CASE uses the raw date expression because the observation_date
		// alias is not visible within its own SELECT list.
		return strings.TrimSpace(fmt.Sprintf(`
SELECT
    "%s" AS entity_id,
    %s AS observation_date%s
FROM "%s"."%s"
WHERE %s`,
			d.EntityIDColumn, obsExpr, splitExpr(d, includeSplit, obsExpr),
			d.Schema, d.EntityTable, nullFilter))
	}
}

// snapshotSQL generates a periodic series of snapshot dates and cross-joins
// it against each entity's first activity date, keeping only snapshots at
// least MinHistoryDays past that first activity.
func snapshotSQL(d *Definition, split string) string {
	var dateExpr string
	switch d.SnapshotStrategy {
	case SnapshotMonthly:
		dateExpr = "DATE_TRUNC('month', d) + INTERVAL '1 month' - INTERVAL '1 day'"
	case SnapshotWeekly:
		dateExpr = "DATE_TRUNC('week', d) + INTERVAL '6 days'"
	default:
		dateExpr = "d::DATE"
	}

	return strings.TrimSpace(fmt.Sprintf(`
WITH
snapshot_dates AS (
    SELECT DISTINCT %s AS observation_date
    FROM generate_series(
        '%s'::DATE,
        '%s'::DATE,
        '%s'::INTERVAL
    ) AS d
    WHERE %s <= '%s'::DATE
),
entities AS (
    SELECT
        "%s" AS entity_id,
        MIN("%s")::DATE AS first_activity_date
    FROM "%s"."%s"
    WHERE "%s" IS NOT NULL
    GROUP BY "%s"
),
grain_raw AS (
    SELECT
        e.entity_id,
        s.observation_date,
        e.first_activity_date
    FROM entities e
    CROSS JOIN snapshot_dates s
    WHERE s.observation_date >= e.first_activity_date + INTERVAL '%d days'
)
SELECT
    entity_id,
    observation_date%s
FROM grain_raw`,
		dateExpr, d.StartDate, d.EndDate, snapshotIntervals[d.SnapshotStrategy],
		dateExpr, d.EndDate,
		d.EntityIDColumn, d.ObservationDateColumn, d.Schema, d.EntityTable,
		d.EntityIDColumn, d.EntityIDColumn,
		d.MinHistoryDays, split))
}

// splitExpr returns the train/valid/test CASE projection, or an empty string
// when no boundary dates are configured. dateRef is the SQL expression or
// alias the CASE compares against.
func splitExpr(d *Definition, includeSplit bool, dateRef string) string {
	if !includeSplit || d.TrainEndDate == "" {
		return ""
	}
	if d.ValidEndDate != "" {
		return fmt.Sprintf(`,
    CASE
        WHEN %s <= '%s'::DATE THEN 'train'
        WHEN %s <= '%s'::DATE THEN 'valid'
        ELSE 'test'
    END AS split`, dateRef, d.TrainEndDate, dateRef, d.ValidEndDate)
	}
	return fmt.Sprintf(`,
    CASE
        WHEN %s <= '%s'::DATE THEN 'train'
        ELSE 'test'
    END AS split`, dateRef, d.TrainEndDate)
}
