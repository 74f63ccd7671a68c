package grain

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/millstone-labs/grainsql/internal/schema"
	"github.com/millstone-labs/grainsql/pkg/adapter"
)

// Status classifies the outcome of grain validation.
type Status string

const (
	StatusValid   Status = "valid"
	StatusWarning Status = "warning"
	StatusInvalid Status = "invalid"
)

// Stats describes what the entity table actually contains. Row totals come
// from planner statistics where available; everything else is exact.
type Stats struct {
	TotalRowsEstimate       int64  `json:"total_rows_estimate"`
	TotalRowsIsEstimate     bool   `json:"total_rows_is_estimate"`
	UniqueEntities          int64  `json:"unique_entities"`
	DuplicateEntityCount    int64  `json:"duplicate_entity_count"`
	DuplicateEntityObsCount int64  `json:"duplicate_entity_obs_count"`
	NullEntityCount         int64  `json:"null_entity_count"`
	NullObsDateCount        int64  `json:"null_obs_date_count"`
	ObsDateMin              string `json:"obs_date_min,omitempty"`
	ObsDateMax              string `json:"obs_date_max,omitempty"`
	DaysSinceMaxObs         *int64 `json:"days_since_max_obs,omitempty"`
}

// Validation is the result of checking a definition against the live schema.
type Validation struct {
	Definition *Definition `json:"grain_definition"`
	Stats      Stats       `json:"stats"`
	Warnings   []string    `json:"warnings"`
	Errors     []string    `json:"errors"`
	Status     Status      `json:"status"`
}

// Preview holds the first rows produced by the grain SQL.
type Preview struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	SQL      string           `json:"sql"`
}

// Compiler validates grain definitions against a live database and previews
// the rows their SQL would produce.
type Compiler struct {
	db           adapter.Adapter
	meta         *schema.Service
	logger       *slog.Logger
	statsTimeout time.Duration
}

// NewCompiler creates a grain compiler. A nil logger discards output.
func NewCompiler(db adapter.Adapter, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Compiler{
		db:           db,
		meta:         schema.NewService(db, logger),
		logger:       logger,
		statsTimeout: 30 * time.Second,
	}
}

// Validate checks the definition against the live schema and gathers row
// statistics. Missing tables or columns make the result invalid; data
// quality findings surface as warnings. The returned error reports
// infrastructure failures only, never definition problems.
func (c *Compiler) Validate(ctx context.Context, d *Definition) (*Validation, error) {
	v := &Validation{Definition: d, Status: StatusValid}

	exists, err := c.meta.TableExists(ctx, d.Schema, d.EntityTable)
	if err != nil {
		return nil, err
	}
	if !exists {
		v.Errors = append(v.Errors, fmt.Sprintf("Table '%s.%s' does not exist", d.Schema, d.EntityTable))
		v.Status = StatusInvalid
		return v, nil
	}

	cols, err := c.meta.Columns(ctx, d.Schema, d.EntityTable)
	if err != nil {
		return nil, err
	}
	names := schema.Names(cols)

	invalid := func(msg string) (*Validation, error) {
		v.Errors = append(v.Errors, msg)
		v.Status = StatusInvalid
		return v, nil
	}

	if !inSet(names, d.EntityIDColumn) {
		return invalid(fmt.Sprintf("Entity column '%s' not found in table", d.EntityIDColumn))
	}
	if !d.IsFixedObservation() && !inSet(names, d.ObservationDateColumn) {
		return invalid(fmt.Sprintf("Observation date column '%s' not found in table", d.ObservationDateColumn))
	}
	if d.DedupOrderBy != "" && !inSet(names, d.DedupOrderBy) {
		return invalid(fmt.Sprintf("Dedup order column '%s' not found in table", d.DedupOrderBy))
	}
	if d.DedupTiebreaker != "" && !inSet(names, d.DedupTiebreaker) {
		return invalid(fmt.Sprintf("Dedup tiebreaker column '%s' not found in table", d.DedupTiebreaker))
	}

	if !d.IsFixedObservation() {
		if col, ok := schema.Find(cols, d.ObservationDateColumn); ok && !schema.IsDateLike(col.DataType) {
			// No portable TRY_CAST exists, so we cannot prove all values
			// will cast. Warn about the runtime risk instead.
			v.Warnings = append(v.Warnings, fmt.Sprintf(
				"Observation column '%s' is %s, not a date type. "+
					"Casting to DATE will be attempted at runtime and may fail for some values. "+
					"Consider providing a date parse format or fixing source data.",
				d.ObservationDateColumn, col.DataType))
		}
	}

	stats, err := c.gatherStats(ctx, d)
	if err != nil {
		return nil, err
	}
	v.Stats = stats

	if stats.DuplicateEntityCount > 0 {
		switch d.DedupRule {
		case DedupError:
			v.Errors = append(v.Errors, fmt.Sprintf(
				"Found %d entities with duplicates. Deduplication rule is 'error'.",
				stats.DuplicateEntityCount))
			v.Status = StatusInvalid
		case KeepAll:
			v.Warnings = append(v.Warnings, fmt.Sprintf(
				"Found %d entities with multiple observations. Grain will be entity + observation_date.",
				stats.DuplicateEntityCount))
		default:
			v.Warnings = append(v.Warnings, fmt.Sprintf(
				"Found %d entities with duplicates. Will apply '%s' rule.",
				stats.DuplicateEntityCount, d.DedupRule))
		}
	}

	if stats.NullEntityCount > 0 {
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"Found %d rows with NULL entity ID. These will be excluded.", stats.NullEntityCount))
	}

	if !d.IsFixedObservation() && stats.NullObsDateCount > 0 && stats.TotalRowsEstimate > 0 {
		pct := float64(stats.NullObsDateCount) / float64(stats.TotalRowsEstimate) * 100
		if pct > 10 {
			pctStr := fmt.Sprintf("%.1f%%", pct)
			if stats.TotalRowsIsEstimate {
				pctStr = "~" + pctStr
			}
			v.Warnings = append(v.Warnings, fmt.Sprintf(
				"Found %d rows (%s) with NULL observation date. These will be excluded.",
				stats.NullObsDateCount, pctStr))
		}
	}

	if stats.ObsDateMin != "" && stats.ObsDateMax != "" &&
		stats.DaysSinceMaxObs != nil && *stats.DaysSinceMaxObs > 90 {
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"Most recent observation is %d days old (%s)",
			*stats.DaysSinceMaxObs, truncateDate(stats.ObsDateMax)))
	}

	if len(v.Warnings) > 0 && v.Status == StatusValid {
		v.Status = StatusWarning
	}
	return v, nil
}

// gatherStats runs the exploratory count queries under a statement timeout
// so a huge table cannot wedge the connection.
func (c *Compiler) gatherStats(ctx context.Context, d *Definition) (Stats, error) {
	if err := c.db.SetStatementTimeout(ctx, c.statsTimeout); err != nil {
		return Stats{}, err
	}
	defer func() {
		if err := c.db.ResetStatementTimeout(ctx); err != nil {
			c.logger.Warn("failed to reset statement timeout", "error", err)
		}
	}()

	var stats Stats
	qualified := fmt.Sprintf(`"%s"."%s"`, d.Schema, d.EntityTable)

	estimate, err := c.meta.RowEstimate(ctx, d.Schema, d.EntityTable)
	if err != nil {
		return stats, err
	}
	if estimate <= 0 {
		var exact int64
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", qualified)
		if err := c.db.QueryRow(ctx, query).Scan(&exact); err != nil {
			return stats, fmt.Errorf("failed to count rows: %w", err)
		}
		stats.TotalRowsEstimate = exact
		stats.TotalRowsIsEstimate = false
	} else {
		stats.TotalRowsEstimate = estimate
		stats.TotalRowsIsEstimate = true
	}
	if stats.TotalRowsEstimate == 0 {
		return stats, nil
	}

	query := fmt.Sprintf(`SELECT COUNT(DISTINCT "%s") FROM %s WHERE "%s" IS NOT NULL`,
		d.EntityIDColumn, qualified, d.EntityIDColumn)
	if err := c.db.QueryRow(ctx, query).Scan(&stats.UniqueEntities); err != nil {
		return stats, fmt.Errorf("failed to count unique entities: %w", err)
	}

	query = fmt.Sprintf(`SELECT COUNT(*) FROM (
	SELECT "%s"
	FROM %s
	WHERE "%s" IS NOT NULL
	GROUP BY "%s"
	HAVING COUNT(*) > 1
) duplicates`, d.EntityIDColumn, qualified, d.EntityIDColumn, d.EntityIDColumn)
	if err := c.db.QueryRow(ctx, query).Scan(&stats.DuplicateEntityCount); err != nil {
		return stats, fmt.Errorf("failed to count duplicate entities: %w", err)
	}

	if d.DedupRule == KeepAll && !d.IsFixedObservation() {
		query = fmt.Sprintf(`SELECT COUNT(*) FROM (
	SELECT "%s", "%s"::DATE
	FROM %s
	WHERE "%s" IS NOT NULL AND "%s" IS NOT NULL
	GROUP BY "%s", "%s"::DATE
	HAVING COUNT(*) > 1
) pair_duplicates`,
			d.EntityIDColumn, d.ObservationDateColumn, qualified,
			d.EntityIDColumn, d.ObservationDateColumn,
			d.EntityIDColumn, d.ObservationDateColumn)
		if err := c.db.QueryRow(ctx, query).Scan(&stats.DuplicateEntityObsCount); err != nil {
			return stats, fmt.Errorf("failed to count duplicate entity/date pairs: %w", err)
		}
	}

	query = fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE "%s" IS NULL`, qualified, d.EntityIDColumn)
	if err := c.db.QueryRow(ctx, query).Scan(&stats.NullEntityCount); err != nil {
		return stats, fmt.Errorf("failed to count null entity ids: %w", err)
	}

	if !d.IsFixedObservation() {
		query = fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE "%s" IS NULL`, qualified, d.ObservationDateColumn)
		if err := c.db.QueryRow(ctx, query).Scan(&stats.NullObsDateCount); err != nil {
			return stats, fmt.Errorf("failed to count null observation dates: %w", err)
		}

		// Age is computed by the database clock so the result does not
		// depend on caller timezone. Failures here are tolerated: a
		// non-castable observation column should not sink validation.
		query = fmt.Sprintf(`SELECT
	MIN("%s")::TEXT,
	MAX("%s")::TEXT,
	CURRENT_DATE - MAX("%s")::DATE AS days_since_max
FROM %s
WHERE "%s" IS NOT NULL`,
			d.ObservationDateColumn, d.ObservationDateColumn, d.ObservationDateColumn,
			qualified, d.ObservationDateColumn)
		var minDate, maxDate sql.NullString
		var daysSince sql.NullInt64
		if err := c.db.QueryRow(ctx, query).Scan(&minDate, &maxDate, &daysSince); err != nil {
			c.logger.Debug("observation date range query failed", "error", err)
		} else {
			stats.ObsDateMin = minDate.String
			stats.ObsDateMax = maxDate.String
			if daysSince.Valid {
				days := daysSince.Int64
				stats.DaysSinceMaxObs = &days
			}
		}
	} else {
		stats.ObsDateMin = d.ObservationDateValue
		stats.ObsDateMax = d.ObservationDateValue
	}

	return stats, nil
}

// Preview runs the grain SQL with a LIMIT and returns the resulting rows.
func (c *Compiler) Preview(ctx context.Context, d *Definition, limit int, includeSplit bool) (*Preview, error) {
	if limit <= 0 {
		limit = 100
	}
	grainSQL := SQL(d, includeSplit)

	rows, err := c.db.Query(ctx, fmt.Sprintf("%s\nLIMIT %d", grainSQL, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to preview grain: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read preview columns: %w", err)
	}

	p := &Preview{Columns: columns, SQL: grainSQL}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan preview row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		p.Rows = append(p.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read preview rows: %w", err)
	}
	p.RowCount = len(p.Rows)
	return p, nil
}

func inSet(names map[string]struct{}, name string) bool {
	_, ok := names[strings.ToLower(name)]
	return ok
}

func truncateDate(s string) string {
	if len(s) > 10 {
		return s[:10]
	}
	return s
}
