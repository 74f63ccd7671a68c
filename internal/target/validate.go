package target

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/millstone-labs/grainsql/internal/grain"
	"github.com/millstone-labs/grainsql/internal/schema"
	"github.com/millstone-labs/grainsql/pkg/adapter"
)

// Status classifies the outcome of target validation.
type Status string

const (
	StatusValid   Status = "valid"
	StatusWarning Status = "warning"
	StatusInvalid Status = "invalid"
)

// Stats describes the label table contents.
type Stats struct {
	LabelTableRows int64  `json:"label_table_rows"`
	EventDateMin   string `json:"event_date_min,omitempty"`
	EventDateMax   string `json:"event_date_max,omitempty"`
}

// Validation is the result of checking a target definition against the live
// schema and the grain it will join against.
type Validation struct {
	Definition *Definition `json:"target_definition"`
	Stats      Stats       `json:"stats"`
	Warnings   []string    `json:"warnings"`
	Errors     []string    `json:"errors"`
	Status     Status      `json:"status"`
}

// Compiler validates target definitions and derives distribution and cohort
// analyses from the generated target SQL.
type Compiler struct {
	db           adapter.Adapter
	meta         *schema.Service
	logger       *slog.Logger
	statsTimeout time.Duration
}

// NewCompiler creates a target compiler. A nil logger discards output.
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

// Validate checks a target definition against the live schema. The grain is
// required because the target joins against its entity column; a join-type
// mismatch between the two is one of the checks. Best-effort checks that
// fail (sampling, stats) degrade to warnings rather than errors.
func (c *Compiler) Validate(ctx context.Context, d *Definition, g *grain.Definition) (*Validation, error) {
	v := &Validation{Definition: d, Status: StatusValid}

	exists, err := c.meta.TableExists(ctx, d.Schema, d.LabelTable)
	if err != nil {
		return nil, err
	}
	if !exists {
		v.Errors = append(v.Errors, fmt.Sprintf("Label table '%s.%s' does not exist", d.Schema, d.LabelTable))
		v.Status = StatusInvalid
		return v, nil
	}

	cols, err := c.meta.Columns(ctx, d.Schema, d.LabelTable)
	if err != nil {
		return nil, err
	}
	names := schema.Names(cols)

	for _, check := range []struct{ col, name string }{
		{d.LabelJoinColumn, "label_join_column"},
		{d.LabelEventColumn, "label_event_column"},
		{d.LabelEventTimeColumn, "label_event_time_column"},
	} {
		if _, ok := names[strings.ToLower(check.col)]; !ok {
			v.Errors = append(v.Errors, fmt.Sprintf("%s '%s' not found in table '%s'", check.name, check.col, d.LabelTable))
			v.Status = StatusInvalid
		}
	}
	if v.Status == StatusInvalid {
		return v, nil
	}

	if col, ok := schema.Find(cols, d.LabelEventTimeColumn); ok && !schema.IsDateLike(col.DataType) {
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"Event time column '%s' is %s, not a date type. Casting to DATE will be attempted at runtime.",
			d.LabelEventTimeColumn, col.DataType))
	}

	c.checkJoinTypes(ctx, v, d, g, cols)
	c.checkPositiveValues(ctx, v, d)
	c.gatherStats(ctx, v, d)

	if len(v.Warnings) > 0 && v.Status == StatusValid {
		v.Status = StatusWarning
	}
	return v, nil
}

// checkJoinTypes warns when the grain entity column and the label join
// column fall into different type classes. A numeric-to-text join often
// fails outright or matches zero rows without error.
func (c *Compiler) checkJoinTypes(ctx context.Context, v *Validation, d *Definition, g *grain.Definition, labelCols []schema.Column) {
	grainCols, err := c.meta.Columns(ctx, g.Schema, g.EntityTable)
	if err != nil {
		v.Warnings = append(v.Warnings, fmt.Sprintf("Could not validate join types: %s", truncateErr(err)))
		return
	}

	grainCol, ok1 := schema.Find(grainCols, g.EntityIDColumn)
	labelCol, ok2 := schema.Find(labelCols, d.LabelJoinColumn)
	if !ok1 || !ok2 {
		return
	}

	grainNumeric := schema.IsNumeric(grainCol.DataType)
	labelNumeric := schema.IsNumeric(labelCol.DataType)
	grainText := schema.IsText(grainCol.DataType)
	labelText := schema.IsText(labelCol.DataType)

	if (grainNumeric && labelText) || (grainText && labelNumeric) {
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"Join type mismatch: grain.%s is %s, but label.%s is %s. "+
				"This may cause join failures or silent zero-row matches.",
			g.EntityIDColumn, strings.ToLower(grainCol.DataType),
			d.LabelJoinColumn, strings.ToLower(labelCol.DataType)))
	}
}

// checkPositiveValues samples distinct event values and warns about
// configured positive values absent from the sample. Absence is not proof
// of a typo; the value may simply be rare.
func (c *Compiler) checkPositiveValues(ctx context.Context, v *Validation, d *Definition) {
	query := fmt.Sprintf(`SELECT DISTINCT "%s"::TEXT
FROM "%s"."%s"
WHERE "%s" IS NOT NULL
LIMIT 100`, d.LabelEventColumn, d.Schema, d.LabelTable, d.LabelEventColumn)

	rows, err := c.db.Query(ctx, query)
	if err != nil {
		v.Warnings = append(v.Warnings, fmt.Sprintf("Could not verify positive_values: %s", truncateErr(err)))
		return
	}
	defer func() { _ = rows.Close() }()

	seen := map[string]struct{}{}
	for rows.Next() {
		var val string
		if err := rows.Scan(&val); err != nil {
			v.Warnings = append(v.Warnings, fmt.Sprintf("Could not verify positive_values: %s", truncateErr(err)))
			return
		}
		seen[val] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		v.Warnings = append(v.Warnings, fmt.Sprintf("Could not verify positive_values: %s", truncateErr(err)))
		return
	}

	var missing []string
	for _, pv := range d.PositiveValues {
		if _, ok := seen[pv]; !ok {
			missing = append(missing, pv)
		}
	}
	if len(missing) > 0 {
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"These positive_values were not found in sample: %v. They may exist in full data or be typos.",
			missing))
	}
}

func (c *Compiler) gatherStats(ctx context.Context, v *Validation, d *Definition) {
	qualified := fmt.Sprintf(`"%s"."%s"`, d.Schema, d.LabelTable)

	if err := c.db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", qualified)).
		Scan(&v.Stats.LabelTableRows); err != nil {
		v.Warnings = append(v.Warnings, fmt.Sprintf("Could not get stats: %s", truncateErr(err)))
		return
	}

	query := fmt.Sprintf(`SELECT
	MIN("%s")::TEXT,
	MAX("%s")::TEXT
FROM %s
WHERE "%s" IS NOT NULL`,
		d.LabelEventTimeColumn, d.LabelEventTimeColumn, qualified, d.LabelEventTimeColumn)
	var minDate, maxDate sql.NullString
	if err := c.db.QueryRow(ctx, query).Scan(&minDate, &maxDate); err != nil {
		v.Warnings = append(v.Warnings, fmt.Sprintf("Could not get stats: %s", truncateErr(err)))
		return
	}
	v.Stats.EventDateMin = minDate.String
	v.Stats.EventDateMax = maxDate.String
}

func truncateErr(err error) string {
	msg := err.Error()
	if len(msg) > 100 {
		return msg[:100]
	}
	return msg
}
