package feature

import (
	"fmt"
	"strings"

	"github.com/millstone-labs/grainsql/internal/grain"
	"github.com/millstone-labs/grainsql/pkg/core"
	"github.com/millstone-labs/grainsql/pkg/dialect"
	"github.com/millstone-labs/grainsql/pkg/ident"
)

// Generator turns feature definitions into SQL fragments. The dialect only
// influences engine-specific aggregates (the mode expression); everything
// else is shared SQL.
type Generator struct {
	dialect *dialect.Dialect
}

// NewGenerator creates a generator for the given dialect. A nil dialect
// defaults to postgres.
func NewGenerator(d *dialect.Dialect) *Generator {
	if d == nil {
		d, _ = dialect.Get("postgres")
	}
	return &Generator{dialect: d}
}

// Generate produces the feature SQL for a definition. With includeGrainCTE
// the fragment declares its own grain CTE and runs standalone; without it
// the fragment assumes an upstream grain CTE, which is how the assembler
// embeds features without re-declaring the grain per feature.
func (gen *Generator) Generate(d *Definition, g *grain.Definition, includeGrainCTE bool) (core.FeatureSQL, error) {
	spec, ok := templates[d.TemplateType]
	if !ok {
		return core.FeatureSQL{}, fmt.Errorf("unknown template type: %q", d.TemplateType)
	}

	colName := spec.columnName(d)
	if err := ident.Validate(colName, "generated column name"); err != nil {
		return core.FeatureSQL{}, err
	}

	body := fmt.Sprintf(`SELECT
    g.entity_id,
    g.observation_date,
    %s AS %s,
    MAX(e."%s") AS max_source_time
%s
GROUP BY g.entity_id, g.observation_date`,
		spec.expr(d, gen.dialect), colName, d.TimeColumn, joinClause(d, spec.windowed))

	header := fmt.Sprintf("-- Feature: %s (%s)\n-- Time rule: %s::DATE <= observation_date\n",
		d.Name, spec.describe(d), d.TimeColumn)

	var sql string
	if includeGrainCTE {
		sql = fmt.Sprintf("%sWITH grain AS (\n    %s\n)\n%s",
			header, strings.TrimSuffix(strings.TrimSpace(grain.SQL(g, false)), ";"), body)
	} else {
		sql = header + body
	}

	fs := core.FeatureSQL{
		Name:                d.Name,
		SQL:                 sql,
		FeatureColumns:      []string{colName},
		SourceTable:         d.SourceTable,
		MaxSourceTimeColumn: "max_source_time",
		WindowDescription:   spec.describe(d),
	}
	if err := fs.Validate(); err != nil {
		return core.FeatureSQL{}, err
	}
	return fs, nil
}

// joinClause builds the grain-to-source join with the time rule. Windowed
// templates also bound the lookback; recency looks back indefinitely.
func joinClause(d *Definition, windowed bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, `FROM grain g
LEFT JOIN "%s"."%s" e
    ON e."%s" = g.entity_id
   AND e."%s"::DATE <= g.observation_date`,
		d.SourceSchema, d.SourceTable, d.JoinColumn, d.TimeColumn)
	if windowed {
		fmt.Fprintf(&b, `
   AND e."%s"::DATE > g.observation_date - INTERVAL '%d days'`, d.TimeColumn, d.WindowDays)
	}
	return b.String()
}
