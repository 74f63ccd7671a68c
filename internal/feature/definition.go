// Package feature generates observation-date aware feature SQL from
// templates. Every generated fragment honors the same time rule, never
// reading source rows past the observation date, and emits the same output
// contract: entity_id, observation_date, the feature columns, and
// max_source_time for leakage verification.
package feature

import (
	"fmt"

	"github.com/millstone-labs/grainsql/pkg/ident"
)

// TemplateType selects one of the built-in feature templates.
type TemplateType string

const (
	RollingCount  TemplateType = "rolling_count"
	DistinctCount TemplateType = "distinct_count"
	RollingSum    TemplateType = "rolling_sum"
	RollingAvg    TemplateType = "rolling_avg"
	RollingMin    TemplateType = "rolling_min"
	RollingMax    TemplateType = "rolling_max"
	RollingStddev TemplateType = "rolling_stddev"
	Mode          TemplateType = "mode"
	PctTrue       TemplateType = "pct_true"
	Recency       TemplateType = "recency"
)

// Definition describes one feature to generate.
//
// Name is human-readable metadata and may contain anything; Key is the
// SQL-safe identifier woven into generated column names and is guarded.
type Definition struct {
	Name         string       `json:"name"`
	Key          string       `json:"key"`
	TemplateType TemplateType `json:"template_type"`
	SourceTable  string       `json:"source_table"`
	SourceSchema string       `json:"source_schema"`
	JoinColumn   string       `json:"join_column"`
	TimeColumn   string       `json:"time_column"`
	ValueColumn  string       `json:"value_column,omitempty"`
	WindowDays   int          `json:"window_days"`
}

// New validates a feature definition, applies defaults, and returns the
// frozen value.
func New(d Definition) (*Definition, error) {
	if d.SourceSchema == "" {
		d.SourceSchema = "public"
	}
	if d.WindowDays == 0 {
		d.WindowDays = 30
	}

	if err := ident.ValidateAll(
		[2]string{d.Key, "key"},
		[2]string{d.SourceTable, "source_table"},
		[2]string{d.JoinColumn, "join_column"},
		[2]string{d.TimeColumn, "time_column"},
		[2]string{d.SourceSchema, "source_schema"},
	); err != nil {
		return nil, err
	}
	if d.ValueColumn != "" {
		if err := ident.Validate(d.ValueColumn, "value_column"); err != nil {
			return nil, err
		}
	}

	spec, ok := templates[d.TemplateType]
	if !ok {
		return nil, fmt.Errorf("unknown template type: %q", d.TemplateType)
	}

	if d.WindowDays < 1 {
		return nil, fmt.Errorf("window_days must be >= 1")
	}
	if spec.requiresValue && d.ValueColumn == "" {
		return nil, fmt.Errorf("%s requires value_column", d.TemplateType)
	}

	return &d, nil
}

// TemplateInfo describes one template for catalog listings.
type TemplateInfo struct {
	Type                TemplateType `json:"type"`
	Name                string       `json:"name"`
	Description         string       `json:"description"`
	RequiresValueColumn bool         `json:"requires_value_column"`
	RequiresWindowDays  bool         `json:"requires_window_days"`
}

// Templates returns the catalog of available templates in a stable order.
func Templates() []TemplateInfo {
	infos := make([]TemplateInfo, 0, len(templateOrder))
	for _, tt := range templateOrder {
		spec := templates[tt]
		infos = append(infos, TemplateInfo{
			Type:                tt,
			Name:                spec.displayName,
			Description:         spec.catalogDesc,
			RequiresValueColumn: spec.requiresValue,
			RequiresWindowDays:  spec.windowed,
		})
	}
	return infos
}
