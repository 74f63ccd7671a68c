// Package target defines and compiles the label of a dataset: a binary
// outcome derived from events in a label table, scoped to a time window
// after each observation and guarded by a maturity filter so recent
// observations that could not have been labeled yet are excluded.
package target

import (
	"fmt"
	"regexp"
	"time"

	"github.com/millstone-labs/grainsql/pkg/ident"
)

// WindowType selects how the labeling window is bounded.
type WindowType string

const (
	// WindowFixed bounds the window at a fixed number of months after
	// the observation date.
	WindowFixed WindowType = "fixed"
	// WindowVariable would bound the window at a per-row end column.
	// Not supported; New rejects it.
	WindowVariable WindowType = "variable"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Definition describes the target variable: which events count as positive
// and the time window in which they must occur.
type Definition struct {
	LabelTable           string   `json:"label_table"`
	LabelJoinColumn      string   `json:"label_join_column"`
	LabelEventColumn     string   `json:"label_event_column"`
	LabelEventTimeColumn string   `json:"label_event_time_column"`
	PositiveValues       []string `json:"positive_values"`

	WindowType      WindowType `json:"window_type"`
	WindowMonths    int        `json:"window_months"`
	WindowEndColumn string     `json:"window_end_column,omitempty"`

	// MaturityMonths is the wait period after the window ends before an
	// observation may be labeled.
	MaturityMonths int `json:"maturity_months"`
	// ExtractionDate pins "today" for reproducible datasets. Empty means
	// the database's CURRENT_DATE.
	ExtractionDate string `json:"extraction_date,omitempty"`

	TargetName string `json:"target_name"`
	Schema     string `json:"schema"`
}

// New validates a target definition, applies defaults, and returns the
// frozen value.
func New(d Definition) (*Definition, error) {
	if d.Schema == "" {
		d.Schema = "public"
	}
	if d.WindowType == "" {
		d.WindowType = WindowFixed
	}
	if d.WindowMonths == 0 {
		d.WindowMonths = 12
	}
	if d.TargetName == "" {
		d.TargetName = "target"
	}

	if err := ident.ValidateAll(
		[2]string{d.Schema, "schema"},
		[2]string{d.LabelTable, "label_table"},
		[2]string{d.LabelJoinColumn, "label_join_column"},
		[2]string{d.LabelEventColumn, "label_event_column"},
		[2]string{d.LabelEventTimeColumn, "label_event_time_column"},
		[2]string{d.TargetName, "target_name"},
	); err != nil {
		return nil, err
	}
	if d.WindowEndColumn != "" {
		if err := ident.Validate(d.WindowEndColumn, "window_end_column"); err != nil {
			return nil, err
		}
	}

	if len(d.PositiveValues) == 0 {
		return nil, fmt.Errorf("positive_values cannot be empty")
	}

	switch d.WindowType {
	case WindowFixed:
		if d.WindowMonths <= 0 {
			return nil, fmt.Errorf("window_months must be > 0 for fixed window, got %d", d.WindowMonths)
		}
	case WindowVariable:
		return nil, fmt.Errorf("variable window mode is not supported; use window_type %q with window_months", WindowFixed)
	default:
		return nil, fmt.Errorf("window_type must be %q or %q, got %q", WindowFixed, WindowVariable, d.WindowType)
	}

	if d.MaturityMonths < 0 {
		return nil, fmt.Errorf("maturity_months cannot be negative, got %d", d.MaturityMonths)
	}

	if d.ExtractionDate != "" {
		if !datePattern.MatchString(d.ExtractionDate) {
			return nil, fmt.Errorf("invalid extraction_date format %q: expected YYYY-MM-DD", d.ExtractionDate)
		}
		if _, err := time.Parse("2006-01-02", d.ExtractionDate); err != nil {
			return nil, fmt.Errorf("invalid extraction_date %q: not a calendar date", d.ExtractionDate)
		}
	}

	return &d, nil
}
