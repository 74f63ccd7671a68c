// Package grain defines the unit of one training example: an entity plus
// the instant at which it is observed. The compiler validates a grain
// definition against the live schema and generates SQL producing unique
// (entity_id, observation_date) rows under the chosen deduplication policy.
package grain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/millstone-labs/grainsql/pkg/ident"
)

// DedupRule controls how duplicate entities are resolved.
type DedupRule string

const (
	// KeepFirst keeps the first occurrence by the ordering column.
	KeepFirst DedupRule = "keep_first"
	// KeepLatest keeps the latest occurrence by the ordering column.
	KeepLatest DedupRule = "keep_latest"
	// KeepAll keeps all rows; the grain becomes entity + observation_date.
	KeepAll DedupRule = "keep_all"
	// DedupError fails validation when duplicates exist.
	DedupError DedupRule = "error"
)

// SnapshotStrategy controls how observation dates are produced.
type SnapshotStrategy string

const (
	// SnapshotColumn uses existing column values (the default).
	SnapshotColumn SnapshotStrategy = "column"
	// SnapshotMonthly generates month-end snapshot dates.
	SnapshotMonthly SnapshotStrategy = "monthly"
	// SnapshotWeekly generates week-end snapshot dates.
	SnapshotWeekly SnapshotStrategy = "weekly"
	// SnapshotDaily generates daily snapshot dates.
	SnapshotDaily SnapshotStrategy = "daily"
)

// ObservationSource selects where the observation date comes from.
type ObservationSource string

const (
	// SourceColumn reads the observation date from a column.
	SourceColumn ObservationSource = "column"
	// SourceFixed uses a fixed literal date for every row.
	SourceFixed ObservationSource = "fixed"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Definition describes the grain of a dataset: what constitutes one row.
// Build it with New, which applies defaults and validates every field;
// afterwards it is frozen and reused by every downstream stage.
type Definition struct {
	EntityType            string            `json:"entity_type"`
	EntityTable           string            `json:"entity_table"`
	EntityIDColumn        string            `json:"entity_id_column"`
	ObservationDateColumn string            `json:"observation_date_column"`
	ObservationDateType   ObservationSource `json:"observation_date_type"`
	ObservationDateValue  string            `json:"observation_date_value,omitempty"`
	DedupRule             DedupRule         `json:"deduplication_rule"`
	DedupOrderBy          string            `json:"dedup_order_by,omitempty"`
	DedupTiebreaker       string            `json:"dedup_tiebreaker,omitempty"`
	Schema                string            `json:"schema"`

	SnapshotStrategy SnapshotStrategy `json:"snapshot_strategy"`
	StartDate        string           `json:"start_date,omitempty"`
	EndDate          string           `json:"end_date,omitempty"`
	MinHistoryDays   int              `json:"min_history_days"`
	TrainEndDate     string           `json:"train_end_date,omitempty"`
	ValidEndDate     string           `json:"valid_end_date,omitempty"`
}

// New validates a grain definition, applies defaults, and returns the frozen
// value. Definition errors are caught here, before any database round trip.
func New(d Definition) (*Definition, error) {
	if d.Schema == "" {
		d.Schema = "public"
	}
	if d.ObservationDateType == "" {
		d.ObservationDateType = SourceColumn
	}
	if d.DedupRule == "" {
		d.DedupRule = KeepLatest
	}
	if d.SnapshotStrategy == "" {
		d.SnapshotStrategy = SnapshotColumn
	}
	if d.MinHistoryDays == 0 && d.SnapshotStrategy != SnapshotColumn {
		d.MinHistoryDays = 30
	}
	if d.DedupOrderBy == "" {
		d.DedupOrderBy = d.ObservationDateColumn
	}

	if err := ident.ValidateAll(
		[2]string{d.Schema, "schema"},
		[2]string{d.EntityTable, "table"},
		[2]string{d.EntityIDColumn, "entity_id column"},
		[2]string{d.ObservationDateColumn, "observation_date column"},
	); err != nil {
		return nil, err
	}
	if d.DedupOrderBy != "" {
		if err := ident.Validate(d.DedupOrderBy, "dedup_order_by column"); err != nil {
			return nil, err
		}
	}
	if d.DedupTiebreaker != "" {
		if err := ident.Validate(d.DedupTiebreaker, "dedup_tiebreaker column"); err != nil {
			return nil, err
		}
	}

	switch d.ObservationDateType {
	case SourceColumn:
	case SourceFixed:
		if d.ObservationDateValue == "" {
			return nil, fmt.Errorf("observation_date_value required when observation_date_type is %q", SourceFixed)
		}
		if err := validateDate(d.ObservationDateValue, "observation_date_value"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid observation_date_type %q: must be %q or %q", d.ObservationDateType, SourceColumn, SourceFixed)
	}

	switch d.DedupRule {
	case KeepFirst, KeepLatest, KeepAll, DedupError:
	default:
		return nil, fmt.Errorf("invalid deduplication_rule %q", d.DedupRule)
	}

	switch d.SnapshotStrategy {
	case SnapshotColumn:
	case SnapshotMonthly, SnapshotWeekly, SnapshotDaily:
		if d.StartDate == "" || d.EndDate == "" {
			return nil, fmt.Errorf("start_date and end_date required for snapshot_strategy %q", d.SnapshotStrategy)
		}
	default:
		return nil, fmt.Errorf("invalid snapshot_strategy %q", d.SnapshotStrategy)
	}

	for _, dv := range []struct{ value, name string }{
		{d.StartDate, "start_date"},
		{d.EndDate, "end_date"},
		{d.TrainEndDate, "train_end_date"},
		{d.ValidEndDate, "valid_end_date"},
	} {
		if dv.value == "" {
			continue
		}
		if err := validateDate(dv.value, dv.name); err != nil {
			return nil, err
		}
	}

	if d.TrainEndDate != "" && d.ValidEndDate != "" && d.TrainEndDate >= d.ValidEndDate {
		return nil, fmt.Errorf("train_end_date (%s) must be before valid_end_date (%s)", d.TrainEndDate, d.ValidEndDate)
	}

	if d.MinHistoryDays < 0 {
		return nil, fmt.Errorf("min_history_days cannot be negative: %d", d.MinHistoryDays)
	}

	return &d, nil
}

// IsFixedObservation reports whether the grain uses a fixed literal
// observation date.
func (d *Definition) IsFixedObservation() bool {
	return d.ObservationDateType == SourceFixed
}

// IsSnapshot reports whether observation dates are generated as a periodic
// series rather than read from a column.
func (d *Definition) IsSnapshot() bool {
	return d.SnapshotStrategy != SnapshotColumn
}

func validateDate(value, name string) error {
	if !datePattern.MatchString(value) {
		return fmt.Errorf("invalid %s format %q: expected YYYY-MM-DD", name, value)
	}
	if _, err := time.Parse("2006-01-02", value); err != nil {
		return fmt.Errorf("invalid %s %q: not a calendar date", name, value)
	}
	return nil
}

// ValidateTemporalSplit checks train/valid/test boundary configuration and
// returns advisory warnings. Ordering problems are prefixed INVALID.
func ValidateTemporalSplit(trainEnd, validEnd, startDate, endDate string) []string {
	var warnings []string

	if trainEnd == "" && validEnd == "" {
		return []string{"No temporal split defined. All data will be in one set."}
	}

	if trainEnd != "" && validEnd == "" {
		warnings = append(warnings, "Only train_end_date set. Consider adding valid_end_date for proper train/valid/test split.")
	}

	if validEnd != "" && trainEnd == "" {
		return append(warnings, "valid_end_date set without train_end_date. Train set will be empty.")
	}

	if trainEnd != "" && validEnd != "" && trainEnd >= validEnd {
		warnings = append(warnings, fmt.Sprintf("INVALID: train_end_date (%s) must be before valid_end_date (%s)", trainEnd, validEnd))
	}

	if startDate != "" && trainEnd != "" && trainEnd <= startDate {
		warnings = append(warnings, fmt.Sprintf("INVALID: train_end_date (%s) must be after start_date (%s)", trainEnd, startDate))
	}

	if endDate != "" && validEnd != "" && validEnd >= endDate {
		warnings = append(warnings, fmt.Sprintf("WARNING: valid_end_date (%s) is at or after end_date (%s). Test set may be empty.", validEnd, endDate))
	}

	return warnings
}
