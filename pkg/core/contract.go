package core

import (
	"fmt"
	"strings"

	"github.com/millstone-labs/grainsql/pkg/ident"
)

// Join key columns every fragment must produce. The assembler joins all
// fragments on this pair and the validator re-checks it independently.
const (
	EntityIDColumn        = "entity_id"
	ObservationDateColumn = "observation_date"
)

// Contract declares what a SQL fragment must output to participate in
// dataset assembly. The assembler and the validation layer share this one
// description instead of each inferring required columns ad hoc.
type Contract struct {
	// RequiredColumns must all appear (case-insensitively) in the
	// fragment's output.
	RequiredColumns []string
	// JoinKeys is the subset of RequiredColumns used to join against the
	// grain. Always (entity_id, observation_date) in this system.
	JoinKeys []string
}

// JoinContract returns the base contract every fragment satisfies, extended
// with any fragment-specific columns (the target column, feature columns).
func JoinContract(extra ...string) Contract {
	required := []string{EntityIDColumn, ObservationDateColumn}
	required = append(required, extra...)
	return Contract{
		RequiredColumns: required,
		JoinKeys:        []string{EntityIDColumn, ObservationDateColumn},
	}
}

// Missing returns the required columns absent from actual, compared
// case-insensitively.
func (c Contract) Missing(actual []string) []string {
	have := make(map[string]struct{}, len(actual))
	for _, col := range actual {
		have[strings.ToLower(col)] = struct{}{}
	}
	var missing []string
	for _, req := range c.RequiredColumns {
		if _, ok := have[strings.ToLower(req)]; !ok {
			missing = append(missing, req)
		}
	}
	return missing
}

// FeatureSQL is a materialized feature fragment: generated from a feature
// definition or hand-written. The SQL must output the join keys plus the
// declared feature columns. MaxSourceTimeColumn, when set, names the column
// carrying the maximum source timestamp the fragment consumed; it is the
// only signal the leakage check can verify against.
type FeatureSQL struct {
	Name                string   `json:"name"`
	SQL                 string   `json:"sql"`
	FeatureColumns      []string `json:"feature_columns"`
	SourceTable         string   `json:"source_table"`
	MaxSourceTimeColumn string   `json:"max_source_time_column,omitempty"`
	WindowDescription   string   `json:"window_description,omitempty"`
}

// Validate checks the fragment's own invariants: non-empty SQL, at least one
// feature column, and every declared column a safe identifier. The name is
// metadata and is deliberately not validated as an identifier.
func (f FeatureSQL) Validate() error {
	if strings.TrimSpace(f.SQL) == "" {
		return fmt.Errorf("feature %q: SQL cannot be empty", f.Name)
	}
	if len(f.FeatureColumns) == 0 {
		return fmt.Errorf("feature %q: must produce at least one column", f.Name)
	}
	for _, col := range f.FeatureColumns {
		if err := ident.Validate(col, fmt.Sprintf("feature_column in %q", f.Name)); err != nil {
			return err
		}
	}
	return nil
}

// Contract returns the join contract this fragment must satisfy.
func (f FeatureSQL) Contract() Contract {
	return JoinContract(f.FeatureColumns...)
}
