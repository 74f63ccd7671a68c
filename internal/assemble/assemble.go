// Package assemble joins grain, target, and feature SQL into the final
// dataset query and verifies the result: output contracts, joinability
// against the grain, and time leakage via each feature's max_source_time
// column.
package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/millstone-labs/grainsql/internal/grain"
	"github.com/millstone-labs/grainsql/internal/target"
	"github.com/millstone-labs/grainsql/pkg/adapter"
	"github.com/millstone-labs/grainsql/pkg/core"
)

// Validation issue codes raised by input validation.
const (
	CodeMissingGrain         = "MISSING_GRAIN"
	CodeMissingTarget        = "MISSING_TARGET"
	CodeNoFeatures           = "NO_FEATURES"
	CodeDuplicateFeatureName = "DUPLICATE_FEATURE_NAME"
	CodeReservedColumn       = "RESERVED_COLUMN"
)

// Assembler builds and checks dataset SQL through a database adapter.
type Assembler struct {
	db           adapter.Adapter
	logger       *slog.Logger
	checkTimeout time.Duration

	// Sample sizes for the joinability and leakage passes. Full scans
	// would defeat the point of a pre-flight check.
	joinSampleLimit    int
	leakageSampleLimit int
}

// NewAssembler creates an assembler. A nil logger discards output.
func NewAssembler(db adapter.Adapter, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Assembler{
		db:                 db,
		logger:             logger,
		checkTimeout:       60 * time.Second,
		joinSampleLimit:    10000,
		leakageSampleLimit: 1000,
	}
}

// ValidateInputs checks that assembly is possible before any SQL is built:
// grain and target must exist, feature names must be unique, and no feature
// column may shadow the reserved join keys or the target's own name.
func ValidateInputs(g *grain.Definition, t *target.Definition, features []core.FeatureSQL) *core.Result {
	result := core.NewResult()

	if g == nil {
		result.AddError(CodeMissingGrain, "Grain definition is required", "assembly", "Define a grain first")
	}
	if t == nil {
		result.AddError(CodeMissingTarget, "Target definition is required", "assembly", "Define a target first")
	}

	if len(features) == 0 {
		result.AddWarning(CodeNoFeatures,
			"No features provided. Dataset will only have entity_id, observation_date, and target.",
			"assembly", "")
	}

	seen := map[string]struct{}{}
	for _, f := range features {
		if _, dup := seen[f.Name]; dup {
			result.AddError(CodeDuplicateFeatureName, "Feature names must be unique", f.Name, "Rename the duplicate feature")
		}
		seen[f.Name] = struct{}{}
	}

	reserved := map[string]struct{}{
		core.EntityIDColumn:        {},
		core.ObservationDateColumn: {},
	}
	if t != nil {
		reserved[strings.ToLower(t.TargetName)] = struct{}{}
	}
	for _, f := range features {
		for _, col := range f.FeatureColumns {
			if _, clash := reserved[strings.ToLower(col)]; clash {
				result.AddError(CodeReservedColumn,
					fmt.Sprintf("Feature column '%s' conflicts with reserved column names", col),
					f.Name, "Rename the feature column")
			}
		}
	}

	return result
}

// DatasetSQL builds the final dataset query. The grain CTE is declared once
// and owned by the assembler; the target's CTEs are embedded after it, then
// one CTE per feature. The final SELECT inner-joins the target (rows without
// a label are useless) and left-joins every feature (absent feature rows
// become NULLs for the missing value layer to handle).
func DatasetSQL(g *grain.Definition, t *target.Definition, features []core.FeatureSQL) string {
	grainSQL := strings.TrimSuffix(strings.TrimSpace(grain.SQL(g, false)), ";")

	ctes := []string{
		fmt.Sprintf("grain AS (\n    %s\n)", grainSQL),
		target.CTEs(t),
		fmt.Sprintf("target_data AS (\n    SELECT entity_id, observation_date, %s\n    FROM target_calc\n)", t.TargetName),
	}

	selectCols := []string{"g.entity_id", "g.observation_date", "t." + t.TargetName}
	joins := []string{
		"FROM grain g",
		"INNER JOIN target_data t ON g.entity_id = t.entity_id AND g.observation_date = t.observation_date",
	}

	for i, f := range features {
		alias := fmt.Sprintf("feature_%d", i)
		desc := f.WindowDescription
		if desc == "" {
			desc = "no time window specified"
		}
		cleanSQL := strings.TrimSuffix(strings.TrimSpace(f.SQL), ";")
		ctes = append(ctes, fmt.Sprintf("%s AS (\n    -- %s: %s\n    %s\n)", alias, f.Name, desc, cleanSQL))

		for _, col := range f.FeatureColumns {
			selectCols = append(selectCols, alias+"."+col)
		}
		joins = append(joins, fmt.Sprintf(
			"LEFT JOIN %s ON g.entity_id = %s.entity_id AND g.observation_date = %s.observation_date",
			alias, alias, alias))
	}

	header := fmt.Sprintf(`-- Dataset assembly
-- Grain: %s from %s
-- Target: %s (window: %d months)
-- Features: %d feature sets`,
		g.EntityType, g.EntityTable, t.TargetName, t.WindowMonths, len(features))

	return fmt.Sprintf("%s\n\nWITH %s\n\nSELECT\n    %s\n%s",
		header,
		strings.Join(ctes, ",\n"),
		strings.Join(selectCols, ",\n    "),
		strings.Join(joins, "\n"))
}

// SourcedWarning attributes a quality warning to the input that raised it.
type SourcedWarning struct {
	Source  string `json:"source"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Result is the outcome of one assembly call.
type Result struct {
	DatasetSQL        string             `json:"dataset_sql"`
	QualityReport     *QualityReport     `json:"quality_report,omitempty"`
	Warnings          []SourcedWarning   `json:"warnings"`
	Errors            []string           `json:"errors"`
	Status            core.Status        `json:"status"`
	FeatureCount      int                `json:"feature_count"`
	LeakageIssues     []LeakageCheck     `json:"leakage_issues,omitempty"`
	JoinabilityIssues []JoinabilityCheck `json:"joinability_issues,omitempty"`
}

// Assemble validates inputs, builds the dataset SQL, and optionally runs the
// quality passes. Definition problems surface inside the Result; the error
// reports infrastructure failures only.
func (a *Assembler) Assemble(ctx context.Context, g *grain.Definition, t *target.Definition, features []core.FeatureSQL, runChecks bool) (*Result, error) {
	validation := ValidateInputs(g, t, features)
	res := &Result{FeatureCount: len(features)}
	for _, w := range validation.Warnings() {
		res.Warnings = append(res.Warnings, SourcedWarning{Source: w.Location, Code: w.Code, Message: w.Message})
	}
	if !validation.Valid {
		for _, e := range validation.Errors() {
			res.Errors = append(res.Errors, e.Message)
		}
		res.Status = core.StatusError
		return res, nil
	}

	res.DatasetSQL = DatasetSQL(g, t, features)

	if runChecks {
		report, err := a.QualityReport(ctx, g, t, features)
		if err != nil {
			return nil, err
		}
		res.QualityReport = report
		res.Errors = append(res.Errors, report.Errors...)
		res.Warnings = append(res.Warnings, report.Warnings...)

		for _, check := range report.Checks.Leakage {
			if check.LeakageDetected {
				res.LeakageIssues = append(res.LeakageIssues, check)
			}
		}
		for _, check := range report.Checks.Joinability {
			if check.Status == CheckWarning || check.Status == CheckError {
				res.JoinabilityIssues = append(res.JoinabilityIssues, check)
			}
		}
	}

	switch {
	case len(res.Errors) > 0:
		res.Status = core.StatusError
	case len(res.Warnings) > 0:
		res.Status = core.StatusWarning
	default:
		res.Status = core.StatusSuccess
	}
	return res, nil
}
