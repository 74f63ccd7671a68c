package assemble

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/millstone-labs/grainsql/internal/grain"
	"github.com/millstone-labs/grainsql/internal/target"
	"github.com/millstone-labs/grainsql/pkg/core"
	"github.com/millstone-labs/grainsql/pkg/ident"
)

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func truncateErr(err error, limit int) string {
	msg := err.Error()
	if len(msg) > limit {
		return msg[:limit]
	}
	return msg
}

// Check statuses shared by the joinability and leakage passes.
const (
	CheckOK           = "ok"
	CheckWarning      = "warning"
	CheckError        = "error"
	CheckLeakage      = "leakage"
	CheckUnverifiable = "unverifiable"
)

// ContractCheck reports whether a SQL fragment outputs the columns the join
// contract requires.
type ContractCheck struct {
	SQLName       string   `json:"sql_name"`
	Valid         bool     `json:"valid"`
	Errors        []string `json:"errors"`
	ActualColumns []string `json:"actual_columns"`
}

// JoinabilityCheck reports how well a fragment joins against the grain on
// (entity_id, observation_date).
type JoinabilityCheck struct {
	Name            string  `json:"name"`
	GrainSampleSize int64   `json:"grain_sample_size"`
	MatchedRows     int64   `json:"matched_rows"`
	UnmatchedRows   int64   `json:"unmatched_rows"`
	MatchRate       float64 `json:"match_rate"`
	Status          string  `json:"status"`
	Warning         string  `json:"warning,omitempty"`
}

// LeakageCheck reports whether a feature's max_source_time column ever
// exceeds the observation date. Features are forbidden from reading data
// after the observation date; that is the point-in-time guarantee.
type LeakageCheck struct {
	FeatureName     string `json:"feature_name"`
	HasTimeColumn   bool   `json:"has_time_column"`
	LeakageDetected bool   `json:"leakage_detected"`
	LeakageCount    int64  `json:"leakage_count"`
	SampleSize      int64  `json:"sample_size"`
	Status          string `json:"status"`
	Message         string `json:"message,omitempty"`
}

// QualityChecks groups the three check families.
type QualityChecks struct {
	Contract    []ContractCheck    `json:"contract"`
	Joinability []JoinabilityCheck `json:"joinability"`
	Leakage     []LeakageCheck     `json:"leakage"`
}

// GrainSummary, TargetSummary, and FeatureSummary echo the inputs a report
// was generated from, so the report stands alone.
type GrainSummary struct {
	EntityType  string `json:"entity_type"`
	EntityTable string `json:"entity_table"`
	DedupRule   string `json:"dedup_rule"`
}

type TargetSummary struct {
	Name           string `json:"name"`
	WindowMonths   int    `json:"window_months"`
	MaturityMonths int    `json:"maturity_months"`
}

type FeatureSummary struct {
	Count        int      `json:"count"`
	Names        []string `json:"names"`
	TotalColumns int      `json:"total_columns"`
}

// QualityReport is the full pre-flight assessment of an assembly.
type QualityReport struct {
	Grain           GrainSummary     `json:"grain"`
	Target          TargetSummary    `json:"target"`
	Features        FeatureSummary   `json:"features"`
	Checks          QualityChecks    `json:"checks"`
	OverallStatus   string           `json:"overall_status"`
	Errors          []string         `json:"errors"`
	Warnings        []SourcedWarning `json:"warnings"`
	Recommendations []string         `json:"recommendations"`
}

// EnforceJoinContract runs a fragment with LIMIT 0 and compares its output
// columns against the contract. Execution errors invalidate the check rather
// than aborting the report.
func (a *Assembler) EnforceJoinContract(ctx context.Context, sqlStr string, expected []string, sqlName string) ContractCheck {
	check := ContractCheck{SQLName: sqlName, Valid: true}

	cleanSQL := strings.TrimSuffix(strings.TrimSpace(sqlStr), ";")
	probe := fmt.Sprintf("SELECT * FROM (\n%s\n) _contract_check\nLIMIT 0", cleanSQL)

	rows, err := a.db.Query(ctx, probe)
	if err != nil {
		check.Valid = false
		check.Errors = append(check.Errors, fmt.Sprintf("SQL execution error in %s: %s", sqlName, truncateErr(err, 200)))
		return check
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		check.Valid = false
		check.Errors = append(check.Errors, fmt.Sprintf("SQL execution error in %s: %s", sqlName, truncateErr(err, 200)))
		return check
	}
	check.ActualColumns = cols

	actual := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		actual[strings.ToLower(c)] = struct{}{}
	}
	for _, want := range expected {
		if _, ok := actual[strings.ToLower(want)]; !ok {
			check.Valid = false
			check.Errors = append(check.Errors, fmt.Sprintf("Missing required column '%s' in %s", want, sqlName))
		}
	}
	return check
}

// CheckJoinability samples distinct grain rows and measures the share that
// find a partner in the other fragment. DISTINCT on both sides keeps
// duplicate keys from inflating the rate.
func (a *Assembler) CheckJoinability(ctx context.Context, grainSQL, otherSQL, otherName string) JoinabilityCheck {
	check := JoinabilityCheck{Name: otherName}

	cleanGrain := strings.TrimSuffix(strings.TrimSpace(grainSQL), ";")
	cleanOther := strings.TrimSuffix(strings.TrimSpace(otherSQL), ";")

	query := fmt.Sprintf(`WITH grain_sample AS (
	SELECT DISTINCT entity_id, observation_date
	FROM (%s) g
	LIMIT %d
),
other AS (
	SELECT DISTINCT entity_id, observation_date
	FROM (%s) o
),
join_check AS (
	SELECT
		g.entity_id,
		g.observation_date,
		CASE WHEN o.entity_id IS NOT NULL THEN 1 ELSE 0 END AS matched
	FROM grain_sample g
	LEFT JOIN other o
		ON g.entity_id = o.entity_id
		AND g.observation_date = o.observation_date
)
SELECT
	COUNT(*) AS total,
	COALESCE(SUM(matched), 0) AS matched,
	COUNT(*) - COALESCE(SUM(matched), 0) AS unmatched
FROM join_check`, cleanGrain, a.joinSampleLimit, cleanOther)

	var total, matched, unmatched int64
	if err := a.db.QueryRow(ctx, query).Scan(&total, &matched, &unmatched); err != nil {
		check.Status = CheckError
		check.Warning = fmt.Sprintf("Join check failed: %s", truncateErr(err, 100))
		return check
	}

	check.GrainSampleSize = total
	check.MatchedRows = matched
	check.UnmatchedRows = unmatched
	if total > 0 {
		check.MatchRate = round2(float64(matched) / float64(total) * 100)
	}

	switch {
	case check.MatchRate == 0:
		check.Status = CheckError
		check.Warning = fmt.Sprintf("%s has 0%% join match - check entity_id/observation_date columns", otherName)
	case check.MatchRate < 50:
		check.Status = CheckWarning
		check.Warning = fmt.Sprintf("%s has low join match (%v%%)", otherName, check.MatchRate)
	default:
		check.Status = CheckOK
	}
	return check
}

// CheckTimeLeakage samples a feature's output and counts rows whose
// max_source_time falls after the observation date. Features without a
// max_source_time column cannot be verified and are flagged, not failed.
func (a *Assembler) CheckTimeLeakage(ctx context.Context, f core.FeatureSQL) LeakageCheck {
	check := LeakageCheck{
		FeatureName:   f.Name,
		HasTimeColumn: f.MaxSourceTimeColumn != "",
	}

	if f.MaxSourceTimeColumn == "" {
		check.Status = CheckUnverifiable
		check.Message = fmt.Sprintf(
			"Feature '%s' has no max_source_time_column. Cannot verify time leakage. "+
				"To enable verification, add a column like MAX(event_time) AS max_source_time to your feature SQL.",
			f.Name)
		return check
	}

	if err := ident.Validate(f.MaxSourceTimeColumn, "max_source_time_column"); err != nil {
		check.Status = CheckError
		check.Message = fmt.Sprintf("Leakage check failed for '%s': %s", f.Name, truncateErr(err, 100))
		return check
	}

	cleanSQL := strings.TrimSuffix(strings.TrimSpace(f.SQL), ";")
	query := fmt.Sprintf(`WITH feature_data AS (
	%s
),
sample AS (
	SELECT * FROM feature_data
	LIMIT %d
)
SELECT
	COUNT(*) AS total,
	COALESCE(SUM(CASE WHEN "%s"::DATE > observation_date THEN 1 ELSE 0 END), 0) AS leakage_count
FROM sample`, cleanSQL, a.leakageSampleLimit, f.MaxSourceTimeColumn)

	var total, leakage int64
	if err := a.db.QueryRow(ctx, query).Scan(&total, &leakage); err != nil {
		check.Status = CheckError
		check.Message = fmt.Sprintf("Leakage check failed for '%s': %s", f.Name, truncateErr(err, 100))
		return check
	}

	check.SampleSize = total
	check.LeakageCount = leakage
	check.LeakageDetected = leakage > 0
	if leakage > 0 {
		check.Status = CheckLeakage
		check.Message = fmt.Sprintf("TIME LEAKAGE DETECTED in '%s': %d/%d rows have %s > observation_date",
			f.Name, leakage, total, f.MaxSourceTimeColumn)
	} else {
		check.Status = CheckOK
		check.Message = fmt.Sprintf("No time leakage detected in '%s'", f.Name)
	}
	return check
}

// QualityReport runs every check family under a statement timeout and rolls
// them up into one report with recommendations.
func (a *Assembler) QualityReport(ctx context.Context, g *grain.Definition, t *target.Definition, features []core.FeatureSQL) (*QualityReport, error) {
	totalCols := 0
	names := make([]string, 0, len(features))
	for _, f := range features {
		names = append(names, f.Name)
		totalCols += len(f.FeatureColumns)
	}
	report := &QualityReport{
		Grain: GrainSummary{
			EntityType:  g.EntityType,
			EntityTable: g.EntityTable,
			DedupRule:   string(g.DedupRule),
		},
		Target: TargetSummary{
			Name:           t.TargetName,
			WindowMonths:   t.WindowMonths,
			MaturityMonths: t.MaturityMonths,
		},
		Features: FeatureSummary{Count: len(features), Names: names, TotalColumns: totalCols},
	}

	if err := a.db.SetStatementTimeout(ctx, a.checkTimeout); err != nil {
		return nil, err
	}
	defer func() {
		if err := a.db.ResetStatementTimeout(ctx); err != nil {
			a.logger.Warn("failed to reset statement timeout", "error", err)
		}
	}()

	grainSQL := strings.TrimSuffix(strings.TrimSpace(grain.SQL(g, false)), ";")
	targetSQL := strings.TrimSuffix(strings.TrimSpace(target.SQL(t, g)), ";")

	contractInputs := []struct {
		sql      string
		name     string
		expected []string
	}{
		{grainSQL, "Grain", []string{core.EntityIDColumn, core.ObservationDateColumn}},
		{targetSQL, "Target", []string{core.EntityIDColumn, core.ObservationDateColumn, t.TargetName}},
	}
	for _, in := range contractInputs {
		check := a.EnforceJoinContract(ctx, in.sql, in.expected, in.name)
		report.Checks.Contract = append(report.Checks.Contract, check)
		if !check.Valid {
			report.Errors = append(report.Errors, check.Errors...)
		}
	}
	for _, f := range features {
		expected := append([]string{core.EntityIDColumn, core.ObservationDateColumn}, f.FeatureColumns...)
		check := a.EnforceJoinContract(ctx, f.SQL, expected, "Feature: "+f.Name)
		report.Checks.Contract = append(report.Checks.Contract, check)
		if !check.Valid {
			report.Errors = append(report.Errors, check.Errors...)
		}
	}

	targetJoin := a.CheckJoinability(ctx, grainSQL, targetSQL, "Target")
	report.Checks.Joinability = append(report.Checks.Joinability, targetJoin)
	if targetJoin.Warning != "" {
		report.Warnings = append(report.Warnings, SourcedWarning{Source: "Target", Message: targetJoin.Warning})
	}
	for _, f := range features {
		check := a.CheckJoinability(ctx, grainSQL, f.SQL, "Feature: "+f.Name)
		report.Checks.Joinability = append(report.Checks.Joinability, check)
		if check.Warning != "" {
			report.Warnings = append(report.Warnings, SourcedWarning{Source: f.Name, Message: check.Warning})
		}
	}

	for _, f := range features {
		check := a.CheckTimeLeakage(ctx, f)
		report.Checks.Leakage = append(report.Checks.Leakage, check)
		if check.LeakageDetected {
			report.Errors = append(report.Errors, check.Message)
		} else if check.Status == CheckUnverifiable {
			report.Warnings = append(report.Warnings, SourcedWarning{Source: f.Name, Message: check.Message})
		}
	}

	switch {
	case len(report.Errors) > 0:
		report.OverallStatus = CheckError
		report.Recommendations = append(report.Recommendations, "Fix all errors before using this dataset for ML.")
	case len(report.Warnings) > 0:
		report.OverallStatus = CheckWarning
		report.Recommendations = append(report.Recommendations, "Review warnings. Low join rates may indicate data issues.")
	default:
		report.OverallStatus = CheckOK
		report.Recommendations = append(report.Recommendations, "Dataset assembly looks good! Proceed to model training.")
	}
	return report, nil
}
