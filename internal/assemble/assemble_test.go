package assemble

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/millstone-labs/grainsql/internal/grain"
	"github.com/millstone-labs/grainsql/internal/target"
	"github.com/millstone-labs/grainsql/internal/testutil"
	"github.com/millstone-labs/grainsql/pkg/adapter"
	"github.com/millstone-labs/grainsql/pkg/core"
	"github.com/millstone-labs/grainsql/pkg/dialect"
)

func baseGrain(t *testing.T) *grain.Definition {
	t.Helper()
	g, err := grain.New(grain.Definition{
		EntityType:            "customer",
		EntityTable:           "customers",
		EntityIDColumn:        "customer_id",
		ObservationDateColumn: "signup_date",
	})
	require.NoError(t, err)
	return g
}

func baseTarget(t *testing.T) *target.Definition {
	t.Helper()
	d, err := target.New(target.Definition{
		LabelTable:           "loans",
		LabelJoinColumn:      "customer_id",
		LabelEventColumn:     "state_name",
		LabelEventTimeColumn: "date_close",
		PositiveValues:       []string{"Defaulted"},
	})
	require.NoError(t, err)
	return d
}

func txnCountFeature() core.FeatureSQL {
	return core.FeatureSQL{
		Name:                "txn_count_30d",
		SQL:                 `SELECT g.entity_id, g.observation_date, COUNT(*) AS cnt_txn_30d, MAX(e."time") AS max_source_time FROM grain g LEFT JOIN transactions e ON e.customer_id = g.entity_id GROUP BY g.entity_id, g.observation_date`,
		FeatureColumns:      []string{"cnt_txn_30d"},
		SourceTable:         "transactions",
		MaxSourceTimeColumn: "max_source_time",
		WindowDescription:   "last 30 days",
	}
}

func newMockAssembler(t *testing.T) (*Assembler, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	pg, _ := dialect.Get("postgres")
	a := NewAssembler(adapter.NewFromDB(db, pg, nil), testutil.NewTestLogger(t))
	return a, mock, func() { _ = db.Close() }
}

func TestValidateInputs_MissingGrainAndTarget(t *testing.T) {
	result := ValidateInputs(nil, nil, nil)

	assert.False(t, result.Valid)
	errs := result.Errors()
	require.Len(t, errs, 2)
	assert.Equal(t, CodeMissingGrain, errs[0].Code)
	assert.Equal(t, CodeMissingTarget, errs[1].Code)
}

func TestValidateInputs_NoFeaturesWarns(t *testing.T) {
	result := ValidateInputs(baseGrain(t), baseTarget(t), nil)

	assert.True(t, result.Valid)
	warns := result.Warnings()
	require.Len(t, warns, 1)
	assert.Equal(t, CodeNoFeatures, warns[0].Code)
	assert.Contains(t, warns[0].Message, "No features provided")
}

func TestValidateInputs_DuplicateFeatureNames(t *testing.T) {
	f := txnCountFeature()
	result := ValidateInputs(baseGrain(t), baseTarget(t), []core.FeatureSQL{f, f})

	assert.False(t, result.Valid)
	errs := result.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, CodeDuplicateFeatureName, errs[0].Code)
	assert.Equal(t, "txn_count_30d", errs[0].Location)
}

func TestValidateInputs_ReservedColumns(t *testing.T) {
	f := txnCountFeature()
	f.FeatureColumns = []string{"entity_id", "Observation_Date", "target", "cnt_txn_30d"}

	result := ValidateInputs(baseGrain(t), baseTarget(t), []core.FeatureSQL{f})

	assert.False(t, result.Valid)
	errs := result.Errors()
	require.Len(t, errs, 3)
	for _, e := range errs {
		assert.Equal(t, CodeReservedColumn, e.Code)
	}
}

func TestDatasetSQL_Structure(t *testing.T) {
	sql := DatasetSQL(baseGrain(t), baseTarget(t), []core.FeatureSQL{txnCountFeature()})

	assert.Contains(t, sql, "-- Grain: customer from customers")
	assert.Contains(t, sql, "-- Target: target (window: 12 months)")
	assert.Contains(t, sql, "-- Features: 1 feature sets")

	assert.Contains(t, sql, "WITH grain AS (")
	assert.Contains(t, sql, "label_events AS (")
	assert.Contains(t, sql, "target_calc AS (")
	assert.Contains(t, sql, "target_data AS (\n    SELECT entity_id, observation_date, target\n    FROM target_calc\n)")
	assert.Contains(t, sql, "feature_0 AS (\n    -- txn_count_30d: last 30 days")

	assert.Contains(t, sql, "g.entity_id,\n    g.observation_date,\n    t.target,\n    feature_0.cnt_txn_30d")
	assert.Contains(t, sql, "INNER JOIN target_data t ON g.entity_id = t.entity_id AND g.observation_date = t.observation_date")
	assert.Contains(t, sql, "LEFT JOIN feature_0 ON g.entity_id = feature_0.entity_id AND g.observation_date = feature_0.observation_date")
}

func TestDatasetSQL_NoFeatures(t *testing.T) {
	sql := DatasetSQL(baseGrain(t), baseTarget(t), nil)

	assert.NotContains(t, sql, "feature_0")
	assert.NotContains(t, sql, "LEFT JOIN")
	assert.Contains(t, sql, "INNER JOIN target_data")
}

func TestDatasetSQL_WindowDescriptionFallback(t *testing.T) {
	f := txnCountFeature()
	f.WindowDescription = ""

	sql := DatasetSQL(baseGrain(t), baseTarget(t), []core.FeatureSQL{f})
	assert.Contains(t, sql, "-- txn_count_30d: no time window specified")
}

func TestEnforceJoinContract_Valid(t *testing.T) {
	a, mock, done := newMockAssembler(t)
	defer done()

	mock.ExpectQuery(`SELECT \* FROM \(`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "observation_date", "cnt_txn_30d"}))

	check := a.EnforceJoinContract(context.Background(), "SELECT 1", []string{"entity_id", "observation_date", "cnt_txn_30d"}, "Feature: txn_count_30d")
	assert.True(t, check.Valid)
	assert.Empty(t, check.Errors)
	assert.Equal(t, []string{"entity_id", "observation_date", "cnt_txn_30d"}, check.ActualColumns)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnforceJoinContract_MissingColumn(t *testing.T) {
	a, mock, done := newMockAssembler(t)
	defer done()

	// Column comparison is case-insensitive, so Entity_ID satisfies entity_id.
	mock.ExpectQuery(`SELECT \* FROM \(`).
		WillReturnRows(sqlmock.NewRows([]string{"Entity_ID", "cnt_txn_30d"}))

	check := a.EnforceJoinContract(context.Background(), "SELECT 1;", []string{"entity_id", "observation_date"}, "Feature: txn_count_30d")
	assert.False(t, check.Valid)
	require.Len(t, check.Errors, 1)
	assert.Equal(t, "Missing required column 'observation_date' in Feature: txn_count_30d", check.Errors[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnforceJoinContract_ExecutionError(t *testing.T) {
	a, mock, done := newMockAssembler(t)
	defer done()

	mock.ExpectQuery(`SELECT \* FROM \(`).
		WillReturnError(assert.AnError)

	check := a.EnforceJoinContract(context.Background(), "SELECT bogus", []string{"entity_id"}, "Grain")
	assert.False(t, check.Valid)
	require.Len(t, check.Errors, 1)
	assert.Contains(t, check.Errors[0], "SQL execution error in Grain")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckJoinability_FullMatch(t *testing.T) {
	a, mock, done := newMockAssembler(t)
	defer done()

	mock.ExpectQuery(`WITH grain_sample AS`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "matched", "unmatched"}).AddRow(100, 100, 0))

	check := a.CheckJoinability(context.Background(), "SELECT 1", "SELECT 2", "Target")
	assert.Equal(t, CheckOK, check.Status)
	assert.Equal(t, float64(100), check.MatchRate)
	assert.Empty(t, check.Warning)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckJoinability_ZeroMatchIsError(t *testing.T) {
	a, mock, done := newMockAssembler(t)
	defer done()

	mock.ExpectQuery(`WITH grain_sample AS`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "matched", "unmatched"}).AddRow(100, 0, 100))

	check := a.CheckJoinability(context.Background(), "SELECT 1", "SELECT 2", "Target")
	assert.Equal(t, CheckError, check.Status)
	assert.Equal(t, "Target has 0% join match - check entity_id/observation_date columns", check.Warning)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckJoinability_LowMatchWarns(t *testing.T) {
	a, mock, done := newMockAssembler(t)
	defer done()

	mock.ExpectQuery(`WITH grain_sample AS`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "matched", "unmatched"}).AddRow(1000, 333, 667))

	check := a.CheckJoinability(context.Background(), "SELECT 1", "SELECT 2", "Feature: txn_count_30d")
	assert.Equal(t, CheckWarning, check.Status)
	assert.InDelta(t, 33.3, check.MatchRate, 0.001)
	assert.Contains(t, check.Warning, "low join match")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckTimeLeakage_Unverifiable(t *testing.T) {
	a, _, done := newMockAssembler(t)
	defer done()

	f := txnCountFeature()
	f.MaxSourceTimeColumn = ""

	check := a.CheckTimeLeakage(context.Background(), f)
	assert.Equal(t, CheckUnverifiable, check.Status)
	assert.False(t, check.HasTimeColumn)
	assert.Contains(t, check.Message, "Cannot verify time leakage")
}

func TestCheckTimeLeakage_Detected(t *testing.T) {
	a, mock, done := newMockAssembler(t)
	defer done()

	mock.ExpectQuery(`WITH feature_data AS`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "leakage_count"}).AddRow(1000, 42))

	check := a.CheckTimeLeakage(context.Background(), txnCountFeature())
	assert.Equal(t, CheckLeakage, check.Status)
	assert.True(t, check.LeakageDetected)
	assert.Equal(t, int64(42), check.LeakageCount)
	assert.Equal(t, "TIME LEAKAGE DETECTED in 'txn_count_30d': 42/1000 rows have max_source_time > observation_date", check.Message)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckTimeLeakage_Clean(t *testing.T) {
	a, mock, done := newMockAssembler(t)
	defer done()

	mock.ExpectQuery(`WITH feature_data AS`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "leakage_count"}).AddRow(1000, 0))

	check := a.CheckTimeLeakage(context.Background(), txnCountFeature())
	assert.Equal(t, CheckOK, check.Status)
	assert.False(t, check.LeakageDetected)
	assert.Equal(t, "No time leakage detected in 'txn_count_30d'", check.Message)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckTimeLeakage_RejectsUnsafeColumn(t *testing.T) {
	a, _, done := newMockAssembler(t)
	defer done()

	f := txnCountFeature()
	f.MaxSourceTimeColumn = `max"; DROP TABLE x`

	check := a.CheckTimeLeakage(context.Background(), f)
	assert.Equal(t, CheckError, check.Status)
	assert.Contains(t, check.Message, "Leakage check failed")
}

func TestAssemble_InvalidInputsShortCircuit(t *testing.T) {
	a, mock, done := newMockAssembler(t)
	defer done()

	res, err := a.Assemble(context.Background(), baseGrain(t), nil, nil, true)
	require.NoError(t, err)

	assert.Equal(t, core.StatusError, res.Status)
	assert.Empty(t, res.DatasetSQL)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Target definition is required")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssemble_NoChecks(t *testing.T) {
	a, mock, done := newMockAssembler(t)
	defer done()

	res, err := a.Assemble(context.Background(), baseGrain(t), baseTarget(t), []core.FeatureSQL{txnCountFeature()}, false)
	require.NoError(t, err)

	assert.Equal(t, core.StatusSuccess, res.Status)
	assert.Equal(t, 1, res.FeatureCount)
	assert.Nil(t, res.QualityReport)
	assert.Contains(t, res.DatasetSQL, "WITH grain AS (")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssemble_CleanQualityReport(t *testing.T) {
	a, mock, done := newMockAssembler(t)
	defer done()

	mock.ExpectExec(`SET statement_timeout = 60000`).WillReturnResult(sqlmock.NewResult(0, 0))

	// Contract probes: grain, target, feature.
	mock.ExpectQuery(`SELECT \* FROM \(`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "observation_date"}))
	mock.ExpectQuery(`SELECT \* FROM \(`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "observation_date", "target"}))
	mock.ExpectQuery(`SELECT \* FROM \(`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "observation_date", "cnt_txn_30d", "max_source_time"}))

	// Joinability: target, then feature.
	mock.ExpectQuery(`WITH grain_sample AS`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "matched", "unmatched"}).AddRow(5000, 4900, 100))
	mock.ExpectQuery(`WITH grain_sample AS`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "matched", "unmatched"}).AddRow(5000, 4500, 500))

	// Leakage: feature.
	mock.ExpectQuery(`WITH feature_data AS`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "leakage_count"}).AddRow(1000, 0))

	mock.ExpectExec(`SET statement_timeout = 0`).WillReturnResult(sqlmock.NewResult(0, 0))

	res, err := a.Assemble(context.Background(), baseGrain(t), baseTarget(t), []core.FeatureSQL{txnCountFeature()}, true)
	require.NoError(t, err)

	assert.Equal(t, core.StatusSuccess, res.Status)
	require.NotNil(t, res.QualityReport)
	assert.Equal(t, CheckOK, res.QualityReport.OverallStatus)
	assert.Len(t, res.QualityReport.Checks.Contract, 3)
	assert.Len(t, res.QualityReport.Checks.Joinability, 2)
	assert.Len(t, res.QualityReport.Checks.Leakage, 1)
	assert.Empty(t, res.QualityReport.Errors)
	assert.Empty(t, res.QualityReport.Warnings)
	require.Len(t, res.QualityReport.Recommendations, 1)
	assert.Contains(t, res.QualityReport.Recommendations[0], "Proceed to model training")
	assert.Empty(t, res.LeakageIssues)
	assert.Empty(t, res.JoinabilityIssues)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssemble_LeakageFailsReport(t *testing.T) {
	a, mock, done := newMockAssembler(t)
	defer done()

	mock.ExpectExec(`SET statement_timeout = 60000`).WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(`SELECT \* FROM \(`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "observation_date"}))
	mock.ExpectQuery(`SELECT \* FROM \(`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "observation_date", "target"}))
	mock.ExpectQuery(`SELECT \* FROM \(`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "observation_date", "cnt_txn_30d", "max_source_time"}))

	mock.ExpectQuery(`WITH grain_sample AS`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "matched", "unmatched"}).AddRow(5000, 4900, 100))
	mock.ExpectQuery(`WITH grain_sample AS`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "matched", "unmatched"}).AddRow(5000, 4500, 500))

	mock.ExpectQuery(`WITH feature_data AS`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "leakage_count"}).AddRow(1000, 7))

	mock.ExpectExec(`SET statement_timeout = 0`).WillReturnResult(sqlmock.NewResult(0, 0))

	res, err := a.Assemble(context.Background(), baseGrain(t), baseTarget(t), []core.FeatureSQL{txnCountFeature()}, true)
	require.NoError(t, err)

	assert.Equal(t, core.StatusError, res.Status)
	assert.Equal(t, CheckError, res.QualityReport.OverallStatus)
	require.Len(t, res.LeakageIssues, 1)
	assert.Equal(t, int64(7), res.LeakageIssues[0].LeakageCount)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "TIME LEAKAGE DETECTED")
	assert.Contains(t, res.QualityReport.Recommendations[0], "Fix all errors")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssemble_LowJoinabilityWarns(t *testing.T) {
	a, mock, done := newMockAssembler(t)
	defer done()

	mock.ExpectExec(`SET statement_timeout = 60000`).WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(`SELECT \* FROM \(`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "observation_date"}))
	mock.ExpectQuery(`SELECT \* FROM \(`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "observation_date", "target"}))
	mock.ExpectQuery(`SELECT \* FROM \(`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "observation_date", "cnt_txn_30d", "max_source_time"}))

	mock.ExpectQuery(`WITH grain_sample AS`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "matched", "unmatched"}).AddRow(5000, 4900, 100))
	mock.ExpectQuery(`WITH grain_sample AS`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "matched", "unmatched"}).AddRow(5000, 1000, 4000))

	mock.ExpectQuery(`WITH feature_data AS`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "leakage_count"}).AddRow(1000, 0))

	mock.ExpectExec(`SET statement_timeout = 0`).WillReturnResult(sqlmock.NewResult(0, 0))

	res, err := a.Assemble(context.Background(), baseGrain(t), baseTarget(t), []core.FeatureSQL{txnCountFeature()}, true)
	require.NoError(t, err)

	assert.Equal(t, core.StatusWarning, res.Status)
	assert.Equal(t, CheckWarning, res.QualityReport.OverallStatus)
	require.Len(t, res.JoinabilityIssues, 1)
	assert.Equal(t, float64(20), res.JoinabilityIssues[0].MatchRate)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "txn_count_30d", res.Warnings[0].Source)
	assert.Contains(t, res.Warnings[0].Message, "low join match")
	require.NoError(t, mock.ExpectationsWereMet())
}
