package validate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/millstone-labs/grainsql/pkg/adapter"
	"github.com/millstone-labs/grainsql/pkg/core"
	"github.com/millstone-labs/grainsql/pkg/dialect"
)

func newMockValidator(t *testing.T) (*Validator, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	pg, _ := dialect.Get("postgres")
	v := NewValidator(adapter.NewFromDB(db, pg, nil), nil)
	return v, mock, func() { _ = db.Close() }
}

func issueCodes(issues []core.Issue) []string {
	codes := make([]string, len(issues))
	for i, issue := range issues {
		codes[i] = issue.Code
	}
	return codes
}

func TestCheckForbiddenKeywords_Clean(t *testing.T) {
	issues := CheckForbiddenKeywords("SELECT id, created_at FROM updates_log;", "f0")
	assert.Empty(t, issues)
}

func TestCheckForbiddenKeywords_Keywords(t *testing.T) {
	issues := CheckForbiddenKeywords("SELECT 1; drop TABLE users; DELETE FROM x", "f0")

	require.Len(t, issues, 2)
	assert.Equal(t, CodeMultiStatement, issues[0].Code)
	assert.Equal(t, CodeForbiddenKeyword, issues[1].Code)
	assert.Contains(t, issues[1].Message, "DROP")
	assert.Contains(t, issues[1].Message, "DELETE")
	assert.Equal(t, "f0", issues[1].Location)
}

func TestCheckForbiddenKeywords_TrailingSemicolonAllowed(t *testing.T) {
	issues := CheckForbiddenKeywords("SELECT 1;", "")
	assert.Empty(t, issues)
}

func TestSyntax_KeywordErrorsSkipExplain(t *testing.T) {
	v, mock, done := newMockValidator(t)
	defer done()

	// No EXPLAIN expectation: known-bad SQL never reaches the database.
	result := v.Syntax(context.Background(), "TRUNCATE customers", "dataset_sql")

	assert.False(t, result.Valid)
	assert.Equal(t, []string{CodeForbiddenKeyword}, issueCodes(result.Issues))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyntax_Valid(t *testing.T) {
	v, mock, done := newMockValidator(t)
	defer done()

	mock.ExpectExec(`EXPLAIN SELECT 1`).WillReturnResult(sqlmock.NewResult(0, 0))

	result := v.Syntax(context.Background(), "SELECT 1;", "dataset_sql")
	assert.True(t, result.Valid)
	assert.Empty(t, result.Issues)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyntax_SyntaxError(t *testing.T) {
	v, mock, done := newMockValidator(t)
	defer done()

	mock.ExpectExec(`EXPLAIN`).
		WillReturnError(errors.New(`pq: syntax error at or near "FORM"`))

	result := v.Syntax(context.Background(), "SELECT 1 FORM t", "dataset_sql")
	assert.False(t, result.Valid)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, CodeSyntaxError, result.Issues[0].Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyntax_OtherSQLError(t *testing.T) {
	v, mock, done := newMockValidator(t)
	defer done()

	mock.ExpectExec(`EXPLAIN`).
		WillReturnError(errors.New(`pq: relation "nope" does not exist`))

	result := v.Syntax(context.Background(), "SELECT * FROM nope", "dataset_sql")
	assert.False(t, result.Valid)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, CodeSQLError, result.Issues[0].Code)
	assert.Contains(t, result.Issues[0].Message, "SQL validation failed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutputContract_MissingAndDuplicates(t *testing.T) {
	v, mock, done := newMockValidator(t)
	defer done()

	mock.ExpectQuery(`SELECT \* FROM \(.+\) AS _contract_check LIMIT 0`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "entity_id"}))

	result := v.OutputContract(context.Background(), "SELECT 1",
		[]string{"entity_id", "observation_date"}, "dataset_sql")

	assert.False(t, result.Valid)
	codes := issueCodes(result.Issues)
	assert.Contains(t, codes, CodeMissingColumns)
	assert.Contains(t, codes, CodeDuplicateColumns)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutputContract_ProbeFailure(t *testing.T) {
	v, mock, done := newMockValidator(t)
	defer done()

	mock.ExpectQuery(`SELECT \* FROM \(`).WillReturnError(assert.AnError)

	result := v.OutputContract(context.Background(), "SELECT bogus", []string{"entity_id"}, "dataset_sql")
	assert.False(t, result.Valid)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, CodeContractCheckFailed, result.Issues[0].Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFeatureColumns_DeclaredMissing(t *testing.T) {
	v, mock, done := newMockValidator(t)
	defer done()

	mock.ExpectQuery(`SELECT \* FROM \(.+\) AS _feature_check LIMIT 0`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "observation_date", "cnt_txn_30d"}))

	result := v.FeatureColumns(context.Background(), "SELECT 1",
		[]string{"cnt_txn_30d", "sum_txn_30d"}, "feature_0")

	assert.False(t, result.Valid)
	require.Len(t, result.Issues, 2)
	assert.Equal(t, CodeDeclaredColumnsMissing, result.Issues[0].Code)
	assert.Contains(t, result.Issues[0].Message, "sum_txn_30d")
	assert.Equal(t, CodeActualColumns, result.Issues[1].Code)
	assert.Equal(t, core.SeverityInfo, result.Issues[1].Severity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMeanImputationTypes(t *testing.T) {
	t.Run("non-numeric warns", func(t *testing.T) {
		v, mock, done := newMockValidator(t)
		defer done()

		mock.ExpectQuery(`SELECT pg_typeof\("avg_amount_30d"\)::text AS col0_type`).
			WillReturnRows(sqlmock.NewRows([]string{"col0_type"}).AddRow("text"))

		result := v.MeanImputationTypes(context.Background(), "SELECT 1",
			[]string{"avg_amount_30d"}, "post_sql_impute")

		assert.True(t, result.Valid)
		require.Len(t, result.Issues, 1)
		assert.Equal(t, CodeMeanNonNumeric, result.Issues[0].Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("numeric passes", func(t *testing.T) {
		v, mock, done := newMockValidator(t)
		defer done()

		mock.ExpectQuery(`pg_typeof`).
			WillReturnRows(sqlmock.NewRows([]string{"col0_type"}).AddRow("double precision"))

		result := v.MeanImputationTypes(context.Background(), "SELECT 1",
			[]string{"avg_amount_30d"}, "post_sql_impute")
		assert.Empty(t, result.Issues)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unsafe identifier is rejected without a query", func(t *testing.T) {
		v, mock, done := newMockValidator(t)
		defer done()

		result := v.MeanImputationTypes(context.Background(), "SELECT 1",
			[]string{`x"; DROP TABLE y`}, "post_sql_impute")
		require.Len(t, result.Issues, 1)
		assert.Equal(t, CodeInvalidMeanColumn, result.Issues[0].Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("type probe failure warns", func(t *testing.T) {
		v, mock, done := newMockValidator(t)
		defer done()

		mock.ExpectQuery(`pg_typeof`).WillReturnError(assert.AnError)

		result := v.MeanImputationTypes(context.Background(), "SELECT 1",
			[]string{"avg_amount_30d"}, "post_sql_impute")
		require.Len(t, result.Issues, 1)
		assert.Equal(t, CodeTypeCheckFailed, result.Issues[0].Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no columns is a no-op", func(t *testing.T) {
		v, _, done := newMockValidator(t)
		defer done()

		result := v.MeanImputationTypes(context.Background(), "SELECT 1", nil, "post_sql_impute")
		assert.True(t, result.Valid)
		assert.Empty(t, result.Issues)
	})
}

func TestDataset_CleanRun(t *testing.T) {
	v, mock, done := newMockValidator(t)
	defer done()

	mock.ExpectExec(`EXPLAIN`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`AS _contract_check LIMIT 0`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "observation_date", "target", "cnt_txn_30d"}))
	mock.ExpectQuery(`AS _feature_check LIMIT 0`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "observation_date", "cnt_txn_30d"}))
	mock.ExpectQuery(`pg_typeof`).
		WillReturnRows(sqlmock.NewRows([]string{"col0_type"}).AddRow("bigint"))

	features := []core.FeatureSQL{{
		Name:           "txn_count_30d",
		SQL:            "SELECT 1",
		FeatureColumns: []string{"cnt_txn_30d"},
	}}

	result, err := v.Dataset(context.Background(), "WITH grain AS (SELECT 1) SELECT * FROM grain",
		features, []string{"cnt_txn_30d"})
	require.NoError(t, err)

	assert.True(t, result.Valid)
	assert.Equal(t, []string{CodeActualColumns}, issueCodes(result.Issues))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDataset_KeywordErrorSkipsProbesButChecksFeatures(t *testing.T) {
	v, mock, done := newMockValidator(t)
	defer done()

	// The main SQL is rejected statically, so no EXPLAIN and no contract
	// probe run. The feature column check still executes.
	mock.ExpectQuery(`AS _feature_check LIMIT 0`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "observation_date", "cnt_txn_30d"}))

	features := []core.FeatureSQL{{
		Name:           "txn_count_30d",
		SQL:            "SELECT 1",
		FeatureColumns: []string{"cnt_txn_30d"},
	}}

	result, err := v.Dataset(context.Background(), "DROP TABLE customers", features, nil)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	codes := issueCodes(result.Issues)
	assert.Contains(t, codes, CodeForbiddenKeyword)
	assert.NotContains(t, codes, CodeContractCheckFailed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDataset_FeatureKeywordErrorSkipsItsColumnCheck(t *testing.T) {
	v, mock, done := newMockValidator(t)
	defer done()

	mock.ExpectExec(`EXPLAIN`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`AS _contract_check LIMIT 0`).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "observation_date"}))

	features := []core.FeatureSQL{{
		Name:           "bad",
		SQL:            "INSERT INTO x VALUES (1)",
		FeatureColumns: []string{"c"},
	}}

	result, err := v.Dataset(context.Background(), "SELECT 1", features, nil)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	codes := issueCodes(result.Issues)
	assert.Contains(t, codes, CodeForbiddenKeyword)
	assert.NotContains(t, codes, CodeDeclaredColumnsMissing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSampleRun_SimpleQuery(t *testing.T) {
	v, mock, done := newMockValidator(t)
	defer done()

	mock.ExpectExec(`SET statement_timeout = 30000`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT \* FROM customers\nLIMIT 1000`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, []byte("alice")).
			AddRow(2, "bob"))
	mock.ExpectExec(`SET statement_timeout = 0`).WillReturnResult(sqlmock.NewResult(0, 0))

	res := v.SampleRun(context.Background(), "SELECT * FROM customers;", 0, 0)

	assert.True(t, res.Valid)
	assert.Equal(t, 2, res.RowCount)
	assert.Equal(t, []string{"id", "name"}, res.ColumnNames)
	require.Len(t, res.SampleRows, 2)
	assert.Equal(t, "alice", res.SampleRows[0]["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSampleRun_CTEIsWrapped(t *testing.T) {
	v, mock, done := newMockValidator(t)
	defer done()

	mock.ExpectExec(`SET statement_timeout = 30000`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT \* FROM \(\nWITH g AS \(SELECT 1 AS x\) SELECT \* FROM g\n\) AS sample_query\nLIMIT 50`).
		WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(1))
	mock.ExpectExec(`SET statement_timeout = 0`).WillReturnResult(sqlmock.NewResult(0, 0))

	res := v.SampleRun(context.Background(), "WITH g AS (SELECT 1 AS x) SELECT * FROM g", 50, time.Minute)

	assert.True(t, res.Valid)
	assert.Equal(t, 1, res.RowCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSampleRun_ErrorCategorization(t *testing.T) {
	tests := []struct {
		name     string
		err      string
		wantType string
	}{
		{"syntax", `syntax error at or near "FORM"`, SampleErrSyntax},
		{"column", `column "nope" does not exist`, SampleErrColumnNotFound},
		{"table", `relation "ghosts" does not exist`, SampleErrTableNotFound},
		{"timeout", "canceling statement due to statement timeout", SampleErrTimeout},
		{"unknown", "something odd happened", SampleErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, mock, done := newMockValidator(t)
			defer done()

			mock.ExpectExec(`SET statement_timeout = 30000`).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery(`SELECT`).WillReturnError(errors.New(tt.err))
			mock.ExpectExec(`SET statement_timeout = 0`).WillReturnResult(sqlmock.NewResult(0, 0))

			res := v.SampleRun(context.Background(), "SELECT 1", 10, 0)
			assert.False(t, res.Valid)
			assert.Equal(t, tt.wantType, res.ErrorType)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCheckLeakagePatterns(t *testing.T) {
	t.Run("no observation date reference", func(t *testing.T) {
		warnings := CheckLeakagePatterns("SELECT COUNT(*) FROM events")
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "No observation_date reference")
	})

	t.Run("future data comparison", func(t *testing.T) {
		warnings := CheckLeakagePatterns(`SELECT 1 FROM e WHERE e.date > g.observation_date`)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "causes leakage")
	})

	t.Run("clean windowed feature", func(t *testing.T) {
		warnings := CheckLeakagePatterns(`SELECT 1 FROM e WHERE e.date <= g.observation_date`)
		assert.Empty(t, warnings)
	})
}
