// Package validate is the final gate before a dataset SQL is executed or
// exported: forbidden keyword scan, EXPLAIN syntax probe, output contract,
// declared feature columns, and mean-imputation type compatibility.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/millstone-labs/grainsql/pkg/adapter"
	"github.com/millstone-labs/grainsql/pkg/core"
	"github.com/millstone-labs/grainsql/pkg/ident"
)

// Issue codes raised by this package.
const (
	CodeMultiStatement         = "MULTI_STATEMENT"
	CodeForbiddenKeyword       = "FORBIDDEN_KEYWORD"
	CodeSyntaxError            = "SYNTAX_ERROR"
	CodeSQLError               = "SQL_ERROR"
	CodeMissingColumns         = "MISSING_COLUMNS"
	CodeDuplicateColumns       = "DUPLICATE_COLUMNS"
	CodeContractCheckFailed    = "CONTRACT_CHECK_FAILED"
	CodeDeclaredColumnsMissing = "DECLARED_COLUMNS_MISSING"
	CodeActualColumns          = "ACTUAL_COLUMNS"
	CodeColumnCheckFailed      = "COLUMN_CHECK_FAILED"
	CodeInvalidMeanColumn      = "INVALID_MEAN_COLUMN"
	CodeMeanNonNumeric         = "MEAN_NON_NUMERIC"
	CodeTypeCheckFailed        = "TYPE_CHECK_FAILED"
)

// Generated SQL is read-only. Any statement that could modify state is
// rejected outright, before the database ever sees it.
var forbiddenPattern = regexp.MustCompile(
	`(?i)\b(DROP|DELETE|INSERT|UPDATE|ALTER|TRUNCATE|CREATE|GRANT|REVOKE|EXEC|EXECUTE)\b`)

var numericTypes = map[string]struct{}{
	"integer": {}, "bigint": {}, "smallint": {},
	"numeric": {}, "decimal": {}, "real": {}, "double precision": {},
	"float": {}, "int4": {}, "int8": {}, "float4": {}, "float8": {},
}

// Validator runs SQL validation passes through a database adapter. The
// keyword scan is pure; everything else round-trips to the database.
type Validator struct {
	db     adapter.Adapter
	logger *slog.Logger
}

// NewValidator creates a validator. A nil logger discards output.
func NewValidator(db adapter.Adapter, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Validator{db: db, logger: logger}
}

// CheckForbiddenKeywords scans a SQL string for statement-splitting
// semicolons and data-modifying keywords. A trailing semicolon is tolerated.
func CheckForbiddenKeywords(sqlStr, location string) []core.Issue {
	var issues []core.Issue

	stripped := strings.TrimSuffix(strings.TrimSpace(sqlStr), ";")
	if strings.Contains(stripped, ";") {
		issues = append(issues, core.Issue{
			Severity:   core.SeverityError,
			Code:       CodeMultiStatement,
			Message:    "SQL contains multiple statements (embedded semicolons)",
			Location:   location,
			Suggestion: "Remove embedded semicolons; only trailing semicolon allowed",
		})
	}

	matches := forbiddenPattern.FindAllString(sqlStr, -1)
	if len(matches) > 0 {
		seen := map[string]struct{}{}
		var unique []string
		for _, m := range matches {
			upper := strings.ToUpper(m)
			if _, dup := seen[upper]; !dup {
				seen[upper] = struct{}{}
				unique = append(unique, upper)
			}
		}
		issues = append(issues, core.Issue{
			Severity:   core.SeverityError,
			Code:       CodeForbiddenKeyword,
			Message:    fmt.Sprintf("SQL contains forbidden keywords: %s", strings.Join(unique, ", ")),
			Location:   location,
			Suggestion: "Remove data modification statements; only SELECT is allowed",
		})
	}

	return issues
}

// Syntax checks a statement with EXPLAIN. Keyword errors short-circuit the
// probe; there is no point handing known-bad SQL to the planner.
func (v *Validator) Syntax(ctx context.Context, sqlStr, location string) *core.Result {
	result := core.NewResult()

	for _, issue := range CheckForbiddenKeywords(sqlStr, location) {
		result.Issues = append(result.Issues, issue)
		if issue.Severity == core.SeverityError {
			result.Valid = false
		}
	}
	if !result.Valid {
		return result
	}

	cleanSQL := strings.TrimSuffix(strings.TrimSpace(sqlStr), ";")
	if err := v.db.Exec(ctx, "EXPLAIN "+cleanSQL); err != nil {
		msg := err.Error()
		if strings.Contains(strings.ToLower(msg), "syntax error") {
			result.AddError(CodeSyntaxError,
				fmt.Sprintf("SQL syntax error: %s", truncate(msg, 200)),
				location, "Check SQL syntax and column/table names")
		} else {
			result.AddError(CodeSQLError,
				fmt.Sprintf("SQL validation failed: %s", truncate(msg, 200)),
				location, "Verify table/column names exist and are accessible")
		}
	}
	return result
}

// OutputContract verifies that a statement emits the required columns, via a
// LIMIT 0 probe. Missing columns are errors; duplicates only a warning since
// most consumers take the first occurrence.
func (v *Validator) OutputContract(ctx context.Context, sqlStr string, required []string, location string) *core.Result {
	result := core.NewResult()

	actual, err := v.probeColumns(ctx, sqlStr, "_contract_check")
	if err != nil {
		result.AddError(CodeContractCheckFailed,
			fmt.Sprintf("Could not verify output contract: %s", truncate(err.Error(), 200)),
			location, "Ensure SQL is valid and can be executed")
		return result
	}

	have := map[string]struct{}{}
	for _, c := range actual {
		have[c] = struct{}{}
	}
	var missing []string
	for _, c := range required {
		if _, ok := have[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		result.AddError(CodeMissingColumns,
			fmt.Sprintf("Required columns missing from output: %s", strings.Join(missing, ", ")),
			location,
			fmt.Sprintf("Add missing columns to SELECT: %s", strings.Join(missing, ", ")))
	}

	seen := map[string]struct{}{}
	var duplicates []string
	for _, c := range actual {
		if _, dup := seen[c]; dup {
			duplicates = append(duplicates, c)
		}
		seen[c] = struct{}{}
	}
	if len(duplicates) > 0 {
		result.AddWarning(CodeDuplicateColumns,
			fmt.Sprintf("Output contains duplicate columns: %s", strings.Join(duplicates, ", ")),
			location, "Use aliases to make column names unique")
	}

	return result
}

// FeatureColumns verifies that a feature's declared columns actually appear
// in its SQL output, and records the full output list as an info issue.
func (v *Validator) FeatureColumns(ctx context.Context, sqlStr string, declared []string, location string) *core.Result {
	result := core.NewResult()

	actual, err := v.probeColumns(ctx, sqlStr, "_feature_check")
	if err != nil {
		result.AddError(CodeColumnCheckFailed,
			fmt.Sprintf("Could not verify feature columns: %s", truncate(err.Error(), 200)),
			location, "")
		return result
	}

	have := map[string]struct{}{}
	for _, c := range actual {
		have[c] = struct{}{}
	}
	var missing []string
	for _, c := range declared {
		if _, ok := have[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		result.AddError(CodeDeclaredColumnsMissing,
			fmt.Sprintf("Declared feature columns not in SQL output: %s", strings.Join(missing, ", ")),
			location, "Ensure declared columns match SELECT clause")
	}

	result.AddInfo(CodeActualColumns,
		fmt.Sprintf("SQL outputs: %s", strings.Join(actual, ", ")), location)
	return result
}

// MeanImputationTypes warns when a column marked for mean imputation is not
// numeric. Type problems never block the dataset; they only flag that the
// imputation step will misbehave.
func (v *Validator) MeanImputationTypes(ctx context.Context, sqlStr string, meanColumns []string, location string) *core.Result {
	result := core.NewResult()
	if len(meanColumns) == 0 {
		return result
	}

	for _, col := range meanColumns {
		if err := ident.Validate(col, "mean_column"); err != nil {
			result.AddWarning(CodeInvalidMeanColumn,
				fmt.Sprintf("Invalid column name for mean imputation: %s", col),
				location, "")
			return result
		}
	}

	cleanSQL := strings.TrimSuffix(strings.TrimSpace(sqlStr), ";")
	typeChecks := make([]string, len(meanColumns))
	for i, col := range meanColumns {
		typeChecks[i] = fmt.Sprintf(`pg_typeof("%s")::text AS col%d_type`, col, i)
	}
	query := fmt.Sprintf("SELECT %s FROM (%s) AS _type_check LIMIT 1",
		strings.Join(typeChecks, ", "), cleanSQL)

	colTypes := make([]string, len(meanColumns))
	dests := make([]any, len(meanColumns))
	for i := range colTypes {
		dests[i] = &colTypes[i]
	}
	if err := v.db.QueryRow(ctx, query).Scan(dests...); err != nil {
		result.AddWarning(CodeTypeCheckFailed,
			fmt.Sprintf("Could not verify column types: %s", truncate(err.Error(), 100)),
			location, "")
		return result
	}

	for i, col := range meanColumns {
		if _, ok := numericTypes[strings.ToLower(colTypes[i])]; !ok {
			result.AddWarning(CodeMeanNonNumeric,
				fmt.Sprintf("Column '%s' has type '%s' - mean imputation may not work", col, colTypes[i]),
				location, "Mean imputation is only meaningful for numeric types")
		}
	}
	return result
}

// Dataset runs the full validation suite over an assembled dataset: keyword
// and syntax checks on the main SQL, the join contract, every feature's
// declared columns, and mean-imputation types. Feature checks run even when
// earlier passes failed so one report carries every problem.
func (v *Validator) Dataset(ctx context.Context, datasetSQL string, features []core.FeatureSQL, meanColumns []string) (*core.Result, error) {
	result := core.NewResult()

	mainResult := v.Syntax(ctx, datasetSQL, "dataset_sql")
	result.Merge(mainResult)

	mainKeywordErrors := false
	for _, issue := range mainResult.Issues {
		if issue.Severity == core.SeverityError &&
			(issue.Code == CodeForbiddenKeyword || issue.Code == CodeMultiStatement) {
			mainKeywordErrors = true
		}
	}

	if !mainKeywordErrors {
		result.Merge(v.OutputContract(ctx, datasetSQL,
			[]string{core.EntityIDColumn, core.ObservationDateColumn}, "dataset_sql"))
	}

	for i, f := range features {
		location := fmt.Sprintf("feature_%d", i)

		keywordIssues := CheckForbiddenKeywords(f.SQL, location)
		featureKeywordErrors := false
		for _, issue := range keywordIssues {
			result.Issues = append(result.Issues, issue)
			if issue.Severity == core.SeverityError {
				result.Valid = false
				featureKeywordErrors = true
			}
		}

		if len(f.FeatureColumns) > 0 && !featureKeywordErrors {
			result.Merge(v.FeatureColumns(ctx, f.SQL, f.FeatureColumns, location))
		}
	}

	if len(meanColumns) > 0 && !mainKeywordErrors {
		result.Merge(v.MeanImputationTypes(ctx, datasetSQL, meanColumns, "post_sql_impute"))
	}

	v.logger.Debug("dataset validation complete",
		"valid", result.Valid, "issues", len(result.Issues))
	return result, nil
}

func (v *Validator) probeColumns(ctx context.Context, sqlStr, alias string) ([]string, error) {
	cleanSQL := strings.TrimSuffix(strings.TrimSpace(sqlStr), ";")
	probe := fmt.Sprintf("SELECT * FROM (%s) AS %s LIMIT 0", cleanSQL, alias)

	rows, err := v.db.Query(ctx, probe)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return rows.Columns()
}

func truncate(s string, limit int) string {
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
