// Package export writes a validated dataset to CSV with a JSON manifest for
// reproducibility. It never regenerates or modifies SQL; it only runs the
// pre-validated statement from the session, wrapped read-only.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/millstone-labs/grainsql/internal/pipeline"
	"github.com/millstone-labs/grainsql/pkg/adapter"
)

// DefaultDir is the export directory when none is configured.
const DefaultDir = "exports"

// Options control one export run.
type Options struct {
	// Dir is the output directory, created if absent.
	Dir string
	// RowLimit caps exported rows when > 0.
	RowLimit int
	// SkipManifest suppresses the metadata JSON.
	SkipManifest bool
}

// Result reports where the export landed.
type Result struct {
	FilePath     string `json:"file_path"`
	ManifestPath string `json:"manifest_path,omitempty"`
	RowCount     int    `json:"row_count"`
}

// Manifest is the reproducibility record written next to the CSV.
type Manifest struct {
	SessionID         string            `json:"session_id"`
	ExportedAt        string            `json:"exported_at"`
	RowCount          int               `json:"row_count"`
	Columns           []string          `json:"columns"`
	Grain             map[string]any    `json:"grain_definition,omitempty"`
	Target            map[string]any    `json:"target_definition,omitempty"`
	Features          []FeatureRecord   `json:"features"`
	MissingStrategies []MissingStrategy `json:"missing_strategies"`
	ValidationSummary ValidationSummary `json:"validation_summary"`
}

// FeatureRecord is the manifest entry for one feature.
type FeatureRecord struct {
	Name                string   `json:"name"`
	FeatureColumns      []string `json:"feature_columns"`
	WindowDescription   string   `json:"window_description"`
	MaxSourceTimeColumn string   `json:"max_source_time_column"`
}

// MissingStrategy is the manifest entry for one imputed column.
type MissingStrategy struct {
	Column   string `json:"column"`
	Strategy string `json:"strategy"`
}

// ValidationSummary counts the issues found by the validation stage.
type ValidationSummary struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

// Exporter streams validated dataset SQL to files.
type Exporter struct {
	db     adapter.Adapter
	logger *slog.Logger
	now    func() time.Time
}

// NewExporter creates an exporter. A nil logger discards output.
func NewExporter(db adapter.Adapter, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Exporter{db: db, logger: logger, now: time.Now}
}

// WrapSQL wraps dataset SQL read-only for export, with an optional limit.
func WrapSQL(datasetSQL string, rowLimit int) string {
	cleanSQL := strings.TrimSuffix(strings.TrimSpace(datasetSQL), ";")
	wrapped := fmt.Sprintf("SELECT * FROM (\n%s\n) export_data", cleanSQL)
	if rowLimit > 0 {
		wrapped += fmt.Sprintf(" LIMIT %d", rowLimit)
	}
	return wrapped
}

// Export writes the session's dataset to CSV and, unless suppressed, a
// manifest JSON beside it. The session must have passed validation; an
// unvalidated or failed session is refused.
func (e *Exporter) Export(ctx context.Context, s *pipeline.Session, opts Options) (*Result, error) {
	if s.Validation == nil {
		return nil, fmt.Errorf("session %s has not been validated; run validation before export", s.ID)
	}
	if !s.Validation.Valid {
		return nil, fmt.Errorf("session %s failed validation; fix the reported issues before export", s.ID)
	}
	if s.Assembly == nil || s.Assembly.DatasetSQL == "" {
		return nil, fmt.Errorf("session %s has no assembled dataset", s.ID)
	}

	dir := opts.Dir
	if dir == "" {
		dir = DefaultDir
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve export dir: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}

	stamp := e.now().UTC().Format("20060102_150405")
	base := fmt.Sprintf("dataset_%s_%s", safeSessionID(s.ID), stamp)
	csvPath := filepath.Join(absDir, base+".csv")
	manifestPath := filepath.Join(absDir, base+".metadata.json")

	columns, rowCount, err := e.writeCSV(ctx, WrapSQL(s.Assembly.DatasetSQL, opts.RowLimit), csvPath)
	if err != nil {
		return nil, err
	}

	res := &Result{FilePath: csvPath, RowCount: rowCount}
	if !opts.SkipManifest {
		if err := e.writeManifest(s, columns, rowCount, manifestPath); err != nil {
			return nil, err
		}
		res.ManifestPath = manifestPath
	}

	e.logger.Info("dataset exported",
		"session_id", s.ID, "rows", rowCount, "file", csvPath)
	return res, nil
}

func (e *Exporter) writeCSV(ctx context.Context, exportSQL, path string) ([]string, int, error) {
	rows, err := e.db.Query(ctx, exportSQL)
	if err != nil {
		return nil, 0, fmt.Errorf("export query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read export columns: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create export file: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return nil, 0, fmt.Errorf("failed to write header: %w", err)
	}

	rowCount := 0
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	record := make([]string, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, 0, fmt.Errorf("failed to scan export row: %w", err)
		}
		for i, v := range values {
			record[i] = formatValue(v)
		}
		if err := w.Write(record); err != nil {
			return nil, 0, fmt.Errorf("failed to write row: %w", err)
		}
		rowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read export rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, 0, fmt.Errorf("failed to flush export file: %w", err)
	}
	return columns, rowCount, nil
}

func (e *Exporter) writeManifest(s *pipeline.Session, columns []string, rowCount int, path string) error {
	m := Manifest{
		SessionID:  s.ID,
		ExportedAt: e.now().UTC().Format(time.RFC3339),
		RowCount:   rowCount,
		Columns:    columns,
		Features:   []FeatureRecord{},
		ValidationSummary: ValidationSummary{
			Errors:   len(s.Validation.Errors()),
			Warnings: len(s.Validation.Warnings()),
		},
	}

	if s.GrainDef != nil {
		m.Grain = map[string]any{
			"entity_type":             s.GrainDef.EntityType,
			"entity_table":            s.GrainDef.EntityTable,
			"entity_id_column":        s.GrainDef.EntityIDColumn,
			"observation_date_column": s.GrainDef.ObservationDateColumn,
			"deduplication_rule":      s.GrainDef.DedupRule,
		}
	}
	if s.Target != nil {
		m.Target = map[string]any{
			"target_name":   s.Target.TargetName,
			"label_table":   s.Target.LabelTable,
			"window_months": s.Target.WindowMonths,
		}
	}
	for _, f := range s.Features {
		m.Features = append(m.Features, FeatureRecord{
			Name:                f.Name,
			FeatureColumns:      f.FeatureColumns,
			WindowDescription:   f.WindowDescription,
			MaxSourceTimeColumn: f.MaxSourceTimeColumn,
		})
	}
	if s.MissingConfig != nil {
		for _, col := range s.MissingConfig.Columns {
			m.MissingStrategies = append(m.MissingStrategies, MissingStrategy{
				Column:   col.ColumnName,
				Strategy: string(col.Strategy),
			})
		}
	}
	if m.MissingStrategies == nil {
		m.MissingStrategies = []MissingStrategy{}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func safeSessionID(id string) string {
	clean := strings.ReplaceAll(id, "-", "")
	if len(clean) > 16 {
		clean = clean[:16]
	}
	return clean
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
