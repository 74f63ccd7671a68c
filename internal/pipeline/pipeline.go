// Package pipeline orchestrates the dataset build as an ordered session:
// grain, then target, then features, then assembly, validation, and export.
// Each stage persists its output on the session so later stages can reuse it,
// and out-of-order calls fail with a StageError naming what is missing.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/millstone-labs/grainsql/internal/assemble"
	"github.com/millstone-labs/grainsql/internal/feature"
	"github.com/millstone-labs/grainsql/internal/grain"
	"github.com/millstone-labs/grainsql/internal/missing"
	"github.com/millstone-labs/grainsql/internal/target"
	"github.com/millstone-labs/grainsql/internal/validate"
	"github.com/millstone-labs/grainsql/pkg/adapter"
	"github.com/millstone-labs/grainsql/pkg/core"
)

// Stage identifies a step of the build.
type Stage string

const (
	StageGrain    Stage = "grain"
	StageTarget   Stage = "target"
	StageFeatures Stage = "features"
	StageAssemble Stage = "assemble"
	StageValidate Stage = "validate"
	StageExport   Stage = "export"
)

// StageError reports an out-of-order call: Stage was requested before
// Missing had produced its output.
type StageError struct {
	Stage   Stage
	Missing Stage
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s requires %s to be completed first", e.Stage, e.Missing)
}

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = fmt.Errorf("session not found")

// Session carries the accumulated state of one dataset build.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	GrainDef *grain.Definition  `json:"grain,omitempty"`
	GrainSQL string             `json:"grain_sql,omitempty"`
	Target   *target.Definition `json:"target,omitempty"`
	TgtSQL   string             `json:"target_sql,omitempty"`
	Features []core.FeatureSQL  `json:"features"`

	// MissingConfig holds per-column imputation choices used during
	// validation and recorded in the export manifest.
	MissingConfig *missing.FeatureConfig `json:"missing_config,omitempty"`

	Assembly   *assemble.Result `json:"assembly,omitempty"`
	Validation *core.Result     `json:"validation,omitempty"`
	Exported   bool             `json:"exported"`
}

// Pipeline runs the stages against one database connection.
type Pipeline struct {
	store     Store
	grains    *grain.Compiler
	targets   *target.Compiler
	generator *feature.Generator
	assembler *assemble.Assembler
	validator *validate.Validator
	logger    *slog.Logger
}

// New creates a pipeline. A nil store gets a fresh MemoryStore; a nil logger
// discards output.
func New(db adapter.Adapter, store Store, logger *slog.Logger) *Pipeline {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		store:     store,
		grains:    grain.NewCompiler(db, logger),
		targets:   target.NewCompiler(db, logger),
		generator: feature.NewGenerator(db.Dialect()),
		assembler: assemble.NewAssembler(db, logger),
		validator: validate.NewValidator(db, logger),
		logger:    logger,
	}
}

// NewSession creates and stores an empty session.
func (p *Pipeline) NewSession() *Session {
	now := time.Now().UTC()
	s := &Session{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	p.store.Put(s)
	p.logger.Info("session created", "session_id", s.ID)
	return s
}

// Session returns a stored session.
func (p *Pipeline) Session(id string) (*Session, error) {
	s, ok := p.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Remove deletes a session.
func (p *Pipeline) Remove(id string) {
	p.store.Remove(id)
}

// SetGrain validates a grain definition and stores it on the session. A new
// grain invalidates everything built downstream of it.
func (p *Pipeline) SetGrain(ctx context.Context, id string, def grain.Definition) (*grain.Validation, error) {
	s, err := p.Session(id)
	if err != nil {
		return nil, err
	}

	d, err := grain.New(def)
	if err != nil {
		return nil, err
	}
	v, err := p.grains.Validate(ctx, d)
	if err != nil {
		return nil, err
	}
	if v.Status == grain.StatusInvalid {
		return v, nil
	}

	s.GrainDef = d
	s.GrainSQL = grain.SQL(d, true)
	s.Target = nil
	s.TgtSQL = ""
	s.Features = nil
	s.Assembly = nil
	s.Validation = nil
	s.Exported = false
	s.UpdatedAt = time.Now().UTC()
	p.store.Put(s)

	p.logger.Info("grain set", "session_id", s.ID, "table", d.EntityTable)
	return v, nil
}

// SetTarget validates a target definition against the session's grain and
// stores it. Requires a grain.
func (p *Pipeline) SetTarget(ctx context.Context, id string, def target.Definition) (*target.Validation, error) {
	s, err := p.Session(id)
	if err != nil {
		return nil, err
	}
	if s.GrainDef == nil {
		return nil, &StageError{Stage: StageTarget, Missing: StageGrain}
	}

	d, err := target.New(def)
	if err != nil {
		return nil, err
	}
	v, err := p.targets.Validate(ctx, d, s.GrainDef)
	if err != nil {
		return nil, err
	}
	if v.Status == target.StatusInvalid {
		return v, nil
	}

	s.Target = d
	s.TgtSQL = target.SQL(d, s.GrainDef)
	s.Assembly = nil
	s.Validation = nil
	s.Exported = false
	s.UpdatedAt = time.Now().UTC()
	p.store.Put(s)

	p.logger.Info("target set", "session_id", s.ID, "target", d.TargetName)
	return v, nil
}

// AddFeature generates SQL for a feature definition and appends it to the
// session. Features are stored standalone (with their own grain CTE) so the
// quality checks can run them in isolation. Requires a grain.
func (p *Pipeline) AddFeature(ctx context.Context, id string, def feature.Definition) (core.FeatureSQL, error) {
	s, err := p.Session(id)
	if err != nil {
		return core.FeatureSQL{}, err
	}
	if s.GrainDef == nil {
		return core.FeatureSQL{}, &StageError{Stage: StageFeatures, Missing: StageGrain}
	}

	d, err := feature.New(def)
	if err != nil {
		return core.FeatureSQL{}, err
	}
	fs, err := p.generator.Generate(d, s.GrainDef, true)
	if err != nil {
		return core.FeatureSQL{}, err
	}
	for _, existing := range s.Features {
		if existing.Name == fs.Name {
			return core.FeatureSQL{}, fmt.Errorf("feature %q already exists in session", fs.Name)
		}
	}

	s.Features = append(s.Features, fs)
	s.Assembly = nil
	s.Validation = nil
	s.Exported = false
	s.UpdatedAt = time.Now().UTC()
	p.store.Put(s)

	p.logger.Info("feature added", "session_id", s.ID, "feature", fs.Name)
	return fs, nil
}

// RemoveFeature drops a feature by name and invalidates downstream state.
func (p *Pipeline) RemoveFeature(id, name string) error {
	s, err := p.Session(id)
	if err != nil {
		return err
	}
	kept := s.Features[:0]
	found := false
	for _, f := range s.Features {
		if f.Name == name {
			found = true
			continue
		}
		kept = append(kept, f)
	}
	if !found {
		return fmt.Errorf("feature %q not found in session", name)
	}
	s.Features = kept
	s.Assembly = nil
	s.Validation = nil
	s.Exported = false
	s.UpdatedAt = time.Now().UTC()
	p.store.Put(s)
	return nil
}

// SetMissingConfig records imputation choices for the session's features.
func (p *Pipeline) SetMissingConfig(id string, cfg *missing.FeatureConfig) error {
	s, err := p.Session(id)
	if err != nil {
		return err
	}
	s.MissingConfig = cfg
	s.Validation = nil
	s.Exported = false
	s.UpdatedAt = time.Now().UTC()
	p.store.Put(s)
	return nil
}

// Assemble builds the dataset SQL and optionally runs the quality report.
// Requires grain and target.
func (p *Pipeline) Assemble(ctx context.Context, id string, runChecks bool) (*assemble.Result, error) {
	s, err := p.Session(id)
	if err != nil {
		return nil, err
	}
	if s.GrainDef == nil {
		return nil, &StageError{Stage: StageAssemble, Missing: StageGrain}
	}
	if s.Target == nil {
		return nil, &StageError{Stage: StageAssemble, Missing: StageTarget}
	}

	res, err := p.assembler.Assemble(ctx, s.GrainDef, s.Target, s.Features, runChecks)
	if err != nil {
		return nil, err
	}

	s.Assembly = res
	s.Validation = nil
	s.Exported = false
	s.UpdatedAt = time.Now().UTC()
	p.store.Put(s)

	p.logger.Info("dataset assembled",
		"session_id", s.ID, "status", res.Status, "features", res.FeatureCount)
	return res, nil
}

// Validate runs the final validation suite over the assembled dataset.
// Requires a successful or warning assembly.
func (p *Pipeline) Validate(ctx context.Context, id string) (*core.Result, error) {
	s, err := p.Session(id)
	if err != nil {
		return nil, err
	}
	if s.Assembly == nil || s.Assembly.DatasetSQL == "" {
		return nil, &StageError{Stage: StageValidate, Missing: StageAssemble}
	}

	var meanColumns []string
	if s.MissingConfig != nil {
		meanColumns = s.MissingConfig.MeanColumns()
	}

	result, err := p.validator.Dataset(ctx, s.Assembly.DatasetSQL, s.Features, meanColumns)
	if err != nil {
		return nil, err
	}

	s.Validation = result
	s.Exported = false
	s.UpdatedAt = time.Now().UTC()
	p.store.Put(s)

	p.logger.Info("dataset validated", "session_id", s.ID, "valid", result.Valid)
	return result, nil
}

// RequireValidated returns the session if it has passed validation, for use
// by the export stage.
func (p *Pipeline) RequireValidated(id string) (*Session, error) {
	s, err := p.Session(id)
	if err != nil {
		return nil, err
	}
	if s.Validation == nil {
		return nil, &StageError{Stage: StageExport, Missing: StageValidate}
	}
	if !s.Validation.Valid {
		return nil, fmt.Errorf("session %s failed validation; fix the reported issues before export", id)
	}
	return s, nil
}

// MarkExported flags the session after a successful export.
func (p *Pipeline) MarkExported(id string) error {
	s, err := p.Session(id)
	if err != nil {
		return err
	}
	s.Exported = true
	s.UpdatedAt = time.Now().UTC()
	p.store.Put(s)
	return nil
}
