// Package config loads project configuration for the dataset compiler.
// Settings are layered: built-in defaults, then grainsql.yaml, then
// GRAINSQL_* environment variables, then command-line flags.
package config

import (
	"fmt"
	"strings"

	"github.com/millstone-labs/grainsql/pkg/adapter"
	"github.com/millstone-labs/grainsql/pkg/dialect"
)

// ExportConfig holds dataset export settings.
type ExportConfig struct {
	// Dir is the directory CSV files and manifests are written to.
	// Relative paths are resolved against the project root.
	Dir string `koanf:"dir"`

	// RowLimit caps exported rows. Zero means no limit.
	RowLimit int `koanf:"row_limit"`
}

// Config is the full grainsql configuration.
type Config struct {
	// Target is the database the compiled SQL runs against.
	Target adapter.Config `koanf:"target"`

	// Export controls dataset export output.
	Export ExportConfig `koanf:"export"`

	LogLevel  string `koanf:"log_level"`  // debug, info, warn, error
	LogFormat string `koanf:"log_format"` // text, json

	// ProjectRoot is the directory containing the config file (or the
	// working directory when none was found). Not read from config.
	ProjectRoot string `koanf:"-"`
}

// DefaultSchemaForType returns the default schema for a database type.
// It looks up the dialect in the registry; if not found, returns "main".
func DefaultSchemaForType(dbType string) string {
	if d, ok := dialect.Get(dbType); ok && d.DefaultSchema != "" {
		return d.DefaultSchema
	}
	return "main"
}

// Validate checks that the configuration names a usable target.
// It uses the adapter registry to determine which types are available.
func (c *Config) Validate() error {
	if c.Target.Type == "" {
		return fmt.Errorf("target type is required")
	}
	if !adapter.IsRegistered(strings.ToLower(c.Target.Type)) {
		return &adapter.UnknownAdapterError{
			Type:      c.Target.Type,
			Available: adapter.ListAdapters(),
		}
	}
	return nil
}
