package config

import "github.com/millstone-labs/grainsql/pkg/adapter"

// Default configuration values.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultExportDir = "exports"
)

// ApplyTargetDefaults applies default values to a target based on its type.
func ApplyTargetDefaults(t *adapter.Config) {
	if t == nil {
		return
	}

	if t.Schema == "" {
		t.Schema = DefaultSchemaForType(t.Type)
	}

	if t.Type == "postgres" {
		if t.Port == 0 {
			t.Port = 5432
		}
	}
}
