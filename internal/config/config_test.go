package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/millstone-labs/grainsql/pkg/adapters/duckdb"
	_ "github.com/millstone-labs/grainsql/pkg/adapters/postgres"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "target:\n  type: duckdb\n  database: ':memory:'\n")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "exports"), cfg.Export.Dir)
	assert.Equal(t, 0, cfg.Export.RowLimit)
	assert.Equal(t, "main", cfg.Target.Schema)
	assert.Equal(t, filepath.Dir(path), cfg.ProjectRoot)
}

func TestLoad_PostgresDefaults(t *testing.T) {
	path := writeConfig(t, `
target:
  type: postgres
  host: localhost
  database: warehouse
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Target.Port)
	assert.Equal(t, "public", cfg.Target.Schema)
}

func TestLoad_ConfigFileValues(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
target:
  type: postgres
  host: db.internal
  port: 6432
  database: warehouse
  user: ml
  schema: analytics
export:
  dir: /data/out
  row_limit: 5000
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "db.internal", cfg.Target.Host)
	assert.Equal(t, 6432, cfg.Target.Port)
	assert.Equal(t, "ml", cfg.Target.Username)
	assert.Equal(t, "analytics", cfg.Target.Schema)
	assert.Equal(t, "/data/out", cfg.Export.Dir)
	assert.Equal(t, 5000, cfg.Export.RowLimit)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "log_level: warn\ntarget:\n  type: duckdb\n")
	t.Setenv("GRAINSQL_LOG_LEVEL", "debug")
	t.Setenv("GRAINSQL_TARGET__HOST", "env-host")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "env-host", cfg.Target.Host)
}

func TestLoad_FlagsOverrideEverything(t *testing.T) {
	path := writeConfig(t, "target:\n  type: duckdb\n  schema: raw\n")
	t.Setenv("GRAINSQL_LOG_LEVEL", "warn")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "", "")
	flags.String("db-type", "", "")
	flags.String("schema", "", "")
	flags.Int("row-limit", 0, "")
	require.NoError(t, flags.Parse([]string{
		"--log-level", "error",
		"--db-type", "postgres",
		"--schema", "features",
		"--row-limit", "100",
	}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.Target.Type)
	assert.Equal(t, "features", cfg.Target.Schema)
	assert.Equal(t, 100, cfg.Export.RowLimit)
}

func TestLoad_UnchangedFlagsIgnored(t *testing.T) {
	path := writeConfig(t, "log_level: debug\ntarget:\n  type: duckdb\n")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_ExpandsCredentialEnvVars(t *testing.T) {
	path := writeConfig(t, `
target:
  type: postgres
  host: localhost
  database: warehouse
  user: ml
  password: ${GRAIN_TEST_PASSWORD}
`)
	t.Setenv("GRAIN_TEST_PASSWORD", "s3cret")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Target.Password)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ConfigFileNameAlt), []byte("{}"), 0o644))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	assert.Equal(t, root, FindProjectRoot(nested))
	assert.Equal(t, "", FindProjectRoot(t.TempDir()))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		dbType  string
		wantErr string
	}{
		{name: "registered type", dbType: "postgres"},
		{name: "missing type", dbType: "", wantErr: "target type is required"},
		{name: "unknown type", dbType: "oracle", wantErr: "unknown adapter type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.Target.Type = tt.dbType
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestDefaultSchemaForType(t *testing.T) {
	assert.Equal(t, "public", DefaultSchemaForType("postgres"))
	assert.Equal(t, "main", DefaultSchemaForType("duckdb"))
	assert.Equal(t, "main", DefaultSchemaForType("unknown"))
}
