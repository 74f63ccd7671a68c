package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/millstone-labs/grainsql/pkg/adapter"
)

// ConfigFileName is the name of the config file.
const ConfigFileName = "grainsql.yaml"

// ConfigFileNameAlt is the alternate name of the config file.
const ConfigFileNameAlt = "grainsql.yml"

// flagKeys maps flag-derived keys (kebab-case converted to snake_case)
// to their nested config keys.
var flagKeys = map[string]string{
	"db_type":    "target.type",
	"host":       "target.host",
	"port":       "target.port",
	"database":   "target.database",
	"user":       "target.user",
	"password":   "target.password",
	"schema":     "target.schema",
	"export_dir": "export.dir",
	"row_limit":  "export.row_limit",
}

// Load builds the configuration from defaults, the config file, GRAINSQL_*
// environment variables, and explicitly-set flags, in increasing priority.
// cfgFile may be empty, in which case grainsql.yaml/yml is searched for
// starting at the working directory and walking up. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults.
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"log_level":        DefaultLogLevel,
		"log_format":       DefaultLogFormat,
		"export.dir":       DefaultExportDir,
		"export.row_limit": 0,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file. An explicit path anchors the project root at its
	// directory; otherwise walk up from the working directory.
	projectRoot, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to determine working directory: %w", err)
	}
	if cfgFile == "" {
		if root := FindProjectRoot(projectRoot); root != "" {
			projectRoot = root
			cfgFile = findConfigFile(root)
		}
	} else {
		abs, err := filepath.Abs(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("invalid config file path %s: %w", cfgFile, err)
		}
		cfgFile = abs
		projectRoot = filepath.Dir(abs)
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// 3. Environment variables. GRAINSQL_LOG_LEVEL -> log_level; double
	// underscore crosses a nesting level: GRAINSQL_TARGET__HOST -> target.host.
	if err := k.Load(env.Provider("GRAINSQL_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "GRAINSQL_"))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags (highest priority). Only explicitly-set flags override.
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if mapped, ok := flagKeys[key]; ok {
				key = mapped
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal and finalize.
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ProjectRoot = projectRoot
	cfg.Export.Dir = resolvePathRelativeTo(cfg.Export.Dir, projectRoot)

	ApplyTargetDefaults(&cfg.Target)
	expandTargetEnvVars(&cfg.Target)

	return &cfg, nil
}

// findConfigFile finds the config file in the given directory.
// Returns empty string if not found.
func findConfigFile(dir string) string {
	yamlPath := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath
	}

	ymlPath := filepath.Join(dir, ConfigFileNameAlt)
	if _, err := os.Stat(ymlPath); err == nil {
		return ymlPath
	}

	return ""
}

// FindProjectRoot walks up from the given directory to find a directory
// containing grainsql.yaml or grainsql.yml. Returns empty string if not found.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for {
		if findConfigFile(dir) != "" {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// resolvePathRelativeTo resolves a relative path against a base directory.
func resolvePathRelativeTo(path, base string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// expandEnvVars expands ${VAR} patterns with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})
}

// expandTargetEnvVars expands environment variables in sensitive target fields.
func expandTargetEnvVars(t *adapter.Config) {
	if t == nil {
		return
	}
	t.Password = expandEnvVars(t.Password)
	t.Username = expandEnvVars(t.Username)
	t.Host = expandEnvVars(t.Host)
	t.Database = expandEnvVars(t.Database)
}
