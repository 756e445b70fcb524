package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/aquaform/aquaform/pkg/backends/rest"
	"github.com/aquaform/aquaform/pkg/backends/sqldb"
	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/aquaform/aquaform/pkg/telemetry"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides, e.g. AQUAFORM_SQL_DSN.
const EnvPrefix = "AQUAFORM_"

// DefaultSettingsFile is read when present and no other file is named.
const DefaultSettingsFile = "aquaform.yaml"

// Settings is the resolved tool configuration.
type Settings struct {
	Environment string `koanf:"environment"`

	State   StateSettings   `koanf:"state"`
	SQL     sqldb.Config    `koanf:"sql"`
	REST    rest.Config     `koanf:"rest"`
	History HistorySettings `koanf:"history"`
	Policy  PolicySettings  `koanf:"policy"`

	Log     telemetry.LoggingConfig `koanf:"log"`
	Tracing telemetry.TracingConfig `koanf:"tracing"`
	Metrics telemetry.MetricsConfig `koanf:"metrics"`
}

// StateSettings locates the state file.
type StateSettings struct {
	// Path overrides the per-family default path.
	Path string `koanf:"path"`
}

// HistorySettings configures the run history database.
type HistorySettings struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// PolicySettings lists extra Rego policy files or directories.
type PolicySettings struct {
	Paths []string `koanf:"paths"`
}

// SettingsSource names the optional inputs of LoadSettings.
type SettingsSource struct {
	// File is the settings YAML file. Empty means DefaultSettingsFile when
	// it exists.
	File string

	// EnvFile is a dotenv file loaded into the environment. Empty means
	// ".env" when it exists.
	EnvFile string
}

func defaultSettings() map[string]interface{} {
	tc := telemetry.DefaultConfig()
	return map[string]interface{}{
		"environment":            tc.Environment,
		"sql.dialect":            "mysql",
		"sql.connect_timeout":    "10s",
		"rest.timeout":           "30s",
		"history.enabled":        true,
		"history.path":           ".aquaform/history.db",
		"log.level":              tc.Logging.Level,
		"log.format":             tc.Logging.Format,
		"log.output":             tc.Logging.Output,
		"tracing.enabled":        tc.Tracing.Enabled,
		"tracing.exporter":       tc.Tracing.Exporter,
		"tracing.sampling_rate":  tc.Tracing.SamplingRate,
		"tracing.export_timeout": tc.Tracing.ExportTimeout.String(),
		"tracing.insecure":       tc.Tracing.Insecure,
		"metrics.enabled":        tc.Metrics.Enabled,
		"metrics.namespace":      tc.Metrics.Namespace,
		"metrics.buckets":        tc.Metrics.Buckets,
	}
}

// envKey maps AQUAFORM_SQL_CONNECT_TIMEOUT to sql.connect_timeout. Only the
// first underscore separates the section from the key.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(key, "_", ".", 1)
}

// LoadSettings layers defaults, the settings file, the dotenv file and the
// AQUAFORM_* environment, in that order.
func LoadSettings(src SettingsSource) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultSettings(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	path, required := src.File, true
	if path == "" {
		path, required = DefaultSettingsFile, false
	}
	if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
		if required || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load settings %s: %w", path, err)
		}
	}

	envFile, required := src.EnvFile, true
	if envFile == "" {
		envFile, required = ".env", false
	}
	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(envFile); err != nil {
		if required || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &s, nil
}

// StatePath returns the state file for kind.
func (s *Settings) StatePath(kind schema.Kind) string {
	if s.State.Path != "" {
		return s.State.Path
	}
	if kind == schema.KindRESTTable {
		return "aqua.rest.state.json"
	}
	return "aqua.sql.state.json"
}

// ApplyHints fills connection settings that are still empty from the hints
// a document carries.
func (s *Settings) ApplyHints(h ConnectionHints) {
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&s.REST.URL, h.URL)
	fill(&s.REST.Key, h.Key)
	if s.SQL.DSN == "" {
		fill(&s.SQL.Host, h.Host)
		fill(&s.SQL.User, h.User)
		fill(&s.SQL.Password, h.Password)
		fill(&s.SQL.Database, h.Database)
	}
}

var settingsValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidateBackend checks the connection settings of the family managing kind.
func (s *Settings) ValidateBackend(kind schema.Kind) error {
	var err error
	switch kind {
	case schema.KindSQLTable:
		err = settingsValidator.Struct(s.SQL)
		if err == nil && s.SQL.DSN == "" && s.SQL.Database == "" {
			err = errors.New("sql.database or sql.dsn is required")
		}
	case schema.KindRESTTable:
		err = settingsValidator.Struct(s.REST)
	default:
		err = kind.Validate()
	}
	if err != nil {
		return fmt.Errorf("invalid %s settings: %w", kind, err)
	}
	return nil
}

// Telemetry returns the telemetry configuration for a run.
func (s *Settings) Telemetry(version string) *telemetry.Config {
	return &telemetry.Config{
		ServiceName:    "aquaform",
		ServiceVersion: version,
		Environment:    s.Environment,
		Logging:        s.Log,
		Tracing:        s.Tracing,
		Metrics:        s.Metrics,
	}
}
