package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aquaform/aquaform/pkg/backends/rest"
	"github.com/aquaform/aquaform/pkg/backends/sqldb"
	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/google/go-cmp/cmp"
)

func TestLoadSettings_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	s, err := LoadSettings(SettingsSource{})
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}

	if s.SQL.Dialect != "mysql" {
		t.Errorf("SQL.Dialect = %q", s.SQL.Dialect)
	}
	if s.SQL.ConnectTimeout != 10*time.Second {
		t.Errorf("SQL.ConnectTimeout = %v", s.SQL.ConnectTimeout)
	}
	if s.REST.Timeout != 30*time.Second {
		t.Errorf("REST.Timeout = %v", s.REST.Timeout)
	}
	if !s.History.Enabled || s.History.Path == "" {
		t.Errorf("History = %+v", s.History)
	}
	if s.Log.Level != "info" || s.Log.Format != "console" {
		t.Errorf("Log = %+v", s.Log)
	}
	if s.Tracing.Enabled || s.Tracing.Exporter != "none" {
		t.Errorf("Tracing = %+v", s.Tracing)
	}
	if s.Metrics.Namespace != "aquaform" || len(s.Metrics.Buckets) == 0 {
		t.Errorf("Metrics = %+v", s.Metrics)
	}
	if got := s.StatePath(schema.KindRESTTable); got != "aqua.rest.state.json" {
		t.Errorf("StatePath(rest) = %s", got)
	}
	if got := s.StatePath(schema.KindSQLTable); got != "aqua.sql.state.json" {
		t.Errorf("StatePath(sql) = %s", got)
	}
	if err := s.Telemetry("test").Validate(); err != nil {
		t.Errorf("default telemetry config is invalid: %v", err)
	}
}

func TestLoadSettings_Layers(t *testing.T) {
	dir := t.TempDir()
	settings := writeFile(t, dir, "settings.yaml", `
state:
  path: custom.state.json
sql:
  dialect: postgres
  dsn: postgres://app@localhost:5432/app
log:
  level: debug
policy:
  paths: [policies/a.rego, policies/b.rego]
metrics:
  textfile: /tmp/aquaform.prom
`)
	dotenv := writeFile(t, dir, "test.env", "AQUAFORM_REST_URL=https://from-dotenv.example.test\nAQUAFORM_LOG_FORMAT=json\n")
	t.Cleanup(func() {
		_ = os.Unsetenv("AQUAFORM_REST_URL")
		_ = os.Unsetenv("AQUAFORM_LOG_FORMAT")
	})
	t.Setenv("AQUAFORM_LOG_LEVEL", "warn")
	t.Setenv("AQUAFORM_SQL_CONNECT_TIMEOUT", "5s")
	t.Setenv("AQUAFORM_TRACING_ENABLED", "true")

	s, err := LoadSettings(SettingsSource{File: settings, EnvFile: dotenv})
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}

	wantSQL := sqldb.Config{
		Dialect:        "postgres",
		DSN:            "postgres://app@localhost:5432/app",
		ConnectTimeout: 5 * time.Second,
	}
	if diff := cmp.Diff(wantSQL, s.SQL); diff != "" {
		t.Errorf("SQL mismatch (-want +got):\n%s", diff)
	}
	wantREST := rest.Config{URL: "https://from-dotenv.example.test", Timeout: 30 * time.Second}
	if diff := cmp.Diff(wantREST, s.REST); diff != "" {
		t.Errorf("REST mismatch (-want +got):\n%s", diff)
	}
	if s.Log.Level != "warn" {
		t.Errorf("environment must override the file: Log.Level = %q", s.Log.Level)
	}
	if s.Log.Format != "json" {
		t.Errorf("dotenv value not applied: Log.Format = %q", s.Log.Format)
	}
	if !s.Tracing.Enabled {
		t.Error("Tracing.Enabled not applied")
	}
	if diff := cmp.Diff([]string{"policies/a.rego", "policies/b.rego"}, s.Policy.Paths); diff != "" {
		t.Errorf("Policy.Paths mismatch (-want +got):\n%s", diff)
	}
	if s.Metrics.TextfilePath != "/tmp/aquaform.prom" {
		t.Errorf("Metrics.TextfilePath = %q", s.Metrics.TextfilePath)
	}
	if got := s.StatePath(schema.KindSQLTable); got != "custom.state.json" {
		t.Errorf("StatePath = %s", got)
	}
}

func TestLoadSettings_MissingExplicitFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadSettings(SettingsSource{File: filepath.Join(dir, "nope.yaml")}); err == nil {
		t.Error("expected error for a missing settings file")
	}
	if _, err := LoadSettings(SettingsSource{File: writeFile(t, dir, "s.yaml", "log: {}\n"), EnvFile: filepath.Join(dir, "nope.env")}); err == nil {
		t.Error("expected error for a missing dotenv file")
	}
}

func TestSettings_ValidateBackend(t *testing.T) {
	tests := []struct {
		name    string
		s       Settings
		kind    schema.Kind
		wantErr bool
	}{
		{"sqlite path", Settings{SQL: sqldb.Config{Dialect: "sqlite", Database: "app.db"}}, schema.KindSQLTable, false},
		{"mysql dsn", Settings{SQL: sqldb.Config{Dialect: "mysql", DSN: "root@tcp(localhost:3306)/app"}}, schema.KindSQLTable, false},
		{"no database", Settings{SQL: sqldb.Config{Dialect: "mysql"}}, schema.KindSQLTable, true},
		{"bad dialect", Settings{SQL: sqldb.Config{Dialect: "oracle", Database: "x"}}, schema.KindSQLTable, true},
		{"rest ok", Settings{REST: rest.Config{URL: "https://db.example.test", Key: "k"}}, schema.KindRESTTable, false},
		{"rest no key", Settings{REST: rest.Config{URL: "https://db.example.test"}}, schema.KindRESTTable, true},
		{"rest bad url", Settings{REST: rest.Config{URL: "not a url", Key: "k"}}, schema.KindRESTTable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.ValidateBackend(tt.kind)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBackend() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_ApplyHints(t *testing.T) {
	s := Settings{
		SQL:  sqldb.Config{Dialect: "mysql", Host: "db.internal"},
		REST: rest.Config{Key: "configured"},
	}
	s.ApplyHints(ConnectionHints{
		URL:      "https://hinted.example.test",
		Key:      "hinted",
		Host:     "hinted-host",
		User:     "app",
		Database: "shop",
	})

	if s.REST.URL != "https://hinted.example.test" || s.REST.Key != "configured" {
		t.Errorf("REST = %+v", s.REST)
	}
	if s.SQL.Host != "db.internal" || s.SQL.User != "app" || s.SQL.Database != "shop" {
		t.Errorf("SQL = %+v", s.SQL)
	}

	withDSN := Settings{SQL: sqldb.Config{DSN: "root@/app"}}
	withDSN.ApplyHints(ConnectionHints{Host: "ignored"})
	if withDSN.SQL.Host != "" {
		t.Error("hints must not mix with an explicit DSN")
	}
}
