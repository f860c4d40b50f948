package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestLoader(env map[string]string) *SettingsLoader {
	l := NewSettingsLoader()
	l.getenv = func(k string) string { return env[k] }
	return l
}

func TestSettingsLoader_Defaults(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	s, err := newTestLoader(nil).Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(s.ManifestNames) != 2 || s.ManifestNames[0] != "val.modules.ts" {
		t.Errorf("ManifestNames = %v", s.ManifestNames)
	}
	if s.Resolver.CacheSize != 4096 {
		t.Errorf("CacheSize = %d", s.Resolver.CacheSize)
	}
}

func TestSettingsLoader_File(t *testing.T) {
	file := filepath.Join(t.TempDir(), "modrun.yaml")
	doc := `
manifest_names: [content.modules.ts]
compile_cache:
  enabled: true
  path: /tmp/cache.db
  max_age: 48h
logging:
  level: debug
  format: json
remote:
  host: build.example.com
  user: ci
  auth_method: password
  password: secret
  root: /srv/project
`
	if err := os.WriteFile(file, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := newTestLoader(nil).Load(file)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.ManifestNames[0] != "content.modules.ts" {
		t.Errorf("ManifestNames = %v", s.ManifestNames)
	}
	if !s.CompileCache.Enabled || s.CompileCache.MaxAge != 48*time.Hour {
		t.Errorf("CompileCache = %+v", s.CompileCache)
	}
	if s.Logging.Level != "debug" || s.Logging.Format != "json" {
		t.Errorf("Logging = %+v", s.Logging)
	}
	if s.Remote == nil || s.Remote.Port != 22 || s.Remote.Root != "/srv/project" {
		t.Fatalf("Remote = %+v", s.Remote)
	}
	if s.Remote.ConnectionTimeout != 30*time.Second {
		t.Errorf("ConnectionTimeout = %v", s.Remote.ConnectionTimeout)
	}
}

func TestSettingsLoader_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "unknown key", doc: "manifest_nmes: [a.ts]\n"},
		{name: "bad level", doc: "logging:\n  level: loud\n"},
		{name: "empty manifest name", doc: "manifest_names: ['']\n"},
		{name: "otlp without endpoint", doc: "tracing:\n  enabled: true\n  exporter: otlp\n"},
		{name: "remote without user", doc: "remote:\n  host: h\n"},
		{name: "not yaml", doc: "logging: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := newTestLoader(nil).Parse([]byte(tt.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSettingsLoader_EnvOverrides(t *testing.T) {
	env := map[string]string{
		"MODRUN_MANIFEST_NAMES":   "a.modules.ts, b.modules.js",
		"MODRUN_COMPILE_CACHE":    "/var/cache/modrun.db",
		"LOG_LEVEL":               "WARN",
		"MODRUN_METRICS_ADDR":     "127.0.0.1:9100",
		"MODRUN_TRACING_EXPORTER": "none",
	}

	s, err := newTestLoader(env).Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(s.ManifestNames) != 2 || s.ManifestNames[1] != "b.modules.js" {
		t.Errorf("ManifestNames = %v", s.ManifestNames)
	}
	if !s.CompileCache.Enabled || s.CompileCache.Path != "/var/cache/modrun.db" {
		t.Errorf("CompileCache = %+v", s.CompileCache)
	}
	if s.Logging.Level != "warn" {
		t.Errorf("Level = %s", s.Logging.Level)
	}
	if !s.Metrics.Enabled || s.Metrics.ListenAddress != "127.0.0.1:9100" {
		t.Errorf("Metrics = %+v", s.Metrics)
	}
	if s.Tracing.Enabled {
		t.Error("tracing should be disabled")
	}
}

func TestSettingsLoader_BadEnv(t *testing.T) {
	_, err := newTestLoader(map[string]string{"MODRUN_RESOLVER_CACHE_SIZE": "many"}).Parse(nil)
	if err == nil {
		t.Error("expected error")
	}
}

func TestLoadDotEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(file, []byte("MODRUN_TEST_DOTENV=loaded\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MODRUN_TEST_DOTENV", "")
	os.Unsetenv("MODRUN_TEST_DOTENV")

	if err := LoadDotEnv(file, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("MODRUN_TEST_DOTENV"); got != "loaded" {
		t.Errorf("got %q", got)
	}
}

func TestSchemaRegistry(t *testing.T) {
	sr := NewSchemaRegistry()

	if names := sr.ListSchemas(); len(names) != 1 || names[0] != "settings" {
		t.Errorf("ListSchemas = %v", names)
	}

	if err := sr.RegisterSchema("custom", "#Custom", "#Custom: { field1: string }"); err != nil {
		t.Fatalf("RegisterSchema failed: %v", err)
	}
	if err := sr.Validate("custom", map[string]interface{}{"field1": "x"}); err != nil {
		t.Errorf("valid data rejected: %v", err)
	}
	if err := sr.Validate("custom", map[string]interface{}{"field1": 1}); err == nil {
		t.Error("expected type error")
	}
	if err := sr.Validate("custom", map[string]interface{}{"field1": "x", "extra": true}); err == nil {
		t.Error("expected closedness error")
	}
	if err := sr.RegisterSchema("broken", "#Missing", "#Other: {}"); err == nil {
		t.Error("expected missing definition error")
	}
	if err := sr.Validate("unknown", nil); err == nil {
		t.Error("expected unknown schema error")
	}
}
