package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/contentkit/modrun/pkg/host"
)

// DefaultSettingsFile is the settings file read when none is named.
const DefaultSettingsFile = "modrun.yaml"

// Settings configures the modrun command line tool.
type Settings struct {
	// ManifestNames are the manifest file names searched under a project root.
	ManifestNames []string `yaml:"manifest_names" validate:"required,min=1,dive,required"`

	// ConfigNames are the project configuration file names, in order of
	// preference.
	ConfigNames []string `yaml:"config_names" validate:"required,min=1,dive,required"`

	CompileCache CompileCacheSettings `yaml:"compile_cache"`
	Resolver     ResolverSettings     `yaml:"resolver"`
	Logging      LoggingSettings      `yaml:"logging"`
	Metrics      MetricsSettings      `yaml:"metrics"`
	Tracing      TracingSettings      `yaml:"tracing"`

	// Remote, when set, makes project files resolve over SFTP.
	Remote *RemoteSettings `yaml:"remote,omitempty"`
}

// CompileCacheSettings configures the persistent compile store.
type CompileCacheSettings struct {
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `yaml:"path" validate:"required_if=Enabled true"`

	// MaxAge is the age after which unused entries are pruned.
	MaxAge time.Duration `yaml:"max_age" validate:"min=0"`
}

// ResolverSettings tunes module resolution.
type ResolverSettings struct {
	// CacheSize bounds the resolution memo.
	CacheSize int `yaml:"cache_size" validate:"min=1"`
}

// LoggingSettings configures structured logging.
type LoggingSettings struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address" validate:"required_if=Enabled true"`
	Path          string `yaml:"path" validate:"startswith=/"`
}

// TracingSettings configures span export.
type TracingSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter" validate:"oneof=stdout otlp none"`
	Endpoint string `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	Insecure bool   `yaml:"insecure"`
}

// RemoteSettings describes a project living on an SFTP server.
type RemoteSettings struct {
	host.SFTPConfig `yaml:",inline"`

	// Root is the remote directory project paths are relative to.
	Root string `yaml:"root"`
}

// DefaultSettings returns the settings used when no file overrides them.
func DefaultSettings() *Settings {
	return &Settings{
		ManifestNames: []string{"val.modules.ts", "val.modules.js"},
		ConfigNames:   append([]string(nil), DefaultConfigNames...),
		CompileCache: CompileCacheSettings{
			Enabled: false,
			Path:    ".modrun/cache.db",
			MaxAge:  30 * 24 * time.Hour,
		},
		Resolver: ResolverSettings{
			CacheSize: 4096,
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsSettings{
			Enabled:       false,
			ListenAddress: ":9090",
			Path:          "/metrics",
		},
		Tracing: TracingSettings{
			Enabled:  false,
			Exporter: "stdout",
		},
	}
}

// SettingsLoader reads, checks and overrides Settings.
type SettingsLoader struct {
	schemas   *SchemaRegistry
	validator *validator.Validate
	getenv    func(string) string
}

// NewSettingsLoader creates a settings loader reading the process
// environment.
func NewSettingsLoader() *SettingsLoader {
	return &SettingsLoader{
		schemas:   NewSchemaRegistry(),
		validator: validator.New(),
		getenv:    os.Getenv,
	}
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads settings from file. An empty file name reads
// DefaultSettingsFile when it exists and falls back to defaults otherwise.
func (l *SettingsLoader) Load(file string) (*Settings, error) {
	explicit := file != ""
	if !explicit {
		file = DefaultSettingsFile
	}

	data, err := os.ReadFile(file)
	switch {
	case err == nil:
		return l.Parse(data)
	case !explicit && errors.Is(err, fs.ErrNotExist):
		return l.finish(DefaultSettings())
	default:
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
}

// Parse decodes a settings document on top of the defaults.
func (l *SettingsLoader) Parse(data []byte) (*Settings, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := l.schemas.Validate("settings", doc); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	s := DefaultSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if s.Remote != nil {
		if s.Remote.Port == 0 {
			s.Remote.Port = 22
		}
		if s.Remote.AuthMethod == "" {
			s.Remote.AuthMethod = host.AuthMethodKey
		}
		if s.Remote.ConnectionTimeout == 0 {
			s.Remote.ConnectionTimeout = 30 * time.Second
		}
	}

	return l.finish(s)
}

func (l *SettingsLoader) finish(s *Settings) (*Settings, error) {
	if err := l.applyEnv(s); err != nil {
		return nil, err
	}
	if err := l.validator.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if s.Remote != nil {
		if err := s.Remote.Validate(); err != nil {
			return nil, fmt.Errorf("invalid remote settings: %w", err)
		}
	}
	return s, nil
}

// applyEnv applies MODRUN_* environment overrides.
func (l *SettingsLoader) applyEnv(s *Settings) error {
	if v := l.getenv("MODRUN_MANIFEST_NAMES"); v != "" {
		s.ManifestNames = splitList(v)
	}
	if v := l.getenv("MODRUN_CONFIG_NAMES"); v != "" {
		s.ConfigNames = splitList(v)
	}
	if v := l.getenv("MODRUN_COMPILE_CACHE"); v != "" {
		s.CompileCache.Enabled = true
		s.CompileCache.Path = v
	}
	if v := l.getenv("MODRUN_RESOLVER_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MODRUN_RESOLVER_CACHE_SIZE: %w", err)
		}
		s.Resolver.CacheSize = n
	}
	if v := l.getenv("LOG_LEVEL"); v != "" {
		s.Logging.Level = strings.ToLower(v)
	}
	if v := l.getenv("MODRUN_LOG_FORMAT"); v != "" {
		s.Logging.Format = v
	}
	if v := l.getenv("MODRUN_METRICS_ADDR"); v != "" {
		s.Metrics.Enabled = true
		s.Metrics.ListenAddress = v
	}
	if v := l.getenv("MODRUN_TRACING_EXPORTER"); v != "" {
		s.Tracing.Enabled = v != "none"
		s.Tracing.Exporter = v
	}
	if v := l.getenv("MODRUN_TRACING_ENDPOINT"); v != "" {
		s.Tracing.Endpoint = v
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
