package commands

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/contentkit/modrun/pkg/compiler"
	"github.com/contentkit/modrun/pkg/config"
	"github.com/contentkit/modrun/pkg/discovery"
	"github.com/contentkit/modrun/pkg/engine"
	"github.com/contentkit/modrun/pkg/host"
	"github.com/contentkit/modrun/pkg/script"
	"github.com/contentkit/modrun/pkg/stores"
	"github.com/contentkit/modrun/pkg/telemetry"
)

// environment holds everything a command needs: settings, telemetry, the
// resolution host and the compiler chain.
type environment struct {
	settings  *config.Settings
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
	host      engine.ResolutionHost
	compiler  engine.Compiler
	store     *stores.SQLiteStore
	remote    *host.SFTP
}

// setupEnvironment loads settings and builds the environment.
func setupEnvironment(ctx context.Context) (*environment, error) {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, fmt.Errorf("failed to load environment files: %w", err)
	}

	settings, err := config.NewSettingsLoader().Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if verbose {
		settings.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(telemetryConfig(settings))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	env := &environment{
		settings:  settings,
		telemetry: tel,
		logger:    tel.Logger.Zerolog(),
	}

	if settings.Remote != nil {
		remote, err := host.DialSFTP(ctx, &settings.Remote.SFTPConfig)
		if err != nil {
			env.Close(ctx)
			return nil, fmt.Errorf("failed to connect to remote workspace: %w", err)
		}
		env.remote = remote
		env.host = remote
		cliLog := tel.Logger.Component("cli")
		cliLog.Debug().Str("address", settings.Remote.Address()).Msg("Using remote workspace")
	} else {
		env.host = host.NewOS()
	}

	var comp engine.Compiler = compiler.New(
		compiler.WithLogger(env.logger),
		compiler.WithMetrics(tel.Metrics),
	)
	if settings.CompileCache.Enabled {
		store, err := openStore(ctx, settings.CompileCache.Path)
		if err != nil {
			env.Close(ctx)
			return nil, err
		}
		env.store = store
		comp = compiler.NewCaching(comp, store, env.logger, tel.Metrics)
	}
	env.compiler = comp

	return env, nil
}

func telemetryConfig(s *config.Settings) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = appVersion
	cfg.Logging.Level = s.Logging.Level
	cfg.Logging.Format = s.Logging.Format
	cfg.Tracing.Enabled = s.Tracing.Enabled
	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.Insecure = s.Tracing.Insecure
	cfg.Metrics.Enabled = s.Metrics.Enabled
	cfg.Metrics.ListenAddress = s.Metrics.ListenAddress
	cfg.Metrics.Path = s.Metrics.Path
	return cfg
}

func openStore(ctx context.Context, dbPath string) (*stores.SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	store, err := stores.Open(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open compile cache: %w", err)
	}
	return store, nil
}

// abs turns a command-line path into a host path.
func (e *environment) abs(p string) string {
	if e.remote != nil {
		if path.IsAbs(p) {
			return p
		}
		return path.Join(e.settings.Remote.Root, p)
	}
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return p
}

func (e *environment) discoverer() *discovery.Discoverer {
	return discovery.New(e.host, discovery.Options{
		ConfigNames: e.settings.ConfigNames,
		RegistryOptions: discovery.RegistryOptions{
			Compiler:          e.compiler,
			ResolverCacheSize: e.settings.Resolver.CacheSize,
		},
		Logger:  e.logger,
		Metrics: e.telemetry.Metrics,
	})
}

// projectConfig loads the configuration nearest to file. A file outside any
// project runs with defaults.
func (e *environment) projectConfig(file engine.NormalizedPath) (*engine.ProjectConfig, error) {
	configFile, err := config.FindConfigFile(e.host, file, e.settings.ConfigNames...)
	if engine.IsConfigurationNotFound(err) {
		return &engine.ProjectConfig{}, nil
	}
	if err != nil {
		return nil, err
	}
	return config.NewTSConfigLoader(e.host).Load(configFile)
}

// runtime creates a standalone runtime for file's project.
func (e *environment) runtime(file engine.NormalizedPath) (*script.Runtime, error) {
	cfg, err := e.projectConfig(file)
	if err != nil {
		return nil, err
	}
	return script.New(e.host, script.Options{
		Config:            cfg,
		Compiler:          e.compiler,
		ResolverCacheSize: e.settings.Resolver.CacheSize,
		Logger:            e.logger,
		Metrics:           e.telemetry.Metrics,
	})
}

func (e *environment) normalize(p string) engine.NormalizedPath {
	return engine.Normalize(e.abs(p), "", e.host.CaseSensitive())
}

// Close releases the store, the remote connection and flushes telemetry.
func (e *environment) Close(ctx context.Context) {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close compile cache")
		}
	}
	if e.remote != nil {
		if err := e.remote.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close remote connection")
		}
	}
	if e.telemetry != nil {
		if err := e.telemetry.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down telemetry")
		}
	}
}
