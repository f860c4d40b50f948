package discovery

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/contentkit/modrun/pkg/config"
	"github.com/contentkit/modrun/pkg/engine"
	"github.com/contentkit/modrun/pkg/script"
	"github.com/contentkit/modrun/pkg/telemetry"
)

// RegistryOptions configures the runtimes a Registry creates.
type RegistryOptions struct {
	// Compiler is shared by every runtime. Nil means each runtime uses the
	// default esbuild front end.
	Compiler engine.Compiler

	// ResolverCacheSize bounds each runtime's resolution memo.
	ResolverCacheSize int

	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
}

// Registry keeps one script runtime per project configuration file. Runtimes
// are created on first use and share nothing with each other.
type Registry struct {
	host    engine.ResolutionHost
	loader  *config.TSConfigLoader
	opts    RegistryOptions
	logger  zerolog.Logger
	group   singleflight.Group
	mu      sync.Mutex
	entries map[engine.NormalizedPath]*script.Runtime
}

// NewRegistry creates an empty registry reading through h.
func NewRegistry(h engine.ResolutionHost, opts RegistryOptions) *Registry {
	return &Registry{
		host:    h,
		loader:  config.NewTSConfigLoader(h),
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "registry").Logger(),
		entries: make(map[engine.NormalizedPath]*script.Runtime),
	}
}

// Runtime returns the runtime for configFile, creating it when needed.
// Concurrent callers for the same file share one creation.
func (r *Registry) Runtime(configFile engine.NormalizedPath) (*script.Runtime, error) {
	r.mu.Lock()
	rt, ok := r.entries[configFile]
	r.mu.Unlock()
	if ok {
		return rt, nil
	}

	v, err, _ := r.group.Do(string(configFile), func() (interface{}, error) {
		r.mu.Lock()
		if rt, ok := r.entries[configFile]; ok {
			r.mu.Unlock()
			return rt, nil
		}
		r.mu.Unlock()

		cfg, err := r.loader.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", configFile, err)
		}
		rt, err := script.New(r.host, script.Options{
			Config:            cfg,
			Compiler:          r.opts.Compiler,
			ResolverCacheSize: r.opts.ResolverCacheSize,
			Logger:            r.opts.Logger,
			Metrics:           r.opts.Metrics,
		})
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.entries[configFile] = rt
		r.mu.Unlock()

		r.logger.Info().Str("config", string(configFile)).Msg("Runtime created")
		return rt, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*script.Runtime), nil
}

// ConfigFiles returns the configuration files with a live runtime.
func (r *Registry) ConfigFiles() []engine.NormalizedPath {
	r.mu.Lock()
	defer r.mu.Unlock()
	files := make([]engine.NormalizedPath, 0, len(r.entries))
	for f := range r.entries {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i] < files[j] })
	return files
}

func (r *Registry) snapshot() []*script.Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*script.Runtime, 0, len(r.entries))
	for _, rt := range r.entries {
		out = append(out, rt)
	}
	return out
}

// Invalidate implements engine.Invalidator by fanning out to every runtime.
func (r *Registry) Invalidate(p engine.NormalizedPath) {
	for _, rt := range r.snapshot() {
		rt.Invalidate(string(p))
	}
}

// ClearAll implements engine.Invalidator.
func (r *Registry) ClearAll() {
	for _, rt := range r.snapshot() {
		rt.ClearAll()
	}
}

// Reset closes every runtime. The next request re-reads its configuration.
func (r *Registry) Reset() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[engine.NormalizedPath]*script.Runtime)
	r.mu.Unlock()

	for _, rt := range entries {
		rt.Close()
	}
	if len(entries) > 0 {
		r.logger.Info().Int("runtimes", len(entries)).Msg("Runtimes reset")
	}
}

// Close closes every runtime.
func (r *Registry) Close() {
	r.Reset()
}
