// Package discovery turns a content manifest into evaluable module thunks.
//
// A manifest is a script whose default export lists content modules as
// deferred imports:
//
//	export default modules(config, [
//		{ def: () => import("./blog.val") },
//		{ def: () => import("./page.val") },
//	]);
//
// Discover loads the manifest in a runtime scoped to the nearest project
// configuration and returns its thunks without invoking them. Each thunk is
// evaluated on demand and fails on its own.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/contentkit/modrun/pkg/config"
	"github.com/contentkit/modrun/pkg/engine"
	"github.com/contentkit/modrun/pkg/telemetry"
)

// Options configures a Discoverer.
type Options struct {
	// ConfigNames are the project configuration file names, in preference
	// order. Empty means config.DefaultConfigNames.
	ConfigNames []string

	// Registry supplies runtimes. Nil means the Discoverer owns a registry
	// built from RegistryOptions.
	Registry        *Registry
	RegistryOptions RegistryOptions

	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
}

// Discoverer loads manifests.
type Discoverer struct {
	host        engine.ResolutionHost
	registry    *Registry
	ownRegistry bool
	configNames []string
	logger      zerolog.Logger
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
}

// New creates a Discoverer reading through h.
func New(h engine.ResolutionHost, opts Options) *Discoverer {
	reg := opts.Registry
	own := false
	if reg == nil {
		ro := opts.RegistryOptions
		if ro.Metrics == nil {
			ro.Metrics = opts.Metrics
		}
		ro.Logger = opts.Logger
		reg = NewRegistry(h, ro)
		own = true
	}
	names := opts.ConfigNames
	if len(names) == 0 {
		names = config.DefaultConfigNames
	}
	return &Discoverer{
		host:        h,
		registry:    reg,
		ownRegistry: own,
		configNames: names,
		logger:      opts.Logger.With().Str("component", "discovery").Logger(),
		metrics:     opts.Metrics,
		tracer:      otel.Tracer(telemetry.InstrumentationName),
	}
}

// Registry returns the registry supplying runtimes.
func (d *Discoverer) Registry() *Registry {
	return d.registry
}

// Close closes the registry if the Discoverer created it.
func (d *Discoverer) Close() {
	if d.ownRegistry {
		d.registry.Close()
	}
}

// Manifest is a loaded manifest and its thunks.
type Manifest struct {
	// RunID identifies this discovery run in logs and spans.
	RunID string

	// Root is the project root the manifest was discovered for.
	Root engine.NormalizedPath

	// Path is the manifest file.
	Path engine.NormalizedPath

	// ConfigFile is the project configuration the runtime was built from.
	ConfigFile engine.NormalizedPath

	// Thunks are the deferred module imports, in manifest order.
	Thunks []*Thunk
}

// Discover loads the manifest at manifestPath. The project configuration is
// the nearest one found walking up from the manifest; when none exists the
// error is a configuration-not-found error. Thunks are not invoked.
func (d *Discoverer) Discover(ctx context.Context, projectRoot, manifestPath string) (*Manifest, error) {
	runID := uuid.New().String()
	manifest := engine.Normalize(manifestPath, projectRoot, d.host.CaseSensitive())
	ctx, span := d.tracer.Start(ctx, "discovery.Discover", trace.WithAttributes(
		telemetry.AttrRunID.String(runID),
		telemetry.AttrManifest.String(string(manifest)),
	))
	defer span.End()

	logger := d.logger.With().Str("run_id", runID).Str("manifest", string(manifest)).Logger()
	start := time.Now()

	m, err := d.discover(ctx, runID, projectRoot, manifest, logger)
	d.metrics.RecordDiscovery(err)
	if err != nil {
		span.SetAttributes(telemetry.ErrorClassAttr(err))
		telemetry.RecordError(span, err)
		logger.Error().Err(err).Msg("Discovery failed")
		return nil, err
	}

	span.SetAttributes(telemetry.AttrThunkCount.Int(len(m.Thunks)))
	telemetry.RecordSuccess(span)
	logger.Info().
		Int("thunks", len(m.Thunks)).
		Str("config", string(m.ConfigFile)).
		Dur("duration", time.Since(start)).
		Msg("Manifest discovered")
	return m, nil
}

func (d *Discoverer) discover(ctx context.Context, runID, projectRoot string, manifest engine.NormalizedPath, logger zerolog.Logger) (*Manifest, error) {
	configFile, err := config.FindConfigFile(d.host, manifest, d.configNames...)
	if err != nil {
		return nil, err
	}

	rt, err := d.registry.Runtime(configFile)
	if err != nil {
		return nil, err
	}

	exports, err := rt.LoadModule(ctx, string(manifest))
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}

	var fns []goja.Value
	err = rt.Do(ctx, func(vm *goja.Runtime) error {
		var err error
		fns, err = extractThunks(vm, exports)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", manifest, err)
	}

	root := engine.Normalize(projectRoot, "", d.host.CaseSensitive())
	if projectRoot == "" {
		root = configFile.Dir()
	}

	m := &Manifest{
		RunID:      runID,
		Root:       root,
		Path:       manifest,
		ConfigFile: configFile,
		Thunks:     make([]*Thunk, len(fns)),
	}
	for i, fn := range fns {
		m.Thunks[i] = &Thunk{
			Index:   i,
			fn:      fn,
			rt:      rt,
			runID:   runID,
			logger:  logger,
			metrics: d.metrics,
			tracer:  d.tracer,
		}
	}
	return m, nil
}

// extractThunks reads the thunk functions from a manifest's exports. The
// default export may be an array of functions, an array of {def} entries, or
// an object with a modules array of either.
func extractThunks(vm *goja.Runtime, exports goja.Value) ([]goja.Value, error) {
	if !isObject(exports) {
		return nil, fmt.Errorf("%w: manifest has no exports", ErrInvalidManifest)
	}
	list := exports.ToObject(vm).Get("default")
	if !isObject(list) {
		return nil, fmt.Errorf("%w: default export is missing", ErrInvalidManifest)
	}

	obj := list.ToObject(vm)
	if obj.ClassName() != "Array" {
		list = obj.Get("modules")
		if !isObject(list) || list.ToObject(vm).ClassName() != "Array" {
			return nil, fmt.Errorf("%w: default export has no modules array", ErrInvalidManifest)
		}
		obj = list.ToObject(vm)
	}

	length := int(obj.Get("length").ToInteger())
	fns := make([]goja.Value, 0, length)
	for i := 0; i < length; i++ {
		entry := obj.Get(fmt.Sprint(i))
		if _, ok := goja.AssertFunction(entry); ok {
			fns = append(fns, entry)
			continue
		}
		if isObject(entry) {
			def := entry.ToObject(vm).Get("def")
			if _, ok := goja.AssertFunction(def); ok {
				fns = append(fns, def)
				continue
			}
		}
		return nil, fmt.Errorf("%w: entry %d is neither a function nor {def: function}", ErrInvalidManifest, i)
	}
	return fns, nil
}

func isObject(v goja.Value) bool {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return false
	}
	_, ok := v.(*goja.Object)
	return ok
}
