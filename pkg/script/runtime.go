// Package script runs compiled modules inside a sandboxed goja runtime.
//
// A Runtime owns one JavaScript engine, its event loop, a module cache and a
// compiled-text cache. Every operation is submitted to the loop, so the
// engine is only ever touched from one goroutine. Modules see a closed set of
// capabilities (see Capabilities); the host's own require, process and timer
// globals are never reachable from module code.
package script

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/contentkit/modrun/pkg/compiler"
	"github.com/contentkit/modrun/pkg/engine"
	"github.com/contentkit/modrun/pkg/resolver"
	"github.com/contentkit/modrun/pkg/telemetry"
)

// ErrClosed is returned by operations on a closed Runtime.
var ErrClosed = errors.New("runtime is closed")

// Options configures a Runtime.
type Options struct {
	// Config supplies the dialect options and alias table. Nil means defaults.
	Config *engine.ProjectConfig

	// Compiler defaults to the esbuild front end.
	Compiler engine.Compiler

	// Resolver defaults to a resolver over the runtime's host using Config.
	Resolver engine.Resolver

	// ResolverCacheSize bounds the default resolver's memo.
	ResolverCacheSize int

	// NativeModules replaces DefaultNativeModules when set.
	NativeModules map[string]require.ModuleLoader

	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
}

// ImportRecord describes one async import made by module code.
type ImportRecord struct {
	Specifier string
	Importer  engine.NormalizedPath

	// Path is empty when the specifier did not resolve.
	Path engine.NormalizedPath
	Err  error
}

type importLog struct {
	mu      sync.Mutex
	records []ImportRecord
}

func (l *importLog) add(r ImportRecord) {
	l.mu.Lock()
	l.records = append(l.records, r)
	l.mu.Unlock()
}

func (l *importLog) snapshot() []ImportRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ImportRecord(nil), l.records...)
}

// Runtime is a script runtime bound to one project configuration.
type Runtime struct {
	host     engine.ResolutionHost
	config   *engine.ProjectConfig
	compiler engine.Compiler
	resolver engine.Resolver
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer

	loop    *eventloop.EventLoop
	vm      *goja.Runtime
	sandbox *sandbox
	native  *hostLoader
	cache   *moduleCache

	// ops serializes public operations.
	ops sync.Mutex

	trackMu  sync.Mutex
	tracking *importLog

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a runtime reading sources through h.
func New(h engine.ResolutionHost, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = &engine.ProjectConfig{}
	}
	logger := opts.Logger.With().Str("component", "runtime").Logger()

	natives := opts.NativeModules
	if natives == nil {
		natives = DefaultNativeModules(logger)
	}

	comp := opts.Compiler
	if comp == nil {
		comp = compiler.New(compiler.WithLogger(opts.Logger), compiler.WithMetrics(opts.Metrics))
	}

	res := opts.Resolver
	if res == nil {
		r, err := resolver.New(h, resolver.Options{
			Config:    cfg,
			Builtins:  BuiltinNames(natives),
			CacheSize: opts.ResolverCacheSize,
			Logger:    opts.Logger,
			Metrics:   opts.Metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("creating resolver: %w", err)
		}
		res = r
	}

	rt := &Runtime{
		host:     h,
		config:   cfg,
		compiler: comp,
		resolver: res,
		logger:   logger,
		metrics:  opts.Metrics,
		tracer:   otel.Tracer(telemetry.InstrumentationName),
		native:   &hostLoader{},
		cache:    newModuleCache(opts.Metrics),
		closed:   make(chan struct{}),
	}

	rt.loop = eventloop.NewEventLoop(
		eventloop.WithRegistry(newRegistry(natives)),
		eventloop.EnableConsole(false),
	)
	rt.loop.Start()

	err := rt.do(context.Background(), "", func(vm *goja.Runtime) error {
		rt.vm = vm
		sb, err := newSandbox(vm, rt.native)
		if err != nil {
			return err
		}
		rt.sandbox = sb
		return nil
	})
	if err != nil {
		rt.loop.Stop()
		return nil, fmt.Errorf("initializing sandbox: %w", err)
	}

	rt.metrics.RuntimeOpened()
	rt.logger.Debug().Str("config", string(cfg.ConfigFile)).Msg("Runtime started")
	return rt, nil
}

// Config returns the project configuration the runtime was created with.
func (rt *Runtime) Config() *engine.ProjectConfig {
	return rt.config
}

// Close interrupts any running script and stops the event loop. Pending
// timers are dropped.
func (rt *Runtime) Close() {
	rt.closeOnce.Do(func() {
		close(rt.closed)
		if rt.vm != nil {
			rt.vm.Interrupt(ErrClosed)
		}
		rt.loop.Stop()
		rt.metrics.RuntimeClosed()
		rt.logger.Debug().Msg("Runtime closed")
	})
}

// do runs job on the loop and waits for it. When ctx ends first the running
// script is interrupted and the result is an execution error for p.
func (rt *Runtime) do(ctx context.Context, p engine.NormalizedPath, job func(vm *goja.Runtime) error) error {
	select {
	case <-rt.closed:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return engine.NewModuleExecutionError(p, err)
	}

	done := make(chan error, 1)
	submitted := rt.loop.RunOnLoop(func(vm *goja.Runtime) {
		vm.ClearInterrupt()
		if err := ctx.Err(); err != nil {
			done <- engine.NewModuleExecutionError(p, err)
			return
		}
		done <- safely(vm, job)
	})
	if !submitted {
		return ErrClosed
	}

	select {
	case err := <-done:
		return err
	case <-rt.closed:
		return ErrClosed
	case <-ctx.Done():
	}

	rt.vm.Interrupt(ctx.Err())
	select {
	case err := <-done:
		if err == nil || errors.Is(err, ctx.Err()) {
			return err
		}
		return engine.NewModuleExecutionError(p, ctx.Err())
	case <-rt.closed:
		return ErrClosed
	}
}

func safely(vm *goja.Runtime, job func(vm *goja.Runtime) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("panic in runtime job: %v", r)
		}
	}()
	return job(vm)
}

// Do runs fn on the runtime's loop. Values obtained from the runtime must only
// be inspected inside Do.
func (rt *Runtime) Do(ctx context.Context, fn func(vm *goja.Runtime) error) error {
	rt.ops.Lock()
	defer rt.ops.Unlock()
	return rt.do(ctx, "", fn)
}

// Export converts v to a Go value on the loop.
func (rt *Runtime) Export(ctx context.Context, v goja.Value) (interface{}, error) {
	var out interface{}
	err := rt.Do(ctx, func(*goja.Runtime) error {
		if v != nil {
			out = v.Export()
		}
		return nil
	})
	return out, err
}

// Run compiles and executes source as if it lived at virtualPath and returns
// its exports. The module is not added to the module cache; only its compiled
// text is kept.
func (rt *Runtime) Run(ctx context.Context, source, virtualPath string) (goja.Value, error) {
	p := engine.Normalize(virtualPath, "", rt.host.CaseSensitive())
	ctx, span := rt.tracer.Start(ctx, "runtime.Run", trace.WithAttributes(telemetry.AttrModulePath.String(string(p))))
	defer span.End()

	rt.ops.Lock()
	defer rt.ops.Unlock()

	var exports goja.Value
	err := rt.do(ctx, p, func(vm *goja.Runtime) error {
		text, err := rt.compileAdhoc(p, source)
		if err != nil {
			return err
		}
		module := rt.sandbox.newModule(p)
		if err := rt.execute(p, engine.SourceLoadable, text, module); err != nil {
			return err
		}
		exports = module.Get("exports")
		return nil
	})
	finish(span, err)
	return exports, err
}

// LoadModule loads the file at filePath, running it on first load, and
// returns its exports. Loading the same path again returns the cached exports
// object without re-running the body.
func (rt *Runtime) LoadModule(ctx context.Context, filePath string) (goja.Value, error) {
	p := engine.Normalize(filePath, "", rt.host.CaseSensitive())
	ctx, span := rt.tracer.Start(ctx, "runtime.LoadModule", trace.WithAttributes(telemetry.AttrModulePath.String(string(p))))
	defer span.End()

	rt.ops.Lock()
	defer rt.ops.Unlock()

	kind := engine.SourceLoadable
	if path.Ext(string(p)) == ".json" {
		kind = engine.SourceJSON
	}

	var exports goja.Value
	err := rt.do(ctx, p, func(*goja.Runtime) error {
		m, err := rt.loadFile(p, kind, "")
		if err != nil {
			return err
		}
		exports = m.exports()
		return nil
	})
	finish(span, err)
	return exports, err
}

// Require resolves specifier as imported from importer and returns the
// module's exports.
func (rt *Runtime) Require(ctx context.Context, specifier, importer string) (goja.Value, error) {
	from := engine.Normalize(importer, "", rt.host.CaseSensitive())
	ctx, span := rt.tracer.Start(ctx, "runtime.Require", trace.WithAttributes(
		telemetry.AttrSpecifier.String(specifier),
		telemetry.AttrModulePath.String(string(from)),
	))
	defer span.End()

	rt.ops.Lock()
	defer rt.ops.Unlock()

	var exports goja.Value
	err := rt.do(ctx, from, func(*goja.Runtime) error {
		v, _, err := rt.require(specifier, from)
		exports = v
		return err
	})
	finish(span, err)
	return exports, err
}

// Call invokes fn with args. When fn returns a promise, Call waits for it to
// settle and returns the fulfilled value or the rejection as an error.
func (rt *Runtime) Call(ctx context.Context, fn goja.Value, args ...goja.Value) (goja.Value, error) {
	v, _, err := rt.CallWithImports(ctx, fn, args...)
	return v, err
}

type settlement struct {
	value goja.Value
	err   error
}

// CallWithImports is Call, also returning every async import made while the
// call was in flight.
func (rt *Runtime) CallWithImports(ctx context.Context, fn goja.Value, args ...goja.Value) (goja.Value, []ImportRecord, error) {
	rt.ops.Lock()
	defer rt.ops.Unlock()

	log := &importLog{}
	rt.setTracking(log)
	defer rt.setTracking(nil)

	settled := make(chan settlement, 1)
	err := rt.do(ctx, "", func(vm *goja.Runtime) error {
		callable, ok := goja.AssertFunction(fn)
		if !ok {
			return errors.New("value is not callable")
		}
		ret, err := callable(goja.Undefined(), args...)
		if err != nil {
			return executionError("", err)
		}
		if _, isPromise := ret.Export().(*goja.Promise); !isPromise {
			settled <- settlement{value: ret}
			return nil
		}
		return awaitPromise(vm, ret.ToObject(vm), settled)
	})
	if err != nil {
		return nil, log.snapshot(), err
	}

	select {
	case s := <-settled:
		return s.value, log.snapshot(), s.err
	case <-ctx.Done():
		// Reactions still pending on timers stop at their next JS step
		// instead of loading modules for a caller that has gone.
		rt.vm.Interrupt(ctx.Err())
		return nil, log.snapshot(), engine.NewModuleExecutionError("", ctx.Err())
	case <-rt.closed:
		return nil, log.snapshot(), ErrClosed
	}
}

// awaitPromise attaches settlement callbacks to promise. The callbacks run on
// the loop, possibly before awaitPromise returns.
func awaitPromise(vm *goja.Runtime, promise *goja.Object, settled chan<- settlement) error {
	then, ok := goja.AssertFunction(promise.Get("then"))
	if !ok {
		return errors.New("promise has no then method")
	}
	onFulfilled := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		settled <- settlement{value: call.Argument(0)}
		return goja.Undefined()
	})
	onRejected := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		settled <- settlement{err: rejectionError(call.Argument(0))}
		return goja.Undefined()
	})
	_, err := then(promise, onFulfilled, onRejected)
	return err
}

// Module reports the cache state of filePath.
func (rt *Runtime) Module(ctx context.Context, filePath string) (ModuleState, bool, error) {
	p := engine.Normalize(filePath, "", rt.host.CaseSensitive())
	var (
		state ModuleState
		found bool
	)
	err := rt.Do(ctx, func(*goja.Runtime) error {
		state, found = rt.cache.state(p)
		return nil
	})
	return state, found, err
}

// Invalidate drops the compiled text and loaded module for filePath and
// purges the resolution memo. The module re-runs when it is next required.
func (rt *Runtime) Invalidate(filePath string) {
	p := engine.Normalize(filePath, "", rt.host.CaseSensitive())
	err := rt.Do(context.Background(), func(*goja.Runtime) error {
		rt.cache.invalidate(p)
		return nil
	})
	if err != nil {
		return
	}
	rt.resolver.Purge()
	rt.logger.Debug().Str("path", string(p)).Msg("Module invalidated")
}

// ClearAll drops every cached module, every compiled text and the resolution
// memo.
func (rt *Runtime) ClearAll() {
	err := rt.Do(context.Background(), func(*goja.Runtime) error {
		rt.cache.clearAll()
		return nil
	})
	if err != nil {
		return
	}
	rt.resolver.Purge()
	rt.logger.Debug().Msg("Cleared all modules")
}

func (rt *Runtime) setTracking(l *importLog) {
	rt.trackMu.Lock()
	rt.tracking = l
	rt.trackMu.Unlock()
}

func (rt *Runtime) track(r ImportRecord) {
	rt.trackMu.Lock()
	l := rt.tracking
	rt.trackMu.Unlock()
	if l != nil {
		l.add(r)
	}
}

// The methods below run on the loop.

// require resolves and loads specifier for importer.
func (rt *Runtime) require(specifier string, importer engine.NormalizedPath) (goja.Value, engine.Resolution, error) {
	res, err := rt.resolver.Resolve(specifier, importer)
	if err != nil {
		return nil, engine.Resolution{}, err
	}

	switch res.Kind {
	case engine.SourceBuiltin, engine.SourceDeclarationOnly:
		v, err := rt.native.load(rt.vm, res, importer)
		return v, res, err
	default:
		m, err := rt.loadFile(res.Path, res.Kind, importer)
		if err != nil {
			return nil, res, err
		}
		return m.exports(), res, nil
	}
}

// loadFile returns the cached module for p or loads it. A module whose body
// failed earlier is not run again; its original error is returned.
func (rt *Runtime) loadFile(p engine.NormalizedPath, kind engine.SourceKind, importer engine.NormalizedPath) (*LoadedModule, error) {
	if m, ok, err := rt.cache.lookup(p); ok {
		return m, err
	}

	source, ok := rt.host.ReadFile(string(p))
	if !ok {
		return nil, engine.NewModuleNotFoundError(string(p), importer)
	}
	text, err := rt.compile(p, source)
	if err != nil {
		return nil, err
	}

	return rt.cache.getOrCreate(p, func() *goja.Object {
		return rt.sandbox.newModule(p)
	}, func(m *LoadedModule) error {
		return rt.execute(p, kind, text, m.module)
	})
}

// compile returns compiled text for the file module p, reusing the cached
// text until p is invalidated.
func (rt *Runtime) compile(p engine.NormalizedPath, source string) (string, error) {
	if text, ok := rt.cache.compiledText(p); ok {
		return text, nil
	}
	text, err := rt.compiler.Compile(source, p, rt.config.Dialect)
	if err != nil {
		return "", err
	}
	rt.cache.storeCompiled(p, text)
	return text, nil
}

// compileAdhoc compiles source for a Run at p. The text is reused while the
// source is unchanged and never seen by file loads.
func (rt *Runtime) compileAdhoc(p engine.NormalizedPath, source string) (string, error) {
	hash := compiler.Hash(source, p, rt.config.Dialect)
	if text, ok := rt.cache.adhocText(p, hash); ok {
		return text, nil
	}
	text, err := rt.compiler.Compile(source, p, rt.config.Dialect)
	if err != nil {
		return "", err
	}
	rt.cache.storeAdhoc(p, hash, text)
	return text, nil
}

// execute runs text as the body of module, wiring p's capabilities.
func (rt *Runtime) execute(p engine.NormalizedPath, kind engine.SourceKind, text string, module *goja.Object) error {
	start := time.Now()
	err := rt.sandbox.execute(p, text, module, bindings{
		require: rt.requireFunc(p),
		load:    rt.importFunc(p),
	})
	rt.metrics.RecordModuleLoad(string(kind), time.Since(start), err)
	if err != nil {
		rt.logger.Debug().Err(err).Str("path", string(p)).Msg("Module failed")
		return err
	}
	_ = module.Set("loaded", true)
	rt.logger.Debug().Str("path", string(p)).Dur("duration", time.Since(start)).Msg("Module loaded")
	return nil
}

// requireFunc is the require capability of the module at importer.
func (rt *Runtime) requireFunc(importer engine.NormalizedPath) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		exports, _, err := rt.require(call.Argument(0).String(), importer)
		if err != nil {
			panic(rt.vm.NewGoError(err))
		}
		return exports
	}
}

// importFunc loads a module for the async import helper. It returns the
// import namespace or throws, which rejects the helper's promise.
func (rt *Runtime) importFunc(importer engine.NormalizedPath) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		specifier := call.Argument(0).String()
		exports, res, err := rt.require(specifier, importer)
		rt.track(ImportRecord{Specifier: specifier, Importer: importer, Path: res.Path, Err: err})
		if err != nil {
			panic(rt.vm.NewGoError(err))
		}
		return rt.sandbox.namespace(exports)
	}
}

func executionError(p engine.NormalizedPath, err error) error {
	inner := goError(err)
	if _, ok := engine.AsError(inner); ok {
		return inner
	}
	return engine.NewModuleExecutionError(p, inner)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(telemetry.ErrorClassAttr(err))
		telemetry.RecordError(span, err)
		return
	}
	telemetry.RecordSuccess(span)
}
