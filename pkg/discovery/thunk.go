package discovery

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/contentkit/modrun/pkg/engine"
	"github.com/contentkit/modrun/pkg/script"
	"github.com/contentkit/modrun/pkg/telemetry"
)

// Thunk is one deferred module import from a manifest.
type Thunk struct {
	// Index is the thunk's position in the manifest.
	Index int

	fn      goja.Value
	rt      *script.Runtime
	runID   string
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// ContentModule is the settled value of a thunk.
type ContentModule struct {
	Index int

	// Path is the file the thunk imported, when it imported one.
	Path engine.NormalizedPath

	// Exports is the import namespace. It belongs to the runtime and must only
	// be inspected through Runtime.Do.
	Exports goja.Value

	// Default is the exported Go form of the namespace's default export, or of
	// the whole value when it has none.
	Default interface{}
}

// ThunkError is a failed thunk, attributed to the module it imported.
type ThunkError struct {
	Index int
	Path  engine.NormalizedPath
	Err   error
}

func (e *ThunkError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("thunk %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("thunk %d (%s): %v", e.Index, e.Path, e.Err)
}

func (e *ThunkError) Unwrap() error {
	return e.Err
}

// Evaluate invokes the thunk and waits for its import to settle.
func (t *Thunk) Evaluate(ctx context.Context) (*ContentModule, error) {
	ctx, span := t.tracer.Start(ctx, "discovery.Thunk", trace.WithAttributes(
		telemetry.AttrRunID.String(t.runID),
		telemetry.AttrThunkIndex.Int(t.Index),
	))
	defer span.End()

	value, imports, err := t.rt.CallWithImports(ctx, t.fn)
	path := importedPath(imports, err)
	if path != "" {
		span.SetAttributes(telemetry.AttrModulePath.String(string(path)))
	}

	if err == nil {
		var def interface{}
		err = t.rt.Do(ctx, func(vm *goja.Runtime) error {
			def = defaultExport(vm, value)
			return nil
		})
		if err == nil {
			t.metrics.RecordThunk(nil)
			telemetry.RecordSuccess(span)
			t.logger.Debug().Int("thunk", t.Index).Str("path", string(path)).Msg("Thunk evaluated")
			return &ContentModule{Index: t.Index, Path: path, Exports: value, Default: def}, nil
		}
	}

	terr := &ThunkError{Index: t.Index, Path: path, Err: err}
	t.metrics.RecordThunk(err)
	span.SetAttributes(telemetry.ErrorClassAttr(err))
	telemetry.RecordError(span, terr)
	t.logger.Warn().Err(err).Int("thunk", t.Index).Str("path", string(path)).Msg("Thunk failed")
	return nil, terr
}

// importedPath names the module a thunk evaluation concerned: the first file
// it imported, or the file named by its error.
func importedPath(imports []script.ImportRecord, err error) engine.NormalizedPath {
	for _, rec := range imports {
		if rec.Path != "" {
			return rec.Path
		}
	}
	if e, ok := engine.Innermost(err); ok && e.Path != "" {
		return e.Path
	}
	return ""
}

func defaultExport(vm *goja.Runtime, v goja.Value) interface{} {
	if !isObject(v) {
		if v == nil {
			return nil
		}
		return v.Export()
	}
	if def := v.ToObject(vm).Get("default"); def != nil && !goja.IsUndefined(def) {
		return def.Export()
	}
	return v.Export()
}

// Result is the outcome of one thunk in EvaluateAll.
type Result struct {
	Index  int
	Module *ContentModule
	Err    error
}

// EvaluateAll evaluates every thunk in order. A failing thunk does not stop
// the others.
func (m *Manifest) EvaluateAll(ctx context.Context) []Result {
	results := make([]Result, len(m.Thunks))
	for i, t := range m.Thunks {
		mod, err := t.Evaluate(ctx)
		results[i] = Result{Index: i, Module: mod, Err: err}
	}
	return results
}
