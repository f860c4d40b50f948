package script

import (
	"path"
	"sort"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/buffer"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/dop251/goja_nodejs/url"
	"github.com/dop251/goja_nodejs/util"
	"github.com/rs/zerolog"

	"github.com/contentkit/modrun/pkg/engine"
)

// PathModuleName is the name of the Go-backed "path" module.
const PathModuleName = "path"

// DefaultNativeModules returns the host modules every runtime provides.
func DefaultNativeModules(logger zerolog.Logger) map[string]require.ModuleLoader {
	return map[string]require.ModuleLoader{
		console.ModuleName: console.RequireWithPrinter(logPrinter{logger: logger}),
		util.ModuleName:    util.Require,
		url.ModuleName:     url.Require,
		buffer.ModuleName:  buffer.Require,
		PathModuleName:     requirePath,
	}
}

// BuiltinNames returns the sorted module names of natives.
func BuiltinNames(natives map[string]require.ModuleLoader) []string {
	names := make([]string, 0, len(natives))
	for name := range natives {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// newRegistry builds a require registry that knows only natives. The
// registry's own file loader is disabled: every file module goes through the
// runtime's resolver and compiler.
func newRegistry(natives map[string]require.ModuleLoader) *require.Registry {
	reg := require.NewRegistry(require.WithLoader(func(string) ([]byte, error) {
		return nil, require.ModuleFileDoesNotExistError
	}))
	for name, loader := range natives {
		reg.RegisterNativeModule(name, loader)
	}
	return reg
}

// logPrinter routes console output to the structured logger.
type logPrinter struct {
	logger zerolog.Logger
}

func (p logPrinter) Log(s string)   { p.logger.Info().Str("stream", "console").Msg(s) }
func (p logPrinter) Warn(s string)  { p.logger.Warn().Str("stream", "console").Msg(s) }
func (p logPrinter) Error(s string) { p.logger.Error().Str("stream", "console").Msg(s) }

// hostLoader satisfies modules that are not compiled by the runtime: host
// natives, and packages whose only resolution is a declaration file.
type hostLoader struct {
	require goja.Callable
}

func (h *hostLoader) load(vm *goja.Runtime, res engine.Resolution, importer engine.NormalizedPath) (goja.Value, error) {
	switch res.Kind {
	case engine.SourceBuiltin:
		v, err := h.require(goja.Undefined(), vm.ToValue(string(res.Path)))
		if err != nil {
			return nil, engine.NewModuleExecutionError(res.Path, err)
		}
		return v, nil
	default:
		e := engine.NewModuleNotFoundError(res.Specifier, importer)
		e.Message = "package has no JavaScript entry next to " + string(res.Path)
		e.Path = res.Path
		return nil, e
	}
}

func requirePath(vm *goja.Runtime, module *goja.Object) {
	o := module.Get("exports").(*goja.Object)

	strs := func(call goja.FunctionCall) []string {
		out := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			out[i] = a.String()
		}
		return out
	}

	_ = o.Set("sep", "/")
	_ = o.Set("delimiter", ":")
	_ = o.Set("join", func(call goja.FunctionCall) goja.Value {
		parts := strs(call)
		if len(parts) == 0 {
			return vm.ToValue(".")
		}
		return vm.ToValue(path.Join(parts...))
	})
	_ = o.Set("resolve", func(call goja.FunctionCall) goja.Value {
		resolved := "/"
		for _, p := range strs(call) {
			if strings.HasPrefix(p, "/") {
				resolved = p
			} else if p != "" {
				resolved = resolved + "/" + p
			}
		}
		return vm.ToValue(path.Clean(resolved))
	})
	_ = o.Set("normalize", func(p string) string { return path.Clean(p) })
	_ = o.Set("isAbsolute", func(p string) bool { return strings.HasPrefix(p, "/") })
	_ = o.Set("dirname", func(p string) string { return path.Dir(p) })
	_ = o.Set("extname", func(p string) string { return path.Ext(p) })
	_ = o.Set("basename", func(p string, ext string) string {
		base := path.Base(p)
		if ext != "" && ext != base {
			base = strings.TrimSuffix(base, ext)
		}
		return base
	})
	_ = o.Set("relative", func(from, to string) string {
		return relative(path.Clean("/"+from), path.Clean("/"+to))
	})
	_ = o.Set("posix", o)
}

func relative(from, to string) string {
	if from == to {
		return ""
	}
	fp := strings.Split(strings.Trim(from, "/"), "/")
	tp := strings.Split(strings.Trim(to, "/"), "/")
	if from == "/" {
		fp = nil
	}
	if to == "/" {
		tp = nil
	}
	i := 0
	for i < len(fp) && i < len(tp) && fp[i] == tp[i] {
		i++
	}
	var out []string
	for range fp[i:] {
		out = append(out, "..")
	}
	out = append(out, tp[i:]...)
	return strings.Join(out, "/")
}
