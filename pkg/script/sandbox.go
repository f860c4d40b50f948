package script

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/contentkit/modrun/pkg/compiler"
	"github.com/contentkit/modrun/pkg/engine"
)

// Capabilities lists, in wrapper parameter order, every name a module body can
// see besides the language's own built-ins. Nothing else from the host is
// reachable: there is no process object and no global require.
var Capabilities = []string{
	"exports",
	"require",
	"module",
	"__filename",
	"__dirname",
	compiler.AsyncImportName,
	"globalThis",
	"global",
	"console",
	"setTimeout",
	"clearTimeout",
	"setInterval",
	"clearInterval",
}

// hiddenGlobals are removed from the real global object once the event loop
// and registry have installed them.
var hiddenGlobals = []string{
	"require",
	"console",
	"process",
	"setTimeout",
	"clearTimeout",
	"setInterval",
	"clearInterval",
	"setImmediate",
	"clearImmediate",
}

// The parameter list and the strict directive stay on the first line so
// positions reported for the body match the compiled text. Strict mode makes an
// assignment to an undeclared name throw instead of creating a global.
var wrapperHead = "(function (" + strings.Join(Capabilities, ", ") + ") {\"use strict\";"

const wrapperTail = "\n})"

const importFactorySource = `(function (load) {
	return function (specifier) {
		return new Promise(function (resolve) { resolve(load(String(specifier))); });
	};
})`

// hostGlobals are the host values captured before they were hidden.
type hostGlobals struct {
	console       goja.Value
	setTimeout    goja.Value
	clearTimeout  goja.Value
	setInterval   goja.Value
	clearInterval goja.Value
}

// sandbox builds per-module scopes on one goja runtime.
type sandbox struct {
	vm            *goja.Runtime
	globals       hostGlobals
	importFactory goja.Callable

	// baseline holds the global object's own keys once the host globals were
	// hidden. Anything else found there after a module body ran is removed.
	baseline map[string]bool
}

// newSandbox captures the host globals, hides them from the real global
// object and prepares the async import helper. It runs on the loop.
func newSandbox(vm *goja.Runtime, host *hostLoader) (*sandbox, error) {
	global := vm.GlobalObject()

	req, ok := goja.AssertFunction(global.Get("require"))
	if !ok {
		return nil, errors.New("host require is not installed")
	}
	host.require = req

	consoleObj, err := req(goja.Undefined(), vm.ToValue("console"))
	if err != nil {
		return nil, fmt.Errorf("loading console: %w", err)
	}

	sb := &sandbox{
		vm: vm,
		globals: hostGlobals{
			console:       consoleObj,
			setTimeout:    global.Get("setTimeout"),
			clearTimeout:  global.Get("clearTimeout"),
			setInterval:   global.Get("setInterval"),
			clearInterval: global.Get("clearInterval"),
		},
	}

	for _, name := range hiddenGlobals {
		if err := global.Delete(name); err != nil {
			return nil, fmt.Errorf("hiding global %s: %w", name, err)
		}
	}

	factory, err := vm.RunString(importFactorySource)
	if err != nil {
		return nil, fmt.Errorf("compiling import helper: %w", err)
	}
	sb.importFactory, _ = goja.AssertFunction(factory)

	sb.baseline = make(map[string]bool)
	for _, key := range global.Keys() {
		sb.baseline[key] = true
	}
	return sb, nil
}

// sweep deletes globals created since the sandbox was built, such as those
// set through the Function constructor, which runs outside strict mode.
func (sb *sandbox) sweep() {
	global := sb.vm.GlobalObject()
	for _, key := range global.Keys() {
		if !sb.baseline[key] {
			_ = global.Delete(key)
		}
	}
}

// newModule creates the module object for p with an empty exports object.
func (sb *sandbox) newModule(p engine.NormalizedPath) *goja.Object {
	module := sb.vm.NewObject()
	_ = module.Set("id", string(p))
	_ = module.Set("filename", string(p))
	_ = module.Set("exports", sb.vm.NewObject())
	_ = module.Set("loaded", false)
	return module
}

// bindings are the module-specific capabilities.
type bindings struct {
	require func(goja.FunctionCall) goja.Value
	load    func(goja.FunctionCall) goja.Value
}

// scope returns a fresh object holding every capability for one module.
// globalThis and global point back at the scope itself.
func (sb *sandbox) scope(p engine.NormalizedPath, module *goja.Object, b bindings) (*goja.Object, error) {
	vm := sb.vm
	requireFn := vm.ToValue(b.require)
	importFn, err := sb.importFactory(goja.Undefined(), vm.ToValue(b.load))
	if err != nil {
		return nil, err
	}
	_ = module.Set("require", requireFn)

	scope := vm.NewObject()
	values := map[string]goja.Value{
		"exports":                module.Get("exports"),
		"require":                requireFn,
		"module":                 module,
		"__filename":             vm.ToValue(string(p)),
		"__dirname":              vm.ToValue(string(p.Dir())),
		compiler.AsyncImportName: importFn,
		"globalThis":             scope,
		"global":                 scope,
		"console":                sb.globals.console,
		"setTimeout":             sb.globals.setTimeout,
		"clearTimeout":           sb.globals.clearTimeout,
		"setInterval":            sb.globals.setInterval,
		"clearInterval":          sb.globals.clearInterval,
	}
	for _, name := range Capabilities {
		_ = scope.Set(name, values[name])
	}
	return scope, nil
}

// execute runs compiled text as the body of module. The body's this is the
// initial exports object.
func (sb *sandbox) execute(p engine.NormalizedPath, text string, module *goja.Object, b bindings) error {
	prg, err := goja.Compile(string(p), wrapperHead+text+wrapperTail, false)
	if err != nil {
		return engine.NewModuleExecutionError(p, err)
	}
	fnVal, err := sb.vm.RunProgram(prg)
	if err != nil {
		return engine.NewModuleExecutionError(p, err)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return engine.NewModuleExecutionError(p, errors.New("module wrapper is not a function"))
	}

	scope, err := sb.scope(p, module, b)
	if err != nil {
		return engine.NewModuleExecutionError(p, err)
	}
	args := make([]goja.Value, len(Capabilities))
	for i, name := range Capabilities {
		args[i] = scope.Get(name)
	}

	_, err = fn(scope.Get("exports"), args...)
	sb.sweep()
	if err != nil {
		return engine.NewModuleExecutionError(p, goError(err))
	}
	return nil
}

// namespace converts CommonJS exports into what an ECMAScript import
// expression yields. Transpiled ES modules pass through; anything else becomes
// {default: exports, ...exports}.
func (sb *sandbox) namespace(exports goja.Value) goja.Value {
	obj, ok := exports.(*goja.Object)
	if ok && obj.Get("__esModule") != nil && obj.Get("__esModule").ToBoolean() {
		return obj
	}
	ns := sb.vm.NewObject()
	_ = ns.Set("default", exports)
	if ok {
		for _, key := range obj.Keys() {
			_ = ns.Set(key, obj.Get(key))
		}
	}
	return ns
}

// goError returns the Go error carried by a JS exception, if the thrown value
// was created from one. Otherwise err is returned unchanged.
func goError(err error) error {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		if inner := goErrorFromValue(exc.Value()); inner != nil {
			return inner
		}
	}
	return err
}

func goErrorFromValue(v goja.Value) error {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	carried := obj.Get("value")
	if carried == nil {
		return nil
	}
	if inner, ok := carried.Export().(error); ok {
		return inner
	}
	return nil
}

// rejectionError converts a promise rejection reason into a Go error.
func rejectionError(reason goja.Value) error {
	if inner := goErrorFromValue(reason); inner != nil {
		return inner
	}
	if reason == nil || goja.IsUndefined(reason) {
		return engine.NewModuleExecutionError("", errors.New("promise rejected"))
	}
	msg := reason.String()
	if obj, ok := reason.(*goja.Object); ok {
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) && !strings.Contains(msg, stack.String()) {
			msg += "\n" + stack.String()
		}
	}
	return engine.NewModuleExecutionError("", errors.New(msg))
}
