package script

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentkit/modrun/pkg/compiler"
	"github.com/contentkit/modrun/pkg/engine"
	"github.com/contentkit/modrun/pkg/host"
)

type fixture struct {
	rt       *Runtime
	host     *host.Memory
	compiler *compiler.Counting
}

func newFixture(t *testing.T, files map[string]string, opts ...func(*Options)) *fixture {
	t.Helper()
	h := host.NewMemoryFromMap(files)
	counting := compiler.NewCounting(compiler.New())
	o := Options{Compiler: counting, Logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	rt, err := New(h, o)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return &fixture{rt: rt, host: h, compiler: counting}
}

// member reads a property path from v on the runtime's loop.
func (f *fixture) member(t *testing.T, v goja.Value, keys ...string) goja.Value {
	t.Helper()
	var out goja.Value
	require.NoError(t, f.rt.Do(context.Background(), func(vm *goja.Runtime) error {
		cur := v
		for _, k := range keys {
			if cur == nil || goja.IsUndefined(cur) || goja.IsNull(cur) {
				return errors.New("no property " + k)
			}
			cur = cur.ToObject(vm).Get(k)
		}
		out = cur
		return nil
	}))
	return out
}

func (f *fixture) export(t *testing.T, v goja.Value, keys ...string) interface{} {
	t.Helper()
	out, err := f.rt.Export(context.Background(), f.member(t, v, keys...))
	require.NoError(t, err)
	return out
}

func TestLoadModule_ReturnsCachedExports(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/p/a.ts": `export const n: number = 1; export default { title: "A" };`,
	})
	ctx := context.Background()

	first, err := f.rt.LoadModule(ctx, "/p/a.ts")
	require.NoError(t, err)
	second, err := f.rt.LoadModule(ctx, "/p/./a.ts")
	require.NoError(t, err)

	assert.True(t, first == second, "expected the same exports object")
	assert.Equal(t, 1, f.compiler.CallsFor("/p/a.ts"))
	assert.Equal(t, "A", f.export(t, first, "default", "title"))
	assert.Equal(t, int64(1), f.export(t, first, "n"))

	state, found, err := f.rt.Module(ctx, "/p/a.ts")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, state.Loaded)
}

func TestRequire_CycleSeesPartialExports(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/p/a.js": `exports.early = "a";
const b = require("./b");
exports.fromB = b.sawEarly;
exports.bSawDone = b.sawDone;
exports.done = true;`,
		"/p/b.js": `const a = require("./a");
exports.sawEarly = a.early;
exports.sawDone = a.done === true;`,
	})

	a, err := f.rt.LoadModule(context.Background(), "/p/a.js")
	require.NoError(t, err)
	assert.Equal(t, "a", f.export(t, a, "fromB"))
	assert.Equal(t, false, f.export(t, a, "bSawDone"))
	assert.Equal(t, 1, f.compiler.CallsFor("/p/a.js"))
	assert.Equal(t, 1, f.compiler.CallsFor("/p/b.js"))
}

func TestInvalidate_RecompilesOnNextLoad(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/p/a.ts": `export const v = "one";`,
	})
	ctx := context.Background()

	v, err := f.rt.LoadModule(ctx, "/p/a.ts")
	require.NoError(t, err)
	assert.Equal(t, "one", f.export(t, v, "v"))

	f.host.WriteFile("/p/a.ts", `export const v = "two";`)
	v, err = f.rt.LoadModule(ctx, "/p/a.ts")
	require.NoError(t, err)
	assert.Equal(t, "one", f.export(t, v, "v"), "cached until invalidated")

	f.rt.Invalidate("/p/a.ts")
	v, err = f.rt.LoadModule(ctx, "/p/a.ts")
	require.NoError(t, err)
	assert.Equal(t, "two", f.export(t, v, "v"))
	assert.Equal(t, 2, f.compiler.CallsFor("/p/a.ts"))

	f.rt.ClearAll()
	_, found, err := f.rt.Module(ctx, "/p/a.ts")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRequire_DeclarationFilesAreNeverCompiled(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/p/node_modules/typed/package.json": `{"name": "typed", "types": "index.d.ts"}`,
		"/p/node_modules/typed/index.d.ts":   `export declare const x: number;`,
		"/p/node_modules/both/package.json":  `{"name": "both", "types": "index.d.ts", "main": "index.js"}`,
		"/p/node_modules/both/index.d.ts":    `export declare const v: number;`,
		"/p/node_modules/both/index.js":      `module.exports = { v: 42 };`,
		"/p/typed.ts":                        `import { x } from "typed"; export default x;`,
		"/p/both.ts":                         `import { v } from "both"; export default v;`,
	})
	ctx := context.Background()

	_, err := f.rt.LoadModule(ctx, "/p/typed.ts")
	require.Error(t, err)
	assert.True(t, engine.IsNotFound(err), "got %v", err)

	both, err := f.rt.LoadModule(ctx, "/p/both.ts")
	require.NoError(t, err)
	assert.Equal(t, int64(42), f.export(t, both, "default"))

	assert.Zero(t, f.compiler.CallsFor("/p/node_modules/typed/index.d.ts"))
	assert.Zero(t, f.compiler.CallsFor("/p/node_modules/both/index.d.ts"))
	assert.Equal(t, 1, f.compiler.CallsFor("/p/node_modules/both/index.js"))
}

func TestCall_AsyncImportMatchesRequire(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/p/m.ts": `export const v = 1;`,
		"/p/c.js": `module.exports = { k: 2 };`,
		"/p/main.ts": `
export async function viaImport() { return import("./m"); }
export function viaRequire() { return require("./m"); }
export function cjs() { return import("./c"); }
`,
	})
	ctx := context.Background()

	main, err := f.rt.LoadModule(ctx, "/p/main.ts")
	require.NoError(t, err)

	imported, imports, err := f.rt.CallWithImports(ctx, f.member(t, main, "viaImport"))
	require.NoError(t, err)
	required, err := f.rt.Call(ctx, f.member(t, main, "viaRequire"))
	require.NoError(t, err)
	assert.True(t, imported == required, "import of a transpiled module yields its exports")
	require.Len(t, imports, 1)
	assert.Equal(t, engine.NormalizedPath("/p/m.ts"), imports[0].Path)
	assert.Equal(t, engine.NormalizedPath("/p/main.ts"), imports[0].Importer)
	assert.Equal(t, 1, f.compiler.CallsFor("/p/m.ts"))

	ns, err := f.rt.Call(ctx, f.member(t, main, "cjs"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.export(t, ns, "k"))
	assert.Equal(t, int64(2), f.export(t, ns, "default", "k"))
}

func TestCall_WaitsForTimers(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/p/later.ts": `export function later() {
	return new Promise<string>((resolve) => setTimeout(() => resolve("done"), 10));
}
export async function fails() { throw new Error("nope"); }`,
	})
	ctx := context.Background()

	mod, err := f.rt.LoadModule(ctx, "/p/later.ts")
	require.NoError(t, err)

	v, err := f.rt.Call(ctx, f.member(t, mod, "later"))
	require.NoError(t, err)
	got, err := f.rt.Export(ctx, v)
	require.NoError(t, err)
	assert.Equal(t, "done", got)

	_, err = f.rt.Call(ctx, f.member(t, mod, "fails"))
	require.Error(t, err)
	assert.True(t, engine.IsExecution(err))
	assert.Contains(t, err.Error(), "nope")
}

func TestLoadModule_FailedBodyIsNotRetried(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/p/bad.ts": `export const before = 1;
throw new Error("boom");`,
	})
	ctx := context.Background()

	_, err := f.rt.LoadModule(ctx, "/p/bad.ts")
	require.Error(t, err)
	assert.True(t, engine.IsExecution(err))
	assert.Contains(t, err.Error(), "boom")
	inner, ok := engine.Innermost(err)
	require.True(t, ok)
	assert.Equal(t, engine.NormalizedPath("/p/bad.ts"), inner.Path)

	state, found, err := f.rt.Module(ctx, "/p/bad.ts")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, state.Loaded)
	assert.Error(t, state.Err)

	_, again := f.rt.LoadModule(ctx, "/p/bad.ts")
	require.Error(t, again, "a cached failure is reported on every access")
	assert.True(t, engine.IsExecution(again))
	assert.Contains(t, again.Error(), "boom")
	assert.Equal(t, 1, f.compiler.CallsFor("/p/bad.ts"))

	_, err = f.rt.Require(ctx, "./bad", "/p/main.ts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	f.rt.Invalidate("/p/bad.ts")
	f.host.WriteFile("/p/bad.ts", `export const before = 2;`)
	fixed, err := f.rt.LoadModule(ctx, "/p/bad.ts")
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.export(t, fixed, "before"))
	assert.Equal(t, 2, f.compiler.CallsFor("/p/bad.ts"))
}

func TestLoadModule_ErrorsAreClassified(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/p/broken.ts":  `export const = ;`,
		"/p/missing.ts": `import x from "./nope"; export default x;`,
	})
	ctx := context.Background()

	_, err := f.rt.LoadModule(ctx, "/p/broken.ts")
	require.Error(t, err)
	assert.True(t, engine.IsCompile(err), "got %v", err)
	_, found, _ := f.rt.Module(ctx, "/p/broken.ts")
	assert.False(t, found, "compile failures are not cached")

	_, err = f.rt.LoadModule(ctx, "/p/missing.ts")
	require.Error(t, err)
	assert.True(t, engine.IsNotFound(err), "got %v", err)
	inner, ok := engine.Innermost(err)
	require.True(t, ok)
	assert.Equal(t, "./nope", inner.Specifier)
	assert.Equal(t, engine.NormalizedPath("/p/missing.ts"), inner.Importer)

	_, err = f.rt.LoadModule(ctx, "/p/absent.ts")
	assert.True(t, engine.IsNotFound(err))
}

func TestLoadModule_Cancellation(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/p/spin.js": `while (true) {}`,
		"/p/ok.js":   `module.exports = "ok";`,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.rt.LoadModule(ctx, "/p/spin.js")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.True(t, engine.IsExecution(err))

	v, err := f.rt.LoadModule(context.Background(), "/p/ok.js")
	require.NoError(t, err)
	assert.Equal(t, "ok", f.export(t, v))
}

func TestSandbox_Containment(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/p/inspect.js": `module.exports = {
	process: typeof process,
	realRequire: Function("return typeof require")(),
	realTimeout: Function("return typeof setTimeout")(),
	scoped: globalThis === global && typeof globalThis.require,
	filename: __filename,
	dirname: __dirname,
};`,
	})

	v, err := f.rt.LoadModule(context.Background(), "/p/inspect.js")
	require.NoError(t, err)
	assert.Equal(t, "undefined", f.export(t, v, "process"))
	assert.Equal(t, "undefined", f.export(t, v, "realRequire"))
	assert.Equal(t, "undefined", f.export(t, v, "realTimeout"))
	assert.Equal(t, "function", f.export(t, v, "scoped"))
	assert.Equal(t, "/p/inspect.js", f.export(t, v, "filename"))
	assert.Equal(t, "/p", f.export(t, v, "dirname"))

	require.NoError(t, f.rt.Do(context.Background(), func(vm *goja.Runtime) error {
		assert.Nil(t, vm.GlobalObject().Get("require"))
		assert.Nil(t, vm.GlobalObject().Get("process"))
		return nil
	}))
}

func TestSandbox_ImplicitGlobalsDoNotLeak(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/p/assign.js":   `leaked = "from assign";`,
		"/p/function.js": `Function("sneaky = 1")(); module.exports = typeof sneaky;`,
		"/p/reader.js":   `module.exports = { leaked: typeof leaked, sneaky: typeof sneaky };`,
	})
	ctx := context.Background()

	_, err := f.rt.LoadModule(ctx, "/p/assign.js")
	require.Error(t, err)
	assert.True(t, engine.IsExecution(err))

	v, err := f.rt.LoadModule(ctx, "/p/function.js")
	require.NoError(t, err)
	assert.Equal(t, "number", f.export(t, v))

	v, err = f.rt.LoadModule(ctx, "/p/reader.js")
	require.NoError(t, err)
	assert.Equal(t, "undefined", f.export(t, v, "leaked"))
	assert.Equal(t, "undefined", f.export(t, v, "sneaky"))
}

func TestCall_CancelStopsPendingImports(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/p/late.js": `module.exports = 1;`,
		"/p/main.js": `module.exports = () => new Promise((resolve) => setTimeout(resolve, 100)).then(() => import("./late"));`,
	})
	ctx := context.Background()

	fn, err := f.rt.LoadModule(ctx, "/p/main.js")
	require.NoError(t, err)

	callCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = f.rt.Call(callCtx, fn)
	require.Error(t, err)
	assert.True(t, engine.IsExecution(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	time.Sleep(300 * time.Millisecond)
	_, found, err := f.rt.Module(ctx, "/p/late.js")
	require.NoError(t, err)
	assert.False(t, found, "the abandoned chain must not load modules")
}

func TestRun_CachesOnlyCompiledText(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	v, err := f.rt.Run(ctx, `export default 40 + 2;`, "/p/adhoc.ts")
	require.NoError(t, err)
	assert.Equal(t, int64(42), f.export(t, v, "default"))

	_, err = f.rt.Run(ctx, `export default 40 + 2;`, "/p/adhoc.ts")
	require.NoError(t, err)
	assert.Equal(t, 1, f.compiler.CallsFor("/p/adhoc.ts"))

	v, err = f.rt.Run(ctx, `export default 1;`, "/p/adhoc.ts")
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.export(t, v, "default"))
	assert.Equal(t, 2, f.compiler.CallsFor("/p/adhoc.ts"))

	_, found, err := f.rt.Module(ctx, "/p/adhoc.ts")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRun_DoesNotShadowFileModule(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/p/m.ts": `export default "disk";`,
	})
	ctx := context.Background()

	v, err := f.rt.Run(ctx, `export default "adhoc";`, "/p/m.ts")
	require.NoError(t, err)
	assert.Equal(t, "adhoc", f.export(t, v, "default"))

	v, err = f.rt.LoadModule(ctx, "/p/m.ts")
	require.NoError(t, err)
	assert.Equal(t, "disk", f.export(t, v, "default"))

	v, err = f.rt.Run(ctx, `export default "adhoc";`, "/p/m.ts")
	require.NoError(t, err)
	assert.Equal(t, "adhoc", f.export(t, v, "default"))
	assert.Equal(t, 2, f.compiler.CallsFor("/p/m.ts"))
}

func TestNativeModules(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture(t, map[string]string{
		"/p/natives.ts": `import * as path from "node:path";
import util from "util";
console.log("hello from module");
export const joined = path.join("a", "b", "../c");
export const rel = path.relative("/p/src", "/p/lib/x.ts");
export const formatted = util.format("%s-%d", "x", 1);`,
		"/p/data.json": `{"a": 1}`,
	}, func(o *Options) {
		o.Logger = zerolog.New(&buf)
	})
	ctx := context.Background()

	v, err := f.rt.LoadModule(ctx, "/p/natives.ts")
	require.NoError(t, err)
	assert.Equal(t, "a/c", f.export(t, v, "joined"))
	assert.Equal(t, "../lib/x.ts", f.export(t, v, "rel"))
	assert.Equal(t, "x-1", f.export(t, v, "formatted"))
	assert.Contains(t, buf.String(), "hello from module")

	data, err := f.rt.Require(ctx, "./data.json", "/p/natives.ts")
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.export(t, data, "a"))
}

func TestClose(t *testing.T) {
	f := newFixture(t, map[string]string{"/p/a.js": `module.exports = 1;`})
	f.rt.Close()
	f.rt.Close()

	_, err := f.rt.LoadModule(context.Background(), "/p/a.js")
	assert.ErrorIs(t, err, ErrClosed)
}
