package script

import (
	"github.com/dop251/goja"

	"github.com/contentkit/modrun/pkg/engine"
	"github.com/contentkit/modrun/pkg/telemetry"
)

// LoadedModule is one module-cache entry. It is inserted before the module
// body runs, so a module that requires itself, directly or through a cycle,
// sees the same possibly-incomplete exports object.
type LoadedModule struct {
	// Filename is the module's normalized path.
	Filename engine.NormalizedPath

	// Loaded is set once the body returned without throwing.
	Loaded bool

	// Err is the failure raised by the body, if any. A failed module stays
	// cached and is not run again until invalidated.
	Err error

	module *goja.Object
}

// exports returns the current value of module.exports. It must be called on
// the runtime's loop.
func (m *LoadedModule) exports() goja.Value {
	return m.module.Get("exports")
}

// ModuleState is a snapshot of a cache entry that is safe to read from any
// goroutine.
type ModuleState struct {
	Filename engine.NormalizedPath
	Loaded   bool
	Err      error
}

type compiledEntry struct {
	hash string
	text string
}

// moduleCache holds compiled text and loaded modules keyed by normalized
// path. Text compiled for ad hoc Run calls lives apart from file modules, so
// running a source under a real file's path never shadows the file. It is
// owned by one Runtime and only touched on its loop.
type moduleCache struct {
	compiled map[engine.NormalizedPath]string
	adhoc    map[engine.NormalizedPath]compiledEntry
	modules  map[engine.NormalizedPath]*LoadedModule
	metrics  *telemetry.Metrics
}

func newModuleCache(metrics *telemetry.Metrics) *moduleCache {
	c := &moduleCache{metrics: metrics}
	c.reset()
	return c
}

func (c *moduleCache) reset() {
	c.compiled = make(map[engine.NormalizedPath]string)
	c.adhoc = make(map[engine.NormalizedPath]compiledEntry)
	c.modules = make(map[engine.NormalizedPath]*LoadedModule)
}

// lookup returns the cached module for p. A module whose body failed is
// returned with its original error; a module still loading has none.
func (c *moduleCache) lookup(p engine.NormalizedPath) (*LoadedModule, bool, error) {
	m, ok := c.modules[p]
	if !ok {
		return nil, false, nil
	}
	c.metrics.RecordModuleCacheLookup(true)
	return m, true, m.Err
}

// getOrCreate returns the cached module for p, or inserts a new entry and
// runs load on it. The entry is visible to re-entrant requests while load
// runs. A failing load leaves the entry in place with Loaded=false and its
// error, which later lookups report again without re-running the body.
func (c *moduleCache) getOrCreate(p engine.NormalizedPath, create func() *goja.Object, load func(*LoadedModule) error) (*LoadedModule, error) {
	if m, ok, err := c.lookup(p); ok {
		return m, err
	}
	c.metrics.RecordModuleCacheLookup(false)

	m := &LoadedModule{Filename: p, module: create()}
	c.modules[p] = m

	if err := load(m); err != nil {
		m.Err = err
		return m, err
	}
	m.Loaded = true
	return m, nil
}

func (c *moduleCache) compiledText(p engine.NormalizedPath) (string, bool) {
	text, ok := c.compiled[p]
	return text, ok
}

func (c *moduleCache) storeCompiled(p engine.NormalizedPath, text string) {
	c.compiled[p] = text
}

// adhocText returns the text last compiled for an ad hoc run at p, if it was
// compiled from the source with the given hash.
func (c *moduleCache) adhocText(p engine.NormalizedPath, hash string) (string, bool) {
	e, ok := c.adhoc[p]
	if !ok || e.hash != hash {
		return "", false
	}
	return e.text, true
}

func (c *moduleCache) storeAdhoc(p engine.NormalizedPath, hash, text string) {
	c.adhoc[p] = compiledEntry{hash: hash, text: text}
}

func (c *moduleCache) state(p engine.NormalizedPath) (ModuleState, bool) {
	m, ok := c.modules[p]
	if !ok {
		return ModuleState{}, false
	}
	return ModuleState{Filename: m.Filename, Loaded: m.Loaded, Err: m.Err}, true
}

// invalidate drops both the compiled text and the loaded module for p. The
// module is not re-run until it is next required.
func (c *moduleCache) invalidate(p engine.NormalizedPath) {
	delete(c.compiled, p)
	delete(c.adhoc, p)
	delete(c.modules, p)
	c.metrics.RecordInvalidation("path")
}

func (c *moduleCache) clearAll() {
	c.reset()
	c.metrics.RecordInvalidation("all")
}
