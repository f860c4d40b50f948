// Package resolver decides which file backs an import specifier, following
// the layered strategy TypeScript and Node use: built-in modules, relative
// and absolute paths, compilerOptions.paths aliases and baseUrl, then
// packages found by walking up node_modules directories.
//
// A specifier that only reaches a type declaration file is re-resolved the
// way the host package loader would (JavaScript entry points only), so a
// declaration file is never handed to the compiler.
package resolver

import (
	"path"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/contentkit/modrun/pkg/engine"
	"github.com/contentkit/modrun/pkg/telemetry"
)

// BuiltinPrefix marks a specifier naming a host-provided module.
const BuiltinPrefix = "node:"

// DefaultCacheSize bounds the resolution memo when Options leave it unset.
const DefaultCacheSize = 4096

// Options configures a Resolver.
type Options struct {
	// Config supplies baseUrl and paths. Nil means no project configuration.
	Config *engine.ProjectConfig

	// Builtins are bare names satisfied by host modules.
	Builtins []string

	// CacheSize bounds the resolution memo.
	CacheSize int

	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
}

type memoKey struct {
	specifier string
	dir       engine.NormalizedPath
}

// Resolver implements engine.Resolver over a ResolutionHost.
type Resolver struct {
	host     engine.ResolutionHost
	config   *engine.ProjectConfig
	builtins map[string]bool
	memo     *lru.Cache[memoKey, engine.Resolution]
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
}

// New creates a resolver reading through h.
func New(h engine.ResolutionHost, opts Options) (*Resolver, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	memo, err := lru.New[memoKey, engine.Resolution](size)
	if err != nil {
		return nil, err
	}

	builtins := make(map[string]bool, len(opts.Builtins))
	for _, b := range opts.Builtins {
		builtins[b] = true
	}

	return &Resolver{
		host:     h,
		config:   opts.Config,
		builtins: builtins,
		memo:     memo,
		logger:   opts.Logger.With().Str("component", "resolver").Logger(),
		metrics:  opts.Metrics,
	}, nil
}

// Resolve implements engine.Resolver.
func (r *Resolver) Resolve(specifier string, importer engine.NormalizedPath) (engine.Resolution, error) {
	key := memoKey{specifier: specifier, dir: importer.Dir()}
	if res, ok := r.memo.Get(key); ok {
		return res, nil
	}

	res, ok := r.resolve(specifier, importer, tsMode)
	if ok && res.Kind == engine.SourceDeclarationOnly {
		if hostRes, hostOK := r.resolve(specifier, importer, hostMode); hostOK {
			hostRes.ViaHostLoader = true
			res = hostRes
		}
	}
	if !ok {
		r.metrics.RecordResolution("not_found")
		r.logger.Debug().
			Str("specifier", specifier).
			Str("importer", string(importer)).
			Msg("Module not found")
		return engine.Resolution{}, engine.NewModuleNotFoundError(specifier, importer)
	}

	res.Specifier = specifier
	if res.Kind != engine.SourceBuiltin {
		res.Path = engine.Normalize(string(res.Path), "", r.host.CaseSensitive())
	}
	r.memo.Add(key, res)
	r.metrics.RecordResolution(string(res.Kind))
	r.logger.Debug().
		Str("specifier", specifier).
		Str("importer", string(importer)).
		Str("path", string(res.Path)).
		Str("kind", string(res.Kind)).
		Msg("Specifier resolved")
	return res, nil
}

// Purge implements engine.Resolver.
func (r *Resolver) Purge() {
	r.memo.Purge()
}

// IsBuiltin reports whether specifier names a host module.
func (r *Resolver) IsBuiltin(specifier string) bool {
	return strings.HasPrefix(specifier, BuiltinPrefix) || r.builtins[specifier]
}

func (r *Resolver) resolve(specifier string, importer engine.NormalizedPath, m mode) (engine.Resolution, bool) {
	if r.IsBuiltin(specifier) {
		return engine.Resolution{
			Path: engine.NormalizedPath(strings.TrimPrefix(specifier, BuiltinPrefix)),
			Kind: engine.SourceBuiltin,
		}, true
	}

	dir := importer.Dir()
	if isRelative(specifier) || isAbsolute(specifier) {
		p := engine.Normalize(specifier, string(dir), r.host.CaseSensitive())
		return r.resolvePath(p, m)
	}

	if res, ok := r.resolveAlias(specifier, m); ok {
		return res, true
	}

	if r.config != nil && r.config.BaseURL != "" {
		if res, ok := r.resolvePath(r.config.BaseURL.Join(specifier), m); ok {
			return res, true
		}
	}

	return r.resolvePackage(specifier, dir, m)
}

// resolveAlias applies compilerOptions.paths. The pattern with the longest
// prefix before its '*' wins; its targets are tried in order.
func (r *Resolver) resolveAlias(specifier string, m mode) (engine.Resolution, bool) {
	if r.config == nil || len(r.config.Paths) == 0 {
		return engine.Resolution{}, false
	}

	best := -1
	bestLen := -1
	var matched string
	for i, alias := range r.config.Paths {
		star, ok := matchPattern(alias.Pattern, specifier)
		if !ok {
			continue
		}
		prefixLen := len(alias.Pattern)
		if idx := strings.IndexByte(alias.Pattern, '*'); idx >= 0 {
			prefixLen = idx
		}
		if prefixLen > bestLen {
			best, bestLen, matched = i, prefixLen, star
		}
	}
	if best < 0 {
		return engine.Resolution{}, false
	}

	for _, target := range r.config.Paths[best].Targets {
		candidate := strings.Replace(target, "*", matched, 1)
		p := engine.Normalize(candidate, string(r.config.AliasRoot()), r.host.CaseSensitive())
		if res, ok := r.resolvePath(p, m); ok {
			return res, true
		}
	}
	return engine.Resolution{}, false
}

// matchPattern matches specifier against a paths pattern and returns the
// text matched by '*'.
func matchPattern(pattern, specifier string) (string, bool) {
	idx := strings.IndexByte(pattern, '*')
	if idx < 0 {
		return "", pattern == specifier
	}
	prefix, suffix := pattern[:idx], pattern[idx+1:]
	if len(specifier) < len(prefix)+len(suffix) ||
		!strings.HasPrefix(specifier, prefix) || !strings.HasSuffix(specifier, suffix) {
		return "", false
	}
	return specifier[len(prefix) : len(specifier)-len(suffix)], true
}

// resolvePath resolves a file-system path as a file, then as a directory.
func (r *Resolver) resolvePath(p engine.NormalizedPath, m mode) (engine.Resolution, bool) {
	if res, ok := r.resolveFile(p, m); ok {
		return res, true
	}
	return r.resolveDirectory(p, m)
}

// resolveFile tries p with the mode's extensions. Under TypeScript rules a
// JavaScript extension is first substituted by its TypeScript counterparts.
func (r *Resolver) resolveFile(p engine.NormalizedPath, m mode) (engine.Resolution, bool) {
	s := string(p)

	if m == tsMode {
		ext := path.Ext(s)
		if subs, ok := tsSubstitutes[ext]; ok {
			base := strings.TrimSuffix(s, ext)
			for _, sub := range subs {
				if r.host.FileExists(base + sub) {
					return r.classify(base + sub), true
				}
			}
		}
	}

	if r.host.FileExists(s) && m.accepts(s) {
		return r.classify(s), true
	}

	for _, ext := range m.extensions() {
		if r.host.FileExists(s + ext) {
			return r.classify(s + ext), true
		}
	}
	return engine.Resolution{}, false
}

// resolveDirectory uses a directory's package.json entry fields, then its
// index file.
func (r *Resolver) resolveDirectory(dir engine.NormalizedPath, m mode) (engine.Resolution, bool) {
	if !r.host.DirectoryExists(string(dir)) {
		return engine.Resolution{}, false
	}

	if pkg, ok := r.readPackage(dir); ok {
		for _, entry := range pkg.entries(m) {
			p := engine.Normalize(entry, string(dir), r.host.CaseSensitive())
			if p == dir {
				continue
			}
			if res, ok := r.resolveFile(p, m); ok {
				return res, true
			}
			if res, ok := r.resolveFile(p.Join("index"), m); ok {
				return res, true
			}
		}
	}

	return r.resolveFile(dir.Join("index"), m)
}

func (r *Resolver) classify(p string) engine.Resolution {
	kind := engine.SourceLoadable
	switch {
	case isDeclaration(p):
		kind = engine.SourceDeclarationOnly
	case strings.EqualFold(path.Ext(p), ".json"):
		kind = engine.SourceJSON
	}
	return engine.Resolution{Path: engine.NormalizedPath(p), Kind: kind}
}

func isRelative(s string) bool {
	return s == "." || s == ".." || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../")
}

func isAbsolute(s string) bool {
	if strings.HasPrefix(s, "/") {
		return true
	}
	s = strings.ReplaceAll(s, `\`, "/")
	return len(s) >= 3 && s[1] == ':' && s[2] == '/'
}

func isDeclaration(p string) bool {
	lower := strings.ToLower(p)
	return strings.HasSuffix(lower, ".d.ts") || strings.HasSuffix(lower, ".d.mts") || strings.HasSuffix(lower, ".d.cts")
}
