package resolver

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/contentkit/modrun/pkg/engine"
)

// packageJSON holds the package.json fields used for resolution.
type packageJSON struct {
	Types   string          `json:"types"`
	Typings string          `json:"typings"`
	Main    string          `json:"main"`
	Exports json.RawMessage `json:"exports"`
}

// entries returns the entry-point fields consulted in mode m, in order.
func (p *packageJSON) entries(m mode) []string {
	var fields []string
	if m == tsMode {
		fields = append(fields, p.Types, p.Typings)
	}
	fields = append(fields, p.Main)

	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (r *Resolver) readPackage(dir engine.NormalizedPath) (*packageJSON, bool) {
	data, ok := r.host.ReadFile(string(dir.Join("package.json")))
	if !ok {
		return nil, false
	}
	var pkg packageJSON
	if err := json.Unmarshal([]byte(data), &pkg); err != nil {
		r.logger.Debug().Err(err).Str("dir", string(dir)).Msg("Ignoring malformed package.json")
		return nil, false
	}
	return &pkg, true
}

// splitPackage splits a bare specifier into the package name and the
// subpath inside it ("." for the package root).
func splitPackage(specifier string) (string, string) {
	parts := strings.SplitN(specifier, "/", 3)
	n := 1
	if strings.HasPrefix(specifier, "@") && len(parts) > 1 {
		n = 2
	}
	if len(parts) <= n {
		return specifier, "."
	}
	name := strings.Join(parts[:n], "/")
	return name, "./" + strings.TrimPrefix(specifier, name+"/")
}

// typesPackage returns the @types package name for name.
func typesPackage(name string) string {
	if strings.HasPrefix(name, "@") {
		return strings.Replace(strings.TrimPrefix(name, "@"), "/", "__", 1)
	}
	return name
}

// resolvePackage walks up from dir looking in node_modules directories, the
// way the host package loader locates a package.
func (r *Resolver) resolvePackage(specifier string, dir engine.NormalizedPath, m mode) (engine.Resolution, bool) {
	name, subpath := splitPackage(specifier)
	if name == "" {
		return engine.Resolution{}, false
	}

	for d := dir; ; d = d.Dir() {
		if d.Base() != "node_modules" {
			pkgDir := d.Join("node_modules", name)
			if res, ok := r.resolveInPackage(pkgDir, subpath, m); ok {
				return res, true
			}
			if m == tsMode {
				typesDir := d.Join("node_modules", "@types", typesPackage(name))
				if res, ok := r.resolveInPackage(typesDir, subpath, m); ok {
					return res, true
				}
			}
		}
		if d.Dir() == d {
			break
		}
	}
	return engine.Resolution{}, false
}

func (r *Resolver) resolveInPackage(pkgDir engine.NormalizedPath, subpath string, m mode) (engine.Resolution, bool) {
	if !r.host.DirectoryExists(string(pkgDir)) {
		return engine.Resolution{}, false
	}

	pkg, hasPkg := r.readPackage(pkgDir)
	if hasPkg && len(pkg.Exports) > 0 && string(pkg.Exports) != "null" {
		target, ok := resolveExports(pkg.Exports, subpath, m.conditions())
		if !ok {
			return engine.Resolution{}, false
		}
		p := engine.Normalize(target, string(pkgDir), r.host.CaseSensitive())
		return r.resolvePath(p, m)
	}

	if subpath == "." {
		return r.resolveDirectory(pkgDir, m)
	}
	return r.resolvePath(pkgDir.Join(subpath), m)
}

// resolveExports maps subpath through a package.json "exports" value.
func resolveExports(exports json.RawMessage, subpath string, conditions []string) (string, bool) {
	entries, isObject := orderedObject(exports)
	if !isObject || len(entries) == 0 || !strings.HasPrefix(entries[0].key, ".") {
		// A string, an array or a condition map describes "." only.
		if subpath != "." {
			return "", false
		}
		return resolveTarget(exports, conditions, "")
	}

	for _, e := range entries {
		if e.key == subpath {
			return resolveTarget(e.value, conditions, "")
		}
	}

	best := -1
	var bestStar string
	for i, e := range entries {
		star, ok := matchPattern(e.key, subpath)
		if !ok || !strings.Contains(e.key, "*") {
			continue
		}
		if best < 0 || len(e.key) > len(entries[best].key) {
			best, bestStar = i, star
		}
	}
	if best < 0 {
		return "", false
	}
	return resolveTarget(entries[best].value, conditions, bestStar)
}

// resolveTarget resolves a target value: a string, an array of fallbacks or
// a condition map checked in declaration order.
func resolveTarget(raw json.RawMessage, conditions []string, star string) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || !strings.HasPrefix(s, "./") {
			return "", false
		}
		return strings.ReplaceAll(s, "*", star), true

	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return "", false
		}
		for _, item := range items {
			if t, ok := resolveTarget(item, conditions, star); ok {
				return t, true
			}
		}

	case '{':
		entries, _ := orderedObject(raw)
		for _, e := range entries {
			if !contains(conditions, e.key) {
				continue
			}
			if t, ok := resolveTarget(e.value, conditions, star); ok {
				return t, true
			}
		}
	}
	return "", false
}

type objectEntry struct {
	key   string
	value json.RawMessage
}

// orderedObject decodes a JSON object keeping key order.
func orderedObject(raw json.RawMessage) ([]objectEntry, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, false
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, false
	}

	var entries []objectEntry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, _ := keyTok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, false
		}
		entries = append(entries, objectEntry{key: key, value: value})
	}
	return entries, true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
