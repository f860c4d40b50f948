package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tailscale/hujson"

	"github.com/contentkit/modrun/pkg/engine"
)

// DefaultConfigNames are the project configuration files searched for, in
// order of preference, at each directory level.
var DefaultConfigNames = []string{"tsconfig.json", "jsconfig.json"}

// FindConfigFile walks up from start (a file or a directory) until a directory
// containing one of names is found or the file-system root is reached.
func FindConfigFile(h engine.ResolutionHost, start engine.NormalizedPath, names ...string) (engine.NormalizedPath, error) {
	if len(names) == 0 {
		names = DefaultConfigNames
	}

	dir := start
	if !h.DirectoryExists(string(start)) {
		dir = start.Dir()
	}

	for {
		for _, name := range names {
			candidate := dir.Join(name)
			if h.FileExists(string(candidate)) {
				return candidate, nil
			}
		}
		parent := dir.Dir()
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", engine.NewConfigurationNotFoundError(start)
}

// TSConfigLoader reads tsconfig/jsconfig files through a ResolutionHost.
type TSConfigLoader struct {
	host     engine.ResolutionHost
	validate *validator.Validate
}

// NewTSConfigLoader creates a loader reading through h.
func NewTSConfigLoader(h engine.ResolutionHost) *TSConfigLoader {
	return &TSConfigLoader{
		host:     h,
		validate: validator.New(),
	}
}

// layer is one configuration file's contribution after path resolution.
type layer struct {
	baseURL engine.NormalizedPath
	paths   []engine.PathAlias
	hasPath bool
	options rawCompilerOptions
}

// Load reads file, follows its extends chain and returns the merged
// configuration the engine consumes.
func (l *TSConfigLoader) Load(file engine.NormalizedPath) (*engine.ProjectConfig, error) {
	merged, err := l.load(file, make(map[engine.NormalizedPath]bool))
	if err != nil {
		return nil, err
	}

	return &engine.ProjectConfig{
		ConfigFile: file,
		BaseURL:    merged.baseURL,
		Paths:      merged.paths,
		Dialect:    merged.options.dialect(),
	}, nil
}

// load reads file and its bases. ancestors holds the files on the current
// extends path only, so two branches may share a base.
func (l *TSConfigLoader) load(file engine.NormalizedPath, ancestors map[engine.NormalizedPath]bool) (*layer, error) {
	if ancestors[file] {
		return nil, fmt.Errorf("circular extends chain at %s", file)
	}
	ancestors[file] = true
	defer delete(ancestors, file)

	data, ok := l.host.ReadFile(string(file))
	if !ok {
		return nil, fmt.Errorf("failed to read project configuration %s", file)
	}

	raw, err := parseTSConfig([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	raw.CompilerOptions.normalize()
	if err := l.validate.Struct(&raw.CompilerOptions); err != nil {
		return nil, fmt.Errorf("invalid compilerOptions in %s: %w", file, err)
	}

	merged := &layer{}
	parents, err := raw.extendsList()
	if err != nil {
		return nil, fmt.Errorf("invalid extends in %s: %w", file, err)
	}
	for _, spec := range parents {
		parentFile, err := l.resolveExtends(spec, file.Dir())
		if err != nil {
			return nil, err
		}
		parent, err := l.load(parentFile, ancestors)
		if err != nil {
			return nil, err
		}
		merged.overlay(parent)
	}

	own := &layer{options: raw.CompilerOptions}
	if raw.CompilerOptions.BaseURL != nil {
		own.baseURL = engine.Normalize(*raw.CompilerOptions.BaseURL, string(file.Dir()), l.host.CaseSensitive())
	}
	if len(raw.CompilerOptions.Paths) > 0 {
		aliases, err := decodePaths(raw.CompilerOptions.Paths)
		if err != nil {
			return nil, fmt.Errorf("invalid paths in %s: %w", file, err)
		}
		// Targets are relative to baseUrl when set, else to the declaring file.
		root := own.baseURL
		if root == "" {
			root = merged.baseURL
		}
		if root == "" {
			root = file.Dir()
		}
		for i := range aliases {
			for j, target := range aliases[i].Targets {
				aliases[i].Targets[j] = string(engine.Normalize(target, string(root), l.host.CaseSensitive()))
			}
		}
		own.paths = aliases
		own.hasPath = true
	}
	merged.overlay(own)

	return merged, nil
}

// overlay applies child values on top of l.
func (l *layer) overlay(child *layer) {
	if child.baseURL != "" {
		l.baseURL = child.baseURL
	}
	if child.hasPath {
		l.paths = child.paths
		l.hasPath = true
	}
	l.options.overlay(child.options)
}

// resolveExtends locates the file named by an extends entry.
func (l *TSConfigLoader) resolveExtends(spec string, dir engine.NormalizedPath) (engine.NormalizedPath, error) {
	cs := l.host.CaseSensitive()

	var candidates []engine.NormalizedPath
	if strings.HasPrefix(spec, ".") || path.IsAbs(spec) {
		p := engine.Normalize(spec, string(dir), cs)
		candidates = append(candidates, p, engine.NormalizedPath(string(p)+".json"))
	} else {
		for d := dir; ; d = d.Dir() {
			base := d.Join("node_modules", spec)
			candidates = append(candidates, base, engine.NormalizedPath(string(base)+".json"), base.Join("tsconfig.json"))
			if d.Dir() == d {
				break
			}
		}
	}

	for _, c := range candidates {
		if l.host.FileExists(string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("cannot find base configuration %q extended from %s", spec, dir)
}

// parseTSConfig accepts JSON with comments and trailing commas.
func parseTSConfig(data []byte) (*rawTSConfig, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, err
	}
	var raw rawTSConfig
	if err := json.Unmarshal(std, &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

// decodePaths decodes compilerOptions.paths keeping declaration order.
func decodePaths(raw json.RawMessage) ([]engine.PathAlias, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("paths must be an object")
	}

	var aliases []engine.PathAlias
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		pattern, _ := keyTok.(string)
		if strings.Count(pattern, "*") > 1 {
			return nil, fmt.Errorf("pattern %q can have at most one '*'", pattern)
		}

		var targets []string
		if err := dec.Decode(&targets); err != nil {
			return nil, fmt.Errorf("targets of %q: %w", pattern, err)
		}
		for _, t := range targets {
			if strings.Count(t, "*") > 1 {
				return nil, fmt.Errorf("target %q can have at most one '*'", t)
			}
		}
		aliases = append(aliases, engine.PathAlias{Pattern: pattern, Targets: targets})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return aliases, nil
}
