package engine

import (
	"path"
	"path/filepath"
	"strings"
)

// NormalizedPath is an absolute, slash-separated, cleaned file path. It is the
// only key used for caching and module identity.
type NormalizedPath string

// String returns the path as a plain string.
func (p NormalizedPath) String() string {
	return string(p)
}

// Dir returns the directory containing the path.
func (p NormalizedPath) Dir() NormalizedPath {
	return NormalizedPath(path.Dir(string(p)))
}

// Base returns the last element of the path.
func (p NormalizedPath) Base() string {
	return path.Base(string(p))
}

// Join joins elements onto the path and cleans the result.
func (p NormalizedPath) Join(elem ...string) NormalizedPath {
	return NormalizedPath(path.Join(append([]string{string(p)}, elem...)...))
}

// Normalize converts a path spelling into its NormalizedPath. Relative paths
// are made absolute against base (or the process working directory when base
// is empty). When caseSensitive is false the result is lower-cased so that
// spellings differing only in case share one identity.
func Normalize(p string, base string, caseSensitive bool) NormalizedPath {
	p = toSlash(p)
	if !isAbs(p) {
		if base == "" {
			if wd, err := filepath.Abs("."); err == nil {
				base = wd
			} else {
				base = "/"
			}
		}
		p = toSlash(base) + "/" + p
	}

	// Preserve a Windows volume name ahead of cleaning.
	volume := ""
	if len(p) >= 2 && p[1] == ':' {
		volume, p = p[:2], p[2:]
	}

	p = path.Clean("/" + p)
	p = volume + p

	if !caseSensitive {
		p = strings.ToLower(p)
	}
	return NormalizedPath(p)
}

// toSlash converts both separator styles regardless of the running platform.
func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

func isAbs(p string) bool {
	if strings.HasPrefix(p, "/") {
		return true
	}
	return len(p) >= 3 && p[1] == ':' && p[2] == '/'
}

// SourceKind classifies what backs a resolved module.
type SourceKind string

const (
	// SourceLoadable is executable source handled by the compiler front end.
	SourceLoadable SourceKind = "loadable"

	// SourceDeclarationOnly is a type declaration file that must never be
	// executed; the package is loaded by the host loader instead.
	SourceDeclarationOnly SourceKind = "declaration-only"

	// SourceBuiltin is a host-provided module.
	SourceBuiltin SourceKind = "builtin"

	// SourceJSON is a JSON document exposed as a module.
	SourceJSON SourceKind = "json"
)

// Resolution is the successful outcome of resolving a specifier.
type Resolution struct {
	// Specifier is the original specifier as written in source.
	Specifier string `json:"specifier"`

	// Path is the resolved file. For builtins it is the builtin name.
	Path NormalizedPath `json:"path"`

	// Kind tells the runtime how to satisfy the module.
	Kind SourceKind `json:"kind"`

	// ViaHostLoader is set when a bare package resolved to a declaration file
	// and Path was re-resolved the way the host package loader would.
	ViaHostLoader bool `json:"via_host_loader,omitempty"`
}

// CompiledUnit is the output of the compiler front end for one file.
type CompiledUnit struct {
	// Path is the file the text was compiled from.
	Path NormalizedPath `json:"path"`

	// Text is the executable, already rewritten, CommonJS text.
	Text string `json:"text"`

	// Hash is the content hash of the source and compile options.
	Hash string `json:"hash"`
}

// JSX selects how JSX syntax is compiled.
type JSX string

const (
	JSXTransform JSX = "transform"
	JSXPreserve  JSX = "preserve"
	JSXAutomatic JSX = "automatic"
)

// DialectOptions are the compile-time options of the source dialect.
type DialectOptions struct {
	// Target is the ECMAScript level the output must run on.
	Target string `json:"target,omitempty"`

	JSX                     JSX    `json:"jsx,omitempty"`
	JSXFactory              string `json:"jsx_factory,omitempty"`
	JSXFragmentFactory      string `json:"jsx_fragment_factory,omitempty"`
	JSXImportSource         string `json:"jsx_import_source,omitempty"`
	ExperimentalDecorators  bool   `json:"experimental_decorators,omitempty"`
	UseDefineForClassFields *bool  `json:"use_define_for_class_fields,omitempty"`
}

// PathAlias is one compilerOptions.paths entry.
type PathAlias struct {
	// Pattern is the alias pattern, containing at most one '*'.
	Pattern string `json:"pattern"`

	// Targets are substituted in order; '*' is replaced by the matched text.
	Targets []string `json:"targets"`
}

// ProjectConfig is the part of the project configuration the engine needs.
type ProjectConfig struct {
	// ConfigFile is the configuration file the values came from, if any.
	ConfigFile NormalizedPath `json:"config_file,omitempty"`

	// BaseURL is the directory non-relative and aliased specifiers resolve
	// against. Empty means the configuration file's directory.
	BaseURL NormalizedPath `json:"base_url,omitempty"`

	// Paths holds the alias table in declaration order.
	Paths []PathAlias `json:"paths,omitempty"`

	// Dialect carries the compiler options.
	Dialect DialectOptions `json:"dialect"`
}

// AliasRoot returns the directory alias targets are resolved against.
func (c *ProjectConfig) AliasRoot() NormalizedPath {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	if c.ConfigFile != "" {
		return c.ConfigFile.Dir()
	}
	return ""
}
