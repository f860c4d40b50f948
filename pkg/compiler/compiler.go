// Package compiler turns TypeScript and JavaScript source into CommonJS text
// the script runtime can execute.
//
// The esbuild-backed Esbuild compiler handles one file per call and is
// stateless. Its output is passed through RewriteDynamicImports so every
// import() call reaches the runtime's async-import capability. Caching wraps
// the compiler in a content-hash store; Counting observes invocations.
package compiler

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"

	"github.com/contentkit/modrun/pkg/engine"
	"github.com/contentkit/modrun/pkg/telemetry"
)

// DeclarationSuffixes are the file suffixes of type declaration files.
var DeclarationSuffixes = []string{".d.ts", ".d.mts", ".d.cts"}

// IsDeclarationFile reports whether p names a type declaration file.
func IsDeclarationFile(p string) bool {
	lower := strings.ToLower(p)
	for _, s := range DeclarationSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// Esbuild compiles single files with esbuild's transform API.
type Esbuild struct {
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// Option configures an Esbuild compiler.
type Option func(*Esbuild)

// WithLogger sets the compiler's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Esbuild) {
		c.logger = l.With().Str("component", "compiler").Logger()
	}
}

// WithMetrics records compile counts and durations.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Esbuild) {
		c.metrics = m
	}
}

// New creates an esbuild-backed compiler.
func New(opts ...Option) *Esbuild {
	c := &Esbuild{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile implements engine.Compiler.
func (c *Esbuild) Compile(source string, p engine.NormalizedPath, opts engine.DialectOptions) (string, error) {
	if IsDeclarationFile(string(p)) {
		return "", engine.NewCompileError(p, "declaration files contain no executable code", nil)
	}

	start := time.Now()
	text, err := c.transform(source, p, opts)
	c.metrics.RecordCompile(time.Since(start), err)
	if err != nil {
		return "", err
	}

	c.logger.Debug().
		Str("path", string(p)).
		Dur("duration", time.Since(start)).
		Msg("Source compiled")
	return text, nil
}

func (c *Esbuild) transform(source string, p engine.NormalizedPath, opts engine.DialectOptions) (string, error) {
	tsconfig, err := tsconfigRaw(opts)
	if err != nil {
		return "", engine.NewCompileError(p, err.Error(), nil)
	}

	transform := api.TransformOptions{
		Loader:     loaderFor(string(p)),
		Format:     api.FormatCommonJS,
		Target:     api.ES2017,
		Sourcefile: string(p),
		Sourcemap:  api.SourceMapNone,
		LogLevel:   api.LogLevelSilent,
		// Keep import() in the output; RewriteDynamicImports routes it.
		Supported:   map[string]bool{"dynamic-import": true},
		TsconfigRaw: tsconfig,
	}
	switch opts.JSX {
	case engine.JSXAutomatic:
		transform.JSX = api.JSXAutomatic
	default:
		// Preserved JSX cannot execute, so it is transformed as well.
		transform.JSX = api.JSXTransform
	}

	result := api.Transform(source, transform)
	if len(result.Errors) > 0 {
		return "", compileError(p, result.Errors)
	}

	text, _ := RewriteDynamicImports(string(result.Code))
	return text, nil
}

// compileError converts the first esbuild message into an engine error.
func compileError(p engine.NormalizedPath, msgs []api.Message) error {
	first := msgs[0]
	message := first.Text
	if len(msgs) > 1 {
		message = fmt.Sprintf("%s (and %d more errors)", message, len(msgs)-1)
	}

	var pos *engine.Position
	if loc := first.Location; loc != nil {
		pos = &engine.Position{
			Line:     loc.Line,
			Column:   loc.Column,
			LineText: loc.LineText,
		}
	}
	return engine.NewCompileError(p, message, pos)
}

func loaderFor(p string) api.Loader {
	switch strings.ToLower(path.Ext(p)) {
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	case ".js", ".mjs", ".cjs":
		return api.LoaderJS
	case ".json":
		return api.LoaderJSON
	default:
		return api.LoaderTS
	}
}

type rawCompilerOptions struct {
	Target                  string `json:"target,omitempty"`
	JSXFactory              string `json:"jsxFactory,omitempty"`
	JSXFragmentFactory      string `json:"jsxFragmentFactory,omitempty"`
	JSXImportSource         string `json:"jsxImportSource,omitempty"`
	ExperimentalDecorators  bool   `json:"experimentalDecorators,omitempty"`
	UseDefineForClassFields *bool  `json:"useDefineForClassFields,omitempty"`
}

// tsconfigRaw renders the dialect options as the tsconfig document esbuild
// reads for per-file TypeScript semantics.
func tsconfigRaw(opts engine.DialectOptions) (string, error) {
	doc := struct {
		CompilerOptions rawCompilerOptions `json:"compilerOptions"`
	}{
		CompilerOptions: rawCompilerOptions{
			Target:                  opts.Target,
			JSXFactory:              opts.JSXFactory,
			JSXFragmentFactory:      opts.JSXFragmentFactory,
			JSXImportSource:         opts.JSXImportSource,
			ExperimentalDecorators:  opts.ExperimentalDecorators,
			UseDefineForClassFields: opts.UseDefineForClassFields,
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode compiler options: %w", err)
	}
	return string(data), nil
}
