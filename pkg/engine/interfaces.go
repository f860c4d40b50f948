package engine

import (
	"context"
)

// ResolutionHost is the file-system seam used by the resolver, the runtime and
// configuration discovery. Nothing in the engine touches the real file system
// directly.
type ResolutionHost interface {
	// ReadFile returns the file contents and whether the file could be read.
	ReadFile(path string) (string, bool)

	// FileExists reports whether path names a regular file.
	FileExists(path string) bool

	// DirectoryExists reports whether path names a directory.
	DirectoryExists(path string) bool

	// ReadDirectory lists the entry names of a directory.
	ReadDirectory(path string) []string

	// CaseSensitive reports whether file names differing only in case are
	// distinct files.
	CaseSensitive() bool
}

// Compiler converts one unit of source text into executable CommonJS text.
type Compiler interface {
	// Compile compiles source as if it lived at path. Syntax errors are
	// returned as compile errors carrying a position.
	Compile(source string, path NormalizedPath, opts DialectOptions) (string, error)
}

// Resolver decides which file backs a specifier.
type Resolver interface {
	// Resolve resolves specifier as imported from importer.
	Resolve(specifier string, importer NormalizedPath) (Resolution, error)

	// Purge drops any memoized resolutions.
	Purge()
}

// CompileStore persists compiled text keyed by content hash.
type CompileStore interface {
	// Get returns compiled text for hash, if present.
	Get(ctx context.Context, hash string) (string, bool, error)

	// Put stores compiled text for hash.
	Put(ctx context.Context, unit CompiledUnit) error
}

// Invalidator is implemented by anything holding per-path derived state.
type Invalidator interface {
	// Invalidate drops all state derived from path.
	Invalidate(path NormalizedPath)

	// ClearAll drops all derived state.
	ClearAll()
}
