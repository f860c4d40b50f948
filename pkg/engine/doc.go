// Package engine provides the core types and interfaces shared by the modrun
// packages.
//
// # Overview
//
// modrun runs TypeScript and JavaScript modules inside an embedded runtime.
// Loading a module goes through four stages:
//
//  1. Resolve - map a specifier to a file (Resolver)
//  2. Compile - turn the file into CommonJS text (Compiler)
//  3. Execute - run the text in a sandboxed module scope
//  4. Cache - keep the exports until the file is invalidated (Invalidator)
//
// # Core Types
//
//   - NormalizedPath: the single identity of a file for every cache
//   - Resolution: the outcome of resolving a specifier, with its SourceKind
//   - ProjectConfig: baseUrl, paths and dialect options from tsconfig.json
//   - CompiledUnit: compiled text keyed by content hash
//
// # File System Seam
//
// Nothing reads the disk directly. Every file access goes through a
// ResolutionHost, so projects can live on local disk, in memory for tests, or
// on a remote workspace.
//
// # Errors
//
// Failures are classified *Error values: compile errors carry a position,
// module-not-found errors carry the specifier and importer, execution errors
// carry the failing module's path, and configuration-not-found errors carry the
// search start. Errors crossing module boundaries stay wrapped, so IsCompile,
// IsNotFound and the other predicates see through every layer, and Innermost
// names the module that actually failed.
package engine
