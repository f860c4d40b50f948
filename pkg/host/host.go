// Package host provides the file-system seams the engine resolves and loads
// modules through.
//
// Three hosts are provided:
//
//   - OS reads the local disk.
//   - Memory holds files in a map and is used for deterministic tests and for
//     virtual files synthesized by callers.
//   - SFTP reads a project living on a remote machine over SSH.
//
// All hosts accept slash or OS-specific paths and apply the host's case
// sensitivity when matching names.
package host

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/contentkit/modrun/pkg/engine"
)

// OS is a ResolutionHost backed by the local file system.
type OS struct {
	caseSensitive bool
}

var _ engine.ResolutionHost = (*OS)(nil)

// NewOS creates a host for the local disk. Case sensitivity follows the
// platform default.
func NewOS() *OS {
	return &OS{caseSensitive: runtime.GOOS != "windows" && runtime.GOOS != "darwin"}
}

// NewOSWithCase creates a host for the local disk with explicit case sensitivity.
func NewOSWithCase(caseSensitive bool) *OS {
	return &OS{caseSensitive: caseSensitive}
}

// ReadFile implements engine.ResolutionHost.
func (h *OS) ReadFile(path string) (string, bool) {
	data, err := os.ReadFile(filepath.FromSlash(path))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// FileExists implements engine.ResolutionHost.
func (h *OS) FileExists(path string) bool {
	info, err := os.Stat(filepath.FromSlash(path))
	return err == nil && info.Mode().IsRegular()
}

// DirectoryExists implements engine.ResolutionHost.
func (h *OS) DirectoryExists(path string) bool {
	info, err := os.Stat(filepath.FromSlash(path))
	return err == nil && info.IsDir()
}

// ReadDirectory implements engine.ResolutionHost.
func (h *OS) ReadDirectory(path string) []string {
	entries, err := os.ReadDir(filepath.FromSlash(path))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// CaseSensitive implements engine.ResolutionHost.
func (h *OS) CaseSensitive() bool {
	return h.caseSensitive
}

// Normalize normalizes p for h, resolving relative paths against base.
func Normalize(h engine.ResolutionHost, p string, base string) engine.NormalizedPath {
	return engine.Normalize(p, base, h.CaseSensitive())
}
