package host

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/contentkit/modrun/pkg/engine"
)

// Memory is an in-memory ResolutionHost. Directories exist implicitly as the
// parents of stored files.
type Memory struct {
	mu            sync.RWMutex
	files         map[engine.NormalizedPath]string
	caseSensitive bool
}

var _ engine.ResolutionHost = (*Memory)(nil)

// NewMemory creates an empty case-sensitive in-memory host.
func NewMemory() *Memory {
	return &Memory{
		files:         make(map[engine.NormalizedPath]string),
		caseSensitive: true,
	}
}

// NewMemoryFromMap creates a case-sensitive in-memory host holding files.
func NewMemoryFromMap(files map[string]string) *Memory {
	m := NewMemory()
	for p, content := range files {
		m.WriteFile(p, content)
	}
	return m
}

// SetCaseSensitive changes how names are matched. Existing entries are re-keyed.
func (m *Memory) SetCaseSensitive(caseSensitive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.caseSensitive = caseSensitive
	rekeyed := make(map[engine.NormalizedPath]string, len(m.files))
	for p, content := range m.files {
		rekeyed[m.key(string(p))] = content
	}
	m.files = rekeyed
}

// WriteFile stores content at p, replacing any previous content.
func (m *Memory) WriteFile(p string, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[m.key(p)] = content
}

// Remove deletes the file at p.
func (m *Memory) Remove(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, m.key(p))
}

func (m *Memory) key(p string) engine.NormalizedPath {
	return engine.Normalize(p, "/", m.caseSensitive)
}

// ReadFile implements engine.ResolutionHost.
func (m *Memory) ReadFile(p string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.files[m.key(p)]
	return content, ok
}

// FileExists implements engine.ResolutionHost.
func (m *Memory) FileExists(p string) bool {
	_, ok := m.ReadFile(p)
	return ok
}

// DirectoryExists implements engine.ResolutionHost.
func (m *Memory) DirectoryExists(p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dir := string(m.key(p))
	if dir == "/" {
		return true
	}
	prefix := dir + "/"
	for f := range m.files {
		if strings.HasPrefix(string(f), prefix) {
			return true
		}
	}
	return false
}

// ReadDirectory implements engine.ResolutionHost.
func (m *Memory) ReadDirectory(p string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dir := string(m.key(p))
	prefix := strings.TrimSuffix(dir, "/") + "/"

	seen := make(map[string]bool)
	for f := range m.files {
		rest, ok := strings.CutPrefix(string(f), prefix)
		if !ok || rest == "" {
			continue
		}
		name, _, _ := strings.Cut(rest, "/")
		seen[name] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CaseSensitive implements engine.ResolutionHost.
func (m *Memory) CaseSensitive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.caseSensitive
}

// Files returns the stored paths in sorted order.
func (m *Memory) Files() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.files))
	for f := range m.files {
		out = append(out, path.Clean(string(f)))
	}
	sort.Strings(out)
	return out
}
