package resolver

import (
	"path"
	"strings"
)

// mode selects which rules drive a resolution: the TypeScript view used for
// compiled sources, or the host loader view used when TypeScript only finds
// type declarations.
type mode int

const (
	tsMode mode = iota
	hostMode
)

var (
	tsExtensions   = []string{".ts", ".tsx", ".d.ts", ".js", ".jsx", ".mjs", ".cjs", ".mts", ".cts", ".json"}
	hostExtensions = []string{".js", ".json", ".cjs", ".mjs", ".jsx"}

	tsConditions   = []string{"types", "require", "node", "default"}
	hostConditions = []string{"require", "node", "default"}
)

// tsSubstitutes maps a JavaScript extension written in an import to the
// source extensions that produce it.
var tsSubstitutes = map[string][]string{
	".js":  {".ts", ".tsx", ".d.ts"},
	".jsx": {".tsx", ".ts", ".d.ts"},
	".mjs": {".mts", ".d.mts"},
	".cjs": {".cts", ".d.cts"},
}

func (m mode) extensions() []string {
	if m == hostMode {
		return hostExtensions
	}
	return tsExtensions
}

func (m mode) conditions() []string {
	if m == hostMode {
		return hostConditions
	}
	return tsConditions
}

// accepts reports whether an existing file can be the result in this mode.
func (m mode) accepts(p string) bool {
	if m == tsMode {
		return true
	}
	if isDeclaration(p) {
		return false
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".ts", ".tsx", ".mts", ".cts":
		return false
	}
	return true
}
