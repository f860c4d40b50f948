package discovery

import (
	"errors"
	"fmt"

	"github.com/contentkit/modrun/pkg/engine"
)

// DefaultManifestNames are the manifest file names looked for under a project
// root when none are configured.
var DefaultManifestNames = []string{"val.modules.ts", "val.modules.js"}

// manifestDirs are searched in order below the project root.
var manifestDirs = []string{".", "src"}

// ErrManifestNotFound is returned when no manifest exists under a root.
var ErrManifestNotFound = errors.New("manifest not found")

// ErrInvalidManifest is returned when a manifest's default export is not a
// module list.
var ErrInvalidManifest = errors.New("invalid manifest")

// FindManifest returns the first manifest named one of names in root or its
// src directory.
func FindManifest(h engine.ResolutionHost, root string, names ...string) (engine.NormalizedPath, error) {
	if len(names) == 0 {
		names = DefaultManifestNames
	}
	base := engine.Normalize(root, "", h.CaseSensitive())
	for _, dir := range manifestDirs {
		for _, name := range names {
			candidate := base.Join(dir, name)
			if h.FileExists(string(candidate)) {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("%w under %s (looked for %v)", ErrManifestNotFound, base, names)
}
