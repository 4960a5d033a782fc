package manifest

import (
	"fmt"
	"os"
	"path/filepath"
)

// StoryPathEnv names additional story directories, separated like PATH.
const StoryPathEnv = "TEXTWORLD_STORY_PATH"

// storyExtensions are the suffixes tried when a story is named without one.
// .z1 through .z8 follow the version convention; .dat is the old Infocom
// shipping name.
var storyExtensions = []string{
	".z1", ".z2", ".z3", ".z4", ".z5", ".z6", ".z7", ".z8", ".dat",
}

// Locator resolves story names to files on disk.
type Locator struct {
	dirs []string
}

// NewLocator builds a locator searching, in order: the manifest's story
// directories (when a manifest is given) and the StoryPathEnv directories.
func NewLocator(m *Manifest) *Locator {
	l := &Locator{}
	if m != nil {
		l.dirs = append(l.dirs, m.StoryDirPaths()...)
	}
	if env := os.Getenv(StoryPathEnv); env != "" {
		for _, d := range filepath.SplitList(env) {
			if d != "" {
				l.dirs = append(l.dirs, d)
			}
		}
	}
	return l
}

// Dirs returns the search path, in order.
func (l *Locator) Dirs() []string {
	return append([]string(nil), l.dirs...)
}

// Resolve turns a story name into a file path. A name containing a path
// separator, or matching a file as given, bypasses the search; otherwise
// each directory is tried with the name as-is and with each known story
// extension.
func (l *Locator) Resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("no story named")
	}

	if _, err := os.Stat(name); err == nil {
		return name, nil
	}
	if filepath.Dir(name) != "." {
		return "", fmt.Errorf("story %q not found", name)
	}

	for _, dir := range l.dirs {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		for _, ext := range storyExtensions {
			candidate := filepath.Join(dir, name+ext)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}

	if len(l.dirs) == 0 {
		return "", fmt.Errorf("story %q not found (no story directories configured; set %s or a textworld.toml)", name, StoryPathEnv)
	}
	return "", fmt.Errorf("story %q not found in %v", name, l.dirs)
}
