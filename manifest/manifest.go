// Package manifest handles textworld.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a textworld.toml project configuration.
type Manifest struct {
	Story       Story       `toml:"story"`
	Interpreter Interpreter `toml:"interpreter"`
	Saves       Saves       `toml:"saves"`
	Journal     Journal     `toml:"journal"`

	// Dir is the directory containing the textworld.toml file (set at load time).
	Dir string `toml:"-"`
}

// Story configures which story file to play and where to look for others.
type Story struct {
	Path    string   `toml:"path"`
	Dirs    []string `toml:"dirs"`
	Version int      `toml:"version"` // pin a Z-machine version, 0 accepts any supported one
}

// Interpreter carries the machine tunables.
type Interpreter struct {
	Seed      int64 `toml:"seed"`
	Budget    int64 `toml:"budget"`
	UndoSlots int   `toml:"undo-slots"`
}

// Saves configures where Quetzal save files go.
type Saves struct {
	Dir string `toml:"dir"`
}

// Journal configures the SQLite trajectory journal.
type Journal struct {
	Path    string `toml:"path"`
	Enabled bool   `toml:"enabled"`
}

// Load parses a textworld.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "textworld.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Story.Dirs) == 0 {
		m.Story.Dirs = []string{"stories"}
	}
	if m.Saves.Dir == "" {
		m.Saves.Dir = "saves"
	}
	if m.Journal.Path == "" {
		m.Journal.Path = filepath.Join(".textworld", "journal.db")
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a textworld.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "textworld.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// StoryPath returns the absolute path of the configured story file, or ""
// when the manifest names none.
func (m *Manifest) StoryPath() string {
	if m.Story.Path == "" {
		return ""
	}
	if filepath.IsAbs(m.Story.Path) {
		return m.Story.Path
	}
	return filepath.Join(m.Dir, m.Story.Path)
}

// StoryDirPaths returns absolute paths for the configured story directories.
func (m *Manifest) StoryDirPaths() []string {
	var paths []string
	for _, d := range m.Story.Dirs {
		if filepath.IsAbs(d) {
			paths = append(paths, d)
			continue
		}
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// SavesDirPath returns the absolute path of the save-file directory.
func (m *Manifest) SavesDirPath() string {
	if filepath.IsAbs(m.Saves.Dir) {
		return m.Saves.Dir
	}
	return filepath.Join(m.Dir, m.Saves.Dir)
}

// JournalPath returns the absolute path of the journal database.
func (m *Manifest) JournalPath() string {
	if filepath.IsAbs(m.Journal.Path) {
		return m.Journal.Path
	}
	return filepath.Join(m.Dir, m.Journal.Path)
}
