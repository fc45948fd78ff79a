// Package config persists the active model pair and describes the
// installation layout.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/docker/image-sorter/pkg/catalog"
)

// Models is the active main-weights and projector path pair.
type Models struct {
	Main      string `toml:"model_gguf"`
	Projector string `toml:"mmproj_gguf"`
}

// Exist reports whether both files are present on disk.
func (m Models) Exist() bool {
	return isFile(m.Main) && isFile(m.Projector)
}

// settingsFile is the on-disk document.
type settingsFile struct {
	Models Models `toml:"models"`
}

// Store loads and saves the active model pair.
type Store struct {
	mu sync.Mutex
	// path is the settings file.
	path string
	// baseDir resolves relative paths found in the file.
	baseDir string
	// defaults is used for fields the file does not set.
	defaults Models
}

// NewStore creates a Store for the settings file described by paths. The
// defaults point at the default catalog variant inside the models directory.
func NewStore(paths Paths) *Store {
	defaults := Models{}
	if v, err := catalog.Lookup(catalog.Default); err == nil {
		defaults.Main, defaults.Projector = v.Paths(paths.ModelsDir)
	}
	return &Store{
		path:     paths.SettingsFile,
		baseDir:  paths.Home,
		defaults: defaults,
	}
}

// Load reads the settings file. A missing file yields the defaults. A file
// that cannot be parsed also yields the defaults, together with the parse
// error so the caller can report it.
func (s *Store) Load() (Models, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.defaults, nil
		}
		return s.defaults, fmt.Errorf("unable to read settings: %w", err)
	}
	var doc settingsFile
	if err := toml.Unmarshal(data, &doc); err != nil {
		return s.defaults, fmt.Errorf("unable to parse settings %s: %w", s.path, err)
	}

	models := s.defaults
	if doc.Models.Main != "" {
		models.Main = s.resolve(doc.Models.Main)
	}
	if doc.Models.Projector != "" {
		models.Projector = s.resolve(doc.Models.Projector)
	}
	return models, nil
}

// Save writes the pair wholesale, replacing whatever the file held. Paths are
// trimmed of whitespace and surrounding quotes and made absolute. It returns
// the values that were written.
func (s *Store) Save(mainPath, projectorPath string) (Models, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	models := Models{
		Main:      absolute(mainPath),
		Projector: absolute(projectorPath),
	}
	data, err := toml.Marshal(settingsFile{Models: models})
	if err != nil {
		return Models{}, fmt.Errorf("unable to encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return Models{}, fmt.Errorf("unable to create settings directory: %w", err)
	}
	// Write to a sibling file and rename so a crash can't leave half a file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Models{}, fmt.Errorf("unable to write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return Models{}, fmt.Errorf("unable to replace settings: %w", err)
	}
	return models, nil
}

// StartupMessage tells the user whether sorting can start with models.
func StartupMessage(models Models) string {
	if models.Exist() {
		return "Ready to sort.\nUsing: " + filepath.Base(models.Main)
	}
	return "NO ACTIVE MODEL FOUND\nPlease download a model with 'image-sorter models download'."
}

func (s *Store) resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(s.baseDir, p)
}

func absolute(p string) string {
	p = strings.Trim(strings.TrimSpace(p), `"`)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func isFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
