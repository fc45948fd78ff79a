package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Paths is the on-disk layout of an installation.
type Paths struct {
	// Home is the installation root.
	Home string
	// ModelsDir holds one file pair per downloaded variant.
	ModelsDir string
	// ScratchDir holds transient re-encoded image copies.
	ScratchDir string
	// SettingsFile is the persisted active-model configuration.
	SettingsFile string
	// EngineBinary is the inference engine executable.
	EngineBinary string
}

// NewPaths derives the standard layout under home.
func NewPaths(home string) Paths {
	engine := filepath.Join(home, "bin", "koboldcpp", "koboldcpp-launcher")
	if runtime.GOOS == "windows" {
		engine += ".exe"
	}
	return Paths{
		Home:         home,
		ModelsDir:    filepath.Join(home, "bin", "models"),
		ScratchDir:   filepath.Join(home, "temp"),
		SettingsFile: filepath.Join(home, "config.toml"),
		EngineBinary: engine,
	}
}

// EnsureDirs creates the models and scratch directories.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.ModelsDir, p.ScratchDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("unable to create %s: %w", dir, err)
		}
	}
	return nil
}

// ClearDir removes everything inside dir but leaves dir itself in place. A
// missing directory is not an error. Every entry is attempted; the returned
// error joins the individual failures.
func ClearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var errs []error
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
