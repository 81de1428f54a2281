// Package config owns configuration loading and hot reload. The loaded
// document is an explicitly-owned object injected into components; reload
// happens only via ReloadIfChanged, keyed on file modification time, and
// components consult it between tasks - never mid-task.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/newsroom-ai/newsroom/pkg/types"
)

// Source provides the current configuration snapshot.
type Source interface {
	Config() *types.Config
}

// Load reads a configuration file, falling back to defaults. With an empty
// path it tries the common locations; if none exists, defaults are used.
func Load(path string) (*types.Config, error) {
	if path == "" {
		candidates := []string{
			"newsroom.yaml",
			"newsroom.yml",
			".newsroom/config.yaml",
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	if path == "" {
		return types.DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := types.DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Loader holds a configuration document and reloads it when the backing
// file's modification time changes.
type Loader struct {
	path string

	mu      sync.RWMutex
	cfg     *types.Config
	modTime time.Time
}

// NewLoader loads the configuration once and remembers the file mtime.
func NewLoader(path string) (*Loader, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	l := &Loader{path: path, cfg: cfg}
	if path != "" {
		if info, err := os.Stat(path); err == nil {
			l.modTime = info.ModTime()
		}
	}
	return l, nil
}

// Static wraps a fixed configuration that never reloads.
func Static(cfg *types.Config) *Loader {
	return &Loader{cfg: cfg}
}

// Config returns the current configuration snapshot.
func (l *Loader) Config() *types.Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// ReloadIfChanged re-reads the file when its mtime moved. A malformed file
// keeps the previously loaded configuration: degrade, never fail open.
func (l *Loader) ReloadIfChanged() (bool, error) {
	if l.path == "" {
		return false, nil
	}

	info, err := os.Stat(l.path)
	if err != nil {
		return false, fmt.Errorf("failed to stat config: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !info.ModTime().After(l.modTime) {
		return false, nil
	}

	cfg, err := Load(l.path)
	if err != nil {
		// Keep the old config; the mtime is left alone so a fixed file
		// is picked up on the next check.
		return false, err
	}

	l.cfg = cfg
	l.modTime = info.ModTime()
	return true, nil
}
