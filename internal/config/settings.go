package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/web-casa/stackdeck/internal/apperr"
)

// Settings are the operator-editable values persisted in config.json.
type Settings struct {
	StackRoot    string `json:"stack_root"`
	Theme        string `json:"theme"`
	FrontendPort int    `json:"frontend_port"`
}

// SettingsUpdate is a partial update; nil fields are left unchanged.
type SettingsUpdate struct {
	StackRoot    *string `json:"stack_root"`
	Theme        *string `json:"theme"`
	FrontendPort *int    `json:"frontend_port"`
}

// DefaultSettings returns the values used when config.json is absent.
func DefaultSettings(stackRoot string) Settings {
	return Settings{StackRoot: stackRoot, Theme: "light", FrontendPort: 18675}
}

// SettingsStore owns config.json. Reads are served from memory.
type SettingsStore struct {
	mu       sync.RWMutex
	path     string
	defaults Settings
	current  Settings
	logger   *slog.Logger
}

// NewSettingsStore loads path, falling back to defaults for a missing file
// or missing keys.
func NewSettingsStore(path string, defaults Settings, logger *slog.Logger) (*SettingsStore, error) {
	s := &SettingsStore{path: path, defaults: defaults, current: defaults, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns a copy of the current settings.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// StackRoot returns the configured stack root directory.
func (s *SettingsStore) StackRoot() string {
	return s.Get().StackRoot
}

// Reload re-reads config.json. A corrupt file keeps the previous values.
func (s *SettingsStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.current = s.defaults
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.IOFailure, err, "read settings")
	}

	next := s.defaults
	if err := json.Unmarshal(data, &next); err != nil {
		s.logger.Warn("ignoring malformed settings file", "path", s.path, "err", err)
		return nil
	}
	if next.StackRoot == "" {
		next.StackRoot = s.defaults.StackRoot
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return nil
}

// Update validates u, merges it over the current settings and persists the result.
func (s *SettingsStore) Update(u SettingsUpdate) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	if u.StackRoot != nil {
		root := strings.TrimSpace(*u.StackRoot)
		if root == "" {
			return Settings{}, apperr.New(apperr.Validation, "stack_root cannot be empty")
		}
		next.StackRoot = root
	}
	if u.Theme != nil {
		if *u.Theme != "light" && *u.Theme != "dark" {
			return Settings{}, apperr.New(apperr.Validation, "theme must be light or dark")
		}
		next.Theme = *u.Theme
	}
	if u.FrontendPort != nil {
		if *u.FrontendPort < 1 || *u.FrontendPort > 65535 {
			return Settings{}, apperr.New(apperr.Validation, "frontend_port must be between 1 and 65535")
		}
		next.FrontendPort = *u.FrontendPort
	}

	if err := writeFileAtomic(s.path, next); err != nil {
		return Settings{}, apperr.Wrap(apperr.IOFailure, err, "write settings")
	}
	s.current = next
	s.logger.Info("settings updated", "stack_root", next.StackRoot, "theme", next.Theme, "frontend_port", next.FrontendPort)
	return next, nil
}

// Watch reloads the settings whenever config.json changes on disk, until ctx
// is done. The parent directory is watched so atomic replacements are seen.
func (s *SettingsStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	go func() {
		defer w.Close()
		target := filepath.Clean(s.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
					if err := s.Reload(); err != nil {
						s.logger.Warn("settings reload failed", "err", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("settings watcher error", "err", err)
			}
		}
	}()
	return nil
}

func writeFileAtomic(path string, v Settings) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
