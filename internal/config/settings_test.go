package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/web-casa/stackdeck/internal/apperr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSettingsDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := NewSettingsStore(path, DefaultSettings("/srv/stacks"), testLogger())
	if err != nil {
		t.Fatalf("NewSettingsStore: %v", err)
	}
	got := s.Get()
	if got.StackRoot != "/srv/stacks" || got.Theme != "light" || got.FrontendPort != 18675 {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestSettingsPartialFileMergedOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"theme":"dark"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := NewSettingsStore(path, DefaultSettings("/srv/stacks"), testLogger())
	if err != nil {
		t.Fatalf("NewSettingsStore: %v", err)
	}
	got := s.Get()
	if got.Theme != "dark" || got.StackRoot != "/srv/stacks" {
		t.Fatalf("unexpected merge: %+v", got)
	}
}

func TestSettingsUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, _ := NewSettingsStore(path, DefaultSettings("/srv/stacks"), testLogger())

	root := "/data/compose"
	if _, err := s.Update(SettingsUpdate{StackRoot: &root}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reopened, err := NewSettingsStore(path, DefaultSettings("/srv/stacks"), testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.StackRoot() != root {
		t.Fatalf("stack root = %q, want %q", reopened.StackRoot(), root)
	}
	if reopened.Get().Theme != "light" {
		t.Fatalf("theme should keep its default")
	}
}

func TestSettingsUpdateValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, _ := NewSettingsStore(path, DefaultSettings("/srv/stacks"), testLogger())

	empty := "  "
	theme := "solarized"
	port := 70000
	for name, u := range map[string]SettingsUpdate{
		"empty root": {StackRoot: &empty},
		"bad theme":  {Theme: &theme},
		"bad port":   {FrontendPort: &port},
	} {
		if _, err := s.Update(u); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("rejected updates must not write the file")
	}
}

func TestSettingsWatchReloadsExternalEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	s, _ := NewSettingsStore(path, DefaultSettings("/srv/stacks"), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"stack_root":"/elsewhere","theme":"dark"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.StackRoot() == "/elsewhere" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("settings not reloaded, stack root = %q", s.StackRoot())
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STACKDECK_DATA_DIR", "/tmp/sd")
	t.Setenv("STACKDECK_JWT_SECRET", "")
	t.Setenv("STACKDECK_COMPOSE_TIMEOUT", "not-a-duration")
	cfg := Load()
	if cfg.DBPath != filepath.Join("/tmp/sd", "stackdeck.db") {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.ComposeTimeout != 10*time.Minute {
		t.Errorf("ComposeTimeout = %v", cfg.ComposeTimeout)
	}
	if len(cfg.JWTSecret) != 64 {
		t.Errorf("expected generated secret, got %q", cfg.JWTSecret)
	}
}
