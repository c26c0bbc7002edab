package stack

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/web-casa/stackdeck/internal/apperr"
)

const testCompose = "services:\n  web:\n    image: nginx:alpine\n"

type fixedRoot string

func (r fixedRoot) StackRoot() string { return string(r) }

func setupRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "stacks")
	return NewRegistry(fixedRoot(root), slog.New(slog.NewTextHandler(io.Discard, nil))), root
}

func strPtr(s string) *string { return &s }

func TestCreateResolveRoundTrip(t *testing.T) {
	reg, root := setupRegistry(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	slug := gen.RegexMatch(`^[A-Za-z0-9_-]{1,40}$`)

	properties.Property("create then resolve returns the written compose", prop.ForAll(
		func(name string) bool {
			if _, err := os.Stat(filepath.Join(root, name)); err == nil {
				// already generated in an earlier iteration
				_, err := reg.Create(name, testCompose, nil)
				return errors.Is(err, apperr.ErrAlreadyExists)
			}
			st, err := reg.Create(name, testCompose, nil)
			if err != nil {
				return false
			}
			resolved, err := reg.Resolve(name)
			if err != nil || resolved.Directory != filepath.Join(root, name) || resolved.ComposeFile != st.ComposeFile {
				return false
			}
			data, err := os.ReadFile(resolved.ComposeFile)
			return err == nil && string(data) == testCompose
		},
		slug,
	))

	properties.Property("invalid names are rejected without touching disk", prop.ForAll(
		func(name string) bool {
			if ValidName(name) {
				return true
			}
			before, _ := os.ReadDir(root)
			_, err := reg.Create(name, testCompose, nil)
			after, _ := os.ReadDir(root)
			return errors.Is(err, apperr.ErrValidation) && len(before) == len(after)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestInvalidNamesCreateNothing(t *testing.T) {
	reg, root := setupRegistry(t)
	for _, name := range []string{"", "../etc", "a/b", "a b", ".", "..", "name.with.dots", string(make([]byte, 129))} {
		if _, err := reg.Create(name, testCompose, nil); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("Create(%q): expected validation error, got %v", name, err)
		}
	}
	if _, err := os.Stat(root); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stack root should not have been created")
	}
}

func TestCreateRejectsExistingDirectory(t *testing.T) {
	reg, root := setupRegistry(t)
	if err := os.MkdirAll(filepath.Join(root, "media"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Create("media", testCompose, nil); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("expected AlreadyExists for a plain directory, got %v", err)
	}
}

func TestCreateValidatesContent(t *testing.T) {
	reg, _ := setupRegistry(t)
	cases := map[string]struct {
		compose string
		env     *string
	}{
		"empty compose":    {"   ", nil},
		"not yaml":         {"services: [unclosed", nil},
		"scalar document":  {"just a string", nil},
		"missing services": {"version: '3'\n", nil},
		"bad env":          {testCompose, strPtr("KEY='unterminated\n")},
	}
	for name, c := range cases {
		if _, err := reg.Create("app", c.compose, c.env); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestCreateWritesEnv(t *testing.T) {
	reg, root := setupRegistry(t)
	st, err := reg.Create("media", testCompose, strPtr("TZ=UTC\n"))
	if err != nil {
		t.Fatal(err)
	}
	if st.ComposeFile != filepath.Join(root, "media", DefaultComposeFile) {
		t.Errorf("compose file = %s", st.ComposeFile)
	}
	files, err := reg.Read("media")
	if err != nil {
		t.Fatal(err)
	}
	if files.ComposeContent != testCompose || files.EnvContent != "TZ=UTC\n" {
		t.Fatalf("unexpected files: %+v", files)
	}
}

func TestUpdateEnvLifecycle(t *testing.T) {
	reg, root := setupRegistry(t)
	if _, err := reg.Create("media", testCompose, strPtr("A=1\n")); err != nil {
		t.Fatal(err)
	}

	updated := "services:\n  web:\n    image: nginx:1.27\n"
	if _, err := reg.Update("media", updated, strPtr("B=2\n")); err != nil {
		t.Fatalf("update: %v", err)
	}
	files, _ := reg.Read("media")
	if files.ComposeContent != updated || files.EnvContent != "B=2\n" {
		t.Fatalf("unexpected files after update: %+v", files)
	}

	if _, err := reg.Update("media", updated, nil); err != nil {
		t.Fatalf("update without env: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "media", ".env")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf(".env should be removed when env is omitted")
	}
	files, _ = reg.Read("media")
	if files.EnvContent != "" {
		t.Fatalf("env content = %q, want empty", files.EnvContent)
	}
}

func TestUpdateKeepsExistingComposeFilename(t *testing.T) {
	reg, root := setupRegistry(t)
	dir := filepath.Join(root, "legacy")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, "compose.yml"), []byte(testCompose), 0o644)

	st, err := reg.Update("legacy", testCompose, nil)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(st.ComposeFile) != "compose.yml" {
		t.Fatalf("compose file = %s, want compose.yml", st.ComposeFile)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultComposeFile)); err == nil {
		t.Fatalf("update must not create a second compose file")
	}
}

func TestUpdateUnknownStack(t *testing.T) {
	reg, _ := setupRegistry(t)
	if _, err := reg.Update("ghost", testCompose, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDiscover(t *testing.T) {
	reg, root := setupRegistry(t)

	stacks, err := reg.Discover()
	if err != nil || len(stacks) != 0 {
		t.Fatalf("missing root: got %v, %v", stacks, err)
	}

	for name, file := range map[string]string{
		"zeta":  "docker-compose.yml",
		"alpha": "compose.yaml",
		"mid":   "docker-compose.yaml",
	} {
		dir := filepath.Join(root, name)
		os.MkdirAll(dir, 0o755)
		os.WriteFile(filepath.Join(dir, file), []byte(testCompose), 0o644)
	}
	os.MkdirAll(filepath.Join(root, "empty"), 0o755)
	os.WriteFile(filepath.Join(root, "stray.yml"), []byte(testCompose), 0o644)

	stacks, err = reg.Discover()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, s := range stacks {
		names = append(names, s.Name)
	}
	if len(names) != 3 || names[0] != "alpha" || names[1] != "mid" || names[2] != "zeta" {
		t.Fatalf("discovered %v", names)
	}
}

func TestComposeCandidatePriority(t *testing.T) {
	reg, root := setupRegistry(t)
	dir := filepath.Join(root, "both")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, "compose.yaml"), []byte(testCompose), 0o644)
	os.WriteFile(filepath.Join(dir, "docker-compose.yml"), []byte(testCompose), 0o644)

	st, err := reg.Resolve("both")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(st.ComposeFile) != "docker-compose.yml" {
		t.Fatalf("picked %s", st.ComposeFile)
	}
}
