// Package stack discovers and edits Compose projects stored as directories
// under the stack root.
package stack

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/web-casa/stackdeck/internal/apperr"
	"gopkg.in/yaml.v3"
)

// ComposeCandidates are the recognised compose filenames in priority order.
var ComposeCandidates = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// DefaultComposeFile is the filename written for new stacks.
const DefaultComposeFile = "docker-compose.yaml"

const envFileName = ".env"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidName reports whether name is a usable stack slug. Slugs cannot
// contain path separators or dots, so they never escape the stack root.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Stack is a Compose project directory.
type Stack struct {
	Name        string `json:"name"`
	Directory   string `json:"directory"`
	ComposeFile string `json:"compose_file"`
	EnvFile     string `json:"env_file,omitempty"`
}

// Files holds the editable contents of a stack.
type Files struct {
	ComposeContent string `json:"compose_content"`
	EnvContent     string `json:"env_content"`
}

// RootProvider supplies the current stack root. It is consulted on every
// call so a changed setting applies immediately.
type RootProvider interface {
	StackRoot() string
}

// Registry is the only component that writes stack files.
type Registry struct {
	root   RootProvider
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry creates a registry rooted at root.
func NewRegistry(root RootProvider, logger *slog.Logger) *Registry {
	return &Registry{root: root, logger: logger, locks: make(map[string]*sync.Mutex)}
}

// Root returns the current stack root.
func (r *Registry) Root() string {
	return r.root.StackRoot()
}

// Discover lists every subdirectory of the root holding a compose file.
// A missing root yields an empty list.
func (r *Registry) Discover() ([]Stack, error) {
	root := r.Root()
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("stack root does not exist", "root", root)
		return []Stack{}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, err, "read stack root")
	}

	stacks := make([]Stack, 0, len(entries))
	for _, e := range entries {
		if !ValidName(e.Name()) {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if st, ok := inspect(e.Name(), dir); ok {
			stacks = append(stacks, st)
		}
	}
	sort.Slice(stacks, func(i, j int) bool { return stacks[i].Name < stacks[j].Name })
	return stacks, nil
}

// Resolve returns the stack called name.
func (r *Registry) Resolve(name string) (Stack, error) {
	if !ValidName(name) {
		return Stack{}, apperr.New(apperr.Validation, "invalid stack name %q", name)
	}
	dir := filepath.Join(r.Root(), name)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return Stack{}, apperr.New(apperr.NotFound, "stack %q not found", name)
	}
	st, ok := inspect(name, dir)
	if !ok {
		return Stack{}, apperr.New(apperr.NotFound, "stack %q has no compose file", name)
	}
	return st, nil
}

// Read returns the compose and env contents of a stack. A missing .env reads as "".
func (r *Registry) Read(name string) (Files, error) {
	st, err := r.Resolve(name)
	if err != nil {
		return Files{}, err
	}
	compose, err := os.ReadFile(st.ComposeFile)
	if err != nil {
		return Files{}, apperr.Wrap(apperr.IOFailure, err, "read compose file")
	}
	files := Files{ComposeContent: string(compose)}
	if st.EnvFile != "" {
		env, err := os.ReadFile(st.EnvFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Files{}, apperr.Wrap(apperr.IOFailure, err, "read env file")
		}
		files.EnvContent = string(env)
	}
	return files, nil
}

// Create makes a new stack directory. It never overwrites: an existing
// directory of the same name, stack or not, is AlreadyExists. A failure after
// the directory is made leaves it in place for inspection.
func (r *Registry) Create(name, compose string, env *string) (Stack, error) {
	if !ValidName(name) {
		return Stack{}, apperr.New(apperr.Validation, "invalid stack name %q", name)
	}
	if err := ValidateCompose(compose); err != nil {
		return Stack{}, err
	}
	envContent := deref(env)
	if err := ValidateEnv(envContent); err != nil {
		return Stack{}, err
	}

	unlock := r.lock(name)
	defer unlock()

	root := r.Root()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Stack{}, apperr.Wrap(apperr.IOFailure, err, "create stack root")
	}
	dir := filepath.Join(root, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return Stack{}, apperr.New(apperr.AlreadyExists, "stack %q already exists", name)
		}
		return Stack{}, apperr.Wrap(apperr.IOFailure, err, "create stack directory")
	}

	st := Stack{Name: name, Directory: dir, ComposeFile: filepath.Join(dir, DefaultComposeFile)}
	if err := os.WriteFile(st.ComposeFile, []byte(compose), 0o644); err != nil {
		return Stack{}, apperr.Wrap(apperr.IOFailure, err, "write compose file")
	}
	if strings.TrimSpace(envContent) != "" {
		st.EnvFile = filepath.Join(dir, envFileName)
		if err := os.WriteFile(st.EnvFile, []byte(envContent), 0o644); err != nil {
			return Stack{}, apperr.Wrap(apperr.IOFailure, err, "write env file")
		}
	}

	r.logger.Info("stack created", "name", name, "dir", dir)
	return st, nil
}

// Update overwrites the compose file in place. A non-empty env replaces
// .env; an omitted or empty env removes it.
func (r *Registry) Update(name, compose string, env *string) (Stack, error) {
	if err := ValidateCompose(compose); err != nil {
		return Stack{}, err
	}
	envContent := deref(env)
	if err := ValidateEnv(envContent); err != nil {
		return Stack{}, err
	}

	unlock := r.lock(name)
	defer unlock()

	st, err := r.Resolve(name)
	if err != nil {
		return Stack{}, err
	}
	if err := os.WriteFile(st.ComposeFile, []byte(compose), 0o644); err != nil {
		return Stack{}, apperr.Wrap(apperr.IOFailure, err, "write compose file")
	}

	envPath := filepath.Join(st.Directory, envFileName)
	if strings.TrimSpace(envContent) != "" {
		if err := os.WriteFile(envPath, []byte(envContent), 0o644); err != nil {
			return Stack{}, apperr.Wrap(apperr.IOFailure, err, "write env file")
		}
		st.EnvFile = envPath
	} else {
		if err := os.Remove(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Stack{}, apperr.Wrap(apperr.IOFailure, err, "remove env file")
		}
		st.EnvFile = ""
	}

	r.logger.Info("stack updated", "name", name)
	return st, nil
}

// ValidateCompose checks that content is a YAML mapping declaring services
// (or including other compose files).
func ValidateCompose(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperr.New(apperr.Validation, "compose content cannot be empty")
	}
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return apperr.Wrap(apperr.Validation, err, "compose content is not valid YAML")
	}
	if doc == nil {
		return apperr.New(apperr.Validation, "compose content must be a mapping")
	}
	_, hasServices := doc["services"]
	_, hasInclude := doc["include"]
	if !hasServices && !hasInclude {
		return apperr.New(apperr.Validation, "compose content must declare services")
	}
	return nil
}

// ValidateEnv checks that content parses as a dotenv file.
func ValidateEnv(content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if _, err := godotenv.Unmarshal(content); err != nil {
		return apperr.Wrap(apperr.Validation, err, "env content is not a valid dotenv file")
	}
	return nil
}

func (r *Registry) lock(name string) func() {
	r.mu.Lock()
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func inspect(name, dir string) (Stack, bool) {
	for _, candidate := range ComposeCandidates {
		path := filepath.Join(dir, candidate)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			st := Stack{Name: name, Directory: dir, ComposeFile: path}
			if _, err := os.Stat(filepath.Join(dir, envFileName)); err == nil {
				st.EnvFile = filepath.Join(dir, envFileName)
			}
			return st, true
		}
	}
	return Stack{}, false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
