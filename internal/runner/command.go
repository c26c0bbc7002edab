package runner

import (
	"regexp"

	"github.com/web-casa/stackdeck/internal/apperr"
)

// Command is an allow-listed invocation of the docker CLI. It can only be
// built by the constructors in this file, so no caller can smuggle in an
// arbitrary argv.
type Command struct {
	name string
	args []string
	dir  string
	env  []string
}

// Name is a short label used in logs and metrics.
func (c Command) Name() string { return c.name }

// Args returns a copy of the argument vector passed to the docker binary.
func (c Command) Args() []string { return append([]string(nil), c.args...) }

// Dir is the working directory, empty for the current one.
func (c Command) Dir() string { return c.dir }

var containerIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,254}$`)

// AllowedShells are the interpreters an exec session may start.
var AllowedShells = map[string]bool{
	"/bin/sh":   true,
	"/bin/bash": true,
	"/bin/ash":  true,
	"/bin/zsh":  true,
	"sh":        true,
	"bash":      true,
}

// DefaultShell is used when a shell session does not name one.
const DefaultShell = "/bin/sh"

// ValidContainerID reports whether id is a container id or name the engine
// could accept. A leading dash is impossible, so ids never parse as flags.
func ValidContainerID(id string) bool {
	return containerIDPattern.MatchString(id)
}

// ComposeUp brings a project up detached.
func ComposeUp(composeFile, dir string) Command {
	return Command{name: "compose-up", args: []string{"compose", "-f", composeFile, "up", "-d"}, dir: dir}
}

// ComposeDown stops and removes a project's containers and networks.
func ComposeDown(composeFile, dir string) Command {
	return Command{name: "compose-down", args: []string{"compose", "-f", composeFile, "down"}, dir: dir}
}

// ComposePs lists a project's containers as JSON.
func ComposePs(composeFile, dir string) Command {
	return Command{name: "compose-ps", args: []string{"compose", "-f", composeFile, "ps", "--all", "--format", "json"}, dir: dir}
}

// ComposeLs lists every compose project known to the engine as JSON.
func ComposeLs() Command {
	return Command{name: "compose-ls", args: []string{"compose", "ls", "--all", "--format", "json"}}
}

// ExecShell opens an interactive shell inside a running container.
func ExecShell(containerID, shell string) (Command, error) {
	if !ValidContainerID(containerID) {
		return Command{}, apperr.New(apperr.Validation, "invalid container id %q", containerID)
	}
	if shell == "" {
		shell = DefaultShell
	}
	if !AllowedShells[shell] {
		return Command{}, apperr.New(apperr.Validation, "shell %q is not allowed", shell)
	}
	return Command{
		name: "exec-shell",
		args: []string{"exec", "-it", "-e", "TERM=xterm-256color", containerID, shell},
		env:  []string{"TERM=xterm-256color"},
	}, nil
}
