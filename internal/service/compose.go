package service

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/web-casa/stackdeck/internal/apperr"
	"github.com/web-casa/stackdeck/internal/runner"
	"github.com/web-casa/stackdeck/internal/stack"
)

// CommandRunner runs one-shot docker CLI commands.
type CommandRunner interface {
	RunOnce(ctx context.Context, cmd runner.Command, timeout time.Duration) (*runner.Result, error)
}

// ComposeResult is the outcome of compose up or down.
type ComposeResult struct {
	Stack  string   `json:"stack"`
	Status string   `json:"status"`
	Output []string `json:"output"`
}

// ComposeService drives docker compose for stacks in the registry.
type ComposeService struct {
	registry *stack.Registry
	runner   CommandRunner
	timeout  time.Duration
	logger   *slog.Logger
}

// NewComposeService creates a ComposeService; timeout bounds every command.
func NewComposeService(registry *stack.Registry, r CommandRunner, timeout time.Duration, logger *slog.Logger) *ComposeService {
	return &ComposeService{registry: registry, runner: r, timeout: timeout, logger: logger}
}

// Up runs `compose up -d` for the named stack.
func (s *ComposeService) Up(ctx context.Context, name string) (*ComposeResult, error) {
	st, err := s.registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	res, err := s.runner.RunOnce(ctx, runner.ComposeUp(st.ComposeFile, st.Directory), s.timeout)
	if err != nil {
		return nil, err
	}
	s.logger.Info("stack up", "stack", name)
	return &ComposeResult{Stack: name, Status: "running", Output: outputLines(res)}, nil
}

// Down runs `compose down` for the named stack.
func (s *ComposeService) Down(ctx context.Context, name string) (*ComposeResult, error) {
	st, err := s.registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	res, err := s.runner.RunOnce(ctx, runner.ComposeDown(st.ComposeFile, st.Directory), s.timeout)
	if err != nil {
		return nil, err
	}
	s.logger.Info("stack down", "stack", name)
	return &ComposeResult{Stack: name, Status: "stopped", Output: outputLines(res)}, nil
}

// Ps lists the containers of the named stack as reported by compose.
func (s *ComposeService) Ps(ctx context.Context, name string) ([]map[string]any, error) {
	st, err := s.registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	res, err := s.runner.RunOnce(ctx, runner.ComposePs(st.ComposeFile, st.Directory), s.timeout)
	if err != nil {
		return nil, err
	}
	return ParseJSONRecords(res.Stdout)
}

// Ls lists compose projects known to the engine.
func (s *ComposeService) Ls(ctx context.Context) ([]map[string]any, error) {
	res, err := s.runner.RunOnce(ctx, runner.ComposeLs(), s.timeout)
	if err != nil {
		return nil, err
	}
	return ParseJSONRecords(res.Stdout)
}

// ParseJSONRecords accepts both a JSON array and newline-delimited JSON
// objects, since compose versions differ in which they print.
func ParseJSONRecords(out string) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(out)
	records := []map[string]any{}
	if trimmed == "" {
		return records, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &records); err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "parse compose output")
		}
		return records, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	for dec.More() {
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "parse compose output")
		}
		records = append(records, rec)
	}
	return records, nil
}

func outputLines(res *runner.Result) []string {
	lines := []string{}
	for _, block := range []string{res.Stdout, res.Stderr} {
		for _, line := range strings.Split(block, "\n") {
			if line = strings.TrimRight(line, "\r"); line != "" {
				lines = append(lines, line)
			}
		}
	}
	return lines
}
