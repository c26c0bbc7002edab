package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/web-casa/stackdeck/internal/apperr"
	"github.com/web-casa/stackdeck/internal/runner"
	"github.com/web-casa/stackdeck/internal/stack"
)

type fixedRoot string

func (r fixedRoot) StackRoot() string { return string(r) }

type scriptedRunner struct {
	commands []runner.Command
	result   *runner.Result
	err      error
}

func (s *scriptedRunner) RunOnce(_ context.Context, cmd runner.Command, _ time.Duration) (*runner.Result, error) {
	s.commands = append(s.commands, cmd)
	return s.result, s.err
}

func setupCompose(t *testing.T, r *scriptedRunner) (*ComposeService, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "media")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "compose.yaml"), []byte("services: {}\n"), 0o644))
	reg := stack.NewRegistry(fixedRoot(root), discardLogger())
	return NewComposeService(reg, r, time.Minute, discardLogger()), dir
}

func TestComposeUpUsesResolvedFile(t *testing.T) {
	r := &scriptedRunner{result: &runner.Result{Stdout: "", Stderr: " Container media-web-1  Started\n"}}
	svc, dir := setupCompose(t, r)

	res, err := svc.Up(context.Background(), "media")
	require.NoError(t, err)
	assert.Equal(t, "running", res.Status)
	assert.Equal(t, []string{" Container media-web-1  Started"}, res.Output)

	require.Len(t, r.commands, 1)
	assert.Equal(t, []string{"compose", "-f", filepath.Join(dir, "compose.yaml"), "up", "-d"}, r.commands[0].Args())
	assert.Equal(t, dir, r.commands[0].Dir())
}

func TestComposeUnknownStackRunsNothing(t *testing.T) {
	r := &scriptedRunner{result: &runner.Result{}}
	svc, _ := setupCompose(t, r)

	_, err := svc.Down(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.Ps(context.Background(), "../etc")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, r.commands)
}

func TestComposeFailurePropagates(t *testing.T) {
	r := &scriptedRunner{result: &runner.Result{ExitCode: 1}, err: apperr.Process(1, "bad compose file")}
	svc, _ := setupCompose(t, r)

	_, err := svc.Up(context.Background(), "media")
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, 1, e.ExitCode)
	assert.Equal(t, "bad compose file", e.Stderr)
}

func TestParseJSONRecords(t *testing.T) {
	array := `[{"Name":"media","Status":"running(2)"},{"Name":"db","Status":"exited(1)"}]`
	recs, err := ParseJSONRecords(array)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, "db", recs[1]["Name"])

	ndjson := "{\"Service\":\"web\",\"State\":\"running\"}\n{\"Service\":\"worker\",\"State\":\"exited\"}\n"
	recs, err = ParseJSONRecords(ndjson)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, "worker", recs[1]["Service"])

	recs, err = ParseJSONRecords("  \n")
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = ParseJSONRecords("not json")
	assert.Error(t, err)
}
