// Package runner spawns the docker CLI for compose and exec operations and
// owns the lifecycle of every child it starts.
package runner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/web-casa/stackdeck/internal/apperr"
	"github.com/web-casa/stackdeck/internal/metrics"
)

// DefaultKillGrace is the delay between SIGTERM and SIGKILL.
const DefaultKillGrace = 3 * time.Second

// Result is the outcome of a one-shot command.
type Result struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Runner starts docker CLI processes.
type Runner struct {
	bin     string
	grace   time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Runner using the docker binary at bin.
func New(bin string, grace time.Duration, logger *slog.Logger, m *metrics.Metrics) *Runner {
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	return &Runner{bin: bin, grace: grace, logger: logger, metrics: m}
}

// RunOnce runs cmd to completion with separate stdout and stderr capture.
// A non-zero exit is ProcessFailure; passing the deadline kills the whole
// process group and reports Timeout.
func (r *Runner) RunOnce(ctx context.Context, cmd Command, timeout time.Duration) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c := r.command(ctx, cmd)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error { return killGroup(c, syscall.SIGKILL) }
	c.WaitDelay = r.grace

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(c),
		Duration: time.Since(start),
	}

	log := r.logger.With("command", cmd.Name(), "args", cmd.args, "dir", cmd.dir, "duration", res.Duration)
	switch {
	case err == nil:
		r.metrics.CommandFinished(cmd.Name(), "ok", res.Duration)
		log.Info("command finished")
		return res, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		r.metrics.CommandFinished(cmd.Name(), "timeout", res.Duration)
		log.Warn("command timed out", "timeout", timeout)
		return res, apperr.New(apperr.Timeout, "%s timed out after %s", cmd.Name(), timeout)
	case ctx.Err() != nil:
		r.metrics.CommandFinished(cmd.Name(), "canceled", res.Duration)
		log.Warn("command canceled")
		return res, apperr.Wrap(apperr.Internal, ctx.Err(), "%s canceled", cmd.Name())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		r.metrics.CommandFinished(cmd.Name(), "failed", res.Duration)
		log.Error("command failed", "exit_code", res.ExitCode, "stderr", res.Stderr)
		return res, apperr.Process(res.ExitCode, res.Stderr)
	}
	r.metrics.CommandFinished(cmd.Name(), "error", res.Duration)
	log.Error("command could not run", "err", err)
	return res, apperr.Wrap(apperr.Internal, err, "run %s", cmd.Name())
}

// RunStreaming starts cmd with stdout and stderr merged into one stream.
func (r *Runner) RunStreaming(cmd Command) (*Process, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "create pipe")
	}

	c := r.command(context.Background(), cmd)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Stdout = pw
	c.Stderr = pw

	if err := c.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, apperr.Wrap(apperr.Internal, err, "start %s", cmd.Name())
	}
	// The child holds its own copy of the write end.
	pw.Close()

	p := newProcess(r, cmd, c, pr, nil)
	r.logger.Info("process started", "command", cmd.Name(), "pid", p.PID())
	return p, nil
}

// StartTTY starts cmd attached to a new pseudo-terminal of the given size.
func (r *Runner) StartTTY(cmd Command, cols, rows uint16) (*Process, error) {
	c := r.command(context.Background(), cmd)

	// pty makes the child a session leader, which also gives it its own
	// process group.
	ptmx, err := pty.StartWithSize(c, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "start pty for %s", cmd.Name())
	}

	p := newProcess(r, cmd, c, ptmx, ptmx)
	r.logger.Info("tty process started", "command", cmd.Name(), "pid", p.PID(), "cols", cols, "rows", rows)
	return p, nil
}

func (r *Runner) command(ctx context.Context, cmd Command) *exec.Cmd {
	c := exec.CommandContext(ctx, r.bin, cmd.args...)
	c.Dir = cmd.dir
	c.Env = append(os.Environ(), cmd.env...)
	return c
}

func killGroup(c *exec.Cmd, sig syscall.Signal) error {
	if c.Process == nil {
		return nil
	}
	err := syscall.Kill(-c.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func exitCode(c *exec.Cmd) int {
	if c.ProcessState == nil {
		return -1
	}
	return c.ProcessState.ExitCode()
}
