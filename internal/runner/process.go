package runner

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/web-casa/stackdeck/internal/apperr"
)

const chunkSize = 4096

// State is the lifecycle state of a managed process.
type State string

const (
	StateRunning State = "running"
	StateExited  State = "exited"
	StateKilled  State = "killed"
)

// Status is a snapshot of a process's state. ExitCode is meaningful once the
// process is no longer running; it is -1 when a signal ended it.
type Status struct {
	State    State `json:"state"`
	ExitCode int   `json:"exit_code"`
}

// Process is a streaming child of the runner. Only its wait goroutine
// writes the status, and Kill is the only way to stop it early.
type Process struct {
	runner *Runner
	cmd    Command
	c      *exec.Cmd
	out    *os.File // pipe read end or pty master
	tty    *os.File // nil in pipe mode
	start  time.Time

	output   chan []byte
	stop     chan struct{} // closed by Kill; pending output is discarded
	pumpDone chan struct{}
	done     chan struct{} // closed once the child is reaped and output drained

	killOnce  sync.Once
	closeOnce sync.Once
	killed    atomic.Bool

	mu     sync.Mutex
	status Status
}

func newProcess(r *Runner, cmd Command, c *exec.Cmd, out, tty *os.File) *Process {
	p := &Process{
		runner:   r,
		cmd:      cmd,
		c:        c,
		out:      out,
		tty:      tty,
		start:    time.Now(),
		output:   make(chan []byte, 16),
		stop:     make(chan struct{}),
		pumpDone: make(chan struct{}),
		done:     make(chan struct{}),
		status:   Status{State: StateRunning, ExitCode: -1},
	}
	go p.pump()
	go p.wait()
	return p
}

// Output yields the process's output in order. It is closed once the output
// is exhausted or the process is killed; it cannot be restarted.
func (p *Process) Output() <-chan []byte { return p.output }

// Done is closed after the process has been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// PID returns the child's process id.
func (p *Process) PID() int { return p.c.Process.Pid }

// Name is the command label.
func (p *Process) Name() string { return p.cmd.Name() }

// Status returns the current status.
func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Wait blocks until the process is reaped and returns its final status.
func (p *Process) Wait() Status {
	<-p.done
	return p.Status()
}

// Write sends input to a tty process.
func (p *Process) Write(b []byte) (int, error) {
	if p.tty == nil {
		return 0, apperr.New(apperr.Validation, "process does not accept input")
	}
	select {
	case <-p.done:
		return 0, io.ErrClosedPipe
	default:
	}
	return p.tty.Write(b)
}

// Resize changes the terminal size of a tty process.
func (p *Process) Resize(cols, rows uint16) error {
	if p.tty == nil {
		return apperr.New(apperr.Validation, "process has no terminal")
	}
	if cols == 0 || rows == 0 {
		return apperr.New(apperr.Validation, "terminal size must be positive")
	}
	return pty.Setsize(p.tty, &pty.Winsize{Cols: cols, Rows: rows})
}

// Kill terminates the process group: SIGTERM, then SIGKILL after the grace
// period. It returns once the child is reaped. Calling it again, or after
// the process has exited, is a no-op.
func (p *Process) Kill() error {
	p.killOnce.Do(func() {
		close(p.stop)

		select {
		case <-p.done:
			return
		default:
		}
		p.killed.Store(true)

		// Hanging up the terminal ends interactive shells that ignore SIGTERM.
		if p.tty != nil {
			p.closeOut()
		}
		killGroup(p.c, syscall.SIGTERM)

		select {
		case <-p.done:
		case <-time.After(p.runner.grace):
			p.runner.logger.Warn("process ignored SIGTERM, killing", "command", p.Name(), "pid", p.PID())
			killGroup(p.c, syscall.SIGKILL)
			p.closeOut()
			<-p.done
		}
	})
	return nil
}

func (p *Process) pump() {
	defer close(p.pumpDone)
	defer close(p.output)

	buf := make([]byte, chunkSize)
	for {
		n, err := p.out.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case p.output <- chunk:
			case <-p.stop:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *Process) wait() {
	err := p.c.Wait()

	// Let the pump drain what the child wrote before exiting. A grandchild
	// holding the stream open must not keep the session alive forever.
	select {
	case <-p.pumpDone:
	case <-time.After(p.runner.grace):
		p.closeOut()
		<-p.pumpDone
	}
	p.closeOut()

	st := Status{State: StateExited, ExitCode: exitCode(p.c)}
	if p.killed.Load() {
		st.State = StateKilled
	}
	p.mu.Lock()
	p.status = st
	p.mu.Unlock()

	d := time.Since(p.start)
	outcome := "ok"
	switch {
	case st.State == StateKilled:
		outcome = "killed"
	case st.ExitCode != 0:
		outcome = "failed"
	}
	p.runner.metrics.CommandFinished(p.Name(), outcome, d)
	p.runner.logger.Info("process exited", "command", p.Name(), "pid", p.PID(), "state", st.State, "exit_code", st.ExitCode, "duration", d, "err", err)

	close(p.done)
}

func (p *Process) closeOut() {
	p.closeOnce.Do(func() { p.out.Close() })
}
