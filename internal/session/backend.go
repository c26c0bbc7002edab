package session

import (
	"bytes"
	"unicode/utf8"

	"github.com/web-casa/stackdeck/internal/apperr"
	"github.com/web-casa/stackdeck/internal/docker"
	"github.com/web-casa/stackdeck/internal/runner"
)

// ExitStatus is how a backend ended. Err is set when a log stream broke.
type ExitStatus struct {
	Code   int
	Killed bool
	Err    error
}

// Backend is the process or engine stream a session relays.
type Backend interface {
	Output() <-chan []byte
	Write(p []byte) (int, error)
	Resize(cols, rows uint16) error
	// Kill stops the backend and returns once it is reaped. It is idempotent.
	Kill() error
	// Wait blocks until the backend has ended.
	Wait() ExitStatus
}

type processBackend struct {
	p *runner.Process
}

// ProcessBackend relays a runner process.
func ProcessBackend(p *runner.Process) Backend { return processBackend{p: p} }

func (b processBackend) Output() <-chan []byte { return b.p.Output() }
func (b processBackend) Write(p []byte) (int, error) { return b.p.Write(p) }
func (b processBackend) Resize(cols, rows uint16) error { return b.p.Resize(cols, rows) }
func (b processBackend) Kill() error { return b.p.Kill() }

func (b processBackend) Wait() ExitStatus {
	st := b.p.Wait()
	return ExitStatus{Code: st.ExitCode, Killed: st.State == runner.StateKilled}
}

type logBackend struct {
	s *docker.LogStream
}

// LogBackend relays an engine log stream. It takes no input.
func LogBackend(s *docker.LogStream) Backend { return logBackend{s: s} }

func (b logBackend) Output() <-chan []byte { return b.s.Output() }

func (b logBackend) Write([]byte) (int, error) {
	return 0, apperr.New(apperr.Validation, "log streams take no input")
}

func (b logBackend) Resize(uint16, uint16) error {
	return apperr.New(apperr.Validation, "log streams have no terminal")
}

func (b logBackend) Kill() error { return b.s.Close() }

func (b logBackend) Wait() ExitStatus {
	return ExitStatus{Err: b.s.Err()}
}

// textRelay turns byte chunks into valid UTF-8 text frames, holding back a
// rune split across two chunks.
type textRelay struct {
	pending []byte
}

func (r *textRelay) next(chunk []byte) []byte {
	b := append(r.pending, chunk...)
	head, tail := splitUTF8(b)
	r.pending = append([]byte(nil), tail...)
	return bytes.ToValidUTF8(head, []byte("�"))
}

func (r *textRelay) flush() []byte {
	b := bytes.ToValidUTF8(r.pending, []byte("�"))
	r.pending = nil
	return b
}

// splitUTF8 splits b before a trailing incomplete rune.
func splitUTF8(b []byte) (head, tail []byte) {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		p := len(b) - i
		if utf8.RuneStart(b[p]) {
			if !utf8.FullRune(b[p:]) {
				return b[:p], b[p:]
			}
			break
		}
	}
	return b, nil
}
