package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/web-casa/stackdeck/internal/apperr"
)

// Kind is what a session streams.
type Kind string

const (
	KindLogs   Kind = "logs"
	KindShell  Kind = "shell"
	KindDeploy Kind = "deploy"
)

// State is a session's lifecycle position. It only moves forward.
type State int32

const (
	StateOpening State = iota
	StateAttached
	StateStreaming
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateAttached:
		return "attached"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Info describes a live session.
type Info struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Subject   string    `json:"subject"`
	User      string    `json:"user"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// event is the JSON control frame sent to deploy and log clients.
type event struct {
	Type     string `json:"type"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// control is a JSON input message from a shell client.
type control struct {
	Type string `json:"type"`
	Data string `json:"data"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

type spawnFunc func(ctx context.Context) (Backend, error)

// Session bridges one client socket to one backend. The backend is spawned
// by Attach and killed by Close, which runs exactly once.
type Session struct {
	id      string
	kind    Kind
	subject string
	user    string
	created time.Time

	spawn   spawnFunc
	onClose func(*Session)
	logger  *slog.Logger

	state atomic.Int32

	mu      sync.Mutex
	backend Backend
	conn    Conn

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(id string, kind Kind, subject, user string, spawn spawnFunc, onClose func(*Session), logger *slog.Logger) *Session {
	return &Session{
		id:      id,
		kind:    kind,
		subject: subject,
		user:    user,
		created: time.Now(),
		spawn:   spawn,
		onClose: onClose,
		logger:  logger.With("session", id, "kind", string(kind), "subject", subject),
		closed:  make(chan struct{}),
	}
}

func (s *Session) ID() string      { return s.id }
func (s *Session) Kind() Kind      { return s.kind }
func (s *Session) Subject() string { return s.subject }
func (s *Session) State() State    { return State(s.state.Load()) }

// Done is closed once the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Info returns a snapshot for listings.
func (s *Session) Info() Info {
	return Info{
		ID:        s.id,
		Kind:      s.kind,
		Subject:   s.subject,
		User:      s.user,
		State:     s.State().String(),
		CreatedAt: s.created,
	}
}

// Attach spawns the backend and binds it to conn. On failure the client gets
// an error event and the session is closed.
func (s *Session) Attach(ctx context.Context, conn Conn) error {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if s.State() != StateOpening {
		conn.Close(CloseGoingAway, "session closed")
		return apperr.New(apperr.NotFound, "session %s is no longer open", s.id)
	}

	backend, err := s.spawn(ctx)
	if err != nil {
		s.logger.Warn("spawn failed", "err", err)
		s.sendEvent(event{Type: "error", Error: err.Error()})
		s.Close(CloseInternal, "spawn failed")
		return err
	}

	s.mu.Lock()
	if !s.state.CompareAndSwap(int32(StateOpening), int32(StateAttached)) {
		// Killed while spawning; this session is still the backend's only owner.
		s.mu.Unlock()
		backend.Kill()
		conn.Close(CloseGoingAway, "session closed")
		return apperr.New(apperr.NotFound, "session %s was closed", s.id)
	}
	s.backend = backend
	s.mu.Unlock()

	s.logger.Info("session attached")
	return nil
}

// Serve relays until either side ends, then closes the session. It blocks
// until both pumps have returned.
func (s *Session) Serve(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateAttached), int32(StateStreaming)) {
		// Killed between Attach and Serve; Close has already cleaned up.
		if s.closing() {
			return nil
		}
		return apperr.New(apperr.Internal, "session %s is not attached", s.id)
	}

	var g errgroup.Group
	g.Go(func() error {
		err := s.pumpOutput()
		s.finish(err)
		return err
	})
	g.Go(func() error {
		err := s.pumpInput()
		s.finish(err)
		return err
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			s.Close(CloseGoingAway, "server shutting down")
		case <-s.closed:
		}
		return nil
	})
	return g.Wait()
}

// Close moves the session through Closing to Closed: the backend is killed
// and reaped, unsent output is dropped, and the socket is closed. Only the
// first call has any effect; later calls wait for it to finish.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state.Store(int32(StateClosing))
		backend, conn := s.backend, s.conn
		s.mu.Unlock()

		if backend != nil {
			if err := backend.Kill(); err != nil {
				s.logger.Warn("kill backend", "err", err)
			}
		}
		if conn != nil {
			conn.Close(code, reason)
		}
		if s.onClose != nil {
			s.onClose(s)
		}
		s.state.Store(int32(StateClosed))
		s.logger.Info("session closed", "reason", reason)
		close(s.closed)
	})
	<-s.closed
}

func (s *Session) finish(err error) {
	switch {
	case err == nil:
		s.Close(CloseNormal, "stream ended")
	default:
		s.Close(CloseInternal, "stream error")
	}
}

func (s *Session) closing() bool {
	return s.State() >= StateClosing
}

func (s *Session) pumpOutput() error {
	frameType := TextFrame
	if s.kind == KindShell {
		frameType = BinaryFrame
	}
	relay := &textRelay{}

	for chunk := range s.backend.Output() {
		data := chunk
		if frameType == TextFrame {
			if data = relay.next(chunk); len(data) == 0 {
				continue
			}
		}
		if err := s.conn.Send(Frame{Type: frameType, Data: data}); err != nil {
			if s.closing() {
				return nil
			}
			return err
		}
	}
	if s.closing() {
		return nil
	}
	if frameType == TextFrame {
		if rest := relay.flush(); len(rest) > 0 {
			s.conn.Send(Frame{Type: TextFrame, Data: rest})
		}
	}

	st := s.backend.Wait()
	switch {
	case st.Err != nil:
		s.sendEvent(event{Type: "error", Error: st.Err.Error()})
	case s.kind == KindDeploy:
		code := st.Code
		s.sendEvent(event{Type: "exit", ExitCode: &code})
	}
	s.logger.Info("backend ended", "exit_code", st.Code, "killed", st.Killed)
	return nil
}

func (s *Session) pumpInput() error {
	for {
		f, err := s.conn.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || s.closing() {
				return nil
			}
			return err
		}
		if s.kind != KindShell {
			continue
		}
		if err := s.handleInput(f); err != nil {
			if s.closing() {
				return nil
			}
			return err
		}
	}
}

// handleInput writes binary frames raw. Text frames are control messages
// when they parse as one, raw keystrokes otherwise.
func (s *Session) handleInput(f Frame) error {
	if f.Type == TextFrame {
		var msg control
		if json.Unmarshal(f.Data, &msg) == nil {
			switch msg.Type {
			case "resize":
				if err := s.backend.Resize(msg.Cols, msg.Rows); err != nil {
					s.logger.Debug("resize ignored", "err", err)
				}
				return nil
			case "data":
				_, err := s.backend.Write([]byte(msg.Data))
				return err
			}
		}
	}
	_, err := s.backend.Write(f.Data)
	return err
}

func (s *Session) sendEvent(e event) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := conn.Send(Frame{Type: TextFrame, Data: b}); err != nil {
		s.logger.Debug("send event", "type", e.Type, "err", err)
	}
}
