package session

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/web-casa/stackdeck/internal/apperr"
	"github.com/web-casa/stackdeck/internal/docker"
	"github.com/web-casa/stackdeck/internal/metrics"
	"github.com/web-casa/stackdeck/internal/runner"
	"github.com/web-casa/stackdeck/internal/stack"
)

const (
	DefaultMaxSessions = 20
	defaultCols        = 80
	defaultRows        = 24
	defaultTail        = "200"
)

// Engine is what log and shell sessions need from the Engine API.
type Engine interface {
	InspectContainer(ctx context.Context, id string) (docker.ContainerDetails, error)
	StreamLogs(ctx context.Context, id, tail string, tty bool) (*docker.LogStream, error)
}

// Starter spawns streaming processes.
type Starter interface {
	RunStreaming(cmd runner.Command) (*runner.Process, error)
	StartTTY(cmd runner.Command, cols, rows uint16) (*runner.Process, error)
}

// StackResolver maps a stack name to its compose file.
type StackResolver interface {
	Resolve(name string) (stack.Stack, error)
}

// Request is what a client asks for when opening a session.
type Request struct {
	Kind    Kind
	Subject string // container id or stack name
	User    string

	Tail   string // logs
	Shell  string // shell
	Cols   uint16 // shell
	Rows   uint16 // shell
	Action string // deploy: up or down
}

// Manager owns every live session.
type Manager struct {
	engine  Engine
	starter Starter
	stacks  StackResolver
	max     int
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager allowing at most maxSessions concurrent sessions.
func NewManager(engine Engine, starter Starter, stacks StackResolver, maxSessions int, m *metrics.Metrics, logger *slog.Logger) *Manager {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Manager{
		engine:   engine,
		starter:  starter,
		stacks:   stacks,
		max:      maxSessions,
		metrics:  m,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Open validates req and resolves its subject without spawning anything.
// The returned session is registered in Opening; the caller must Attach or
// Close it.
func (m *Manager) Open(ctx context.Context, req Request) (*Session, error) {
	if req.User == "" {
		return nil, apperr.New(apperr.Unauthorized, "authentication required")
	}

	var (
		spawn spawnFunc
		err   error
	)
	switch req.Kind {
	case KindLogs:
		spawn, err = m.prepareLogs(ctx, req)
	case KindShell:
		spawn, err = m.prepareShell(ctx, req)
	case KindDeploy:
		spawn, err = m.prepareDeploy(req)
	default:
		err = apperr.New(apperr.Validation, "unknown session kind %q", req.Kind)
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= m.max {
		return nil, apperr.New(apperr.ResourceBusy, "too many sessions (max %d)", m.max)
	}
	s := newSession(uuid.New().String(), req.Kind, req.Subject, req.User, spawn, m.remove, m.logger)
	m.sessions[s.id] = s
	m.metrics.SessionOpened(string(s.kind))
	m.logger.Info("session opened", "session", s.id, "kind", string(s.kind), "subject", s.subject, "user", s.user)
	return s, nil
}

func (m *Manager) prepareLogs(ctx context.Context, req Request) (spawnFunc, error) {
	tail := req.Tail
	if tail == "" {
		tail = defaultTail
	}
	if tail != "all" {
		if n, err := strconv.Atoi(tail); err != nil || n < 0 {
			return nil, apperr.New(apperr.Validation, "tail must be a non-negative number or \"all\"")
		}
	}
	if !runner.ValidContainerID(req.Subject) {
		return nil, apperr.New(apperr.Validation, "invalid container id %q", req.Subject)
	}
	details, err := m.engine.InspectContainer(ctx, req.Subject)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (Backend, error) {
		ls, err := m.engine.StreamLogs(ctx, details.ID, tail, details.TTY)
		if err != nil {
			return nil, err
		}
		return LogBackend(ls), nil
	}, nil
}

func (m *Manager) prepareShell(ctx context.Context, req Request) (spawnFunc, error) {
	cmd, err := runner.ExecShell(req.Subject, req.Shell)
	if err != nil {
		return nil, err
	}
	details, err := m.engine.InspectContainer(ctx, req.Subject)
	if err != nil {
		return nil, err
	}
	if !details.Running {
		return nil, apperr.New(apperr.ResourceBusy, "container %s is not running", req.Subject)
	}
	cols, rows := req.Cols, req.Rows
	if cols == 0 {
		cols = defaultCols
	}
	if rows == 0 {
		rows = defaultRows
	}
	return func(context.Context) (Backend, error) {
		p, err := m.starter.StartTTY(cmd, cols, rows)
		if err != nil {
			return nil, err
		}
		return ProcessBackend(p), nil
	}, nil
}

func (m *Manager) prepareDeploy(req Request) (spawnFunc, error) {
	st, err := m.stacks.Resolve(req.Subject)
	if err != nil {
		return nil, err
	}
	var cmd runner.Command
	switch req.Action {
	case "", "up":
		cmd = runner.ComposeUp(st.ComposeFile, st.Directory)
	case "down":
		cmd = runner.ComposeDown(st.ComposeFile, st.Directory)
	default:
		return nil, apperr.New(apperr.Validation, "action must be up or down")
	}
	return func(context.Context) (Backend, error) {
		p, err := m.starter.RunStreaming(cmd)
		if err != nil {
			return nil, err
		}
		return ProcessBackend(p), nil
	}, nil
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns the live sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Kill closes a session and waits until its backend is reaped.
func (m *Manager) Kill(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return apperr.New(apperr.NotFound, "session %s not found", id)
	}
	s.Close(CloseGoingAway, "killed")
	return nil
}

// CleanupStale closes sessions older than maxAge and returns how many.
func (m *Manager) CleanupStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	var stale []*Session
	m.mu.Lock()
	for _, s := range m.sessions {
		if s.created.Before(cutoff) {
			stale = append(stale, s)
		}
	}
	m.mu.Unlock()

	m.closeEach(stale, "session expired")
	for _, s := range stale {
		m.logger.Info("stale session cleaned up", "session", s.id)
	}
	return len(stale)
}

// Run sweeps stale sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupStale(maxAge)
		}
	}
}

// CloseAll closes every session, for shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()
	m.closeEach(all, "server shutting down")
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) closeEach(sessions []*Session, reason string) {
	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			s.Close(CloseGoingAway, reason)
			return nil
		})
	}
	g.Wait()
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	_, ok := m.sessions[s.id]
	delete(m.sessions, s.id)
	m.mu.Unlock()
	if ok {
		m.metrics.SessionClosed(string(s.kind))
	}
}
