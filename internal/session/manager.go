// Package session groups related commands under a session bound to one
// agent. The sessionID -> binding index lives here; agent availability
// stays in the registry.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsfleet/commandeer/internal/command"
	"github.com/opsfleet/commandeer/internal/log"
	"github.com/opsfleet/commandeer/internal/registry"
)

var (
	// ErrSessionNotFound means the referenced session was never opened.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed means the session exists but no longer accepts commands.
	ErrSessionClosed = errors.New("session closed")

	// ErrAgentMismatch means the command named an agent other than the
	// session's bound agent.
	ErrAgentMismatch = errors.New("agent does not match session binding")
)

// Status of a session.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Session is an open, stateful channel to one specific agent.
type Session struct {
	ID        string            `json:"id"`
	Path      command.AgentPath `json:"path"`
	URL       string            `json:"-"`
	Status    Status            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// Context is the result of resolving a command against the session
// index: the agent handle to dispatch on, and the session it belongs
// to (empty for session-less commands).
type Context struct {
	SessionID string
	Handle    registry.Handle
	Created   bool // true when Resolve opened the session itself
}

// Journal receives session lifecycle notifications for durable audit.
// Implementations must not block on dispatch-path calls.
type Journal interface {
	SessionOpened(s Session)
	SessionClosed(sessionID string)
}

// Manager owns the session index.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	reg      *registry.Registry
	journal  Journal
	logger   *slog.Logger
}

// NewManager builds a Manager on top of the given registry.
func NewManager(reg *registry.Registry) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		reg:      reg,
		logger:   log.WithComponent("session"),
	}
}

// SetJournal installs the audit journal. Call before serving traffic.
func (m *Manager) SetJournal(j Journal) {
	m.journal = j
}

// Resolve maps a draft onto an agent, opening a session for
// CREATE_SESSION, joining an existing one when SessionID is set, or
// reserving a fresh agent for session-less fire-and-forget commands.
func (m *Manager) Resolve(d command.Draft) (Context, error) {
	if d.Type == command.TypeCreateSession {
		return m.open(d)
	}
	if d.SessionID != "" {
		return m.join(d)
	}

	h, err := m.reg.Reserve(command.AgentPath{Zone: d.Zone, Agent: d.Agent})
	if err != nil {
		return Context{}, err
	}
	return Context{Handle: h}, nil
}

func (m *Manager) open(d command.Draft) (Context, error) {
	h, err := m.reg.Reserve(command.AgentPath{Zone: d.Zone, Agent: d.Agent})
	if err != nil {
		return Context{}, err
	}

	id := uuid.NewString()
	if err := m.reg.BindSession(h, id); err != nil {
		m.reg.Release(h)
		return Context{}, err
	}

	s := &Session{
		ID:        id,
		Path:      h.Path,
		URL:       h.URL,
		Status:    StatusOpen,
		CreatedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	if m.journal != nil {
		m.journal.SessionOpened(*s)
	}
	m.logger.Info("session opened", "session_id", id, "zone", h.Path.Zone, "agent", h.Path.Agent)
	return Context{SessionID: id, Handle: h, Created: true}, nil
}

func (m *Manager) join(d command.Draft) (Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[d.SessionID]
	if !ok {
		return Context{}, fmt.Errorf("%w: %s", ErrSessionNotFound, d.SessionID)
	}
	if s.Status != StatusOpen {
		return Context{}, fmt.Errorf("%w: %s", ErrSessionClosed, d.SessionID)
	}
	if d.Agent != "" && d.Agent != s.Path.Agent {
		return Context{}, fmt.Errorf("%w: session %s is bound to %s, command names %s",
			ErrAgentMismatch, s.ID, s.Path, d.Agent)
	}
	if d.Zone != "" && d.Zone != s.Path.Zone {
		return Context{}, fmt.Errorf("%w: session %s is bound to %s, command names zone %s",
			ErrAgentMismatch, s.ID, s.Path, d.Zone)
	}

	return Context{SessionID: s.ID, Handle: registry.Handle{Path: s.Path, URL: s.URL}}, nil
}

// Close transitions the session to CLOSED and frees its agent. It
// reports whether this call did the closing; closing an unknown or
// already-closed session is a no-op returning false.
func (m *Manager) Close(sessionID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Status == StatusClosed {
		m.mu.Unlock()
		return false
	}
	s.Status = StatusClosed
	handle := registry.Handle{Path: s.Path, URL: s.URL}
	m.mu.Unlock()

	m.reg.Release(handle)
	if m.journal != nil {
		m.journal.SessionClosed(sessionID)
	}
	m.logger.Info("session closed", "session_id", sessionID, "zone", handle.Path.Zone, "agent", handle.Path.Agent)
	return true
}

// Get returns a copy of the session record.
func (m *Manager) Get(sessionID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}
