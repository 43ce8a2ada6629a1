// Package registry tracks which agents exist per zone and hands them
// out for exclusive use. Reservation and session binding are the only
// ways an agent leaves the idle pool.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/opsfleet/commandeer/internal/command"
	"github.com/opsfleet/commandeer/internal/log"
)

var (
	// ErrNoAvailableAgent means no idle agent matched the requested path.
	ErrNoAvailableAgent = errors.New("no available agent")

	// ErrAgentAlreadyBound means the agent already owns a different open
	// session. This is an internal invariant violation.
	ErrAgentAlreadyBound = errors.New("agent already bound to a session")

	// ErrUnknownZone means the requested zone is not configured.
	ErrUnknownZone = errors.New("unknown zone")
)

// Agent is a registered worker within a zone.
type Agent struct {
	Path      command.AgentPath
	URL       string // agent's command delivery endpoint
	Reserved  bool
	SessionID string // non-empty while the agent owns an open session
}

// Handle is an exclusive claim on one agent, valid until released or
// bound into a session.
type Handle struct {
	Path command.AgentPath
	URL  string
}

// Registry owns the per-zone agent pools. All state lives behind one
// mutex; callers never hold it across blocking work.
type Registry struct {
	mu     sync.Mutex
	zones  map[string]map[string]*Agent // zone -> agent name -> entry
	logger *slog.Logger
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{
		zones:  make(map[string]map[string]*Agent),
		logger: log.WithComponent("registry"),
	}
}

// Add registers an agent. Re-adding an existing agent only updates its
// delivery URL; reservation and session state are preserved.
func (r *Registry) Add(path command.AgentPath, url string) error {
	if path.Zone == "" || path.Agent == "" {
		return fmt.Errorf("agent path requires zone and agent name, got %q", path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.zones[path.Zone]
	if !ok {
		pool = make(map[string]*Agent)
		r.zones[path.Zone] = pool
	}
	if existing, ok := pool[path.Agent]; ok {
		existing.URL = url
		return nil
	}
	pool[path.Agent] = &Agent{Path: path, URL: url}
	r.logger.Debug("agent registered", "zone", path.Zone, "agent", path.Agent)
	return nil
}

// Reserve atomically claims an idle agent matching path. When
// path.Agent is empty any idle agent in the zone is taken, lowest
// name first for determinism. Racing callers for the same agent get
// exactly one winner; the rest see ErrNoAvailableAgent.
func (r *Registry) Reserve(path command.AgentPath) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.zones[path.Zone]
	if !ok {
		return Handle{}, fmt.Errorf("%w: %q", ErrUnknownZone, path.Zone)
	}

	if path.Agent != "" {
		a, ok := pool[path.Agent]
		if !ok || a.Reserved || a.SessionID != "" {
			return Handle{}, fmt.Errorf("%w: %s", ErrNoAvailableAgent, path)
		}
		a.Reserved = true
		return Handle{Path: a.Path, URL: a.URL}, nil
	}

	names := make([]string, 0, len(pool))
	for name := range pool {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		a := pool[name]
		if !a.Reserved && a.SessionID == "" {
			a.Reserved = true
			return Handle{Path: a.Path, URL: a.URL}, nil
		}
	}
	return Handle{}, fmt.Errorf("%w: zone %q has no idle agent", ErrNoAvailableAgent, path.Zone)
}

// Release returns an agent to the idle pool and clears any session
// binding. Releasing an idle agent is a no-op.
func (r *Registry) Release(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.lookupLocked(h.Path)
	if a == nil {
		return
	}
	a.Reserved = false
	a.SessionID = ""
}

// BindSession marks a reserved agent as owning sessionID. The
// reservation is consumed by the binding: the agent stays unavailable
// until the session closes.
func (r *Registry) BindSession(h Handle, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.lookupLocked(h.Path)
	if a == nil {
		return fmt.Errorf("%w: %s", ErrNoAvailableAgent, h.Path)
	}
	if a.SessionID != "" && a.SessionID != sessionID {
		return fmt.Errorf("%w: %s owns session %s", ErrAgentAlreadyBound, h.Path, a.SessionID)
	}
	a.SessionID = sessionID
	return nil
}

// Snapshot returns a copy of all agents, optionally filtered by zone,
// sorted by zone then agent name.
func (r *Registry) Snapshot(zone string) []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Agent
	for z, pool := range r.zones {
		if zone != "" && z != zone {
			continue
		}
		for _, a := range pool {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path.Zone != out[j].Path.Zone {
			return out[i].Path.Zone < out[j].Path.Zone
		}
		return out[i].Path.Agent < out[j].Path.Agent
	})
	return out
}

func (r *Registry) lookupLocked(path command.AgentPath) *Agent {
	pool, ok := r.zones[path.Zone]
	if !ok {
		return nil
	}
	return pool[path.Agent]
}
