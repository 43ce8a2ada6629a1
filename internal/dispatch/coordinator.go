// Package dispatch is the single entry point for command submission
// and the funnel for every status change. All lifecycle transitions,
// webhook firing, and session teardown go through the Coordinator so
// the per-command exclusion discipline holds everywhere.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/opsfleet/commandeer/internal/command"
	"github.com/opsfleet/commandeer/internal/events"
	"github.com/opsfleet/commandeer/internal/log"
	"github.com/opsfleet/commandeer/internal/registry"
	"github.com/opsfleet/commandeer/internal/session"
	"github.com/opsfleet/commandeer/internal/transport"
)

// ErrInvalidDraft means the submission failed validation before any
// state was touched.
var ErrInvalidDraft = errors.New("invalid command draft")

// Policy decides what happens when no agent is available for a
// session-less submission.
type Policy string

const (
	// PolicyFail rejects the submission synchronously; nothing is persisted.
	PolicyFail Policy = "fail"
	// PolicyQueue persists the command as PENDING without an agent and
	// retries assignment on watchdog ticks.
	PolicyQueue Policy = "queue"
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks github.com/opsfleet/commandeer/internal/dispatch Storage,Notifier,Transport

// Storage is the persistence collaborator.
type Storage interface {
	Save(ctx context.Context, c *command.Command) error
	Update(ctx context.Context, c *command.Command) error
	Get(ctx context.Context, id string) (*command.Command, error)
}

// Notifier is the webhook collaborator.
type Notifier interface {
	Notify(ctx context.Context, c *command.Command) error
}

// Transport mirrors transport.Transport for mock generation.
type Transport = transport.Transport

// Coordinator wires the session manager, registry, storage, transport
// and notifier together.
type Coordinator struct {
	store     Storage
	sessions  *session.Manager
	reg       *registry.Registry
	transport Transport
	notifier  Notifier
	hub       *events.Hub
	policy    Policy
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-command critical sections
}

// New builds a Coordinator.
func New(store Storage, sessions *session.Manager, reg *registry.Registry, tr Transport, notifier Notifier, hub *events.Hub, policy Policy) *Coordinator {
	if policy == "" {
		policy = PolicyFail
	}
	if hub == nil {
		hub = events.NewHub(128)
	}
	return &Coordinator{
		store:     store,
		sessions:  sessions,
		reg:       reg,
		transport: tr,
		notifier:  notifier,
		hub:       hub,
		policy:    policy,
		logger:    log.WithComponent("dispatch"),
	}
}

// Submit validates a draft, resolves its session and agent, persists
// it as PENDING, and attempts delivery. The returned command carries
// the outcome in its status: SENT on accepted handoff, REJECTED when
// the agent was unreachable, PENDING when the queue policy parked it.
// Validation and resolution failures return an error and persist
// nothing.
func (d *Coordinator) Submit(ctx context.Context, draft command.Draft) (*command.Command, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	sctx, err := d.sessions.Resolve(draft)
	if err != nil {
		// Parking only applies to session-less, any-agent work: a named
		// agent or a session carries affinity we cannot hold a spot for.
		if d.policy == PolicyQueue && errors.Is(err, registry.ErrNoAvailableAgent) &&
			draft.SessionID == "" && draft.Agent == "" && draft.Type != command.TypeCreateSession {
			return d.park(ctx, draft)
		}
		return nil, err
	}

	cmd := newCommand(draft)
	cmd.Agent = sctx.Handle.Path.Agent
	cmd.SessionID = sctx.SessionID

	// Durably PENDING before any transport attempt: a crash here
	// leaves a recoverable record, not a lost command.
	if err := d.store.Save(ctx, cmd); err != nil {
		d.unwindResolution(sctx)
		return nil, fmt.Errorf("persist command: %w", err)
	}

	d.hub.Publish(events.TypeCommandSubmitted, cmd)
	if sctx.Created {
		d.hub.Publish(events.TypeSessionOpened, map[string]string{
			"session_id": sctx.SessionID,
			"zone":       cmd.Zone,
			"agent":      cmd.Agent,
		})
	}

	return d.deliver(ctx, cmd, sctx.Handle.URL), nil
}

// ReportStatus is the agent callback: it applies a reported status to
// the command inside its per-command critical section. Duplicate
// terminal reports are absorbed; conflicting ones fail.
func (d *Coordinator) ReportStatus(ctx context.Context, id string, status command.Status, outputs map[string]string) (*command.Command, error) {
	unlock := d.lockCommand(id)
	defer unlock()

	cmd, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	changed, err := command.Transition(cmd, status)
	if err != nil {
		return nil, err
	}
	if !changed {
		// Idempotent duplicate terminal report.
		return cmd, nil
	}

	if len(outputs) > 0 {
		if cmd.Outputs == nil {
			cmd.Outputs = make(map[string]string, len(outputs))
		}
		for k, v := range outputs {
			cmd.Outputs[k] = v
		}
	}

	if err := d.store.Update(ctx, cmd); err != nil {
		return nil, fmt.Errorf("persist status %s for %s: %w", status, id, err)
	}

	d.hub.CommandStatus(cmd.ID, cmd.Zone, cmd.Agent, string(cmd.Status))
	if cmd.Status.Terminal() {
		d.finalize(ctx, cmd)
	}
	return cmd, nil
}

// ForceTimeout drives an overdue command to TIMEOUT through the same
// critical section as agent reports. Used by the watchdog only. The
// command may have progressed to a terminal state in the meantime;
// that race resolves to a no-op here.
func (d *Coordinator) ForceTimeout(ctx context.Context, id string) error {
	unlock := d.lockCommand(id)
	defer unlock()

	cmd, err := d.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if cmd.Status.Terminal() {
		return nil
	}

	if _, err := command.Transition(cmd, command.StatusTimeout); err != nil {
		return err
	}
	if err := d.store.Update(ctx, cmd); err != nil {
		return fmt.Errorf("persist timeout for %s: %w", id, err)
	}

	log.WithCommand(cmd.ID).Warn("command timed out",
		"zone", cmd.Zone, "agent", cmd.Agent, "timeout_seconds", cmd.TimeoutSeconds)
	d.hub.Publish(events.TypeWatchdogTimeout, map[string]string{
		"command_id": cmd.ID,
		"zone":       cmd.Zone,
		"agent":      cmd.Agent,
	})
	d.finalize(ctx, cmd)

	// A timed-out command tears down its session unconditionally: the
	// agent stopped acknowledging, so the channel is gone.
	if cmd.SessionID != "" {
		d.closeSession(cmd.SessionID, cmd.Zone, cmd.Agent)
	}
	return nil
}

// DispatchQueued retries agent assignment for commands parked by the
// queue policy. Called from watchdog ticks.
func (d *Coordinator) DispatchQueued(ctx context.Context, waiting []*command.Command) {
	for _, cmd := range waiting {
		h, err := d.reg.Reserve(command.AgentPath{Zone: cmd.Zone})
		if err != nil {
			continue // zone still saturated, keep waiting
		}

		unlock := d.lockCommand(cmd.ID)
		current, err := d.store.Get(ctx, cmd.ID)
		if err != nil || current.Status != command.StatusPending || current.Agent != "" {
			d.reg.Release(h)
			unlock()
			continue
		}
		current.Agent = h.Path.Agent
		if err := d.store.Update(ctx, current); err != nil {
			d.logger.Error("queued command assignment failed", "command_id", current.ID, "error", err)
			d.reg.Release(h)
			unlock()
			continue
		}
		unlock()

		d.logger.Info("queued command assigned", "command_id", current.ID, "agent", h.Path.Agent)
		d.deliver(ctx, current, h.URL)
	}
}

// park persists a command with no agent under the queue policy.
func (d *Coordinator) park(ctx context.Context, draft command.Draft) (*command.Command, error) {
	cmd := newCommand(draft)
	if err := d.store.Save(ctx, cmd); err != nil {
		return nil, fmt.Errorf("persist queued command: %w", err)
	}
	d.logger.Info("no agent available, command queued", "command_id", cmd.ID, "zone", cmd.Zone)
	d.hub.Publish(events.TypeCommandSubmitted, cmd)
	return cmd, nil
}

// deliver hands a PENDING command to the transport and records the
// outcome as SENT or REJECTED. The record is re-read inside the
// critical section: the watchdog may have forced it terminal while
// the transport call was in flight.
func (d *Coordinator) deliver(ctx context.Context, cmd *command.Command, agentURL string) *command.Command {
	err := d.transport.Deliver(ctx, agentURL, cmd)

	unlock := d.lockCommand(cmd.ID)
	defer unlock()

	current, gerr := d.store.Get(ctx, cmd.ID)
	if gerr != nil {
		d.logger.Error("reload after delivery failed", "command_id", cmd.ID, "error", gerr)
		return cmd
	}

	next := command.StatusSent
	if err != nil {
		next = command.StatusRejected
		log.WithCommand(cmd.ID).Warn("delivery failed, rejecting",
			"zone", cmd.Zone, "agent", cmd.Agent, "error", err)
	}

	if _, terr := command.Transition(current, next); terr != nil {
		// Raced into terminal. Nothing left to record.
		d.logger.Debug("delivery outcome superseded", "command_id", cmd.ID, "error", terr)
		return current
	}
	if uerr := d.store.Update(ctx, current); uerr != nil {
		d.logger.Error("persist delivery outcome failed", "command_id", cmd.ID, "error", uerr)
	}

	d.hub.CommandStatus(current.ID, current.Zone, current.Agent, string(current.Status))
	if current.Status.Terminal() {
		d.finalize(ctx, current)
	}
	return current
}

// finalize runs the one-shot terminal side effects. Callers hold the
// command's critical section and have already persisted the terminal
// status; Transition's idempotence guarantees we get here once per
// command.
func (d *Coordinator) finalize(ctx context.Context, cmd *command.Command) {
	if cmd.SessionID != "" {
		if cmd.Type.ClosesSession() || (cmd.Type == command.TypeCreateSession && cmd.Status != command.StatusExecuted) {
			d.closeSession(cmd.SessionID, cmd.Zone, cmd.Agent)
		}
	} else if cmd.Agent != "" {
		d.reg.Release(registry.Handle{Path: cmd.Path()})
	}

	if err := d.notifier.Notify(ctx, cmd); err != nil {
		// Best effort by contract; already logged by the notifier.
		d.logger.Debug("webhook notification failed", "command_id", cmd.ID, "error", err)
	}

	d.dropLock(cmd.ID)
}

func (d *Coordinator) closeSession(sessionID, zone, agent string) {
	if !d.sessions.Close(sessionID) {
		return
	}
	d.hub.Publish(events.TypeSessionClosed, map[string]string{
		"session_id": sessionID,
		"zone":       zone,
		"agent":      agent,
	})
}

func (d *Coordinator) unwindResolution(sctx session.Context) {
	if sctx.Created {
		d.sessions.Close(sctx.SessionID)
		return
	}
	if sctx.SessionID == "" {
		d.reg.Release(sctx.Handle)
	}
}

// lockCommand enters the per-command critical section. Lock instances
// live until the command reaches a terminal state, so concurrent
// non-terminal updates always contend on the same mutex.
func (d *Coordinator) lockCommand(id string) func() {
	d.mu.Lock()
	m, ok := d.locks[id]
	if !ok {
		if d.locks == nil {
			d.locks = make(map[string]*sync.Mutex)
		}
		m = &sync.Mutex{}
		d.locks[id] = m
	}
	d.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (d *Coordinator) dropLock(id string) {
	d.mu.Lock()
	delete(d.locks, id)
	d.mu.Unlock()
}

func newCommand(draft command.Draft) *command.Command {
	return &command.Command{
		ID:              uuid.NewString(),
		Zone:            draft.Zone,
		Agent:           draft.Agent,
		Type:            draft.Type,
		Payload:         draft.Payload,
		Status:          command.StatusPending,
		SessionID:       draft.SessionID,
		Inputs:          draft.Inputs,
		OutputEnvFilter: draft.OutputEnvFilter,
		WorkingDir:      draft.WorkingDir,
		LogPath:         draft.LogPath,
		TimeoutSeconds:  draft.TimeoutSeconds,
		Webhook:         draft.Webhook,
		Extra:           draft.Extra,
	}
}

func validateDraft(d command.Draft) error {
	if d.Zone == "" {
		return fmt.Errorf("%w: zone is required", ErrInvalidDraft)
	}
	if !command.KnownType(d.Type) {
		return fmt.Errorf("%w: unknown command type %q", ErrInvalidDraft, d.Type)
	}
	if d.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: timeout must be positive, got %d", ErrInvalidDraft, d.TimeoutSeconds)
	}
	return nil
}
