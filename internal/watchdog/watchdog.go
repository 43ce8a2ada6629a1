// Package watchdog is the background supervisor: it forces overdue
// commands into TIMEOUT and drives queued-command assignment. It is
// the only component allowed to transition a command without an
// external status report.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opsfleet/commandeer/internal/command"
	"github.com/opsfleet/commandeer/internal/events"
	"github.com/opsfleet/commandeer/internal/log"
)

// DefaultInterval is how often overdue commands are scanned for.
const DefaultInterval = 5 * time.Second

// Store is the slice of the repository the watchdog reads.
type Store interface {
	ListOverdue(ctx context.Context, now time.Time) ([]*command.Command, error)
	ListUnassigned(ctx context.Context) ([]*command.Command, error)
}

// Coordinator is the slice of the dispatch coordinator the watchdog drives.
type Coordinator interface {
	ForceTimeout(ctx context.Context, id string) error
	DispatchQueued(ctx context.Context, waiting []*command.Command)
}

// Watchdog periodically scans for overdue work.
type Watchdog struct {
	store       Store
	coord       Coordinator
	hub         *events.Hub
	interval    time.Duration
	queuePolicy bool
	logger      *slog.Logger
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// New builds a Watchdog. queuePolicy enables the queued-command
// assignment pass on each tick.
func New(store Store, coord Coordinator, hub *events.Hub, interval time.Duration, queuePolicy bool) *Watchdog {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if hub == nil {
		hub = events.NewHub(128)
	}
	return &Watchdog{
		store:       store,
		coord:       coord,
		hub:         hub,
		interval:    interval,
		queuePolicy: queuePolicy,
		logger:      log.WithComponent("watchdog"),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the tick loop. Non-blocking; use Stop to shut down.
func (w *Watchdog) Start(ctx context.Context) {
	w.logger.Info("watchdog started", "interval", w.interval)
	w.wg.Add(1)
	go w.tickLoop(ctx)
}

// Stop gracefully stops the loop.
func (w *Watchdog) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.logger.Info("watchdog stopped")
}

func (w *Watchdog) tickLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			w.logger.Warn("watchdog context cancelled, stopping tick loop")
			return
		}
	}
}

// tick performs one scan pass. Overdue commands are forced through the
// coordinator's per-command critical section, so a status report
// racing in at the deadline resolves cleanly either way.
func (w *Watchdog) tick(ctx context.Context) {
	now := time.Now().UTC()
	w.hub.Publish(events.TypeWatchdogTick, map[string]any{"at": now})

	overdue, err := w.store.ListOverdue(ctx, now)
	if err != nil {
		w.logger.Error("overdue scan failed", "error", err)
		return
	}
	for _, cmd := range overdue {
		if err := w.coord.ForceTimeout(ctx, cmd.ID); err != nil {
			w.logger.Error("force timeout failed", "command_id", cmd.ID, "error", err)
		}
	}

	if !w.queuePolicy {
		return
	}
	waiting, err := w.store.ListUnassigned(ctx)
	if err != nil {
		w.logger.Error("unassigned scan failed", "error", err)
		return
	}
	if len(waiting) > 0 {
		w.coord.DispatchQueued(ctx, waiting)
	}
}
