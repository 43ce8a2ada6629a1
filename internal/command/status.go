package command

import (
	"errors"
	"fmt"
	"time"
)

// Status is a command lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusRunning   Status = "RUNNING"
	StatusExecuted  Status = "EXECUTED"
	StatusException Status = "EXCEPTION"
	StatusKilled    Status = "KILLED"
	StatusTimeout   Status = "TIMEOUT"
	StatusRejected  Status = "REJECTED"
	StatusStopped   Status = "STOPPED"
)

var (
	// ErrIllegalTransition means the requested status is not reachable
	// from the command's current status. The command is left unchanged.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrAlreadyTerminal means a different terminal status was applied
	// to a command that already reached one.
	ErrAlreadyTerminal = errors.New("command already terminal")
)

// edges is the full reachability table. Terminal statuses have no
// outgoing edges; TIMEOUT is reachable from every non-terminal status
// because the watchdog may force it at any stage.
var edges = map[Status][]Status{
	StatusPending: {StatusSent, StatusRejected, StatusTimeout},
	StatusSent:    {StatusRunning, StatusException, StatusKilled, StatusStopped, StatusTimeout},
	StatusRunning: {StatusExecuted, StatusException, StatusKilled, StatusStopped, StatusRejected, StatusTimeout},
}

// KnownStatus reports whether s is a defined lifecycle state.
func KnownStatus(s Status) bool {
	switch s {
	case StatusPending, StatusSent, StatusRunning, StatusExecuted,
		StatusException, StatusKilled, StatusTimeout, StatusRejected, StatusStopped:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusException, StatusKilled, StatusTimeout, StatusRejected, StatusStopped:
		return true
	}
	return false
}

func reachable(from, to Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves c to next if the edge table allows it, advancing
// UpdatedAt strictly past its previous value. It returns true when the
// command actually changed state.
//
// Re-applying the terminal status a command already holds is an
// idempotent no-op: it returns (false, nil) and leaves UpdatedAt
// untouched so callers fire no duplicate side effects.
func Transition(c *Command, next Status) (bool, error) {
	if !KnownStatus(next) {
		return false, fmt.Errorf("%w: unknown status %q", ErrIllegalTransition, next)
	}
	if c.Status.Terminal() {
		if next == c.Status {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s is final, cannot apply %s", ErrAlreadyTerminal, c.Status, next)
	}
	if !reachable(c.Status, next) {
		return false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.Status, next)
	}

	c.Status = next
	now := time.Now().UTC()
	if !now.After(c.UpdatedAt) {
		// Clock went nowhere (or backwards); monotonicity is our
		// contract, not the wall clock's.
		now = c.UpdatedAt.Add(time.Nanosecond)
	}
	c.UpdatedAt = now
	return true, nil
}
