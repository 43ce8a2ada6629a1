package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsfleet/commandeer/internal/log"
	"github.com/opsfleet/commandeer/internal/session"
)

// SessionRecord is the persisted shape of a session: an audit trail of
// opens and closes. Live bindings stay in the session manager; on
// restart every agent starts idle and open rows are history only.
type SessionRecord struct {
	ID        string
	Zone      string
	Agent     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SaveSession inserts a newly opened session.
func (s *Store) SaveSession(ctx context.Context, rec *SessionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("session id is empty")
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(id, zone, agent, status, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?);
`, rec.ID, rec.Zone, rec.Agent, rec.Status,
		rec.CreatedAt.Format(time.RFC3339Nano), rec.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// CloseSession marks a session CLOSED. Closing an unknown session is
// an error; closing a closed one is a no-op.
func (s *Store) CloseSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE sessions SET status = 'CLOSED', updated_at = ? WHERE id = ?;
`, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetSession loads one session record.
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, zone, agent, status, created_at, updated_at FROM sessions WHERE id = ?;
`, id)

	var rec SessionRecord
	var created, updated string
	if err := row.Scan(&rec.ID, &rec.Zone, &rec.Agent, &rec.Status, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &rec, nil
}

// ListSessions returns sessions, optionally filtered by status, newest
// first.
func (s *Store) ListSessions(ctx context.Context, status string) ([]*SessionRecord, error) {
	query := `SELECT id, zone, agent, status, created_at, updated_at FROM sessions`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC;`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var created, updated string
		if err := rows.Scan(&rec.ID, &rec.Zone, &rec.Agent, &rec.Status, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// SessionJournal adapts the store to the session manager's journal
// hook. Persistence failures are logged, never surfaced: the in-memory
// binding is authoritative and an audit miss must not fail a dispatch.
type SessionJournal struct {
	store  *Store
	logger *slog.Logger
}

// NewSessionJournal builds a journal writing through to st.
func NewSessionJournal(st *Store) *SessionJournal {
	return &SessionJournal{store: st, logger: log.WithComponent("store")}
}

// SessionOpened records a session open.
func (j *SessionJournal) SessionOpened(s session.Session) {
	err := j.store.SaveSession(context.Background(), &SessionRecord{
		ID:        s.ID,
		Zone:      s.Path.Zone,
		Agent:     s.Path.Agent,
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt,
	})
	if err != nil {
		j.logger.Error("session journal write failed", "session_id", s.ID, "error", err)
	}
}

// SessionClosed records a session close.
func (j *SessionJournal) SessionClosed(sessionID string) {
	if err := j.store.CloseSession(context.Background(), sessionID); err != nil {
		j.logger.Error("session journal close failed", "session_id", sessionID, "error", err)
	}
}
