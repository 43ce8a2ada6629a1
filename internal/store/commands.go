// Package store persists command records in SQLite. It is a plain
// repository: lifecycle rules live in the dispatch coordinator, not
// here.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opsfleet/commandeer/internal/command"
)

// ErrNotFound means no command record exists for the given id.
var ErrNotFound = errors.New("command not found")

// Store is the command repository.
type Store struct {
	db *sql.DB
}

// New wraps an opened database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const commandColumns = `id, zone, agent, type, payload, status, session_id, inputs,
  output_env_filter, outputs, working_dir, log_path, timeout_seconds, webhook, extra,
  created_at, updated_at`

// Save inserts a new command record. Zero timestamps are filled with
// the current time.
func (s *Store) Save(ctx context.Context, c *command.Command) error {
	if c.ID == "" {
		return fmt.Errorf("command id is empty")
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	inputs, err := marshalMap(c.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	outputs, err := marshalMap(c.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	filter, err := marshalList(c.OutputEnvFilter)
	if err != nil {
		return fmt.Errorf("marshal output_env_filter: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO commands(`+commandColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, c.ID, c.Zone, c.Agent, string(c.Type), c.Payload, string(c.Status), c.SessionID,
		inputs, filter, outputs, c.WorkingDir, c.LogPath, c.TimeoutSeconds, c.Webhook, c.Extra,
		c.CreatedAt.Format(time.RFC3339Nano), c.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save command: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of an existing record.
func (s *Store) Update(ctx context.Context, c *command.Command) error {
	inputs, err := marshalMap(c.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	outputs, err := marshalMap(c.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	filter, err := marshalList(c.OutputEnvFilter)
	if err != nil {
		return fmt.Errorf("marshal output_env_filter: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE commands
SET agent = ?, payload = ?, status = ?, session_id = ?, inputs = ?, output_env_filter = ?,
  outputs = ?, working_dir = ?, log_path = ?, timeout_seconds = ?, webhook = ?, extra = ?,
  updated_at = ?
WHERE id = ?;
`, c.Agent, c.Payload, string(c.Status), c.SessionID, inputs, filter, outputs,
		c.WorkingDir, c.LogPath, c.TimeoutSeconds, c.Webhook, c.Extra,
		c.UpdatedAt.Format(time.RFC3339Nano), c.ID)
	if err != nil {
		return fmt.Errorf("update command: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, c.ID)
	}
	return nil
}

// Get loads one command by id.
func (s *Store) Get(ctx context.Context, id string) (*command.Command, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+commandColumns+` FROM commands WHERE id = ?;`, id)
	c, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, err
}

// List returns commands matching all supplied filters, oldest first.
// A nil path matches every agent; a path with empty agent matches the
// whole zone. Empty type/status sets match all.
func (s *Store) List(ctx context.Context, path *command.AgentPath, types []command.Type, statuses []command.Status) ([]*command.Command, error) {
	var (
		where []string
		args  []any
	)
	if path != nil {
		where = append(where, "zone = ?")
		args = append(args, path.Zone)
		if path.Agent != "" {
			where = append(where, "agent = ?")
			args = append(args, path.Agent)
		}
	}
	if len(types) > 0 {
		ph := make([]string, len(types))
		for i, t := range types {
			ph[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "type IN ("+strings.Join(ph, ", ")+")")
	}
	if len(statuses) > 0 {
		ph := make([]string, len(statuses))
		for i, st := range statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(ph, ", ")+")")
	}

	query := `SELECT ` + commandColumns + ` FROM commands`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, rowid ASC;"

	return s.queryCommands(ctx, query, args...)
}

// ListBySession returns every command carrying the session id, oldest first.
func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]*command.Command, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is empty")
	}
	return s.queryCommands(ctx,
		`SELECT `+commandColumns+` FROM commands WHERE session_id = ? ORDER BY created_at ASC, rowid ASC;`,
		sessionID)
}

// ListOverdue returns non-terminal commands with a positive timeout
// whose deadline elapsed before now. The deadline arithmetic happens
// here in Go; the query only narrows the candidate set.
func (s *Store) ListOverdue(ctx context.Context, now time.Time) ([]*command.Command, error) {
	candidates, err := s.queryCommands(ctx, `
SELECT `+commandColumns+` FROM commands
WHERE status IN (?, ?, ?) AND timeout_seconds > 0
ORDER BY updated_at ASC;
`, string(command.StatusPending), string(command.StatusSent), string(command.StatusRunning))
	if err != nil {
		return nil, err
	}

	var out []*command.Command
	for _, c := range candidates {
		if deadline, ok := c.Deadline(); ok && !deadline.After(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListUnassigned returns PENDING commands waiting for an agent, oldest
// first. Only populated when the no-agent policy is "queue".
func (s *Store) ListUnassigned(ctx context.Context) ([]*command.Command, error) {
	return s.queryCommands(ctx, `
SELECT `+commandColumns+` FROM commands
WHERE status = ? AND agent = ''
ORDER BY created_at ASC, rowid ASC;
`, string(command.StatusPending))
}

func (s *Store) queryCommands(ctx context.Context, query string, args ...any) ([]*command.Command, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	defer rows.Close()

	var out []*command.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (*command.Command, error) {
	var (
		c          command.Command
		typ        string
		status     string
		inputs     sql.NullString
		filter     sql.NullString
		outputs    sql.NullString
		createdAtS string
		updatedAtS string
	)
	err := row.Scan(
		&c.ID, &c.Zone, &c.Agent, &typ, &c.Payload, &status, &c.SessionID, &inputs,
		&filter, &outputs, &c.WorkingDir, &c.LogPath, &c.TimeoutSeconds, &c.Webhook, &c.Extra,
		&createdAtS, &updatedAtS,
	)
	if err != nil {
		return nil, err
	}

	c.Type = command.Type(typ)
	c.Status = command.Status(status)
	if inputs.Valid && inputs.String != "" {
		if err := json.Unmarshal([]byte(inputs.String), &c.Inputs); err != nil {
			return nil, fmt.Errorf("decode inputs for %s: %w", c.ID, err)
		}
	}
	if outputs.Valid && outputs.String != "" {
		if err := json.Unmarshal([]byte(outputs.String), &c.Outputs); err != nil {
			return nil, fmt.Errorf("decode outputs for %s: %w", c.ID, err)
		}
	}
	if filter.Valid && filter.String != "" {
		if err := json.Unmarshal([]byte(filter.String), &c.OutputEnvFilter); err != nil {
			return nil, fmt.Errorf("decode output_env_filter for %s: %w", c.ID, err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		c.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAtS); err == nil {
		c.UpdatedAt = t
	}
	return &c, nil
}

func marshalMap(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func marshalList(l []string) (any, error) {
	if len(l) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
