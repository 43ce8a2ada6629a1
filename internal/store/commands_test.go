package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/opsfleet/commandeer/internal/command"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "commandeer.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestSaveAllFields(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	cmd := &command.Command{
		ID:              uuid.NewString(),
		Zone:            "zone",
		Agent:           "agent",
		Type:            command.TypeShutdown,
		Payload:         "123",
		Status:          command.StatusKilled,
		SessionID:       "session-id",
		Inputs:          map[string]string{"VAR_1": "1", "VAR_2": "2"},
		OutputEnvFilter: []string{"FLOW_VAR", "CI_"},
		WorkingDir:      "/",
		LogPath:         "/test/log/path",
		TimeoutSeconds:  10,
		Webhook:         "http://webhook.com",
		Extra:           "test",
	}
	if err := s.Save(ctx, cmd); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Get(ctx, cmd.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loaded.Zone != cmd.Zone || loaded.Agent != cmd.Agent || loaded.Type != cmd.Type ||
		loaded.Payload != cmd.Payload || loaded.Status != cmd.Status ||
		loaded.Webhook != cmd.Webhook || loaded.Extra != cmd.Extra ||
		loaded.SessionID != cmd.SessionID || loaded.WorkingDir != cmd.WorkingDir ||
		loaded.LogPath != cmd.LogPath || loaded.TimeoutSeconds != cmd.TimeoutSeconds {
		t.Fatalf("loaded fields differ: %#v", loaded)
	}
	if !reflect.DeepEqual(loaded.Inputs, cmd.Inputs) {
		t.Fatalf("inputs = %#v, want %#v", loaded.Inputs, cmd.Inputs)
	}
	// Filter order must survive the round trip.
	if !reflect.DeepEqual(loaded.OutputEnvFilter, cmd.OutputEnvFilter) {
		t.Fatalf("output_env_filter = %#v, want %#v", loaded.OutputEnvFilter, cmd.OutputEnvFilter)
	}
	if loaded.CreatedAt.IsZero() || loaded.UpdatedAt.IsZero() {
		t.Fatal("timestamps not assigned")
	}
}

func TestUpdateAdvancesUpdatedAt(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	cmd := &command.Command{
		ID:     uuid.NewString(),
		Zone:   "zone-1",
		Agent:  "agent-1",
		Type:   command.TypeRunShell,
		Status: command.StatusPending,
	}
	if err := s.Save(ctx, cmd); err != nil {
		t.Fatalf("Save: %v", err)
	}

	before, err := s.Get(ctx, cmd.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	cmd.Payload = "echo updated"
	cmd.UpdatedAt = before.UpdatedAt.Add(50 * time.Millisecond)
	if err := s.Update(ctx, cmd); err != nil {
		t.Fatalf("Update: %v", err)
	}

	after, err := s.Get(ctx, cmd.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Fatalf("updated_at did not advance: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}
	if after.Payload != "echo updated" {
		t.Fatalf("payload = %q", after.Payload)
	}
}

func TestUpdateMissingCommand(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	cmd := &command.Command{ID: uuid.NewString(), Status: command.StatusPending, UpdatedAt: time.Now()}
	if err := s.Update(context.Background(), cmd); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestListByAgentPath(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	const zone = "zone-1"

	cmd0 := &command.Command{
		ID: uuid.NewString(), Zone: zone, Agent: "agent-1",
		Type: command.TypeCreateSession, Payload: "hello", Status: command.StatusKilled,
	}
	cmd1 := &command.Command{
		ID: uuid.NewString(), Zone: zone, Agent: "agent-2",
		Type: command.TypeShutdown, Payload: "hello", Status: command.StatusRunning,
	}
	for _, c := range []*command.Command{cmd0, cmd1} {
		if err := s.Save(ctx, c); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	// No filter: everything.
	all, err := s.List(ctx, nil, nil, nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}

	// Zone only.
	byZone, err := s.List(ctx, &command.AgentPath{Zone: zone}, nil, nil)
	if err != nil {
		t.Fatalf("List by zone: %v", err)
	}
	if len(byZone) != 2 {
		t.Fatalf("len = %d, want 2", len(byZone))
	}

	// Zone and agent.
	byAgent, err := s.List(ctx, &command.AgentPath{Zone: zone, Agent: "agent-2"}, nil, nil)
	if err != nil {
		t.Fatalf("List by agent: %v", err)
	}
	if len(byAgent) != 1 || byAgent[0].ID != cmd1.ID {
		t.Fatalf("unexpected result: %#v", byAgent)
	}

	// Conjunctive type and status filters.
	filtered, err := s.List(ctx, &command.AgentPath{Zone: zone, Agent: "agent-2"},
		[]command.Type{command.TypeShutdown}, []command.Status{command.StatusRunning})
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != cmd1.ID {
		t.Fatalf("unexpected result: %#v", filtered)
	}

	// Non-matching status drops it.
	none, err := s.List(ctx, &command.AgentPath{Zone: zone, Agent: "agent-2"},
		[]command.Type{command.TypeShutdown}, []command.Status{command.StatusExecuted})
	if err != nil {
		t.Fatalf("List non-matching: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("len = %d, want 0", len(none))
	}
}

func TestListBySession(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	sessionID := uuid.NewString()

	for _, typ := range []command.Type{command.TypeCreateSession, command.TypeRunShell} {
		c := &command.Command{
			ID: uuid.NewString(), Zone: "zone-1", Agent: "agent-1",
			Type: typ, Payload: "hello", Status: command.StatusRunning, SessionID: sessionID,
		}
		if err := s.Save(ctx, c); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	// Unrelated command.
	other := &command.Command{
		ID: uuid.NewString(), Zone: "zone-1", Agent: "agent-2",
		Type: command.TypeRunShell, Status: command.StatusPending,
	}
	if err := s.Save(ctx, other); err != nil {
		t.Fatalf("Save: %v", err)
	}

	list, err := s.ListBySession(ctx, sessionID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
}

func TestListOverdue(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	overdue := &command.Command{
		ID: uuid.NewString(), Zone: "zone-1", Agent: "agent-1",
		Type: command.TypeRunShell, Status: command.StatusRunning,
		TimeoutSeconds: 5,
		CreatedAt:      now.Add(-time.Minute),
		UpdatedAt:      now.Add(-time.Minute),
	}
	fresh := &command.Command{
		ID: uuid.NewString(), Zone: "zone-1", Agent: "agent-2",
		Type: command.TypeRunShell, Status: command.StatusRunning,
		TimeoutSeconds: 300,
		CreatedAt:      now.Add(-time.Minute),
		UpdatedAt:      now.Add(-time.Minute),
	}
	exempt := &command.Command{
		ID: uuid.NewString(), Zone: "zone-1", Agent: "agent-3",
		Type: command.TypeRunShell, Status: command.StatusRunning,
		CreatedAt: now.Add(-time.Hour),
		UpdatedAt: now.Add(-time.Hour),
	}
	terminal := &command.Command{
		ID: uuid.NewString(), Zone: "zone-1", Agent: "agent-4",
		Type: command.TypeRunShell, Status: command.StatusExecuted,
		TimeoutSeconds: 5,
		CreatedAt:      now.Add(-time.Hour),
		UpdatedAt:      now.Add(-time.Hour),
	}
	for _, c := range []*command.Command{overdue, fresh, exempt, terminal} {
		if err := s.Save(ctx, c); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := s.ListOverdue(ctx, now)
	if err != nil {
		t.Fatalf("ListOverdue: %v", err)
	}
	if len(got) != 1 || got[0].ID != overdue.ID {
		t.Fatalf("unexpected overdue set: %#v", got)
	}
}

func TestListUnassigned(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	waiting := &command.Command{
		ID: uuid.NewString(), Zone: "zone-1",
		Type: command.TypeRunShell, Status: command.StatusPending,
	}
	assigned := &command.Command{
		ID: uuid.NewString(), Zone: "zone-1", Agent: "agent-1",
		Type: command.TypeRunShell, Status: command.StatusPending,
	}
	for _, c := range []*command.Command{waiting, assigned} {
		if err := s.Save(ctx, c); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := s.ListUnassigned(ctx)
	if err != nil {
		t.Fatalf("ListUnassigned: %v", err)
	}
	if len(got) != 1 || got[0].ID != waiting.ID {
		t.Fatalf("unexpected unassigned set: %#v", got)
	}
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
