package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opsfleet/commandeer/internal/command"
)

func terminalCommand(webhook string) *command.Command {
	return &command.Command{
		ID:        "cmd-1",
		Zone:      "zone-1",
		Agent:     "agent-1",
		Type:      command.TypeRunShell,
		Status:    command.StatusExecuted,
		Outputs:   map[string]string{"FLOW_OUT": "ok"},
		Webhook:   webhook,
		UpdatedAt: time.Now().UTC(),
	}
}

func TestNotifyDelivers(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		gotSig = r.Header.Get("X-Commandeer-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	n := New(2*time.Second, "topsecret")
	if err := n.Notify(context.Background(), terminalCommand(srv.URL)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}

	if !VerifySignature(gotBody, gotSig, "topsecret") {
		t.Fatalf("signature %q does not verify", gotSig)
	}
	if VerifySignature(gotBody, gotSig, "wrong") {
		t.Fatal("signature verified with wrong secret")
	}

	var p map[string]any
	if err := json.Unmarshal(gotBody, &p); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if p["id"] != "cmd-1" || p["status"] != "EXECUTED" {
		t.Fatalf("unexpected payload: %v", p)
	}
}

func TestNotifyNoWebhookIsNoop(t *testing.T) {
	t.Parallel()

	n := New(time.Second, "")
	if err := n.Notify(context.Background(), terminalCommand("")); err != nil {
		t.Fatalf("Notify without webhook: %v", err)
	}
}

func TestNotifyFailureNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	n := New(time.Second, "")
	if err := n.Notify(context.Background(), terminalCommand(srv.URL)); err == nil {
		t.Fatal("expected delivery error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want exactly 1 (no retry)", calls.Load())
	}
}
