package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsReplaySinceLastID(t *testing.T) {
	srv, h := testServer(t, &fakeDispatcher{}, &fakeReader{})

	srv.hub.Publish("command.submitted", map[string]string{"command_id": "cmd-1"})
	srv.hub.Publish("command.status", map[string]string{"command_id": "cmd-1", "status": "SENT"})
	srv.hub.Publish("command.status", map[string]string{"command_id": "cmd-1", "status": "EXECUTED"})

	// A pre-cancelled context makes the stream return right after the
	// buffered replay, so the handler terminates deterministically.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest("GET", "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer viewer-key")
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.NotContains(t, body, "id: 1\n")
	assert.Contains(t, body, "id: 2\n")
	assert.Contains(t, body, "id: 3\n")
	assert.Contains(t, body, "event: command.status\n")
	assert.Contains(t, body, `"status":"EXECUTED"`)
}

func TestEventsRequiresScope(t *testing.T) {
	_, h := testServer(t, &fakeDispatcher{}, &fakeReader{})

	rec := doRequest(h, "GET", "/events", "agent-key", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestParseLastEventID(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"42", 42},
		{"-3", 0},
		{"junk", 0},
	}
	for _, tt := range tests {
		if got := parseLastEventID(tt.in); got != tt.want {
			t.Errorf("parseLastEventID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestWriteSSEFraming(t *testing.T) {
	srv, _ := testServer(t, &fakeDispatcher{}, &fakeReader{})

	srv.hub.Publish("session.opened", map[string]string{"session_id": "sess-1"})
	evs := srv.hub.SnapshotSince(0)
	require.Len(t, evs, 1)

	rec := httptest.NewRecorder()
	require.NoError(t, writeSSE(rec, evs[0]))

	lines := strings.Split(rec.Body.String(), "\n")
	assert.Equal(t, "id: 1", lines[0])
	assert.Equal(t, "event: session.opened", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "data: {"))
}
