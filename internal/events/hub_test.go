package events

import (
	"encoding/json"
	"testing"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()

	h := NewHub(8)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.CommandStatus("cmd-1", "zone-1", "agent-1", "SENT")

	ev := <-ch
	if ev.Type != TypeCommandStatus {
		t.Fatalf("type = %q", ev.Type)
	}
	var data map[string]string
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data["command_id"] != "cmd-1" || data["status"] != "SENT" {
		t.Fatalf("unexpected data: %v", data)
	}
}

func TestSnapshotSince(t *testing.T) {
	t.Parallel()

	h := NewHub(4)
	for range 6 {
		h.Publish(TypeWatchdogTick, nil)
	}

	// Ring keeps the last 4.
	all := h.SnapshotSince(0)
	if len(all) != 4 {
		t.Fatalf("len = %d, want 4", len(all))
	}
	if all[0].ID != 3 || all[3].ID != 6 {
		t.Fatalf("unexpected window: first=%d last=%d", all[0].ID, all[3].ID)
	}

	since := h.SnapshotSince(5)
	if len(since) != 1 || since[0].ID != 6 {
		t.Fatalf("unexpected tail: %#v", since)
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	h := NewHub(8)
	_, cancel := h.Subscribe() // never drained
	defer cancel()

	// Must not deadlock even when the subscriber buffer overflows.
	for range 300 {
		h.Publish(TypeWatchdogTick, nil)
	}
}
