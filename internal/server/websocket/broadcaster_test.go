package websocket_test

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/flightwatch/asterix/internal/ingest"
	ws "github.com/flightwatch/asterix/internal/server/websocket"
)

func newTestBroadcaster() *ws.Broadcaster {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return ws.NewBroadcaster(logger, 16)
}

// TestBroadcasterRegisterUnregister verifies that Register/Unregister work and
// that ClientCount tracks the number of connected clients.
func TestBroadcasterRegisterUnregister(t *testing.T) {
	t.Parallel()

	bc := newTestBroadcaster()

	if got := bc.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients after init, got %d", got)
	}

	c1 := bc.Register("c1", nil)
	c2 := bc.Register("c2", nil)

	if got := bc.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	if c1.ID() != "c1" {
		t.Errorf("client ID mismatch: got %q, want %q", c1.ID(), "c1")
	}

	bc.Unregister("c1")
	if got := bc.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	// Send channel should be closed after unregister.
	select {
	case _, ok := <-c1.Send():
		if ok {
			t.Error("expected send channel to be closed after Unregister")
		}
	default:
		t.Error("expected send channel to be closed (readable), not blocked")
	}

	bc.Unregister("c2")
	_ = c2
	if got := bc.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

// TestBroadcasterBroadcast verifies that Broadcast delivers the event to all
// registered clients with correct JSON structure.
func TestBroadcasterBroadcast(t *testing.T) {
	t.Parallel()

	bc := newTestBroadcaster()

	c1 := bc.Register("c1", nil)
	c2 := bc.Register("c2", nil)
	defer bc.Unregister("c1")
	defer bc.Unregister("c2")

	evt := ingest.BlockEvent{
		Source:      "rwy-25l-radar",
		Category:    48,
		RecordCount: 3,
		ByteLength:  64,
		Timestamp:   time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC),
	}

	bc.Broadcast(evt)

	// Both clients should receive the message within a short timeout.
	deadline := time.After(100 * time.Millisecond)
	for _, ch := range []<-chan []byte{c1.Send(), c2.Send()} {
		select {
		case raw, ok := <-ch:
			if !ok {
				t.Fatal("send channel closed unexpectedly")
			}
			var got ws.BlockEventMessage
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Type != "block" {
				t.Errorf("got type %q, want %q", got.Type, "block")
			}
			if got.Data.Source != "rwy-25l-radar" {
				t.Errorf("got source %q, want %q", got.Data.Source, "rwy-25l-radar")
			}
			if got.Data.Category != 48 {
				t.Errorf("got category %d, want %d", got.Data.Category, 48)
			}
		case <-deadline:
			t.Fatal("timeout waiting for broadcast message")
		}
	}
}

// TestBroadcasterDropsWhenBufferFull verifies that a slow client's send buffer
// fills up and subsequent messages are dropped (Dropped counter is incremented).
func TestBroadcasterDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bc := ws.NewBroadcaster(logger, 2) // tiny buffer

	c := bc.Register("slow-client", nil)
	defer bc.Unregister("slow-client")

	evt := ingest.BlockEvent{Source: "x", Category: 48}

	// Fill the buffer (2 slots).
	bc.Broadcast(evt)
	bc.Broadcast(evt)

	// This one should be dropped.
	bc.Broadcast(evt)

	if got := c.Dropped.Load(); got < 1 {
		t.Errorf("expected at least 1 drop, got %d", got)
	}
}

// TestBroadcasterCategoryFilter verifies that a client registered with a
// category allow-list only receives events for the categories it asked for.
func TestBroadcasterCategoryFilter(t *testing.T) {
	t.Parallel()

	bc := newTestBroadcaster()

	watcher48 := bc.Register("watcher-048", []int{48})
	watcherAll := bc.Register("watcher-all", nil)
	defer bc.Unregister("watcher-048")
	defer bc.Unregister("watcher-all")

	bc.Broadcast(ingest.BlockEvent{Source: "x", Category: 21})

	select {
	case <-watcher48.Send():
		t.Fatal("watcher-048 should not receive a CAT021 event")
	case <-time.After(20 * time.Millisecond):
	}

	select {
	case <-watcherAll.Send():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("unfiltered watcher should receive every category")
	}

	bc.Broadcast(ingest.BlockEvent{Source: "x", Category: 48})

	select {
	case raw := <-watcher48.Send():
		var got ws.BlockEventMessage
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Data.Category != 48 {
			t.Errorf("got category %d, want 48", got.Data.Category)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("watcher-048 should have received the CAT048 event")
	}
}

// TestBroadcasterUnregisterNonexistent verifies that unregistering an unknown
// client ID is a no-op and does not panic.
func TestBroadcasterUnregisterNonexistent(t *testing.T) {
	t.Parallel()

	bc := newTestBroadcaster()
	// Should not panic.
	bc.Unregister("does-not-exist")
}

// TestBroadcastEmptyRoom verifies that broadcasting with no clients registered
// does not panic or block.
func TestBroadcastEmptyRoom(t *testing.T) {
	t.Parallel()

	bc := newTestBroadcaster()
	// Should not panic or block.
	bc.Broadcast(ingest.BlockEvent{Source: "x", Category: 48})
}

// TestBroadcasterSubscribeReceivesEvent verifies that an anonymous subscriber
// receives the raw BlockEvent passed to Broadcast.
func TestBroadcasterSubscribeReceivesEvent(t *testing.T) {
	t.Parallel()

	bc := newTestBroadcaster()
	ch := bc.Subscribe(nil)
	defer bc.Unsubscribe(ch)

	evt := ingest.BlockEvent{Source: "udp-feed", Category: 21}
	bc.Broadcast(evt)

	select {
	case got := <-ch:
		if got.Source != "udp-feed" || got.Category != 21 {
			t.Errorf("got %+v, want Source=udp-feed Category=21", got)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for subscriber delivery")
	}
}
