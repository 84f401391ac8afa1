package watcher_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/flightwatch/asterix/internal/ingest"
	"github.com/flightwatch/asterix/internal/watcher"
)

func TestUDPWatcher_StartStop(t *testing.T) {
	uw := watcher.NewUDPWatcher("test-feed", "127.0.0.1:0", nil, noopLogger())
	if err := uw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	uw.Stop()

	select {
	case _, ok := <-uw.Events():
		if ok {
			t.Error("events channel should be closed after Stop")
		}
	case <-time.After(time.Second):
		t.Error("events channel was not closed within 1s after Stop")
	}
}

func TestUDPWatcher_StartTwiceIsNoop(t *testing.T) {
	uw := watcher.NewUDPWatcher("test-feed", "127.0.0.1:0", nil, noopLogger())
	if err := uw.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer uw.Stop()

	if err := uw.Start(context.Background()); err != nil {
		t.Errorf("second Start should be a no-op, got error: %v", err)
	}
}

func TestUDPWatcher_EmitsCaptureOnDatagram(t *testing.T) {
	// Bind to an ephemeral port so the test learns the real address before
	// sending a datagram to it.
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve ephemeral port: %v", err)
	}
	addr := pc.LocalAddr().String()
	pc.Close()

	uw := watcher.NewUDPWatcher("rwy-25l-radar", addr, nil, noopLogger())
	if err := uw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer uw.Stop()

	conn, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	payload := []byte{0x30, 0x00, 0x06, 0x80, 0x01, 0x02}

	// Retry the send briefly: the listener goroutine may not have entered
	// ReadFrom yet on a slow CI host.
	deadline := time.Now().Add(2 * time.Second)
	var cp ingest.Capture
	var ok bool
	for time.Now().Before(deadline) {
		if _, err := conn.Write(payload); err != nil {
			t.Fatalf("write datagram: %v", err)
		}
		select {
		case cp, ok = <-uw.Events():
			if ok {
				goto received
			}
		case <-time.After(100 * time.Millisecond):
		}
	}

received:
	if !ok {
		t.Fatal("no capture received after sending a UDP datagram")
	}
	if cp.Source != "rwy-25l-radar" {
		t.Errorf("Source = %q, want %q", cp.Source, "rwy-25l-radar")
	}
	if string(cp.Bytes) != string(payload) {
		t.Errorf("Bytes = %v, want %v", cp.Bytes, payload)
	}
}

func TestUDPWatcher_StartReturnsErrorOnInvalidAddress(t *testing.T) {
	uw := watcher.NewUDPWatcher("bad-feed", "not-an-address", nil, noopLogger())
	if err := uw.Start(context.Background()); err == nil {
		uw.Stop()
		t.Fatal("expected error for invalid bind address, got nil")
	}
}

func TestUDPWatcher_InterfaceCompliance(t *testing.T) {
	var _ ingest.Watcher = (*watcher.UDPWatcher)(nil)
}
