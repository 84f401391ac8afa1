package watcher_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flightwatch/asterix/internal/ingest"
	"github.com/flightwatch/asterix/internal/watcher"
)

// noopLogger returns a slog.Logger that discards all output, shared by the
// external tests in this package.
func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 10}))
}

// receiveFileEvent waits up to timeout for a single FileEvent from ch. It is
// shared by the linux and darwin platform-watcher tests.
func receiveFileEvent(ch <-chan watcher.FileEvent, timeout time.Duration) (watcher.FileEvent, bool) {
	select {
	case evt, ok := <-ch:
		if !ok {
			return watcher.FileEvent{}, false
		}
		return evt, true
	case <-time.After(timeout):
		return watcher.FileEvent{}, false
	}
}

// receiveCapture waits up to timeout for a single Capture from the channel.
func receiveCapture(ch <-chan ingest.Capture, timeout time.Duration) (ingest.Capture, bool) {
	select {
	case cp, ok := <-ch:
		if !ok {
			return ingest.Capture{}, false
		}
		return cp, true
	case <-time.After(timeout):
		return ingest.Capture{}, false
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestDirWatcher_StartStop(t *testing.T) {
	dir := t.TempDir()
	dw := watcher.NewDirWatcher("captures", dir, noopLogger(), 20*time.Millisecond)

	if err := dw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dw.Stop()

	select {
	case _, ok := <-dw.Events():
		if ok {
			t.Error("events channel should be closed after Stop")
		}
	case <-time.After(time.Second):
		t.Error("events channel was not closed within 1s after Stop")
	}
}

func TestDirWatcher_StopBeforeStart(t *testing.T) {
	dir := t.TempDir()
	dw := watcher.NewDirWatcher("captures", dir, noopLogger(), 20*time.Millisecond)
	dw.Stop() // must not panic or hang
}

func TestDirWatcher_EmitsCaptureOnNewFile(t *testing.T) {
	dir := t.TempDir()
	dw := watcher.NewDirWatcher("rwy-25l-radar", dir, noopLogger(), 20*time.Millisecond)

	if err := dw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer dw.Stop()

	<-dw.Ready()

	payload := []byte{0x30, 0x00, 0x06, 0x80, 0x01, 0x02}
	target := filepath.Join(dir, "20260731-120000.ast")
	if err := os.WriteFile(target, payload, 0o644); err != nil {
		t.Fatalf("write capture file: %v", err)
	}

	cp, ok := receiveCapture(dw.Events(), 2*time.Second)
	if !ok {
		t.Fatal("no capture received within 2 seconds of creating a capture file")
	}
	if cp.Source != "rwy-25l-radar" {
		t.Errorf("Source = %q, want %q", cp.Source, "rwy-25l-radar")
	}
	if string(cp.Bytes) != string(payload) {
		t.Errorf("Bytes = %v, want %v", cp.Bytes, payload)
	}
}

func TestDirWatcher_EmitsCaptureOnRewrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "live.ast")
	if err := os.WriteFile(target, []byte{0x01}, 0o644); err != nil {
		t.Fatalf("initial write: %v", err)
	}

	dw := watcher.NewDirWatcher("udp-feed", dir, noopLogger(), 20*time.Millisecond)
	if err := dw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer dw.Stop()

	<-dw.Ready()

	time.Sleep(10 * time.Millisecond) // ensure a distinguishable modtime
	if err := os.WriteFile(target, []byte{0x02, 0x03}, 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	cp, ok := receiveCapture(dw.Events(), 2*time.Second)
	if !ok {
		t.Fatal("no capture received within 2 seconds of rewriting a capture file")
	}
	if len(cp.Bytes) != 2 {
		t.Errorf("Bytes = %v, want 2 bytes", cp.Bytes)
	}
}

func TestDirWatcher_ToleratesMissingDirectoryAtStart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not-yet-created")
	dw := watcher.NewDirWatcher("captures", dir, noopLogger(), 20*time.Millisecond)

	if err := dw.Start(context.Background()); err != nil {
		t.Fatalf("Start should not error on a missing directory: %v", err)
	}
	dw.Stop()
}

func TestDirWatcher_InterfaceCompliance(t *testing.T) {
	var _ ingest.Watcher = (*watcher.DirWatcher)(nil)
}
