package watcher

import (
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

// TestNewWatcher_FallsBackToBaseWatcherWhenNoPlatformFactory verifies that
// NewWatcher returns a working no-op baseWatcher when platformFactory is
// unset, without panicking or blocking.
func TestNewWatcher_FallsBackToBaseWatcherWhenNoPlatformFactory(t *testing.T) {
	saved := platformFactory
	platformFactory = nil
	defer func() { platformFactory = saved }()

	w, err := NewWatcher(WatcherConfig{})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w == nil {
		t.Fatal("NewWatcher returned nil Watcher")
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}

	select {
	case _, ok := <-w.Events():
		if ok {
			t.Error("events channel should be closed after Stop")
		}
	case <-time.After(time.Second):
		t.Error("events channel was not closed within 1s after Stop")
	}
}

// TestNewWatcher_DefaultBufferSize verifies that a non-positive BufferSize is
// replaced with defaultBufferSize.
func TestNewWatcher_DefaultBufferSize(t *testing.T) {
	saved := platformFactory
	platformFactory = nil
	defer func() { platformFactory = saved }()

	w, err := NewWatcher(WatcherConfig{BufferSize: -1})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	bw, ok := w.(*baseWatcher)
	if !ok {
		t.Fatal("expected *baseWatcher")
	}
	if cap(bw.events) != defaultBufferSize {
		t.Errorf("events channel capacity = %d, want %d", cap(bw.events), defaultBufferSize)
	}
}

// TestNewWatcher_WatchesInitialPaths verifies that NewWatcher calls Watch
// automatically when cfg.Paths is non-empty, using a fake platform factory.
func TestNewWatcher_WatchesInitialPaths(t *testing.T) {
	saved := platformFactory
	defer func() { platformFactory = saved }()

	var watchedPaths []string
	platformFactory = func(cfg WatcherConfig) (Watcher, error) {
		bw := newBaseWatcher(cfg.BufferSize)
		return &recordingWatcher{baseWatcher: bw, onWatch: func(paths []string) { watchedPaths = paths }}, nil
	}

	paths := []string{"/tmp/a", "/tmp/b"}
	w, err := NewWatcher(WatcherConfig{Paths: paths})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if len(watchedPaths) != 2 {
		t.Fatalf("watched %d paths, want 2", len(watchedPaths))
	}
}

// TestBaseWatcher_StopIsIdempotent verifies that calling Stop multiple times
// on a baseWatcher does not panic.
func TestBaseWatcher_StopIsIdempotent(t *testing.T) {
	bw := newBaseWatcher(4)
	if err := bw.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := bw.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

// recordingWatcher wraps a baseWatcher and records calls to Watch, used to
// verify NewWatcher's initial-path-watching behaviour without depending on a
// real platform implementation.
type recordingWatcher struct {
	*baseWatcher
	onWatch func(paths []string)
}

func (r *recordingWatcher) Watch(paths []string) error {
	if r.onWatch != nil {
		r.onWatch(paths)
	}
	return nil
}
