// Package watcher defines the Watcher interface and common event types for
// filesystem monitoring of recorded ASTERIX capture directories.
// Platform-specific implementations (file_watcher_linux.go,
// file_watcher_darwin.go) satisfy the Watcher interface and are selected at
// compile time via build tags.
//
// Usage:
//
//	w, err := watcher.NewWatcher(watcher.WatcherConfig{BufferSize: 64})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := w.Watch([]string{"/var/spool/asterix/captures"}); err != nil {
//	    log.Fatal(err)
//	}
//	for evt := range w.Events() {
//	    fmt.Printf("capture file %s ready (%s)\n", evt.FilePath, evt.EventType)
//	}
package watcher

import "time"

// EventType describes the kind of filesystem change observed on a watched
// capture directory.
type EventType string

const (
	// EventCreate indicates a new file appeared in a watched directory.
	EventCreate EventType = "create"
	// EventWrite indicates a file was modified or finished being written.
	EventWrite EventType = "write"
	// EventDelete indicates a file was removed from a watched directory.
	EventDelete EventType = "delete"
)

// FileEvent is a single filesystem change event emitted by a Watcher.
// Each event corresponds to one observed change to a path under a watched
// capture directory.
type FileEvent struct {
	// FilePath is the absolute path of the file that changed.
	FilePath string
	// EventType is one of EventCreate, EventWrite, or EventDelete.
	EventType EventType
	// Timestamp is the time at which the event was observed by the watcher.
	Timestamp time.Time
}

// Watcher is the common interface implemented by all filesystem watcher
// components. Implementations must be safe for concurrent use.
//
// Build-tag conventions for platform-specific implementations:
//
//	//go:build linux   → file_watcher_linux.go  (inotify)
//	//go:build darwin  → file_watcher_darwin.go (kqueue)
//
// Each platform file assigns its constructor to platformFactory in init();
// NewWatcher calls platformFactory to construct the platform-specific
// concrete type.
type Watcher interface {
	// Watch begins monitoring the given file or directory paths and sends
	// FileEvents on the channel returned by Events. It returns an error if
	// any path cannot be watched (e.g. path does not exist or permission
	// is denied). Watch may be called only once per Watcher instance.
	Watch(paths []string) error

	// Stop ceases monitoring and releases all resources held by the watcher,
	// including closing the Events channel. It blocks until all internal
	// goroutines have exited. It returns an error if any resource could not
	// be cleanly released. Stop is idempotent: subsequent calls are no-ops
	// and return nil.
	Stop() error

	// Events returns a read-only channel on which FileEvents are delivered.
	// The channel is closed when Stop returns. Callers should drain this
	// channel concurrently with Watch to avoid blocking the watcher.
	Events() <-chan FileEvent
}
