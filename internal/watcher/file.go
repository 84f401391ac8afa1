// Package watcher provides filesystem and network monitoring components for
// asterixd. DirWatcher polls a directory at a configurable interval (default
// 100 ms) to detect new or rewritten ASTERIX capture files and emits their
// contents as ingest.Captures. The 100 ms poll interval keeps detection
// latency well inside what a live feed's downstream consumers expect.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flightwatch/asterix/internal/ingest"
)

// DefaultPollInterval is the frequency at which DirWatcher scans the
// filesystem for changes.
const DefaultPollInterval = 100 * time.Millisecond

// fileState holds the stable metadata for a single path snapshot entry.
type fileState struct {
	mode    os.FileMode
	size    int64
	modTime time.Time
}

// DirWatcher monitors a single directory of recorded ASTERIX capture files.
// It implements [ingest.Watcher] and is safe for concurrent use. Changes are
// detected by comparing periodic filesystem snapshots; no kernel-level watch
// handle is held, so the watcher tolerates a directory that does not yet
// exist at construction time.
//
// Every time a file in the directory is created or rewritten, DirWatcher
// reads its full contents and emits one ingest.Capture. It is the caller's
// responsibility to ensure capture files are written atomically (write to a
// temp name, then rename into the watched directory) so that DirWatcher
// never observes a partially written file.
type DirWatcher struct {
	source   string
	dir      string
	logger   *slog.Logger
	interval time.Duration

	events chan ingest.Capture
	done   chan struct{}
	// ready is closed once the initial snapshot has been taken. Callers
	// (especially tests) may wait on Ready() before writing capture files to
	// avoid missed-event races.
	ready chan struct{}

	mu       sync.Mutex
	snapshot map[string]fileState
	wg       sync.WaitGroup

	stopOnce sync.Once
}

// NewDirWatcher creates a DirWatcher that observes dir under the given
// source name (used to populate ingest.Capture.Source). Passing interval <= 0
// uses DefaultPollInterval.
func NewDirWatcher(source, dir string, logger *slog.Logger, interval time.Duration) *DirWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &DirWatcher{
		source:   source,
		dir:      dir,
		logger:   logger,
		interval: interval,
		events:   make(chan ingest.Capture, 64),
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
		snapshot: make(map[string]fileState),
	}
}

// Start begins filesystem monitoring in a background goroutine and returns
// immediately. It implements [ingest.Watcher]. The background goroutine
// exits when Stop is called; cancelling ctx calls Stop.
func (dw *DirWatcher) Start(ctx context.Context) error {
	dw.wg.Add(1)
	go dw.run()
	go func() {
		select {
		case <-ctx.Done():
			dw.Stop()
		case <-dw.done:
		}
	}()
	return nil
}

// Stop signals the watcher to cease monitoring and blocks until the
// background goroutine exits. The Events channel is closed after Stop
// returns. It is safe to call Stop multiple times (idempotent).
func (dw *DirWatcher) Stop() {
	dw.stopOnce.Do(func() {
		close(dw.done)
		dw.wg.Wait()
		close(dw.events)
	})
}

// Events returns the read-only channel on which Captures are delivered.
func (dw *DirWatcher) Events() <-chan ingest.Capture {
	return dw.events
}

// Ready returns a channel that is closed once the initial directory
// snapshot has been taken. Waiting on this channel before writing capture
// files eliminates races in tests.
func (dw *DirWatcher) Ready() <-chan struct{} {
	return dw.ready
}

// run is the background goroutine that polls the directory for changes.
func (dw *DirWatcher) run() {
	defer dw.wg.Done()

	// Take the initial snapshot before signalling readiness so that the very
	// first poll only emits events for changes made after Start returned.
	dw.mu.Lock()
	dw.snapshot = dw.scan()
	dw.mu.Unlock()
	close(dw.ready)

	ticker := time.NewTicker(dw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-dw.done:
			return
		case <-ticker.C:
			dw.mu.Lock()
			current := dw.scan()
			dw.diff(dw.snapshot, current)
			dw.snapshot = current
			dw.mu.Unlock()
		}
	}
}

// scan reads the immediate (non-directory) children of dw.dir and returns a
// path→fileState snapshot. A directory that does not yet exist is not an
// error: it is treated as an empty snapshot so that a watcher can be started
// before its target directory is created.
func (dw *DirWatcher) scan() map[string]fileState {
	result := make(map[string]fileState)

	entries, err := os.ReadDir(dw.dir)
	if err != nil {
		return result
	}
	for _, e := range entries {
		if e.IsDir() {
			continue // non-recursive: subdirectories are not capture sources
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dw.dir, e.Name())
		result[path] = fileState{
			mode:    fi.Mode(),
			size:    fi.Size(),
			modTime: fi.ModTime(),
		}
	}

	return result
}

// diff compares an old snapshot against a new one and reads+emits a Capture
// for each file that was created or rewritten. Deletions require no action:
// a deleted capture file has nothing left to decode.
func (dw *DirWatcher) diff(old, current map[string]fileState) {
	for path, cur := range current {
		prev, existed := old[path]
		if !existed || cur.modTime != prev.modTime || cur.size != prev.size {
			dw.emit(path, cur.modTime)
		}
	}
}

// emit reads the full contents of path and sends a Capture on the events
// channel. If the file cannot be read or the channel is full, the file is
// skipped with a warning log rather than blocking the poll loop.
func (dw *DirWatcher) emit(path string, modTime time.Time) {
	data, err := os.ReadFile(path)
	if err != nil {
		dw.logger.Warn("dir watcher: cannot read capture file",
			slog.String("path", path),
			slog.Any("error", err),
		)
		return
	}

	cap := ingest.Capture{Source: dw.source, Timestamp: modTime, Bytes: data}

	select {
	case dw.events <- cap:
		dw.logger.Debug("dir watcher: capture read",
			slog.String("source", dw.source),
			slog.String("path", path),
			slog.Int("bytes", len(data)),
		)
	default:
		dw.logger.Warn("dir watcher: event channel full, dropping capture",
			slog.String("path", path),
		)
	}
}
