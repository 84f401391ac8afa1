// This file provides the macOS kqueue-backed implementation of the Watcher
// interface used for capture-directory monitoring.
//
//go:build darwin

package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// kqueueFileFflags is the set of vnode events subscribed to on file targets:
//
//   - NOTE_WRITE:  file data was modified
//   - NOTE_EXTEND: file size increased
//   - NOTE_DELETE: file was deleted
//   - NOTE_RENAME: file was renamed or moved away
const kqueueFileFflags uint32 = syscall.NOTE_WRITE |
	syscall.NOTE_EXTEND |
	syscall.NOTE_DELETE |
	syscall.NOTE_RENAME

// kqueueDirFflags is the set of vnode events subscribed to on directory
// targets. NOTE_WRITE fires whenever the directory contents change (a
// capture file was created or deleted); a snapshot diff then determines
// exactly what changed.
const kqueueDirFflags uint32 = syscall.NOTE_WRITE |
	syscall.NOTE_DELETE |
	syscall.NOTE_RENAME

func init() {
	platformFactory = newKqueuePlatformWatcher
}

// kqueueEntry records metadata for a single kqueue-watched file descriptor.
type kqueueEntry struct {
	fd     int
	path   string
	isDir  bool

	// snapshot is non-nil only for directory targets: the filename → fileState
	// map from the most recent directory scan, diffed against on NOTE_WRITE.
	snapshot map[string]fileState
}

// kqueuePlatformWatcher monitors capture directories using the macOS kqueue
// subsystem. It implements [Watcher] and is safe for concurrent use.
type kqueuePlatformWatcher struct {
	kqfd    int
	entries []*kqueueEntry
	fdMap   map[int]*kqueueEntry

	events   chan FileEvent
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// newKqueuePlatformWatcher constructs the darwin platform Watcher. It is
// registered as platformFactory by this file's init().
func newKqueuePlatformWatcher(cfg WatcherConfig) (Watcher, error) {
	kqfd, err := syscall.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue: create: %w", err)
	}
	return &kqueuePlatformWatcher{
		kqfd:   kqfd,
		fdMap:  make(map[int]*kqueueEntry),
		events: make(chan FileEvent, cfg.BufferSize),
		done:   make(chan struct{}),
	}, nil
}

// Watch opens each path, registers a kqueue EVFILT_VNODE filter for it, and
// launches the background event loop on first call.
func (kw *kqueuePlatformWatcher) Watch(paths []string) error {
	changes := make([]syscall.Kevent_t, 0, len(paths))

	for _, p := range paths {
		fd, err := syscall.Open(p, syscall.O_RDONLY|syscall.O_NONBLOCK|syscall.O_CLOEXEC, 0)
		if err != nil {
			return fmt.Errorf("kqueue: open %q: %w", p, err)
		}

		info, err := os.Stat(p)
		if err != nil {
			_ = syscall.Close(fd)
			return fmt.Errorf("kqueue: stat %q: %w", p, err)
		}
		isDir := info.IsDir()

		fflags := kqueueFileFflags
		if isDir {
			fflags = kqueueDirFflags
		}

		entry := &kqueueEntry{fd: fd, path: p, isDir: isDir}
		if isDir {
			entry.snapshot = kw.scanDir(p)
		}

		kw.entries = append(kw.entries, entry)
		kw.fdMap[fd] = entry

		changes = append(changes, syscall.Kevent_t{
			Ident:  uint64(fd),
			Filter: syscall.EVFILT_VNODE,
			Flags:  syscall.EV_ADD | syscall.EV_ENABLE | syscall.EV_CLEAR,
			Fflags: fflags,
		})
	}

	if len(changes) > 0 {
		if _, err := syscall.Kevent(kw.kqfd, changes, nil, nil); err != nil {
			return fmt.Errorf("kqueue: register watches: %w", err)
		}
	}

	kw.wg.Add(1)
	go kw.run()
	return nil
}

// Stop signals the watcher to cease monitoring and blocks until the
// background goroutine exits. It is safe to call Stop multiple times.
func (kw *kqueuePlatformWatcher) Stop() error {
	kw.stopOnce.Do(func() {
		close(kw.done)
		kw.wg.Wait()
		_ = syscall.Close(kw.kqfd)
		for _, e := range kw.entries {
			_ = syscall.Close(e.fd)
		}
		close(kw.events)
	})
	return nil
}

// Events returns the read-only channel on which FileEvents are delivered.
func (kw *kqueuePlatformWatcher) Events() <-chan FileEvent {
	return kw.events
}

// run is the background goroutine that waits for kqueue events and
// dispatches a FileEvent for each detected filesystem change.
func (kw *kqueuePlatformWatcher) run() {
	defer kw.wg.Done()

	events := make([]syscall.Kevent_t, 16)
	timeout := syscall.Timespec{Nsec: 100_000_000} // 100 ms

	for {
		select {
		case <-kw.done:
			return
		default:
		}

		n, err := syscall.Kevent(kw.kqfd, nil, events, &timeout)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			select {
			case <-kw.done:
				return
			default:
			}
			return
		}

		for i := 0; i < n; i++ {
			kw.handleKevent(events[i])
		}
	}
}

// handleKevent dispatches a single kqueue event based on whether the target
// is a file or a directory.
func (kw *kqueuePlatformWatcher) handleKevent(ev syscall.Kevent_t) {
	entry, ok := kw.fdMap[int(ev.Ident)]
	if !ok {
		return
	}
	if entry.isDir {
		kw.handleDirEvent(ev, entry)
	} else {
		kw.handleFileEvent(ev, entry)
	}
}

// handleFileEvent processes a kqueue event on a file (non-directory) target.
func (kw *kqueuePlatformWatcher) handleFileEvent(ev syscall.Kevent_t, entry *kqueueEntry) {
	var evtType EventType
	switch {
	case ev.Fflags&syscall.NOTE_DELETE != 0, ev.Fflags&syscall.NOTE_RENAME != 0:
		evtType = EventDelete
	case ev.Fflags&syscall.NOTE_WRITE != 0, ev.Fflags&syscall.NOTE_EXTEND != 0:
		evtType = EventWrite
	default:
		return
	}
	kw.emit(entry.path, evtType)
}

// handleDirEvent processes a kqueue event on a directory target. For
// NOTE_WRITE, it scans the current directory contents and diffs against the
// previous snapshot to emit per-file create/write/delete events.
func (kw *kqueuePlatformWatcher) handleDirEvent(ev syscall.Kevent_t, entry *kqueueEntry) {
	switch {
	case ev.Fflags&syscall.NOTE_DELETE != 0, ev.Fflags&syscall.NOTE_RENAME != 0:
		kw.emit(entry.path, EventDelete)
		entry.snapshot = nil
	case ev.Fflags&syscall.NOTE_WRITE != 0:
		current := kw.scanDir(entry.path)
		prev := entry.snapshot
		if prev == nil {
			prev = make(map[string]fileState)
		}
		entry.snapshot = current
		kw.diffDirSnapshots(prev, current, entry.path)
	}
}

// diffDirSnapshots compares two directory snapshots and emits FileEvents for
// each detected create, write, or delete.
func (kw *kqueuePlatformWatcher) diffDirSnapshots(old, current map[string]fileState, dirPath string) {
	for name, cur := range current {
		prev, existed := old[name]
		if !existed {
			kw.emit(filepath.Join(dirPath, name), EventCreate)
		} else if cur.modTime != prev.modTime || cur.size != prev.size {
			kw.emit(filepath.Join(dirPath, name), EventWrite)
		}
	}
	for name := range old {
		if _, ok := current[name]; !ok {
			kw.emit(filepath.Join(dirPath, name), EventDelete)
		}
	}
}

// scanDir returns a filename → fileState map for all immediate (non-directory)
// children of dirPath.
func (kw *kqueuePlatformWatcher) scanDir(dirPath string) map[string]fileState {
	result := make(map[string]fileState)
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return result
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		result[e.Name()] = fileState{
			mode:    fi.Mode(),
			size:    fi.Size(),
			modTime: fi.ModTime(),
		}
	}
	return result
}

// emit constructs and dispatches a FileEvent for the given path and event
// type. If the events channel is full the event is dropped rather than
// blocking the kqueue event loop.
func (kw *kqueuePlatformWatcher) emit(path string, evtType EventType) {
	select {
	case kw.events <- FileEvent{FilePath: path, EventType: evtType, Timestamp: time.Now().UTC()}:
	default:
	}
}
