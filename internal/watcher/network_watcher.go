package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/flightwatch/asterix/internal/ingest"
)

// maxDatagramSize is the largest UDP payload UDPWatcher will read in one
// ReadFrom call. ASTERIX live feeds are typically carried in single
// datagrams well under the Ethernet MTU; 65507 is the theoretical maximum
// UDP payload size over IPv4.
const maxDatagramSize = 65507

// UDPWatcher implements [ingest.Watcher] and monitors a UDP socket — unicast
// or multicast — for incoming ASTERIX datagrams. Each datagram received
// becomes exactly one ingest.Capture; no reassembly or framing is performed
// beyond what the UDP layer itself provides, matching how ASTERIX is
// conventionally distributed on live surveillance feeds (one or more
// complete data blocks per datagram).
//
// It is safe for concurrent use: Start and Stop may be called from different
// goroutines, and the Events channel may be read concurrently with Stop.
type UDPWatcher struct {
	source string
	addr   string // host:port to bind, e.g. "0.0.0.0:8600"
	group  net.IP // non-nil to join this multicast group after binding
	logger *slog.Logger

	events chan ingest.Capture

	mu     sync.Mutex
	conn   net.PacketConn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUDPWatcher creates a UDPWatcher that listens on addr (host:port) under
// the given source name. If group is non-nil, the socket joins that
// multicast group after binding — the conventional way ASTERIX surveillance
// feeds are distributed on a LAN.
func NewUDPWatcher(source, addr string, group net.IP, logger *slog.Logger) *UDPWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &UDPWatcher{
		source: source,
		addr:   addr,
		group:  group,
		logger: logger,
		events: make(chan ingest.Capture, 64),
	}
}

// Start opens the UDP socket, joins the configured multicast group if any,
// and launches the background read loop. It implements [ingest.Watcher].
// Calling Start on an already-running watcher is a no-op.
func (w *UDPWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return nil // already running
	}

	var (
		conn net.PacketConn
		err  error
	)
	if w.group != nil {
		udpAddr, resolveErr := net.ResolveUDPAddr("udp", w.addr)
		if resolveErr != nil {
			return fmt.Errorf("udp watcher %q: resolve %s: %w", w.source, w.addr, resolveErr)
		}
		udpAddr.IP = w.group
		conn, err = net.ListenMulticastUDP("udp", nil, udpAddr)
	} else {
		conn, err = net.ListenPacket("udp", w.addr)
	}
	if err != nil {
		return fmt.Errorf("udp watcher %q: listen on %s: %w", w.source, w.addr, err)
	}

	w.conn = conn

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.readLoop(runCtx)

	w.logger.Info("udp watcher started",
		slog.String("source", w.source),
		slog.String("addr", w.addr),
	)
	return nil
}

// Stop closes the socket (unblocking any pending ReadFrom) and waits for the
// background goroutine to exit before closing the Events channel. Stop is
// safe to call multiple times; subsequent calls are no-ops.
func (w *UDPWatcher) Stop() {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.cancel = nil
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	cancel()
	w.wg.Wait()

	close(w.events)
	w.logger.Info("udp watcher stopped", slog.String("source", w.source))
}

// Events returns a read-only channel from which callers receive Captures.
// The channel is closed when the watcher stops.
func (w *UDPWatcher) Events() <-chan ingest.Capture {
	return w.events
}

// readLoop reads datagrams from the socket and emits one Capture per
// datagram. It exits when ReadFrom fails, which Stop forces by closing the
// socket; cancelling ctx alone does not interrupt a pending read.
func (w *UDPWatcher) readLoop(ctx context.Context) {
	defer w.wg.Done()

	buf := make([]byte, maxDatagramSize)

	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return // Stop ran before this goroutine was scheduled
	}

	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			w.logger.Warn("udp watcher: read error",
				slog.String("source", w.source),
				slog.Any("error", err),
			)
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		cp := ingest.Capture{Source: w.source, Timestamp: time.Now().UTC(), Bytes: data}

		select {
		case w.events <- cp:
		default:
			w.logger.Warn("udp watcher: event channel full, dropping datagram",
				slog.String("source", w.source),
				slog.Int("bytes", n),
			)
		}
	}
}
