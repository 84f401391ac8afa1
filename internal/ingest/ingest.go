// Package ingest contains the asterixd collector orchestrator. It wires
// together the UDP and directory watchers, decodes each capture against a
// shared catalogue, and forwards the resulting per-block summaries to the
// local queue and the uplink transport, managing their lifecycle through a
// shared context.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/flightwatch/asterix"
	"github.com/flightwatch/asterix/catalog"
	"github.com/flightwatch/asterix/tree"
)

// Capture is a single buffer read from a source: one UDP datagram, or the
// full contents of one recorded .ast capture file.
type Capture struct {
	// Source is the name of the SourceConfig that produced this capture.
	Source string
	// Timestamp is when the capture was received (UDP) or the file's
	// modification time (directory watcher).
	Timestamp time.Time
	// Bytes is the raw ASTERIX byte stream: one or more blocks back to back.
	Bytes []byte
}

// Watcher is the common interface implemented by the UDP and directory
// collector components. Implementations must be safe for concurrent use.
type Watcher interface {
	// Start begins monitoring and sends captures to the channel returned by
	// Events. It returns an error if initialisation fails.
	Start(ctx context.Context) error
	// Stop signals the watcher to cease monitoring and release resources.
	// It blocks until all internal goroutines have exited.
	Stop()
	// Events returns a read-only channel from which callers receive
	// captures. The channel is closed when the watcher stops.
	Events() <-chan Capture
}

// Diagnostic is the JSON-serialisable projection of a [tree.Message]
// attached anywhere under a decoded block's subtree.
type Diagnostic struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Text     string `json:"text"`
}

// BlockEvent summarises one decoded ASTERIX block for durable queueing,
// uplink transport, and live broadcast. It deliberately does not carry the
// full output tree: that is available to anyone re-decoding the same bytes,
// and keeping the event small keeps the SQLite queue and HTTP uplink cheap.
type BlockEvent struct {
	Source      string
	Category    int
	RecordCount int
	ByteLength  int
	Timestamp   time.Time
	Diagnostics []Diagnostic
}

// Queue is the interface for the local SQLite-backed uplink queue.
type Queue interface {
	// Enqueue persists a block event for at-least-once delivery.
	Enqueue(ctx context.Context, evt BlockEvent) error
	// Depth returns the number of pending (unacknowledged) events.
	Depth() int
	// Close releases resources held by the queue.
	Close() error
}

// Uplink is the interface for the HTTP transport client that forwards
// events to the dashboard server.
type Uplink interface {
	// Start begins the uplink's background connection/retry loop.
	Start(ctx context.Context) error
	// Send forwards an event to the dashboard. It may block if the uplink
	// is congested or reconnecting.
	Send(ctx context.Context, evt BlockEvent) error
	// Stop shuts down the uplink and blocks until its background loop exits.
	Stop()
}

// Broadcaster is the interface for the live websocket fan-out. It is
// optional; a Collector with no Broadcaster still queues and uplinks.
type Broadcaster interface {
	Broadcast(evt BlockEvent)
}

// Collector is the central orchestrator of asterixd's ingestion side. It
// starts and supervises all watcher, queue, uplink, and broadcaster
// components, decoding every capture it receives against a shared catalogue.
type Collector struct {
	cat         *catalog.Catalogue
	logger      *slog.Logger
	watchers    []Watcher
	queue       Queue
	uplink      Uplink
	broadcaster Broadcaster

	startTime time.Time
	cancel    context.CancelFunc

	mu           sync.RWMutex
	lastBlockAt  time.Time
	blocksSeen   int64
	running      bool
	wg           sync.WaitGroup
}

// New creates a new Collector decoding against cat. Provide watchers, queue,
// uplink, and broadcaster via the functional options returned by
// WithWatchers, WithQueue, WithUplink, and WithBroadcaster. These components
// are optional — the collector starts with zero watchers and skips any
// component that is not provided, which is useful in tests.
func New(cat *catalog.Catalogue, logger *slog.Logger, opts ...Option) *Collector {
	c := &Collector{
		cat:    cat,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option is a functional option for Collector construction.
type Option func(*Collector)

// WithWatchers registers one or more watcher components with the collector.
func WithWatchers(ws ...Watcher) Option {
	return func(c *Collector) {
		c.watchers = append(c.watchers, ws...)
	}
}

// WithQueue registers the local uplink queue.
func WithQueue(q Queue) Option {
	return func(c *Collector) { c.queue = q }
}

// WithUplink registers the HTTP uplink client.
func WithUplink(u Uplink) Option {
	return func(c *Collector) { c.uplink = u }
}

// WithBroadcaster registers the live websocket broadcaster.
func WithBroadcaster(b Broadcaster) Option {
	return func(c *Collector) { c.broadcaster = b }
}

// Start initialises and starts all registered components using the provided
// context. It returns a non-nil error if any component fails to initialise.
// On success, internal goroutines handle ongoing capture decoding until Stop
// is called or ctx is cancelled.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("ingest: already running")
	}
	c.running = true
	c.startTime = time.Now()
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.logger.Info("starting asterix collector", slog.Int("num_sources", len(c.watchers)))

	// Start the uplink first so decoded events can be forwarded immediately.
	if c.uplink != nil {
		if err := c.uplink.Start(ctx); err != nil {
			cancel()
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			return fmt.Errorf("ingest: uplink failed to start: %w", err)
		}
	}

	// Start all registered watchers.
	for i, w := range c.watchers {
		if err := w.Start(ctx); err != nil {
			cancel()
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			return fmt.Errorf("ingest: watcher[%d] failed to start: %w", i, err)
		}
		// Fan-in: read captures from each watcher.
		c.wg.Add(1)
		go c.processCaptures(ctx, w)
	}

	c.logger.Info("asterix collector started")
	return nil
}

// Stop signals all components to shut down and waits for internal goroutines
// to exit. It is safe to call Stop multiple times.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	for _, w := range c.watchers {
		w.Stop()
	}

	c.wg.Wait()

	if c.uplink != nil {
		c.uplink.Stop()
	}

	if c.queue != nil {
		if err := c.queue.Close(); err != nil {
			c.logger.Warn("error closing uplink queue", slog.Any("error", err))
		}
	}

	c.logger.Info("asterix collector stopped")
}

// processCaptures reads Captures from watcher w, decodes each one, and
// dispatches the resulting BlockEvents. It exits when the watcher's event
// channel is closed or ctx is cancelled.
func (c *Collector) processCaptures(ctx context.Context, w Watcher) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case cp, ok := <-w.Events():
			if !ok {
				return
			}
			c.decodeCapture(ctx, cp)
		}
	}
}

// decodeCapture decodes one capture and hands each resulting block summary
// to handleBlockEvent. Decode errors never abort ingestion (spec.md §7):
// every malformed condition is already surfaced as a Diagnostic.
func (c *Collector) decodeCapture(ctx context.Context, cp Capture) {
	root := asterix.Decode(c.cat, cp.Bytes, asterix.WithTimestamp(cp.Timestamp))

	for _, child := range root.Children {
		block, ok := child.(*tree.Group)
		if !ok {
			continue
		}
		evt := blockEventFromGroup(cp.Source, cp.Timestamp, block)
		c.handleBlockEvent(ctx, evt)
	}
}

// blockEventFromGroup builds a BlockEvent summary from one decoded block
// Group, parsing the category id back out of its "CATnnn" label (set by
// decode.DecodeBlocks) and counting its record children and Messages.
func blockEventFromGroup(source string, ts time.Time, block *tree.Group) BlockEvent {
	evt := BlockEvent{
		Source:     source,
		Timestamp:  ts,
		ByteLength: block.ByteLength,
	}
	fmt.Sscanf(block.Label, "CAT%03d", &evt.Category)

	for _, child := range block.Children {
		if _, ok := child.(*tree.Group); ok {
			evt.RecordCount++
		}
	}

	tree.Walk(block, func(n tree.Node) {
		if msg, ok := n.(*tree.Message); ok {
			evt.Diagnostics = append(evt.Diagnostics, Diagnostic{
				Severity: msg.Severity.String(),
				Code:     msg.Code,
				Text:     msg.Text,
			})
		}
	})

	return evt
}

// handleBlockEvent records the event in the local queue, forwards it to the
// uplink, and broadcasts it live. Errors are logged but do not stop the
// collector.
func (c *Collector) handleBlockEvent(ctx context.Context, evt BlockEvent) {
	c.mu.Lock()
	c.lastBlockAt = evt.Timestamp
	c.blocksSeen++
	c.mu.Unlock()

	c.logger.Debug("block decoded",
		slog.String("source", evt.Source),
		slog.Int("category", evt.Category),
		slog.Int("records", evt.RecordCount),
		slog.Int("diagnostics", len(evt.Diagnostics)),
	)

	if c.queue != nil {
		if err := c.queue.Enqueue(ctx, evt); err != nil {
			c.logger.Warn("failed to enqueue block event", slog.Any("error", err))
		}
	}

	if c.uplink != nil {
		if err := c.uplink.Send(ctx, evt); err != nil {
			c.logger.Warn("failed to send block event via uplink", slog.Any("error", err))
		}
	}

	if c.broadcaster != nil {
		c.broadcaster.Broadcast(evt)
	}
}

// HealthStatus is the payload returned by the /healthz endpoint.
type HealthStatus struct {
	Status       string  `json:"status"`
	UptimeS      float64 `json:"uptime_s"`
	QueueDepth   int     `json:"queue_depth"`
	BlocksSeen   int64   `json:"blocks_seen"`
	LastBlockAt  string  `json:"last_block_at,omitempty"`
}

// Health returns a snapshot of the current collector health state.
func (c *Collector) Health() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h := HealthStatus{
		Status:     "ok",
		UptimeS:    time.Since(c.startTime).Seconds(),
		BlocksSeen: c.blocksSeen,
	}

	if c.queue != nil {
		h.QueueDepth = c.queue.Depth()
	}

	if !c.lastBlockAt.IsZero() {
		h.LastBlockAt = c.lastBlockAt.UTC().Format(time.RFC3339)
	}

	return h
}

// HealthzHandler is an http.HandlerFunc that responds with the collector's
// health status as a JSON object and HTTP 200.
func (c *Collector) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	h := c.Health()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h); err != nil {
		c.logger.Warn("healthz: failed to encode response", slog.Any("error", err))
	}
}
