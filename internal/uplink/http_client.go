// Package uplink implements the HTTP transport client that forwards decoded
// block events from an asterixd collector to the dashboard server. The
// [Client] satisfies the [ingest.Uplink] interface and manages a
// reconnect/backoff loop analogous to a persistent streaming transport, built
// on top of simple JSON POST requests rather than a long-lived connection:
//
//   - Health probe: before forwarding any events, runOnce issues a GET against
//     the dashboard's /healthz endpoint to confirm reachability.
//   - Exponential backoff: on any probe or delivery error the client waits an
//     exponentially increasing interval (with ±25% jitter) before retrying.
//     The back-off ceiling defaults to 60s and is configurable via
//     [ClientConfig.MaxBackoff].
//   - Queue drain on reconnect: each time the probe succeeds the client first
//     drains all pending events from the local SQLite queue (oldest first)
//     before forwarding new live events. Each event is acked in the queue
//     only after the server responds with HTTP 2xx.
//   - Metrics: [Client.EventsSentTotal] and [Client.ReconnectTotal] are atomic
//     counters that increment on successful delivery and on each reconnect
//     attempt respectively. [Client.QueueDepth] reads directly from the
//     underlying queue.
package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flightwatch/asterix/internal/ingest"
	"github.com/flightwatch/asterix/internal/queue"
)

const (
	// defaultMaxBackoff is the ceiling for the exponential reconnect back-off.
	defaultMaxBackoff = 60 * time.Second

	// initialBackoff is the wait after the first probe failure.
	initialBackoff = time.Second

	// drainBatchSize is the number of events dequeued per iteration in
	// drainQueue.
	drainBatchSize = 50

	// liveChanCap is the capacity of the buffered channel used to forward
	// live block events from Send to the run-loop goroutine.
	liveChanCap = 256

	// defaultRequestTimeout bounds a single HTTP POST/GET round trip.
	defaultRequestTimeout = 10 * time.Second
)

// DrainQueue is the subset of [queue.SQLiteQueue] used by Client. It is
// satisfied by *queue.SQLiteQueue and can be stubbed in unit tests.
type DrainQueue interface {
	// Dequeue returns up to n unacknowledged events in insertion order.
	Dequeue(ctx context.Context, n int) ([]queue.PendingEvent, error)
	// Ack marks events as delivered. Idempotent.
	Ack(ctx context.Context, ids []int64) error
	// Depth returns the count of pending (unacknowledged) events.
	Depth() int
}

// ClientConfig holds the parameters for connecting to the asterixd dashboard
// server's ingest endpoint.
type ClientConfig struct {
	// Addr is the dashboard's base HTTP(S) URL, e.g.
	// "https://dashboard.example.com". Required.
	Addr string

	// AuthToken, when non-empty, is sent as a Bearer token on every request.
	AuthToken string

	// MaxBackoff is the maximum reconnect back-off interval. Defaults to
	// defaultMaxBackoff when zero or negative.
	MaxBackoff time.Duration

	// RequestTimeout bounds each individual HTTP round trip. Defaults to
	// defaultRequestTimeout when zero or negative.
	RequestTimeout time.Duration
}

// Client is an HTTP transport client that implements [ingest.Uplink]. It is
// safe for concurrent use: Send may be called from any goroutine while the
// internal run loop manages delivery.
//
// Use [New] to construct a Client. Call [Start] once to begin the connection
// loop. Call [Stop] to shut down cleanly.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	queue      DrainQueue
	logger     *slog.Logger

	// liveCh carries block events from Send to the run-loop goroutine.
	liveCh chan ingest.BlockEvent

	// stopCh is closed by Stop to signal the run loop to exit.
	stopCh   chan struct{}
	stopOnce sync.Once

	// done is closed by the run loop when it exits.
	done chan struct{}

	// Counters.
	eventsSentTotal atomic.Int64
	reconnectTotal  atomic.Int64
}

// New creates a new Client but does not start it. Call [Start] to begin the
// connection loop.
//
//   - cfg must have Addr set.
//   - q is the local SQLite queue; it is used to drain pending events on each
//     reconnect. May be nil, in which case draining is skipped.
//   - logger is used for structured logging; pass slog.Default() when no
//     custom logger is required.
func New(cfg ClientConfig, q DrainQueue, logger *slog.Logger) *Client {
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		queue:      q,
		logger:     logger,
		liveCh:     make(chan ingest.BlockEvent, liveChanCap),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the connection loop in a background goroutine and returns
// immediately. It implements [ingest.Uplink].
//
// Start always returns nil; it does not check whether the client is already
// running. Probe and delivery failures are retried internally with
// exponential back-off and are not surfaced as errors from Start.
func (c *Client) Start(ctx context.Context) error {
	go c.run(ctx)
	return nil
}

// Send forwards evt to the live channel consumed by the run-loop goroutine.
// It implements [ingest.Uplink].
//
// Send returns an error if the live channel is full (back-pressure from a
// slow or unreachable dashboard) or if the client has been stopped. The
// caller should already have persisted evt to the local queue before calling
// Send; a failed Send is not fatal because the event will be re-delivered by
// the queue drain on the next reconnect.
func (c *Client) Send(ctx context.Context, evt ingest.BlockEvent) error {
	select {
	case <-c.stopCh:
		return fmt.Errorf("uplink: stopped")
	default:
	}
	select {
	case c.liveCh <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCh:
		return fmt.Errorf("uplink: stopped")
	default:
		return fmt.Errorf("uplink: live channel full, event will be delivered via queue")
	}
}

// Stop signals the run loop to exit and blocks until it has. It implements
// [ingest.Uplink]. Calling Stop more than once is safe.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.done
}

// EventsSentTotal returns the total number of block events successfully
// delivered to the dashboard since the client was created.
func (c *Client) EventsSentTotal() int64 { return c.eventsSentTotal.Load() }

// ReconnectTotal returns the total number of reconnect attempts (failed
// probe, drain or delivery cycles) since the client was created.
func (c *Client) ReconnectTotal() int64 { return c.reconnectTotal.Load() }

// QueueDepth delegates to the underlying DrainQueue.Depth. It returns 0 when
// no queue is configured.
func (c *Client) QueueDepth() int {
	if c.queue == nil {
		return 0
	}
	return c.queue.Depth()
}

// --- internal ---

// run is the main connection loop. It runs in a background goroutine started
// by Start and exits when stopCh is closed or ctx is cancelled. On each failed
// cycle (probe, drain or delivery error) it increments reconnectTotal and
// sleeps for an exponentially
// increasing interval with ±25% jitter before retrying.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	backoff := initialBackoff
	first := true

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		if !first {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
		}
		first = false

		err := c.runOnce(ctx)
		if err == nil {
			return
		}

		c.reconnectTotal.Add(1)
		c.logger.Warn("uplink: connection lost, reconnecting",
			slog.Any("error", err),
			slog.Duration("backoff", backoff),
		)

		backoff = nextBackoff(backoff, c.cfg.MaxBackoff)
	}
}

// runOnce performs a single probe -> drain -> live-forward cycle. It returns
// nil only when the exit is clean (stop/context cancellation). Any other
// return value means the connection was lost and the caller should retry.
func (c *Client) runOnce(ctx context.Context) error {
	if err := c.probe(ctx); err != nil {
		return fmt.Errorf("probe dashboard: %w", err)
	}

	if c.queue != nil && c.queue.Depth() > 0 {
		c.logger.Info("uplink: draining queue before live events",
			slog.Int("depth", c.queue.Depth()),
		)
		if err := c.drainQueue(ctx); err != nil {
			select {
			case <-c.stopCh:
				return nil
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("queue drain: %w", err)
			}
		}
		c.logger.Info("uplink: queue drain complete")
	}

	if err := c.processLive(ctx); err != nil {
		select {
		case <-c.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
			return err
		}
	}
	return nil
}

// probe issues a GET against the dashboard's /healthz endpoint to confirm
// reachability before attempting delivery.
func (c *Client) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Addr+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET /healthz: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET /healthz: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// drainQueue sends all pending events from the queue to the dashboard in FIFO
// order. For each event it posts to /api/v1/ingest and, on a 2xx response,
// acks the event in the queue and increments eventsSentTotal. Any POST error
// terminates the drain and is returned to the caller so the run loop retries
// from the top on the next reconnect.
func (c *Client) drainQueue(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		default:
		}

		pending, err := c.queue.Dequeue(ctx, drainBatchSize)
		if err != nil {
			return fmt.Errorf("dequeue: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		for _, pe := range pending {
			if err := c.postEvent(ctx, pe.Evt); err != nil {
				return fmt.Errorf("post (queued): %w", err)
			}

			if ackErr := c.queue.Ack(ctx, []int64{pe.ID}); ackErr != nil {
				c.logger.Warn("uplink: queue Ack failed",
					slog.Int64("queue_id", pe.ID),
					slog.Any("error", ackErr),
				)
				continue
			}
			c.eventsSentTotal.Add(1)
			c.logger.Debug("uplink: queued event delivered",
				slog.String("source", pe.Evt.Source),
				slog.Int("category", pe.Evt.Category),
			)
		}
	}
}

// processLive forwards live events received from [Send] to the dashboard via
// POST. It returns when:
//   - ctx is cancelled,
//   - stopCh is closed, or
//   - a POST error occurs (triggering a reconnect with back-off).
func (c *Client) processLive(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		case evt := <-c.liveCh:
			if err := c.postEvent(ctx, evt); err != nil {
				return fmt.Errorf("post (live): %w", err)
			}
			c.eventsSentTotal.Add(1)
		}
	}
}

// postEvent marshals evt to JSON and POSTs it to the dashboard's ingest
// endpoint, returning an error unless the response status is 2xx.
func (c *Client) postEvent(ctx context.Context, evt ingest.BlockEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal block event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Addr+"/api/v1/ingest", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST /api/v1/ingest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST /api/v1/ingest: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// setAuth attaches the configured bearer token to req, if any.
func (c *Client) setAuth(req *http.Request) {
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
}

// nextBackoff returns the next back-off duration: double the current value
// with ±25% jitter, capped at maxBackoff.
func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		next = maxBackoff
	}

	jitterFactor := 0.75 + rand.Float64()*0.5 // [0.75, 1.25)
	next = time.Duration(float64(next) * jitterFactor)

	if next < initialBackoff {
		next = initialBackoff
	}
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}

// Ensure Client satisfies ingest.Uplink at compile time.
var _ ingest.Uplink = (*Client)(nil)
