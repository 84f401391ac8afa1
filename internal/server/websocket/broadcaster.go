// Package websocket provides the in-process WebSocket broadcaster for the
// asterixd dashboard server.  The Broadcaster fans newly decoded block events
// out to all currently-connected browser clients without blocking the
// collector's ingestion goroutine.
//
// Design notes
//
//   - Each WebSocket client has a dedicated buffered channel of JSON-encoded
//     block-event messages.  A non-blocking send is used so that a slow or
//     disconnected client never applies back-pressure to the collector's
//     ingestion goroutine.
//   - Named clients are tracked in a sync.Map keyed by client ID to allow
//     concurrent reads without a global lock on the hot broadcast path.
//   - Anonymous subscribers (used by the integration layer) receive
//     ingest.BlockEvent values directly via a second sync.Map.
//   - Closing a subscription or unregistering a client signals the associated
//     WebSocket pump goroutine to exit cleanly.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flightwatch/asterix/internal/ingest"
)

// BlockEventData holds the structured block-event payload sent to browser
// clients as part of a BlockEventMessage envelope.
type BlockEventData struct {
	Source      string `json:"source"`
	Category    int    `json:"category"`
	RecordCount int    `json:"record_count"`
	ByteLength  int    `json:"byte_length"`
	Timestamp   string `json:"timestamp"`
	Diagnostics int    `json:"diagnostic_count"`
}

// BlockEventMessage is the top-level JSON envelope pushed to browser
// WebSocket clients. Type is always "block" for decoded-block events.
type BlockEventMessage struct {
	Type string         `json:"type"`
	Data BlockEventData `json:"data"`
}

// Client represents a single connected WebSocket client. It is created by
// Broadcaster.Register and is valid until Broadcaster.Unregister is called.
//
// categories restricts which ASTERIX categories this client receives: a nil
// or empty set means "all categories", matching the dashboard's default
// unfiltered live feed. A populated set is an allow-list built from the
// client's requested "?categories=" query parameter at connect time, so an
// operator watching only CAT048 traffic does not pay the bandwidth or
// render cost of every other category's events.
type Client struct {
	id         string
	send       chan []byte
	categories map[int]bool
	Dropped    atomic.Int64 // incremented when the send buffer is full
}

// wants reports whether this client should receive an event for category.
func (c *Client) wants(category int) bool {
	if len(c.categories) == 0 {
		return true
	}
	return c.categories[category]
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Send returns a receive-only channel on which JSON-encoded block-event
// frames are delivered. The channel is closed when the client is
// unregistered.
func (c *Client) Send() <-chan []byte { return c.send }

// Broadcaster fans block events out to all currently-connected WebSocket
// clients (via Register/Unregister/Broadcast) and to all anonymous channel
// subscribers (via Subscribe/Unsubscribe). It implements ingest.Broadcaster
// and is safe for concurrent use.
//
// For multi-instance dashboard deployments the same fan-out logic can be
// backed by a Redis pub/sub adapter without changing the collector or
// WebSocket handler code.
type Broadcaster struct {
	// Named WebSocket clients — keyed by string client ID.
	clients   sync.Map // map[string]*Client
	clientCnt atomic.Int64

	// Anonymous subscribers — keyed by the receive-only channel pointer.
	subs sync.Map // map[<-chan ingest.BlockEvent]chan ingest.BlockEvent

	bufSize int
	logger  *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewBroadcaster creates a Broadcaster.
//
// bufSize is the per-client and per-subscriber channel buffer depth. A value
// of 64 is sufficient for a 100 ms collector flush interval generating up to
// 640 block events/s per subscriber before drops begin. Pass 0 to use the
// default of 64.
func NewBroadcaster(logger *slog.Logger, bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Broadcaster{
		bufSize: bufSize,
		logger:  logger,
	}
}

// Register creates a new Client with the given id, stores it in the
// broadcaster, and returns a pointer to it. The caller must call
// Unregister(id) to release resources when the client disconnects.
//
// categories restricts the client to the listed ASTERIX category numbers;
// pass nil for the unfiltered feed.
//
// If the broadcaster is already closed, Register returns a Client whose Send
// channel is already closed.
func (b *Broadcaster) Register(id string, categories []int) *Client {
	var catSet map[int]bool
	if len(categories) > 0 {
		catSet = make(map[int]bool, len(categories))
		for _, cat := range categories {
			catSet[cat] = true
		}
	}
	c := &Client{
		id:         id,
		send:       make(chan []byte, b.bufSize),
		categories: catSet,
	}
	if b.closed.Load() {
		close(c.send)
		return c
	}
	b.clients.Store(id, c)
	b.clientCnt.Add(1)
	return c
}

// Unregister removes the client with id from the broadcaster and closes its
// Send channel so the associated write goroutine exits cleanly. Calling
// Unregister with an unknown id is a no-op.
func (b *Broadcaster) Unregister(id string) {
	if v, loaded := b.clients.LoadAndDelete(id); loaded {
		c := v.(*Client)
		close(c.send)
		b.clientCnt.Add(-1)
	}
}

// ClientCount returns the number of currently registered WebSocket clients.
func (b *Broadcaster) ClientCount() int {
	return int(b.clientCnt.Load())
}

// broadcastClients marshals msg to JSON and delivers the payload to every
// registered client whose category allow-list accepts msg.Data.Category,
// using a non-blocking send. When a client's buffer is full the message is
// dropped and the client's Dropped counter is incremented.
func (b *Broadcaster) broadcastClients(msg BlockEventMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("websocket broadcaster: marshal failed", slog.Any("error", err))
		return
	}

	b.clients.Range(func(_, v any) bool {
		c := v.(*Client)
		if !c.wants(msg.Data.Category) {
			return true
		}
		select {
		case c.send <- raw:
			// delivered
		default:
			c.Dropped.Add(1)
			b.logger.Warn("websocket broadcaster: client buffer full, dropping block event",
				slog.String("client_id", c.id),
			)
		}
		return true // continue ranging
	})
}

// Subscribe registers an anonymous subscriber and returns a channel on which
// ingest.BlockEvent values will be delivered. The channel is buffered; when
// the buffer is full a subsequent Broadcast call drops the event for that
// subscriber rather than blocking.
//
// The channel is closed automatically when ctx is cancelled or when Close is
// called. Call Unsubscribe to release resources before the context is
// cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan ingest.BlockEvent {
	ch := make(chan ingest.BlockEvent, b.bufSize)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	b.subs.Store(ch, ch)

	// Unsubscribe automatically when the caller's context is cancelled.
	if ctx != nil {
		go func() {
			<-ctx.Done()
			b.Unsubscribe(ch)
		}()
	}

	return ch
}

// Unsubscribe removes the subscription associated with ch and closes the
// channel so the consumer loop exits cleanly. It is safe to call Unsubscribe
// after the broadcaster has been closed.
func (b *Broadcaster) Unsubscribe(ch <-chan ingest.BlockEvent) {
	if actual, loaded := b.subs.LoadAndDelete(ch); loaded {
		close(actual.(chan ingest.BlockEvent))
	}
}

// Broadcast delivers evt to every anonymous subscriber and also converts it
// to a BlockEventMessage that is fanned out to every registered WebSocket
// client. It implements ingest.Broadcaster.
//
// The non-blocking select/default pattern ensures that a slow subscriber or
// client never stalls the collector's ingestion goroutine.
func (b *Broadcaster) Broadcast(evt ingest.BlockEvent) {
	if b.closed.Load() {
		return
	}

	// Deliver to Subscribe() subscribers as raw ingest.BlockEvent.
	b.subs.Range(func(key, value any) bool {
		ch := value.(chan ingest.BlockEvent)
		select {
		case ch <- evt:
			// delivered
		default:
			b.logger.Warn("websocket broadcaster: subscriber buffer full, dropping block event",
				slog.String("source", evt.Source),
				slog.Int("category", evt.Category),
			)
		}
		return true // continue ranging
	})

	// Convert to BlockEventMessage and fan out to registered WebSocket clients.
	b.broadcastClients(BlockEventMessage{
		Type: "block",
		Data: BlockEventData{
			Source:      evt.Source,
			Category:    evt.Category,
			RecordCount: evt.RecordCount,
			ByteLength:  evt.ByteLength,
			Timestamp:   evt.Timestamp.UTC().Format(time.RFC3339),
			Diagnostics: len(evt.Diagnostics),
		},
	})
}

// Close removes all subscriptions and registered clients, closes every
// channel (events still buffered in them stay readable), and releases
// internal resources. After Close returns,
// Broadcast is a no-op and Subscribe returns a closed channel.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)

		// Close all anonymous subscriber channels.
		b.subs.Range(func(key, value any) bool {
			b.subs.Delete(key)
			close(value.(chan ingest.BlockEvent))
			return true
		})

		// Close all registered WebSocket client channels.
		b.clients.Range(func(key, value any) bool {
			b.clients.Delete(key)
			c := value.(*Client)
			close(c.send)
			b.clientCnt.Add(-1)
			return true
		})
	})
}
