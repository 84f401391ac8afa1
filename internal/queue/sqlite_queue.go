// Package queue provides a WAL-mode SQLite-backed uplink queue for asterixd.
// It implements the ingest.Queue interface and adds Dequeue and Ack
// operations to support at-least-once delivery semantics: events are
// persisted on Enqueue and are not removed until the caller calls Ack.
//
// # WAL mode
//
// The database is opened with PRAGMA journal_mode = WAL so that concurrent
// readers and a single writer can proceed without blocking each other. This
// is important because a collector's decode goroutines call Enqueue while a
// separate uplink-drain goroutine calls Dequeue and Ack.
//
// # At-least-once delivery
//
// The delivered column is set to 1 only when Ack is called. If the process
// crashes between Enqueue and Ack, the event is returned again by the next
// Dequeue call after restart, ensuring every decoded block summary reaches
// the dashboard even when the uplink is temporarily unavailable.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/flightwatch/asterix/internal/ingest"
	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// SQLiteQueue is a WAL-mode SQLite-backed implementation of ingest.Queue.
// It is safe for concurrent use.
type SQLiteQueue struct {
	db    *sql.DB
	depth atomic.Int64
}

// New opens (or creates) the SQLite database at path, enables WAL journal
// mode, and applies the schema. If path is ":memory:", an in-memory database
// is used; this is suitable for tests but loses all data when closed.
//
// New seeds the internal depth counter from the number of rows currently
// marked as pending (delivered = 0), so Depth() is accurate immediately
// after a crash-recovery restart.
func New(path string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("queue: open %q: %w", path, err)
	}

	// SQLite allows only one writer at a time. Limiting the pool to a single
	// connection avoids "database is locked" errors when multiple goroutines
	// call Enqueue concurrently; each call serialises through this connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode: readers and the single writer proceed concurrently.
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: set WAL mode: %w", err)
	}

	// NORMAL synchronous: durable across application crashes; not OS crashes.
	// This gives a significant write-throughput improvement over FULL while
	// still guaranteeing that a committed transaction survives a process exit.
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: set synchronous = NORMAL: %w", err)
	}

	// Apply the schema (idempotent: CREATE TABLE IF NOT EXISTS).
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: apply schema: %w", err)
	}

	q := &SQLiteQueue{db: db}

	// Seed the depth counter from existing undelivered rows so that Depth()
	// reflects the correct value immediately after a restart.
	var count int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM block_queue WHERE delivered = 0`).Scan(&count); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: count pending rows: %w", err)
	}
	q.depth.Store(count)

	return q, nil
}

// ddl is the schema DDL, kept here to keep the package self-contained.
const ddl = `
CREATE TABLE IF NOT EXISTS block_queue (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    source        TEXT    NOT NULL,
    category      INTEGER NOT NULL,
    record_count  INTEGER NOT NULL,
    byte_length   INTEGER NOT NULL,
    ts            TEXT    NOT NULL,
    detail        TEXT    NOT NULL DEFAULT '{}',
    enqueued_at   TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    delivered     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_block_queue_pending
    ON block_queue (delivered, id);
`

// Enqueue persists evt to the SQLite database. It implements ingest.Queue.
// The event is stored with delivered = 0 and is included in subsequent
// Dequeue results until Ack is called for its ID.
func (q *SQLiteQueue) Enqueue(ctx context.Context, evt ingest.BlockEvent) error {
	detail, err := json.Marshal(evt.Diagnostics)
	if err != nil {
		return fmt.Errorf("queue: marshal diagnostics: %w", err)
	}

	_, err = q.db.ExecContext(ctx,
		`INSERT INTO block_queue (source, category, record_count, byte_length, ts, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		evt.Source,
		evt.Category,
		evt.RecordCount,
		evt.ByteLength,
		evt.Timestamp.UTC().Format(time.RFC3339Nano),
		string(detail),
	)
	if err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}

	q.depth.Add(1)
	return nil
}

// PendingEvent is an unacknowledged block event returned by Dequeue.
// ID is the database primary key used to acknowledge the event via Ack.
type PendingEvent struct {
	ID  int64
	Evt ingest.BlockEvent
}

// Dequeue returns up to n unacknowledged events in insertion order (oldest
// first). It does not mark events as delivered; call Ack with the returned
// IDs to do that. If n ≤ 0, Dequeue returns nil without querying the database.
func (q *SQLiteQueue) Dequeue(ctx context.Context, n int) ([]PendingEvent, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := q.db.QueryContext(ctx,
		`SELECT id, source, category, record_count, byte_length, ts, detail
		 FROM   block_queue
		 WHERE  delivered = 0
		 ORDER  BY id
		 LIMIT  ?`, n)
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue query: %w", err)
	}
	defer rows.Close()

	var events []PendingEvent
	for rows.Next() {
		var (
			pe        PendingEvent
			tsStr     string
			detailStr string
		)
		if err := rows.Scan(
			&pe.ID,
			&pe.Evt.Source,
			&pe.Evt.Category,
			&pe.Evt.RecordCount,
			&pe.Evt.ByteLength,
			&tsStr,
			&detailStr,
		); err != nil {
			return nil, fmt.Errorf("queue: dequeue scan: %w", err)
		}

		// Parse the stored RFC3339Nano timestamp; fall back to RFC3339.
		pe.Evt.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			pe.Evt.Timestamp, _ = time.Parse(time.RFC3339, tsStr)
		}

		// Unmarshal the diagnostics JSON; a malformed value produces a nil
		// slice rather than an error so that one bad row does not block the
		// queue.
		if err := json.Unmarshal([]byte(detailStr), &pe.Evt.Diagnostics); err != nil {
			pe.Evt.Diagnostics = nil
		}

		events = append(events, pe)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: dequeue rows: %w", err)
	}
	return events, nil
}

// Ack marks the events identified by ids as delivered. Acknowledged events
// are excluded from subsequent Dequeue results. Ack is idempotent: calling
// it multiple times with the same IDs is safe.
//
// The depth counter is decremented by the number of rows whose delivered
// column transitions from 0 to 1 (already-acked IDs are skipped).
func (q *SQLiteQueue) Ack(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1] // trim trailing comma

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	result, err := q.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE block_queue SET delivered = 1 WHERE id IN (%s) AND delivered = 0`, placeholders),
		args...,
	)
	if err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}

	n, _ := result.RowsAffected()
	q.depth.Add(-n)
	return nil
}

// Depth returns the number of pending (unacknowledged) events. It reads from
// an atomic counter that is updated by Enqueue and Ack, so it never blocks.
// It implements ingest.Queue.
func (q *SQLiteQueue) Depth() int {
	return int(q.depth.Load())
}

// Close closes the underlying database connection. It implements
// ingest.Queue. Subsequent calls to any method are undefined; callers must
// not use the queue after Close returns.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}
