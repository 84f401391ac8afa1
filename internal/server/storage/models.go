// Package storage provides the PostgreSQL-backed persistence layer for the
// asterixd dashboard server. It exposes typed model structs for the three
// database tables (sources, block_records, audit_entries) and a Store that
// wraps a pgxpool connection pool with a batched block-record insert path.
package storage

import (
	"encoding/json"
	"time"
)

// Severity is the operator-facing urgency level of a decode diagnostic,
// mirroring tree.Severity's string form ("ok", "warn", "err").
type Severity string

const (
	SeverityOK   Severity = "ok"
	SeverityWarn Severity = "warn"
	SeverityErr  Severity = "err"
)

// SourceStatus represents the liveness state of a configured capture source
// as seen by the dashboard.
type SourceStatus string

const (
	SourceStatusActive SourceStatus = "ACTIVE"
	SourceStatusStale  SourceStatus = "STALE"
	SourceStatusDown   SourceStatus = "DOWN"
)

// Source maps to the `sources` table.
//
// LastBlockAt is nil when no block has ever been received from this source.
type Source struct {
	SourceID    string       `json:"source_id"`
	Name        string       `json:"name"`
	Type        string       `json:"type"` // "udp" or "dir"
	Target      string       `json:"target"`
	LastBlockAt *time.Time   `json:"last_block_at,omitempty"`
	Status      SourceStatus `json:"status"`
}

// BlockRecord maps to the `block_records` partitioned table. One row is
// written per decoded ASTERIX block.
//
// Diagnostics carries the raw JSONB array of decode diagnostics attached to
// this block. It round-trips without modification: bytes written to the DB
// are returned verbatim on read. A nil Diagnostics is stored as the JSON
// value null and read back as the bytes `null`.
type BlockRecord struct {
	RecordID    string          `json:"record_id"`
	Source      string          `json:"source"`
	Category    int             `json:"category"`
	RecordCount int             `json:"record_count"`
	ByteLength  int             `json:"byte_length"`
	Timestamp   time.Time       `json:"timestamp"`
	Diagnostics json.RawMessage `json:"diagnostics,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// AuditEntry maps to the `audit_entries` table.
//
// EventHash is the SHA-256 hex digest of this entry.
// PrevHash is the SHA-256 hex digest of the previous entry; for the genesis
// entry this is a string of 64 zeros.
// Payload holds the full event data as a JSONB value.
type AuditEntry struct {
	EntryID     string          `json:"entry_id"`
	Source      string          `json:"source"`
	SequenceNum int64           `json:"sequence_num"`
	EventHash   string          `json:"event_hash"`
	PrevHash    string          `json:"prev_hash"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// BlockQuery carries the filter and pagination parameters for QueryBlocks.
//
// From and To are mandatory and bracket the received_at column, enabling
// PostgreSQL partition pruning. Limit defaults to 100 when ≤ 0. A nil
// Category means no category filter is applied. An empty Source matches
// all sources.
type BlockQuery struct {
	Source   string
	Category *int
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}
