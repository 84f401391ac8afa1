package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultBatchSize is the maximum number of block-record rows held
	// in-memory before an automatic flush is triggered.
	DefaultBatchSize = 100

	// DefaultFlushInterval is how often the background goroutine flushes
	// pending block records even when the batch has not yet reached
	// DefaultBatchSize.
	DefaultFlushInterval = 100 * time.Millisecond
)

// Store is the PostgreSQL-backed storage layer for the asterixd dashboard.
//
// Block-record ingestion is batched: callers enqueue individual BlockRecord
// values via BatchInsertBlocks, which accumulates them in memory and flushes
// to the database either when the buffer reaches batchSize or when the
// background ticker fires, whichever comes first. Source and audit-entry
// operations are executed immediately.
type Store struct {
	pool          *pgxpool.Pool
	mu            sync.Mutex
	batch         []BlockRecord
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// New opens a pgxpool connection to connStr, pings the database, and starts
// the background flush goroutine.
//
// batchSize ≤ 0 is replaced with DefaultBatchSize.
// flushInterval ≤ 0 is replaced with DefaultFlushInterval.
func New(ctx context.Context, connStr string, batchSize int, flushInterval time.Duration) (*Store, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pool.Ping: %w", err)
	}

	s := &Store{
		pool:          pool,
		batch:         make([]BlockRecord, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

// Close stops the background flush goroutine, flushes any remaining buffered
// block records, and closes the connection pool. It is safe to call Close
// more than once; subsequent calls are no-ops.
func (s *Store) Close(ctx context.Context) {
	select {
	case <-s.stopCh:
		// already closed
	default:
		close(s.stopCh)
		<-s.doneCh
		// Best-effort final flush; errors are not propagated on close.
		_ = s.Flush(ctx)
	}
	s.pool.Close()
}

// flushLoop is the background goroutine that ticks on flushInterval and calls
// Flush. It exits when stopCh is closed.
func (s *Store) flushLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_ = s.Flush(context.Background())
		}
	}
}

// BatchInsertBlocks enqueues rec for deferred batch insertion.
//
// If the internal buffer reaches batchSize after appending, Flush is called
// synchronously before returning so that the caller observes back-pressure
// rather than unbounded memory growth.
func (s *Store) BatchInsertBlocks(ctx context.Context, rec BlockRecord) error {
	s.mu.Lock()
	s.batch = append(s.batch, rec)
	full := len(s.batch) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush drains the current block-record buffer and sends all rows to
// PostgreSQL in a single pgx.Batch round-trip. Rows that conflict on the
// primary key are silently ignored (idempotent replay support, important
// because the SQLite uplink queue may redeliver a record after a crash).
//
// Flush is safe to call concurrently: a mutex swap ensures each call drains a
// distinct snapshot of the buffer.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.mu.Unlock()
		return nil
	}
	toInsert := s.batch
	s.batch = make([]BlockRecord, 0, s.batchSize)
	s.mu.Unlock()

	const query = `
		INSERT INTO block_records
			(record_id, source, category, record_count, byte_length, timestamp, diagnostics, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`

	b := &pgx.Batch{}
	for i := range toInsert {
		r := &toInsert[i]
		diag := []byte(r.Diagnostics)
		if diag == nil {
			diag = []byte("null")
		}
		b.Queue(query,
			r.RecordID, r.Source, r.Category, r.RecordCount, r.ByteLength,
			r.Timestamp,
			diag,
			r.ReceivedAt,
		)
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()

	for range toInsert {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec block record: %w", err)
		}
	}
	return nil
}

// QueryBlocks returns paginated block records that fall within
// [q.From, q.To) on the received_at column. The time-range constraint
// enables PostgreSQL partition pruning so only the relevant monthly
// partitions are scanned.
//
// Optional filters: q.Source (exact match), q.Category (exact match).
// q.Limit defaults to 100; q.Offset enables cursor-style pagination.
// Results are ordered by received_at DESC, record_id ASC.
func (s *Store) QueryBlocks(ctx context.Context, q BlockQuery) ([]BlockRecord, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	// Base args: $1=from, $2=to, $3=limit, $4=offset
	args := []any{q.From, q.To, q.Limit, q.Offset}
	where := "WHERE received_at >= $1 AND received_at < $2"
	argIdx := 5

	if q.Source != "" {
		where += fmt.Sprintf(" AND source = $%d", argIdx)
		args = append(args, q.Source)
		argIdx++
	}
	if q.Category != nil {
		where += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, *q.Category)
		argIdx++ //nolint:ineffassign // reserved for future filters
	}

	sql := fmt.Sprintf(`
		SELECT record_id, source, category, record_count, byte_length,
		       timestamp, diagnostics, received_at
		FROM   block_records
		%s
		ORDER  BY received_at DESC, record_id
		LIMIT  $3 OFFSET $4`, where)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	var recs []BlockRecord
	for rows.Next() {
		var r BlockRecord
		var diag []byte
		err := rows.Scan(
			&r.RecordID, &r.Source, &r.Category, &r.RecordCount, &r.ByteLength,
			&r.Timestamp,
			&diag,
			&r.ReceivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan block record: %w", err)
		}
		r.Diagnostics = diag
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// --- Source CRUD ---

// UpsertSource inserts a new source or, on name conflict, updates all mutable
// fields. It returns the effective source_id that is persisted in the
// database: on a clean insert this equals src.SourceID; on a name conflict
// the existing source_id is returned unchanged, so callers always receive a
// stable identifier that correlates with historical block records even
// across collector restarts.
func (s *Store) UpsertSource(ctx context.Context, src Source) (string, error) {
	var effectiveSourceID string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sources
			(source_id, name, type, target, last_block_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			type          = EXCLUDED.type,
			target        = EXCLUDED.target,
			last_block_at = EXCLUDED.last_block_at,
			status        = EXCLUDED.status
		RETURNING source_id`,
		src.SourceID,
		src.Name,
		src.Type,
		src.Target,
		src.LastBlockAt,
		string(src.Status),
	).Scan(&effectiveSourceID)
	if err != nil {
		return "", fmt.Errorf("upsert source: %w", err)
	}
	return effectiveSourceID, nil
}

// GetSource returns the source with the given UUID, or an error wrapping
// pgx.ErrNoRows when not found.
func (s *Store) GetSource(ctx context.Context, sourceID string) (*Source, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT source_id, name, type, target, last_block_at, status
		FROM   sources
		WHERE  source_id = $1`, sourceID)
	src, err := scanSource(row)
	if err != nil {
		return nil, fmt.Errorf("get source %s: %w", sourceID, err)
	}
	return src, nil
}

// ListSources returns all registered sources ordered alphabetically by name.
func (s *Store) ListSources(ctx context.Context) ([]Source, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source_id, name, type, target, last_block_at, status
		FROM   sources
		ORDER  BY name`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

// --- AuditEntry operations ---

// InsertAuditEntry persists a single tamper-evident audit log entry.
// The caller must populate EntryID, EventHash, PrevHash, and SequenceNum.
func (s *Store) InsertAuditEntry(ctx context.Context, e AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_entries
			(entry_id, source, sequence_num, event_hash, prev_hash, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.EntryID,
		e.Source,
		e.SequenceNum,
		e.EventHash,
		e.PrevHash,
		[]byte(e.Payload),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// QueryAuditEntries returns audit entries for source with created_at in
// [from, to), ordered by sequence_num ascending.
func (s *Store) QueryAuditEntries(ctx context.Context, source string, from, to time.Time) ([]AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entry_id, source, sequence_num, event_hash, prev_hash, payload, created_at
		FROM   audit_entries
		WHERE  source = $1 AND created_at >= $2 AND created_at < $3
		ORDER  BY sequence_num ASC`,
		source, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var payload []byte
		err := rows.Scan(
			&e.EntryID, &e.Source, &e.SequenceNum,
			&e.EventHash, &e.PrevHash,
			&payload,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Payload = payload
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- internal helpers ---

// scanner is satisfied by both pgx.Row and pgx.Rows, allowing shared scan
// helpers across single-row and multi-row queries.
type scanner interface {
	Scan(dest ...any) error
}

// scanSource reads one source row from s.
func scanSource(s scanner) (*Source, error) {
	var src Source
	var status string
	err := s.Scan(
		&src.SourceID, &src.Name, &src.Type, &src.Target,
		&src.LastBlockAt,
		&status,
	)
	if err != nil {
		return nil, err
	}
	src.Status = SourceStatus(status)
	return &src, nil
}
