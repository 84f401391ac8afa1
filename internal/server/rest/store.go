package rest

import (
	"context"
	"time"

	"github.com/flightwatch/asterix/internal/server/storage"
)

// Store is the subset of storage.Store methods used by the REST handlers.
// Defining an interface allows handlers to be tested with a mock store without
// a live PostgreSQL connection.
type Store interface {
	// QueryBlocks returns decoded block records matching the given filter and
	// pagination params.
	QueryBlocks(ctx context.Context, q storage.BlockQuery) ([]storage.BlockRecord, error)

	// ListSources returns all registered sources ordered alphabetically by name.
	ListSources(ctx context.Context) ([]storage.Source, error)

	// QueryAuditEntries returns audit entries for source within [from, to).
	QueryAuditEntries(ctx context.Context, source string, from, to time.Time) ([]storage.AuditEntry, error)
}

// IngestStore is the subset of storage.Store methods used by handleIngest to
// persist a block event forwarded over the uplink. Kept separate from Store
// so query-only test servers never need to stub a batched writer.
type IngestStore interface {
	// BatchInsertBlocks appends rec to the write-behind batch, flushing
	// synchronously once the configured batch size is reached.
	BatchInsertBlocks(ctx context.Context, rec storage.BlockRecord) error
}
