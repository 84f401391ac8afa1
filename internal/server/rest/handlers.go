package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/flightwatch/asterix/internal/audit"
	"github.com/flightwatch/asterix/internal/ingest"
	"github.com/flightwatch/asterix/internal/server/storage"
)

// Broadcaster is the live-fan-out dependency used by handleIngest to push a
// newly received block event to connected WebSocket clients.
type Broadcaster interface {
	Broadcast(evt ingest.BlockEvent)
}

// AuditAppender is the audit-log dependency used by handleIngest to record a
// tamper-evident trail of every block event accepted over the uplink.
// handleIngest always passes a marshalled audit.BlockDiagnostics value.
type AuditAppender interface {
	Append(payload json.RawMessage) (audit.Entry, error)
}

// Server holds the dependencies needed by the REST handlers.
//
// store is always required; ingestStore, broadcaster, and audit are optional
// and are only exercised by handleIngest — a query-only dashboard deployment
// (or a unit test covering only the GET endpoints) can construct a Server
// with no options at all.
type Server struct {
	store       Store
	ingestStore IngestStore
	broadcaster Broadcaster
	audit       AuditAppender

	logger *slog.Logger
}

// ServerOption configures optional Server dependencies.
type ServerOption func(*Server)

// WithIngestStore registers the batched writer used to persist block events
// posted to POST /api/v1/ingest.
func WithIngestStore(s IngestStore) ServerOption {
	return func(srv *Server) { srv.ingestStore = s }
}

// WithBroadcaster registers the live WebSocket fan-out used by handleIngest.
func WithBroadcaster(b Broadcaster) ServerOption {
	return func(srv *Server) { srv.broadcaster = b }
}

// WithAudit registers the tamper-evident audit log appended to by
// handleIngest.
func WithAudit(a AuditAppender) ServerOption {
	return func(srv *Server) { srv.audit = a }
}

// WithLogger overrides the Server's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ServerOption {
	return func(srv *Server) { srv.logger = l }
}

// NewServer creates a new Server with the provided query storage layer and
// any optional ingest-side dependencies.
func NewServer(store Store, opts ...ServerOption) *Server {
	s := &Server{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// handleHealthz responds to GET /healthz.
//
// This endpoint does not require authentication and returns HTTP 200 with a
// simple JSON body so load balancers and orchestrators can verify liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleGetBlocks responds to GET /api/v1/blocks.
//
// Supported query parameters:
//
//	source    – exact source name filter (optional)
//	category  – ASTERIX category number, e.g. 48 (optional)
//	from      – RFC3339 start of the received_at window (required)
//	to        – RFC3339 end of the received_at window (required)
//	limit     – maximum number of results (default 100, max 1000)
//	offset    – pagination offset (default 0)
//
// Returns HTTP 400 when required parameters are missing or malformed.
// Returns HTTP 200 with a JSON array of BlockRecord objects on success.
func (s *Server) handleGetBlocks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	fromStr := q.Get("from")
	toStr := q.Get("to")
	if fromStr == "" || toStr == "" {
		writeError(w, http.StatusBadRequest, "query parameters 'from' and 'to' are required (RFC3339)")
		return
	}

	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "'from' must be a valid RFC3339 timestamp")
		return
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "'to' must be a valid RFC3339 timestamp")
		return
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "'to' must be after 'from'")
		return
	}

	bq := storage.BlockQuery{
		From: from,
		To:   to,
	}

	claims := ClaimsFromContext(r.Context())

	if source := q.Get("source"); source != "" {
		if claims != nil && !claims.AllowsSource(source) {
			writeError(w, http.StatusForbidden, "token is not scoped to source "+source)
			return
		}
		bq.Source = source
	}

	if catStr := q.Get("category"); catStr != "" {
		cat, err := strconv.Atoi(catStr)
		if err != nil || cat < 0 {
			writeError(w, http.StatusBadRequest, "'category' must be a non-negative integer")
			return
		}
		if claims != nil && !claims.AllowsCategory(cat) {
			writeError(w, http.StatusForbidden, "token is not scoped to category "+catStr)
			return
		}
		bq.Category = &cat
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		if limit > 1000 {
			limit = 1000
		}
		bq.Limit = limit
	}

	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "'offset' must be a non-negative integer")
			return
		}
		bq.Offset = offset
	}

	blocks, err := s.store.QueryBlocks(r.Context(), bq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query block records")
		return
	}

	// Ensure we always return a JSON array, not null.
	if blocks == nil {
		blocks = []storage.BlockRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(blocks)
}

// handleGetSources responds to GET /api/v1/sources.
//
// Returns HTTP 200 with a JSON array of all registered Source objects ordered
// alphabetically by name.
func (s *Server) handleGetSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sources")
		return
	}

	if sources == nil {
		sources = []storage.Source{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(sources)
}

// handleGetAudit responds to GET /api/v1/audit.
//
// Supported query parameters:
//
//	source – exact source name (required)
//	from   – RFC3339 start of the created_at window (required)
//	to     – RFC3339 end of the created_at window (required)
//
// Returns HTTP 400 when required parameters are missing or malformed.
// Returns HTTP 200 with a JSON array of AuditEntry objects on success.
func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	source := q.Get("source")
	if source == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'source' is required")
		return
	}

	fromStr := q.Get("from")
	toStr := q.Get("to")
	if fromStr == "" || toStr == "" {
		writeError(w, http.StatusBadRequest, "query parameters 'from' and 'to' are required (RFC3339)")
		return
	}

	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "'from' must be a valid RFC3339 timestamp")
		return
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "'to' must be a valid RFC3339 timestamp")
		return
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "'to' must be after 'from'")
		return
	}

	if claims := ClaimsFromContext(r.Context()); claims != nil && !claims.AllowsSource(source) {
		writeError(w, http.StatusForbidden, "token is not scoped to source "+source)
		return
	}

	entries, err := s.store.QueryAuditEntries(r.Context(), source, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query audit entries")
		return
	}

	if entries == nil {
		entries = []storage.AuditEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(entries)
}

// handleIngest responds to POST /api/v1/ingest. It is the uplink's delivery
// endpoint: the collector's HTTP client posts one JSON-encoded
// ingest.BlockEvent per request, which this handler persists, appends to the
// tamper-evident audit log, and broadcasts to connected WebSocket clients.
//
// Returns HTTP 503 if no ingest storage was configured for this Server (a
// query-only deployment), HTTP 400 on a malformed body, and HTTP 202 on
// successful acceptance. Persistence, auditing, and broadcast all happen
// synchronously so that a non-2xx response reliably tells the uplink client
// to retry via the local queue.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingestStore == nil {
		writeError(w, http.StatusServiceUnavailable, "ingest endpoint not configured on this server")
		return
	}

	var evt ingest.BlockEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if evt.Source == "" {
		writeError(w, http.StatusBadRequest, "'source' is required")
		return
	}

	diagnostics, err := json.Marshal(evt.Diagnostics)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode diagnostics")
		return
	}

	rec := storage.BlockRecord{
		RecordID:    uuid.NewString(),
		Source:      evt.Source,
		Category:    evt.Category,
		RecordCount: evt.RecordCount,
		ByteLength:  evt.ByteLength,
		Timestamp:   evt.Timestamp,
		Diagnostics: diagnostics,
		ReceivedAt:  time.Now().UTC(),
	}

	if err := s.ingestStore.BatchInsertBlocks(r.Context(), rec); err != nil {
		s.logger.Error("ingest: failed to persist block record", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to persist block record")
		return
	}

	if s.audit != nil {
		severities := make([]string, len(evt.Diagnostics))
		for i, d := range evt.Diagnostics {
			severities[i] = d.Severity
		}
		payload := audit.NewBlockDiagnostics(evt.Source, evt.Category, evt.RecordCount, evt.ByteLength, severities)
		raw, err := json.Marshal(payload)
		if err != nil {
			s.logger.Warn("ingest: failed to encode audit payload", slog.Any("error", err))
		} else if _, err := s.audit.Append(raw); err != nil {
			s.logger.Warn("ingest: failed to append audit entry", slog.Any("error", err))
		}
	}

	if s.broadcaster != nil {
		s.broadcaster.Broadcast(evt)
	}

	w.WriteHeader(http.StatusAccepted)
}
