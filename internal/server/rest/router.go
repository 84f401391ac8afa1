package rest

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a configured chi.Router for the asterixd dashboard API.
//
// Route layout:
//
//	GET  /healthz            – liveness probe (no authentication required)
//	GET  /api/v1/blocks      – paginated decoded-block query (JWT required)
//	GET  /api/v1/sources     – list all registered sources (JWT required)
//	GET  /api/v1/audit       – tamper-evident audit log query (JWT required)
//	POST /api/v1/ingest      – uplink delivery endpoint (no JWT — same-process
//	                           loopback call from the collector's uplink client)
//
// pubKey is the RSA public key used to verify RS256 Bearer tokens on the
// dashboard query routes.  Pass nil to disable JWT validation (useful in
// tests that cover only request parsing / response formatting).
//
// A token's Claims.AllowedCategories / AllowedSources further scope which
// category or source filters handleGetBlocks and handleGetAudit will honor,
// so one dashboard deployment can serve several operators without any one
// of them querying another's traffic.
func NewRouter(srv *Server, pubKey *rsa.PublicKey) http.Handler {
	r := chi.NewRouter()

	// Built-in chi middleware for observability and hygiene.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health check – no authentication.
	r.Get("/healthz", srv.handleHealthz)

	// Uplink delivery endpoint — deliberately outside the JWT-protected
	// group. It is reached only by the collector's own uplink client over
	// the loopback interface, never by a browser.
	r.Post("/api/v1/ingest", srv.handleIngest)

	// Authenticated dashboard query routes.
	r.Route("/api/v1", func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(pubKey))
		}

		r.Get("/blocks", srv.handleGetBlocks)
		r.Get("/sources", srv.handleGetSources)
		r.Get("/audit", srv.handleGetAudit)
	})

	return r
}
