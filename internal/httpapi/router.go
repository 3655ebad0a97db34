package httpapi

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the chi router for all six routes. Telemetry must be
// outermost and Recoverer innermost: Recoverer's recover() has to run
// before Telemetry's deferred status/latency recording sees the response,
// so a panic is observed as a 500 rather than whatever status Telemetry
// already defaulted and flushed to the client (uncaught panics are
// counted as 5xx, matching the "exceptions counted as 5xx and re-raised"
// invariant).
func NewRouter(h *Handlers) chi.Router {
	r := chi.NewRouter()
	r.Use(Telemetry(h.Metrics, int64(h.Settings.MaxQueueCapacity)))
	r.Use(chimiddleware.Recoverer)

	r.Post("/v6/auth/mint", h.MintDirect)
	r.Post("/v6/zkp/identity", h.RegisterIdentity)
	r.Get("/v6/zkp/challenge", h.IssueChallenge)
	r.Post("/v6/zkp/mint", h.MintZKP)
	r.Get("/health", h.Health)
	r.Get("/v6/engine/stats", h.Stats)

	return r
}
