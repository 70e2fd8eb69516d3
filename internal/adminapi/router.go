package adminapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a configured chi.Router for the admin HTTP API.
//
// Route layout:
//
//	GET    /healthz          – liveness probe (no authentication required)
//	GET    /status           – engine counters + per-function patch report (JWT required)
//	GET    /patches           – per-function patch report only (JWT required)
//	POST   /patches/{name}    – {"enabled": bool} ENABLE/DISABLE one function (JWT required)
//	POST   /sessions          – {"command": "..."} start a TRACE RUN session (JWT required)
//	DELETE /sessions/{id}     – STOP a TRACE RUN session (JWT required)
//
// signingKey is the HMAC key used to verify HS256 bearer tokens on all
// routes except /healthz. Pass nil to disable JWT validation (useful in
// tests that cover only request parsing / response formatting).
func NewRouter(srv *Server, signingKey []byte) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)

	r.Group(func(r chi.Router) {
		if signingKey != nil {
			r.Use(JWTMiddleware(signingKey))
		}

		r.Get("/status", srv.handleStatus)
		r.Get("/patches", srv.handleListPatches)
		r.Post("/patches/{name}", srv.handleTogglePatch)
		r.Post("/sessions", srv.handleCreateSession)
		r.Delete("/sessions/{id}", srv.handleStopSession)
	})

	return r
}
