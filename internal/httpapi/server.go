// Package httpapi implements the registry's public HTTP surface: a
// chi router with one handler per endpoint, JSON request/response
// bodies, and the apierr envelope for failures.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cratehub/registry/internal/httpapi/apierr"
	"github.com/cratehub/registry/internal/ownership"
	"github.com/cratehub/registry/internal/publish"
)

// Server is the registry's HTTP handler, routed with chi.
type Server struct {
	*chi.Mux
	pipeline *publish.Pipeline
	owners   *ownership.Service
}

// New builds a Server wired to pipeline for crate operations and
// owners for authentication.
func New(pipeline *publish.Pipeline, owners *ownership.Service) *Server {
	s := &Server{pipeline: pipeline, owners: owners}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/crates", s.searchCrates)
		r.Get("/crates/{name}", s.crateInfo)
		r.Get("/crates/{name}/owners", s.listOwners)
		r.Put("/crates/{name}/owners", s.requireAuth(s.addOwners))
		r.Delete("/crates/{name}/owners", s.requireAuth(s.removeOwners))
		r.Get("/crates/{name}/{version}/download", s.downloadCrate)
		r.Put("/crates/new", s.requireAuth(s.publishCrate))
		r.Delete("/crates/{name}/{version}/yank", s.requireAuth(s.yankCrate))
		r.Put("/crates/{name}/{version}/unyank", s.requireAuth(s.unyankCrate))

		r.Get("/categories", s.listCategories)

		r.Post("/account/login", s.login)
		r.Post("/account/register", s.register)

		r.Get("/account/tokens", s.requireAuth(s.listTokens))
		r.Post("/account/tokens", s.requireAuth(s.createToken))
		r.Delete("/account/tokens/{id}", s.requireAuth(s.revokeToken))
	})

	s.Mux = r
	return s
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apierr.Write(w, r, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	apierr.WriteJSON(w, status, v)
}
