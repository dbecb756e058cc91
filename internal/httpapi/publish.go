package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) publishCrate(w http.ResponseWriter, r *http.Request) {
	result, err := s.pipeline.Publish(r.Context(), authorFromContext(r), r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) yankCrate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	vers := chi.URLParam(r, "version")
	if err := s.pipeline.Yank(r.Context(), authorFromContext(r), name, vers); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) unyankCrate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	vers := chi.URLParam(r, "version")
	if err := s.pipeline.Unyank(r.Context(), authorFromContext(r), name, vers); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
