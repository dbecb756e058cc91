package httpapi

import (
	"context"
	"net/http"

	"github.com/cratehub/registry"
)

type contextKey int

const authorContextKey contextKey = iota

// requireAuth resolves the bare Authorization header to an author via
// the ownership service and stores it on the request context,
// rejecting the request with unauthorized otherwise.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		author, err := s.owners.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), authorContextKey, author)
		next(w, r.WithContext(ctx))
	}
}

func authorFromContext(r *http.Request) registry.Author {
	a, _ := r.Context().Value(authorContextKey).(registry.Author)
	return a
}
