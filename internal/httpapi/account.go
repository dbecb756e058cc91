package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cratehub/registry"
)

type credentials struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &registry.Error{Op: "decodeJSON", Kind: registry.ErrBadMetadata, Inner: err}
	}
	return nil
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := decodeJSON(r, &creds); err != nil {
		writeError(w, r, err)
		return
	}
	_, sess, err := s.owners.Login(r.Context(), creds.Email, creds.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": sess.ID})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := decodeJSON(r, &creds); err != nil {
		writeError(w, r, err)
		return
	}
	_, sess, err := s.owners.Register(r.Context(), creds.Email, creds.Name, creds.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": sess.ID})
}

func (s *Server) listTokens(w http.ResponseWriter, r *http.Request) {
	author := authorFromContext(r)
	tokens, err := s.owners.ListTokens(r.Context(), author.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

type tokenRequest struct {
	Name string `json:"name"`
}

func (s *Server) createToken(w http.ResponseWriter, r *http.Request) {
	author := authorFromContext(r)
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	tok, err := s.owners.IssueToken(r.Context(), author.ID, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": tok})
}

func (s *Server) revokeToken(w http.ResponseWriter, r *http.Request) {
	author := authorFromContext(r)
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, r, &registry.Error{Op: "revokeToken", Kind: registry.ErrBadMetadata, Message: "invalid token id"})
		return
	}
	if err := s.owners.RevokeToken(r.Context(), author.ID, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
