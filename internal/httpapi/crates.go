package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cratehub/registry"
)

// crateSummary is the shape of one entry in a search result and, with
// its extra fields populated, a single crate's info response.
type crateSummary struct {
	Name          string   `json:"name"`
	MaxVersion    string   `json:"max_version"`
	Description   string   `json:"description"`
	Repository    string   `json:"repository,omitempty"`
	Documentation string   `json:"documentation,omitempty"`
	Downloads     int64    `json:"downloads"`
	CreatedAt     string   `json:"created_at,omitempty"`
	UpdatedAt     string   `json:"updated_at,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	Categories    []string `json:"categories,omitempty"`
}

func (s *Server) maxVersion(r *http.Request, name string) string {
	records, err := s.pipeline.Index.AllRecords(r.Context(), name)
	if err != nil || len(records) == 0 {
		return ""
	}
	best, bestVers := records[0].Vers, mustVersion(records[0].Vers)
	for _, rec := range records[1:] {
		v := mustVersion(rec.Vers)
		if v != nil && (bestVers == nil || v.GreaterThan(*bestVers)) {
			best, bestVers = rec.Vers, v
		}
	}
	return best
}

func mustVersion(s string) *registry.Version {
	v, err := registry.ParseVersion(s)
	if err != nil {
		return nil
	}
	return &v
}

func (s *Server) searchCrates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))

	result, err := s.pipeline.Search.Query(r.Context(), q.Get("q"), page, perPage)
	if err != nil {
		writeError(w, r, err)
		return
	}

	crates, err := s.pipeline.DB.GetCratesByIDs(r.Context(), result.IDs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]crateSummary, 0, len(crates))
	for _, c := range crates {
		out = append(out, crateSummary{
			Name:        c.Name,
			MaxVersion:  s.maxVersion(r, c.Name),
			Description: c.Description,
			Downloads:   c.Downloads,
		})
	}

	meta := map[string]any{"total": result.Total}
	if result.Degraded {
		meta["warning"] = string(registry.ErrSearchIndexDegraded)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"crates": out,
		"meta":   meta,
	})
}

func (s *Server) crateInfo(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	crate, err := s.pipeline.DB.GetCrateByName(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	keywords, categories, err := s.pipeline.DB.ListKeywordsAndCategories(r.Context(), crate.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, crateSummary{
		Name:          crate.Name,
		MaxVersion:    s.maxVersion(r, crate.Name),
		Description:   crate.Description,
		Repository:    crate.Repository,
		Documentation: crate.Documentation,
		Downloads:     crate.Downloads,
		CreatedAt:     crate.CreatedAt.Format(timeFormat),
		UpdatedAt:     crate.UpdatedAt.Format(timeFormat),
		Keywords:      keywords,
		Categories:    categories,
	})
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func (s *Server) listOwners(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	crate, err := s.pipeline.DB.GetCrateByName(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	owners, err := s.pipeline.DB.ListOwners(r.Context(), crate.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": owners})
}

type ownerRequest struct {
	Users []string `json:"users"`
}

func (s *Server) addOwners(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req ownerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &registry.Error{Op: "addOwners", Kind: registry.ErrBadMetadata, Inner: err})
		return
	}
	if err := s.pipeline.AddOwners(r.Context(), authorFromContext(r), name, req.Users); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "msg": "owners added"})
}

func (s *Server) removeOwners(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req ownerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &registry.Error{Op: "removeOwners", Kind: registry.ErrBadMetadata, Inner: err})
		return
	}
	if err := s.pipeline.RemoveOwners(r.Context(), authorFromContext(r), name, req.Users); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "msg": "owners removed"})
}

func (s *Server) downloadCrate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	vers := chi.URLParam(r, "version")
	rc, err := s.pipeline.Download(r.Context(), name, vers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, rc)
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.pipeline.DB.ListCategories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}
