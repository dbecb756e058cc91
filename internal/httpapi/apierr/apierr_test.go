package apierr

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cratehub/registry"
)

func TestStatusFor(t *testing.T) {
	tt := []struct {
		kind registry.ErrorKind
		want int
	}{
		{registry.ErrBadMetadata, http.StatusBadRequest},
		{registry.ErrUnauthorized, http.StatusUnauthorized},
		{registry.ErrForbidden, http.StatusForbidden},
		{registry.ErrServerBusy, http.StatusServiceUnavailable},
		{registry.ErrConflictRetry, http.StatusConflict},
		{registry.ErrDatabaseUnavailable, http.StatusServiceUnavailable},
		{registry.ErrRecordMissing, http.StatusNotFound},
		{registry.ErrChecksumMismatch, http.StatusInternalServerError},
		{registry.ErrorKind("not-a-real-kind"), http.StatusInternalServerError},
	}
	for _, tc := range tt {
		if got := StatusFor(tc.kind); got != tc.want {
			t.Errorf("StatusFor(%s) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestWriteRendersEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	Write(w, r, &registry.Error{Op: "Test", Kind: registry.ErrForbidden, Message: "demo_crate"})

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if len(env.Errors) != 1 || env.Errors[0].Detail == "" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestWriteWrapsPlainError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	Write(w, r, http.ErrBodyNotAllowed)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
