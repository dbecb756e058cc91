// Package apierr renders registry.Error values as the HTTP API's
// {"errors":[{"detail":"..."}]} envelope, with the status code chosen
// from the error's Kind.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/quay/zlog"

	"github.com/cratehub/registry"
)

// Detail is one entry of an error response's errors array.
type Detail struct {
	Detail string `json:"detail"`
}

// Envelope is the full body of an error response.
type Envelope struct {
	Errors []Detail `json:"errors"`
}

var statusByKind = map[registry.ErrorKind]int{
	registry.ErrMalformedUpload:   http.StatusBadRequest,
	registry.ErrBadMetadata:       http.StatusBadRequest,
	registry.ErrBadSemver:         http.StatusBadRequest,
	registry.ErrNameCollision:     http.StatusBadRequest,
	registry.ErrVersionNotGreater: http.StatusBadRequest,
	registry.ErrMissingDependency: http.StatusBadRequest,
	registry.ErrUnknownAuthor:     http.StatusBadRequest,
	registry.ErrEmptyOwnerSet:     http.StatusBadRequest,

	registry.ErrUnauthorized: http.StatusUnauthorized,
	registry.ErrForbidden:    http.StatusForbidden,

	registry.ErrServerBusy:    http.StatusServiceUnavailable,
	registry.ErrConflictRetry: http.StatusConflict,

	registry.ErrDatabaseUnavailable: http.StatusServiceUnavailable,
	registry.ErrStorageUnavailable:  http.StatusServiceUnavailable,
	registry.ErrRemotePushFailed:    http.StatusServiceUnavailable,
	registry.ErrSearchIndexDegraded: http.StatusServiceUnavailable,

	registry.ErrChecksumMismatch: http.StatusInternalServerError,
	registry.ErrRecordMissing:    http.StatusNotFound,

	registry.ErrInternal: http.StatusInternalServerError,
}

// StatusFor returns the HTTP status the taxonomy assigns to kind,
// defaulting to 500 for an unrecognized kind.
func StatusFor(kind registry.ErrorKind) int {
	if s, ok := statusByKind[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// logAtErrorLevel mirrors the backend-error class in the taxonomy:
// these get logged server-side with correlation context, everything
// else is just returned to the client.
func logAtErrorLevel(kind registry.ErrorKind) bool {
	switch kind {
	case registry.ErrDatabaseUnavailable, registry.ErrStorageUnavailable,
		registry.ErrRemotePushFailed, registry.ErrChecksumMismatch,
		registry.ErrRecordMissing, registry.ErrInternal:
		return true
	}
	return false
}

// Write renders err as the error envelope, picking the status from
// its Kind when err is (or wraps) a *registry.Error, and 500
// otherwise.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	var re *registry.Error
	kind := registry.ErrInternal
	detail := err.Error()
	if errors.As(err, &re) {
		kind = re.Kind
		detail = re.Error()
	}
	if logAtErrorLevel(kind) {
		zlog.Error(r.Context()).Err(err).Str("kind", string(kind)).Msg("request failed")
	}
	status := StatusFor(kind)
	WriteJSON(w, status, Envelope{Errors: []Detail{{Detail: detail}}})
}

// WriteJSON marshals v as the response body with status and the JSON
// content type set.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
