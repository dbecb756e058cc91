// Package ownership implements the boundary between the wire-level
// credentials a client presents (a password digest, a bearer token)
// and the catalog's authors/tokens/sessions tables: registration,
// login, token issuance, and the Authorization header lookup shared
// by every protected endpoint.
package ownership

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/cratehub/registry"
	"github.com/cratehub/registry/internal/catalog"
)

// SessionTTL is how long a login/register session stays valid.
const SessionTTL = 24 * time.Hour

const (
	serverKDFIterations = 100000
	serverKeyLen        = 64
	saltLen             = 16
	tokenBytes          = 32
	sessionIDBytes      = 32
)

// Service mediates authentication and ownership against the catalog.
type Service struct {
	DB *catalog.DB
}

// New returns a Service backed by db.
func New(db *catalog.DB) *Service {
	return &Service{DB: db}
}

// Register creates a new author from email/name and the client's
// already-PBKDF2'd password digest, then logs them in immediately.
func (s *Service) Register(ctx context.Context, email, name, clientDigest string) (registry.Author, registry.Session, error) {
	if _, err := s.DB.GetAuthorByEmail(ctx, email); err == nil {
		return registry.Author{}, registry.Session{}, &registry.Error{Op: "Register", Kind: registry.ErrBadMetadata, Message: "email already registered"}
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return registry.Author{}, registry.Session{}, &registry.Error{Op: "Register", Kind: registry.ErrInternal, Inner: err}
	}
	digest, err := decodeClientDigest(clientDigest)
	if err != nil {
		return registry.Author{}, registry.Session{}, err
	}
	hash := serverHash(digest, salt)

	author, err := s.DB.CreateAuthor(ctx, email, name, hash, salt)
	if err != nil {
		return registry.Author{}, registry.Session{}, err
	}
	sess, err := s.newSession(ctx, author.ID)
	return author, sess, err
}

// Login verifies email/clientDigest against the stored hash and
// starts a new session for the matching author.
func (s *Service) Login(ctx context.Context, email, clientDigest string) (registry.Author, registry.Session, error) {
	author, err := s.DB.GetAuthorByEmail(ctx, email)
	if err != nil {
		return registry.Author{}, registry.Session{}, &registry.Error{Op: "Login", Kind: registry.ErrUnauthorized}
	}
	salt, err := s.DB.GetSalt(ctx, author.ID)
	if err != nil {
		return registry.Author{}, registry.Session{}, &registry.Error{Op: "Login", Kind: registry.ErrUnauthorized}
	}
	digest, err := decodeClientDigest(clientDigest)
	if err != nil {
		return registry.Author{}, registry.Session{}, err
	}
	hash := serverHash(digest, salt)
	if subtle.ConstantTimeCompare(hash, author.Passwd) != 1 {
		return registry.Author{}, registry.Session{}, &registry.Error{Op: "Login", Kind: registry.ErrUnauthorized}
	}
	sess, err := s.newSession(ctx, author.ID)
	return author, sess, err
}

func (s *Service) newSession(ctx context.Context, authorID int64) (registry.Session, error) {
	id, err := randomToken(sessionIDBytes)
	if err != nil {
		return registry.Session{}, &registry.Error{Op: "newSession", Kind: registry.ErrInternal, Inner: err}
	}
	sess := registry.Session{ID: id, AuthorID: &authorID, Expiry: time.Now().Add(SessionTTL)}
	if err := s.DB.CreateSession(ctx, sess); err != nil {
		return registry.Session{}, err
	}
	return sess, nil
}

// Logout deletes the session identified by token, if any.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.DB.DeleteSession(ctx, token)
}

// Authenticate resolves a bare Authorization header value to its
// owning author, checking long-lived author tokens first and falling
// back to a login session. ErrUnauthorized covers every failure mode
// (unknown token, expired session) so as not to leak which one it was.
func (s *Service) Authenticate(ctx context.Context, token string) (registry.Author, error) {
	if token == "" {
		return registry.Author{}, &registry.Error{Op: "Authenticate", Kind: registry.ErrUnauthorized}
	}
	if author, err := s.DB.GetAuthorByToken(ctx, token); err == nil {
		return author, nil
	}

	sess, err := s.DB.GetSession(ctx, token)
	if err != nil || sess.AuthorID == nil {
		return registry.Author{}, &registry.Error{Op: "Authenticate", Kind: registry.ErrUnauthorized}
	}
	if sess.Expired(time.Now()) {
		return registry.Author{}, &registry.Error{Op: "Authenticate", Kind: registry.ErrUnauthorized}
	}
	return s.DB.GetAuthorByID(ctx, *sess.AuthorID)
}

// IssueToken creates a new author token named name for authorID,
// returning it with its raw value populated. The raw value is never
// retrievable again; only the name is shown afterward.
func (s *Service) IssueToken(ctx context.Context, authorID int64, name string) (registry.AuthorToken, error) {
	raw, err := randomToken(tokenBytes)
	if err != nil {
		return registry.AuthorToken{}, &registry.Error{Op: "IssueToken", Kind: registry.ErrInternal, Inner: err}
	}
	return s.DB.CreateToken(ctx, authorID, name, raw)
}

// ListTokens returns authorID's tokens with their raw values withheld.
func (s *Service) ListTokens(ctx context.Context, authorID int64) ([]registry.AuthorToken, error) {
	return s.DB.ListTokens(ctx, authorID)
}

// RevokeToken deletes tokenID if it belongs to authorID.
func (s *Service) RevokeToken(ctx context.Context, authorID, tokenID int64) error {
	return s.DB.RevokeToken(ctx, authorID, tokenID)
}

// randomToken returns a base32-encoded (no padding) opaque value
// drawn from n bytes of crypto/rand output.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b), nil
}

// serverHash applies the registry's own PBKDF2-HMAC-SHA-512 pass on
// top of the client-supplied digest, using the author's per-account
// salt. This is the second KDF stage described in the external
// interface contract; the first stage already happened client-side.
func serverHash(clientDigest, salt []byte) []byte {
	return pbkdf2.Key(clientDigest, salt, serverKDFIterations, serverKeyLen, sha512.New)
}

// decodeClientDigest accepts either base64 or hex encoding of the
// client-side PBKDF2 output, trying base64 first.
func decodeClientDigest(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, &registry.Error{Op: "decodeClientDigest", Kind: registry.ErrBadMetadata, Message: "password digest is neither valid base64 nor hex"}
	}
	return b, nil
}
