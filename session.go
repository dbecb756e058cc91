package registry

import "time"

// Session is a server-side login session keyed by an opaque string.
// Rows are not pruned automatically; see cmd/registry-janitor.
type Session struct {
	ID       string    `db:"id"`
	AuthorID *int64    `db:"author_id"`
	Expiry   time.Time `db:"expiry"`
	Data     []byte    `db:"data"`
}

// Expired reports whether the session is past its absolute expiry
// instant as of now.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.Expiry)
}
