package registry

import (
	"strings"
	"time"
)

// Crate is a published package as tracked in the catalog database.
// CanonName must always equal Normalize(Name).
type Crate struct {
	ID            int64     `json:"-" db:"id"`
	Name          string    `json:"name" db:"name"`
	CanonName     string    `json:"-" db:"canon_name"`
	Description   string    `json:"description" db:"description"`
	Documentation string    `json:"documentation" db:"documentation"`
	Repository    string    `json:"repository" db:"repository"`
	Downloads     int64     `json:"downloads" db:"downloads"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Normalize computes the canonical form of a crate name: lower-cased,
// with every hyphen replaced by an underscore.
func Normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "-", "_")
}

// Keyword is an open-ended tag attached to a crate.
type Keyword struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

// Category is an admin-seeded classification a crate can opt into.
type Category struct {
	ID          int64  `json:"-" db:"id"`
	Tag         string `json:"tag" db:"tag"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
}

// Badge is a free-form display badge attached to a crate, e.g. a CI
// status badge. Params is kept as opaque JSON.
type Badge struct {
	ID        int64  `db:"id"`
	CrateID   int64  `db:"crate_id"`
	BadgeType string `db:"badge_type"`
	Params    []byte `db:"params"`
}
