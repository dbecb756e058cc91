package registry

import (
	"database/sql/driver"
	"fmt"

	"github.com/Masterminds/semver"
)

// Version wraps a parsed semantic version so callers throughout the
// registry stay independent of the particular semver library in use.
type Version struct {
	v    *semver.Version
	repr string
}

// ParseVersion parses s as a semantic version, rejecting anything
// that doesn't conform.
func ParseVersion(s string) (Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, &Error{Op: "ParseVersion", Kind: ErrBadSemver, Message: s, Inner: err}
	}
	return Version{v: v, repr: s}, nil
}

func (v Version) String() string { return v.repr }

// GreaterThan reports whether v orders strictly after o.
func (v Version) GreaterThan(o Version) bool {
	return v.v.GreaterThan(o.v)
}

// Compare returns -1, 0, or 1 as v orders before, equal to, or after o.
func (v Version) Compare(o Version) int {
	return v.v.Compare(o.v)
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.repr), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(b []byte) error {
	nv, err := ParseVersion(string(b))
	if err != nil {
		return err
	}
	*v = nv
	return nil
}

// Scan implements sql.Scanner.
func (v *Version) Scan(i any) error {
	switch x := i.(type) {
	case nil:
		return nil
	case string:
		return v.UnmarshalText([]byte(x))
	default:
		return fmt.Errorf("registry: invalid Version source type %T", i)
	}
}

// Value implements driver.Valuer.
func (v Version) Value() (driver.Value, error) {
	return v.repr, nil
}
