package registry

import (
	"errors"
	"testing"
)

func TestVersionRoundTrip(t *testing.T) {
	for _, s := range []string{"0.1.0", "1.2.3", "2.0.0-beta.1", "10.0.0+build.5"} {
		v, err := ParseVersion(s)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", s, err)
		}
		if got := v.String(); got != s {
			t.Errorf("String() = %q, want %q", got, s)
		}
		b, err := v.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText: %v", err)
		}
		var rt Version
		if err := rt.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText: %v", err)
		}
		if rt.String() != s {
			t.Errorf("round trip = %q, want %q", rt.String(), s)
		}
	}
}

func TestVersionBadSemver(t *testing.T) {
	_, err := ParseVersion("not-a-version")
	if err == nil {
		t.Fatal("expected error for malformed semver")
	}
	var domErr *Error
	if !errors.As(err, &domErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if domErr.Kind != ErrBadSemver {
		t.Errorf("Kind = %v, want %v", domErr.Kind, ErrBadSemver)
	}
}

func TestVersionGreaterThan(t *testing.T) {
	tt := []struct {
		a, b string
		want bool
	}{
		{"0.1.1", "0.1.0", true},
		{"0.1.0", "0.1.0", false},
		{"0.1.0", "0.1.1", false},
		{"1.0.0", "0.9.9", true},
	}
	for _, tc := range tt {
		a, err := ParseVersion(tc.a)
		if err != nil {
			t.Fatal(err)
		}
		b, err := ParseVersion(tc.b)
		if err != nil {
			t.Fatal(err)
		}
		if got := a.GreaterThan(b); got != tc.want {
			t.Errorf("%s.GreaterThan(%s) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
