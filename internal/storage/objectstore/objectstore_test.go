package objectstore

import "testing"

func TestKeyPrefixing(t *testing.T) {
	s := &Store{prefix: "crate-storage"}
	if got, want := s.key("demo/1.0.0"), "crate-storage/demo/1.0.0"; got != want {
		t.Errorf("key() = %q, want %q", got, want)
	}

	s2 := &Store{}
	if got, want := s2.key("demo/1.0.0"), "demo/1.0.0"; got != want {
		t.Errorf("key() with empty prefix = %q, want %q", got, want)
	}
}
