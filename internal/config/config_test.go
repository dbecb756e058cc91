package config

import "testing"

const validDoc = `
[general]
addr = "0.0.0.0:8080"

[database]
url = ":memory:"

[index]
type = "command-line"
path = "/var/lib/registry/crate-index"

[storage]
type = "disk"
path = "/var/lib/registry/crate-storage"
`

func TestParseValid(t *testing.T) {
	c, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatal(err)
	}
	if c.Index.Type != IndexCommandLine {
		t.Errorf("Index.Type = %q, want %q", c.Index.Type, IndexCommandLine)
	}
	if !c.Database.IsEphemeral() {
		t.Error("expected :memory: database to be ephemeral")
	}
	if c.General.MaxConcurrentPublish != 8 {
		t.Errorf("expected default MaxConcurrentPublish=8, got %d", c.General.MaxConcurrentPublish)
	}
}

func TestParseUnknownIndexType(t *testing.T) {
	doc := `
[index]
type = "carrier-pigeon"
[storage]
type = "disk"
path = "/tmp"
`
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("expected error for unknown index.type")
	}
	cerr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if cerr.Field != "index.type" {
		t.Errorf("Field = %q, want index.type", cerr.Field)
	}
}

func TestParseUnknownStorageType(t *testing.T) {
	doc := `
[index]
type = "git2"
path = "/tmp"
[storage]
type = "tape-drive"
`
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("expected error for unknown storage.type")
	}
}

func TestParseS3Storage(t *testing.T) {
	doc := `
[index]
type = "git2"
path = "/tmp"
[storage]
type = "s3"
region = "us-east-1"
bucket = "crates"
key_prefix = "crate-storage"
`
	c, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if c.Storage.Bucket != "crates" {
		t.Errorf("Bucket = %q, want crates", c.Storage.Bucket)
	}
}
