package sshkit

import (
	"testing"

	"github.com/richardjennings/sshkit/hostkey"
)

func TestInsecureIgnoreHostKeyAcceptsAnything(t *testing.T) {
	cb := InsecureIgnoreHostKey()
	if err := cb("example.com", &hostkey.Key{Blob: []byte("anything")}); err != nil {
		t.Fatal(err)
	}
}

func TestFixedHostKeyRejectsMismatch(t *testing.T) {
	blob := []byte("some-key-blob")
	cb := FixedHostKey(hostkey.Fingerprint(blob))
	if err := cb("example.com", &hostkey.Key{Blob: blob}); err != nil {
		t.Fatalf("expected matching fingerprint to be accepted: %v", err)
	}
	if err := cb("example.com", &hostkey.Key{Blob: []byte("different")}); err == nil {
		t.Fatal("expected mismatched fingerprint to be rejected")
	}
}
