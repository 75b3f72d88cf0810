package userauth

import (
	"bytes"
	"testing"

	"github.com/richardjennings/sshkit/internal/wire"
)

func TestBuildRequestFraming(t *testing.T) {
	b := buildRequest("alice", connectionService, "password", wire.PutBool(nil, false))
	if b[0] != msgUserAuthRequest {
		t.Fatalf("expected message type %d, got %d", msgUserAuthRequest, b[0])
	}
	user, rest := wire.String(b[1:])
	if user != "alice" {
		t.Fatalf("got user %q", user)
	}
	svc, rest := wire.String(rest)
	if svc != connectionService {
		t.Fatalf("got service %q", svc)
	}
	method, rest := wire.String(rest)
	if method != "password" {
		t.Fatalf("got method %q", method)
	}
	if len(rest) != 1 || rest[0] != 0 {
		t.Fatalf("expected trailing has_signature=false byte, got %v", rest)
	}
}

func TestBuildDataSignedForAuth(t *testing.T) {
	sessionID := []byte("session-id")
	blob := []byte("fake-pubkey-blob")
	data := buildDataSignedForAuth(sessionID, "bob", connectionService, "ssh-ed25519", blob)

	got, rest := wire.Bytes(data)
	if !bytes.Equal(got, sessionID) {
		t.Fatalf("expected session id prefix, got %q", got)
	}
	if rest[0] != msgUserAuthRequest {
		t.Fatalf("expected request type byte, got %d", rest[0])
	}
	user, rest := wire.String(rest[1:])
	if user != "bob" {
		t.Fatalf("got user %q", user)
	}
}

func TestPickMethodPrefersServerOrder(t *testing.T) {
	s := &Session{methods: []string{"publickey", "password"}}
	creds := Credentials{Password: "hunter2"}
	method, ok := s.pickMethod(creds)
	if !ok || method != "password" {
		t.Fatalf("got %q, %v", method, ok)
	}
}

func TestPickMethodNoUsableCredentials(t *testing.T) {
	s := &Session{methods: []string{"publickey"}}
	if _, ok := s.pickMethod(Credentials{Password: "x"}); ok {
		t.Fatal("expected no usable method")
	}
}

func TestRemoveMethod(t *testing.T) {
	s := &Session{methods: []string{"password", "publickey", "keyboard-interactive"}}
	s.removeMethod("publickey")
	want := []string{"password", "keyboard-interactive"}
	if len(s.methods) != len(want) {
		t.Fatalf("got %v", s.methods)
	}
	for i := range want {
		if s.methods[i] != want[i] {
			t.Fatalf("got %v want %v", s.methods, want)
		}
	}
}

func TestPreferredSigAlgoBiasesToSHA512(t *testing.T) {
	s := &Session{serverSigAlgs: []string{"rsa-sha2-256", "rsa-sha2-512"}}
	got := s.preferredSigAlgo(rsaTestSigner{})
	if got != "rsa-sha2-512" {
		t.Fatalf("got %q", got)
	}
}

type rsaTestSigner struct{}

func (rsaTestSigner) PublicKeyAlgo() string                          { return "ssh-rsa" }
func (rsaTestSigner) PublicKeyBlob() []byte                          { return nil }
func (rsaTestSigner) Sign(data []byte) (string, []byte, error)       { return "", nil, nil }
