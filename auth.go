package sshkit

import (
	"github.com/richardjennings/sshkit/keyformat"
	"github.com/richardjennings/sshkit/userauth"
)

// Credentials, Signer, and KeyboardInteractiveResponder are re-exported
// from userauth so callers configuring Login don't need a second import
// for the common case.
type (
	Credentials                  = userauth.Credentials
	Signer                       = userauth.Signer
	KeyboardInteractiveResponder = userauth.KeyboardInteractiveResponder
)

// LoadPrivateKey parses a PEM-encoded private key (PKCS#1, PKCS#8, or
// OpenSSH new format) for use as a publickey Signer.
func LoadPrivateKey(pemBytes, passphrase []byte) (Signer, error) {
	return keyformat.ParsePEM(pemBytes, passphrase)
}

// LoadPuTTYPrivateKey parses a PuTTY .ppk private key for use as a
// publickey Signer.
func LoadPuTTYPrivateKey(ppkBytes, passphrase []byte) (Signer, error) {
	return keyformat.ParsePPK(ppkBytes, passphrase)
}
