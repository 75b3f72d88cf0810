package transport

import "github.com/richardjennings/sshkit/hostkey"

// extInfoC is the RFC 8308 pseudo-algorithm the client appends to its
// advertised kex_algorithms to request SSH_MSG_EXT_INFO after the first
// NEWKEYS. It never matches a real server kex_algorithms entry, so
// findCommon can never select it as the negotiated Kex.
const extInfoC = "ext-info-c"

// Algorithms is the four-ordered-preference-list catalog from spec
// section 3 ("Algorithm catalog"). A zero-value Algorithms is replaced by
// DefaultAlgorithms() at Dial time.
type Algorithms struct {
	KexAlgos       []string
	HostKeyAlgos   []string
	CiphersC2S     []string
	CiphersS2C     []string
	MACsC2S        []string
	MACsS2C        []string
	CompressionC2S []string
	CompressionS2C []string
}

// DefaultAlgorithms returns the client's preference lists, ordered most
// to least preferred, grounded in the coverage SPEC_FULL.md §4.1 names.
func DefaultAlgorithms() Algorithms {
	kex := []string{
		kexCurve25519SHA256, kexCurve25519SHA256LibSSH,
		kexECDHSHA2NistP256, kexECDHSHA2NistP384, kexECDHSHA2NistP521,
		kexDHGroup16SHA512, kexDHGroup14SHA256,
	}
	hostKeys := []string{
		hostkey.AlgoED25519,
		hostkey.AlgoECDSA256, hostkey.AlgoECDSA384, hostkey.AlgoECDSA521,
		hostkey.AlgoRSASHA512, hostkey.AlgoRSASHA256, hostkey.AlgoRSA,
	}
	ciphers := []string{
		cipherChaCha20Poly1305, cipherAES256GCM,
		cipherAES256CTR, cipherAES192CTR, cipherAES128CTR,
	}
	macs := []string{
		macHMACSHA2256ETM, macHMACSHA2256, macHMACSHA1,
	}
	compress := []string{compressionNone, compressionZlib}
	return Algorithms{
		KexAlgos:       kex,
		HostKeyAlgos:   hostKeys,
		CiphersC2S:     ciphers,
		CiphersS2C:     ciphers,
		MACsC2S:        macs,
		MACsS2C:        macs,
		CompressionC2S: compress,
		CompressionS2C: compress,
	}
}

// Negotiated is the outcome of algorithm negotiation: one winner per
// category, per direction where applicable.
type Negotiated struct {
	Kex         string
	HostKey     string
	CipherC2S   string
	CipherS2C   string
	MACC2S      string
	MACS2C      string
	CompressC2S string
	CompressS2C string
}

// findCommon returns the first entry of preferred also present in offered,
// grounded in massiveart-go.crypto/ssh/common.go's findCommonAlgorithm.
func findCommon(preferred, offered []string) (string, bool) {
	for _, p := range preferred {
		for _, o := range offered {
			if p == o {
				return p, true
			}
		}
	}
	return "", false
}

// negotiate implements spec section 4.1's "Key exchange" negotiation
// rules: KEX and host-key algorithms are chosen jointly (a KEX algorithm
// is only usable if some mutually supported host-key algorithm exists for
// it); ciphers/MACs/compression are chosen independently per direction.
func negotiate(client, server *kexInitMsg) (Negotiated, bool) {
	var n Negotiated
	var ok bool

	n.Kex, ok = findCommon(client.KexAlgos, server.KexAlgos)
	if !ok {
		return n, false
	}
	n.HostKey, ok = findCommon(client.ServerHostKeyAlgos, server.ServerHostKeyAlgos)
	if !ok {
		return n, false
	}
	n.CipherC2S, ok = findCommon(client.CiphersClientServer, server.CiphersClientServer)
	if !ok {
		return n, false
	}
	n.CipherS2C, ok = findCommon(client.CiphersServerClient, server.CiphersServerClient)
	if !ok {
		return n, false
	}
	n.MACC2S, ok = findCommon(client.MACsClientServer, server.MACsClientServer)
	if !ok {
		return n, false
	}
	n.MACS2C, ok = findCommon(client.MACsServerClient, server.MACsServerClient)
	if !ok {
		return n, false
	}
	n.CompressC2S, ok = findCommon(client.CompressionClientServer, server.CompressionClientServer)
	if !ok {
		return n, false
	}
	n.CompressS2C, ok = findCommon(client.CompressionServerClient, server.CompressionServerClient)
	if !ok {
		return n, false
	}
	return n, true
}
