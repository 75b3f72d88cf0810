package transport

import "testing"

func TestFindCommonPrefersClientOrder(t *testing.T) {
	got, ok := findCommon([]string{"a", "b", "c"}, []string{"c", "b"})
	if !ok || got != "b" {
		t.Fatalf("got %q, %v", got, ok)
	}
}

func TestFindCommonNoOverlap(t *testing.T) {
	if _, ok := findCommon([]string{"a"}, []string{"b"}); ok {
		t.Fatal("expected no common algorithm")
	}
}

func TestNegotiateFullHandshake(t *testing.T) {
	algos := DefaultAlgorithms()
	client := &kexInitMsg{
		KexAlgos:                algos.KexAlgos,
		ServerHostKeyAlgos:      algos.HostKeyAlgos,
		CiphersClientServer:     algos.CiphersC2S,
		CiphersServerClient:     algos.CiphersS2C,
		MACsClientServer:        algos.MACsC2S,
		MACsServerClient:        algos.MACsS2C,
		CompressionClientServer: algos.CompressionC2S,
		CompressionServerClient: algos.CompressionS2C,
	}
	server := &kexInitMsg{
		KexAlgos:                []string{kexDHGroup14SHA256, kexCurve25519SHA256},
		ServerHostKeyAlgos:      []string{"ssh-rsa", "ssh-ed25519"},
		CiphersClientServer:     []string{cipherAES256CTR},
		CiphersServerClient:     []string{cipherAES256CTR},
		MACsClientServer:        []string{macHMACSHA1},
		MACsServerClient:        []string{macHMACSHA1},
		CompressionClientServer: []string{compressionNone},
		CompressionServerClient: []string{compressionNone},
	}
	n, ok := negotiate(client, server)
	if !ok {
		t.Fatal("expected negotiation to succeed")
	}
	if n.Kex != kexCurve25519SHA256 {
		t.Fatalf("expected client's most preferred common kex, got %q", n.Kex)
	}
	if n.CipherC2S != cipherAES256CTR || n.MACC2S != macHMACSHA1 {
		t.Fatalf("unexpected negotiated cipher/mac: %+v", n)
	}
}

func TestKexInitMarshalParseRoundTrip(t *testing.T) {
	algos := DefaultAlgorithms()
	m := &kexInitMsg{
		KexAlgos:                algos.KexAlgos,
		ServerHostKeyAlgos:      algos.HostKeyAlgos,
		CiphersClientServer:     algos.CiphersC2S,
		CiphersServerClient:     algos.CiphersS2C,
		MACsClientServer:        algos.MACsC2S,
		MACsServerClient:        algos.MACsS2C,
		CompressionClientServer: algos.CompressionC2S,
		CompressionServerClient: algos.CompressionS2C,
		FirstKexFollows:         true,
	}
	b := m.marshal()
	got := parseKexInitMsg(b)
	if len(got.KexAlgos) != len(m.KexAlgos) || got.KexAlgos[0] != m.KexAlgos[0] {
		t.Fatalf("kex algos mismatch: %v", got.KexAlgos)
	}
	if !got.FirstKexFollows {
		t.Fatal("expected FirstKexFollows to round-trip true")
	}
}
