// Package transport implements the SSH-2 binary packet protocol: the
// version exchange, key exchange, and the send/recv loop used by every
// higher layer in sshkit. Grounded in richardjennings-usftp's Session
// (reader/writer/sequence bookkeeping) generalized from the SFTP
// subsystem framing to the full transport-layer framing of RFC 4253.
package transport

import (
	"bufio"
	"crypto"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/richardjennings/sshkit/errs"
	"github.com/richardjennings/sshkit/hostkey"
	"github.com/richardjennings/sshkit/internal/wire"
)

const clientIdent = "SSH-2.0-sshkit_1.0"

// rekey thresholds from spec section 4.1, "Rekeying": whichever of the
// byte count or the wall-clock interval is hit first triggers a rekey.
const (
	rekeyAfterBytes = 1 << 30
	rekeyAfterTime  = time.Hour
)

// HostKeyCallback is consulted once per connection, after KEX completes
// and before authentication begins, to approve or reject the server's
// host key (spec section 6, "connect").
type HostKeyCallback func(hostname string, key *hostkey.Key) error

// Config bundles the Dial-time options, in the spirit of x/crypto/ssh's
// ssh.ClientConfig but scoped to what this transport needs.
type Config struct {
	Algorithms      Algorithms
	HostKeyCallback HostKeyCallback
	Timeout         time.Duration
	Log             *logrus.Entry
}

// Transport owns one TCP connection's worth of SSH-2 framing state: the
// negotiated algorithms, the read/write directions' independent cipher
// and sequence state, and the host key presented during KEX. Higher
// layers (userauth, muxchannel) send and receive opaque payloads through
// it; they never see packet framing.
type Transport struct {
	conn net.Conn
	br   *bufio.Reader

	cfg Config
	log *logrus.Entry

	writeMu sync.Mutex
	readMu  sync.Mutex

	write *direction
	read  *direction

	sessionID []byte
	hostKey   *hostkey.Key
	negotiated Negotiated

	clientVersion []byte
	serverVersion []byte

	sentBytes uint64
	recvBytes uint64
	kexAt     time.Time

	maxPacketLength uint32

	everKexed       bool
	awaitingExtInfo bool
	serverSigAlgs   []string
}

// Dial opens a TCP connection to addr, performs the identification
// string exchange and the initial key exchange, verifies the host key
// via cfg.HostKeyCallback, and returns a ready Transport.
func Dial(network, addr string, cfg Config) (*Transport, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.Dial(network, addr)
	if err != nil {
		return nil, errs.NewError(errs.KindIO, "transport.Dial", err)
	}
	t, err := NewTransport(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)
	if cfg.HostKeyCallback != nil {
		if err := cfg.HostKeyCallback(host, t.hostKey); err != nil {
			t.Close()
			return nil, errs.NewError(errs.KindHostKeyRejected, "transport.Dial", err)
		}
	}
	return t, nil
}

// NewTransport wraps an already-established net.Conn (e.g. a proxied or
// test connection) and runs the identification exchange plus the initial
// key exchange over it.
func NewTransport(conn net.Conn, cfg Config) (*Transport, error) {
	if cfg.Algorithms.KexAlgos == nil {
		cfg.Algorithms = DefaultAlgorithms()
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	t := &Transport{
		conn:            conn,
		br:              bufio.NewReader(conn),
		cfg:             cfg,
		log:             log,
		write:           newDirection(),
		read:            newDirection(),
		maxPacketLength: defaultMaxPacketLength,
	}
	if err := t.exchangeIdentification(); err != nil {
		return nil, err
	}
	if err := t.handshake(); err != nil {
		return nil, err
	}
	return t, nil
}

// exchangeIdentification implements RFC 4253 section 4.2: send our
// identification string, read the server's, tolerating leading lines
// that don't start with "SSH-" (banner text some servers emit first).
func (t *Transport) exchangeIdentification() error {
	t.clientVersion = []byte(clientIdent)
	if _, err := t.conn.Write(append(t.clientVersion, '\r', '\n')); err != nil {
		return errs.NewError(errs.KindIO, "transport.exchangeIdentification", err)
	}
	for i := 0; i < 50; i++ {
		line, err := t.br.ReadString('\n')
		if err != nil {
			return errs.NewError(errs.KindProtocolVersion, "transport.exchangeIdentification", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, "SSH-") {
			t.serverVersion = []byte(line)
			if !strings.HasPrefix(line, "SSH-2.") {
				return errs.NewError(errs.KindProtocolVersion, "transport.exchangeIdentification",
					fmt.Errorf("unsupported protocol version line %q", line))
			}
			return nil
		}
	}
	return errs.NewError(errs.KindProtocolVersion, "transport.exchangeIdentification",
		fmt.Errorf("no SSH identification line within banner limit"))
}

// handshake runs one full key-exchange round: KEXINIT exchange,
// algorithm negotiation, the KEX method itself, host-key signature
// verification, NEWKEYS, and key derivation. It is called once at
// connection setup and again whenever rekeying triggers.
func (t *Transport) handshake() error {
	initial := !t.everKexed
	kexAlgos := t.cfg.Algorithms.KexAlgos
	if initial {
		kexAlgos = append(append([]string{}, kexAlgos...), extInfoC)
	}
	clientInit := &kexInitMsg{
		KexAlgos:                kexAlgos,
		ServerHostKeyAlgos:      t.cfg.Algorithms.HostKeyAlgos,
		CiphersClientServer:     t.cfg.Algorithms.CiphersC2S,
		CiphersServerClient:     t.cfg.Algorithms.CiphersS2C,
		MACsClientServer:        t.cfg.Algorithms.MACsC2S,
		MACsServerClient:        t.cfg.Algorithms.MACsS2C,
		CompressionClientServer: t.cfg.Algorithms.CompressionC2S,
		CompressionServerClient: t.cfg.Algorithms.CompressionS2C,
	}
	rand.Read(clientInit.Cookie[:])
	clientInitBytes := clientInit.marshal()

	if err := t.rawSend(clientInitBytes); err != nil {
		return err
	}
	serverInitBytes, err := t.rawRecv()
	if err != nil {
		return err
	}
	serverInit := parseKexInitMsg(serverInitBytes)

	n, ok := negotiate(clientInit, serverInit)
	if !ok {
		return errs.NewError(errs.KindKeyExchangeFailed, "transport.handshake",
			fmt.Errorf("no common algorithm set"))
	}
	t.negotiated = n

	magics := &handshakeMagics{
		clientVersion: t.clientVersion,
		serverVersion: t.serverVersion,
		clientKexInit: clientInitBytes,
		serverKexInit: serverInitBytes,
	}
	result, err := t.runKex(n.Kex, magics)
	if err != nil {
		return errs.NewError(errs.KindKeyExchangeFailed, "transport.handshake", err)
	}

	hk, err := hostkey.Parse(result.HostKey)
	if err != nil {
		return errs.NewError(errs.KindHostKeyRejected, "transport.handshake", err)
	}
	ok, err = hk.Verify(result.H, result.Signature)
	if err != nil || !ok {
		return errs.NewError(errs.KindHostKeyRejected, "transport.handshake",
			fmt.Errorf("host key signature verification failed"))
	}
	t.hostKey = hk

	if t.sessionID == nil {
		t.sessionID = result.H
	}

	if err := t.rawSend([]byte{msgNewKeys}); err != nil {
		return err
	}
	reply, err := t.rawRecv()
	if err != nil {
		return err
	}
	if len(reply) == 0 || reply[0] != msgNewKeys {
		return errs.NewError(errs.KindProtocolError, "transport.handshake",
			fmt.Errorf("expected NEWKEYS, got message type %d", firstByte(reply)))
	}

	if err := t.installKeys(result); err != nil {
		return err
	}
	t.sentBytes, t.recvBytes = 0, 0
	t.kexAt = time.Now()
	if initial {
		t.awaitingExtInfo = true
	}
	t.everKexed = true
	t.log.WithFields(logrus.Fields{
		"kex": n.Kex, "hostkey": n.HostKey,
		"cipher_c2s": n.CipherC2S, "cipher_s2c": n.CipherS2C,
	}).Debug("transport: key exchange complete")
	return nil
}

func firstByte(b []byte) int {
	if len(b) == 0 {
		return -1
	}
	return int(b[0])
}

// installKeys derives the six session keys from K, H, and the session
// ID per RFC 4253 section 7.2, and installs fresh direction state so
// that the next sendPacket/recvPacket uses the new algorithms.
func (t *Transport) installKeys(result *kexResult) error {
	hashID := result.HashFunc

	ivCS := deriveKey(hashID, result.K, result.H, 'A', t.sessionID, cipherIVSize(t.negotiated.CipherC2S))
	ivSC := deriveKey(hashID, result.K, result.H, 'B', t.sessionID, cipherIVSize(t.negotiated.CipherS2C))
	keyCS := deriveKey(hashID, result.K, result.H, 'C', t.sessionID, cipherKeySizeOrIV(t.negotiated.CipherC2S))
	keySC := deriveKey(hashID, result.K, result.H, 'D', t.sessionID, cipherKeySizeOrIV(t.negotiated.CipherS2C))
	macCS := deriveKey(hashID, result.K, result.H, 'E', t.sessionID, macKeySize(t.negotiated.MACC2S))
	macSC := deriveKey(hashID, result.K, result.H, 'F', t.sessionID, macKeySize(t.negotiated.MACS2C))

	writeCipher, err := newCipher(t.negotiated.CipherC2S, keyCS, ivCS)
	if err != nil {
		return errs.NewError(errs.KindUnsupportedAlgorithm, "transport.installKeys", err)
	}
	readCipher, err := newCipher(t.negotiated.CipherS2C, keySC, ivSC)
	if err != nil {
		return errs.NewError(errs.KindUnsupportedAlgorithm, "transport.installKeys", err)
	}

	newWrite := newDirection()
	newWrite.cipher = writeCipher
	newWrite.compressor = newCompressor(t.negotiated.CompressC2S)
	if !writeCipher.aead() {
		mac, err := newMAC(t.negotiated.MACC2S, macCS)
		if err != nil {
			return errs.NewError(errs.KindUnsupportedAlgorithm, "transport.installKeys", err)
		}
		newWrite.mac = mac
		newWrite.etm = macIsETM(t.negotiated.MACC2S)
	}

	newRead := newDirection()
	newRead.cipher = readCipher
	newRead.compressor = newCompressor(t.negotiated.CompressS2C)
	if !readCipher.aead() {
		mac, err := newMAC(t.negotiated.MACS2C, macSC)
		if err != nil {
			return errs.NewError(errs.KindUnsupportedAlgorithm, "transport.installKeys", err)
		}
		newRead.mac = mac
		newRead.etm = macIsETM(t.negotiated.MACS2C)
	}

	t.write = newWrite
	t.read = newRead
	return nil
}

func cipherKeySizeOrIV(name string) int {
	if n := cipherKeySize(name); n > 0 {
		return n
	}
	return cipherIVSize(name)
}

// deriveKey implements RFC 4253 section 7.2's key-stretching construction:
// HASH(K || H || letter || session_id), extended by re-hashing with the
// accumulated output prepended until long enough.
func deriveKey(hashID crypto.Hash, K *big.Int, H []byte, letter byte, sessionID []byte, size int) []byte {
	if size <= 0 {
		return nil
	}
	h := newHash(hashID)
	h.Write(wire.PutMPInt(nil, K))
	h.Write(H)
	h.Write([]byte{letter})
	h.Write(sessionID)
	key := h.Sum(nil)
	for len(key) < size {
		h := newHash(hashID)
		h.Write(wire.PutMPInt(nil, K))
		h.Write(H)
		h.Write(key)
		key = append(key, h.Sum(nil)...)
	}
	return key[:size]
}

// rawSend/rawRecv go straight to the current directions without taking
// writeMu/readMu or checking the rekey thresholds; they still apply
// whatever cipher/MAC is installed. Used by the handshake itself.
func (t *Transport) rawSend(payload []byte) error {
	return t.write.sendPacket(t.conn, payload)
}

func (t *Transport) rawRecv() ([]byte, error) {
	return t.read.recvPacket(t.br, t.maxPacketLength)
}

// sendPacket writes one opaque payload through the write direction,
// triggering a rekey first if the byte/time threshold has been crossed.
func (t *Transport) sendPacket(payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.shouldRekey() {
		if err := t.rekeyLocked(); err != nil {
			return err
		}
	}
	if err := t.write.sendPacket(t.conn, payload); err != nil {
		return err
	}
	t.sentBytes += uint64(len(payload))
	return nil
}

// recvPacket reads one opaque payload from the read direction, handling
// an interleaved KEXINIT by running a server-initiated rekey transparently.
func (t *Transport) recvPacket() ([]byte, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()
	for {
		payload, err := t.read.recvPacket(t.br, t.maxPacketLength)
		if err != nil {
			return nil, err
		}
		if len(payload) > 0 && payload[0] == msgKexInit {
			if err := t.respondToRekey(payload); err != nil {
				return nil, err
			}
			continue
		}
		if t.awaitingExtInfo {
			t.awaitingExtInfo = false
			if len(payload) > 0 && payload[0] == msgExtInfo {
				t.serverSigAlgs = parseExtInfoServerSigAlgs(payload)
				t.log.WithField("server_sig_algs", t.serverSigAlgs).Debug("transport: received ext-info")
				continue
			}
		}
		t.recvBytes += uint64(len(payload))
		return payload, nil
	}
}

func (t *Transport) shouldRekey() bool {
	return t.sentBytes > rekeyAfterBytes || t.recvBytes > rekeyAfterBytes || time.Since(t.kexAt) > rekeyAfterTime
}

// rekeyLocked initiates a client-driven rekey; caller already holds writeMu.
func (t *Transport) rekeyLocked() error {
	t.log.Debug("transport: initiating rekey")
	return t.handshake()
}

// respondToRekey handles a server-initiated KEXINIT observed mid-stream
// by running the same handshake logic against the already-consumed
// server KEXINIT payload.
func (t *Transport) respondToRekey(serverInitBytes []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.log.Debug("transport: server initiated rekey")

	clientInit := &kexInitMsg{
		KexAlgos:                t.cfg.Algorithms.KexAlgos,
		ServerHostKeyAlgos:      t.cfg.Algorithms.HostKeyAlgos,
		CiphersClientServer:     t.cfg.Algorithms.CiphersC2S,
		CiphersServerClient:     t.cfg.Algorithms.CiphersS2C,
		MACsClientServer:        t.cfg.Algorithms.MACsC2S,
		MACsServerClient:        t.cfg.Algorithms.MACsS2C,
		CompressionClientServer: t.cfg.Algorithms.CompressionC2S,
		CompressionServerClient: t.cfg.Algorithms.CompressionS2C,
	}
	rand.Read(clientInit.Cookie[:])
	clientInitBytes := clientInit.marshal()
	if err := t.write.sendPacket(t.conn, clientInitBytes); err != nil {
		return err
	}
	serverInit := parseKexInitMsg(serverInitBytes)
	n, ok := negotiate(clientInit, serverInit)
	if !ok {
		return errs.NewError(errs.KindKeyExchangeFailed, "transport.respondToRekey",
			fmt.Errorf("no common algorithm set"))
	}
	t.negotiated = n
	magics := &handshakeMagics{
		clientVersion: t.clientVersion,
		serverVersion: t.serverVersion,
		clientKexInit: clientInitBytes,
		serverKexInit: serverInitBytes,
	}
	result, err := t.runKex(n.Kex, magics)
	if err != nil {
		return errs.NewError(errs.KindKeyExchangeFailed, "transport.respondToRekey", err)
	}
	hk, err := hostkey.Parse(result.HostKey)
	if err != nil {
		return errs.NewError(errs.KindHostKeyRejected, "transport.respondToRekey", err)
	}
	if ok, err := hk.Verify(result.H, result.Signature); err != nil || !ok {
		return errs.NewError(errs.KindHostKeyRejected, "transport.respondToRekey",
			fmt.Errorf("host key signature verification failed on rekey"))
	}
	if err := t.write.sendPacket(t.conn, []byte{msgNewKeys}); err != nil {
		return err
	}
	reply, err := t.rawRecv()
	if err != nil {
		return err
	}
	if len(reply) == 0 || reply[0] != msgNewKeys {
		return errs.NewError(errs.KindProtocolError, "transport.respondToRekey",
			fmt.Errorf("expected NEWKEYS, got message type %d", firstByte(reply)))
	}
	if err := t.installKeys(result); err != nil {
		return err
	}
	t.sentBytes, t.recvBytes = 0, 0
	t.kexAt = time.Now()
	return nil
}

// Send writes one opaque payload to the peer. Exported for the userauth
// and muxchannel layers, which speak their own message types over the
// same framed stream.
func (t *Transport) Send(payload []byte) error { return t.sendPacket(payload) }

// Recv reads one opaque payload from the peer, transparently handling
// server-initiated rekeys.
func (t *Transport) Recv() ([]byte, error) { return t.recvPacket() }

// HostKey returns the host key presented during the most recent handshake.
func (t *Transport) HostKey() *hostkey.Key { return t.hostKey }

// SessionID returns the exchange hash from the very first key exchange,
// used as a stable connection identifier for publickey auth signatures.
func (t *Transport) SessionID() []byte { return t.sessionID }

// Negotiated returns the algorithm set chosen by the most recent handshake.
func (t *Transport) Negotiated() Negotiated { return t.negotiated }

// ServerSigAlgs returns the server-sig-algs extension (RFC 8308) the
// server advertised in its EXT_INFO message, or nil if it never sent one
// (the message is optional and only ever arrives once, right after the
// first NEWKEYS). Safe to call before that message would have arrived;
// it simply reads nil until recvPacket has had a chance to consume it.
func (t *Transport) ServerSigAlgs() []string { return t.serverSigAlgs }

// ServerIdentification returns the raw "SSH-2.0-..." line the server sent.
func (t *Transport) ServerIdentification() string { return string(t.serverVersion) }

// SetMaxPacketLength overrides the declared-length ceiling enforced on
// received packets (default 256 KiB); SFTP transfers with large buffer
// sizes may need a higher ceiling.
func (t *Transport) SetMaxPacketLength(n uint32) { t.maxPacketLength = n }

// Disconnect sends an RFC 4253 section 11.1 DISCONNECT message and closes
// the underlying connection.
func (t *Transport) Disconnect(reason uint32, description string) error {
	msg := &disconnectMsg{Reason: reason, Description: description}
	_ = t.sendPacket(msg.marshal())
	return t.Close()
}

// Close closes the underlying network connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// Conn exposes the raw connection for callers that need deadlines.
func (t *Transport) Conn() net.Conn { return t.conn }

var _ io.Closer = (*Transport)(nil)
