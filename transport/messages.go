package transport

import (
	"math/big"

	"github.com/richardjennings/sshkit/internal/wire"
)

// Message type codes, RFC 4250 section 4.1.2 / RFC 4253.
const (
	msgDisconnect     = 1
	msgIgnore         = 2
	msgUnimplemented  = 3
	msgDebug          = 4
	msgServiceRequest = 5
	msgServiceAccept  = 6
	msgKexInit        = 20
	msgNewKeys        = 21

	// RFC 8308 extension negotiation: sent by the server at most once,
	// immediately after its first SSH_MSG_NEWKEYS, iff the client
	// advertised ext-info-c in its KEXINIT kex_algorithms.
	msgExtInfo = 7

	// Key exchange method specific, 30-49.
	msgKexDHInit    = 30
	msgKexDHReply   = 31
	msgKexECDHInit  = 30
	msgKexECDHReply = 31

	// Connection protocol, reused by muxchannel but defined here since
	// the transport demuxes on these numbers to decide what belongs to
	// the connection layer vs the transport layer during rekey queuing.
	msgGlobalRequest      = 80
	msgRequestSuccess     = 81
	msgRequestFailure     = 82
	msgChannelOpen        = 90
	msgChannelOpenConfirm = 91
	msgChannelOpenFailure = 92
	msgChannelWindowAdj   = 93
	msgChannelData        = 94
	msgChannelExtData     = 95
	msgChannelEOF         = 96
	msgChannelClose       = 97
	msgChannelRequest     = 98
	msgChannelSuccess     = 99
	msgChannelFailure     = 100
)

// Disconnect reason codes, RFC 4250 section 4.2.2.
const (
	DisconnectHostNotAllowedToConnect = 1
	DisconnectProtocolError           = 2
	DisconnectKeyExchangeFailed       = 3
	DisconnectReserved                = 4
	DisconnectMACError                = 5
	DisconnectCompressionError        = 6
	DisconnectServiceNotAvailable     = 7
	DisconnectProtocolVersionNotSup   = 8
	DisconnectHostKeyNotVerifiable    = 9
	DisconnectConnectionLost          = 10
	DisconnectByApplication           = 11
	DisconnectTooManyConnections      = 12
	DisconnectAuthCancelledByUser     = 13
	DisconnectNoMoreAuthMethods       = 14
	DisconnectIllegalUserName         = 15
)

type kexInitMsg struct {
	Cookie                  [16]byte
	KexAlgos                []string
	ServerHostKeyAlgos      []string
	CiphersClientServer     []string
	CiphersServerClient     []string
	MACsClientServer        []string
	MACsServerClient        []string
	CompressionClientServer []string
	CompressionServerClient []string
	LanguagesClientServer   []string
	LanguagesServerClient   []string
	FirstKexFollows         bool
	Reserved                uint32
}

func (m *kexInitMsg) marshal() []byte {
	b := []byte{msgKexInit}
	b = append(b, m.Cookie[:]...)
	b = wire.PutNameList(b, m.KexAlgos)
	b = wire.PutNameList(b, m.ServerHostKeyAlgos)
	b = wire.PutNameList(b, m.CiphersClientServer)
	b = wire.PutNameList(b, m.CiphersServerClient)
	b = wire.PutNameList(b, m.MACsClientServer)
	b = wire.PutNameList(b, m.MACsServerClient)
	b = wire.PutNameList(b, m.CompressionClientServer)
	b = wire.PutNameList(b, m.CompressionServerClient)
	b = wire.PutNameList(b, m.LanguagesClientServer)
	b = wire.PutNameList(b, m.LanguagesServerClient)
	b = wire.PutBool(b, m.FirstKexFollows)
	b = wire.PutUint32(b, 0)
	return b
}

func parseKexInitMsg(b []byte) *kexInitMsg {
	m := &kexInitMsg{}
	b = b[1:] // message type
	copy(m.Cookie[:], b[:16])
	b = b[16:]
	m.KexAlgos, b = wire.NameList(b)
	m.ServerHostKeyAlgos, b = wire.NameList(b)
	m.CiphersClientServer, b = wire.NameList(b)
	m.CiphersServerClient, b = wire.NameList(b)
	m.MACsClientServer, b = wire.NameList(b)
	m.MACsServerClient, b = wire.NameList(b)
	m.CompressionClientServer, b = wire.NameList(b)
	m.CompressionServerClient, b = wire.NameList(b)
	m.LanguagesClientServer, b = wire.NameList(b)
	m.LanguagesServerClient, b = wire.NameList(b)
	m.FirstKexFollows, b = wire.Bool(b)
	return m
}

type kexECDHInitMsg struct {
	ClientPubKey []byte
}

func (m *kexECDHInitMsg) marshal() []byte {
	b := []byte{msgKexECDHInit}
	return wire.PutBytes(b, m.ClientPubKey)
}

type kexECDHReplyMsg struct {
	HostKey         []byte
	EphemeralPubKey []byte
	Signature       []byte
}

func parseKexECDHReplyMsg(b []byte) *kexECDHReplyMsg {
	m := &kexECDHReplyMsg{}
	b = b[1:]
	m.HostKey, b = wire.Bytes(b)
	m.EphemeralPubKey, b = wire.Bytes(b)
	m.Signature, _ = wire.Bytes(b)
	return m
}

type kexDHInitMsg struct {
	X *big.Int
}

func (m *kexDHInitMsg) marshal() []byte {
	b := []byte{msgKexDHInit}
	return wire.PutMPInt(b, m.X)
}

type kexDHReplyMsg struct {
	HostKey   []byte
	Y         *big.Int
	Signature []byte
}

func parseKexDHReplyMsg(b []byte) *kexDHReplyMsg {
	m := &kexDHReplyMsg{}
	b = b[1:]
	m.HostKey, b = wire.Bytes(b)
	m.Y, b = wire.MPInt(b)
	m.Signature, _ = wire.Bytes(b)
	return m
}

type disconnectMsg struct {
	Reason      uint32
	Description string
}

func (m *disconnectMsg) marshal() []byte {
	b := []byte{msgDisconnect}
	b = wire.PutUint32(b, m.Reason)
	b = wire.PutString(b, m.Description)
	b = wire.PutString(b, "")
	return b
}

func serviceRequestMsg(name string) []byte {
	b := []byte{msgServiceRequest}
	return wire.PutString(b, name)
}

// parseExtInfoServerSigAlgs picks the server-sig-algs extension out of a
// SSH_MSG_EXT_INFO payload (RFC 8308 section 3.1) and returns its
// name-list, ignoring every extension this client has no use for.
func parseExtInfoServerSigAlgs(b []byte) []string {
	b = b[1:] // message type
	count, b := wire.Uint32(b)
	for i := uint32(0); i < count; i++ {
		if len(b) == 0 {
			break
		}
		var name, value string
		name, b = wire.String(b)
		value, b = wire.String(b)
		if name == "server-sig-algs" {
			return splitNameList(value)
		}
	}
	return nil
}

// splitNameList splits an already-decoded SSH name-list string, the same
// comma convention wire.NameList applies to a length-prefixed field.
func splitNameList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}
