package muxchannel

import "github.com/richardjennings/sshkit/internal/wire"

// Message type codes, RFC 4254.
const (
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

// Channel open failure reason codes, RFC 4254 section 5.1.
const (
	OpenFailureAdministrativelyProhibited = 1
	OpenFailureConnectFailed              = 2
	OpenFailureUnknownChannelType         = 3
	OpenFailureResourceShortage           = 4
)

func channelOpenMsg(chanType string, localID, window, maxPacket uint32, extra []byte) []byte {
	b := []byte{msgChannelOpen}
	b = wire.PutString(b, chanType)
	b = wire.PutUint32(b, localID)
	b = wire.PutUint32(b, window)
	b = wire.PutUint32(b, maxPacket)
	return append(b, extra...)
}

type channelOpenConfirmMsg struct {
	LocalID      uint32
	RemoteID     uint32
	RemoteWindow uint32
	RemoteMaxPkt uint32
}

func parseChannelOpenConfirm(b []byte) channelOpenConfirmMsg {
	var m channelOpenConfirmMsg
	b = b[1:]
	m.LocalID, b = wire.Uint32(b)
	m.RemoteID, b = wire.Uint32(b)
	m.RemoteWindow, b = wire.Uint32(b)
	m.RemoteMaxPkt, _ = wire.Uint32(b)
	return m
}

type channelOpenFailureMsg struct {
	LocalID     uint32
	ReasonCode  uint32
	Description string
}

func parseChannelOpenFailure(b []byte) channelOpenFailureMsg {
	var m channelOpenFailureMsg
	b = b[1:]
	m.LocalID, b = wire.Uint32(b)
	m.ReasonCode, b = wire.Uint32(b)
	m.Description, _ = wire.String(b)
	return m
}

func channelDataMsg(remoteID uint32, data []byte) []byte {
	b := []byte{msgChannelData}
	b = wire.PutUint32(b, remoteID)
	return wire.PutBytes(b, data)
}

func channelExtDataMsg(remoteID, dataType uint32, data []byte) []byte {
	b := []byte{msgChannelExtData}
	b = wire.PutUint32(b, remoteID)
	b = wire.PutUint32(b, dataType)
	return wire.PutBytes(b, data)
}

func channelWindowAdjustMsg(remoteID, add uint32) []byte {
	b := []byte{msgChannelWindowAdj}
	b = wire.PutUint32(b, remoteID)
	return wire.PutUint32(b, add)
}

func channelEOFMsg(remoteID uint32) []byte {
	b := []byte{msgChannelEOF}
	return wire.PutUint32(b, remoteID)
}

func channelCloseMsg(remoteID uint32) []byte {
	b := []byte{msgChannelClose}
	return wire.PutUint32(b, remoteID)
}

func channelRequestMsg(remoteID uint32, requestType string, wantReply bool, extra []byte) []byte {
	b := []byte{msgChannelRequest}
	b = wire.PutUint32(b, remoteID)
	b = wire.PutString(b, requestType)
	b = wire.PutBool(b, wantReply)
	return append(b, extra...)
}

type channelRequestMsgIn struct {
	LocalID     uint32
	RequestType string
	WantReply   bool
	Extra       []byte
}

func parseChannelRequest(b []byte) channelRequestMsgIn {
	var m channelRequestMsgIn
	b = b[1:]
	m.LocalID, b = wire.Uint32(b)
	m.RequestType, b = wire.String(b)
	m.WantReply, b = wire.Bool(b)
	m.Extra = b
	return m
}

func globalRequestMsg(name string, wantReply bool, extra []byte) []byte {
	b := []byte{msgGlobalRequest}
	b = wire.PutString(b, name)
	b = wire.PutBool(b, wantReply)
	return append(b, extra...)
}
