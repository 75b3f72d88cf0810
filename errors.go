package sshkit

import "github.com/richardjennings/sshkit/errs"

// ErrorKind and Error are re-exported from errs so that every layer
// (transport, userauth, muxchannel, sftp, hostkey) can depend on the
// shared taxonomy without importing the root package and creating an
// import cycle.
type (
	ErrorKind = errs.ErrorKind
	Error     = errs.Error
)

const (
	KindUnknown                   = errs.KindUnknown
	KindConnectionClosed          = errs.KindConnectionClosed
	KindInvalidPacketLength       = errs.KindInvalidPacketLength
	KindProtocolVersion           = errs.KindProtocolVersion
	KindProtocolError             = errs.KindProtocolError
	KindKeyExchangeFailed         = errs.KindKeyExchangeFailed
	KindMacError                  = errs.KindMacError
	KindHostKeyRejected           = errs.KindHostKeyRejected
	KindAuthFailed                = errs.KindAuthFailed
	KindAuthExhausted             = errs.KindAuthExhausted
	KindPasswordChangeRequired    = errs.KindPasswordChangeRequired
	KindNoPasswordProvided        = errs.KindNoPasswordProvided
	KindAuthLimitExceeded         = errs.KindAuthLimitExceeded
	KindChannelOpenFailed         = errs.KindChannelOpenFailed
	KindChannelClosedUnexpectedly = errs.KindChannelClosedUnexpectedly
	KindWindowExhausted           = errs.KindWindowExhausted
	KindNoSuchFile                = errs.KindNoSuchFile
	KindPermissionDenied          = errs.KindPermissionDenied
	KindOpUnsupported             = errs.KindOpUnsupported
	KindBadMessage                = errs.KindBadMessage
	KindSftpFailure               = errs.KindSftpFailure
	KindTimeout                   = errs.KindTimeout
	KindIO                        = errs.KindIO
	KindInvalidArgument           = errs.KindInvalidArgument
	KindUnsupportedAlgorithm      = errs.KindUnsupportedAlgorithm
	KindInsufficientSetup         = errs.KindInsufficientSetup
)

var (
	NewError = errs.NewError
	KindOf   = errs.KindOf
)
