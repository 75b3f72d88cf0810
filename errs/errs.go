package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind is the closed taxonomy of failure kinds from spec section 7.
// Callers switch on Kind rather than on error string contents or type
// assertions against a zoo of concrete error types.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota

	// Protocol
	KindConnectionClosed
	KindInvalidPacketLength
	KindProtocolVersion
	KindProtocolError
	KindKeyExchangeFailed
	KindMacError
	KindHostKeyRejected

	// Auth
	KindAuthFailed
	KindAuthExhausted
	KindPasswordChangeRequired
	KindNoPasswordProvided
	KindAuthLimitExceeded

	// Channel
	KindChannelOpenFailed
	KindChannelClosedUnexpectedly
	KindWindowExhausted

	// SFTP
	KindNoSuchFile
	KindPermissionDenied
	KindOpUnsupported
	KindBadMessage
	KindSftpFailure

	// Operational
	KindTimeout
	KindIO
	KindInvalidArgument
	KindUnsupportedAlgorithm
	KindInsufficientSetup
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectionClosed:
		return "ConnectionClosed"
	case KindInvalidPacketLength:
		return "InvalidPacketLength"
	case KindProtocolVersion:
		return "ProtocolVersion"
	case KindProtocolError:
		return "ProtocolError"
	case KindKeyExchangeFailed:
		return "KeyExchangeFailed"
	case KindMacError:
		return "MacError"
	case KindHostKeyRejected:
		return "HostKeyRejected"
	case KindAuthFailed:
		return "AuthFailed"
	case KindAuthExhausted:
		return "AuthExhausted"
	case KindPasswordChangeRequired:
		return "PasswordChangeRequired"
	case KindNoPasswordProvided:
		return "NoPasswordProvided"
	case KindAuthLimitExceeded:
		return "AuthLimitExceeded"
	case KindChannelOpenFailed:
		return "ChannelOpenFailed"
	case KindChannelClosedUnexpectedly:
		return "ChannelClosedUnexpectedly"
	case KindWindowExhausted:
		return "WindowExhausted"
	case KindNoSuchFile:
		return "NoSuchFile"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindOpUnsupported:
		return "OpUnsupported"
	case KindBadMessage:
		return "BadMessage"
	case KindSftpFailure:
		return "SftpFailure"
	case KindTimeout:
		return "Timeout"
	case KindIO:
		return "IO"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindUnsupportedAlgorithm:
		return "UnsupportedAlgorithm"
	case KindInsufficientSetup:
		return "InsufficientSetup"
	default:
		return "Unknown"
	}
}

// Error is the single error type surfaced across layer boundaries. Op
// names the operation that failed ("transport.recvPacket",
// "sftp.Stat"...); Err, when present, is the underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs an *Error, the sole constructor used by every layer
// so that Kind is never forgotten. The cause is captured with
// errors.WithStack so the point of failure survives being wrapped and
// passed up through layers, even though Error's own message stays terse.
func NewError(kind ErrorKind, op string, err error) *Error {
	if err != nil {
		err = errors.WithStack(err)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, else KindUnknown.
func KindOf(err error) ErrorKind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return KindUnknown
}
