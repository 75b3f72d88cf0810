// Package userauth implements RFC 4252 user authentication: the
// none/password/keyboard-interactive/publickey methods and the "smart
// multi-factor" state machine from spec section 9 that continues
// transparently through partial successes. The signed-data and request
// body construction follows massiveart-go.crypto/ssh/common.go's
// buildDataSignedForAuth and userAuthRequestMsg shape; the method
// fallback loop itself is this package's own generalization, adapted
// onto this module's Transport.
package userauth

import (
	"fmt"

	"github.com/richardjennings/sshkit/errs"
	"github.com/richardjennings/sshkit/hostkey"
	"github.com/richardjennings/sshkit/internal/wire"
	"github.com/richardjennings/sshkit/transport"
)

const serviceName = "ssh-userauth"
const connectionService = "ssh-connection"

// Message type codes, RFC 4252 section 2.
const (
	msgUserAuthRequest     = 50
	msgUserAuthFailure     = 51
	msgUserAuthSuccess     = 52
	msgUserAuthBanner      = 53
	msgUserAuthPasswdReq   = 60 // also PK_OK and INFO_REQUEST, disambiguated by method
	msgUserAuthInfoRequest = 60
	msgUserAuthInfoResp    = 61
)

// State is the "smart multi-factor" state machine from spec section 9.
type State int

const (
	StateNeedMethod State = iota
	StateAwaiting
	StatePartialSuccess
	StateDone
	StateExhausted
)

// Signer abstracts the publickey method's signing collaborator: a
// caller-supplied private key plus the algorithm name it signs under.
type Signer interface {
	PublicKeyAlgo() string
	PublicKeyBlob() []byte
	Sign(data []byte) (sigAlgo string, sig []byte, err error)
}

// KeyboardInteractiveResponder answers one INFO_REQUEST prompt bundle.
type KeyboardInteractiveResponder func(name, instruction string, prompts []string, echo []bool) ([]string, error)

// Credentials bundles every method the caller is willing to try; Login
// attempts them in method-discovery order and continues through partial
// successes without surfacing intermediate AuthFailed to the caller.
type Credentials struct {
	Password              string
	NewPasswordOnChangeReq string
	KeyboardInteractive    KeyboardInteractiveResponder
	Signers                []Signer
}

const maxKeyboardInteractiveRounds = 5

// Session drives one user's authentication over an established Transport.
type Session struct {
	t        *transport.Transport
	user     string
	state    State
	done     bool
	methods  []string // methods the server says can still continue
	serverSigAlgs []string
}

// NewSession requests the ssh-userauth service and returns a Session
// ready to attempt methods.
func NewSession(t *transport.Transport, user string) (*Session, error) {
	s := &Session{t: t, user: user, state: StateNeedMethod}
	if err := s.requestService(); err != nil {
		return nil, err
	}
	// The SERVICE_ACCEPT read above is the first Transport.Recv call
	// after NEWKEYS, so any EXT_INFO the server sent has already been
	// consumed transparently and is available here.
	s.serverSigAlgs = t.ServerSigAlgs()
	return s, nil
}

func (s *Session) requestService() error {
	if err := s.t.Send(serviceRequestPayload(serviceName)); err != nil {
		return err
	}
	reply, err := s.t.Recv()
	if err != nil {
		return err
	}
	if len(reply) == 0 || reply[0] != 6 { // SSH_MSG_SERVICE_ACCEPT
		return errs.NewError(errs.KindProtocolError, "userauth.NewSession",
			fmt.Errorf("expected SERVICE_ACCEPT, got type %d", firstByte(reply)))
	}
	return nil
}

func serviceRequestPayload(name string) []byte {
	b := []byte{5} // SSH_MSG_SERVICE_REQUEST
	return wire.PutString(b, name)
}

func firstByte(b []byte) int {
	if len(b) == 0 {
		return -1
	}
	return int(b[0])
}

// Login runs the full authentication sequence: probes `none`, then walks
// the server's "methods that can continue" list, trying whichever
// credentials the caller supplied, continuing transparently through
// USERAUTH_FAILURE.partial_success until Done or Exhausted.
func (s *Session) Login(creds Credentials) error {
	if err := s.tryNone(); err != nil {
		return err
	}
	if s.done {
		return nil
	}

	for {
		if s.state == StateExhausted {
			return errs.NewError(errs.KindAuthExhausted, "userauth.Login",
				fmt.Errorf("no remaining methods, last offered: %v", s.methods))
		}
		method, ok := s.pickMethod(creds)
		if !ok {
			return errs.NewError(errs.KindAuthExhausted, "userauth.Login",
				fmt.Errorf("no caller-supplied credentials for remaining methods %v", s.methods))
		}
		var err error
		switch method {
		case "password":
			err = s.tryPassword(creds)
		case "keyboard-interactive":
			err = s.tryKeyboardInteractive(creds)
		case "publickey":
			err = s.tryPublicKey(creds)
		default:
			s.removeMethod(method)
			continue
		}
		if err != nil {
			return err
		}
		if s.done {
			return nil
		}
	}
}

func (s *Session) pickMethod(creds Credentials) (string, bool) {
	for _, m := range s.methods {
		switch m {
		case "password":
			if creds.Password != "" {
				return m, true
			}
		case "keyboard-interactive":
			if creds.KeyboardInteractive != nil {
				return m, true
			}
		case "publickey":
			if len(creds.Signers) > 0 {
				return m, true
			}
		}
	}
	return "", false
}

func (s *Session) removeMethod(method string) {
	out := s.methods[:0]
	for _, m := range s.methods {
		if m != method {
			out = append(out, m)
		}
	}
	s.methods = out
}

// tryNone sends the initial "none" request used purely for method
// discovery (spec section 4.2); servers answer with either immediate
// success (rare, but handled) or the method list.
func (s *Session) tryNone() error {
	req := buildRequest(s.user, connectionService, "none", nil)
	if err := s.t.Send(req); err != nil {
		return err
	}
	return s.readAuthReply()
}

func (s *Session) tryPassword(creds Credentials) error {
	body := wire.PutBool(nil, false)
	body = wire.PutString(body, creds.Password)
	req := buildRequest(s.user, connectionService, "password", body)
	if err := s.t.Send(req); err != nil {
		return err
	}
	reply, err := s.t.Recv()
	if err != nil {
		return err
	}
	if len(reply) > 0 && reply[0] == 60 {
		// USERAUTH_PASSWD_CHANGEREQ
		if creds.NewPasswordOnChangeReq == "" {
			return errs.NewError(errs.KindPasswordChangeRequired, "userauth.tryPassword", nil)
		}
		body = wire.PutBool(nil, true)
		body = wire.PutString(body, creds.Password)
		body = wire.PutString(body, creds.NewPasswordOnChangeReq)
		req = buildRequest(s.user, connectionService, "password", body)
		if err := s.t.Send(req); err != nil {
			return err
		}
		return s.readAuthReply()
	}
	return s.handleAuthReply(reply)
}

func (s *Session) tryKeyboardInteractive(creds Credentials) error {
	body := wire.PutString(nil, "")
	body = wire.PutString(body, "")
	req := buildRequest(s.user, connectionService, "keyboard-interactive", body)
	if err := s.t.Send(req); err != nil {
		return err
	}
	for round := 0; ; round++ {
		if round >= maxKeyboardInteractiveRounds {
			return errs.NewError(errs.KindAuthLimitExceeded, "userauth.tryKeyboardInteractive", nil)
		}
		reply, err := s.t.Recv()
		if err != nil {
			return err
		}
		if len(reply) == 0 {
			return errs.NewError(errs.KindProtocolError, "userauth.tryKeyboardInteractive", nil)
		}
		if reply[0] != msgUserAuthInfoRequest {
			return s.handleAuthReply(reply)
		}
		name, rest := wire.String(reply[1:])
		instruction, rest := wire.String(rest)
		_, rest = wire.String(rest) // lang tag, unused
		numPrompts, rest := wire.Uint32(rest)
		prompts := make([]string, numPrompts)
		echo := make([]bool, numPrompts)
		for i := range prompts {
			prompts[i], rest = wire.String(rest)
			echo[i], rest = wire.Bool(rest)
		}
		var answers []string
		if numPrompts > 0 {
			answers, err = creds.KeyboardInteractive(name, instruction, prompts, echo)
			if err != nil {
				return errs.NewError(errs.KindAuthFailed, "userauth.tryKeyboardInteractive", err)
			}
		}
		resp := []byte{msgUserAuthInfoResp}
		resp = wire.PutUint32(resp, uint32(len(answers)))
		for _, a := range answers {
			resp = wire.PutString(resp, a)
		}
		if err := s.t.Send(resp); err != nil {
			return err
		}
	}
}

// tryPublicKey implements the two-phase protocol from spec section 4.2:
// a signature-less probe followed by a signed request once the server
// confirms the key via USERAUTH_PK_OK.
func (s *Session) tryPublicKey(creds Credentials) error {
	for _, signer := range creds.Signers {
		algo := s.preferredSigAlgo(signer)
		probe := buildRequest(s.user, connectionService, "publickey", publicKeyProbeBody(algo, signer.PublicKeyBlob()))
		if err := s.t.Send(probe); err != nil {
			return err
		}
		reply, err := s.t.Recv()
		if err != nil {
			return err
		}
		if len(reply) == 0 || reply[0] != 60 { // not PK_OK
			if err := s.handleAuthReply(reply); err != nil {
				return err
			}
			if s.done {
				return nil
			}
			continue
		}

		signedData := buildDataSignedForAuth(s.t.SessionID(), s.user, connectionService, algo, signer.PublicKeyBlob())
		sigAlgo, sig, err := signer.Sign(signedData)
		if err != nil {
			return errs.NewError(errs.KindAuthFailed, "userauth.tryPublicKey", err)
		}
		sigBlob := wire.PutBytes(wire.PutString(nil, sigAlgo), sig)
		body := wire.PutBool(nil, true)
		body = wire.PutString(body, algo)
		body = wire.PutBytes(body, signer.PublicKeyBlob())
		body = wire.PutBytes(body, sigBlob)
		req := buildRequest(s.user, connectionService, "publickey", body)
		if err := s.t.Send(req); err != nil {
			return err
		}
		if err := s.readAuthReply(); err != nil {
			return err
		}
		if s.done {
			return nil
		}
	}
	return nil
}

// preferredSigAlgo picks rsa-sha2-512 over rsa-sha2-256 over ssh-rsa when
// the key is RSA and the server advertised server-sig-algs (spec section
// 9's open question, resolved in favor of 512 per the source's bias).
func (s *Session) preferredSigAlgo(signer Signer) string {
	algo := signer.PublicKeyAlgo()
	if algo != hostkey.AlgoRSA || len(s.serverSigAlgs) == 0 {
		return algo
	}
	for _, want := range []string{hostkey.AlgoRSASHA512, hostkey.AlgoRSASHA256} {
		for _, offered := range s.serverSigAlgs {
			if offered == want {
				return want
			}
		}
	}
	return algo
}

func publicKeyProbeBody(algo string, blob []byte) []byte {
	body := wire.PutBool(nil, false)
	body = wire.PutString(body, algo)
	return wire.PutBytes(body, blob)
}

// buildDataSignedForAuth constructs the payload signed by a publickey
// auth request, grounded in massiveart-go.crypto/ssh's buildDataSignedForAuth.
func buildDataSignedForAuth(sessionID []byte, user, service, algo string, pubKeyBlob []byte) []byte {
	data := wire.PutBytes(nil, sessionID)
	data = append(data, msgUserAuthRequest)
	data = wire.PutString(data, user)
	data = wire.PutString(data, service)
	data = wire.PutString(data, "publickey")
	data = wire.PutBool(data, true)
	data = wire.PutString(data, algo)
	data = wire.PutBytes(data, pubKeyBlob)
	return data
}

func buildRequest(user, service, method string, methodBody []byte) []byte {
	b := []byte{msgUserAuthRequest}
	b = wire.PutString(b, user)
	b = wire.PutString(b, service)
	b = wire.PutString(b, method)
	return append(b, methodBody...)
}

func (s *Session) readAuthReply() error {
	reply, err := s.t.Recv()
	if err != nil {
		return err
	}
	return s.handleAuthReply(reply)
}

func (s *Session) handleAuthReply(reply []byte) error {
	if len(reply) == 0 {
		return errs.NewError(errs.KindProtocolError, "userauth.handleAuthReply", nil)
	}
	switch reply[0] {
	case msgUserAuthSuccess:
		s.done = true
		s.state = StateDone
		return nil
	case msgUserAuthBanner:
		// Ignore the banner text and read the next message.
		return s.readAuthReply()
	case msgUserAuthFailure:
		methods, rest := wire.NameList(reply[1:])
		partial, _ := wire.Bool(rest)
		s.methods = methods
		if partial {
			s.state = StatePartialSuccess
		} else if len(methods) == 0 {
			s.state = StateExhausted
		} else {
			s.state = StateNeedMethod
		}
		return nil
	default:
		return errs.NewError(errs.KindProtocolError, "userauth.handleAuthReply",
			fmt.Errorf("unexpected message type %d during auth", reply[0]))
	}
}

// SetServerSigAlgs overrides the server-sig-algs extension values NewSession
// already pulled from the transport's EXT_INFO. Exported for tests that
// drive a Session directly over a fake transport with no real handshake.
func (s *Session) SetServerSigAlgs(algos []string) { s.serverSigAlgs = algos }

// IsAuthenticated reports whether the last Login call succeeded.
func (s *Session) IsAuthenticated() bool { return s.done }

// RemainingAuthMethods returns the last server-advertised "methods that
// can continue" list (spec section 6, "remaining_auth_methods").
func (s *Session) RemainingAuthMethods() []string { return s.methods }

// State returns the session's current position in the smart multi-factor
// state machine.
func (s *Session) State() State { return s.state }
