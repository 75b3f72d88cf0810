// Package sshkit ties transport, userauth, muxchannel, and sftp together
// behind the callable surface spec section 6 specifies: Connect, login,
// exec/shell sessions, and sftp access, all multiplexed over one
// transport.Transport the way usftp's ssh.go dials one *ssh.Client and
// layers everything else on top of it.
package sshkit

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/richardjennings/sshkit/hostkey"
	"github.com/richardjennings/sshkit/muxchannel"
	"github.com/richardjennings/sshkit/transport"
	"github.com/richardjennings/sshkit/userauth"
)

// HostKeyCallback approves or rejects the server's host key, presented
// once per connection after key exchange (spec section 6, "connect").
type HostKeyCallback = transport.HostKeyCallback

// InsecureIgnoreHostKey accepts any host key. Intended for tests and
// throwaway connections only; production callers should pin a known
// fingerprint with FixedHostKey.
func InsecureIgnoreHostKey() HostKeyCallback {
	return func(string, *hostkey.Key) error { return nil }
}

// FixedHostKey returns a HostKeyCallback that accepts only a host key
// whose hostkey.Fingerprint matches want exactly.
func FixedHostKey(want string) HostKeyCallback {
	return func(_ string, key *hostkey.Key) error {
		if hostkey.Fingerprint(key.Blob) != want {
			return NewError(KindHostKeyRejected, "sshkit.FixedHostKey", nil)
		}
		return nil
	}
}

// Config bundles Connect-time options.
type Config struct {
	Algorithms      transport.Algorithms
	HostKeyCallback HostKeyCallback
	Timeout         time.Duration
	Log             *logrus.Entry
}

// Client is one authenticated connection to a server, the root of the
// callable surface spec section 6 names.
type Client struct {
	t    *transport.Transport
	auth *userauth.Session
	mux  *muxchannel.Mux

	user string
}

// Connect dials addr, completes key exchange, and returns a Client ready
// for Login. network is typically "tcp".
func Connect(network, addr string, cfg Config) (*Client, error) {
	t, err := transport.Dial(network, addr, transport.Config{
		Algorithms:      cfg.Algorithms,
		HostKeyCallback: cfg.HostKeyCallback,
		Timeout:         cfg.Timeout,
		Log:             cfg.Log,
	})
	if err != nil {
		return nil, err
	}
	c := &Client{t: t, mux: muxchannel.New(t)}
	go c.mux.Serve()
	return c, nil
}

// Disconnect closes the underlying connection.
func (c *Client) Disconnect() error {
	return c.t.Close()
}

// GetServerPublicHostKey returns the host key presented during the
// handshake.
func (c *Client) GetServerPublicHostKey() *hostkey.Key { return c.t.HostKey() }

// GetServerIdentification returns the raw "SSH-2.0-..." banner the
// server sent.
func (c *Client) GetServerIdentification() string { return c.t.ServerIdentification() }

// GetNegotiatedAlgorithms returns the algorithm set chosen during the
// most recent key exchange.
func (c *Client) GetNegotiatedAlgorithms() transport.Negotiated { return c.t.Negotiated() }

// Login authenticates as user with the supplied credentials, walking
// every method the server accepts via userauth's smart multi-factor
// state machine (spec section 6, "login").
func (c *Client) Login(user string, creds userauth.Credentials) error {
	s, err := userauth.NewSession(c.t, user)
	if err != nil {
		return err
	}
	c.user = user
	c.auth = s
	return s.Login(creds)
}

// IsAuthenticated reports whether Login succeeded.
func (c *Client) IsAuthenticated() bool {
	return c.auth != nil && c.auth.IsAuthenticated()
}

// RemainingAuthMethods returns the last server-advertised list of
// methods that can still continue.
func (c *Client) RemainingAuthMethods() []string {
	if c.auth == nil {
		return nil
	}
	return c.auth.RemainingAuthMethods()
}

// OpenSession opens a new "session" channel for exec/shell/subsystem use
// (spec section 6's exec/enable_pty/set_env surface).
func (c *Client) OpenSession() (*Session, error) {
	ch, err := c.mux.OpenChannel("session", nil)
	if err != nil {
		return nil, err
	}
	return &Session{ch: ch}, nil
}

// ExecResult is the outcome of a one-shot Client.Exec call.
type ExecResult struct {
	Stdout     []byte
	Stderr     []byte
	ExitStatus *int
}

// Exec opens a fresh session channel, runs command, and collects its
// stdout/stderr until the channel closes (spec section 4.3, "Exec").
// Every call opens its own channel, so a server that closes the
// previous exec's channel mid-stream never prevents the next one: if
// the close happens before an exit-status arrives, this call's
// ExecResult.ExitStatus is simply nil and the output accumulated so far
// is still returned, exactly as spec section 8 scenario 6 requires.
// Callers that need an interactive or long-lived channel should use
// OpenSession directly instead.
func (c *Client) Exec(command string) (*ExecResult, error) {
	sess, err := c.OpenSession()
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	if err := sess.Exec(command); err != nil {
		return nil, err
	}

	type drained struct {
		data []byte
		err  error
	}
	stdoutCh := make(chan drained, 1)
	stderrCh := make(chan drained, 1)
	go func() {
		b, err := io.ReadAll(sess)
		stdoutCh <- drained{b, err}
	}()
	go func() {
		b, err := io.ReadAll(sess.Stderr())
		stderrCh <- drained{b, err}
	}()
	out := <-stdoutCh
	errOut := <-stderrCh
	if out.err != nil {
		return nil, out.err
	}
	if errOut.err != nil {
		return nil, errOut.err
	}
	return &ExecResult{Stdout: out.data, Stderr: errOut.data, ExitStatus: sess.GetExitStatus()}, nil
}

// OpenSFTP opens a "session" channel, starts the sftp subsystem on it,
// and returns a ready sftp.Client (spec section 6, "open_sftp").
func (c *Client) OpenSFTP() (*SFTPClient, error) {
	ch, err := c.mux.OpenChannel("session", nil)
	if err != nil {
		return nil, err
	}
	return newSFTPClient(ch)
}

// Keepalive sends a best-effort keepalive@openssh.com global request,
// useful for holding idle connections open through NAT/firewalls.
func (c *Client) Keepalive() error {
	_, _, err := c.mux.GlobalRequest("keepalive@openssh.com", true, nil)
	return err
}
