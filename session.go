package sshkit

import (
	"fmt"
	"io"

	"github.com/richardjennings/sshkit/muxchannel"
)

// Session is one exec/shell/subsystem session channel (spec section 6's
// exec/read/write/enable_pty/set_env/get_exit_status surface).
type Session struct {
	ch    *muxchannel.Channel
	quiet bool
}

// EnablePTY requests a pseudo-terminal on this session before exec/shell.
func (s *Session) EnablePTY(term string, rows, cols uint32) error {
	ok, err := s.ch.RequestPTY(term, rows, cols)
	if err != nil {
		return err
	}
	if !ok {
		return NewError(KindChannelOpenFailed, "sshkit.Session.EnablePTY", fmt.Errorf("server refused pty-req"))
	}
	return nil
}

// SetEnv requests the server set one environment variable before exec/shell.
func (s *Session) SetEnv(key, value string) error {
	ok, err := s.ch.SetEnv(key, value)
	if err != nil {
		return err
	}
	if !ok && !s.quiet {
		return NewError(KindOpUnsupported, "sshkit.Session.SetEnv", fmt.Errorf("server refused env %q", key))
	}
	return nil
}

// EnableQuietMode suppresses SetEnv's refusal error, since many servers
// reject env requests outside an AcceptEnv allowlist without it being a
// meaningful failure for the caller (spec section 6, enable_quiet_mode).
func (s *Session) EnableQuietMode(on bool) { s.quiet = on }

// Exec starts command execution on this session.
func (s *Session) Exec(command string) error {
	ok, err := s.ch.Exec(command)
	if err != nil {
		return err
	}
	if !ok {
		return NewError(KindChannelOpenFailed, "sshkit.Session.Exec", fmt.Errorf("server rejected exec %q", command))
	}
	return nil
}

// Shell starts an interactive shell on this session.
func (s *Session) Shell() error {
	ok, err := s.ch.Shell()
	if err != nil {
		return err
	}
	if !ok {
		return NewError(KindChannelOpenFailed, "sshkit.Session.Shell", fmt.Errorf("server rejected shell request"))
	}
	return nil
}

// Read reads from the session's stdout stream.
func (s *Session) Read(p []byte) (int, error) { return s.ch.Stdout().Read(p) }

// Stderr returns the session's stderr stream.
func (s *Session) Stderr() io.Reader { return s.ch.Stderr() }

// Write writes to the session's stdin stream.
func (s *Session) Write(p []byte) (int, error) { return s.ch.Write(p) }

// CloseWrite signals EOF on stdin without closing the whole channel.
func (s *Session) CloseWrite() error { return s.ch.EOF() }

// GetExitStatus returns the process exit status reported by the server,
// or nil if the channel closed before one arrived (spec section 8,
// scenario 6).
func (s *Session) GetExitStatus() *int { return s.ch.ExitStatus() }

// Close ends the session channel.
func (s *Session) Close() error { return s.ch.Close() }
