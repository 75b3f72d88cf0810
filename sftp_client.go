package sshkit

import (
	"github.com/richardjennings/sshkit/muxchannel"
	"github.com/richardjennings/sshkit/sftp"
)

// SFTPClient is the sftp subsystem client returned by Client.OpenSFTP,
// re-exported so callers never need to import the sftp package directly
// for the common case (spec section 6's full sftp operation surface).
type SFTPClient = sftp.Client

func newSFTPClient(ch *muxchannel.Channel) (*SFTPClient, error) {
	return sftp.Open(ch)
}
