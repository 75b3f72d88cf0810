package sftp

// Extended issues a vendor SSH_FXP_EXTENDED request and returns the raw
// SSH_FXP_EXTENDED_REPLY payload verbatim, or the status error if the
// server answered with SSH_FXP_STATUS instead (spec's supplemented
// passthrough for extensions this client has no typed support for, e.g.
// statvfs@openssh.com).
func (c *Client) Extended(request string, data []byte) ([]byte, error) {
	id := c.nextRequestID()
	reply, err := c.request(id, &extendedReq{Header: Header{ID: id}, Request: request, Data: data})
	if err != nil {
		return nil, err
	}
	switch v := reply.(type) {
	case *extendedReplyResp:
		return v.Data, nil
	default:
		return nil, asStatus("sftp.Extended", reply)
	}
}
