package sftp

import (
	"bytes"
	"testing"

	"github.com/richardjennings/sshkit/internal/wire"
)

func TestAttrsRoundTrip(t *testing.T) {
	a := Attrs{
		HaveSize:        true,
		Size:            123,
		HaveUIDGID:      true,
		UID:             1000,
		GID:             1000,
		HavePermissions: true,
		Permissions:     0644,
		HaveACModTime:   true,
		ATime:           111,
		MTime:           222,
		Extended:        []ExtendedAttr{{Type: "foo", Data: "bar"}},
	}
	b := putAttrs(nil, a)
	got, rest := parseAttrs(b)
	if len(rest) != 0 {
		t.Fatalf("leftover bytes: %d", len(rest))
	}
	if got.Size != a.Size || got.UID != a.UID || got.Permissions != a.Permissions ||
		got.ATime != a.ATime || len(got.Extended) != 1 || got.Extended[0].Type != "foo" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestOpenReqWritePacketRoundTrip(t *testing.T) {
	req := &openReq{Header: Header{ID: 5}, Filename: "/a/b", Pflags: FXF_READ}
	var buf bytes.Buffer
	if err := writePacket(&buf, req); err != nil {
		t.Fatal(err)
	}

	// server-side decode: strip framing manually, like readPacket would
	// for a request type (which message() only parses for replies).
	payload := buf.Bytes()[5:]
	id, rest := wire.Uint32(payload)
	if id != 5 {
		t.Fatalf("got id %d", id)
	}
	name, _ := wire.String(rest)
	if name != "/a/b" {
		t.Fatalf("got filename %q", name)
	}
}

func TestStatusRespUnmarshal(t *testing.T) {
	s := &statusResp{}
	b := []byte{0, 0, 0, 9} // id = 9
	b = append(b, 0, 0, 0, byte(fxNoSuchFile))
	b = append(b, 0, 0, 0, 3, 'n', 'o', 'x')
	b = append(b, 0, 0, 0, 0)
	if err := s.UnmarshalBinary(b); err != nil {
		t.Fatal(err)
	}
	if s.ID != 9 || s.Code != fxNoSuchFile || s.Message != "nox" {
		t.Fatalf("got %+v", s)
	}
}

func TestNameRespUnmarshalMultipleEntries(t *testing.T) {
	var b []byte
	b = append(b, 0, 0, 0, 1) // id
	b = append(b, 0, 0, 0, 2) // count
	for _, name := range []string{"a", "b"} {
		b = append(b, 0, 0, 0, byte(len(name)))
		b = append(b, name...)
		b = append(b, 0, 0, 0, byte(len(name))) // longname, reuse same text
		b = append(b, name...)
		b = append(b, 0, 0, 0, 0) // no attr flags
	}
	n := &nameResp{}
	if err := n.UnmarshalBinary(b); err != nil {
		t.Fatal(err)
	}
	if len(n.Entries) != 2 || n.Entries[0].Filename != "a" || n.Entries[1].Filename != "b" {
		t.Fatalf("got %+v", n.Entries)
	}
}
