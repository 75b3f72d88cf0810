package sftp

import "testing"

func TestWalkVisitsFlatDirectory(t *testing.T) {
	c, srv := newTestClient(t)
	go func() {
		msg, err := readPacket(srv.fromClient)
		if err != nil {
			return
		}
		req := msg.(*opendirReq)
		writePacket(srv.toClient, &handleResp{Header: Header{ID: req.ID}, Handle: "d1"})

		first := true
		for {
			m, err := readPacket(srv.fromClient)
			if err != nil {
				return
			}
			switch rr := m.(type) {
			case *readdirReq:
				if !first {
					writePacket(srv.toClient, &statusResp{Header: Header{ID: rr.ID}, Code: fxEOF})
					continue
				}
				first = false
				writePacket(srv.toClient, &nameResp{
					Header: Header{ID: rr.ID},
					Entries: []nameEntry{
						{Filename: ".", Attrs: Attrs{HavePermissions: true, Permissions: modeDir}},
						{Filename: "..", Attrs: Attrs{HavePermissions: true, Permissions: modeDir}},
						{Filename: "one.txt", Attrs: Attrs{HavePermissions: true, Permissions: modeRegular}},
						{Filename: "two.txt", Attrs: Attrs{HavePermissions: true, Permissions: modeRegular}},
					},
				})
			case *closeReq:
				writePacket(srv.toClient, &statusResp{Header: Header{ID: rr.ID}, Code: fxOK})
				return
			}
		}
	}()

	var visited []string
	err := Walk(c, "/home/u", VisitorFunc(func(dir string, e nameEntry) bool {
		visited = append(visited, dir+"/"+e.Filename)
		return true
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(visited) != 2 || visited[0] != "/home/u/one.txt" || visited[1] != "/home/u/two.txt" {
		t.Fatalf("got %v", visited)
	}
}

func TestUnseenEntryVisitor(t *testing.T) {
	v := NewUnseenEntryVisitor([]string{"/d/a"})
	v.Visit("/d", nameEntry{Filename: "a"})
	v.Visit("/d", nameEntry{Filename: "b"})
	found := v.Found()
	if len(found) != 1 || found[0] != "/d/b" {
		t.Fatalf("got %v", found)
	}
}
