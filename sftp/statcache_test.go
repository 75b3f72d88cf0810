package sftp

import "testing"

func TestStatCacheGetRequiresDirListed(t *testing.T) {
	c := newStatCache()
	c.entries["/a/b"] = Attrs{HaveSize: true, Size: 5}
	if _, ok := c.get("/a/b"); ok {
		t.Fatal("expected no hit before /a was listed")
	}
	c.listedDirs["/a"] = struct{}{}
	a, ok := c.get("/a/b")
	if !ok || a.Size != 5 {
		t.Fatalf("got %+v, %v", a, ok)
	}
}

func TestStatCachePutListingSeedsChildrenAndMarksListed(t *testing.T) {
	c := newStatCache()
	c.putListing("/a", []nameEntry{
		{Filename: ".", Attrs: Attrs{}},
		{Filename: "..", Attrs: Attrs{}},
		{Filename: "b", Attrs: Attrs{HaveSize: true, Size: 5}},
	})
	a, ok := c.get("/a/b")
	if !ok || a.Size != 5 {
		t.Fatalf("got %+v, %v", a, ok)
	}
	if _, ok := c.get("/a/."); ok {
		t.Fatal("dot entries should not be cached")
	}
}

func TestStatCacheInvalidateClearsEntryAndUnlistsParent(t *testing.T) {
	c := newStatCache()
	c.putListing("/a", []nameEntry{{Filename: "b", Attrs: Attrs{HaveSize: true, Size: 5}}})
	c.invalidate("/a/b")
	if _, ok := c.get("/a/b"); ok {
		t.Fatal("expected entry invalidated")
	}
	c.putListing("/a", []nameEntry{{Filename: "b", Attrs: Attrs{HaveSize: true, Size: 5}}})
	if _, ok := c.get("/a/b"); !ok {
		t.Fatal("expected re-listing to restore a hit")
	}
}

func TestStatCacheInvalidateTreeClearsDescendantsAndListings(t *testing.T) {
	c := newStatCache()
	c.putListing("/a", []nameEntry{{Filename: "b", Attrs: Attrs{}}})
	c.putListing("/a/b", []nameEntry{{Filename: "c", Attrs: Attrs{}}})
	c.putListing("/other", []nameEntry{{Filename: "x", Attrs: Attrs{}}})
	c.invalidateTree("/a")
	if _, ok := c.get("/a/b"); ok {
		t.Fatal("expected /a/b invalidated")
	}
	if _, ok := c.get("/a/b/c"); ok {
		t.Fatal("expected /a/b/c invalidated")
	}
	if _, ok := c.get("/other/x"); !ok {
		t.Fatal("unrelated listing should survive")
	}
}
