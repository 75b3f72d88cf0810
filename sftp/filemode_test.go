package sftp

import "testing"

func TestFileModeString(t *testing.T) {
	cases := []struct {
		mode FileMode
		want string
	}{
		{modeDir | 0755, "drwxr-xr-x"},
		{modeRegular | 0644, "-rw-r--r--"},
		{modeSymlink | 0777, "lrwxrwxrwx"},
	}
	for _, c := range cases {
		if got := c.mode.String(); got != c.want {
			t.Errorf("FileMode(%o).String() = %q, want %q", uint32(c.mode), got, c.want)
		}
	}
}

func TestFileModeClassifiers(t *testing.T) {
	d := FileMode(modeDir | 0755)
	if !d.IsDir() || d.IsRegular() || d.IsSymlink() {
		t.Fatalf("directory mode misclassified: %+v", d)
	}
	f := FileMode(modeRegular | 0644)
	if !f.IsRegular() || f.IsDir() {
		t.Fatalf("regular mode misclassified: %+v", f)
	}
	if f.Perm() != 0644 {
		t.Fatalf("got perm %o", f.Perm())
	}
}
