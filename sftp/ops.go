package sftp

import (
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/richardjennings/sshkit/errs"
)

func (c *Client) resolve(p string) string {
	if p == "" {
		p = "."
	}
	if !path.IsAbs(p) {
		p = path.Join(c.cwd, p)
	}
	return path.Clean(p)
}

// Chdir changes the client's notion of the current directory. With path
// canonicalization off this never touches the wire; with it on, the
// resolved path is sent through REALPATH and the server's answer becomes
// the new directory. Chdir does not check that the target exists or is
// a directory: that surfaces the next time the path is used, matching
// how shell sftp clients treat cd.
func (c *Client) Chdir(dir string) error {
	resolved := c.resolve(dir)
	if c.canonicalizePaths {
		real, err := c.RealPath(resolved)
		if err != nil {
			return err
		}
		resolved = real
	}
	c.cwd = resolved
	return nil
}

// Pwd returns the client's current directory.
func (c *Client) Pwd() string { return c.cwd }

// RealPath resolves p via SSH_FXP_REALPATH.
func (c *Client) RealPath(p string) (string, error) {
	id := c.nextRequestID()
	reply, err := c.request(id, &realpathReq{Header: Header{ID: id}, Path: p})
	if err != nil {
		return "", err
	}
	nr, ok := reply.(*nameResp)
	if !ok {
		return "", asStatus("sftp.RealPath", reply)
	}
	if len(nr.Entries) == 0 {
		return "", errs.NewError(errs.KindProtocolError, "sftp.RealPath", fmt.Errorf("empty NAME reply"))
	}
	return nr.Entries[0].Filename, nil
}

func (c *Client) maybeCanonicalize(p string) (string, error) {
	p = c.resolve(p)
	if !c.canonicalizePaths {
		return p, nil
	}
	return c.RealPath(p)
}

// Stat returns the target attributes, following symlinks (SSH_FXP_STAT).
func (c *Client) Stat(p string) (Attrs, error) {
	p, err := c.maybeCanonicalize(p)
	if err != nil {
		return Attrs{}, err
	}
	if a, ok := c.cache.get(p); ok {
		return a, nil
	}
	id := c.nextRequestID()
	reply, err := c.request(id, &statReq{Header: Header{ID: id}, Path: p})
	if err != nil {
		return Attrs{}, err
	}
	ar, ok := reply.(*attrsResp)
	if !ok {
		return Attrs{}, asStatus("sftp.Stat", reply)
	}
	return ar.Attrs, nil
}

// LStat returns the target attributes without following symlinks
// (SSH_FXP_LSTAT).
func (c *Client) LStat(p string) (Attrs, error) {
	p, err := c.maybeCanonicalize(p)
	if err != nil {
		return Attrs{}, err
	}
	id := c.nextRequestID()
	reply, err := c.request(id, &lstatReq{Header: Header{ID: id}, Path: p})
	if err != nil {
		return Attrs{}, err
	}
	ar, ok := reply.(*attrsResp)
	if !ok {
		return Attrs{}, asStatus("sftp.LStat", reply)
	}
	return ar.Attrs, nil
}

// Size returns the target's size in bytes.
func (c *Client) Size(p string) (uint64, error) {
	a, err := c.Stat(p)
	if err != nil {
		return 0, err
	}
	return a.Size, nil
}

// FileType returns the target's FileMode type classification.
func (c *Client) FileType(p string) (FileMode, error) {
	a, err := c.Stat(p)
	if err != nil {
		return 0, err
	}
	return a.Permissions, nil
}

// FileExists reports whether the target exists, per spec section 6's
// "false on any error rather than propagating it" contract for this
// specific predicate.
func (c *Client) FileExists(p string) bool {
	_, err := c.Stat(p)
	return err == nil
}

// IsDir reports whether the target exists and is a directory.
func (c *Client) IsDir(p string) bool {
	a, err := c.Stat(p)
	return err == nil && a.Permissions.IsDir()
}

// IsFile reports whether the target exists and is a regular file.
func (c *Client) IsFile(p string) bool {
	a, err := c.Stat(p)
	return err == nil && a.Permissions.IsRegular()
}

// ReadLink resolves a symbolic link's target (SSH_FXP_READLINK).
func (c *Client) ReadLink(p string) (string, error) {
	p = c.resolve(p)
	id := c.nextRequestID()
	reply, err := c.request(id, &readlinkReq{Header: Header{ID: id}, Path: p})
	if err != nil {
		return "", err
	}
	nr, ok := reply.(*nameResp)
	if !ok {
		return "", asStatus("sftp.ReadLink", reply)
	}
	if len(nr.Entries) == 0 {
		return "", errs.NewError(errs.KindProtocolError, "sftp.ReadLink", fmt.Errorf("empty NAME reply"))
	}
	return nr.Entries[0].Filename, nil
}

// Symlink creates a symbolic link at linkPath pointing at targetPath
// (SSH_FXP_SYMLINK).
func (c *Client) Symlink(targetPath, linkPath string) error {
	linkPath = c.resolve(linkPath)
	id := c.nextRequestID()
	reply, err := c.request(id, &symlinkReq{Header: Header{ID: id}, LinkPath: linkPath, TargetPath: targetPath})
	if err != nil {
		return err
	}
	c.cache.invalidate(linkPath)
	return asStatus("sftp.Symlink", reply)
}

// Rename moves oldPath to newPath (SSH_FXP_RENAME).
func (c *Client) Rename(oldPath, newPath string) error {
	oldPath = c.resolve(oldPath)
	newPath = c.resolve(newPath)
	id := c.nextRequestID()
	reply, err := c.request(id, &renameReq{Header: Header{ID: id}, OldPath: oldPath, NewPath: newPath})
	if err != nil {
		return err
	}
	c.cache.invalidate(oldPath)
	c.cache.invalidate(newPath)
	return asStatus("sftp.Rename", reply)
}

// Remove deletes a single remote file (SSH_FXP_REMOVE).
func (c *Client) Remove(p string) error {
	p = c.resolve(p)
	id := c.nextRequestID()
	reply, err := c.request(id, &removeReq{Header: Header{ID: id}, Filename: p})
	if err != nil {
		return err
	}
	c.cache.invalidate(p)
	return asStatus("sftp.Remove", reply)
}

// Delete removes p, recursing into directories first (spec section 6's
// delete, generalizing Remove/RmDir into one recursive operation).
func (c *Client) Delete(p string) error {
	p = c.resolve(p)
	a, err := c.LStat(p)
	if err != nil {
		return err
	}
	if !a.Permissions.IsDir() {
		return c.Remove(p)
	}
	entries, err := c.RawList(p)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Filename == "." || e.Filename == ".." {
			continue
		}
		if err := c.Delete(path.Join(p, e.Filename)); err != nil {
			return err
		}
	}
	return c.RmDir(p)
}

// MkDir creates a single directory (SSH_FXP_MKDIR).
func (c *Client) MkDir(p string, perm FileMode) error {
	p = c.resolve(p)
	id := c.nextRequestID()
	attrs := Attrs{HavePermissions: true, Permissions: perm}
	reply, err := c.request(id, &mkdirReq{Header: Header{ID: id}, Path: p, Attrs: attrs})
	if err != nil {
		return err
	}
	c.cache.invalidate(p)
	return asStatus("sftp.MkDir", reply)
}

// MkDirRecursive creates p and any missing parent directories, spec
// section 6's mkdir recursive mode.
func (c *Client) MkDirRecursive(p string, perm FileMode) error {
	p = c.resolve(p)
	if c.IsDir(p) {
		return nil
	}
	parent := path.Dir(p)
	if parent != p && parent != "." && parent != "/" {
		if err := c.MkDirRecursive(parent, perm); err != nil {
			return err
		}
	}
	err := c.MkDir(p, perm)
	if err != nil && errs.KindOf(err) != errs.KindSftpFailure {
		return err
	}
	return nil
}

// RmDir removes an empty directory (SSH_FXP_RMDIR).
func (c *Client) RmDir(p string) error {
	p = c.resolve(p)
	id := c.nextRequestID()
	reply, err := c.request(id, &rmdirReq{Header: Header{ID: id}, Path: p})
	if err != nil {
		return err
	}
	c.cache.invalidateTree(p)
	return asStatus("sftp.RmDir", reply)
}

// Touch creates an empty file at p if absent, or updates its
// modification time if present (spec section 6, touch).
func (c *Client) Touch(p string) error {
	p = c.resolve(p)
	if !c.FileExists(p) {
		h, err := c.openHandle(p, FXF_WRITE|FXF_CREAT, Attrs{})
		if err != nil {
			return err
		}
		return c.closeHandle(h)
	}
	now := uint32(time.Now().Unix())
	return c.SetStat(p, Attrs{HaveACModTime: true, ATime: now, MTime: now})
}

// SetStat applies attribute changes to p (SSH_FXP_SETSTAT), used for
// chmod/chown/truncate/touch.
func (c *Client) SetStat(p string, a Attrs) error {
	p = c.resolve(p)
	id := c.nextRequestID()
	reply, err := c.request(id, &setstatReq{Header: Header{ID: id}, Path: p, Attrs: a})
	if err != nil {
		return err
	}
	c.cache.invalidate(p)
	return asStatus("sftp.SetStat", reply)
}

// Chmod sets p's permission bits.
func (c *Client) Chmod(p string, mode FileMode) error {
	return c.SetStat(p, Attrs{HavePermissions: true, Permissions: mode})
}

// ChmodRecursive applies mode to p and, if p is a directory, every
// descendant (spec section 6, chmod recursive).
func (c *Client) ChmodRecursive(p string, mode FileMode) error {
	p = c.resolve(p)
	if err := c.Chmod(p, mode); err != nil {
		return err
	}
	a, err := c.LStat(p)
	if err != nil {
		return err
	}
	if !a.Permissions.IsDir() {
		return nil
	}
	entries, err := c.RawList(p)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Filename == "." || e.Filename == ".." {
			continue
		}
		if err := c.ChmodRecursive(path.Join(p, e.Filename), mode); err != nil {
			return err
		}
	}
	return nil
}

// Chown sets p's owning uid, preserving the existing gid.
func (c *Client) Chown(p string, uid uint32) error {
	a, err := c.Stat(p)
	if err != nil {
		return err
	}
	return c.SetStat(p, Attrs{HaveUIDGID: true, UID: uid, GID: a.GID})
}

// Chgrp sets p's owning gid, preserving the existing uid.
func (c *Client) Chgrp(p string, gid uint32) error {
	a, err := c.Stat(p)
	if err != nil {
		return err
	}
	return c.SetStat(p, Attrs{HaveUIDGID: true, UID: a.UID, GID: gid})
}

// Truncate sets p's size, per SSH_FXP_SETSTAT with ATTR_SIZE.
func (c *Client) Truncate(p string, size uint64) error {
	return c.SetStat(p, Attrs{HaveSize: true, Size: size})
}

// NList returns the sorted base names of p's directory entries (spec
// section 6, nlist), skipping "." and "..".
func (c *Client) NList(p string) ([]string, error) {
	entries, err := c.RawList(p)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Filename == "." || e.Filename == ".." {
			continue
		}
		names = append(names, e.Filename)
	}
	sort.Strings(names)
	return names, nil
}

// RawList returns p's directory entries sorted by filename, with "." and
// ".." included (spec section 6, rawlist).
func (c *Client) RawList(p string) ([]nameEntry, error) {
	p, err := c.maybeCanonicalize(p)
	if err != nil {
		return nil, err
	}
	h, err := c.openDirHandle(p)
	if err != nil {
		return nil, err
	}
	defer c.closeHandle(h)

	var all []nameEntry
	for {
		id := c.nextRequestID()
		reply, err := c.request(id, &readdirReq{Header: Header{ID: id}, Handle: h})
		if err != nil {
			return nil, err
		}
		if s, ok := reply.(*statusResp); ok {
			if s.Code == fxEOF {
				break
			}
			return nil, statusErr("sftp.RawList", s)
		}
		nr, ok := reply.(*nameResp)
		if !ok {
			return nil, errs.NewError(errs.KindProtocolError, "sftp.RawList", fmt.Errorf("unexpected reply %T", reply))
		}
		all = append(all, nr.Entries...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Filename < all[j].Filename })
	c.cache.putListing(p, all)
	return all, nil
}

func (c *Client) openDirHandle(p string) (string, error) {
	id := c.nextRequestID()
	reply, err := c.request(id, &opendirReq{Header: Header{ID: id}, Path: p})
	if err != nil {
		return "", err
	}
	hr, ok := reply.(*handleResp)
	if !ok {
		return "", asStatus("sftp.openDirHandle", reply)
	}
	return hr.Handle, nil
}

func (c *Client) openHandle(p string, pflags uint32, attrs Attrs) (string, error) {
	p = c.resolve(p)
	id := c.nextRequestID()
	reply, err := c.request(id, &openReq{Header: Header{ID: id}, Filename: p, Pflags: pflags, Attrs: attrs})
	if err != nil {
		return "", err
	}
	hr, ok := reply.(*handleResp)
	if !ok {
		return "", asStatus("sftp.openHandle", reply)
	}
	c.cache.invalidate(p)
	return hr.Handle, nil
}

func (c *Client) closeHandle(h string) error {
	id := c.nextRequestID()
	reply, err := c.request(id, &closeReq{Header: Header{ID: id}, Handle: h})
	if err != nil {
		return err
	}
	return asStatus("sftp.closeHandle", reply)
}
