package vfs

import (
	"path"
	"strings"
)

const (
	defaultFileMode uint32 = 0o644
	defaultDirMode  uint32 = 0o755
)

// Mkdir creates a single directory. The parent must exist and the name must
// be free.
func (fs *FS) Mkdir(p string) error {
	abs := fs.ResolvePath(p)
	if _, _, err := fs.walk(abs, false); err == nil {
		return pathErr("mkdir", p, ErrExist)
	}
	parent, name, err := fs.parentDir(abs)
	if err != nil {
		return pathErr("mkdir", p, err)
	}
	if err := fs.attach(parent, name, fs.newNode(TypeDir, "", defaultDirMode)); err != nil {
		return pathErr("mkdir", p, err)
	}
	return nil
}

// MkdirAll creates every missing directory along p. Existing directories are
// left untouched, so calling it twice is the same as calling it once.
func (fs *FS) MkdirAll(p string) error {
	abs := fs.ResolvePath(p)
	cur, curPath := fs.root, "/"
	segs := splitPath(abs)
	for i, seg := range segs {
		child, ok := cur.Children[seg]
		if !ok {
			child = fs.newNode(TypeDir, "", defaultDirMode)
			if err := fs.attach(cur, seg, child); err != nil {
				return pathErr("mkdir", p, err)
			}
		}
		curPath = path.Join(curPath, seg)
		if child.Type == TypeSymlink {
			resolved, _, err := fs.walk(curPath, true)
			if err != nil {
				return pathErr("mkdir", p, err)
			}
			child = resolved
		}
		if child.Type != TypeDir {
			if i == len(segs)-1 {
				return pathErr("mkdir", p, ErrExist)
			}
			return pathErr("mkdir", p, ErrNotDir)
		}
		cur = child
	}
	return nil
}

// WriteFile creates or replaces a file. New files get mode 0644; replaced
// files keep their mode and owner.
func (fs *FS) WriteFile(p, content string) error {
	return fs.write("write", p, content, 0, false)
}

// WriteFileMode is WriteFile with an explicit permission for the file.
func (fs *FS) WriteFileMode(p, content string, mode uint32) error {
	return fs.write("write", p, content, mode|modeExplicit, false)
}

// AppendFile creates the file or appends to its content.
func (fs *FS) AppendFile(p, content string) error {
	return fs.write("append", p, content, 0, true)
}

// modeExplicit marks a caller-provided mode; it sits above the 9 permission bits.
const modeExplicit uint32 = 1 << 31

func (fs *FS) write(op, p, content string, mode uint32, appendTo bool) error {
	abs := fs.ResolvePath(p)
	n, _, err := fs.walk(abs, true)
	switch {
	case err == nil:
		if n.Type == TypeDir {
			return pathErr(op, p, ErrIsDir)
		}
		next := content
		if appendTo {
			next = n.Content + content
		}
		if fs.opts.MaxFileSize > 0 && int64(len(next)) > fs.opts.MaxFileSize {
			return pathErr(op, p, ErrTooLarge)
		}
		n.Content = next
		n.Mtime = fs.now()
		if mode&modeExplicit != 0 {
			n.Mode = mode & 0o777
		}
		return nil
	case err == ErrNotExist:
	default:
		return pathErr(op, p, err)
	}

	if fs.opts.MaxFileSize > 0 && int64(len(content)) > fs.opts.MaxFileSize {
		return pathErr(op, p, ErrTooLarge)
	}
	parent, name, err := fs.parentDir(abs)
	if err != nil {
		return pathErr(op, p, err)
	}
	perm := defaultFileMode
	if mode&modeExplicit != 0 {
		perm = mode & 0o777
	}
	if err := fs.attach(parent, name, fs.newNode(TypeFile, content, perm)); err != nil {
		return pathErr(op, p, err)
	}
	return nil
}

// ReadFile returns a file's content and bumps its access time.
func (fs *FS) ReadFile(p string) (string, error) {
	n, _, err := fs.walk(fs.ResolvePath(p), true)
	if err != nil {
		return "", pathErr("read", p, err)
	}
	if n.Type == TypeDir {
		return "", pathErr("read", p, ErrIsDir)
	}
	n.Atime = fs.now()
	return n.Content, nil
}

// Touch creates an empty file or refreshes the timestamps of an existing node.
func (fs *FS) Touch(p string) error {
	abs := fs.ResolvePath(p)
	if n, _, err := fs.walk(abs, true); err == nil {
		ts := fs.now()
		n.Mtime, n.Atime = ts, ts
		return nil
	}
	parent, name, err := fs.parentDir(abs)
	if err != nil {
		return pathErr("touch", p, err)
	}
	if err := fs.attach(parent, name, fs.newNode(TypeFile, "", defaultFileMode)); err != nil {
		return pathErr("touch", p, err)
	}
	return nil
}

// Remove deletes p. A non-empty directory is only removed when recursive is set.
func (fs *FS) Remove(p string, recursive bool) error {
	abs := fs.ResolvePath(p)
	if abs == "/" || dotName(p) {
		return pathErr("rm", p, ErrInvalid)
	}
	n, _, err := fs.walk(abs, false)
	if err != nil {
		return pathErr("rm", p, err)
	}
	if n.Type == TypeDir && len(n.Children) > 0 && !recursive {
		return pathErr("rm", p, ErrNotEmpty)
	}
	parent, name, err := fs.parentDir(abs)
	if err != nil {
		return pathErr("rm", p, err)
	}
	fs.detach(parent, name)
	return nil
}

// dotName reports whether the last component of p, as spelled, is . or ..
func dotName(p string) bool {
	b := strings.TrimRight(p, "/")
	if i := strings.LastIndex(b, "/"); i >= 0 {
		b = b[i+1:]
	}
	return b == "." || b == ".."
}

// within reports whether p is dir or lies below it.
func within(p, dir string) bool {
	return p == dir || dir == "/" || strings.HasPrefix(p, dir+"/")
}

// Rmdir removes an empty directory.
func (fs *FS) Rmdir(p string) error {
	abs := fs.ResolvePath(p)
	n, _, err := fs.walk(abs, false)
	if err != nil {
		return pathErr("rmdir", p, err)
	}
	if n.Type != TypeDir {
		return pathErr("rmdir", p, ErrNotDir)
	}
	if len(n.Children) > 0 {
		return pathErr("rmdir", p, ErrNotEmpty)
	}
	return fs.Remove(p, false)
}

// destination resolves where src lands for cp/mv: inside dst when dst is an
// existing directory, at dst otherwise.
func (fs *FS) destination(src, dst string) (string, error) {
	dstAbs := fs.ResolvePath(dst)
	if n, _, err := fs.walk(dstAbs, true); err == nil && n.Type == TypeDir {
		return path.Join(dstAbs, path.Base(fs.ResolvePath(src))), nil
	}
	if _, _, err := fs.parentDir(dstAbs); err != nil {
		return "", err
	}
	return dstAbs, nil
}

// Copy duplicates src to dst. Content and mode are preserved; the copy is
// owned by the current user and gets fresh timestamps. Directories need
// recursive.
func (fs *FS) Copy(src, dst string, recursive bool) error {
	srcAbs := fs.ResolvePath(src)
	n, _, err := fs.walk(srcAbs, true)
	if err != nil {
		return pathErr("cp", src, err)
	}
	if n.Type == TypeDir && !recursive {
		return pathErr("cp", src, ErrIsDir)
	}
	target, err := fs.destination(src, dst)
	if err != nil {
		return pathErr("cp", dst, err)
	}
	if within(target, srcAbs) {
		return pathErr("cp", src, ErrInvalid)
	}
	if existing, _, err := fs.walk(target, true); err == nil && existing.Type == TypeDir && n.Type != TypeDir {
		return pathErr("cp", dst, ErrIsDir)
	}
	parent, name, err := fs.parentDir(target)
	if err != nil {
		return pathErr("cp", dst, err)
	}
	if err := fs.attach(parent, name, fs.clone(n)); err != nil {
		return pathErr("cp", dst, err)
	}
	return nil
}

func (fs *FS) clone(n *Node) *Node {
	c := fs.newNode(n.Type, n.Content, n.Mode)
	for name, child := range n.Children {
		c.Children[name] = fs.clone(child)
	}
	return c
}

// Move renames src to dst, or into dst when dst is a directory. Metadata is
// preserved.
func (fs *FS) Move(src, dst string) error {
	srcAbs := fs.ResolvePath(src)
	if srcAbs == "/" {
		return pathErr("mv", src, ErrInvalid)
	}
	n, _, err := fs.walk(srcAbs, false)
	if err != nil {
		return pathErr("mv", src, err)
	}
	target, err := fs.destination(src, dst)
	if err != nil {
		return pathErr("mv", dst, err)
	}
	if within(target, srcAbs) {
		return pathErr("mv", src, ErrInvalid)
	}
	if existing, _, err := fs.walk(target, false); err == nil {
		if existing.Type == TypeDir && n.Type != TypeDir {
			return pathErr("mv", dst, ErrIsDir)
		}
		if existing.Type == TypeDir && len(existing.Children) > 0 {
			return pathErr("mv", dst, ErrNotEmpty)
		}
	}
	srcParent, srcName, err := fs.parentDir(srcAbs)
	if err != nil {
		return pathErr("mv", src, err)
	}
	dstParent, dstName, err := fs.parentDir(target)
	if err != nil {
		return pathErr("mv", dst, err)
	}
	fs.detach(srcParent, srcName)
	if err := fs.attach(dstParent, dstName, n); err != nil {
		_ = fs.attach(srcParent, srcName, n)
		return pathErr("mv", dst, err)
	}
	return nil
}

// Symlink creates link pointing at target. The target does not need to exist.
func (fs *FS) Symlink(target, link string) error {
	abs := fs.ResolvePath(link)
	if _, _, err := fs.walk(abs, false); err == nil {
		return pathErr("ln", link, ErrExist)
	}
	parent, name, err := fs.parentDir(abs)
	if err != nil {
		return pathErr("ln", link, err)
	}
	if err := fs.attach(parent, name, fs.newNode(TypeSymlink, target, 0o777)); err != nil {
		return pathErr("ln", link, err)
	}
	return nil
}

// Chmod applies a mode expression (octal such as "600" or symbolic such as
// "u+x") to p.
func (fs *FS) Chmod(p, expr string) error {
	n, _, err := fs.walk(fs.ResolvePath(p), true)
	if err != nil {
		return pathErr("chmod", p, err)
	}
	mode, err := ParseMode(expr, n.Mode, n.Type == TypeDir)
	if err != nil {
		return pathErr("chmod", expr, err)
	}
	n.Mode = mode
	return nil
}

// Chown changes owner and, when group is non-empty, group. An empty owner
// keeps the current owner.
func (fs *FS) Chown(p, owner, group string) error {
	var uid, gid = -1, -1
	if owner != "" {
		u, ok := fs.LookupUser(owner)
		if !ok {
			return pathErr("chown", owner, ErrUnknownUser)
		}
		uid = u.UID
	}
	if group != "" {
		g, ok := fs.LookupGroup(group)
		if !ok {
			return pathErr("chown", group, ErrUnknownGroup)
		}
		gid = g.GID
	}
	n, _, err := fs.walk(fs.ResolvePath(p), true)
	if err != nil {
		return pathErr("chown", p, err)
	}
	if uid >= 0 {
		n.UID = uid
	}
	if gid >= 0 {
		n.GID = gid
	}
	return nil
}
