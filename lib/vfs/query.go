package vfs

import (
	"path"
	"strings"
	"time"
)

// Exists reports whether p resolves to a node.
func (fs *FS) Exists(p string) bool {
	_, _, err := fs.walk(fs.ResolvePath(p), true)
	return err == nil
}

// Stat returns metadata for p, following a final symlink.
func (fs *FS) Stat(p string) (Stat, bool) {
	return fs.stat(p, true)
}

// Lstat is Stat without following a final symlink.
func (fs *FS) Lstat(p string) (Stat, bool) {
	return fs.stat(p, false)
}

func (fs *FS) stat(p string, follow bool) (Stat, bool) {
	abs := fs.ResolvePath(p)
	n, _, err := fs.walk(abs, follow)
	if err != nil {
		return Stat{}, false
	}
	return fs.statNode(abs, n), true
}

func (fs *FS) statNode(abs string, n *Node) Stat {
	st := Stat{
		Path:  abs,
		Name:  path.Base(abs),
		Type:  n.Type,
		Mode:  n.Mode,
		UID:   n.UID,
		GID:   n.GID,
		Owner: fs.OwnerName(n.UID),
		Group: fs.GroupName(n.GID),
		Size:  n.Size(),
		Links: n.Links(),
		Mtime: time.Unix(n.Mtime, 0).In(fs.Now().Location()),
		Atime: time.Unix(n.Atime, 0).In(fs.Now().Location()),
	}
	if n.Type == TypeSymlink {
		st.Target = n.Content
	}
	return st
}

// ReadDir returns the sorted child names of a directory.
func (fs *FS) ReadDir(p string) ([]string, error) {
	n, _, err := fs.walk(fs.ResolvePath(p), true)
	if err != nil {
		return nil, pathErr("readdir", p, err)
	}
	if n.Type != TypeDir {
		return nil, pathErr("readdir", p, ErrNotDir)
	}
	return sortedNames(n), nil
}

// List renders directory listings the way ls sees them. Listing a file yields
// a single entry; Recursive descends into subdirectories depth-first.
func (fs *FS) List(p string, opts ListOptions) ([]Listing, error) {
	abs := fs.ResolvePath(p)
	n, _, err := fs.walk(abs, true)
	if err != nil {
		return nil, pathErr("ls", p, err)
	}
	if n.Type != TypeDir || opts.Directory {
		self, _, _ := fs.walk(abs, false)
		return []Listing{{Entries: []Entry{fs.entry(p, self, opts)}}}, nil
	}
	var out []Listing
	fs.listDir(p, abs, n, opts, &out)
	return out, nil
}

func (fs *FS) listDir(display, abs string, n *Node, opts ListOptions, out *[]Listing) {
	listing := Listing{Path: display}
	if opts.All {
		parent, _ := fs.Lookup(path.Dir(abs))
		if parent == nil {
			parent = n
		}
		listing.Entries = append(listing.Entries, fs.entry(".", n, opts), fs.entry("..", parent, opts))
	}
	var subdirs []string
	for _, name := range sortedNames(n) {
		if !opts.All && strings.HasPrefix(name, ".") {
			continue
		}
		child := n.Children[name]
		listing.Entries = append(listing.Entries, fs.entry(name, child, opts))
		if child.Type == TypeDir {
			subdirs = append(subdirs, name)
		}
	}
	*out = append(*out, listing)
	if !opts.Recursive {
		return
	}
	n.Atime = fs.now()
	for _, name := range subdirs {
		fs.listDir(joinDisplay(display, name), path.Join(abs, name), n.Children[name], opts, out)
	}
}

func joinDisplay(dir, name string) string {
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}

func (fs *FS) entry(name string, n *Node, opts ListOptions) Entry {
	e := Entry{
		Name:  name,
		Type:  n.Type,
		Mode:  ModeString(n.Type, n.Mode),
		Links: n.Links(),
		Owner: fs.OwnerName(n.UID),
		Group: fs.GroupName(n.GID),
		Size:  n.Size(),
		Mtime: n.Mtime,
		Date:  fs.formatDate(n.Mtime),
	}
	if n.Type == TypeSymlink {
		e.Target = n.Content
	}
	if opts.Human {
		e.Human = HumanSize(e.Size)
	}
	return e
}

// formatDate follows ls: recent timestamps show the time of day, older ones
// the year.
func (fs *FS) formatDate(ts int64) string {
	now := fs.Now()
	t := time.Unix(ts, 0).In(now.Location())
	if now.Sub(t) > 182*24*time.Hour || t.After(now.Add(time.Hour)) {
		return t.Format("Jan _2  2006")
	}
	return t.Format("Jan _2 15:04")
}

// Du sums the disk usage under p.
func (fs *FS) Du(p string) (Usage, error) {
	all, err := fs.DuAll(p)
	if err != nil {
		return Usage{}, err
	}
	return all[len(all)-1], nil
}

// DuAll reports usage for every directory under p in post-order, the order du
// prints them. The final element is p itself. Paths are shown relative to how
// p was spelled.
func (fs *FS) DuAll(p string) ([]Usage, error) {
	abs := fs.ResolvePath(p)
	n, _, err := fs.walk(abs, true)
	if err != nil {
		return nil, pathErr("du", p, err)
	}
	var out []Usage
	fs.du(p, n, &out)
	return out, nil
}

func (fs *FS) du(display string, n *Node, out *[]Usage) Usage {
	if n.Type != TypeDir {
		u := Usage{Path: display, Bytes: n.Size(), Blocks: fileBlocks(n.Size())}
		*out = append(*out, u)
		return u
	}
	total := Usage{Path: display, Blocks: blockSize / 1024}
	for _, name := range sortedNames(n) {
		child := n.Children[name]
		if child.Type == TypeDir {
			sub := fs.du(joinDisplay(display, name), child, out)
			total.Bytes += sub.Bytes
			total.Blocks += sub.Blocks
			continue
		}
		total.Bytes += child.Size()
		total.Blocks += fileBlocks(child.Size())
	}
	*out = append(*out, total)
	return total
}

func fileBlocks(size int64) int64 {
	if size == 0 {
		return 0
	}
	return (size + blockSize - 1) / blockSize * (blockSize / 1024)
}

// Find returns absolute paths under root (root included) matching opts, in
// depth-first sorted order.
func (fs *FS) Find(root string, opts FindOptions) ([]string, error) {
	abs := fs.ResolvePath(root)
	n, _, err := fs.walk(abs, true)
	if err != nil {
		return nil, pathErr("find", root, err)
	}
	var out []string
	fs.find(abs, n, 0, opts, &out)
	return out, nil
}

func (fs *FS) find(abs string, n *Node, depth int, opts FindOptions, out *[]string) {
	if opts.MaxDepth != 0 && depth > max(opts.MaxDepth, 0) {
		return
	}
	if depth >= opts.MinDepth && matchFind(abs, n, opts) {
		*out = append(*out, abs)
	}
	if n.Type != TypeDir {
		return
	}
	for _, name := range sortedNames(n) {
		fs.find(path.Join(abs, name), n.Children[name], depth+1, opts, out)
	}
}

func matchFind(abs string, n *Node, opts FindOptions) bool {
	switch opts.Type {
	case "f":
		if n.Type != TypeFile {
			return false
		}
	case "d":
		if n.Type != TypeDir {
			return false
		}
	case "l":
		if n.Type != TypeSymlink {
			return false
		}
	}
	if opts.Name == "" {
		return true
	}
	pattern, name := opts.Name, path.Base(abs)
	if opts.IgnoreCase {
		pattern, name = strings.ToLower(pattern), strings.ToLower(name)
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// Walk visits p and everything below it in sorted depth-first order. Returning
// false from fn skips the children of a directory.
func (fs *FS) Walk(p string, fn func(st Stat) bool) error {
	abs := fs.ResolvePath(p)
	n, _, err := fs.walk(abs, true)
	if err != nil {
		return pathErr("walk", p, err)
	}
	fs.walkTree(abs, n, fn)
	return nil
}

func (fs *FS) walkTree(abs string, n *Node, fn func(st Stat) bool) {
	if !fn(fs.statNode(abs, n)) || n.Type != TypeDir {
		return
	}
	for _, name := range sortedNames(n) {
		fs.walkTree(path.Join(abs, name), n.Children[name], fn)
	}
}

// NodeCount returns the number of nodes in the tree.
func (fs *FS) NodeCount() int { return fs.nodes }
