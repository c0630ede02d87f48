// Package vfs implements the in-memory filesystem behind a lab session: a
// tree of nodes with Unix-style metadata, a passwd/group registry and the
// session's working directory and identity.
//
// No operation panics. Fallible operations return a *PathError wrapping one of
// the sentinel kinds in errors.go.
package vfs

import (
	"path"
	"sort"
	"strings"
	"time"
)

const (
	DefaultHostname = "linux-lab"
	DefaultUser     = "student"

	blockSize      = 4096
	maxSymlinkHops = 8
)

// Options configures a filesystem. Zero values select the defaults.
type Options struct {
	Hostname    string
	User        string
	Clock       func() time.Time
	MaxFileSize int64
	MaxNodes    int
}

// FS is one session's filesystem.
type FS struct {
	opts     Options
	hostname string
	root     *Node
	cwd      string
	uid      int
	users    map[int]*User
	groups   map[int]*Group
	nodes    int
}

// New builds a filesystem populated with the canonical baseline tree.
func New(opts Options) *FS {
	if opts.Hostname == "" {
		opts.Hostname = DefaultHostname
	}
	if opts.User == "" {
		opts.User = DefaultUser
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	fs := &FS{opts: opts}
	fs.buildBaseline()
	return fs
}

// Reset discards the whole tree, rebuilds the baseline and then runs setup on
// it. The receiver is only updated once the new tree is complete.
func (fs *FS) Reset(setup func(*FS)) {
	fresh := &FS{opts: fs.opts}
	fresh.buildBaseline()
	if setup != nil {
		setup(fresh)
	}
	*fs = *fresh
}

func (fs *FS) now() int64 { return fs.opts.Clock().Unix() }

// Now returns the filesystem clock's current time.
func (fs *FS) Now() time.Time { return fs.opts.Clock() }

// Hostname returns the host name shown in the prompt.
func (fs *FS) Hostname() string { return fs.hostname }

// SetHostname changes the host name and keeps /etc/hostname in step.
func (fs *FS) SetHostname(name string) {
	fs.hostname = name
	if n, ok := fs.Lookup("/etc/hostname"); ok && n.Type == TypeFile {
		n.Content = name + "\n"
		n.Mtime = fs.now()
	}
}

// Cwd returns the absolute working directory.
func (fs *FS) Cwd() string { return fs.cwd }

// Chdir changes the working directory.
func (fs *FS) Chdir(p string) error {
	abs := fs.ResolvePath(p)
	n, _, err := fs.walk(abs, true)
	if err != nil {
		return pathErr("cd", p, err)
	}
	if n.Type != TypeDir {
		return pathErr("cd", p, ErrNotDir)
	}
	fs.cwd = abs
	return nil
}

// UID returns the current identity.
func (fs *FS) UID() int { return fs.uid }

// SetUID switches the current identity.
func (fs *FS) SetUID(uid int) error {
	if _, ok := fs.users[uid]; !ok {
		return pathErr("setuid", "", ErrUnknownUser)
	}
	fs.uid = uid
	return nil
}

// CurrentUser returns a copy of the current identity's account.
func (fs *FS) CurrentUser() User {
	if u, ok := fs.users[fs.uid]; ok {
		return cloneUser(u)
	}
	return User{UID: fs.uid, GID: fs.uid, Name: "?", Home: "/"}
}

// Home returns the current user's home directory.
func (fs *FS) Home() string { return fs.CurrentUser().Home }

// Prompt renders "user@host:cwd$" (or "#" for root) with the home directory
// abbreviated to "~".
func (fs *FS) Prompt() string {
	u := fs.CurrentUser()
	dir := fs.cwd
	if u.Home != "/" && (dir == u.Home || strings.HasPrefix(dir, u.Home+"/")) {
		dir = "~" + strings.TrimPrefix(dir, u.Home)
	}
	sigil := "$"
	if fs.uid == 0 {
		sigil = "#"
	}
	return u.Name + "@" + fs.hostname + ":" + dir + sigil
}

// ResolvePath turns a user-supplied path into a clean absolute path, handling
// ".", "..", "~" and "~user" against the working directory. It never touches
// the tree.
func (fs *FS) ResolvePath(p string) string {
	if p == "" {
		return fs.cwd
	}
	if strings.HasPrefix(p, "~") {
		name, rest := p[1:], ""
		if i := strings.IndexByte(name, '/'); i >= 0 {
			name, rest = name[:i], name[i:]
		}
		if home, ok := fs.homeOf(name); ok {
			p = home + rest
		}
	}
	if !strings.HasPrefix(p, "/") {
		p = path.Join(fs.cwd, p)
	}
	return path.Clean(p)
}

func (fs *FS) homeOf(name string) (string, bool) {
	if name == "" {
		return fs.Home(), true
	}
	if u, ok := fs.LookupUser(name); ok {
		return u.Home, true
	}
	return "", false
}

// Lookup walks the tree to an absolute path, following symlinks.
func (fs *FS) Lookup(abs string) (*Node, bool) {
	n, _, err := fs.walk(path.Clean("/"+abs), true)
	return n, err == nil
}

// walk resolves abs to a node. Symlinks in intermediate components are always
// followed; the final component is followed only when followLast is set.
func (fs *FS) walk(abs string, followLast bool) (*Node, string, error) {
	for hop := 0; hop <= maxSymlinkHops; hop++ {
		n, p, next, err := fs.walkOnce(abs, followLast)
		if next == "" {
			return n, p, err
		}
		abs = next
	}
	return nil, "", ErrLoop
}

func (fs *FS) walkOnce(abs string, followLast bool) (*Node, string, string, error) {
	segs := splitPath(abs)
	cur, curPath := fs.root, "/"
	for i, seg := range segs {
		if cur.Type != TypeDir {
			return nil, "", "", ErrNotDir
		}
		child, ok := cur.Children[seg]
		if !ok {
			return nil, "", "", ErrNotExist
		}
		last := i == len(segs)-1
		if child.Type == TypeSymlink && (!last || followLast) {
			target := child.Content
			if !strings.HasPrefix(target, "/") {
				target = path.Join(curPath, target)
			}
			next := path.Clean(path.Join(append([]string{target}, segs[i+1:]...)...))
			return nil, "", next, nil
		}
		cur, curPath = child, path.Join(curPath, seg)
	}
	return cur, curPath, "", nil
}

func splitPath(abs string) []string {
	trimmed := strings.Trim(abs, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// parentDir returns the directory that holds abs and the final name.
func (fs *FS) parentDir(abs string) (*Node, string, error) {
	if abs == "/" {
		return nil, "", ErrInvalid
	}
	dir, name := path.Split(abs)
	parent, _, err := fs.walk(path.Clean(dir), true)
	if err != nil {
		return nil, "", err
	}
	if parent.Type != TypeDir {
		return nil, "", ErrNotDir
	}
	return parent, name, nil
}

func (fs *FS) primaryGID() int {
	if u, ok := fs.users[fs.uid]; ok {
		return u.GID
	}
	return fs.uid
}

func (fs *FS) newNode(t NodeType, content string, mode uint32) *Node {
	ts := fs.now()
	n := &Node{
		Type:    t,
		Content: content,
		Mode:    mode & 0o777,
		UID:     fs.uid,
		GID:     fs.primaryGID(),
		Mtime:   ts,
		Atime:   ts,
	}
	if t == TypeDir {
		n.Children = make(map[string]*Node)
	}
	return n
}

// attach links child into parent under name, enforcing the node quota.
func (fs *FS) attach(parent *Node, name string, child *Node) error {
	count := countNodes(child)
	if old, ok := parent.Children[name]; ok {
		count -= countNodes(old)
	}
	if fs.opts.MaxNodes > 0 && fs.nodes+count > fs.opts.MaxNodes {
		return ErrNoSpace
	}
	parent.Children[name] = child
	parent.Mtime = fs.now()
	fs.nodes += count
	return nil
}

func (fs *FS) detach(parent *Node, name string) {
	if child, ok := parent.Children[name]; ok {
		fs.nodes -= countNodes(child)
		delete(parent.Children, name)
		parent.Mtime = fs.now()
	}
}

func countNodes(n *Node) int {
	total := 1
	for _, c := range n.Children {
		total += countNodes(c)
	}
	return total
}

func sortedNames(n *Node) []string {
	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := strings.ToLower(strings.TrimPrefix(names[i], ".")), strings.ToLower(strings.TrimPrefix(names[j], "."))
		if a == b {
			return names[i] < names[j]
		}
		return a < b
	})
	return names
}
