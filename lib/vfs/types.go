package vfs

import "time"

// NodeType distinguishes regular files, directories and symbolic links.
type NodeType int

const (
	TypeFile NodeType = iota
	TypeDir
	TypeSymlink
)

func (t NodeType) String() string {
	switch t {
	case TypeDir:
		return "directory"
	case TypeSymlink:
		return "symbolic link"
	default:
		return "regular file"
	}
}

// Node is one entry of the tree. A directory exclusively owns its children.
// For symlinks Content holds the link target.
type Node struct {
	Type     NodeType
	Content  string
	Children map[string]*Node
	Mode     uint32
	UID      int
	GID      int
	Mtime    int64
	Atime    int64
}

// IsDir reports whether n is a directory.
func (n *Node) IsDir() bool { return n.Type == TypeDir }

// Size is derived from the payload so it can never drift from the content.
func (n *Node) Size() int64 {
	if n.Type == TypeDir {
		return blockSize
	}
	return int64(len(n.Content))
}

// Links is cosmetic: files report 1, directories 2 plus one per subdirectory.
func (n *Node) Links() int {
	if n.Type != TypeDir {
		return 1
	}
	links := 2
	for _, c := range n.Children {
		if c.Type == TypeDir {
			links++
		}
	}
	return links
}

// Stat is a read-only metadata snapshot of a node.
type Stat struct {
	Path   string
	Name   string
	Type   NodeType
	Mode   uint32
	UID    int
	GID    int
	Owner  string
	Group  string
	Size   int64
	Links  int
	Mtime  time.Time
	Atime  time.Time
	Target string
}

// Octal renders the permission bits as a 3-digit octal string ("644").
func (s Stat) Octal() string { return FormatOctal(s.Mode) }

// ModeString renders the ls-style permission string ("-rw-r--r--").
func (s Stat) ModeString() string { return ModeString(s.Type, s.Mode) }

// IsDir reports whether the stat describes a directory.
func (s Stat) IsDir() bool { return s.Type == TypeDir }

// Entry is one row of a directory listing.
type Entry struct {
	Name   string
	Type   NodeType
	Mode   string
	Links  int
	Owner  string
	Group  string
	Size   int64
	Human  string
	Date   string
	Mtime  int64
	Target string
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool { return e.Type == TypeDir }

// Listing groups the entries of one directory. Path is empty when a plain
// file was listed.
type Listing struct {
	Path    string
	Entries []Entry
}

// ListOptions mirrors the composable ls flags the VFS understands.
type ListOptions struct {
	All       bool
	Human     bool
	Recursive bool
	Directory bool
}

// FindOptions filters Find results. Name is a shell glob matched against the
// base name; Type is "f", "d" or "l".
type FindOptions struct {
	Name       string
	IgnoreCase bool
	Type       string
	MaxDepth   int
	MinDepth   int
}

// Usage is the disk accounting for a path: Bytes is the sum of file contents,
// Blocks is in 1K units with 4K allocation granularity.
type Usage struct {
	Path   string
	Bytes  int64
	Blocks int64
}

// User is an account in the passwd registry.
type User struct {
	UID    int
	GID    int
	Name   string
	Gecos  string
	Home   string
	Shell  string
	Groups []int
}

// Group is an entry in the group registry.
type Group struct {
	GID  int
	Name string
}
