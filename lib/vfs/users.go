package vfs

import (
	"fmt"
	"sort"
	"strings"
)

// UserOptions configures AddUser.
type UserOptions struct {
	Home       string
	Shell      string
	Groups     []string
	CreateHome bool
}

// LookupUser finds an account by name.
func (fs *FS) LookupUser(name string) (User, bool) {
	for _, u := range fs.users {
		if u.Name == name {
			return cloneUser(u), true
		}
	}
	return User{}, false
}

// UserByID finds an account by uid.
func (fs *FS) UserByID(uid int) (User, bool) {
	u, ok := fs.users[uid]
	if !ok {
		return User{}, false
	}
	return cloneUser(u), true
}

// LookupGroup finds a group by name.
func (fs *FS) LookupGroup(name string) (Group, bool) {
	for _, g := range fs.groups {
		if g.Name == name {
			return *g, true
		}
	}
	return Group{}, false
}

// GroupByID finds a group by gid.
func (fs *FS) GroupByID(gid int) (Group, bool) {
	g, ok := fs.groups[gid]
	if !ok {
		return Group{}, false
	}
	return *g, true
}

// Users returns every account ordered by uid.
func (fs *FS) Users() []User {
	out := make([]User, 0, len(fs.users))
	for _, u := range fs.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// Groups returns every group ordered by gid.
func (fs *FS) Groups() []Group {
	out := make([]Group, 0, len(fs.groups))
	for _, g := range fs.groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GID < out[j].GID })
	return out
}

// UserGroups returns the primary group followed by supplementary groups.
func (fs *FS) UserGroups(u User) []Group {
	var out []Group
	if g, ok := fs.groups[u.GID]; ok {
		out = append(out, *g)
	}
	for _, gid := range u.Groups {
		if gid == u.GID {
			continue
		}
		if g, ok := fs.groups[gid]; ok {
			out = append(out, *g)
		}
	}
	return out
}

// OwnerName renders a uid as a user name, falling back to the number.
func (fs *FS) OwnerName(uid int) string {
	if u, ok := fs.users[uid]; ok {
		return u.Name
	}
	return fmt.Sprint(uid)
}

// GroupName renders a gid as a group name, falling back to the number.
func (fs *FS) GroupName(gid int) string {
	if g, ok := fs.groups[gid]; ok {
		return g.Name
	}
	return fmt.Sprint(gid)
}

// AddGroup registers a new group with the next free gid at or above 1000.
func (fs *FS) AddGroup(name string) (Group, error) {
	if _, ok := fs.LookupGroup(name); ok {
		return Group{}, pathErr("groupadd", name, ErrExist)
	}
	gid := 1000
	for {
		if _, taken := fs.groups[gid]; !taken {
			break
		}
		gid++
	}
	g := &Group{GID: gid, Name: name}
	fs.groups[gid] = g
	fs.syncAccounts()
	return *g, nil
}

// AddUser registers an account with a personal primary group and the next
// free uid at or above 1000.
func (fs *FS) AddUser(name string, opts UserOptions) (User, error) {
	if name == "" || strings.ContainsAny(name, ":/ ") {
		return User{}, pathErr("useradd", name, ErrInvalid)
	}
	if _, ok := fs.LookupUser(name); ok {
		return User{}, pathErr("useradd", name, ErrExist)
	}
	uid := 1000
	for {
		_, userTaken := fs.users[uid]
		_, groupTaken := fs.groups[uid]
		if !userTaken && !groupTaken {
			break
		}
		uid++
	}
	var supplementary []int
	for _, gname := range opts.Groups {
		g, ok := fs.LookupGroup(gname)
		if !ok {
			return User{}, pathErr("useradd", gname, ErrUnknownGroup)
		}
		supplementary = append(supplementary, g.GID)
	}
	home := opts.Home
	if home == "" {
		home = "/home/" + name
	}
	shell := opts.Shell
	if shell == "" {
		shell = "/bin/bash"
	}
	fs.groups[uid] = &Group{GID: uid, Name: name}
	u := &User{UID: uid, GID: uid, Name: name, Home: home, Shell: shell, Groups: supplementary}
	fs.users[uid] = u
	fs.syncAccounts()

	if opts.CreateHome {
		if err := fs.MkdirAll(home); err == nil {
			if n, ok := fs.Lookup(home); ok {
				n.UID, n.GID, n.Mode = uid, uid, 0o750
			}
		}
	}
	return cloneUser(u), nil
}

// AddUserToGroup appends a supplementary group to an account.
func (fs *FS) AddUserToGroup(user, group string) error {
	u, ok := fs.LookupUser(user)
	if !ok {
		return pathErr("usermod", user, ErrUnknownUser)
	}
	g, ok := fs.LookupGroup(group)
	if !ok {
		return pathErr("usermod", group, ErrUnknownGroup)
	}
	stored := fs.users[u.UID]
	for _, gid := range stored.Groups {
		if gid == g.GID {
			return nil
		}
	}
	stored.Groups = append(stored.Groups, g.GID)
	fs.syncAccounts()
	return nil
}

// syncAccounts rewrites /etc/passwd and /etc/group from the registries.
func (fs *FS) syncAccounts() {
	var passwd, group strings.Builder
	for _, u := range fs.Users() {
		fmt.Fprintf(&passwd, "%s:x:%d:%d:%s:%s:%s\n", u.Name, u.UID, u.GID, u.Gecos, u.Home, u.Shell)
	}
	for _, g := range fs.Groups() {
		var members []string
		for _, u := range fs.Users() {
			for _, gid := range u.Groups {
				if gid == g.GID && u.GID != g.GID {
					members = append(members, u.Name)
				}
			}
		}
		fmt.Fprintf(&group, "%s:x:%d:%s\n", g.Name, g.GID, strings.Join(members, ","))
	}
	fs.setSystemFile("/etc/passwd", passwd.String(), 0o644)
	fs.setSystemFile("/etc/group", group.String(), 0o644)
}

// setSystemFile writes a root-owned file, creating parents as needed.
func (fs *FS) setSystemFile(abs, content string, mode uint32) {
	if n, ok := fs.Lookup(abs); ok && n.Type == TypeFile {
		n.Content = content
		n.Mtime = fs.now()
		return
	}
	dir := abs[:strings.LastIndex(abs, "/")]
	if dir != "" {
		if _, ok := fs.Lookup(dir); !ok {
			_ = fs.MkdirAll(dir)
		}
	}
	parent, name, err := fs.parentDir(abs)
	if err != nil {
		return
	}
	n := fs.newNode(TypeFile, content, mode)
	n.UID, n.GID = 0, 0
	_ = fs.attach(parent, name, n)
}

func cloneUser(u *User) User {
	c := *u
	c.Groups = append([]int(nil), u.Groups...)
	return c
}
