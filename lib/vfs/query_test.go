package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestListHidesDotfiles(t *testing.T) {
	fs := newTestFS(t)

	listings, err := fs.List("~", ListOptions{})
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, []string{"documents", "downloads", "projects", "scripts"}, names(listings[0].Entries))

	listings, err = fs.List("~", ListOptions{All: true})
	require.NoError(t, err)
	got := names(listings[0].Entries)
	assert.Equal(t, []string{".", ".."}, got[:2])
	assert.Contains(t, got, ".bashrc")
	assert.Contains(t, got, ".ssh")
}

func TestListLongFields(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.WriteFile("data.bin", string(make([]byte, 5000))))

	listings, err := fs.List("data.bin", ListOptions{Human: true})
	require.NoError(t, err)
	e := listings[0].Entries[0]
	assert.Equal(t, "data.bin", e.Name)
	assert.Equal(t, "-rw-r--r--", e.Mode)
	assert.Equal(t, 1, e.Links)
	assert.Equal(t, "student", e.Owner)
	assert.Equal(t, "student", e.Group)
	assert.EqualValues(t, 5000, e.Size)
	assert.Equal(t, "4.9K", e.Human)
	assert.Equal(t, "Mar 14 09:30", e.Date)

	dirs, err := fs.List("/", ListOptions{})
	require.NoError(t, err)
	for _, e := range dirs[0].Entries {
		if e.Name == "bin" {
			assert.Equal(t, "lrwxrwxrwx", e.Mode)
			assert.Equal(t, "usr/bin", e.Target)
		}
		if e.Name == "home" {
			assert.Equal(t, 3, e.Links)
		}
	}
}

func TestListRecursive(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.MkdirAll("r/a/b"))
	require.NoError(t, fs.WriteFile("r/a/f.txt", "x"))

	listings, err := fs.List("r", ListOptions{Recursive: true})
	require.NoError(t, err)
	require.Len(t, listings, 3)
	assert.Equal(t, "r", listings[0].Path)
	assert.Equal(t, "r/a", listings[1].Path)
	assert.Equal(t, []string{"b", "f.txt"}, names(listings[1].Entries))
	assert.Equal(t, "r/a/b", listings[2].Path)
	assert.Empty(t, listings[2].Entries)

	_, err = fs.List("nope", ListOptions{})
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestDu(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.MkdirAll("u/sub"))
	require.NoError(t, fs.WriteFile("u/a", "12345"))
	require.NoError(t, fs.WriteFile("u/sub/b", string(make([]byte, 5000))))

	usage, err := fs.Du("u")
	require.NoError(t, err)
	assert.EqualValues(t, 5005, usage.Bytes)
	assert.EqualValues(t, 4+4+4+8, usage.Blocks)

	all, err := fs.DuAll("u")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "u/sub", all[0].Path)
	assert.Equal(t, "u", all[1].Path)

	_, err = fs.Du("missing")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestFind(t *testing.T) {
	fs := newTestFS(t)

	found, err := fs.Find("~", FindOptions{Name: "*.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/home/student/documents/notes.txt",
		"/home/student/documents/report.txt",
		"/home/student/documents/todo.txt",
	}, found)

	dirs, err := fs.Find("~/documents", FindOptions{Type: "d"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/home/student/documents"}, dirs)

	shallow, err := fs.Find("/etc", FindOptions{Name: "*.conf", MaxDepth: 1})
	require.NoError(t, err)
	assert.Contains(t, shallow, "/etc/resolv.conf")
	assert.NotContains(t, shallow, "/etc/nginx/nginx.conf")

	_, err = fs.Find("/nowhere", FindOptions{})
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestAccounts(t *testing.T) {
	fs := newTestFS(t)

	u, err := fs.AddUser("alice", UserOptions{Groups: []string{"developers"}, CreateHome: true})
	require.NoError(t, err)
	assert.Equal(t, 1002, u.UID)
	assert.Equal(t, "/home/alice", u.Home)

	st, ok := fs.Stat("/home/alice")
	require.True(t, ok)
	assert.Equal(t, "alice", st.Owner)

	passwd, _ := fs.ReadFile("/etc/passwd")
	assert.Contains(t, passwd, "alice:x:1002:1002::/home/alice:/bin/bash")
	group, _ := fs.ReadFile("/etc/group")
	assert.Contains(t, group, "developers:x:1001:student,alice")

	_, err = fs.AddUser("alice", UserOptions{})
	assert.ErrorIs(t, err, ErrExist)

	g, err := fs.AddGroup("ops")
	require.NoError(t, err)
	require.NoError(t, fs.AddUserToGroup("alice", "ops"))
	alice, _ := fs.LookupUser("alice")
	assert.Contains(t, alice.Groups, g.GID)
	assert.ErrorIs(t, fs.AddUserToGroup("ghost", "ops"), ErrUnknownUser)
}

func TestHumanSize(t *testing.T) {
	tests := map[int64]string{
		0:          "0",
		512:        "512",
		1024:       "1.0K",
		4096:       "4.0K",
		123456:     "121K",
		5 << 20:    "5.0M",
		3 << 30:    "3.0G",
		1536 << 10: "1.5M",
	}
	for in, want := range tests {
		assert.Equal(t, want, HumanSize(in), in)
	}
}
