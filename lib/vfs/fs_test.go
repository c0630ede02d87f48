package vfs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, time.March, 14, 9, 30, 0, 0, time.UTC)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	return New(Options{Clock: func() time.Time { return testNow }})
}

func TestBaseline(t *testing.T) {
	fs := newTestFS(t)

	assert.Equal(t, "/home/student", fs.Cwd())
	assert.Equal(t, 1000, fs.UID())
	assert.Equal(t, "student@linux-lab:~$", fs.Prompt())

	for _, p := range []string{"/etc/passwd", "/etc/hostname", "/var/log/syslog", "/home/student/.bashrc", "/usr/bin/ls", "/bin/ls", "/tmp"} {
		assert.True(t, fs.Exists(p), p)
	}

	passwd, err := fs.ReadFile("/etc/passwd")
	require.NoError(t, err)
	assert.Contains(t, passwd, "student:x:1000:1000:Student,,,:/home/student:/bin/bash\n")

	st, ok := fs.Stat("/home/student")
	require.True(t, ok)
	assert.Equal(t, "student", st.Owner)
	assert.Equal(t, "750", st.Octal())

	root, ok := fs.Stat("/")
	require.True(t, ok)
	assert.True(t, root.IsDir())
}

func TestResolvePath(t *testing.T) {
	fs := newTestFS(t)

	tests := []struct {
		in   string
		want string
	}{
		{"", "/home/student"},
		{".", "/home/student"},
		{"..", "/home"},
		{"../..", "/"},
		{"../../..", "/"},
		{"~", "/home/student"},
		{"~/documents", "/home/student/documents"},
		{"~root", "/root"},
		{"docs/./a/../b", "/home/student/docs/b"},
		{"/etc//nginx/", "/etc/nginx"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, fs.ResolvePath(tt.in))
		})
	}
}

func TestMkdirAllIdempotent(t *testing.T) {
	fs := newTestFS(t)

	require.NoError(t, fs.MkdirAll("a/b/c"))
	count := fs.NodeCount()
	require.NoError(t, fs.MkdirAll("a/b/c"))

	assert.Equal(t, count, fs.NodeCount())
	assert.True(t, fs.Exists("a"))
	assert.True(t, fs.Exists("a/b"))
	assert.True(t, fs.Exists("a/b/c"))
}

func TestMkdirErrors(t *testing.T) {
	fs := newTestFS(t)

	err := fs.Mkdir("missing/child")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotExist)
	assert.Equal(t, "missing/child: No such file or directory", err.Error())

	require.NoError(t, fs.Mkdir("box"))
	assert.ErrorIs(t, fs.Mkdir("box"), ErrExist)

	require.NoError(t, fs.WriteFile("plain", "x"))
	assert.ErrorIs(t, fs.MkdirAll("plain/sub"), ErrNotDir)
}

func TestWriteReadRoundTrip(t *testing.T) {
	fs := newTestFS(t)

	require.NoError(t, fs.WriteFile("f", "hello"))
	content, err := fs.ReadFile("f")
	require.NoError(t, err)
	assert.Equal(t, "hello", content)

	require.NoError(t, fs.AppendFile("f", " world"))
	content, err = fs.ReadFile("f")
	require.NoError(t, err)
	assert.Equal(t, "hello world", content)

	st, ok := fs.Stat("f")
	require.True(t, ok)
	assert.EqualValues(t, len("hello world"), st.Size)
	assert.Equal(t, "644", st.Octal())

	_, err = fs.ReadFile("documents")
	assert.ErrorIs(t, err, ErrIsDir)
	_, err = fs.ReadFile("nope")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestChmod(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.WriteFile("f", "secret"))

	require.NoError(t, fs.Chmod("f", "600"))
	st, _ := fs.Stat("f")
	assert.Equal(t, "600", st.Octal())
	assert.Equal(t, "-rw-------", st.ModeString())

	require.NoError(t, fs.Chmod("f", "u+x,go+r"))
	st, _ = fs.Stat("f")
	assert.Equal(t, "744", st.Octal())

	assert.ErrorIs(t, fs.Chmod("f", "99"), ErrInvalid)
	assert.ErrorIs(t, fs.Chmod("ghost", "600"), ErrNotExist)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		expr  string
		cur   uint32
		isDir bool
		want  uint32
	}{
		{"755", 0o644, false, 0o755},
		{"0640", 0o777, false, 0o640},
		{"+x", 0o644, false, 0o755},
		{"a=r", 0o777, false, 0o444},
		{"go-w", 0o666, false, 0o644},
		{"u=rwx,g=rx,o=", 0o000, false, 0o750},
		{"a+X", 0o644, true, 0o755},
		{"a+X", 0o644, false, 0o644},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseMode(tt.expr, tt.cur, tt.isDir)
			require.NoError(t, err)
			assert.Equal(t, FormatOctal(tt.want), FormatOctal(got))
		})
	}

	_, err := ParseMode("u*x", 0o644, false)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestChown(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.WriteFile("f", ""))

	require.NoError(t, fs.Chown("f", "root", "www-data"))
	st, _ := fs.Stat("f")
	assert.Equal(t, "root", st.Owner)
	assert.Equal(t, "www-data", st.Group)

	err := fs.Chown("f", "mallory", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownUser)
	var pe *PathError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "mallory", pe.Path)

	assert.ErrorIs(t, fs.Chown("f", "", "wizards"), ErrUnknownGroup)
}

func TestRemove(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.MkdirAll("d/e"))
	require.NoError(t, fs.WriteFile("d/e/f", "x"))

	assert.ErrorIs(t, fs.Remove("d", false), ErrNotEmpty)
	assert.ErrorIs(t, fs.Remove("ghost", false), ErrNotExist)
	assert.ErrorIs(t, fs.Remove("/", true), ErrInvalid)
	assert.ErrorIs(t, fs.Rmdir("d"), ErrNotEmpty)

	before := fs.NodeCount()
	require.NoError(t, fs.Remove("d", true))
	assert.False(t, fs.Exists("d"))
	assert.Equal(t, before-3, fs.NodeCount())
}

func TestCopyAndMove(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.WriteFileMode("src.txt", "data", 0o600))
	require.NoError(t, fs.Mkdir("dir"))

	require.NoError(t, fs.Copy("src.txt", "dir", false))
	content, err := fs.ReadFile("dir/src.txt")
	require.NoError(t, err)
	assert.Equal(t, "data", content)
	st, _ := fs.Stat("dir/src.txt")
	assert.Equal(t, "600", st.Octal())

	assert.ErrorIs(t, fs.Copy("dir", "dir2", false), ErrIsDir)
	require.NoError(t, fs.Copy("dir", "dir2", true))
	assert.True(t, fs.Exists("dir2/src.txt"))
	assert.ErrorIs(t, fs.Copy("dir", "dir/inner", true), ErrInvalid)

	require.NoError(t, fs.Move("src.txt", "renamed.txt"))
	assert.False(t, fs.Exists("src.txt"))
	assert.True(t, fs.Exists("renamed.txt"))

	require.NoError(t, fs.Move("renamed.txt", "dir2"))
	assert.True(t, fs.Exists("dir2/renamed.txt"))

	assert.ErrorIs(t, fs.Move("ghost", "x"), ErrNotExist)
	assert.ErrorIs(t, fs.Move("dir2", "dir2/sub"), ErrInvalid)
	assert.ErrorIs(t, fs.Copy("dir2/renamed.txt", "nowhere/x", false), ErrNotExist)
}

func TestDeploymentScenario(t *testing.T) {
	fs := newTestFS(t)

	require.NoError(t, fs.Mkdir("deployment"))
	require.NoError(t, fs.MkdirAll("deployment/staging/configs"))
	require.NoError(t, fs.Touch("deployment/app.yaml"))
	require.NoError(t, fs.Copy("deployment/app.yaml", "deployment/staging/configs/", false))
	require.NoError(t, fs.Remove("deployment/app.yaml", false))

	assert.False(t, fs.Exists("deployment/app.yaml"))
	assert.True(t, fs.Exists("deployment/staging/configs/app.yaml"))
}

func TestSymlinks(t *testing.T) {
	fs := newTestFS(t)

	st, ok := fs.Lstat("/bin")
	require.True(t, ok)
	assert.Equal(t, TypeSymlink, st.Type)
	assert.Equal(t, "usr/bin", st.Target)

	require.NoError(t, fs.Symlink("documents/notes.txt", "notes"))
	content, err := fs.ReadFile("notes")
	require.NoError(t, err)
	assert.Contains(t, content, "Linux Lab notes")

	require.NoError(t, fs.Symlink("loop-b", "loop-a"))
	require.NoError(t, fs.Symlink("loop-a", "loop-b"))
	_, err = fs.ReadFile("loop-a")
	assert.ErrorIs(t, err, ErrLoop)
}

func TestChdirAndPrompt(t *testing.T) {
	fs := newTestFS(t)

	require.NoError(t, fs.Chdir("/var/log"))
	assert.Equal(t, "/var/log", fs.Cwd())
	assert.Equal(t, "student@linux-lab:/var/log$", fs.Prompt())

	assert.ErrorIs(t, fs.Chdir("/etc/hostname"), ErrNotDir)
	assert.ErrorIs(t, fs.Chdir("/nowhere"), ErrNotExist)

	require.NoError(t, fs.SetUID(0))
	require.NoError(t, fs.Chdir("~"))
	assert.Equal(t, "root@linux-lab:~#", fs.Prompt())
	assert.ErrorIs(t, fs.SetUID(4242), ErrUnknownUser)
}

func TestResetWholeness(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.WriteFile("leftover.txt", "old"))
	require.NoError(t, fs.Chdir("/tmp"))
	require.NoError(t, fs.SetUID(0))

	fs.Reset(func(f *FS) {
		require.NoError(t, f.MkdirAll("/home/student/lesson/data"))
		require.NoError(t, f.WriteFile("/home/student/lesson/data/input.txt", "1\n2\n"))
	})

	assert.Equal(t, "/home/student", fs.Cwd())
	assert.Equal(t, 1000, fs.UID())
	assert.True(t, fs.Exists("/home/student/lesson/data/input.txt"))
	assert.False(t, fs.Exists("/home/student/leftover.txt"))
}

func TestQuotas(t *testing.T) {
	fs := New(Options{Clock: func() time.Time { return testNow }, MaxFileSize: 8})
	assert.ErrorIs(t, fs.WriteFile("big", "0123456789"), ErrTooLarge)
	require.NoError(t, fs.WriteFile("small", "0123"))
	assert.ErrorIs(t, fs.AppendFile("small", "45678"), ErrTooLarge)

	base := New(Options{Clock: func() time.Time { return testNow }})
	limited := New(Options{Clock: func() time.Time { return testNow }, MaxNodes: base.NodeCount() + 1})
	require.NoError(t, limited.Touch("one"))
	assert.ErrorIs(t, limited.Touch("two"), ErrNoSpace)
}

func TestDotAndRootGuards(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.MkdirAll("d/e"))
	home := fs.Cwd()

	for _, p := range []string{".", "..", "d/.", "d/e/..", "./"} {
		t.Run(p, func(t *testing.T) {
			assert.ErrorIs(t, fs.Remove(p, true), ErrInvalid)
		})
	}
	assert.True(t, fs.Exists(home))
	assert.True(t, fs.Exists("d/e"))

	assert.ErrorIs(t, fs.Copy("/", "/tmp/x", true), ErrInvalid)
	assert.False(t, fs.Exists("/tmp/x"))
	assert.ErrorIs(t, fs.Move("/", "/tmp/x"), ErrInvalid)
	assert.ErrorIs(t, fs.Move(home, home+"/d/inner"), ErrInvalid)
}
