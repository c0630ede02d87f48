package lessons

import (
	"testing"
	"time"

	"github.com/onkernel/termlab/lib/entropy"
	"github.com/onkernel/termlab/lib/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	m := newMachine(t)
	require.NoError(t, m.fs.WriteFile("~/run.sh", "#!/bin/sh\necho ok: done\n"))
	require.NoError(t, m.fs.Chmod("~/run.sh", "750"))

	obs := Observation{
		Command: "ls   -la  /tmp",
		Output:  "total 8\ndrwxrwxrwt 2 root root 4096 Mar 14 09:30 .",
		Cwd:     "/home/student",
		FS:      m.fs,
	}
	tests := []struct {
		kind  Kind
		check string
		want  bool
	}{
		{CommandExact, "ls -la /tmp", true},
		{CommandExact, "ls -la", false},
		{CommandPrefix, "ls -la", true},
		{CommandPrefix, "cat", false},
		{CommandContains, "-la /tmp", true},
		{CommandContains, "rm", false},
		{OutputContains, "drwxrwxrwt", true},
		{OutputContains, "nope", false},
		{PathExists, "~/run.sh", true},
		{PathExists, "run.sh", true},
		{PathExists, "/nope", false},
		{PathMissing, "/nope", true},
		{PathMissing, "/etc/passwd", false},
		{CwdEquals, "~", true},
		{CwdEquals, "/home/student/", true},
		{CwdEquals, "/tmp", false},
		{PermissionEquals, "~/run.sh:750", true},
		{PermissionEquals, "~/run.sh:755", false},
		{PermissionEquals, "/nope:644", false},
		{PermissionEquals, "no-colon", false},
		{FileContains, "~/run.sh:ok: done", true},
		{FileContains, "~/run.sh:missing", false},
		{FileContains, "/nope:x", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+" "+tt.check, func(t *testing.T) {
			got, err := Check(Validation{Type: tt.kind, Check: tt.check}, obs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Check(Validation{Type: "telepathy", Check: "x"}, obs)
	assert.ErrorIs(t, err, ErrUnknownValidation)
}

func TestCheckEmptyCommandNeverMatchesPrefix(t *testing.T) {
	ok, err := Check(Validation{Type: CommandPrefix, Check: ""}, Observation{})
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestFilesystemBasicsWalkthrough plays the built-in lesson through a real
// shell, checking each task right after the command that completes it.
func TestFilesystemBasicsWalkthrough(t *testing.T) {
	l := builtinLesson(t, "filesystem-basics")
	m := newMachine(t)
	require.NoError(t, l.Apply(m.fs, m.net, m.host))
	clock := func() time.Time { return time.Date(2024, time.March, 14, 9, 30, 0, 0, time.UTC) }
	sh := shell.New(m.fs, m.net, m.host, shell.Options{Clock: clock, Rand: entropy.New("shell")})

	steps := []string{
		"pwd",
		"cd projects",
		"cat README.md",
		"mkdir -p deployment/staging/configs",
		"cp README.md deployment/",
		"rm notes.tmp",
	}
	require.Len(t, steps, len(l.Tasks))

	for i, line := range steps {
		r := sh.Run(line)
		require.Equal(t, 0, r.Status, "%s: %s", line, r.Output)
		obs := Observation{Command: line, Output: r.Output, Cwd: m.fs.Cwd(), FS: m.fs}

		ok, err := l.CheckTask(i, obs)
		require.NoError(t, err)
		assert.True(t, ok, "task %d (%s) after %q", i, l.Tasks[i].Title, line)
	}

	final := l.Progress(Observation{Command: "ls", Cwd: m.fs.Cwd(), FS: m.fs})
	assert.Equal(t, []bool{false, true, false, true, true, true}, final)

	_, err := l.CheckTask(len(l.Tasks), Observation{})
	assert.ErrorIs(t, err, ErrTaskIndex)
}
