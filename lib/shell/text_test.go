package shell

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFixture seeds a file in the session's filesystem, bypassing the shell.
func writeFixture(t *testing.T, sh *Shell, p, content string) {
	t.Helper()
	require.NoError(t, sh.Session().FS.WriteFile(p, content))
}

type outputCase struct {
	name string
	line string
	want string
}

func runCases(t *testing.T, sh *Shell, cases []outputCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, run(t, sh, tc.line))
		})
	}
}

func TestTextFilters(t *testing.T) {
	sh := newTestShell(t)
	writeFixture(t, sh, "repeats.txt", "a\na\nb\na\n")
	writeFixture(t, sh, "passwd.txt", "a:b:c\nd:e:f\nplain\n")
	writeFixture(t, sh, "nums.txt", "10\n9\n100\n9\n")
	var twelve strings.Builder
	for i := 1; i <= 12; i++ {
		fmt.Fprintln(&twelve, i)
	}
	writeFixture(t, sh, "twelve.txt", twelve.String())

	runCases(t, sh, []outputCase{
		{"uniq collapses adjacent only", "uniq repeats.txt", "a\nb\na"},
		{"uniq -c", "uniq -c repeats.txt", "      2 a\n      1 b\n      1 a"},
		{"sort | uniq -c", "sort repeats.txt | uniq -c", "      3 a\n      1 b"},
		{"cut -d -f", "cut -d: -f2 passwd.txt", "b\ne\nplain"},
		{"cut -f list", "cut -d : -f1,3 passwd.txt", "a:c\nd:f\nplain"},
		{"cut -s", "cut -s -d: -f1 passwd.txt", "a\nd"},
		{"cut -c", "echo hello | cut -c1-3", "hel"},
		{"tr range", "echo hello | tr a-z A-Z", "HELLO"},
		{"tr class", "echo Hello | tr '[:lower:]' '[:upper:]'", "HELLO"},
		{"tr -d", "echo hello | tr -d l", "heo"},
		{"tr -s", "echo aaabbb | tr -s ab", "ab"},
		{"head -n", "head -n 3 twelve.txt", "1\n2\n3"},
		{"head -N", "head -3 twelve.txt", "1\n2\n3"},
		{"head default", "head twelve.txt", "1\n2\n3\n4\n5\n6\n7\n8\n9\n10"},
		{"head all but last", "head -n -10 twelve.txt", "1\n2"},
		{"tail -n", "tail -n 2 twelve.txt", "11\n12"},
		{"tail -N", "tail -2 twelve.txt", "11\n12"},
		{"tail from start", "tail -n +11 twelve.txt", "11\n12"},
		{"sort", "sort nums.txt", "10\n100\n9\n9"},
		{"sort -r", "sort -r nums.txt", "9\n9\n100\n10"},
		{"sort -n", "sort -n nums.txt", "9\n9\n10\n100"},
		{"sort -rn", "sort -rn nums.txt", "100\n10\n9\n9"},
		{"sort -nu", "sort -n -u nums.txt", "9\n10\n100"},
		{"cat -n", "cat -n repeats.txt", "     1\ta\n     2\ta\n     3\tb\n     4\ta"},
	})
}

func TestHeadAllButLastBytes(t *testing.T) {
	sh := newTestShell(t)
	writeFixture(t, sh, "word.txt", "abcdef")

	assert.Equal(t, "abcd", run(t, sh, "head -c -2 word.txt"))
	assert.Equal(t, "abcdef", run(t, sh, "head -n -0 word.txt"))
	assert.Empty(t, run(t, sh, "head -n -5 word.txt"))
}

func TestGrepFlags(t *testing.T) {
	sh := newTestShell(t)
	writeFixture(t, sh, "log.txt", "Error: disk\nok\nerror: net\n")
	run(t, sh, "mkdir -p proj/src")
	writeFixture(t, sh, "proj/src/main.c", "int needle;\n")
	writeFixture(t, sh, "proj/readme", "nothing\n")

	runCases(t, sh, []outputCase{
		{"plain", "grep error log.txt", "error: net"},
		{"-i", "grep -i error log.txt", "Error: disk\nerror: net"},
		{"-c", "grep -c -i error log.txt", "2"},
		{"-n", "grep -n ok log.txt", "2:ok"},
		{"-v", "grep -v -i error log.txt", "ok"},
		{"-in", "grep -in ERROR log.txt", "1:Error: disk\n3:error: net"},
		{"-r", "grep -r needle proj", "proj/src/main.c:int needle;"},
		{"-c stdin", "cat log.txt | grep -c o", "3"},
		{"two files", "grep -c needle proj/src/main.c proj/readme", "proj/src/main.c:1\nproj/readme:0"},
	})

	r := sh.Run("grep missing log.txt")
	assert.Equal(t, 1, r.Status)
	assert.Empty(t, r.Output)
}

func TestGrepRegexpErrors(t *testing.T) {
	sh := newTestShell(t)
	writeFixture(t, sh, "log.txt", "x\n")

	for _, tc := range []struct {
		pattern string
		want    string
	}{
		{"'['", "grep: Unmatched [, [^, [:, [., or [="},
		{"-E '('", "grep: Unmatched ( or \\("},
		{"-E 'a{2,1}'", "grep: Invalid content of \\{\\}"},
		{"-E '*a'", "grep: Invalid preceding regular expression"},
	} {
		t.Run(tc.pattern, func(t *testing.T) {
			r := sh.Run("grep " + tc.pattern + " log.txt")
			assert.Equal(t, 2, r.Status)
			assert.Equal(t, tc.want, r.Output)
		})
	}
}

func TestWcCounts(t *testing.T) {
	sh := newTestShell(t)
	writeFixture(t, sh, "f.txt", "one two\nthree\n")
	writeFixture(t, sh, "g.txt", "x\n")

	runCases(t, sh, []outputCase{
		{"-l", "wc -l f.txt", "2 f.txt"},
		{"-w", "wc -w f.txt", "3 f.txt"},
		{"-c", "wc -c f.txt", "14 f.txt"},
		{"all", "wc f.txt", " 2  3 14 f.txt"},
		{"stdin single", "cat f.txt | wc -l", "2"},
		{"total", "wc -l f.txt g.txt", "2 f.txt\n1 g.txt\n3 total"},
	})
}

func TestTeeEchoXargs(t *testing.T) {
	sh := newTestShell(t)
	fs := sh.Session().FS

	assert.Equal(t, "one", run(t, sh, "echo one | tee out.txt"))
	assert.Equal(t, "two", run(t, sh, "echo two | tee -a out.txt"))
	got, err := fs.ReadFile("out.txt")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", got)

	run(t, sh, "echo three | tee out.txt")
	got, err = fs.ReadFile("out.txt")
	require.NoError(t, err)
	assert.Equal(t, "three\n", got)

	run(t, sh, "echo -n hi > raw.txt")
	got, err = fs.ReadFile("raw.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", got)

	runCases(t, sh, []outputCase{
		{"xargs default echo", "echo a b c | xargs", "a b c"},
		{"xargs -n", "echo a b c | xargs -n 1 echo", "a\nb\nc"},
		{"xargs -I", "echo a | xargs -I {} echo item-{}", "item-a"},
		{"xargs cat", "echo raw.txt | xargs cat", "hi"},
	})

	run(t, sh, "echo f1 f2 | xargs touch")
	assert.True(t, fs.Exists("f1"))
	assert.True(t, fs.Exists("f2"))

	r := sh.Run("echo x | xargs nosuchtool")
	assert.NotEqual(t, 0, r.Status)
	assert.Contains(t, r.Output, "xargs: nosuchtool: No such file or directory")
}

func TestDiffOutput(t *testing.T) {
	sh := newTestShell(t)
	writeFixture(t, sh, "a.txt", "one\ntwo\nthree\n")
	writeFixture(t, sh, "b.txt", "one\n2\nthree\nfour\n")
	writeFixture(t, sh, "c.txt", "one\ntwo\n")

	r := sh.Run("diff a.txt b.txt")
	assert.Equal(t, 1, r.Status)
	assert.Equal(t, "2c2\n< two\n---\n> 2\n3a4\n> four", r.Output)

	r = sh.Run("diff a.txt c.txt")
	assert.Equal(t, 1, r.Status)
	assert.Equal(t, "3d2\n< three", r.Output)

	assert.Empty(t, run(t, sh, "diff a.txt a.txt"))
}

func TestDiffLargeInput(t *testing.T) {
	sh := newTestShell(t)
	const n = 20000
	var a, b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&a, "line %d\n", i)
		if i == n/2 {
			b.WriteString("changed\n")
			continue
		}
		fmt.Fprintf(&b, "line %d\n", i)
	}
	writeFixture(t, sh, "big-a.txt", a.String())
	writeFixture(t, sh, "big-b.txt", b.String())

	start := time.Now()
	r := sh.Run("diff big-a.txt big-b.txt")
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, 1, r.Status)
	assert.Equal(t, "10000c10000\n< line 10000\n---\n> changed", r.Output)
}

func TestListingFormats(t *testing.T) {
	sh := newTestShell(t)
	run(t, sh, "mkdir lab")
	run(t, sh, "cd lab")
	run(t, sh, "echo hello > a.txt")
	run(t, sh, "mkdir sub")
	run(t, sh, "echo -n xyz > sub/b.txt")

	runCases(t, sh, []outputCase{
		{"-1", "ls -1", "a.txt\nsub"},
		{"-a", "ls -a -1", ".\n..\na.txt\nsub"},
		{"-l", "ls -l", "total 8\n" +
			"-rw-r--r-- 1 student student    6 Mar 14 09:30 a.txt\n" +
			"drwxr-xr-x 2 student student 4096 Mar 14 09:30 sub"},
		{"-lh", "ls -lh", "total 8.0K\n" +
			"-rw-r--r-- 1 student student    6 Mar 14 09:30 a.txt\n" +
			"drwxr-xr-x 2 student student 4.0K Mar 14 09:30 sub"},
		{"-R", "ls -R -1", ".:\na.txt\nsub\n\n./sub:\nb.txt"},
		{"tree", "tree", ".\n├── a.txt\n└── sub\n    └── b.txt\n\n1 directory, 2 files"},
		{"tree -L", "tree -L 1", ".\n├── a.txt\n└── sub\n\n1 directory, 1 file"},
	})
}

func TestBadOptionUsage(t *testing.T) {
	sh := newTestShell(t)

	r := sh.Run("ls -Z")
	assert.Equal(t, 2, r.Status)
	assert.Equal(t, "ls: invalid option -- 'Z'\nTry 'ls --help' for more information.", r.Output)
}

func TestPermissionCommands(t *testing.T) {
	sh := newTestShell(t)
	fs := sh.Session().FS
	writeFixture(t, sh, "a.txt", "data\n")

	octal := func() string {
		st, ok := fs.Stat("a.txt")
		require.True(t, ok)
		return st.Octal()
	}

	run(t, sh, "chmod 750 a.txt")
	assert.Equal(t, "750", octal())
	run(t, sh, "chmod 644 a.txt")
	run(t, sh, "chmod u+x a.txt")
	assert.Equal(t, "744", octal())
	run(t, sh, "chmod go-r a.txt")
	assert.Equal(t, "700", octal())

	run(t, sh, "chown root:developers a.txt")
	st, ok := fs.Stat("a.txt")
	require.True(t, ok)
	assert.Equal(t, "root", st.Owner)
	assert.Equal(t, "developers", st.Group)

	r := sh.Run("chown ghost a.txt")
	assert.Equal(t, 1, r.Status)
	assert.Equal(t, "chown: invalid user: 'ghost'", r.Output)
}

func TestRecursiveRemoveGuards(t *testing.T) {
	sh := newTestShell(t)
	run(t, sh, "mkdir -p work/keep")

	r := sh.Run("rm -r .")
	assert.NotEqual(t, 0, r.Status)
	assert.Equal(t, "rm: refusing to remove '.' or '..' directory: skipping '.'", r.Output)

	r = sh.Run("rm -rf work/..")
	assert.NotEqual(t, 0, r.Status)
	assert.Contains(t, r.Output, "skipping 'work/..'")
	assert.True(t, sh.Session().FS.Exists("work/keep"))

	r = sh.Run("cp -r / /tmp/x")
	assert.NotEqual(t, 0, r.Status)
	assert.Contains(t, r.Output, "into itself")
	assert.False(t, sh.Session().FS.Exists("/tmp/x"))
}

func TestDispatchBudget(t *testing.T) {
	sh := newTestShell(t)
	// Four self-calls per level reach far more commands than the nesting
	// limit alone would stop.
	require.NoError(t, sh.Session().FS.WriteFileMode("fan.sh", strings.Repeat("./fan.sh\n", 4), 0o755))

	done := make(chan Result, 1)
	go func() { done <- sh.Run("./fan.sh") }()
	select {
	case r := <-done:
		assert.Contains(t, r.Output, "-bash: fork: retry: Resource temporarily unavailable")
	case <-time.After(30 * time.Second):
		t.Fatal("self-calling script did not terminate")
	}

	assert.Equal(t, "ok", run(t, sh, "echo ok"))
}
