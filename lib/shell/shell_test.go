package shell

import (
	"strings"
	"testing"
	"time"

	"github.com/onkernel/termlab/lib/entropy"
	"github.com/onkernel/termlab/lib/system"
	"github.com/onkernel/termlab/lib/vfs"
	"github.com/onkernel/termlab/lib/vnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, time.March, 14, 9, 30, 0, 0, time.UTC)

func newTestShell(t *testing.T) *Shell {
	t.Helper()
	clock := func() time.Time { return testNow }
	fs := vfs.New(vfs.Options{Clock: clock})
	net := vnet.New(vnet.Options{Clock: clock, Rand: entropy.New("net")})
	host := system.New(system.Options{Clock: clock, Rand: entropy.New("host")}, fs, net)
	return New(fs, net, host, Options{Clock: clock, Rand: entropy.New("shell")})
}

// run executes line and fails the test on a non-zero status.
func run(t *testing.T, sh *Shell, line string) string {
	t.Helper()
	r := sh.Run(line)
	require.Equal(t, 0, r.Status, "%s: %s", line, r.Output)
	return r.Output
}

func TestRegistryComplete(t *testing.T) {
	seen := map[string]bool{}
	for k := Kind(0); k < kindCount; k++ {
		name := k.String()
		require.NotEmpty(t, name, "kind %d has no name", k)
		assert.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
		assert.NotNil(t, commands[k], "%s has no handler", name)
		got, ok := Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, k, got)
	}
	assert.Len(t, Names(), int(kindCount))
	assert.Equal(t, "unknown", Kind(-1).String())
}

func TestEmptyLine(t *testing.T) {
	sh := newTestShell(t)

	assert.Equal(t, Result{}, sh.Run("   "))
	assert.Empty(t, sh.Session().History)
}

func TestUnknownCommand(t *testing.T) {
	sh := newTestShell(t)

	r := sh.Run("frobnicate --now")
	assert.Equal(t, 127, r.Status)
	assert.Equal(t, "frobnicate: command not found", r.Output)
}

func TestSyntaxError(t *testing.T) {
	sh := newTestShell(t)

	r := sh.Run("echo 'unterminated")
	assert.Equal(t, 2, r.Status)
	assert.True(t, strings.HasPrefix(r.Output, "-bash: "), r.Output)
}

func TestRedirection(t *testing.T) {
	sh := newTestShell(t)

	assert.Empty(t, run(t, sh, "echo one > notes.txt"))
	run(t, sh, "echo two >> notes.txt")
	assert.Equal(t, "one\ntwo", run(t, sh, "cat notes.txt"))
	assert.Equal(t, "2", run(t, sh, "wc -l < notes.txt"))

	data, err := sh.Session().FS.ReadFile("/home/student/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", data)

	r := sh.Run("cat missing.txt 2>/dev/null")
	assert.Equal(t, 1, r.Status)
	assert.Empty(t, r.Output)

	r = sh.Run("cat missing.txt")
	assert.Equal(t, 1, r.Status)
	assert.Equal(t, "cat: missing.txt: No such file or directory", r.Output)
}

func TestPipelines(t *testing.T) {
	sh := newTestShell(t)

	assert.Equal(t, "b", run(t, sh, "echo a b c | awk '{print $2}'"))
	assert.Equal(t, "heLLo", run(t, sh, "echo hello | sed 's/l/L/g'"))
	assert.Equal(t, "a\nb", run(t, sh, `printf 'b\na\nb\n' | sort -u`))
	assert.Equal(t, "1", run(t, sh, "cat missing.txt 2>&1 | wc -l"))

	// The status of a pipeline is that of its last command.
	r := sh.Run("cat missing.txt | echo fine")
	assert.Equal(t, 0, r.Status)
	assert.Contains(t, r.Output, "fine")
}

func TestConnectors(t *testing.T) {
	sh := newTestShell(t)

	assert.Equal(t, "recovered", run(t, sh, "false || echo recovered"))
	r := sh.Run("false && echo unreachable")
	assert.Equal(t, 1, r.Status)
	assert.Empty(t, r.Output)
	assert.Equal(t, "0", run(t, sh, "true && echo $?"))
}

func TestClear(t *testing.T) {
	sh := newTestShell(t)

	r := sh.Run("clear")
	assert.True(t, r.Clear)
	assert.Empty(t, r.Output)
	assert.Equal(t, ClearScreen, sh.Execute("clear"))
	assert.Equal(t, ClearScreen+"after", sh.Execute("echo before && clear && echo after"))
}

func TestPanicIsReported(t *testing.T) {
	saved := commands[KindTrue]
	t.Cleanup(func() { commands[KindTrue] = saved })
	commands[KindTrue] = CommandFunc(func(*Session, *Invocation) Output { panic("boom") })

	sh := newTestShell(t)
	r := sh.Run("true")
	assert.Equal(t, 1, r.Status)
	assert.Equal(t, "true: error: boom", r.Output)
	assert.Equal(t, "still here", run(t, sh, "echo still here"))
}

func TestRootRequired(t *testing.T) {
	sh := newTestShell(t)

	r := sh.Run("iptables -L")
	assert.Equal(t, 4, r.Status)
	assert.Contains(t, r.Output, "Permission denied (you must be root)")

	r = sh.Run("hostname web01")
	assert.Equal(t, 1, r.Status)
	assert.Equal(t, "hostname: you must be root to change the host name", r.Output)

	r = sh.Run("date -s 2024-01-01")
	assert.Equal(t, 1, r.Status)
	assert.Contains(t, r.Output, "date: cannot set date: Operation not permitted")

	assert.Contains(t, run(t, sh, "sudo iptables -L"), "Chain INPUT (policy ACCEPT)")
}

func TestSudoShellPersistsUntilExit(t *testing.T) {
	sh := newTestShell(t)

	run(t, sh, "sudo -i")
	assert.Equal(t, "root", run(t, sh, "whoami"))
	assert.Equal(t, "exit", run(t, sh, "exit"))
	assert.Equal(t, "student", run(t, sh, "whoami"))
	assert.Equal(t, "logout", run(t, sh, "exit"))
}

func TestDeployScenario(t *testing.T) {
	sh := newTestShell(t)

	assert.Contains(t, run(t, sh, "curl -s localhost"), "Welcome to nginx!")

	run(t, sh, "echo '<h1>Deployed</h1>' | sudo tee /var/www/html/index.html")
	assert.Equal(t, "<h1>Deployed</h1>", run(t, sh, "curl -s http://localhost/"))

	r := sh.Run("curl -sf localhost/missing")
	assert.Equal(t, 22, r.Status)
	assert.Empty(t, r.Output)

	run(t, sh, "sudo iptables -I INPUT -p tcp --dport 80 -j DROP")
	r = sh.Run("curl localhost")
	assert.Equal(t, 28, r.Status)
	assert.Contains(t, r.Output, "Connection timed out")
}

func TestServiceFailureAndRecovery(t *testing.T) {
	sh := newTestShell(t)

	assert.Equal(t, "active", run(t, sh, "systemctl is-active nginx"))
	run(t, sh, "kill -9 1024")

	r := sh.Run("systemctl is-active nginx")
	assert.Equal(t, 3, r.Status)
	assert.Equal(t, "failed", r.Output)

	r = sh.Run("systemctl status nginx")
	assert.Equal(t, 3, r.Status)
	assert.Contains(t, r.Output, "Active: failed (Result: signal)")

	r = sh.Run("kill -9 1024")
	assert.Equal(t, 1, r.Status)
	assert.Contains(t, r.Output, "-bash: kill: (1024) - ")

	run(t, sh, "sudo systemctl start nginx")
	assert.Equal(t, "active", run(t, sh, "systemctl is-active nginx"))
	assert.Contains(t, run(t, sh, "curl -s localhost"), "Welcome to nginx!")

	r = sh.Run("systemctl status nosuch")
	assert.Equal(t, 4, r.Status)
	assert.Equal(t, "Unit nosuch.service could not be found.", r.Output)
}

func TestHistory(t *testing.T) {
	sh := newTestShell(t)

	run(t, sh, "echo a")
	assert.Equal(t, "    1  echo a\n    2  history", run(t, sh, "history"))
	run(t, sh, "history -c")
	assert.Equal(t, "    1  history", run(t, sh, "history"))
}
