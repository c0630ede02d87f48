package shell

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate(t *testing.T) {
	sh := newTestShell(t)

	tests := []struct {
		line string
		want string
	}{
		{"date", "Thu Mar 14 09:30:00 UTC 2024"},
		{"date +%F", "2024-03-14"},
		{"date '+%Y/%m/%d %H:%M:%S'", "2024/03/14 09:30:00"},
		{"date +%j", "074"},
		{"date +%-m/%e", "3/14"},
		{"date +%s", "1710408600"},
		{"date -d yesterday +%A", "Wednesday"},
		{"date -d '2 days ago' +%F", "2024-03-12"},
		{"date -d 'next month' +%B", "April"},
		{"date -d @0 -u +%F", "1970-01-01"},
		{"date -I", "2024-03-14"},
		{"date +%%", "%"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, run(t, sh, tt.line))
		})
	}

	r := sh.Run("date -d 'not a date'")
	assert.Equal(t, 1, r.Status)
	assert.Equal(t, "date: invalid date 'not a date'", r.Output)
}

func TestStrftimePadding(t *testing.T) {
	ts := time.Date(2024, time.January, 5, 7, 3, 9, 0, time.UTC)

	assert.Equal(t, "05 5  5", strftime(ts, "%d %-d %e"))
	assert.Equal(t, "07 AM 07", strftime(ts, "%I %p %H"))
	assert.Equal(t, "Fri Jan  5 07:03:09 2024", strftime(ts, "%c"))
	assert.Equal(t, "01/05/24", strftime(ts, "%D"))
	assert.Equal(t, "%q", strftime(ts, "%q"))
}

func TestCal(t *testing.T) {
	sh := newTestShell(t)

	out := run(t, sh, "cal")
	lines := strings.Split(out, "\n")
	require.GreaterOrEqual(t, len(lines), 7)
	assert.Equal(t, "     March 2024", lines[0])
	assert.Equal(t, "Su Mo Tu We Th Fr Sa", lines[1])
	assert.Equal(t, "                1  2", lines[2])
	assert.Equal(t, " 3  4  5  6  7  8  9", lines[3])

	assert.True(t, strings.HasPrefix(run(t, sh, "cal 2 2024"), "   February 2024"))
	year := run(t, sh, "cal 2024")
	assert.Contains(t, year, "2024")
	assert.Contains(t, year, "December")

	r := sh.Run("cal 13 2024")
	assert.Equal(t, 1, r.Status)
	assert.Equal(t, "cal: 13 is not a valid month number", r.Output)
}

func TestFind(t *testing.T) {
	sh := newTestShell(t)

	assert.Equal(t, "/tmp", run(t, sh, "find /tmp -maxdepth 0"))

	run(t, sh, "mkdir -p proj/src")
	run(t, sh, "touch proj/src/main.go proj/README")
	assert.Equal(t, "proj/src/main.go", run(t, sh, "find proj -name '*.go'"))
	assert.Equal(t, "proj/src", run(t, sh, "find proj -type d -name src"))
}

func TestEnvironmentBuiltins(t *testing.T) {
	sh := newTestShell(t)

	run(t, sh, "export GREETING=hello")
	assert.Equal(t, "hello world", run(t, sh, "echo $GREETING world"))
	assert.Contains(t, run(t, sh, "env"), "GREETING=hello")
	assert.Contains(t, run(t, sh, "export"), `declare -x GREETING="hello"`)
	assert.Equal(t, "hello", run(t, sh, "printenv GREETING"))

	assert.Equal(t, "FOO=1", run(t, sh, "FOO=1 env | grep FOO"))
	assert.Empty(t, run(t, sh, "echo $FOO"))
	assert.Equal(t, "BAR=2", run(t, sh, "env BAR=2 printenv | grep BAR"))

	run(t, sh, "unset GREETING")
	r := sh.Run("printenv GREETING")
	assert.Equal(t, 1, r.Status)

	r = sh.Run("export 9lives=1")
	assert.Equal(t, 1, r.Status)
	assert.Equal(t, "-bash: export: `9lives=1': not a valid identifier", r.Output)

	r = sh.Run("env nosuchcmd")
	assert.Equal(t, 127, r.Status)
	assert.Equal(t, "env: 'nosuchcmd': No such file or directory", r.Output)
}

func TestAliases(t *testing.T) {
	sh := newTestShell(t)

	assert.Equal(t, "alias ll='ls -alF'", run(t, sh, "alias ll"))
	run(t, sh, "alias hi='echo hi there'")
	assert.Equal(t, "hi there", run(t, sh, "hi"))
	assert.Equal(t, "hi is aliased to `echo hi there'", run(t, sh, "type hi"))

	run(t, sh, "unalias hi")
	r := sh.Run("hi")
	assert.Equal(t, 127, r.Status)

	r = sh.Run("alias nope")
	assert.Equal(t, 1, r.Status)
	assert.Equal(t, "-bash: alias: nope: not found", r.Output)
}

func TestType(t *testing.T) {
	sh := newTestShell(t)

	assert.Equal(t, "cd is a shell builtin", run(t, sh, "type cd"))
	assert.Equal(t, "ls is /usr/bin/ls", run(t, sh, "type ls"))
	assert.Equal(t, "builtin\nfile", run(t, sh, "type -t echo ls"))

	r := sh.Run("type nosuchcmd")
	assert.Equal(t, 1, r.Status)
	assert.Equal(t, "-bash: type: nosuchcmd: not found", r.Output)
}

func TestManAndHelp(t *testing.T) {
	sh := newTestShell(t)

	pages, err := manpages()
	require.NoError(t, err)
	for name := range pages {
		_, ok := Lookup(name)
		assert.True(t, ok, "manual page for unknown command %s", name)
	}

	out := run(t, sh, "man ls")
	assert.True(t, strings.HasPrefix(out, "LS(1)"), out)
	assert.Contains(t, out, "NAME\n       ls - ")
	assert.Contains(t, out, "SYNOPSIS")

	assert.True(t, strings.HasPrefix(run(t, sh, "man 8 iptables"), "IPTABLES(8)"))
	assert.Contains(t, run(t, sh, "man -k director"), "mkdir (1)")

	r := sh.Run("man nosuch")
	assert.Equal(t, 16, r.Status)
	assert.Equal(t, "No manual entry for nosuch", r.Output)

	r = sh.Run("man")
	assert.Equal(t, 1, r.Status)
	assert.Contains(t, r.Output, "What manual page do you want?")

	help := run(t, sh, "help")
	for _, name := range []string{"cd", "grep", "systemctl"} {
		assert.Contains(t, help, name)
	}
	assert.Contains(t, run(t, sh, "help cd"), "cd: ")
}

func TestWrap(t *testing.T) {
	assert.Equal(t, []string{"aaa bbb", "ccc"}, wrap("aaa bbb ccc", 8))
	assert.Empty(t, wrap("   ", 10))
}

func TestProcesses(t *testing.T) {
	sh := newTestShell(t)

	assert.Equal(t, "1024\n1025\n1026", run(t, sh, "pgrep nginx"))
	assert.Equal(t, "3", run(t, sh, "pgrep -c nginx"))
	assert.Contains(t, run(t, sh, "ps aux"), "/usr/sbin/mysqld")

	r := sh.Run("pgrep nosuchproc")
	assert.Equal(t, 1, r.Status)
	assert.Empty(t, r.Output)

	r = sh.Run("killall nosuchproc")
	assert.Equal(t, 1, r.Status)
	assert.Equal(t, "nosuchproc: no process found", r.Output)

	r = sh.Run("kill 99999")
	assert.Equal(t, 1, r.Status)
	assert.Equal(t, "-bash: kill: (99999) - No such process", r.Output)

	assert.Contains(t, run(t, sh, "kill -l 9"), "KILL")
}

func TestSystemctlStopStart(t *testing.T) {
	sh := newTestShell(t)

	run(t, sh, "sudo systemctl stop nginx")
	r := sh.Run("systemctl is-active nginx")
	assert.Equal(t, 3, r.Status)
	assert.Equal(t, "inactive", r.Output)

	r = sh.Run("curl -s localhost")
	assert.Equal(t, 7, r.Status)

	r = sh.Run("systemctl start nosuch")
	assert.Equal(t, 5, r.Status)
	assert.Equal(t, "Failed to start nosuch.service: Unit nosuch.service not found.", r.Output)

	run(t, sh, "sudo systemctl start nginx")
	assert.Contains(t, run(t, sh, "systemctl status nginx"), "Active: active (running)")

	assert.Contains(t, run(t, sh, "journalctl -u nginx"), "Started nginx.service")
}

func TestHostname(t *testing.T) {
	sh := newTestShell(t)

	assert.Equal(t, "linux-lab", run(t, sh, "hostname"))
	assert.Equal(t, "linux-lab.lab.local", run(t, sh, "hostname -f"))

	run(t, sh, "sudo hostname web01")
	assert.Equal(t, "web01", run(t, sh, "hostname"))
	assert.Equal(t, "web01", run(t, sh, "echo $HOSTNAME"))
}

func TestWatch(t *testing.T) {
	sh := newTestShell(t)

	out := run(t, sh, "watch -n 5 echo tick")
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Every 5.0s: echo tick"), lines[0])
	assert.True(t, strings.HasSuffix(lines[0], "linux-lab: Thu Mar 14 09:30:00 2024"), lines[0])
	assert.Equal(t, "tick", lines[2])

	assert.Equal(t, "tick", run(t, sh, "watch -t echo tick"))
}

func TestExitStatus(t *testing.T) {
	sh := newTestShell(t)

	r := sh.Run("exit 3")
	assert.Equal(t, 3, r.Status)
	assert.Equal(t, "logout", r.Output)

	r = sh.Run("exit nope")
	assert.Equal(t, 2, r.Status)
	assert.Contains(t, r.Output, "numeric argument required")
}

func TestSleepAndEditors(t *testing.T) {
	sh := newTestShell(t)

	run(t, sh, "sleep 1.5")
	run(t, sh, "sleep 2m")
	r := sh.Run("sleep soon")
	assert.Equal(t, 1, r.Status)

	r = sh.Run("vim notes.txt")
	assert.Equal(t, 1, r.Status)
	assert.True(t, strings.HasPrefix(r.Output, "vim: this terminal cannot run full-screen programs."))
}

func TestSSH(t *testing.T) {
	sh := newTestShell(t)

	r := sh.Run("ssh student@localhost")
	assert.Equal(t, 255, r.Status)
	assert.Contains(t, r.Output, "ED25519 key fingerprint is SHA256:")
	assert.True(t, strings.HasSuffix(r.Output, "Host key verification failed."))
	again := sh.Run("ssh localhost")
	assert.Equal(t, r.Output, again.Output)

	r = sh.Run("ssh -p 2222 localhost")
	assert.Equal(t, 255, r.Status)
	assert.Equal(t, "ssh: connect to host localhost port 2222: Connection refused", r.Output)

	r = sh.Run("ssh nowhere.invalid")
	assert.Equal(t, 255, r.Status)
	assert.Equal(t, "ssh: Could not resolve hostname nowhere.invalid: Name or service not known", r.Output)
}

func TestHostKeyFingerprintStable(t *testing.T) {
	a, err := hostKeyFingerprint([]byte{192, 168, 1, 10})
	require.NoError(t, err)
	b, err := hostKeyFingerprint([]byte{192, 168, 1, 10})
	require.NoError(t, err)
	c, err := hostKeyFingerprint([]byte{192, 168, 1, 11})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "SHA256:"))
}

func TestNetworkReadouts(t *testing.T) {
	sh := newTestShell(t)

	assert.Contains(t, run(t, sh, "ip addr show eth0"), "inet 192.168.1.100/24")
	assert.Contains(t, run(t, sh, "hostname -I"), "192.168.1.100")
	assert.Contains(t, run(t, sh, "ss -tln"), ":22")
	assert.Contains(t, run(t, sh, "netstat -tlnp"), "nginx")

	r := sh.Run("sudo ip link set nosuch down")
	assert.NotEqual(t, 0, r.Status)

	r = sh.Run("ip link set eth0 down")
	assert.Equal(t, 2, r.Status)
	assert.Equal(t, "RTNETLINK answers: Operation not permitted", r.Output)

	r = sh.Run("nc -z localhost 22")
	assert.Equal(t, 0, r.Status)
	r = sh.Run("nc -z localhost 2222")
	assert.Equal(t, 1, r.Status)
}
