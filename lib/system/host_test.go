package system

import (
	"strings"
	"testing"
	"time"

	"github.com/onkernel/termlab/lib/entropy"
	"github.com/onkernel/termlab/lib/vfs"
	"github.com/onkernel/termlab/lib/vnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, time.March, 14, 9, 30, 0, 0, time.UTC)

type testMachine struct {
	fs   *vfs.FS
	net  *vnet.Network
	host *Host
}

func newTestMachine(t *testing.T) *testMachine {
	t.Helper()
	clock := func() time.Time { return testNow }
	fs := vfs.New(vfs.Options{Clock: clock})
	net := vnet.New(vnet.Options{Clock: clock, Rand: entropy.New("net")})
	host := New(Options{Clock: clock, Rand: entropy.New("host")}, fs, net)
	return &testMachine{fs: fs, net: net, host: host}
}

func (m *testMachine) syslog(t *testing.T) string {
	t.Helper()
	data, err := m.fs.ReadFile(SyslogPath)
	require.NoError(t, err)
	return data
}

func TestUname(t *testing.T) {
	h := newTestMachine(t).host

	assert.Equal(t, "Linux", h.Uname(""))
	assert.Equal(t, "linux-lab 5.15.0-91-generic", h.Uname("rn"))
	assert.True(t, strings.HasPrefix(h.Uname("a"), "Linux linux-lab 5.15.0-91-generic #101-Ubuntu"))
	assert.True(t, strings.HasSuffix(h.Uname("a"), "x86_64 GNU/Linux"))
}

func TestUptime(t *testing.T) {
	h := newTestMachine(t).host

	assert.Equal(t, "up 4 hours", h.Uptime(true))
	assert.Contains(t, h.Uptime(false), " 09:30:00 up  4:00,  1 user,  load average: ")
	assert.Equal(t, testNow.Add(-4*time.Hour), h.BootTime())
}

func TestSocketsHaveProcesses(t *testing.T) {
	m := newTestMachine(t)

	for _, s := range m.net.Sockets() {
		_, ok := m.host.Process(s.PID)
		assert.True(t, ok, "socket %s owned by missing pid %d", s.Local, s.PID)
	}
}

func TestStopStartUnit(t *testing.T) {
	m := newTestMachine(t)

	require.NoError(t, m.host.Stop("nginx"))
	_, listening := m.net.ListeningOn("127.0.0.1", 80)
	assert.False(t, listening)
	assert.Empty(t, m.host.Pgrep("nginx", false))
	assert.Contains(t, m.syslog(t), "systemd[1]: Stopped nginx.service - A high performance web server and a reverse proxy server.")

	out, code, err := m.host.Status("nginx")
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Contains(t, out, "○ nginx.service")
	assert.Contains(t, out, "Active: inactive (dead)")

	require.NoError(t, m.host.Start("nginx.service"))
	sock, listening := m.net.ListeningOn("127.0.0.1", 80)
	require.True(t, listening)
	assert.Equal(t, "nginx", sock.Program)
	assert.Greater(t, sock.PID, 2240)
	assert.Len(t, m.host.Pgrep("nginx", false), 3)

	u, err := m.host.Unit("nginx")
	require.NoError(t, err)
	assert.Equal(t, StateActive, u.Active)
	assert.Equal(t, sock.PID, u.MainPID)

	out, code, err = m.host.Status("nginx")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Active: active (running) since Thu 2024-03-14 09:30:00 UTC; 0s ago")
	assert.Contains(t, out, "Tasks: 3 (limit: 4557)")
	assert.Contains(t, out, "Started nginx.service")
}

func TestStartConflict(t *testing.T) {
	m := newTestMachine(t)

	err := m.host.Start("apache2")
	require.ErrorIs(t, err, ErrUnitFailed)
	assert.Contains(t, m.syslog(t), "Failed to start apache2.service - The Apache HTTP Server.")

	require.NoError(t, m.host.Stop("nginx"))
	require.NoError(t, m.host.Start("apache2"))
	sock, ok := m.net.ListeningOn("192.168.1.100", 80)
	require.True(t, ok)
	assert.Equal(t, "apache2", sock.Program)
}

func TestUnknownUnit(t *testing.T) {
	h := newTestMachine(t).host

	assert.ErrorIs(t, h.Start("nope"), ErrNoSuchUnit)
	_, code, err := h.Status("nope")
	assert.ErrorIs(t, err, ErrNoSuchUnit)
	assert.Equal(t, 4, code)
}

func TestKill(t *testing.T) {
	m := newTestMachine(t)

	require.NoError(t, m.host.Kill(1102, 15))
	_, ok := m.host.Process(1102)
	assert.True(t, ok, "TERM is a no-op")

	require.NoError(t, m.host.Kill(1102, SigKill))
	_, ok = m.host.Process(1102)
	assert.False(t, ok)
	_, listening := m.net.ListeningOn("127.0.0.1", 3306)
	assert.False(t, listening)

	u, err := m.host.Unit("mysql")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, u.Active)
	assert.Equal(t, "signal", u.Result)
	assert.Contains(t, m.syslog(t), "mysql.service: Main process exited, code=killed, status=9/KILL")

	assert.ErrorIs(t, m.host.Kill(99999, SigKill), ErrNoSuchProcess)

	require.NoError(t, m.host.Kill(1, SigKill))
	_, ok = m.host.Process(1)
	assert.True(t, ok)
}

func TestKillByName(t *testing.T) {
	m := newTestMachine(t)

	assert.Equal(t, 3, m.host.KillByName("nginx", SigKill))
	assert.Empty(t, m.host.Pgrep("nginx", false))
	assert.Equal(t, 0, m.host.KillByName("nginx", SigKill))
}

func TestRestartKeepsLoginSession(t *testing.T) {
	m := newTestMachine(t)

	require.NoError(t, m.host.Restart("sshd"))
	_, ok := m.host.Process(1902)
	assert.True(t, ok)
	_, ok = m.host.Process(812)
	assert.False(t, ok)
	_, ok = m.net.ListeningOn("127.0.0.1", 22)
	assert.True(t, ok)
}

func TestParseSignal(t *testing.T) {
	for in, want := range map[string]int{"9": 9, "KILL": 9, "sigkill": 9, "TERM": 15, "HUP": 1} {
		got, err := ParseSignal(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseSignal("BOGUS")
	assert.ErrorIs(t, err, ErrInvalidSignal)
	assert.True(t, strings.HasPrefix(SignalList(), " 1) SIGHUP"))
}

func TestPs(t *testing.T) {
	h := newTestMachine(t).host

	aux := h.PsAux()
	lines := strings.Split(aux, "\n")
	assert.Equal(t, "USER         PID %CPU %MEM    VSZ   RSS TTY      STAT START   TIME COMMAND", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "root           1 "))
	assert.Contains(t, aux, "/usr/sbin/mysqld")
	assert.Contains(t, aux, "systemd+")

	ef := h.PsEf()
	assert.True(t, strings.HasPrefix(ef, "UID          PID    PPID  C STIME TTY          TIME CMD"))

	out, ok := h.Ps(nil)
	assert.True(t, ok)
	assert.Contains(t, out, "bash")
	assert.Contains(t, out, " ps")

	out, ok = h.Ps([]int{1024})
	assert.True(t, ok)
	assert.Contains(t, out, "nginx")
	_, ok = h.Ps([]int{4242})
	assert.False(t, ok)

	top := h.Top()
	assert.True(t, strings.HasPrefix(top, "top - 09:30:00 up  4:00,"))
	assert.Contains(t, top, "Tasks:  14 total")
}

func TestJournalctl(t *testing.T) {
	h := newTestMachine(t).host

	out := h.Journalctl(JournalOptions{Unit: "apache2", Priority: 7})
	assert.Contains(t, out, "Address already in use")
	assert.NotContains(t, out, "nginx")

	errs := h.Journalctl(JournalOptions{Priority: 3})
	assert.Contains(t, errs, "Failed with result 'exit-code'")
	assert.NotContains(t, errs, "Started")

	last := h.Journalctl(JournalOptions{Lines: 2, Priority: 7})
	assert.Len(t, strings.Split(last, "\n"), 2)

	assert.Equal(t, "-- No entries --", h.Journalctl(JournalOptions{Unit: "vsftpd", Priority: 7}))
	assert.Equal(t, "-- No entries --", h.Journalctl(JournalOptions{Unit: "missing", Priority: 7}))

	p, err := ParsePriority("err")
	require.NoError(t, err)
	assert.Equal(t, 3, p)
	_, err = ParsePriority("loud")
	assert.Error(t, err)
}

func TestListUnits(t *testing.T) {
	h := newTestMachine(t).host

	out := h.ListUnits(false)
	assert.Contains(t, out, "● apache2.service")
	assert.NotContains(t, out, "vsftpd")
	assert.Contains(t, h.ListUnits(true), "vsftpd.service")
	assert.Contains(t, h.ListUnitFiles(), "vsftpd.service                   disabled        enabled")
	assert.Contains(t, h.StatusAll(), " [ + ]  nginx")
	assert.Contains(t, h.StatusAll(), " [ - ]  vsftpd")
}

func TestEnableDisable(t *testing.T) {
	h := newTestMachine(t).host

	msg, err := h.Enable("vsftpd")
	require.NoError(t, err)
	assert.Equal(t, "Created symlink /etc/systemd/system/multi-user.target.wants/vsftpd.service → /lib/systemd/system/vsftpd.service.", msg)
	u, _ := h.Unit("vsftpd")
	assert.Equal(t, "enabled", u.Enabled)

	msg, err = h.Disable("vsftpd")
	require.NoError(t, err)
	assert.Equal(t, "Removed /etc/systemd/system/multi-user.target.wants/vsftpd.service.", msg)

	msg, err = h.Enable("systemd-journald")
	require.NoError(t, err)
	assert.Contains(t, msg, "not meant to be enabled")
}

func TestFreeAndDf(t *testing.T) {
	h := newTestMachine(t).host

	free := h.Free(true)
	assert.Contains(t, free, "Mem:")
	assert.Contains(t, free, "Gi")
	assert.Contains(t, h.Free(false), "4025284")

	df := h.Df(true, false, 0)
	assert.True(t, strings.HasPrefix(df, "Filesystem      Size  Used Avail Use% Mounted on"), df)
	assert.Contains(t, df, "/dev/sda1")
	assert.Contains(t, h.Df(false, true, 0), "ext4")
}

func TestMemoryFormats(t *testing.T) {
	tests := []struct {
		kb         int64
		free, unit string
	}{
		{512, "512Ki", "512.0K"},
		{3072, "3.0Mi", "3.0M"},
		{22118, "22Mi", "21.6M"},
		{865280, "845Mi", "845.0M"},
		{4025284, "3.8Gi", "3.8G"},
	}
	for _, tt := range tests {
		t.Run(tt.free, func(t *testing.T) {
			assert.Equal(t, tt.free, humanKiB(tt.kb))
			assert.Equal(t, tt.unit, unitBytes(tt.kb))
		})
	}
}
