package lessons

import (
	"testing"
	"time"

	"github.com/onkernel/termlab/lib/entropy"
	"github.com/onkernel/termlab/lib/system"
	"github.com/onkernel/termlab/lib/vfs"
	"github.com/onkernel/termlab/lib/vnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type machine struct {
	fs   *vfs.FS
	net  *vnet.Network
	host *system.Host
}

func newMachine(t *testing.T) machine {
	t.Helper()
	clock := func() time.Time { return time.Date(2024, time.March, 14, 9, 30, 0, 0, time.UTC) }
	fs := vfs.New(vfs.Options{Clock: clock})
	n := vnet.New(vnet.Options{Clock: clock, Rand: entropy.New("net")})
	h := system.New(system.Options{Clock: clock, Rand: entropy.New("host")}, fs, n)
	return machine{fs: fs, net: n, host: h}
}

func builtinLesson(t *testing.T, id string) *Lesson {
	t.Helper()
	c, err := Load("")
	require.NoError(t, err)
	l, err := c.Get(id)
	require.NoError(t, err)
	return l
}

func TestSetupPermissions(t *testing.T) {
	m := newMachine(t)
	require.NoError(t, builtinLesson(t, "permissions").Apply(m.fs, m.net, m.host))

	st, ok := m.fs.Stat("~/deploy.sh")
	require.True(t, ok)
	assert.Equal(t, "644", st.Octal())
	assert.Equal(t, "student", st.Owner)
	assert.Equal(t, "student", st.Group)

	st, ok = m.fs.Stat("/srv/shared/report.txt")
	require.True(t, ok)
	assert.Equal(t, "640", st.Octal())
	assert.Equal(t, "alice", st.Owner)
	assert.Equal(t, "developers", st.Group)

	dir, ok := m.fs.Stat("/srv/shared")
	require.True(t, ok)
	assert.Equal(t, "alice", dir.Owner, "missing parents take the fixture's owner")

	alice, ok := m.fs.LookupUser("alice")
	require.True(t, ok)
	groups := m.fs.UserGroups(alice)
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	assert.Contains(t, names, "developers")
	assert.True(t, m.fs.Exists("/home/alice"))
}

func TestSetupDefaultsToHomeAndRoot(t *testing.T) {
	m := newMachine(t)
	l := &Lesson{
		ID:    "owners",
		Title: "Owners",
		Cwd:   "/opt/app",
		Files: []File{
			{Path: "notes.txt", Content: "mine"},
			{Path: "/opt/app/config.ini", Content: "[main]\n"},
		},
	}
	require.NoError(t, l.SetupFS(m.fs))

	st, ok := m.fs.Stat("/home/student/notes.txt")
	require.True(t, ok, "relative paths resolve against the home directory")
	assert.Equal(t, "student", st.Owner)

	st, ok = m.fs.Stat("/opt/app/config.ini")
	require.True(t, ok)
	assert.Equal(t, "root", st.Owner)
	assert.Equal(t, "/opt/app", m.fs.Cwd())
}

func TestSetupNetwork(t *testing.T) {
	m := newMachine(t)
	require.NoError(t, builtinLesson(t, "network-troubleshooting").Apply(m.fs, m.net, m.host))

	ip, err := m.net.Resolve("app01")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.40", ip.String())

	out, ok := m.net.Chain("OUTPUT")
	require.True(t, ok)
	require.Len(t, out.Rules, 1)
	assert.Equal(t, "DROP", out.Rules[0].Target)
	assert.Equal(t, 8080, out.Rules[0].DPort)
}

func TestSetupFailedService(t *testing.T) {
	m := newMachine(t)
	require.NoError(t, builtinLesson(t, "service-recovery").Apply(m.fs, m.net, m.host))

	u, err := m.host.Unit("nginx")
	require.NoError(t, err)
	assert.Equal(t, system.StateFailed, u.Active)
	_, listening := m.net.ListeningOn("127.0.0.1", 80)
	assert.False(t, listening)
}

func TestSetupHostname(t *testing.T) {
	m := newMachine(t)
	l := &Lesson{ID: "named", Title: "Named", Hostname: "web01"}
	require.NoError(t, l.Apply(m.fs, m.net, m.host))

	assert.Equal(t, "web01", m.fs.Hostname())
	assert.Equal(t, "web01", m.net.Hostname())
	etc, err := m.fs.ReadFile("/etc/hostname")
	require.NoError(t, err)
	assert.Equal(t, "web01\n", etc)
}

func TestSetupExistingGroup(t *testing.T) {
	m := newMachine(t)
	before, ok := m.fs.LookupGroup("developers")
	require.True(t, ok)

	l := &Lesson{ID: "groups", Groups: []string{"developers", "ops"}}
	require.NoError(t, l.SetupFS(m.fs))

	after, ok := m.fs.LookupGroup("developers")
	require.True(t, ok)
	assert.Equal(t, before.GID, after.GID, "existing groups are reused")
	_, ok = m.fs.LookupGroup("ops")
	assert.True(t, ok)
}
