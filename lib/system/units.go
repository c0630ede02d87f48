package system

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/onkernel/termlab/lib/vnet"
)

// Unit states as systemctl reports them.
const (
	StateActive   = "active"
	StateInactive = "inactive"
	StateFailed   = "failed"
)

// processSpec is a process a unit runs while active. Parent -1 means the
// unit's main process.
type processSpec struct {
	Name    string
	User    string
	Command string
	Stat    string
	VSZ     int
	RSS     int
	Parent  int
}

// Unit is one systemd service.
type Unit struct {
	Name        string
	Description string
	Docs        string
	// Ident is the syslog identifier the daemon logs under.
	Ident   string
	Active  string
	Result  string
	Enabled string
	Preset  string
	MainPID int
	Since   time.Time

	processes []processSpec
	sockets   []vnet.Socket
	startLog  []string
}

// Sub is the low-level state column of list-units.
func (u Unit) Sub() string {
	switch u.Active {
	case StateActive:
		return "running"
	case StateFailed:
		return "failed"
	default:
		return "dead"
	}
}

func tcpListen(local string, fd int) vnet.Socket {
	proto := "tcp"
	remote := "0.0.0.0:*"
	if strings.HasPrefix(local, "[") {
		proto, remote = "tcp6", "[::]:*"
	}
	return vnet.Socket{Proto: proto, Local: local, Remote: remote, State: "LISTEN", FD: fd}
}

func baselineUnits(boot time.Time) map[string]*Unit {
	up := boot.Add(2 * time.Minute)
	units := []*Unit{
		{
			Name: "systemd-journald.service", Description: "Journal Service", Docs: "man:systemd-journald.service(8)",
			Ident: "systemd-journald", Active: StateActive, Enabled: "static", Preset: "enabled", MainPID: 312, Since: boot,
			processes: []processSpec{{Name: "systemd-journal", User: "root", Command: "/lib/systemd/systemd-journald", Stat: "S<s", VSZ: 47728, RSS: 15744, Parent: 1}},
		},
		{
			Name: "systemd-networkd.service", Description: "Network Configuration", Docs: "man:systemd-networkd.service(8)",
			Ident: "systemd-networkd", Active: StateActive, Enabled: "enabled", Preset: "enabled", MainPID: 488, Since: boot,
			processes: []processSpec{{Name: "systemd-network", User: "systemd-network", Command: "/lib/systemd/systemd-networkd", Stat: "Ss", VSZ: 16128, RSS: 8064, Parent: 1}},
			sockets:   []vnet.Socket{{Proto: "udp", Local: vnet.LocalIP + ":68", Remote: "0.0.0.0:*", FD: 19}},
		},
		{
			Name: "systemd-resolved.service", Description: "Network Name Resolution", Docs: "man:systemd-resolved.service(8)",
			Ident: "systemd-resolved", Active: StateActive, Enabled: "enabled", Preset: "enabled", MainPID: 523, Since: boot,
			processes: []processSpec{{Name: "systemd-resolve", User: "systemd-resolve", Command: "/lib/systemd/systemd-resolved", Stat: "Ss", VSZ: 25536, RSS: 12800, Parent: 1}},
			sockets: []vnet.Socket{
				tcpListen("127.0.0.53:53", 14),
				{Proto: "udp", Local: "127.0.0.53:53", Remote: "0.0.0.0:*", FD: 13},
			},
		},
		{
			Name: "cron.service", Description: "Regular background program processing daemon", Docs: "man:cron(8)",
			Ident: "cron", Active: StateActive, Enabled: "enabled", Preset: "enabled", MainPID: 640, Since: boot,
			processes: []processSpec{{Name: "cron", User: "root", Command: "/usr/sbin/cron -f -P", Stat: "Ss", VSZ: 9492, RSS: 2816, Parent: 1}},
			startLog:  []string{"(CRON) INFO (pidfile fd = 3)", "(CRON) INFO (Skipping @reboot jobs -- not system startup)"},
		},
		{
			Name: "rsyslog.service", Description: "System Logging Service", Docs: "man:rsyslogd(8)",
			Ident: "rsyslogd", Active: StateActive, Enabled: "enabled", Preset: "enabled", MainPID: 701, Since: boot,
			processes: []processSpec{{Name: "rsyslogd", User: "syslog", Command: "/usr/sbin/rsyslogd -n -iNONE", Stat: "Ssl", VSZ: 222404, RSS: 5888, Parent: 1}},
		},
		{
			Name: "ssh.service", Description: "OpenBSD Secure Shell server", Docs: "man:sshd(8)",
			Ident: "sshd", Active: StateActive, Enabled: "enabled", Preset: "enabled", MainPID: 812, Since: up,
			processes: []processSpec{{Name: "sshd", User: "root", Command: "sshd: /usr/sbin/sshd -D [listener] 0 of 10-100 startups", Stat: "Ss", VSZ: 15432, RSS: 9088, Parent: 1}},
			sockets:   []vnet.Socket{tcpListen("0.0.0.0:22", 3), tcpListen("[::]:22", 4)},
			startLog:  []string{"Server listening on 0.0.0.0 port 22.", "Server listening on :: port 22."},
		},
		{
			Name: "nginx.service", Description: "A high performance web server and a reverse proxy server", Docs: "man:nginx(8)",
			Ident: "nginx", Active: StateActive, Enabled: "enabled", Preset: "enabled", MainPID: 1024, Since: up,
			processes: []processSpec{
				{Name: "nginx", User: "root", Command: "nginx: master process /usr/sbin/nginx -g daemon on; master_process on;", Stat: "Ss", VSZ: 55228, RSS: 1652, Parent: 1},
				{Name: "nginx", User: "www-data", Command: "nginx: worker process", Stat: "S", VSZ: 55876, RSS: 5604, Parent: -1},
				{Name: "nginx", User: "www-data", Command: "nginx: worker process", Stat: "S", VSZ: 55876, RSS: 5604, Parent: -1},
			},
			sockets: []vnet.Socket{tcpListen("0.0.0.0:80", 6)},
		},
		{
			Name: "mysql.service", Description: "MySQL Community Server", Docs: "man:mysqld(8)",
			Ident: "mysqld", Active: StateActive, Enabled: "enabled", Preset: "enabled", MainPID: 1102, Since: boot.Add(3 * time.Minute),
			processes: []processSpec{{Name: "mysqld", User: "mysql", Command: "/usr/sbin/mysqld", Stat: "Ssl", VSZ: 2356948, RSS: 389120, Parent: 1}},
			sockets:   []vnet.Socket{tcpListen("127.0.0.1:3306", 21)},
			startLog:  []string{"/usr/sbin/mysqld: ready for connections. Version: '8.0.35-0ubuntu0.22.04.1'  socket: '/var/run/mysqld/mysqld.sock'  port: 3306"},
		},
		{
			Name: "apache2.service", Description: "The Apache HTTP Server", Docs: "https://httpd.apache.org/docs/2.4/",
			Ident: "apache2", Active: StateFailed, Result: "exit-code", Enabled: "enabled", Preset: "enabled", Since: boot.Add(3 * time.Minute),
			processes: []processSpec{
				{Name: "apache2", User: "root", Command: "/usr/sbin/apache2 -k start", Stat: "Ss", VSZ: 6816, RSS: 4608, Parent: 1},
				{Name: "apache2", User: "www-data", Command: "/usr/sbin/apache2 -k start", Stat: "Sl", VSZ: 753336, RSS: 4480, Parent: -1},
			},
			sockets: []vnet.Socket{tcpListen("0.0.0.0:80", 4)},
		},
		{
			Name: "vsftpd.service", Description: "vsftpd FTP server", Docs: "man:vsftpd(8)",
			Ident: "vsftpd", Active: StateInactive, Enabled: "disabled", Preset: "enabled",
			processes: []processSpec{{Name: "vsftpd", User: "root", Command: "/usr/sbin/vsftpd /etc/vsftpd.conf", Stat: "Ss", VSZ: 6844, RSS: 2560, Parent: 1}},
			sockets:   []vnet.Socket{tcpListen("0.0.0.0:21", 3)},
		},
	}
	out := make(map[string]*Unit, len(units))
	for _, u := range units {
		out[u.Name] = u
	}
	return out
}

// unitAliases maps the names people type to unit names.
var unitAliases = map[string]string{
	"sshd":             "ssh.service",
	"mysqld":           "mysql.service",
	"httpd":            "apache2.service",
	"journald":         "systemd-journald.service",
	"resolved":         "systemd-resolved.service",
	"networkd":         "systemd-networkd.service",
	"syslog":           "rsyslog.service",
	"syslog.service":   "rsyslog.service",
	"sshd.service":     "ssh.service",
	"mysqld.service":   "mysql.service",
	"systemd-resolve":  "systemd-resolved.service",
	"systemd-journal":  "systemd-journald.service",
	"systemd-networkd": "systemd-networkd.service",
}

// UnitName normalizes a user supplied name to a unit name.
func UnitName(name string) string {
	if alias, ok := unitAliases[name]; ok {
		return alias
	}
	if !strings.Contains(name, ".") {
		return name + ".service"
	}
	return name
}

func (h *Host) unit(name string) (*Unit, error) {
	u, ok := h.units[UnitName(name)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", UnitName(name), ErrNoSuchUnit)
	}
	return u, nil
}

// Unit returns a copy of the named unit.
func (h *Host) Unit(name string) (Unit, error) {
	u, err := h.unit(name)
	if err != nil {
		return Unit{}, err
	}
	return *u, nil
}

// Units returns every unit sorted by name.
func (h *Host) Units() []Unit {
	out := make([]Unit, 0, len(h.units))
	for _, u := range h.units {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (h *Host) unitByMainPID(pid int) *Unit {
	for _, u := range h.units {
		if u.MainPID == pid && u.Active == StateActive {
			return u
		}
	}
	return nil
}

func (h *Host) unitPIDs(u *Unit) []int {
	var pids []int
	for _, p := range h.procs {
		if p.Unit == u.Name {
			pids = append(pids, p.PID)
		}
	}
	return pids
}

// removeUnitProcesses drops the unit's cgroup. Login sessions forked from
// a daemon live in their own scope and survive.
func (h *Host) removeUnitProcesses(u *Unit) {
	kept := h.procs[:0]
	var gone []int
	for _, p := range h.procs {
		if p.Unit == u.Name {
			gone = append(gone, p.PID)
			continue
		}
		kept = append(kept, p)
	}
	h.procs = kept
	if h.sockets != nil {
		for _, pid := range gone {
			h.sockets.CloseSockets(pid)
		}
	}
}

func (h *Host) systemd(lines ...string) { h.log("systemd[1]", lines...) }

func (h *Host) failUnit(u *Unit, reason, result string) {
	u.Active = StateFailed
	u.Result = result
	u.MainPID = 0
	u.Since = h.now()
	h.systemd(
		u.Name+": "+reason,
		fmt.Sprintf("%s: Failed with result '%s'.", u.Name, result),
	)
}

// conflict reports the socket already bound where u wants to listen.
func (h *Host) conflict(u *Unit) (vnet.Socket, bool) {
	if h.sockets == nil {
		return vnet.Socket{}, false
	}
	for _, s := range u.sockets {
		if s.State != "LISTEN" {
			continue
		}
		host, port, err := net.SplitHostPort(s.Local)
		if err != nil {
			continue
		}
		n, _ := strconv.Atoi(port)
		if host == "::" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		if bound, ok := h.sockets.ListeningOn(host, n); ok {
			return bound, true
		}
	}
	return vnet.Socket{}, false
}

// Start activates a unit: its processes join the table, its sockets bind
// and the journal records the transition. Starting an active unit is a
// no-op. A unit whose listen address is taken fails with ErrUnitFailed.
func (h *Host) Start(name string) error {
	u, err := h.unit(name)
	if err != nil {
		return err
	}
	if u.Active == StateActive {
		return nil
	}
	h.systemd(fmt.Sprintf("Starting %s - %s...", u.Name, u.Description))
	if bound, taken := h.conflict(u); taken {
		pid := h.nextPID + 1
		h.nextPID++
		msg := fmt.Sprintf("bind %s: Address already in use", bound.Local)
		if u.Ident == "apache2" {
			msg = "(98)Address already in use: AH00072: make_sock: could not bind to address " + bound.Local
		}
		h.log(fmt.Sprintf("%s[%d]", u.Ident, pid), msg)
		h.failUnit(u, "Control process exited, code=exited, status=1/FAILURE", "exit-code")
		h.systemd(fmt.Sprintf("Failed to start %s - %s.", u.Name, u.Description))
		return fmt.Errorf("%s: %w", u.Name, ErrUnitFailed)
	}

	main := 0
	for _, spec := range u.processes {
		parent := spec.Parent
		if parent == -1 {
			parent = main
		}
		pid := h.spawn(Process{
			PPID: parent, User: spec.User, Name: spec.Name, Command: spec.Command,
			TTY: "?", Stat: spec.Stat, VSZ: spec.VSZ, RSS: spec.RSS, Unit: u.Name,
		})
		if main == 0 {
			main = pid
		}
	}
	if h.sockets != nil && len(u.processes) > 0 {
		owner := u.processes[0]
		socks := make([]vnet.Socket, 0, len(u.sockets))
		for _, s := range u.sockets {
			s.PID = main
			s.Program = owner.Name
			s.User = owner.User
			socks = append(socks, s)
		}
		h.sockets.AddSockets(socks...)
	}
	u.Active = StateActive
	u.Result = ""
	u.MainPID = main
	u.Since = h.now()
	if len(u.startLog) > 0 {
		h.log(fmt.Sprintf("%s[%d]", u.Ident, main), u.startLog...)
	}
	h.systemd(fmt.Sprintf("Started %s - %s.", u.Name, u.Description))
	return nil
}

// Stop deactivates a unit. Stopping an inactive unit is a no-op; stopping
// a failed one clears the failure.
func (h *Host) Stop(name string) error {
	u, err := h.unit(name)
	if err != nil {
		return err
	}
	switch u.Active {
	case StateInactive:
		return nil
	case StateFailed:
		u.Active = StateInactive
		u.Result = ""
		return nil
	}
	h.systemd(fmt.Sprintf("Stopping %s - %s...", u.Name, u.Description))
	h.removeUnitProcesses(u)
	u.Active = StateInactive
	u.MainPID = 0
	u.Since = h.now()
	h.systemd(
		u.Name+": Deactivated successfully.",
		fmt.Sprintf("Stopped %s - %s.", u.Name, u.Description),
	)
	return nil
}

// Restart stops then starts a unit.
func (h *Host) Restart(name string) error {
	if err := h.Stop(name); err != nil {
		return err
	}
	return h.Start(name)
}

// Reload asks an active unit to reread its configuration.
func (h *Host) Reload(name string) error {
	u, err := h.unit(name)
	if err != nil {
		return err
	}
	if u.Active != StateActive {
		return fmt.Errorf("%s: %w", u.Name, ErrUnitFailed)
	}
	h.systemd(
		fmt.Sprintf("Reloading %s - %s...", u.Name, u.Description),
		fmt.Sprintf("Reloaded %s - %s.", u.Name, u.Description),
	)
	return nil
}

// Enable marks a unit to start at boot and returns systemctl's message.
func (h *Host) Enable(name string) (string, error) {
	u, err := h.unit(name)
	if err != nil {
		return "", err
	}
	if u.Enabled == "static" {
		return "The unit files have no installation config (WantedBy=, RequiredBy=, Also=,\nAlias= settings in the [Install] section, and DefaultInstance= for template\nunits). This means they are not meant to be enabled or disabled using systemctl.", nil
	}
	if u.Enabled == "enabled" {
		return "", nil
	}
	u.Enabled = "enabled"
	h.systemd("Reloading.")
	return fmt.Sprintf("Created symlink /etc/systemd/system/multi-user.target.wants/%s → /lib/systemd/system/%s.", u.Name, u.Name), nil
}

// Disable clears a unit's boot-time start.
func (h *Host) Disable(name string) (string, error) {
	u, err := h.unit(name)
	if err != nil {
		return "", err
	}
	if u.Enabled != "enabled" {
		return "", nil
	}
	u.Enabled = "disabled"
	h.systemd("Reloading.")
	return fmt.Sprintf("Removed /etc/systemd/system/multi-user.target.wants/%s.", u.Name), nil
}

// DaemonReload logs a manager reload.
func (h *Host) DaemonReload() {
	h.systemd("Reloading.")
}

func since(t, now time.Time) string {
	d := now.Sub(t)
	var ago string
	switch {
	case d >= time.Hour:
		ago = fmt.Sprintf("%dh %dmin ago", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		ago = fmt.Sprintf("%dmin %ds ago", int(d.Minutes()), int(d.Seconds())%60)
	default:
		ago = fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	return t.Format("Mon 2006-01-02 15:04:05 MST") + "; " + ago
}

// Status renders `systemctl status` for a unit, followed by its most recent
// journal lines. The exit code follows systemctl: 0 active, 3 otherwise.
func (h *Host) Status(name string) (string, int, error) {
	u, err := h.unit(name)
	if err != nil {
		return "", 4, err
	}
	now := h.now()
	var b strings.Builder
	dot := "●"
	switch u.Active {
	case StateInactive:
		dot = "○"
	case StateFailed:
		dot = "×"
	}
	fmt.Fprintf(&b, "%s %s - %s\n", dot, u.Name, u.Description)
	fmt.Fprintf(&b, "     Loaded: loaded (/lib/systemd/system/%s; %s; vendor preset: %s)\n", u.Name, u.Enabled, u.Preset)
	switch u.Active {
	case StateActive:
		fmt.Fprintf(&b, "     Active: active (running) since %s\n", since(u.Since, now))
	case StateFailed:
		fmt.Fprintf(&b, "     Active: failed (Result: %s) since %s\n", u.Result, since(u.Since, now))
	default:
		b.WriteString("     Active: inactive (dead)\n")
	}
	fmt.Fprintf(&b, "       Docs: %s\n", u.Docs)
	if u.Active == StateActive {
		pids := h.unitPIDs(u)
		var rss int
		for _, pid := range pids {
			p, _ := h.Process(pid)
			rss += p.RSS
		}
		fmt.Fprintf(&b, "   Main PID: %d (%s)\n", u.MainPID, u.processes[0].Name)
		fmt.Fprintf(&b, "      Tasks: %d (limit: 4557)\n", len(pids))
		fmt.Fprintf(&b, "     Memory: %s\n", unitBytes(int64(rss)/4))
		fmt.Fprintf(&b, "     CGroup: /system.slice/%s\n", u.Name)
		for i, pid := range pids {
			p, _ := h.Process(pid)
			branch := "├─"
			if i == len(pids)-1 {
				branch = "└─"
			}
			fmt.Fprintf(&b, "             %s%d \"%s\"\n", branch, pid, p.Command)
		}
	}
	if lines := h.unitJournal(u, 10); len(lines) > 0 {
		b.WriteString("\n" + strings.Join(lines, "\n"))
	}
	code := 0
	if u.Active != StateActive {
		code = 3
	}
	return strings.TrimRight(b.String(), "\n"), code, nil
}

// ListUnits renders `systemctl list-units --type=service`. Inactive units
// are listed only with all.
func (h *Host) ListUnits(all bool) string {
	var rows []Unit
	for _, u := range h.Units() {
		if all || u.Active != StateInactive {
			rows = append(rows, u)
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "  %-32s %-6s %-8s %-7s %s\n", "UNIT", "LOAD", "ACTIVE", "SUB", "DESCRIPTION")
	for _, u := range rows {
		mark := " "
		if u.Active == StateFailed {
			mark = "●"
		}
		fmt.Fprintf(&b, "%s %-32s %-6s %-8s %-7s %s\n", mark, u.Name, "loaded", u.Active, u.Sub(), u.Description)
	}
	b.WriteString("\nLOAD   = Reflects whether the unit definition was properly loaded.\n")
	b.WriteString("ACTIVE = The high-level unit activation state, i.e. generalization of SUB.\n")
	b.WriteString("SUB    = The low-level unit activation state, values depend on unit type.\n")
	fmt.Fprintf(&b, "%d loaded units listed.", len(rows))
	if !all {
		b.WriteString(" Pass --all to see loaded but inactive units, too.")
	}
	return b.String()
}

// ListUnitFiles renders `systemctl list-unit-files --type=service`.
func (h *Host) ListUnitFiles() string {
	var b strings.Builder
	units := h.Units()
	fmt.Fprintf(&b, "%-32s %-15s %s\n", "UNIT FILE", "STATE", "VENDOR PRESET")
	for _, u := range units {
		fmt.Fprintf(&b, "%-32s %-15s %s\n", u.Name, u.Enabled, u.Preset)
	}
	fmt.Fprintf(&b, "\n%d unit files listed.", len(units))
	return b.String()
}

// StatusAll renders `service --status-all`.
func (h *Host) StatusAll() string {
	var lines []string
	for _, u := range h.Units() {
		if strings.HasPrefix(u.Name, "systemd-") {
			continue
		}
		mark := "-"
		if u.Active == StateActive {
			mark = "+"
		}
		lines = append(lines, fmt.Sprintf(" [ %s ]  %s", mark, strings.TrimSuffix(u.Name, ".service")))
	}
	return strings.Join(lines, "\n")
}
