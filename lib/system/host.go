// Package system simulates the machine behind the lab shell: its kernel
// identity, process table, systemd units and journal, and the memory and
// disk figures the monitoring tools print.
package system

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/onkernel/termlab/lib/entropy"
	"github.com/onkernel/termlab/lib/vnet"
)

const (
	// KernelRelease is what `uname -r` prints.
	KernelRelease = "5.15.0-91-generic"
	kernelVersion = "#101-Ubuntu SMP Tue Nov 14 13:30:08 UTC 2023"
	machine       = "x86_64"

	// SyslogPath receives the journal lines written by unit transitions.
	SyslogPath = "/var/log/syslog"

	// uptimeAtStart is how long the machine has been up when a session begins.
	uptimeAtStart = 4 * time.Hour

	memTotalKB  = 4025284
	memBaseKB   = 612480
	swapTotalKB = 2097148
)

// Rand is the random source behind load averages and process jitter.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Journal is the log file store unit transitions append to.
type Journal interface {
	Hostname() string
	ReadFile(p string) (string, error)
	AppendFile(p, content string) error
}

// Sockets is the socket table services bind into.
type Sockets interface {
	AddSockets(socks ...vnet.Socket)
	CloseSockets(pid int)
	ListeningOn(addr string, port int) (vnet.Socket, bool)
}

// Options configures a Host.
type Options struct {
	Clock func() time.Time
	Rand  Rand
	// User is the login session's user for who, w and last.
	User string
}

// Host is one simulated machine.
type Host struct {
	opts    Options
	boot    time.Time
	login   time.Time
	journal Journal
	sockets Sockets
	procs   []*Process
	units   map[string]*Unit
	nextPID int
}

// New builds a host in its baseline state. journal and sockets may be nil,
// in which case unit transitions are not logged or bound.
func New(opts Options, journal Journal, sockets Sockets) *Host {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = entropy.New(entropy.NewSeed())
	}
	if opts.User == "" {
		opts.User = "student"
	}
	now := opts.Clock()
	h := &Host{
		opts:    opts,
		boot:    now.Add(-uptimeAtStart),
		login:   now.Add(-30 * time.Minute),
		journal: journal,
		sockets: sockets,
		nextPID: 2240,
	}
	h.procs = baselineProcesses(h.boot, h.login)
	h.units = baselineUnits(h.boot)
	return h
}

func (h *Host) now() time.Time { return h.opts.Clock() }

func (h *Host) hostname() string {
	if h.journal == nil {
		return "linux-lab"
	}
	return h.journal.Hostname()
}

// BootTime returns when the host came up.
func (h *Host) BootTime() time.Time { return h.boot }

// Uname renders uname for the given flag letters ("" behaves as "s").
func (h *Host) Uname(flags string) string {
	if flags == "" {
		flags = "s"
	}
	if strings.Contains(flags, "a") {
		return fmt.Sprintf("Linux %s %s %s %s %s %s GNU/Linux",
			h.hostname(), KernelRelease, kernelVersion, machine, machine, machine)
	}
	var parts []string
	for _, f := range []struct {
		flag  byte
		value string
	}{
		{'s', "Linux"},
		{'n', h.hostname()},
		{'r', KernelRelease},
		{'v', kernelVersion},
		{'m', machine},
		{'p', machine},
		{'i', machine},
		{'o', "GNU/Linux"},
	} {
		if strings.IndexByte(flags, f.flag) >= 0 {
			parts = append(parts, f.value)
		}
	}
	return strings.Join(parts, " ")
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	clock := fmt.Sprintf("%2d:%02d", hours, mins)
	if hours == 0 {
		clock = fmt.Sprintf("%d min", mins)
	}
	if days > 0 {
		unit := "days"
		if days == 1 {
			unit = "day"
		}
		return fmt.Sprintf("%d %s, %s", days, unit, clock)
	}
	return clock
}

func (h *Host) loadAverage() string {
	one := 0.02 + h.opts.Rand.Float64()*0.2
	return fmt.Sprintf("%.2f, %.2f, %.2f", one, one*0.6, one*0.3)
}

func (h *Host) summary() string {
	now := h.now()
	return fmt.Sprintf(" %s up %s,  1 user,  load average: %s",
		now.Format("15:04:05"), formatUptime(now.Sub(h.boot)), h.loadAverage())
}

// Uptime renders uptime; pretty selects the `uptime -p` form.
func (h *Host) Uptime(pretty bool) string {
	if !pretty {
		return h.summary()
	}
	d := h.now().Sub(h.boot)
	var parts []string
	if days := int(d.Hours()) / 24; days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours := int(d.Hours()) % 24; hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if mins := int(d.Minutes()) % 60; mins > 0 || len(parts) == 0 {
		parts = append(parts, plural(mins, "minute"))
	}
	return "up " + strings.Join(parts, ", ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Memory is a /proc/meminfo style snapshot in KiB.
type Memory struct {
	Total, Used, Free, Shared, Cache, Available int64
	SwapTotal, SwapUsed, SwapFree               int64
}

// Memory derives usage from the resident size of running processes.
func (h *Host) Memory() Memory {
	used := int64(memBaseKB)
	for _, p := range h.procs {
		used += int64(p.RSS)
	}
	cache := int64(1296644)
	m := Memory{
		Total:     memTotalKB,
		Used:      used,
		Shared:    2920,
		Cache:     cache,
		SwapTotal: swapTotalKB,
		SwapFree:  swapTotalKB,
	}
	m.Free = m.Total - m.Used - m.Cache
	m.Available = m.Free + m.Cache*3/4
	return m
}

// humanKiB renders KiB amounts the way `free -h` does: one decimal below
// ten units, whole numbers above.
func humanKiB(kb int64) string {
	b := datasize.ByteSize(kb) * datasize.KB
	var v float64
	var unit string
	switch {
	case b >= datasize.GB:
		v, unit = b.GBytes(), "Gi"
	case b >= datasize.MB:
		v, unit = b.MBytes(), "Mi"
	case b >= datasize.KB:
		v, unit = b.KBytes(), "Ki"
	default:
		return fmt.Sprintf("%dB", b)
	}
	if v < 10 {
		return fmt.Sprintf("%.1f%s", v, unit)
	}
	return fmt.Sprintf("%.0f%s", v, unit)
}

// unitBytes renders KiB amounts the way systemctl status does.
func unitBytes(kb int64) string {
	b := datasize.ByteSize(kb) * datasize.KB
	switch {
	case b >= datasize.GB:
		return fmt.Sprintf("%.1fG", b.GBytes())
	case b >= datasize.MB:
		return fmt.Sprintf("%.1fM", b.MBytes())
	default:
		return fmt.Sprintf("%.1fK", b.KBytes())
	}
}

// Free renders free; human selects -h.
func (h *Host) Free(human bool) string {
	m := h.Memory()
	cell := func(v int64) string {
		if human {
			return humanKiB(v)
		}
		return fmt.Sprint(v)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%15s %11s %11s %11s %11s %11s\n", "total", "used", "free", "shared", "buff/cache", "available")
	fmt.Fprintf(&b, "%-5s %9s %11s %11s %11s %11s %11s\n", "Mem:", cell(m.Total), cell(m.Used), cell(m.Free), cell(m.Shared), cell(m.Cache), cell(m.Available))
	fmt.Fprintf(&b, "%-5s %9s %11s %11s", "Swap:", cell(m.SwapTotal), cell(m.SwapUsed), cell(m.SwapFree))
	return b.String()
}

type mount struct {
	source  string
	target  string
	fstype  string
	totalKB int64
	usedKB  int64
}

func mounts(rootUsedKB int64) []mount {
	return []mount{
		{"tmpfs", "/run", "tmpfs", 402528, 1180},
		{"/dev/sda1", "/", "ext4", 61611820, 9874560 + rootUsedKB},
		{"tmpfs", "/dev/shm", "tmpfs", 2012640, 0},
		{"tmpfs", "/run/lock", "tmpfs", 5120, 4},
		{"/dev/sda15", "/boot/efi", "vfat", 106858, 6186},
		{"tmpfs", "/run/user/1000", "tmpfs", 402524, 4},
	}
}

// Df renders df. extraKB is added to the root filesystem's usage so files
// created in the lab show up.
func (h *Host) Df(human, showType bool, extraKB int64) string {
	layout := "%-14s %s%9s %7s %9s %4s %s"
	size, avail := "1K-blocks", "Available"
	if human {
		layout = "%-14s %s%5s %5s %5s %4s %s"
		size, avail = "Size", "Avail"
	}
	fstype := func(t string) string {
		if !showType {
			return ""
		}
		return fmt.Sprintf("%-5s ", t)
	}
	cell := func(v int64) string {
		if human {
			return dfHuman(v)
		}
		return fmt.Sprint(v)
	}
	var b strings.Builder
	fmt.Fprintf(&b, layout, "Filesystem", fstype("Type"), size, "Used", avail, "Use%", "Mounted on")
	for _, m := range mounts(extraKB) {
		pct := 0
		if m.totalKB > 0 {
			pct = int((m.usedKB*100 + m.totalKB - 1) / m.totalKB)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, layout, m.source, fstype(m.fstype), cell(m.totalKB), cell(m.usedKB), cell(m.totalKB-m.usedKB), fmt.Sprintf("%d%%", pct), m.target)
	}
	return b.String()
}

func dfHuman(kb int64) string {
	b := datasize.ByteSize(kb) * datasize.KB
	switch {
	case b == 0:
		return "0"
	case b >= 10*datasize.GB:
		return fmt.Sprintf("%.0fG", b.GBytes())
	case b >= datasize.GB:
		return fmt.Sprintf("%.1fG", b.GBytes())
	case b >= 10*datasize.MB:
		return fmt.Sprintf("%.0fM", b.MBytes())
	case b >= datasize.MB:
		return fmt.Sprintf("%.1fM", b.MBytes())
	default:
		return fmt.Sprintf("%.0fK", b.KBytes())
	}
}

// Who renders who.
func (h *Host) Who() string {
	return fmt.Sprintf("%-8s %-12s %s (192.168.1.50)", h.opts.User, "pts/0", h.login.Format("2006-01-02 15:04"))
}

// W renders w.
func (h *Host) W() string {
	return h.summary() + "\n" +
		fmt.Sprintf("%-8s %-8s %-16s %-8s %-6s %-6s %-6s %s\n", "USER", "TTY", "FROM", "LOGIN@", "IDLE", "JCPU", "PCPU", "WHAT") +
		fmt.Sprintf("%-8s %-8s %-16s %-8s %-6s %-6s %-6s %s", h.opts.User, "pts/0", "192.168.1.50", h.login.Format("15:04"), "0.00s", "0.04s", "0.00s", "w")
}

// Last renders last.
func (h *Host) Last() string {
	return fmt.Sprintf("%-8s %-12s %-16s %s   still logged in\n", h.opts.User, "pts/0", "192.168.1.50", h.login.Format("Mon Jan _2 15:04")) +
		fmt.Sprintf("%-8s %-12s %-16s %s   still running\n\n", "reboot", "system boot", KernelRelease[:16], h.boot.Format("Mon Jan _2 15:04")) +
		"wtmp begins " + h.boot.Format("Mon Jan _2 15:04:05 2006")
}

// sortProcs keeps the process table in PID order.
func (h *Host) sortProcs() {
	sort.Slice(h.procs, func(i, j int) bool { return h.procs[i].PID < h.procs[j].PID })
}

func (h *Host) log(ident string, lines ...string) {
	if h.journal == nil {
		return
	}
	stamp := h.now().Format(time.Stamp)
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%s %s %s: %s\n", stamp, h.hostname(), ident, l)
	}
	_ = h.journal.AppendFile(SyslogPath, b.String())
}
