package system

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Process is one entry in the simulated process table.
type Process struct {
	PID     int
	PPID    int
	User    string
	Name    string
	Command string
	TTY     string
	Stat    string
	VSZ     int
	RSS     int
	CPU     float64
	Started time.Time
	CPUTime time.Duration
	// Unit is the systemd unit owning the process, if any.
	Unit string
}

func (p Process) comm() string {
	if len(p.Name) > 15 {
		return p.Name[:15]
	}
	return p.Name
}

func baselineProcesses(boot, login time.Time) []*Process {
	at := func(d time.Duration) time.Time { return boot.Add(d) }
	return []*Process{
		{PID: 1, User: "root", Name: "systemd", Command: "/sbin/init splash", TTY: "?", Stat: "Ss", VSZ: 167744, RSS: 13056, Started: boot, CPUTime: 2 * time.Second},
		{PID: 2, User: "root", Name: "kthreadd", Command: "[kthreadd]", TTY: "?", Stat: "S", Started: boot},
		{PID: 312, PPID: 1, User: "root", Name: "systemd-journal", Command: "/lib/systemd/systemd-journald", TTY: "?", Stat: "S<s", VSZ: 47728, RSS: 15744, Started: at(time.Second), CPUTime: time.Second, Unit: "systemd-journald.service"},
		{PID: 488, PPID: 1, User: "systemd-network", Name: "systemd-network", Command: "/lib/systemd/systemd-networkd", TTY: "?", Stat: "Ss", VSZ: 16128, RSS: 8064, Started: at(time.Minute), Unit: "systemd-networkd.service"},
		{PID: 523, PPID: 1, User: "systemd-resolve", Name: "systemd-resolve", Command: "/lib/systemd/systemd-resolved", TTY: "?", Stat: "Ss", VSZ: 25536, RSS: 12800, Started: at(time.Minute), Unit: "systemd-resolved.service"},
		{PID: 640, PPID: 1, User: "root", Name: "cron", Command: "/usr/sbin/cron -f -P", TTY: "?", Stat: "Ss", VSZ: 9492, RSS: 2816, Started: at(time.Minute), Unit: "cron.service"},
		{PID: 701, PPID: 1, User: "syslog", Name: "rsyslogd", Command: "/usr/sbin/rsyslogd -n -iNONE", TTY: "?", Stat: "Ssl", VSZ: 222404, RSS: 5888, Started: at(time.Minute), Unit: "rsyslog.service"},
		{PID: 812, PPID: 1, User: "root", Name: "sshd", Command: "sshd: /usr/sbin/sshd -D [listener] 0 of 10-100 startups", TTY: "?", Stat: "Ss", VSZ: 15432, RSS: 9088, Started: at(2 * time.Minute), Unit: "ssh.service"},
		{PID: 1024, PPID: 1, User: "root", Name: "nginx", Command: "nginx: master process /usr/sbin/nginx -g daemon on; master_process on;", TTY: "?", Stat: "Ss", VSZ: 55228, RSS: 1652, Started: at(2 * time.Minute), Unit: "nginx.service"},
		{PID: 1025, PPID: 1024, User: "www-data", Name: "nginx", Command: "nginx: worker process", TTY: "?", Stat: "S", VSZ: 55876, RSS: 5604, Started: at(2 * time.Minute), Unit: "nginx.service"},
		{PID: 1026, PPID: 1024, User: "www-data", Name: "nginx", Command: "nginx: worker process", TTY: "?", Stat: "S", VSZ: 55876, RSS: 5604, Started: at(2 * time.Minute), Unit: "nginx.service"},
		{PID: 1102, PPID: 1, User: "mysql", Name: "mysqld", Command: "/usr/sbin/mysqld", TTY: "?", Stat: "Ssl", VSZ: 2356948, RSS: 389120, CPU: 0.4, Started: at(3 * time.Minute), CPUTime: 41 * time.Second, Unit: "mysql.service"},
		{PID: 1902, PPID: 812, User: "student", Name: "sshd", Command: "sshd: student@pts/0", TTY: "?", Stat: "S", VSZ: 17148, RSS: 6912, Started: login},
		{PID: 1903, PPID: 1902, User: "student", Name: "bash", Command: "-bash", TTY: "pts/0", Stat: "Ss", VSZ: 8788, RSS: 5504, Started: login},
	}
}

// Processes returns a copy of the process table in PID order.
func (h *Host) Processes() []Process {
	out := make([]Process, 0, len(h.procs))
	for _, p := range h.procs {
		out = append(out, *p)
	}
	return out
}

// Process looks a PID up.
func (h *Host) Process(pid int) (Process, bool) {
	for _, p := range h.procs {
		if p.PID == pid {
			return *p, true
		}
	}
	return Process{}, false
}

// Pgrep returns the PIDs whose name (or full command line, when full is set)
// contains pattern.
func (h *Host) Pgrep(pattern string, full bool) []int {
	var pids []int
	for _, p := range h.procs {
		subject := p.Name
		if full {
			subject = p.Command
		}
		if strings.Contains(subject, pattern) {
			pids = append(pids, p.PID)
		}
	}
	return pids
}

var signals = []string{
	"HUP", "INT", "QUIT", "ILL", "TRAP", "ABRT", "BUS", "FPE", "KILL", "USR1",
	"SEGV", "USR2", "PIPE", "ALRM", "TERM", "STKFLT", "CHLD", "CONT", "STOP", "TSTP",
}

// SigKill is the only signal that changes the process table.
const SigKill = 9

// ParseSignal accepts "9", "KILL" or "SIGKILL" (case-insensitive).
func ParseSignal(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 64 {
			return 0, fmt.Errorf("%s: %w", s, ErrInvalidSignal)
		}
		return n, nil
	}
	name := strings.TrimPrefix(strings.ToUpper(s), "SIG")
	for i, sig := range signals {
		if sig == name {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%s: %w", s, ErrInvalidSignal)
}

// SignalList renders `kill -l`.
func SignalList() string {
	var b strings.Builder
	for i, sig := range signals {
		fmt.Fprintf(&b, "%2d) SIG%-8s", i+1, sig)
		if (i+1)%5 == 0 {
			b.WriteString("\n")
		} else {
			b.WriteString("\t")
		}
	}
	return strings.TrimRight(b.String(), "\n\t")
}

// Kill delivers sig to pid. Only SIGKILL has an effect: the process and its
// children leave the table, and a unit whose main process dies is marked
// failed.
func (h *Host) Kill(pid, sig int) error {
	p, ok := h.Process(pid)
	if !ok {
		return ErrNoSuchProcess
	}
	// init ignores signals it has no handler for.
	if sig != SigKill || pid == 1 {
		return nil
	}
	if u := h.unitByMainPID(pid); u != nil {
		h.removeUnitProcesses(u)
		h.failUnit(u, "Main process exited, code=killed, status=9/KILL", "signal")
		return nil
	}
	h.removeTree(p.PID)
	return nil
}

// KillByName signals every process whose name matches exactly. It reports how
// many processes matched.
func (h *Host) KillByName(name string, sig int) int {
	var pids []int
	for _, p := range h.procs {
		if p.Name == name {
			pids = append(pids, p.PID)
		}
	}
	for _, pid := range pids {
		_ = h.Kill(pid, sig)
	}
	return len(pids)
}

func (h *Host) removeTree(pid int) {
	doomed := map[int]bool{pid: true}
	for changed := true; changed; {
		changed = false
		for _, p := range h.procs {
			if !doomed[p.PID] && doomed[p.PPID] {
				doomed[p.PID] = true
				changed = true
			}
		}
	}
	kept := h.procs[:0]
	for _, p := range h.procs {
		if !doomed[p.PID] {
			kept = append(kept, p)
		}
	}
	h.procs = kept
	if h.sockets != nil {
		for pid := range doomed {
			h.sockets.CloseSockets(pid)
		}
	}
}

func (h *Host) spawn(p Process) int {
	h.nextPID += 1 + h.opts.Rand.IntN(3)
	p.PID = h.nextPID
	p.Started = h.now()
	h.procs = append(h.procs, &p)
	h.sortProcs()
	return p.PID
}

// jitter returns a plausible momentary %CPU for p.
func (h *Host) jitter(p *Process) float64 {
	if p.VSZ == 0 {
		return 0
	}
	return p.CPU + h.opts.Rand.Float64()*0.3
}

func (h *Host) memPercent(p *Process) float64 {
	return float64(p.RSS) * 100 / memTotalKB
}

func cpuClock(d time.Duration) string {
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func cpuClockLong(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func psUser(u string) string {
	if len(u) > 8 {
		return u[:7] + "+"
	}
	return u
}

// PsAux renders `ps aux`.
func (h *Host) PsAux() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %7s %4s %4s %6s %5s %-8s %-4s %5s %6s %s",
		"USER", "PID", "%CPU", "%MEM", "VSZ", "RSS", "TTY", "STAT", "START", "TIME", "COMMAND")
	for _, p := range h.procs {
		fmt.Fprintf(&b, "\n%-8s %7d %4.1f %4.1f %6d %5d %-8s %-4s %5s %6s %s",
			psUser(p.User), p.PID, h.jitter(p), h.memPercent(p), p.VSZ, p.RSS, p.TTY, p.Stat,
			p.Started.Format("15:04"), cpuClock(p.CPUTime), p.Command)
	}
	return b.String()
}

// PsEf renders `ps -ef`.
func (h *Host) PsEf() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %7s %7s %2s %5s %-8s %8s %s", "UID", "PID", "PPID", "C", "STIME", "TTY", "TIME", "CMD")
	for _, p := range h.procs {
		fmt.Fprintf(&b, "\n%-8s %7d %7d %2d %5s %-8s %8s %s",
			psUser(p.User), p.PID, p.PPID, int(h.jitter(p)), p.Started.Format("15:04"), p.TTY, cpuClockLong(p.CPUTime), p.Command)
	}
	return b.String()
}

// Ps renders plain `ps` (the caller's terminal) or `ps -p` when pids is
// non-empty. ok is false when none of the requested PIDs exist.
func (h *Host) Ps(pids []int) (string, bool) {
	var b strings.Builder
	fmt.Fprintf(&b, "%7s %-8s %8s %s", "PID", "TTY", "TIME", "CMD")
	found := false
	line := func(pid int, tty, cmd string, cpu time.Duration) {
		found = true
		fmt.Fprintf(&b, "\n%7d %-8s %8s %s", pid, tty, cpuClockLong(cpu), cmd)
	}
	if len(pids) == 0 {
		for _, p := range h.procs {
			if p.TTY == "pts/0" {
				line(p.PID, p.TTY, p.comm(), p.CPUTime)
			}
		}
		h.nextPID++
		line(h.nextPID, "pts/0", "ps", 0)
		return b.String(), true
	}
	for _, pid := range pids {
		if p, ok := h.Process(pid); ok {
			line(p.PID, p.TTY, p.comm(), p.CPUTime)
		}
	}
	return b.String(), found
}

// Top renders one batch iteration of top.
func (h *Host) Top() string {
	m := h.Memory()
	var b strings.Builder
	now := h.now()
	fmt.Fprintf(&b, "top - %s up %s,  1 user,  load average: %s\n", now.Format("15:04:05"), formatUptime(now.Sub(h.boot)), h.loadAverage())
	running := 1
	fmt.Fprintf(&b, "Tasks: %3d total, %3d running, %3d sleeping,   0 stopped,   0 zombie\n", len(h.procs), running, len(h.procs)-running)
	idle := 97 + h.opts.Rand.Float64()*2
	fmt.Fprintf(&b, "%%Cpu(s): %4.1f us, %4.1f sy,  0.0 ni, %4.1f id,  0.1 wa,  0.0 hi,  0.0 si,  0.0 st\n", (100-idle)*0.65, (100-idle)*0.35-0.1, idle)
	mib := func(kb int64) float64 { return float64(kb) / 1024 }
	fmt.Fprintf(&b, "MiB Mem : %8.1f total, %8.1f free, %8.1f used, %8.1f buff/cache\n", mib(m.Total), mib(m.Free), mib(m.Used), mib(m.Cache))
	fmt.Fprintf(&b, "MiB Swap: %8.1f total, %8.1f free, %8.1f used. %8.1f avail Mem\n\n", mib(m.SwapTotal), mib(m.SwapFree), mib(m.SwapUsed), mib(m.Available))
	fmt.Fprintf(&b, "%7s %-9s %3s %3s %7s %6s %6s %1s %5s %5s %9s %s", "PID", "USER", "PR", "NI", "VIRT", "RES", "SHR", "S", "%CPU", "%MEM", "TIME+", "COMMAND")

	procs := make([]*Process, len(h.procs))
	copy(procs, h.procs)
	cpu := make(map[int]float64, len(procs))
	for _, p := range procs {
		cpu[p.PID] = h.jitter(p)
	}
	sort.SliceStable(procs, func(i, j int) bool { return cpu[procs[i].PID] > cpu[procs[j].PID] })
	for _, p := range procs {
		state := p.Stat[:1]
		fmt.Fprintf(&b, "\n%7d %-9s %3d %3d %7d %6d %6d %1s %5.1f %5.1f %9s %s",
			p.PID, psUser(p.User), 20, 0, p.VSZ, p.RSS, p.RSS/3, state, cpu[p.PID], h.memPercent(p),
			fmt.Sprintf("%s.%02d", cpuClock(p.CPUTime), int(p.CPUTime.Milliseconds()/10)%100), p.comm())
	}
	return b.String()
}
