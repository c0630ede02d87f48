package shell

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/onkernel/termlab/lib/system"
	"github.com/samber/lo"
)

func noHost(cmd string) Output {
	return fail("%s: no host attached to this session", cmd)
}

func runUname(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "asnrvmpio", "")
	if err != nil {
		return badUsage("uname", err)
	}
	if s.Host == nil {
		return noHost("uname")
	}
	var letters strings.Builder
	for _, c := range "asnrvmpio" {
		if f.has(byte(c)) {
			letters.WriteRune(c)
		}
	}
	for name, c := range map[string]byte{
		"all": 'a', "kernel-name": 's', "nodename": 'n', "kernel-release": 'r',
		"kernel-version": 'v', "machine": 'm', "operating-system": 'o',
	} {
		if f.hasLong(name) {
			letters.WriteByte(c)
		}
	}
	return emit(s.Host.Uname(letters.String()))
}

// runHostname prints the host name. Setting it needs root and renames the
// machine everywhere it is visible: the prompt, /etc/hostname, the network
// and $HOSTNAME.
func runHostname(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "iIfsd", "")
	if err != nil {
		return badUsage("hostname", err)
	}
	name := s.FS.Hostname()
	switch {
	case f.has('I'):
		return emit(strings.Join(s.addresses(), " ") + " ")
	case f.has('i'):
		return emit("127.0.1.1")
	case f.has('f'):
		return emit(name + ".lab.local")
	case f.has('d'):
		return emit("lab.local")
	case f.has('s'):
		short, _, _ := strings.Cut(name, ".")
		return emit(short)
	}
	if len(f.args) == 0 {
		return emit(name)
	}
	if !s.isRoot() {
		return fail("hostname: you must be root to change the host name")
	}
	newName := f.args[0]
	if newName == "" || strings.ContainsAny(newName, " /") {
		return fail("hostname: the specified hostname is invalid")
	}
	s.FS.SetHostname(newName)
	if s.Net != nil {
		s.Net.SetHostname(newName)
	}
	s.Env["HOSTNAME"] = newName
	return Output{}
}

// addresses lists the up interfaces' IPv4 addresses, loopback excluded.
func (s *Session) addresses() []string {
	if s.Net == nil {
		return nil
	}
	var out []string
	for _, iface := range s.Net.Interfaces() {
		if iface.Name() == "lo" || !iface.Up() || iface.Addr == nil {
			continue
		}
		out = append(out, iface.Addr.IP.String())
	}
	return out
}

func runUptime(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "ps", "")
	if err != nil {
		return badUsage("uptime", err)
	}
	if s.Host == nil {
		return noHost("uptime")
	}
	if f.has('s') || f.hasLong("since") {
		return emit(s.Host.BootTime().Format(time.DateTime))
	}
	return emit(s.Host.Uptime(f.has('p') || f.hasLong("pretty")))
}

func runFree(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "hbkmgtw", "sc")
	if err != nil {
		return badUsage("free", err)
	}
	if s.Host == nil {
		return noHost("free")
	}
	return emit(s.Host.Free(f.has('h') || f.hasLong("human")))
}

// runTop prints a single batch frame; the lab has no full-screen mode.
func runTop(s *Session, inv *Invocation) Output {
	if _, err := parseFlags(inv.Args, "bcHiS", "nduUpo"); err != nil {
		return Output{Stderr: fmt.Sprintf("top: %v\nUsage:\n  top -hv | -bcEeHiOSs1 -d secs -n max -u|U user -p pid(s) -o field -w [cols]\n", err), Status: 1}
	}
	if s.Host == nil {
		return noHost("top")
	}
	return emit(s.Host.Top())
}

// runPs understands the BSD "aux" style as well as -e, -f, -A and -p.
func runPs(s *Session, inv *Invocation) Output {
	if s.Host == nil {
		return noHost("ps")
	}
	var bsd, every, full bool
	var pids []int
	for i := 0; i < len(inv.Args); i++ {
		a := inv.Args[i]
		switch {
		case a == "-p" || a == "--pid" || a == "p":
			if i+1 >= len(inv.Args) {
				return fail("error: list of process IDs must follow -p\n\nUsage:\n ps [options]")
			}
			i++
			list, ok := parsePIDs(inv.Args[i])
			if !ok {
				return fail("error: process ID list syntax error\n\nUsage:\n ps [options]")
			}
			pids = append(pids, list...)
		case strings.HasPrefix(a, "--sort") || strings.HasPrefix(a, "-o") || strings.HasPrefix(a, "--forest"):
			if !strings.Contains(a, "=") && (a == "--sort" || a == "-o") {
				i++
			}
		case strings.HasPrefix(a, "-"):
			for _, c := range a[1:] {
				switch c {
				case 'e', 'A':
					every = true
				case 'f', 'F', 'l':
					full = true
				case 'a', 'u', 'x':
					// "ps -aux" is accepted as BSD syntax by procps.
					bsd = true
				default:
					return fail("error: unsupported option (BSD syntax)\n\nUsage:\n ps [options]")
				}
			}
		default:
			if strings.Trim(a, "auxwfe") != "" {
				return fail("error: unsupported option (BSD syntax)\n\nUsage:\n ps [options]")
			}
			bsd = true
		}
	}
	switch {
	case len(pids) > 0:
		out, ok := s.Host.Ps(pids)
		if !ok {
			return Output{Stdout: terminate(out), Status: 1}
		}
		return emit(out)
	case bsd:
		return emit(s.Host.PsAux())
	case every || full:
		return emit(s.Host.PsEf())
	}
	out, _ := s.Host.Ps(nil)
	return emit(out)
}

func parsePIDs(list string) ([]int, bool) {
	var pids []int
	for _, p := range strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == ' ' }) {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return nil, false
		}
		pids = append(pids, n)
	}
	return pids, len(pids) > 0
}

// signalArg pulls a leading -N, -NAME or -s NAME off args.
func signalArg(args []string) (sig int, rest []string, err error) {
	sig = 15
	if len(args) == 0 {
		return sig, args, nil
	}
	a := args[0]
	switch {
	case a == "-s" || a == "--signal":
		if len(args) < 2 {
			return 0, nil, errors.New("option requires an argument -- 's'")
		}
		sig, err = system.ParseSignal(args[1])
		return sig, args[2:], err
	case len(a) > 1 && a[0] == '-' && a != "--":
		sig, err = system.ParseSignal(a[1:])
		return sig, args[1:], err
	case a == "--":
		return sig, args[1:], nil
	}
	return sig, args, nil
}

func runKill(s *Session, inv *Invocation) Output {
	if s.Host == nil {
		return noHost("kill")
	}
	args := inv.Args
	if len(args) > 0 && (args[0] == "-l" || args[0] == "-L") {
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return emit(args[1])
			}
			names := strings.Fields(strings.ReplaceAll(system.SignalList(), ")", ""))
			for i := 0; i+1 < len(names); i += 2 {
				if names[i] == strconv.Itoa(n) {
					return emit(strings.TrimPrefix(names[i+1], "SIG"))
				}
			}
			return fail("-bash: kill: %d: invalid signal specification", n)
		}
		return emit(system.SignalList())
	}
	sig, targets, err := signalArg(args)
	if err != nil {
		return fail("-bash: kill: %s", strings.TrimPrefix(inv.Args[0], "-")+": invalid signal specification")
	}
	if len(targets) == 0 {
		return Output{Stderr: "kill: usage: kill [-s sigspec | -n signum | -sigspec] pid | jobspec ... or kill -l [sigspec]\n", Status: 2}
	}
	var errs strings.Builder
	status := 0
	for _, t := range targets {
		pid, err := strconv.Atoi(t)
		if err != nil {
			fmt.Fprintf(&errs, "-bash: kill: %s: arguments must be process or job IDs\n", t)
			status = 1
			continue
		}
		if err := s.Host.Kill(pid, sig); err != nil {
			fmt.Fprintf(&errs, "-bash: kill: (%d) - %s\n", pid, reason(err))
			status = 1
		}
	}
	return Output{Stderr: errs.String(), Status: status}
}

func runPgrep(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "lafcnox", "u")
	if err != nil {
		return badUsage("pgrep", err)
	}
	if s.Host == nil {
		return noHost("pgrep")
	}
	if len(f.args) == 0 {
		return failStatus(2, "pgrep: no matching criteria specified\nTry `pgrep --help' for more information.")
	}
	pids := s.matchProcesses(f, f.args[0])
	if f.has('c') {
		out := emit(strconv.Itoa(len(pids)))
		if len(pids) == 0 {
			out.Status = 1
		}
		return out
	}
	if len(pids) == 0 {
		return Output{Status: 1}
	}
	var b strings.Builder
	for _, pid := range pids {
		p, _ := s.Host.Process(pid)
		switch {
		case f.has('a'):
			fmt.Fprintf(&b, "%d %s\n", pid, p.Command)
		case f.has('l'):
			fmt.Fprintf(&b, "%d %s\n", pid, p.Name)
		default:
			fmt.Fprintf(&b, "%d\n", pid)
		}
	}
	return Output{Stdout: b.String()}
}

// matchProcesses applies the pgrep/pkill selection options.
func (s *Session) matchProcesses(f flags, pattern string) []int {
	pids := s.Host.Pgrep(pattern, f.has('f'))
	if f.has('x') {
		pids = lo.Filter(pids, func(pid int, _ int) bool {
			p, _ := s.Host.Process(pid)
			return p.Name == pattern
		})
	}
	if user, ok := f.value('u'); ok {
		pids = lo.Filter(pids, func(pid int, _ int) bool {
			p, _ := s.Host.Process(pid)
			return p.User == user
		})
	}
	if len(pids) > 1 && (f.has('n') || f.has('o')) {
		if f.has('n') {
			return pids[len(pids)-1:]
		}
		return pids[:1]
	}
	return pids
}

func runPkill(s *Session, inv *Invocation) Output {
	sig, args, err := signalArg(inv.Args)
	if err != nil {
		return failStatus(2, "pkill: unknown signal name %s", strings.TrimPrefix(inv.Args[0], "-"))
	}
	f, err := parseFlags(args, "fenoxc", "u")
	if err != nil {
		return badUsage("pkill", err)
	}
	if s.Host == nil {
		return noHost("pkill")
	}
	if len(f.args) == 0 {
		return failStatus(2, "pkill: no matching criteria specified\nTry `pkill --help' for more information.")
	}
	pids := s.matchProcesses(f, f.args[0])
	if len(pids) == 0 {
		return Output{Status: 1}
	}
	var errs strings.Builder
	killed := 0
	for _, pid := range pids {
		if pid == bashPID {
			continue
		}
		if err := s.Host.Kill(pid, sig); err != nil {
			fmt.Fprintf(&errs, "pkill: killing pid %d failed: %s\n", pid, reason(err))
			continue
		}
		killed++
	}
	out := Output{Stderr: errs.String()}
	if f.has('c') {
		out.Stdout = fmt.Sprintf("%d\n", killed)
	}
	if killed == 0 {
		out.Status = 1
	}
	return out
}

func runKillall(s *Session, inv *Invocation) Output {
	if s.Host == nil {
		return noHost("killall")
	}
	sig, args, err := signalArg(inv.Args)
	if err != nil {
		return fail("%s: unknown signal; killall -l lists signals.", strings.TrimPrefix(inv.Args[0], "-"))
	}
	f, err := parseFlags(args, "qvwie", "")
	if err != nil {
		return badUsage("killall", err)
	}
	if len(f.args) == 0 {
		return fail("Usage: killall [OPTION]... [--] NAME...")
	}
	var stdout, stderr strings.Builder
	status := 0
	for _, name := range f.args {
		var pids []int
		for _, p := range s.Host.Processes() {
			if p.Name == name && p.PID != bashPID {
				pids = append(pids, p.PID)
			}
		}
		if len(pids) == 0 {
			if !f.has('q') {
				fmt.Fprintf(&stderr, "%s: no process found\n", name)
			}
			status = 1
			continue
		}
		for _, pid := range pids {
			if err := s.Host.Kill(pid, sig); err != nil {
				if !errors.Is(err, system.ErrNoSuchProcess) {
					fmt.Fprintf(&stderr, "%s(%d): %s\n", name, pid, reason(err))
					status = 1
				}
				continue
			}
			if f.has('v') {
				fmt.Fprintf(&stdout, "Killed %s(%d) with signal %d\n", name, pid, sig)
			}
		}
	}
	return Output{Stdout: stdout.String(), Stderr: stderr.String(), Status: status}
}

// runDate prints the clock. -d understands a small relative-date grammar;
// -s checks privileges but the lab clock is never moved.
func runDate(s *Session, inv *Invocation) Output {
	var (
		utc, rfc bool
		iso      string
		useISO   bool
		when     string
		set      string
		format   string
	)
	args := inv.Args
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case strings.HasPrefix(a, "+"):
			if format != "" {
				return fail("date: multiple output formats specified")
			}
			format = a[1:]
		case a == "-u" || a == "--utc" || a == "--universal":
			utc = true
		case a == "-R" || a == "--rfc-email":
			rfc = true
		case strings.HasPrefix(a, "-I"):
			useISO, iso = true, strings.TrimPrefix(a[2:], "=")
		case strings.HasPrefix(a, "--iso-8601"):
			useISO, iso = true, strings.TrimPrefix(strings.TrimPrefix(a, "--iso-8601"), "=")
		case a == "-d" || a == "--date" || a == "-s" || a == "--set":
			if i+1 >= len(args) {
				return badUsage("date", &optionError{option: a[len(a)-1:], needs: true})
			}
			i++
			if a == "-d" || a == "--date" {
				when = args[i]
			} else {
				set = args[i]
			}
		case strings.HasPrefix(a, "--date="):
			when = strings.TrimPrefix(a, "--date=")
		case strings.HasPrefix(a, "-d"):
			when = a[2:]
		default:
			return fail("date: invalid date '%s'", a)
		}
	}
	t := s.now()
	if set != "" {
		parsed, ok := parseDate(set, t)
		if !ok {
			return fail("date: invalid date '%s'", set)
		}
		if !s.isRoot() {
			return fail("date: cannot set date: Operation not permitted\n%s", parsed.Format(dateLayout))
		}
		t = parsed
	}
	if when != "" {
		parsed, ok := parseDate(when, t)
		if !ok {
			return fail("date: invalid date '%s'", when)
		}
		t = parsed
	}
	if utc {
		t = t.UTC()
	}
	switch {
	case format != "":
		return emit(strftime(t, format))
	case rfc:
		return emit(t.Format("Mon, 02 Jan 2006 15:04:05 -0700"))
	case useISO:
		switch iso {
		case "", "date":
			return emit(t.Format(time.DateOnly))
		case "hours":
			return emit(t.Format("2006-01-02T15-07:00"))
		case "minutes":
			return emit(t.Format("2006-01-02T15:04-07:00"))
		case "seconds":
			return emit(t.Format("2006-01-02T15:04:05-07:00"))
		case "ns":
			return emit(t.Format("2006-01-02T15:04:05,000000000-07:00"))
		}
		return fail("date: invalid argument '%s' for '--iso-8601'", iso)
	}
	return emit(t.Format(dateLayout))
}

const dateLayout = "Mon Jan _2 15:04:05 MST 2006"

var dateUnits = map[string]time.Duration{
	"second": time.Second, "sec": time.Second,
	"minute": time.Minute, "min": time.Minute,
	"hour": time.Hour,
	"day":  24 * time.Hour,
	"week": 7 * 24 * time.Hour,
}

// parseDate accepts now, today, yesterday, tomorrow, @EPOCH, "N unit ago",
// "+N unit", "next/last unit" and ISO dates with optional time.
func parseDate(text string, now time.Time) (time.Time, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	switch text {
	case "", "now", "today":
		return now, true
	case "yesterday":
		return now.AddDate(0, 0, -1), true
	case "tomorrow":
		return now.AddDate(0, 0, 1), true
	}
	if epoch, ok := strings.CutPrefix(text, "@"); ok {
		n, err := strconv.ParseInt(epoch, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(n, 0).In(now.Location()), true
	}
	for _, layout := range []string{time.DateTime, "2006-01-02 15:04", "2006-01-02T15:04:05", time.DateOnly, "01/02/2006", "2006/01/02"} {
		if t, err := time.ParseInLocation(layout, text, now.Location()); err == nil {
			return t, true
		}
	}
	fields := strings.Fields(text)
	sign := 1
	if len(fields) > 0 && fields[len(fields)-1] == "ago" {
		sign = -1
		fields = fields[:len(fields)-1]
	}
	var amount int
	switch {
	case len(fields) == 2 && (fields[0] == "next" || fields[0] == "last"):
		amount = 1
		if fields[0] == "last" {
			amount = -1
		}
	case len(fields) == 2:
		n, err := strconv.Atoi(strings.TrimPrefix(fields[0], "+"))
		if err != nil {
			return time.Time{}, false
		}
		amount = n
	case len(fields) == 1:
		amount = 1
		fields = append([]string{"1"}, fields...)
	default:
		return time.Time{}, false
	}
	unit := strings.TrimSuffix(fields[1], "s")
	amount *= sign
	switch unit {
	case "month":
		return now.AddDate(0, amount, 0), true
	case "year":
		return now.AddDate(amount, 0, 0), true
	}
	d, ok := dateUnits[unit]
	if !ok {
		return time.Time{}, false
	}
	return now.Add(time.Duration(amount) * d), true
}

// strftime expands date(1) conversion specifications.
func strftime(t time.Time, format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			b.WriteByte(c)
			continue
		}
		i++
		pad := byte(0)
		if format[i] == '-' || format[i] == '_' || format[i] == '0' {
			pad = format[i]
			if i+1 >= len(format) {
				b.WriteByte('%')
				b.WriteByte(pad)
				break
			}
			i++
		}
		num := func(n, width int) {
			switch pad {
			case '-':
				b.WriteString(strconv.Itoa(n))
			case '_':
				fmt.Fprintf(&b, "%*d", width, n)
			default:
				fmt.Fprintf(&b, "%0*d", width, n)
			}
		}
		switch format[i] {
		case 'Y':
			num(t.Year(), 4)
		case 'C':
			num(t.Year()/100, 2)
		case 'y':
			num(t.Year()%100, 2)
		case 'm':
			num(int(t.Month()), 2)
		case 'd':
			num(t.Day(), 2)
		case 'e':
			if pad == 0 {
				pad = '_'
			}
			num(t.Day(), 2)
		case 'j':
			num(t.YearDay(), 3)
		case 'H':
			num(t.Hour(), 2)
		case 'k':
			if pad == 0 {
				pad = '_'
			}
			num(t.Hour(), 2)
		case 'I':
			num(hour12(t), 2)
		case 'l':
			if pad == 0 {
				pad = '_'
			}
			num(hour12(t), 2)
		case 'M':
			num(t.Minute(), 2)
		case 'S':
			num(t.Second(), 2)
		case 'N':
			fmt.Fprintf(&b, "%09d", t.Nanosecond())
		case 's':
			b.WriteString(strconv.FormatInt(t.Unix(), 10))
		case 'u':
			wd := int(t.Weekday())
			if wd == 0 {
				wd = 7
			}
			b.WriteString(strconv.Itoa(wd))
		case 'w':
			b.WriteString(strconv.Itoa(int(t.Weekday())))
		case 'U':
			num((t.YearDay()+6-int(t.Weekday()))/7, 2)
		case 'V':
			_, week := t.ISOWeek()
			num(week, 2)
		case 'G':
			year, _ := t.ISOWeek()
			num(year, 4)
		case 'a':
			b.WriteString(t.Format("Mon"))
		case 'A':
			b.WriteString(t.Format("Monday"))
		case 'b', 'h':
			b.WriteString(t.Format("Jan"))
		case 'B':
			b.WriteString(t.Format("January"))
		case 'p':
			b.WriteString(t.Format("PM"))
		case 'P':
			b.WriteString(strings.ToLower(t.Format("PM")))
		case 'Z':
			b.WriteString(t.Format("MST"))
		case 'z':
			b.WriteString(t.Format("-0700"))
		case 'F':
			b.WriteString(t.Format(time.DateOnly))
		case 'T', 'X':
			b.WriteString(t.Format(time.TimeOnly))
		case 'R':
			b.WriteString(t.Format("15:04"))
		case 'r':
			b.WriteString(t.Format("03:04:05 PM"))
		case 'D', 'x':
			b.WriteString(t.Format("01/02/06"))
		case 'c':
			b.WriteString(t.Format("Mon Jan _2 15:04:05 2006"))
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			if pad != 0 {
				b.WriteByte(pad)
			}
			b.WriteByte(format[i])
		}
	}
	return b.String()
}

func hour12(t time.Time) int {
	h := t.Hour() % 12
	if h == 0 {
		return 12
	}
	return h
}

// runCal prints the current month, a given month ("cal 3 2024") or a whole
// year ("cal 2024").
func runCal(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "y3hmsj", "")
	if err != nil {
		return badUsage("cal", err)
	}
	now := s.now()
	year, month := now.Year(), now.Month()
	wholeYear := f.has('y')
	switch len(f.args) {
	case 0:
	case 1:
		y, err := strconv.Atoi(f.args[0])
		if err != nil || y < 1 || y > 9999 {
			return fail("cal: invalid year value: '%s'", f.args[0])
		}
		year, wholeYear = y, true
	case 2:
		m, err := strconv.Atoi(f.args[0])
		if err != nil || m < 1 || m > 12 {
			return fail("cal: %s is not a valid month number", f.args[0])
		}
		y, err := strconv.Atoi(f.args[1])
		if err != nil || y < 1 || y > 9999 {
			return fail("cal: invalid year value: '%s'", f.args[1])
		}
		year, month = y, time.Month(m)
	default:
		return fail("Usage:\n cal [options] [[[day] month] year]")
	}
	if !wholeYear {
		return emit(joinLines(lo.Map(monthGrid(year, month, true), func(l string, _ int) string {
			return strings.TrimRight(l, " ")
		})))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", centre(strconv.Itoa(year), 64))
	for q := 0; q < 4; q++ {
		grids := make([][]string, 3)
		for i := range grids {
			grids[i] = monthGrid(year, time.Month(q*3+i+1), false)
		}
		for row := range grids[0] {
			line := grids[0][row] + "  " + grids[1][row] + "  " + grids[2][row]
			b.WriteString(strings.TrimRight(line, " ") + "\n")
		}
	}
	return Output{Stdout: b.String()}
}

// monthGrid renders eight 20-column lines: title, weekday header and six
// week rows.
func monthGrid(year int, month time.Month, withYear bool) []string {
	title := month.String()
	if withYear {
		title += " " + strconv.Itoa(year)
	}
	lines := []string{centre(title, 20), "Su Mo Tu We Th Fr Sa"}
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	days := first.AddDate(0, 1, -1).Day()
	cells := make([]string, int(first.Weekday()), 42)
	for i := range cells {
		cells[i] = "  "
	}
	for d := 1; d <= days; d++ {
		cells = append(cells, fmt.Sprintf("%2d", d))
	}
	for len(cells) < 42 {
		cells = append(cells, "  ")
	}
	for w := 0; w < 6; w++ {
		lines = append(lines, strings.Join(cells[w*7:w*7+7], " "))
	}
	return lines
}

func centre(text string, width int) string {
	left := max((width-len(text))/2, 0)
	return fmt.Sprintf("%-*s", width, strings.Repeat(" ", left)+text)
}

func runW(s *Session, inv *Invocation) Output {
	if s.Host == nil {
		return noHost("w")
	}
	return emit(s.Host.W())
}

func runWho(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "abHqmu", "")
	if err != nil {
		return badUsage("who", err)
	}
	if s.Host == nil {
		return noHost("who")
	}
	// "who am i" and "who -m" print only the caller's line.
	out := s.Host.Who()
	if f.has('b') {
		return emit("         system boot  " + s.Host.BootTime().Format("2006-01-02 15:04"))
	}
	if f.has('q') {
		users := lo.Map(splitLines(out), func(l string, _ int) string { return strings.Fields(l)[0] })
		return emit(strings.Join(users, " ") + fmt.Sprintf("\n# users=%d", len(users)))
	}
	if f.has('H') {
		out = fmt.Sprintf("%-8s %-12s %-16s %s\n", "NAME", "LINE", "TIME", "COMMENT") + out
	}
	return emit(out)
}

func runLast(s *Session, inv *Invocation) Output {
	if s.Host == nil {
		return noHost("last")
	}
	return emit(s.Host.Last())
}

// systemctlVerbs take one or more unit names.
var systemctlVerbs = []string{
	"start", "stop", "restart", "reload", "try-restart", "reload-or-restart",
	"status", "enable", "disable", "is-active", "is-enabled", "is-failed",
	"show", "cat", "mask", "unmask", "kill",
}

func runSystemctl(s *Session, inv *Invocation) Output {
	if s.Host == nil {
		return noHost("systemctl")
	}
	var (
		verb, typ string
		units     []string
		all, now  bool
		quiet     bool
	)
	for _, a := range inv.Args {
		switch {
		case a == "-a" || a == "--all":
			all = true
		case a == "--now":
			now = true
		case a == "-q" || a == "--quiet":
			quiet = true
		case a == "--failed":
			verb = "list-failed"
		case a == "--no-pager" || a == "-l" || a == "--full" || a == "--no-legend":
		case strings.HasPrefix(a, "--type=") || strings.HasPrefix(a, "-t"):
			typ = strings.TrimPrefix(strings.TrimPrefix(a, "--type="), "-t")
		case strings.HasPrefix(a, "--state="):
		case strings.HasPrefix(a, "-"):
			return fail("systemctl: unrecognized option '%s'", a)
		case verb == "":
			verb = a
		default:
			units = append(units, a)
		}
	}
	if typ != "" && typ != "service" {
		return emit("0 loaded units listed.")
	}
	if verb == "" {
		verb = "list-units"
	}
	switch verb {
	case "list-units":
		return emit(s.Host.ListUnits(all))
	case "list-unit-files":
		return emit(s.Host.ListUnitFiles())
	case "daemon-reload":
		s.Host.DaemonReload()
		return Output{}
	case "list-failed":
		return emit(s.Host.ListUnits(false))
	}
	if !lo.Contains(systemctlVerbs, verb) {
		return fail("Unknown command verb %s.", verb)
	}
	if len(units) == 0 {
		if verb == "status" {
			return emit(s.Host.ListUnits(false))
		}
		return fail("Too few arguments.")
	}
	var stdout, stderr strings.Builder
	status := 0
	setStatus := func(n int) {
		if n > status {
			status = n
		}
	}
	for i, name := range units {
		full := system.UnitName(name)
		switch verb {
		case "status":
			text, code, err := s.Host.Status(name)
			if err != nil {
				fmt.Fprintf(&stderr, "Unit %s could not be found.\n", full)
				setStatus(4)
				continue
			}
			if i > 0 {
				stdout.WriteString("\n")
			}
			stdout.WriteString(text + "\n")
			setStatus(code)
		case "start", "restart", "try-restart", "reload-or-restart":
			if err := s.startUnit(verb, name, &stderr); err != nil {
				setStatus(exitFor(err))
			}
		case "stop", "kill":
			if err := s.Host.Stop(name); err != nil {
				fmt.Fprintf(&stderr, "Failed to %s %s: Unit %s not loaded.\n", verb, full, full)
				setStatus(5)
			}
		case "reload":
			if err := s.Host.Reload(name); err != nil {
				if errors.Is(err, system.ErrNoSuchUnit) {
					fmt.Fprintf(&stderr, "Failed to reload %s: Unit %s not found.\n", full, full)
					setStatus(5)
					continue
				}
				fmt.Fprintf(&stderr, "Job for %s failed.\nSee \"systemctl status %s\" and \"journalctl -xeu %s\" for details.\n", full, full, full)
				setStatus(1)
			}
		case "enable", "disable":
			toggle := s.Host.Enable
			if verb == "disable" {
				toggle = s.Host.Disable
			}
			msg, err := toggle(name)
			if err != nil {
				fmt.Fprintf(&stderr, "Failed to %s unit: Unit file %s does not exist.\n", verb, full)
				setStatus(1)
				continue
			}
			if msg != "" {
				stdout.WriteString(msg + "\n")
			}
			if !now {
				continue
			}
			apply := s.Host.Stop
			if verb == "enable" {
				apply = s.Host.Start
			}
			if err := apply(name); err != nil {
				fmt.Fprintf(&stderr, "Job for %s failed because the control process exited with error code.\nSee \"systemctl status %s\" and \"journalctl -xeu %s\" for details.\n", full, full, full)
				setStatus(1)
			}
		case "is-active", "is-failed":
			u, err := s.Host.Unit(name)
			state := "inactive"
			if err == nil {
				state = u.Active
			}
			if !quiet {
				stdout.WriteString(state + "\n")
			}
			want := system.StateActive
			if verb == "is-failed" {
				want = system.StateFailed
			}
			if state != want {
				setStatus(3)
				if verb == "is-failed" {
					setStatus(1)
				}
			}
		case "is-enabled":
			u, err := s.Host.Unit(name)
			if err != nil {
				fmt.Fprintf(&stderr, "Failed to get unit file state for %s: No such file or directory\n", full)
				setStatus(1)
				continue
			}
			if !quiet {
				stdout.WriteString(u.Enabled + "\n")
			}
			if u.Enabled != "enabled" && u.Enabled != "static" {
				setStatus(1)
			}
		case "show":
			u, err := s.Host.Unit(name)
			if err != nil {
				fmt.Fprintf(&stdout, "Id=%s\nLoadState=not-found\nActiveState=inactive\n", full)
				continue
			}
			fmt.Fprintf(&stdout, "Id=%s\nDescription=%s\nLoadState=loaded\nActiveState=%s\nSubState=%s\nMainPID=%d\nUnitFileState=%s\n",
				u.Name, u.Description, u.Active, u.Sub(), u.MainPID, u.Enabled)
		case "cat":
			u, err := s.Host.Unit(name)
			if err != nil {
				fmt.Fprintf(&stderr, "No files found for %s.\n", full)
				setStatus(1)
				continue
			}
			fmt.Fprintf(&stdout, "# /lib/systemd/system/%s\n[Unit]\nDescription=%s\nDocumentation=%s\n\n[Service]\nType=forking\n\n[Install]\nWantedBy=multi-user.target\n",
				u.Name, u.Description, u.Docs)
		case "mask", "unmask":
			if _, err := s.Host.Unit(name); err != nil {
				fmt.Fprintf(&stderr, "Failed to %s unit: Unit file %s does not exist.\n", verb, full)
				setStatus(1)
				continue
			}
			if verb == "mask" {
				fmt.Fprintf(&stdout, "Created symlink /etc/systemd/system/%s → /dev/null.\n", full)
			} else {
				fmt.Fprintf(&stdout, "Removed /etc/systemd/system/%s.\n", full)
			}
		}
	}
	return Output{Stdout: stdout.String(), Stderr: stderr.String(), Status: status}
}

// startUnit runs a start-type verb and reports failures as systemctl does.
func (s *Session) startUnit(verb, name string, stderr *strings.Builder) error {
	full := system.UnitName(name)
	var err error
	switch verb {
	case "start":
		err = s.Host.Start(name)
	case "try-restart":
		u, uerr := s.Host.Unit(name)
		if uerr != nil {
			err = uerr
		} else if u.Active == system.StateActive {
			err = s.Host.Restart(name)
		}
	default:
		err = s.Host.Restart(name)
	}
	switch {
	case err == nil:
	case errors.Is(err, system.ErrNoSuchUnit):
		fmt.Fprintf(stderr, "Failed to %s %s: Unit %s not found.\n", verb, full, full)
	default:
		fmt.Fprintf(stderr, "Job for %s failed because the control process exited with error code.\nSee \"systemctl status %s\" and \"journalctl -xeu %s\" for details.\n", full, full, full)
	}
	return err
}

func exitFor(err error) int {
	if errors.Is(err, system.ErrNoSuchUnit) {
		return 5
	}
	return 1
}

// runService is the SysV wrapper: service NAME VERB, or --status-all.
func runService(s *Session, inv *Invocation) Output {
	if s.Host == nil {
		return noHost("service")
	}
	args := inv.Args
	if len(args) == 1 && args[0] == "--status-all" {
		return emit(s.Host.StatusAll())
	}
	if len(args) < 2 {
		return fail("Usage: service < option > | --status-all | [ service_name [ command | --full-restart ] ]")
	}
	name, verb := args[0], args[1]
	if verb == "--full-restart" {
		verb = "restart"
	}
	if _, err := s.Host.Unit(name); err != nil {
		return fail("%s: unrecognized service", name)
	}
	switch verb {
	case "start", "stop", "restart", "reload", "status", "force-reload":
	default:
		return failStatus(1, "Usage: /etc/init.d/%s {start|stop|restart|reload|force-reload|status}", name)
	}
	if verb == "force-reload" {
		verb = "reload"
	}
	return s.call("systemctl", []string{verb, name}, "", false)
}

func runJournalctl(s *Session, inv *Invocation) Output {
	if s.Host == nil {
		return noHost("journalctl")
	}
	opts := system.JournalOptions{Priority: 7}
	args := slices.Clone(inv.Args)
	value := func(i *int) (string, bool) {
		a := args[*i]
		if long, v, ok := strings.Cut(a, "="); ok && strings.HasPrefix(long, "--") {
			return v, true
		}
		if len(a) > 2 && !strings.HasPrefix(a, "--") {
			return a[2:], true
		}
		if *i+1 >= len(args) {
			return "", false
		}
		*i++
		return args[*i], true
	}
	for i := 0; i < len(args); i++ {
		a := args[i]
		// Clustered switches such as -xe and -xeu.
		if short, ok := strings.CutPrefix(a, "-"); ok && len(short) > 1 && !strings.HasPrefix(short, "-") {
			if strings.Trim(short, "xeb") == "" {
				continue
			}
			if strings.HasSuffix(short, "u") && strings.Trim(short[:len(short)-1], "xeb") == "" {
				a, args[i] = "-u", "-u"
			}
		}
		name, _, _ := strings.Cut(a, "=")
		if !strings.HasPrefix(a, "--") && len(a) > 2 && a[0] == '-' {
			name = a[:2]
		}
		switch name {
		case "-u", "--unit":
			v, ok := value(&i)
			if !ok {
				return fail("journalctl: option requires an argument -- 'u'")
			}
			opts.Unit = v
		case "-n", "--lines":
			v, ok := value(&i)
			if !ok {
				return fail("journalctl: option requires an argument -- 'n'")
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fail("Failed to parse lines '%s'.", v)
			}
			opts.Lines = n
		case "-p", "--priority":
			v, ok := value(&i)
			if !ok {
				return fail("journalctl: option requires an argument -- 'p'")
			}
			p, err := system.ParsePriority(v)
			if err != nil {
				return fail("%v", err)
			}
			opts.Priority = p
		case "-g", "--grep":
			v, ok := value(&i)
			if !ok {
				return fail("journalctl: option requires an argument -- 'g'")
			}
			opts.Grep = v
		case "-k", "--dmesg":
			opts.Kernel = true
		case "-r", "--reverse":
			opts.Reverse = true
		case "-f", "--follow":
			// Following returns at once with the usual ten-line tail.
			if opts.Lines == 0 {
				opts.Lines = 10
			}
		case "-e", "--pager-end":
			if opts.Lines == 0 {
				opts.Lines = 1000
			}
		case "-x", "-b", "--no-pager", "--since", "--boot":
			if name == "--since" && !strings.Contains(a, "=") {
				i++
			}
		default:
			if strings.HasPrefix(a, "-") {
				return fail("journalctl: unrecognized option '%s'", a)
			}
			return fail("Failed to add match '%s': Invalid argument", a)
		}
	}
	if !s.isRoot() && !s.inGroup("adm") && !s.inGroup("systemd-journal") {
		return emit("Hint: You are currently not seeing messages from other users and the system.\n      Users in groups 'adm', 'systemd-journal' can see all messages.\n-- No entries --")
	}
	return emit(s.Host.Journalctl(opts))
}

// inGroup reports whether the current user belongs to the named group.
func (s *Session) inGroup(name string) bool {
	u := s.FS.CurrentUser()
	for _, gid := range u.Groups {
		if s.FS.GroupName(gid) == name {
			return true
		}
	}
	return s.FS.GroupName(u.GID) == name
}
