package shell

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"
)

func runClear(s *Session, inv *Invocation) Output {
	return Output{Clear: true}
}

func runTrue(s *Session, inv *Invocation) Output { return Output{} }

func runFalse(s *Session, inv *Invocation) Output { return Output{Status: 1} }

// runExit leaves an su or sudo -i shell. At the outermost level it prints
// logout; the terminal client treats that line as the end of the session.
func runExit(s *Session, inv *Invocation) Output {
	status := s.Status
	if len(inv.Args) > 0 {
		n, err := strconv.Atoi(inv.Args[0])
		if err != nil {
			return failStatus(2, "exit\n-bash: exit: %s: numeric argument required", inv.Args[0])
		}
		status = n & 0xff
	}
	if s.popIdentity() {
		return Output{Stdout: "exit\n", Status: status}
	}
	return Output{Stdout: "logout\n", Status: status}
}

// runSleep validates its operands and returns at once.
func runSleep(s *Session, inv *Invocation) Output {
	if len(inv.Args) == 0 {
		return fail("sleep: missing operand\nTry 'sleep --help' for more information.")
	}
	for _, a := range inv.Args {
		num := strings.TrimRight(a, "smhd")
		if len(a)-len(num) > 1 {
			return fail("sleep: invalid time interval '%s'\nTry 'sleep --help' for more information.", a)
		}
		if v, err := strconv.ParseFloat(num, 64); err != nil || v < 0 {
			return fail("sleep: invalid time interval '%s'\nTry 'sleep --help' for more information.", a)
		}
	}
	return Output{}
}

// runWatch renders one refresh of the command with watch's title line.
func runWatch(s *Session, inv *Invocation) Output {
	interval := "2.0"
	title := true
	args := inv.Args
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		a := args[0]
		switch {
		case a == "-n" || a == "--interval":
			if len(args) < 2 {
				return fail("watch: option requires an argument -- 'n'")
			}
			v, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fail("watch: failed to parse argument: '%s'", args[1])
			}
			interval = strconv.FormatFloat(max(v, 0.1), 'f', 1, 64)
			args = args[1:]
		case strings.HasPrefix(a, "-n"):
			v, err := strconv.ParseFloat(a[2:], 64)
			if err != nil {
				return fail("watch: failed to parse argument: '%s'", a[2:])
			}
			interval = strconv.FormatFloat(max(v, 0.1), 'f', 1, 64)
		case a == "-t" || a == "--no-title":
			title = false
		case a == "-d" || a == "--differences" || a == "-c" || a == "--color":
		default:
			return fail("watch: invalid option -- '%s'", strings.TrimLeft(a, "-"))
		}
		args = args[1:]
	}
	if len(args) == 0 {
		return fail("Usage:\n watch [options] command")
	}
	line := strings.Join(args, " ")
	var t transcript
	s.runLine(line, &t)
	out := t.String()
	if title {
		left := fmt.Sprintf("Every %ss: %s", interval, line)
		right := fmt.Sprintf("%s: %s", s.FS.Hostname(), s.now().Format("Mon Jan _2 15:04:05 2006"))
		out = left + strings.Repeat(" ", max(80-len(left)-len(right), 2)) + right + "\n\n" + out
	}
	return emit(out)
}

func runEditor(s *Session, inv *Invocation) Output {
	return fail("%s: this terminal cannot run full-screen programs.\nEdit files with echo, printf, cat > FILE, tee or sed -i instead.", inv.Name)
}

//go:embed manpages.yaml
var manpagesYAML []byte

type manOption struct {
	Flag string `yaml:"flag"`
	Text string `yaml:"text"`
}

type manPage struct {
	Section     int         `yaml:"section"`
	Header      string      `yaml:"header"`
	Summary     string      `yaml:"summary"`
	Synopsis    string      `yaml:"synopsis"`
	Description string      `yaml:"description"`
	Options     []manOption `yaml:"options"`
}

var manpages = sync.OnceValues(func() (map[string]manPage, error) {
	pages := map[string]manPage{}
	if err := yaml.Unmarshal(manpagesYAML, &pages); err != nil {
		return nil, fmt.Errorf("parse manual pages: %w", err)
	}
	return pages, nil
})

func lookupMan(name string) (manPage, bool) {
	pages, err := manpages()
	if err != nil {
		return manPage{}, false
	}
	p, ok := pages[name]
	if p.Section == 0 {
		p.Section = 1
	}
	return p, ok
}

func runMan(s *Session, inv *Invocation) Output {
	args := inv.Args
	if len(args) == 0 {
		return fail("What manual page do you want?\nFor example, try 'man man'.")
	}
	if args[0] == "-k" {
		return manSearch(args[1:])
	}
	if len(args) > 1 && strings.TrimFunc(args[0], unicode.IsDigit) == "" {
		args = args[1:]
	}
	var b strings.Builder
	status := 0
	for i, name := range args {
		p, ok := lookupMan(name)
		if !ok {
			fmt.Fprintf(&b, "No manual entry for %s\n", name)
			status = 16
			continue
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.render(name))
	}
	if status != 0 {
		return Output{Stderr: b.String(), Status: status}
	}
	return Output{Stdout: b.String()}
}

// manSearch is man -k: a case-insensitive match over names and summaries.
func manSearch(keywords []string) Output {
	if len(keywords) == 0 {
		return fail("apropos what?")
	}
	pages, err := manpages()
	if err != nil {
		return fail("man: %v", err)
	}
	var lines []string
	for _, name := range Names() {
		p, ok := pages[name]
		if !ok {
			continue
		}
		for _, k := range keywords {
			k = strings.ToLower(k)
			if strings.Contains(name, k) || strings.Contains(strings.ToLower(p.Summary), k) {
				section := max(p.Section, 1)
				lines = append(lines, fmt.Sprintf("%-20s - %s", fmt.Sprintf("%s (%d)", name, section), p.Summary))
				break
			}
		}
	}
	if len(lines) == 0 {
		return failStatus(16, "%s: nothing appropriate.", strings.Join(keywords, " "))
	}
	return emit(strings.Join(lines, "\n"))
}

func (p manPage) render(name string) string {
	header := p.Header
	if header == "" {
		header = "User Commands"
		if p.Section == 8 {
			header = "System Administration"
		}
	}
	tag := fmt.Sprintf("%s(%d)", strings.ToUpper(name), p.Section)
	gap := max(78-2*len(tag)-len(header), 2)
	left := gap / 2
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s%s%s%s\n\n", tag, strings.Repeat(" ", left), header, strings.Repeat(" ", gap-left), tag)
	fmt.Fprintf(&b, "NAME\n       %s - %s\n\n", name, p.Summary)
	fmt.Fprintf(&b, "SYNOPSIS\n       %s\n\n", p.Synopsis)
	b.WriteString("DESCRIPTION\n")
	for _, l := range wrap(p.Description, 65) {
		b.WriteString("       " + l + "\n")
	}
	for _, o := range p.Options {
		fmt.Fprintf(&b, "\n       %s\n", o.Flag)
		for _, l := range wrap(o.Text, 58) {
			b.WriteString("              " + l + "\n")
		}
	}
	return b.String()
}

// wrap fills words into lines of at most width columns.
func wrap(text string, width int) []string {
	var lines []string
	var cur strings.Builder
	for _, w := range strings.Fields(text) {
		if cur.Len() > 0 && cur.Len()+1+len(w) > width {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

// runHelp lists the available commands, or summarises one of them.
func runHelp(s *Session, inv *Invocation) Output {
	if len(inv.Args) > 0 {
		var b strings.Builder
		for _, name := range inv.Args {
			p, ok := lookupMan(name)
			if !ok {
				return fail("-bash: help: no help topics match `%s'.  Try `help help' or `man -k %s' or `info %s'.", name, name, name)
			}
			fmt.Fprintf(&b, "%s: %s\n    %s\n", name, p.Synopsis, p.Summary)
		}
		return Output{Stdout: b.String()}
	}
	var b strings.Builder
	b.WriteString("GNU bash, version 5.1.16(1)-release (x86_64-pc-linux-gnu)\n")
	b.WriteString("This lab terminal understands the commands below. Type `man NAME' or\n`help NAME' to find out more about one of them.\n\n")
	names := Names()
	const cols, width = 5, 16
	for i, n := range names {
		if (i+1)%cols == 0 || i == len(names)-1 {
			b.WriteString(n + "\n")
			continue
		}
		fmt.Fprintf(&b, "%-*s", width, n)
	}
	return Output{Stdout: b.String()}
}
