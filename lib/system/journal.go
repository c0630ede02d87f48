package system

import (
	"fmt"
	"strings"
	"time"
)

// Entry is one parsed syslog line.
type Entry struct {
	Stamp    string
	Host     string
	Ident    string
	Message  string
	Priority int
	raw      string
}

var priorities = []string{"emerg", "alert", "crit", "err", "warning", "notice", "info", "debug"}

// ParsePriority accepts a syslog level name or digit.
func ParsePriority(s string) (int, error) {
	if len(s) == 1 && s[0] >= '0' && s[0] <= '7' {
		return int(s[0] - '0'), nil
	}
	if s == "error" {
		s = "err"
	}
	if s == "warn" {
		s = "warning"
	}
	for i, p := range priorities {
		if p == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("Failed to parse log level: %s", s)
}

func classify(msg string) int {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "failed"), strings.Contains(lower, "error"), strings.Contains(lower, "address already in use"):
		return 3
	case strings.Contains(lower, "warning"), strings.Contains(lower, "invalid user"):
		return 4
	default:
		return 6
	}
}

// parseEntry splits "Mmm dd hh:mm:ss host ident: message".
func parseEntry(line string) (Entry, bool) {
	n := len(time.Stamp)
	if len(line) <= n+1 {
		return Entry{}, false
	}
	host, rest, ok := strings.Cut(line[n+1:], " ")
	if !ok {
		return Entry{}, false
	}
	ident, msg, ok := strings.Cut(rest, ": ")
	if !ok {
		return Entry{}, false
	}
	return Entry{Stamp: line[:n], Host: host, Ident: ident, Message: msg, Priority: classify(msg), raw: line}, true
}

// Entries parses the syslog file.
func (h *Host) Entries() []Entry {
	if h.journal == nil {
		return nil
	}
	data, err := h.journal.ReadFile(SyslogPath)
	if err != nil {
		return nil
	}
	var out []Entry
	for _, line := range strings.Split(data, "\n") {
		if e, ok := parseEntry(line); ok {
			out = append(out, e)
		}
	}
	return out
}

func (u *Unit) owns(e Entry) bool {
	name := e.Ident
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	if name == u.Ident {
		return true
	}
	return name == "systemd" && strings.Contains(e.Message, u.Name)
}

func (h *Host) unitJournal(u *Unit, n int) []string {
	var lines []string
	for _, e := range h.Entries() {
		if u.owns(e) {
			lines = append(lines, e.raw)
		}
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// JournalOptions selects journalctl output.
type JournalOptions struct {
	Unit     string
	Lines    int
	Priority int
	Kernel   bool
	Reverse  bool
	Grep     string
}

// Journalctl renders journalctl. Priority is the maximum level shown; pass 7
// (debug) for everything.
func (h *Host) Journalctl(opts JournalOptions) string {
	var unit *Unit
	if opts.Unit != "" {
		u, err := h.unit(opts.Unit)
		if err != nil {
			return "-- No entries --"
		}
		unit = u
	}
	var lines []string
	for _, e := range h.Entries() {
		if unit != nil && !unit.owns(e) {
			continue
		}
		if opts.Kernel && e.Ident != "kernel" {
			continue
		}
		if e.Priority > opts.Priority {
			continue
		}
		if opts.Grep != "" && !strings.Contains(e.Message, opts.Grep) {
			continue
		}
		lines = append(lines, e.raw)
	}
	if opts.Lines > 0 && len(lines) > opts.Lines {
		lines = lines[len(lines)-opts.Lines:]
	}
	if opts.Reverse {
		for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
			lines[i], lines[j] = lines[j], lines[i]
		}
	}
	if len(lines) == 0 {
		return "-- No entries --"
	}
	return strings.Join(lines, "\n")
}
