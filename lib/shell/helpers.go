package shell

import (
	"errors"
	"fmt"
	"strings"

	"github.com/onkernel/termlab/lib/vfs"
	"github.com/samber/lo"
)

// flags is the result of getopt-style parsing.
type flags struct {
	set  map[byte]bool
	vals map[byte]string
	long map[string]string
	args []string
}

func (f flags) has(c byte) bool { return f.set[c] }

func (f flags) anyOf(cs string) bool {
	for i := 0; i < len(cs); i++ {
		if f.set[cs[i]] {
			return true
		}
	}
	return false
}

func (f flags) value(c byte) (string, bool) {
	v, ok := f.vals[c]
	return v, ok
}

func (f flags) hasLong(name string) bool {
	_, ok := f.long[name]
	return ok
}

type optionError struct {
	option string
	needs  bool
}

func (e *optionError) Error() string {
	if e.needs {
		return fmt.Sprintf("option requires an argument -- '%s'", e.option)
	}
	return fmt.Sprintf("invalid option -- '%s'", e.option)
}

// parseFlags parses combined short options. Letters in bools are switches,
// letters in values take an argument (attached or next). Long options are
// recorded as given; those listed in longValues consume the next argument
// when no "=value" is attached. Options may follow operands; "--" ends them.
func parseFlags(args []string, bools, values string, longValues ...string) (flags, error) {
	f := flags{set: map[byte]bool{}, vals: map[byte]string{}, long: map[string]string{}}
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			f.args = append(f.args, args[i+1:]...)
			return f, nil
		case strings.HasPrefix(a, "--"):
			name, val, hasVal := strings.Cut(a[2:], "=")
			if !hasVal && lo.Contains(longValues, name) && i+1 < len(args) {
				i++
				val = args[i]
			}
			f.long[name] = val
		case len(a) > 1 && a[0] == '-':
			for j := 1; j < len(a); j++ {
				c := a[j]
				switch {
				case strings.IndexByte(bools, c) >= 0:
					f.set[c] = true
				case strings.IndexByte(values, c) >= 0:
					f.set[c] = true
					if j+1 < len(a) {
						f.vals[c] = a[j+1:]
					} else if i+1 < len(args) {
						i++
						f.vals[c] = args[i]
					} else {
						return f, &optionError{option: string(c), needs: true}
					}
					j = len(a)
				default:
					return f, &optionError{option: string(c)}
				}
			}
		default:
			f.args = append(f.args, a)
		}
	}
	return f, nil
}

// badUsage renders a getopt failure the way GNU tools do.
func badUsage(name string, err error) Output {
	return Output{
		Stderr: fmt.Sprintf("%s: %v\nTry '%s --help' for more information.\n", name, err, name),
		Status: 2,
	}
}

func emit(text string) Output {
	return Output{Stdout: terminate(text)}
}

func fail(format string, args ...any) Output {
	return Output{Stderr: terminate(fmt.Sprintf(format, args...)), Status: 1}
}

func failStatus(status int, format string, args ...any) Output {
	return Output{Stderr: terminate(fmt.Sprintf(format, args...)), Status: status}
}

func terminate(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// splitLines splits text into lines; a trailing newline does not produce an
// empty last line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// reason is the bare diagnostic of a VFS error ("No such file or directory").
func reason(err error) string {
	var pe *vfs.PathError
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}
	return err.Error()
}

// source is one input of a text filter: a named file or standard input.
type source struct {
	name string
	text string
}

// inputs reads the named files, or stdin when there are none. "-" names
// stdin explicitly. Unreadable files are reported in errs as
// "<cmd>: <file>: <reason>" lines.
func (s *Session) inputs(cmd string, inv *Invocation, files []string) (srcs []source, errs string) {
	if len(files) == 0 {
		return []source{{name: "-", text: inv.Stdin}}, ""
	}
	var b strings.Builder
	for _, f := range files {
		if f == "-" {
			srcs = append(srcs, source{name: "-", text: inv.Stdin})
			continue
		}
		data, err := s.FS.ReadFile(f)
		if err != nil {
			fmt.Fprintf(&b, "%s: %s: %s\n", cmd, f, reason(err))
			continue
		}
		srcs = append(srcs, source{name: f, text: data})
	}
	return srcs, b.String()
}

// isRoot reports whether the current identity is root.
func (s *Session) isRoot() bool { return s.FS.UID() == 0 }

// interpretEscapes handles the backslash sequences echo -e and printf know.
func interpretEscapes(s string) (string, bool) {
	if !strings.Contains(s, `\`) {
		return s, false
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'e':
			b.WriteByte(0x1b)
		case '\\':
			b.WriteByte('\\')
		case '0':
			b.WriteByte(0)
		case 'c':
			return b.String(), true
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String(), false
}
