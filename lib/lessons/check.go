package lessons

import (
	"fmt"
	"strings"

	"github.com/onkernel/termlab/lib/vfs"
)

// Inspector is the read-only view of the filesystem the checker needs.
// *vfs.FS implements it.
type Inspector interface {
	ResolvePath(p string) string
	Exists(p string) bool
	Stat(p string) (vfs.Stat, bool)
	ReadFile(p string) (string, error)
}

// Observation is the state a task is judged against: the last command line,
// the text it printed, and the machine as it is now.
type Observation struct {
	Command string
	Output  string
	Cwd     string
	FS      Inspector
}

// Check reports whether obs satisfies v. It returns ErrUnknownValidation for
// unsupported kinds; every other outcome is a plain pass or fail.
func Check(v Validation, obs Observation) (bool, error) {
	cmd := normalize(obs.Command)
	switch v.Type {
	case CommandExact:
		return cmd == normalize(v.Check), nil
	case CommandPrefix:
		return cmd != "" && strings.HasPrefix(cmd, normalize(v.Check)), nil
	case CommandContains:
		return strings.Contains(cmd, normalize(v.Check)), nil
	case OutputContains:
		return strings.Contains(obs.Output, v.Check), nil
	case PathExists:
		return obs.FS != nil && obs.FS.Exists(v.Check), nil
	case PathMissing:
		return obs.FS != nil && !obs.FS.Exists(v.Check), nil
	case CwdEquals:
		if obs.FS == nil {
			return obs.Cwd == v.Check, nil
		}
		return obs.Cwd == obs.FS.ResolvePath(v.Check), nil
	case PermissionEquals:
		p, mode, ok := cutLast(v.Check)
		if !ok || obs.FS == nil {
			return false, nil
		}
		st, found := obs.FS.Stat(p)
		return found && st.Octal() == mode, nil
	case FileContains:
		p, text, ok := strings.Cut(v.Check, ":")
		if !ok || obs.FS == nil {
			return false, nil
		}
		content, err := obs.FS.ReadFile(p)
		return err == nil && strings.Contains(content, text), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownValidation, v.Type)
	}
}

// CheckTask evaluates the lesson task at index i.
func (l *Lesson) CheckTask(i int, obs Observation) (bool, error) {
	t, err := l.Task(i)
	if err != nil {
		return false, err
	}
	return Check(t.Validation, obs)
}

// Progress evaluates every task and returns the pass flags in task order.
func (l *Lesson) Progress(obs Observation) []bool {
	out := make([]bool, len(l.Tasks))
	for i, t := range l.Tasks {
		out[i], _ = Check(t.Validation, obs)
	}
	return out
}

// normalize collapses runs of whitespace so "ls  -la" matches "ls -la".
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cutLast(s string) (string, string, bool) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
