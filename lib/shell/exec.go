package shell

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/onkernel/termlab/lib/vfs"
)

const devNull = "/dev/null"

// runLine lexes, parses and runs a full command line into t.
func (s *Session) runLine(line string, t *transcript) {
	toks, err := lex(line)
	if err == nil {
		toks, err = s.expandAliases(toks)
	}
	var list []listItem
	if err == nil {
		list, err = parse(toks)
	}
	if err != nil {
		t.write("-bash: " + err.Error())
		s.Status = 2
		return
	}
	for _, item := range list {
		switch item.connector {
		case "&&":
			if s.Status != 0 {
				continue
			}
		case "||":
			if s.Status == 0 {
				continue
			}
		}
		s.runPipeline(item.pipe, t)
	}
}

// stage is a simple command with its words and redirect targets expanded.
type stage struct {
	inv     Invocation
	assigns map[string]string
	stdin   *string
	stdout  string
	appendO bool
	stderr  string
	appendE bool
	merge   bool
}

func (s *Session) runPipeline(p pipeline, t *transcript) {
	var (
		input  string
		piped  bool
		status int
	)
	for i, cmd := range p {
		last := i == len(p)-1
		st, err := s.prepare(cmd)
		if err != nil {
			t.write(err.Error())
			status = 1
			input, piped = "", true
			continue
		}
		if st.stdin == nil {
			st.inv.Stdin, st.inv.Piped = input, piped
		} else {
			st.inv.Stdin, st.inv.Piped = *st.stdin, true
		}
		st.inv.TTY = last && st.stdout == ""

		out := s.runStage(st)
		if out.Clear {
			t.reset()
		}
		stdout, stderr := out.Stdout, out.Stderr
		if st.merge {
			stdout, stderr = stdout+stderr, ""
		}
		if st.stderr != "" {
			if err := s.redirectTo(st.stderr, stderr, st.appendE); err != nil {
				t.write(err.Error())
			}
			stderr = ""
		}
		if st.stdout != "" {
			if err := s.redirectTo(st.stdout, stdout, st.appendO); err != nil {
				t.write(err.Error())
				out.Status = 1
			}
			stdout = ""
		}
		t.write(stderr)
		if last {
			t.write(stdout)
		} else {
			input, piped = stdout, true
		}
		status = out.Status
	}
	s.Status = status
}

// runStage executes one prepared command, applying its prefix assignments
// for the duration of the call.
func (s *Session) runStage(st *stage) Output {
	if st.inv.Name == "" {
		for k, v := range st.assigns {
			s.Env[k] = v
		}
		return Output{}
	}
	saved := make(map[string]*string, len(st.assigns))
	for k, v := range st.assigns {
		if old, ok := s.Env[k]; ok {
			saved[k] = &old
		} else {
			saved[k] = nil
		}
		s.Env[k] = v
	}
	out := s.dispatch(&st.inv)
	for k, old := range saved {
		if old == nil {
			delete(s.Env, k)
		} else {
			s.Env[k] = *old
		}
	}
	return out
}

// prepare expands a simple command. Output redirect targets are created (or
// truncated) before the command runs, as bash does.
func (s *Session) prepare(cmd simpleCommand) (*stage, error) {
	st := &stage{assigns: map[string]string{}}
	words := cmd.words
	for len(words) > 0 {
		name, value, ok := assignment(words[0])
		if !ok {
			break
		}
		st.assigns[name] = s.expandString(value)
		words = words[1:]
	}
	var args []string
	for _, w := range words {
		args = append(args, s.expandWord(w)...)
	}
	if len(args) > 0 {
		st.inv.Name, st.inv.Args = args[0], args[1:]
	}
	for _, r := range cmd.redirs {
		if r.op == "2>&1" {
			st.merge = true
			continue
		}
		targets := s.expandWord(r.target)
		if len(targets) != 1 {
			return nil, fmt.Errorf("-bash: %s: ambiguous redirect", r.target.literal())
		}
		target := targets[0]
		switch r.op {
		case "<":
			data, err := s.readInput(target)
			if err != nil {
				return nil, err
			}
			st.stdin = &data
		case ">", ">>":
			if err := s.openOutput(target, r.op == ">>"); err != nil {
				return nil, err
			}
			st.stdout, st.appendO = target, r.op == ">>"
		case "2>", "2>>":
			if err := s.openOutput(target, r.op == "2>>"); err != nil {
				return nil, err
			}
			st.stderr, st.appendE = target, r.op == "2>>"
		}
	}
	return st, nil
}

func (s *Session) readInput(target string) (string, error) {
	if s.FS.ResolvePath(target) == devNull {
		return "", nil
	}
	data, err := s.FS.ReadFile(target)
	if err != nil {
		return "", fmt.Errorf("-bash: %s", bashReason(target, err))
	}
	return data, nil
}

func (s *Session) openOutput(target string, appendTo bool) error {
	if s.FS.ResolvePath(target) == devNull {
		return nil
	}
	var err error
	if appendTo {
		err = s.FS.AppendFile(target, "")
	} else {
		err = s.FS.WriteFile(target, "")
	}
	if err != nil {
		return fmt.Errorf("-bash: %s", bashReason(target, err))
	}
	return nil
}

func (s *Session) redirectTo(target, data string, appendTo bool) error {
	if s.FS.ResolvePath(target) == devNull {
		return nil
	}
	var err error
	if appendTo {
		err = s.FS.AppendFile(target, data)
	} else {
		err = s.FS.WriteFile(target, data)
	}
	if err != nil {
		return fmt.Errorf("-bash: %s", bashReason(target, err))
	}
	return nil
}

// bashReason renders "target: reason" for a VFS failure.
func bashReason(target string, err error) string {
	var pe *vfs.PathError
	if errors.As(err, &pe) {
		return target + ": " + pe.Err.Error()
	}
	return target + ": " + err.Error()
}

// dispatch runs one command. Unknown names and paths fall through to script
// execution or "command not found"; a panicking handler is reported rather
// than propagated.
func (s *Session) dispatch(inv *Invocation) (out Output) {
	defer func() {
		if r := recover(); r != nil {
			out = Output{Stderr: fmt.Sprintf("%s: error: %v\n", inv.Name, r), Status: 1}
		}
	}()
	if s.depth >= maxDepth {
		return Output{Stderr: fmt.Sprintf("-bash: %s: maximum nesting level exceeded\n", inv.Name), Status: 1}
	}
	if s.dispatches >= maxDispatches {
		return Output{Stderr: "-bash: fork: retry: Resource temporarily unavailable\n", Status: 254}
	}
	s.dispatches++
	s.depth++
	defer func() { s.depth-- }()

	if strings.Contains(inv.Name, "/") {
		return s.runPath(inv)
	}
	kind, ok := Lookup(inv.Name)
	if !ok {
		return Output{Stderr: inv.Name + ": command not found\n", Status: 127}
	}
	return commands[kind].Run(s, inv)
}

// call runs a command by name from inside another handler.
func (s *Session) call(name string, args []string, stdin string, piped bool) Output {
	return s.dispatch(&Invocation{Name: name, Args: args, Stdin: stdin, Piped: piped})
}

// runPath executes ./script or /usr/bin/tool style invocations: program
// stubs dispatch to the builtin of the same name, text files run line by
// line as a script.
func (s *Session) runPath(inv *Invocation) Output {
	st, ok := s.FS.Stat(inv.Name)
	if !ok {
		return Output{Stderr: fmt.Sprintf("-bash: %s: No such file or directory\n", inv.Name), Status: 127}
	}
	if st.IsDir() {
		return Output{Stderr: fmt.Sprintf("-bash: %s: Is a directory\n", inv.Name), Status: 126}
	}
	if st.Mode&0o111 == 0 {
		return Output{Stderr: fmt.Sprintf("-bash: %s: Permission denied\n", inv.Name), Status: 126}
	}
	data, err := s.FS.ReadFile(inv.Name)
	if err != nil {
		return Output{Stderr: "-bash: " + bashReason(inv.Name, err) + "\n", Status: 126}
	}
	if strings.HasPrefix(data, "\x7fELF") {
		base := path.Base(inv.Name)
		if _, ok := Lookup(base); !ok {
			return Output{Stderr: fmt.Sprintf("-bash: %s: cannot execute binary file: Exec format error\n", inv.Name), Status: 126}
		}
		return s.dispatch(&Invocation{Name: base, Args: inv.Args, Stdin: inv.Stdin, Piped: inv.Piped, TTY: inv.TTY})
	}
	return s.runScript(data, inv.Args)
}

// runScript executes each line of a script in the current session. $1..$9
// are bound to the arguments for the duration.
func (s *Session) runScript(data string, args []string) Output {
	saved := map[string]string{}
	for i := 1; i <= 9; i++ {
		k := fmt.Sprint(i)
		saved[k] = s.Env[k]
		if i <= len(args) {
			s.Env[k] = args[i-1]
		} else {
			delete(s.Env, k)
		}
	}
	defer func() {
		for k, v := range saved {
			if v == "" {
				delete(s.Env, k)
			} else {
				s.Env[k] = v
			}
		}
	}()
	var t transcript
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "exit" || strings.HasPrefix(line, "exit ") {
			break
		}
		if s.dispatches >= maxDispatches {
			break
		}
		s.runLine(line, &t)
	}
	out := t.String()
	if out != "" {
		out += "\n"
	}
	return Output{Stdout: out, Status: s.Status, Clear: t.clear}
}
