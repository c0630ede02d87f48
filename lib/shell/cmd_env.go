package shell

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// positional reports the script arguments $1..$9, which live in Env while a
// script runs but are not variables anyone exported.
func positional(name string) bool {
	return len(name) == 1 && name[0] >= '0' && name[0] <= '9'
}

func (s *Session) sortedEnv() []string {
	keys := lo.Filter(slices.Sorted(maps.Keys(s.Env)), func(k string, _ int) bool { return !positional(k) })
	return lo.Map(keys, func(k string, _ int) string { return k + "=" + s.Env[k] })
}

// runEnv prints the environment, or runs a command with a modified one.
func runEnv(s *Session, inv *Invocation) Output {
	args := inv.Args
	env := maps.Clone(s.Env)
	for len(args) > 0 {
		a := args[0]
		switch {
		case a == "-i" || a == "--ignore-environment" || a == "-":
			env = map[string]string{}
		case a == "-u" || a == "--unset":
			if len(args) < 2 {
				return fail("env: option requires an argument -- 'u'\nTry 'env --help' for more information.")
			}
			delete(env, args[1])
			args = args[1:]
		case strings.Contains(a, "=") && validName(a[:strings.IndexByte(a, '=')]):
			k, v, _ := strings.Cut(a, "=")
			env[k] = v
		case strings.HasPrefix(a, "-") && a != "--":
			return badUsage("env", &optionError{option: a[1:2]})
		default:
			return s.withEnv(env, func() Output {
				if a == "--" {
					args = args[1:]
					if len(args) == 0 {
						return emit(strings.Join(s.sortedEnv(), "\n"))
					}
				}
				out := s.call(args[0], args[1:], inv.Stdin, inv.Piped)
				if out.Status == 127 {
					out.Stderr = fmt.Sprintf("env: '%s': No such file or directory\n", args[0])
				}
				return out
			})
		}
		args = args[1:]
	}
	return s.withEnv(env, func() Output {
		return emit(strings.Join(s.sortedEnv(), "\n"))
	})
}

// withEnv runs fn with env in place of the session environment.
func (s *Session) withEnv(env map[string]string, fn func() Output) Output {
	saved := s.Env
	s.Env = env
	defer func() { s.Env = saved }()
	return fn()
}

// shellQuote renders a value the way set and alias print it.
func shellQuote(v string) string {
	if v != "" && strings.Trim(v, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-./:,@%+=") == "" {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

func runExport(s *Session, inv *Invocation) Output {
	args := inv.Args
	unexport := false
options:
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		switch args[0] {
		case "-p", "-f":
		case "-n":
			unexport = true
		case "--":
			args = args[1:]
			break options
		default:
			return failStatus(2, "-bash: export: %s: invalid option\nexport: usage: export [-fn] [name[=value] ...] or export -p", args[0])
		}
		args = args[1:]
	}
	if len(args) == 0 {
		var b strings.Builder
		for _, kv := range s.sortedEnv() {
			k, v, _ := strings.Cut(kv, "=")
			fmt.Fprintf(&b, "declare -x %s=%s\n", k, strconv.Quote(v))
		}
		return Output{Stdout: b.String()}
	}
	var errs strings.Builder
	status := 0
	for _, a := range args {
		name, value, hasValue := strings.Cut(a, "=")
		if !validName(name) {
			fmt.Fprintf(&errs, "-bash: export: `%s': not a valid identifier\n", a)
			status = 1
			continue
		}
		switch {
		case unexport:
			// Variables stay set; the lab has no child processes to hide them from.
		case hasValue:
			s.Env[name] = value
		}
	}
	return Output{Stderr: errs.String(), Status: status}
}

func runSet(s *Session, inv *Invocation) Output {
	// Options such as -e, -x and -o pipefail are accepted and ignored.
	if len(inv.Args) > 0 {
		return Output{}
	}
	var b strings.Builder
	for _, kv := range s.sortedEnv() {
		k, v, _ := strings.Cut(kv, "=")
		fmt.Fprintf(&b, "%s=%s\n", k, shellQuote(v))
	}
	return Output{Stdout: b.String()}
}

func runUnset(s *Session, inv *Invocation) Output {
	var errs strings.Builder
	status := 0
	for _, name := range inv.Args {
		if name == "-v" || name == "-f" {
			continue
		}
		if !validName(name) {
			fmt.Fprintf(&errs, "-bash: unset: `%s': not a valid identifier\n", name)
			status = 1
			continue
		}
		delete(s.Env, name)
	}
	return Output{Stderr: errs.String(), Status: status}
}

func runPrintenv(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "0", "")
	if err != nil {
		return badUsage("printenv", err)
	}
	sep := "\n"
	if f.has('0') {
		sep = "\x00"
	}
	if len(f.args) == 0 {
		return Output{Stdout: strings.Join(s.sortedEnv(), sep) + sep}
	}
	var b strings.Builder
	status := 0
	for _, name := range f.args {
		v, ok := s.Env[name]
		if !ok || positional(name) {
			status = 1
			continue
		}
		b.WriteString(v + sep)
	}
	return Output{Stdout: b.String(), Status: status}
}

func runAlias(s *Session, inv *Invocation) Output {
	args := inv.Args
	if len(args) > 0 && args[0] == "-p" {
		args = args[1:]
	}
	show := func(name string) string {
		return fmt.Sprintf("alias %s=%s\n", name, "'"+strings.ReplaceAll(s.Aliases[name], "'", `'\''`)+"'")
	}
	if len(args) == 0 {
		var b strings.Builder
		for _, name := range slices.Sorted(maps.Keys(s.Aliases)) {
			b.WriteString(show(name))
		}
		return Output{Stdout: b.String()}
	}
	var out, errs strings.Builder
	status := 0
	for _, a := range args {
		name, value, ok := strings.Cut(a, "=")
		if !ok {
			if _, found := s.Aliases[name]; found {
				out.WriteString(show(name))
				continue
			}
			fmt.Fprintf(&errs, "-bash: alias: %s: not found\n", name)
			status = 1
			continue
		}
		if name == "" || strings.ContainsAny(name, " \t/$`'\"=") {
			fmt.Fprintf(&errs, "-bash: alias: `%s': invalid alias name\n", name)
			status = 1
			continue
		}
		s.Aliases[name] = value
	}
	return Output{Stdout: out.String(), Stderr: errs.String(), Status: status}
}

func runUnalias(s *Session, inv *Invocation) Output {
	if len(inv.Args) == 0 {
		return failStatus(2, "unalias: usage: unalias [-a] name [name ...]")
	}
	var errs strings.Builder
	status := 0
	for _, name := range inv.Args {
		if name == "-a" {
			clear(s.Aliases)
			continue
		}
		if _, ok := s.Aliases[name]; !ok {
			fmt.Fprintf(&errs, "-bash: unalias: %s: not found\n", name)
			status = 1
			continue
		}
		delete(s.Aliases, name)
	}
	return Output{Stderr: errs.String(), Status: status}
}

func runHistory(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "cw", "d")
	if err != nil {
		return Output{Stderr: fmt.Sprintf("-bash: history: %v\nhistory: usage: history [-c] [-d offset] [n]\n", err), Status: 2}
	}
	if f.has('c') {
		s.History = nil
		return Output{}
	}
	if v, ok := f.value('d'); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > len(s.History) {
			return fail("-bash: history: %s: history position out of range", v)
		}
		s.History = slices.Delete(s.History, n-1, n)
		return Output{}
	}
	start := 0
	if len(f.args) > 0 {
		n, err := strconv.Atoi(f.args[0])
		if err != nil || n < 0 {
			return fail("-bash: history: %s: numeric argument required", f.args[0])
		}
		start = max(len(s.History)-n, 0)
	}
	var b strings.Builder
	for i := start; i < len(s.History); i++ {
		fmt.Fprintf(&b, "%5d  %s\n", i+1, s.History[i])
	}
	return Output{Stdout: b.String()}
}

func runType(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "taPp", "")
	if err != nil {
		return Output{Stderr: fmt.Sprintf("-bash: type: %v\ntype: usage: type [-afptP] name [name ...]\n", err), Status: 2}
	}
	var out, errs strings.Builder
	status := 0
	for _, name := range f.args {
		if text, ok := s.Aliases[name]; ok && !f.has('P') {
			if f.has('t') {
				out.WriteString("alias\n")
			} else {
				fmt.Fprintf(&out, "%s is aliased to `%s'\n", name, text)
			}
			continue
		}
		if k, ok := Lookup(name); ok && builtins[k] && !f.has('P') {
			if f.has('t') {
				out.WriteString("builtin\n")
			} else {
				fmt.Fprintf(&out, "%s is a shell builtin\n", name)
			}
			continue
		}
		p, ok := s.lookPath(name)
		if !ok {
			if _, builtin := Lookup(name); builtin {
				p, ok = "/usr/bin/"+name, true
			}
		}
		if !ok {
			if !f.has('t') {
				fmt.Fprintf(&errs, "-bash: type: %s: not found\n", name)
			}
			status = 1
			continue
		}
		switch {
		case f.has('t'):
			out.WriteString("file\n")
		case f.has('p') || f.has('P'):
			out.WriteString(p + "\n")
		default:
			fmt.Fprintf(&out, "%s is %s\n", name, p)
		}
	}
	return Output{Stdout: out.String(), Stderr: errs.String(), Status: status}
}
