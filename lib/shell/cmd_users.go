package shell

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/onkernel/termlab/lib/vfs"
	"github.com/samber/lo"
)

var modeExpr = regexp.MustCompile(`^([0-7]{3,4}|([ugoa]*[-+=][rwxXst]*)(,[ugoa]*[-+=][rwxXst]*)*)$`)

// splitModeArgs separates chmod switches from the mode operand, which may
// itself start with '-' ("chmod -x file").
func splitModeArgs(args []string) (recursive, verbose bool, mode string, files []string, err error) {
	for _, a := range args {
		switch {
		case mode == "" && modeExpr.MatchString(a):
			mode = a
		case a == "-R" || a == "--recursive":
			recursive = true
		case a == "-v" || a == "-c" || a == "--verbose":
			verbose = true
		case a == "-f" || a == "--quiet" || a == "--silent":
		case strings.HasPrefix(a, "-") && len(a) > 1 && mode == "" && strings.Trim(a[1:], "Rvcf") == "":
			recursive = recursive || strings.Contains(a, "R")
			verbose = verbose || strings.ContainsAny(a, "vc")
		case strings.HasPrefix(a, "-") && len(a) > 1 && !modeExpr.MatchString(a):
			return false, false, "", nil, &optionError{option: a[1:2]}
		case mode == "":
			mode = a
		default:
			files = append(files, a)
		}
	}
	return recursive, verbose, mode, files, nil
}

// eachPath applies fn to p and, when recursive, to everything below it.
func (s *Session) eachPath(p string, recursive bool, fn func(string) error) error {
	if err := fn(p); err != nil {
		return err
	}
	if !recursive || !s.isDir(p) {
		return nil
	}
	root := s.FS.ResolvePath(p)
	var firstErr error
	_ = s.FS.Walk(root, func(st vfs.Stat) bool {
		if st.Path == root {
			return true
		}
		if err := fn(st.Path); err != nil && firstErr == nil {
			firstErr = err
		}
		return st.Type != vfs.TypeSymlink
	})
	return firstErr
}

func runChmod(s *Session, inv *Invocation) Output {
	recursive, verbose, mode, files, err := splitModeArgs(inv.Args)
	if err != nil {
		return badUsage("chmod", err)
	}
	if mode == "" {
		return fail("chmod: missing operand\nTry 'chmod --help' for more information.")
	}
	if len(files) == 0 {
		return fail("chmod: missing operand after '%s'\nTry 'chmod --help' for more information.", mode)
	}
	var out, errs strings.Builder
	for _, p := range files {
		err := s.eachPath(p, recursive, func(target string) error {
			before, _ := s.FS.Stat(target)
			if err := s.FS.Chmod(target, mode); err != nil {
				return err
			}
			if verbose {
				after, _ := s.FS.Stat(target)
				fmt.Fprintf(&out, "mode of '%s' changed from 0%s (%s) to 0%s (%s)\n", target, before.Octal(), before.ModeString()[1:], after.Octal(), after.ModeString()[1:])
			}
			return nil
		})
		if err == nil {
			continue
		}
		if errors.Is(err, vfs.ErrInvalid) {
			return fail("chmod: invalid mode: '%s'\nTry 'chmod --help' for more information.", mode)
		}
		fmt.Fprintf(&errs, "chmod: cannot access '%s': %s\n", p, reason(err))
	}
	o := errOutput(errs.String())
	o.Stdout = out.String()
	return o
}

func runChown(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "Rvchf", "", "recursive")
	if err != nil {
		return badUsage("chown", err)
	}
	if len(f.args) == 0 {
		return fail("chown: missing operand\nTry 'chown --help' for more information.")
	}
	if len(f.args) == 1 {
		return fail("chown: missing operand after '%s'\nTry 'chown --help' for more information.", f.args[0])
	}
	spec := f.args[0]
	owner, group, found := strings.Cut(spec, ":")
	if !found {
		owner, group, _ = strings.Cut(spec, ".")
	}
	if found && group == "" && owner != "" {
		if u, ok := s.FS.LookupUser(owner); ok {
			group = s.FS.GroupName(u.GID)
		}
	}
	return s.changeOwner("chown", owner, group, f.args[1:], f.has('R') || f.hasLong("recursive"), f.anyOf("vc"))
}

func runChgrp(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "Rvchf", "", "recursive")
	if err != nil {
		return badUsage("chgrp", err)
	}
	if len(f.args) < 2 {
		return fail("chgrp: missing operand\nTry 'chgrp --help' for more information.")
	}
	return s.changeOwner("chgrp", "", f.args[0], f.args[1:], f.has('R') || f.hasLong("recursive"), f.anyOf("vc"))
}

func (s *Session) changeOwner(cmd, owner, group string, files []string, recursive, verbose bool) Output {
	var out, errs strings.Builder
	for _, p := range files {
		err := s.eachPath(p, recursive, func(target string) error {
			if err := s.FS.Chown(target, owner, group); err != nil {
				return err
			}
			if verbose {
				st, _ := s.FS.Stat(target)
				fmt.Fprintf(&out, "changed ownership of '%s' to %s:%s\n", target, st.Owner, st.Group)
			}
			return nil
		})
		switch {
		case err == nil:
		case errors.Is(err, vfs.ErrUnknownUser):
			return fail("%s: invalid user: '%s'", cmd, joinOwner(owner, group))
		case errors.Is(err, vfs.ErrUnknownGroup):
			if cmd == "chgrp" {
				return fail("chgrp: invalid group: '%s'", group)
			}
			return fail("%s: invalid group: '%s'", cmd, joinOwner(owner, group))
		default:
			fmt.Fprintf(&errs, "%s: cannot access '%s': %s\n", cmd, p, reason(err))
		}
	}
	o := errOutput(errs.String())
	o.Stdout = out.String()
	return o
}

func joinOwner(owner, group string) string {
	if group == "" {
		return owner
	}
	return owner + ":" + group
}

// targetUser resolves an optional user operand, defaulting to the current
// identity.
func (s *Session) targetUser(cmd string, args []string) (vfs.User, *Output) {
	if len(args) == 0 {
		return s.FS.CurrentUser(), nil
	}
	u, ok := s.FS.LookupUser(args[0])
	if !ok {
		o := fail("%s: '%s': no such user", cmd, args[0])
		return vfs.User{}, &o
	}
	return u, nil
}

func runID(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "ugGnr", "")
	if err != nil {
		return badUsage("id", err)
	}
	u, bad := s.targetUser("id", f.args)
	if bad != nil {
		return *bad
	}
	groups := s.FS.UserGroups(u)
	switch {
	case f.has('u'):
		if f.has('n') {
			return emit(u.Name)
		}
		return emit(strconv.Itoa(u.UID))
	case f.has('g'):
		if f.has('n') {
			return emit(s.FS.GroupName(u.GID))
		}
		return emit(strconv.Itoa(u.GID))
	case f.has('G'):
		parts := lo.Map(groups, func(g vfs.Group, _ int) string {
			if f.has('n') {
				return g.Name
			}
			return strconv.Itoa(g.GID)
		})
		return emit(strings.Join(parts, " "))
	case f.has('n'):
		return fail("id: cannot print only names or real IDs in default format")
	}
	parts := lo.Map(groups, func(g vfs.Group, _ int) string { return fmt.Sprintf("%d(%s)", g.GID, g.Name) })
	return emit(fmt.Sprintf("uid=%d(%s) gid=%d(%s) groups=%s", u.UID, u.Name, u.GID, s.FS.GroupName(u.GID), strings.Join(parts, ",")))
}

func runWhoami(s *Session, inv *Invocation) Output {
	if len(inv.Args) > 0 {
		return fail("whoami: extra operand '%s'\nTry 'whoami --help' for more information.", inv.Args[0])
	}
	return emit(s.FS.CurrentUser().Name)
}

func runGroups(s *Session, inv *Invocation) Output {
	if len(inv.Args) == 0 {
		names := lo.Map(s.FS.UserGroups(s.FS.CurrentUser()), func(g vfs.Group, _ int) string { return g.Name })
		return emit(strings.Join(names, " "))
	}
	var lines []string
	var errs strings.Builder
	for _, name := range inv.Args {
		u, ok := s.FS.LookupUser(name)
		if !ok {
			fmt.Fprintf(&errs, "groups: '%s': no such user\n", name)
			continue
		}
		names := lo.Map(s.FS.UserGroups(u), func(g vfs.Group, _ int) string { return g.Name })
		lines = append(lines, name+" : "+strings.Join(names, " "))
	}
	o := errOutput(errs.String())
	o.Stdout = joinLines(lines)
	return o
}

// switchUser pushes the current identity and becomes u. A login switch also
// moves to the new home directory.
func (s *Session) switchUser(u vfs.User, login bool) {
	s.identities = append(s.identities, identity{uid: s.FS.UID(), cwd: s.FS.Cwd()})
	_ = s.FS.SetUID(u.UID)
	s.syncIdentity()
	if login {
		if err := s.FS.Chdir(u.Home); err == nil {
			s.Env["OLDPWD"] = s.Env["PWD"]
			s.Env["PWD"] = s.FS.Cwd()
		}
	}
	s.Env["SHLVL"] = strconv.Itoa(len(s.identities) + 1)
}

// popIdentity restores the frame su saved. It reports false at the login
// shell.
func (s *Session) popIdentity() bool {
	if len(s.identities) == 0 {
		return false
	}
	top := s.identities[len(s.identities)-1]
	s.identities = s.identities[:len(s.identities)-1]
	_ = s.FS.SetUID(top.uid)
	s.syncIdentity()
	if top.cwd != s.FS.Cwd() {
		if err := s.FS.Chdir(top.cwd); err == nil {
			s.Env["PWD"] = s.FS.Cwd()
		}
	}
	s.Env["SHLVL"] = strconv.Itoa(len(s.identities) + 1)
	return true
}

func runSu(s *Session, inv *Invocation) Output {
	login := false
	var (
		name    = "root"
		command string
	)
	args := inv.Args
	for i := 0; i < len(args); i++ {
		switch a := args[i]; {
		case a == "-" || a == "-l" || a == "--login":
			login = true
		case a == "-c" && i+1 < len(args):
			command = args[i+1]
			i++
		case strings.HasPrefix(a, "-") && a != "-":
			return badUsage("su", &optionError{option: a[1:2]})
		default:
			name = a
		}
	}
	u, ok := s.FS.LookupUser(name)
	if !ok {
		return fail("su: user %s does not exist or the user entry does not contain all the required fields", name)
	}
	if command != "" {
		prev := s.FS.UID()
		_ = s.FS.SetUID(u.UID)
		s.syncIdentity()
		var t transcript
		s.runLine(command, &t)
		_ = s.FS.SetUID(prev)
		s.syncIdentity()
		return Output{Stdout: terminate(t.String()), Status: s.Status, Clear: t.clear}
	}
	s.switchUser(u, login)
	return Output{}
}

// authLog records a sudo invocation the way sudo's syslog line looks.
func (s *Session) authLog(line string) {
	stamp := s.now().Format("Jan _2 15:04:05")
	_ = s.FS.AppendFile("/var/log/auth.log", fmt.Sprintf("%s %s sudo: %s\n", stamp, s.FS.Hostname(), line))
}

func (s *Session) inSudoers(u vfs.User) bool {
	if u.UID == 0 {
		return true
	}
	return lo.ContainsBy(s.FS.UserGroups(u), func(g vfs.Group) bool { return g.Name == "sudo" || g.Name == "wheel" })
}

func runSudo(s *Session, inv *Invocation) Output {
	args := inv.Args
	target := "root"
	login, shell := false, false
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		a := args[0]
		args = args[1:]
		switch a {
		case "-i", "--login":
			login = true
		case "-s", "--shell":
			shell = true
		case "-u", "--user":
			if len(args) == 0 {
				return fail("sudo: option requires an argument -- 'u'")
			}
			target, args = args[0], args[1:]
		case "-k", "-K", "-v":
			return Output{}
		case "-l":
			me := s.FS.CurrentUser()
			if !s.inSudoers(me) {
				return fail("Sorry, user %s may not run sudo on %s.", me.Name, s.FS.Hostname())
			}
			return emit(fmt.Sprintf("Matching Defaults entries for %s on %s:\n    env_reset, mail_badpass, secure_path=/usr/local/sbin\\:/usr/local/bin\\:/usr/sbin\\:/usr/bin\\:/sbin\\:/bin\n\nUser %s may run the following commands on %s:\n    (ALL : ALL) ALL", me.Name, s.FS.Hostname(), me.Name, s.FS.Hostname()))
		case "--":
		default:
			opt := strings.TrimLeft(a, "-")
			if opt == "" {
				opt = "-"
			}
			return badUsage("sudo", &optionError{option: opt[:1]})
		}
	}
	if len(args) == 0 && !login && !shell {
		return fail("usage: sudo -h | -K | -k | -V\nusage: sudo -v [-ABknS] [-g group] [-h host] [-p prompt] [-u user]\nusage: sudo -l [-ABknS] [-g group] [-h host] [-p prompt] [-U user] [-u user] [command]\nusage: sudo [-ABbEHknPS] [-r role] [-t type] [-C num] [-D directory] [-g group] [-h host] [-p prompt] [-R directory] [-T timeout] [-u user] [VAR=value] [-i|-s] [<command>]")
	}
	me := s.FS.CurrentUser()
	pwd := s.FS.Cwd()
	if !s.inSudoers(me) {
		s.authLog(fmt.Sprintf("%8s : user NOT in sudoers ; TTY=pts/0 ; PWD=%s ; USER=%s ; COMMAND=%s", me.Name, pwd, target, strings.Join(args, " ")))
		return fail("%s is not in the sudoers file.  This incident will be reported.", me.Name)
	}
	u, ok := s.FS.LookupUser(target)
	if !ok {
		return fail("sudo: unknown user %s\nsudo: error initializing audit plugin sudoers_audit", target)
	}
	command := strings.Join(args, " ")
	if len(args) > 0 {
		if p, found := s.lookPath(args[0]); found {
			command = strings.Join(append([]string{p}, args[1:]...), " ")
		}
	}
	if command == "" {
		command = "/bin/bash"
	}
	s.authLog(fmt.Sprintf("%8s : TTY=pts/0 ; PWD=%s ; USER=%s ; COMMAND=%s", me.Name, pwd, target, command))

	// Interactive forms keep the elevated identity until exit.
	if login || shell || len(args) > 0 && (args[0] == "su" || args[0] == "bash" || args[0] == "sh") {
		if len(args) > 0 && args[0] == "su" {
			rest := lo.Filter(args[1:], func(a string, _ int) bool {
				if a == "-" || a == "-l" || a == "--login" {
					login = true
					return false
				}
				return true
			})
			if len(rest) > 0 {
				if u, ok = s.FS.LookupUser(rest[0]); !ok {
					return fail("su: user %s does not exist or the user entry does not contain all the required fields", rest[0])
				}
			}
		}
		if len(args) > 0 && (login || shell) && args[0] != "su" && args[0] != "bash" && args[0] != "sh" {
			return s.elevated(u, args, inv)
		}
		s.switchUser(u, login)
		return Output{}
	}
	return s.elevated(u, args, inv)
}

// elevated runs one command as u and drops back afterwards.
func (s *Session) elevated(u vfs.User, args []string, inv *Invocation) Output {
	prev := s.FS.UID()
	_ = s.FS.SetUID(u.UID)
	s.syncIdentity()
	defer func() {
		_ = s.FS.SetUID(prev)
		s.syncIdentity()
	}()
	return s.dispatch(&Invocation{Name: args[0], Args: args[1:], Stdin: inv.Stdin, Piped: inv.Piped, TTY: inv.TTY})
}

func runPasswd(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "Sdle", "")
	if err != nil {
		return badUsage("passwd", err)
	}
	me := s.FS.CurrentUser()
	name := me.Name
	if len(f.args) > 0 {
		name = f.args[0]
	}
	if _, ok := s.FS.LookupUser(name); !ok {
		return fail("passwd: user '%s' does not exist", name)
	}
	if name != me.Name && !s.isRoot() {
		return fail("passwd: You may not view or modify password information for %s.", name)
	}
	if f.has('S') {
		return emit(fmt.Sprintf("%s P %s 0 99999 7 -1", name, s.now().Format("01/02/2006")))
	}
	var b strings.Builder
	if s.isRoot() {
		b.WriteString("New password: \nRetype new password: \n")
	} else {
		fmt.Fprintf(&b, "Changing password for %s.\nCurrent password: \nNew password: \nRetype new password: \n", name)
	}
	b.WriteString("passwd: password updated successfully\n")
	return Output{Stdout: b.String()}
}

// lockDenied is what the shadow utilities print when run without root.
func lockDenied(cmd, file string, status int) Output {
	return failStatus(status, "%s: Permission denied.\n%s: cannot lock %s; try again later.", cmd, cmd, file)
}

func runUseradd(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "mMrN", "sdGgcu", "create-home", "shell", "home-dir", "groups")
	if err != nil {
		return badUsage("useradd", err)
	}
	if len(f.args) != 1 {
		return failStatus(2, "Usage: useradd [options] LOGIN\n       useradd -D\n       useradd -D [options]")
	}
	if !s.isRoot() {
		return lockDenied("useradd", "/etc/passwd", 1)
	}
	name := f.args[0]
	opts := vfs.UserOptions{CreateHome: f.has('m') || f.hasLong("create-home")}
	opts.Shell, _ = f.value('s')
	opts.Home, _ = f.value('d')
	if groups, ok := f.value('G'); ok {
		opts.Groups = strings.Split(groups, ",")
	}
	if _, err := s.FS.AddUser(name, opts); err != nil {
		var pe *vfs.PathError
		errors.As(err, &pe)
		switch {
		case errors.Is(err, vfs.ErrExist):
			return failStatus(9, "useradd: user '%s' already exists", name)
		case errors.Is(err, vfs.ErrUnknownGroup):
			return failStatus(6, "useradd: group '%s' does not exist", pe.Path)
		default:
			return failStatus(3, "useradd: invalid user name '%s': use --badname to ignore", name)
		}
	}
	return Output{}
}

func runGroupadd(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "rfo", "gK")
	if err != nil {
		return badUsage("groupadd", err)
	}
	if len(f.args) != 1 {
		return failStatus(2, "Usage: groupadd [options] GROUP")
	}
	if !s.isRoot() {
		return lockDenied("groupadd", "/etc/group", 10)
	}
	if _, err := s.FS.AddGroup(f.args[0]); err != nil {
		if f.has('f') {
			return Output{}
		}
		return failStatus(9, "groupadd: group '%s' already exists", f.args[0])
	}
	return Output{}
}

func runUsermod(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "aL", "Gsdlg", "append", "groups")
	if err != nil {
		return badUsage("usermod", err)
	}
	if len(f.args) != 1 {
		return failStatus(2, "Usage: usermod [options] LOGIN")
	}
	if !s.isRoot() {
		return lockDenied("usermod", "/etc/passwd", 1)
	}
	name := f.args[0]
	if _, ok := s.FS.LookupUser(name); !ok {
		return failStatus(6, "usermod: user '%s' does not exist", name)
	}
	groups, ok := f.value('G')
	if v, found := f.long["groups"]; found {
		groups, ok = v, true
	}
	if !ok {
		return Output{}
	}
	for _, g := range strings.Split(groups, ",") {
		if _, ok := s.FS.LookupGroup(g); !ok {
			return failStatus(6, "usermod: group '%s' does not exist", g)
		}
	}
	for _, g := range strings.Split(groups, ",") {
		if err := s.FS.AddUserToGroup(name, g); err != nil {
			return fail("usermod: %v", err)
		}
	}
	return Output{}
}
