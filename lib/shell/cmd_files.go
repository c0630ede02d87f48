package shell

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"path"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/onkernel/termlab/lib/vfs"
	"github.com/pmezard/go-difflib/difflib"
)

func runCat(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "nbAsE", "")
	if err != nil {
		return badUsage(inv.Name, err)
	}
	srcs, errs := s.inputs(inv.Name, inv, f.args)
	var b strings.Builder
	n := 0
	for _, src := range srcs {
		if !f.anyOf("nbE") {
			b.WriteString(src.text)
			continue
		}
		for _, line := range splitLines(src.text) {
			if f.has('E') {
				line += "$"
			}
			switch {
			case f.has('b') && line == "":
			case f.anyOf("nb"):
				n++
				line = fmt.Sprintf("%6d\t%s", n, line)
			}
			b.WriteString(line + "\n")
		}
	}
	out := Output{Stdout: b.String(), Stderr: errs}
	if errs != "" {
		out.Status = 1
	}
	return out
}

func runTouch(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "acm", "dt")
	if err != nil {
		return badUsage("touch", err)
	}
	if len(f.args) == 0 {
		return fail("touch: missing file operand\nTry 'touch --help' for more information.")
	}
	var errs strings.Builder
	for _, p := range f.args {
		if f.has('c') && !s.FS.Exists(p) {
			continue
		}
		if err := s.FS.Touch(p); err != nil {
			fmt.Fprintf(&errs, "touch: cannot touch '%s': %s\n", p, reason(err))
		}
	}
	return errOutput(errs.String())
}

// errOutput turns accumulated diagnostics into a failed Output, or success
// when there are none.
func errOutput(errs string) Output {
	if errs == "" {
		return Output{}
	}
	return Output{Stderr: errs, Status: 1}
}

func runMkdir(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "pv", "m", "parents", "verbose")
	if err != nil {
		return badUsage("mkdir", err)
	}
	if len(f.args) == 0 {
		return fail("mkdir: missing operand\nTry 'mkdir --help' for more information.")
	}
	parents := f.has('p') || f.hasLong("parents")
	verbose := f.has('v') || f.hasLong("verbose")
	var out, errs strings.Builder
	for _, p := range f.args {
		existed := s.FS.Exists(p)
		if parents {
			err = s.FS.MkdirAll(p)
		} else {
			err = s.FS.Mkdir(p)
		}
		if err != nil {
			fmt.Fprintf(&errs, "mkdir: cannot create directory '%s': %s\n", p, reason(err))
			continue
		}
		if mode, ok := f.value('m'); ok {
			if err := s.FS.Chmod(p, mode); err != nil {
				fmt.Fprintf(&errs, "mkdir: invalid mode '%s'\n", mode)
			}
		}
		if verbose && !existed {
			fmt.Fprintf(&out, "mkdir: created directory '%s'\n", p)
		}
	}
	o := errOutput(errs.String())
	o.Stdout = out.String()
	return o
}

func runRm(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "rRfivd", "", "no-preserve-root")
	if err != nil {
		return badUsage("rm", err)
	}
	force := f.has('f')
	if len(f.args) == 0 {
		if force {
			return Output{}
		}
		return fail("rm: missing operand\nTry 'rm --help' for more information.")
	}
	recursive := f.anyOf("rR")
	var out, errs strings.Builder
	for _, p := range f.args {
		abs := s.FS.ResolvePath(p)
		if abs == "/" && recursive && !f.hasLong("no-preserve-root") {
			errs.WriteString("rm: it is dangerous to operate recursively on '/'\nrm: use --no-preserve-root to override this failsafe\n")
			continue
		}
		if base := path.Base(p); recursive && (base == "." || base == "..") {
			fmt.Fprintf(&errs, "rm: refusing to remove '.' or '..' directory: skipping '%s'\n", p)
			continue
		}
		st, exists := s.FS.Lstat(p)
		if !exists {
			if !force {
				fmt.Fprintf(&errs, "rm: cannot remove '%s': No such file or directory\n", p)
			}
			continue
		}
		if st.IsDir() && !recursive && !f.has('d') {
			fmt.Fprintf(&errs, "rm: cannot remove '%s': Is a directory\n", p)
			continue
		}
		if err := s.FS.Remove(p, recursive); err != nil {
			fmt.Fprintf(&errs, "rm: cannot remove '%s': %s\n", p, reason(err))
			continue
		}
		if f.has('v') {
			if st.IsDir() {
				fmt.Fprintf(&out, "removed directory '%s'\n", p)
			} else {
				fmt.Fprintf(&out, "removed '%s'\n", p)
			}
		}
	}
	o := errOutput(errs.String())
	o.Stdout = out.String()
	return o
}

func runRmdir(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "pv", "")
	if err != nil {
		return badUsage("rmdir", err)
	}
	if len(f.args) == 0 {
		return fail("rmdir: missing operand\nTry 'rmdir --help' for more information.")
	}
	var out, errs strings.Builder
	for _, p := range f.args {
		targets := []string{p}
		if f.has('p') {
			for d := path.Dir(p); d != "." && d != "/"; d = path.Dir(d) {
				targets = append(targets, d)
			}
		}
		for _, t := range targets {
			if err := s.FS.Rmdir(t); err != nil {
				fmt.Fprintf(&errs, "rmdir: failed to remove '%s': %s\n", t, reason(err))
				break
			}
			if f.has('v') {
				fmt.Fprintf(&out, "rmdir: removing directory, '%s'\n", t)
			}
		}
	}
	o := errOutput(errs.String())
	o.Stdout = out.String()
	return o
}

// transferArgs splits cp/mv operands into sources and a destination and
// checks the multi-source rule.
func (s *Session) transferArgs(cmd string, args []string) ([]string, string, *Output) {
	switch len(args) {
	case 0:
		o := fail("%s: missing file operand\nTry '%s --help' for more information.", cmd, cmd)
		return nil, "", &o
	case 1:
		o := fail("%s: missing destination file operand after '%s'\nTry '%s --help' for more information.", cmd, args[0], cmd)
		return nil, "", &o
	}
	srcs, dst := args[:len(args)-1], args[len(args)-1]
	if len(srcs) > 1 && !s.isDir(dst) {
		o := fail("%s: target '%s' is not a directory", cmd, dst)
		return nil, "", &o
	}
	return srcs, dst, nil
}

func landing(s *Session, src, dst string) string {
	if s.isDir(dst) {
		return strings.TrimSuffix(dst, "/") + "/" + path.Base(src)
	}
	return dst
}

func runCp(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "rRavifpnu", "")
	if err != nil {
		return badUsage("cp", err)
	}
	srcs, dst, usage := s.transferArgs("cp", f.args)
	if usage != nil {
		return *usage
	}
	recursive := f.anyOf("rRa")
	var out, errs strings.Builder
	for _, src := range srcs {
		st, exists := s.FS.Stat(src)
		if !exists {
			fmt.Fprintf(&errs, "cp: cannot stat '%s': No such file or directory\n", src)
			continue
		}
		if st.IsDir() && !recursive {
			fmt.Fprintf(&errs, "cp: -r not specified; omitting directory '%s'\n", src)
			continue
		}
		target := landing(s, src, dst)
		if f.has('n') && s.FS.Exists(target) {
			continue
		}
		if err := s.FS.Copy(src, dst, recursive); err != nil {
			if errors.Is(err, vfs.ErrInvalid) {
				fmt.Fprintf(&errs, "cp: cannot copy a directory, '%s', into itself, '%s'\n", src, target)
				continue
			}
			fmt.Fprintf(&errs, "cp: cannot create regular file '%s': %s\n", target, reason(err))
			continue
		}
		if f.has('v') {
			fmt.Fprintf(&out, "'%s' -> '%s'\n", src, target)
		}
	}
	o := errOutput(errs.String())
	o.Stdout = out.String()
	return o
}

func runMv(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "vifnu", "")
	if err != nil {
		return badUsage("mv", err)
	}
	srcs, dst, usage := s.transferArgs("mv", f.args)
	if usage != nil {
		return *usage
	}
	var out, errs strings.Builder
	for _, src := range srcs {
		if _, exists := s.FS.Lstat(src); !exists {
			fmt.Fprintf(&errs, "mv: cannot stat '%s': No such file or directory\n", src)
			continue
		}
		target := landing(s, src, dst)
		if f.has('n') && s.FS.Exists(target) {
			continue
		}
		if err := s.FS.Move(src, dst); err != nil {
			if errors.Is(err, vfs.ErrInvalid) {
				fmt.Fprintf(&errs, "mv: cannot move '%s' to a subdirectory of itself, '%s'\n", src, target)
				continue
			}
			fmt.Fprintf(&errs, "mv: cannot move '%s' to '%s': %s\n", src, target, reason(err))
			continue
		}
		if f.has('v') {
			fmt.Fprintf(&out, "renamed '%s' -> '%s'\n", src, target)
		}
	}
	o := errOutput(errs.String())
	o.Stdout = out.String()
	return o
}

func runLn(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "sfvnT", "")
	if err != nil {
		return badUsage("ln", err)
	}
	var target, link string
	switch len(f.args) {
	case 0:
		return fail("ln: missing file operand\nTry 'ln --help' for more information.")
	case 1:
		target, link = f.args[0], path.Base(f.args[0])
	default:
		target, link = f.args[0], f.args[1]
	}
	if s.isDir(link) && !f.has('n') {
		link = strings.TrimSuffix(link, "/") + "/" + path.Base(target)
	}
	if _, exists := s.FS.Lstat(link); exists {
		if !f.has('f') {
			return fail("ln: failed to create %slink '%s': File exists", symbolicWord(f), link)
		}
		_ = s.FS.Remove(link, false)
	}
	if f.has('s') {
		if err := s.FS.Symlink(target, link); err != nil {
			return fail("ln: failed to create symbolic link '%s': %s", link, reason(err))
		}
	} else {
		st, exists := s.FS.Stat(target)
		if !exists {
			return fail("ln: failed to access '%s': No such file or directory", target)
		}
		if st.IsDir() {
			return fail("ln: %s: hard link not allowed for directory", target)
		}
		if err := s.FS.Copy(target, link, false); err != nil {
			return fail("ln: failed to create hard link '%s': %s", link, reason(err))
		}
	}
	if f.has('v') {
		return emit(fmt.Sprintf("'%s' -> '%s'", link, target))
	}
	return Output{}
}

func symbolicWord(f flags) string {
	if f.has('s') {
		return "symbolic "
	}
	return "hard "
}

func runFile(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "bLi", "")
	if err != nil {
		return badUsage("file", err)
	}
	if len(f.args) == 0 {
		return fail("Usage: file [-bcCdEhikLlNnprsSvzZ0] [--apple] [--extension] [--mime-encoding]\n            [--mime-type] [-e <testname>] [-F <separator>]  [-f <namefile>]\n            [-m <magicfiles>] [-P <parameter=value>] [--exclude-quiet]\n            <file> ...")
	}
	var lines []string
	for _, p := range f.args {
		desc := s.describe(p, f.has('L'))
		if f.has('b') {
			lines = append(lines, desc)
		} else {
			lines = append(lines, p+": "+desc)
		}
	}
	return emit(joinLines(lines))
}

func (s *Session) describe(p string, follow bool) string {
	st, ok := s.FS.Lstat(p)
	if !ok {
		return fmt.Sprintf("cannot open `%s' (No such file or directory)", p)
	}
	if st.Type == vfs.TypeSymlink && !follow {
		return "symbolic link to " + st.Target
	}
	if st.Type == vfs.TypeSymlink {
		target := st.Target
		if st, ok = s.FS.Stat(p); !ok {
			return "broken symbolic link to " + target
		}
	}
	if st.IsDir() {
		return "directory"
	}
	data, err := s.FS.ReadFile(p)
	if err != nil {
		return "cannot open"
	}
	trimmed := strings.TrimSpace(data)
	switch {
	case data == "":
		return "empty"
	case strings.HasPrefix(data, "\x7fELF"):
		return "ELF 64-bit LSB pie executable, x86-64, version 1 (SYSV), dynamically linked, interpreter /lib64/ld-linux-x86-64.so.2, BuildID[sha1]=" + buildID(st.Name) + ", for GNU/Linux 3.2.0, stripped"
	case strings.HasPrefix(data, "#!"):
		shebang := strings.SplitN(data, "\n", 2)[0]
		suffix := "ASCII text"
		if st.Mode&0o111 != 0 {
			suffix += " executable"
		}
		switch {
		case strings.Contains(shebang, "bash"):
			return "Bourne-Again shell script, " + suffix
		case strings.Contains(shebang, "python"):
			return "Python script, " + suffix
		default:
			return "POSIX shell script, " + suffix
		}
	case (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) && json.Valid([]byte(trimmed)):
		return "JSON data"
	case strings.HasPrefix(trimmed, "<!DOCTYPE html") || strings.HasPrefix(trimmed, "<html"):
		return "HTML document, ASCII text"
	case !utf8.ValidString(data):
		return "data"
	}
	for _, r := range data {
		if r > 127 {
			return "Unicode text, UTF-8 text"
		}
	}
	return "ASCII text"
}

func buildID(name string) string {
	h := fnv.New64a()
	h.Write([]byte(name))
	sum := h.Sum64()
	return fmt.Sprintf("%016x%016x%08x", sum, sum^0x9e3779b97f4a7c15, uint32(sum>>7))
}

// inode derives a stable inode number from the path.
func inode(abs string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(abs))
	return h.Sum32()%3000000 + 131072
}

func statType(st vfs.Stat) string {
	if st.Type == vfs.TypeFile && st.Size == 0 {
		return "regular empty file"
	}
	return st.Type.String()
}

func runStat(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "Lt", "c", "format", "printf")
	if err != nil {
		return badUsage("stat", err)
	}
	if len(f.args) == 0 {
		return fail("stat: missing operand\nTry 'stat --help' for more information.")
	}
	format, custom := f.value('c')
	if v, ok := f.long["format"]; ok {
		format, custom = v, true
	}
	var out, errs strings.Builder
	for _, p := range f.args {
		st, ok := s.FS.Lstat(p)
		if f.has('L') {
			st, ok = s.FS.Stat(p)
		}
		if !ok {
			fmt.Fprintf(&errs, "stat: cannot statx '%s': No such file or directory\n", p)
			continue
		}
		if custom {
			out.WriteString(statFormat(format, p, st) + "\n")
			continue
		}
		out.WriteString(statLong(p, st))
	}
	o := errOutput(errs.String())
	o.Stdout = out.String()
	return o
}

func statStamp(st vfs.Stat, mtime bool) string {
	t := st.Atime
	if mtime {
		t = st.Mtime
	}
	return t.Format("2006-01-02 15:04:05.000000000 -0700")
}

func statBlocks(st vfs.Stat) int64 {
	if st.IsDir() {
		return 8
	}
	return (st.Size + 4095) / 4096 * 8
}

func statLong(p string, st vfs.Stat) string {
	name := p
	if st.Type == vfs.TypeSymlink {
		name = fmt.Sprintf("%s -> %s", p, st.Target)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "  File: %s\n", name)
	fmt.Fprintf(&b, "  Size: %-10d\tBlocks: %-10d IO Block: 4096   %s\n", st.Size, statBlocks(st), statType(st))
	fmt.Fprintf(&b, "Device: 801h/2049d\tInode: %-11d Links: %d\n", inode(st.Path), st.Links)
	fmt.Fprintf(&b, "Access: (0%s/%s)  Uid: (%5d/%8s)   Gid: (%5d/%8s)\n", st.Octal(), st.ModeString(), st.UID, st.Owner, st.GID, st.Group)
	fmt.Fprintf(&b, "Access: %s\n", statStamp(st, false))
	fmt.Fprintf(&b, "Modify: %s\n", statStamp(st, true))
	fmt.Fprintf(&b, "Change: %s\n", statStamp(st, true))
	b.WriteString(" Birth: -\n")
	return b.String()
}

func statFormat(format, p string, st vfs.Stat) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c == '\\' && i+1 < len(format) {
			i++
			switch format[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(format[i])
			}
			continue
		}
		if c != '%' || i+1 >= len(format) {
			b.WriteByte(c)
			continue
		}
		i++
		switch format[i] {
		case 'a':
			b.WriteString(strings.TrimLeft(st.Octal(), "0"))
			if st.Mode&0o777 == 0 {
				b.WriteString("0")
			}
		case 'A':
			b.WriteString(st.ModeString())
		case 'U':
			b.WriteString(st.Owner)
		case 'G':
			b.WriteString(st.Group)
		case 'u':
			b.WriteString(strconv.Itoa(st.UID))
		case 'g':
			b.WriteString(strconv.Itoa(st.GID))
		case 's':
			b.WriteString(strconv.FormatInt(st.Size, 10))
		case 'n':
			b.WriteString(p)
		case 'N':
			b.WriteString("'" + p + "'")
		case 'F':
			b.WriteString(statType(st))
		case 'h':
			b.WriteString(strconv.Itoa(st.Links))
		case 'i':
			b.WriteString(strconv.FormatUint(uint64(inode(st.Path)), 10))
		case 'b':
			b.WriteString(strconv.FormatInt(statBlocks(st), 10))
		case 'x':
			b.WriteString(statStamp(st, false))
		case 'y', 'z':
			b.WriteString(statStamp(st, true))
		case 'X':
			b.WriteString(strconv.FormatInt(st.Atime.Unix(), 10))
		case 'Y', 'Z':
			b.WriteString(strconv.FormatInt(st.Mtime.Unix(), 10))
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}

// findPredicate filters find results beyond what the filesystem query
// supports.
type findPredicate func(st vfs.Stat) bool

func runFind(s *Session, inv *Invocation) Output {
	args := inv.Args
	var roots []string
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") && args[0] != "!" && args[0] != "(" {
		roots = append(roots, args[0])
		args = args[1:]
	}
	if len(roots) == 0 {
		roots = []string{"."}
	}
	var (
		opts    vfs.FindOptions
		preds   []findPredicate
		exec    []string
		remove  bool
		negate  bool
		ownerID = -1
	)
	need := func(i int) (string, *Output) {
		if i+1 >= len(args) {
			o := fail("find: missing argument to `%s'", args[i])
			return "", &o
		}
		return args[i+1], nil
	}
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch a {
		case "-name", "-iname":
			v, o := need(i)
			if o != nil {
				return *o
			}
			i++
			if negate {
				pattern := v
				preds = append(preds, func(st vfs.Stat) bool {
					m, _ := path.Match(pattern, st.Name)
					return !m
				})
				negate = false
				continue
			}
			opts.Name, opts.IgnoreCase = v, a == "-iname"
		case "-type":
			v, o := need(i)
			if o != nil {
				return *o
			}
			i++
			if v != "f" && v != "d" && v != "l" {
				return fail("find: Unknown argument to -type: %s", v)
			}
			opts.Type = v
		case "-maxdepth", "-mindepth":
			v, o := need(i)
			if o != nil {
				return *o
			}
			i++
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fail("find: Expected a positive decimal integer argument to %s, but got `%s'", a, v)
			}
			if a == "-maxdepth" {
				opts.MaxDepth = n
				if n == 0 {
					opts.MaxDepth = -1
				}
			} else {
				opts.MinDepth = n
			}
		case "-perm":
			v, o := need(i)
			if o != nil {
				return *o
			}
			i++
			want := strings.TrimPrefix(v, "-")
			preds = append(preds, func(st vfs.Stat) bool {
				return st.Octal() == fmt.Sprintf("%03s", strings.TrimLeft(want, "0")) || "0"+st.Octal() == want
			})
		case "-user":
			v, o := need(i)
			if o != nil {
				return *o
			}
			i++
			u, ok := s.FS.LookupUser(v)
			if !ok {
				return fail("find: '%s' is not the name of a known user", v)
			}
			ownerID = u.UID
		case "-empty":
			preds = append(preds, func(st vfs.Stat) bool {
				if st.IsDir() {
					names, _ := s.FS.ReadDir(st.Path)
					return len(names) == 0
				}
				return st.Size == 0
			})
		case "-size":
			v, o := need(i)
			if o != nil {
				return *o
			}
			i++
			pred, err := sizePredicate(v)
			if err != nil {
				return fail("find: invalid argument `%s' to `-size'", v)
			}
			preds = append(preds, pred)
		case "-print", "-ls":
		case "-delete":
			remove = true
		case "!", "-not":
			negate = true
		case "-exec":
			j := i + 1
			for j < len(args) && args[j] != ";" && args[j] != `\;` && args[j] != "+" {
				j++
			}
			if j >= len(args) || j == i+1 {
				return fail("find: missing argument to `-exec'")
			}
			exec = args[i+1 : j]
			i = j
		default:
			return fail("find: unknown predicate `%s'", a)
		}
	}
	if ownerID >= 0 {
		uid := ownerID
		preds = append(preds, func(st vfs.Stat) bool { return st.UID == uid })
	}

	var out, errs strings.Builder
	status := 0
	for _, root := range roots {
		rootAbs := s.FS.ResolvePath(root)
		matches, err := s.FS.Find(root, opts)
		if err != nil {
			fmt.Fprintf(&errs, "find: '%s': %s\n", root, reason(err))
			status = 1
			continue
		}
		for _, abs := range matches {
			st, _ := s.FS.Lstat(abs)
			keep := true
			for _, p := range preds {
				if !p(st) {
					keep = false
					break
				}
			}
			if !keep {
				continue
			}
			display := findDisplay(root, rootAbs, abs)
			switch {
			case exec != nil:
				cmd := make([]string, len(exec))
				for k, a := range exec {
					cmd[k] = strings.ReplaceAll(a, "{}", display)
				}
				r := s.call(cmd[0], cmd[1:], "", false)
				out.WriteString(r.Stdout)
				errs.WriteString(r.Stderr)
			case remove:
				if abs != rootAbs {
					_ = s.FS.Remove(abs, true)
				}
			default:
				out.WriteString(display + "\n")
			}
		}
	}
	return Output{Stdout: out.String(), Stderr: errs.String(), Status: status}
}

func sizePredicate(spec string) (findPredicate, error) {
	if spec == "" {
		return nil, strconv.ErrSyntax
	}
	cmp := byte(0)
	if spec[0] == '+' || spec[0] == '-' {
		cmp, spec = spec[0], spec[1:]
	}
	unit := int64(512)
	if n := len(spec); n > 0 {
		switch spec[n-1] {
		case 'c':
			unit, spec = 1, spec[:n-1]
		case 'k':
			unit, spec = 1024, spec[:n-1]
		case 'M':
			unit, spec = 1<<20, spec[:n-1]
		case 'G':
			unit, spec = 1<<30, spec[:n-1]
		}
	}
	n, err := strconv.ParseInt(spec, 10, 64)
	if err != nil {
		return nil, err
	}
	return func(st vfs.Stat) bool {
		size := (st.Size + unit - 1) / unit
		switch cmp {
		case '+':
			return size > n
		case '-':
			return size < n
		}
		return size == n
	}, nil
}

func findDisplay(root, rootAbs, abs string) string {
	if abs == rootAbs {
		return root
	}
	rel := strings.TrimPrefix(strings.TrimPrefix(abs, rootAbs), "/")
	if root == "/" {
		return "/" + rel
	}
	return strings.TrimSuffix(root, "/") + "/" + rel
}

// lookPath searches $PATH for an executable file.
func (s *Session) lookPath(name string) (string, bool) {
	for _, dir := range strings.Split(s.Env["PATH"], ":") {
		if dir == "" {
			continue
		}
		p := path.Join(dir, name)
		if st, ok := s.FS.Stat(p); ok && !st.IsDir() && st.Mode&0o111 != 0 {
			return p, true
		}
	}
	return "", false
}

func runWhich(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "a", "")
	if err != nil {
		return badUsage("which", err)
	}
	var lines []string
	status := 0
	for _, name := range f.args {
		if strings.Contains(name, "/") {
			if st, ok := s.FS.Stat(name); ok && st.Mode&0o111 != 0 {
				lines = append(lines, name)
				continue
			}
			status = 1
			continue
		}
		p, found := s.lookPath(name)
		if !found {
			status = 1
			continue
		}
		lines = append(lines, p)
	}
	return Output{Stdout: joinLines(lines), Status: status}
}

func runDu(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "shacxb", "d", "max-depth")
	if err != nil {
		return badUsage("du", err)
	}
	maxDepth := -1
	depthArg, hasDepth := f.value('d')
	if v, ok := f.long["max-depth"]; ok {
		depthArg, hasDepth = v, true
	}
	if hasDepth {
		if maxDepth, err = strconv.Atoi(depthArg); err != nil || maxDepth < 0 {
			return fail("du: invalid maximum depth '%s'", depthArg)
		}
	}
	if f.has('s') {
		maxDepth = 0
	}
	targets := f.args
	if len(targets) == 0 {
		targets = []string{"."}
	}
	cell := func(u vfs.Usage) string {
		switch {
		case f.has('h'):
			if u.Blocks == 0 {
				return "0"
			}
			return vfs.HumanSize(u.Blocks * 1024)
		case f.has('b'):
			return strconv.FormatInt(u.Bytes, 10)
		}
		return strconv.FormatInt(u.Blocks, 10)
	}
	var (
		out, errs strings.Builder
		total     vfs.Usage
	)
	for _, t := range targets {
		all, err := s.FS.DuAll(t)
		if err != nil {
			fmt.Fprintf(&errs, "du: cannot access '%s': %s\n", t, reason(err))
			continue
		}
		base := strings.Count(strings.TrimSuffix(t, "/"), "/")
		for _, u := range all {
			depth := 0
			if u.Path != t {
				depth = strings.Count(u.Path, "/") - base
			}
			if maxDepth >= 0 && depth > maxDepth {
				continue
			}
			fmt.Fprintf(&out, "%s\t%s\n", cell(u), u.Path)
		}
		last := all[len(all)-1]
		total.Bytes += last.Bytes
		total.Blocks += last.Blocks
	}
	if f.has('c') {
		total.Path = "total"
		fmt.Fprintf(&out, "%s\ttotal\n", cell(total))
	}
	o := errOutput(errs.String())
	o.Stdout = out.String()
	return o
}

func runDf(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "hTHak", "")
	if err != nil {
		return badUsage("df", err)
	}
	if s.Host == nil {
		return fail("df: no file systems processed")
	}
	var extra int64
	if u, err := s.FS.Du("/"); err == nil {
		extra = u.Blocks
	}
	return emit(s.Host.Df(f.anyOf("hH"), f.has('T'), extra))
}

func lineRange(from, to int) string {
	if from >= to {
		return strconv.Itoa(from)
	}
	return fmt.Sprintf("%d,%d", from, to)
}

// normalDiff renders the edit script from a to b in diff's default format.
// The matcher works in linear space, so large files stay cheap.
func normalDiff(a, b []string) string {
	var out strings.Builder
	for _, op := range difflib.NewMatcher(a, b).GetOpCodes() {
		switch op.Tag {
		case 'e':
			continue
		case 'd':
			fmt.Fprintf(&out, "%sd%d\n", lineRange(op.I1+1, op.I2), op.J1)
		case 'i':
			fmt.Fprintf(&out, "%da%s\n", op.I1, lineRange(op.J1+1, op.J2))
		case 'r':
			fmt.Fprintf(&out, "%sc%s\n", lineRange(op.I1+1, op.I2), lineRange(op.J1+1, op.J2))
		}
		for _, l := range a[op.I1:op.I2] {
			out.WriteString("< " + l + "\n")
		}
		if op.Tag == 'r' {
			out.WriteString("---\n")
		}
		for _, l := range b[op.J1:op.J2] {
			out.WriteString("> " + l + "\n")
		}
	}
	return out.String()
}

func runDiff(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "qsiwB", "")
	if err != nil {
		return badUsage("diff", err)
	}
	if len(f.args) != 2 {
		if len(f.args) < 2 {
			return failStatus(2, "diff: missing operand after '%s'\ndiff: Try 'diff --help' for more information.", strings.Join(inv.Args, " "))
		}
		return failStatus(2, "diff: extra operand '%s'\ndiff: Try 'diff --help' for more information.", f.args[2])
	}
	texts := make([]string, 2)
	for i, p := range f.args {
		if p == "-" {
			texts[i] = inv.Stdin
			continue
		}
		data, err := s.FS.ReadFile(p)
		if err != nil {
			return failStatus(2, "diff: %s: %s", p, reason(err))
		}
		texts[i] = data
	}
	a, b := splitLines(texts[0]), splitLines(texts[1])
	if f.has('i') || f.has('w') {
		norm := func(lines []string) []string {
			out := make([]string, len(lines))
			for i, l := range lines {
				if f.has('i') {
					l = strings.ToLower(l)
				}
				if f.has('w') {
					l = strings.Join(strings.Fields(l), "")
				}
				out[i] = l
			}
			return out
		}
		if equalLines(norm(a), norm(b)) {
			a = b
		}
	}
	if equalLines(a, b) {
		if f.has('s') {
			return emit(fmt.Sprintf("Files %s and %s are identical", f.args[0], f.args[1]))
		}
		return Output{}
	}
	if f.has('q') {
		return Output{Stdout: fmt.Sprintf("Files %s and %s differ\n", f.args[0], f.args[1]), Status: 1}
	}
	return Output{Stdout: normalDiff(a, b), Status: 1}
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func runBasename(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "a", "s")
	if err != nil {
		return badUsage("basename", err)
	}
	if len(f.args) == 0 {
		return fail("basename: missing operand\nTry 'basename --help' for more information.")
	}
	suffix, multi := f.value('s')
	names := f.args
	if !multi && !f.has('a') {
		if len(names) == 2 {
			suffix = names[1]
		}
		names = names[:1]
	}
	var lines []string
	for _, n := range names {
		base := path.Base(n)
		if suffix != "" && base != suffix {
			base = strings.TrimSuffix(base, suffix)
		}
		lines = append(lines, base)
	}
	return emit(joinLines(lines))
}

func runDirname(s *Session, inv *Invocation) Output {
	if len(inv.Args) == 0 {
		return fail("dirname: missing operand\nTry 'dirname --help' for more information.")
	}
	var lines []string
	for _, a := range inv.Args {
		lines = append(lines, path.Dir(strings.TrimSuffix(a, "/")))
	}
	return emit(joinLines(lines))
}

func runRealpath(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "emsq", "")
	if err != nil {
		return badUsage("realpath", err)
	}
	if len(f.args) == 0 {
		return fail("realpath: missing operand\nTry 'realpath --help' for more information.")
	}
	var (
		lines []string
		errs  strings.Builder
	)
	for _, p := range f.args {
		abs := s.FS.ResolvePath(p)
		if !f.has('m') && !s.FS.Exists(path.Dir(abs)) || f.has('e') && !s.FS.Exists(abs) {
			fmt.Fprintf(&errs, "realpath: %s: No such file or directory\n", p)
			continue
		}
		if st, ok := s.FS.Lstat(abs); ok && st.Type == vfs.TypeSymlink && !f.has('s') {
			target := st.Target
			if !strings.HasPrefix(target, "/") {
				target = path.Join(path.Dir(abs), target)
			}
			abs = path.Clean(target)
		}
		lines = append(lines, abs)
	}
	o := errOutput(errs.String())
	o.Stdout = joinLines(lines)
	return o
}
