package shell

import (
	"fmt"
	"path"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/onkernel/termlab/lib/vfs"
	"github.com/samber/lo"
)

// terminalWidth is the column budget ls lays names out in.
const terminalWidth = 80

func runCd(s *Session, inv *Invocation) Output {
	args := inv.Args
	if len(args) > 1 {
		return fail("-bash: cd: too many arguments")
	}
	target := s.Env["HOME"]
	if len(args) == 1 {
		target = args[0]
	}
	printDir := false
	if target == "-" {
		old, ok := s.Env["OLDPWD"]
		if !ok {
			return fail("-bash: cd: OLDPWD not set")
		}
		target, printDir = old, true
	}
	if target == "" {
		return Output{}
	}
	prev := s.FS.Cwd()
	if err := s.FS.Chdir(target); err != nil {
		return fail("-bash: cd: %s: %s", target, reason(err))
	}
	s.Env["OLDPWD"] = prev
	s.Env["PWD"] = s.FS.Cwd()
	if printDir {
		return emit(s.FS.Cwd())
	}
	return Output{}
}

func runPwd(s *Session, inv *Invocation) Output {
	return emit(s.FS.Cwd())
}

func runLs(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "laAhR1tSrdFCGinp", "", "color")
	if err != nil {
		return badUsage("ls", err)
	}
	opts := vfs.ListOptions{
		All:       f.anyOf("aA"),
		Human:     f.has('h'),
		Recursive: f.has('R'),
		Directory: f.has('d'),
	}
	targets := f.args
	if len(targets) == 0 {
		targets = []string{"."}
	}
	long := f.anyOf("lng")

	var (
		out    strings.Builder
		errs   strings.Builder
		status int
		files  []vfs.Entry
		dirs   []vfs.Listing
	)
	for _, t := range targets {
		listings, err := s.FS.List(t, opts)
		if err != nil {
			fmt.Fprintf(&errs, "ls: cannot access '%s': %s\n", t, reason(err))
			status = 2
			continue
		}
		if len(listings) == 1 && listings[0].Path == "" {
			files = append(files, listings[0].Entries...)
			continue
		}
		dirs = append(dirs, listings...)
	}

	render := func(entries []vfs.Entry, total bool) string {
		if f.has('A') {
			entries = lo.Filter(entries, func(e vfs.Entry, _ int) bool { return e.Name != "." && e.Name != ".." })
		}
		entries = sortEntries(entries, f)
		if long {
			return longListing(s, entries, f, total)
		}
		names := lo.Map(entries, func(e vfs.Entry, _ int) string { return decorate(e, f.anyOf("Fp"), f.has('p')) })
		if (inv.TTY && !f.has('1')) || f.has('C') {
			return columns(names, terminalWidth)
		}
		return joinLines(names)
	}

	sections := 0
	if len(files) > 0 {
		out.WriteString(render(files, false))
		sections++
	}
	headers := len(targets) > 1 || opts.Recursive || len(files) > 0
	for _, l := range dirs {
		if sections > 0 {
			out.WriteString("\n")
		}
		if headers {
			out.WriteString(l.Path + ":\n")
		}
		out.WriteString(render(l.Entries, true))
		sections++
	}
	return Output{Stdout: out.String(), Stderr: errs.String(), Status: status}
}

func sortEntries(entries []vfs.Entry, f flags) []vfs.Entry {
	sorted := append([]vfs.Entry(nil), entries...)
	switch {
	case f.has('t'):
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Mtime > sorted[j].Mtime })
	case f.has('S'):
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Size > sorted[j].Size })
	}
	if f.has('r') {
		slices.Reverse(sorted)
	}
	return sorted
}

func executable(mode string) bool {
	return len(mode) == 10 && (mode[3] == 'x' || mode[6] == 'x' || mode[9] == 'x')
}

func decorate(e vfs.Entry, classify, slashOnly bool) string {
	if !classify {
		return e.Name
	}
	switch {
	case e.Type == vfs.TypeDir:
		return e.Name + "/"
	case slashOnly:
		return e.Name
	case e.Type == vfs.TypeSymlink:
		return e.Name + "@"
	case executable(e.Mode):
		return e.Name + "*"
	}
	return e.Name
}

// entryBlocks is the 1K-block allocation ls -l totals.
func entryBlocks(e vfs.Entry) int64 {
	switch e.Type {
	case vfs.TypeDir:
		return 4
	case vfs.TypeSymlink:
		return 0
	}
	return (e.Size + 4095) / 4096 * 4
}

func longListing(s *Session, entries []vfs.Entry, f flags, total bool) string {
	var (
		b                  strings.Builder
		lw, ow, gw, sw     int
		blocks             int64
		sizes              = make([]string, len(entries))
		owners, groups     = make([]string, len(entries)), make([]string, len(entries))
		numeric, withGroup = f.has('n'), !f.has('G')
	)
	for i, e := range entries {
		blocks += entryBlocks(e)
		sizes[i] = strconv.FormatInt(e.Size, 10)
		if e.Human != "" {
			sizes[i] = e.Human
		}
		owners[i], groups[i] = e.Owner, e.Group
		if numeric {
			if u, ok := s.FS.LookupUser(e.Owner); ok {
				owners[i] = strconv.Itoa(u.UID)
			}
			if g, ok := s.FS.LookupGroup(e.Group); ok {
				groups[i] = strconv.Itoa(g.GID)
			}
		}
		lw = max(lw, len(strconv.Itoa(e.Links)))
		ow = max(ow, len(owners[i]))
		gw = max(gw, len(groups[i]))
		sw = max(sw, len(sizes[i]))
	}
	if total {
		if f.has('h') {
			fmt.Fprintf(&b, "total %s\n", vfs.HumanSize(blocks*1024))
		} else {
			fmt.Fprintf(&b, "total %d\n", blocks)
		}
	}
	for i, e := range entries {
		name := decorate(e, f.has('F'), f.has('p'))
		if e.Type == vfs.TypeSymlink {
			name = e.Name + " -> " + e.Target
		}
		group := ""
		if withGroup {
			group = fmt.Sprintf(" %-*s", gw, groups[i])
		}
		fmt.Fprintf(&b, "%s %*d %-*s%s %*s %s %s\n", e.Mode, lw, e.Links, ow, owners[i], group, sw, sizes[i], e.Date, name)
	}
	return b.String()
}

// columns lays names out top-to-bottom in as many columns as fit width,
// separated by two spaces.
func columns(names []string, width int) string {
	n := len(names)
	if n == 0 {
		return ""
	}
	for cols := n; cols >= 1; cols-- {
		rows := (n + cols - 1) / cols
		cols = (n + rows - 1) / rows
		widths := make([]int, cols)
		for i, name := range names {
			c := i / rows
			widths[c] = max(widths[c], len([]rune(name)))
		}
		total := 0
		for c, w := range widths {
			total += w
			if c < cols-1 {
				total += 2
			}
		}
		if total > width && cols > 1 {
			continue
		}
		var b strings.Builder
		for r := 0; r < rows; r++ {
			var line strings.Builder
			for c := 0; c < cols; c++ {
				i := c*rows + r
				if i >= n {
					break
				}
				line.WriteString(names[i])
				if c < cols-1 && (c+1)*rows+r < n {
					line.WriteString(strings.Repeat(" ", widths[c]-len([]rune(names[i]))+2))
				}
			}
			b.WriteString(strings.TrimRight(line.String(), " ") + "\n")
		}
		return b.String()
	}
	return joinLines(names)
}

func runTree(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "adfi", "L")
	if err != nil {
		return badUsage("tree", err)
	}
	depth := 0
	if v, ok := f.value('L'); ok {
		depth, err = strconv.Atoi(v)
		if err != nil || depth < 1 {
			return failStatus(2, "tree: Invalid level, must be greater than 0.")
		}
	}
	roots := f.args
	if len(roots) == 0 {
		roots = []string{"."}
	}
	var (
		b            strings.Builder
		dirs, nfiles int
	)
	var walk func(dir, prefix string, level int)
	walk = func(dir, prefix string, level int) {
		names, err := s.FS.ReadDir(dir)
		if err != nil {
			return
		}
		names = lo.Filter(names, func(name string, _ int) bool {
			if !f.has('a') && strings.HasPrefix(name, ".") {
				return false
			}
			return !f.has('d') || s.isDir(path.Join(dir, name))
		})
		for i, name := range names {
			p := path.Join(dir, name)
			connector, indent := "├── ", "│   "
			if i == len(names)-1 {
				connector, indent = "└── ", "    "
			}
			label := name
			if f.has('f') {
				label = p
			}
			st, _ := s.FS.Lstat(p)
			if st.Type == vfs.TypeSymlink {
				label += " -> " + st.Target
			}
			b.WriteString(prefix + connector + label + "\n")
			if st.Type == vfs.TypeDir {
				dirs++
				if depth == 0 || level < depth {
					walk(p, prefix+indent, level+1)
				}
			} else {
				nfiles++
			}
		}
	}
	status := 0
	for _, root := range roots {
		st, ok := s.FS.Stat(root)
		if !ok || !st.IsDir() {
			b.WriteString(root + "  [error opening dir]\n")
			status = 2
			continue
		}
		b.WriteString(root + "\n")
		walk(root, "", 1)
	}
	fmt.Fprintf(&b, "\n%s", plural(dirs, "directory", "directories"))
	if !f.has('d') {
		fmt.Fprintf(&b, ", %s", plural(nfiles, "file", "files"))
	}
	return Output{Stdout: b.String() + "\n", Status: status}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
