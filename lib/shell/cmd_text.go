package shell

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"regexp/syntax"
	"slices"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/onkernel/termlab/lib/vfs"
	"github.com/samber/lo"
)

func runEcho(s *Session, inv *Invocation) Output {
	args := inv.Args
	newline, escapes := true, false
	for len(args) > 0 && len(args[0]) > 1 && args[0][0] == '-' && strings.Trim(args[0][1:], "neE") == "" {
		for _, c := range args[0][1:] {
			switch c {
			case 'n':
				newline = false
			case 'e':
				escapes = true
			case 'E':
				escapes = false
			}
		}
		args = args[1:]
	}
	text := strings.Join(args, " ")
	if escapes {
		var stop bool
		if text, stop = interpretEscapes(text); stop {
			newline = false
		}
	}
	if newline {
		text += "\n"
	}
	return Output{Stdout: text}
}

func runPrintf(s *Session, inv *Invocation) Output {
	if len(inv.Args) == 0 {
		return failStatus(2, "printf: usage: printf [-v var] format [arguments]")
	}
	format, args := inv.Args[0], inv.Args[1:]
	var b strings.Builder
	for {
		used, stop, err := printfOnce(&b, format, args)
		if err != "" {
			return Output{Stdout: b.String(), Stderr: err, Status: 1}
		}
		args = args[used:]
		if stop || used == 0 || len(args) == 0 {
			break
		}
	}
	return Output{Stdout: b.String()}
}

// printfOnce expands format once, consuming arguments. It reports how many
// arguments were used and whether \c stopped output.
func printfOnce(b *strings.Builder, format string, args []string) (int, bool, string) {
	used := 0
	next := func() string {
		if used < len(args) {
			used++
			return args[used-1]
		}
		return ""
	}
	var errs strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c == '\\' {
			j := i + 2
			if j > len(format) {
				j = len(format)
			}
			text, stop := interpretEscapes(format[i:j])
			b.WriteString(text)
			if stop {
				return used, true, ""
			}
			i = j - 1
			continue
		}
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(format) && strings.IndexByte("-+ #0123456789.", format[j]) >= 0 {
			j++
		}
		if j >= len(format) {
			b.WriteString(format[i:])
			break
		}
		spec := format[i+1 : j]
		switch verb := format[j]; verb {
		case '%':
			b.WriteByte('%')
		case 's':
			fmt.Fprintf(b, "%"+spec+"s", next())
		case 'b':
			text, _ := interpretEscapes(next())
			fmt.Fprintf(b, "%"+spec+"s", text)
		case 'c':
			if a := next(); a != "" {
				b.WriteString(a[:1])
			}
		case 'd', 'i':
			a := next()
			n, err := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
			if err != nil && a != "" {
				fmt.Fprintf(&errs, "printf: %s: invalid number\n", a)
			}
			fmt.Fprintf(b, "%"+spec+"d", n)
		case 'x', 'X', 'o':
			n, _ := strconv.ParseInt(strings.TrimSpace(next()), 10, 64)
			fmt.Fprintf(b, "%"+spec+string(verb), n)
		case 'f', 'e', 'g':
			a := next()
			v, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
			if err != nil && a != "" {
				fmt.Fprintf(&errs, "printf: %s: invalid number\n", a)
			}
			fmt.Fprintf(b, "%"+spec+string(verb), v)
		default:
			b.WriteString(format[i : j+1])
		}
		i = j
	}
	return used, false, errs.String()
}

// countArg normalises head/tail's -N shorthand into -n N. A value given to
// -n or -c is left alone, so head -n -1 keeps its "all but last" meaning.
func countArg(args []string) []string {
	out := make([]string, 0, len(args))
	takesValue := false
	for i, a := range args {
		switch {
		case a == "--":
			return append(out, args[i:]...)
		case takesValue:
			takesValue = false
		case len(a) > 1 && a[0] == '-' && a[1] >= '0' && a[1] <= '9':
			out = append(out, "-n", a[1:])
			continue
		case len(a) > 1 && a[0] == '-' && a[1] != '-':
			takesValue = strings.HasSuffix(a, "n") || strings.HasSuffix(a, "c")
		case a == "--lines" || a == "--bytes":
			takesValue = true
		}
		out = append(out, a)
	}
	return out
}

func runHead(s *Session, inv *Invocation) Output {
	return headTail(s, inv, true)
}

func runTail(s *Session, inv *Invocation) Output {
	return headTail(s, inv, false)
}

func headTail(s *Session, inv *Invocation, head bool) Output {
	name := inv.Name
	f, err := parseFlags(countArg(inv.Args), "qvfF", "nc", "lines", "bytes")
	if err != nil {
		return badUsage(name, err)
	}
	count, fromStart := 10, false
	spec, _ := f.value('n')
	if v, ok := f.long["lines"]; ok {
		spec = v
	}
	byBytes := false
	if v, ok := f.value('c'); ok {
		spec, byBytes = v, true
	}
	if v, ok := f.long["bytes"]; ok {
		spec, byBytes = v, true
	}
	allButLast := false
	if spec != "" {
		if strings.HasPrefix(spec, "+") && !head {
			fromStart = true
		}
		allButLast = head && strings.HasPrefix(spec, "-")
		count, err = strconv.Atoi(strings.TrimLeft(spec, "+-"))
		if err != nil {
			unit := "lines"
			if byBytes {
				unit = "bytes"
			}
			return fail("%s: invalid number of %s: '%s'", name, unit, spec)
		}
	}
	srcs, errs := s.inputs(name, inv, f.args)
	var b strings.Builder
	headers := (len(f.args) > 1 || f.has('v')) && !f.has('q')
	for i, src := range srcs {
		if headers {
			if i > 0 {
				b.WriteString("\n")
			}
			label := src.name
			if label == "-" {
				label = "standard input"
			}
			fmt.Fprintf(&b, "==> %s <==\n", label)
		}
		if byBytes {
			text := src.text
			switch {
			case allButLast:
				text = text[:len(text)-min(count, len(text))]
			case head:
				text = text[:min(count, len(text))]
			case fromStart:
				text = text[min(max(count-1, 0), len(text)):]
			default:
				text = text[len(text)-min(count, len(text)):]
			}
			b.WriteString(text)
			continue
		}
		lines := splitLines(src.text)
		switch {
		case allButLast:
			lines = lines[:len(lines)-min(count, len(lines))]
		case head:
			lines = lines[:min(count, len(lines))]
		case fromStart:
			lines = lines[min(max(count-1, 0), len(lines)):]
		default:
			lines = lines[len(lines)-min(count, len(lines)):]
		}
		b.WriteString(joinLines(lines))
	}
	out := Output{Stdout: b.String(), Stderr: errs}
	if errs != "" {
		out.Status = 1
	}
	return out
}

// extractOption pulls every occurrence of a repeatable value option (grep -e,
// sed -e) out of args.
func extractOption(args []string, opt string) (values, rest []string) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == opt && i+1 < len(args):
			values = append(values, args[i+1])
			i++
		case strings.HasPrefix(a, opt) && len(a) > len(opt) && !strings.HasPrefix(a, "--"):
			values = append(values, a[len(opt):])
		default:
			rest = append(rest, a)
		}
	}
	return values, rest
}

// basicToExtended rewrites a POSIX basic regular expression into the extended
// syntax RE2 understands.
func basicToExtended(re string) string {
	var b strings.Builder
	for i := 0; i < len(re); i++ {
		c := re[i]
		if c == '\\' && i+1 < len(re) {
			n := re[i+1]
			if strings.IndexByte("(){}|+?", n) >= 0 {
				b.WriteByte(n)
			} else {
				b.WriteByte('\\')
				b.WriteByte(n)
			}
			i++
			continue
		}
		if strings.IndexByte("(){}|+?", c) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

// compilePattern builds the matcher for grep and sed.
func compilePattern(patterns []string, extended, fixed, ignoreCase, word, line bool) (*regexp.Regexp, error) {
	parts := make([]string, len(patterns))
	for i, p := range patterns {
		switch {
		case fixed:
			p = regexp.QuoteMeta(p)
		case !extended:
			p = basicToExtended(p)
		}
		if word {
			p = `\b(?:` + p + `)\b`
		}
		if line {
			p = `^(?:` + p + `)$`
		}
		parts[i] = p
	}
	expr := strings.Join(parts, "|")
	if len(parts) > 1 {
		expr = "(?:" + strings.Join(parts, ")|(?:") + ")"
	}
	if ignoreCase {
		expr = "(?i)" + expr
	}
	return regexp.Compile(expr)
}

// regexDiagnostic renders a compile error the way GNU regex reports it.
func regexDiagnostic(err error) string {
	var se *syntax.Error
	if !errors.As(err, &se) {
		return "Invalid regular expression"
	}
	switch se.Code {
	case syntax.ErrMissingParen:
		return "Unmatched ( or \\("
	case syntax.ErrUnexpectedParen:
		return "Unmatched ) or \\)"
	case syntax.ErrMissingBracket:
		return "Unmatched [, [^, [:, [., or [="
	case syntax.ErrMissingRepeatArgument, syntax.ErrInvalidRepeatOp:
		return "Invalid preceding regular expression"
	case syntax.ErrInvalidRepeatSize:
		return "Invalid content of \\{\\}"
	case syntax.ErrTrailingBackslash:
		return "Trailing backslash"
	case syntax.ErrInvalidCharRange:
		return "Invalid range end"
	case syntax.ErrInvalidCharClass:
		return "Invalid character class name"
	default:
		return "Invalid regular expression"
	}
}

func runGrep(s *Session, inv *Invocation) Output {
	patterns, rest := extractOption(inv.Args, "-e")
	f, err := parseFlags(rest, "cnvrRilLohHqwxEFsI", "m", "color", "colour", "include")
	if err != nil {
		return badUsage("grep", err)
	}
	files := f.args
	if len(patterns) == 0 {
		if len(files) == 0 {
			return failStatus(2, "Usage: grep [OPTION]... PATTERNS [FILE]...\nTry 'grep --help' for more information.")
		}
		patterns, files = []string{files[0]}, files[1:]
	}
	re, err := compilePattern(patterns, f.has('E'), f.has('F'), f.has('i'), f.has('w'), f.has('x'))
	if err != nil {
		return failStatus(2, "grep: %s", regexDiagnostic(err))
	}
	limit := -1
	if v, ok := f.value('m'); ok {
		if limit, err = strconv.Atoi(v); err != nil {
			return failStatus(2, "grep: invalid max count")
		}
	}

	recursive := f.anyOf("rR")
	if recursive && len(files) == 0 {
		files = []string{"."}
	}
	var (
		srcs []source
		errs strings.Builder
	)
	if recursive {
		for _, root := range files {
			st, ok := s.FS.Stat(root)
			if !ok {
				if !f.has('s') {
					fmt.Fprintf(&errs, "grep: %s: No such file or directory\n", root)
				}
				continue
			}
			if !st.IsDir() {
				data, _ := s.FS.ReadFile(root)
				srcs = append(srcs, source{name: root, text: data})
				continue
			}
			rootAbs := s.FS.ResolvePath(root)
			include := f.long["include"]
			_ = s.FS.Walk(root, func(st vfs.Stat) bool {
				if st.Type != vfs.TypeFile {
					return true
				}
				if include != "" {
					if m, _ := path.Match(include, st.Name); !m {
						return true
					}
				}
				data, err := s.FS.ReadFile(st.Path)
				if err != nil {
					return true
				}
				srcs = append(srcs, source{name: findDisplay(root, rootAbs, st.Path), text: data})
				return true
			})
		}
	} else {
		var e string
		srcs, e = s.inputs("grep", inv, files)
		if f.has('s') {
			e = ""
		}
		errs.WriteString(e)
		for i := range srcs {
			if srcs[i].name == "-" {
				srcs[i].name = "(standard input)"
			}
		}
	}

	showNames := (len(files) > 1 || recursive) && !f.has('h') || f.has('H')
	var out strings.Builder
	matched := false
	for _, src := range srcs {
		if f.has('I') && strings.HasPrefix(src.text, "\x7fELF") {
			continue
		}
		prefix := ""
		if showNames {
			prefix = src.name + ":"
		}
		count := 0
		for n, line := range splitLines(src.text) {
			if limit >= 0 && count >= limit {
				break
			}
			hit := re.MatchString(line)
			if hit == f.has('v') {
				continue
			}
			count++
			matched = true
			if f.anyOf("clLq") {
				continue
			}
			num := ""
			if f.has('n') {
				num = strconv.Itoa(n+1) + ":"
			}
			if f.has('o') && !f.has('v') {
				for _, m := range re.FindAllString(line, -1) {
					if m != "" {
						out.WriteString(prefix + num + m + "\n")
					}
				}
				continue
			}
			out.WriteString(prefix + num + line + "\n")
		}
		switch {
		case f.has('l') && count > 0:
			out.WriteString(src.name + "\n")
		case f.has('L') && count == 0:
			out.WriteString(src.name + "\n")
		case f.has('c') && !f.anyOf("lL"):
			out.WriteString(prefix + strconv.Itoa(count) + "\n")
		}
	}
	status := 1
	if matched {
		status = 0
	}
	if f.has('q') {
		return Output{Status: status}
	}
	if errs.Len() > 0 && !matched {
		status = 2
	}
	return Output{Stdout: out.String(), Stderr: errs.String(), Status: status}
}

type wcCounts struct {
	lines, words, bytes, chars int
}

func countText(text string) wcCounts {
	return wcCounts{
		lines: strings.Count(text, "\n"),
		words: len(strings.Fields(text)),
		bytes: len(text),
		chars: utf8.RuneCountInString(text),
	}
}

func runWc(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "lwcmL", "")
	if err != nil {
		return badUsage("wc", err)
	}
	cols := lo.Filter([]byte("lwmc"), func(c byte, _ int) bool { return f.has(c) })
	if len(cols) == 0 {
		cols = []byte("lwc")
	}
	srcs, errs := s.inputs("wc", inv, f.args)
	type row struct {
		c    wcCounts
		name string
	}
	var (
		rows  []row
		total wcCounts
		stdin bool
	)
	for _, src := range srcs {
		c := countText(src.text)
		name := src.name
		if name == "-" {
			stdin = true
			if len(f.args) == 0 {
				name = ""
			}
		}
		rows = append(rows, row{c, name})
		total.lines += c.lines
		total.words += c.words
		total.bytes += c.bytes
		total.chars += c.chars
	}
	if len(srcs) > 1 {
		rows = append(rows, row{total, "total"})
	}
	value := func(c wcCounts, col byte) int {
		switch col {
		case 'l':
			return c.lines
		case 'w':
			return c.words
		case 'm':
			return c.chars
		}
		return c.bytes
	}
	width := 1
	switch {
	case len(cols) == 1 && len(rows) == 1:
	case stdin:
		width = 7
	default:
		for _, r := range rows {
			for _, col := range cols {
				width = max(width, len(strconv.Itoa(value(r.c, col))))
			}
		}
	}
	var b strings.Builder
	for _, r := range rows {
		cells := lo.Map(cols, func(col byte, _ int) string {
			return fmt.Sprintf("%*d", width, value(r.c, col))
		})
		line := strings.Join(cells, " ")
		if r.name != "" {
			line += " " + r.name
		}
		b.WriteString(line + "\n")
	}
	out := Output{Stdout: b.String(), Stderr: errs}
	if errs != "" {
		out.Status = 1
	}
	return out
}

// sortKey extracts the -k field range from a line.
func sortKey(line, sep string, from, to int) string {
	var fields []string
	if sep == "" {
		fields = strings.Fields(line)
	} else {
		fields = strings.Split(line, sep)
	}
	if from < 1 || from > len(fields) {
		return ""
	}
	if to < from || to > len(fields) {
		to = len(fields)
	}
	joiner := sep
	if joiner == "" {
		joiner = " "
	}
	return strings.Join(fields[from-1:to], joiner)
}

// leadingNumber parses the numeric prefix sort -n compares by.
func leadingNumber(s string) float64 {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.' || end == 0 && s[end] == '-') {
		end++
	}
	v, _ := strconv.ParseFloat(s[:end], 64)
	return v
}

var humanSuffix = map[byte]float64{'K': 1 << 10, 'M': 1 << 20, 'G': 1 << 30, 'T': 1 << 40}

func humanNumber(s string) float64 {
	s = strings.TrimSpace(s)
	v := leadingNumber(s)
	if s != "" {
		if m, ok := humanSuffix[s[len(s)-1]]; ok {
			v *= m
		}
	}
	return v
}

func runSort(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "rnufhbV", "kto")
	if err != nil {
		return badUsage("sort", err)
	}
	srcs, errs := s.inputs("sort", inv, f.args)
	if errs != "" {
		return failStatus(2, "%s", strings.ReplaceAll(errs, "sort: ", "sort: cannot read: "))
	}
	var lines []string
	for _, src := range srcs {
		lines = append(lines, splitLines(src.text)...)
	}
	sep, _ := f.value('t')
	from, to := 0, 0
	if k, ok := f.value('k'); ok {
		a, b, _ := strings.Cut(k, ",")
		from, err = strconv.Atoi(strings.TrimRight(a, "bnr"))
		if err != nil || from < 1 {
			return failStatus(2, "sort: invalid number at field start: invalid count at start of '%s'", k)
		}
		if b != "" {
			to, _ = strconv.Atoi(strings.TrimRight(b, "bnr"))
		}
	}
	key := func(l string) string {
		if from > 0 {
			l = sortKey(l, sep, from, to)
		}
		if f.has('f') {
			l = strings.ToUpper(l)
		}
		return l
	}
	less := func(a, b string) int {
		ka, kb := key(a), key(b)
		switch {
		case f.has('n'):
			if na, nb := leadingNumber(ka), leadingNumber(kb); na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
		case f.has('h'):
			if na, nb := humanNumber(ka), humanNumber(kb); na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
		default:
			if c := strings.Compare(ka, kb); c != 0 {
				return c
			}
		}
		if f.has('u') {
			return 0
		}
		return strings.Compare(a, b)
	}
	sort.SliceStable(lines, func(i, j int) bool {
		c := less(lines[i], lines[j])
		if f.has('r') {
			return c > 0
		}
		return c < 0
	})
	if f.has('u') {
		var uniq []string
		for i, l := range lines {
			if i > 0 && less(lines[i-1], l) == 0 {
				continue
			}
			uniq = append(uniq, l)
		}
		lines = uniq
	}
	text := joinLines(lines)
	if o, ok := f.value('o'); ok {
		if err := s.FS.WriteFile(o, text); err != nil {
			return failStatus(2, "sort: open failed: %s: %s", o, reason(err))
		}
		return Output{}
	}
	return Output{Stdout: text}
}

func runUniq(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "cdui", "")
	if err != nil {
		return badUsage("uniq", err)
	}
	var in []string
	if len(f.args) > 0 {
		in = f.args[:1]
	}
	srcs, errs := s.inputs("uniq", inv, in)
	if errs != "" {
		return fail("%s", errs)
	}
	lines := splitLines(srcs[0].text)
	same := func(a, b string) bool {
		if f.has('i') {
			return strings.EqualFold(a, b)
		}
		return a == b
	}
	var out []string
	for i := 0; i < len(lines); {
		j := i + 1
		for j < len(lines) && same(lines[i], lines[j]) {
			j++
		}
		n := j - i
		keep := !(f.has('d') && n == 1) && !(f.has('u') && n > 1)
		if keep {
			if f.has('c') {
				out = append(out, fmt.Sprintf("%7d %s", n, lines[i]))
			} else {
				out = append(out, lines[i])
			}
		}
		i = j
	}
	text := joinLines(out)
	if len(f.args) > 1 {
		if err := s.FS.WriteFile(f.args[1], text); err != nil {
			return fail("uniq: %s: %s", f.args[1], reason(err))
		}
		return Output{}
	}
	return Output{Stdout: text}
}

// fieldRange is one element of a cut list: From..To inclusive, 1-based; To 0
// means open-ended.
type fieldRange struct{ from, to int }

func parseList(list string) ([]fieldRange, error) {
	var out []fieldRange
	for _, part := range strings.Split(list, ",") {
		a, b, isRange := strings.Cut(part, "-")
		r := fieldRange{}
		var err error
		if a != "" {
			if r.from, err = strconv.Atoi(a); err != nil || r.from < 1 {
				return nil, fmt.Errorf("invalid field value '%s'", part)
			}
		} else {
			r.from = 1
		}
		switch {
		case !isRange:
			r.to = r.from
		case b != "":
			if r.to, err = strconv.Atoi(b); err != nil || r.to < r.from {
				return nil, fmt.Errorf("invalid decreasing range")
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func inRanges(rs []fieldRange, i int) bool {
	for _, r := range rs {
		if i >= r.from && (r.to == 0 || i <= r.to) {
			return true
		}
	}
	return false
}

func runCut(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "s", "dfcb", "complement")
	if err != nil {
		return badUsage("cut", err)
	}
	fieldsList, byField := f.value('f')
	charList, byChar := f.value('c')
	if !byChar {
		charList, byChar = f.value('b')
	}
	if !byField && !byChar {
		return fail("cut: you must specify a list of bytes, characters, or fields\nTry 'cut --help' for more information.")
	}
	list := fieldsList
	if byChar {
		list = charList
	}
	ranges, err := parseList(list)
	if err != nil {
		return fail("cut: %v\nTry 'cut --help' for more information.", err)
	}
	delim := "\t"
	if d, ok := f.value('d'); ok {
		if utf8.RuneCountInString(d) != 1 {
			return fail("cut: the delimiter must be a single character\nTry 'cut --help' for more information.")
		}
		delim = d
	}
	complement := f.hasLong("complement")
	srcs, errs := s.inputs("cut", inv, f.args)
	var out []string
	for _, src := range srcs {
		for _, line := range splitLines(src.text) {
			if byChar {
				var b strings.Builder
				for i, r := range []rune(line) {
					if inRanges(ranges, i+1) != complement {
						b.WriteRune(r)
					}
				}
				out = append(out, b.String())
				continue
			}
			if !strings.Contains(line, delim) {
				if !f.has('s') {
					out = append(out, line)
				}
				continue
			}
			parts := strings.Split(line, delim)
			var picked []string
			for i, p := range parts {
				if inRanges(ranges, i+1) != complement {
					picked = append(picked, p)
				}
			}
			out = append(out, strings.Join(picked, delim))
		}
	}
	o := Output{Stdout: joinLines(out), Stderr: errs}
	if errs != "" {
		o.Status = 1
	}
	return o
}

var trClasses = map[string]func(rune) bool{
	"upper":  unicode.IsUpper,
	"lower":  unicode.IsLower,
	"digit":  unicode.IsDigit,
	"alpha":  unicode.IsLetter,
	"alnum":  func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) },
	"space":  unicode.IsSpace,
	"blank":  func(r rune) bool { return r == ' ' || r == '\t' },
	"punct":  unicode.IsPunct,
	"xdigit": func(r rune) bool { return strings.ContainsRune("0123456789abcdefABCDEF", r) },
}

// expandSet turns a tr operand into its list of characters.
func expandSet(set string) ([]rune, error) {
	var out []rune
	rs := []rune(set)
	for i := 0; i < len(rs); i++ {
		if rs[i] == '[' && i+1 < len(rs) && rs[i+1] == ':' {
			end := strings.Index(string(rs[i:]), ":]")
			if end > 0 {
				name := string(rs[i+2 : i+end])
				pred, ok := trClasses[name]
				if !ok {
					return nil, fmt.Errorf("invalid character class '%s'", name)
				}
				for r := rune(0); r < 128; r++ {
					if pred(r) {
						out = append(out, r)
					}
				}
				i += end + 1
				continue
			}
		}
		c := rs[i]
		if c == '\\' && i+1 < len(rs) {
			i++
			switch rs[i] {
			case 'n':
				c = '\n'
			case 't':
				c = '\t'
			case 'r':
				c = '\r'
			default:
				c = rs[i]
			}
		}
		if i+2 < len(rs) && rs[i+1] == '-' {
			hi := rs[i+2]
			if hi < c {
				return nil, fmt.Errorf("range-endpoints of '%c-%c' are in reverse collating sequence order", c, hi)
			}
			for r := c; r <= hi; r++ {
				out = append(out, r)
			}
			i += 2
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func runTr(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "dscC", "")
	if err != nil {
		return badUsage("tr", err)
	}
	need := 2
	if f.has('d') && !f.has('s') {
		need = 1
	} else if f.has('s') && len(f.args) == 1 {
		need = 1
	}
	if len(f.args) < need {
		if len(f.args) == 0 {
			return fail("tr: missing operand\nTry 'tr --help' for more information.")
		}
		return fail("tr: missing operand after '%s'\nTwo strings must be given when translating.\nTry 'tr --help' for more information.", f.args[0])
	}
	set1, err := expandSet(f.args[0])
	if err != nil {
		return fail("tr: %v", err)
	}
	var set2 []rune
	if len(f.args) > 1 {
		if set2, err = expandSet(f.args[1]); err != nil {
			return fail("tr: %v", err)
		}
	}
	in1 := func(r rune) bool {
		return lo.Contains(set1, r) != f.anyOf("cC")
	}
	var b strings.Builder
	var last rune = -1
	squeeze := func(r rune, set []rune) bool {
		return f.has('s') && r == last && lo.Contains(set, r)
	}
	for _, r := range inv.Stdin {
		if f.has('d') {
			if in1(r) {
				continue
			}
			if squeeze(r, set2) {
				continue
			}
			b.WriteRune(r)
			last = r
			continue
		}
		if len(set2) > 0 {
			if i := lo.IndexOf(set1, r); i >= 0 && !f.anyOf("cC") {
				r = set2[min(i, len(set2)-1)]
			} else if f.anyOf("cC") && !lo.Contains(set1, r) {
				r = set2[len(set2)-1]
			}
		}
		squeezeSet := set1
		if len(set2) > 0 {
			squeezeSet = set2
		}
		if squeeze(r, squeezeSet) {
			continue
		}
		b.WriteRune(r)
		last = r
	}
	return Output{Stdout: b.String()}
}

// sedCommand is one parsed sed instruction.
type sedCommand struct {
	addr    *regexp.Regexp
	line    int
	last    bool
	op      byte
	re      *regexp.Regexp
	repl    string
	global  bool
	nth     int
	print   bool
	appendT string
}

func splitDelimited(script string, delim byte) ([]string, string, error) {
	var parts []string
	var cur strings.Builder
	i := 0
	for ; i < len(script) && len(parts) < 2; i++ {
		c := script[i]
		switch {
		case c == '\\' && i+1 < len(script) && script[i+1] == delim:
			cur.WriteByte(delim)
			i++
		case c == '\\' && i+1 < len(script):
			cur.WriteByte(c)
			cur.WriteByte(script[i+1])
			i++
		case c == delim:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if len(parts) < 2 {
		return nil, "", fmt.Errorf("unterminated `s' command")
	}
	return parts, script[i:], nil
}

func parseSed(script string, extended bool) ([]sedCommand, error) {
	var cmds []sedCommand
	for _, part := range splitSedScript(script) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var c sedCommand
		switch {
		case part[0] == '/':
			end := strings.IndexByte(part[1:], '/')
			if end < 0 {
				return nil, fmt.Errorf("unterminated address regex")
			}
			expr := part[1 : end+1]
			if !extended {
				expr = basicToExtended(expr)
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("-e expression #1, char %d: %s", end+2, regexDiagnostic(err))
			}
			c.addr = re
			part = strings.TrimSpace(part[end+2:])
		case part[0] == '$':
			c.last = true
			part = strings.TrimSpace(part[1:])
		case part[0] >= '0' && part[0] <= '9':
			j := 0
			for j < len(part) && part[j] >= '0' && part[j] <= '9' {
				j++
			}
			c.line, _ = strconv.Atoi(part[:j])
			part = strings.TrimSpace(part[j:])
		}
		if part == "" {
			return nil, fmt.Errorf("-e expression #1, char %d: missing command", len(script))
		}
		c.op = part[0]
		switch c.op {
		case 'd', 'p', 'q':
		case 'a', 'i':
			c.appendT = strings.TrimSpace(strings.TrimPrefix(part[1:], "\\"))
		case 's':
			if len(part) < 2 {
				return nil, fmt.Errorf("-e expression #1, char %d: unterminated `s' command", len(script))
			}
			pieces, flags, err := splitDelimited(part[2:], part[1])
			if err != nil {
				return nil, fmt.Errorf("-e expression #1, char %d: %v", len(script), err)
			}
			expr := pieces[0]
			if !extended {
				expr = basicToExtended(expr)
			}
			for _, fl := range flags {
				switch {
				case fl == 'g':
					c.global = true
				case fl == 'i' || fl == 'I':
					expr = "(?i)" + expr
				case fl == 'p':
					c.print = true
				case fl >= '1' && fl <= '9':
					c.nth = int(fl - '0')
				default:
					return nil, fmt.Errorf("-e expression #1, char %d: unknown option to `s'", len(script))
				}
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("-e expression #1, char %d: %s", len(script), regexDiagnostic(err))
			}
			c.re, c.repl = re, pieces[1]
		default:
			return nil, fmt.Errorf("-e expression #1, char 1: unknown command: `%c'", c.op)
		}
		cmds = append(cmds, c)
	}
	return cmds, nil
}

// splitSedScript separates commands on ';' and newlines outside s/// bodies.
func splitSedScript(script string) []string {
	var out []string
	start, slashes := 0, 0
	var delim byte
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case c == '\\':
			i++
		case delim == 0 && c == 's' && i+1 < len(script) && (i == start || strings.TrimSpace(script[start:i]) == "" || isAddressEnd(script[start:i])):
			delim, slashes = script[i+1], 0
			i++
		case delim != 0 && c == delim:
			slashes++
			if slashes == 2 {
				delim = 0
			}
		case delim == 0 && (c == ';' || c == '\n'):
			out = append(out, script[start:i])
			start = i + 1
		}
	}
	return append(out, script[start:])
}

func isAddressEnd(prefix string) bool {
	prefix = strings.TrimSpace(prefix)
	return strings.HasSuffix(prefix, "/") || prefix == "$" || strings.Trim(prefix, "0123456789") == ""
}

// expandReplacement renders a sed replacement for one match.
func expandReplacement(repl, src string, m []int) string {
	var b strings.Builder
	for i := 0; i < len(repl); i++ {
		c := repl[i]
		switch {
		case c == '&':
			b.WriteString(src[m[0]:m[1]])
		case c == '\\' && i+1 < len(repl):
			i++
			n := repl[i]
			switch {
			case n >= '0' && n <= '9':
				g := int(n - '0')
				if 2*g+1 < len(m) && m[2*g] >= 0 {
					b.WriteString(src[m[2*g]:m[2*g+1]])
				}
			case n == 'n':
				b.WriteByte('\n')
			case n == 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(n)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (c sedCommand) substitute(line string) (string, bool) {
	matches := c.re.FindAllStringSubmatchIndex(line, -1)
	if len(matches) == 0 {
		return line, false
	}
	var b strings.Builder
	prev, done := 0, false
	for i, m := range matches {
		if done {
			break
		}
		if c.nth > 0 && i+1 != c.nth {
			continue
		}
		b.WriteString(line[prev:m[0]])
		b.WriteString(expandReplacement(c.repl, line, m))
		prev = m[1]
		if !c.global {
			done = true
		}
	}
	if prev == 0 && c.nth > len(matches) {
		return line, false
	}
	b.WriteString(line[prev:])
	return b.String(), true
}

func runSed(s *Session, inv *Invocation) Output {
	scripts, rest := extractOption(inv.Args, "-e")
	f, err := parseFlags(rest, "nErsi", "", "in-place", "quiet", "silent")
	if err != nil {
		return badUsage("sed", err)
	}
	files := f.args
	if len(scripts) == 0 {
		if len(files) == 0 {
			return fail("Usage: sed [OPTION]... {script-only-if-no-other-script} [input-file]...")
		}
		scripts, files = files[:1], files[1:]
	}
	cmds, err := parseSed(strings.Join(scripts, "\n"), f.anyOf("Er"))
	if err != nil {
		return fail("sed: %v", err)
	}
	quiet := f.has('n') || f.hasLong("quiet") || f.hasLong("silent")
	inPlace := f.has('i') || f.hasLong("in-place")
	if inPlace && len(files) == 0 {
		return fail("sed: no input files")
	}

	process := func(text string) string {
		lines := splitLines(text)
		var out strings.Builder
		for n, line := range lines {
			deleted, quit := false, false
			var before, after []string
			for _, c := range cmds {
				switch {
				case c.addr != nil && !c.addr.MatchString(line):
					continue
				case c.line > 0 && c.line != n+1:
					continue
				case c.last && n != len(lines)-1:
					continue
				}
				switch c.op {
				case 'd':
					deleted = true
				case 'p':
					out.WriteString(line + "\n")
				case 'q':
					quit = true
				case 'a':
					after = append(after, c.appendT)
				case 'i':
					before = append(before, c.appendT)
				case 's':
					var changed bool
					line, changed = c.substitute(line)
					if changed && c.print {
						out.WriteString(line + "\n")
					}
				}
				if deleted || quit {
					break
				}
			}
			for _, l := range before {
				out.WriteString(l + "\n")
			}
			if !deleted && !quiet {
				out.WriteString(line + "\n")
			}
			for _, l := range after {
				out.WriteString(l + "\n")
			}
			if quit {
				break
			}
		}
		return out.String()
	}

	if inPlace {
		var errs strings.Builder
		for _, file := range files {
			data, err := s.FS.ReadFile(file)
			if err != nil {
				fmt.Fprintf(&errs, "sed: can't read %s: %s\n", file, reason(err))
				continue
			}
			if err := s.FS.WriteFile(file, process(data)); err != nil {
				fmt.Fprintf(&errs, "sed: couldn't edit %s: %s\n", file, reason(err))
			}
		}
		return errOutput(errs.String())
	}
	srcs, errs := s.inputs("sed", inv, files)
	errs = strings.ReplaceAll(errs, "sed: ", "sed: can't read ")
	var b strings.Builder
	for _, src := range srcs {
		b.WriteString(process(src.text))
	}
	o := Output{Stdout: b.String(), Stderr: errs}
	if errs != "" {
		o.Status = 2
	}
	return o
}

func runAwk(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "", "Fv")
	if err != nil {
		return badUsage("awk", err)
	}
	if len(f.args) == 0 {
		return failStatus(2, "usage: awk [-F fs][-v var=value][prog | -f progfile][file ...]")
	}
	prog, err := parseAwk(f.args[0])
	if err != nil {
		return failStatus(2, "awk: %v", err)
	}
	vm := newAwkVM(prog)
	if fs, ok := f.value('F'); ok {
		if fs == "t" || fs == `\t` {
			fs = "\t"
		}
		vm.vars["FS"] = fs
	}
	if v, ok := f.value('v'); ok {
		if name, val, found := strings.Cut(v, "="); found {
			vm.vars[name] = val
		}
	}
	srcs, errs := s.inputs("awk", inv, f.args[1:])
	var lines []string
	for _, src := range srcs {
		lines = append(lines, splitLines(src.text)...)
	}
	out := vm.run(lines)
	o := Output{Stdout: out, Stderr: strings.ReplaceAll(errs, "awk: ", "awk: cannot open ")}
	if errs != "" {
		o.Status = 2
	}
	return o
}

func runTee(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "ai", "", "append")
	if err != nil {
		return badUsage("tee", err)
	}
	appendTo := f.has('a') || f.hasLong("append")
	var errs strings.Builder
	for _, file := range f.args {
		if err := s.redirectTo(file, inv.Stdin, appendTo); err != nil {
			fmt.Fprintf(&errs, "tee: %s\n", strings.TrimPrefix(err.Error(), "-bash: "))
		}
	}
	o := errOutput(errs.String())
	o.Stdout = inv.Stdin
	return o
}

func runNl(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "", "bsw")
	if err != nil {
		return badUsage("nl", err)
	}
	all := false
	if v, ok := f.value('b'); ok {
		all = v == "a"
	}
	sep := "\t"
	if v, ok := f.value('s'); ok {
		sep = v
	}
	width := 6
	if v, ok := f.value('w'); ok {
		if width, err = strconv.Atoi(v); err != nil || width < 1 {
			return fail("nl: invalid line number field width: '%s'", v)
		}
	}
	srcs, errs := s.inputs("nl", inv, f.args)
	var b strings.Builder
	n := 0
	for _, src := range srcs {
		for _, line := range splitLines(src.text) {
			if line == "" && !all {
				b.WriteString("\n")
				continue
			}
			n++
			fmt.Fprintf(&b, "%*d%s%s\n", width, n, sep, line)
		}
	}
	o := Output{Stdout: b.String(), Stderr: errs}
	if errs != "" {
		o.Status = 1
	}
	return o
}

func runRev(s *Session, inv *Invocation) Output {
	srcs, errs := s.inputs("rev", inv, inv.Args)
	var out []string
	for _, src := range srcs {
		for _, line := range splitLines(src.text) {
			rs := []rune(line)
			slices.Reverse(rs)
			out = append(out, string(rs))
		}
	}
	o := Output{Stdout: joinLines(out), Stderr: errs}
	if errs != "" {
		o.Status = 1
	}
	return o
}

func runSeq(s *Session, inv *Invocation) Output {
	args := inv.Args
	sep, width := "\n", false
	for len(args) > 0 && strings.HasPrefix(args[0], "-") && len(args[0]) > 1 && (args[0][1] < '0' || args[0][1] > '9') {
		switch {
		case args[0] == "-s" && len(args) > 1:
			sep, args = args[1], args[2:]
			continue
		case strings.HasPrefix(args[0], "-s"):
			sep = args[0][2:]
		case args[0] == "-w":
			width = true
		default:
			return badUsage("seq", &optionError{option: args[0][1:2]})
		}
		args = args[1:]
	}
	nums := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fail("seq: invalid floating point argument: '%s'\nTry 'seq --help' for more information.", a)
		}
		nums[i] = v
	}
	first, step, last := 1.0, 1.0, 0.0
	switch len(nums) {
	case 1:
		last = nums[0]
	case 2:
		first, last = nums[0], nums[1]
	case 3:
		first, step, last = nums[0], nums[1], nums[2]
	default:
		if len(nums) == 0 {
			return fail("seq: missing operand\nTry 'seq --help' for more information.")
		}
		return fail("seq: extra operand '%s'\nTry 'seq --help' for more information.", args[3])
	}
	if step == 0 {
		return fail("seq: invalid Zero increment value: '0'\nTry 'seq --help' for more information.")
	}
	var vals []string
	pad := 0
	if width {
		pad = max(len(strconv.FormatFloat(first, 'f', -1, 64)), len(strconv.FormatFloat(last, 'f', -1, 64)))
	}
	for v, n := first, 0; (step > 0 && v <= last) || (step < 0 && v >= last); v, n = first+float64(n+1)*step, n+1 {
		text := strconv.FormatFloat(v, 'f', -1, 64)
		if pad > 0 {
			text = fmt.Sprintf("%0*s", pad, text)
		}
		vals = append(vals, text)
		if n >= 100000 {
			break
		}
	}
	if len(vals) == 0 {
		return Output{}
	}
	return Output{Stdout: strings.Join(vals, sep) + "\n"}
}

func runXargs(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "rt0", "nId")
	if err != nil {
		return badUsage("xargs", err)
	}
	cmd := f.args
	if len(cmd) == 0 {
		cmd = []string{"echo"}
	}
	var items []string
	if d, ok := f.value('d'); ok {
		items = strings.Split(strings.TrimSuffix(inv.Stdin, "\n"), d)
	} else if f.has('0') {
		items = strings.Split(strings.TrimSuffix(inv.Stdin, "\x00"), "\x00")
	} else {
		items = strings.Fields(inv.Stdin)
	}
	items = lo.Compact(items)
	if len(items) == 0 && f.has('r') {
		return Output{}
	}
	var batches [][]string
	if repl, ok := f.value('I'); ok {
		for _, line := range splitLines(inv.Stdin) {
			if strings.TrimSpace(line) == "" {
				continue
			}
			batch := make([]string, len(cmd))
			for i, a := range cmd {
				batch[i] = strings.ReplaceAll(a, repl, line)
			}
			batches = append(batches, batch)
		}
	} else {
		size := len(items)
		if v, ok := f.value('n'); ok {
			if size, err = strconv.Atoi(v); err != nil || size < 1 {
				return fail("xargs: value %s for -n option should be >= 1", v)
			}
		}
		if len(items) == 0 {
			batches = append(batches, cmd)
		}
		for _, chunk := range lo.Chunk(items, max(size, 1)) {
			batches = append(batches, append(append([]string{}, cmd...), chunk...))
		}
	}
	var out, errs strings.Builder
	status := 0
	for _, b := range batches {
		if f.has('t') {
			errs.WriteString(strings.Join(b, " ") + "\n")
		}
		r := s.call(b[0], b[1:], "", false)
		out.WriteString(r.Stdout)
		errs.WriteString(r.Stderr)
		if r.Status == 127 {
			return Output{Stdout: out.String(), Stderr: fmt.Sprintf("xargs: %s: No such file or directory\n", b[0]), Status: 127}
		}
		if r.Status != 0 {
			status = 123
		}
	}
	return Output{Stdout: out.String(), Stderr: errs.String(), Status: status}
}
