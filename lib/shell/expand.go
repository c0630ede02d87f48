package shell

import (
	"path"
	"sort"
	"strconv"
	"strings"
)

// bashPID is what $$ reports; it matches the login shell in the process table.
const bashPID = 1903

// field accumulates one output word of expansion. pat mirrors lit with glob
// characters from quoted or expanded text escaped.
type field struct {
	lit  strings.Builder
	pat  strings.Builder
	glob bool
	any  bool
}

func (f *field) quoted(s string) {
	f.lit.WriteString(s)
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(`*?[\`, s[i]) >= 0 {
			f.pat.WriteByte('\\')
		}
		f.pat.WriteByte(s[i])
	}
	f.any = true
}

func (f *field) bare(c byte) {
	f.lit.WriteByte(c)
	switch c {
	case '*', '?', '[':
		f.glob = true
		f.pat.WriteByte(c)
	case '\\':
		f.pat.WriteString(`\\`)
	default:
		f.pat.WriteByte(c)
	}
	f.any = true
}

// expandWord performs tilde, parameter and pathname expansion on one word and
// returns the resulting fields. Unquoted parameter values are split on
// whitespace; an unquoted empty expansion yields no field at all.
func (s *Session) expandWord(t token) []string {
	var fields []string
	cur := &field{}
	finish := func() {
		if !cur.any {
			cur = &field{}
			return
		}
		if cur.glob {
			if matches := s.glob(cur.pat.String()); len(matches) > 0 {
				fields = append(fields, matches...)
				cur = &field{}
				return
			}
		}
		fields = append(fields, cur.lit.String())
		cur = &field{}
	}
	for i, seg := range t.segs {
		switch seg.quote {
		case '\'':
			cur.quoted(seg.text)
		case '"':
			cur.quoted(s.expandVars(seg.text))
		default:
			text := seg.text
			if i == 0 {
				text = s.expandTilde(text, len(t.segs) == 1)
			}
			for j := 0; j < len(text); {
				if text[j] != '$' {
					cur.bare(text[j])
					j++
					continue
				}
				value, n := s.parameter(text[j:])
				if n == 0 {
					cur.bare('$')
					j++
					continue
				}
				j += n
				words := strings.Fields(value)
				if len(words) == 0 {
					continue
				}
				if startsWithSpace(value) {
					finish()
				}
				for k, w := range words {
					if k > 0 {
						finish()
					}
					for x := 0; x < len(w); x++ {
						cur.bare(w[x])
					}
				}
				if endsWithSpace(value) {
					finish()
				}
			}
		}
	}
	finish()
	return fields
}

// expandString expands parameters without splitting or globbing, as inside
// double quotes or on the right of an assignment.
func (s *Session) expandString(t token) string {
	var b strings.Builder
	for i, seg := range t.segs {
		switch seg.quote {
		case '\'':
			b.WriteString(seg.text)
		case '"':
			b.WriteString(s.expandVars(seg.text))
		default:
			text := seg.text
			if i == 0 {
				text = s.expandTilde(text, len(t.segs) == 1)
			}
			b.WriteString(s.expandVars(text))
		}
	}
	return b.String()
}

func startsWithSpace(v string) bool {
	return v != "" && strings.IndexByte(" \t\n", v[0]) >= 0
}

func endsWithSpace(v string) bool {
	return v != "" && strings.IndexByte(" \t\n", v[len(v)-1]) >= 0
}

func (s *Session) expandVars(text string) string {
	if !strings.Contains(text, "$") {
		return text
	}
	var b strings.Builder
	for i := 0; i < len(text); {
		if text[i] != '$' {
			b.WriteByte(text[i])
			i++
			continue
		}
		value, n := s.parameter(text[i:])
		if n == 0 {
			b.WriteByte('$')
			i++
			continue
		}
		b.WriteString(value)
		i += n
	}
	return b.String()
}

// parameter expands the reference at the start of text (which begins with
// '$') and reports how many bytes it consumed; 0 means a literal '$'.
func (s *Session) parameter(text string) (string, int) {
	if len(text) < 2 {
		return "", 0
	}
	c := text[1]
	switch {
	case c == '{':
		end := strings.IndexByte(text, '}')
		if end < 0 {
			return "", 0
		}
		inner := text[2:end]
		name, def, hasDef := strings.Cut(inner, ":-")
		v := s.variable(name)
		if hasDef && v == "" {
			v = s.expandVars(def)
		}
		return v, end + 1
	case c == '?' || c == '$' || c == '#' || c == '!' || (c >= '0' && c <= '9'):
		return s.variable(string(c)), 2
	case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		j := 2
		for j < len(text) && (text[j] == '_' || (text[j] >= 'a' && text[j] <= 'z') || (text[j] >= 'A' && text[j] <= 'Z') || (text[j] >= '0' && text[j] <= '9')) {
			j++
		}
		return s.variable(text[1:j]), j
	}
	return "", 0
}

func (s *Session) variable(name string) string {
	switch name {
	case "?":
		return strconv.Itoa(s.Status)
	case "$":
		return strconv.Itoa(bashPID)
	case "#":
		return "0"
	case "!":
		return ""
	case "0":
		return "-bash"
	case "PWD":
		return s.FS.Cwd()
	case "UID":
		return strconv.Itoa(s.FS.UID())
	case "RANDOM":
		return strconv.Itoa(s.rand.IntN(32768))
	}
	return s.Env[name]
}

// expandTilde rewrites a leading ~ or ~user. whole reports that text is the
// entire word, so "~" alone expands too.
func (s *Session) expandTilde(text string, whole bool) string {
	if !strings.HasPrefix(text, "~") {
		return text
	}
	name, rest := text[1:], ""
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name, rest = name[:i], name[i:]
	} else if !whole {
		return text
	}
	if name == "" {
		if home := s.Env["HOME"]; home != "" {
			return home + rest
		}
		return s.FS.Home() + rest
	}
	if u, ok := s.FS.LookupUser(name); ok {
		return u.Home + rest
	}
	return text
}

func hasMeta(component string) bool {
	for i := 0; i < len(component); i++ {
		switch component[i] {
		case '\\':
			i++
		case '*', '?', '[':
			return true
		}
	}
	return false
}

func unescape(component string) string {
	if !strings.Contains(component, `\`) {
		return component
	}
	var b strings.Builder
	for i := 0; i < len(component); i++ {
		if component[i] == '\\' && i+1 < len(component) {
			i++
		}
		b.WriteByte(component[i])
	}
	return b.String()
}

// glob matches pattern against the filesystem. Results keep the pattern's
// relative or absolute form and are sorted; hidden names only match a
// pattern component that itself starts with a dot.
func (s *Session) glob(pattern string) []string {
	abs := strings.HasPrefix(pattern, "/")
	parts := strings.Split(strings.Trim(pattern, "/"), "/")
	candidates := []string{""}
	if abs {
		candidates = []string{"/"}
	}
	for i, part := range parts {
		last := i == len(parts)-1
		var next []string
		for _, base := range candidates {
			if !hasMeta(part) {
				p := joinGlob(base, unescape(part))
				if last || s.isDir(p) {
					next = append(next, p)
				}
				continue
			}
			dir := base
			if dir == "" {
				dir = "."
			}
			names, err := s.FS.ReadDir(dir)
			if err != nil {
				continue
			}
			for _, name := range names {
				if strings.HasPrefix(name, ".") && !strings.HasPrefix(part, ".") {
					continue
				}
				if ok, err := path.Match(part, name); err != nil || !ok {
					continue
				}
				p := joinGlob(base, name)
				if last || s.isDir(p) {
					next = append(next, p)
				}
			}
		}
		candidates = next
	}
	var out []string
	for _, c := range candidates {
		if _, ok := s.FS.Lstat(c); ok {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func joinGlob(base, name string) string {
	switch base {
	case "":
		return name
	case "/":
		return "/" + name
	}
	return base + "/" + name
}

func (s *Session) isDir(p string) bool {
	st, ok := s.FS.Stat(p)
	return ok && st.IsDir()
}
