package shell

import (
	"fmt"
	"strings"
)

// segment is a run of characters within one word sharing a quoting context.
// quote is 0 for unquoted text, otherwise the quote character.
type segment struct {
	text  string
	quote byte
}

type token struct {
	op   string
	segs []segment
}

func (t token) isOp() bool { return t.op != "" }

// literal is the word with its quotes stripped and nothing expanded.
func (t token) literal() string {
	if t.isOp() {
		return t.op
	}
	var b strings.Builder
	for _, s := range t.segs {
		b.WriteString(s.text)
	}
	return b.String()
}

// bare reports whether the word carries no quoting at all.
func (t token) bare() bool {
	for _, s := range t.segs {
		if s.quote != 0 {
			return false
		}
	}
	return true
}

// operators in match order: longer spellings first.
var operators = []string{"2>&1", "2>>", "&&", "||", ">>", "2>", "|", ";", ">", "<", "&"}

// lex splits a line into words and operators. Quotes group text and are
// stripped; there is no escape processing.
func lex(line string) ([]token, error) {
	var (
		toks    []token
		segs    []segment
		buf     strings.Builder
		started bool
	)
	flushSeg := func() {
		if buf.Len() > 0 {
			segs = append(segs, segment{text: buf.String()})
			buf.Reset()
		}
	}
	endWord := func() {
		flushSeg()
		if started {
			toks = append(toks, token{segs: segs})
		}
		segs, started = nil, false
	}
	for i := 0; i < len(line); {
		c := line[i]
		switch {
		case c == '\'' || c == '"':
			flushSeg()
			j := strings.IndexByte(line[i+1:], c)
			if j < 0 {
				return nil, fmt.Errorf("unexpected EOF while looking for matching `%c'", c)
			}
			segs = append(segs, segment{text: line[i+1 : i+1+j], quote: c})
			started = true
			i += j + 2
		case c == ' ' || c == '\t' || c == '\n':
			endWord()
			i++
		case c == '#' && !started:
			endWord()
			i = len(line)
		default:
			op := matchOperator(line[i:], started)
			if op == "" {
				buf.WriteByte(c)
				started = true
				i++
				continue
			}
			endWord()
			toks = append(toks, token{op: op})
			i += len(op)
		}
	}
	endWord()
	return toks, nil
}

func matchOperator(s string, midWord bool) string {
	for _, op := range operators {
		if !strings.HasPrefix(s, op) {
			continue
		}
		// "2>" only redirects when it starts a word: "file2>x" is "file2" > "x".
		if op[0] == '2' && midWord {
			continue
		}
		return op
	}
	return ""
}

type redirect struct {
	op     string
	target token
}

type simpleCommand struct {
	words  []token
	redirs []redirect
}

type pipeline []simpleCommand

// listItem is one pipeline of a command list; connector is the operator that
// precedes it ("" for the first).
type listItem struct {
	connector string
	pipe      pipeline
}

func syntaxError(tok string) error {
	if tok == "" {
		return fmt.Errorf("syntax error: unexpected end of file")
	}
	return fmt.Errorf("syntax error near unexpected token `%s'", tok)
}

func isRedirect(op string) bool {
	switch op {
	case ">", ">>", "<", "2>", "2>>", "2>&1":
		return true
	}
	return false
}

// parse builds the command list for a token stream.
func parse(toks []token) ([]listItem, error) {
	var (
		list      []listItem
		pipe      pipeline
		cur       simpleCommand
		connector string
	)
	empty := func(c simpleCommand) bool { return len(c.words) == 0 && len(c.redirs) == 0 }
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case !t.isOp():
			cur.words = append(cur.words, t)
		case t.op == "2>&1":
			cur.redirs = append(cur.redirs, redirect{op: t.op})
		case isRedirect(t.op):
			if i+1 >= len(toks) {
				return nil, syntaxError("newline")
			}
			next := toks[i+1]
			if next.isOp() {
				return nil, syntaxError(next.op)
			}
			cur.redirs = append(cur.redirs, redirect{op: t.op, target: next})
			i++
		case t.op == "|":
			if empty(cur) {
				return nil, syntaxError(t.op)
			}
			pipe = append(pipe, cur)
			cur = simpleCommand{}
		default: // ; & && ||
			if empty(cur) {
				if len(pipe) > 0 || t.op != ";" || len(list) == 0 {
					return nil, syntaxError(t.op)
				}
			}
			if !empty(cur) {
				pipe = append(pipe, cur)
			}
			if len(pipe) > 0 {
				list = append(list, listItem{connector: connector, pipe: pipe})
			}
			pipe, cur = nil, simpleCommand{}
			connector = t.op
			if connector == "&" {
				connector = ";"
			}
		}
	}
	if empty(cur) {
		if len(pipe) > 0 || connector == "&&" || connector == "||" {
			return nil, syntaxError("")
		}
		return list, nil
	}
	pipe = append(pipe, cur)
	return append(list, listItem{connector: connector, pipe: pipe}), nil
}

// expandAliases splices alias text into every command position. Each alias
// is expanded at most once per position, so "ls" aliased to "ls -F" does not
// loop.
func (s *Session) expandAliases(toks []token) ([]token, error) {
	var out []token
	commandPos := true
	for _, t := range toks {
		if t.isOp() {
			out = append(out, t)
			commandPos = t.op == "|" || t.op == ";" || t.op == "&&" || t.op == "||" || t.op == "&"
			continue
		}
		if !commandPos {
			out = append(out, t)
			continue
		}
		commandPos = false
		if !t.bare() {
			out = append(out, t)
			continue
		}
		text, ok := s.Aliases[t.literal()]
		if !ok {
			out = append(out, t)
			continue
		}
		repl, err := lex(text)
		if err != nil {
			return nil, err
		}
		out = append(out, repl...)
	}
	return out, nil
}

// assignment splits NAME=value words. Only an unquoted valid name before the
// first '=' qualifies.
func assignment(t token) (string, token, bool) {
	if t.isOp() || len(t.segs) == 0 || t.segs[0].quote != 0 {
		return "", token{}, false
	}
	first := t.segs[0].text
	eq := strings.IndexByte(first, '=')
	if eq <= 0 || !validName(first[:eq]) {
		return "", token{}, false
	}
	rest := []segment{{text: first[eq+1:]}}
	rest = append(rest, t.segs[1:]...)
	return first[:eq], token{segs: rest}, true
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
