package shell

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// awk is a small interpreter covering what one-liners use: BEGIN/END and
// pattern rules, print/printf, fields, scalar and associative variables,
// if/else, for-in, and the common string functions.

type awkTokKind int

const (
	atEOF awkTokKind = iota
	atNum
	atStr
	atRegex
	atName
	atFunc
	atOp
	atNewline
)

type awkTok struct {
	kind awkTokKind
	text string
	num  float64
}

var awkFuncs = map[string]bool{
	"length": true, "substr": true, "toupper": true, "tolower": true,
	"index": true, "int": true, "split": true, "sprintf": true,
}

var awkOps = []string{
	"+=", "-=", "*=", "/=", "%=", "==", "!=", "<=", ">=", "&&", "||", "!~", "++", "--",
	"{", "}", "(", ")", "[", "]", ";", ",", "+", "-", "*", "/", "%", "<", ">", "=", "!", "~", "$", "?", ":",
}

// regexAllowed reports whether a '/' after prev starts a regex literal.
func regexAllowed(prev awkTok) bool {
	switch prev.kind {
	case atNum, atStr, atName, atRegex:
		return false
	case atOp:
		return prev.text != ")" && prev.text != "]" && prev.text != "$"
	}
	return true
}

func lexAwk(src string) ([]awkTok, error) {
	var toks []awkTok
	prev := awkTok{kind: atEOF}
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			i++
			continue
		case c == '\\' && i+1 < len(src) && src[i+1] == '\n':
			i += 2
			continue
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			continue
		case c == '\n':
			toks = append(toks, awkTok{kind: atNewline})
			i++
		case c >= '0' && c <= '9' || c == '.' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			v, _ := strconv.ParseFloat(src[i:j], 64)
			toks = append(toks, awkTok{kind: atNum, text: src[i:j], num: v})
			i = j
		case c == '"':
			var b strings.Builder
			j := i + 1
			for ; j < len(src) && src[j] != '"'; j++ {
				if src[j] == '\\' && j+1 < len(src) {
					j++
					switch src[j] {
					case 'n':
						b.WriteByte('\n')
					case 't':
						b.WriteByte('\t')
					default:
						b.WriteByte(src[j])
					}
					continue
				}
				b.WriteByte(src[j])
			}
			if j >= len(src) {
				return nil, fmt.Errorf("non-terminated string %s", src[i:])
			}
			toks = append(toks, awkTok{kind: atStr, text: b.String()})
			i = j + 1
		case c == '/' && regexAllowed(prev):
			var b strings.Builder
			j := i + 1
			for ; j < len(src) && src[j] != '/'; j++ {
				if src[j] == '\\' && j+1 < len(src) && src[j+1] == '/' {
					j++
				}
				b.WriteByte(src[j])
			}
			if j >= len(src) {
				return nil, fmt.Errorf("non-terminated regular expression %s", src[i:])
			}
			toks = append(toks, awkTok{kind: atRegex, text: b.String()})
			i = j + 1
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
			j := i
			for j < len(src) && (src[j] == '_' || src[j] >= 'a' && src[j] <= 'z' || src[j] >= 'A' && src[j] <= 'Z' || src[j] >= '0' && src[j] <= '9') {
				j++
			}
			word := src[i:j]
			kind := atName
			if awkFuncs[word] {
				kind = atFunc
			}
			toks = append(toks, awkTok{kind: kind, text: word})
			i = j
		default:
			matched := false
			for _, op := range awkOps {
				if strings.HasPrefix(src[i:], op) {
					toks = append(toks, awkTok{kind: atOp, text: op})
					i += len(op)
					matched = true
					break
				}
			}
			if !matched {
				return nil, fmt.Errorf("syntax error at source line 1: unexpected character '%c'", c)
			}
		}
		prev = toks[len(toks)-1]
	}
	return append(toks, awkTok{kind: atEOF}), nil
}

// awkNode is an expression or statement in the parsed program.
type awkNode struct {
	op    string
	text  string
	num   float64
	re    *regexp.Regexp
	kids  []*awkNode
	elseN *awkNode
}

type awkRule struct {
	begin, end bool
	pattern    *awkNode
	action     []*awkNode
}

type awkParser struct {
	toks []awkTok
	pos  int
}

func (p *awkParser) peek() awkTok { return p.toks[p.pos] }

func (p *awkParser) next() awkTok {
	t := p.toks[p.pos]
	if t.kind != atEOF {
		p.pos++
	}
	return t
}

func (p *awkParser) isOp(text string) bool {
	t := p.peek()
	return t.kind == atOp && t.text == text
}

func (p *awkParser) expect(text string) error {
	if !p.isOp(text) {
		return p.unexpected()
	}
	p.next()
	return nil
}

func (p *awkParser) unexpected() error {
	t := p.peek()
	text := t.text
	switch t.kind {
	case atEOF:
		text = "end of program"
	case atNewline:
		text = "newline"
	}
	return fmt.Errorf("syntax error at source line 1 near %q", text)
}

func (p *awkParser) skipNewlines() {
	for p.peek().kind == atNewline || p.isOp(";") {
		p.next()
	}
}

func parseAwk(src string) ([]awkRule, error) {
	toks, err := lexAwk(src)
	if err != nil {
		return nil, err
	}
	p := &awkParser{toks: toks}
	var rules []awkRule
	for {
		p.skipNewlines()
		if p.peek().kind == atEOF {
			return rules, nil
		}
		var r awkRule
		switch t := p.peek(); {
		case t.kind == atName && t.text == "BEGIN":
			p.next()
			r.begin = true
		case t.kind == atName && t.text == "END":
			p.next()
			r.end = true
		case !p.isOp("{"):
			if r.pattern, err = p.expr(); err != nil {
				return nil, err
			}
		}
		if p.isOp("{") {
			if r.action, err = p.block(); err != nil {
				return nil, err
			}
		} else if r.begin || r.end {
			return nil, p.unexpected()
		} else {
			r.action = []*awkNode{{op: "print"}}
		}
		rules = append(rules, r)
	}
}

func (p *awkParser) block() ([]*awkNode, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	var stmts []*awkNode
	for {
		p.skipNewlines()
		if p.isOp("}") {
			p.next()
			return stmts, nil
		}
		if p.peek().kind == atEOF {
			return nil, p.unexpected()
		}
		st, err := p.statement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, st)
	}
}

func (p *awkParser) simpleOrBlock() (*awkNode, error) {
	p.skipNewlines()
	if p.isOp("{") {
		stmts, err := p.block()
		if err != nil {
			return nil, err
		}
		return &awkNode{op: "block", kids: stmts}, nil
	}
	return p.statement()
}

func (p *awkParser) statement() (*awkNode, error) {
	t := p.peek()
	if t.kind == atName {
		switch t.text {
		case "print", "printf":
			p.next()
			n := &awkNode{op: t.text}
			paren := p.isOp("(")
			for !p.endOfStatement() {
				e, err := p.expr()
				if err != nil {
					return nil, err
				}
				n.kids = append(n.kids, e)
				if !p.isOp(",") {
					break
				}
				p.next()
			}
			// print (a, b) parses as a grouped list.
			if paren && len(n.kids) == 1 && n.kids[0].op == "group" {
				n.kids = n.kids[0].kids
			}
			return n, nil
		case "next", "exit":
			p.next()
			return &awkNode{op: t.text}, nil
		case "if":
			p.next()
			if err := p.expect("("); err != nil {
				return nil, err
			}
			cond, err := p.expr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			body, err := p.simpleOrBlock()
			if err != nil {
				return nil, err
			}
			n := &awkNode{op: "if", kids: []*awkNode{cond, body}}
			save := p.pos
			p.skipNewlines()
			if t := p.peek(); t.kind == atName && t.text == "else" {
				p.next()
				if n.elseN, err = p.simpleOrBlock(); err != nil {
					return nil, err
				}
			} else {
				p.pos = save
			}
			return n, nil
		case "for":
			p.next()
			if err := p.expect("("); err != nil {
				return nil, err
			}
			key := p.next()
			in := p.next()
			arr := p.next()
			if key.kind != atName || in.text != "in" || arr.kind != atName {
				return nil, p.unexpected()
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			body, err := p.simpleOrBlock()
			if err != nil {
				return nil, err
			}
			return &awkNode{op: "forin", text: key.text, kids: []*awkNode{{op: "var", text: arr.text}, body}}, nil
		}
	}
	return p.expr()
}

func (p *awkParser) endOfStatement() bool {
	t := p.peek()
	return t.kind == atEOF || t.kind == atNewline || t.kind == atOp && (t.text == ";" || t.text == "}")
}

func (p *awkParser) expr() (*awkNode, error) { return p.assign() }

func (p *awkParser) assign() (*awkNode, error) {
	left, err := p.ternary()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind == atOp && (t.text == "=" || t.text == "+=" || t.text == "-=" || t.text == "*=" || t.text == "/=" || t.text == "%=") {
		if !assignable(left) {
			return nil, p.unexpected()
		}
		p.next()
		right, err := p.assign()
		if err != nil {
			return nil, err
		}
		return &awkNode{op: t.text, kids: []*awkNode{left, right}}, nil
	}
	return left, nil
}

func assignable(n *awkNode) bool { return n.op == "var" || n.op == "field" || n.op == "index" }

func (p *awkParser) ternary() (*awkNode, error) {
	cond, err := p.or()
	if err != nil || !p.isOp("?") {
		return cond, err
	}
	p.next()
	a, err := p.ternary()
	if err != nil {
		return nil, err
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	b, err := p.ternary()
	if err != nil {
		return nil, err
	}
	return &awkNode{op: "?", kids: []*awkNode{cond, a, b}}, nil
}

func (p *awkParser) binary(next func() (*awkNode, error), ops ...string) (*awkNode, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != atOp || !lo.Contains(ops, t.text) {
			return left, nil
		}
		p.next()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &awkNode{op: t.text, kids: []*awkNode{left, right}}
	}
}

func (p *awkParser) or() (*awkNode, error)  { return p.binary(p.and, "||") }
func (p *awkParser) and() (*awkNode, error) { return p.binary(p.in, "&&") }

func (p *awkParser) in() (*awkNode, error) {
	left, err := p.match()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind == atName && t.text == "in" {
		p.next()
		arr := p.next()
		if arr.kind != atName {
			return nil, p.unexpected()
		}
		return &awkNode{op: "in", text: arr.text, kids: []*awkNode{left}}, nil
	}
	return left, nil
}

func (p *awkParser) match() (*awkNode, error) { return p.binary(p.compare, "~", "!~") }

func (p *awkParser) compare() (*awkNode, error) {
	return p.binary(p.concat, "<", "<=", ">", ">=", "==", "!=")
}

// startsOperand reports whether the next token can begin a concatenated operand.
func (p *awkParser) startsOperand() bool {
	t := p.peek()
	switch t.kind {
	case atNum, atStr, atName, atFunc, atRegex:
		return t.kind != atName || (t.text != "in" && t.text != "else")
	case atOp:
		return t.text == "$" || t.text == "(" || t.text == "!" || t.text == "-" || t.text == "++" || t.text == "--"
	}
	return false
}

func (p *awkParser) concat() (*awkNode, error) {
	left, err := p.additive()
	if err != nil {
		return nil, err
	}
	for p.startsOperand() && !p.isOp("-") {
		right, err := p.additive()
		if err != nil {
			return nil, err
		}
		left = &awkNode{op: "concat", kids: []*awkNode{left, right}}
	}
	return left, nil
}

func (p *awkParser) additive() (*awkNode, error) { return p.binary(p.multiplicative, "+", "-") }

func (p *awkParser) multiplicative() (*awkNode, error) {
	return p.binary(p.unary, "*", "/", "%")
}

func (p *awkParser) unary() (*awkNode, error) {
	switch {
	case p.isOp("!"), p.isOp("-"), p.isOp("+"):
		op := p.next().text
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &awkNode{op: "u" + op, kids: []*awkNode{operand}}, nil
	case p.isOp("++"), p.isOp("--"):
		op := p.next().text
		operand, err := p.postfix()
		if err != nil {
			return nil, err
		}
		if !assignable(operand) {
			return nil, p.unexpected()
		}
		return &awkNode{op: "pre" + op, kids: []*awkNode{operand}}, nil
	}
	return p.postfix()
}

func (p *awkParser) postfix() (*awkNode, error) {
	n, err := p.primary()
	if err != nil {
		return nil, err
	}
	if (p.isOp("++") || p.isOp("--")) && assignable(n) {
		return &awkNode{op: "post" + p.next().text, kids: []*awkNode{n}}, nil
	}
	return n, nil
}

func (p *awkParser) primary() (*awkNode, error) {
	start := p.pos
	t := p.next()
	switch t.kind {
	case atNum:
		return &awkNode{op: "num", num: t.num}, nil
	case atStr:
		return &awkNode{op: "str", text: t.text}, nil
	case atRegex:
		re, err := regexp.Compile(t.text)
		if err != nil {
			return nil, fmt.Errorf("syntax error in regular expression %s", t.text)
		}
		return &awkNode{op: "regex", re: re}, nil
	case atName:
		if p.isOp("[") {
			p.next()
			key, err := p.expr()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			return &awkNode{op: "index", text: t.text, kids: []*awkNode{key}}, nil
		}
		return &awkNode{op: "var", text: t.text}, nil
	case atFunc:
		n := &awkNode{op: "call", text: t.text}
		if !p.isOp("(") {
			// length without parentheses means length($0).
			return n, nil
		}
		p.next()
		for !p.isOp(")") {
			arg, err := p.expr()
			if err != nil {
				return nil, err
			}
			n.kids = append(n.kids, arg)
			if !p.isOp(",") {
				break
			}
			p.next()
		}
		return n, p.expect(")")
	case atOp:
		switch t.text {
		case "$":
			operand, err := p.primary()
			if err != nil {
				return nil, err
			}
			return &awkNode{op: "field", kids: []*awkNode{operand}}, nil
		case "(":
			first, err := p.expr()
			if err != nil {
				return nil, err
			}
			if p.isOp(",") {
				group := &awkNode{op: "group", kids: []*awkNode{first}}
				for p.isOp(",") {
					p.next()
					e, err := p.expr()
					if err != nil {
						return nil, err
					}
					group.kids = append(group.kids, e)
				}
				return group, p.expect(")")
			}
			return first, p.expect(")")
		}
	}
	p.pos = start
	return nil, p.unexpected()
}

// awkValue is an awk cell: a number, a string, or a field that looks numeric.
type awkValue struct {
	s      string
	n      float64
	isNum  bool
	strnum bool
}

// uninitialized compares equal to both 0 and "".
var uninitialized = awkValue{strnum: true}

func numVal(n float64) awkValue { return awkValue{n: n, isNum: true} }
func strVal(s string) awkValue  { return awkValue{s: s} }

func fieldVal(s string) awkValue {
	v := awkValue{s: s}
	if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		v.n, v.strnum = n, true
	}
	return v
}

func (v awkValue) str() string {
	if !v.isNum {
		return v.s
	}
	return formatAwkNumber(v.n)
}

func formatAwkNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e16 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', 6, 64)
}

func (v awkValue) num() float64 {
	if v.isNum || v.strnum {
		return v.n
	}
	return leadingNumber(v.s)
}

func (v awkValue) truthy() bool {
	if v.isNum {
		return v.n != 0
	}
	if v.strnum {
		return v.n != 0
	}
	return v.s != ""
}

type awkVM struct {
	rules  []awkRule
	vars   map[string]string
	nums   map[string]float64
	arrays map[string]map[string]awkValue
	fields []string
	out    strings.Builder
	nr     int
	next   bool
	exit   bool
}

func newAwkVM(rules []awkRule) *awkVM {
	return &awkVM{
		rules:  rules,
		vars:   map[string]string{"FS": " ", "OFS": " ", "ORS": "\n", "SUBSEP": "\x1c"},
		nums:   map[string]float64{},
		arrays: map[string]map[string]awkValue{},
	}
}

func (vm *awkVM) run(lines []string) string {
	for _, r := range vm.rules {
		if r.begin && !vm.exit {
			vm.exec(r.action)
		}
	}
	for _, line := range lines {
		if vm.exit {
			break
		}
		vm.nr++
		vm.setRecord(line)
		for _, r := range vm.rules {
			if r.begin || r.end {
				continue
			}
			if r.pattern != nil && !vm.eval(r.pattern).truthy() {
				continue
			}
			vm.exec(r.action)
			if vm.next || vm.exit {
				vm.next = false
				break
			}
		}
	}
	vm.exit = false
	for _, r := range vm.rules {
		if r.end && !vm.exit {
			vm.exec(r.action)
		}
	}
	return vm.out.String()
}

func (vm *awkVM) setRecord(line string) {
	fs := vm.vars["FS"]
	var fields []string
	switch {
	case fs == " ":
		fields = strings.Fields(line)
	case len(fs) == 1:
		fields = strings.Split(line, fs)
		if line == "" {
			fields = nil
		}
	default:
		if re, err := regexp.Compile(fs); err == nil {
			fields = re.Split(line, -1)
		} else {
			fields = strings.Split(line, fs)
		}
	}
	vm.fields = append([]string{line}, fields...)
}

func (vm *awkVM) rebuild() {
	vm.fields[0] = strings.Join(vm.fields[1:], vm.vars["OFS"])
}

func (vm *awkVM) exec(stmts []*awkNode) {
	for _, st := range stmts {
		if vm.next || vm.exit {
			return
		}
		vm.stmt(st)
	}
}

func (vm *awkVM) stmt(n *awkNode) {
	switch n.op {
	case "print":
		parts := make([]string, len(n.kids))
		for i, k := range n.kids {
			parts[i] = vm.eval(k).str()
		}
		if len(n.kids) == 0 {
			parts = []string{vm.field(0)}
		}
		vm.out.WriteString(strings.Join(parts, vm.vars["OFS"]) + vm.vars["ORS"])
	case "printf":
		if len(n.kids) == 0 {
			return
		}
		vm.out.WriteString(vm.sprintf(n.kids))
	case "next":
		vm.next = true
	case "exit":
		vm.exit = true
	case "if":
		if vm.eval(n.kids[0]).truthy() {
			vm.stmt(n.kids[1])
		} else if n.elseN != nil {
			vm.stmt(n.elseN)
		}
	case "forin":
		arr := vm.arrays[n.kids[0].text]
		keys := make([]string, 0, len(arr))
		for k := range arr {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			vm.setVar(n.text, strVal(k))
			vm.stmt(n.kids[1])
			if vm.next || vm.exit {
				return
			}
		}
	case "block":
		vm.exec(n.kids)
	default:
		vm.eval(n)
	}
}

func (vm *awkVM) sprintf(kids []*awkNode) string {
	args := make([]string, len(kids)-1)
	for i, k := range kids[1:] {
		v := vm.eval(k)
		args[i] = v.str()
		if v.isNum || v.strnum {
			args[i] = formatAwkNumber(math.Trunc(v.num()))
			if v.num() != math.Trunc(v.num()) {
				args[i] = strconv.FormatFloat(v.num(), 'f', -1, 64)
			}
		}
	}
	var b strings.Builder
	printfOnce(&b, vm.eval(kids[0]).str(), args)
	return b.String()
}

func (vm *awkVM) field(i int) string {
	if i < 0 || i >= len(vm.fields) {
		return ""
	}
	return vm.fields[i]
}

func (vm *awkVM) getVar(name string) awkValue {
	switch name {
	case "NR", "FNR":
		return numVal(float64(vm.nr))
	case "NF":
		return numVal(float64(max(len(vm.fields)-1, 0)))
	}
	if v, ok := vm.nums[name]; ok {
		return numVal(v)
	}
	if v, ok := vm.vars[name]; ok {
		return fieldVal(v)
	}
	return uninitialized
}

func (vm *awkVM) setVar(name string, v awkValue) {
	if name == "NF" {
		n := int(v.num())
		if len(vm.fields) == 0 {
			vm.fields = []string{""}
		}
		for len(vm.fields)-1 < n {
			vm.fields = append(vm.fields, "")
		}
		vm.fields = vm.fields[:n+1]
		vm.rebuild()
		return
	}
	if v.isNum {
		vm.nums[name] = v.n
		delete(vm.vars, name)
		return
	}
	delete(vm.nums, name)
	vm.vars[name] = v.s
}

func (vm *awkVM) store(target *awkNode, v awkValue) {
	switch target.op {
	case "var":
		vm.setVar(target.text, v)
	case "field":
		i := int(vm.eval(target.kids[0]).num())
		if i == 0 {
			vm.setRecord(v.str())
			return
		}
		if len(vm.fields) == 0 {
			vm.fields = []string{""}
		}
		for len(vm.fields) <= i {
			vm.fields = append(vm.fields, "")
		}
		vm.fields[i] = v.str()
		vm.rebuild()
	case "index":
		arr := vm.array(target.text)
		arr[vm.eval(target.kids[0]).str()] = v
	}
}

func (vm *awkVM) array(name string) map[string]awkValue {
	arr, ok := vm.arrays[name]
	if !ok {
		arr = map[string]awkValue{}
		vm.arrays[name] = arr
	}
	return arr
}

func (vm *awkVM) load(target *awkNode) awkValue {
	switch target.op {
	case "var":
		return vm.getVar(target.text)
	case "field":
		return fieldVal(vm.field(int(vm.eval(target.kids[0]).num())))
	case "index":
		arr := vm.array(target.text)
		key := vm.eval(target.kids[0]).str()
		v, ok := arr[key]
		if !ok {
			arr[key] = uninitialized
			return uninitialized
		}
		return v
	}
	return strVal("")
}

func compareValues(a, b awkValue) int {
	if (a.isNum || a.strnum) && (b.isNum || b.strnum) {
		switch {
		case a.num() < b.num():
			return -1
		case a.num() > b.num():
			return 1
		}
		return 0
	}
	return strings.Compare(a.str(), b.str())
}

func boolVal(b bool) awkValue {
	if b {
		return numVal(1)
	}
	return numVal(0)
}

func arith(op string, a, b float64) float64 {
	switch op {
	case "+", "+=":
		return a + b
	case "-", "-=":
		return a - b
	case "*", "*=":
		return a * b
	case "/", "/=":
		if b == 0 {
			return 0
		}
		return a / b
	case "%", "%=":
		if b == 0 {
			return 0
		}
		return math.Mod(a, b)
	}
	return b
}

func (vm *awkVM) eval(n *awkNode) awkValue {
	switch n.op {
	case "num":
		return numVal(n.num)
	case "str":
		return strVal(n.text)
	case "regex":
		return boolVal(n.re.MatchString(vm.field(0)))
	case "var", "field", "index":
		return vm.load(n)
	case "group":
		parts := make([]string, len(n.kids))
		for i, k := range n.kids {
			parts[i] = vm.eval(k).str()
		}
		return strVal(strings.Join(parts, vm.vars["SUBSEP"]))
	case "=":
		v := vm.eval(n.kids[1])
		vm.store(n.kids[0], v)
		return v
	case "+=", "-=", "*=", "/=", "%=":
		v := numVal(arith(n.op, vm.load(n.kids[0]).num(), vm.eval(n.kids[1]).num()))
		vm.store(n.kids[0], v)
		return v
	case "pre++", "pre--", "post++", "post--":
		old := vm.load(n.kids[0]).num()
		delta := 1.0
		if strings.HasSuffix(n.op, "--") {
			delta = -1
		}
		vm.store(n.kids[0], numVal(old+delta))
		if strings.HasPrefix(n.op, "pre") {
			return numVal(old + delta)
		}
		return numVal(old)
	case "u!":
		return boolVal(!vm.eval(n.kids[0]).truthy())
	case "u-":
		return numVal(-vm.eval(n.kids[0]).num())
	case "u+":
		return numVal(vm.eval(n.kids[0]).num())
	case "+", "-", "*", "/", "%":
		return numVal(arith(n.op, vm.eval(n.kids[0]).num(), vm.eval(n.kids[1]).num()))
	case "concat":
		return strVal(vm.eval(n.kids[0]).str() + vm.eval(n.kids[1]).str())
	case "&&":
		return boolVal(vm.eval(n.kids[0]).truthy() && vm.eval(n.kids[1]).truthy())
	case "||":
		return boolVal(vm.eval(n.kids[0]).truthy() || vm.eval(n.kids[1]).truthy())
	case "?":
		if vm.eval(n.kids[0]).truthy() {
			return vm.eval(n.kids[1])
		}
		return vm.eval(n.kids[2])
	case "~", "!~":
		subject := vm.eval(n.kids[0]).str()
		var re *regexp.Regexp
		if n.kids[1].op == "regex" {
			re = n.kids[1].re
		} else {
			var err error
			if re, err = regexp.Compile(vm.eval(n.kids[1]).str()); err != nil {
				return boolVal(false)
			}
		}
		return boolVal(re.MatchString(subject) == (n.op == "~"))
	case "<", "<=", ">", ">=", "==", "!=":
		c := compareValues(vm.eval(n.kids[0]), vm.eval(n.kids[1]))
		switch n.op {
		case "<":
			return boolVal(c < 0)
		case "<=":
			return boolVal(c <= 0)
		case ">":
			return boolVal(c > 0)
		case ">=":
			return boolVal(c >= 0)
		case "==":
			return boolVal(c == 0)
		}
		return boolVal(c != 0)
	case "in":
		_, ok := vm.array(n.text)[vm.eval(n.kids[0]).str()]
		return boolVal(ok)
	case "call":
		return vm.call(n)
	}
	return strVal("")
}

func (vm *awkVM) call(n *awkNode) awkValue {
	arg := func(i int) awkValue {
		if i < len(n.kids) {
			return vm.eval(n.kids[i])
		}
		return strVal("")
	}
	switch n.text {
	case "length":
		if len(n.kids) == 0 {
			return numVal(float64(len([]rune(vm.field(0)))))
		}
		if k := n.kids[0]; k.op == "var" {
			if arr, ok := vm.arrays[k.text]; ok {
				return numVal(float64(len(arr)))
			}
		}
		return numVal(float64(len([]rune(arg(0).str()))))
	case "substr":
		rs := []rune(arg(0).str())
		start := int(math.Round(arg(1).num()))
		end := len(rs) + 1
		if len(n.kids) > 2 {
			end = start + int(math.Round(arg(2).num()))
		}
		start = max(start, 1)
		end = min(end, len(rs)+1)
		if start >= end {
			return strVal("")
		}
		return strVal(string(rs[start-1 : end-1]))
	case "toupper":
		return strVal(strings.ToUpper(arg(0).str()))
	case "tolower":
		return strVal(strings.ToLower(arg(0).str()))
	case "index":
		return numVal(float64(strings.Index(arg(0).str(), arg(1).str()) + 1))
	case "int":
		return numVal(math.Trunc(arg(0).num()))
	case "split":
		if len(n.kids) < 2 || n.kids[1].op != "var" {
			return numVal(0)
		}
		sep := vm.vars["FS"]
		if len(n.kids) > 2 {
			sep = arg(2).str()
		}
		var parts []string
		if sep == " " {
			parts = strings.Fields(arg(0).str())
		} else {
			parts = strings.Split(arg(0).str(), sep)
		}
		arr := map[string]awkValue{}
		for i, p := range parts {
			arr[strconv.Itoa(i+1)] = fieldVal(p)
		}
		vm.arrays[n.kids[1].text] = arr
		return numVal(float64(len(parts)))
	case "sprintf":
		if len(n.kids) == 0 {
			return strVal("")
		}
		return strVal(vm.sprintf(n.kids))
	}
	return strVal("")
}
