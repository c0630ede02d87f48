package vnet

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Rule is one firewall rule. Empty match fields match anything.
type Rule struct {
	Target      string
	Protocol    string
	Source      string
	Destination string
	DPort       int
	InIface     string
	Match       string
	States      []string
	Comment     string
}

// Chain is an ordered rule list with a fallback policy.
type Chain struct {
	Name   string
	Policy string
	Rules  []Rule
}

var chainOrder = []string{"INPUT", "FORWARD", "OUTPUT"}

var targets = map[string]bool{"ACCEPT": true, "DROP": true, "REJECT": true, "LOG": true, "RETURN": true}

func baselineChains() map[string]*Chain {
	return map[string]*Chain{
		"INPUT": {Name: "INPUT", Policy: "ACCEPT", Rules: []Rule{
			{Target: "ACCEPT", InIface: "lo"},
			{Target: "ACCEPT", Match: "state", States: []string{"RELATED", "ESTABLISHED"}},
			{Target: "ACCEPT", Protocol: "tcp", DPort: 22},
			{Target: "ACCEPT", Protocol: "tcp", DPort: 80},
			{Target: "ACCEPT", Protocol: "icmp"},
			{Target: "DROP"},
		}},
		"FORWARD": {Name: "FORWARD", Policy: "DROP"},
		"OUTPUT":  {Name: "OUTPUT", Policy: "ACCEPT"},
	}
}

// catchAll reports whether the rule matches every packet.
func (r Rule) catchAll() bool {
	return (r.Protocol == "" || r.Protocol == "all") && r.Source == "" && r.Destination == "" &&
		r.DPort == 0 && r.InIface == "" && r.Match == ""
}

func (r Rule) matches(p Packet) bool {
	if r.Protocol != "" && r.Protocol != "all" && !strings.EqualFold(r.Protocol, p.Protocol) {
		return false
	}
	if !addrMatch(r.Source, p.Source) || !addrMatch(r.Destination, p.Destination) {
		return false
	}
	if r.DPort != 0 && r.DPort != p.DPort {
		return false
	}
	if r.InIface != "" && r.InIface != p.InIface {
		return false
	}
	if len(r.States) > 0 {
		state := p.State
		if state == "" {
			state = "NEW"
		}
		found := false
		for _, s := range r.States {
			if s == state {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func addrMatch(spec, addr string) bool {
	if spec == "" {
		return true
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	if _, cidr, err := net.ParseCIDR(spec); err == nil {
		return cidr.Contains(ip)
	}
	return net.ParseIP(spec).Equal(ip)
}

// Chain returns a copy of the named chain.
func (n *Network) Chain(name string) (Chain, bool) {
	c, ok := n.chains[name]
	if !ok {
		return Chain{}, false
	}
	out := *c
	out.Rules = append([]Rule(nil), c.Rules...)
	return out, true
}

// Evaluate returns the verdict the chain gives a packet: the target of the
// first matching rule, or the chain policy.
func (n *Network) Evaluate(chain string, p Packet) string {
	c, ok := n.chains[chain]
	if !ok {
		return "ACCEPT"
	}
	for _, r := range c.Rules {
		if r.Target == "LOG" || r.Target == "RETURN" {
			continue
		}
		if r.matches(p) {
			return r.Target
		}
	}
	return c.Policy
}

// AppendRule adds a rule to a chain. When the chain ends in a catch-all
// rule, the new rule goes immediately before it so it can take effect.
func (n *Network) AppendRule(chain string, r Rule) error {
	c, ok := n.chains[chain]
	if !ok {
		return ErrNoSuchChain
	}
	if last := len(c.Rules) - 1; last >= 0 && c.Rules[last].catchAll() {
		c.Rules = append(c.Rules[:last], r, c.Rules[last])
		return nil
	}
	c.Rules = append(c.Rules, r)
	return nil
}

// InsertRule places a rule at a 1-based position.
func (n *Network) InsertRule(chain string, pos int, r Rule) error {
	c, ok := n.chains[chain]
	if !ok {
		return ErrNoSuchChain
	}
	if pos < 1 || pos > len(c.Rules)+1 {
		return ErrRuleIndex
	}
	c.Rules = append(c.Rules[:pos-1], append([]Rule{r}, c.Rules[pos-1:]...)...)
	return nil
}

// DeleteRule removes the rule at a 1-based position.
func (n *Network) DeleteRule(chain string, pos int) error {
	c, ok := n.chains[chain]
	if !ok {
		return ErrNoSuchChain
	}
	if pos < 1 || pos > len(c.Rules) {
		return ErrRuleIndex
	}
	c.Rules = append(c.Rules[:pos-1], c.Rules[pos:]...)
	return nil
}

// DeleteMatching removes the first rule equal to r.
func (n *Network) DeleteMatching(chain string, r Rule) error {
	c, ok := n.chains[chain]
	if !ok {
		return ErrNoSuchChain
	}
	want := ruleSpec(r)
	for i, existing := range c.Rules {
		if ruleSpec(existing) == want {
			c.Rules = append(c.Rules[:i], c.Rules[i+1:]...)
			return nil
		}
	}
	return ErrBadRule
}

// Flush empties one chain, or every chain when name is empty.
func (n *Network) Flush(name string) error {
	if name == "" {
		for _, c := range n.chains {
			c.Rules = nil
		}
		return nil
	}
	c, ok := n.chains[name]
	if !ok {
		return ErrNoSuchChain
	}
	c.Rules = nil
	return nil
}

// SetPolicy changes a built-in chain's policy.
func (n *Network) SetPolicy(chain, policy string) error {
	c, ok := n.chains[chain]
	if !ok {
		return ErrNoSuchChain
	}
	if policy != "ACCEPT" && policy != "DROP" {
		return ErrBadRule
	}
	c.Policy = policy
	return nil
}

// IptablesOptions are the listing flags of iptables.
type IptablesOptions struct {
	Numeric     bool
	LineNumbers bool
	Verbose     bool
}

// Iptables runs one iptables invocation against the firewall and returns
// what the command prints.
func (n *Network) Iptables(args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("iptables v1.8.7 (nf_tables): no command specified\nTry `iptables -h' or 'iptables --help' for more information.")
	}
	var (
		op      string
		chain   string
		pos     int
		listing IptablesOptions
		rest    []string
	)
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch a {
		case "-t":
			i++
			if i < len(args) && args[i] != "filter" {
				return "", fmt.Errorf("iptables v1.8.7 (nf_tables): table '%s' does not exist", args[i])
			}
		case "-A", "--append", "-D", "--delete", "-I", "--insert", "-P", "--policy", "-L", "--list", "-S", "--list-rules", "-F", "--flush":
			op = shortOp(a)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				i++
				chain = args[i]
			}
			if (op == "-D" || op == "-I" || op == "-P") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				i++
				if op == "-P" {
					rest = append(rest, args[i])
					continue
				}
				p, err := strconv.Atoi(args[i])
				if err != nil {
					return "", fmt.Errorf("iptables v1.8.7 (nf_tables): Invalid rule number `%s'", args[i])
				}
				pos = p
			}
		case "-n", "--numeric":
			listing.Numeric = true
		case "-v", "--verbose":
			listing.Verbose = true
		case "--line-numbers":
			listing.LineNumbers = true
		case "-nL", "-Ln":
			op, listing.Numeric = "-L", true
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				i++
				chain = args[i]
			}
		default:
			rest = append(rest, a)
		}
	}
	if op == "" {
		return "", errors.New("iptables v1.8.7 (nf_tables): no command specified\nTry `iptables -h' or 'iptables --help' for more information.")
	}
	if chain != "" {
		if _, ok := n.chains[chain]; !ok {
			return "", fmt.Errorf("iptables: %s", ErrNoSuchChain)
		}
	}

	switch op {
	case "-L":
		return n.listChains(chain, listing), nil
	case "-S":
		return n.specChains(chain), nil
	case "-F":
		return "", n.Flush(chain)
	case "-P":
		if chain == "" || len(rest) != 1 {
			return "", errors.New("iptables v1.8.7 (nf_tables): -P requires a chain and a policy")
		}
		if err := n.SetPolicy(chain, rest[0]); err != nil {
			return "", errors.New("iptables: Bad policy name. Run `dmesg' for more information.")
		}
		return "", nil
	}

	if chain == "" {
		return "", fmt.Errorf("iptables v1.8.7 (nf_tables): option \"%s\" requires an argument", op)
	}
	if op == "-D" && pos > 0 && len(rest) == 0 {
		if err := n.DeleteRule(chain, pos); err != nil {
			return "", fmt.Errorf("iptables: %s", err)
		}
		return "", nil
	}
	rule, err := ParseRule(rest)
	if err != nil {
		return "", err
	}
	switch op {
	case "-A":
		err = n.AppendRule(chain, rule)
	case "-I":
		if pos == 0 {
			pos = 1
		}
		err = n.InsertRule(chain, pos, rule)
	case "-D":
		err = n.DeleteMatching(chain, rule)
	}
	if err != nil {
		return "", fmt.Errorf("iptables: %s", err)
	}
	return "", nil
}

func shortOp(a string) string {
	switch a {
	case "--append":
		return "-A"
	case "--delete":
		return "-D"
	case "--insert":
		return "-I"
	case "--policy":
		return "-P"
	case "--list":
		return "-L"
	case "--list-rules":
		return "-S"
	case "--flush":
		return "-F"
	}
	return a
}

// ParseRule parses iptables match and target options.
func ParseRule(args []string) (Rule, error) {
	var r Rule
	next := func(i *int, flag string) (string, error) {
		*i++
		if *i >= len(args) {
			return "", fmt.Errorf("iptables v1.8.7 (nf_tables): option \"%s\" requires an argument", flag)
		}
		return args[*i], nil
	}
	for i := 0; i < len(args); i++ {
		flag := args[i]
		switch flag {
		case "-p", "--protocol":
			v, err := next(&i, flag)
			if err != nil {
				return r, err
			}
			v = strings.ToLower(v)
			if v != "tcp" && v != "udp" && v != "icmp" && v != "all" {
				return r, fmt.Errorf("iptables v1.8.7 (nf_tables): unknown protocol \"%s\" specified", v)
			}
			r.Protocol = v
		case "-s", "--source", "-d", "--destination":
			v, err := next(&i, flag)
			if err != nil {
				return r, err
			}
			if net.ParseIP(v) == nil {
				if _, _, err := net.ParseCIDR(v); err != nil {
					return r, fmt.Errorf("iptables v1.8.7 (nf_tables): host/network `%s' not found", v)
				}
			}
			if flag == "-s" || flag == "--source" {
				r.Source = v
			} else {
				r.Destination = v
			}
		case "--dport", "--destination-port":
			v, err := next(&i, flag)
			if err != nil {
				return r, err
			}
			port, ok := PortByName(v)
			if !ok {
				return r, fmt.Errorf("iptables v1.8.7 (nf_tables): invalid port/service `%s' specified", v)
			}
			r.DPort = port
		case "-i", "--in-interface":
			v, err := next(&i, flag)
			if err != nil {
				return r, err
			}
			r.InIface = v
		case "-m", "--match":
			v, err := next(&i, flag)
			if err != nil {
				return r, err
			}
			if v == "state" || v == "conntrack" {
				r.Match = v
			}
		case "--state", "--ctstate":
			v, err := next(&i, flag)
			if err != nil {
				return r, err
			}
			r.States = strings.Split(strings.ToUpper(v), ",")
			if r.Match == "" {
				r.Match = "state"
			}
		case "--comment":
			v, err := next(&i, flag)
			if err != nil {
				return r, err
			}
			r.Comment = v
		case "-j", "--jump":
			v, err := next(&i, flag)
			if err != nil {
				return r, err
			}
			if !targets[v] {
				return r, fmt.Errorf("iptables v1.8.7 (nf_tables): Couldn't load target `%s':No such file or directory", v)
			}
			r.Target = v
		default:
			return r, fmt.Errorf("Bad argument `%s'\nTry `iptables -h' or 'iptables --help' for more information.", flag)
		}
	}
	if r.DPort != 0 && r.Protocol != "tcp" && r.Protocol != "udp" {
		return r, errors.New("iptables v1.8.7 (nf_tables): unknown option \"--dport\"")
	}
	if r.Target == "" {
		return r, errors.New("iptables v1.8.7 (nf_tables): no target specified (-j)")
	}
	return r, nil
}

func (n *Network) listChains(only string, opts IptablesOptions) string {
	var blocks []string
	for _, name := range chainOrder {
		if only != "" && name != only {
			continue
		}
		c := n.chains[name]
		var b strings.Builder
		fmt.Fprintf(&b, "Chain %s (policy %s)\n", c.Name, c.Policy)
		header := fmt.Sprintf("%-10s %-5s%-4s%-21s%-21s", "target", "prot", "opt", "source", "destination")
		if opts.LineNumbers {
			header = fmt.Sprintf("%-5s", "num") + header
		}
		b.WriteString(strings.TrimRight(header, " "))
		for i, r := range c.Rules {
			line := fmt.Sprintf("%-10s %-5s%-4s%-21s%-21s%s",
				r.Target, protoName(r.Protocol), "--",
				addrDisplay(r.Source, opts.Numeric), addrDisplay(r.Destination, opts.Numeric),
				r.details(opts.Numeric))
			if opts.LineNumbers {
				line = fmt.Sprintf("%-5d", i+1) + line
			}
			b.WriteString("\n" + strings.TrimRight(line, " "))
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

func (r Rule) details(numeric bool) string {
	var parts []string
	if len(r.States) > 0 {
		kw := "state"
		if r.Match == "conntrack" {
			kw = "ctstate"
		}
		parts = append(parts, kw+" "+strings.Join(r.States, ","))
	}
	if r.DPort != 0 {
		port := strconv.Itoa(r.DPort)
		if !numeric {
			if name := ServiceName(r.DPort); name != "" {
				port = name
			}
		}
		parts = append(parts, r.Protocol+" dpt:"+port)
	}
	if r.Comment != "" {
		parts = append(parts, "/* "+r.Comment+" */")
	}
	return strings.Join(parts, " ")
}

func protoName(p string) string {
	if p == "" {
		return "all"
	}
	return p
}

func addrDisplay(spec string, numeric bool) string {
	if spec == "" {
		if numeric {
			return "0.0.0.0/0"
		}
		return "anywhere"
	}
	return spec
}

func (n *Network) specChains(only string) string {
	var lines []string
	for _, name := range chainOrder {
		if only != "" && name != only {
			continue
		}
		c := n.chains[name]
		lines = append(lines, "-P "+c.Name+" "+c.Policy)
	}
	for _, name := range chainOrder {
		if only != "" && name != only {
			continue
		}
		for _, r := range n.chains[name].Rules {
			lines = append(lines, "-A "+name+" "+ruleSpec(r))
		}
	}
	return strings.Join(lines, "\n")
}

// ruleSpec renders a rule the way iptables -S does.
func ruleSpec(r Rule) string {
	var parts []string
	if r.Source != "" {
		parts = append(parts, "-s", withMask(r.Source))
	}
	if r.Destination != "" {
		parts = append(parts, "-d", withMask(r.Destination))
	}
	if r.InIface != "" {
		parts = append(parts, "-i", r.InIface)
	}
	if r.Protocol != "" && r.Protocol != "all" {
		parts = append(parts, "-p", r.Protocol)
	}
	if len(r.States) > 0 {
		if r.Match == "conntrack" {
			parts = append(parts, "-m", "conntrack", "--ctstate", strings.Join(r.States, ","))
		} else {
			parts = append(parts, "-m", "state", "--state", strings.Join(r.States, ","))
		}
	}
	if r.DPort != 0 {
		parts = append(parts, "-m", r.Protocol, "--dport", strconv.Itoa(r.DPort))
	}
	if r.Comment != "" {
		parts = append(parts, "-m", "comment", "--comment", strconv.Quote(r.Comment))
	}
	parts = append(parts, "-j", r.Target)
	return strings.Join(parts, " ")
}

func withMask(addr string) string {
	if strings.Contains(addr, "/") {
		return addr
	}
	return addr + "/32"
}
