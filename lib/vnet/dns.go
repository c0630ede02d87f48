package vnet

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// maxCNAMEChain bounds alias chasing.
const maxCNAMEChain = 8

// AddRecord adds a zone-file line such as "app.lab.local. 300 IN A 192.168.1.40".
func (n *Network) AddRecord(line string) error {
	rr, err := dns.NewRR(line)
	if err != nil {
		return fmt.Errorf("parse record: %w", err)
	}
	if rr == nil {
		return fmt.Errorf("parse record: empty line")
	}
	n.zone = append(n.zone, rr)
	return nil
}

// Records returns every record owned by name.
func (n *Network) Records(name string) []dns.RR {
	return n.answer(dns.Fqdn(strings.ToLower(name)), dns.TypeANY, 0)
}

// Query answers a question the way the local stub resolver would.
func (n *Network) Query(name string, qtype uint16) *dns.Msg {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(name), qtype)
	q.Id = uint16(n.opts.Rand.IntN(1 << 16))

	r := new(dns.Msg)
	r.SetReply(q)
	r.RecursionAvailable = true
	r.SetEdns0(65494, false)

	fqdn := strings.ToLower(dns.Fqdn(name))
	if qtype == dns.TypePTR {
		if ptr := n.pointer(fqdn); ptr != nil {
			r.Answer = []dns.RR{ptr}
			return r
		}
		r.Rcode = dns.RcodeNameError
		r.Ns = []dns.RR{n.authority(fqdn)}
		return r
	}
	if !n.nameExists(fqdn) {
		r.Rcode = dns.RcodeNameError
		r.Ns = []dns.RR{n.authority(fqdn)}
		return r
	}
	r.Answer = n.answer(fqdn, qtype, 0)
	if len(r.Answer) == 0 {
		r.Ns = []dns.RR{n.authority(fqdn)}
	}
	return r
}

func (n *Network) answer(name string, qtype uint16, depth int) []dns.RR {
	var out []dns.RR
	for _, rr := range n.zone {
		h := rr.Header()
		if !strings.EqualFold(h.Name, name) {
			continue
		}
		if h.Rrtype == dns.TypeSOA && qtype != dns.TypeSOA && qtype != dns.TypeANY {
			continue
		}
		if qtype == dns.TypeANY || h.Rrtype == qtype {
			out = append(out, rr)
			continue
		}
		if cname, ok := rr.(*dns.CNAME); ok && depth < maxCNAMEChain {
			out = append(out, rr)
			out = append(out, n.answer(strings.ToLower(cname.Target), qtype, depth+1)...)
		}
	}
	return out
}

func (n *Network) nameExists(name string) bool {
	for _, rr := range n.zone {
		owner := strings.ToLower(rr.Header().Name)
		if owner == name || strings.HasSuffix(owner, "."+name) {
			return true
		}
	}
	return false
}

// authority returns the SOA of the closest enclosing zone.
func (n *Network) authority(name string) dns.RR {
	var best dns.RR
	for _, rr := range n.zone {
		if rr.Header().Rrtype != dns.TypeSOA {
			continue
		}
		owner := strings.ToLower(rr.Header().Name)
		if name == owner || strings.HasSuffix(name, "."+owner) {
			if best == nil || len(owner) > len(best.Header().Name) {
				best = rr
			}
		}
	}
	if best == nil {
		best, _ = dns.NewRR(rootSOA)
	}
	return best
}

func (n *Network) pointer(arpa string) dns.RR {
	ip := arpaToIP(arpa)
	if ip == nil {
		return nil
	}
	name := n.ReverseName(ip)
	if name == "" || name == "_gateway" {
		if h, ok := n.Host(ip.String()); ok {
			name = h.Name + "." + LabDomain
		} else {
			return nil
		}
	} else if !strings.Contains(name, ".") && n.classify(ip) != localMachine {
		name += "." + LabDomain
	}
	return &dns.PTR{
		Hdr: dns.RR_Header{Name: arpa, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 300},
		Ptr: dns.Fqdn(name),
	}
}

func arpaToIP(arpa string) net.IP {
	rest, ok := strings.CutSuffix(arpa, ".in-addr.arpa.")
	if !ok {
		return nil
	}
	octets := strings.Split(rest, ".")
	if len(octets) != 4 {
		return nil
	}
	for i, j := 0, len(octets)-1; i < j; i, j = i+1, j-1 {
		octets[i], octets[j] = octets[j], octets[i]
	}
	return net.ParseIP(strings.Join(octets, ".")).To4()
}

// rdata strips the header from a record's text form.
func rdata(rr dns.RR) string {
	return strings.TrimPrefix(rr.String(), rr.Header().String())
}

// DigOptions selects dig's output form.
type DigOptions struct {
	Type    string
	Short   bool
	Reverse bool
	Server  string
}

// Dig renders a dig lookup.
func (n *Network) Dig(name string, opts DigOptions) (string, error) {
	qtype := dns.TypeA
	if opts.Type != "" {
		t, ok := dns.StringToType[strings.ToUpper(opts.Type)]
		if !ok {
			return "", fmt.Errorf("dig: invalid type: %s", opts.Type)
		}
		qtype = t
	}
	if opts.Reverse {
		arpa, err := dns.ReverseAddr(name)
		if err != nil {
			return "", fmt.Errorf("dig: '%s' is not a legal IPv4 or IPv6 address", name)
		}
		name, qtype = arpa, dns.TypePTR
	}
	server := StubResolver
	if opts.Server != "" {
		server = strings.TrimPrefix(opts.Server, "@")
	}
	msg := n.Query(name, qtype)

	if opts.Short {
		var lines []string
		for _, rr := range msg.Answer {
			lines = append(lines, rdata(rr))
		}
		return strings.Join(lines, "\n"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n; <<>> DiG 9.18.18-0ubuntu0.22.04.2-Ubuntu <<>> %s %s\n", strings.TrimSuffix(name, "."), dns.TypeToString[qtype])
	b.WriteString(";; global options: +cmd\n;; Got answer:\n")
	fmt.Fprintf(&b, ";; ->>HEADER<<- opcode: QUERY, status: %s, id: %d\n", dns.RcodeToString[msg.Rcode], msg.Id)
	fmt.Fprintf(&b, ";; flags: %s; QUERY: %d, ANSWER: %d, AUTHORITY: %d, ADDITIONAL: 1\n\n",
		digFlags(msg), len(msg.Question), len(msg.Answer), len(msg.Ns))
	b.WriteString(";; OPT PSEUDOSECTION:\n; EDNS: version: 0, flags:; udp: 65494\n")
	b.WriteString(";; QUESTION SECTION:\n")
	for _, q := range msg.Question {
		b.WriteString(q.String() + "\n")
	}
	if len(msg.Answer) > 0 {
		b.WriteString("\n;; ANSWER SECTION:\n")
		for _, rr := range msg.Answer {
			b.WriteString(rr.String() + "\n")
		}
	}
	if len(msg.Ns) > 0 {
		b.WriteString("\n;; AUTHORITY SECTION:\n")
		for _, rr := range msg.Ns {
			b.WriteString(rr.String() + "\n")
		}
	}
	fmt.Fprintf(&b, "\n;; Query time: %d msec\n", 1+n.opts.Rand.IntN(40))
	fmt.Fprintf(&b, ";; SERVER: %s#53(%s) (UDP)\n", server, server)
	fmt.Fprintf(&b, ";; WHEN: %s\n", n.now().Format("Mon Jan 02 15:04:05 MST 2006"))
	fmt.Fprintf(&b, ";; MSG SIZE  rcvd: %d", msg.Len())
	return b.String(), nil
}

func digFlags(m *dns.Msg) string {
	var flags []string
	if m.Response {
		flags = append(flags, "qr")
	}
	if m.Authoritative {
		flags = append(flags, "aa")
	}
	if m.RecursionDesired {
		flags = append(flags, "rd")
	}
	if m.RecursionAvailable {
		flags = append(flags, "ra")
	}
	return strings.Join(flags, " ")
}

// Nslookup renders an nslookup query.
func (n *Network) Nslookup(name, qtype string) (string, error) {
	header := fmt.Sprintf("Server:\t\t%s\nAddress:\t%s#53\n", StubResolver, StubResolver)
	if ip := net.ParseIP(name); ip != nil {
		arpa, _ := dns.ReverseAddr(name)
		msg := n.Query(arpa, dns.TypePTR)
		if len(msg.Answer) == 0 {
			return header + fmt.Sprintf("\n** server can't find %s: NXDOMAIN", strings.TrimSuffix(arpa, ".")), ErrNoSuchHost
		}
		ptr := msg.Answer[0].(*dns.PTR)
		return header + fmt.Sprintf("\nNon-authoritative answer:\n%s\tname = %s\n", strings.TrimSuffix(arpa, "."), ptr.Ptr), nil
	}

	types := []uint16{dns.TypeA, dns.TypeAAAA}
	if qtype != "" {
		t, ok := dns.StringToType[strings.ToUpper(qtype)]
		if !ok {
			return "", fmt.Errorf("unknown query type: %s", qtype)
		}
		types = []uint16{t}
	}
	var lines []string
	seen := map[string]bool{}
	for _, t := range types {
		msg := n.Query(name, t)
		if msg.Rcode == dns.RcodeNameError {
			return header + fmt.Sprintf("\n** server can't find %s: NXDOMAIN", strings.TrimSuffix(name, ".")), ErrNoSuchHost
		}
		for _, rr := range msg.Answer {
			owner := strings.TrimSuffix(rr.Header().Name, ".")
			var line string
			switch v := rr.(type) {
			case *dns.A:
				line = fmt.Sprintf("Name:\t%s\nAddress: %s", owner, v.A)
			case *dns.AAAA:
				line = fmt.Sprintf("Name:\t%s\nAddress: %s", owner, v.AAAA)
			case *dns.CNAME:
				line = fmt.Sprintf("%s\tcanonical name = %s", owner, v.Target)
			case *dns.MX:
				line = fmt.Sprintf("%s\tmail exchanger = %d %s", owner, v.Preference, v.Mx)
			case *dns.NS:
				line = fmt.Sprintf("%s\tnameserver = %s", owner, v.Ns)
			case *dns.TXT:
				line = fmt.Sprintf("%s\ttext = \"%s\"", owner, strings.Join(v.Txt, ""))
			default:
				line = fmt.Sprintf("%s\t%s", owner, strings.TrimSpace(rdata(rr)))
			}
			if !seen[line] {
				seen[line] = true
				lines = append(lines, line)
			}
		}
	}
	if len(lines) == 0 {
		return header + "\nNon-authoritative answer:\n*** Can't find " + name + ": No answer", nil
	}
	return header + "\nNon-authoritative answer:\n" + strings.Join(lines, "\n") + "\n", nil
}

// HostLookup renders the host command.
func (n *Network) HostLookup(name, qtype string) (string, error) {
	if ip := net.ParseIP(name); ip != nil {
		arpa, _ := dns.ReverseAddr(name)
		msg := n.Query(arpa, dns.TypePTR)
		if len(msg.Answer) == 0 {
			return fmt.Sprintf("Host %s not found: 3(NXDOMAIN)", strings.TrimSuffix(arpa, ".")), ErrNoSuchHost
		}
		return fmt.Sprintf("%s domain name pointer %s", strings.TrimSuffix(arpa, "."), msg.Answer[0].(*dns.PTR).Ptr), nil
	}
	types := []uint16{dns.TypeA, dns.TypeAAAA, dns.TypeMX}
	if qtype != "" {
		t, ok := dns.StringToType[strings.ToUpper(qtype)]
		if !ok {
			return "", fmt.Errorf("host: invalid type: %s", qtype)
		}
		types = []uint16{t}
	}
	var lines []string
	seen := map[string]bool{}
	for _, t := range types {
		msg := n.Query(name, t)
		if msg.Rcode == dns.RcodeNameError {
			return fmt.Sprintf("Host %s not found: 3(NXDOMAIN)", name), ErrNoSuchHost
		}
		for _, rr := range msg.Answer {
			owner := strings.TrimSuffix(rr.Header().Name, ".")
			var line string
			switch v := rr.(type) {
			case *dns.A:
				line = owner + " has address " + v.A.String()
			case *dns.AAAA:
				line = owner + " has IPv6 address " + v.AAAA.String()
			case *dns.CNAME:
				line = owner + " is an alias for " + v.Target
			case *dns.MX:
				line = fmt.Sprintf("%s mail is handled by %d %s", owner, v.Preference, v.Mx)
			case *dns.NS:
				line = owner + " name server " + v.Ns
			case *dns.TXT:
				line = fmt.Sprintf("%s descriptive text \"%s\"", owner, strings.Join(v.Txt, ""))
			default:
				line = owner + " " + strings.TrimSpace(rdata(rr))
			}
			if !seen[line] {
				seen[line] = true
				lines = append(lines, line)
			}
		}
	}
	if len(lines) == 0 && len(types) == 1 {
		return fmt.Sprintf("%s has no %s record", name, dns.TypeToString[types[0]]), nil
	}
	return strings.Join(lines, "\n"), nil
}
