// Package vnet simulates the network a lab machine sits on: its links,
// routes, neighbours, sockets, firewall, DNS zone and the hosts around it.
// Nothing here touches a real network; every tool output is rendered from
// this state plus a seeded random source.
package vnet

import (
	"net"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/onkernel/termlab/lib/entropy"
	"github.com/vishvananda/netlink"
)

const (
	// LocalIP is the lab machine's address on eth0.
	LocalIP = "192.168.1.100"

	// GatewayIP is the LAN router.
	GatewayIP = "192.168.1.1"

	// LabSubnet is the LAN the lab machine is attached to.
	LabSubnet = "192.168.1.0/24"

	// LabDomain is the search domain for short host names.
	LabDomain = "lab.local"

	// StubResolver is the systemd-resolved listener named in /etc/resolv.conf.
	StubResolver = "127.0.0.53"

	// ReplyProbability is the chance a probe to an address outside the known
	// public prefixes and the private block gets an answer.
	ReplyProbability = 0.9
)

// publicPrefixes always answer probes.
var publicPrefixes = []string{
	"1.1.1.0/24",
	"8.8.8.0/24",
	"8.8.4.0/24",
	"93.184.216.0/24",
	"104.16.0.0/13",
	"140.82.112.0/20",
	"142.250.0.0/15",
	"151.101.0.0/16",
	"172.217.0.0/16",
}

// Rand is the random source driving latencies, loss and identifiers.
type Rand interface {
	Float64() float64
	IntN(n int) int
	Read(p []byte) (int, error)
}

// Options configures a Network.
type Options struct {
	Hostname string
	Clock    func() time.Time
	Rand     Rand
}

// Network holds the complete simulated network state for one session.
type Network struct {
	opts      Options
	hostname  string
	links     []*Interface
	routes    []Route
	neighbors []ARPEntry
	hosts     map[string]*Host
	zone      []dns.RR
	chains    map[string]*Chain
	sockets   []Socket
	pages     map[string]Page
}

// New builds a network in its baseline state.
func New(opts Options) *Network {
	if opts.Hostname == "" {
		opts.Hostname = "linux-lab"
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = entropy.New(entropy.NewSeed())
	}
	n := &Network{opts: opts, hostname: opts.Hostname}
	n.buildBaseline()
	return n
}

// Reset restores the baseline and then applies setup. The receiver is only
// replaced once setup has returned.
func (n *Network) Reset(setup func(*Network)) {
	fresh := New(n.opts)
	fresh.hostname = n.hostname
	if setup != nil {
		setup(fresh)
	}
	*n = *fresh
}

// Hostname returns the lab machine's own name.
func (n *Network) Hostname() string { return n.hostname }

// SetHostname renames the lab machine.
func (n *Network) SetHostname(name string) { n.hostname = name }

func (n *Network) now() time.Time { return n.opts.Clock() }

// Interfaces returns the links in index order.
func (n *Network) Interfaces() []*Interface {
	return n.links
}

// Interface looks up a link by name.
func (n *Network) Interface(name string) (*Interface, bool) {
	for _, l := range n.links {
		if l.Attrs.Name == name {
			return l, true
		}
	}
	return nil, false
}

// SetLinkUp changes a link's administrative state, as `ip link set` does.
func (n *Network) SetLinkUp(name string, up bool) error {
	l, ok := n.Interface(name)
	if !ok {
		return ErrNoSuchInterface
	}
	if up {
		l.Attrs.Flags |= net.FlagUp
		if l.Kind == "loopback" {
			l.Attrs.OperState = netlink.OperUnknown
		} else if l.Attrs.Name != "docker0" {
			l.Attrs.OperState = netlink.OperUp
		}
		return nil
	}
	l.Attrs.Flags &^= net.FlagUp
	l.Attrs.OperState = netlink.OperDown
	return nil
}

// Routes returns the routing table.
func (n *Network) Routes() []Route {
	return n.routes
}

// AddRoute installs a static route to cidr through gw.
func (n *Network) AddRoute(cidr, gw, dev string) error {
	_, dst, err := net.ParseCIDR(cidr)
	if err != nil {
		return ErrBadRule
	}
	gwIP := net.ParseIP(gw)
	if gw != "" && gwIP == nil {
		return ErrBadRule
	}
	if dev == "" {
		dev = "eth0"
	}
	l, ok := n.Interface(dev)
	if !ok {
		return ErrNoSuchInterface
	}
	for _, r := range n.routes {
		if r.Dst != nil && r.Dst.String() == dst.String() {
			return ErrExists
		}
	}
	n.routes = append(n.routes, Route{
		Route: netlink.Route{Dst: dst, Gw: gwIP, LinkIndex: l.Attrs.Index},
		Dev:   dev,
		Proto: "static",
	})
	n.sortRoutes()
	return nil
}

// DeleteRoute removes the route to cidr ("default" for the default route).
func (n *Network) DeleteRoute(cidr string) error {
	for i, r := range n.routes {
		if routeDest(r) == cidr {
			n.routes = append(n.routes[:i], n.routes[i+1:]...)
			return nil
		}
	}
	return ErrNoSuchRoute
}

func (n *Network) sortRoutes() {
	sort.SliceStable(n.routes, func(i, j int) bool {
		if n.routes[i].Dst == nil {
			return n.routes[j].Dst != nil
		}
		if n.routes[j].Dst == nil {
			return false
		}
		return n.routes[i].Dst.String() < n.routes[j].Dst.String()
	})
}

// Neighbors returns the ARP cache.
func (n *Network) Neighbors() []ARPEntry {
	return n.neighbors
}

func (n *Network) touchNeighbor(h *Host) {
	for i := range n.neighbors {
		if n.neighbors[i].IP == h.IP.String() {
			n.neighbors[i].State = "REACHABLE"
			return
		}
	}
	n.neighbors = append(n.neighbors, ARPEntry{IP: h.IP.String(), MAC: h.MAC, Iface: "eth0", State: "REACHABLE"})
}

// Hosts returns the known hosts ordered by address.
func (n *Network) Hosts() []*Host {
	out := make([]*Host, 0, len(n.hosts))
	for _, h := range n.hosts {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		return ipLess(out[i].IP, out[j].IP)
	})
	return out
}

// Host looks a host up by name or address.
func (n *Network) Host(nameOrIP string) (*Host, bool) {
	key := strings.ToLower(strings.TrimSuffix(nameOrIP, "."))
	if h, ok := n.hosts[key]; ok {
		return h, true
	}
	if short, ok := strings.CutSuffix(key, "."+LabDomain); ok {
		if h, ok := n.hosts[short]; ok {
			return h, true
		}
	}
	for _, h := range n.hosts {
		if h.IP.String() == key {
			return h, true
		}
	}
	return nil, false
}

// AddHost registers a host and publishes its name in the lab zone.
func (n *Network) AddHost(h Host) error {
	if h.IP == nil || h.IP.To4() == nil {
		return ErrBadRule
	}
	if h.MAC == "" {
		ip := h.IP.To4()
		h.MAC = net.HardwareAddr{0x52, 0x54, 0x00, ip[1], ip[2], ip[3]}.String()
	}
	if h.OS == "" {
		h.OS = "Linux 5.4 - 5.15"
	}
	key := strings.ToLower(h.Name)
	n.hosts[key] = &h
	rr := &dns.A{
		Hdr: dns.RR_Header{Name: dns.Fqdn(key + "." + LabDomain), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 3600},
		A:   h.IP.To4(),
	}
	n.zone = append(n.zone, rr)
	return nil
}

// SetHostDown marks a host as powered off or back on.
func (n *Network) SetHostDown(name string, down bool) error {
	h, ok := n.Host(name)
	if !ok {
		return ErrNoSuchHost
	}
	h.Down = down
	return nil
}

// Sockets returns the open sockets.
func (n *Network) Sockets() []Socket {
	return n.sockets
}

// AddSockets opens sockets, typically when a service starts.
func (n *Network) AddSockets(socks ...Socket) {
	n.sockets = append(n.sockets, socks...)
}

// CloseSockets closes every socket owned by pid.
func (n *Network) CloseSockets(pid int) {
	kept := n.sockets[:0]
	for _, s := range n.sockets {
		if s.PID != pid {
			kept = append(kept, s)
		}
	}
	n.sockets = kept
}

// ListeningOn reports the socket listening on port at addr, matching
// wildcard binds.
func (n *Network) ListeningOn(addr string, port int) (Socket, bool) {
	for _, s := range n.sockets {
		if !s.Listening() || !strings.HasPrefix(s.Proto, "tcp") {
			continue
		}
		host, p, err := net.SplitHostPort(s.Local)
		if err != nil || p != itoa(port) {
			continue
		}
		if host == "0.0.0.0" || host == "::" || host == "*" || host == addr {
			return s, true
		}
	}
	return Socket{}, false
}

// Resolve turns a name or literal address into an IP. Lookup order follows
// /etc/nsswitch.conf: files first, then DNS with the lab search domain.
func (n *Network) Resolve(name string) (net.IP, error) {
	if ip := net.ParseIP(name); ip != nil {
		return ip, nil
	}
	lower := strings.ToLower(strings.TrimSuffix(name, "."))
	switch lower {
	case "":
		return nil, ErrNoSuchHost
	case "localhost", "ip6-localhost":
		return net.ParseIP("127.0.0.1"), nil
	case strings.ToLower(n.hostname):
		return net.ParseIP("127.0.1.1"), nil
	case "_gateway":
		return net.ParseIP(GatewayIP), nil
	}
	if h, ok := n.Host(lower); ok {
		return h.IP, nil
	}
	candidates := []string{lower}
	if !strings.Contains(lower, ".") {
		candidates = append(candidates, lower+"."+LabDomain)
	}
	for _, c := range candidates {
		for _, rr := range n.answer(dns.Fqdn(c), dns.TypeA, 0) {
			if a, ok := rr.(*dns.A); ok {
				return a.A, nil
			}
		}
	}
	return nil, ErrNoSuchHost
}

// ReverseName returns the best display name for ip, or "" when none is known.
func (n *Network) ReverseName(ip net.IP) string {
	switch {
	case ip.IsLoopback():
		return "localhost"
	case ip.String() == GatewayIP:
		return "_gateway"
	case ip.String() == LocalIP:
		return n.hostname
	}
	if h, ok := n.Host(ip.String()); ok {
		return h.Name
	}
	for _, rr := range n.zone {
		if a, ok := rr.(*dns.A); ok && a.A.Equal(ip) {
			return strings.TrimSuffix(a.Hdr.Name, ".")
		}
	}
	return ""
}

// locality classifies an address for latency and reachability.
type locality int

const (
	localMachine locality = iota
	localLAN
	localPublic
	localOther
)

func (n *Network) classify(ip net.IP) locality {
	if ip.IsLoopback() || ip.String() == LocalIP {
		return localMachine
	}
	for _, l := range n.links {
		if l.Addr != nil && l.Addr.IP.Equal(ip) {
			return localMachine
		}
	}
	if _, lan, _ := net.ParseCIDR(LabSubnet); lan.Contains(ip) {
		return localLAN
	}
	for _, p := range publicPrefixes {
		if _, cidr, err := net.ParseCIDR(p); err == nil && cidr.Contains(ip) {
			return localPublic
		}
	}
	return localOther
}

// lanHost returns the host owning a LAN address. The gateway always exists.
func (n *Network) lanHost(ip net.IP) (*Host, bool) {
	if ip.String() == GatewayIP {
		if h, ok := n.Host(GatewayIP); ok {
			return h, true
		}
	}
	return n.Host(ip.String())
}

func (n *Network) latency(ip net.IP) float64 {
	switch n.classify(ip) {
	case localMachine:
		return 0.02 + n.opts.Rand.Float64()*0.07
	case localLAN:
		return 0.3 + n.opts.Rand.Float64()*2.2
	case localPublic:
		return 8 + n.opts.Rand.Float64()*37
	default:
		return 20 + n.opts.Rand.Float64()*120
	}
}

func (n *Network) countTraffic(dev string, txBytes, rxBytes int) {
	l, ok := n.Interface(dev)
	if !ok || l.Attrs.Statistics == nil {
		return
	}
	if txBytes > 0 {
		l.Attrs.Statistics.TxPackets++
		l.Attrs.Statistics.TxBytes += uint64(txBytes)
	}
	if rxBytes > 0 {
		l.Attrs.Statistics.RxPackets++
		l.Attrs.Statistics.RxBytes += uint64(rxBytes)
	}
}

// egress picks the interface used to reach ip.
func (n *Network) egress(ip net.IP) string {
	if n.classify(ip) == localMachine {
		return "lo"
	}
	for _, r := range n.routes {
		if r.Dst != nil && r.Dst.Contains(ip) {
			return r.Dev
		}
	}
	return "eth0"
}

// linkReady reports whether traffic to ip can leave the machine.
func (n *Network) linkReady(ip net.IP) bool {
	dev := n.egress(ip)
	l, ok := n.Interface(dev)
	if !ok || !l.Up() {
		return false
	}
	if dev == "lo" {
		return true
	}
	for _, r := range n.routes {
		if r.Dst == nil || r.Dst.Contains(ip) {
			return true
		}
	}
	return false
}

func ipLess(a, b net.IP) bool {
	a4, b4 := a.To4(), b.To4()
	if a4 == nil || b4 == nil {
		return a.String() < b.String()
	}
	for i := range a4 {
		if a4[i] != b4[i] {
			return a4[i] < b4[i]
		}
	}
	return false
}
