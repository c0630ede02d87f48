package vnet

import (
	"fmt"
	"math"
	"net"
	"strings"
)

const (
	defaultPingCount = 4
	maxPingCount     = 100
	pingPayload      = 56
)

// PingResult carries the rendered output and whether any reply arrived.
type PingResult struct {
	Output   string
	Received int
}

// Ping sends count echo requests to target. A count of zero means the default.
func (n *Network) Ping(target string, count int) (PingResult, error) {
	if count <= 0 {
		count = defaultPingCount
	}
	count = min(count, maxPingCount)

	ip, err := n.Resolve(target)
	if err != nil {
		return PingResult{}, fmt.Errorf("ping: %s: %w", target, err)
	}
	if !n.linkReady(ip) {
		return PingResult{}, fmt.Errorf("ping: connect: Network is unreachable")
	}

	var b strings.Builder
	display := ip.String()
	if net.ParseIP(target) == nil {
		fmt.Fprintf(&b, "PING %s (%s) %d(%d) bytes of data.\n", target, ip, pingPayload, pingPayload+28)
		display = fmt.Sprintf("%s (%s)", target, ip)
	} else {
		fmt.Fprintf(&b, "PING %s (%s) %d(%d) bytes of data.\n", ip, ip, pingPayload, pingPayload+28)
	}

	loc := n.classify(ip)
	dev := n.egress(ip)
	verdict := n.Evaluate("OUTPUT", Packet{Protocol: "icmp", Source: LocalIP, Destination: ip.String()})
	ttl := n.ttl(ip)

	var (
		rtts     []float64
		errCount int
	)
	for seq := 1; seq <= count; seq++ {
		switch {
		case verdict != "ACCEPT":
			b.WriteString("ping: sendmsg: Operation not permitted\n")
			errCount++
			continue
		case loc == localLAN:
			h, ok := n.lanHost(ip)
			if !ok || h.Down {
				fmt.Fprintf(&b, "From %s icmp_seq=%d Destination Host Unreachable\n", LocalIP, seq)
				errCount++
				continue
			}
			n.touchNeighbor(h)
		case loc == localOther:
			if n.opts.Rand.Float64() >= ReplyProbability {
				n.countTraffic(dev, pingPayload+28, 0)
				continue
			}
		}
		rtt := n.latency(ip)
		rtts = append(rtts, rtt)
		n.countTraffic(dev, pingPayload+28, pingPayload+28)
		fmt.Fprintf(&b, "%d bytes from %s: icmp_seq=%d ttl=%d time=%s ms\n", pingPayload+8, display, seq, ttl, formatRTT(rtt))
	}

	received := len(rtts)
	loss := 100 * (count - received) / count
	elapsed := (count-1)*1000 + n.opts.Rand.IntN(60)
	fmt.Fprintf(&b, "\n--- %s ping statistics ---\n", target)
	if errCount > 0 {
		fmt.Fprintf(&b, "%d packets transmitted, %d received, +%d errors, %d%% packet loss, time %dms", count, received, errCount, loss, elapsed)
	} else {
		fmt.Fprintf(&b, "%d packets transmitted, %d received, %d%% packet loss, time %dms", count, received, loss, elapsed)
	}
	if received > 0 {
		lo, hi, avg, mdev := rttStats(rtts)
		fmt.Fprintf(&b, "\nrtt min/avg/max/mdev = %.3f/%.3f/%.3f/%.3f ms", lo, avg, hi, mdev)
	}
	return PingResult{Output: b.String(), Received: received}, nil
}

func (n *Network) ttl(ip net.IP) int {
	switch n.classify(ip) {
	case localMachine, localLAN:
		return 64
	}
	if _, google, _ := net.ParseCIDR("142.250.0.0/15"); google.Contains(ip) {
		return 117
	}
	return 56
}

func formatRTT(ms float64) string {
	switch {
	case ms < 1:
		return fmt.Sprintf("%.3f", ms)
	case ms < 10:
		return fmt.Sprintf("%.2f", ms)
	default:
		return fmt.Sprintf("%.1f", ms)
	}
}

func rttStats(rtts []float64) (lo, hi, avg, mdev float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	var sum, sq float64
	for _, r := range rtts {
		lo, hi = math.Min(lo, r), math.Max(hi, r)
		sum += r
		sq += r * r
	}
	avg = sum / float64(len(rtts))
	mdev = math.Sqrt(math.Max(sq/float64(len(rtts))-avg*avg, 0))
	return lo, hi, avg, mdev
}

// hop is one router on a synthetic path.
type hop struct {
	name string
	ip   net.IP
}

// path returns the routers between the lab machine and ip, ending at ip.
func (n *Network) path(ip net.IP) []hop {
	target := hop{name: n.ReverseName(ip), ip: ip}
	gateway := hop{name: "_gateway", ip: net.ParseIP(GatewayIP)}
	switch n.classify(ip) {
	case localMachine:
		return []hop{target}
	case localLAN:
		if ip.Equal(gateway.ip) {
			return []hop{gateway}
		}
		return []hop{gateway, target}
	case localPublic:
		return []hop{
			gateway,
			{ip: net.ParseIP("10.10.0.1")},
			{ip: net.ParseIP("72.14.215.85")},
			target,
		}
	default:
		return []hop{gateway, {ip: net.ParseIP("10.10.0.1")}, target}
	}
}

// Traceroute renders the hop-by-hop path to target.
func (n *Network) Traceroute(target string) (string, error) {
	ip, err := n.Resolve(target)
	if err != nil {
		return "", fmt.Errorf("%s: %w\nCannot handle \"host\" cmdline arg `%s' on position 1 (argc 1)", target, ErrNoSuchHost, target)
	}
	if !n.linkReady(ip) {
		return "", fmt.Errorf("connect: Network is unreachable")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "traceroute to %s (%s), 30 hops max, 60 byte packets", target, ip)

	reachable := true
	switch n.classify(ip) {
	case localLAN:
		h, ok := n.lanHost(ip)
		reachable = ok && !h.Down
	case localOther:
		reachable = n.opts.Rand.Float64() < ReplyProbability
	}
	if n.Evaluate("OUTPUT", Packet{Protocol: "udp", Source: LocalIP, Destination: ip.String(), DPort: 33434}) != "ACCEPT" {
		b.WriteString("\nsend: Operation not permitted")
		return b.String(), nil
	}

	hops := n.path(ip)
	base := 0.0
	for i, h := range hops {
		last := i == len(hops)-1
		if last && !reachable {
			for j := 0; j < 3; j++ {
				fmt.Fprintf(&b, "\n%2d  * * *", i+1+j)
			}
			break
		}
		step := n.latency(h.ip)
		if n.classify(h.ip) == localLAN {
			step = 0.3 + n.opts.Rand.Float64()
		}
		base += step
		name := h.name
		if name == "" {
			name = h.ip.String()
		}
		fmt.Fprintf(&b, "\n%2d  %s (%s)", i+1, name, h.ip)
		for probe := 0; probe < 3; probe++ {
			jitter := base * (0.95 + n.opts.Rand.Float64()*0.1)
			fmt.Fprintf(&b, "  %.3f ms", jitter)
		}
	}
	return b.String(), nil
}

// PortState is the outcome of a TCP connection attempt.
type PortState int

const (
	PortOpen PortState = iota
	PortClosed
	PortFiltered
	PortUnreachable
)

// Dial describes a TCP connection attempt.
type Dial struct {
	Name  string
	IP    net.IP
	Port  int
	State PortState
}

// Display is "name (ip)" or the bare address.
func (d Dial) Display() string {
	if d.Name == "" || d.Name == d.IP.String() {
		return d.IP.String()
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.IP)
}

// Connect attempts a TCP connection to target:port.
func (n *Network) Connect(target string, port int) (Dial, error) {
	ip, err := n.Resolve(target)
	if err != nil {
		return Dial{Name: target}, err
	}
	d := Dial{Name: target, IP: ip, Port: port}
	d.State = n.portState(ip, port)
	return d, nil
}

func (n *Network) portState(ip net.IP, port int) PortState {
	if !n.linkReady(ip) {
		return PortUnreachable
	}
	out := n.Evaluate("OUTPUT", Packet{Protocol: "tcp", Source: LocalIP, Destination: ip.String(), DPort: port})
	switch out {
	case "DROP":
		return PortFiltered
	case "REJECT":
		return PortClosed
	}
	switch n.classify(ip) {
	case localMachine:
		in := n.Evaluate("INPUT", Packet{Protocol: "tcp", Source: ip.String(), Destination: ip.String(), DPort: port, InIface: "lo"})
		if in == "DROP" {
			return PortFiltered
		}
		if in == "REJECT" {
			return PortClosed
		}
		if _, ok := n.ListeningOn(ip.String(), port); ok {
			return PortOpen
		}
		if ip.String() == "127.0.1.1" {
			if _, ok := n.ListeningOn(LocalIP, port); ok {
				return PortOpen
			}
		}
		return PortClosed
	case localLAN:
		h, ok := n.lanHost(ip)
		if !ok || h.Down {
			return PortUnreachable
		}
		n.touchNeighbor(h)
		for _, p := range h.OpenPorts {
			if p == port {
				return PortOpen
			}
		}
		return PortClosed
	default:
		if port == 80 || port == 443 {
			return PortOpen
		}
		return PortFiltered
	}
}

// NmapOptions are the supported scan flags.
type NmapOptions struct {
	Ports    []int
	DetectOS bool
}

var defaultScanPorts = []int{21, 22, 23, 25, 53, 80, 110, 139, 143, 443, 445, 3306, 5432, 6379, 8080}

// Nmap renders a TCP connect scan of a host or a CIDR range.
func (n *Network) Nmap(target string, opts NmapOptions) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Starting Nmap 7.80 ( https://nmap.org ) at %s\n", n.now().Format("2006-01-02 15:04 MST"))

	var targets []Dial
	if _, cidr, err := net.ParseCIDR(target); err == nil {
		for _, h := range n.Hosts() {
			if cidr.Contains(h.IP) && !h.Down {
				targets = append(targets, Dial{Name: h.Name, IP: h.IP})
			}
		}
		if cidr.Contains(net.ParseIP(LocalIP)) {
			targets = append(targets, Dial{Name: n.hostname, IP: net.ParseIP(LocalIP)})
		}
	} else {
		ip, err := n.Resolve(target)
		if err != nil {
			return "", fmt.Errorf("Failed to resolve \"%s\".\nWARNING: No targets were specified, so 0 hosts scanned.", target)
		}
		name := target
		if net.ParseIP(target) != nil {
			name = n.ReverseName(ip)
		}
		targets = append(targets, Dial{Name: name, IP: ip})
	}

	ports := opts.Ports
	if len(ports) == 0 {
		ports = defaultScanPorts
	}
	up := 0
	for _, t := range targets {
		if n.classify(t.IP) == localLAN {
			if h, ok := n.lanHost(t.IP); !ok || h.Down {
				continue
			}
		}
		up++
		fmt.Fprintf(&b, "Nmap scan report for %s\n", t.Display())
		fmt.Fprintf(&b, "Host is up (%.5fs latency).\n", n.latency(t.IP)/1000)

		var rows []string
		hidden := 0
		for _, p := range ports {
			state := n.portState(t.IP, p)
			label := "closed"
			switch state {
			case PortOpen:
				label = "open"
			case PortFiltered:
				label = "filtered"
			}
			if label != "open" && len(opts.Ports) == 0 {
				hidden++
				continue
			}
			service := ServiceName(p)
			if service == "" {
				service = "unknown"
			}
			rows = append(rows, fmt.Sprintf("%-8s %-8s %s", fmt.Sprintf("%d/tcp", p), label, service))
		}
		if hidden > 0 {
			fmt.Fprintf(&b, "Not shown: %d closed ports\n", hidden)
		}
		if len(rows) == 0 {
			b.WriteString("All scanned ports are closed\n")
		} else {
			fmt.Fprintf(&b, "%-8s %-8s %s\n", "PORT", "STATE", "SERVICE")
			b.WriteString(strings.Join(rows, "\n") + "\n")
		}
		if opts.DetectOS {
			osName := "Linux 5.15"
			if h, ok := n.Host(t.IP.String()); ok {
				osName = h.OS
			}
			fmt.Fprintf(&b, "OS details: %s\n", osName)
		}
		b.WriteString("\n")
	}
	if up == 0 {
		b.WriteString("Note: Host seems down. If it is really up, but blocking our ping probes, try -Pn\n")
	}
	total := len(targets)
	if _, cidr, err := net.ParseCIDR(target); err == nil {
		ones, bits := cidr.Mask.Size()
		total = 1 << (bits - ones)
	}
	hosts := "IP address"
	if total != 1 {
		hosts = "IP addresses"
	}
	noun := "hosts"
	if up == 1 {
		noun = "host"
	}
	fmt.Fprintf(&b, "Nmap done: %d %s (%d %s up) scanned in %.2f seconds", total, hosts, up, noun, 0.05+n.opts.Rand.Float64()*3)
	return b.String(), nil
}
