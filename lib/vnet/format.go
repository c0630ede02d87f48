package vnet

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/vishvananda/netlink"
)

// linkFlags renders the <...> flag list of `ip link`.
func linkFlags(l *Interface) string {
	var flags []string
	up := l.Attrs.Flags&net.FlagUp != 0
	if up && l.Attrs.OperState == netlink.OperDown {
		flags = append(flags, "NO-CARRIER")
	}
	if l.Attrs.Flags&net.FlagLoopback != 0 {
		flags = append(flags, "LOOPBACK")
	}
	if l.Attrs.Flags&net.FlagBroadcast != 0 {
		flags = append(flags, "BROADCAST")
	}
	if l.Attrs.Flags&net.FlagMulticast != 0 {
		flags = append(flags, "MULTICAST")
	}
	if up {
		flags = append(flags, "UP")
		if l.Up() {
			flags = append(flags, "LOWER_UP")
		}
	}
	return strings.Join(flags, ",")
}

func qdisc(l *Interface) string {
	if l.Kind == "ether" {
		return "fq_codel"
	}
	return "noqueue"
}

func operState(l *Interface) string {
	return strings.ToUpper(l.Attrs.OperState.String())
}

func linkHeader(l *Interface) string {
	return fmt.Sprintf("%d: %s: <%s> mtu %d qdisc %s state %s group default qlen %d\n",
		l.Attrs.Index, l.Attrs.Name, linkFlags(l), l.Attrs.MTU, qdisc(l), operState(l), l.Attrs.TxQLen)
}

func linkLayer(l *Interface) string {
	if l.Kind == "loopback" {
		return "    link/loopback 00:00:00:00:00:00 brd 00:00:00:00:00:00\n"
	}
	return fmt.Sprintf("    link/ether %s brd ff:ff:ff:ff:ff:ff\n", l.Attrs.HardwareAddr)
}

func broadcast(a *netlink.Addr) net.IP {
	ip := a.IP.To4()
	if ip == nil {
		return nil
	}
	out := make(net.IP, 4)
	for i := range ip {
		out[i] = ip[i] | ^a.Mask[i]
	}
	return out
}

// IPAddr renders `ip addr show [dev]`.
func (n *Network) IPAddr(dev string) (string, error) {
	var b strings.Builder
	found := false
	for _, l := range n.links {
		if dev != "" && l.Attrs.Name != dev {
			continue
		}
		found = true
		b.WriteString(linkHeader(l))
		b.WriteString(linkLayer(l))
		if l.Addr != nil {
			ones, _ := l.Addr.Mask.Size()
			switch {
			case l.Kind == "loopback":
				fmt.Fprintf(&b, "    inet %s/%d scope host lo\n", l.Addr.IP, ones)
				b.WriteString("       valid_lft forever preferred_lft forever\n")
			case l.Attrs.Name == "eth0":
				fmt.Fprintf(&b, "    inet %s/%d brd %s scope global dynamic eth0\n", l.Addr.IP, ones, broadcast(l.Addr))
				b.WriteString("       valid_lft 86231sec preferred_lft 86231sec\n")
			default:
				fmt.Fprintf(&b, "    inet %s/%d brd %s scope global %s\n", l.Addr.IP, ones, broadcast(l.Addr), l.Attrs.Name)
				b.WriteString("       valid_lft forever preferred_lft forever\n")
			}
		}
		if l.IPv6 != nil {
			ones, _ := l.IPv6.Mask.Size()
			scope := "link"
			if l.Kind == "loopback" {
				scope = "host"
			}
			fmt.Fprintf(&b, "    inet6 %s/%d scope %s \n", l.IPv6.IP, ones, scope)
			b.WriteString("       valid_lft forever preferred_lft forever\n")
		}
	}
	if !found {
		return "", fmt.Errorf("Device \"%s\" does not exist.", dev)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// IPLink renders `ip link show [dev]`.
func (n *Network) IPLink(dev string) (string, error) {
	var b strings.Builder
	found := false
	for _, l := range n.links {
		if dev != "" && l.Attrs.Name != dev {
			continue
		}
		found = true
		b.WriteString(linkHeader(l))
		b.WriteString(linkLayer(l))
	}
	if !found {
		return "", fmt.Errorf("Device \"%s\" does not exist.", dev)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func routeDest(r Route) string {
	if r.Dst == nil {
		return "default"
	}
	return r.Dst.String()
}

// IPRoute renders `ip route`.
func (n *Network) IPRoute() string {
	var lines []string
	for _, r := range n.routes {
		var b strings.Builder
		b.WriteString(routeDest(r))
		if r.Gw != nil {
			b.WriteString(" via " + r.Gw.String())
		}
		b.WriteString(" dev " + r.Dev)
		if r.Proto != "" && r.Proto != "static" {
			b.WriteString(" proto " + r.Proto)
		}
		if r.Gw == nil {
			b.WriteString(" scope link")
		}
		if r.Src != nil {
			b.WriteString(" src " + r.Src.String())
		}
		if r.Priority > 0 {
			fmt.Fprintf(&b, " metric %d", r.Priority)
		}
		if l, ok := n.Interface(r.Dev); ok && !l.Up() {
			b.WriteString(" linkdown")
		}
		lines = append(lines, b.String()+" ")
	}
	return strings.Join(lines, "\n")
}

// IPNeigh renders `ip neigh`.
func (n *Network) IPNeigh() string {
	var lines []string
	for _, e := range n.neighbors {
		lines = append(lines, fmt.Sprintf("%s dev %s lladdr %s %s", e.IP, e.Iface, e.MAC, e.State))
	}
	return strings.Join(lines, "\n")
}

func siBytes(v uint64) string {
	f := float64(v)
	switch {
	case f >= 1e9:
		return fmt.Sprintf("%.1f GB", f/1e9)
	case f >= 1e6:
		return fmt.Sprintf("%.1f MB", f/1e6)
	case f >= 1e3:
		return fmt.Sprintf("%.1f KB", f/1e3)
	default:
		return fmt.Sprintf("%d.0 B", v)
	}
}

func ifconfigFlags(l *Interface) (int, string) {
	var (
		bits  int
		names []string
	)
	add := func(bit int, name string) {
		bits |= bit
		names = append(names, name)
	}
	if l.Attrs.Flags&net.FlagUp != 0 {
		add(0x1, "UP")
	}
	if l.Attrs.Flags&net.FlagBroadcast != 0 {
		add(0x2, "BROADCAST")
	}
	if l.Attrs.Flags&net.FlagLoopback != 0 {
		add(0x8, "LOOPBACK")
	}
	if l.Up() {
		add(0x40, "RUNNING")
	}
	if l.Attrs.Flags&net.FlagMulticast != 0 {
		add(0x1000, "MULTICAST")
	}
	return bits, strings.Join(names, ",")
}

// Ifconfig renders ifconfig. Without all, down links are hidden.
func (n *Network) Ifconfig(dev string, all bool) (string, error) {
	var blocks []string
	for _, l := range n.links {
		if dev != "" && l.Attrs.Name != dev {
			continue
		}
		if dev == "" && !all && l.Attrs.Flags&net.FlagUp == 0 {
			continue
		}
		var b strings.Builder
		bits, names := ifconfigFlags(l)
		fmt.Fprintf(&b, "%s: flags=%d<%s>  mtu %d\n", l.Attrs.Name, bits, names, l.Attrs.MTU)
		if l.Addr != nil {
			mask := net.IP(l.Addr.Mask).String()
			if l.Kind == "loopback" {
				fmt.Fprintf(&b, "        inet %s  netmask %s\n", l.Addr.IP, mask)
			} else {
				fmt.Fprintf(&b, "        inet %s  netmask %s  broadcast %s\n", l.Addr.IP, mask, broadcast(l.Addr))
			}
		}
		if l.IPv6 != nil {
			ones, _ := l.IPv6.Mask.Size()
			scope := "0x20<link>"
			if l.Kind == "loopback" {
				scope = "0x10<host>"
			}
			fmt.Fprintf(&b, "        inet6 %s  prefixlen %d  scopeid %s\n", l.IPv6.IP, ones, scope)
		}
		if l.Kind == "loopback" {
			fmt.Fprintf(&b, "        loop  txqueuelen %d  (Local Loopback)\n", l.Attrs.TxQLen)
		} else {
			fmt.Fprintf(&b, "        ether %s  txqueuelen %d  (Ethernet)\n", l.Attrs.HardwareAddr, l.Attrs.TxQLen)
		}
		st := l.Attrs.Statistics
		if st == nil {
			st = &netlink.LinkStatistics{}
		}
		fmt.Fprintf(&b, "        RX packets %d  bytes %d (%s)\n", st.RxPackets, st.RxBytes, siBytes(st.RxBytes))
		fmt.Fprintf(&b, "        RX errors %d  dropped %d  overruns %d  frame %d\n", st.RxErrors, st.RxDropped, st.RxOverErrors, st.RxFrameErrors)
		fmt.Fprintf(&b, "        TX packets %d  bytes %d (%s)\n", st.TxPackets, st.TxBytes, siBytes(st.TxBytes))
		fmt.Fprintf(&b, "        TX errors %d  dropped %d overruns %d  carrier %d  collisions %d", st.TxErrors, st.TxDropped, st.TxFifoErrors, st.TxCarrierErrors, st.Collisions)
		blocks = append(blocks, b.String())
	}
	if len(blocks) == 0 {
		return "", fmt.Errorf("%s: error fetching interface information: Device not found", dev)
	}
	return strings.Join(blocks, "\n\n"), nil
}

// RouteTable renders `route` and `netstat -r`.
func (n *Network) RouteTable(numeric bool, netstatStyle bool) string {
	var b strings.Builder
	b.WriteString("Kernel IP routing table\n")
	if netstatStyle {
		b.WriteString("Destination     Gateway         Genmask         Flags   MSS Window  irtt Iface")
	} else {
		b.WriteString("Destination     Gateway         Genmask         Flags Metric Ref    Use Iface")
	}
	for _, r := range n.routes {
		dest, mask := "0.0.0.0", "0.0.0.0"
		if r.Dst != nil {
			dest = r.Dst.IP.String()
			mask = net.IP(r.Dst.Mask).String()
		} else if !numeric {
			dest = "default"
		}
		gw, flags := "0.0.0.0", "U"
		if r.Gw != nil {
			gw, flags = r.Gw.String(), "UG"
			if !numeric && r.Gw.String() == GatewayIP {
				gw = "_gateway"
			}
		}
		if netstatStyle {
			fmt.Fprintf(&b, "\n%-15s %-15s %-15s %-5s %5d %-6d %5d %s", dest, gw, mask, flags, 0, 0, 0, r.Dev)
		} else {
			fmt.Fprintf(&b, "\n%-15s %-15s %-15s %-5s %-6d %-3d %7d %s", dest, gw, mask, flags, r.Priority, 0, 0, r.Dev)
		}
	}
	return b.String()
}

// ARP renders arp -a (BSD style) or the default table.
func (n *Network) ARP(bsd bool, numeric bool) string {
	var lines []string
	if bsd {
		for _, e := range n.neighbors {
			name := "?"
			if !numeric {
				if rn := n.ReverseName(net.ParseIP(e.IP)); rn != "" {
					name = rn
				}
			}
			lines = append(lines, fmt.Sprintf("%s (%s) at %s [ether] on %s", name, e.IP, e.MAC, e.Iface))
		}
		return strings.Join(lines, "\n")
	}
	lines = append(lines, fmt.Sprintf("%-24s %-7s %-19s %-5s %-15s %s", "Address", "HWtype", "HWaddress", "Flags", "Mask", "Iface"))
	for _, e := range n.neighbors {
		addr := e.IP
		if !numeric {
			if rn := n.ReverseName(net.ParseIP(e.IP)); rn != "" {
				addr = rn
			}
		}
		lines = append(lines, fmt.Sprintf("%-24s %-7s %-19s %-5s %-15s %s", addr, "ether", e.MAC, "C", "", e.Iface))
	}
	return strings.Join(lines, "\n")
}

// SocketFilter selects sockets for netstat and ss.
type SocketFilter struct {
	TCP       bool
	UDP       bool
	Listening bool
	All       bool
	Numeric   bool
	Processes bool
}

func (f SocketFilter) keep(s Socket) bool {
	tcp, udp := f.TCP, f.UDP
	if !tcp && !udp {
		tcp, udp = true, true
	}
	isTCP := strings.HasPrefix(s.Proto, "tcp")
	if (isTCP && !tcp) || (!isTCP && !udp) {
		return false
	}
	switch {
	case f.All:
		return true
	case f.Listening:
		return s.Listening()
	default:
		return !s.Listening()
	}
}

func (n *Network) selectSockets(f SocketFilter) []Socket {
	var out []Socket
	for _, s := range n.sockets {
		if f.keep(s) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.HasPrefix(out[i].Proto, "tcp") && !strings.HasPrefix(out[j].Proto, "tcp")
	})
	return out
}

func displayAddr(addr string, numeric bool) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
		if host == "[::]" && port == "*" {
			return ":::*"
		}
		if host == "[::]" {
			if !numeric {
				return hostPort("[::]", port, false)
			}
			return ":::" + port
		}
	}
	return hostPort(host, port, numeric)
}

// Netstat renders netstat with the given filter.
func (n *Network) Netstat(f SocketFilter) string {
	var b strings.Builder
	switch {
	case f.All:
		b.WriteString("Active Internet connections (servers and established)\n")
	case f.Listening:
		b.WriteString("Active Internet connections (only servers)\n")
	default:
		b.WriteString("Active Internet connections (w/o servers)\n")
	}
	header := fmt.Sprintf("%-5s %6s %6s %-23s %-23s %-11s", "Proto", "Recv-Q", "Send-Q", "Local Address", "Foreign Address", "State")
	if f.Processes {
		header += " PID/Program name"
	}
	b.WriteString(strings.TrimRight(header, " "))
	for _, s := range n.selectSockets(f) {
		line := fmt.Sprintf("%-5s %6d %6d %-23s %-23s %-11s", s.Proto, 0, 0,
			displayAddr(s.Local, f.Numeric), displayAddr(s.Remote, f.Numeric), s.State)
		if f.Processes {
			line += fmt.Sprintf(" %d/%s", s.PID, s.Program)
		}
		b.WriteString("\n" + strings.TrimRight(line, " "))
	}
	return b.String()
}

// SS renders ss with the given filter.
func (n *Network) SS(f SocketFilter) string {
	var b strings.Builder
	header := fmt.Sprintf("%-6s %-7s%-7s%-7s%20s %-20s", "Netid", "State", "Recv-Q", "Send-Q", "Local Address:Port", "Peer Address:Port")
	if f.Processes {
		header += "Process"
	}
	b.WriteString(strings.TrimRight(header, " "))
	for _, s := range n.selectSockets(f) {
		netid := strings.TrimSuffix(s.Proto, "6")
		state := s.State
		if state == "" {
			state = "UNCONN"
		}
		local, peer := s.Local, s.Remote
		if !f.Numeric {
			local = displayAddr(s.Local, false)
		}
		line := fmt.Sprintf("%-6s %-7s%-7d%-7d%20s %-20s", netid, state, 0, 128, local, peer)
		if f.Processes {
			line += fmt.Sprintf("users:((\"%s\",pid=%d,fd=%d))", s.Program, s.PID, s.FD)
		}
		b.WriteString("\n" + strings.TrimRight(line, " "))
	}
	return b.String()
}

// Lsof renders `lsof -i [:port]`.
func (n *Network) Lsof(port string) string {
	lines := []string{fmt.Sprintf("%-16s %5s %-15s %4s %-5s %6s %8s %4s %s", "COMMAND", "PID", "USER", "FD", "TYPE", "DEVICE", "SIZE/OFF", "NODE", "NAME")}
	for i, s := range n.sockets {
		if port != "" && s.LocalPort() != port {
			continue
		}
		family := "IPv4"
		if strings.HasSuffix(s.Proto, "6") {
			family = "IPv6"
		}
		name := displayAddr(strings.Replace(s.Local, "0.0.0.0:", "*:", 1), false)
		if strings.HasPrefix(s.Local, "[::]:") {
			name = "*:" + hostPort("", s.LocalPort(), false)[1:]
		}
		if s.State == "ESTABLISHED" {
			name += "->" + displayAddr(s.Remote, false)
		}
		proto := strings.ToUpper(strings.TrimSuffix(s.Proto, "6"))
		if s.State != "" {
			name += " (" + s.State + ")"
		}
		lines = append(lines, fmt.Sprintf("%-16s %5d %-15s %3du %-5s %6d %8s %4s %s",
			s.Program, s.PID, s.User, s.FD, family, 21345+i*17, "0t0", proto, name))
	}
	if len(lines) == 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}
