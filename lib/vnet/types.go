package vnet

import (
	"net"
	"strings"

	"github.com/vishvananda/netlink"
)

// Interface is a network link with its primary IPv4 address.
type Interface struct {
	Attrs netlink.LinkAttrs
	Addr  *netlink.Addr
	IPv6  *netlink.Addr
	Kind  string
}

// Name returns the link name.
func (i *Interface) Name() string { return i.Attrs.Name }

// Up reports whether the link is administratively up with carrier.
func (i *Interface) Up() bool {
	return i.Attrs.Flags&net.FlagUp != 0 &&
		(i.Attrs.OperState == netlink.OperUp || i.Attrs.OperState == netlink.OperUnknown)
}

// Route is a routing table entry. Dst nil means the default route.
type Route struct {
	netlink.Route
	Dev   string
	Proto string
}

// Host is a machine reachable on the simulated network.
type Host struct {
	Name      string
	IP        net.IP
	MAC       string
	OpenPorts []int
	OS        string
	Down      bool
}

// Socket describes one open socket as netstat, ss and lsof report it.
type Socket struct {
	Proto   string
	Local   string
	Remote  string
	State   string
	PID     int
	Program string
	User    string
	FD      int
}

// LocalPort returns the port of the local address.
func (s Socket) LocalPort() string {
	_, port, err := net.SplitHostPort(s.Local)
	if err != nil {
		return ""
	}
	return port
}

// Listening reports whether the socket is a server socket. UDP sockets bound
// to a wildcard peer count as listening.
func (s Socket) Listening() bool {
	return s.State == "LISTEN" || (strings.HasPrefix(s.Proto, "udp") && strings.HasSuffix(s.Remote, ":*"))
}

// ARPEntry is a neighbour cache row.
type ARPEntry struct {
	IP    string
	MAC   string
	Iface string
	State string
}

// Packet is the tuple the firewall matches rules against.
type Packet struct {
	Protocol    string
	Source      string
	Destination string
	DPort       int
	InIface     string
	State       string
}
