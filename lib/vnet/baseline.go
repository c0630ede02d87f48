package vnet

import (
	"net"

	"github.com/miekg/dns"
	"github.com/vishvananda/netlink"
)

// baselineZone is the authoritative data behind dig, host and nslookup.
var baselineZone = []string{
	"example.com. 3600 IN SOA ns.icann.org. noc.dns.icann.org. 2024031401 7200 3600 1209600 3600",
	"example.com. 3600 IN A 93.184.216.34",
	"example.com. 3600 IN AAAA 2606:2800:220:1:248:1893:25c8:1946",
	"example.com. 3600 IN MX 0 .",
	"example.com. 86400 IN NS a.iana-servers.net.",
	"example.com. 86400 IN NS b.iana-servers.net.",
	`example.com. 3600 IN TXT "v=spf1 -all"`,
	"www.example.com. 3600 IN CNAME example.com.",
	"api.example.com. 300 IN A 93.184.216.50",
	"google.com. 300 IN A 142.250.80.46",
	"google.com. 300 IN AAAA 2607:f8b0:4006:81c::200e",
	"google.com. 300 IN MX 10 smtp.google.com.",
	"google.com. 21600 IN NS ns1.google.com.",
	"google.com. 21600 IN NS ns2.google.com.",
	`google.com. 3600 IN TXT "v=spf1 include:_spf.google.com ~all"`,
	"www.google.com. 300 IN A 142.250.80.68",
	"github.com. 60 IN A 140.82.112.3",
	"github.com. 3600 IN MX 1 aspmx.l.google.com.",
	"github.com. 900 IN NS dns1.p08.nsone.net.",
	"api.github.com. 60 IN A 140.82.112.6",
	"www.github.com. 3600 IN CNAME github.com.",
	"cloudflare.com. 300 IN A 104.16.132.229",
	"cloudflare.com. 300 IN A 104.16.133.229",
	"one.one.one.one. 300 IN A 1.1.1.1",
	"dns.google. 300 IN A 8.8.8.8",
	"dns.google. 300 IN A 8.8.4.4",
	"httpbin.org. 60 IN A 54.208.105.16",
	"wikipedia.org. 600 IN A 208.80.154.224",
	"lab.local. 3600 IN SOA ns1.lab.local. admin.lab.local. 2024031401 3600 900 604800 86400",
	"lab.local. 3600 IN NS ns1.lab.local.",
	"lab.local. 3600 IN MX 10 mail.lab.local.",
	"ns1.lab.local. 3600 IN A 192.168.1.1",
	"www.lab.local. 3600 IN CNAME webserver.lab.local.",
	"db.lab.local. 3600 IN CNAME db-server.lab.local.",
}

// rootSOA answers for names outside every zone the resolver knows.
const rootSOA = ". 86400 IN SOA a.root-servers.net. nstld.verisign-grs.com. 2024031400 1800 900 604800 86400"

var baselineHosts = []Host{
	{Name: "router", IP: net.ParseIP(GatewayIP), MAC: "52:54:00:12:35:02", OpenPorts: []int{53, 80}, OS: "Linux 4.15 - 5.6 (OpenWrt)"},
	{Name: "webserver", IP: net.ParseIP("192.168.1.10"), OpenPorts: []int{22, 80, 443}, OS: "Linux 5.4 - 5.15"},
	{Name: "db-server", IP: net.ParseIP("192.168.1.20"), OpenPorts: []int{22, 5432}, OS: "Linux 5.4 - 5.15"},
	{Name: "fileserver", IP: net.ParseIP("192.168.1.30"), OpenPorts: []int{22, 139, 445}, OS: "Linux 3.2 - 4.9"},
}

func (n *Network) buildBaseline() {
	n.links = []*Interface{
		{
			Kind: "loopback",
			Attrs: netlink.LinkAttrs{
				Index: 1, Name: "lo", MTU: 65536, TxQLen: 1000,
				HardwareAddr: net.HardwareAddr{0, 0, 0, 0, 0, 0},
				Flags:        net.FlagUp | net.FlagLoopback,
				OperState:    netlink.OperUnknown,
				Statistics:   &netlink.LinkStatistics{RxPackets: 2048, TxPackets: 2048, RxBytes: 183402, TxBytes: 183402},
			},
			Addr: mustAddr("127.0.0.1/8"),
			IPv6: mustAddr("::1/128"),
		},
		{
			Kind: "ether",
			Attrs: netlink.LinkAttrs{
				Index: 2, Name: "eth0", MTU: 1500, TxQLen: 1000,
				HardwareAddr: net.HardwareAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x02},
				Flags:        net.FlagUp | net.FlagBroadcast | net.FlagMulticast,
				OperState:    netlink.OperUp,
				Statistics:   &netlink.LinkStatistics{RxPackets: 128734, TxPackets: 65211, RxBytes: 98765432, TxBytes: 7340211},
			},
			Addr: mustAddr(LocalIP + "/24"),
			IPv6: mustAddr("fe80::42:acff:fe11:2/64"),
		},
		{
			Kind: "bridge",
			Attrs: netlink.LinkAttrs{
				Index: 3, Name: "docker0", MTU: 1500, TxQLen: 0,
				HardwareAddr: net.HardwareAddr{0x02, 0x42, 0x5e, 0x1f, 0x8a, 0x11},
				Flags:        net.FlagUp | net.FlagBroadcast | net.FlagMulticast,
				OperState:    netlink.OperDown,
				Statistics:   &netlink.LinkStatistics{},
			},
			Addr: mustAddr("172.17.0.1/16"),
		},
	}

	_, lan, _ := net.ParseCIDR(LabSubnet)
	_, docker, _ := net.ParseCIDR("172.17.0.0/16")
	n.routes = []Route{
		{Route: netlink.Route{Gw: net.ParseIP(GatewayIP), LinkIndex: 2, Priority: 100}, Dev: "eth0", Proto: "dhcp"},
		{Route: netlink.Route{Dst: docker, Src: net.ParseIP("172.17.0.1"), LinkIndex: 3}, Dev: "docker0", Proto: "kernel"},
		{Route: netlink.Route{Dst: lan, Src: net.ParseIP(LocalIP), LinkIndex: 2, Priority: 100}, Dev: "eth0", Proto: "kernel"},
	}

	n.hosts = make(map[string]*Host)
	n.zone = nil
	for _, line := range baselineZone {
		rr, err := dns.NewRR(line)
		if err != nil {
			panic(err)
		}
		n.zone = append(n.zone, rr)
	}
	for _, h := range baselineHosts {
		h.OpenPorts = append([]int(nil), h.OpenPorts...)
		_ = n.AddHost(h)
	}

	n.neighbors = []ARPEntry{
		{IP: GatewayIP, MAC: "52:54:00:12:35:02", Iface: "eth0", State: "REACHABLE"},
		{IP: "192.168.1.10", MAC: "52:54:00:a8:01:0a", Iface: "eth0", State: "STALE"},
		{IP: "192.168.1.50", MAC: "3c:22:fb:7a:10:c4", Iface: "eth0", State: "STALE"},
	}

	n.sockets = []Socket{
		{Proto: "tcp", Local: "0.0.0.0:22", Remote: "0.0.0.0:*", State: "LISTEN", PID: 812, Program: "sshd", User: "root", FD: 3},
		{Proto: "tcp", Local: "0.0.0.0:80", Remote: "0.0.0.0:*", State: "LISTEN", PID: 1024, Program: "nginx", User: "root", FD: 6},
		{Proto: "tcp", Local: "127.0.0.53:53", Remote: "0.0.0.0:*", State: "LISTEN", PID: 523, Program: "systemd-resolve", User: "systemd-resolve", FD: 14},
		{Proto: "tcp", Local: "127.0.0.1:3306", Remote: "0.0.0.0:*", State: "LISTEN", PID: 1102, Program: "mysqld", User: "mysql", FD: 21},
		{Proto: "tcp6", Local: "[::]:22", Remote: "[::]:*", State: "LISTEN", PID: 812, Program: "sshd", User: "root", FD: 4},
		{Proto: "tcp", Local: LocalIP + ":22", Remote: "192.168.1.50:51022", State: "ESTABLISHED", PID: 1902, Program: "sshd", User: "student", FD: 4},
		{Proto: "udp", Local: "127.0.0.53:53", Remote: "0.0.0.0:*", PID: 523, Program: "systemd-resolve", User: "systemd-resolve", FD: 13},
		{Proto: "udp", Local: LocalIP + ":68", Remote: "0.0.0.0:*", PID: 488, Program: "systemd-network", User: "systemd-network", FD: 19},
	}

	n.chains = baselineChains()
	n.pages = baselinePages()
}

func mustAddr(s string) *netlink.Addr {
	a, err := netlink.ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}
