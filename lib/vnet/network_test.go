package vnet

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/onkernel/termlab/lib/entropy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, time.March, 14, 9, 30, 0, 0, time.UTC)

func newTestNetwork(t *testing.T, seed string) *Network {
	t.Helper()
	return New(Options{
		Clock: func() time.Time { return testNow },
		Rand:  entropy.New(seed),
	})
}

func TestResolve(t *testing.T) {
	n := newTestNetwork(t, "resolve")

	tests := []struct {
		name string
		want string
	}{
		{"localhost", "127.0.0.1"},
		{"linux-lab", "127.0.1.1"},
		{"webserver", "192.168.1.10"},
		{"db-server.lab.local", "192.168.1.20"},
		{"www.lab.local", "192.168.1.10"},
		{"example.com", "93.184.216.34"},
		{"www.example.com", "93.184.216.34"},
		{"8.8.8.8", "8.8.8.8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip, err := n.Resolve(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ip.String())
		})
	}

	_, err := n.Resolve("nope.invalid")
	assert.ErrorIs(t, err, ErrNoSuchHost)
}

func TestQueryNXDomain(t *testing.T) {
	n := newTestNetwork(t, "dns")

	msg := n.Query("nope.example.com", dns.TypeA)
	assert.Equal(t, dns.RcodeNameError, msg.Rcode)
	require.Len(t, msg.Ns, 1)
	assert.Equal(t, dns.TypeSOA, msg.Ns[0].Header().Rrtype)
	assert.Equal(t, "example.com.", msg.Ns[0].Header().Name)

	msg = n.Query("example.com", dns.TypeSRV)
	assert.Equal(t, dns.RcodeSuccess, msg.Rcode)
	assert.Empty(t, msg.Answer)

	msg = n.Query("www.example.com", dns.TypeA)
	require.Len(t, msg.Answer, 2)
	assert.Equal(t, dns.TypeCNAME, msg.Answer[0].Header().Rrtype)
	assert.Equal(t, dns.TypeA, msg.Answer[1].Header().Rrtype)
}

func TestDig(t *testing.T) {
	n := newTestNetwork(t, "dig")

	out, err := n.Dig("example.com", DigOptions{})
	require.NoError(t, err)
	assert.Contains(t, out, "status: NOERROR")
	assert.Contains(t, out, ";; ANSWER SECTION:")
	assert.Contains(t, out, "93.184.216.34")
	assert.Contains(t, out, ";; SERVER: 127.0.0.53#53(127.0.0.53)")

	out, err = n.Dig("example.com", DigOptions{Type: "mx", Short: true})
	require.NoError(t, err)
	assert.Equal(t, "0 .", out)

	out, err = n.Dig("missing.lab.local", DigOptions{})
	require.NoError(t, err)
	assert.Contains(t, out, "status: NXDOMAIN")
	assert.NotContains(t, out, "ANSWER SECTION")

	out, err = n.Dig("192.168.1.10", DigOptions{Reverse: true, Short: true})
	require.NoError(t, err)
	assert.Equal(t, "webserver.lab.local.", out)

	_, err = n.Dig("example.com", DigOptions{Type: "BOGUS"})
	assert.Error(t, err)
}

func TestHostAndNslookup(t *testing.T) {
	n := newTestNetwork(t, "host")

	out, err := n.HostLookup("www.example.com", "")
	require.NoError(t, err)
	assert.Contains(t, out, "www.example.com is an alias for example.com.")
	assert.Contains(t, out, "example.com has address 93.184.216.34")

	out, err = n.HostLookup("nope.test", "")
	assert.ErrorIs(t, err, ErrNoSuchHost)
	assert.Equal(t, "Host nope.test not found: 3(NXDOMAIN)", out)

	out, err = n.Nslookup("example.com", "")
	require.NoError(t, err)
	assert.Contains(t, out, "Non-authoritative answer:")
	assert.Contains(t, out, "Address: 93.184.216.34")

	out, err = n.Nslookup("nope.test", "")
	assert.ErrorIs(t, err, ErrNoSuchHost)
	assert.Contains(t, out, "** server can't find nope.test: NXDOMAIN")
}

func TestAppendBeforeTerminalRule(t *testing.T) {
	n := newTestNetwork(t, "fw")
	before, _ := n.Chain("INPUT")

	_, err := n.Iptables(strings.Fields("-A INPUT -p tcp --dport 443 -j ACCEPT"))
	require.NoError(t, err)

	after, _ := n.Chain("INPUT")
	require.Len(t, after.Rules, len(before.Rules)+1)
	last := after.Rules[len(after.Rules)-1]
	assert.Equal(t, "DROP", last.Target)
	assert.True(t, last.catchAll())
	added := after.Rules[len(after.Rules)-2]
	assert.Equal(t, 443, added.DPort)

	assert.Equal(t, "ACCEPT", n.Evaluate("INPUT", Packet{Protocol: "tcp", DPort: 443, Source: "10.0.0.1"}))
	assert.Equal(t, "DROP", n.Evaluate("INPUT", Packet{Protocol: "tcp", DPort: 8080, Source: "10.0.0.1"}))

	// OUTPUT has no catch-all, so rules are appended.
	_, err = n.Iptables(strings.Fields("-A OUTPUT -p tcp --dport 25 -j DROP"))
	require.NoError(t, err)
	out, _ := n.Chain("OUTPUT")
	assert.Equal(t, 25, out.Rules[len(out.Rules)-1].DPort)
}

func TestIptablesDeleteAndList(t *testing.T) {
	n := newTestNetwork(t, "fw")

	listing, err := n.Iptables([]string{"-L", "INPUT", "-n", "--line-numbers"})
	require.NoError(t, err)
	lines := strings.Split(listing, "\n")
	assert.Equal(t, "Chain INPUT (policy ACCEPT)", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "num  target"))
	assert.Contains(t, listing, "tcp dpt:22")
	assert.Contains(t, listing, "0.0.0.0/0")

	named, err := n.Iptables([]string{"-L", "INPUT"})
	require.NoError(t, err)
	assert.Contains(t, named, "tcp dpt:ssh")
	assert.Contains(t, named, "anywhere")

	_, err = n.Iptables([]string{"-D", "INPUT", "3"})
	require.NoError(t, err)
	assert.Equal(t, "DROP", n.Evaluate("INPUT", Packet{Protocol: "tcp", DPort: 22, Source: "10.0.0.9"}))

	_, err = n.Iptables([]string{"-D", "INPUT", "99"})
	assert.EqualError(t, err, "iptables: Index of deletion too big.")

	_, err = n.Iptables(strings.Fields("-D INPUT -p tcp --dport 80 -j ACCEPT"))
	require.NoError(t, err)
	assert.Equal(t, "DROP", n.Evaluate("INPUT", Packet{Protocol: "tcp", DPort: 80, Source: "10.0.0.9"}))

	_, err = n.Iptables([]string{"-A", "NOPE", "-j", "ACCEPT"})
	assert.EqualError(t, err, "iptables: No chain/target/match by that name.")

	spec, err := n.Iptables([]string{"-S", "INPUT"})
	require.NoError(t, err)
	assert.Contains(t, spec, "-P INPUT ACCEPT")
	assert.Contains(t, spec, "-A INPUT -i lo -j ACCEPT")
}

func TestParseRuleErrors(t *testing.T) {
	_, err := ParseRule(strings.Fields("-p tcp --dport 22"))
	assert.Error(t, err)
	_, err = ParseRule(strings.Fields("--dport 22 -j ACCEPT"))
	assert.Error(t, err)
	_, err = ParseRule(strings.Fields("-p tcp -j LAUNCH"))
	assert.Error(t, err)

	r, err := ParseRule(strings.Fields("-p tcp --dport https -s 10.0.0.0/8 -j REJECT"))
	require.NoError(t, err)
	assert.Equal(t, 443, r.DPort)
	assert.Equal(t, "10.0.0.0/8", r.Source)
}

func TestPing(t *testing.T) {
	n := newTestNetwork(t, "ping")

	res, err := n.Ping("webserver", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Received)
	assert.Contains(t, res.Output, "PING webserver (192.168.1.10) 56(84) bytes of data.")
	assert.Contains(t, res.Output, "4 packets transmitted, 4 received, 0% packet loss")
	assert.Contains(t, res.Output, "rtt min/avg/max/mdev")

	res, err = n.Ping("192.168.1.99", 2)
	require.NoError(t, err)
	assert.Zero(t, res.Received)
	assert.Contains(t, res.Output, "Destination Host Unreachable")
	assert.Contains(t, res.Output, "100% packet loss")
	assert.NotContains(t, res.Output, "rtt min")

	_, err = n.Ping("nope.invalid", 1)
	assert.EqualError(t, err, "ping: nope.invalid: Name or service not known")

	_, err = n.Iptables(strings.Fields("-A OUTPUT -p icmp -j DROP"))
	require.NoError(t, err)
	res, err = n.Ping("8.8.8.8", 1)
	require.NoError(t, err)
	assert.Contains(t, res.Output, "ping: sendmsg: Operation not permitted")
}

func TestPingDeterministic(t *testing.T) {
	a := newTestNetwork(t, "same-seed")
	b := newTestNetwork(t, "same-seed")

	ra, err := a.Ping("203.0.113.7", 10)
	require.NoError(t, err)
	rb, err := b.Ping("203.0.113.7", 10)
	require.NoError(t, err)
	assert.Equal(t, ra.Output, rb.Output)
}

func TestLinkDown(t *testing.T) {
	n := newTestNetwork(t, "link")
	require.NoError(t, n.SetLinkUp("eth0", false))

	_, err := n.Ping("example.com", 1)
	assert.EqualError(t, err, "ping: connect: Network is unreachable")

	res, err := n.Ping("localhost", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Received)

	out, err := n.IPLink("eth0")
	require.NoError(t, err)
	assert.Contains(t, out, "state DOWN")
	assert.ErrorIs(t, n.SetLinkUp("wlan0", true), ErrNoSuchInterface)
}

func TestTraceroute(t *testing.T) {
	n := newTestNetwork(t, "trace")

	out, err := n.Traceroute("example.com")
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "traceroute to example.com (93.184.216.34), 30 hops max, 60 byte packets", lines[0])
	assert.Contains(t, lines[1], "_gateway (192.168.1.1)")
	assert.Contains(t, lines[4], "example.com (93.184.216.34)")

	require.NoError(t, n.SetHostDown("db-server", true))
	out, err = n.Traceroute("db-server")
	require.NoError(t, err)
	assert.Contains(t, out, "* * *")
}

func TestConnectAndNmap(t *testing.T) {
	n := newTestNetwork(t, "nmap")

	d, err := n.Connect("db-server", 5432)
	require.NoError(t, err)
	assert.Equal(t, PortOpen, d.State)
	d, err = n.Connect("db-server", 80)
	require.NoError(t, err)
	assert.Equal(t, PortClosed, d.State)

	d, err = n.Connect("localhost", 3306)
	require.NoError(t, err)
	assert.Equal(t, PortOpen, d.State)

	n.CloseSockets(1102)
	d, _ = n.Connect("localhost", 3306)
	assert.Equal(t, PortClosed, d.State)

	out, err := n.Nmap("webserver", NmapOptions{})
	require.NoError(t, err)
	assert.Contains(t, out, "Nmap scan report for webserver (192.168.1.10)")
	assert.Contains(t, out, "22/tcp   open     ssh")
	assert.Contains(t, out, "443/tcp  open     https")
	assert.Contains(t, out, "(1 host up)")

	out, err = n.Nmap("192.168.1.0/24", NmapOptions{Ports: []int{22}})
	require.NoError(t, err)
	assert.Contains(t, out, "256 IP addresses")
	assert.Contains(t, out, "fileserver (192.168.1.30)")
}

func TestFetch(t *testing.T) {
	n := newTestNetwork(t, "http")

	resp, err := n.Fetch(Request{URL: "http://example.com"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Contains(t, resp.Body, "Example Domain")
	assert.NotEmpty(t, resp.Header("X-Request-Id"))

	_, err = n.Fetch(Request{URL: "http://nope.invalid/"})
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, CurlCouldNotResolve, fe.Code)
	assert.Equal(t, "curl: (6) Could not resolve host: nope.invalid", err.Error())

	_, err = n.Fetch(Request{URL: "db-server"})
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, CurlCouldNotConnect, fe.Code)

	resp, err = n.Fetch(Request{URL: "localhost/", Local: func(p string) (string, bool) {
		return "custom index", p == "/"
	}})
	require.NoError(t, err)
	assert.Equal(t, "custom index", resp.Body)

	resp, err = n.Fetch(Request{URL: "https://httpbin.org/post", Body: `{"a":1}`})
	require.NoError(t, err)
	assert.Contains(t, resp.Body, `"method": "POST"`)
	assert.Contains(t, resp.Body, `"json"`)
}

func TestCurl(t *testing.T) {
	n := newTestNetwork(t, "curl")

	out, resp, err := n.Curl(CurlOptions{Request: Request{URL: "google.com"}, FollowRedirects: true})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Contains(t, out, "<title>Google</title>")

	out, _, err = n.Curl(CurlOptions{Request: Request{URL: "example.com"}, HeadOnly: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK"))
	assert.NotContains(t, out, "Example Domain")

	out, _, err = n.Curl(CurlOptions{Request: Request{URL: "example.com"}, Verbose: true})
	require.NoError(t, err)
	assert.Contains(t, out, "> GET / HTTP/1.1")
	assert.Contains(t, out, "< HTTP/1.1 200 OK")
	assert.Contains(t, out, "left intact")
}

func TestWget(t *testing.T) {
	n := newTestNetwork(t, "wget")

	res, err := n.Wget("http://example.com/", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "index.html", res.Filename)
	assert.Contains(t, res.Body, "Example Domain")
	assert.Contains(t, res.Log, "HTTP request sent, awaiting response... 200 OK")
	assert.Contains(t, res.Log, "‘index.html’ saved")

	_, err = n.Wget("http://nope.invalid/", "", nil)
	assert.Error(t, err)
}

func TestFormatters(t *testing.T) {
	n := newTestNetwork(t, "fmt")

	addr, err := n.IPAddr("")
	require.NoError(t, err)
	assert.Contains(t, addr, "inet 192.168.1.100/24 brd 192.168.1.255 scope global dynamic eth0")
	assert.Contains(t, addr, "1: lo: <LOOPBACK,UP,LOWER_UP> mtu 65536")
	assert.Contains(t, addr, "3: docker0: <NO-CARRIER,BROADCAST,MULTICAST,UP>")

	_, err = n.IPAddr("wlan0")
	assert.Error(t, err)

	routes := n.IPRoute()
	assert.Contains(t, routes, "default via 192.168.1.1 dev eth0 proto dhcp metric 100")
	assert.Contains(t, routes, "linkdown")

	ifc, err := n.Ifconfig("eth0", false)
	require.NoError(t, err)
	assert.Contains(t, ifc, "eth0: flags=4163<UP,BROADCAST,RUNNING,MULTICAST>  mtu 1500")
	assert.Contains(t, ifc, "netmask 255.255.255.0")

	table := n.RouteTable(true, false)
	assert.Contains(t, table, "0.0.0.0         192.168.1.1     0.0.0.0         UG")

	ns := n.Netstat(SocketFilter{TCP: true, UDP: true, Listening: true, Numeric: true, Processes: true})
	assert.Contains(t, ns, "Active Internet connections (only servers)")
	assert.Contains(t, ns, "0.0.0.0:22")
	assert.Contains(t, ns, "812/sshd")
	assert.NotContains(t, ns, "ESTABLISHED")

	ss := n.SS(SocketFilter{TCP: true, Listening: true, Processes: true})
	assert.Contains(t, ss, `users:(("nginx",pid=1024,fd=6))`)

	lsof := n.Lsof("22")
	assert.Contains(t, lsof, "sshd")
	assert.NotContains(t, lsof, "nginx")

	assert.Contains(t, n.ARP(true, false), "_gateway (192.168.1.1) at 52:54:00:12:35:02 [ether] on eth0")
}

func TestRoutesAndHosts(t *testing.T) {
	n := newTestNetwork(t, "routes")

	require.NoError(t, n.AddRoute("10.20.0.0/16", GatewayIP, "eth0"))
	assert.ErrorIs(t, n.AddRoute("10.20.0.0/16", GatewayIP, "eth0"), ErrExists)
	assert.Contains(t, n.IPRoute(), "10.20.0.0/16 via 192.168.1.1 dev eth0")
	require.NoError(t, n.DeleteRoute("10.20.0.0/16"))
	assert.ErrorIs(t, n.DeleteRoute("10.20.0.0/16"), ErrNoSuchRoute)

	require.NoError(t, n.AddHost(Host{Name: "cache", IP: net.ParseIP("192.168.1.40"), OpenPorts: []int{6379}}))
	ip, err := n.Resolve("cache.lab.local")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.40", ip.String())

	require.NoError(t, n.AddRecord("app.lab.local. 300 IN CNAME cache.lab.local."))
	ip, err = n.Resolve("app")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.40", ip.String())
}

func TestReset(t *testing.T) {
	n := newTestNetwork(t, "reset")
	_, err := n.Iptables([]string{"-F"})
	require.NoError(t, err)
	require.NoError(t, n.SetLinkUp("eth0", false))

	n.Reset(func(fresh *Network) {
		require.NoError(t, fresh.SetHostDown("webserver", true))
	})

	input, _ := n.Chain("INPUT")
	assert.NotEmpty(t, input.Rules)
	eth0, _ := n.Interface("eth0")
	assert.True(t, eth0.Up())
	h, _ := n.Host("webserver")
	assert.True(t, h.Down)
}
