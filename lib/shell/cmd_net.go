package shell

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"path"
	"strconv"
	"strings"

	"github.com/miekg/dns"
	"github.com/onkernel/termlab/lib/vnet"
	"golang.org/x/crypto/ssh"
)

func noNetwork(cmd string) Output {
	return fail("%s: network is unreachable", cmd)
}

func runPing(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "qnv46", "cWiswt")
	if err != nil {
		return failStatus(2, "ping: %v", err)
	}
	if s.Net == nil {
		return noNetwork("ping")
	}
	if len(f.args) == 0 {
		return failStatus(2, "ping: usage error: Destination address required")
	}
	count := 0
	if v, ok := f.value('c'); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return failStatus(1, "ping: invalid argument: '%s': out of range: 1 <= value <= 9223372036854775807", v)
		}
		count = n
	}
	res, err := s.Net.Ping(f.args[len(f.args)-1], count)
	if err != nil {
		return failStatus(2, "%v", err)
	}
	out := res.Output
	if f.has('q') {
		if i := strings.Index(out, "\n--- "); i >= 0 {
			header, _, _ := strings.Cut(out, "\n")
			out = header + "\n" + out[i:]
		}
	}
	o := emit(out)
	if res.Received == 0 {
		o.Status = 1
	}
	return o
}

func runTraceroute(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "nI46T", "mqwp")
	if err != nil {
		return failStatus(2, "traceroute: %v", err)
	}
	if s.Net == nil {
		return noNetwork("traceroute")
	}
	if len(f.args) == 0 {
		return failStatus(2, "Usage:\n  traceroute [ -46dFITnreAUDV ] [ -f first_ttl ] [ -g gate,... ] [ -i device ] [ -m max_ttl ] host [ packetlen ]")
	}
	out, err := s.Net.Traceroute(f.args[0])
	if err != nil {
		if errors.Is(err, vnet.ErrNoSuchHost) {
			return failStatus(2, "%v", err)
		}
		return fail("%v", err)
	}
	return emit(out)
}

func runDig(s *Session, inv *Invocation) Output {
	if s.Net == nil {
		return noNetwork("dig")
	}
	var (
		name string
		opts vnet.DigOptions
	)
	args := inv.Args
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case strings.HasPrefix(a, "@"):
			opts.Server = a
		case a == "+short":
			opts.Short = true
		case strings.HasPrefix(a, "+"):
			// Other query options change presentation only.
		case a == "-x":
			if i+1 >= len(args) {
				return fail("dig: option requires an argument -- x")
			}
			i++
			name, opts.Reverse = args[i], true
		case a == "-t":
			if i+1 >= len(args) {
				return fail("dig: option requires an argument -- t")
			}
			i++
			opts.Type = args[i]
		case strings.HasPrefix(a, "-"):
			return fail("Invalid option: %s", a)
		case name == "" && !isRecordType(a):
			name = a
		case isRecordType(a) && opts.Type == "":
			opts.Type = a
		default:
			name = a
		}
	}
	if name == "" {
		name = "."
		opts.Type = "NS"
	}
	out, err := s.Net.Dig(name, opts)
	if err != nil {
		return failStatus(10, "%v", err)
	}
	return emit(out)
}

func isRecordType(s string) bool {
	_, ok := dns.StringToType[strings.ToUpper(s)]
	return ok
}

func runNslookup(s *Session, inv *Invocation) Output {
	if s.Net == nil {
		return noNetwork("nslookup")
	}
	var name, qtype string
	for _, a := range inv.Args {
		switch {
		case strings.HasPrefix(a, "-type=") || strings.HasPrefix(a, "-query=") || strings.HasPrefix(a, "-q=") || strings.HasPrefix(a, "-querytype="):
			_, qtype, _ = strings.Cut(a, "=")
		case strings.HasPrefix(a, "-"):
		case name == "":
			name = a
		}
	}
	if name == "" {
		return fail("nslookup: interactive mode is not available; pass a name to look up")
	}
	out, err := s.Net.Nslookup(name, qtype)
	if out == "" && err != nil {
		return fail("%v", err)
	}
	o := emit(out)
	if err != nil {
		o.Status = 1
	}
	return o
}

func runHost(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "av46", "tW")
	if err != nil {
		return badUsage("host", err)
	}
	if s.Net == nil {
		return noNetwork("host")
	}
	if len(f.args) == 0 {
		return fail("Usage: host [-aCdilrTvVw] [-c class] [-N ndots] [-t type] [-W time]\n            [-R number] [-m flag] [-p port] hostname [server]")
	}
	qtype, _ := f.value('t')
	if f.has('a') {
		qtype = "ANY"
	}
	out, err := s.Net.HostLookup(f.args[0], qtype)
	if out == "" && err != nil {
		return fail("%v", err)
	}
	o := emit(out)
	if err != nil {
		o.Status = 1
	}
	return o
}

// webRoot serves the lab machine's own pages from /var/www/html.
func (s *Session) webRoot(urlPath string) (string, bool) {
	p := path.Join("/var/www/html", path.Clean("/"+urlPath))
	if s.isDir(p) {
		p = path.Join(p, "index.html")
	}
	data, err := s.FS.ReadFile(p)
	if err != nil {
		return "", false
	}
	return strings.TrimSuffix(data, "\n"), true
}

func runCurl(s *Session, inv *Invocation) Output {
	if s.Net == nil {
		return noNetwork("curl")
	}
	var (
		opts                         vnet.CurlOptions
		silent, showErr, failOnError bool
		output                       string
		remoteName                   bool
		rawURL                       string
	)
	opts.Local = s.webRoot
	args := inv.Args
	next := func(i *int, flag string) (string, error) {
		if *i+1 >= len(args) {
			return "", fmt.Errorf("curl: option %s: requires parameter", flag)
		}
		*i++
		return args[*i], nil
	}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") || a == "-" {
			rawURL = a
			continue
		}
		if strings.HasPrefix(a, "--") {
			var err error
			switch a {
			case "--silent":
				silent = true
			case "--show-error":
				showErr = true
			case "--verbose":
				opts.Verbose = true
			case "--head":
				opts.HeadOnly = true
			case "--include":
				opts.Include = true
			case "--location":
				opts.FollowRedirects = true
			case "--fail":
				failOnError = true
			case "--insecure", "--compressed":
			case "--request":
				opts.Method, err = next(&i, a)
			case "--data", "--data-raw", "--data-binary", "--data-urlencode", "--json":
				var d string
				d, err = next(&i, a)
				opts.Body = joinData(opts.Body, d)
				if a == "--json" {
					opts.Headers = append(opts.Headers, "Content-Type: application/json", "Accept: application/json")
				}
			case "--header":
				var h string
				h, err = next(&i, a)
				opts.Headers = append(opts.Headers, h)
			case "--user-agent":
				var ua string
				ua, err = next(&i, a)
				opts.Headers = append(opts.Headers, "User-Agent: "+ua)
			case "--output":
				output, err = next(&i, a)
			case "--remote-name":
				remoteName = true
			case "--url":
				rawURL, err = next(&i, a)
			default:
				return failStatus(2, "curl: option %s: is unknown\ncurl: try 'curl --help' or 'curl --manual' for more information", a)
			}
			if err != nil {
				return failStatus(2, "%v", err)
			}
			continue
		}
		for j := 1; j < len(a); j++ {
			c := a[j]
			takesValue := strings.IndexByte("XdHoAuw", c) >= 0
			var val string
			if takesValue {
				if j+1 < len(a) {
					val = a[j+1:]
				} else if i+1 < len(args) {
					i++
					val = args[i]
				} else {
					return failStatus(2, "curl: option -%c: requires parameter\ncurl: try 'curl --help' or 'curl --manual' for more information", c)
				}
			}
			switch c {
			case 's':
				silent = true
			case 'S':
				showErr = true
			case 'v':
				opts.Verbose = true
			case 'I':
				opts.HeadOnly = true
			case 'i':
				opts.Include = true
			case 'L':
				opts.FollowRedirects = true
			case 'f':
				failOnError = true
			case 'O':
				remoteName = true
			case 'k':
			case 'X':
				opts.Method = val
			case 'd':
				opts.Body = joinData(opts.Body, val)
			case 'H':
				opts.Headers = append(opts.Headers, val)
			case 'A':
				opts.Headers = append(opts.Headers, "User-Agent: "+val)
			case 'o':
				output = val
			case 'u', 'w':
			default:
				return failStatus(2, "curl: option -%c: is unknown\ncurl: try 'curl --help' or 'curl --manual' for more information", c)
			}
			if takesValue {
				break
			}
		}
	}
	if rawURL == "" {
		return failStatus(2, "curl: no URL specified!\ncurl: try 'curl --help' or 'curl --manual' for more information")
	}
	opts.URL = rawURL
	text, resp, err := s.Net.Curl(opts)
	if err != nil {
		var fe *vnet.FetchError
		code := 1
		if errors.As(err, &fe) {
			code = fe.Code
		}
		o := Output{Status: code}
		if opts.Verbose {
			o.Stderr = terminate(text)
		}
		if !silent || showErr {
			o.Stderr += terminate(err.Error())
		}
		return o
	}
	if failOnError && resp.Status >= 400 {
		o := Output{Status: 22}
		if !silent || showErr {
			o.Stderr = fmt.Sprintf("curl: (22) The requested URL returned error: %d\n", resp.Status)
		}
		return o
	}
	if remoteName && output == "" {
		output = path.Base(resp.URL.Path)
		if output == "/" || output == "." {
			return failStatus(23, "curl: Remote file name has no length!\ncurl: (23) Failed writing received data to disk/application")
		}
	}
	if output == "" {
		return emit(text)
	}
	body := terminate(resp.Body)
	o := Output{}
	if output == "-" {
		o.Stdout = body
	} else if err := s.FS.WriteFile(output, body); err != nil {
		return failStatus(23, "curl: (23) Failure writing output to destination\nWarning: Failed to open the file %s: %s", output, reason(err))
	}
	if !silent {
		o.Stderr = terminate(vnet.ProgressMeter(len(body)))
	}
	return o
}

func joinData(existing, more string) string {
	if existing == "" {
		return more
	}
	return existing + "&" + more
}

func runWget(s *Session, inv *Invocation) Output {
	if s.Net == nil {
		return noNetwork("wget")
	}
	f, err := parseFlags(inv.Args, "qcnvN", "OPt", "output-document")
	if err != nil {
		return Output{Stderr: fmt.Sprintf("wget: %v\nUsage: wget [OPTION]... [URL]...\n\nTry `wget --help' for more options.\n", err), Status: 2}
	}
	if len(f.args) == 0 {
		return Output{Stderr: "wget: missing URL\nUsage: wget [OPTION]... [URL]...\n\nTry `wget --help' for more options.\n", Status: 1}
	}
	name, _ := f.value('O')
	if v, ok := f.long["output-document"]; ok {
		name = v
	}
	quiet := f.has('q') || f.hasLong("quiet")
	toStdout := name == "-"
	if toStdout {
		name = ""
	}
	res, err := s.Net.Wget(f.args[0], name, s.webRoot)
	if err != nil {
		status := 4
		if strings.Contains(err.Error(), "server error") {
			status = 8
		}
		o := Output{Status: status}
		if !quiet {
			o.Stderr = terminate(res.Log)
			if res.Log == "" {
				o.Stderr = terminate(err.Error())
			}
		}
		return o
	}
	o := Output{}
	if !quiet {
		o.Stderr = terminate(res.Log)
	}
	if toStdout {
		o.Stdout = res.Body
		return o
	}
	if dir, ok := f.value('P'); ok {
		res.Filename = path.Join(dir, res.Filename)
	}
	if err := s.FS.WriteFile(res.Filename, res.Body); err != nil {
		o.Stderr += fmt.Sprintf("%s: %s\n", res.Filename, reason(err))
		o.Status = 3
	}
	return o
}

// runIP dispatches the ip(8) objects the lab models.
func runIP(s *Session, inv *Invocation) Output {
	if s.Net == nil {
		return noNetwork("ip")
	}
	args := inv.Args
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		switch args[0] {
		case "-4", "-6", "-c", "-color", "-s", "-d", "-br", "-brief":
		default:
			return fail("Option \"%s\" is unknown, try \"ip -help\".", args[0])
		}
		args = args[1:]
	}
	if len(args) == 0 {
		return failStatus(255, "Usage: ip [ OPTIONS ] OBJECT { COMMAND | help }\nwhere  OBJECT := { address | link | neighbor | route }")
	}
	object, rest := args[0], args[1:]
	switch {
	case prefixOf(object, "address", 1):
		return s.ipAddr(rest)
	case prefixOf(object, "link", 1):
		return s.ipLink(rest)
	case prefixOf(object, "route", 1):
		return s.ipRoute(rest)
	case prefixOf(object, "neighbour", 1) || prefixOf(object, "neighbor", 1):
		return emit(s.Net.IPNeigh())
	}
	return failStatus(1, "Object \"%s\" is unknown, try \"ip help\".", object)
}

// prefixOf reports whether word abbreviates full in at least min letters,
// the way iproute2 accepts "a", "addr" or "address".
func prefixOf(word, full string, min int) bool {
	return len(word) >= min && strings.HasPrefix(full, word)
}

// devArg extracts "dev NAME" or a bare interface name after show/list.
func devArg(args []string) string {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "show", "list", "ls":
		case "dev":
			if i+1 < len(args) {
				return args[i+1]
			}
		default:
			return args[i]
		}
	}
	return ""
}

func (s *Session) ipAddr(args []string) Output {
	if len(args) > 0 && (args[0] == "add" || args[0] == "del") {
		if !s.isRoot() {
			return failStatus(2, "RTNETLINK answers: Operation not permitted")
		}
		return failStatus(2, "RTNETLINK answers: Operation not supported")
	}
	out, err := s.Net.IPAddr(devArg(args))
	if err != nil {
		return fail("Device \"%s\" does not exist.", devArg(args))
	}
	return emit(out)
}

func (s *Session) ipLink(args []string) Output {
	if len(args) > 0 && args[0] == "set" {
		if len(args) < 3 {
			return failStatus(255, "Usage: ip link set DEVICE { up | down }")
		}
		dev := args[1]
		if dev == "dev" && len(args) > 3 {
			dev, args = args[2], args[1:]
		}
		var up bool
		switch args[2] {
		case "up":
			up = true
		case "down":
		default:
			return failStatus(255, "Error: either \"dev\" is duplicate, or \"%s\" is a garbage.", args[2])
		}
		if !s.isRoot() {
			return failStatus(2, "RTNETLINK answers: Operation not permitted")
		}
		if err := s.Net.SetLinkUp(dev, up); err != nil {
			return fail("Cannot find device \"%s\"", dev)
		}
		return Output{}
	}
	out, err := s.Net.IPLink(devArg(args))
	if err != nil {
		return fail("Device \"%s\" does not exist.", devArg(args))
	}
	return emit(out)
}

func (s *Session) ipRoute(args []string) Output {
	if len(args) == 0 || args[0] == "show" || args[0] == "list" || args[0] == "ls" {
		return emit(s.Net.IPRoute())
	}
	verb, rest := args[0], args[1:]
	if verb != "add" && verb != "del" && verb != "delete" {
		return failStatus(255, "Command \"%s\" is unknown, try \"ip route help\".", verb)
	}
	if len(rest) == 0 {
		return failStatus(255, "Error: argument is missing.")
	}
	dest := rest[0]
	var gw, dev string
	for i := 1; i+1 < len(rest); i += 2 {
		switch rest[i] {
		case "via":
			gw = rest[i+1]
		case "dev":
			dev = rest[i+1]
		}
	}
	if !s.isRoot() {
		return failStatus(2, "RTNETLINK answers: Operation not permitted")
	}
	if verb == "add" {
		if dest == "default" {
			dest = "0.0.0.0/0"
		}
		if err := s.Net.AddRoute(dest, gw, dev); err != nil {
			return failStatus(2, "%s", routeErr(err))
		}
		return Output{}
	}
	if err := s.Net.DeleteRoute(dest); err != nil {
		return failStatus(2, "RTNETLINK answers: %v", err)
	}
	return Output{}
}

func routeErr(err error) string {
	switch {
	case errors.Is(err, vnet.ErrExists):
		return "RTNETLINK answers: File exists"
	case errors.Is(err, vnet.ErrNoSuchInterface):
		return "Cannot find device"
	}
	return "Error: inet prefix is expected rather than \"" + err.Error() + "\"."
}

func runIfconfig(s *Session, inv *Invocation) Output {
	if s.Net == nil {
		return noNetwork("ifconfig")
	}
	all := false
	var rest []string
	for _, a := range inv.Args {
		if a == "-a" {
			all = true
			continue
		}
		rest = append(rest, a)
	}
	dev := ""
	if len(rest) > 0 {
		dev = rest[0]
	}
	if len(rest) > 1 {
		var up bool
		switch rest[1] {
		case "up":
			up = true
		case "down":
		default:
			return fail("%s: unknown host\nifconfig: `--help' gives usage information.", rest[1])
		}
		if !s.isRoot() {
			return fail("SIOCSIFFLAGS: Operation not permitted")
		}
		if err := s.Net.SetLinkUp(dev, up); err != nil {
			return failStatus(255, "SIOCGIFFLAGS: No such device")
		}
		return Output{}
	}
	out, err := s.Net.Ifconfig(dev, all)
	if err != nil {
		return fail("%s: error fetching interface information: Device not found", dev)
	}
	return emit(out)
}

// socketFilter parses the -tulnpa letters shared by netstat and ss.
func socketFilter(args []string, cmd string) (vnet.SocketFilter, bool, error) {
	var sf vnet.SocketFilter
	routes := false
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return sf, false, fmt.Errorf("%s: unsupported argument '%s'", cmd, a)
		}
		if strings.HasPrefix(a, "--") {
			switch a {
			case "--tcp":
				sf.TCP = true
			case "--udp":
				sf.UDP = true
			case "--listening":
				sf.Listening = true
			case "--all":
				sf.All = true
			case "--numeric":
				sf.Numeric = true
			case "--programs", "--processes":
				sf.Processes = true
			case "--route":
				routes = true
			default:
				return sf, false, fmt.Errorf("%s: unrecognized option '%s'", cmd, a)
			}
			continue
		}
		for _, c := range a[1:] {
			switch c {
			case 't':
				sf.TCP = true
			case 'u':
				sf.UDP = true
			case 'l':
				sf.Listening = true
			case 'a':
				sf.All = true
			case 'n':
				sf.Numeric = true
			case 'p':
				sf.Processes = true
			case 'r':
				routes = true
			case 'e', 'o', 'w', '4', '6':
			default:
				return sf, false, fmt.Errorf("%s: invalid option -- '%c'", cmd, c)
			}
		}
	}
	return sf, routes, nil
}

func runNetstat(s *Session, inv *Invocation) Output {
	if s.Net == nil {
		return noNetwork("netstat")
	}
	sf, routes, err := socketFilter(inv.Args, "netstat")
	if err != nil {
		return fail("%v", err)
	}
	if routes {
		return emit(s.Net.RouteTable(sf.Numeric, true))
	}
	return emit(s.Net.Netstat(sf))
}

func runSs(s *Session, inv *Invocation) Output {
	if s.Net == nil {
		return noNetwork("ss")
	}
	sf, _, err := socketFilter(inv.Args, "ss")
	if err != nil {
		return fail("%v", err)
	}
	return emit(s.Net.SS(sf))
}

func runIptables(s *Session, inv *Invocation) Output {
	if s.Net == nil {
		return noNetwork("iptables")
	}
	if !s.isRoot() {
		return failStatus(4, "iptables v1.8.7 (nf_tables): Permission denied (you must be root)")
	}
	out, err := s.Net.Iptables(inv.Args)
	if err != nil {
		status := 1
		if strings.Contains(err.Error(), "Try `iptables -h'") {
			status = 2
		}
		return failStatus(status, "%v", err)
	}
	return emit(out)
}

func runRoute(s *Session, inv *Invocation) Output {
	if s.Net == nil {
		return noNetwork("route")
	}
	numeric := false
	var rest []string
	for _, a := range inv.Args {
		switch a {
		case "-n":
			numeric = true
		case "-e", "-ee", "-v":
		default:
			rest = append(rest, a)
		}
	}
	if len(rest) == 0 {
		return emit(s.Net.RouteTable(numeric, false))
	}
	if rest[0] != "add" && rest[0] != "del" {
		return failStatus(4, "route: unknown command '%s'", rest[0])
	}
	if !s.isRoot() {
		return failStatus(7, "SIOCADDRT: Operation not permitted")
	}
	// route add -net 10.0.0.0/8 gw 192.168.1.1 [dev eth0]
	var dest, gw, dev string
	for i := 1; i < len(rest); i++ {
		switch rest[i] {
		case "-net", "-host":
		case "default":
			dest = "0.0.0.0/0"
		case "gw":
			if i+1 < len(rest) {
				i++
				gw = rest[i]
			}
		case "dev":
			if i+1 < len(rest) {
				i++
				dev = rest[i]
			}
		default:
			dest = rest[i]
		}
	}
	if dest != "" && !strings.Contains(dest, "/") {
		dest += "/32"
	}
	if rest[0] == "add" {
		if err := s.Net.AddRoute(dest, gw, dev); err != nil {
			if errors.Is(err, vnet.ErrExists) {
				return failStatus(7, "SIOCADDRT: File exists")
			}
			return failStatus(4, "%s: Unknown host", dest)
		}
		return Output{}
	}
	if dest == "0.0.0.0/0" {
		dest = "default"
	}
	if err := s.Net.DeleteRoute(dest); err != nil {
		return failStatus(7, "SIOCDELRT: No such process")
	}
	return Output{}
}

func runArp(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "anev", "i")
	if err != nil {
		return badUsage("arp", err)
	}
	if s.Net == nil {
		return noNetwork("arp")
	}
	return emit(s.Net.ARP(f.has('a'), f.has('n')))
}

func runNmap(s *Session, inv *Invocation) Output {
	if s.Net == nil {
		return noNetwork("nmap")
	}
	var (
		opts   vnet.NmapOptions
		target string
	)
	args := inv.Args
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-O" || a == "-A":
			opts.DetectOS = true
		case a == "-p" || strings.HasPrefix(a, "-p"):
			spec := strings.TrimPrefix(a, "-p")
			if spec == "" {
				if i+1 >= len(args) {
					return fail("nmap: option requires an argument -- 'p'")
				}
				i++
				spec = args[i]
			}
			ports, err := parsePorts(spec)
			if err != nil {
				return fail("Error #485: Your port specifications are illegal.  Example of proper form: \"-100,200-1024,T:3000-4000,U:60000-\"\nQUITTING!")
			}
			opts.Ports = ports
		case strings.HasPrefix(a, "-"):
			// Scan technique and timing flags do not change the result.
		default:
			target = a
		}
	}
	if target == "" {
		return fail("WARNING: No targets were specified, so 0 hosts scanned.")
	}
	out, err := s.Net.Nmap(target, opts)
	if err != nil {
		return fail("%v", err)
	}
	return emit(out)
}

// parsePorts expands "22,80,8000-8010" or a service name list.
func parsePorts(spec string) ([]int, error) {
	if spec == "-" {
		spec = "1-65535"
	}
	var ports []int
	for _, part := range strings.Split(spec, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		if !isRange {
			p, err := portNumber(part)
			if err != nil {
				return nil, err
			}
			ports = append(ports, p)
			continue
		}
		a, err := strconv.Atoi(lo)
		if err != nil {
			return nil, err
		}
		b, err := strconv.Atoi(hi)
		if err != nil || b < a || b > 65535 {
			return nil, errors.New("bad range")
		}
		for p := a; p <= b; p++ {
			ports = append(ports, p)
		}
	}
	return ports, nil
}

func portNumber(s string) (int, error) {
	if p, ok := vnet.PortByName(s); ok {
		return p, nil
	}
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return 0, fmt.Errorf("bad port %q", s)
	}
	return p, nil
}

// runNc probes ports with -z; without it, an open port accepts the piped
// input and closes.
func runNc(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "zvnlku46", "wp")
	if err != nil {
		return Output{Stderr: fmt.Sprintf("nc: %v\nusage: nc [-46CDdFhklNnrStUuvZz] [-I length] [-i interval] [-M ttl]\n", err), Status: 1}
	}
	if s.Net == nil {
		return noNetwork("nc")
	}
	if f.has('l') {
		return fail("nc: Address already in use")
	}
	if len(f.args) < 2 {
		return fail("usage: nc [-46CDdFhklNnrStUuvZz] [-I length] [-i interval] [-M ttl]\n\t  [-m minttl] [-O length] [-P proxy_username] [-p source_port]\n\t  [-q seconds] [-s source] [-T keyword] [-V rtable] [-W recvlimit] [-w timeout]\n\t  [-X proxy_protocol] [-x proxy_address[:port]] [destination] [port]")
	}
	host := f.args[0]
	ports, err := parsePorts(strings.Join(f.args[1:], ","))
	if err != nil {
		return fail("nc: port range not valid")
	}
	var stderr strings.Builder
	status := 1
	for _, port := range ports {
		d, err := s.Net.Connect(host, port)
		if err != nil {
			return fail("nc: getaddrinfo for host \"%s\" port %d: Name or service not known", host, port)
		}
		service := vnet.ServiceName(port)
		if service == "" {
			service = "*"
		}
		switch d.State {
		case vnet.PortOpen:
			status = 0
			if f.has('v') {
				fmt.Fprintf(&stderr, "Connection to %s (%s) %d port [tcp/%s] succeeded!\n", host, d.IP, port, service)
			}
		case vnet.PortClosed:
			if f.has('v') {
				fmt.Fprintf(&stderr, "nc: connect to %s (%s) port %d (tcp) failed: Connection refused\n", host, d.IP, port)
			}
		case vnet.PortFiltered:
			if f.has('v') {
				fmt.Fprintf(&stderr, "nc: connect to %s (%s) port %d (tcp) timed out: Operation now in progress\n", host, d.IP, port)
			}
		default:
			if f.has('v') {
				fmt.Fprintf(&stderr, "nc: connect to %s (%s) port %d (tcp) failed: No route to host\n", host, d.IP, port)
			}
		}
	}
	return Output{Stderr: stderr.String(), Status: status}
}

// runSSH connects as far as host key verification. The lab has no
// interactive sessions, so an unknown key is never accepted.
func runSSH(s *Session, inv *Invocation) Output {
	f, err := parseFlags(inv.Args, "vqTtNAXC46", "pliLRDoF")
	if err != nil {
		return failStatus(255, "%v\nusage: ssh [-46AaCfGgKkMNnqsTtVvXxYy] [-B bind_interface] [-b bind_address] destination [command [argument ...]]", err)
	}
	if s.Net == nil {
		return noNetwork("ssh")
	}
	if len(f.args) == 0 {
		return failStatus(255, "usage: ssh [-46AaCfGgKkMNnqsTtVvXxYy] [-B bind_interface] [-b bind_address]\n           [-c cipher_spec] [-D [bind_address:]port] [-E log_file]\n           [-e escape_char] [-F configfile] [-I pkcs11] [-i identity_file]\n           [-J destination] [-L address] [-l login_name] [-m mac_spec]\n           [-O ctl_cmd] [-o option] [-p port] [-Q query_option] [-R address]\n           [-S ctl_path] [-W host:port] [-w local_tun[:remote_tun]]\n           destination [command [argument ...]]")
	}
	target := f.args[0]
	if _, host, ok := strings.Cut(target, "@"); ok {
		target = host
	}
	port := 22
	if v, ok := f.value('p'); ok {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 || p > 65535 {
			return failStatus(255, "Bad port '%s'", v)
		}
		port = p
	}
	d, err := s.Net.Connect(target, port)
	if err != nil {
		return failStatus(255, "ssh: Could not resolve hostname %s: Name or service not known", target)
	}
	switch d.State {
	case vnet.PortClosed:
		return failStatus(255, "ssh: connect to host %s port %d: Connection refused", target, port)
	case vnet.PortFiltered:
		return failStatus(255, "ssh: connect to host %s port %d: Connection timed out", target, port)
	case vnet.PortUnreachable:
		return failStatus(255, "ssh: connect to host %s port %d: No route to host", target, port)
	}
	fp, err := hostKeyFingerprint(d.IP)
	if err != nil {
		return failStatus(255, "ssh: %v", err)
	}
	display := target
	if target != d.IP.String() {
		display = fmt.Sprintf("%s (%s)", target, d.IP)
	}
	return failStatus(255, "The authenticity of host '%s' can't be established.\nED25519 key fingerprint is %s.\nThis key is not known by any other names\nAre you sure you want to continue connecting (yes/no/[fingerprint])? \nHost key verification failed.", display, fp)
}

// hostKeyFingerprint derives a stable ED25519 host key from the address and
// returns its SHA256 fingerprint.
func hostKeyFingerprint(ip net.IP) (string, error) {
	seed := sha256.Sum256([]byte("ssh-host-key:" + ip.String()))
	pub := ed25519.NewKeyFromSeed(seed[:]).Public()
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", err
	}
	return ssh.FingerprintSHA256(key), nil
}

func runLsof(s *Session, inv *Invocation) Output {
	if s.Net == nil {
		return noNetwork("lsof")
	}
	port := ""
	for i := 0; i < len(inv.Args); i++ {
		a := inv.Args[i]
		switch {
		case a == "-i":
			if i+1 < len(inv.Args) && strings.HasPrefix(inv.Args[i+1], ":") {
				i++
				port = inv.Args[i][1:]
			}
		case strings.HasPrefix(a, "-i"):
			port = strings.TrimPrefix(strings.TrimPrefix(a, "-i"), ":")
			if strings.HasPrefix(port, "tcp:") || strings.HasPrefix(port, "TCP:") {
				port = port[4:]
			}
		case a == "-n" || a == "-P" || a == "-nP" || a == "-Pn":
		default:
			return fail("lsof: status error on %s: No such file or directory", a)
		}
	}
	if p, err := portNumber(port); port != "" && err == nil {
		port = strconv.Itoa(p)
	}
	out := s.Net.Lsof(port)
	if out == "" {
		return Output{Status: 1}
	}
	return emit(out)
}
