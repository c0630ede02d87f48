package vnet

import "strconv"

// services mirrors the entries of /etc/services the tools print.
var services = map[int]string{
	21:   "ftp",
	22:   "ssh",
	23:   "telnet",
	25:   "smtp",
	53:   "domain",
	67:   "bootps",
	68:   "bootpc",
	80:   "http",
	110:  "pop3",
	139:  "netbios-ssn",
	143:  "imap2",
	443:  "https",
	445:  "microsoft-ds",
	631:  "ipp",
	993:  "imaps",
	3306: "mysql",
	5432: "postgresql",
	6379: "redis",
	8080: "http-alt",
}

// ServiceName returns the well-known service for a port, or "".
func ServiceName(port int) string {
	return services[port]
}

// PortByName accepts a port number or a service name.
func PortByName(s string) (int, bool) {
	if p, err := strconv.Atoi(s); err == nil {
		return p, p > 0 && p < 65536
	}
	for port, name := range services {
		if name == s {
			return port, true
		}
	}
	return 0, false
}

func itoa(i int) string { return strconv.Itoa(i) }

// hostPort renders addr:port with the service name unless numeric.
func hostPort(addr string, port string, numeric bool) string {
	if !numeric {
		if p, err := strconv.Atoi(port); err == nil {
			if name := ServiceName(p); name != "" {
				port = name
			}
		}
		switch addr {
		case "127.0.0.1":
			addr = "localhost"
		}
	}
	return addr + ":" + port
}
