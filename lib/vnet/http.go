package vnet

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/pretty"
)

// Page is a canned HTTP resource served by a simulated host.
type Page struct {
	Server      string
	ContentType string
	Body        string
	// Location turns the page into a 301 redirect.
	Location string
	// Echo makes the host reflect the request back as JSON.
	Echo bool
	// API makes every path answer with a JSON status document.
	API bool
}

const nginxIndex = `<!DOCTYPE html>
<html>
<head>
<title>Welcome to nginx!</title>
</head>
<body>
<h1>Welcome to nginx!</h1>
<p>If you see this page, the nginx web server is successfully installed and
working. Further configuration is required.</p>
</body>
</html>`

const notFoundPage = `<html>
<head><title>404 Not Found</title></head>
<body>
<center><h1>404 Not Found</h1></center>
<hr><center>nginx/1.18.0 (Ubuntu)</center>
</body>
</html>`

func baselinePages() map[string]Page {
	return map[string]Page{
		"example.com": {Server: "ECS (nyb/1D2E)", ContentType: "text/html; charset=UTF-8", Body: `<!doctype html>
<html>
<head>
    <title>Example Domain</title>
</head>
<body>
<div>
    <h1>Example Domain</h1>
    <p>This domain is for use in illustrative examples in documents.</p>
</div>
</body>
</html>`},
		"www.example.com": {Server: "ECS (nyb/1D2E)", Location: "http://example.com/"},
		"api.example.com": {Server: "nginx", ContentType: "application/json", API: true},
		"google.com":      {Server: "gws", Location: "http://www.google.com/"},
		"www.google.com": {Server: "gws", ContentType: "text/html; charset=ISO-8859-1",
			Body: "<!doctype html><html><head><title>Google</title></head><body>Search</body></html>"},
		"github.com": {Server: "GitHub.com", ContentType: "text/html; charset=utf-8",
			Body: "<!DOCTYPE html>\n<html lang=\"en\">\n<head><title>GitHub: Let's build from here</title></head>\n</html>"},
		"api.github.com": {Server: "GitHub.com", ContentType: "application/json; charset=utf-8",
			Body: `{"current_user_url":"https://api.github.com/user","emojis_url":"https://api.github.com/emojis","rate_limit_url":"https://api.github.com/rate_limit"}`},
		"httpbin.org":    {Server: "gunicorn/19.9.0", ContentType: "application/json", Echo: true},
		"cloudflare.com": {Server: "cloudflare", ContentType: "text/html; charset=UTF-8", Body: "<!DOCTYPE html><html><head><title>Cloudflare</title></head></html>"},
		"webserver": {Server: "Apache/2.4.52 (Ubuntu)", ContentType: "text/html",
			Body: "<html><body><h1>webserver.lab.local</h1><p>Lab intranet</p></body></html>"},
		"router": {Server: "uhttpd", ContentType: "text/html", Body: "<html><body><h1>Router administration</h1></body></html>"},
	}
}

// SetPage installs or replaces the page a host serves.
func (n *Network) SetPage(host string, p Page) {
	n.pages[strings.ToLower(host)] = p
}

// Request is one HTTP exchange issued by curl or wget.
type Request struct {
	URL     string
	Method  string
	Headers []string
	Body    string
	// Local serves paths of the lab machine's own web root. It reports
	// false for paths that do not exist.
	Local func(urlPath string) (string, bool)
}

// Response is what a simulated server sends back.
type Response struct {
	URL        *url.URL
	IP         net.IP
	Port       int
	Status     int
	Headers    [][2]string
	Body       string
	RequestID  string
	sentHeader []string
}

// StatusLine returns e.g. "HTTP/1.1 200 OK".
func (r *Response) StatusLine() string {
	return fmt.Sprintf("HTTP/1.1 %d %s", r.Status, http.StatusText(r.Status))
}

// Header returns the first value of a response header.
func (r *Response) Header(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h[0], name) {
			return h[1]
		}
	}
	return ""
}

// ParseURL accepts the forms curl does, defaulting to http.
func ParseURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, &FetchError{Code: CurlMalformedURL, Message: "URL using bad/illegal format or missing URL"}
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return nil, &FetchError{Code: CurlMalformedURL, Message: "URL using bad/illegal format or missing URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &FetchError{Code: CurlUnsupportedProtocol, Message: fmt.Sprintf("Protocol \"%s\" not supported or disabled in libcurl", u.Scheme)}
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

func urlPort(u *url.URL) int {
	if p := u.Port(); p != "" {
		port, _ := strconv.Atoi(p)
		return port
	}
	if u.Scheme == "https" {
		return 443
	}
	return 80
}

// Fetch performs one request against the simulated network.
func (n *Network) Fetch(req Request) (*Response, error) {
	u, err := ParseURL(req.URL)
	if err != nil {
		return nil, err
	}
	host := strings.ToLower(u.Hostname())
	port := urlPort(u)
	ip, err := n.Resolve(host)
	if err != nil {
		return nil, &FetchError{Code: CurlCouldNotResolve, Message: "Could not resolve host: " + host}
	}
	switch n.portState(ip, port) {
	case PortClosed:
		return nil, &FetchError{Code: CurlCouldNotConnect, Message: fmt.Sprintf("Failed to connect to %s port %d after 0 ms: Connection refused", host, port)}
	case PortFiltered:
		return nil, &FetchError{Code: CurlTimeout, Message: fmt.Sprintf("Failed to connect to %s port %d after 130000 ms: Connection timed out", host, port)}
	case PortUnreachable:
		return nil, &FetchError{Code: CurlCouldNotConnect, Message: fmt.Sprintf("Failed to connect to %s port %d after 3067 ms: No route to host", host, port)}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
		if req.Body != "" {
			method = http.MethodPost
		}
	}
	id, err := uuid.NewRandomFromReader(n.opts.Rand)
	if err != nil {
		id = uuid.Nil
	}
	resp := &Response{URL: u, IP: ip, Port: port, Status: http.StatusOK, RequestID: id.String()}

	page, known := n.page(host, ip)
	switch {
	case n.classify(ip) == localMachine:
		body, ok := "", false
		if req.Local != nil {
			body, ok = req.Local(u.Path)
		} else if u.Path == "/" || u.Path == "/index.html" {
			body, ok = nginxIndex, true
		}
		page = Page{Server: "nginx/1.18.0 (Ubuntu)", ContentType: "text/html", Body: body}
		if !ok {
			resp.Status = http.StatusNotFound
			page.Body = notFoundPage
		}
	case !known:
		page = Page{Server: "nginx", ContentType: "application/json", API: true}
	}

	switch {
	case page.Location != "":
		resp.Status = http.StatusMovedPermanently
		page.ContentType = "text/html; charset=UTF-8"
		page.Body = fmt.Sprintf("<HTML><HEAD><TITLE>301 Moved</TITLE></HEAD><BODY>\n<H1>301 Moved</H1>\nThe document has moved\n<A HREF=\"%s\">here</A>.\n</BODY></HTML>", page.Location)
	case page.Echo:
		page.Body = n.echoBody(u, method, req)
	case page.API:
		doc, _ := json.Marshal(map[string]any{
			"status":     "ok",
			"host":       host,
			"path":       u.Path,
			"method":     method,
			"request_id": resp.RequestID,
		})
		page.Body = string(pretty.Pretty(doc))
	case n.classify(ip) != localMachine && u.Path != "/" && u.Path != "/index.html":
		resp.Status = http.StatusNotFound
		page.Body = notFoundPage
	}
	page.Body = strings.TrimRight(page.Body, "\n")

	resp.Headers = [][2]string{
		{"Server", page.Server},
		{"Date", n.now().UTC().Format(http.TimeFormat)},
		{"Content-Type", page.ContentType},
		{"Content-Length", strconv.Itoa(len(page.Body) + 1)},
		{"Connection", "keep-alive"},
	}
	if page.Location != "" {
		resp.Headers = append(resp.Headers, [2]string{"Location", page.Location})
	}
	resp.Headers = append(resp.Headers, [2]string{"X-Request-Id", resp.RequestID})
	if method != http.MethodHead {
		resp.Body = page.Body
	}
	resp.sentHeader = requestHeader(u, method, req)

	dev := n.egress(ip)
	n.countTraffic(dev, len(req.Body)+200, len(resp.Body)+200)
	return resp, nil
}

func (n *Network) page(host string, ip net.IP) (Page, bool) {
	if p, ok := n.pages[host]; ok {
		return p, true
	}
	if short, ok := strings.CutSuffix(host, "."+LabDomain); ok {
		if p, ok := n.pages[short]; ok {
			return p, true
		}
	}
	if h, ok := n.Host(ip.String()); ok {
		if p, ok := n.pages[h.Name]; ok {
			return p, true
		}
	}
	return Page{}, false
}

func (n *Network) echoBody(u *url.URL, method string, req Request) string {
	headers := map[string]string{"Host": u.Hostname(), "User-Agent": "curl/7.81.0", "Accept": "*/*"}
	for _, h := range req.Headers {
		if k, v, ok := strings.Cut(h, ":"); ok {
			headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	args := map[string]string{}
	for k, v := range u.Query() {
		args[k] = v[0]
	}
	doc := map[string]any{
		"args":    args,
		"headers": headers,
		"method":  method,
		"origin":  "203.0.113.45",
		"url":     u.String(),
	}
	if req.Body != "" {
		doc["data"] = req.Body
		var parsed any
		if json.Unmarshal([]byte(req.Body), &parsed) == nil {
			doc["json"] = parsed
		} else if form, err := url.ParseQuery(req.Body); err == nil {
			fields := map[string]string{}
			for k, v := range form {
				fields[k] = v[0]
			}
			doc["form"] = fields
		}
	}
	raw, _ := json.Marshal(doc)
	return string(pretty.Pretty(raw))
}

func requestHeader(u *url.URL, method string, req Request) []string {
	target := u.RequestURI()
	lines := []string{
		fmt.Sprintf("%s %s HTTP/1.1", method, target),
		"Host: " + u.Host,
		"User-Agent: curl/7.81.0",
		"Accept: */*",
	}
	lines = append(lines, req.Headers...)
	if req.Body != "" {
		lines = append(lines, "Content-Length: "+strconv.Itoa(len(req.Body)))
		hasType := false
		for _, h := range req.Headers {
			if strings.HasPrefix(strings.ToLower(h), "content-type:") {
				hasType = true
			}
		}
		if !hasType {
			lines = append(lines, "Content-Type: application/x-www-form-urlencoded")
		}
	}
	return lines
}

// CurlOptions mirrors the curl flags the simulator understands.
type CurlOptions struct {
	Request
	Verbose         bool
	HeadOnly        bool
	Include         bool
	FollowRedirects bool
}

// Curl performs a request and renders what curl prints to the terminal.
// The returned response is nil on transfer errors.
func (n *Network) Curl(opts CurlOptions) (string, *Response, error) {
	req := opts.Request
	if opts.HeadOnly {
		req.Method = http.MethodHead
	}
	var b strings.Builder
	var resp *Response
	for hops := 0; ; hops++ {
		r, err := n.Fetch(req)
		if err != nil {
			if opts.Verbose {
				if u, perr := ParseURL(req.URL); perr == nil {
					fmt.Fprintf(&b, "*   Trying %s:%d...\n", u.Hostname(), urlPort(u))
				}
				msg := err.Error()
				if fe, ok := err.(*FetchError); ok {
					msg = fe.Message
				}
				fmt.Fprintf(&b, "* %s\n* Closing connection 0", msg)
			}
			return b.String(), nil, err
		}
		resp = r
		if opts.Verbose {
			b.WriteString(verboseTrace(r))
		} else if opts.HeadOnly || opts.Include {
			b.WriteString(headerBlock(r))
			if !opts.HeadOnly {
				b.WriteString("\n")
			}
		}
		loc := r.Header("Location")
		if !opts.FollowRedirects || loc == "" || hops >= 5 {
			break
		}
		req.URL = loc
		if r.Status == http.StatusMovedPermanently && req.Method == http.MethodPost {
			req.Method, req.Body = http.MethodGet, ""
		}
	}
	if !opts.HeadOnly {
		b.WriteString(resp.Body)
	}
	if opts.Verbose {
		fmt.Fprintf(&b, "\n* Connection #0 to host %s left intact", resp.URL.Hostname())
	}
	return strings.TrimRight(b.String(), "\n"), resp, nil
}

func headerBlock(r *Response) string {
	var b strings.Builder
	b.WriteString(r.StatusLine() + "\n")
	for _, h := range r.Headers {
		fmt.Fprintf(&b, "%s: %s\n", h[0], h[1])
	}
	return b.String()
}

func verboseTrace(r *Response) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*   Trying %s:%d...\n", r.IP, r.Port)
	fmt.Fprintf(&b, "* Connected to %s (%s) port %d (#0)\n", r.URL.Hostname(), r.IP, r.Port)
	if r.URL.Scheme == "https" {
		b.WriteString("* TLSv1.3 (OUT), TLS handshake, Client hello (1):\n")
		b.WriteString("* SSL connection using TLSv1.3 / TLS_AES_256_GCM_SHA384\n")
	}
	for _, line := range r.sentHeader {
		b.WriteString("> " + line + "\n")
	}
	b.WriteString(">\n* Mark bundle as not supporting multiuse\n")
	b.WriteString("< " + r.StatusLine() + "\n")
	for _, h := range r.Headers {
		fmt.Fprintf(&b, "< %s: %s\n", h[0], h[1])
	}
	b.WriteString("<\n")
	return b.String()
}

// ProgressMeter renders curl's transfer table for a download of size bytes.
func ProgressMeter(size int) string {
	s := compactSize(size)
	return "  % Total    % Received % Xferd  Average Speed   Time    Time     Time  Current\n" +
		"                                 Dload  Upload   Total   Spent    Left  Speed\n" +
		fmt.Sprintf("100 %5s  100 %5s    0     0  %5s      0 --:--:-- --:--:-- --:--:-- %5s", s, s, s, s)
}

func compactSize(n int) string {
	switch {
	case n < 100000:
		return strconv.Itoa(n)
	case n < 1<<20:
		return fmt.Sprintf("%dk", n>>10)
	default:
		return fmt.Sprintf("%dM", n>>20)
	}
}

// WgetResult is a completed wget transfer.
type WgetResult struct {
	Log      string
	Filename string
	Body     string
}

// Wget downloads a URL and renders wget's log. outName overrides the
// destination file name.
func (n *Network) Wget(rawURL, outName string, local func(string) (string, bool)) (WgetResult, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return WgetResult{}, fmt.Errorf("%s: Invalid URL %s: Unsupported scheme", rawURL, rawURL)
	}
	stamp := n.now().Format("2006-01-02 15:04:05")
	var b strings.Builder
	fmt.Fprintf(&b, "--%s--  %s\n", stamp, u.String())
	host := u.Hostname()
	fmt.Fprintf(&b, "Resolving %s (%s)... ", host, host)

	var resp *Response
	for hops := 0; hops < 5; hops++ {
		r, err := n.Fetch(Request{URL: u.String(), Local: local})
		if err != nil {
			if fe, ok := err.(*FetchError); ok && fe.Code == CurlCouldNotResolve {
				b.Reset()
				fmt.Fprintf(&b, "--%s--  %s\nResolving %s (%s)... failed: Name or service not known.\nwget: unable to resolve host address ‘%s’", stamp, u.String(), host, host, host)
				return WgetResult{Log: b.String()}, err
			}
			ip, _ := n.Resolve(host)
			fmt.Fprintf(&b, "%s\nConnecting to %s (%s)|%s|:%d... failed: Connection refused.", ip, host, host, ip, urlPort(u))
			return WgetResult{Log: b.String()}, err
		}
		if hops == 0 {
			fmt.Fprintf(&b, "%s\n", r.IP)
		}
		fmt.Fprintf(&b, "Connecting to %s (%s)|%s|:%d... connected.\n", host, host, r.IP, r.Port)
		fmt.Fprintf(&b, "HTTP request sent, awaiting response... %d %s\n", r.Status, http.StatusText(r.Status))
		if loc := r.Header("Location"); loc != "" {
			fmt.Fprintf(&b, "Location: %s [following]\n", loc)
			next, perr := ParseURL(loc)
			if perr != nil {
				return WgetResult{Log: b.String()}, perr
			}
			u = next
			host = u.Hostname()
			fmt.Fprintf(&b, "--%s--  %s\n", stamp, u.String())
			continue
		}
		resp = r
		break
	}
	if resp == nil {
		return WgetResult{Log: b.String()}, fmt.Errorf("20 redirections exceeded")
	}
	if resp.Status >= 400 {
		fmt.Fprintf(&b, "%s ERROR %d: %s.", stamp, resp.Status, http.StatusText(resp.Status))
		return WgetResult{Log: b.String()}, fmt.Errorf("server error %d", resp.Status)
	}

	name := outName
	if name == "" {
		name = path.Base(u.Path)
		if name == "/" || name == "." || name == "" {
			name = "index.html"
		}
	}
	body := resp.Body + "\n"
	ctype := resp.Header("Content-Type")
	if i := strings.Index(ctype, ";"); i >= 0 {
		ctype = ctype[:i]
	}
	fmt.Fprintf(&b, "Length: %d (%s) [%s]\n", len(body), compactSize(len(body)), ctype)
	fmt.Fprintf(&b, "Saving to: ‘%s’\n\n", name)
	fmt.Fprintf(&b, "%-20s100%%[===================>] %7s  --.-KB/s    in 0s\n\n", name, compactSize(len(body)))
	fmt.Fprintf(&b, "%s (%.1f MB/s) - ‘%s’ saved [%d/%d]", stamp, 1+n.opts.Rand.Float64()*40, name, len(body), len(body))
	return WgetResult{Log: b.String(), Filename: name, Body: body}, nil
}
