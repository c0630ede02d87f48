// Package shell is the command interpreter of the lab. A Shell owns one
// Session: the filesystem, network and host it mutates, plus the environment,
// aliases and history that live between command lines.
//
// Execute never fails. Every input, including syntax errors and internal
// faults in a command, produces printable text.
package shell

import (
	"maps"
	"strings"
	"time"

	"github.com/onkernel/termlab/lib/entropy"
	"github.com/onkernel/termlab/lib/system"
	"github.com/onkernel/termlab/lib/vfs"
	"github.com/onkernel/termlab/lib/vnet"
)

// ClearScreen is what Execute returns when the transcript should be erased.
// It is the escape sequence clear(1) writes, so a real terminal renders it
// correctly too. When further output follows a clear, it is appended after
// this prefix.
const ClearScreen = "\x1b[H\x1b[2J"

// maxDepth bounds nested execution through scripts, sudo, xargs and watch.
const maxDepth = 8

// maxDispatches bounds the commands one Run may execute, scripts and
// helpers included.
const maxDispatches = 10000

// Rand is the cosmetic random source commands draw from.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Options configures a Shell.
type Options struct {
	Clock   func() time.Time
	Rand    Rand
	Aliases map[string]string
}

// DefaultAliases are defined in every fresh session, as ~/.bashrc would.
var DefaultAliases = map[string]string{
	"ll":    "ls -alF",
	"la":    "ls -A",
	"l":     "ls -CF",
	"grep":  "grep --color=auto",
	"egrep": "grep -E",
}

// Session is the state one interpreter works on.
type Session struct {
	FS      *vfs.FS
	Net     *vnet.Network
	Host    *system.Host
	Env     map[string]string
	Aliases map[string]string
	History []string
	// Status is the exit status of the last pipeline, as $? reports it.
	Status int

	clock func() time.Time
	rand  Rand
	// identities is the stack su pushes onto; exit pops it.
	identities []identity
	depth      int
	dispatches int
}

// identity is a saved login frame restored by exit.
type identity struct {
	uid int
	cwd string
}

// Result is the outcome of one command line.
type Result struct {
	Output string
	Clear  bool
	Status int
}

// Shell executes command lines against a Session.
type Shell struct {
	s *Session
}

// New builds a shell over the given machine. host may be nil, in which case
// the system commands report that no host is attached.
func New(fs *vfs.FS, net *vnet.Network, host *system.Host, opts Options) *Shell {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = entropy.New(entropy.NewSeed())
	}
	if opts.Aliases == nil {
		opts.Aliases = DefaultAliases
	}
	s := &Session{
		FS:      fs,
		Net:     net,
		Host:    host,
		Aliases: maps.Clone(opts.Aliases),
		clock:   opts.Clock,
		rand:    opts.Rand,
	}
	s.Env = s.baseEnv()
	return &Shell{s: s}
}

// Session exposes the shell's state for introspection.
func (sh *Shell) Session() *Session { return sh.s }

// Execute runs one line and returns the text to show, or ClearScreen.
func (sh *Shell) Execute(line string) string {
	r := sh.Run(line)
	if r.Clear {
		if r.Output == "" {
			return ClearScreen
		}
		return ClearScreen + r.Output
	}
	return r.Output
}

// Run is Execute with the clear flag and exit status kept apart.
func (sh *Shell) Run(line string) Result {
	line = strings.TrimSpace(line)
	if line == "" {
		return Result{}
	}
	s := sh.s
	s.History = append(s.History, line)
	s.dispatches = 0
	var t transcript
	s.runLine(line, &t)
	return Result{Output: t.String(), Clear: t.clear, Status: s.Status}
}

// Prompt renders the prompt for the current identity and directory.
func (sh *Shell) Prompt() string { return sh.s.FS.Prompt() }

// Cwd returns the working directory.
func (sh *Shell) Cwd() string { return sh.s.FS.Cwd() }

func (s *Session) now() time.Time { return s.clock() }

func (s *Session) baseEnv() map[string]string {
	u := s.FS.CurrentUser()
	return map[string]string{
		"HOME":     u.Home,
		"USER":     u.Name,
		"LOGNAME":  u.Name,
		"SHELL":    "/bin/bash",
		"PATH":     "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"PWD":      s.FS.Cwd(),
		"HOSTNAME": s.FS.Hostname(),
		"TERM":     "xterm-256color",
		"LANG":     "C.UTF-8",
		"SHLVL":    "1",
	}
}

// syncIdentity refreshes the variables derived from the current user.
func (s *Session) syncIdentity() {
	u := s.FS.CurrentUser()
	s.Env["USER"] = u.Name
	s.Env["LOGNAME"] = u.Name
	s.Env["HOME"] = u.Home
}

// transcript accumulates what the terminal shows for one line.
type transcript struct {
	b     strings.Builder
	clear bool
}

func (t *transcript) write(s string) {
	if s == "" {
		return
	}
	t.b.WriteString(s)
	if !strings.HasSuffix(s, "\n") {
		t.b.WriteByte('\n')
	}
}

func (t *transcript) reset() {
	t.b.Reset()
	t.clear = true
}

func (t *transcript) String() string {
	return strings.TrimSuffix(t.b.String(), "\n")
}
