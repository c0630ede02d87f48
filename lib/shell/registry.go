package shell

import "sort"

// Output is what one command produces. Stdout and Stderr are
// newline-terminated text; Clear asks the terminal to erase its transcript
// before showing anything that follows.
type Output struct {
	Stdout string
	Stderr string
	Status int
	Clear  bool
}

// Invocation is one expanded command ready to run.
type Invocation struct {
	Name string
	Args []string
	// Stdin holds piped or redirected input; Piped tells an empty pipe apart
	// from no pipe at all.
	Stdin string
	Piped bool
	// TTY reports that stdout reaches the terminal rather than a pipe or file.
	TTY bool
}

// Command is a builtin.
type Command interface {
	Run(s *Session, inv *Invocation) Output
}

// CommandFunc adapts a function to Command.
type CommandFunc func(s *Session, inv *Invocation) Output

func (f CommandFunc) Run(s *Session, inv *Invocation) Output { return f(s, inv) }

// Kind enumerates every builtin. The registry is an array indexed by Kind so
// a missing name or handler is caught by TestRegistryComplete.
type Kind int

const (
	KindCd Kind = iota
	KindPwd
	KindLs
	KindTree

	KindCat
	KindTouch
	KindMkdir
	KindRm
	KindRmdir
	KindCp
	KindMv
	KindLn
	KindFile
	KindStat
	KindFind
	KindWhich
	KindDu
	KindDf
	KindDiff
	KindBasename
	KindDirname
	KindRealpath

	KindEcho
	KindPrintf
	KindHead
	KindTail
	KindGrep
	KindWc
	KindSort
	KindUniq
	KindCut
	KindTr
	KindSed
	KindAwk
	KindTee
	KindNl
	KindRev
	KindSeq
	KindXargs
	KindLess
	KindMore

	KindChmod
	KindChown
	KindChgrp
	KindID
	KindWhoami
	KindGroups
	KindSu
	KindSudo
	KindPasswd
	KindUseradd
	KindGroupadd
	KindUsermod

	KindUname
	KindHostname
	KindUptime
	KindFree
	KindTop
	KindPs
	KindKill
	KindPgrep
	KindPkill
	KindKillall
	KindDate
	KindCal
	KindW
	KindWho
	KindLast
	KindSystemctl
	KindService
	KindJournalctl

	KindEnv
	KindExport
	KindSet
	KindUnset
	KindPrintenv
	KindAlias
	KindUnalias
	KindHistory
	KindType

	KindPing
	KindTraceroute
	KindDig
	KindNslookup
	KindHost
	KindCurl
	KindWget
	KindIP
	KindIfconfig
	KindNetstat
	KindSs
	KindIptables
	KindRoute
	KindArp
	KindNmap
	KindNc
	KindSSH
	KindLsof

	KindClear
	KindMan
	KindHelp
	KindTrue
	KindFalse
	KindExit
	KindSleep
	KindWatch
	KindNano
	KindVi
	KindVim

	kindCount
)

var kindNames = [kindCount]string{
	KindCd: "cd", KindPwd: "pwd", KindLs: "ls", KindTree: "tree",

	KindCat: "cat", KindTouch: "touch", KindMkdir: "mkdir", KindRm: "rm", KindRmdir: "rmdir",
	KindCp: "cp", KindMv: "mv", KindLn: "ln", KindFile: "file", KindStat: "stat", KindFind: "find",
	KindWhich: "which", KindDu: "du", KindDf: "df", KindDiff: "diff", KindBasename: "basename",
	KindDirname: "dirname", KindRealpath: "realpath",

	KindEcho: "echo", KindPrintf: "printf", KindHead: "head", KindTail: "tail", KindGrep: "grep",
	KindWc: "wc", KindSort: "sort", KindUniq: "uniq", KindCut: "cut", KindTr: "tr", KindSed: "sed",
	KindAwk: "awk", KindTee: "tee", KindNl: "nl", KindRev: "rev", KindSeq: "seq", KindXargs: "xargs",
	KindLess: "less", KindMore: "more",

	KindChmod: "chmod", KindChown: "chown", KindChgrp: "chgrp", KindID: "id", KindWhoami: "whoami",
	KindGroups: "groups", KindSu: "su", KindSudo: "sudo", KindPasswd: "passwd", KindUseradd: "useradd",
	KindGroupadd: "groupadd", KindUsermod: "usermod",

	KindUname: "uname", KindHostname: "hostname", KindUptime: "uptime", KindFree: "free", KindTop: "top",
	KindPs: "ps", KindKill: "kill", KindPgrep: "pgrep", KindPkill: "pkill", KindKillall: "killall",
	KindDate: "date", KindCal: "cal", KindW: "w", KindWho: "who", KindLast: "last",
	KindSystemctl: "systemctl", KindService: "service", KindJournalctl: "journalctl",

	KindEnv: "env", KindExport: "export", KindSet: "set", KindUnset: "unset", KindPrintenv: "printenv",
	KindAlias: "alias", KindUnalias: "unalias", KindHistory: "history", KindType: "type",

	KindPing: "ping", KindTraceroute: "traceroute", KindDig: "dig", KindNslookup: "nslookup",
	KindHost: "host", KindCurl: "curl", KindWget: "wget", KindIP: "ip", KindIfconfig: "ifconfig",
	KindNetstat: "netstat", KindSs: "ss", KindIptables: "iptables", KindRoute: "route", KindArp: "arp",
	KindNmap: "nmap", KindNc: "nc", KindSSH: "ssh", KindLsof: "lsof",

	KindClear: "clear", KindMan: "man", KindHelp: "help", KindTrue: "true", KindFalse: "false",
	KindExit: "exit", KindSleep: "sleep", KindWatch: "watch", KindNano: "nano", KindVi: "vi", KindVim: "vim",
}

// builtins are the names bash itself implements; type and which report them
// differently from programs in /usr/bin.
var builtins = map[Kind]bool{
	KindCd: true, KindPwd: true, KindEcho: true, KindPrintf: true, KindExport: true, KindSet: true,
	KindUnset: true, KindAlias: true, KindUnalias: true, KindHistory: true, KindType: true,
	KindTrue: true, KindFalse: true, KindExit: true, KindKill: true, KindHelp: true,
}

var (
	commands [kindCount]Command
	byName   map[string]Kind
)

func init() {
	commands = [kindCount]Command{
		KindCd: CommandFunc(runCd), KindPwd: CommandFunc(runPwd), KindLs: CommandFunc(runLs), KindTree: CommandFunc(runTree),

		KindCat: CommandFunc(runCat), KindTouch: CommandFunc(runTouch), KindMkdir: CommandFunc(runMkdir),
		KindRm: CommandFunc(runRm), KindRmdir: CommandFunc(runRmdir), KindCp: CommandFunc(runCp),
		KindMv: CommandFunc(runMv), KindLn: CommandFunc(runLn), KindFile: CommandFunc(runFile),
		KindStat: CommandFunc(runStat), KindFind: CommandFunc(runFind), KindWhich: CommandFunc(runWhich),
		KindDu: CommandFunc(runDu), KindDf: CommandFunc(runDf), KindDiff: CommandFunc(runDiff),
		KindBasename: CommandFunc(runBasename), KindDirname: CommandFunc(runDirname), KindRealpath: CommandFunc(runRealpath),

		KindEcho: CommandFunc(runEcho), KindPrintf: CommandFunc(runPrintf), KindHead: CommandFunc(runHead),
		KindTail: CommandFunc(runTail), KindGrep: CommandFunc(runGrep), KindWc: CommandFunc(runWc),
		KindSort: CommandFunc(runSort), KindUniq: CommandFunc(runUniq), KindCut: CommandFunc(runCut),
		KindTr: CommandFunc(runTr), KindSed: CommandFunc(runSed), KindAwk: CommandFunc(runAwk),
		KindTee: CommandFunc(runTee), KindNl: CommandFunc(runNl), KindRev: CommandFunc(runRev),
		KindSeq: CommandFunc(runSeq), KindXargs: CommandFunc(runXargs), KindLess: CommandFunc(runCat),
		KindMore: CommandFunc(runCat),

		KindChmod: CommandFunc(runChmod), KindChown: CommandFunc(runChown), KindChgrp: CommandFunc(runChgrp),
		KindID: CommandFunc(runID), KindWhoami: CommandFunc(runWhoami), KindGroups: CommandFunc(runGroups),
		KindSu: CommandFunc(runSu), KindSudo: CommandFunc(runSudo), KindPasswd: CommandFunc(runPasswd),
		KindUseradd: CommandFunc(runUseradd), KindGroupadd: CommandFunc(runGroupadd), KindUsermod: CommandFunc(runUsermod),

		KindUname: CommandFunc(runUname), KindHostname: CommandFunc(runHostname), KindUptime: CommandFunc(runUptime),
		KindFree: CommandFunc(runFree), KindTop: CommandFunc(runTop), KindPs: CommandFunc(runPs),
		KindKill: CommandFunc(runKill), KindPgrep: CommandFunc(runPgrep), KindPkill: CommandFunc(runPkill),
		KindKillall: CommandFunc(runKillall), KindDate: CommandFunc(runDate), KindCal: CommandFunc(runCal),
		KindW: CommandFunc(runW), KindWho: CommandFunc(runWho), KindLast: CommandFunc(runLast),
		KindSystemctl: CommandFunc(runSystemctl), KindService: CommandFunc(runService), KindJournalctl: CommandFunc(runJournalctl),

		KindEnv: CommandFunc(runEnv), KindExport: CommandFunc(runExport), KindSet: CommandFunc(runSet),
		KindUnset: CommandFunc(runUnset), KindPrintenv: CommandFunc(runPrintenv), KindAlias: CommandFunc(runAlias),
		KindUnalias: CommandFunc(runUnalias), KindHistory: CommandFunc(runHistory), KindType: CommandFunc(runType),

		KindPing: CommandFunc(runPing), KindTraceroute: CommandFunc(runTraceroute), KindDig: CommandFunc(runDig),
		KindNslookup: CommandFunc(runNslookup), KindHost: CommandFunc(runHost), KindCurl: CommandFunc(runCurl),
		KindWget: CommandFunc(runWget), KindIP: CommandFunc(runIP), KindIfconfig: CommandFunc(runIfconfig),
		KindNetstat: CommandFunc(runNetstat), KindSs: CommandFunc(runSs), KindIptables: CommandFunc(runIptables),
		KindRoute: CommandFunc(runRoute), KindArp: CommandFunc(runArp), KindNmap: CommandFunc(runNmap),
		KindNc: CommandFunc(runNc), KindSSH: CommandFunc(runSSH), KindLsof: CommandFunc(runLsof),

		KindClear: CommandFunc(runClear), KindMan: CommandFunc(runMan), KindHelp: CommandFunc(runHelp),
		KindTrue: CommandFunc(runTrue), KindFalse: CommandFunc(runFalse), KindExit: CommandFunc(runExit),
		KindSleep: CommandFunc(runSleep), KindWatch: CommandFunc(runWatch), KindNano: CommandFunc(runEditor),
		KindVi: CommandFunc(runEditor), KindVim: CommandFunc(runEditor),
	}
	byName = make(map[string]Kind, kindCount)
	for k, name := range kindNames {
		byName[name] = Kind(k)
	}
}

// String returns the command name.
func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return "unknown"
	}
	return kindNames[k]
}

// Lookup finds the builtin for a command name.
func Lookup(name string) (Kind, bool) {
	k, ok := byName[name]
	return k, ok
}

// Names lists every command name in sorted order.
func Names() []string {
	names := make([]string, 0, kindCount)
	for _, n := range kindNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
