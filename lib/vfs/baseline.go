package vfs

import (
	"fmt"
	"strings"
	"time"
)

type baselineDir struct {
	path  string
	mode  uint32
	owner string
}

var baselineDirs = []baselineDir{
	{"/boot", 0o755, "root"},
	{"/dev", 0o755, "root"},
	{"/etc", 0o755, "root"},
	{"/etc/cron.d", 0o755, "root"},
	{"/etc/nginx", 0o755, "root"},
	{"/etc/nginx/sites-available", 0o755, "root"},
	{"/etc/nginx/sites-enabled", 0o755, "root"},
	{"/etc/ssh", 0o755, "root"},
	{"/etc/systemd", 0o755, "root"},
	{"/etc/systemd/system", 0o755, "root"},
	{"/home", 0o755, "root"},
	{"/home/student", 0o750, "student"},
	{"/home/student/.ssh", 0o700, "student"},
	{"/home/student/documents", 0o755, "student"},
	{"/home/student/downloads", 0o755, "student"},
	{"/home/student/projects", 0o755, "student"},
	{"/home/student/scripts", 0o755, "student"},
	{"/media", 0o755, "root"},
	{"/mnt", 0o755, "root"},
	{"/opt", 0o755, "root"},
	{"/proc", 0o555, "root"},
	{"/root", 0o700, "root"},
	{"/run", 0o755, "root"},
	{"/srv", 0o755, "root"},
	{"/sys", 0o555, "root"},
	{"/tmp", 0o777, "root"},
	{"/usr", 0o755, "root"},
	{"/usr/bin", 0o755, "root"},
	{"/usr/lib", 0o755, "root"},
	{"/usr/local", 0o755, "root"},
	{"/usr/local/bin", 0o755, "root"},
	{"/usr/sbin", 0o755, "root"},
	{"/usr/share", 0o755, "root"},
	{"/usr/share/doc", 0o755, "root"},
	{"/var", 0o755, "root"},
	{"/var/backups", 0o755, "root"},
	{"/var/cache", 0o755, "root"},
	{"/var/lib", 0o755, "root"},
	{"/var/lib/mysql", 0o700, "mysql"},
	{"/var/log", 0o775, "root"},
	{"/var/log/apt", 0o755, "root"},
	{"/var/log/nginx", 0o755, "www-data"},
	{"/var/tmp", 0o777, "root"},
	{"/var/www", 0o755, "root"},
	{"/var/www/html", 0o755, "www-data"},
}

var baselineLinks = map[string]string{
	"/bin":  "usr/bin",
	"/sbin": "usr/sbin",
	"/lib":  "usr/lib",
}

// UsrBin lists the executables installed in /usr/bin.
var UsrBin = []string{
	"awk", "base64", "basename", "bash", "cal", "cat", "chgrp", "chmod", "chown", "clear",
	"cp", "curl", "cut", "date", "df", "diff", "dig", "dirname", "du", "echo", "env", "false",
	"file", "find", "free", "grep", "groups", "head", "host", "hostname", "id", "journalctl",
	"kill", "killall", "last", "less", "ln", "ls", "lsof", "man", "mkdir", "more",
	"mv", "nano", "nc", "netstat", "nl", "nmap", "nslookup", "passwd", "pgrep", "ping",
	"pkill", "printenv", "printf", "ps", "pwd", "python3", "realpath", "rev", "rm", "rmdir",
	"sed", "seq", "sleep", "sort", "ss", "ssh", "stat", "su", "sudo", "systemctl",
	"tail", "tee", "top", "touch", "tr", "traceroute", "tree", "true", "uname", "uniq",
	"uptime", "vi", "vim", "w", "watch", "wc", "wget", "which", "who", "whoami",
	"xargs",
}

// UsrSbin lists the administrative executables installed in /usr/sbin.
var UsrSbin = []string{
	"arp", "groupadd", "ifconfig", "ip", "iptables", "nologin", "route", "service",
	"sshd", "useradd", "usermod",
}

func baselineUsers() map[int]*User {
	users := []*User{
		{UID: 0, GID: 0, Name: "root", Gecos: "root", Home: "/root", Shell: "/bin/bash"},
		{UID: 1, GID: 1, Name: "daemon", Gecos: "daemon", Home: "/usr/sbin", Shell: "/usr/sbin/nologin"},
		{UID: 33, GID: 33, Name: "www-data", Gecos: "www-data", Home: "/var/www", Shell: "/usr/sbin/nologin"},
		{UID: 104, GID: 110, Name: "syslog", Gecos: "", Home: "/home/syslog", Shell: "/usr/sbin/nologin"},
		{UID: 113, GID: 118, Name: "mysql", Gecos: "MySQL Server,,,", Home: "/nonexistent", Shell: "/bin/false"},
		{UID: 1000, GID: 1000, Name: "student", Gecos: "Student,,,", Home: "/home/student", Shell: "/bin/bash", Groups: []int{4, 24, 27, 1001}},
		{UID: 65534, GID: 65534, Name: "nobody", Gecos: "nobody", Home: "/nonexistent", Shell: "/usr/sbin/nologin"},
	}
	out := make(map[int]*User, len(users))
	for _, u := range users {
		out[u.UID] = u
	}
	return out
}

func baselineGroups() map[int]*Group {
	groups := []*Group{
		{0, "root"}, {1, "daemon"}, {4, "adm"}, {24, "cdrom"}, {27, "sudo"}, {33, "www-data"},
		{42, "shadow"}, {110, "syslog"}, {118, "mysql"}, {1000, "student"}, {1001, "developers"},
		{65534, "nogroup"},
	}
	out := make(map[int]*Group, len(groups))
	for _, g := range groups {
		out[g.GID] = g
	}
	return out
}

type baselineFile struct {
	path    string
	mode    uint32
	owner   string
	group   string
	content string
}

// buildBaseline populates an empty FS with the canonical tree, registries and
// identity. It runs as root and hands the session to the configured user.
func (fs *FS) buildBaseline() {
	maxFile, maxNodes := fs.opts.MaxFileSize, fs.opts.MaxNodes
	fs.opts.MaxFileSize, fs.opts.MaxNodes = 0, 0
	defer func() { fs.opts.MaxFileSize, fs.opts.MaxNodes = maxFile, maxNodes }()

	fs.hostname = fs.opts.Hostname
	fs.users = baselineUsers()
	fs.groups = baselineGroups()
	fs.uid = 0
	fs.root = fs.newNode(TypeDir, "", 0o755)
	fs.nodes = 1
	fs.cwd = "/"

	for _, d := range baselineDirs {
		_ = fs.MkdirAll(d.path)
		fs.own(d.path, d.mode, d.owner, d.owner)
	}
	for link, target := range baselineLinks {
		_ = fs.Symlink(target, link)
	}
	for _, f := range fs.baselineFiles() {
		_ = fs.WriteFileMode(f.path, f.content, f.mode)
		group := f.group
		if group == "" {
			group = f.owner
		}
		fs.own(f.path, f.mode, f.owner, group)
	}
	for _, name := range UsrBin {
		_ = fs.WriteFileMode("/usr/bin/"+name, elfStub(name), 0o755)
	}
	for _, name := range UsrSbin {
		_ = fs.WriteFileMode("/usr/sbin/"+name, elfStub(name), 0o755)
	}
	fs.syncAccounts()

	if u, ok := fs.LookupUser(fs.opts.User); ok {
		fs.uid = u.UID
		fs.cwd = u.Home
	} else if u, ok := fs.LookupUser(DefaultUser); ok {
		fs.uid = u.UID
		fs.cwd = u.Home
	}
}

func (fs *FS) own(p string, mode uint32, owner, group string) {
	n, ok := fs.Lookup(p)
	if !ok {
		return
	}
	n.Mode = mode
	if u, ok := fs.LookupUser(owner); ok {
		n.UID = u.UID
	}
	if g, ok := fs.LookupGroup(group); ok {
		n.GID = g.GID
	} else if u, ok := fs.LookupUser(owner); ok {
		n.GID = u.GID
	}
}

func elfStub(name string) string {
	return "\x7fELF\x02\x01\x01\x00" + name + "\n"
}

func (fs *FS) logStamp(minutesAgo int) string {
	return fs.Now().Add(-time.Duration(minutesAgo) * time.Minute).Format(time.Stamp)
}

func (fs *FS) logLines(lines [][2]string, minutesAgo []int) string {
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "%s %s %s: %s\n", fs.logStamp(minutesAgo[i]), fs.hostname, l[0], l[1])
	}
	return b.String()
}

func (fs *FS) baselineFiles() []baselineFile {
	h := fs.hostname
	syslog := fs.logLines([][2]string{
		{"kernel", "[    0.000000] Linux version 5.15.0-91-generic (buildd@lcy02-amd64-045) (gcc (Ubuntu 11.4.0-1ubuntu1~22.04) 11.4.0) #101-Ubuntu SMP"},
		{"systemd[1]", "Started systemd-journald.service - Journal Service."},
		{"systemd-resolved[523]", "Using system hostname '" + h + "'."},
		{"systemd[1]", "Started systemd-resolved.service - Network Name Resolution."},
		{"systemd[1]", "Started cron.service - Regular background program processing daemon."},
		{"cron[640]", "(CRON) INFO (Running @reboot jobs)"},
		{"systemd[1]", "Started ssh.service - OpenBSD Secure Shell server."},
		{"sshd[812]", "Server listening on 0.0.0.0 port 22."},
		{"systemd[1]", "Started nginx.service - A high performance web server and a reverse proxy server."},
		{"systemd[1]", "Starting mysql.service - MySQL Community Server..."},
		{"mysqld[1102]", "/usr/sbin/mysqld: ready for connections. Version: '8.0.35-0ubuntu0.22.04.1'  socket: '/var/run/mysqld/mysqld.sock'  port: 3306"},
		{"systemd[1]", "Started mysql.service - MySQL Community Server."},
		{"systemd[1]", "Starting apache2.service - The Apache HTTP Server..."},
		{"apache2[1180]", "(98)Address already in use: AH00072: make_sock: could not bind to address 0.0.0.0:80"},
		{"systemd[1]", "apache2.service: Failed with result 'exit-code'."},
		{"systemd[1]", "Failed to start apache2.service - The Apache HTTP Server."},
		{"CRON[2101]", "(root) CMD (test -x /usr/sbin/anacron || ( cd / && run-parts --report /etc/cron.daily ))"},
		{"systemd[1]", "Started sysstat-collect.service - system activity accounting tool."},
	}, []int{240, 240, 239, 239, 239, 239, 238, 238, 238, 238, 237, 237, 237, 237, 237, 237, 60, 10})

	authLog := fs.logLines([][2]string{
		{"sshd[812]", "Server listening on 0.0.0.0 port 22."},
		{"sshd[1874]", "Failed password for invalid user admin from 203.0.113.45 port 52144 ssh2"},
		{"sshd[1874]", "Failed password for invalid user admin from 203.0.113.45 port 52150 ssh2"},
		{"sshd[1881]", "Failed password for root from 203.0.113.45 port 52198 ssh2"},
		{"sshd[1902]", "Accepted publickey for student from 192.168.1.50 port 51022 ssh2: ED25519 SHA256:q8Zk1yV0d3mN2w"},
		{"sshd[1902]", "pam_unix(sshd:session): session opened for user student(uid=1000) by (uid=0)"},
		{"sudo", "student : TTY=pts/0 ; PWD=/home/student ; USER=root ; COMMAND=/usr/bin/apt update"},
	}, []int{238, 150, 150, 149, 30, 30, 25})

	kernLog := fs.logLines([][2]string{
		{"kernel", "[    0.000000] Command line: BOOT_IMAGE=/boot/vmlinuz-5.15.0-91-generic root=/dev/sda1 ro quiet splash"},
		{"kernel", "[    0.412233] Memory: 3982144K/4193784K available"},
		{"kernel", "[    1.902871] EXT4-fs (sda1): mounted filesystem with ordered data mode. Opts: (null)"},
		{"kernel", "[    3.118021] e1000: eth0 NIC Link is Up 1000 Mbps Full Duplex, Flow Control: RX"},
	}, []int{240, 240, 240, 240})

	return []baselineFile{
		{"/etc/hostname", 0o644, "root", "", h + "\n"},
		{"/etc/hosts", 0o644, "root", "", "127.0.0.1\tlocalhost\n127.0.1.1\t" + h + "\n192.168.1.1\trouter\n192.168.1.10\twebserver\n192.168.1.20\tdb-server\n192.168.1.30\tfileserver\n\n# The following lines are desirable for IPv6 capable hosts\n::1     ip6-localhost ip6-loopback\n"},
		{"/etc/os-release", 0o644, "root", "", "PRETTY_NAME=\"Ubuntu 22.04.3 LTS\"\nNAME=\"Ubuntu\"\nVERSION_ID=\"22.04\"\nVERSION=\"22.04.3 LTS (Jammy Jellyfish)\"\nVERSION_CODENAME=jammy\nID=ubuntu\nID_LIKE=debian\nHOME_URL=\"https://www.ubuntu.com/\"\n"},
		{"/etc/issue", 0o644, "root", "", "Ubuntu 22.04.3 LTS \\n \\l\n"},
		{"/etc/motd", 0o644, "root", "", "Welcome to the Linux Lab!\n\nType 'help' to list the available commands.\n"},
		{"/etc/resolv.conf", 0o644, "root", "", "nameserver 127.0.0.53\noptions edns0 trust-ad\nsearch lab.local\n"},
		{"/etc/fstab", 0o644, "root", "", "# <file system> <mount point>   <type>  <options>       <dump>  <pass>\nUUID=3f1c2b7e-9a41-4c55-8d0e-2f6a1b9c7d10 /               ext4    errors=remount-ro 0       1\n/swapfile                                 none            swap    sw              0       0\n"},
		{"/etc/shells", 0o644, "root", "", "# /etc/shells: valid login shells\n/bin/sh\n/bin/bash\n/usr/bin/bash\n"},
		{"/etc/timezone", 0o644, "root", "", "Etc/UTC\n"},
		{"/etc/environment", 0o644, "root", "", "PATH=\"/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin\"\n"},
		{"/etc/shadow", 0o640, "root", "shadow", "root:*:19700:0:99999:7:::\ndaemon:*:19700:0:99999:7:::\nwww-data:*:19700:0:99999:7:::\nstudent:$y$j9T$Qe4bS0m2$K9c1nq9Zk3:19700:0:99999:7:::\n"},
		{"/etc/sudoers", 0o440, "root", "", "Defaults\tenv_reset\nroot\tALL=(ALL:ALL) ALL\n%sudo\tALL=(ALL:ALL) ALL\n"},
		{"/etc/crontab", 0o644, "root", "", "SHELL=/bin/sh\nPATH=/usr/local/sbin:/usr/local/bin:/sbin:/bin:/usr/sbin:/usr/bin\n\n# m h dom mon dow user\tcommand\n17 *\t* * *\troot\tcd / && run-parts --report /etc/cron.hourly\n25 6\t* * *\troot\ttest -x /usr/sbin/anacron || ( cd / && run-parts --report /etc/cron.daily )\n"},
		{"/etc/services", 0o644, "root", "", "ftp\t\t21/tcp\nssh\t\t22/tcp\ntelnet\t\t23/tcp\nsmtp\t\t25/tcp\tmail\ndomain\t\t53/tcp\ndomain\t\t53/udp\nhttp\t\t80/tcp\twww\nhttps\t\t443/tcp\nmicrosoft-ds\t445/tcp\nmysql\t\t3306/tcp\npostgresql\t5432/tcp\n"},
		{"/etc/profile", 0o644, "root", "", "if [ -d /etc/profile.d ]; then\n  for i in /etc/profile.d/*.sh; do\n    [ -r $i ] && . $i\n  done\nfi\n"},
		{"/etc/ssh/sshd_config", 0o644, "root", "", "Port 22\nPermitRootLogin prohibit-password\nPubkeyAuthentication yes\nPasswordAuthentication yes\nX11Forwarding yes\nSubsystem sftp /usr/lib/openssh/sftp-server\n"},
		{"/etc/nginx/nginx.conf", 0o644, "root", "", "user www-data;\nworker_processes auto;\npid /run/nginx.pid;\n\nevents {\n\tworker_connections 768;\n}\n\nhttp {\n\tsendfile on;\n\taccess_log /var/log/nginx/access.log;\n\terror_log /var/log/nginx/error.log;\n\tinclude /etc/nginx/sites-enabled/*;\n}\n"},
		{"/etc/nginx/sites-available/default", 0o644, "root", "", "server {\n\tlisten 80 default_server;\n\troot /var/www/html;\n\tindex index.html;\n\tserver_name _;\n\tlocation / {\n\t\ttry_files $uri $uri/ =404;\n\t}\n}\n"},
		{"/home/student/.bashrc", 0o644, "student", "", "# ~/.bashrc: executed by bash(1) for non-login shells.\nHISTSIZE=1000\nHISTFILESIZE=2000\nalias ll='ls -alF'\nalias la='ls -A'\nalias l='ls -CF'\nexport EDITOR=nano\n"},
		{"/home/student/.profile", 0o644, "student", "", "# ~/.profile: executed by the command interpreter for login shells.\nif [ -n \"$BASH_VERSION\" ]; then\n    if [ -f \"$HOME/.bashrc\" ]; then\n\t. \"$HOME/.bashrc\"\n    fi\nfi\n"},
		{"/home/student/.ssh/authorized_keys", 0o600, "student", "", "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIJ3kq0xw7Vb2mZ5lHq4nT8s1pUeF0cY6dR9gK2wLhM3a student@laptop\n"},
		{"/home/student/documents/notes.txt", 0o644, "student", "", "Linux Lab notes\n===============\n- ls lists directory contents\n- cd changes the working directory\n- pwd prints the working directory\n- man <command> shows the manual\n"},
		{"/home/student/documents/report.txt", 0o644, "student", "", "Quarterly server report\nweb01 running\ndb01 running\ncache01 stopped\nweb02 running\nbackup01 failed\n"},
		{"/home/student/documents/todo.txt", 0o644, "student", "", "review firewall rules\nrotate nginx logs\nupdate packages\nreview firewall rules\n"},
		{"/home/student/projects/README.md", 0o644, "student", "", "# Projects\n\nScratch space for lab exercises.\n"},
		{"/home/student/projects/app.py", 0o644, "student", "", "#!/usr/bin/env python3\n\ndef main():\n    print(\"hello from the lab\")\n\n\nif __name__ == \"__main__\":\n    main()\n"},
		{"/home/student/scripts/backup.sh", 0o755, "student", "", "#!/bin/bash\n# Nightly backup of the documents folder\ntar -czf /var/backups/documents-$(date +%F).tar.gz ~/documents\necho \"backup complete\"\n"},
		{"/root/.bashrc", 0o644, "root", "", "# ~/.bashrc for root\nexport PS1='\\u@\\h:\\w\\$ '\n"},
		{"/var/log/syslog", 0o640, "syslog", "adm", syslog},
		{"/var/log/auth.log", 0o640, "syslog", "adm", authLog},
		{"/var/log/kern.log", 0o640, "syslog", "adm", kernLog},
		{"/var/log/dpkg.log", 0o644, "root", "", "2024-01-08 09:12:44 install nginx:amd64 <none> 1.18.0-6ubuntu14.4\n2024-01-08 09:12:51 status installed nginx:amd64 1.18.0-6ubuntu14.4\n2024-01-08 09:14:02 install mysql-server:all <none> 8.0.35-0ubuntu0.22.04.1\n"},
		{"/var/log/nginx/access.log", 0o640, "www-data", "adm", "192.168.1.50 - - [08/Jan/2024:10:15:32 +0000] \"GET / HTTP/1.1\" 200 612 \"-\" \"Mozilla/5.0\"\n192.168.1.50 - - [08/Jan/2024:10:15:33 +0000] \"GET /favicon.ico HTTP/1.1\" 404 162 \"-\" \"Mozilla/5.0\"\n203.0.113.45 - - [08/Jan/2024:11:02:10 +0000] \"GET /admin HTTP/1.1\" 404 162 \"-\" \"curl/7.81.0\"\n192.168.1.51 - - [08/Jan/2024:11:20:47 +0000] \"POST /api/login HTTP/1.1\" 200 48 \"-\" \"python-requests/2.31\"\n"},
		{"/var/log/nginx/error.log", 0o640, "www-data", "adm", "2024/01/08 11:02:10 [error] 1025#1025: *7 open() \"/var/www/html/admin\" failed (2: No such file or directory), client: 203.0.113.45, server: _, request: \"GET /admin HTTP/1.1\"\n"},
		{"/var/www/html/index.html", 0o644, "www-data", "", "<!DOCTYPE html>\n<html>\n<head><title>Welcome to nginx!</title></head>\n<body>\n<h1>Welcome to nginx!</h1>\n<p>If you see this page, the nginx web server is successfully installed.</p>\n</body>\n</html>\n"},
		{"/boot/vmlinuz-5.15.0-91-generic", 0o600, "root", "", "\x7fELF vmlinuz\n"},
		{"/dev/null", 0o666, "root", "", ""},
		{"/dev/zero", 0o666, "root", "", ""},
		{"/dev/random", 0o666, "root", "", ""},
		{"/proc/version", 0o444, "root", "", "Linux version 5.15.0-91-generic (buildd@lcy02-amd64-045) (gcc (Ubuntu 11.4.0-1ubuntu1~22.04) 11.4.0, GNU ld (GNU Binutils for Ubuntu) 2.38) #101-Ubuntu SMP\n"},
		{"/proc/cpuinfo", 0o444, "root", "", "processor\t: 0\nvendor_id\t: GenuineIntel\nmodel name\t: Intel(R) Xeon(R) CPU E5-2680 v4 @ 2.40GHz\ncpu MHz\t\t: 2399.998\ncache size\t: 35840 KB\ncpu cores\t: 2\n\nprocessor\t: 1\nvendor_id\t: GenuineIntel\nmodel name\t: Intel(R) Xeon(R) CPU E5-2680 v4 @ 2.40GHz\ncpu MHz\t\t: 2399.998\ncache size\t: 35840 KB\ncpu cores\t: 2\n"},
		{"/proc/meminfo", 0o444, "root", "", "MemTotal:        4030124 kB\nMemFree:         1873408 kB\nMemAvailable:    2905660 kB\nBuffers:          102416 kB\nCached:           987340 kB\nSwapTotal:       2097148 kB\nSwapFree:        2097148 kB\n"},
	}
}
