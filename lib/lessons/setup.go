package lessons

import (
	"fmt"
	"net"
	"path"
	"strings"

	"github.com/onkernel/termlab/lib/system"
	"github.com/onkernel/termlab/lib/vfs"
	"github.com/onkernel/termlab/lib/vnet"
)

// sigkill is the signal a "failed" service fixture dies from.
const sigkill = 9

// Apply runs every setup hook of the lesson against a freshly built machine.
// The three values must belong together: host journals into fs and binds
// sockets into n.
func (l *Lesson) Apply(fs *vfs.FS, n *vnet.Network, h *system.Host) error {
	if err := l.SetupFS(fs); err != nil {
		return err
	}
	if err := l.SetupNet(n); err != nil {
		return err
	}
	return l.SetupHost(h)
}

// SetupFS adds the lesson's accounts, directories and files, then moves to
// the starting directory. It runs with the session's own identity; paths
// under the user's home default to that user, everything else to root.
func (l *Lesson) SetupFS(fs *vfs.FS) error {
	if l.Hostname != "" {
		fs.SetHostname(l.Hostname)
	}
	for _, g := range l.Groups {
		if _, ok := fs.LookupGroup(g); ok {
			continue
		}
		if _, err := fs.AddGroup(g); err != nil {
			return fmt.Errorf("group %s: %w", g, err)
		}
	}
	for _, u := range l.Users {
		_, err := fs.AddUser(u.Name, vfs.UserOptions{
			Home:       u.Home,
			Shell:      u.Shell,
			Groups:     u.Groups,
			CreateHome: true,
		})
		if err != nil {
			return fmt.Errorf("user %s: %w", u.Name, err)
		}
	}
	for _, d := range l.Dirs {
		abs := fs.ResolvePath(d.Path)
		owner, group := ownership(fs, abs, d.Owner, d.Group)
		if err := mkdirOwned(fs, abs, owner, group); err != nil {
			return fmt.Errorf("dir %s: %w", d.Path, err)
		}
		if err := chmodChown(fs, abs, d.Mode, owner, group); err != nil {
			return fmt.Errorf("dir %s: %w", d.Path, err)
		}
	}
	for _, f := range l.Files {
		abs := fs.ResolvePath(f.Path)
		owner, group := ownership(fs, abs, f.Owner, f.Group)
		if err := mkdirOwned(fs, path.Dir(abs), owner, group); err != nil {
			return fmt.Errorf("file %s: %w", f.Path, err)
		}
		if err := fs.WriteFile(abs, f.Content); err != nil {
			return fmt.Errorf("file %s: %w", f.Path, err)
		}
		if err := chmodChown(fs, abs, f.Mode, owner, group); err != nil {
			return fmt.Errorf("file %s: %w", f.Path, err)
		}
	}
	if l.Cwd != "" {
		if err := fs.Chdir(l.Cwd); err != nil {
			return fmt.Errorf("cwd: %w", err)
		}
	}
	return nil
}

// ownership fills in the default owner and group for a fixture path.
func ownership(fs *vfs.FS, abs, owner, group string) (string, string) {
	if owner == "" {
		owner = "root"
		if u := fs.CurrentUser(); abs == u.Home || strings.HasPrefix(abs, u.Home+"/") {
			owner = u.Name
		}
	}
	if group == "" {
		group = owner
		if u, ok := fs.LookupUser(owner); ok {
			group = fs.GroupName(u.GID)
		}
	}
	return owner, group
}

// mkdirOwned creates abs and any missing parents, handing each new
// directory to owner.
func mkdirOwned(fs *vfs.FS, abs, owner, group string) error {
	if abs == "/" {
		return nil
	}
	cur := ""
	for _, part := range strings.Split(strings.Trim(abs, "/"), "/") {
		cur += "/" + part
		if fs.Exists(cur) {
			continue
		}
		if err := fs.Mkdir(cur); err != nil {
			return err
		}
		if err := fs.Chown(cur, owner, group); err != nil {
			return err
		}
	}
	return nil
}

func chmodChown(fs *vfs.FS, abs, mode, owner, group string) error {
	if mode != "" {
		if err := fs.Chmod(abs, mode); err != nil {
			return err
		}
	}
	return fs.Chown(abs, owner, group)
}

// SetupNet adds the lesson's hosts, DNS records, web pages and firewall
// rules. Firewall entries are iptables argument lists such as
// "-A INPUT -p tcp --dport 8080 -j DROP".
func (l *Lesson) SetupNet(n *vnet.Network) error {
	if l.Hostname != "" {
		n.SetHostname(l.Hostname)
	}
	for _, h := range l.Hosts {
		ip := net.ParseIP(h.IP)
		if ip == nil {
			return fmt.Errorf("host %s: invalid address %q", h.Name, h.IP)
		}
		err := n.AddHost(vnet.Host{
			Name:      h.Name,
			IP:        ip,
			MAC:       h.MAC,
			OS:        h.OS,
			OpenPorts: h.OpenPorts,
			Down:      h.Down,
		})
		if err != nil {
			return fmt.Errorf("host %s: %w", h.Name, err)
		}
	}
	for _, rr := range l.Records {
		if err := n.AddRecord(rr); err != nil {
			return fmt.Errorf("dns record %q: %w", rr, err)
		}
	}
	for _, p := range l.Pages {
		n.SetPage(p.Host, vnet.Page{
			Server:      p.Server,
			ContentType: p.ContentType,
			Body:        p.Body,
			Location:    p.Location,
		})
	}
	for _, rule := range l.Firewall {
		if _, err := n.Iptables(strings.Fields(rule)); err != nil {
			return fmt.Errorf("firewall %q: %w", rule, err)
		}
	}
	return nil
}

// SetupHost brings services into the states the lesson asks for. A failed
// service is started and then loses its main process to SIGKILL, so the
// journal and systemctl status tell the same story a real crash would.
func (l *Lesson) SetupHost(h *system.Host) error {
	for _, s := range l.Services {
		var err error
		switch s.State {
		case "", ServiceActive:
			err = h.Start(s.Name)
		case ServiceInactive:
			err = h.Stop(s.Name)
		case ServiceFailed:
			if err = h.Start(s.Name); err == nil {
				var u system.Unit
				if u, err = h.Unit(s.Name); err == nil {
					err = h.Kill(u.MainPID, sigkill)
				}
			}
		default:
			err = fmt.Errorf("unknown state %q", s.State)
		}
		if err != nil {
			return fmt.Errorf("service %s: %w", s.Name, err)
		}
		switch s.Enabled {
		case "":
		case "enabled":
			_, err = h.Enable(s.Name)
		case "disabled":
			_, err = h.Disable(s.Name)
		default:
			err = fmt.Errorf("unknown enablement %q", s.Enabled)
		}
		if err != nil {
			return fmt.Errorf("service %s: %w", s.Name, err)
		}
	}
	return nil
}
