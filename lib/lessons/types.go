package lessons

import "slices"

// Lesson is one lab exercise: the machine state it starts from and the tasks
// the learner works through.
type Lesson struct {
	// ID is the stable identifier used by the API and the terminal client.
	ID string `json:"id"`

	// Title is a short human-readable name.
	Title string `json:"title"`

	// Description introduces the exercise.
	Description string `json:"description,omitempty"`

	// Lab names the product area the lesson belongs to ("linux" or "network").
	Lab string `json:"lab,omitempty"`

	// Hostname overrides the lab machine's host name.
	Hostname string `json:"hostname,omitempty"`

	// Cwd is the working directory the session starts in. Defaults to the
	// user's home.
	Cwd string `json:"cwd,omitempty"`

	// Env adds or overrides environment variables of the login shell.
	Env map[string]string `json:"env,omitempty"`

	Groups   []string  `json:"groups,omitempty"`
	Users    []User    `json:"users,omitempty"`
	Dirs     []Dir     `json:"dirs,omitempty"`
	Files    []File    `json:"files,omitempty"`
	Hosts    []Host    `json:"hosts,omitempty"`
	Records  []string  `json:"dns_records,omitempty"`
	Pages    []Page    `json:"pages,omitempty"`
	Firewall []string  `json:"firewall,omitempty"`
	Services []Service `json:"services,omitempty"`

	Tasks []Task `json:"tasks"`
}

// User is an account the lesson adds to the baseline registry.
type User struct {
	Name   string   `json:"name"`
	Home   string   `json:"home,omitempty"`
	Shell  string   `json:"shell,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

// Dir is a directory created before the session starts.
type Dir struct {
	Path  string `json:"path"`
	Mode  string `json:"mode,omitempty"`
	Owner string `json:"owner,omitempty"`
	Group string `json:"group,omitempty"`
}

// File is a file created before the session starts. Content and
// ContentFrom are mutually exclusive; ContentFrom names a file relative to
// the directory the fixture was loaded from.
type File struct {
	Path        string `json:"path"`
	Content     string `json:"content,omitempty"`
	ContentFrom string `json:"content_from,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Group       string `json:"group,omitempty"`
}

// Host is a machine added to the simulated LAN.
type Host struct {
	Name      string `json:"name"`
	IP        string `json:"ip"`
	MAC       string `json:"mac,omitempty"`
	OS        string `json:"os,omitempty"`
	OpenPorts []int  `json:"open_ports,omitempty"`
	Down      bool   `json:"down,omitempty"`
}

// Page is the HTTP response a host serves to curl and wget.
type Page struct {
	Host        string `json:"host"`
	Server      string `json:"server,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body,omitempty"`
	Location    string `json:"location,omitempty"`
}

// Service fixes the state of a systemd unit at session start.
type Service struct {
	Name string `json:"name"`
	// State is one of "active", "inactive" or "failed".
	State string `json:"state,omitempty"`
	// Enabled, when set, is "enabled" or "disabled".
	Enabled string `json:"enabled,omitempty"`
}

// Service states a fixture may request.
const (
	ServiceActive   = "active"
	ServiceInactive = "inactive"
	ServiceFailed   = "failed"
)

// Task is one step of a lesson.
type Task struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Hint        string     `json:"hint,omitempty"`
	Validation  Validation `json:"validation"`
}

// Kind is a validation type.
type Kind string

// Validation kinds. Path arguments are resolved like shell arguments, so
// "~" and relative paths work.
const (
	CommandExact     Kind = "command_exact"
	CommandPrefix    Kind = "command_prefix"
	CommandContains  Kind = "command_contains"
	OutputContains   Kind = "output_contains"
	PathExists       Kind = "path_exists"
	PathMissing      Kind = "path_missing"
	CwdEquals        Kind = "cwd_equals"
	PermissionEquals Kind = "permission_equals" // check is "<path>:<octal>"
	FileContains     Kind = "file_contains"     // check is "<path>:<text>"
)

// Kinds lists every validation kind the checker implements.
var Kinds = []Kind{
	CommandExact, CommandPrefix, CommandContains, OutputContains,
	PathExists, PathMissing, CwdEquals, PermissionEquals, FileContains,
}

// Valid reports whether the checker implements k.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// Validation is a task's completion test.
type Validation struct {
	Type  Kind   `json:"type"`
	Check string `json:"check"`
}

// Summary is the listing form of a lesson.
type Summary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Lab         string `json:"lab,omitempty"`
	Tasks       int    `json:"tasks"`
}

// Summary returns the listing form of l.
func (l *Lesson) Summary() Summary {
	return Summary{ID: l.ID, Title: l.Title, Description: l.Description, Lab: l.Lab, Tasks: len(l.Tasks)}
}

// Task returns the task at index i.
func (l *Lesson) Task(i int) (Task, error) {
	if i < 0 || i >= len(l.Tasks) {
		return Task{}, ErrTaskIndex
	}
	return l.Tasks[i], nil
}
