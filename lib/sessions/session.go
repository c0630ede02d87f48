package sessions

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/onkernel/termlab/lib/entropy"
	"github.com/onkernel/termlab/lib/lessons"
	"github.com/onkernel/termlab/lib/shell"
	"github.com/onkernel/termlab/lib/system"
	"github.com/onkernel/termlab/lib/vfs"
	"github.com/onkernel/termlab/lib/vnet"
)

// machine is one complete lab: filesystem, network, host and the shell
// driving them. A session swaps whole machines on reset.
type machine struct {
	fs   *vfs.FS
	net  *vnet.Network
	host *system.Host
	sh   *shell.Shell
}

// Session is one learner's lab. All access goes through its lock, so
// commands, resets and introspection never interleave.
type Session struct {
	ID        string
	Seed      string
	CreatedAt time.Time

	mu          sync.Mutex
	clock       func() time.Time
	lesson      *lessons.Lesson
	m           *machine
	lastActive  time.Time
	lastCommand string
	lastOutput  string
	passed      []bool
}

// build assembles a fresh machine for lesson (which may be nil). Each
// component draws from its own stream of the seed, so adding randomness to
// one never shifts the others.
func build(cfg Config, lesson *lessons.Lesson, seed string) (*machine, error) {
	fs := vfs.New(vfs.Options{
		Hostname:    cfg.Hostname,
		Clock:       cfg.Clock,
		MaxFileSize: cfg.MaxFileSize,
		MaxNodes:    cfg.MaxNodes,
	})
	n := vnet.New(vnet.Options{Hostname: fs.Hostname(), Clock: cfg.Clock, Rand: entropy.New(seed + "/net")})
	host := system.New(system.Options{Clock: cfg.Clock, Rand: entropy.New(seed + "/host")}, fs, n)
	if lesson != nil {
		if err := lesson.Apply(fs, n, host); err != nil {
			return nil, fmt.Errorf("apply lesson %s: %w", lesson.ID, err)
		}
	}
	sh := shell.New(fs, n, host, shell.Options{Clock: cfg.Clock, Rand: entropy.New(seed + "/shell")})
	if lesson != nil {
		env := sh.Session().Env
		for k, v := range lesson.Env {
			env[k] = v
		}
	}
	return &machine{fs: fs, net: n, host: host, sh: sh}, nil
}

func (s *Session) lessonID() string {
	if s.lesson == nil {
		return ""
	}
	return s.lesson.ID
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info()
}

func (s *Session) info() Info {
	return Info{
		ID:           s.ID,
		LessonID:     s.lessonID(),
		Seed:         s.Seed,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.lastActive,
		Cwd:          s.m.fs.Cwd(),
		Prompt:       s.m.sh.Prompt(),
		Progress:     slices.Clone(s.passed),
	}
}

// Lesson returns the lesson the session runs, or nil.
func (s *Session) Lesson() *lessons.Lesson {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lesson
}

// Stat reports metadata for a path, resolved like a shell argument.
func (s *Session) Stat(p string) (vfs.Stat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.fs.Stat(p)
}

// Exists reports whether a path exists.
func (s *Session) Exists(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.fs.Exists(p)
}

// Cwd returns the working directory.
func (s *Session) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.fs.Cwd()
}

// idleSince returns the time of the last command or reset.
func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// exec runs one line and updates the lesson progress.
func (s *Session) exec(line string) ExecResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.m.sh.Run(line)
	s.lastActive = s.clock()
	if strings.TrimSpace(line) != "" {
		s.lastCommand, s.lastOutput = line, r.Output
	}
	if s.lesson != nil {
		for i, ok := range s.lesson.Progress(s.observation()) {
			s.passed[i] = s.passed[i] || ok
		}
	}
	return ExecResult{
		Output: r.Output,
		Clear:  r.Clear,
		Status: r.Status,
		Cwd:    s.m.fs.Cwd(),
		Prompt: s.m.sh.Prompt(),
	}
}

// swap installs a freshly built machine and forgets everything observed
// on the old one.
func (s *Session) swap(lesson *lessons.Lesson, m *machine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lesson = lesson
	s.m = m
	s.lastActive = s.clock()
	s.lastCommand, s.lastOutput = "", ""
	s.passed = nil
	if lesson != nil {
		s.passed = make([]bool, len(lesson.Tasks))
	}
}

func (s *Session) observation() lessons.Observation {
	return lessons.Observation{
		Command: s.lastCommand,
		Output:  s.lastOutput,
		Cwd:     s.m.fs.Cwd(),
		FS:      s.m.fs,
	}
}

func (s *Session) check(req CheckRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case req.TaskIndex != nil:
		if s.lesson == nil {
			return false, ErrNoLesson
		}
		return s.lesson.CheckTask(*req.TaskIndex, s.observation())
	case req.Validation != nil:
		return lessons.Check(*req.Validation, s.observation())
	default:
		return false, ErrInvalidCheck
	}
}
