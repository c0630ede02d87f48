package sessions

import (
	"time"

	"github.com/onkernel/termlab/lib/lessons"
)

// Config bounds the manager and shapes every machine it builds.
type Config struct {
	// MaxSessions caps concurrent sessions. Zero means unlimited.
	MaxSessions int
	// IdleTimeout is how long a session may go without a command before
	// ReapIdle removes it. Zero disables reaping.
	IdleTimeout time.Duration
	Hostname    string
	MaxFileSize int64
	MaxNodes    int
	// Transcripts gives each session a directory its transcript is
	// written into.
	Transcripts bool
	// Clock is the lab clock. Defaults to time.Now.
	Clock func() time.Time
}

// CreateRequest describes a new session. Both fields are optional.
type CreateRequest struct {
	LessonID string `json:"lesson_id,omitempty"`
	Seed     string `json:"seed,omitempty"`
}

// CheckRequest asks whether a lesson task, or an ad-hoc validation, is
// satisfied by the session's last command and current state.
type CheckRequest struct {
	TaskIndex  *int                `json:"task_index,omitempty"`
	Validation *lessons.Validation `json:"validation,omitempty"`
}

// Info is the externally visible state of a session.
type Info struct {
	ID           string    `json:"id"`
	LessonID     string    `json:"lesson_id,omitempty"`
	Seed         string    `json:"seed"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Cwd          string    `json:"cwd"`
	Prompt       string    `json:"prompt"`
	// Progress holds one pass flag per lesson task.
	Progress []bool `json:"progress,omitempty"`
}

// ExecResult is the outcome of one command line.
type ExecResult struct {
	Output string `json:"output"`
	Clear  bool   `json:"clear"`
	Status int    `json:"status"`
	Cwd    string `json:"cwd"`
	Prompt string `json:"prompt"`
}
