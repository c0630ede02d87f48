// Package paths provides centralized path construction for the termlab data directory.
package paths

import "path/filepath"

// Paths provides typed path construction for the termlab data directory.
//
// Layout:
//
//	{dataDir}/
//	  sessions/{id}/transcript.log
//	  lessons/                       (default extra lesson fixtures)
type Paths struct {
	dataDir string
}

// New creates a new Paths instance for the given data directory.
func New(dataDir string) *Paths {
	return &Paths{dataDir: dataDir}
}

// DataDir returns the root data directory.
func (p *Paths) DataDir() string {
	return p.dataDir
}

// Session path methods

// SessionsDir returns the root sessions directory.
func (p *Paths) SessionsDir() string {
	return filepath.Join(p.dataDir, "sessions")
}

// SessionDir returns the directory for a session.
func (p *Paths) SessionDir(id string) string {
	return filepath.Join(p.SessionsDir(), id)
}

// SessionTranscript returns the path to a session's command transcript.
func (p *Paths) SessionTranscript(id string) string {
	return filepath.Join(p.SessionDir(id), "transcript.log")
}

// Lesson path methods

// LessonsDir returns the default directory for extra lesson fixtures.
func (p *Paths) LessonsDir() string {
	return filepath.Join(p.dataDir, "lessons")
}
