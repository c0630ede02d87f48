// Package sessions runs many lab sessions side by side. Each session owns a
// complete simulated machine; the manager creates, resets, reaps and
// instruments them.
package sessions

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nrednav/cuid2"
	"github.com/onkernel/termlab/lib/entropy"
	"github.com/onkernel/termlab/lib/lessons"
	"github.com/onkernel/termlab/lib/logger"
	"github.com/onkernel/termlab/lib/paths"
	"github.com/onkernel/termlab/lib/shell"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Manager handles session lifecycle operations
type Manager interface {
	CreateSession(ctx context.Context, req CreateRequest) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) []*Session
	DeleteSession(ctx context.Context, id string) error
	Exec(ctx context.Context, id string, line string) (*ExecResult, error)
	ResetSession(ctx context.Context, id string, lessonID string) (*Session, error)
	Check(ctx context.Context, id string, req CheckRequest) (bool, error)
	ReapIdle(ctx context.Context) int
	Lessons() *lessons.Catalog
}

type manager struct {
	cfg     Config
	catalog *lessons.Catalog
	paths   *paths.Paths
	metrics *Metrics
	tracer  trace.Tracer

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager. p may be nil when transcripts are
// disabled; meter and tracer may be nil to run uninstrumented.
func NewManager(cfg Config, catalog *lessons.Catalog, p *paths.Paths, meter metric.Meter, tracer trace.Tracer) (Manager, error) {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if p == nil {
		cfg.Transcripts = false
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("sessions")
	}
	m := &manager{
		cfg:      cfg,
		catalog:  catalog,
		paths:    p,
		tracer:   tracer,
		sessions: make(map[string]*Session),
	}
	if meter != nil {
		metrics, err := newSessionMetrics(meter, m)
		if err != nil {
			return nil, fmt.Errorf("session metrics: %w", err)
		}
		m.metrics = metrics
	}
	return m, nil
}

func (m *manager) Lessons() *lessons.Catalog { return m.catalog }

func (m *manager) lesson(id string) (*lessons.Lesson, error) {
	if id == "" {
		return nil, nil
	}
	if m.catalog == nil {
		return nil, fmt.Errorf("%w: %s", lessons.ErrNotFound, id)
	}
	return m.catalog.Get(id)
}

func (m *manager) CreateSession(ctx context.Context, req CreateRequest) (*Session, error) {
	lesson, err := m.lesson(req.LessonID)
	if err != nil {
		return nil, err
	}
	seed := req.Seed
	if seed == "" {
		seed = entropy.NewSeed()
	}
	mach, err := build(m.cfg, lesson, seed)
	if err != nil {
		return nil, err
	}

	now := m.cfg.Clock()
	s := &Session{
		ID:        cuid2.Generate(),
		Seed:      seed,
		CreatedAt: now,
		clock:     m.cfg.Clock,
	}
	s.swap(lesson, mach)

	m.mu.Lock()
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, ErrLimitReached
	}
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if m.cfg.Transcripts {
		if err := os.MkdirAll(m.paths.SessionDir(s.ID), 0755); err != nil {
			logger.FromContext(ctx).WarnContext(ctx, "failed to create session directory", "error", err)
		}
	}
	_, log := logger.Bind(ctx, logger.SessionKey, s.ID)
	log.InfoContext(ctx, "session created", "lesson_id", req.LessonID, "seed", seed)
	return s, nil
}

func (m *manager) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// ListSessions returns all sessions, oldest first.
func (m *manager) ListSessions(ctx context.Context) []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *manager) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	_, log := logger.Bind(ctx, logger.SessionKey, id)
	log.InfoContext(ctx, "session deleted")
	return nil
}

// commandName is the metric label for a line: the first word when it names
// a known command, "other" otherwise.
func commandName(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "none"
	}
	if _, ok := shell.Lookup(fields[0]); ok {
		return fields[0]
	}
	return "other"
}

func (m *manager) Exec(ctx context.Context, id string, line string) (*ExecResult, error) {
	name := commandName(line)
	ctx, span := m.tracer.Start(ctx, "sessions.Exec", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.String("command", name),
	))
	defer span.End()

	s, err := m.GetSession(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	r := s.exec(line)
	m.recordCommand(ctx, name, r.Status, start)
	span.SetAttributes(attribute.Int("exit_status", r.Status))

	_, log := logger.Bind(ctx, logger.SessionKey, id)
	log.InfoContext(ctx, "command executed", "command", line, "status", r.Status, "output", r.Output)
	return &r, nil
}

func (m *manager) ResetSession(ctx context.Context, id string, lessonID string) (*Session, error) {
	s, err := m.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	lesson := s.Lesson()
	if lessonID != "" {
		if lesson, err = m.lesson(lessonID); err != nil {
			return nil, err
		}
	}
	mach, err := build(m.cfg, lesson, s.Seed)
	if err != nil {
		return nil, err
	}
	s.swap(lesson, mach)
	m.recordReset(ctx, lesson)

	_, log := logger.Bind(ctx, logger.SessionKey, id)
	log.InfoContext(ctx, "session reset", "lesson_id", s.Info().LessonID)
	return s, nil
}

func (m *manager) Check(ctx context.Context, id string, req CheckRequest) (bool, error) {
	s, err := m.GetSession(ctx, id)
	if err != nil {
		return false, err
	}
	return s.check(req)
}

// ReapIdle deletes sessions that have been idle longer than the configured
// timeout and returns how many it removed.
func (m *manager) ReapIdle(ctx context.Context) int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.cfg.Clock().Add(-m.cfg.IdleTimeout)
	reaped := 0
	for _, s := range m.ListSessions(ctx) {
		if !s.idleSince().Before(cutoff) {
			continue
		}
		m.mu.Lock()
		cur, ok := m.sessions[s.ID]
		if ok && cur == s {
			delete(m.sessions, s.ID)
		}
		m.mu.Unlock()
		if !ok || cur != s {
			continue
		}
		reaped++
		_, log := logger.Bind(ctx, logger.SessionKey, s.ID)
		log.InfoContext(ctx, "idle session reaped", "idle_since", s.idleSince())
	}
	return reaped
}

func (m *manager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
