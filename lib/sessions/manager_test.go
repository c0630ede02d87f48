package sessions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/onkernel/termlab/lib/lessons"
	"github.com/onkernel/termlab/lib/logger"
	"github.com/onkernel/termlab/lib/paths"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// fakeClock is a settable lab clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.March, 14, 9, 30, 0, 0, time.UTC)}
}

func setupTestManager(t *testing.T, cfg Config) (Manager, *fakeClock) {
	t.Helper()
	catalog, err := lessons.Load("")
	require.NoError(t, err)
	clock := newClock()
	cfg.Clock = clock.Now
	m, err := NewManager(cfg, catalog, nil, nil, nil)
	require.NoError(t, err)
	return m, clock
}

func exec(t *testing.T, m Manager, id, line string) *ExecResult {
	t.Helper()
	r, err := m.Exec(context.Background(), id, line)
	require.NoError(t, err)
	return r
}

func TestCreateAndExec(t *testing.T) {
	m, _ := setupTestManager(t, Config{})
	ctx := context.Background()

	s, err := m.CreateSession(ctx, CreateRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.NotEmpty(t, s.Seed, "a seed is chosen when none is given")

	info := s.Info()
	assert.Equal(t, "/home/student", info.Cwd)
	assert.Equal(t, "student@linux-lab:~$", info.Prompt)
	assert.Empty(t, info.LessonID)

	r := exec(t, m, s.ID, "mkdir -p work/src && cd work")
	assert.Equal(t, 0, r.Status)
	assert.Equal(t, "/home/student/work", r.Cwd)
	assert.Equal(t, "student@linux-lab:~/work$", r.Prompt)

	assert.True(t, s.Exists("src"))
	st, ok := s.Stat("/home/student/work/src")
	require.True(t, ok)
	assert.True(t, st.IsDir())

	r = exec(t, m, s.ID, "clear")
	assert.True(t, r.Clear)

	r = exec(t, m, s.ID, "frobnicate")
	assert.Equal(t, 127, r.Status)
	assert.Equal(t, "frobnicate: command not found", r.Output)

	got, err := m.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestNotFound(t *testing.T) {
	m, _ := setupTestManager(t, Config{})
	ctx := context.Background()

	_, err := m.GetSession(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Exec(ctx, "nope", "ls")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.ResetSession(ctx, "nope", "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.DeleteSession(ctx, "nope"), ErrNotFound)

	_, err = m.CreateSession(ctx, CreateRequest{LessonID: "no-such-lesson"})
	assert.ErrorIs(t, err, lessons.ErrNotFound)
}

func TestSessionLimit(t *testing.T) {
	m, _ := setupTestManager(t, Config{MaxSessions: 2})
	ctx := context.Background()

	first, err := m.CreateSession(ctx, CreateRequest{})
	require.NoError(t, err)
	_, err = m.CreateSession(ctx, CreateRequest{})
	require.NoError(t, err)

	_, err = m.CreateSession(ctx, CreateRequest{})
	assert.ErrorIs(t, err, ErrLimitReached)

	require.NoError(t, m.DeleteSession(ctx, first.ID))
	_, err = m.CreateSession(ctx, CreateRequest{})
	assert.NoError(t, err, "deleting frees a slot")
	assert.Len(t, m.ListSessions(ctx), 2)
}

func TestSameSeedSameOutput(t *testing.T) {
	m, _ := setupTestManager(t, Config{})
	ctx := context.Background()

	a, err := m.CreateSession(ctx, CreateRequest{Seed: "lab-42"})
	require.NoError(t, err)
	b, err := m.CreateSession(ctx, CreateRequest{Seed: "lab-42"})
	require.NoError(t, err)

	for _, line := range []string{"ping -c 4 8.8.8.8", "traceroute example.com", "ps aux", "curl -sI example.com"} {
		assert.Equal(t, exec(t, m, a.ID, line).Output, exec(t, m, b.ID, line).Output, line)
	}
}

func TestResetWholeness(t *testing.T) {
	m, _ := setupTestManager(t, Config{})
	ctx := context.Background()

	s, err := m.CreateSession(ctx, CreateRequest{LessonID: "permissions"})
	require.NoError(t, err)
	assert.True(t, s.Exists("~/deploy.sh"))

	exec(t, m, s.ID, "touch junk && chmod 755 deploy.sh")
	exec(t, m, s.ID, "export TOKEN=abc")
	exec(t, m, s.ID, "cd /tmp")

	_, err = m.ResetSession(ctx, s.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "permissions", s.Info().LessonID, "an empty lesson ID keeps the current lesson")
	assert.Equal(t, "/home/student", s.Cwd())
	assert.False(t, s.Exists("~/junk"))
	st, ok := s.Stat("~/deploy.sh")
	require.True(t, ok)
	assert.Equal(t, "644", st.Octal())
	assert.Empty(t, exec(t, m, s.ID, "printenv TOKEN").Output)

	_, err = m.ResetSession(ctx, s.ID, "filesystem-basics")
	require.NoError(t, err)
	assert.Equal(t, "filesystem-basics", s.Info().LessonID)
	assert.False(t, s.Exists("~/deploy.sh"))
	assert.True(t, s.Exists("~/projects/README.md"))

	_, err = m.ResetSession(ctx, s.ID, "no-such-lesson")
	assert.ErrorIs(t, err, lessons.ErrNotFound)
	assert.Equal(t, "filesystem-basics", s.Info().LessonID, "a failed reset leaves the session alone")
}

func TestCheckAndProgress(t *testing.T) {
	m, _ := setupTestManager(t, Config{})
	ctx := context.Background()

	s, err := m.CreateSession(ctx, CreateRequest{LessonID: "filesystem-basics"})
	require.NoError(t, err)
	first := 0

	ok, err := m.Check(ctx, s.ID, CheckRequest{TaskIndex: &first})
	require.NoError(t, err)
	assert.False(t, ok)

	exec(t, m, s.ID, "pwd")
	ok, err = m.Check(ctx, s.ID, CheckRequest{TaskIndex: &first})
	require.NoError(t, err)
	assert.True(t, ok)

	exec(t, m, s.ID, "ls")
	ok, err = m.Check(ctx, s.ID, CheckRequest{TaskIndex: &first})
	require.NoError(t, err)
	assert.False(t, ok, "command checks look at the last command only")
	assert.True(t, s.Info().Progress[0], "progress remembers completed tasks")

	ok, err = m.Check(ctx, s.ID, CheckRequest{Validation: &lessons.Validation{Type: lessons.OutputContains, Check: "README.md"}})
	require.NoError(t, err)
	assert.False(t, ok, "README.md lives in projects/, not the home directory")

	ok, err = m.Check(ctx, s.ID, CheckRequest{Validation: &lessons.Validation{Type: lessons.PathExists, Check: "projects/README.md"}})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = m.Check(ctx, s.ID, CheckRequest{})
	assert.ErrorIs(t, err, ErrInvalidCheck)

	out := 99
	_, err = m.Check(ctx, s.ID, CheckRequest{TaskIndex: &out})
	assert.ErrorIs(t, err, lessons.ErrTaskIndex)

	bare, err := m.CreateSession(ctx, CreateRequest{})
	require.NoError(t, err)
	_, err = m.Check(ctx, bare.ID, CheckRequest{TaskIndex: &first})
	assert.ErrorIs(t, err, ErrNoLesson)
}

func TestReapIdle(t *testing.T) {
	m, clock := setupTestManager(t, Config{IdleTimeout: 30 * time.Minute})
	ctx := context.Background()

	idle, err := m.CreateSession(ctx, CreateRequest{})
	require.NoError(t, err)
	busy, err := m.CreateSession(ctx, CreateRequest{})
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	exec(t, m, busy.ID, "ls")
	assert.Equal(t, 0, m.ReapIdle(ctx))

	clock.Advance(15 * time.Minute)
	assert.Equal(t, 1, m.ReapIdle(ctx))

	_, err = m.GetSession(ctx, idle.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetSession(ctx, busy.ID)
	assert.NoError(t, err)
}

func TestReapDisabled(t *testing.T) {
	m, clock := setupTestManager(t, Config{})
	_, err := m.CreateSession(context.Background(), CreateRequest{})
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	assert.Equal(t, 0, m.ReapIdle(context.Background()))
}

func TestConcurrentExec(t *testing.T) {
	m, _ := setupTestManager(t, Config{})
	ctx := context.Background()
	s, err := m.CreateSession(ctx, CreateRequest{})
	require.NoError(t, err)

	const workers, lines = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < lines; i++ {
				_, err := m.Exec(ctx, s.ID, fmt.Sprintf("echo %d-%d >> log.txt", w, i))
				assert.NoError(t, err)
				_ = s.Info()
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, fmt.Sprint(workers*lines), exec(t, m, s.ID, "wc -l < log.txt").Output)
}

func TestTranscripts(t *testing.T) {
	catalog, err := lessons.Load("")
	require.NoError(t, err)
	p := paths.New(t.TempDir())
	m, err := NewManager(Config{Transcripts: true}, catalog, p, nil, nil)
	require.NoError(t, err)

	log := slog.New(logger.NewTranscriptHandler(slog.NewJSONHandler(io.Discard, nil), p.SessionTranscript))
	ctx := logger.AddToContext(context.Background(), log)

	s, err := m.CreateSession(ctx, CreateRequest{})
	require.NoError(t, err)
	_, err = m.Exec(ctx, s.ID, "echo hello")
	require.NoError(t, err)

	data, err := os.ReadFile(p.SessionTranscript(s.ID))
	require.NoError(t, err)
	assert.Contains(t, string(data), "session created")
	assert.Contains(t, string(data), `command executed command="echo hello" status=0 output=hello`)
}

func TestMetrics(t *testing.T) {
	catalog, err := lessons.Load("")
	require.NoError(t, err)
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewManager(Config{}, catalog, nil, provider.Meter("sessions"), nil)
	require.NoError(t, err)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, CreateRequest{})
	require.NoError(t, err)
	exec(t, m, s.ID, "ls")
	exec(t, m, s.ID, "nosuchcommand")
	_, err = m.ResetSession(ctx, s.ID, "")
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	found := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			found[metric.Name] = metric.Data
		}
	}

	commands, ok := found["termlab_commands_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	labels := map[string]bool{}
	for _, dp := range commands.DataPoints {
		total += dp.Value
		cmd, _ := dp.Attributes.Value("command")
		labels[cmd.AsString()] = true
	}
	assert.Equal(t, int64(2), total)
	assert.True(t, labels["ls"])
	assert.True(t, labels["other"])

	active, ok := found["termlab_sessions_active"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, active.DataPoints, 1)
	assert.Equal(t, int64(1), active.DataPoints[0].Value)

	resets, ok := found["termlab_session_resets_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, resets.DataPoints, 1)
	assert.Equal(t, int64(1), resets.DataPoints[0].Value)

	_, ok = found["termlab_command_duration_seconds"]
	assert.True(t, ok)
}
