package providers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/onkernel/termlab/cmd/api/config"
	"github.com/onkernel/termlab/lib/logger"
	"github.com/onkernel/termlab/lib/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		DataDir:             t.TempDir(),
		MaxSessions:         4,
		SessionIdleTimeout:  "30m",
		SessionReapInterval: "1m",
		MaxFileSize:         "1MB",
		MaxNodes:            10000,
		LabHostname:         "linux-lab",
		TranscriptsEnabled:  true,
		OtelServiceName:     "termlab-test",
	}
}

func TestProvidersBuildAWorkingManager(t *testing.T) {
	cfg := testConfig(t)
	p := ProvidePaths(cfg)
	provider, cleanup := ProvideOtel(cfg)
	t.Cleanup(cleanup)

	catalog, err := ProvideLessons(cfg, p)
	require.NoError(t, err)
	assert.Equal(t, 5, catalog.Len())

	mgr, err := ProvideSessionManager(cfg, catalog, p, provider)
	require.NoError(t, err)

	ctx := ProvideContext(ProvideLogger(cfg, p, provider))
	s, err := mgr.CreateSession(ctx, sessions.CreateRequest{LessonID: "log-analysis"})
	require.NoError(t, err)
	_, err = mgr.Exec(ctx, s.ID, "grep -c ERROR logs/app.log")
	require.NoError(t, err)

	data, err := os.ReadFile(p.SessionTranscript(s.ID))
	require.NoError(t, err)
	assert.Contains(t, string(data), `command="grep -c ERROR logs/app.log"`)
}

func TestProvideLessonsFromDataDir(t *testing.T) {
	cfg := testConfig(t)
	p := ProvidePaths(cfg)
	require.NoError(t, os.MkdirAll(p.LessonsDir(), 0o755))
	fixture := "id: extra\ntitle: Extra\ntasks:\n  - title: Look around\n    validation:\n      type: command_exact\n      check: ls\n"
	require.NoError(t, os.WriteFile(filepath.Join(p.LessonsDir(), "extra.yaml"), []byte(fixture), 0o644))

	catalog, err := ProvideLessons(cfg, p)
	require.NoError(t, err)
	_, err = catalog.Get("extra")
	assert.NoError(t, err)
}

func TestProvideSessionManagerRejectsBadLimits(t *testing.T) {
	cfg := testConfig(t)
	cfg.SessionIdleTimeout = "whenever"
	provider, cleanup := ProvideOtel(cfg)
	t.Cleanup(cleanup)

	_, err := ProvideSessionManager(cfg, nil, ProvidePaths(cfg), provider)
	assert.ErrorContains(t, err, "SESSION_IDLE_TIMEOUT")
}

func TestProvideLoggerWithoutTranscripts(t *testing.T) {
	cfg := testConfig(t)
	cfg.TranscriptsEnabled = false
	provider, cleanup := ProvideOtel(cfg)
	t.Cleanup(cleanup)

	log := ProvideLogger(cfg, ProvidePaths(cfg), provider)
	_, isTranscript := log.Handler().(*logger.TranscriptHandler)
	assert.False(t, isTranscript)
	assert.Same(t, log, logger.FromContext(ProvideContext(log)))
}
