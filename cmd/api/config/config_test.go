package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, k := range []string{"PORT", "DATA_DIR", "MAX_SESSIONS", "SESSION_IDLE_TIMEOUT", "MAX_FILE_SIZE", "TRANSCRIPTS_ENABLED", "LAB_HOSTNAME"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "/var/lib/termlab", cfg.DataDir)
	assert.Equal(t, 256, cfg.MaxSessions)
	assert.Equal(t, "linux-lab", cfg.LabHostname)
	assert.True(t, cfg.TranscriptsEnabled)

	l, err := cfg.ParseLimits()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, l.IdleTimeout)
	assert.Equal(t, time.Minute, l.ReapInterval)
	assert.Equal(t, int64(1<<20), l.MaxFileSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MAX_SESSIONS", "3")
	t.Setenv("MAX_NODES", "not-a-number")
	t.Setenv("TRANSCRIPTS_ENABLED", "false")
	t.Setenv("MAX_FILE_SIZE", "64KB")

	cfg := Load()
	assert.Equal(t, 3, cfg.MaxSessions)
	assert.Equal(t, 10000, cfg.MaxNodes, "unparseable ints fall back to the default")
	assert.False(t, cfg.TranscriptsEnabled)

	l, err := cfg.ParseLimits()
	require.NoError(t, err)
	assert.Equal(t, int64(64<<10), l.MaxFileSize)
}

func TestParseLimitsErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		msg  string
	}{
		{"idle", Config{SessionIdleTimeout: "soon", SessionReapInterval: "1m", MaxFileSize: "1MB"}, "SESSION_IDLE_TIMEOUT"},
		{"reap", Config{SessionIdleTimeout: "1m", SessionReapInterval: "0s", MaxFileSize: "1MB"}, "SESSION_REAP_INTERVAL"},
		{"size", Config{SessionIdleTimeout: "1m", SessionReapInterval: "1m", MaxFileSize: "lots"}, "MAX_FILE_SIZE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.ParseLimits()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
