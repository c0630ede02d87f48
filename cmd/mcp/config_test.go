package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, defaultConfig(), cfg)

		cfg, err = LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "linux-lab", cfg.Hostname)
	})

	t.Run("overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mcp.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
hostname: training
max_sessions: 4
idle_timeout: 5m
max_file_size: 64KB
`), 0644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "training", cfg.Hostname)
		assert.Equal(t, 4, cfg.MaxSessions)
		assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
		assert.Equal(t, 64*datasize.KB, cfg.MaxFileSize)
		assert.Equal(t, 10000, cfg.MaxNodes, "unset keys keep defaults")
	})

	t.Run("negative limits", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mcp.yaml")
		require.NoError(t, os.WriteFile(path, []byte("max_sessions: -1\n"), 0644))
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})
}
