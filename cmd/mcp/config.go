package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Config is the optional YAML file of lab settings.
type Config struct {
	Hostname    string            `yaml:"hostname"`
	MaxSessions int               `yaml:"max_sessions"`
	IdleTimeout time.Duration     `yaml:"idle_timeout"`
	MaxFileSize datasize.ByteSize `yaml:"max_file_size"`
	MaxNodes    int               `yaml:"max_nodes"`
	LessonsDir  string            `yaml:"lessons_dir"`
	// DataDir enables transcripts when set.
	DataDir string `yaml:"data_dir"`
}

func defaultConfig() *Config {
	return &Config{
		Hostname:    "linux-lab",
		MaxSessions: 16,
		IdleTimeout: 30 * time.Minute,
		MaxFileSize: datasize.MB,
		MaxNodes:    10000,
	}
}

// LoadConfig reads path over the defaults. A missing file, or an empty
// path, yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.MaxSessions < 0 || cfg.MaxNodes < 0 || cfg.IdleTimeout < 0 {
		return nil, fmt.Errorf("config: limits must not be negative")
	}
	return cfg, nil
}
