package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	DataDir   string
	JwtSecret string
	Env       string
	Version   string

	MaxSessions         int
	SessionIdleTimeout  string
	SessionReapInterval string
	MaxFileSize         string
	MaxNodes            int
	LessonsDir          string
	LabHostname         string
	TranscriptsEnabled  bool

	// OpenTelemetry configuration
	OtelEnabled           bool
	OtelEndpoint          string
	OtelServiceName       string
	OtelServiceInstanceID string
	OtelInsecure          bool
}

// Load loads configuration from environment variables
// Automatically loads .env file if present
func Load() *Config {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	hostname, _ := os.Hostname()

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		DataDir:   getEnv("DATA_DIR", "/var/lib/termlab"),
		JwtSecret: getEnv("JWT_SECRET", ""),
		Env:       getEnv("ENV", "development"),
		Version:   getEnv("VERSION", "dev"),

		MaxSessions:         getEnvInt("MAX_SESSIONS", 256),
		SessionIdleTimeout:  getEnv("SESSION_IDLE_TIMEOUT", "30m"),
		SessionReapInterval: getEnv("SESSION_REAP_INTERVAL", "1m"),
		MaxFileSize:         getEnv("MAX_FILE_SIZE", "1MB"),
		MaxNodes:            getEnvInt("MAX_NODES", 10000),
		LessonsDir:          getEnv("LESSONS_DIR", ""),
		LabHostname:         getEnv("LAB_HOSTNAME", "linux-lab"),
		TranscriptsEnabled:  getEnvBool("TRANSCRIPTS_ENABLED", true),

		OtelEnabled:           getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:          getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:       getEnv("OTEL_SERVICE_NAME", "termlab"),
		OtelServiceInstanceID: getEnv("OTEL_SERVICE_INSTANCE_ID", hostname),
		OtelInsecure:          getEnvBool("OTEL_INSECURE", true),
	}

	return cfg
}

// Limits is the parsed form of the string-valued session settings.
type Limits struct {
	IdleTimeout  time.Duration
	ReapInterval time.Duration
	MaxFileSize  int64
}

// ParseLimits validates the duration and size settings.
func (c *Config) ParseLimits() (Limits, error) {
	var l Limits
	var err error
	if l.IdleTimeout, err = time.ParseDuration(c.SessionIdleTimeout); err != nil {
		return l, fmt.Errorf("invalid SESSION_IDLE_TIMEOUT %q: %w", c.SessionIdleTimeout, err)
	}
	if l.ReapInterval, err = time.ParseDuration(c.SessionReapInterval); err != nil {
		return l, fmt.Errorf("invalid SESSION_REAP_INTERVAL %q: %w", c.SessionReapInterval, err)
	}
	if l.ReapInterval <= 0 {
		return l, fmt.Errorf("invalid SESSION_REAP_INTERVAL %q: must be positive", c.SessionReapInterval)
	}
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(c.MaxFileSize)); err != nil {
		return l, fmt.Errorf("invalid MAX_FILE_SIZE %q: %w", c.MaxFileSize, err)
	}
	l.MaxFileSize = int64(size.Bytes())
	return l, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
