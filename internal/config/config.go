package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds process-level configuration read once at startup.
type Config struct {
	Port           string        // HTTP listen port
	DataDir        string        // Data directory root
	DBPath         string        // SQLite database path
	SettingsPath   string        // Persisted UI settings (config.json)
	JWTSecret      string        // Token signing secret
	DockerBin      string        // docker CLI used for compose and exec
	DockerHost     string        // Engine API endpoint
	StackRoot      string        // Default stack root when config.json has none
	ComposeTimeout time.Duration // Deadline for one-shot compose commands
	KillGrace      time.Duration // SIGTERM to SIGKILL delay
	MaxSessions    int           // Concurrent stream sessions
	SessionMaxAge  time.Duration // Sessions older than this are reaped
	StaticDir      string        // Optional pre-built frontend bundle
	LogLevel       string
	LogFormat      string
	ThrottleRPS    float64 // Per-IP request rate
	ThrottleBurst  int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	dataDir := envOrDefault("STACKDECK_DATA_DIR", "./data")

	cfg := &Config{
		Port:           envOrDefault("STACKDECK_PORT", "8080"),
		DataDir:        dataDir,
		DBPath:         envOrDefault("STACKDECK_DB_PATH", filepath.Join(dataDir, "stackdeck.db")),
		SettingsPath:   envOrDefault("STACKDECK_CONFIG_PATH", filepath.Join(dataDir, "config.json")),
		JWTSecret:      os.Getenv("STACKDECK_JWT_SECRET"),
		DockerBin:      envOrDefault("STACKDECK_DOCKER_BIN", "docker"),
		DockerHost:     envOrDefault("STACKDECK_DOCKER_HOST", "unix:///var/run/docker.sock"),
		StackRoot:      envOrDefault("STACK_ROOT", "/mnt/storage/yaml"),
		ComposeTimeout: envDuration("STACKDECK_COMPOSE_TIMEOUT", 10*time.Minute),
		KillGrace:      envDuration("STACKDECK_KILL_GRACE", 3*time.Second),
		MaxSessions:    envInt("STACKDECK_MAX_SESSIONS", 20),
		SessionMaxAge:  envDuration("STACKDECK_SESSION_MAX_AGE", 12*time.Hour),
		StaticDir:      envOrDefault("STACKDECK_STATIC_DIR", "web/dist"),
		LogLevel:       envOrDefault("STACKDECK_LOG_LEVEL", "info"),
		LogFormat:      envOrDefault("STACKDECK_LOG_FORMAT", "text"),
		ThrottleRPS:    envFloat("STACKDECK_THROTTLE_RPS", 20),
		ThrottleBurst:  envInt("STACKDECK_THROTTLE_BURST", 40),
	}

	// Without a configured secret every restart invalidates issued tokens.
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = randomSecret()
	}

	return cfg
}

// EnsureDirs creates the data directory and the parents of the DB and settings files.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, filepath.Dir(c.DBPath), filepath.Dir(c.SettingsPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func randomSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
