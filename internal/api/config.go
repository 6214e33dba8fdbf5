package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envPrefix namespaces every server setting in the environment.
const envPrefix = "GRIDSAVE_"

// Config holds the document server settings.
type Config struct {
	ListenAddr      string
	DBPath          string
	ShutdownTimeout time.Duration
	LogFormat       string // json or text
	LogLevel        string

	RateLimitWrites int // writes per client IP per minute
	MaxBatchItems   int

	CORSAllowedOrigins []string // empty disables CORS
}

// DefaultConfig is the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8765",
		DBPath:          "./data/gridsave.db",
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "json",
		LogLevel:        "info",
		RateLimitWrites: 600,
		MaxBatchItems:   500,
	}
}

// LoadConfig overlays GRIDSAVE_* environment variables on DefaultConfig.
// Unparseable or non-positive numeric values keep their defaults.
func LoadConfig() Config {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) Config {
	cfg := DefaultConfig()
	env := func(name string) string { return strings.TrimSpace(getenv(envPrefix + name)) }

	setString(&cfg.ListenAddr, env("LISTEN_ADDR"))
	setString(&cfg.DBPath, env("DB_PATH"))
	setString(&cfg.LogFormat, env("LOG_FORMAT"))
	setString(&cfg.LogLevel, env("LOG_LEVEL"))
	setDuration(&cfg.ShutdownTimeout, env("SHUTDOWN_TIMEOUT"))
	setPositive(&cfg.RateLimitWrites, env("RATE_LIMIT_WRITES"))
	setPositive(&cfg.MaxBatchItems, env("MAX_BATCH_ITEMS"))
	cfg.CORSAllowedOrigins = splitList(env("CORS_ALLOWED_ORIGINS"))
	return cfg
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) {
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
	}
}

func setPositive(dst *int, v string) {
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = n
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
