package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

var (
	logLevel  string
	logFormat string
)

// logFlags are persistent on every command. GRIDSAVE_LOG_LEVEL and
// GRIDSAVE_LOG_FORMAT change their defaults.
func logFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("logging", pflag.ContinueOnError)
	fs.StringVar(&logLevel, "log-level", envOr("GRIDSAVE_LOG_LEVEL", "warn"), "log level: debug, info, warn, error")
	fs.StringVar(&logFormat, "log-format", envOr("GRIDSAVE_LOG_FORMAT", "text"), "log format: text or json")
	return fs
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// parseLevel maps a level name to slog. Anything unrecognised is warn.
func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelWarn
	}
	return l
}

// installLogger makes a stderr handler the slog default. Log lines never mix
// with command output on stdout.
func installLogger(level, format string) error {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}
