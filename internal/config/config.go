// Package config loads runtime configuration for the mensa client.
package config

import (
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Features toggles optional dashboard panels and behaviors.
type Features struct {
	Chroma           bool
	Experiments      bool
	StartupGate      bool
	ConcurrentIngest bool
}

// Config holds all configuration values.
type Config struct {
	// API location
	APIBase string // normalized, may be empty or a relative path
	Origin  string // used to resolve empty/relative bases

	// Transport
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryBackoff   time.Duration

	// Polling
	StartupPollInterval     time.Duration
	StartupFailureThreshold int
	IngestPollInterval      time.Duration
	ExperimentsPollInterval time.Duration
	ChromaPollInterval      time.Duration
	TrainTickInterval       time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Metrics
	MetricsAddr string

	Features Features
}

// Load reads configuration from environment variables, after loading .env if present.
func Load() Config {
	_ = godotenv.Load()

	rawBase := getEnv("MENSA_API_BASE", os.Getenv("REACT_APP_API_BASE"))

	return Config{
		APIBase: NormalizeAPIBase(rawBase),
		Origin:  strings.TrimRight(getEnv("MENSA_ORIGIN", "http://localhost:5000"), "/"),

		RequestTimeout: getDuration("MENSA_REQUEST_TIMEOUT", 10*time.Second),
		RetryAttempts:  getInt("MENSA_RETRY_ATTEMPTS", 3),
		RetryBackoff:   getDuration("MENSA_RETRY_BACKOFF", 700*time.Millisecond),

		StartupPollInterval:     getDuration("MENSA_STARTUP_POLL", 2*time.Second),
		StartupFailureThreshold: getInt("MENSA_STARTUP_FAILURES", 5),
		IngestPollInterval:      getDuration("MENSA_INGEST_POLL", 500*time.Millisecond),
		ExperimentsPollInterval: getDuration("MENSA_EXPERIMENTS_POLL", 5*time.Second),
		ChromaPollInterval:      getDuration("MENSA_CHROMA_POLL", 5*time.Second),
		TrainTickInterval:       getDuration("MENSA_TRAIN_TICK", 2*time.Second),

		LogFile:  getEnv("MENSA_LOG_FILE", "/tmp/mensa.log"),
		LogLevel: parseLogLevel(getEnv("MENSA_LOG_LEVEL", "INFO")),

		MetricsAddr: getEnv("MENSA_METRICS_ADDR", ""),

		Features: Features{
			Chroma:           getBool("MENSA_FEATURE_CHROMA", true),
			Experiments:      getBool("MENSA_FEATURE_EXPERIMENTS", true),
			StartupGate:      getBool("MENSA_FEATURE_STARTUP_GATE", true),
			ConcurrentIngest: getBool("MENSA_FEATURE_CONCURRENT_INGEST", true),
		},
	}
}

var schemeRe = regexp.MustCompile(`(?i)^https?://`)

// NormalizeAPIBase trims whitespace and trailing slashes, keeps http(s) and
// same-origin relative bases, and prepends http:// when no scheme is given.
// An empty input stays empty (same origin).
func NormalizeAPIBase(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}
	if schemeRe.MatchString(v) || strings.HasPrefix(v, "/") {
		return strings.TrimRight(v, "/")
	}
	return "http://" + strings.TrimRight(v, "/")
}

// BaseURL resolves the API base against the origin for empty or relative bases.
func (c Config) BaseURL() string {
	switch {
	case c.APIBase == "":
		return c.Origin
	case strings.HasPrefix(c.APIBase, "/"):
		return c.Origin + c.APIBase
	default:
		return c.APIBase
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
