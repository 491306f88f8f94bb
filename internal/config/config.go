// Package config reads process configuration from NETPULSE_ environment
// variables. Values that fail to parse silently fall back to defaults so
// a typo degrades to known-good behavior instead of refusing to boot.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Anchor configures the control-plane process.
type Anchor struct {
	BusURL         string
	HTTPAddr       string
	DBPath         string
	StoreCap       int
	ExportDir      string
	LivenessWindow time.Duration
	SweepInterval  time.Duration
	AllowedOrigins []string
	LogLevel       slog.Level
}

func AnchorFromEnv() Anchor {
	return Anchor{
		BusURL:         getenv("NETPULSE_BUS_URL", "nats://127.0.0.1:4222"),
		HTTPAddr:       getenv("NETPULSE_HTTP_ADDR", ":8080"),
		DBPath:         getenv("NETPULSE_DB_PATH", "netpulse.db"),
		StoreCap:       getenvInt("NETPULSE_STORE_CAP", 1000),
		ExportDir:      getenv("NETPULSE_EXPORT_DIR", "exports"),
		LivenessWindow: getenvDuration("NETPULSE_LIVENESS_WINDOW", 30*time.Second),
		SweepInterval:  getenvDuration("NETPULSE_SWEEP_INTERVAL", 10*time.Second),
		AllowedOrigins: getenvList("NETPULSE_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		LogLevel:       getenvLevel("NETPULSE_LOG_LEVEL", slog.LevelInfo),
	}
}

// Worker configures one probe worker process.
type Worker struct {
	BusURL           string
	Kind             string
	Name             string
	Version          string
	Capabilities     []string
	AnnounceInterval time.Duration
	ProbeTimeout     time.Duration
	PingCount        int
	ConnectRetry     time.Duration
	LogLevel         slog.Level
}

func WorkerFromEnv() Worker {
	return Worker{
		BusURL:           getenv("NETPULSE_BUS_URL", "nats://127.0.0.1:4222"),
		Kind:             getenv("NETPULSE_WORKER_KIND", "ping"),
		Name:             getenv("NETPULSE_WORKER_NAME", ""),
		Version:          getenv("NETPULSE_WORKER_VERSION", "0.1.0"),
		Capabilities:     getenvList("NETPULSE_WORKER_CAPABILITIES", nil),
		AnnounceInterval: getenvDuration("NETPULSE_ANNOUNCE_INTERVAL", 10*time.Second),
		ProbeTimeout:     getenvDuration("NETPULSE_PROBE_TIMEOUT", 10*time.Second),
		PingCount:        getenvInt("NETPULSE_PING_COUNT", 3),
		ConnectRetry:     getenvDuration("NETPULSE_CONNECT_RETRY", 5*time.Second),
		LogLevel:         getenvLevel("NETPULSE_LOG_LEVEL", slog.LevelInfo),
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getenvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getenvLevel(key string, fallback slog.Level) slog.Level {
	switch strings.ToLower(os.Getenv(key)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
