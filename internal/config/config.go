// Package config loads configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all server configuration. Command-line flags in cmd/server
// override individual fields after Load.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Repositories to serve, in priority order. Each entry is an http(s)
	// URL, a local directory, or an s3://bucket[/prefix] locator.
	Repositories []string

	// Remote artifact delivery: redirect clients to the upstream URL
	// (default) or stream the bytes through this server.
	StreamRemoteResources bool

	// Metadata cache database (optional; in-memory cache when empty)
	DatabaseURL string

	// Basic auth htpasswd file (optional; anonymous access when empty)
	HtpasswdFile string

	// S3 repository settings (used for s3:// repositories; empty
	// endpoint and keys fall back to the AWS default credential chain)
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Region       string
	S3UsePathStyle bool

	// TLS (optional; the server serves HTTPS when both are set)
	TLSCertFile string
	TLSKeyFile  string

	// Shutdown drain timeout in seconds
	ShutdownTimeout int
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		ListenAddr:            envOr("LISTEN_ADDR", ":8000"),
		MetricsAddr:           envOr("METRICS_ADDR", ":9090"),
		LogLevel:              envOr("LOG_LEVEL", "info"),
		LogFormat:             envOr("LOG_FORMAT", "json"),
		Repositories:          strings.Fields(envOr("REPOSITORIES", "")),
		StreamRemoteResources: envBool("STREAM_REMOTE_RESOURCES", false),
		DatabaseURL:           envOr("DATABASE_URL", ""),
		HtpasswdFile:          envOr("AUTH_HTPASSWD", ""),
		S3Endpoint:            envOr("S3_ENDPOINT", ""),
		S3AccessKey:           envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:           envOr("S3_SECRET_KEY", ""),
		S3Region:              envOr("S3_REGION", "us-east-1"),
		S3UsePathStyle:        envBool("S3_USE_PATH_STYLE", true),
		TLSCertFile:           envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:            envOr("TLS_KEY_FILE", ""),
		ShutdownTimeout:       envInt("SHUTDOWN_TIMEOUT", 30),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
