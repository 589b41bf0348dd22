package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultNATSURL        = "nats://localhost:4222"
	defaultRedisURL       = "redis://localhost:6379"
	defaultHTTPAddr       = ":8081"
	defaultMetricsAddr    = ":9092"
	defaultSessionTTL     = 30 * time.Minute
	defaultEditorDefaults = "config/editor.yaml"
	defaultEventSubject   = "referee.editor.events"
	defaultRateLimitRPS   = 50
	defaultRateLimitBurst = 100

	envNATSURL            = "NATS_URL"
	envRedisURL           = "REDIS_URL"
	envHTTPAddr           = "GATEWAY_HTTP_ADDR"
	envMetricsAddr        = "GATEWAY_METRICS_ADDR"
	envSessionTTL         = "SESSION_TTL"
	envEditorDefaultsPath = "EDITOR_DEFAULTS_PATH"
	envEventSubject       = "EDITOR_EVENT_SUBJECT"
	envAPIKey             = "REFEREE_API_KEY"
	envAllowedOrigins     = "REFEREE_ALLOWED_ORIGINS"
	envRateLimitRPS       = "GATEWAY_RATE_LIMIT_RPS"
	envRateLimitBurst     = "GATEWAY_RATE_LIMIT_BURST"
	envKayentaURL         = "KAYENTA_URL"
	envMetricsAccount     = "KAYENTA_METRICS_ACCOUNT"
	envStorageAccount     = "KAYENTA_STORAGE_ACCOUNT"
)

// Config holds runtime configuration for the gateway and its backends.
type Config struct {
	NatsURL            string
	RedisURL           string
	HTTPAddr           string
	MetricsAddr        string
	SessionTTL         time.Duration
	EditorDefaultsPath string
	EventSubject       string
	APIKey             string
	AllowedOrigins     []string
	RateLimitRPS       float64
	RateLimitBurst     int
	// KayentaURL enables canary execution when set.
	KayentaURL     string
	MetricsAccount string
	StorageAccount string
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	return &Config{
		NatsURL:            envOr(envNATSURL, defaultNATSURL),
		RedisURL:           envOr(envRedisURL, defaultRedisURL),
		HTTPAddr:           envOr(envHTTPAddr, defaultHTTPAddr),
		MetricsAddr:        envOr(envMetricsAddr, defaultMetricsAddr),
		SessionTTL:         envDuration(envSessionTTL, defaultSessionTTL),
		EditorDefaultsPath: envOr(envEditorDefaultsPath, defaultEditorDefaults),
		EventSubject:       envOr(envEventSubject, defaultEventSubject),
		APIKey:             strings.TrimSpace(os.Getenv(envAPIKey)),
		AllowedOrigins:     splitList(os.Getenv(envAllowedOrigins)),
		RateLimitRPS:       envFloat(envRateLimitRPS, defaultRateLimitRPS),
		RateLimitBurst:     int(envFloat(envRateLimitBurst, defaultRateLimitBurst)),
		KayentaURL:         strings.TrimSpace(os.Getenv(envKayentaURL)),
		MetricsAccount:     strings.TrimSpace(os.Getenv(envMetricsAccount)),
		StorageAccount:     strings.TrimSpace(os.Getenv(envStorageAccount)),
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
