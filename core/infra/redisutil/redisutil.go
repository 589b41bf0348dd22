// Package redisutil builds Redis clients for the library and artifact stores.
package redisutil

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	envRedisTLSCA         = "REDIS_TLS_CA"
	envRedisTLSCert       = "REDIS_TLS_CERT"
	envRedisTLSKey        = "REDIS_TLS_KEY"
	envRedisTLSInsecure   = "REDIS_TLS_INSECURE"
	envRedisTLSServerName = "REDIS_TLS_SERVER_NAME"
	envRedisClusterAddrs  = "REDIS_CLUSTER_ADDRESSES"

	// DefaultURL is used when callers pass an empty URL.
	DefaultURL = "redis://localhost:6379"

	pingTimeout = 2 * time.Second
)

// Connect builds a client for url and verifies it answers a PING.
func Connect(ctx context.Context, url string) (redis.UniversalClient, error) {
	if strings.TrimSpace(url) == "" {
		url = DefaultURL
	}
	client, err := NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// NewClient creates a Redis universal client. REDIS_CLUSTER_ADDRESSES switches
// it to cluster mode; REDIS_TLS_* variables configure TLS.
func NewClient(url string) (redis.UniversalClient, error) {
	opts, err := ParseOptions(url)
	if err != nil {
		return nil, err
	}
	addrs := splitAddrs(os.Getenv(envRedisClusterAddrs))
	if len(addrs) == 0 {
		addrs = []string{opts.Addr}
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:     addrs,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}), nil
}

// ParseOptions parses a Redis URL and applies TLS settings from the environment.
func ParseOptions(url string) (*redis.Options, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	tlsCfg, err := tlsSettingsFromEnv().build(opts.TLSConfig)
	if err != nil {
		return nil, err
	}
	opts.TLSConfig = tlsCfg
	return opts, nil
}

type tlsSettings struct {
	caPath     string
	certPath   string
	keyPath    string
	serverName string
	insecure   bool
}

func tlsSettingsFromEnv() tlsSettings {
	return tlsSettings{
		caPath:     strings.TrimSpace(os.Getenv(envRedisTLSCA)),
		certPath:   strings.TrimSpace(os.Getenv(envRedisTLSCert)),
		keyPath:    strings.TrimSpace(os.Getenv(envRedisTLSKey)),
		serverName: strings.TrimSpace(os.Getenv(envRedisTLSServerName)),
		insecure:   truthy(os.Getenv(envRedisTLSInsecure)),
	}
}

func (s tlsSettings) empty() bool {
	return s.caPath == "" && s.certPath == "" && s.keyPath == "" && s.serverName == "" && !s.insecure
}

func (s tlsSettings) build(existing *tls.Config) (*tls.Config, error) {
	if s.empty() {
		return existing, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if existing != nil {
		cfg = existing.Clone()
	}
	if s.serverName != "" {
		cfg.ServerName = s.serverName
	}
	if s.insecure {
		// #nosec G402 -- opt-in for local development only.
		cfg.InsecureSkipVerify = true
	}
	if s.caPath != "" {
		pem, err := os.ReadFile(s.caPath)
		if err != nil {
			return nil, fmt.Errorf("redis tls ca read: %w", err)
		}
		pool := cfg.RootCAs
		if pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("redis tls ca parse: %s", s.caPath)
		}
		cfg.RootCAs = pool
	}
	if s.certPath != "" || s.keyPath != "" {
		if s.certPath == "" || s.keyPath == "" {
			return nil, fmt.Errorf("redis tls cert/key must be set together")
		}
		cert, err := tls.LoadX509KeyPair(s.certPath, s.keyPath)
		if err != nil {
			return nil, fmt.Errorf("redis tls keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func truthy(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func splitAddrs(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
