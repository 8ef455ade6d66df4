// Package config loads the offlinecache host configuration from the
// environment and the optional asset manifest file.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ListenAddr   string   `env:"OFFLINECACHE_LISTEN_ADDR"   envDefault:"127.0.0.1:8089"`
	Origin       string   `env:"OFFLINECACHE_ORIGIN,required"`
	AssetVersion string   `env:"OFFLINECACHE_ASSET_VERSION"`
	DBPath       string   `env:"OFFLINECACHE_DB_PATH"       envDefault:"offlinecache.db"`
	Manifest     string   `env:"OFFLINECACHE_MANIFEST"`
	AuthPaths    []string `env:"OFFLINECACHE_AUTH_PATHS"    envSeparator:","`

	Provider  string        `env:"OFFLINECACHE_PROVIDER"   envDefault:"memory"`
	RedisAddr string        `env:"OFFLINECACHE_REDIS_ADDR" envDefault:"localhost:6379"`
	Codec     string        `env:"OFFLINECACHE_CODEC"      envDefault:"cbor"`
	CacheTTL  time.Duration `env:"OFFLINECACHE_CACHE_TTL"`

	ProbeURL      string        `env:"OFFLINECACHE_PROBE_URL"`
	ProbeInterval time.Duration `env:"OFFLINECACHE_PROBE_INTERVAL" envDefault:"15s"`
	FetchTimeout  time.Duration `env:"OFFLINECACHE_FETCH_TIMEOUT"  envDefault:"10s"`

	LogLevel     string `env:"OFFLINECACHE_LOG_LEVEL"   envDefault:"info"`
	LogBackend   string `env:"OFFLINECACHE_LOG_BACKEND" envDefault:"zap"`
	OTLPEndpoint string `env:"OFFLINECACHE_OTLP_ENDPOINT"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: origin %q must be an absolute URL", c.Origin)
	}
	switch c.Provider {
	case "memory", "ristretto", "bigcache", "redis":
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	switch c.Codec {
	case "cbor", "msgpack", "json":
	default:
		return fmt.Errorf("config: unknown codec %q", c.Codec)
	}
	switch c.LogBackend {
	case "zap", "logrus", "slog":
	default:
		return fmt.Errorf("config: unknown log backend %q", c.LogBackend)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	if c.CacheTTL < 0 || c.ProbeInterval < 0 || c.FetchTimeout < 0 {
		return fmt.Errorf("config: durations must not be negative")
	}
	for _, p := range c.AuthPaths {
		if !strings.HasPrefix(strings.TrimSpace(p), "/") {
			return fmt.Errorf("config: auth path %q must start with /", p)
		}
	}
	return nil
}
