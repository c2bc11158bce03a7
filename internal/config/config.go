package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	APIAddr     string `env:"API_ADDR" envDefault:":8080"`
	DBFile      string `env:"PALAVER_DB" envDefault:"palaver.db"`
	UploadsPath string `env:"UPLOADS_PATH" envDefault:"uploads"`

	// CoordAddrs selects the coordination store backend: one or more
	// redis addresses, or empty for the in-process store.
	CoordAddrs []string `env:"COORD_ADDR" envSeparator:","`
	CoordPass  string   `env:"COORD_PASSWORD"`

	TokenExpiry     time.Duration `env:"TOKEN_EXPIRY" envDefault:"24h"`
	TakeoverGrace   time.Duration `env:"TAKEOVER_GRACE" envDefault:"10s"`
	HistoryTimeout  time.Duration `env:"HISTORY_TIMEOUT" envDefault:"10s"`
	StreamBufferTTL time.Duration `env:"STREAM_BUFFER_TTL" envDefault:"10m"`
	RecentCacheTTL  time.Duration `env:"RECENT_CACHE_TTL" envDefault:"5m"`
	HistoryPageSize int           `env:"HISTORY_PAGE_SIZE" envDefault:"30"`
	RecentCacheSize int           `env:"RECENT_CACHE_SIZE" envDefault:"50"`
	MaxLoadRetries  int           `env:"MAX_LOAD_RETRIES" envDefault:"3"`
	AssistantKinds  []string      `env:"ASSISTANT_KINDS" envSeparator:"," envDefault:"assistant"`
	VAPIDPublicKey  string        `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string        `env:"VAPID_PRIVATE_KEY"`
	VAPIDSubscriber string        `env:"VAPID_SUBSCRIBER" envDefault:"mailto:admin@localhost"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}
	if c.HistoryPageSize <= 0 || c.RecentCacheSize <= 0 {
		return fmt.Errorf("page and cache sizes must be greater than 0")
	}
	if c.HistoryPageSize > c.RecentCacheSize {
		return fmt.Errorf("HISTORY_PAGE_SIZE cannot exceed RECENT_CACHE_SIZE")
	}
	return nil
}
