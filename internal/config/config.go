package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rotisserie/eris"
)

// Config holds runtime configuration values for the growi client.
type Config struct {
	DBPath        string        `envconfig:"DB_PATH" default:"./data/growi-client.db"`
	ServerHost    string        `envconfig:"SERVER_HOST" default:"127.0.0.1"`
	ServerPort    int           `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
	SentryDSN     string        `envconfig:"SENTRY_DSN"`
	Environment   string        `envconfig:"ENV" default:"development"`
	HTTPTimeout   time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	ShutdownGrace time.Duration `envconfig:"SHUTDOWN_GRACE" default:"10s"`

	RateLimitConfig
	GrowiSeed
}

// RateLimitConfig bounds requests per client address on the local API.
type RateLimitConfig struct {
	Burst             int           `envconfig:"RATE_LIMIT_BURST" default:"20"`
	RequestsPerSecond float64       `envconfig:"RATE_LIMIT_RPS" default:"10"`
	ClientTTL         time.Duration `envconfig:"RATE_LIMIT_CLIENT_TTL" default:"5m"`
}

// GrowiSeed holds optional settings applied over the persisted user settings at startup.
type GrowiSeed struct {
	URL            string `envconfig:"GROWI_URL"`
	APIToken       string `envconfig:"GROWI_API_TOKEN"`
	RootPath       string `envconfig:"GROWI_ROOT_PATH"`
	MaxPagePerTime int    `envconfig:"GROWI_MAX_PAGE_PER_TIME"`
}

const (
	defaultDBPath        = "./data/growi-client.db"
	defaultServerHost    = "127.0.0.1"
	defaultServerPort    = 8080
	defaultLogLevel      = "info"
	defaultEnvironment   = "development"
	defaultHTTPTimeout   = 30 * time.Second
	defaultShutdownGrace = 10 * time.Second
)

// Load reads configuration values from environment variables, applying defaults where necessary.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, eris.Wrap(err, "processing environment")
	}

	if cfg.ServerPort <= 0 || cfg.ServerPort > 65535 {
		return nil, eris.Errorf("invalid SERVER_PORT value: %d", cfg.ServerPort)
	}
	if cfg.HTTPTimeout <= 0 {
		return nil, eris.Errorf("invalid HTTP_TIMEOUT value: %s", cfg.HTTPTimeout)
	}
	if cfg.Burst < 0 || cfg.RequestsPerSecond < 0 {
		return nil, eris.New("rate limit values must not be negative")
	}

	return &cfg, nil
}

// Addr is the listen address of the local API.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}
