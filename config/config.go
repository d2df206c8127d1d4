// Package config reads the server configuration from the environment. A .env
// file in the working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Env       string `env:"ENV,default=dev"`
	Addr      string `env:"ADDR,default=:3000"`
	PublicURL string `env:"PUBLIC_URL,default=http://localhost:3000"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`

	StoreDriver   string `env:"STORE_DRIVER,default=file"`
	DataDir       string `env:"DATA_DIR,default=data"`
	SQLitePath    string `env:"SQLITE_PATH,default=data/healthassist.db"`
	KnowledgePath string `env:"KNOWLEDGE_PATH"`

	SessionExpirationDays int64 `env:"SESSION_EXPIRATION_DAYS,default=30"`
	SessionRefreshDays    int64 `env:"SESSION_REFRESH_DAYS,default=15"`

	GoogleClientID       string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret   string        `env:"GOOGLE_CLIENT_SECRET"`
	FacebookClientID     string        `env:"FACEBOOK_CLIENT_ID"`
	FacebookClientSecret string        `env:"FACEBOOK_CLIENT_SECRET"`
	OAuthTimeout         time.Duration `env:"OAUTH_TIMEOUT,default=10s"`
	PostLoginRedirect    string        `env:"POST_LOGIN_REDIRECT,default=/"`

	PredictTimeout time.Duration `env:"PREDICT_TIMEOUT,default=5s"`

	// Semicolon separated.
	AllowedOrigins []string `env:"CORS_ORIGINS,default=http://localhost:3001"`
	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS,default=15"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST,default=50"`
	// Semicolon separated IPs or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decoding environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.SessionExpirationDays <= 0 {
		return errors.New("SESSION_EXPIRATION_DAYS must be positive")
	}
	if c.SessionRefreshDays < 0 || c.SessionRefreshDays > c.SessionExpirationDays {
		return errors.New("SESSION_REFRESH_DAYS must be between 0 and SESSION_EXPIRATION_DAYS")
	}
	if c.OAuthTimeout <= 0 || c.PredictTimeout <= 0 {
		return errors.New("OAUTH_TIMEOUT and PREDICT_TIMEOUT must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := c.Proxies(); err != nil {
		return err
	}
	return nil
}

// Proxies parses TrustedProxies. A bare address trusts that host only.
func (c *Config) Proxies() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", raw, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", raw, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Origins returns the CORS allow list as a set.
func (c *Config) Origins() map[string]struct{} {
	origins := make(map[string]struct{}, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = struct{}{}
		}
	}
	return origins
}

func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.PublicURL, "/") + "/oauth/callback"
}
