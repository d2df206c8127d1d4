package config

import (
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "dev")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Addr)
	assert.Equal(t, "file", cfg.StoreDriver)
	assert.Equal(t, int64(30), cfg.SessionExpirationDays)
	assert.Equal(t, int64(15), cfg.SessionRefreshDays)
	assert.Equal(t, 10*time.Second, cfg.OAuthTimeout)
	assert.Equal(t, 5*time.Second, cfg.PredictTimeout)
	assert.Equal(t, []string{"http://localhost:3001"}, cfg.AllowedOrigins)
	assert.Equal(t, "http://localhost:3000/oauth/callback", cfg.CallbackURL())
	assert.False(t, cfg.IsProd())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("PUBLIC_URL", "https://health.example.com/")
	t.Setenv("CORS_ORIGINS", "https://a.example.com;https://b.example.com")
	t.Setenv("OAUTH_TIMEOUT", "3s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProd())
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, 3*time.Second, cfg.OAuthTimeout)
	assert.Equal(t, "https://health.example.com/oauth/callback", cfg.CallbackURL())
	assert.Len(t, cfg.Origins(), 2)
	assert.Contains(t, cfg.Origins(), "https://b.example.com")

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			StoreDriver:           "memory",
			LogLevel:              "info",
			SessionExpirationDays: 30,
			SessionRefreshDays:    15,
			OAuthTimeout:          time.Second,
			PredictTimeout:        time.Second,
			RateLimitRPS:          1,
			RateLimitBurst:        1,
		}
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	tests := map[string]func(c *Config){
		"unknown driver":       func(c *Config) { c.StoreDriver = "postgres" },
		"zero expiration":      func(c *Config) { c.SessionExpirationDays = 0 },
		"refresh > expiration": func(c *Config) { c.SessionRefreshDays = 31 },
		"zero timeout":         func(c *Config) { c.OAuthTimeout = 0 },
		"zero burst":           func(c *Config) { c.RateLimitBurst = 0 },
		"bad level":            func(c *Config) { c.LogLevel = "loud" },
		"bad proxy":            func(c *Config) { c.TrustedProxies = []string{"10.0.0.0/33"} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestProxies(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8; 192.0.2.7")

	cfg, err := Load()
	require.NoError(t, err)

	proxies, err := cfg.Proxies()
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.7/32"),
	}, proxies)
}
