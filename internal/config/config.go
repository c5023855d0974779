// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

// Package config loads process configuration from a YAML file overlaid
// with command-line flags.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Defaults applied when neither file nor flags provide a value.
const (
	DefaultHTTPAddr      = ":8080"
	DefaultMetricsAddr   = "127.0.0.1:9090"
	DefaultLogFormat     = "json"
	DefaultSessionTTL    = 24 * time.Hour
	DefaultResetTTL      = time.Hour
	DefaultPublicLimit   = 30
	DefaultPublicWindow  = time.Minute
	DefaultAccountLimit  = 120
	DefaultAccountWindow = time.Minute
)

// Config is the process configuration for the auth service.
type Config struct {
	HTTPAddr    string `koanf:"http_addr"`
	MetricsAddr string `koanf:"metrics_addr"`
	LogFormat   string `koanf:"log_format"`

	// TrustProxyHeader enables reading the client address from the first
	// X-Forwarded-For entry. Only set this when an edge proxy that
	// rewrites the header fronts every request; a direct-connected
	// client can otherwise forge fresh addresses and slip the public
	// rate limiter.
	TrustProxyHeader bool `koanf:"trust_proxy_header"`

	Database DatabaseConfig  `koanf:"database"`
	Token    TokenConfig     `koanf:"token"`
	Session  SessionConfig   `koanf:"session"`
	Reset    ResetConfig     `koanf:"reset"`
	Limits   RateLimitConfig `koanf:"ratelimit"`
	SMTP     SMTPConfig      `koanf:"smtp"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// TokenConfig holds the bearer-token signing settings. Secret is
// required; its absence aborts startup.
type TokenConfig struct {
	Secret string `koanf:"secret"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// ResetConfig holds password-reset settings. LinkBase is the URL prefix
// the raw reset token is appended to in outbound email.
type ResetConfig struct {
	TTL      time.Duration `koanf:"ttl"`
	LinkBase string        `koanf:"link_base"`
}

// RateLimitConfig holds fixed-window limiter settings for the two keying
// policies: by client address on public routes, by authenticated subject
// elsewhere.
type RateLimitConfig struct {
	PublicLimit   int           `koanf:"public_limit"`
	PublicWindow  time.Duration `koanf:"public_window"`
	AccountLimit  int           `koanf:"account_limit"`
	AccountWindow time.Duration `koanf:"account_window"`
}

// SMTPConfig holds outbound mail settings. An empty Addr selects the
// logging mailer.
type SMTPConfig struct {
	Addr     string `koanf:"addr"`
	From     string `koanf:"from"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// Load reads configuration from the optional YAML file at path, then
// overlays values from flags. Validation failures abort startup; a
// misconfigured auth service must not come up.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = DefaultMetricsAddr
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = DefaultSessionTTL
	}
	if c.Reset.TTL <= 0 {
		c.Reset.TTL = DefaultResetTTL
	}
	if c.Limits.PublicLimit <= 0 {
		c.Limits.PublicLimit = DefaultPublicLimit
	}
	if c.Limits.PublicWindow <= 0 {
		c.Limits.PublicWindow = DefaultPublicWindow
	}
	if c.Limits.AccountLimit <= 0 {
		c.Limits.AccountLimit = DefaultAccountLimit
	}
	if c.Limits.AccountWindow <= 0 {
		c.Limits.AccountWindow = DefaultAccountWindow
	}
}

// Validate checks the invariants that must hold before the service may
// start.
func (c *Config) Validate() error {
	if c.Token.Secret == "" {
		return oops.Code("CONFIG_MISSING_SECRET").
			Errorf("token.secret is required")
	}
	if c.Database.URL == "" {
		return oops.Code("CONFIG_MISSING_DATABASE").
			Errorf("database.url is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID_LOG_FORMAT").
			With("log_format", c.LogFormat).
			Errorf("log_format must be json or text")
	}
	return nil
}
