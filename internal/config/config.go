// Package config loads application configuration from an optional YAML
// file overlaid with MAILROOM_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "MAILROOM_"

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Auth      AuthConfig      `koanf:"auth"`
	Queue     QueueConfig     `koanf:"queue"`
	Transport TransportConfig `koanf:"transport"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// AuthConfig holds ops API authentication settings.
type AuthConfig struct {
	TokenSecret string `koanf:"token_secret"`
}

// QueueConfig holds queue engine and runner settings.
type QueueConfig struct {
	BatchSize       int           `koanf:"batch_size"`
	MaxAttempts     int           `koanf:"max_attempts"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	CleanupMaxAge   time.Duration `koanf:"cleanup_max_age"`
}

// TransportConfig selects and configures the delivery transport.
type TransportConfig struct {
	// Provider is one of "smtp", "postmark" or "none". With "none" the
	// queue runs but deliveries are logged and dropped.
	Provider string         `koanf:"provider"`
	SMTP     SMTPConfig     `koanf:"smtp"`
	Postmark PostmarkConfig `koanf:"postmark"`
}

// SMTPConfig holds SMTP transport settings.
type SMTPConfig struct {
	Host        string  `koanf:"host"`
	Port        int     `koanf:"port"`
	User        string  `koanf:"user"`
	Password    string  `koanf:"password"`
	FromAddress string  `koanf:"from_address"`
	RateLimit   float64 `koanf:"rate_limit"` // messages per second, 0 = unlimited
}

// PostmarkConfig holds Postmark transport settings.
type PostmarkConfig struct {
	ServerToken  string `koanf:"server_token"`
	AccountToken string `koanf:"account_token"`
	FromAddress  string `koanf:"from_address"`
	ReplyTo      string `koanf:"reply_to"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Queue: QueueConfig{
			BatchSize:       5,
			MaxAttempts:     3,
			PollInterval:    10 * time.Second,
			CleanupInterval: 1 * time.Hour,
			CleanupMaxAge:   24 * time.Hour,
		},
		Transport: TransportConfig{
			Provider: "none",
			SMTP: SMTPConfig{
				Port: 587,
			},
		},
	}
}

// Load reads configuration. path may be empty to use defaults plus
// environment only. Environment variables use the MAILROOM_ prefix with
// double underscores as nesting separators, e.g.
// MAILROOM_TRANSPORT__SMTP__HOST.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Transport.Provider {
	case "none":
	case "smtp":
		if c.Transport.SMTP.Host == "" {
			return errors.New("transport.smtp.host is required with the smtp provider")
		}
		if c.Transport.SMTP.FromAddress == "" {
			return errors.New("transport.smtp.from_address is required with the smtp provider")
		}
	case "postmark":
		if c.Transport.Postmark.ServerToken == "" {
			return errors.New("transport.postmark.server_token is required with the postmark provider")
		}
		if c.Transport.Postmark.FromAddress == "" {
			return errors.New("transport.postmark.from_address is required with the postmark provider")
		}
	default:
		return fmt.Errorf("unknown transport provider %q", c.Transport.Provider)
	}

	if c.Auth.TokenSecret == "" {
		return errors.New("auth.token_secret is required")
	}

	return nil
}
