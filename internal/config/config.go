// ABOUTME: Configuration loading and parsing for scanbot
// ABOUTME: Supports YAML or TOML files with env var expansion, env overrides, defaults, and durations

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete scanbot configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Scan      ScanConfig      `yaml:"scan" toml:"scan"`
	Telegram  TelegramConfig  `yaml:"telegram" toml:"telegram"`
	Matrix    MatrixConfig    `yaml:"matrix" toml:"matrix"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listener addresses and the externally reachable URL
type ServerConfig struct {
	HTTPAddr  string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr  string `yaml:"grpc_addr" toml:"grpc_addr"`
	PublicURL string `yaml:"public_url" toml:"public_url"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// ScanConfig holds scan pacing
type ScanConfig struct {
	Steps         int           `yaml:"steps" toml:"steps"`
	StepDuration  time.Duration `yaml:"-" toml:"-"`
	TickInterval  time.Duration `yaml:"-" toml:"-"`
	SendTimeout   time.Duration `yaml:"-" toml:"-"`
	ShutdownGrace time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	StepDurationRaw  string `yaml:"step_duration" toml:"step_duration"`
	TickIntervalRaw  string `yaml:"tick_interval" toml:"tick_interval"`
	SendTimeoutRaw   string `yaml:"send_timeout" toml:"send_timeout"`
	ShutdownGraceRaw string `yaml:"shutdown_grace" toml:"shutdown_grace"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	Enabled      bool    `yaml:"enabled" toml:"enabled"`
	Token        string  `yaml:"token" toml:"token"`
	SecretToken  string  `yaml:"secret_token" toml:"secret_token"` // checked against X-Telegram-Bot-Api-Secret-Token
	APIEndpoint  string  `yaml:"api_endpoint" toml:"api_endpoint"` // format string with token and method, for self-hosted Bot API servers
	AllowedChats []int64 `yaml:"allowed_chats" toml:"allowed_chats"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Enabled       bool     `yaml:"enabled" toml:"enabled"`
	Homeserver    string   `yaml:"homeserver" toml:"homeserver"`
	UserID        string   `yaml:"user_id" toml:"user_id"`
	AccessToken   string   `yaml:"access_token" toml:"access_token"`
	AllowedRooms  []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
	CommandPrefix string   `yaml:"command_prefix" toml:"command_prefix"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public HTTPS on :443
}

// AuthConfig holds admin API authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MinJWTSecretLen is the shortest accepted HMAC secret.
const MinJWTSecretLen = 32

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	_ = parseDurations(cfg) // defaults always parse
	return cfg
}

// FromEnv builds a configuration from defaults and the process environment only.
func FromEnv() (*Config, error) {
	cfg := Default()
	applyEnv(cfg)
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// applyEnv applies the process-level overrides.
func applyEnv(cfg *Config) {
	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
		cfg.Telegram.Enabled = true
	}

	if u := os.Getenv("PUBLIC_URL"); u != "" {
		cfg.Server.PublicURL = u
	} else if u := os.Getenv("RENDER_WEBHOOK_URL"); u != "" {
		cfg.Server.PublicURL = u
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.HTTPAddr = ":" + port
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" && !cfg.Tailscale.Enabled {
		cfg.Server.HTTPAddr = "0.0.0.0:8000"
	}
	cfg.Server.PublicURL = strings.TrimRight(cfg.Server.PublicURL, "/")

	if cfg.Database.Path == "" {
		cfg.Database.Path = "./scanbot.db"
	}

	if cfg.Scan.Steps == 0 {
		cfg.Scan.Steps = 10
	}
	if cfg.Scan.StepDurationRaw == "" {
		cfg.Scan.StepDurationRaw = "1s"
	}
	if cfg.Scan.TickIntervalRaw == "" {
		cfg.Scan.TickIntervalRaw = "100ms"
	}
	if cfg.Scan.SendTimeoutRaw == "" {
		cfg.Scan.SendTimeoutRaw = "10s"
	}
	if cfg.Scan.ShutdownGraceRaw == "" {
		cfg.Scan.ShutdownGraceRaw = "5s"
	}

	if cfg.Matrix.CommandPrefix == "" {
		cfg.Matrix.CommandPrefix = "!"
	}

	if cfg.Tailscale.Hostname == "" {
		cfg.Tailscale.Hostname = "scanbot"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Server.PublicURL != "" {
		u, err := url.Parse(c.Server.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("server.public_url must be an absolute http(s) URL, got %q", c.Server.PublicURL)
		}
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if err := c.Scan.validate(); err != nil {
		return err
	}

	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required when telegram is enabled")
	}

	if c.Matrix.Enabled {
		switch {
		case c.Matrix.Homeserver == "":
			return fmt.Errorf("matrix.homeserver is required when matrix is enabled")
		case c.Matrix.UserID == "":
			return fmt.Errorf("matrix.user_id is required when matrix is enabled")
		case c.Matrix.AccessToken == "":
			return fmt.Errorf("matrix.access_token is required when matrix is enabled")
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinJWTSecretLen {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLen)
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	if !slices.Contains([]string{"text", "json"}, strings.ToLower(c.Logging.Format)) {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (s ScanConfig) validate() error {
	switch {
	case s.Steps <= 0:
		return fmt.Errorf("scan.steps must be positive, got %d", s.Steps)
	case s.StepDuration <= 0:
		return fmt.Errorf("scan.step_duration must be positive")
	case s.TickInterval <= 0 || s.TickInterval >= s.StepDuration:
		return fmt.Errorf("scan.tick_interval must be positive and shorter than scan.step_duration")
	case s.SendTimeout <= 0:
		return fmt.Errorf("scan.send_timeout must be positive")
	case s.ShutdownGrace < 0:
		return fmt.Errorf("scan.shutdown_grace must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"step_duration", cfg.Scan.StepDurationRaw, &cfg.Scan.StepDuration},
		{"tick_interval", cfg.Scan.TickIntervalRaw, &cfg.Scan.TickInterval},
		{"send_timeout", cfg.Scan.SendTimeoutRaw, &cfg.Scan.SendTimeout},
		{"shutdown_grace", cfg.Scan.ShutdownGraceRaw, &cfg.Scan.ShutdownGrace},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
