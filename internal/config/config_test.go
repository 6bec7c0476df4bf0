// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion and overrides, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearOverrides neutralizes the process-level overrides for one test.
func clearOverrides(t *testing.T) {
	t.Helper()
	for _, name := range []string{"TELEGRAM_TOKEN", "PUBLIC_URL", "RENDER_WEBHOOK_URL", "PORT"} {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	clearOverrides(t)

	path := writeConfig(t, "scanbot.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"
  public_url: "https://bot.example.com/"

database:
  path: "./test.db"

scan:
  steps: 5
  step_duration: "2s"
  tick_interval: "50ms"
  send_timeout: "3s"
  shutdown_grace: "1s"

telegram:
  enabled: true
  token: "123:abc"
  secret_token: "s3cret"
  allowed_chats: [42, -100123]

matrix:
  enabled: true
  homeserver: "https://matrix.org"
  user_id: "@scanbot:matrix.org"
  access_token: "matrix-token"
  allowed_rooms:
    - "!room1:matrix.org"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.GRPCAddr != "0.0.0.0:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "0.0.0.0:50051")
	}
	if cfg.Server.PublicURL != "https://bot.example.com" {
		t.Errorf("Server.PublicURL = %q, want trailing slash trimmed", cfg.Server.PublicURL)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}

	if cfg.Scan.Steps != 5 {
		t.Errorf("Scan.Steps = %d, want 5", cfg.Scan.Steps)
	}
	if cfg.Scan.StepDuration != 2*time.Second {
		t.Errorf("Scan.StepDuration = %v, want 2s", cfg.Scan.StepDuration)
	}
	if cfg.Scan.TickInterval != 50*time.Millisecond {
		t.Errorf("Scan.TickInterval = %v, want 50ms", cfg.Scan.TickInterval)
	}
	if cfg.Scan.SendTimeout != 3*time.Second {
		t.Errorf("Scan.SendTimeout = %v, want 3s", cfg.Scan.SendTimeout)
	}
	if cfg.Scan.ShutdownGrace != time.Second {
		t.Errorf("Scan.ShutdownGrace = %v, want 1s", cfg.Scan.ShutdownGrace)
	}

	if !cfg.Telegram.Enabled || cfg.Telegram.Token != "123:abc" || cfg.Telegram.SecretToken != "s3cret" {
		t.Errorf("Telegram = %+v", cfg.Telegram)
	}
	if len(cfg.Telegram.AllowedChats) != 2 || cfg.Telegram.AllowedChats[1] != -100123 {
		t.Errorf("Telegram.AllowedChats = %v", cfg.Telegram.AllowedChats)
	}

	if !cfg.Matrix.Enabled || cfg.Matrix.UserID != "@scanbot:matrix.org" {
		t.Errorf("Matrix = %+v", cfg.Matrix)
	}
	if cfg.Matrix.CommandPrefix != "!" {
		t.Errorf("Matrix.CommandPrefix = %q, want default %q", cfg.Matrix.CommandPrefix, "!")
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_TOML(t *testing.T) {
	clearOverrides(t)

	path := writeConfig(t, "scanbot.toml", `
[server]
http_addr = "127.0.0.1:9000"

[scan]
steps = 3
step_duration = "500ms"

[telegram]
enabled = true
token = "123:abc"
allowed_chats = [7]

[matrix]
command_prefix = "."
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Scan.Steps != 3 || cfg.Scan.StepDuration != 500*time.Millisecond {
		t.Errorf("Scan = %d x %v, want 3 x 500ms", cfg.Scan.Steps, cfg.Scan.StepDuration)
	}
	if cfg.Scan.TickInterval != 100*time.Millisecond {
		t.Errorf("Scan.TickInterval = %v, want default 100ms", cfg.Scan.TickInterval)
	}
	if len(cfg.Telegram.AllowedChats) != 1 || cfg.Telegram.AllowedChats[0] != 7 {
		t.Errorf("Telegram.AllowedChats = %v", cfg.Telegram.AllowedChats)
	}
	if cfg.Matrix.CommandPrefix != "." {
		t.Errorf("Matrix.CommandPrefix = %q", cfg.Matrix.CommandPrefix)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearOverrides(t)

	cfg, err := Load(writeConfig(t, "empty.yaml", "{}\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8000" {
		t.Errorf("Server.HTTPAddr = %q, want 0.0.0.0:8000", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Path != "./scanbot.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Scan.Steps != 10 || cfg.Scan.StepDuration != time.Second {
		t.Errorf("Scan = %d x %v, want 10 x 1s", cfg.Scan.Steps, cfg.Scan.StepDuration)
	}
	if cfg.Scan.SendTimeout != 10*time.Second {
		t.Errorf("Scan.SendTimeout = %v, want 10s", cfg.Scan.SendTimeout)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Telegram.Enabled || cfg.Matrix.Enabled {
		t.Error("frontends should be disabled by default")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	clearOverrides(t)
	t.Setenv("TEST_MATRIX_TOKEN", "expanded-token")
	t.Setenv("TEST_JWT_SECRET", strings.Repeat("x", 32))

	path := writeConfig(t, "scanbot.yaml", `
matrix:
  enabled: true
  homeserver: "https://matrix.org"
  user_id: "@bot:matrix.org"
  access_token: "${TEST_MATRIX_TOKEN}"
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Matrix.AccessToken != "expanded-token" {
		t.Errorf("Matrix.AccessToken = %q, want %q", cfg.Matrix.AccessToken, "expanded-token")
	}
	if len(cfg.Auth.JWTSecret) != 32 {
		t.Errorf("Auth.JWTSecret not expanded: %q", cfg.Auth.JWTSecret)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearOverrides(t)
	t.Setenv("TELEGRAM_TOKEN", "999:env")
	t.Setenv("RENDER_WEBHOOK_URL", "https://render.example.com")
	t.Setenv("PORT", "10000")

	path := writeConfig(t, "scanbot.yaml", `
server:
  http_addr: "0.0.0.0:8080"
telegram:
  token: "from-file"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Telegram.Enabled || cfg.Telegram.Token != "999:env" {
		t.Errorf("Telegram = %+v, want enabled with env token", cfg.Telegram)
	}
	if cfg.Server.PublicURL != "https://render.example.com" {
		t.Errorf("Server.PublicURL = %q", cfg.Server.PublicURL)
	}
	if cfg.Server.HTTPAddr != ":10000" {
		t.Errorf("Server.HTTPAddr = %q, want :10000", cfg.Server.HTTPAddr)
	}

	// PUBLIC_URL wins over RENDER_WEBHOOK_URL
	t.Setenv("PUBLIC_URL", "https://public.example.com")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.PublicURL != "https://public.example.com" {
		t.Errorf("Server.PublicURL = %q", cfg.Server.PublicURL)
	}
}

func TestFromEnv(t *testing.T) {
	clearOverrides(t)
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("PORT", "8443")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if !cfg.Telegram.Enabled || cfg.Server.HTTPAddr != ":8443" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Scan.TickInterval != 100*time.Millisecond {
		t.Errorf("Scan.TickInterval = %v", cfg.Scan.TickInterval)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/scanbot.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "bad.yaml", "server: [unterminated\n"))
	if err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("Load() error = %v, want parse error", err)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "bad.toml", "[server\n"))
	if err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("Load() error = %v, want parse error", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearOverrides(t)

	_, err := Load(writeConfig(t, "scanbot.yaml", `
scan:
  step_duration: "soon"
`))
	if err == nil || !strings.Contains(err.Error(), "step_duration") {
		t.Errorf("Load() error = %v, want step_duration error", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"tick not shorter than step", func(c *Config) { c.Scan.TickInterval = c.Scan.StepDuration }, "tick_interval"},
		{"zero steps", func(c *Config) { c.Scan.Steps = 0 }, "scan.steps"},
		{"zero send timeout", func(c *Config) { c.Scan.SendTimeout = 0 }, "send_timeout"},
		{"telegram without token", func(c *Config) { c.Telegram.Enabled = true }, "telegram.token"},
		{"matrix without homeserver", func(c *Config) { c.Matrix.Enabled = true }, "matrix.homeserver"},
		{"matrix without token", func(c *Config) {
			c.Matrix.Enabled = true
			c.Matrix.Homeserver = "https://matrix.org"
			c.Matrix.UserID = "@bot:matrix.org"
		}, "matrix.access_token"},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "jwt_secret"},
		{"relative public url", func(c *Config) { c.Server.PublicURL = "bot.example.com" }, "public_url"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"no http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "http_addr"},
		{"tailscale without hostname", func(c *Config) {
			c.Tailscale.Enabled = true
			c.Tailscale.Hostname = ""
		}, "tailscale.hostname"},
		{"tailscale without http addr", func(c *Config) {
			c.Tailscale.Enabled = true
			c.Server.HTTPAddr = ""
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("SCANBOT_TEST_A", "alpha")

	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"${SCANBOT_TEST_A}", "alpha"},
		{"x-${SCANBOT_TEST_A}-${SCANBOT_TEST_A}", "x-alpha-alpha"},
		{"${SCANBOT_TEST_UNSET_XYZ}", ""},
		{"$SCANBOT_TEST_A", "$SCANBOT_TEST_A"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	clearOverrides(t)
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_WEBHOOK_SECRET", "")
	t.Setenv("MATRIX_ACCESS_TOKEN", "")
	t.Setenv("SCANBOT_JWT_SECRET", "")

	cfg, err := Load("../../scanbot.example.yaml")
	if err != nil {
		t.Fatalf("Load(example) error = %v", err)
	}

	if !cfg.Telegram.Enabled || cfg.Telegram.Token != "123:abc" {
		t.Errorf("telegram = %+v, want enabled with token", cfg.Telegram)
	}
	if cfg.Matrix.Enabled {
		t.Error("matrix should be disabled in the example")
	}
	if cfg.Scan.Steps != 10 || cfg.Scan.SendTimeout != 10*time.Second {
		t.Errorf("scan = %+v, want 10 steps and 10s send timeout", cfg.Scan)
	}
	if cfg.Server.PublicURL != "" {
		t.Errorf("PublicURL = %q, want empty", cfg.Server.PublicURL)
	}
}
