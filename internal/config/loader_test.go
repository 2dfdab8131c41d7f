package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Tasks.MaxConcurrent != 4 {
		t.Errorf("expected max_concurrent 4, got %d", cfg.Tasks.MaxConcurrent)
	}
	if cfg.Tasks.GracePeriod != 5*time.Second {
		t.Errorf("expected grace_period 5s, got %v", cfg.Tasks.GracePeriod)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
	if cfg.NATS.URL != "" {
		t.Errorf("relay should be disabled by default, got %s", cfg.NATS.URL)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
  cors_origin: "http://example.com"
tasks:
  max_concurrent: 8
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.CORSOrigin != "http://example.com" {
		t.Errorf("expected cors http://example.com, got %s", cfg.Server.CORSOrigin)
	}
	if cfg.Tasks.MaxConcurrent != 8 {
		t.Errorf("expected max_concurrent 8, got %d", cfg.Tasks.MaxConcurrent)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.Tasks.GracePeriod != 5*time.Second {
		t.Errorf("expected default grace_period, got %v", cfg.Tasks.GracePeriod)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("TASKFORGE_PORT", "7070")
	t.Setenv("TASKFORGE_MAX_CONCURRENT", "12")
	t.Setenv("TASKFORGE_GRACE_PERIOD", "10s")
	t.Setenv("TASKFORGE_LOG_LEVEL", "warn")
	t.Setenv("NATS_URL", "nats://test:4222")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Tasks.MaxConcurrent != 12 {
		t.Errorf("expected max_concurrent 12, got %d", cfg.Tasks.MaxConcurrent)
	}
	if cfg.Tasks.GracePeriod != 10*time.Second {
		t.Errorf("expected grace_period 10s, got %v", cfg.Tasks.GracePeriod)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected test NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "zero max_concurrent",
			modify: func(c *Config) { c.Tasks.MaxConcurrent = 0 },
			errMsg: "tasks.max_concurrent must be >= 1",
		},
		{
			name:   "zero grace_period",
			modify: func(c *Config) { c.Tasks.GracePeriod = 0 },
			errMsg: "tasks.grace_period must be positive",
		},
		{
			name:   "empty docker binary",
			modify: func(c *Config) { c.Docker.Binary = "" },
			errMsg: "docker.binary is required",
		},
		{
			name:   "empty git binary",
			modify: func(c *Config) { c.Git.Binary = "" },
			errMsg: "git.binary is required",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "sample rate above one",
			modify: func(c *Config) { c.Telemetry.SampleRate = 1.5 },
			errMsg: "telemetry.sample_rate must be within [0,1]",
		},
		{
			name:   "mcp enabled without addr",
			modify: func(c *Config) { c.MCP.Enabled = true; c.MCP.Addr = "" },
			errMsg: "mcp.addr is required when mcp is enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags([]string{"--port", "9090", "--log-level", "debug"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "9090" {
		t.Errorf("expected port 9090, got %v", flags.Port)
	}
	if flags.LogLevel == nil || *flags.LogLevel != "debug" {
		t.Errorf("expected log-level debug, got %v", flags.LogLevel)
	}
	// Unset flags remain nil
	if flags.NatsURL != nil {
		t.Errorf("expected nil NatsURL, got %v", *flags.NatsURL)
	}
	if flags.ConfigPath != nil {
		t.Errorf("expected nil ConfigPath, got %v", *flags.ConfigPath)
	}
	if flags.MaxConcurrent != nil {
		t.Errorf("expected nil MaxConcurrent, got %v", *flags.MaxConcurrent)
	}
}

func TestParseFlagsShorthand(t *testing.T) {
	flags, err := ParseFlags([]string{"-p", "7070", "-c", "custom.yaml"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "7070" {
		t.Errorf("expected port 7070, got %v", flags.Port)
	}
	if flags.ConfigPath == nil || *flags.ConfigPath != "custom.yaml" {
		t.Errorf("expected config custom.yaml, got %v", flags.ConfigPath)
	}
}

func TestParseFlagsInvalid(t *testing.T) {
	_, err := ParseFlags([]string{"--unknown-flag"})
	if err == nil {
		t.Error("expected error for unknown flag, got nil")
	}
}

func TestApplyCLI(t *testing.T) {
	cfg := Defaults()

	port := "3333"
	logLevel := "error"
	natsURL := "nats://cli:4222"
	maxConcurrent := 9

	applyCLI(&cfg, CLIFlags{
		Port:          &port,
		LogLevel:      &logLevel,
		NatsURL:       &natsURL,
		MaxConcurrent: &maxConcurrent,
	})

	if cfg.Server.Port != "3333" {
		t.Errorf("expected port 3333, got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("expected log level error, got %s", cfg.Logging.Level)
	}
	if cfg.NATS.URL != "nats://cli:4222" {
		t.Errorf("expected CLI NATS URL, got %s", cfg.NATS.URL)
	}
	if cfg.Tasks.MaxConcurrent != 9 {
		t.Errorf("expected max_concurrent 9, got %d", cfg.Tasks.MaxConcurrent)
	}
}

func TestApplyCLINilFlags(t *testing.T) {
	cfg := Defaults()
	original := cfg

	// All-nil flags should change nothing.
	applyCLI(&cfg, CLIFlags{})

	if cfg.Server.Port != original.Server.Port {
		t.Errorf("port changed from %s to %s", original.Server.Port, cfg.Server.Port)
	}
	if cfg.Logging.Level != original.Logging.Level {
		t.Errorf("log level changed from %s to %s", original.Logging.Level, cfg.Logging.Level)
	}
}

func TestCLIOverridesEnv(t *testing.T) {
	// CLI flags must win over ENV.
	t.Setenv("TASKFORGE_PORT", "7070")
	t.Setenv("TASKFORGE_LOG_LEVEL", "warn")

	flags, err := ParseFlags([]string{"--port", "3333", "--log-level", "error"})
	if err != nil {
		t.Fatal(err)
	}

	cfg, _, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "3333" {
		t.Errorf("expected CLI port 3333 to override ENV 7070, got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("expected CLI log-level error to override ENV warn, got %s", cfg.Logging.Level)
	}
}

func TestLoadWithCLICustomConfig(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "custom.yaml")
	content := `
server:
  port: "5555"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	flags, err := ParseFlags([]string{"--config", yamlPath})
	if err != nil {
		t.Fatal(err)
	}

	cfg, resolvedPath, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}

	if resolvedPath != yamlPath {
		t.Errorf("expected resolved path %s, got %s", yamlPath, resolvedPath)
	}
	if cfg.Server.Port != "5555" {
		t.Errorf("expected port 5555 from custom YAML, got %s", cfg.Server.Port)
	}
}
