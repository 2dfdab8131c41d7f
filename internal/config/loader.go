package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "taskforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TASKFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "TASKFORGE_CORS_ORIGIN")
	setDuration(&cfg.Server.RequestTimeout, "TASKFORGE_REQUEST_TIMEOUT")
	setFloat64(&cfg.Server.RateLimit, "TASKFORGE_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "TASKFORGE_RATE_BURST")
	setString(&cfg.Logging.Level, "TASKFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TASKFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TASKFORGE_LOG_ASYNC")
	setInt(&cfg.Logging.BufferSize, "TASKFORGE_LOG_BUFFER")
	setInt(&cfg.Logging.Workers, "TASKFORGE_LOG_WORKERS")
	setInt(&cfg.Tasks.MaxConcurrent, "TASKFORGE_MAX_CONCURRENT")
	setDuration(&cfg.Tasks.GracePeriod, "TASKFORGE_GRACE_PERIOD")
	setDuration(&cfg.Tasks.DefaultTimeout, "TASKFORGE_DEFAULT_TIMEOUT")
	setString(&cfg.Docker.Binary, "TASKFORGE_DOCKER_BINARY")
	setDuration(&cfg.Docker.BuildTimeout, "TASKFORGE_DOCKER_BUILD_TIMEOUT")
	setDuration(&cfg.Docker.RunTimeout, "TASKFORGE_DOCKER_RUN_TIMEOUT")
	setString(&cfg.Git.Binary, "TASKFORGE_GIT_BINARY")
	setInt(&cfg.Git.MaxConcurrent, "TASKFORGE_GIT_MAX_CONCURRENT")
	setDuration(&cfg.Git.Timeout, "TASKFORGE_GIT_TIMEOUT")
	setString(&cfg.Workspace.Root, "TASKFORGE_WORKSPACE_ROOT")
	setString(&cfg.Workspace.ArchiveDir, "TASKFORGE_ARCHIVE_DIR")
	setInt(&cfg.Workspace.ArchiveKeep, "TASKFORGE_ARCHIVE_KEEP")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "TASKFORGE_NATS_STREAM")
	setString(&cfg.NATS.SubjectPrefix, "TASKFORGE_NATS_SUBJECT_PREFIX")
	setInt(&cfg.Breaker.MaxFailures, "TASKFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TASKFORGE_BREAKER_TIMEOUT")
	setInt64(&cfg.Cache.MaxSizeMB, "TASKFORGE_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "TASKFORGE_CACHE_TTL")
	setBool(&cfg.Telemetry.Enabled, "TASKFORGE_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "TASKFORGE_OTEL_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "TASKFORGE_OTEL_INSECURE")
	setFloat64(&cfg.Telemetry.SampleRate, "TASKFORGE_OTEL_SAMPLE_RATE")
	setBool(&cfg.MCP.Enabled, "TASKFORGE_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "TASKFORGE_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "TASKFORGE_MCP_API_KEY")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Tasks.MaxConcurrent < 1 {
		return errors.New("tasks.max_concurrent must be >= 1")
	}
	if cfg.Tasks.GracePeriod <= 0 {
		return errors.New("tasks.grace_period must be positive")
	}
	if cfg.Docker.Binary == "" {
		return errors.New("docker.binary is required")
	}
	if cfg.Git.Binary == "" {
		return errors.New("git.binary is required")
	}
	if cfg.Logging.Async && cfg.Logging.BufferSize < 1 {
		return errors.New("logging.buffer_size must be >= 1 when async logging is on")
	}
	if cfg.Logging.Async && cfg.Logging.Workers < 1 {
		return errors.New("logging.workers must be >= 1 when async logging is on")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Cache.MaxSizeMB < 1 {
		return errors.New("cache.max_size_mb must be >= 1")
	}
	if cfg.Telemetry.SampleRate < 0 || cfg.Telemetry.SampleRate > 1 {
		return errors.New("telemetry.sample_rate must be within [0,1]")
	}
	if cfg.MCP.Enabled && cfg.MCP.Addr == "" {
		return errors.New("mcp.addr is required when mcp is enabled")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
