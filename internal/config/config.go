// Package config provides hierarchical configuration loading for TaskForge.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the TaskForge service.
type Config struct {
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
	Tasks     Tasks     `yaml:"tasks"`
	Docker    Docker    `yaml:"docker"`
	Git       Git       `yaml:"git"`
	Workspace Workspace `yaml:"workspace"`
	NATS      NATS      `yaml:"nats"`
	Breaker   Breaker   `yaml:"breaker"`
	Cache     Cache     `yaml:"cache"`
	Telemetry Telemetry `yaml:"telemetry"`
	MCP       MCP       `yaml:"mcp"`
}

// Server holds HTTP server configuration. RateLimit is the sustained
// per-client request rate on the API; RateBurst the bucket size.
type Server struct {
	Port           string        `yaml:"port"`
	CORSOrigin     string        `yaml:"cors_origin"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      float64       `yaml:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
	// BufferSize and Workers apply only when Async is set.
	BufferSize int `yaml:"buffer_size"`
	Workers    int `yaml:"workers"`
}

// Tasks holds the orchestration core configuration.
type Tasks struct {
	MaxConcurrent int           `yaml:"max_concurrent"` // Execution ceiling (default: 4)
	GracePeriod   time.Duration `yaml:"grace_period"`   // SIGTERM-to-SIGKILL window (default: 5s)
	// DefaultTimeout applies to submissions that do not set one. Zero means
	// unlimited.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// Docker holds container CLI configuration.
type Docker struct {
	Binary       string        `yaml:"binary"`
	BuildTimeout time.Duration `yaml:"build_timeout"`
	RunTimeout   time.Duration `yaml:"run_timeout"`
}

// Git holds VCS CLI configuration.
type Git struct {
	Binary        string        `yaml:"binary"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Workspace holds submission workspace configuration.
type Workspace struct {
	Root       string `yaml:"root"`
	ArchiveDir string `yaml:"archive_dir"`
	// ArchiveKeep bounds how many archives Clean retains per workspace.
	ArchiveKeep int `yaml:"archive_keep"`
}

// NATS holds the optional JetStream event relay configuration. An empty URL
// disables the relay.
type NATS struct {
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Breaker holds circuit breaker configuration for the container daemon.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Cache holds the idempotency cache configuration.
type Cache struct {
	MaxSizeMB int64         `yaml:"max_size_mb"`
	TTL       time.Duration `yaml:"ttl"`
}

// Telemetry holds OpenTelemetry export configuration.
type Telemetry struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	Insecure   bool    `yaml:"insecure"`
	SampleRate float64 `yaml:"sample_rate"`
}

// MCP holds the Model Context Protocol server configuration. An empty
// APIKey disables authentication.
type MCP struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	APIKey  string `yaml:"api_key"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:           "8080",
			CORSOrigin:     "http://localhost:3000",
			RequestTimeout: 60 * time.Second,
			RateLimit:      10,
			RateBurst:      20,
		},
		Logging: Logging{
			Level:      "info",
			Service:    "taskforge",
			BufferSize: 1024,
			Workers:    1,
		},
		Tasks: Tasks{
			MaxConcurrent: 4,
			GracePeriod:   5 * time.Second,
		},
		Docker: Docker{
			Binary:       "docker",
			BuildTimeout: 10 * time.Minute,
			RunTimeout:   5 * time.Minute,
		},
		Git: Git{
			Binary:        "git",
			MaxConcurrent: 4,
			Timeout:       2 * time.Minute,
		},
		Workspace: Workspace{
			Root:        "workspaces",
			ArchiveDir:  "archives",
			ArchiveKeep: 5,
		},
		NATS: NATS{
			Stream:        "TASKFORGE",
			SubjectPrefix: "taskforge",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Cache: Cache{
			MaxSizeMB: 64,
			TTL:       10 * time.Minute,
		},
		Telemetry: Telemetry{
			Endpoint:   "localhost:4317",
			Insecure:   true,
			SampleRate: 0.1,
		},
		MCP: MCP{
			Addr: ":8081",
		},
	}
}
