package config

import (
	"flag"
	"fmt"
	"io"
)

// CLIFlags holds command line overrides. Nil fields were not set on the
// command line and leave the loaded value untouched. CLI flags sit at the
// top of the precedence chain: defaults < YAML < ENV < CLI.
type CLIFlags struct {
	ConfigPath    *string
	Port          *string
	LogLevel      *string
	NatsURL       *string
	MaxConcurrent *int
}

// ParseFlags parses command line arguments into CLIFlags. Only flags that
// were explicitly set come back non-nil.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("taskforge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := fs.String("config", "", "path to YAML config file")
	fs.StringVar(configPath, "c", "", "path to YAML config file (shorthand)")
	port := fs.String("port", "", "HTTP listen port")
	fs.StringVar(port, "p", "", "HTTP listen port (shorthand)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	natsURL := fs.String("nats-url", "", "NATS server URL for the event relay")
	maxConcurrent := fs.Int("max-concurrent", 0, "task execution ceiling")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var flags CLIFlags
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			flags.ConfigPath = configPath
		case "port", "p":
			flags.Port = port
		case "log-level":
			flags.LogLevel = logLevel
		case "nats-url":
			flags.NatsURL = natsURL
		case "max-concurrent":
			flags.MaxConcurrent = maxConcurrent
		}
	})
	return flags, nil
}

// applyCLI overlays set flags onto cfg.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
	if flags.MaxConcurrent != nil {
		cfg.Tasks.MaxConcurrent = *flags.MaxConcurrent
	}
}

// LoadWithCLI returns a Config using the full hierarchy: defaults < YAML <
// ENV < CLI. It also reports which YAML path was consulted.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}
