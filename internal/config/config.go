// Package config loads the studio configuration from a YAML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Runtime backends.
const (
	BackendStarlark   = "starlark"
	BackendJavaScript = "javascript"
	BackendPython     = "python"
	BackendDocker     = "docker"
	BackendRemote     = "remote"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Backends lists the accepted runtime.backend values.
var Backends = []string{BackendStarlark, BackendJavaScript, BackendPython, BackendDocker, BackendRemote}

// Config is the configuration shared by the server, the worker and the CLI.
type Config struct {
	// Addr is the HTTP listen address of the server.
	Addr string `yaml:"addr"`

	Redis struct {
		Addr string `yaml:"addr"` // host:port
	} `yaml:"redis"`

	Runtime struct {
		Backend  string `yaml:"backend"`   // starlark, javascript, python, docker or remote
		Python   string `yaml:"python"`    // interpreter for the python backend
		Image    string `yaml:"image"`     // image for the docker backend
		MemoryMB int64  `yaml:"memory_mb"` // container memory limit for the docker backend
		IndexURL string `yaml:"index_url"` // package index for installs
	} `yaml:"runtime"`

	Store struct {
		Kind string `yaml:"kind"` // memory, file or redis
		Path string `yaml:"path"` // document path for the file store
	} `yaml:"store"`

	Log struct {
		Level   string `yaml:"level"`   // debug, info, warn or error
		Format  string `yaml:"format"`  // text or json
		Journal bool   `yaml:"journal"` // also log to the systemd journal
	} `yaml:"log"`

	RateLimit struct {
		Rate  float64 `yaml:"rate"`  // tokens per second
		Burst float64 `yaml:"burst"` // bucket capacity
		// TrustForwardedFor keys clients by X-Forwarded-For. Enable only
		// behind a proxy that overwrites the header.
		TrustForwardedFor bool `yaml:"trust_forwarded_for"`
	} `yaml:"rate_limit"`

	Worker struct {
		Concurrency      int           `yaml:"concurrency"`
		Backend          string        `yaml:"backend"` // local backend the worker runs jobs on
		RecoveryInterval time.Duration `yaml:"recovery_interval"`
		RecoveryMaxAge   time.Duration `yaml:"recovery_max_age"`
	} `yaml:"worker"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Addr = ":8080"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Runtime.Backend = BackendStarlark
	cfg.Runtime.Python = "python3"
	cfg.Runtime.Image = "python:alpine"
	cfg.Runtime.MemoryMB = 512
	cfg.Store.Kind = StoreMemory
	cfg.Store.Path = defaultStorePath()
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	// 1 request every 2s, bursts of 5.
	cfg.RateLimit.Rate = 0.5
	cfg.RateLimit.Burst = 5
	cfg.Worker.Concurrency = 4
	cfg.Worker.Backend = BackendStarlark
	cfg.Worker.RecoveryInterval = 10 * time.Second
	cfg.Worker.RecoveryMaxAge = time.Minute
	return cfg
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "studio.json"
	}
	return filepath.Join(home, ".config", "pystudio", "studio.json")
}

// Load reads path (if non-empty and present) over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults if the file doesn't exist
		case err != nil:
			return nil, fmt.Errorf("error reading config file: %w", err)
		default:
			// Fields absent from the file keep their defaults.
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		}
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		c.Redis.Addr = v
	}
	if v, ok := lookup("STUDIO_ADDR"); ok && v != "" {
		c.Addr = v
	}
	if v, ok := lookup("STUDIO_RUNTIME"); ok && v != "" {
		c.Runtime.Backend = strings.ToLower(v)
	}
	if v, ok := lookup("STUDIO_STORE"); ok && v != "" {
		c.Store.Kind = strings.ToLower(v)
	}
	if v, ok := lookup("STUDIO_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if !slices.Contains(Backends, c.Runtime.Backend) {
		return fmt.Errorf("unknown runtime backend %q (want one of %s)", c.Runtime.Backend, strings.Join(Backends, ", "))
	}
	// A worker running remote jobs remotely would loop forever.
	if c.Worker.Backend == BackendRemote || !slices.Contains(Backends, c.Worker.Backend) {
		return fmt.Errorf("invalid worker backend %q", c.Worker.Backend)
	}

	switch c.Store.Kind {
	case StoreMemory, StoreRedis:
	case StoreFile:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the file store")
		}
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	if c.RateLimit.Rate <= 0 || c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit needs a positive rate and a burst of at least 1")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}
	if c.Runtime.MemoryMB < 0 {
		return fmt.Errorf("runtime.memory_mb must not be negative")
	}
	return nil
}

// NeedsRedis reports whether the configuration talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Store.Kind == StoreRedis || c.Runtime.Backend == BackendRemote
}
