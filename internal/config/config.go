package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Container ContainerConfig  `yaml:"container"`
	Executor  ExecutorConfig   `yaml:"executor"`
	Providers []ProviderConfig `yaml:"providers"`
	Database  DatabaseConfig   `yaml:"database"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Tracing   TracingConfig    `yaml:"tracing"`
	TLS       TLSConfig        `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

// ContainerConfig describes the persistent render container.
type ContainerConfig struct {
	Name           string        `yaml:"name"`
	WorkDir        string        `yaml:"workdir"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// ExecutorConfig tunes the retry loop.
type ExecutorConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	MediaRoot      string        `yaml:"media_root"`
	Quality        string        `yaml:"quality"`
	InspectScripts bool          `yaml:"inspect_scripts"`
}

// ProviderConfig describes one AI provider. Lower priority wins.
type ProviderConfig struct {
	Name       string `yaml:"name"` // "gemini" or "azure"
	Priority   int    `yaml:"priority"`
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint,omitempty"`
	Model      string `yaml:"model,omitempty"`
	Deployment string `yaml:"deployment,omitempty"` // azure only
}

type DatabaseConfig struct {
	// Driver selects the history backend: "postgres", "sqlite", or "" to
	// disable persistence entirely.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Buffer int    `yaml:"buffer"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Credentials left blank in the file come from the environment, so the
	// file can be committed without secrets.
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		switch p.Name {
		case "gemini":
			if p.APIKey == "" {
				p.APIKey = os.Getenv("GEMINI_API_KEY")
			}
		case "azure":
			if p.APIKey == "" {
				p.APIKey = os.Getenv("AZURE_OPENAI_KEY")
			}
			if p.Endpoint == "" {
				p.Endpoint = os.Getenv("AZURE_OPENAI_ENDPOINT")
			}
			if p.Deployment == "" {
				p.Deployment = os.Getenv("AZURE_OPENAI_DEPLOYMENT")
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute, // render runs are slow
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
			RateLimitRPS:    50,
			RateLimitBurst:  100,
		},
		Container: ContainerConfig{
			Name:           "manim-renderer",
			WorkDir:        "/manim",
			CommandTimeout: 5 * time.Minute,
		},
		Executor: ExecutorConfig{
			MaxAttempts:    100,
			AttemptTimeout: 5 * time.Minute,
			MediaRoot:      "media",
			Quality:        "720p30",
			InspectScripts: true,
		},
		Providers: []ProviderConfig{
			{Name: "gemini", Priority: 1, APIKey: os.Getenv("GEMINI_API_KEY")},
			{Name: "azure", Priority: 2,
				APIKey:     os.Getenv("AZURE_OPENAI_KEY"),
				Endpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
				Deployment: os.Getenv("AZURE_OPENAI_DEPLOYMENT")},
		},
		Database: DatabaseConfig{
			Driver: "",
			DSN:    "",
			Buffer: 10000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Container.Name == "" {
		return fmt.Errorf("container.name is required")
	}
	if !filepath.IsAbs(c.Container.WorkDir) {
		return fmt.Errorf("container.workdir must be an absolute path, got %q", c.Container.WorkDir)
	}
	if c.Executor.MaxAttempts < 1 {
		return fmt.Errorf("executor.max_attempts must be >= 1")
	}
	if c.Executor.AttemptTimeout < time.Second {
		return fmt.Errorf("executor.attempt_timeout must be >= 1s")
	}
	seen := make(map[string]bool)
	for _, p := range c.Providers {
		if p.Name != "gemini" && p.Name != "azure" {
			return fmt.Errorf("providers: unknown provider %q", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers: %q listed twice", p.Name)
		}
		seen[p.Name] = true
	}
	switch c.Database.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be \"postgres\", \"sqlite\" or empty, got %q", c.Database.Driver)
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable — connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
