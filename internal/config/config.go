// ABOUTME: Configuration loading and parsing for drover-server.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete drover-server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	Execution ExecutionConfig `yaml:"execution"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds listen address configuration
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// BaseURL is the externally reachable address agents use for file
	// transfers. If not set, it is derived from listen_addr.
	BaseURL string `yaml:"base_url"`
}

// AuthConfig holds the shared secret agents present at registration
type AuthConfig struct {
	AgentToken string `yaml:"agent_token"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// UploadsConfig holds the file staging directory
type UploadsConfig struct {
	Dir string `yaml:"dir"`
}

// ExecutionConfig holds script execution timing configuration
type ExecutionConfig struct {
	PollInterval  time.Duration `yaml:"-"`
	ProgressGrace time.Duration `yaml:"-"`
	MaxAttempts   int           `yaml:"max_attempts"`

	// Raw string values for YAML unmarshaling
	PollIntervalRaw  string `yaml:"poll_interval"`
	ProgressGraceRaw string `yaml:"progress_grace"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Auth.AgentToken == "" {
		return fmt.Errorf("auth.agent_token is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

// applyDefaults fills in the optional fields that have sensible defaults.
func (c *Config) applyDefaults() {
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://" + c.Server.ListenAddr
	}
	if c.Uploads.Dir == "" {
		c.Uploads.Dir = "uploads"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Execution.PollIntervalRaw != "" {
		cfg.Execution.PollInterval, err = time.ParseDuration(cfg.Execution.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Execution.PollIntervalRaw, err)
		}
	}

	if cfg.Execution.ProgressGraceRaw != "" {
		cfg.Execution.ProgressGrace, err = time.ParseDuration(cfg.Execution.ProgressGraceRaw)
		if err != nil {
			return fmt.Errorf("parsing progress_grace %q: %w", cfg.Execution.ProgressGraceRaw, err)
		}
	}

	return nil
}
