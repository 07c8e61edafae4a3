// ABOUTME: Configuration loading and parsing for coven-chat
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Resolve.
const (
	EnvConfigPath = "COVEN_CHAT_CONFIG"
	EnvServerURL  = "COVEN_CHAT_SERVER"
)

// Config represents the complete coven-chat configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Session SessionConfig `yaml:"session" toml:"session"`
	Stream  StreamConfig  `yaml:"stream" toml:"stream"`
	Journal JournalConfig `yaml:"journal" toml:"journal"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the backend location
type ServerConfig struct {
	BaseURL        string        `yaml:"base_url" toml:"base_url"`
	RequestTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string value for file unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
}

// SessionConfig holds where session cookies live and what they are called
type SessionConfig struct {
	File           string `yaml:"file" toml:"file"`
	CookieName     string `yaml:"cookie_name" toml:"cookie_name"`
	CSRFCookieName string `yaml:"csrf_cookie_name" toml:"csrf_cookie_name"`
	CSRFHeader     string `yaml:"csrf_header" toml:"csrf_header"`
}

// StreamConfig holds streaming behaviour
type StreamConfig struct {
	// IdleTimeout closes a stream that has been silent this long; zero disables it
	IdleTimeout      time.Duration `yaml:"-" toml:"-"`
	SubscriberBuffer int           `yaml:"subscriber_buffer" toml:"subscriber_buffer"`

	IdleTimeoutRaw string `yaml:"idle_timeout" toml:"idle_timeout"`
}

// JournalConfig holds the local turn journal settings
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:           "http://localhost:8000",
			RequestTimeoutRaw: "30s",
		},
		Session: SessionConfig{
			File:           filepath.Join(configDir(), "coven-chat", "session.json"),
			CookieName:     "access_token",
			CSRFCookieName: "csrf_token",
			CSRFHeader:     "X-CSRF-Token",
		},
		Stream: StreamConfig{
			SubscriberBuffer: 64,
		},
		Journal: JournalConfig{
			Path: filepath.Join(dataDir(), "coven-chat", "journal.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/coven-chat/config.yaml.
func DefaultPath() string {
	return filepath.Join(configDir(), "coven-chat", "config.yaml")
}

// Resolve picks the configuration file: the explicit path if given, then
// $COVEN_CHAT_CONFIG, then DefaultPath. Only a missing default file is
// tolerated, in which case defaults are used.
func Resolve(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return Load(envPath)
	}

	path := DefaultPath()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return finish(Default())
	}
	return Load(path)
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Values missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return finish(cfg)
}

// finish applies environment overrides, parses durations and validates.
func finish(cfg *Config) (*Config, error) {
	if server := os.Getenv(EnvServerURL); server != "" {
		cfg.Server.BaseURL = server
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR_NAME}
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.base_url %q must be an http or https URL", c.Server.BaseURL)
	}

	if c.Server.RequestTimeout < 0 {
		return fmt.Errorf("server.request_timeout must not be negative")
	}
	if c.Stream.IdleTimeout < 0 {
		return fmt.Errorf("stream.idle_timeout must not be negative")
	}
	if c.Stream.SubscriberBuffer <= 0 {
		return fmt.Errorf("stream.subscriber_buffer must be positive")
	}

	if c.Session.CookieName == "" || c.Session.CSRFCookieName == "" || c.Session.CSRFHeader == "" {
		return fmt.Errorf("session cookie and header names must not be empty")
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.RequestTimeoutRaw != "" {
		cfg.Server.RequestTimeout, err = time.ParseDuration(cfg.Server.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Server.RequestTimeoutRaw, err)
		}
	}

	if cfg.Stream.IdleTimeoutRaw != "" {
		cfg.Stream.IdleTimeout, err = time.ParseDuration(cfg.Stream.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_timeout %q: %w", cfg.Stream.IdleTimeoutRaw, err)
		}
	}

	return nil
}

// configDir returns $XDG_CONFIG_HOME or ~/.config
func configDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(homeDir, ".config")
}

// dataDir returns $XDG_DATA_HOME or ~/.local/share
func dataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(homeDir, ".local", "share")
}
