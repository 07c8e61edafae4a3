// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes content to name inside a temp dir and returns the path.
func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  base_url: "https://chat.example.com"
  request_timeout: "10s"

session:
  file: "/tmp/session.json"

stream:
  idle_timeout: "45s"
  subscriber_buffer: 128

journal:
  enabled: true
  path: "/tmp/journal.db"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.BaseURL != "https://chat.example.com" {
		t.Errorf("Server.BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Server.RequestTimeout != 10*time.Second {
		t.Errorf("Server.RequestTimeout = %v, want 10s", cfg.Server.RequestTimeout)
	}
	if cfg.Session.File != "/tmp/session.json" {
		t.Errorf("Session.File = %q", cfg.Session.File)
	}
	if cfg.Session.CookieName != "access_token" {
		t.Errorf("Session.CookieName = %q, want default access_token", cfg.Session.CookieName)
	}
	if cfg.Stream.IdleTimeout != 45*time.Second {
		t.Errorf("Stream.IdleTimeout = %v, want 45s", cfg.Stream.IdleTimeout)
	}
	if cfg.Stream.SubscriberBuffer != 128 {
		t.Errorf("Stream.SubscriberBuffer = %d, want 128", cfg.Stream.SubscriberBuffer)
	}
	if !cfg.Journal.Enabled || cfg.Journal.Path != "/tmp/journal.db" {
		t.Errorf("Journal = %+v", cfg.Journal)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[server]
base_url = "http://10.0.0.5:8000"
request_timeout = "5s"

[stream]
idle_timeout = "1m"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.BaseURL != "http://10.0.0.5:8000" {
		t.Errorf("Server.BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Server.RequestTimeout != 5*time.Second {
		t.Errorf("Server.RequestTimeout = %v", cfg.Server.RequestTimeout)
	}
	if cfg.Stream.IdleTimeout != time.Minute {
		t.Errorf("Stream.IdleTimeout = %v", cfg.Stream.IdleTimeout)
	}
	if cfg.Stream.SubscriberBuffer != 64 {
		t.Errorf("Stream.SubscriberBuffer = %d, want default 64", cfg.Stream.SubscriberBuffer)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_CHAT_BACKEND", "http://backend.internal:9000")
	configPath := writeConfig(t, "config.yaml", `
server:
  base_url: "${TEST_CHAT_BACKEND}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.BaseURL != "http://backend.internal:9000" {
		t.Errorf("Server.BaseURL = %q", cfg.Server.BaseURL)
	}
}

func TestLoad_ServerEnvOverride(t *testing.T) {
	t.Setenv(EnvServerURL, "http://override:1234")
	configPath := writeConfig(t, "config.yaml", `
server:
  base_url: "http://from-file:8000"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.BaseURL != "http://override:1234" {
		t.Errorf("Server.BaseURL = %q, want env override", cfg.Server.BaseURL)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
stream:
  idle_timeout: "soon"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "idle_timeout") {
		t.Errorf("error = %v, want mention of idle_timeout", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.Server.BaseURL = "" },
			wantErr: "server.base_url is required",
		},
		{
			name:    "bad scheme",
			mutate:  func(c *Config) { c.Server.BaseURL = "ws://x" },
			wantErr: "http or https",
		},
		{
			name:    "zero buffer",
			mutate:  func(c *Config) { c.Stream.SubscriberBuffer = 0 },
			wantErr: "subscriber_buffer",
		},
		{
			name:    "negative idle timeout",
			mutate:  func(c *Config) { c.Stream.IdleTimeout = -time.Second },
			wantErr: "idle_timeout",
		},
		{
			name:    "journal without path",
			mutate:  func(c *Config) { c.Journal.Enabled = true; c.Journal.Path = "" },
			wantErr: "journal.path",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestResolve_Precedence(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(EnvServerURL, "")

	// No file anywhere: defaults
	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Server.BaseURL != "http://localhost:8000" {
		t.Errorf("default BaseURL = %q", cfg.Server.BaseURL)
	}

	// Env path wins over the default location
	envPath := writeConfig(t, "env.yaml", "server:\n  base_url: \"http://env:1\"\n")
	t.Setenv(EnvConfigPath, envPath)
	cfg, err = Resolve("")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Server.BaseURL != "http://env:1" {
		t.Errorf("env BaseURL = %q", cfg.Server.BaseURL)
	}

	// Explicit path wins over env
	flagPath := writeConfig(t, "flag.yaml", "server:\n  base_url: \"http://flag:2\"\n")
	cfg, err = Resolve(flagPath)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Server.BaseURL != "http://flag:2" {
		t.Errorf("flag BaseURL = %q", cfg.Server.BaseURL)
	}

	// An explicit path that does not exist is an error
	if _, err := Resolve(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Resolve() expected error for missing explicit file")
	}
}
