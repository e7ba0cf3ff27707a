// Package config handles Pressbox configuration loading.
//
// All credentials live in the config file as ${ENV_VAR} references
// expanded at load time — never as literals in source.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Timeout bounds for MCP server calls, in seconds.
const (
	MinTimeoutSec     = 10
	MaxTimeoutSec     = 120
	DefaultTimeoutSec = 30
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./pressbox.yaml, ~/.config/pressbox/config.yaml,
// /etc/pressbox/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"pressbox.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "pressbox", "config.yaml"))
	}

	paths = append(paths, "/etc/pressbox/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Pressbox configuration.
type Config struct {
	MCPServers []MCPServerConfig `yaml:"mcp_servers"`
	Upstream   UpstreamConfig    `yaml:"upstream"`
	OpenRouter OpenRouterConfig  `yaml:"openrouter"`
	Discord    DiscordConfig     `yaml:"discord"`
	LogLevel   string            `yaml:"log_level"`
}

// MCPServerConfig defines one remote MCP tool server.
type MCPServerConfig struct {
	// Name identifies the server in commands and logs.
	Name string `yaml:"name"`

	// Transport selects how to reach the server: "stdio", "http",
	// or "sse".
	Transport string `yaml:"transport"`

	// Command and Args spawn the subprocess for stdio transports.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// Env are additional KEY=VALUE pairs for the subprocess.
	Env []string `yaml:"env"`

	// URL is the endpoint for http and sse transports.
	URL string `yaml:"url"`
	// BearerToken authenticates sse transports.
	BearerToken string `yaml:"bearer_token"`

	// TimeoutSec bounds each call; clamped to [MinTimeoutSec,
	// MaxTimeoutSec], defaulting to DefaultTimeoutSec when zero.
	TimeoutSec int `yaml:"timeout_sec"`
}

// Timeout returns the per-call timeout as a duration, clamped to the
// supported range.
func (c MCPServerConfig) Timeout() time.Duration {
	sec := c.TimeoutSec
	switch {
	case sec == 0:
		sec = DefaultTimeoutSec
	case sec < MinTimeoutSec:
		sec = MinTimeoutSec
	case sec > MaxTimeoutSec:
		sec = MaxTimeoutSec
	}
	return time.Duration(sec) * time.Second
}

// Validate checks that the server definition names a usable transport.
func (c MCPServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("mcp server missing name")
	}
	switch c.Transport {
	case "stdio":
		if c.Command == "" {
			return fmt.Errorf("mcp server %s: stdio transport requires command", c.Name)
		}
	case "http", "sse":
		if c.URL == "" {
			return fmt.Errorf("mcp server %s: %s transport requires url", c.Name, c.Transport)
		}
	default:
		return fmt.Errorf("mcp server %s: unknown transport %q (valid: stdio, http, sse)", c.Name, c.Transport)
	}
	return nil
}

// UpstreamConfig holds API keys for the directly-called sports APIs.
// ESPN and MLB StatsAPI endpoints are public and need no key.
type UpstreamConfig struct {
	CFBDKey       string `yaml:"cfbd_key"`
	OddsKey       string `yaml:"odds_key"`
	SoccerDataKey string `yaml:"soccerdata_key"`
}

// OpenRouterConfig defines the OpenRouter chat-completions client.
type OpenRouterConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// Configured reports whether an OpenRouter API key is set.
func (c OpenRouterConfig) Configured() bool {
	return c.APIKey != ""
}

// DiscordConfig defines the Discord bot glue.
type DiscordConfig struct {
	// Token is the bot token for gateway identify and REST calls.
	Token string `yaml:"token"`
	// Prefix is the command prefix, default "!".
	Prefix string `yaml:"prefix"`
	// Channels optionally restricts the bridge to listed channel IDs.
	Channels []string `yaml:"channels"`
}

// Configured reports whether a Discord bot token is set.
func (c DiscordConfig) Configured() bool {
	return c.Token != ""
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so keys stay out of the file.
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	for _, s := range cfg.MCPServers {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		OpenRouter: OpenRouterConfig{
			Model: "openai/gpt-4o-mini",
		},
		Discord: DiscordConfig{
			Prefix: "!",
		},
		LogLevel: "info",
	}
}
