package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/eli0shin/envoy-sub002/errors"
)

// DefaultToolTimeout bounds a single MCP tool call. The timer resets on
// progress notifications, so slow but active tools are not killed.
const DefaultToolTimeout = 5 * time.Minute

// DefaultMaxSteps bounds the LLM-tool loop within one turn.
const DefaultMaxSteps = 10

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

// MCPServer describes one external tool server. Exactly one transport is
// used per server: "stdio" (command + args + env) or "http" (url + headers).
type MCPServer struct {
	Name          string            `yaml:"name"`
	Transport     string            `yaml:"transport"`
	Command       string            `yaml:"command"`
	Args          []string          `yaml:"args"`
	Env           map[string]string `yaml:"env"`
	URL           string            `yaml:"url"`
	Headers       map[string]string `yaml:"headers"`
	DisabledTools []string          `yaml:"disabled_tools"`
}

// TransportKind returns the normalized transport, defaulting to stdio when
// a command is configured and http when only a URL is.
func (s *MCPServer) TransportKind() string {
	if s.Transport != "" {
		return s.Transport
	}
	if s.URL != "" {
		return "http"
	}
	return "stdio"
}

type Config struct {
	Provider         string           `yaml:"provider"`
	Model            string           `yaml:"model"`
	SystemPrompt     string           `yaml:"system_prompt"`
	MaxSteps         int              `yaml:"max_steps"`
	MaxRetries       int              `yaml:"max_retries"`
	ToolTimeout      time.Duration    `yaml:"tool_timeout"`
	MCPServers       []MCPServer      `yaml:"mcp_servers"`
	DisabledMCPTools []string         `yaml:"disabled_mcp_tools"`
	AllowedCommands  []string         `yaml:"allowed_commands"`
	FilesystemAccess FilesystemAccess `yaml:"filesystem_access"`
}

// LoadConfig loads configuration from the user's home directory and the
// current working directory, with the latter taking precedence. A .env file
// in the working directory is loaded first so API keys can live next to the
// project.
func LoadConfig() (*Config, error) {
	// Best-effort; a missing .env is the common case.
	_ = godotenv.Load()

	cfg := &Config{}

	// The .envoy directory is never exposed to tools.
	cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, ".envoy", ".envoy/**")

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".envoy", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".envoy", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites fields present in the YAML, which gives a simple
	// merge where project-level config replaces user-level.
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyDefaults() {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.MCPServers))
	for _, s := range c.MCPServers {
		if s.Name == "" {
			return errors.New("mcp server with empty name in configuration")
		}
		if seen[s.Name] {
			return errors.New("duplicate mcp server name '%s' in configuration", s.Name)
		}
		seen[s.Name] = true
		switch s.TransportKind() {
		case "stdio":
			if s.Command == "" {
				return errors.New("mcp server '%s' uses stdio transport but has no command", s.Name)
			}
		case "http":
			if s.URL == "" {
				return errors.New("mcp server '%s' uses http transport but has no url", s.Name)
			}
		default:
			return errors.New("mcp server '%s' has unknown transport '%s'", s.Name, s.Transport)
		}
	}
	return nil
}

// ServerConfig returns the configuration for a named server, if present.
func (c *Config) ServerConfig(name string) (*MCPServer, bool) {
	for i := range c.MCPServers {
		if c.MCPServers[i].Name == name {
			return &c.MCPServers[i], true
		}
	}
	return nil, false
}
