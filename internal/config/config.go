package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Config is the root configuration for mcpchat.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	MCP       MCPConfig                 `json:"mcp"`
	Memory    MemoryConfig              `json:"memory"`
}

type GeneralConfig struct {
	LogLevel               string `json:"logLevel"`
	DefaultProvider        string `json:"defaultProvider"`
	SystemPrompt           string `json:"systemPrompt,omitempty"` // overrides the built-in weather persona
	ProviderTimeoutSeconds int    `json:"providerTimeoutSeconds"`
	MaxParallelTools       int    `json:"maxParallelTools"`
}

type ProviderConfig struct {
	APIKey       string `json:"apiKey,omitempty"`
	APIBase      string `json:"apiBase,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
	MaxTokens    int    `json:"maxTokens,omitempty"`
}

// MCPConfig configures the tool servers launched at startup.
type MCPConfig struct {
	ServersDir            string `json:"serversDir"`
	ConnectTimeoutSeconds int    `json:"connectTimeoutSeconds"`
	ToolTimeoutSeconds    int    `json:"toolTimeoutSeconds"`
	ClientName            string `json:"clientName"`
	ClientVersion         string `json:"clientVersion"`
}

type MemoryConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

func (g GeneralConfig) ProviderTimeout() time.Duration {
	return time.Duration(g.ProviderTimeoutSeconds) * time.Second
}

func (m MCPConfig) ConnectTimeout() time.Duration {
	return time.Duration(m.ConnectTimeoutSeconds) * time.Second
}

func (m MCPConfig) ToolTimeout() time.Duration {
	return time.Duration(m.ToolTimeoutSeconds) * time.Second
}

// DefaultConfigDir returns the default config directory (~/.mcpchat).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mcpchat"
	}
	return filepath.Join(home, ".mcpchat")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.MCP.ServersDir = ExpandPath(cfg.MCP.ServersDir)
	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty, and ${VAR:-}
// yields "". An unset ${VAR} without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := strings.Contains(match, ":-")
		fallback := ""
		if len(groups) >= 3 {
			fallback = groups[2]
		}
		if val, ok := os.LookupEnv(groups[1]); ok && val != "" {
			return val
		}
		if hasDefault {
			return fallback
		}
		return match
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.ProviderTimeoutSeconds < 1 {
		errs = append(errs, "general.providerTimeoutSeconds must be >= 1")
	}
	if cfg.General.MaxParallelTools < 1 || cfg.General.MaxParallelTools > 64 {
		errs = append(errs, "general.maxParallelTools must be between 1 and 64")
	}
	if cfg.MCP.ConnectTimeoutSeconds < 1 {
		errs = append(errs, "mcp.connectTimeoutSeconds must be >= 1")
	}
	if cfg.MCP.ToolTimeoutSeconds < 1 {
		errs = append(errs, "mcp.toolTimeoutSeconds must be >= 1")
	}
	if strings.TrimSpace(cfg.MCP.ServersDir) == "" {
		errs = append(errs, "mcp.serversDir is required")
	}
	if cfg.Memory.Enabled && strings.TrimSpace(cfg.Memory.DBPath) == "" {
		errs = append(errs, "memory.dbPath is required when memory is enabled")
	}
	for name, pc := range cfg.Providers {
		if pc.MaxTokens < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s.maxTokens must be >= 0", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Sanitize returns a copy of the config with API keys masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Providers = make(map[string]ProviderConfig, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		if pc.APIKey != "" {
			pc.APIKey = maskString(pc.APIKey)
		}
		out.Providers[name] = pc
	}
	return &out
}

// maskString shows the first and last 4 chars of long secrets.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
