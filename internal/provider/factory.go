package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"mcpchat/internal/config"
)

const (
	NameDeepSeek  = "deepseek"
	NameAnthropic = "anthropic"
)

// ErrUnsupportedProvider is returned for a backend name other than the built-ins.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// Names lists the selectable backends.
func Names() []string {
	return []string{NameDeepSeek, NameAnthropic}
}

// New builds the named backend from config. An empty name selects the
// configured default. API keys fall back to the vendor environment variable.
func New(name string, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = strings.ToLower(cfg.General.DefaultProvider)
	}

	pc := cfg.Providers[name]
	httpClient := SharedHTTPClient(cfg.General.ProviderTimeout())

	var adapter Adapter
	switch name {
	case NameDeepSeek:
		adapter = NewDeepSeek(DeepSeekConfig{
			APIKey:     apiKey(pc.APIKey, "DEEPSEEK_API_KEY", logger),
			APIBase:    pc.APIBase,
			Model:      pc.DefaultModel,
			MaxTokens:  pc.MaxTokens,
			HTTPClient: httpClient,
			Logger:     logger,
		})
	case NameAnthropic:
		adapter = NewAnthropic(AnthropicConfig{
			APIKey:     apiKey(pc.APIKey, "ANTHROPIC_API_KEY", logger),
			BaseURL:    pc.APIBase,
			Model:      pc.DefaultModel,
			MaxTokens:  pc.MaxTokens,
			HTTPClient: httpClient,
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedProvider, name, strings.Join(Names(), ", "))
	}

	return NewBackend(adapter, BackendConfig{
		SystemPrompt:     cfg.General.SystemPrompt,
		Model:            pc.DefaultModel,
		MaxTokens:        pc.MaxTokens,
		MaxParallelTools: cfg.General.MaxParallelTools,
		Logger:           logger,
	}), nil
}

func apiKey(configured, envVar string, logger *slog.Logger) string {
	if configured != "" {
		return configured
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	logger.Warn("no API key configured", "env", envVar)
	return ""
}
