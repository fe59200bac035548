package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:               "info",
			DefaultProvider:        "deepseek",
			ProviderTimeoutSeconds: 120,
			MaxParallelTools:       5,
		},
		Providers: map[string]ProviderConfig{
			"deepseek": {
				APIBase:      "https://api.deepseek.com/v1",
				DefaultModel: "deepseek-chat",
				MaxTokens:    2048,
			},
			"anthropic": {
				DefaultModel: "claude-3-sonnet-20240229",
				MaxTokens:    1000,
			},
		},
		MCP: MCPConfig{
			ServersDir:            "config/mcp-servers",
			ConnectTimeoutSeconds: 30,
			ToolTimeoutSeconds:    30,
			ClientName:            "mcp-client-cli",
			ClientVersion:         "1.0.0",
		},
		Memory: MemoryConfig{
			Enabled: true,
			DBPath:  "~/.mcpchat/transcripts.db",
		},
	}
}
