package domain

import "fmt"

// ConfigError reports a configuration source that could not be read or parsed.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ConnectionError reports a tool server that could not be spawned or initialized.
type ConnectionError struct {
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to server %s: %v", e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProviderError reports a failed or malformed LLM round.
type ProviderError struct {
	Provider string
	Round    int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s round %d: %v", e.Provider, e.Round, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ToolInvocationError reports a tool call that failed at the transport or in the tool.
type ToolInvocationError struct {
	Tool   string
	Server string
	Err    error
}

func (e *ToolInvocationError) Error() string {
	if e.Server != "" {
		return fmt.Sprintf("tool %s on %s: %v", e.Tool, e.Server, e.Err)
	}
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolInvocationError) Unwrap() error { return e.Err }

// UnknownToolError reports a tool name absent from the catalog.
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Tool)
}
