package domain

// ServerConfig describes how to launch one MCP tool server.
type ServerConfig struct {
	Name    string            `json:"-"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ToolDescriptor is a tool discovered on a connected server.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
	Server      string         `json:"server"`
}

// Definition down-casts the descriptor to the schema the models understand.
func (d ToolDescriptor) Definition() ToolDefinition {
	params := d.InputSchema
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return ToolDefinition{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  params,
	}
}

// ToolResult is the structured outcome of one dispatched tool call.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content any    `json:"content"`
}
