package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpchat/internal/domain"
)

const (
	defaultCallTimeout = 30 * time.Second
	noDescription      = "no description"
)

// Client is the subset of the mcp-go client a Session drives.
type Client interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Dialer opens the transport to a server. The default spawns the configured
// command and speaks MCP over its stdio.
type Dialer func(ctx context.Context, cfg domain.ServerConfig) (Client, error)

// StdioDialer launches cfg.Command with the parent environment plus cfg.Env.
func StdioDialer(_ context.Context, cfg domain.ServerConfig) (Client, error) {
	return client.NewStdioMCPClient(cfg.Command, environ(cfg.Env), cfg.Args...)
}

func environ(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

type sessionOptions struct {
	dialer      Dialer
	clientInfo  mcp.Implementation
	callTimeout time.Duration
	logger      *slog.Logger
}

type Option func(*sessionOptions)

func WithDialer(d Dialer) Option {
	return func(o *sessionOptions) { o.dialer = d }
}

func WithClientInfo(name, version string) Option {
	return func(o *sessionOptions) { o.clientInfo = mcp.Implementation{Name: name, Version: version} }
}

// WithCallTimeout bounds each tools/call round trip. Zero keeps the default.
func WithCallTimeout(d time.Duration) Option {
	return func(o *sessionOptions) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *sessionOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Session is a live connection to one tool server.
type Session struct {
	name        string
	client      Client
	tools       []domain.ToolDescriptor
	callTimeout time.Duration
	logger      *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Connect opens the transport, performs the initialize handshake and lists
// the server's tools. The handshake is bounded by ctx. Any failure is
// reported as *domain.ConnectionError and the transport is released.
func Connect(ctx context.Context, cfg domain.ServerConfig, opts ...Option) (*Session, error) {
	o := sessionOptions{
		dialer:      StdioDialer,
		clientInfo:  mcp.Implementation{Name: "mcp-client-cli", Version: "1.0.0"},
		callTimeout: defaultCallTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	fail := func(err error) (*Session, error) {
		return nil, &domain.ConnectionError{Server: cfg.Name, Err: err}
	}

	c, err := o.dialer(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("spawn: %w", err))
	}

	tools, err := handshake(ctx, c, o.clientInfo)
	if err != nil {
		if cerr := c.Close(); cerr != nil {
			o.logger.Debug("close after failed connect", "server", cfg.Name, "error", cerr)
		}
		return fail(err)
	}

	descriptors := make([]domain.ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		d, err := describe(cfg.Name, t)
		if err != nil {
			o.logger.Warn("skipping tool with unreadable schema", "server", cfg.Name, "tool", t.Name, "error", err)
			continue
		}
		descriptors = append(descriptors, d)
	}

	return &Session{
		name:        cfg.Name,
		client:      c,
		tools:       descriptors,
		callTimeout: o.callTimeout,
		logger:      o.logger.With("server", cfg.Name),
	}, nil
}

func handshake(ctx context.Context, c Client, info mcp.Implementation) ([]mcp.Tool, error) {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = info
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	var tools []mcp.Tool
	req := mcp.ListToolsRequest{}
	for {
		res, err := c.ListTools(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		if res == nil {
			return nil, errors.New("list tools: empty response")
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			return tools, nil
		}
		req.Params.Cursor = res.NextCursor
	}
}

// describe converts a wire tool into a descriptor. The schema is taken from
// the tool's own JSON encoding so raw schemas survive unchanged.
func describe(server string, t mcp.Tool) (domain.ToolDescriptor, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return domain.ToolDescriptor{}, err
	}
	var wire struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return domain.ToolDescriptor{}, err
	}

	desc := strings.TrimSpace(t.Description)
	if desc == "" {
		desc = noDescription
	}
	return domain.ToolDescriptor{
		Name:        t.Name,
		Description: desc,
		InputSchema: wire.InputSchema,
		Server:      server,
	}, nil
}

func (s *Session) Name() string { return s.name }

// Tools returns a copy of the descriptors discovered at connect time.
func (s *Session) Tools() []domain.ToolDescriptor {
	out := make([]domain.ToolDescriptor, len(s.tools))
	copy(out, s.tools)
	return out
}

// Invoke calls one tool and waits for its result. The returned value is the
// decoded CallToolResult, e.g. {"content":[{"type":"text","text":"..."}]}.
func (s *Session) Invoke(ctx context.Context, tool string, arguments any) (any, error) {
	fail := func(err error) (any, error) {
		return nil, &domain.ToolInvocationError{Tool: tool, Server: s.name, Err: err}
	}
	if s == nil || s.client == nil {
		return nil, &domain.ToolInvocationError{Tool: tool, Err: errors.New("session not connected")}
	}

	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = arguments

	start := time.Now()
	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return fail(err)
	}
	if res == nil {
		return fail(errors.New("empty response"))
	}
	if res.IsError {
		return fail(errors.New(resultText(res)))
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fail(fmt.Errorf("encode result: %w", err))
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return fail(fmt.Errorf("decode result: %w", err))
	}

	s.logger.Debug("tool call finished", "tool", tool, "latency_ms", time.Since(start).Milliseconds())
	return out, nil
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	if len(parts) == 0 {
		return "tool reported an error"
	}
	return strings.Join(parts, "\n")
}

// Close terminates the server. Safe to call more than once and on a nil Session.
func (s *Session) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}
