package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mcpchat/internal/domain"
	"mcpchat/internal/normalize"
)

// DefaultPersona is the system prompt sent with every query.
const DefaultPersona = "你是一个天气助手，可以帮助用户查询天气信息。请使用提供的工具来获取天气数据，并用中文自然语言回复用户。"

const defaultParallelTools = 5

// ErrNoRouter is returned by Answer when no tool router has been bound.
var ErrNoRouter = errors.New("provider: no tool router bound")

// ErrNoContent is wrapped in a ProviderError when a final response carries
// neither text nor tool calls.
var ErrNoContent = errors.New("response has no content")

// Adapter speaks one vendor's chat wire format.
type Adapter interface {
	Name() string
	Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)
}

// ToolRouter dispatches a tool call to whichever session owns the name.
type ToolRouter interface {
	RouteToolCall(ctx context.Context, name string, args any) (any, error)
}

type BackendConfig struct {
	SystemPrompt     string
	Model            string
	MaxTokens        int
	MaxParallelTools int
	Logger           *slog.Logger
}

// Backend runs the two-round tool protocol on top of an Adapter.
type Backend struct {
	adapter   Adapter
	prompt    string
	model     string
	maxTokens int
	parallel  int
	logger    *slog.Logger

	mu     sync.RWMutex
	router ToolRouter
}

func NewBackend(adapter Adapter, cfg BackendConfig) *Backend {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultPersona
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = defaultParallelTools
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Backend{
		adapter:   adapter,
		prompt:    cfg.SystemPrompt,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		parallel:  cfg.MaxParallelTools,
		logger:    cfg.Logger.With("provider", adapter.Name()),
	}
}

func (b *Backend) Name() string { return b.adapter.Name() }

// BindToolRouter sets the router used for tool calls of subsequent queries.
func (b *Backend) BindToolRouter(r ToolRouter) {
	b.mu.Lock()
	b.router = r
	b.mu.Unlock()
}

func (b *Backend) toolRouter() ToolRouter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.router
}

// Answer sends query with the catalog as available tools. When the model asks
// for tools, every call is executed, the results are sent back in one second
// round and its text is returned. Any failure aborts the query.
func (b *Backend) Answer(ctx context.Context, query string, catalog []domain.ToolDescriptor) (string, error) {
	router := b.toolRouter()
	if router == nil {
		return "", ErrNoRouter
	}

	tools := make([]domain.ToolDefinition, 0, len(catalog))
	for _, d := range catalog {
		tools = append(tools, d.Definition())
	}

	messages := []domain.Message{
		{Role: domain.RoleSystem, Content: b.prompt},
		{Role: domain.RoleUser, Content: query},
	}

	first, err := b.round(ctx, 1, messages, tools)
	if err != nil {
		return "", err
	}
	if !first.HasToolCalls() {
		if first.Content == "" {
			return "", b.noContent(1)
		}
		return first.Content, nil
	}

	results, err := b.dispatch(ctx, router, first.ToolCalls)
	if err != nil {
		return "", err
	}

	messages = append(messages, domain.Message{
		Role:      domain.RoleAssistant,
		Content:   first.Content,
		ToolCalls: first.ToolCalls,
	})
	messages = append(messages, results...)

	second, err := b.round(ctx, 2, messages, tools)
	if err != nil {
		return "", err
	}
	if second.HasToolCalls() {
		b.logger.Warn("ignoring tool calls requested in final round", "count", len(second.ToolCalls))
		return second.Content, nil
	}
	if second.Content == "" {
		return "", b.noContent(2)
	}
	return second.Content, nil
}

func (b *Backend) noContent(round int) error {
	return &domain.ProviderError{Provider: b.adapter.Name(), Round: round, Err: ErrNoContent}
}

func (b *Backend) round(ctx context.Context, n int, messages []domain.Message, tools []domain.ToolDefinition) (*domain.ChatResponse, error) {
	start := time.Now()
	resp, err := b.adapter.Chat(ctx, domain.ChatRequest{
		Messages:  messages,
		Tools:     tools,
		Model:     b.model,
		MaxTokens: b.maxTokens,
	})
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		return nil, &domain.ProviderError{Provider: b.adapter.Name(), Round: n, Err: err}
	}
	resp.LatencyMs = time.Since(start).Milliseconds()

	b.logger.Info("llm round complete",
		"round", n,
		"tool_calls", len(resp.ToolCalls),
		"finish_reason", resp.FinishReason,
		"tokens", resp.Usage.TotalTokens,
		"latency_ms", resp.LatencyMs,
	)
	return resp, nil
}

// dispatch runs the calls concurrently and returns tool messages in call
// order. The first failure cancels the rest.
func (b *Backend) dispatch(ctx context.Context, router ToolRouter, calls []domain.ToolCall) ([]domain.Message, error) {
	out := make([]domain.Message, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallel)
	for i, call := range calls {
		g.Go(func() error {
			// Queued calls must not start once another call has failed.
			if err := gctx.Err(); err != nil {
				return err
			}
			args := b.normalizedArguments(call)

			result, err := router.RouteToolCall(gctx, call.Name, args)
			if err != nil {
				return invocationError(call.Name, err)
			}
			content, err := json.Marshal(result)
			if err != nil {
				return &domain.ToolInvocationError{Tool: call.Name, Err: fmt.Errorf("encode result: %w", err)}
			}
			out[i] = domain.Message{
				Role:       domain.RoleTool,
				Content:    string(content),
				ToolCallID: call.ID,
				ToolName:   call.Name,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		b.logger.Error("tool dispatch failed", "calls", len(calls), "error", err)
		return nil, err
	}
	return out, nil
}

func (b *Backend) normalizedArguments(call domain.ToolCall) any {
	args := normalize.Arguments(call.Arguments)
	before, ok := normalize.CityOf(call.Arguments)
	if !ok {
		return args
	}
	if after, _ := normalize.CityOf(args); after != before {
		b.logger.Info("argument normalized", "tool", call.Name, "from", before, "to", after)
	}
	return args
}

func invocationError(tool string, err error) error {
	var unknown *domain.UnknownToolError
	var invocation *domain.ToolInvocationError
	if errors.As(err, &unknown) || errors.As(err, &invocation) {
		return err
	}
	return &domain.ToolInvocationError{Tool: tool, Err: err}
}
