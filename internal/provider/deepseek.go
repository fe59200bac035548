package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"mcpchat/internal/domain"
)

const (
	deepseekAPIBase          = "https://api.deepseek.com/v1"
	deepseekDefaultModel     = "deepseek-chat"
	deepseekDefaultMaxTokens = 2048
)

// DeepSeek implements Adapter over DeepSeek's OpenAI-compatible chat API.
type DeepSeek struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

type DeepSeekConfig struct {
	APIKey     string
	APIBase    string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewDeepSeek(cfg DeepSeekConfig) *DeepSeek {
	if cfg.APIBase == "" {
		cfg.APIBase = deepseekAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = deepseekDefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = deepseekDefaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.APIBase
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	return &DeepSeek{
		client:    openai.NewClientWithConfig(oc),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger,
	}
}

func (d *DeepSeek) Name() string { return NameDeepSeek }

func (d *DeepSeek) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = d.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = d.maxTokens
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			args, err := argumentString(tc.Arguments)
			if err != nil {
				return nil, fmt.Errorf("encode arguments for %s: %w", tc.Name, err)
			}
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		msgs = append(msgs, msg)
	}

	body := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	resp, err := d.client.CreateChatCompletion(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("deepseek request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("deepseek: response has no choices")
	}

	choice := resp.Choices[0]
	out := &domain.ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// argumentString renders tool-call arguments as the JSON string the
// function-calling format carries.
func argumentString(args any) (string, error) {
	switch v := args.(type) {
	case nil:
		return "{}", nil
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
