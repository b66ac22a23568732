package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nugget/tralfaz/internal/httpkit"
)

// OpenAIOptions tunes an [OpenAIClient]. An empty BaseURL selects the
// OpenAI endpoint; any OpenAI-compatible server works.
type OpenAIOptions struct {
	BaseURL   string
	MaxTokens int
}

// OpenAIClient is a client for OpenAI-compatible chat completion APIs.
type OpenAIClient struct {
	client    *openai.Client
	maxTokens int
	logger    *slog.Logger
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(apiKey string, opts OpenAIOptions, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	cfg.HTTPClient = httpkit.NewClient(httpkit.WithTimeout(0), httpkit.WithTransport(t))

	return &OpenAIClient{
		client:    openai.NewClientWithConfig(cfg),
		maxTokens: maxTokens,
		logger:    logger.With("provider", "openai"),
	}
}

// Chat sends a non-streaming chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  convertToOpenAI(messages),
		Tools:     convertToolsToOpenAI(tools),
		MaxTokens: c.maxTokens,
	}

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
	)

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			c.logger.Error("API error", "status", apiErr.HTTPStatusCode, "message", apiErr.Message)
		}
		return nil, fmt.Errorf("openai chat: %w", err)
	}

	result, err := convertFromOpenAI(resp)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)

	c.logger.Debug("response received",
		"model", result.Model,
		"stop_reason", result.StopReason,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
		"duration", result.Duration,
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)

	return result, nil
}

func convertToOpenAI(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleAssistant && len(msg.ToolCalls) == 0 && strings.TrimSpace(msg.Content) == "" {
			continue
		}
		m := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			args := tc.Function.Arguments
			if args == nil {
				args = map[string]any{}
			}
			raw, _ := json.Marshal(args)
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: string(raw),
				},
			})
		}
		out = append(out, m)
	}
	return out
}

func convertToolsToOpenAI(tools []map[string]any) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	var out []openai.Tool
	for _, tool := range tools {
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		params := fn["parameters"]
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        name,
				Description: desc,
				Parameters:  params,
			},
		})
	}
	return out
}

// convertFromOpenAI takes the first choice. Tool arguments that do not
// decode as a JSON object are passed to the tool as an empty object;
// the handler then reports the missing fields back to the model.
func convertFromOpenAI(resp openai.ChatCompletionResponse) (*ChatResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai chat: response has no choices")
	}
	choice := resp.Choices[0]

	var calls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{}
			}
		}
		calls = append(calls, ToolCall{
			ID:       tc.ID,
			Function: ToolFunction{Name: tc.Function.Name, Arguments: args},
		})
	}

	return &ChatResponse{
		Model: resp.Model,
		Message: Message{
			Role:      RoleAssistant,
			Content:   choice.Message.Content,
			ToolCalls: calls,
		},
		StopReason:   string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}
