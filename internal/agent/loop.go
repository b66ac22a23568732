// Package agent implements the tool-use loop and per-owner turn
// orchestration.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/tralfaz/internal/llm"
	"github.com/nugget/tralfaz/internal/prompts"
	"github.com/nugget/tralfaz/internal/tools"
)

// DefaultMaxIterations bounds model calls per turn.
const DefaultMaxIterations = 8

// ErrIterationLimit is returned when the model is still requesting
// tools after the iteration budget is spent. The accompanying response
// carries an in-character fallback reply.
var ErrIterationLimit = errors.New("tool loop iteration limit reached")

// ToolExecutor runs tools and declares them to the model.
// *tools.Registry satisfies it.
type ToolExecutor interface {
	List() []map[string]any
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Request is one turn's input to the loop.
type Request struct {
	OwnerKey string
	System   string
	History  []llm.Message
}

// Response is the loop's result.
type Response struct {
	Content      string
	Model        string
	Iterations   int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
}

// Hooks observe loop activity. Nil fields are skipped.
type Hooks struct {
	LLMCall  func(model string, d time.Duration, err error)
	ToolCall func(name string, err error)
}

// Loop drives a conversation turn through the model, executing
// requested tools until the model answers in text.
type Loop struct {
	llm           llm.Client
	tools         ToolExecutor
	model         string
	maxIterations int
	hooks         Hooks
	logger        *slog.Logger
}

// NewLoop creates a loop. A nil executor runs the model without tools.
func NewLoop(client llm.Client, executor ToolExecutor, model string, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		llm:           client,
		tools:         executor,
		model:         model,
		maxIterations: DefaultMaxIterations,
		logger:        logger.With("component", "agent"),
	}
}

// SetMaxIterations overrides [DefaultMaxIterations]. Values below one
// are ignored.
func (l *Loop) SetMaxIterations(n int) {
	if n > 0 {
		l.maxIterations = n
	}
}

// SetHooks installs observation hooks.
func (l *Loop) SetHooks(h Hooks) {
	l.hooks = h
}

// Run executes the loop. The caller's history is never modified;
// intermediate tool exchanges live only in a working copy.
func (l *Loop) Run(ctx context.Context, req *Request) (*Response, error) {
	working := make([]llm.Message, len(req.History), len(req.History)+4)
	copy(working, req.History)

	var defs []map[string]any
	if l.tools != nil {
		defs = l.tools.List()
	}
	toolCtx := tools.WithOwnerKey(ctx, req.OwnerKey)

	out := &Response{Model: l.model}
	for i := 0; i < l.maxIterations; i++ {
		out.Iterations = i + 1

		msgs := make([]llm.Message, 0, len(working)+1)
		if req.System != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: req.System})
		}
		msgs = append(msgs, working...)

		start := time.Now()
		resp, err := l.llm.Chat(ctx, l.model, msgs, defs)
		if l.hooks.LLMCall != nil {
			l.hooks.LLMCall(l.model, time.Since(start), err)
		}
		if err != nil {
			return nil, fmt.Errorf("llm chat: %w", err)
		}
		out.InputTokens += resp.InputTokens
		out.OutputTokens += resp.OutputTokens
		if resp.Model != "" {
			out.Model = resp.Model
		}

		if !resp.HasToolCalls() {
			out.Content = resp.Message.Content
			l.logger.Debug("turn complete",
				"owner", req.OwnerKey,
				"iterations", out.Iterations,
				"tool_calls", out.ToolCalls,
			)
			return out, nil
		}

		working = append(working, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Message.Content,
			ToolCalls: resp.Message.ToolCalls,
		})

		for _, tc := range resp.Message.ToolCalls {
			out.ToolCalls++
			name := tc.Function.Name
			l.logger.Info("tool call", "tool", name, "args", tc.Function.Arguments)

			result, err := l.execute(toolCtx, name, tc.Function.Arguments)
			if l.hooks.ToolCall != nil {
				l.hooks.ToolCall(name, err)
			}
			if err != nil {
				l.logger.Warn("tool failed", "tool", name, "error", err)
				result = tools.ErrorResult(err)
			}
			l.logger.Debug("tool result", "tool", name, "result", result)

			working = append(working, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	l.logger.Warn("tool loop did not settle",
		"owner", req.OwnerKey,
		"iterations", out.Iterations,
		"tool_calls", out.ToolCalls,
	)
	out.Content = prompts.IterationLimitApology
	return out, ErrIterationLimit
}

func (l *Loop) execute(ctx context.Context, name string, args map[string]any) (string, error) {
	if l.tools == nil {
		return "", &tools.ErrToolUnavailable{ToolName: name}
	}
	return l.tools.Execute(ctx, name, args)
}
