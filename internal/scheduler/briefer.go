package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/nugget/tralfaz/internal/llm"
	"github.com/nugget/tralfaz/internal/prompts"
)

// LLMBriefer writes briefings with a chat model, without tools.
type LLMBriefer struct {
	client llm.Client
	model  string
}

// NewLLMBriefer creates a briefer.
func NewLLMBriefer(client llm.Client, model string) *LLMBriefer {
	return &LLMBriefer{client: client, model: model}
}

// Brief implements [Briefer].
func (b *LLMBriefer) Brief(ctx context.Context, kind, appointments string) (string, error) {
	resp, err := b.client.Chat(ctx, b.model, []llm.Message{
		{Role: llm.RoleSystem, Content: prompts.BriefingPrompt(kind, appointments)},
		{Role: llm.RoleUser, Content: prompts.BriefingRequest},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("generate %s briefing: %w", kind, err)
	}
	text := llm.TextOf(resp)
	if text == "" {
		return "", errors.New("model returned an empty briefing")
	}
	return text, nil
}
