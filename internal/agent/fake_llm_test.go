package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/nugget/tralfaz/internal/llm"
)

// scriptedLLM replays canned responses in order and records every
// request it receives.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	err       error
	calls     [][]llm.Message
	tools     [][]map[string]any
}

func (s *scriptedLLM) Chat(_ context.Context, _ string, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]llm.Message, len(messages))
	copy(snapshot, messages)
	s.calls = append(s.calls, snapshot)
	s.tools = append(s.tools, tools)

	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func textReply(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:      "scripted",
		StopReason: "end_turn",
		Message:    llm.Message{Role: llm.RoleAssistant, Content: text},
	}
}

func toolReply(id, name string, args map[string]any) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:      "scripted",
		StopReason: "tool_use",
		Message: llm.Message{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{
				ID:       id,
				Function: llm.ToolFunction{Name: name, Arguments: args},
			}},
		},
	}
}
