package llm

import "context"

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// tools uses the OpenAI function-declaration shape; providers
	// convert it to their own wire format.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)
}

// TextOf returns the text content of a response, or "" when the model
// produced none.
func TextOf(resp *ChatResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Message.Content
}
