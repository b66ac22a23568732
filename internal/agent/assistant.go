package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nugget/tralfaz/internal/llm"
	"github.com/nugget/tralfaz/internal/memory"
	"github.com/nugget/tralfaz/internal/prompts"
)

// DefaultTurnTimeout bounds a whole turn, tools included.
const DefaultTurnTimeout = 5 * time.Minute

// Assistant runs conversation turns: it persists the user's message,
// replays the history window through the loop and persists the reply.
// Turns for the same owner are serialized; different owners run
// concurrently.
type Assistant struct {
	loop    *Loop
	memory  *memory.Store
	loc     *time.Location
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	locks keyedMutex
}

// NewAssistant creates an Assistant. A nil location selects time.Local.
func NewAssistant(loop *Loop, mem *memory.Store, loc *time.Location, logger *slog.Logger) *Assistant {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		loop:    loop,
		memory:  mem,
		loc:     loc,
		timeout: DefaultTurnTimeout,
		logger:  logger.With("component", "assistant"),
		now:     time.Now,
	}
}

// Respond runs one turn for owner and returns the reply text. Storage
// and model transport errors are returned; an exhausted tool loop is not
// an error and yields the fallback reply. The reply is never blank.
func (a *Assistant) Respond(ctx context.Context, owner, text string) (string, error) {
	unlock := a.locks.Lock(owner)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if _, err := a.memory.Append(ctx, owner, memory.RoleUser, text); err != nil {
		return "", fmt.Errorf("store user turn: %w", err)
	}

	turns, err := a.memory.History(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	history := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		history = append(history, llm.Message{Role: t.Role, Content: t.Content})
	}

	resp, err := a.loop.Run(ctx, &Request{
		OwnerKey: owner,
		System:   prompts.SystemPrompt(a.now(), a.loc),
		History:  history,
	})
	switch {
	case errors.Is(err, ErrIterationLimit):
		a.logger.Warn("answering with fallback", "owner", owner, "error", err)
	case err != nil:
		return "", err
	}

	// A blank assistant turn would be replayed on every later turn and
	// rejected by the provider.
	if strings.TrimSpace(resp.Content) == "" {
		a.logger.Warn("model returned an empty reply", "owner", owner, "iterations", resp.Iterations)
		resp.Content = prompts.GenericApology
	}

	if _, err := a.memory.Append(ctx, owner, memory.RoleAssistant, resp.Content); err != nil {
		return "", fmt.Errorf("store assistant turn: %w", err)
	}

	a.logger.Info("turn answered",
		"owner", owner,
		"model", resp.Model,
		"iterations", resp.Iterations,
		"tool_calls", resp.ToolCalls,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
	)
	return resp.Content, nil
}

// Reset forgets owner's conversation. It waits for any turn in flight.
func (a *Assistant) Reset(ctx context.Context, owner string) (int64, error) {
	unlock := a.locks.Lock(owner)
	defer unlock()
	return a.memory.Clear(ctx, owner)
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refLock)
	}
	l := k.locks[key]
	if l == nil {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
