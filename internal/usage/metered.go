package usage

import (
	"context"
	"log/slog"

	"github.com/nugget/tralfaz/internal/config"
	"github.com/nugget/tralfaz/internal/llm"
)

// MeteredClient wraps an [llm.Client] and writes a ledger record for
// every successful call. Ledger failures are logged and never fail the
// call.
type MeteredClient struct {
	next     llm.Client
	store    *Store
	provider string
	role     string
	pricing  map[string]config.PricingEntry
	logger   *slog.Logger
}

// NewMeteredClient meters calls made through next under role.
func NewMeteredClient(next llm.Client, store *Store, provider, role string, pricing map[string]config.PricingEntry, logger *slog.Logger) *MeteredClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &MeteredClient{
		next:     next,
		store:    store,
		provider: provider,
		role:     role,
		pricing:  pricing,
		logger:   logger,
	}
}

// Chat forwards to the wrapped client and records the token counts.
func (m *MeteredClient) Chat(ctx context.Context, model string, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error) {
	resp, err := m.next.Chat(ctx, model, messages, tools)
	if err != nil {
		return nil, err
	}

	billed := resp.Model
	if billed == "" {
		billed = model
	}
	rec := Record{
		Model:        billed,
		Provider:     m.provider,
		Role:         m.role,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      ComputeCost(billed, resp.InputTokens, resp.OutputTokens, m.pricing),
	}
	// The reply matters more than the ledger row.
	if err := m.store.Record(context.WithoutCancel(ctx), rec); err != nil {
		m.logger.Warn("failed to record token usage", "model", billed, "error", err)
	}
	return resp, nil
}
