package model

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// Pricing is a model's price in USD per million tokens.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing covers the default models of the bundled adapters.
// Prices change; override them with UsageTracker.SetPricing.
var DefaultPricing = map[string]Pricing{
	"gpt-4o":                     {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"openai/gpt-4o":              {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":                {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"openai/gpt-4o-mini":         {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"claude-sonnet-4-5-20250929": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-5-haiku-20241022":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	"gemini-2.5-flash":           {InputPerMillion: 0.30, OutputPerMillion: 2.50},
	"gemini-2.5-pro":             {InputPerMillion: 1.25, OutputPerMillion: 10.00},
}

// UsageRecord is one model call.
type UsageRecord struct {
	Model   string
	Usage   Usage
	CostUSD float64
	At      time.Time
}

// UsageTracker accumulates token usage and estimated cost across calls.
// It is safe for concurrent use, so fan-out branches may share one.
// Models without a price are recorded at zero cost.
type UsageTracker struct {
	mu      sync.RWMutex
	pricing map[string]Pricing
	records []UsageRecord
	total   Usage
	cost    float64
}

// NewUsageTracker creates a tracker. A nil pricing table uses DefaultPricing.
func NewUsageTracker(pricing map[string]Pricing) *UsageTracker {
	if pricing == nil {
		pricing = DefaultPricing
	}
	return &UsageTracker{pricing: maps.Clone(pricing)}
}

// Record adds one call and returns its priced record.
func (t *UsageTracker) Record(modelName string, u Usage) UsageRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.pricing[modelName]
	cost := float64(u.InputTokens)/1_000_000*p.InputPerMillion +
		float64(u.OutputTokens)/1_000_000*p.OutputPerMillion
	rec := UsageRecord{Model: modelName, Usage: u, CostUSD: cost, At: time.Now()}
	t.records = append(t.records, rec)
	t.total.InputTokens += u.InputTokens
	t.total.OutputTokens += u.OutputTokens
	t.cost += rec.CostUSD
	return rec
}

// Totals returns the summed usage and cost.
func (t *UsageTracker) Totals() (Usage, float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total, t.cost
}

// Records returns a copy of every recorded call, oldest first.
func (t *UsageTracker) Records() []UsageRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.records)
}

// SetPricing sets or replaces the price of one model. Earlier records keep
// the price they were recorded with.
func (t *UsageTracker) SetPricing(modelName string, p Pricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pricing[modelName] = p
}

// Reset forgets all records.
func (t *UsageTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = nil
	t.total = Usage{}
	t.cost = 0
}

func (t *UsageTracker) String() string {
	u, cost := t.Totals()
	t.mu.RLock()
	calls := len(t.records)
	t.mu.RUnlock()
	return fmt.Sprintf("%d calls, %d input tokens, %d output tokens, $%.4f",
		calls, u.InputTokens, u.OutputTokens, cost)
}

type trackedModel struct {
	ChatModel
	name    string
	tracker *UsageTracker
}

// Tracked wraps m so every successful call is recorded in tracker under
// modelName.
func Tracked(m ChatModel, modelName string, tracker *UsageTracker) ChatModel {
	return &trackedModel{ChatModel: m, name: modelName, tracker: tracker}
}

func (m *trackedModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	out, err := m.ChatModel.Chat(ctx, messages, tools)
	if err != nil {
		return out, err
	}
	m.tracker.Record(m.name, out.Usage)
	return out, nil
}
