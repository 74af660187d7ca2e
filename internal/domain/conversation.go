package domain

import (
	"encoding/json"
	"time"
)

// Conversation is a persisted chat session between one user and the assistant.
// Message order within a conversation is append-only.
type Conversation struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	VehicleSlug    string    `json:"vehicle_slug,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Message is a single conversation entry. Immutable once written.
type Message struct {
	MessageID      string           `json:"message_id"`
	ConversationID string           `json:"conversation_id"`
	Role           MessageRole      `json:"role"`
	Content        string           `json:"content"`
	Attachments    []Attachment     `json:"attachments,omitempty"`
	ToolCalls      []ToolCallRecord `json:"tool_calls,omitempty"`
	Usage          *Usage           `json:"usage,omitempty"`
	ErrorCode      ErrorCode        `json:"error_code,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Attachment references media attached to a user message.
type Attachment struct {
	Kind string `json:"kind"` // "image"
	URL  string `json:"url"`
}

// ToolCallRecord is the persisted provenance of one tool invocation made
// while producing an assistant message.
type ToolCallRecord struct {
	CallID     string          `json:"call_id"`
	Name       string          `json:"name"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
	CacheHit   bool            `json:"cache_hit,omitempty"`
}

// Usage is the accumulated cost metadata for a turn, summed across every
// provider call the turn made.
type Usage struct {
	InputTokens  int   `json:"input_tokens"`
	OutputTokens int   `json:"output_tokens"`
	ToolCalls    int   `json:"tool_calls"`
	CostCents    int64 `json:"cost_cents"`
}

// Add merges another usage sample into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.ToolCalls += other.ToolCalls
	u.CostCents += other.CostCents
}

// Balance is a user's prepaid balance in minor currency units. Mutated only
// through the ledger's atomic debit/credit operations.
type Balance struct {
	UserID       string     `json:"user_id"`
	Plan         Plan       `json:"plan"`
	BalanceCents int64      `json:"balance_cents"`
	LastRefillAt *time.Time `json:"last_refill_at,omitempty"`
}
