package domain

// ChatRequest is the inbound turn request.
type ChatRequest struct {
	Message        string          `json:"message"`
	VehicleSlug    string          `json:"vehicle_slug,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Attachments    []Attachment    `json:"attachments,omitempty"`
	// History is an inline fallback used only for brand-new conversations;
	// when ConversationID is set the persisted history is the source of truth.
	History []InlineMessage `json:"history,omitempty"`
	Stream  bool            `json:"stream"`
	// Toggles carries user tool opt-outs, e.g. {"web_search": false}.
	Toggles map[string]bool `json:"toggles,omitempty"`

	// Plan is resolved by the auth layer, never taken from the wire.
	Plan Plan `json:"-"`
}

// InlineMessage is a caller-supplied history entry.
type InlineMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// ChatResponse is the non-streaming response shape; the streaming path
// terminates with the same data inside the done frame.
type ChatResponse struct {
	ConversationID      string    `json:"conversation_id"`
	Text                string    `json:"text"`
	Usage               Usage     `json:"usage"`
	ToolsUsed           []string  `json:"tools_used,omitempty"`
	InsufficientBalance bool      `json:"insufficient_balance,omitempty"`
	Warnings            []string  `json:"warnings,omitempty"`
	ErrorCode           ErrorCode `json:"error_code,omitempty"`
}
