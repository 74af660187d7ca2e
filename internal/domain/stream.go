package domain

import "encoding/json"

// StreamEventType discriminates the streaming event union.
type StreamEventType string

const (
	StreamEventConnected  StreamEventType = "connected"
	StreamEventPhase      StreamEventType = "phase"
	StreamEventToolStart  StreamEventType = "tool_start"
	StreamEventToolResult StreamEventType = "tool_result"
	StreamEventTextDelta  StreamEventType = "text_delta"
	StreamEventDone       StreamEventType = "done"
	StreamEventError      StreamEventType = "error"
)

// StreamEvent is one frame of a streamed turn. The union is closed: exactly
// the payload matching Type is populated. A stream is finite and terminates
// in done or error.
type StreamEvent struct {
	Type   StreamEventType `json:"type"`
	TurnID string          `json:"turn_id"`

	Phase      Phase            `json:"phase,omitempty"`
	Delta      string           `json:"delta,omitempty"`
	ToolStart  *ToolStartEvent  `json:"tool_start,omitempty"`
	ToolResult *ToolResultEvent `json:"tool_result,omitempty"`
	Done       *DoneEvent       `json:"done,omitempty"`
	Error      *ErrorEvent      `json:"error,omitempty"`
}

// ToolStartEvent announces one tool invocation beginning.
type ToolStartEvent struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input,omitempty"`
}

// ToolResultEvent reports one tool invocation finishing.
type ToolResultEvent struct {
	CallID     string     `json:"call_id"`
	Name       string     `json:"name"`
	IsError    bool       `json:"is_error,omitempty"`
	Err        *ToolError `json:"error,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	CacheHit   bool       `json:"cache_hit,omitempty"`
}

// DoneEvent is the terminal success frame.
type DoneEvent struct {
	ConversationID string   `json:"conversation_id"`
	Usage          Usage    `json:"usage"`
	ToolsUsed      []string `json:"tools_used,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// ErrorEvent is the terminal failure frame.
type ErrorEvent struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}
