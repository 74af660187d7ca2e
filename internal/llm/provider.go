// Package llm abstracts the upstream model provider. The orchestrator only
// sees this interface; the Anthropic client and the scripted mock both
// implement it.
package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/revlane/assistant/internal/domain"
)

// Message is one entry of the provider conversation. Role is "user" or
// "assistant"; an assistant message may carry tool-use blocks, a user message
// may carry tool results from a prior iteration.
type Message struct {
	Role        string
	Text        string
	ToolUses    []ToolUse
	ToolResults []ToolResultBlock
}

// ToolUse is a tool call requested by the model.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultBlock feeds one tool outcome back to the model.
type ToolResultBlock struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// ToolDefinition describes a callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request is one provider call.
type Request struct {
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// TokenUsage is the token consumption of a single provider call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Response is a completed provider call.
type Response struct {
	Text       string
	ToolUses   []ToolUse
	StopReason domain.StopReason
	Usage      TokenUsage
}

// DeltaFunc receives incremental text during a streamed call, in generation
// order.
type DeltaFunc func(text string)

// Provider is the upstream model provider contract.
type Provider interface {
	// Complete performs a non-streaming call.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Stream performs a streaming call, invoking onDelta for each text
	// fragment, and returns the fully accumulated response.
	Stream(ctx context.Context, req *Request, onDelta DeltaFunc) (*Response, error)
	// Model names the underlying model.
	Model() string
}

// ProviderError carries the upstream HTTP status so the circuit breaker can
// classify failures.
type ProviderError struct {
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsQualifyingFailure reports whether err should count toward tripping the
// circuit: network errors, timeouts, and upstream 5xx do; client-side 4xx
// (including the provider's own tool-unavailable rejections) do not.
func IsQualifyingFailure(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode == 0 || pe.StatusCode >= 500
	}
	// Timeouts and transport errors arrive unwrapped.
	return true
}
