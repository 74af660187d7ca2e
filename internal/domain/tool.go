package domain

import (
	"encoding/json"
	"time"
)

// ToolDescriptor declares a callable tool. Static registry data, never
// mutated at request time.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	MinPlan     Plan            `json:"min_plan"`
	Domains     []string        `json:"domains,omitempty"`
	Core        bool            `json:"core,omitempty"`
	// Toggle names the user preference that can switch the tool off
	// (e.g. "web_search"). Empty means not user-toggleable.
	Toggle string `json:"toggle,omitempty"`
	// ContextParams lists input fields the executor may fill in from the
	// surrounding conversation context when the model omits them.
	ContextParams []string `json:"context_params,omitempty"`
}

// ToolInvocation is one tool call requested by the model during an iteration.
type ToolInvocation struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input"`
}

// ToolError is a structured per-tool failure fed back to the model.
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ToolResult is the outcome of one invocation. Exactly one of Output and Err
// is set.
type ToolResult struct {
	CallID   string          `json:"call_id"`
	Name     string          `json:"name"`
	Output   json.RawMessage `json:"output,omitempty"`
	Err      *ToolError      `json:"error,omitempty"`
	Duration time.Duration   `json:"-"`
	CacheHit bool            `json:"cache_hit,omitempty"`
}

// Record converts the result into its persisted provenance form.
func (r ToolResult) Record(input json.RawMessage) ToolCallRecord {
	rec := ToolCallRecord{
		CallID:     r.CallID,
		Name:       r.Name,
		Input:      input,
		Output:     r.Output,
		DurationMs: r.Duration.Milliseconds(),
		CacheHit:   r.CacheHit,
	}
	if r.Err != nil {
		rec.IsError = true
		out, _ := json.Marshal(r.Err)
		rec.Output = out
	}
	return rec
}
