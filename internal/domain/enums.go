// Package domain defines the core domain models for the assistant runtime.
package domain

// Plan is a billing tier gating tools and iteration budgets.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanEnthusiast Plan = "enthusiast"
	PlanPro        Plan = "pro"
	// PlanInternal is used by the internal-evaluation path only. It is never
	// assigned to a real user and bypasses billing.
	PlanInternal Plan = "internal"
)

// Rank orders plans for gating comparisons.
func (p Plan) Rank() int {
	switch p {
	case PlanFree:
		return 0
	case PlanEnthusiast:
		return 1
	case PlanPro:
		return 2
	case PlanInternal:
		return 3
	}
	return -1
}

// MaxIterations is the tool-use loop cap for the plan.
func (p Plan) MaxIterations() int {
	switch p {
	case PlanPro, PlanInternal:
		return 10
	case PlanEnthusiast:
		return 8
	default:
		return 5
	}
}

// Phase is a turn state machine phase, surfaced to clients as progress markers.
type Phase string

const (
	PhaseUnderstanding Phase = "understanding"
	PhaseThinking      Phase = "thinking"
	PhaseResearching   Phase = "researching"
	PhaseFormulating   Phase = "formulating"
	PhaseDone          Phase = "done"
	PhaseError         Phase = "error"
)

// StopReason is the provider's reason for ending a model call.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonToolUse   StopReason = "tool_use"
	StopReasonMaxTokens StopReason = "max_tokens"
)

// ErrorCode is the machine-readable code attached to fatal turn failures.
type ErrorCode string

const (
	ErrCodeMessageRequired     ErrorCode = "message_required"
	ErrCodeUnauthorized        ErrorCode = "unauthorized"
	ErrCodeInsufficientBalance ErrorCode = "insufficient_balance"
	ErrCodeProviderUnavailable ErrorCode = "provider_unavailable"
	ErrCodeNoFinalText         ErrorCode = "no_final_text"
	ErrCodeInternal            ErrorCode = "internal_error"
)

// MessageRole distinguishes conversation message authors.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)
