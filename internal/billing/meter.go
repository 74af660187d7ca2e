// Package billing meters model usage against prepaid per-user balances.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"github.com/revlane/assistant/internal/domain"
	"github.com/revlane/assistant/internal/store"
)

// ErrInsufficientBalance is returned by the pre-flight gate when the balance
// is below the minimum single-query floor.
var ErrInsufficientBalance = errors.New("billing: insufficient balance")

// RateTable holds minor-currency token rates. Input and output tokens are
// priced separately.
type RateTable struct {
	InputCentsPerKTok  int64
	OutputCentsPerKTok int64
	ToolCallCents      int64
}

// DefaultRates approximates upstream pricing with margin.
func DefaultRates() RateTable {
	return RateTable{
		InputCentsPerKTok:  1,
		OutputCentsPerKTok: 5,
		ToolCallCents:      1,
	}
}

// CostRange is a wide pre-flight estimate. It backs the low-balance advisory
// and is never used for the actual debit.
type CostRange struct {
	MinCents int64 `json:"min_cents"`
	MaxCents int64 `json:"max_cents"`
}

// Meter estimates, measures, and deducts cost from the balance ledger.
type Meter struct {
	ledger     store.Store
	rates      RateTable
	floorCents int64
	enc        *tiktoken.Tiktoken
	log        *slog.Logger
}

// NewMeter builds a meter. Token counting uses tiktoken; when the encoding
// is unavailable a character heuristic is used instead.
func NewMeter(ledger store.Store, rates RateTable, floorCents int64, log *slog.Logger) *Meter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Warn("tiktoken encoding unavailable, falling back to length heuristic", "error", err)
		enc = nil
	}
	return &Meter{
		ledger:     ledger,
		rates:      rates,
		floorCents: floorCents,
		enc:        enc,
		log:        log,
	}
}

// EstimateCost is a fast local heuristic over the message text. A grounding
// context attachment widens the range because the system prompt grows.
func (m *Meter) EstimateCost(message string, hasContextAttachment bool) CostRange {
	tokens := m.countTokens(message)

	// Assume a short answer at minimum and a long tool-assisted answer at
	// maximum.
	minOut, maxOut := 150, 1200
	inputTokens := tokens + 400 // base system prompt overhead
	if hasContextAttachment {
		inputTokens += 800
		maxOut += 400
	}

	return CostRange{
		MinCents: m.tokenCost(inputTokens, minOut),
		MaxCents: m.tokenCost(inputTokens*3, maxOut) + 3*m.rates.ToolCallCents,
	}
}

// CheckFloor is the pre-flight gate: it refreshes the balance (triggering a
// refill check upstream of this call) and rejects only when the balance is
// below the minimal single-query floor, not the full estimate.
func (m *Meter) CheckFloor(ctx context.Context, userID string) (*domain.Balance, error) {
	balance, err := m.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	if balance.Plan == domain.PlanInternal {
		return balance, nil
	}
	if balance.BalanceCents < m.floorCents {
		return balance, ErrInsufficientBalance
	}
	return balance, nil
}

// DeductResult reports the outcome of a finalize debit.
type DeductResult struct {
	CostCents  int64
	NewBalance int64
	// Overdrawn is set when the debit pushed the balance negative. The
	// response was already shown; this is logged for reconciliation rather
	// than surfaced as a failure.
	Overdrawn bool
}

// DeductUsage computes the actual cost of a finished turn and debits it
// atomically. Insufficient funds at this point are a soft failure.
func (m *Meter) DeductUsage(ctx context.Context, userID string, usage domain.Usage) (*DeductResult, error) {
	cost := m.tokenCost(usage.InputTokens, usage.OutputTokens) +
		int64(usage.ToolCalls)*m.rates.ToolCallCents

	newBalance, err := m.ledger.DebitBalance(ctx, userID, cost)
	if err != nil {
		return nil, fmt.Errorf("failed to debit usage: %w", err)
	}

	res := &DeductResult{CostCents: cost, NewBalance: newBalance}
	if newBalance < 0 {
		res.Overdrawn = true
		m.log.Warn("balance overdrawn after turn, flagged for reconciliation",
			"user_id", userID, "cost_cents", cost, "balance_cents", newBalance)
	}
	return res, nil
}

// Cost exposes the rate computation for a usage sample.
func (m *Meter) Cost(usage domain.Usage) int64 {
	return m.tokenCost(usage.InputTokens, usage.OutputTokens) +
		int64(usage.ToolCalls)*m.rates.ToolCallCents
}

func (m *Meter) tokenCost(inputTokens, outputTokens int) int64 {
	in := (int64(inputTokens)*m.rates.InputCentsPerKTok + 999) / 1000
	out := (int64(outputTokens)*m.rates.OutputCentsPerKTok + 999) / 1000
	return in + out
}

func (m *Meter) countTokens(text string) int {
	if m.enc != nil {
		return len(m.enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}
