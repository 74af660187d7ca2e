package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/revlane/assistant/internal/domain"
	"github.com/revlane/assistant/internal/policy"
)

// Executor runs tool invocation batches concurrently. Each invocation is
// isolated: a failing or panicking tool becomes an error-tagged result for
// its own call id and never aborts its siblings.
type Executor struct {
	registry *Registry
	policy   *policy.Engine
	timeout  time.Duration
	log      *slog.Logger
}

// NewExecutor builds an executor. The per-invocation timeout should be
// shorter than the overall turn budget so one slow tool cannot stall a batch.
func NewExecutor(registry *Registry, policyEngine *policy.Engine, timeout time.Duration, log *slog.Logger) *Executor {
	return &Executor{
		registry: registry,
		policy:   policyEngine,
		timeout:  timeout,
		log:      log,
	}
}

// ExecuteAll starts every invocation concurrently and returns results in the
// input order. Results always line up one-to-one with invocations.
func (e *Executor) ExecuteAll(ctx context.Context, invocations []domain.ToolInvocation, plan domain.Plan, cc *CallContext) []domain.ToolResult {
	results := make([]domain.ToolResult, len(invocations))

	var g errgroup.Group
	for i, inv := range invocations {
		g.Go(func() error {
			results[i] = e.executeOne(ctx, inv, plan, cc)
			return nil
		})
	}
	// Goroutines never return errors; failures are captured per result.
	_ = g.Wait()
	return results
}

func (e *Executor) executeOne(ctx context.Context, inv domain.ToolInvocation, plan domain.Plan, cc *CallContext) (result domain.ToolResult) {
	start := time.Now()
	result = domain.ToolResult{CallID: inv.CallID, Name: inv.Name}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("tool handler panicked", "tool", inv.Name, "panic", r)
			result.Err = &domain.ToolError{Code: "tool_panic", Message: fmt.Sprintf("%v", r)}
			result.Output = nil
		}
		result.Duration = time.Since(start)
	}()

	entry, ok := e.registry.Get(inv.Name)
	if !ok {
		result.Err = &domain.ToolError{Code: "unknown_tool", Message: "no such tool: " + inv.Name}
		return result
	}

	// Plan gate: a disallowed tool short-circuits without touching the
	// network.
	decision, err := e.policy.Evaluate(ctx, policy.Input{
		ToolName: inv.Name,
		Plan:     string(plan),
		MinPlan:  string(entry.Descriptor.MinPlan),
	})
	if err != nil {
		result.Err = &domain.ToolError{Code: "policy_error", Message: err.Error()}
		return result
	}
	if decision != policy.DecisionAllow {
		result.Err = &domain.ToolError{
			Code:    "upgrade_required",
			Message: fmt.Sprintf("tool %s requires the %s plan", inv.Name, entry.Descriptor.MinPlan),
		}
		return result
	}

	input := normalizeInput(entry.Descriptor, inv.Input, cc)

	if cc != nil && cc.Cache != nil {
		if cached, hit := cc.Cache.Get(inv.Name, input); hit {
			result.Output = cached
			result.CacheHit = true
			return result
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	output, err := entry.Handler(callCtx, input, cc)
	if err != nil {
		code := "tool_error"
		if callCtx.Err() == context.DeadlineExceeded {
			code = "tool_timeout"
		}
		result.Err = &domain.ToolError{Code: code, Message: err.Error()}
		return result
	}

	result.Output = output
	if cc != nil && cc.Cache != nil {
		cc.Cache.Put(inv.Name, input, output)
	}
	return result
}

// normalizeInput injects context fields the model omitted but the
// conversation can supply a better default for. A correctness aid, not a
// security boundary.
func normalizeInput(desc domain.ToolDescriptor, input json.RawMessage, cc *CallContext) json.RawMessage {
	if len(desc.ContextParams) == 0 || cc == nil {
		return input
	}

	fields := map[string]json.RawMessage{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &fields); err != nil {
			return input
		}
	}

	changed := false
	for _, param := range desc.ContextParams {
		if _, present := fields[param]; present {
			continue
		}
		var val string
		switch param {
		case "vehicle":
			val = cc.VehicleSlug
		case "user_id":
			val = cc.UserID
		}
		if val == "" {
			continue
		}
		encoded, _ := json.Marshal(val)
		fields[param] = encoded
		changed = true
	}
	if !changed {
		return input
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return input
	}
	return merged
}
