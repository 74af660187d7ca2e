// Package policy evaluates plan-gating decisions for tools through OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the plan-gating policy.
const (
	DecisionAllow           = "allow"
	DecisionUpgradeRequired = "upgrade_required"
)

// Engine is the OPA policy engine for tool access.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles the given rego policy once at startup.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_access.decision"),
		rego.Module("tool_access.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &Engine{query: query}, nil
}

// Input is the evaluation input for one (tool, plan) pair.
type Input struct {
	ToolName string `json:"tool_name"`
	Plan     string `json:"plan"`
	MinPlan  string `json:"min_plan"`
}

// Evaluate returns the access decision for a tool under a plan.
func (e *Engine) Evaluate(ctx context.Context, in Input) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"tool_name": in.ToolName,
		"plan":      in.Plan,
		"min_plan":  in.MinPlan,
	}))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionUpgradeRequired, nil
	}
	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return DecisionUpgradeRequired, nil
}

// DefaultPolicy grants a tool when the caller's plan ranks at or above the
// tool's minimum tier. The internal plan sees everything.
const DefaultPolicy = `
package tool_access

plan_rank := {"free": 0, "enthusiast": 1, "pro": 2, "internal": 3}

default decision = "upgrade_required"

decision = "allow" {
	plan_rank[input.plan] >= plan_rank[input.min_plan]
}
`
