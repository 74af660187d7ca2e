package tools

import (
	"context"
	"fmt"

	"github.com/revlane/assistant/internal/domain"
	"github.com/revlane/assistant/internal/policy"
)

// minFilteredTools is the floor below which domain narrowing is abandoned in
// favor of the full plan-eligible set. Guards against domain mis-detection
// silently crippling the assistant.
const minFilteredTools = 4

// Filter narrows the active tool set per request to bound prompt size.
type Filter struct {
	registry *Registry
	policy   *policy.Engine
}

// NewFilter builds a filter over the registry and plan policy.
func NewFilter(registry *Registry, policyEngine *policy.Engine) *Filter {
	return &Filter{registry: registry, policy: policyEngine}
}

// Select returns the tools offered for one request: the core set plus every
// tool tagged with a detected domain, restricted to what the plan grants and
// the user has not toggled off. Deterministic for the same registry state.
func (f *Filter) Select(ctx context.Context, detectedDomains []string, plan domain.Plan, toggles map[string]bool) ([]domain.ToolDescriptor, error) {
	all := f.registry.Descriptors()

	eligible, err := f.planEligible(ctx, all, plan, toggles)
	if err != nil {
		return nil, err
	}

	domainSet := make(map[string]bool, len(detectedDomains))
	for _, d := range detectedDomains {
		domainSet[d] = true
	}

	var narrowed []domain.ToolDescriptor
	for _, desc := range eligible {
		if desc.Core || matchesAny(desc.Domains, domainSet) {
			narrowed = append(narrowed, desc)
		}
	}

	// Fallback: over-narrowing is worse than a slightly larger prompt.
	if len(narrowed) < minFilteredTools {
		return eligible, nil
	}
	return narrowed, nil
}

func (f *Filter) planEligible(ctx context.Context, all []domain.ToolDescriptor, plan domain.Plan, toggles map[string]bool) ([]domain.ToolDescriptor, error) {
	var eligible []domain.ToolDescriptor
	for _, desc := range all {
		if desc.Toggle != "" {
			if enabled, ok := toggles[desc.Toggle]; ok && !enabled {
				continue
			}
		}
		decision, err := f.policy.Evaluate(ctx, policy.Input{
			ToolName: desc.Name,
			Plan:     string(plan),
			MinPlan:  string(desc.MinPlan),
		})
		if err != nil {
			return nil, fmt.Errorf("plan policy evaluation failed for %s: %w", desc.Name, err)
		}
		if decision == policy.DecisionAllow {
			eligible = append(eligible, desc)
		}
	}
	return eligible, nil
}

func matchesAny(tags []string, domainSet map[string]bool) bool {
	for _, tag := range tags {
		if domainSet[tag] {
			return true
		}
	}
	return false
}
