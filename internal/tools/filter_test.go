package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revlane/assistant/internal/domain"
	"github.com/revlane/assistant/internal/policy"
)

func newTestFilter(t *testing.T) (*Filter, *Registry) {
	t.Helper()
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	return NewFilter(r, engine), r
}

func names(descs []domain.ToolDescriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Name
	}
	return out
}

func TestSelectIncludesCoreAndDomainTools(t *testing.T) {
	f, r := newTestFilter(t)
	ctx := context.Background()

	selected, err := f.Select(ctx, []string{"reliability"}, domain.PlanPro, nil)
	require.NoError(t, err)
	got := names(selected)

	// Superset of the core set.
	for _, d := range r.Descriptors() {
		if d.Core {
			assert.Contains(t, got, d.Name)
		}
	}
	assert.Contains(t, got, "reliability_reports")
	assert.Contains(t, got, "recall_lookup")
	assert.NotContains(t, got, "track_times")
	assert.NotContains(t, got, "market_listings")
}

func TestSelectSubsetOfPlanEligible(t *testing.T) {
	f, _ := newTestFilter(t)
	ctx := context.Background()

	selected, err := f.Select(ctx, []string{"image", "pricing"}, domain.PlanFree, nil)
	require.NoError(t, err)
	got := names(selected)

	// Free plan never sees enthusiast or pro tools, detected domain or not.
	assert.NotContains(t, got, "image_analysis")
	assert.NotContains(t, got, "market_listings")
	assert.NotContains(t, got, "web_search")
}

func TestSelectFallbackBelowMinimum(t *testing.T) {
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	// A sparse registry: two core tools plus non-core ones nothing maps to.
	r := NewRegistry()
	require.NoError(t, r.Register(domain.ToolDescriptor{Name: "core_a", MinPlan: domain.PlanFree, Core: true}, nopHandler))
	require.NoError(t, r.Register(domain.ToolDescriptor{Name: "core_b", MinPlan: domain.PlanFree, Core: true}, nopHandler))
	require.NoError(t, r.Register(domain.ToolDescriptor{Name: "extra_a", MinPlan: domain.PlanFree, Domains: []string{"pricing"}}, nopHandler))
	require.NoError(t, r.Register(domain.ToolDescriptor{Name: "extra_b", MinPlan: domain.PlanFree, Domains: []string{"pricing"}}, nopHandler))
	f := NewFilter(r, engine)

	// Narrowing to reliability yields only the 2 core tools, under the
	// minimum of 4: the full eligible set comes back instead.
	selected, err := f.Select(context.Background(), []string{"reliability"}, domain.PlanFree, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"core_a", "core_b", "extra_a", "extra_b"}, names(selected))
}

func TestSelectHonorsToggles(t *testing.T) {
	f, _ := newTestFilter(t)
	ctx := context.Background()

	withSearch, err := f.Select(ctx, nil, domain.PlanPro, nil)
	require.NoError(t, err)
	assert.Contains(t, names(withSearch), "web_search")

	without, err := f.Select(ctx, nil, domain.PlanPro, map[string]bool{"web_search": false})
	require.NoError(t, err)
	assert.NotContains(t, names(without), "web_search")
}

func TestSelectDeterministic(t *testing.T) {
	f, _ := newTestFilter(t)
	ctx := context.Background()

	first, err := f.Select(ctx, []string{"performance"}, domain.PlanEnthusiast, nil)
	require.NoError(t, err)
	second, err := f.Select(ctx, []string{"performance"}, domain.PlanEnthusiast, nil)
	require.NoError(t, err)
	assert.Equal(t, names(first), names(second))
}
