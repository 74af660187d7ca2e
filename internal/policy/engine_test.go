package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyPlanGating(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	cases := []struct {
		name     string
		plan     string
		minPlan  string
		expected string
	}{
		{"free tool on free plan", "free", "free", DecisionAllow},
		{"enthusiast tool on free plan", "free", "enthusiast", DecisionUpgradeRequired},
		{"enthusiast tool on enthusiast plan", "enthusiast", "enthusiast", DecisionAllow},
		{"pro tool on enthusiast plan", "enthusiast", "pro", DecisionUpgradeRequired},
		{"pro tool on pro plan", "pro", "pro", DecisionAllow},
		{"free tool on pro plan", "pro", "free", DecisionAllow},
		{"pro tool on internal plan", "internal", "pro", DecisionAllow},
		{"unknown plan", "platinum", "free", DecisionUpgradeRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision, err := engine.Evaluate(ctx, Input{
				ToolName: "some_tool",
				Plan:     tc.plan,
				MinPlan:  tc.minPlan,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.expected, decision)
		})
	}
}

func TestNewEngineRejectsBadPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package tool_access\n\ndecision = {")
	assert.Error(t, err)
}
