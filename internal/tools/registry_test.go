package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revlane/assistant/internal/domain"
)

func nopHandler(ctx context.Context, input json.RawMessage, cc *CallContext) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register(domain.ToolDescriptor{MinPlan: domain.PlanFree}, nopHandler), "missing name")
	assert.Error(t, r.Register(domain.ToolDescriptor{Name: "x", MinPlan: domain.PlanFree}, nil), "missing handler")
	assert.Error(t, r.Register(domain.ToolDescriptor{Name: "x", MinPlan: "platinum"}, nopHandler), "unknown plan")
	assert.Error(t, r.Register(domain.ToolDescriptor{
		Name: "x", MinPlan: domain.PlanFree,
		InputSchema: json.RawMessage(`{"type":"string"}`),
	}, nopHandler), "non-object schema")

	require.NoError(t, r.Register(domain.ToolDescriptor{
		Name: "x", MinPlan: domain.PlanFree,
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}, nopHandler))
	assert.Error(t, r.Register(domain.ToolDescriptor{Name: "x", MinPlan: domain.PlanFree}, nopHandler), "duplicate")
}

func TestDescriptorsSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zebra", "alpha", "mid"} {
		require.NoError(t, r.Register(domain.ToolDescriptor{Name: name, MinPlan: domain.PlanFree}, nopHandler))
	}

	descs := r.Descriptors()
	require.Len(t, descs, 3)
	assert.Equal(t, "alpha", descs[0].Name)
	assert.Equal(t, "mid", descs[1].Name)
	assert.Equal(t, "zebra", descs[2].Name)
}

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))

	descs := r.Descriptors()
	names := make(map[string]domain.ToolDescriptor, len(descs))
	for _, d := range descs {
		names[d.Name] = d
	}

	require.Contains(t, names, "search_knowledge")
	require.Contains(t, names, "vehicle_specs")
	assert.True(t, names["search_knowledge"].Core)
	assert.Equal(t, domain.PlanPro, names["image_analysis"].MinPlan)
	assert.Equal(t, "web_search", names["web_search"].Toggle)
	assert.Contains(t, names["reliability_reports"].Domains, "reliability")
}

func TestBuiltinVehicleSpecs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))

	entry, ok := r.Get("vehicle_specs")
	require.True(t, ok)

	out, err := entry.Handler(context.Background(), json.RawMessage(`{"vehicle":"mazda-mx5-nd"}`), nil)
	require.NoError(t, err)

	var resp struct {
		Found bool `json:"found"`
		Specs struct {
			PowerHP int `json:"power_hp"`
		} `json:"specs"`
	}
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.True(t, resp.Found)
	assert.Equal(t, 181, resp.Specs.PowerHP)

	_, err = entry.Handler(context.Background(), json.RawMessage(`{}`), nil)
	assert.Error(t, err, "vehicle is required")
}

func TestBuiltinSearchKnowledge(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))

	entry, ok := r.Get("search_knowledge")
	require.True(t, ok)

	out, err := entry.Handler(context.Background(), json.RawMessage(`{"query":"exhaust noise legal"}`), nil)
	require.NoError(t, err)

	var resp struct {
		Excerpts []struct {
			Source string `json:"source"`
		} `json:"excerpts"`
	}
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotEmpty(t, resp.Excerpts)
	assert.NotEmpty(t, resp.Excerpts[0].Source)
}
