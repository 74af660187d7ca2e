package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revlane/assistant/internal/domain"
	"github.com/revlane/assistant/internal/policy"
)

func newTestExecutor(t *testing.T, r *Registry) *Executor {
	t.Helper()
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	return NewExecutor(r, engine, 200*time.Millisecond, slog.Default())
}

func TestExecuteAllIsolatesFailures(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(domain.ToolDescriptor{Name: "ok_tool", MinPlan: domain.PlanFree},
		func(ctx context.Context, input json.RawMessage, cc *CallContext) (json.RawMessage, error) {
			return json.RawMessage(`{"ok":true}`), nil
		}))
	require.NoError(t, r.Register(domain.ToolDescriptor{Name: "bad_tool", MinPlan: domain.PlanFree},
		func(ctx context.Context, input json.RawMessage, cc *CallContext) (json.RawMessage, error) {
			return nil, errors.New("backend unavailable")
		}))
	require.NoError(t, r.Register(domain.ToolDescriptor{Name: "panic_tool", MinPlan: domain.PlanFree},
		func(ctx context.Context, input json.RawMessage, cc *CallContext) (json.RawMessage, error) {
			panic("boom")
		}))
	e := newTestExecutor(t, r)

	results := e.ExecuteAll(context.Background(), []domain.ToolInvocation{
		{CallID: "c1", Name: "ok_tool", Input: json.RawMessage(`{}`)},
		{CallID: "c2", Name: "bad_tool", Input: json.RawMessage(`{}`)},
		{CallID: "c3", Name: "panic_tool", Input: json.RawMessage(`{}`)},
		{CallID: "c4", Name: "no_such_tool", Input: json.RawMessage(`{}`)},
	}, domain.PlanFree, &CallContext{Cache: NewTurnCache()})

	require.Len(t, results, 4)
	assert.Equal(t, "c1", results[0].CallID)
	assert.Nil(t, results[0].Err)
	assert.JSONEq(t, `{"ok":true}`, string(results[0].Output))

	require.NotNil(t, results[1].Err)
	assert.Equal(t, "tool_error", results[1].Err.Code)

	require.NotNil(t, results[2].Err)
	assert.Equal(t, "tool_panic", results[2].Err.Code)

	require.NotNil(t, results[3].Err)
	assert.Equal(t, "unknown_tool", results[3].Err.Code)
}

func TestExecuteAllPlanShortCircuit(t *testing.T) {
	var invoked atomic.Int32
	r := NewRegistry()
	require.NoError(t, r.Register(domain.ToolDescriptor{Name: "pro_tool", MinPlan: domain.PlanPro},
		func(ctx context.Context, input json.RawMessage, cc *CallContext) (json.RawMessage, error) {
			invoked.Add(1)
			return json.RawMessage(`{}`), nil
		}))
	e := newTestExecutor(t, r)

	results := e.ExecuteAll(context.Background(), []domain.ToolInvocation{
		{CallID: "c1", Name: "pro_tool", Input: json.RawMessage(`{}`)},
	}, domain.PlanFree, nil)

	require.NotNil(t, results[0].Err)
	assert.Equal(t, "upgrade_required", results[0].Err.Code)
	assert.Equal(t, int32(0), invoked.Load())
}

func TestExecuteAllCacheHit(t *testing.T) {
	var invoked atomic.Int32
	r := NewRegistry()
	require.NoError(t, r.Register(domain.ToolDescriptor{Name: "lookup", MinPlan: domain.PlanFree},
		func(ctx context.Context, input json.RawMessage, cc *CallContext) (json.RawMessage, error) {
			invoked.Add(1)
			return json.RawMessage(`{"n":1}`), nil
		}))
	e := newTestExecutor(t, r)
	cc := &CallContext{Cache: NewTurnCache()}
	inv := []domain.ToolInvocation{{CallID: "c1", Name: "lookup", Input: json.RawMessage(`{"q":"a"}`)}}

	first := e.ExecuteAll(context.Background(), inv, domain.PlanFree, cc)
	assert.False(t, first[0].CacheHit)

	inv[0].CallID = "c2"
	second := e.ExecuteAll(context.Background(), inv, domain.PlanFree, cc)
	assert.True(t, second[0].CacheHit)
	assert.JSONEq(t, `{"n":1}`, string(second[0].Output))
	assert.Equal(t, int32(1), invoked.Load())
}

func TestExecuteAllTimeout(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(domain.ToolDescriptor{Name: "slow", MinPlan: domain.PlanFree},
		func(ctx context.Context, input json.RawMessage, cc *CallContext) (json.RawMessage, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return json.RawMessage(`{}`), nil
			}
		}))
	e := newTestExecutor(t, r)

	results := e.ExecuteAll(context.Background(), []domain.ToolInvocation{
		{CallID: "c1", Name: "slow", Input: json.RawMessage(`{}`)},
	}, domain.PlanFree, nil)

	require.NotNil(t, results[0].Err)
	assert.Equal(t, "tool_timeout", results[0].Err.Code)
	assert.Less(t, results[0].Duration, time.Second)
}

func TestNormalizeInputInjectsContext(t *testing.T) {
	var got json.RawMessage
	r := NewRegistry()
	require.NoError(t, r.Register(domain.ToolDescriptor{
		Name:          "specs",
		MinPlan:       domain.PlanFree,
		ContextParams: []string{"vehicle"},
	}, func(ctx context.Context, input json.RawMessage, cc *CallContext) (json.RawMessage, error) {
		got = input
		return json.RawMessage(`{}`), nil
	}))
	e := newTestExecutor(t, r)
	cc := &CallContext{VehicleSlug: "mazda-mx5-nd"}

	// Omitted field is filled from context.
	e.ExecuteAll(context.Background(), []domain.ToolInvocation{
		{CallID: "c1", Name: "specs", Input: json.RawMessage(`{}`)},
	}, domain.PlanFree, cc)
	assert.JSONEq(t, `{"vehicle":"mazda-mx5-nd"}`, string(got))

	// Model-supplied value wins.
	e.ExecuteAll(context.Background(), []domain.ToolInvocation{
		{CallID: "c2", Name: "specs", Input: json.RawMessage(`{"vehicle":"toyota-gr86"}`)},
	}, domain.PlanFree, cc)
	assert.JSONEq(t, `{"vehicle":"toyota-gr86"}`, string(got))
}

func TestTurnCacheKeyedByToolAndInput(t *testing.T) {
	c := NewTurnCache()
	c.Put("a", json.RawMessage(`{"q":1}`), json.RawMessage(`{"r":1}`))

	_, ok := c.Get("a", json.RawMessage(`{"q":2}`))
	assert.False(t, ok)
	_, ok = c.Get("b", json.RawMessage(`{"q":1}`))
	assert.False(t, ok)

	out, ok := c.Get("a", json.RawMessage(`{"q":1}`))
	require.True(t, ok)
	assert.JSONEq(t, `{"r":1}`, string(out))
}
