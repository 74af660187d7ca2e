package billing

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revlane/assistant/internal/domain"
	"github.com/revlane/assistant/internal/store"
)

func TestSweepCreditsDueBalances(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	require.NoError(t, s.EnsureBalance(ctx, "due", domain.PlanFree, 10))
	require.NoError(t, s.EnsureBalance(ctx, "fresh", domain.PlanFree, 10))
	require.NoError(t, s.EnsureBalance(ctx, "eval", domain.PlanInternal, 0))
	_, err = s.CreditBalance(ctx, "fresh", 0, time.Now().UTC())
	require.NoError(t, err)

	r := NewRefiller(s, 500, slog.Default())
	r.Sweep(ctx)

	due, err := s.GetBalance(ctx, "due")
	require.NoError(t, err)
	assert.Equal(t, int64(510), due.BalanceCents)
	assert.NotNil(t, due.LastRefillAt)

	fresh, err := s.GetBalance(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(10), fresh.BalanceCents)

	eval, err := s.GetBalance(ctx, "eval")
	require.NoError(t, err)
	assert.Equal(t, int64(0), eval.BalanceCents, "internal plan never refilled")
}

func TestSweepIdempotentWithinPeriod(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	require.NoError(t, s.EnsureBalance(ctx, "u1", domain.PlanFree, 0))

	r := NewRefiller(s, 500, slog.Default())
	r.Sweep(ctx)
	r.Sweep(ctx)

	b, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), b.BalanceCents)
}
