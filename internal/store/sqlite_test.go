package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revlane/assistant/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, created, err := s.GetOrCreateConversation(ctx, "", "u1", "mazda-mx5-nd")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, conv.ConversationID)
	assert.Equal(t, "mazda-mx5-nd", conv.VehicleSlug)

	again, created, err := s.GetOrCreateConversation(ctx, conv.ConversationID, "u1", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ConversationID, again.ConversationID)
}

func TestGetConversationNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetConversation(context.Background(), "conv_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddMessagePreservesAppendOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _, err := s.GetOrCreateConversation(ctx, "", "u1", "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AddMessage(ctx, &domain.Message{
			MessageID:      fmt.Sprintf("msg_%d", i),
			ConversationID: conv.ConversationID,
			Role:           domain.RoleUser,
			Content:        fmt.Sprintf("message %d", i),
			CreatedAt:      time.Now().UTC(),
		}))
	}

	msgs, err := s.GetMessages(ctx, conv.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("message %d", i), m.Content)
	}
}

func TestAddMessageIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _, err := s.GetOrCreateConversation(ctx, "", "u1", "")
	require.NoError(t, err)

	msg := &domain.Message{
		MessageID:      "msg_retry",
		ConversationID: conv.ConversationID,
		Role:           domain.RoleAssistant,
		Content:        "the answer",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.AddMessage(ctx, msg))
	require.NoError(t, s.AddMessage(ctx, msg))

	msgs, err := s.GetMessages(ctx, conv.ConversationID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestAddMessageSeqConflictSurfaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _, err := s.GetOrCreateConversation(ctx, "", "u1", "")
	require.NoError(t, err)
	require.NoError(t, s.AddMessage(ctx, &domain.Message{
		MessageID:      "msg_first",
		ConversationID: conv.ConversationID,
		Role:           domain.RoleUser,
		Content:        "hi",
		CreatedAt:      time.Now().UTC(),
	}))

	// The insert ignores conflicts only on the message id. A different message
	// id landing on an occupied seq, as an unserialized concurrent append
	// would, must fail loudly rather than vanish.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, conversation_id, seq, role, content, created_at)
		 VALUES (?, ?, 1, 'user', 'dup', ?)
		 ON CONFLICT(message_id) DO NOTHING`,
		"msg_other", conv.ConversationID, time.Now().UTC())
	require.Error(t, err)

	msgs, err := s.GetMessages(ctx, conv.ConversationID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestMessageProvenanceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _, err := s.GetOrCreateConversation(ctx, "", "u1", "")
	require.NoError(t, err)

	require.NoError(t, s.AddMessage(ctx, &domain.Message{
		MessageID:      "msg_a",
		ConversationID: conv.ConversationID,
		Role:           domain.RoleAssistant,
		Content:        "per the spec sheet it makes 181 hp",
		ToolCalls: []domain.ToolCallRecord{{
			CallID:     "call_1",
			Name:       "vehicle_specs",
			Input:      []byte(`{"vehicle":"mazda-mx5-nd"}`),
			Output:     []byte(`{"found":true}`),
			DurationMs: 12,
		}},
		Usage:     &domain.Usage{InputTokens: 500, OutputTokens: 120, ToolCalls: 1, CostCents: 2},
		CreatedAt: time.Now().UTC(),
	}))

	msgs, err := s.GetMessages(ctx, conv.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, "vehicle_specs", msgs[0].ToolCalls[0].Name)
	require.NotNil(t, msgs[0].Usage)
	assert.Equal(t, int64(2), msgs[0].Usage.CostCents)
}

func TestGetMessagesLimitKeepsMostRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _, err := s.GetOrCreateConversation(ctx, "", "u1", "")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.AddMessage(ctx, &domain.Message{
			MessageID:      fmt.Sprintf("msg_%d", i),
			ConversationID: conv.ConversationID,
			Role:           domain.RoleUser,
			Content:        fmt.Sprintf("m%d", i),
			CreatedAt:      time.Now().UTC(),
		}))
	}

	msgs, err := s.GetMessages(ctx, conv.ConversationID, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m7", msgs[0].Content)
	assert.Equal(t, "m9", msgs[2].Content)
}

func TestDebitBalanceMayGoNegative(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureBalance(ctx, "u1", domain.PlanFree, 5))
	newBalance, err := s.DebitBalance(ctx, "u1", 8)
	require.NoError(t, err)
	assert.Equal(t, int64(-3), newBalance)
}

func TestDebitBalanceConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureBalance(ctx, "u1", domain.PlanFree, 1000))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.DebitBalance(ctx, "u1", 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	b, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(800), b.BalanceCents)
}

func TestEnsureBalanceDoesNotResetExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureBalance(ctx, "u1", domain.PlanFree, 100))
	_, err := s.DebitBalance(ctx, "u1", 40)
	require.NoError(t, err)
	require.NoError(t, s.EnsureBalance(ctx, "u1", domain.PlanFree, 100))

	b, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(60), b.BalanceCents)
}

func TestListRefillDue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureBalance(ctx, "never-refilled", domain.PlanFree, 0))
	require.NoError(t, s.EnsureBalance(ctx, "recently-refilled", domain.PlanPro, 0))
	require.NoError(t, s.EnsureBalance(ctx, "eval", domain.PlanInternal, 0))

	_, err := s.CreditBalance(ctx, "recently-refilled", 500, time.Now().UTC())
	require.NoError(t, err)

	due, err := s.ListRefillDue(ctx, time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "never-refilled", due[0].UserID)
}
