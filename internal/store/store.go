// Package store defines the persistence interface and its SQLite
// implementation for conversations, messages, and prepaid balances.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/revlane/assistant/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store defines the interface for data persistence.
type Store interface {
	// Conversation operations
	CreateConversation(ctx context.Context, conv *domain.Conversation) error
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)
	GetOrCreateConversation(ctx context.Context, conversationID, userID, vehicleSlug string) (*domain.Conversation, bool, error)

	// Message operations. AddMessage is idempotent on message id and
	// preserves per-conversation append order.
	AddMessage(ctx context.Context, msg *domain.Message) error
	GetMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)

	// Balance ledger operations. DebitBalance is a single atomic update and
	// may drive the balance negative; the runtime tolerates one overshoot.
	EnsureBalance(ctx context.Context, userID string, plan domain.Plan, initialCents int64) error
	GetBalance(ctx context.Context, userID string) (*domain.Balance, error)
	DebitBalance(ctx context.Context, userID string, amountCents int64) (int64, error)
	CreditBalance(ctx context.Context, userID string, amountCents int64, refillAt time.Time) (int64, error)
	ListRefillDue(ctx context.Context, before time.Time, limit int) ([]domain.Balance, error)

	// Lifecycle
	Close() error
}
