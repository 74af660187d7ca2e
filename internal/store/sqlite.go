package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/revlane/assistant/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			vehicle_slug TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			attachments TEXT,
			tool_calls TEXT,
			usage TEXT,
			error_code TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_order ON messages(conversation_id, seq)`,
		`CREATE TABLE IF NOT EXISTS balances (
			user_id TEXT PRIMARY KEY,
			plan TEXT NOT NULL,
			balance_cents INTEGER NOT NULL DEFAULT 0,
			last_refill_at DATETIME
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateConversation inserts a new conversation row.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, user_id, vehicle_slug, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		conv.ConversationID, conv.UserID, nullString(conv.VehicleSlug), conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetConversation fetches a conversation by id.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, user_id, COALESCE(vehicle_slug, ''), created_at, updated_at
		 FROM conversations WHERE conversation_id = ?`, conversationID)

	var conv domain.Conversation
	err := row.Scan(&conv.ConversationID, &conv.UserID, &conv.VehicleSlug, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// GetOrCreateConversation returns the existing conversation or creates a new
// one. The bool reports whether the conversation was created.
func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, conversationID, userID, vehicleSlug string) (*domain.Conversation, bool, error) {
	if conversationID != "" {
		conv, err := s.GetConversation(ctx, conversationID)
		if err == nil {
			return conv, false, nil
		}
		if err != ErrNotFound {
			return nil, false, err
		}
	}

	now := time.Now().UTC()
	conv := &domain.Conversation{
		ConversationID: conversationID,
		UserID:         userID,
		VehicleSlug:    vehicleSlug,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if conv.ConversationID == "" {
		conv.ConversationID = domain.NewID("conv")
	}
	if err := s.CreateConversation(ctx, conv); err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// AddMessage appends a message at the next sequence position. Re-inserting
// the same message id is a no-op so retries stay safe; any other conflict,
// like a seq collision from an unserialized concurrent append, surfaces as
// an error instead of dropping the message.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg *domain.Message) error {
	attachments, err := marshalOrNil(msg.Attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}
	toolCalls, err := marshalOrNil(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("failed to encode tool calls: %w", err)
	}
	var usage sql.NullString
	if msg.Usage != nil {
		data, err := json.Marshal(msg.Usage)
		if err != nil {
			return fmt.Errorf("failed to encode usage: %w", err)
		}
		usage = sql.NullString{String: string(data), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages
		 (message_id, conversation_id, seq, role, content, attachments, tool_calls, usage, error_code, created_at)
		 VALUES (?, ?,
			 (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?),
			 ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(message_id) DO NOTHING`,
		msg.MessageID, msg.ConversationID, msg.ConversationID,
		string(msg.Role), msg.Content, attachments, toolCalls, usage,
		nullString(string(msg.ErrorCode)), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE conversation_id = ?`,
		time.Now().UTC(), msg.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

// GetMessages returns the most recent messages in append order.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, conversation_id, role, content, attachments, tool_calls, usage, error_code, created_at
		 FROM (
			 SELECT * FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT ?
		 ) ORDER BY seq ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var role string
		var attachments, toolCalls, usage, errorCode sql.NullString
		if err := rows.Scan(&msg.MessageID, &msg.ConversationID, &role, &msg.Content,
			&attachments, &toolCalls, &usage, &errorCode, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = domain.MessageRole(role)
		if attachments.Valid {
			if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
				return nil, fmt.Errorf("failed to decode attachments: %w", err)
			}
		}
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls: %w", err)
			}
		}
		if usage.Valid {
			msg.Usage = &domain.Usage{}
			if err := json.Unmarshal([]byte(usage.String), msg.Usage); err != nil {
				return nil, fmt.Errorf("failed to decode usage: %w", err)
			}
		}
		if errorCode.Valid {
			msg.ErrorCode = domain.ErrorCode(errorCode.String)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// EnsureBalance creates the balance row if the user has none.
func (s *SQLiteStore) EnsureBalance(ctx context.Context, userID string, plan domain.Plan, initialCents int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO balances (user_id, plan, balance_cents) VALUES (?, ?, ?)`,
		userID, string(plan), initialCents)
	if err != nil {
		return fmt.Errorf("failed to ensure balance: %w", err)
	}
	return nil
}

// GetBalance fetches the balance row for a user.
func (s *SQLiteStore) GetBalance(ctx context.Context, userID string) (*domain.Balance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, plan, balance_cents, last_refill_at FROM balances WHERE user_id = ?`, userID)

	var b domain.Balance
	var plan string
	var refillAt sql.NullTime
	err := row.Scan(&b.UserID, &plan, &b.BalanceCents, &refillAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	b.Plan = domain.Plan(plan)
	if refillAt.Valid {
		t := refillAt.Time
		b.LastRefillAt = &t
	}
	return &b, nil
}

// DebitBalance atomically subtracts amountCents and returns the new balance.
// The balance is allowed to go negative: the response has already been shown
// to the user, reconciliation happens out of band.
func (s *SQLiteStore) DebitBalance(ctx context.Context, userID string, amountCents int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE balances SET balance_cents = balance_cents - ? WHERE user_id = ?`,
		amountCents, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to debit balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to debit balance: %w", err)
	}
	if affected == 0 {
		return 0, ErrNotFound
	}

	b, err := s.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	return b.BalanceCents, nil
}

// CreditBalance atomically adds amountCents and stamps the refill time.
func (s *SQLiteStore) CreditBalance(ctx context.Context, userID string, amountCents int64, refillAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE balances SET balance_cents = balance_cents + ?, last_refill_at = ? WHERE user_id = ?`,
		amountCents, refillAt, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to credit balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to credit balance: %w", err)
	}
	if affected == 0 {
		return 0, ErrNotFound
	}

	b, err := s.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	return b.BalanceCents, nil
}

// ListRefillDue returns balances whose last refill is older than the cutoff
// (or never refilled). Internal-plan rows are excluded.
func (s *SQLiteStore) ListRefillDue(ctx context.Context, before time.Time, limit int) ([]domain.Balance, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, plan, balance_cents, last_refill_at FROM balances
		 WHERE plan != ? AND (last_refill_at IS NULL OR last_refill_at < ?)
		 LIMIT ?`,
		string(domain.PlanInternal), before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list refill due: %w", err)
	}
	defer rows.Close()

	var balances []domain.Balance
	for rows.Next() {
		var b domain.Balance
		var plan string
		var refillAt sql.NullTime
		if err := rows.Scan(&b.UserID, &plan, &b.BalanceCents, &refillAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		b.Plan = domain.Plan(plan)
		if refillAt.Valid {
			t := refillAt.Time
			b.LastRefillAt = &t
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshalOrNil[T any](items []T) (sql.NullString, error) {
	if len(items) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
