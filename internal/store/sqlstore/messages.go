package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/asa/internal/store"
)

// MessageStore implements store.MessageStore.
type MessageStore struct {
	db *sql.DB
	d  Dialect
}

func (s *MessageStore) Append(ctx context.Context, msg *store.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = store.GenNewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var tier sql.NullString
	if msg.Tier != "" {
		tier = sql.NullString{String: string(msg.Tier), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.d.rebind(
		`INSERT INTO messages (id, conversation_id, content, direction, tier, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.ConversationID, msg.Content, string(msg.Direction), tier, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *MessageStore) Recent(ctx context.Context, conversationID uuid.UUID, limit int) ([]store.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT id, conversation_id, content, direction, tier, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`),
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var (
			m    store.Message
			dir  string
			tier sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Content, &dir, &tier, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Direction = store.Direction(dir)
		m.Tier = store.Tier(tier.String)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(out)
	return out, nil
}

func (s *MessageStore) Count(ctx context.Context, conversationID uuid.UUID, dir store.Direction) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND direction = ?`),
		conversationID, string(dir),
	).Scan(&n)
	return n, err
}
