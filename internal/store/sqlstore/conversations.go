package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/asa/internal/store"
)

// ConversationStore implements store.ConversationStore.
type ConversationStore struct {
	db *sql.DB
	d  Dialect
}

const conversationSelectCols = `id, sender, contact_name, active, ai_paused, paused_at, last_activity, created_at`

func (s *ConversationStore) GetOrCreate(ctx context.Context, sender, contactName string) (*store.Conversation, error) {
	now := time.Now().UTC()
	name := contactName
	if name == "" {
		name = sender
	}

	_, err := s.db.ExecContext(ctx, s.d.rebind(
		`INSERT INTO conversations (id, sender, contact_name, active, ai_paused, last_activity, created_at)
		 VALUES (?, ?, ?, TRUE, FALSE, ?, ?) ON CONFLICT (sender) DO NOTHING`),
		store.GenNewID(), sender, name, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	if contactName != "" {
		if _, err := s.db.ExecContext(ctx, s.d.rebind(
			`UPDATE conversations SET contact_name = ? WHERE sender = ? AND contact_name <> ?`),
			contactName, sender, contactName,
		); err != nil {
			return nil, fmt.Errorf("update contact name: %w", err)
		}
	}

	return s.Get(ctx, sender)
}

func (s *ConversationStore) Get(ctx context.Context, sender string) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT `+conversationSelectCols+` FROM conversations WHERE sender = ?`), sender)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return c, err
}

func (s *ConversationStore) List(ctx context.Context, opts store.ConversationListOpts) ([]store.Conversation, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + conversationSelectCols + ` FROM conversations`
	if opts.PausedOnly {
		q += ` WHERE ai_paused = TRUE`
	}
	q += ` ORDER BY last_activity DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SetPaused writes the pause flag; resuming clears paused_at.
func (s *ConversationStore) SetPaused(ctx context.Context, id uuid.UUID, paused bool, at time.Time) error {
	var pausedAt sql.NullTime
	if paused {
		pausedAt = sql.NullTime{Time: at.UTC(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, s.d.rebind(
		`UPDATE conversations SET ai_paused = ?, paused_at = ? WHERE id = ?`),
		paused, pausedAt, id,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *ConversationStore) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind(
		`UPDATE conversations SET last_activity = ? WHERE id = ?`), at.UTC(), id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*store.Conversation, error) {
	var (
		c        store.Conversation
		pausedAt sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.Sender, &c.ContactName, &c.Active, &c.AIPaused,
		&pausedAt, &c.LastActivity, &c.CreatedAt); err != nil {
		return nil, err
	}
	if pausedAt.Valid {
		t := pausedAt.Time
		c.PausedAt = &t
	}
	return &c, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
