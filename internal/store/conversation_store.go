package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Direction tells who authored a message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"  // from the WhatsApp contact
	DirectionOutbound Direction = "outbound" // sent by the gateway or an operator
)

// Tier records which strategy produced an outbound message.
type Tier string

const (
	TierAI      Tier = "ai"
	TierRule    Tier = "rule"
	TierGeneric Tier = "generic"
	TierManual  Tier = "manual" // typed by a human operator
)

// Conversation is the per-sender state shared by the debounce flush,
// the pause controller and the dispatcher.
type Conversation struct {
	ID           uuid.UUID  `json:"id"`
	Sender       string     `json:"sender"`
	ContactName  string     `json:"contact_name"`
	Active       bool       `json:"active"`
	AIPaused     bool       `json:"ai_paused"`
	PausedAt     *time.Time `json:"paused_at,omitempty"`
	LastActivity time.Time  `json:"last_activity"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Message is an append-only record in a conversation.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Content        string    `json:"content"`
	Direction      Direction `json:"direction"`
	Tier           Tier      `json:"tier,omitempty"` // empty for inbound
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationListOpts holds pagination options for List.
type ConversationListOpts struct {
	PausedOnly bool
	Limit      int
	Offset     int
}

// ConversationStore persists conversations keyed by sender address.
type ConversationStore interface {
	// GetOrCreate returns the conversation for sender, creating it on first contact.
	// A non-empty contactName refreshes the stored display name.
	GetOrCreate(ctx context.Context, sender, contactName string) (*Conversation, error)
	Get(ctx context.Context, sender string) (*Conversation, error)
	List(ctx context.Context, opts ConversationListOpts) ([]Conversation, error)
	SetPaused(ctx context.Context, id uuid.UUID, paused bool, at time.Time) error
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
}

// MessageStore appends and reads conversation messages.
type MessageStore interface {
	Append(ctx context.Context, msg *Message) error
	// Recent returns up to limit newest messages, ordered oldest first.
	Recent(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error)
	Count(ctx context.Context, conversationID uuid.UUID, dir Direction) (int, error)
}

// GenNewID returns a time-ordered UUID for new rows.
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
