package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/asa/internal/store"
)

// Canceller drops a sender's pending batch. Implemented by debounce.Queue.
type Canceller interface {
	Cancel(sender string) int
}

// Controller implements the two-state AI pause machine:
//
//	ACTIVE --Pause--> PAUSED --Resume--> ACTIVE
//
// Pause is entered by an operator, a human-takeover signal or a rule with
// pause_ai. Nothing in the reply pipeline ever resumes on its own.
type Controller struct {
	convs store.ConversationStore
	locks *Locker
	queue Canceller
	now   func() time.Time
}

// NewController creates a pause controller. queue may be nil in tools that
// run without a live debounce queue (CLI).
func NewController(convs store.ConversationStore, locks *Locker, queue Canceller) *Controller {
	return &Controller{convs: convs, locks: locks, queue: queue, now: time.Now}
}

// Locks returns the shared per-conversation locker.
func (c *Controller) Locks() *Locker { return c.locks }

// Pause moves the sender's conversation to PAUSED and discards any batch
// still waiting in the debounce queue. Pausing a paused conversation keeps
// the original paused_at.
func (c *Controller) Pause(ctx context.Context, sender, reason string) (*store.Conversation, error) {
	conv, _, err := c.PauseIfActive(ctx, sender, reason)
	return conv, err
}

// PauseIfActive is Pause that also reports whether this call made the
// ACTIVE to PAUSED transition. It is false when the conversation was
// already paused by someone else.
func (c *Controller) PauseIfActive(ctx context.Context, sender, reason string) (*store.Conversation, bool, error) {
	unlock := c.locks.Lock(sender)
	defer unlock()

	conv, err := c.convs.Get(ctx, sender)
	if err != nil {
		return nil, false, fmt.Errorf("load conversation %s: %w", sender, err)
	}

	// Drop the batch first so a timer racing with this call finds nothing.
	dropped := 0
	if c.queue != nil {
		dropped = c.queue.Cancel(sender)
	}

	if conv.AIPaused {
		return conv, false, nil
	}

	at := c.now().UTC()
	if err := c.convs.SetPaused(ctx, conv.ID, true, at); err != nil {
		return nil, false, fmt.Errorf("pause conversation %s: %w", sender, err)
	}
	conv.AIPaused = true
	conv.PausedAt = &at

	slog.Info("conversation: ai paused", "sender", sender, "reason", reason, "dropped", dropped)
	return conv, true, nil
}

// Resume moves the conversation back to ACTIVE and clears paused_at.
func (c *Controller) Resume(ctx context.Context, sender string) (*store.Conversation, error) {
	unlock := c.locks.Lock(sender)
	defer unlock()

	conv, err := c.convs.Get(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", sender, err)
	}
	if !conv.AIPaused {
		return conv, nil
	}

	if err := c.convs.SetPaused(ctx, conv.ID, false, c.now()); err != nil {
		return nil, fmt.Errorf("resume conversation %s: %w", sender, err)
	}
	conv.AIPaused = false
	conv.PausedAt = nil

	slog.Info("conversation: ai resumed", "sender", sender)
	return conv, nil
}

// Toggle pauses an active conversation or resumes a paused one.
func (c *Controller) Toggle(ctx context.Context, sender string) (*store.Conversation, error) {
	conv, err := c.convs.Get(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", sender, err)
	}
	if conv.AIPaused {
		return c.Resume(ctx, sender)
	}
	return c.Pause(ctx, sender, "toggle")
}
