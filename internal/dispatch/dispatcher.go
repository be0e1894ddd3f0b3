// Package dispatch delivers a chosen reply through the WhatsApp transport
// and records it. Delivery is at-most-once: a failed send is logged and
// the reply is dropped.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/asa/internal/store"
)

// DefaultTypingDelay is how long "typing..." shows before the reply is sent.
const DefaultTypingDelay = 2 * time.Second

var tracer = otel.Tracer("github.com/nextlevelbuilder/asa/internal/dispatch")

// Transport is the outbound side of a WhatsApp channel.
type Transport interface {
	SendText(ctx context.Context, to, text string) error
	// SetTyping is best-effort; callers ignore its error beyond logging.
	SetTyping(ctx context.Context, to string, typing bool) error
}

// ErrNoTransport is returned when the gateway runs without an outbound channel.
var ErrNoTransport = errors.New("no outbound transport configured")

// Dispatcher sends replies and persists successful deliveries.
type Dispatcher struct {
	transport   Transport
	convs       store.ConversationStore
	messages    store.MessageStore
	typingDelay atomic.Int64
	now         func() time.Time
}

func New(t Transport, convs store.ConversationStore, messages store.MessageStore, typingDelay time.Duration) *Dispatcher {
	d := &Dispatcher{transport: t, convs: convs, messages: messages, now: time.Now}
	d.SetTypingDelay(typingDelay)
	return d
}

// SetTypingDelay changes the typing simulation. Negative means none.
func (d *Dispatcher) SetTypingDelay(delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	d.typingDelay.Store(int64(delay))
}

// TypingHook returns a non-blocking typing-start signal for the debounce queue.
func (d *Dispatcher) TypingHook() func(sender string) {
	return func(sender string) {
		if d.transport == nil {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d.transport.SetTyping(ctx, sender, true); err != nil {
				slog.Debug("dispatch: typing start failed", "to", sender, "error", err)
			}
		}()
	}
}

// Dispatch sends text with Send and, on success, records it with Record.
// Callers that must not hold the conversation lock during the network
// call use Send and Record separately.
func (d *Dispatcher) Dispatch(ctx context.Context, conv *store.Conversation, text string, tier store.Tier) error {
	if err := d.Send(ctx, conv, text, tier); err != nil {
		return err
	}
	return d.record(ctx, conv, text, tier)
}

// Send delivers text without persisting it. Automated tiers show typing
// for the typing delay first; manual messages go out immediately.
func (d *Dispatcher) Send(ctx context.Context, conv *store.Conversation, text string, tier store.Tier) error {
	ctx, span := tracer.Start(ctx, "dispatch.send")
	defer span.End()
	span.SetAttributes(attribute.String("asa.sender", conv.Sender), attribute.String("asa.tier", string(tier)))

	if d.transport == nil {
		return d.fail(span, conv.Sender, ErrNoTransport)
	}
	if tier == store.TierManual {
		if err := d.transport.SendText(ctx, conv.Sender, text); err != nil {
			return d.fail(span, conv.Sender, err)
		}
		return nil
	}

	d.typing(ctx, conv.Sender, true)
	if delay := time.Duration(d.typingDelay.Load()); delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			d.typing(context.WithoutCancel(ctx), conv.Sender, false)
			return d.fail(span, conv.Sender, ctx.Err())
		case <-t.C:
		}
	}

	sendErr := d.transport.SendText(ctx, conv.Sender, text)
	d.typing(ctx, conv.Sender, false)
	if sendErr != nil {
		return d.fail(span, conv.Sender, sendErr)
	}
	slog.Info("dispatch: reply sent", "to", conv.Sender, "tier", tier, "chars", len(text))
	return nil
}

// SendManual delivers an operator message without typing simulation and records it.
func (d *Dispatcher) SendManual(ctx context.Context, conv *store.Conversation, text string) error {
	return d.Dispatch(ctx, conv, text, store.TierManual)
}

// Record persists an outbound message that Send delivered or that was
// delivered by someone else, e.g. a human replying from the phone. The
// caller holds the conversation lock.
func (d *Dispatcher) Record(ctx context.Context, conv *store.Conversation, text string, tier store.Tier) error {
	return d.record(ctx, conv, text, tier)
}

func (d *Dispatcher) record(ctx context.Context, conv *store.Conversation, text string, tier store.Tier) error {
	now := d.now().UTC()
	msg := &store.Message{
		ID:             store.GenNewID(),
		ConversationID: conv.ID,
		Content:        text,
		Direction:      store.DirectionOutbound,
		Tier:           tier,
		CreatedAt:      now,
	}
	if err := d.messages.Append(ctx, msg); err != nil {
		slog.Error("dispatch: persist outbound failed", "to", conv.Sender, "error", err)
		return fmt.Errorf("append outbound message: %w", err)
	}
	if err := d.convs.Touch(ctx, conv.ID, now); err != nil {
		slog.Warn("dispatch: touch conversation failed", "to", conv.Sender, "error", err)
		return fmt.Errorf("touch conversation: %w", err)
	}
	conv.LastActivity = now
	return nil
}

func (d *Dispatcher) typing(ctx context.Context, to string, on bool) {
	if err := d.transport.SetTyping(ctx, to, on); err != nil {
		slog.Debug("dispatch: typing signal failed", "to", to, "typing", on, "error", err)
	}
}

func (d *Dispatcher) fail(span trace.Span, to string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	slog.Warn("dispatch: delivery failed, reply dropped", "to", to, "error", err)
	return fmt.Errorf("send to %s: %w", to, err)
}
