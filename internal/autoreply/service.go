// Package autoreply wires the reply pipeline: inbound persistence, the
// debounce queue, the tier chain and the dispatcher.
package autoreply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/asa/internal/bus"
	"github.com/nextlevelbuilder/asa/internal/config"
	"github.com/nextlevelbuilder/asa/internal/conversation"
	"github.com/nextlevelbuilder/asa/internal/debounce"
	"github.com/nextlevelbuilder/asa/internal/dispatch"
	"github.com/nextlevelbuilder/asa/internal/providers"
	"github.com/nextlevelbuilder/asa/internal/responder"
	"github.com/nextlevelbuilder/asa/internal/store"
)

// DefaultMaxMessageChars bounds a single inbound text.
const DefaultMaxMessageChars = 4096

var tracer = otel.Tracer("github.com/nextlevelbuilder/asa/internal/autoreply")

// ErrEmptyMessage is returned for inbound or manual texts with no content.
var ErrEmptyMessage = errors.New("empty message")

// Options configures a Service.
type Options struct {
	Stores    *store.Stores
	Provider  providers.Provider // nil disables the AI tier
	Transport dispatch.Transport // nil: replies are generated but never sent

	AutoReply       config.AutoReplyConfig
	MaxTokens       int
	Temperature     float64
	MaxMessageChars int
}

// Service is the running auto-responder. It is safe for concurrent use.
type Service struct {
	convs    store.ConversationStore
	messages store.MessageStore

	locks      *conversation.Locker // conversation writes
	sends      *conversation.Locker // outbound order per sender, held across the network call
	queue      *debounce.Queue
	control    *conversation.Controller
	ai         *responder.AITier
	rules      *responder.RuleTier
	generic    *responder.GenericTier
	orch       *responder.Orchestrator
	dispatcher *dispatch.Dispatcher

	maxChars atomic.Int64

	// flushCtx parents every flush; cancelled by Close.
	flushCtx context.Context
	cancel   context.CancelFunc
}

// New builds the pipeline from opts.
func New(opts Options) *Service {
	s := &Service{
		convs:    opts.Stores.Conversations,
		messages: opts.Stores.Messages,
		locks:    conversation.NewLocker(),
		sends:    conversation.NewLocker(),
	}
	s.flushCtx, s.cancel = context.WithCancel(context.Background())

	ar := opts.AutoReply
	s.queue = debounce.New(ar.DebounceWindow(), s.flush)
	s.control = conversation.NewController(s.convs, s.locks, s.queue)
	s.dispatcher = dispatch.New(opts.Transport, s.convs, s.messages, ar.TypingDelay())
	s.queue.SetOnEnqueue(s.dispatcher.TypingHook())

	s.ai = responder.NewAITier(opts.Provider, s.messages, opts.Stores.Settings, responder.AIOptions{
		Prompt:       ar.Prompt,
		HistoryLimit: ar.HistoryLimit,
		MaxTokens:    opts.MaxTokens,
		Temperature:  opts.Temperature,
	})
	s.rules = responder.NewRuleTier(opts.Stores.Rules, s.messages, s.control, ar.WaitingSuffix)
	s.generic = responder.NewGenericTier(ar.GenericText)
	s.orch = responder.NewOrchestrator(s.generic, s.ai, s.rules)

	s.setMaxChars(opts.MaxMessageChars)
	return s
}

// Controller exposes the pause state machine for the admin surfaces.
func (s *Service) Controller() *conversation.Controller { return s.control }

// AI exposes the AI tier (prompt preview).
func (s *Service) AI() *responder.AITier { return s.ai }

// Queue exposes the debounce queue.
func (s *Service) Queue() *debounce.Queue { return s.queue }

// Apply pushes reloadable auto-reply settings into the running pipeline.
func (s *Service) Apply(cfg *config.Config) {
	ar := cfg.AutoReplySnapshot()
	s.queue.SetWindow(ar.DebounceWindow())
	s.dispatcher.SetTypingDelay(ar.TypingDelay())
	s.ai.SetPrompt(ar.Prompt)
	s.rules.SetWaitingSuffix(ar.WaitingSuffix)
	s.generic.SetText(ar.GenericText)
	s.setMaxChars(cfg.Gateway.MaxMessageChars)
	slog.Info("autoreply: settings reloaded", "debounce", ar.DebounceWindow(), "typing_delay", ar.TypingDelay())
}

func (s *Service) setMaxChars(n int) {
	if n <= 0 {
		n = DefaultMaxMessageChars
	}
	s.maxChars.Store(int64(n))
}

// Close stops every debounce timer and cancels in-flight flushes.
// Pending batches are discarded; their messages are already persisted.
func (s *Service) Close() {
	s.queue.Stop()
	s.cancel()
}

// HandleInbound persists an inbound text and schedules it for a reply.
// It returns once the message is stored; the reply happens after the
// sender stays quiet for the debounce window.
func (s *Service) HandleInbound(ctx context.Context, msg bus.InboundMessage) error {
	sender := strings.TrimSpace(msg.Sender)
	text := strings.TrimSpace(msg.Content)
	if sender == "" {
		return fmt.Errorf("inbound from %s: missing sender", msg.Channel)
	}
	if text == "" {
		return ErrEmptyMessage
	}
	text = truncate(text, int(s.maxChars.Load()))

	ctx, span := tracer.Start(ctx, "autoreply.inbound")
	defer span.End()
	span.SetAttributes(attribute.String("asa.sender", sender), attribute.String("asa.channel", msg.Channel))

	unlock := s.locks.Lock(sender)
	conv, err := s.convs.GetOrCreate(ctx, sender, msg.ContactName)
	if err != nil {
		unlock()
		return fmt.Errorf("get conversation %s: %w", sender, err)
	}
	at := msg.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	in := &store.Message{
		ID:             store.GenNewID(),
		ConversationID: conv.ID,
		Content:        text,
		Direction:      store.DirectionInbound,
		CreatedAt:      at.UTC(),
	}
	err = s.messages.Append(ctx, in)
	if err == nil {
		err = s.convs.Touch(ctx, conv.ID, in.CreatedAt)
	}
	unlock()
	if err != nil {
		return fmt.Errorf("store inbound from %s: %w", sender, err)
	}

	if conv.AIPaused {
		slog.Debug("autoreply: ai paused, message stored only", "sender", sender)
		return nil
	}
	s.queue.Enqueue(sender, text, conv.ID)
	return nil
}

// flush runs on the debounce timer goroutine with a detached batch.
func (s *Service) flush(b debounce.Batch) {
	ctx, span := tracer.Start(s.flushCtx, "autoreply.flush")
	defer span.End()
	span.SetAttributes(attribute.String("asa.sender", b.Sender), attribute.Int("asa.batch_size", len(b.Texts)))

	conv, err := s.convs.Get(ctx, b.Sender)
	if err != nil {
		slog.Error("autoreply: flush aborted, conversation unavailable", "sender", b.Sender, "error", err)
		return
	}
	if conv.AIPaused {
		slog.Info("autoreply: ai paused, batch discarded", "sender", b.Sender, "texts", len(b.Texts))
		return
	}

	reply := s.orch.Respond(ctx, responder.Request{
		Conversation: *conv,
		Texts:        b.Texts,
		Text:         Combine(b.Texts),
	})

	// Sends to one sender stay in order; the conversation lock is only
	// held around the pause re-check and the outbound record, so inbound
	// persistence and pause transitions never wait for the transport.
	unlockSend := s.sends.Lock(b.Sender)
	defer unlockSend()

	unlock := s.locks.Lock(b.Sender)
	// An operator may have paused while the tiers were running.
	if !reply.Paused {
		latest, err := s.convs.Get(ctx, b.Sender)
		if err != nil {
			unlock()
			slog.Error("autoreply: reply dropped, conversation unavailable", "sender", b.Sender, "error", err)
			return
		}
		if latest.AIPaused {
			unlock()
			slog.Info("autoreply: paused during generation, reply dropped", "sender", b.Sender, "tier", reply.Tier)
			return
		}
		conv = latest
	}
	unlock()

	if err := s.dispatcher.Send(ctx, conv, reply.Text, reply.Tier); err != nil {
		// Send already logged; delivery is at-most-once.
		return
	}

	unlock = s.locks.Lock(b.Sender)
	err = s.dispatcher.Record(ctx, conv, reply.Text, reply.Tier)
	unlock()
	if err != nil {
		return
	}
	slog.Debug("autoreply: batch answered", "sender", b.Sender, "texts", len(b.Texts), "tier", reply.Tier,
		"waited", time.Since(b.FirstAt).Round(time.Millisecond))
}

// SendManual delivers an operator message and pauses the AI for sender.
func (s *Service) SendManual(ctx context.Context, sender, text string) (*store.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	conv, err := s.control.Pause(ctx, sender, "manual message")
	if err != nil {
		return nil, err
	}

	unlockSend := s.sends.Lock(sender)
	defer unlockSend()
	if err := s.dispatcher.Send(ctx, conv, text, store.TierManual); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(sender)
	err = s.dispatcher.Record(ctx, conv, text, store.TierManual)
	unlock()
	if err != nil {
		return nil, err
	}
	return &store.Message{
		ConversationID: conv.ID,
		Content:        text,
		Direction:      store.DirectionOutbound,
		Tier:           store.TierManual,
		CreatedAt:      conv.LastActivity,
	}, nil
}

// HumanTakeover records a reply a person typed on the phone and pauses
// the AI. Nothing is sent. Unknown senders get a conversation.
func (s *Service) HumanTakeover(ctx context.Context, hr bus.HumanReply) error {
	sender := strings.TrimSpace(hr.Sender)
	if sender == "" {
		return errors.New("human takeover: missing sender")
	}
	if _, err := s.convs.GetOrCreate(ctx, sender, ""); err != nil {
		return fmt.Errorf("get conversation %s: %w", sender, err)
	}
	conv, err := s.control.Pause(ctx, sender, "human takeover")
	if err != nil {
		return err
	}
	text := strings.TrimSpace(hr.Content)
	if text == "" {
		return nil
	}

	unlock := s.locks.Lock(sender)
	defer unlock()
	return s.dispatcher.Record(ctx, conv, truncate(text, int(s.maxChars.Load())), store.TierManual)
}

// Pause, Resume and Toggle delegate to the controller.
func (s *Service) Pause(ctx context.Context, sender string) (*store.Conversation, error) {
	return s.control.Pause(ctx, sender, "operator")
}

func (s *Service) Resume(ctx context.Context, sender string) (*store.Conversation, error) {
	return s.control.Resume(ctx, sender)
}

func (s *Service) Toggle(ctx context.Context, sender string) (*store.Conversation, error) {
	return s.control.Toggle(ctx, sender)
}

// Combine joins batch texts in arrival order. Bursts of more than one text
// are prefixed with a count so the tiers know the user sent several.
func Combine(texts []string) string {
	switch len(texts) {
	case 0:
		return ""
	case 1:
		return texts[0]
	}
	return fmt.Sprintf("[O usuário enviou %d mensagens seguidas]\n", len(texts)) + strings.Join(texts, "\n")
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
