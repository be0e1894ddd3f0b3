// Package channels provides the WhatsApp channel abstraction.
// A channel carries inbound texts into the auto-reply pipeline and, when it
// can send, acts as the outbound transport for replies.
package channels

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/nextlevelbuilder/asa/internal/bus"
)

// Channel defines the lifecycle every channel implementation must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g., "whatsapp", "amqp").
	Name() string

	// Start begins listening. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool
}

// Transport is a channel that can deliver replies. It satisfies
// dispatch.Transport.
type Transport interface {
	Channel
	SendText(ctx context.Context, to, text string) error
	SetTyping(ctx context.Context, to string, typing bool) error
}

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name      string
	handler   bus.InboundHandler
	running   atomic.Bool
	allowList []string
	limiter   *SenderLimiter
}

// NewBaseChannel creates a new BaseChannel. handler may be nil for
// send-only transports.
func NewBaseChannel(name string, handler bus.InboundHandler, allowList []string) *BaseChannel {
	c := &BaseChannel{name: name, handler: handler}
	for _, a := range allowList {
		if n := NormalizePhone(a); n != "" {
			c.allowList = append(c.allowList, n)
		}
	}
	return c
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// SetLimiter installs a per-sender inbound rate limiter.
func (c *BaseChannel) SetLimiter(l *SenderLimiter) { c.limiter = l }

// IsAllowed checks a sender against the allow list. Numbers are compared
// by digits only, so "+55 11 99999-9999" matches "5511999999999@s.whatsapp.net".
// Empty allowlist means all senders are allowed.
func (c *BaseChannel) IsAllowed(sender string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	n := NormalizePhone(sender)
	for _, a := range c.allowList {
		if a == n {
			return true
		}
	}
	return false
}

// HandleMessage applies the allow list and rate limit, then passes the
// message to the inbound handler. It reports whether the message was accepted.
func (c *BaseChannel) HandleMessage(ctx context.Context, msg bus.InboundMessage) bool {
	if c.handler == nil {
		return false
	}
	if !c.IsAllowed(msg.Sender) {
		slog.Debug("channel: sender rejected by allowlist", "channel", c.name, "sender", msg.Sender)
		return false
	}
	if c.limiter != nil && !c.limiter.Allow(msg.Sender) {
		slog.Warn("channel: sender rate limited", "channel", c.name, "sender", msg.Sender)
		return false
	}
	if msg.Channel == "" {
		msg.Channel = c.name
	}
	if err := c.handler.HandleInbound(ctx, msg); err != nil {
		slog.Warn("channel: inbound rejected", "channel", c.name, "sender", msg.Sender, "error", err)
		return false
	}
	return true
}

// NormalizePhone strips a WhatsApp JID suffix and every non-digit.
func NormalizePhone(s string) string {
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// Truncate shortens a string to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
