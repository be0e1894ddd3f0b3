// Package bus defines the message envelopes passed between inbound
// channels and the auto-reply pipeline.
package bus

import (
	"context"
	"time"
)

// Channel names carried on InboundMessage.Channel.
const (
	ChannelBridge    = "whatsapp"
	ChannelBaileys   = "baileys"
	ChannelEvolution = "evolution"
	ChannelWebhook   = "webhook"
	ChannelAMQP      = "amqp"
)

// InboundMessage represents a text received from a WhatsApp contact.
type InboundMessage struct {
	Channel     string            `json:"channel"`
	Sender      string            `json:"sender"`                 // phone / JID, the conversation key
	ContactName string            `json:"contact_name,omitempty"` // display name, optional
	Content     string            `json:"content"`
	ReceivedAt  time.Time         `json:"received_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// HumanReply is a message a person typed on the phone. It is recorded but
// never sent by the gateway.
type HumanReply struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// InboundHandler consumes inbound messages. Implemented by autoreply.Service.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg InboundMessage) error
}

// HandlerFunc adapts a function to InboundHandler.
type HandlerFunc func(ctx context.Context, msg InboundMessage) error

func (f HandlerFunc) HandleInbound(ctx context.Context, msg InboundMessage) error { return f(ctx, msg) }
