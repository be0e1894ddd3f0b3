// Package amqpin consumes inbound WhatsApp message events from RabbitMQ.
// It lets an external receiver (a bridge fleet, a provider webhook relay)
// publish events instead of calling the HTTP webhook.
package amqpin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nextlevelbuilder/asa/internal/bus"
	"github.com/nextlevelbuilder/asa/internal/channels"
	"github.com/nextlevelbuilder/asa/internal/config"
)

const (
	defaultQueue    = "asa.inbound"
	defaultPrefetch = 16
	handleTimeout   = 10 * time.Second
)

// Event is the JSON body of an inbound delivery. Both the webhook field
// names (phone/message) and the bus names (sender/content) are accepted.
type Event struct {
	Phone       string    `json:"phone,omitempty"`
	Sender      string    `json:"sender,omitempty"`
	Message     string    `json:"message,omitempty"`
	Content     string    `json:"content,omitempty"`
	ContactName string    `json:"contact_name,omitempty"`
	ReceivedAt  time.Time `json:"received_at,omitempty"`
}

func (e Event) inbound() bus.InboundMessage {
	msg := bus.InboundMessage{
		Channel:     bus.ChannelAMQP,
		Sender:      strings.TrimSpace(firstNonEmpty(e.Sender, e.Phone)),
		ContactName: e.ContactName,
		Content:     strings.TrimSpace(firstNonEmpty(e.Content, e.Message)),
		ReceivedAt:  e.ReceivedAt,
	}
	return msg
}

// Consumer is an inbound-only channel backed by a durable queue.
type Consumer struct {
	*channels.BaseChannel
	cfg config.AMQPConfig

	mu     sync.Mutex
	conn   *amqp.Connection
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a consumer. Nothing is dialled until Start.
func New(cfg config.AMQPConfig, handler bus.InboundHandler, allowFrom []string) (*Consumer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	if cfg.Queue == "" {
		cfg.Queue = defaultQueue
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = defaultPrefetch
	}
	return &Consumer{
		BaseChannel: channels.NewBaseChannel(bus.ChannelAMQP, handler, allowFrom),
		cfg:         cfg,
	}, nil
}

// Start begins consuming in the background, reconnecting with backoff.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
	c.SetRunning(true)
	slog.Info("amqp: consumer started", "queue", c.cfg.Queue, "exchange", c.cfg.Exchange)
	return nil
}

// Stop cancels consumption and closes the connection.
func (c *Consumer) Stop(_ context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
	if c.done != nil {
		<-c.done
	}
	c.SetRunning(false)
	slog.Info("amqp: consumer stopped")
	return nil
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)
	backoff := time.Second

	for ctx.Err() == nil {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("amqp: consumer disconnected, will retry", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

// consume runs one connection until it breaks or ctx is done.
func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", c.cfg.Queue, err)
	}
	if c.cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", c.cfg.Exchange, err)
		}
		key := c.cfg.RoutingKey
		if key == "" {
			key = "#"
		}
		if err := ch.QueueBind(q.Name, key, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue: %w", err)
		}
	}

	deliveries, err := ch.Consume(q.Name, "asa-gateway", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	slog.Info("amqp: consuming", "queue", q.Name, "prefetch", c.cfg.Prefetch)

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return fmt.Errorf("connection closed")
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.handleDelivery(ctx, d)
		}
	}
}

// handleDelivery acks every well-formed event, including ones the
// pipeline rejects, and drops malformed bodies without requeue.
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var ev Event
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		slog.Warn("amqp: malformed event dropped", "error", err, "routing_key", d.RoutingKey)
		_ = d.Nack(false, false)
		return
	}
	msg := ev.inbound()
	if msg.Sender == "" || msg.Content == "" {
		slog.Debug("amqp: empty event dropped", "routing_key", d.RoutingKey)
		_ = d.Ack(false)
		return
	}

	hctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()
	c.HandleMessage(hctx, msg)
	_ = d.Ack(false)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
