package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/asa/internal/bus"
	"github.com/nextlevelbuilder/asa/internal/channels"
)

const writeTimeout = 10 * time.Second

// BridgeChannel connects to a WhatsApp bridge via WebSocket.
// The bridge (e.g. a whatsapp-web.js or Baileys process) handles the actual
// WhatsApp protocol; this channel just sends/receives JSON frames over WS.
type BridgeChannel struct {
	*channels.BaseChannel
	url       string
	conn      *websocket.Conn
	mu        sync.Mutex
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// frame is the bridge wire format in both directions.
//
//	{"type":"message","from":"5511...","from_name":"Ana","content":"Oi","id":"..."}
//	{"type":"message","to":"5511...","content":"Olá"}
//	{"type":"typing","to":"5511...","typing":true}
type frame struct {
	Type     string `json:"type"`
	From     string `json:"from,omitempty"`
	FromName string `json:"from_name,omitempty"`
	Chat     string `json:"chat,omitempty"`
	To       string `json:"to,omitempty"`
	Content  string `json:"content,omitempty"`
	ID       string `json:"id,omitempty"`
	Typing   *bool  `json:"typing,omitempty"`
	FromMe   bool   `json:"from_me,omitempty"`
}

// NewBridge creates a bridge channel. Inbound messages go to handler.
func NewBridge(url string, handler bus.InboundHandler, allowFrom []string) (*BridgeChannel, error) {
	if url == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}
	return &BridgeChannel{
		BaseChannel: channels.NewBaseChannel(bus.ChannelBridge, handler, allowFrom),
		url:         url,
	}, nil
}

// Start connects to the WhatsApp bridge WebSocket and begins listening.
func (c *BridgeChannel) Start(ctx context.Context) error {
	slog.Info("whatsapp: starting bridge channel", "bridge_url", c.url)

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	if err := c.connect(); err != nil {
		// Not fatal: the listen loop keeps reconnecting
		slog.Warn("whatsapp: initial bridge connection failed, will retry", "error", err)
	}

	go c.listenLoop()

	c.SetRunning(true)
	return nil
}

// Stop gracefully shuts down the bridge channel.
func (c *BridgeChannel) Stop(_ context.Context) error {
	slog.Info("whatsapp: stopping bridge channel")

	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.mu.Unlock()

	if c.done != nil {
		<-c.done
	}
	c.SetRunning(false)
	return nil
}

// SendText delivers a reply to the WhatsApp bridge.
func (c *BridgeChannel) SendText(_ context.Context, to, text string) error {
	return c.write(frame{Type: "message", To: to, Content: text})
}

// SetTyping shows or clears the "typing..." presence for to.
func (c *BridgeChannel) SetTyping(_ context.Context, to string, typing bool) error {
	return c.write(frame{Type: "typing", To: to, Typing: &typing})
}

func (c *BridgeChannel) write(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal whatsapp %s frame: %w", f.Type, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send whatsapp %s frame: %w", f.Type, err)
	}
	return nil
}

// connect establishes the WebSocket connection to the bridge.
func (c *BridgeChannel) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return c.ctx.Err()
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	slog.Info("whatsapp: bridge connected", "url", c.url)
	return nil
}

// listenLoop reads frames from the bridge with automatic reconnection.
func (c *BridgeChannel) listenLoop() {
	defer close(c.done)
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			// Not connected, retry with backoff
			slog.Info("whatsapp: attempting bridge reconnect", "backoff", backoff)

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := c.connect(); err != nil {
				slog.Warn("whatsapp: bridge reconnect failed", "error", err)
				backoff = min(backoff*2, 30*time.Second)
				continue
			}

			backoff = time.Second // reset on success
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				slog.Warn("whatsapp: read error, will reconnect", "error", err)
			}

			c.mu.Lock()
			if c.conn == conn {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.connected = false
			c.mu.Unlock()

			continue
		}

		var f frame
		if err := json.Unmarshal(message, &f); err != nil {
			slog.Warn("whatsapp: invalid bridge frame", "error", err)
			continue
		}

		if f.Type == "message" {
			c.handleIncomingMessage(f)
		}
	}
}

// handleIncomingMessage processes a message frame received from the bridge.
func (c *BridgeChannel) handleIncomingMessage(f frame) {
	if f.From == "" || f.FromMe {
		return
	}

	// WhatsApp groups have chat IDs ending in "@g.us"; only direct chats are answered.
	if strings.HasSuffix(f.Chat, "@g.us") || strings.HasSuffix(f.From, "@g.us") {
		slog.Debug("whatsapp: group message ignored", "chat", f.Chat)
		return
	}

	content := strings.TrimSpace(f.Content)
	if content == "" {
		return
	}

	msg := bus.InboundMessage{
		Channel:     c.Name(),
		Sender:      f.From,
		ContactName: f.FromName,
		Content:     content,
		ReceivedAt:  time.Now(),
	}
	if f.ID != "" {
		msg.Metadata = map[string]string{"message_id": f.ID}
	}

	slog.Debug("whatsapp: message received",
		"sender", f.From,
		"preview", channels.Truncate(content, 50),
	)

	c.HandleMessage(c.ctx, msg)
}
