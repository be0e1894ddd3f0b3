package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/asa/internal/bus"
	"github.com/nextlevelbuilder/asa/internal/channels"
)

// BaileysTransport sends through a local Baileys HTTP service. Inbound
// messages arrive on the gateway webhook, so this channel only sends.
type BaileysTransport struct {
	*channels.BaseChannel
	baseURL string
	client  *http.Client
}

type baileysResult struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

// NewBaileys creates a Baileys transport for baseURL (e.g. http://localhost:3001).
func NewBaileys(baseURL string) (*BaileysTransport, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("whatsapp baileys_url is required")
	}
	return &BaileysTransport{
		BaseChannel: channels.NewBaseChannel(bus.ChannelBaileys, nil, nil),
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: defaultHTTPTimeout},
	}, nil
}

// Start checks the service status. An unreachable service is logged, not fatal.
func (t *BaileysTransport) Start(ctx context.Context) error {
	var status map[string]any
	if err := doJSON(ctx, t.client, http.MethodGet, t.baseURL+"/status", nil, nil, &status); err != nil {
		slog.Warn("whatsapp: baileys service unreachable", "url", t.baseURL, "error", err)
	} else {
		slog.Info("whatsapp: baileys service reachable", "url", t.baseURL, "status", status)
	}
	t.SetRunning(true)
	return nil
}

func (t *BaileysTransport) Stop(context.Context) error {
	t.SetRunning(false)
	return nil
}

// SendText posts {"phone","message"} to /send-message.
func (t *BaileysTransport) SendText(ctx context.Context, to, text string) error {
	body := map[string]any{"phone": to, "message": text}
	return t.post(ctx, "/send-message", body)
}

// SetTyping posts {"phone","typing"} to /set-typing.
func (t *BaileysTransport) SetTyping(ctx context.Context, to string, typing bool) error {
	body := map[string]any{"phone": to, "typing": typing}
	return t.post(ctx, "/set-typing", body)
}

func (t *BaileysTransport) post(ctx context.Context, path string, body any) error {
	var res baileysResult
	if err := doJSON(ctx, t.client, http.MethodPost, t.baseURL+path, nil, body, &res); err != nil {
		return fmt.Errorf("baileys %s: %w", path, err)
	}
	if res.Success != nil && !*res.Success {
		if res.Error == "" {
			res.Error = "request rejected"
		}
		return fmt.Errorf("baileys %s: %w", path, errors.New(res.Error))
	}
	return nil
}
