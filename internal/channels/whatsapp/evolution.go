package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/nextlevelbuilder/asa/internal/bus"
	"github.com/nextlevelbuilder/asa/internal/channels"
)

const (
	defaultEvolutionInstance = "asa_whatsapp"
	defaultCountryCode       = "55"
	jidSuffix                = "@s.whatsapp.net"
)

// EvolutionTransport sends through an Evolution API instance. Inbound
// messages arrive on the gateway webhook.
type EvolutionTransport struct {
	*channels.BaseChannel
	baseURL  string
	instance string
	header   http.Header
	client   *http.Client
}

// NewEvolution creates an Evolution API transport.
func NewEvolution(baseURL, instance, apiKey string) (*EvolutionTransport, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("whatsapp evolution_url is required")
	}
	if instance == "" {
		instance = defaultEvolutionInstance
	}
	h := http.Header{}
	if apiKey != "" {
		h.Set("apikey", apiKey)
	}
	return &EvolutionTransport{
		BaseChannel: channels.NewBaseChannel(bus.ChannelEvolution, nil, nil),
		baseURL:     strings.TrimRight(baseURL, "/"),
		instance:    instance,
		header:      h,
		client:      &http.Client{Timeout: defaultHTTPTimeout},
	}, nil
}

// Start logs the instance connection state. Failures are not fatal.
func (t *EvolutionTransport) Start(ctx context.Context) error {
	var state map[string]any
	if err := doJSON(ctx, t.client, http.MethodGet, t.endpoint("/instance/connectionState/"), t.header, nil, &state); err != nil {
		slog.Warn("whatsapp: evolution instance state unavailable", "instance", t.instance, "error", err)
	} else {
		slog.Info("whatsapp: evolution instance reachable", "instance", t.instance, "state", state)
	}
	t.SetRunning(true)
	return nil
}

func (t *EvolutionTransport) Stop(context.Context) error {
	t.SetRunning(false)
	return nil
}

// SendText posts {"number","text"} to /message/sendText/{instance}.
func (t *EvolutionTransport) SendText(ctx context.Context, to, text string) error {
	body := map[string]string{"number": EvolutionNumber(to), "text": text}
	if err := doJSON(ctx, t.client, http.MethodPost, t.endpoint("/message/sendText/"), t.header, body, nil); err != nil {
		return fmt.Errorf("evolution sendText: %w", err)
	}
	return nil
}

// SetTyping posts a composing/paused presence to /chat/presence/{instance}.
func (t *EvolutionTransport) SetTyping(ctx context.Context, to string, typing bool) error {
	presence := "paused"
	if typing {
		presence = "composing"
	}
	body := map[string]string{"number": EvolutionNumber(to), "presence": presence}
	if err := doJSON(ctx, t.client, http.MethodPost, t.endpoint("/chat/presence/"), t.header, body, nil); err != nil {
		return fmt.Errorf("evolution presence: %w", err)
	}
	return nil
}

func (t *EvolutionTransport) endpoint(prefix string) string {
	return t.baseURL + prefix + url.PathEscape(t.instance)
}

// EvolutionNumber turns a phone in any format into a WhatsApp JID,
// defaulting to the Brazilian country code.
func EvolutionNumber(phone string) string {
	if strings.HasSuffix(phone, jidSuffix) {
		return phone
	}
	digits := channels.NormalizePhone(phone)
	if !strings.HasPrefix(digits, defaultCountryCode) {
		digits = defaultCountryCode + digits
	}
	return digits + jidSuffix
}
