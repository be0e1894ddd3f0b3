package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/asa/internal/autoreply"
	"github.com/nextlevelbuilder/asa/internal/bus"
	"github.com/nextlevelbuilder/asa/internal/channels"
)

// WebhookService receives events from the HTTP WhatsApp services.
type WebhookService interface {
	bus.InboundHandler
	HumanTakeover(ctx context.Context, hr bus.HumanReply) error
}

// WebhooksHandler serves the endpoints the Baileys/Evolution services call.
type WebhooksHandler struct {
	svc     WebhookService
	token   string
	allow   *channels.BaseChannel
	limiter *channels.SenderLimiter
}

// NewWebhooksHandler creates the webhook endpoints. rpm bounds messages per
// phone per minute (0 disables); allowFrom restricts senders when non-empty.
func NewWebhooksHandler(svc WebhookService, token string, rpm int, allowFrom []string) *WebhooksHandler {
	return &WebhooksHandler{
		svc:     svc,
		token:   token,
		allow:   channels.NewBaseChannel(bus.ChannelWebhook, nil, allowFrom),
		limiter: channels.NewSenderLimiter(rpm),
	}
}

// RegisterRoutes registers the webhook routes on the given mux.
func (h *WebhooksHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/message-received", h.auth(h.handleMessageReceived))
	mux.HandleFunc("POST /api/human-response-detected", h.auth(h.handleHumanResponse))
}

// auth accepts the webhook token as a bearer token or X-Webhook-Token.
func (h *WebhooksHandler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			got := extractBearerToken(r)
			if got == "" {
				got = r.Header.Get("X-Webhook-Token")
			}
			if !tokenMatch(got, h.token) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next(w, r)
	}
}

type webhookMessage struct {
	Phone       string `json:"phone"`
	Message     string `json:"message"`
	ContactName string `json:"contact_name"`
}

func (h *WebhooksHandler) handleMessageReceived(w http.ResponseWriter, r *http.Request) {
	var body webhookMessage
	if !decodeJSON(w, r, &body) {
		return
	}
	phone := strings.TrimSpace(body.Phone)
	if phone == "" || strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusBadRequest, "phone and message are required")
		return
	}
	if !h.allow.IsAllowed(phone) {
		slog.Debug("webhook: sender rejected by allowlist", "phone", phone)
		writeError(w, http.StatusForbidden, "sender not allowed")
		return
	}
	if !h.limiter.Allow(phone) {
		slog.Warn("webhook: sender rate limited", "phone", phone)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	err := h.svc.HandleInbound(r.Context(), bus.InboundMessage{
		Channel:     bus.ChannelWebhook,
		Sender:      phone,
		ContactName: strings.TrimSpace(body.ContactName),
		Content:     body.Message,
		ReceivedAt:  time.Now(),
	})
	if err != nil {
		if errors.Is(err, autoreply.ErrEmptyMessage) {
			writeError(w, http.StatusBadRequest, "message is required")
			return
		}
		slog.Error("webhook.message_received", "phone", phone, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *WebhooksHandler) handleHumanResponse(w http.ResponseWriter, r *http.Request) {
	var body webhookMessage
	if !decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Phone) == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}
	if err := h.svc.HumanTakeover(r.Context(), bus.HumanReply{Sender: body.Phone, Content: body.Message}); err != nil {
		slog.Error("webhook.human_response", "phone", body.Phone, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record human response")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ai_paused"})
}
