package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/asa/internal/store"
)

// ConversationService is the part of autoreply.Service the admin API drives.
type ConversationService interface {
	Pause(ctx context.Context, sender string) (*store.Conversation, error)
	Resume(ctx context.Context, sender string) (*store.Conversation, error)
	Toggle(ctx context.Context, sender string) (*store.Conversation, error)
	SendManual(ctx context.Context, sender, text string) (*store.Message, error)
}

// ConversationsHandler serves conversation listing and pause control.
type ConversationsHandler struct {
	svc      ConversationService
	convs    store.ConversationStore
	messages store.MessageStore
	token    string
}

func NewConversationsHandler(svc ConversationService, convs store.ConversationStore, messages store.MessageStore, token string) *ConversationsHandler {
	return &ConversationsHandler{svc: svc, convs: convs, messages: messages, token: token}
}

// RegisterRoutes registers all conversation routes on the given mux.
func (h *ConversationsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/conversations", requireToken(h.token, h.handleList))
	mux.HandleFunc("GET /v1/conversations/{sender}", requireToken(h.token, h.handleGet))
	mux.HandleFunc("GET /v1/conversations/{sender}/messages", requireToken(h.token, h.handleMessages))
	mux.HandleFunc("POST /v1/conversations/{sender}/messages", requireToken(h.token, h.handleSend))
	mux.HandleFunc("POST /v1/conversations/{sender}/pause", requireToken(h.token, h.handlePause))
	mux.HandleFunc("POST /v1/conversations/{sender}/resume", requireToken(h.token, h.handleResume))
	mux.HandleFunc("POST /v1/conversations/{sender}/toggle-ai", requireToken(h.token, h.handleToggle))
}

func (h *ConversationsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	opts := store.ConversationListOpts{
		PausedOnly: r.URL.Query().Get("paused") == "true",
		Limit:      queryInt(r, "limit", 50, 200),
		Offset:     queryInt(r, "offset", 0, 0),
	}
	convs, err := h.convs.List(r.Context(), opts)
	if err != nil {
		slog.Error("conversations.list", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
		"limit":         opts.Limit,
		"offset":        opts.Offset,
	})
}

func (h *ConversationsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := h.convs.Get(r.Context(), r.PathValue("sender"))
	if err != nil {
		writeServiceError(w, "conversations.get", err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationsHandler) handleMessages(w http.ResponseWriter, r *http.Request) {
	conv, err := h.convs.Get(r.Context(), r.PathValue("sender"))
	if err != nil {
		writeServiceError(w, "conversations.messages", err)
		return
	}
	msgs, err := h.messages.Recent(r.Context(), conv.ID, queryInt(r, "limit", 100, 1000))
	if err != nil {
		slog.Error("conversations.messages", "sender", conv.Sender, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation": conv,
		"messages":     msgs,
	})
}

func (h *ConversationsHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	msg, err := h.svc.SendManual(r.Context(), r.PathValue("sender"), body.Message)
	if err != nil {
		writeServiceError(w, "conversations.send", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *ConversationsHandler) handlePause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "conversations.pause", h.svc.Pause)
}

func (h *ConversationsHandler) handleResume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "conversations.resume", h.svc.Resume)
}

func (h *ConversationsHandler) handleToggle(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "conversations.toggle", h.svc.Toggle)
}

func (h *ConversationsHandler) transition(w http.ResponseWriter, r *http.Request, op string,
	fn func(context.Context, string) (*store.Conversation, error)) {
	conv, err := fn(r.Context(), r.PathValue("sender"))
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sender":    conv.Sender,
		"ai_paused": conv.AIPaused,
		"paused_at": conv.PausedAt,
	})
}
