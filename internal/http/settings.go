package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/asa/internal/providers"
	"github.com/nextlevelbuilder/asa/internal/store"
)

// PromptSource reports the AI prompt currently in effect and runs trial
// messages against a candidate prompt.
type PromptSource interface {
	Prompt(ctx context.Context) string
	TryPrompt(ctx context.Context, prompt, message string) (string, error)
}

// SettingsHandler edits operator settings stored in the database.
type SettingsHandler struct {
	settings store.SettingsStore
	prompt   PromptSource
	token    string
}

func NewSettingsHandler(settings store.SettingsStore, prompt PromptSource, token string) *SettingsHandler {
	return &SettingsHandler{settings: settings, prompt: prompt, token: token}
}

// RegisterRoutes registers the settings routes on the given mux.
func (h *SettingsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/settings/ai-prompt", requireToken(h.token, h.handleGetPrompt))
	mux.HandleFunc("PUT /v1/settings/ai-prompt", requireToken(h.token, h.handlePutPrompt))
	mux.HandleFunc("POST /v1/settings/ai-prompt/test", requireToken(h.token, h.handleTestPrompt))
}

func (h *SettingsHandler) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	stored, err := h.settings.Get(r.Context(), store.SettingAIPrompt)
	if err != nil {
		slog.Error("settings.get", "key", store.SettingAIPrompt, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load setting")
		return
	}
	source := "config"
	if strings.TrimSpace(stored) != "" {
		source = "setting"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"prompt": h.prompt.Prompt(r.Context()),
		"source": source,
	})
}

// handlePutPrompt stores the prompt override; an empty prompt clears it and
// the configured prompt applies again.
func (h *SettingsHandler) handlePutPrompt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt string `json:"prompt"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.settings.Set(r.Context(), store.SettingAIPrompt, strings.TrimSpace(body.Prompt)); err != nil {
		slog.Error("settings.set", "key", store.SettingAIPrompt, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save setting")
		return
	}
	slog.Info("settings: ai prompt updated", "chars", len(body.Prompt))
	writeJSON(w, http.StatusOK, map[string]string{"prompt": h.prompt.Prompt(r.Context())})
}

// handleTestPrompt answers one message with a candidate prompt (or the one
// in effect) so operators can try it before saving. Nothing is stored or sent.
func (h *SettingsHandler) handleTestPrompt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
		Prompt  string `json:"prompt"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	message := strings.TrimSpace(body.Message)
	if message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := h.prompt.TryPrompt(r.Context(), body.Prompt, message)
	switch {
	case errors.Is(err, providers.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "ai provider unavailable")
		return
	case err != nil:
		slog.Warn("settings: prompt test failed", "error", err)
		writeError(w, http.StatusBadGateway, "ai provider error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": reply})
}
