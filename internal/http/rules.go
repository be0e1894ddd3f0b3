package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/asa/internal/store"
)

// RulesHandler handles auto-response rule CRUD endpoints.
type RulesHandler struct {
	rules store.RuleStore
	token string
}

func NewRulesHandler(rules store.RuleStore, token string) *RulesHandler {
	return &RulesHandler{rules: rules, token: token}
}

// RegisterRoutes registers all rule routes on the given mux.
func (h *RulesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/rules", requireToken(h.token, h.handleList))
	mux.HandleFunc("POST /v1/rules", requireToken(h.token, h.handleCreate))
	mux.HandleFunc("GET /v1/rules/{id}", requireToken(h.token, h.handleGet))
	mux.HandleFunc("PUT /v1/rules/{id}", requireToken(h.token, h.handleUpdate))
	mux.HandleFunc("DELETE /v1/rules/{id}", requireToken(h.token, h.handleDelete))
}

func (h *RulesHandler) handleList(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.List(r.Context())
	if err != nil {
		slog.Error("rules.list", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	if rules == nil {
		rules = []store.AutoResponseRule{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

// ruleBody is the create/update payload. Active defaults to true on create.
type ruleBody struct {
	Name         string             `json:"name"`
	TriggerType  store.TriggerType  `json:"trigger_type"`
	Presentation store.Presentation `json:"presentation"`
	ResponseText string             `json:"response_text"`
	MainQuestion string             `json:"main_question"`
	OptionA      string             `json:"option_a"`
	OptionB      string             `json:"option_b"`
	OptionC      string             `json:"option_c"`
	OptionD      string             `json:"option_d"`
	PauseAI      bool               `json:"pause_ai"`
	Active       *bool              `json:"active"`
}

func (b ruleBody) apply(r *store.AutoResponseRule) {
	r.Name = b.Name
	r.TriggerType = b.TriggerType
	r.Presentation = b.Presentation
	r.ResponseText = b.ResponseText
	r.MainQuestion = b.MainQuestion
	r.OptionA, r.OptionB, r.OptionC, r.OptionD = b.OptionA, b.OptionB, b.OptionC, b.OptionD
	r.PauseAI = b.PauseAI
	if b.Active != nil {
		r.Active = *b.Active
	}
}

func (h *RulesHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body ruleBody
	if !decodeJSON(w, r, &body) {
		return
	}
	rule := &store.AutoResponseRule{Active: true}
	body.apply(rule)
	if err := rule.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.rules.Create(r.Context(), rule); err != nil {
		slog.Error("rules.create", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}
	slog.Info("rules: created", "id", rule.ID, "name", rule.Name, "trigger", rule.TriggerType)
	writeJSON(w, http.StatusCreated, rule)
}

func (h *RulesHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRuleID(w, r)
	if !ok {
		return
	}
	rule, err := h.rules.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, "rules.get", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *RulesHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRuleID(w, r)
	if !ok {
		return
	}
	var body ruleBody
	if !decodeJSON(w, r, &body) {
		return
	}
	rule, err := h.rules.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, "rules.update", err)
		return
	}
	body.apply(rule)
	if err := rule.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.rules.Update(r.Context(), rule); err != nil {
		h.storeError(w, "rules.update", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *RulesHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRuleID(w, r)
	if !ok {
		return
	}
	if err := h.rules.Delete(r.Context(), id); err != nil {
		h.storeError(w, "rules.delete", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *RulesHandler) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	slog.Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func parseRuleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return uuid.Nil, false
	}
	return id, true
}
