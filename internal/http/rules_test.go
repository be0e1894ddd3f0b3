package http

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/nextlevelbuilder/asa/internal/providers"
	"github.com/nextlevelbuilder/asa/internal/responder"
	"github.com/nextlevelbuilder/asa/internal/store"
)

// TestRules_CRUD verifies create, read, update and delete of rules.
func TestRules_CRUD(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/rules", map[string]interface{}{
		"name":          "boas-vindas",
		"trigger_type":  "first_message",
		"response_text": "Bem-vindo!",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", rec.Code, rec.Body.String())
	}
	var created store.AutoResponseRule
	decode(t, rec, &created)
	if !created.Active || created.Presentation != store.PresentationSimple {
		t.Errorf("defaults not applied: %+v", created)
	}

	rec = env.do(t, http.MethodPut, "/v1/rules/"+created.ID.String(), map[string]interface{}{
		"name":          "menu",
		"presentation":  "multiple_choice",
		"main_question": "Como ajudar?",
		"option_a":      "Vendas",
		"pause_ai":      true,
		"active":        false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d body = %s", rec.Code, rec.Body.String())
	}
	var updated store.AutoResponseRule
	decode(t, rec, &updated)
	if updated.Active || !updated.PauseAI || updated.Name != "menu" {
		t.Errorf("updated = %+v", updated)
	}

	rec = env.do(t, http.MethodGet, "/v1/rules", nil)
	var list struct {
		Rules []store.AutoResponseRule `json:"rules"`
	}
	decode(t, rec, &list)
	if len(list.Rules) != 1 {
		t.Errorf("rules = %d, want 1", len(list.Rules))
	}

	if rec := env.do(t, http.MethodDelete, "/v1/rules/"+created.ID.String(), nil); rec.Code != http.StatusOK {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/v1/rules/"+created.ID.String(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
}

func TestRules_Validation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing name", map[string]interface{}{"response_text": "x"}},
		{"simple without text", map[string]interface{}{"name": "a"}},
		{"choice without options", map[string]interface{}{"name": "a", "presentation": "multiple_choice", "main_question": "q"}},
		{"bad trigger", map[string]interface{}{"name": "a", "trigger_type": "always", "response_text": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, http.MethodPost, "/v1/rules", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
	if rec := env.do(t, http.MethodGet, "/v1/rules/not-a-uuid", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", rec.Code)
	}
}

// TestSettings_AIPrompt verifies the prompt override and its reset.
func TestSettings_AIPrompt(t *testing.T) {
	env := newTestEnv(t)

	var got map[string]string
	decode(t, env.do(t, http.MethodGet, "/v1/settings/ai-prompt", nil), &got)
	if got["source"] != "config" || got["prompt"] == "" {
		t.Fatalf("initial = %v", got)
	}

	if rec := env.do(t, http.MethodPut, "/v1/settings/ai-prompt", map[string]string{"prompt": "Seja breve."}); rec.Code != http.StatusOK {
		t.Fatalf("put status = %d", rec.Code)
	}
	decode(t, env.do(t, http.MethodGet, "/v1/settings/ai-prompt", nil), &got)
	if got["source"] != "setting" || got["prompt"] != "Seja breve." {
		t.Errorf("after put = %v", got)
	}

	env.do(t, http.MethodPut, "/v1/settings/ai-prompt", map[string]string{"prompt": ""})
	decode(t, env.do(t, http.MethodGet, "/v1/settings/ai-prompt", nil), &got)
	if got["source"] != "config" {
		t.Errorf("after reset = %v", got)
	}
}

type cannedProvider struct {
	reply  string
	err    error
	system string
}

func (p *cannedProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.system = req.Messages[0].Content
	if p.err != nil {
		return nil, p.err
	}
	return &providers.ChatResponse{Content: p.reply}, nil
}

func (p *cannedProvider) DefaultModel() string { return "canned" }
func (p *cannedProvider) Name() string         { return "canned" }

// TestSettings_TestPrompt verifies the prompt trial endpoint answers with the
// candidate prompt and stores nothing.
func TestSettings_TestPrompt(t *testing.T) {
	env := newTestEnv(t)
	p := &cannedProvider{reply: "Abrimos às 9h."}
	ai := responder.NewAITier(p, env.mem, env.mem.SettingsStore(), responder.AIOptions{Prompt: "configured"})
	env.mux = http.NewServeMux()
	NewSettingsHandler(env.mem.SettingsStore(), ai, testToken).RegisterRoutes(env.mux)

	rec := env.do(t, http.MethodPost, "/v1/settings/ai-prompt/test", map[string]string{
		"message": "Que horas abrem?",
		"prompt":  "Responda com o horário.",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var got map[string]string
	decode(t, rec, &got)
	if got["response"] != "Abrimos às 9h." {
		t.Errorf("response = %v", got)
	}
	if p.system != "Responda com o horário." {
		t.Errorf("system prompt = %q", p.system)
	}
	if stored, _ := env.mem.SettingsStore().Get(context.Background(), store.SettingAIPrompt); stored != "" {
		t.Errorf("trial must not save the prompt, got %q", stored)
	}

	env.do(t, http.MethodPost, "/v1/settings/ai-prompt/test", map[string]string{"message": "oi"})
	if p.system != "configured" {
		t.Errorf("without prompt, system = %q", p.system)
	}

	if rec := env.do(t, http.MethodPost, "/v1/settings/ai-prompt/test", map[string]string{"message": "  "}); rec.Code != http.StatusBadRequest {
		t.Errorf("blank message status = %d", rec.Code)
	}

	p.err = errors.New("quota exceeded")
	if rec := env.do(t, http.MethodPost, "/v1/settings/ai-prompt/test", map[string]string{"message": "oi"}); rec.Code != http.StatusBadGateway {
		t.Errorf("provider error status = %d", rec.Code)
	}
}

// TestSettings_TestPromptWithoutProvider verifies the trial reports 503 when
// no provider is configured.
func TestSettings_TestPromptWithoutProvider(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/settings/ai-prompt/test", map[string]string{"message": "oi"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}
