package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/asa/internal/autoreply"
	"github.com/nextlevelbuilder/asa/internal/config"
	"github.com/nextlevelbuilder/asa/internal/store"
	"github.com/nextlevelbuilder/asa/internal/store/storetest"
)

const testToken = "admin-secret"

type sinkTransport struct {
	mu   sync.Mutex
	sent []string
}

func (s *sinkTransport) SendText(_ context.Context, to, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, to+"|"+text)
	return nil
}

func (s *sinkTransport) SetTyping(context.Context, string, bool) error { return nil }

type testEnv struct {
	mem *storetest.Memory
	svc *autoreply.Service
	tr  *sinkTransport
	mux *http.ServeMux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := storetest.New()
	tr := &sinkTransport{}
	svc := autoreply.New(autoreply.Options{
		Stores:    mem.Stores(),
		Transport: tr,
		AutoReply: config.AutoReplyConfig{DebounceMs: 60000, TypingDelayMs: -1},
	})
	t.Cleanup(svc.Close)

	mux := http.NewServeMux()
	NewConversationsHandler(svc, mem, mem, testToken).RegisterRoutes(mux)
	NewRulesHandler(mem.Rules(), testToken).RegisterRoutes(mux)
	NewSettingsHandler(mem.SettingsStore(), svc.AI(), testToken).RegisterRoutes(mux)
	NewWebhooksHandler(svc, "", 2, nil).RegisterRoutes(mux)
	return &testEnv{mem: mem, svc: svc, tr: tr, mux: mux}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestConversations_RequiresToken(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

// TestConversations_ListGetMessages verifies the read endpoints.
func TestConversations_ListGetMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv, _ := env.mem.GetOrCreate(ctx, "5511", "Ana")
	_ = env.mem.Append(ctx, &store.Message{ConversationID: conv.ID, Content: "Oi", Direction: store.DirectionInbound})

	rec := env.do(t, http.MethodGet, "/v1/conversations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Conversations []store.Conversation `json:"conversations"`
	}
	decode(t, rec, &list)
	if len(list.Conversations) != 1 || list.Conversations[0].ContactName != "Ana" {
		t.Errorf("list = %+v", list)
	}

	if rec := env.do(t, http.MethodGet, "/v1/conversations/nobody", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown sender status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/v1/conversations/5511/messages", nil)
	var msgs struct {
		Messages []store.Message `json:"messages"`
	}
	decode(t, rec, &msgs)
	if len(msgs.Messages) != 1 || msgs.Messages[0].Content != "Oi" {
		t.Errorf("messages = %+v", msgs)
	}
}

// TestConversations_PauseResumeToggle verifies the pause endpoints.
func TestConversations_PauseResumeToggle(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.mem.GetOrCreate(context.Background(), "5511", "")

	steps := []struct {
		path   string
		paused bool
	}{
		{"/v1/conversations/5511/pause", true},
		{"/v1/conversations/5511/pause", true},
		{"/v1/conversations/5511/resume", false},
		{"/v1/conversations/5511/toggle-ai", true},
		{"/v1/conversations/5511/toggle-ai", false},
	}
	for _, s := range steps {
		rec := env.do(t, http.MethodPost, s.path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", s.path, rec.Code)
		}
		var out struct {
			AIPaused bool `json:"ai_paused"`
		}
		decode(t, rec, &out)
		if out.AIPaused != s.paused {
			t.Fatalf("%s: ai_paused = %v, want %v", s.path, out.AIPaused, s.paused)
		}
	}
}

// TestConversations_ManualMessage verifies an operator message is sent,
// stored as manual and pauses the AI.
func TestConversations_ManualMessage(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.mem.GetOrCreate(context.Background(), "5511", "")

	rec := env.do(t, http.MethodPost, "/v1/conversations/5511/messages", map[string]string{"message": "Sou a Carla."})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if len(env.tr.sent) != 1 || env.tr.sent[0] != "5511|Sou a Carla." {
		t.Errorf("sent = %v", env.tr.sent)
	}
	conv, _ := env.mem.Get(context.Background(), "5511")
	if !conv.AIPaused {
		t.Error("manual message should pause the AI")
	}

	if rec := env.do(t, http.MethodPost, "/v1/conversations/5511/messages", map[string]string{"message": ""}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty message status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/v1/conversations/nobody/messages", map[string]string{"message": "x"}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown sender status = %d", rec.Code)
	}
}
