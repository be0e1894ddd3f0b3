package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// TestOpenAIProvider_Chat verifies the request wire format and response parsing.
func TestOpenAIProvider_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("authorization = %q", got)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["model"] != "gemini-2.5-flash" {
			t.Errorf("model = %v", body["model"])
		}
		if body["max_tokens"] != float64(150) {
			t.Errorf("max_tokens = %v", body["max_tokens"])
		}
		msgs, _ := body["messages"].([]interface{})
		if len(msgs) != 2 {
			t.Errorf("messages = %v", msgs)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Olá!"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("gemini", "key", srv.URL, GeminiDefaultModel)
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "Oi"}},
		Options:  map[string]interface{}{OptMaxTokens: 150},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Olá!" || resp.FinishReason != "stop" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 12 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

// TestOpenAIProvider_RetriesServerErrors verifies 5xx responses are retried
// and 4xx responses are not.
func TestOpenAIProvider_RetriesServerErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{"server error retried", http.StatusServiceUnavailable, 3},
		{"bad request not retried", http.StatusBadRequest, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			p := NewOpenAIProvider("test", "k", srv.URL, "m").
				WithRetryConfig(RetryConfig{Attempts: 3, MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
			_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})

			var he *HTTPError
			if !errors.As(err, &he) || he.Status != tt.status {
				t.Fatalf("expected HTTPError %d, got %v", tt.status, err)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestNewGeminiProvider_Defaults(t *testing.T) {
	p := NewGeminiProvider("k", "")
	if p.Name() != "gemini" || p.DefaultModel() != GeminiDefaultModel {
		t.Errorf("provider = %s/%s", p.Name(), p.DefaultModel())
	}
	if p.apiBase != GeminiAPIBase {
		t.Errorf("apiBase = %s", p.apiBase)
	}
}
