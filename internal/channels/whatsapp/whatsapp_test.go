package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/asa/internal/bus"
	"github.com/nextlevelbuilder/asa/internal/config"
)

type inboundRecorder struct {
	mu   sync.Mutex
	msgs []bus.InboundMessage
}

func (r *inboundRecorder) HandleInbound(_ context.Context, msg bus.InboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *inboundRecorder) snapshot() []bus.InboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.InboundMessage(nil), r.msgs...)
}

// fakeBridge is a WS server that pushes frames to the gateway and records
// what the gateway writes back.
type fakeBridge struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	mu       sync.Mutex
	received []frame
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	b := &fakeBridge{conns: make(chan *websocket.Conn, 1)}
	up := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if json.Unmarshal(data, &f) == nil {
				b.mu.Lock()
				b.received = append(b.received, f)
				b.mu.Unlock()
			}
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBridge) url() string { return "ws" + strings.TrimPrefix(b.srv.URL, "http") }

func (b *fakeBridge) frames() []frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]frame(nil), b.received...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// TestBridge_RoundTrip verifies inbound frames reach the handler and
// replies and typing frames reach the bridge.
func TestBridge_RoundTrip(t *testing.T) {
	fb := newFakeBridge(t)
	rec := &inboundRecorder{}
	ch, err := NewBridge(fb.url(), rec, []string{"+55 11 99999-0000"})
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Stop(context.Background())

	var server *websocket.Conn
	select {
	case server = <-fb.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never connected")
	}

	push := func(f frame) {
		data, _ := json.Marshal(f)
		if err := server.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("push frame: %v", err)
		}
	}
	push(frame{Type: "message", From: "5511999990000@s.whatsapp.net", FromName: "Ana", Content: "Oi", ID: "m1"})
	push(frame{Type: "message", From: "5511888880000@s.whatsapp.net", Content: "not allowed"})
	push(frame{Type: "message", From: "5511999990000@s.whatsapp.net", Chat: "123@g.us", Content: "group"})
	push(frame{Type: "message", From: "5511999990000@s.whatsapp.net", Content: "Tudo bem?"})

	waitFor(t, func() bool { return len(rec.snapshot()) == 2 })
	got := rec.snapshot()
	if got[0].Content != "Oi" || got[0].ContactName != "Ana" || got[0].Metadata["message_id"] != "m1" {
		t.Errorf("first inbound = %+v", got[0])
	}
	if got[1].Content != "Tudo bem?" || got[1].Channel != bus.ChannelBridge {
		t.Errorf("second inbound = %+v", got[1])
	}

	ctx := context.Background()
	if err := ch.SetTyping(ctx, "5511999990000", true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	if err := ch.SendText(ctx, "5511999990000", "Olá!"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	waitFor(t, func() bool { return len(fb.frames()) == 2 })
	frames := fb.frames()
	if frames[0].Type != "typing" || frames[0].Typing == nil || !*frames[0].Typing {
		t.Errorf("typing frame = %+v", frames[0])
	}
	if frames[1].Type != "message" || frames[1].To != "5511999990000" || frames[1].Content != "Olá!" {
		t.Errorf("message frame = %+v", frames[1])
	}
}

func TestBridge_SendWithoutConnection(t *testing.T) {
	ch, err := NewBridge("ws://127.0.0.1:1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.SendText(context.Background(), "1", "x"); err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestBaileys_SendAndTyping(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		bodies = append(bodies, body)
		mu.Unlock()
		if body["phone"] == "fail" {
			_, _ = w.Write([]byte(`{"success":false,"error":"not connected"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	tr, err := NewBaileys(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := tr.SetTyping(ctx, "5511", true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	if err := tr.SendText(ctx, "5511", "Olá"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if err := tr.SendText(ctx, "fail", "Olá"); err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Errorf("expected service error, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if paths[0] != "/set-typing" || bodies[0]["typing"] != true {
		t.Errorf("typing request = %s %v", paths[0], bodies[0])
	}
	if paths[1] != "/send-message" || bodies[1]["phone"] != "5511" || bodies[1]["message"] != "Olá" {
		t.Errorf("send request = %s %v", paths[1], bodies[1])
	}
}

func TestEvolution_SendAndPresence(t *testing.T) {
	type call struct {
		path   string
		apikey string
		body   map[string]string
	}
	var (
		mu    sync.Mutex
		calls []call
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		calls = append(calls, call{r.URL.Path, r.Header.Get("apikey"), body})
		mu.Unlock()
		if strings.HasPrefix(r.URL.Path, "/message/") {
			w.WriteHeader(http.StatusCreated)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tr, err := NewEvolution(srv.URL, "", "secret")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := tr.SetTyping(ctx, "11 99999-0000", false); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	if err := tr.SendText(ctx, "11999990000", "Olá"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("calls = %d", len(calls))
	}
	if calls[0].path != "/chat/presence/asa_whatsapp" || calls[0].body["presence"] != "paused" {
		t.Errorf("presence call = %+v", calls[0])
	}
	if calls[1].path != "/message/sendText/asa_whatsapp" || calls[1].body["number"] != "5511999990000@s.whatsapp.net" {
		t.Errorf("send call = %+v", calls[1])
	}
	if calls[1].apikey != "secret" {
		t.Errorf("apikey header = %q", calls[1].apikey)
	}
}

func TestEvolution_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "instance not found", http.StatusNotFound)
	}))
	defer srv.Close()

	tr, _ := NewEvolution(srv.URL, "x", "")
	err := tr.SendText(context.Background(), "1", "x")
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
}

func TestEvolutionNumber(t *testing.T) {
	tests := map[string]string{
		"11999990000":                  "5511999990000@s.whatsapp.net",
		"+55 (11) 99999-0000":          "5511999990000@s.whatsapp.net",
		"5511999990000@s.whatsapp.net": "5511999990000@s.whatsapp.net",
	}
	for in, want := range tests {
		if got := EvolutionNumber(in); got != want {
			t.Errorf("EvolutionNumber(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFactory(t *testing.T) {
	tests := []struct {
		cfg     config.WhatsAppConfig
		name    string
		wantErr bool
	}{
		{config.WhatsAppConfig{BridgeURL: "ws://localhost:3001"}, bus.ChannelBridge, false},
		{config.WhatsAppConfig{Transport: "baileys", BaileysURL: "http://localhost:3001"}, bus.ChannelBaileys, false},
		{config.WhatsAppConfig{Transport: "evolution", EvolutionURL: "http://localhost:8080"}, bus.ChannelEvolution, false},
		{config.WhatsAppConfig{Transport: "baileys"}, "", true},
		{config.WhatsAppConfig{Transport: "telegram"}, "", true},
	}
	for _, tt := range tests {
		tr, err := Factory(tt.cfg, nil)
		if (err != nil) != tt.wantErr {
			t.Errorf("Factory(%+v) err = %v", tt.cfg, err)
			continue
		}
		if err == nil && tr.Name() != tt.name {
			t.Errorf("Factory(%+v) name = %q, want %q", tt.cfg, tr.Name(), tt.name)
		}
	}
}
