package channels

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/asa/internal/bus"
)

func TestNormalizePhone(t *testing.T) {
	tests := map[string]string{
		"5511999990000@s.whatsapp.net": "5511999990000",
		"+55 (11) 99999-0000":          "5511999990000",
		"":                             "",
	}
	for in, want := range tests {
		if got := NormalizePhone(in); got != want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestBaseChannel_HandleMessage verifies allowlist and rate-limit gating
// before the inbound handler runs.
func TestBaseChannel_HandleMessage(t *testing.T) {
	var got []bus.InboundMessage
	h := bus.HandlerFunc(func(_ context.Context, msg bus.InboundMessage) error {
		got = append(got, msg)
		return nil
	})
	c := NewBaseChannel("test", h, []string{"+55 11 99999-0000"})
	c.SetLimiter(NewSenderLimiter(2))

	ctx := context.Background()
	allowed := bus.InboundMessage{Sender: "5511999990000@s.whatsapp.net", Content: "oi"}
	if !c.HandleMessage(ctx, allowed) {
		t.Fatal("allowed sender rejected")
	}
	if c.HandleMessage(ctx, bus.InboundMessage{Sender: "5511000000000", Content: "oi"}) {
		t.Error("sender outside allowlist accepted")
	}
	c.HandleMessage(ctx, allowed)
	if c.HandleMessage(ctx, allowed) {
		t.Error("third message within a minute should be rate limited")
	}
	if len(got) != 2 || got[0].Channel != "test" {
		t.Errorf("handled = %+v", got)
	}
}

func TestBaseChannel_HandlerError(t *testing.T) {
	c := NewBaseChannel("test", bus.HandlerFunc(func(context.Context, bus.InboundMessage) error {
		return errors.New("store down")
	}), nil)
	if c.HandleMessage(context.Background(), bus.InboundMessage{Sender: "1", Content: "x"}) {
		t.Error("handler error should report not accepted")
	}
}

func TestSenderLimiter(t *testing.T) {
	if l := NewSenderLimiter(0); l != nil || !l.Allow("x") {
		t.Fatal("disabled limiter must allow everything")
	}

	l := NewSenderLimiter(60)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	for i := 0; i < 60; i++ {
		if !l.Allow("a") {
			t.Fatalf("burst message %d rejected", i)
		}
	}
	if l.Allow("a") {
		t.Error("61st message should be rejected")
	}
	if !l.Allow("b") {
		t.Error("other senders have their own bucket")
	}
	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Error("one token should refill after a second")
	}
}

type fakeTransport struct {
	*BaseChannel
	sent []string
}

func (f *fakeTransport) Start(context.Context) error {
	f.SetRunning(true)
	return nil
}

func (f *fakeTransport) Stop(context.Context) error {
	f.SetRunning(false)
	return nil
}

func (f *fakeTransport) SendText(_ context.Context, to, text string) error {
	f.sent = append(f.sent, to+":"+text)
	return nil
}

func (f *fakeTransport) SetTyping(context.Context, string, bool) error { return nil }

// TestManager_RoutesToTransport verifies the manager proxies sends to the
// first registered transport.
func TestManager_RoutesToTransport(t *testing.T) {
	m := NewManager()
	if err := m.SendText(context.Background(), "1", "x"); !errors.Is(err, ErrNoTransport) {
		t.Fatalf("expected ErrNoTransport, got %v", err)
	}

	ft := &fakeTransport{BaseChannel: NewBaseChannel("whatsapp", nil, nil)}
	m.RegisterChannel(ft)
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.SendText(context.Background(), "5511", "Olá"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(ft.sent) != 1 || ft.sent[0] != "5511:Olá" {
		t.Errorf("sent = %v", ft.sent)
	}

	status := m.GetStatus()
	if len(status) != 1 || !status[0].Running || !status[0].Outbound {
		t.Errorf("status = %+v", status)
	}
	if err := m.StopAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ft.IsRunning() {
		t.Error("channel still running after StopAll")
	}
}
