package channels

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// ErrNoTransport is returned when no registered channel can send.
var ErrNoTransport = errors.New("no outbound whatsapp transport registered")

// Manager manages all registered channels, handling their lifecycle
// and routing outbound replies to the active transport.
//
// Manager itself satisfies dispatch.Transport, so the dispatcher can be
// built before the channels that need the inbound handler exist.
type Manager struct {
	mu        sync.RWMutex
	channels  map[string]Channel
	transport Transport
}

// NewManager creates a new channel manager.
// Channels are registered externally via RegisterChannel.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]Channel)}
}

// RegisterChannel adds a channel. The first registered Transport becomes
// the outbound transport.
func (m *Manager) RegisterChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
	if t, ok := ch.(Transport); ok && m.transport == nil {
		m.transport = t
		slog.Info("channels: outbound transport selected", "channel", ch.Name())
	}
}

// StartAll starts all registered channels. A channel that fails to start is
// logged and skipped so the admin API stays reachable.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		slog.Warn("channels: none enabled, replies will not be delivered")
		return nil
	}

	for name, ch := range m.channels {
		slog.Info("channels: starting", "channel", name)
		if err := ch.Start(ctx); err != nil {
			slog.Error("channels: start failed", "channel", name, "error", err)
		}
	}
	return nil
}

// StopAll gracefully stops all channels.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for name, ch := range m.channels {
		slog.Info("channels: stopping", "channel", name)
		if err := ch.Stop(ctx); err != nil {
			slog.Error("channels: stop failed", "channel", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetChannel returns a channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// ChannelStatus is one entry of GetStatus.
type ChannelStatus struct {
	Name     string `json:"name"`
	Running  bool   `json:"running"`
	Outbound bool   `json:"outbound"`
}

// GetStatus returns the running status of all channels, sorted by name.
func (m *Manager) GetStatus() []ChannelStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ChannelStatus, 0, len(m.channels))
	for name, ch := range m.channels {
		out = append(out, ChannelStatus{
			Name:     name,
			Running:  ch.IsRunning(),
			Outbound: m.transport != nil && m.transport.Name() == name,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) outbound() (Transport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.transport == nil {
		return nil, ErrNoTransport
	}
	return m.transport, nil
}

// SendText delivers text through the outbound transport.
func (m *Manager) SendText(ctx context.Context, to, text string) error {
	t, err := m.outbound()
	if err != nil {
		return err
	}
	return t.SendText(ctx, to, text)
}

// SetTyping forwards a typing indicator to the outbound transport.
func (m *Manager) SetTyping(ctx context.Context, to string, typing bool) error {
	t, err := m.outbound()
	if err != nil {
		return err
	}
	return t.SetTyping(ctx, to, typing)
}
