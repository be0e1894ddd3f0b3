// Package storetest provides an in-memory store for unit tests.
package storetest

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/asa/internal/store"
)

// Memory implements every store interface in process memory.
// Set Fail (or call SetFail once goroutines share m) to make calls return that error.
type Memory struct {
	mu       sync.Mutex
	convs    map[string]*store.Conversation
	msgs     []store.Message
	rules    []store.AutoResponseRule
	settings map[string]string

	Fail error
}

// New returns an empty Memory store.
func New() *Memory {
	return &Memory{
		convs:    make(map[string]*store.Conversation),
		settings: make(map[string]string),
	}
}

// SetFail makes every later call return err until cleared with nil.
func (m *Memory) SetFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fail = err
}

// Stores wraps m in a store.Stores container.
func (m *Memory) Stores() *store.Stores {
	return &store.Stores{Conversations: m, Messages: m, Rules: m.Rules(), Settings: m.SettingsStore()}
}

func (m *Memory) GetOrCreate(_ context.Context, sender, contactName string) (*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	c, ok := m.convs[sender]
	if !ok {
		now := time.Now().UTC()
		c = &store.Conversation{ID: store.GenNewID(), Sender: sender, ContactName: sender,
			Active: true, LastActivity: now, CreatedAt: now}
		m.convs[sender] = c
	}
	if contactName != "" {
		c.ContactName = contactName
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) Get(_ context.Context, sender string) (*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	c, ok := m.convs[sender]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) List(_ context.Context, opts store.ConversationListOpts) ([]store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Conversation
	for _, c := range m.convs {
		if opts.PausedOnly && !c.AIPaused {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (m *Memory) SetPaused(_ context.Context, id uuid.UUID, paused bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	c := m.byID(id)
	if c == nil {
		return store.ErrNotFound
	}
	c.AIPaused = paused
	if paused {
		t := at
		c.PausedAt = &t
	} else {
		c.PausedAt = nil
	}
	return nil
}

func (m *Memory) Touch(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.byID(id)
	if c == nil {
		return store.ErrNotFound
	}
	c.LastActivity = at
	return nil
}

func (m *Memory) byID(id uuid.UUID) *store.Conversation {
	for _, c := range m.convs {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (m *Memory) Append(_ context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	if msg.ID == uuid.Nil {
		msg.ID = store.GenNewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	m.msgs = append(m.msgs, *msg)
	return nil
}

func (m *Memory) Recent(_ context.Context, conversationID uuid.UUID, limit int) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	var all []store.Message
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID {
			all = append(all, msg)
		}
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *Memory) Count(_ context.Context, conversationID uuid.UUID, dir store.Direction) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return 0, m.Fail
	}
	n := 0
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID && msg.Direction == dir {
			n++
		}
	}
	return n, nil
}

// Messages returns a copy of every message for sender, oldest first.
func (m *Memory) Messages(sender string) []store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[sender]
	if !ok {
		return nil
	}
	var out []store.Message
	for _, msg := range m.msgs {
		if msg.ConversationID == c.ID {
			out = append(out, msg)
		}
	}
	return out
}

// Rules returns a store.RuleStore view over m.
func (m *Memory) Rules() store.RuleStore { return ruleView{m} }

type ruleView struct{ m *Memory }

func (v ruleView) Active(_ context.Context, triggers ...store.TriggerType) ([]store.AutoResponseRule, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	if v.m.Fail != nil {
		return nil, v.m.Fail
	}
	var out []store.AutoResponseRule
	for _, r := range v.m.rules {
		if r.Active && slices.Contains(triggers, r.TriggerType) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (v ruleView) List(context.Context) ([]store.AutoResponseRule, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return slices.Clone(v.m.rules), nil
}

func (v ruleView) Get(_ context.Context, id uuid.UUID) (*store.AutoResponseRule, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	for _, r := range v.m.rules {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (v ruleView) Create(_ context.Context, r *store.AutoResponseRule) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = store.GenNewID()
	}
	if r.Presentation == "" {
		r.Presentation = store.PresentationSimple
	}
	if r.TriggerType == "" {
		r.TriggerType = store.TriggerFirstMessage
	}
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	v.m.rules = append(v.m.rules, *r)
	return nil
}

func (v ruleView) Update(_ context.Context, r *store.AutoResponseRule) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	for i := range v.m.rules {
		if v.m.rules[i].ID == r.ID {
			r.CreatedAt = v.m.rules[i].CreatedAt
			r.UpdatedAt = time.Now().UTC()
			v.m.rules[i] = *r
			return nil
		}
	}
	return store.ErrNotFound
}

func (v ruleView) Delete(_ context.Context, id uuid.UUID) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	for i := range v.m.rules {
		if v.m.rules[i].ID == id {
			v.m.rules = slices.Delete(v.m.rules, i, i+1)
			return nil
		}
	}
	return store.ErrNotFound
}

// SettingsStore returns a store.SettingsStore view.
func (m *Memory) SettingsStore() store.SettingsStore { return settingsView{m} }

type settingsView struct{ m *Memory }

func (v settingsView) Get(_ context.Context, key string) (string, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.settings[key], nil
}

func (v settingsView) Set(_ context.Context, key, value string) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	v.m.settings[key] = value
	return nil
}
