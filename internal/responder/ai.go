package responder

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/nextlevelbuilder/asa/internal/providers"
	"github.com/nextlevelbuilder/asa/internal/store"
)

// DefaultHistoryLimit is how many persisted messages feed the AI prompt.
const DefaultHistoryLimit = 10

// DefaultPrompt is used when neither config nor the ai_prompt setting set one.
const DefaultPrompt = `Você é o AsA (Assistente Automático), um assistente virtual inteligente para WhatsApp.
Você deve responder de forma útil, amigável e profissional.

Instruções:
- Responda em português brasileiro
- Seja conciso mas informativo
- Mantenha um tom amigável e profissional
- Se não souber algo, seja honesto sobre isso
- Evite respostas muito longas para WhatsApp`

// Replies that providers (or proxies in front of them) return in place of a
// real answer. Seeing one means the AI tier missed.
var unavailableSentinels = []string{
	"Desculpe, o serviço de IA não está disponível no momento.",
	"Desculpe, não consegui processar sua mensagem no momento. Tente novamente.",
	"Desculpe, estou com problemas técnicos. Tente novamente em alguns minutos.",
}

// IsUnavailableSentinel reports whether text is a known "service unavailable" reply.
func IsUnavailableSentinel(text string) bool {
	t := strings.TrimSpace(text)
	for _, s := range unavailableSentinels {
		if t == s {
			return true
		}
	}
	return false
}

// AITier asks an LLM for the reply.
type AITier struct {
	provider providers.Provider
	messages store.MessageStore
	settings store.SettingsStore
	history  int
	prompt   liveText
	options  map[string]interface{}
}

// AIOptions tunes the AI tier. Zero values fall back to defaults.
type AIOptions struct {
	Prompt       string
	HistoryLimit int
	MaxTokens    int
	Temperature  float64
}

// NewAITier creates the AI tier. A nil provider makes every call a miss
// without touching the network. settings may be nil.
func NewAITier(p providers.Provider, messages store.MessageStore, settings store.SettingsStore, opts AIOptions) *AITier {
	t := &AITier{
		provider: p,
		messages: messages,
		settings: settings,
		history:  opts.HistoryLimit,
		options:  make(map[string]interface{}),
	}
	if t.history <= 0 {
		t.history = DefaultHistoryLimit
	}
	if opts.MaxTokens > 0 {
		t.options[providers.OptMaxTokens] = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		t.options[providers.OptTemperature] = opts.Temperature
	}
	t.SetPrompt(opts.Prompt)
	return t
}

// SetPrompt replaces the configured prompt. The ai_prompt setting, when
// present, still takes precedence.
func (t *AITier) SetPrompt(prompt string) {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	t.prompt.Store(prompt)
}

func (t *AITier) Name() string { return string(store.TierAI) }

func (t *AITier) Respond(ctx context.Context, req Request) (Reply, bool, error) {
	if t.provider == nil {
		return Reply{}, false, nil
	}

	// The batch is already persisted; over-fetch so it can be cut from the
	// history and the model sees it once, as the current message.
	recent, err := t.messages.Recent(ctx, req.Conversation.ID, t.history+len(req.Texts))
	if err != nil {
		return Reply{}, false, fmt.Errorf("load history: %w", err)
	}
	history := withoutBatch(recent, req.Texts, t.history)

	resp, err := t.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: t.systemPrompt(ctx)},
			{Role: "user", Content: BuildUserPrompt(history, req.Text)},
		},
		Options: t.options,
	})
	if err != nil {
		return Reply{}, false, fmt.Errorf("%s: %w", t.provider.Name(), err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" || IsUnavailableSentinel(text) {
		return Reply{}, false, nil
	}
	return Reply{Text: text, Tier: store.TierAI}, true, nil
}

// TryPrompt sends message to the provider under prompt, without history and
// without persisting anything. An empty prompt uses the one in effect.
func (t *AITier) TryPrompt(ctx context.Context, prompt, message string) (string, error) {
	if t.provider == nil {
		return "", providers.ErrUnavailable
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = t.systemPrompt(ctx)
	}
	resp, err := t.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: prompt},
			{Role: "user", Content: BuildUserPrompt(nil, message)},
		},
		Options: t.options,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", t.provider.Name(), err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" || IsUnavailableSentinel(text) {
		return "", providers.ErrUnavailable
	}
	return text, nil
}

// Prompt returns the prompt in effect: the ai_prompt setting, else the
// configured prompt.
func (t *AITier) Prompt(ctx context.Context) string { return t.systemPrompt(ctx) }

func (t *AITier) systemPrompt(ctx context.Context) string {
	if t.settings != nil {
		if p, err := t.settings.Get(ctx, store.SettingAIPrompt); err == nil && strings.TrimSpace(p) != "" {
			return p
		}
	}
	return t.prompt.Load()
}

// withoutBatch removes the batch's own inbound messages from the newest end
// of history and keeps at most limit of the rest. Inbound messages newer
// than the batch stay.
func withoutBatch(history []store.Message, texts []string, limit int) []store.Message {
	out := make([]store.Message, 0, len(history))
	j := len(texts) - 1
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if j >= 0 && m.Direction == store.DirectionInbound && m.Content == texts[j] {
			j--
			continue
		}
		out = append(out, m)
	}
	slices.Reverse(out)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// BuildUserPrompt renders the history block followed by the current text.
func BuildUserPrompt(history []store.Message, current string) string {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Histórico da conversa:\n")
		for _, m := range history {
			who := "Usuário"
			if m.Direction == store.DirectionOutbound {
				who = "AsA"
			}
			fmt.Fprintf(&b, "%s: %s\n", who, m.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString("Mensagem atual do usuário: ")
	b.WriteString(current)
	return b.String()
}
