package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/asa/internal/store"
)

// DefaultWaitingSuffix follows a multiple-choice question on pausing rules.
const DefaultWaitingSuffix = "Responda com a letra da opção desejada. Aguardando sua escolha..."

// Pauser moves a conversation to PAUSED and reports whether the call made
// the transition. Implemented by conversation.Controller.
type Pauser interface {
	PauseIfActive(ctx context.Context, sender, reason string) (*store.Conversation, bool, error)
}

// RuleTier answers from operator-managed auto-response rules.
//
// A batch counts as the first message when the conversation has no
// outbound message yet, so a burst opening a conversation is classified
// as first_message no matter how many of its texts were persisted.
type RuleTier struct {
	rules    store.RuleStore
	messages store.MessageStore
	pauser   Pauser
	suffix   liveText
}

func NewRuleTier(rules store.RuleStore, messages store.MessageStore, pauser Pauser, waitingSuffix string) *RuleTier {
	t := &RuleTier{rules: rules, messages: messages, pauser: pauser}
	t.SetWaitingSuffix(waitingSuffix)
	return t
}

// SetWaitingSuffix replaces the multiple-choice waiting text. Empty restores the default.
func (t *RuleTier) SetWaitingSuffix(s string) {
	if s == "" {
		s = DefaultWaitingSuffix
	}
	t.suffix.Store(s)
}

func (t *RuleTier) Name() string { return string(store.TierRule) }

func (t *RuleTier) Respond(ctx context.Context, req Request) (Reply, bool, error) {
	trigger, err := t.classify(ctx, req.Conversation.ID)
	if err != nil {
		return Reply{}, false, err
	}

	rules, err := t.rules.Active(ctx, trigger)
	if err != nil {
		return Reply{}, false, fmt.Errorf("load %s rules: %w", trigger, err)
	}

	for i := range rules {
		r := &rules[i]
		text := Render(r, t.suffix.Load())
		if strings.TrimSpace(text) == "" {
			continue
		}

		reply := Reply{Text: text, Tier: store.TierRule}
		if r.PauseAI && t.pauser != nil {
			_, paused, err := t.pauser.PauseIfActive(ctx, req.Conversation.Sender, "rule:"+r.Name)
			if err != nil {
				return Reply{}, false, fmt.Errorf("pause on rule %q: %w", r.Name, err)
			}
			// Already paused by an operator: leave Paused unset so the
			// flush re-check drops this reply.
			reply.Paused = paused
		}
		return reply, true, nil
	}
	return Reply{}, false, nil
}

func (t *RuleTier) classify(ctx context.Context, convID uuid.UUID) (store.TriggerType, error) {
	n, err := t.messages.Count(ctx, convID, store.DirectionOutbound)
	if err != nil {
		return "", fmt.Errorf("count outbound messages: %w", err)
	}
	if n == 0 {
		return store.TriggerFirstMessage, nil
	}
	return store.TriggerFollowUp, nil
}

var optionLetters = [4]string{"a", "b", "c", "d"}

// Render formats a rule reply. Multiple-choice rules list their non-empty
// options under the question and, when the rule pauses the AI, end with
// the waiting suffix.
func Render(r *store.AutoResponseRule, waitingSuffix string) string {
	if r.Presentation != store.PresentationMultipleChoice {
		return strings.TrimSpace(r.ResponseText)
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.MainQuestion))
	opts := [4]string{r.OptionA, r.OptionB, r.OptionC, r.OptionD}
	wrote := false
	for i, o := range opts {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if !wrote {
			b.WriteString("\n")
			wrote = true
		}
		fmt.Fprintf(&b, "\n%s) %s", optionLetters[i], o)
	}
	if r.PauseAI && waitingSuffix != "" {
		b.WriteString("\n\n")
		b.WriteString(waitingSuffix)
	}
	return strings.TrimSpace(b.String())
}
