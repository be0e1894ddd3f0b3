package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TriggerType selects whether a rule answers a contact's first batch or later ones.
type TriggerType string

const (
	TriggerFirstMessage TriggerType = "first_message"
	TriggerFollowUp     TriggerType = "follow_up"
)

// Presentation controls how a rule reply is rendered.
type Presentation string

const (
	PresentationSimple         Presentation = "simple"
	PresentationMultipleChoice Presentation = "multiple_choice"
)

// AutoResponseRule is a canned reply managed by operators.
// The reply pipeline only reads rules.
type AutoResponseRule struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	TriggerType  TriggerType  `json:"trigger_type"`
	Presentation Presentation `json:"presentation"`
	ResponseText string       `json:"response_text,omitempty"`
	MainQuestion string       `json:"main_question,omitempty"`
	OptionA      string       `json:"option_a,omitempty"`
	OptionB      string       `json:"option_b,omitempty"`
	OptionC      string       `json:"option_c,omitempty"`
	OptionD      string       `json:"option_d,omitempty"`
	PauseAI      bool         `json:"pause_ai"`
	Active       bool         `json:"active"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Options returns the non-empty choices in a..d order.
func (r *AutoResponseRule) Options() []string {
	var out []string
	for _, o := range []string{r.OptionA, r.OptionB, r.OptionC, r.OptionD} {
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Validate checks the fields a rule needs for its presentation and fills
// defaults for an empty trigger or presentation.
func (r *AutoResponseRule) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return errors.New("name is required")
	}
	if r.TriggerType == "" {
		r.TriggerType = TriggerFirstMessage
	}
	if r.Presentation == "" {
		r.Presentation = PresentationSimple
	}
	switch r.TriggerType {
	case TriggerFirstMessage, TriggerFollowUp:
	default:
		return fmt.Errorf("invalid trigger_type %q", r.TriggerType)
	}
	switch r.Presentation {
	case PresentationSimple:
		if strings.TrimSpace(r.ResponseText) == "" {
			return errors.New("response_text is required for simple rules")
		}
	case PresentationMultipleChoice:
		if strings.TrimSpace(r.MainQuestion) == "" {
			return errors.New("main_question is required for multiple choice rules")
		}
		if len(r.Options()) == 0 {
			return errors.New("multiple choice rules need at least one option")
		}
	default:
		return fmt.Errorf("invalid presentation %q", r.Presentation)
	}
	return nil
}

// RuleStore manages auto-response rules.
type RuleStore interface {
	// Active returns active rules for the given triggers in creation order.
	Active(ctx context.Context, triggers ...TriggerType) ([]AutoResponseRule, error)
	List(ctx context.Context) ([]AutoResponseRule, error)
	Get(ctx context.Context, id uuid.UUID) (*AutoResponseRule, error)
	Create(ctx context.Context, r *AutoResponseRule) error
	Update(ctx context.Context, r *AutoResponseRule) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// SettingAIPrompt overrides the configured AI prompt when set.
const SettingAIPrompt = "ai_prompt"

// SettingsStore is a small key/value table for operator-editable settings.
type SettingsStore interface {
	// Get returns ("", nil) when the key is unset.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}
