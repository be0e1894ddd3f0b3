package responder

import (
	"context"

	"github.com/nextlevelbuilder/asa/internal/store"
)

// DefaultGenericText is sent when no other tier produces a reply.
const DefaultGenericText = "Obrigado pela sua mensagem! No momento não consigo responder automaticamente, mas um atendente retornará o contato em breve."

// GenericTier returns a fixed text and never misses.
type GenericTier struct {
	text liveText
}

func NewGenericTier(text string) *GenericTier {
	g := &GenericTier{}
	g.SetText(text)
	return g
}

// SetText replaces the fallback text. Empty restores the default.
func (g *GenericTier) SetText(text string) {
	if text == "" {
		text = DefaultGenericText
	}
	g.text.Store(text)
}

func (g *GenericTier) Name() string { return string(store.TierGeneric) }

func (g *GenericTier) Respond(context.Context, Request) (Reply, bool, error) {
	return Reply{Text: g.text.Load(), Tier: store.TierGeneric}, true, nil
}
