package whatsapp

import (
	"fmt"

	"github.com/nextlevelbuilder/asa/internal/bus"
	"github.com/nextlevelbuilder/asa/internal/channels"
	"github.com/nextlevelbuilder/asa/internal/config"
)

// Transport names accepted in channels.whatsapp.transport.
const (
	TransportBridge    = "bridge"
	TransportBaileys   = "baileys"
	TransportEvolution = "evolution"
)

// Factory creates the configured WhatsApp transport. Only the bridge
// receives messages itself; the HTTP transports rely on the webhook.
func Factory(cfg config.WhatsAppConfig, handler bus.InboundHandler) (channels.Transport, error) {
	switch cfg.Transport {
	case "", TransportBridge:
		ch, err := NewBridge(cfg.BridgeURL, handler, cfg.AllowFrom)
		if err != nil {
			return nil, err
		}
		return ch, nil
	case TransportBaileys:
		t, err := NewBaileys(cfg.BaileysURL)
		if err != nil {
			return nil, err
		}
		return t, nil
	case TransportEvolution:
		t, err := NewEvolution(cfg.EvolutionURL, cfg.EvolutionInstance, cfg.EvolutionAPIKey)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown whatsapp transport %q", cfg.Transport)
	}
}
