// Package responder turns a debounced batch into exactly one reply by
// walking an ordered list of tiers until one produces text.
package responder

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/asa/internal/store"
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/asa/internal/responder")

// Request is one flushed batch ready for a reply.
type Request struct {
	Conversation store.Conversation
	Texts        []string // batch texts in arrival order
	Text         string   // combined text passed to the tiers
}

// Reply is the chosen text and the tier that produced it.
type Reply struct {
	Text string
	Tier store.Tier
	// Paused is set when producing this reply moved the conversation to
	// PAUSED. The dispatcher still delivers such a reply.
	Paused bool
}

// Responder is one tier of the fallback chain. ok=false is a miss; an
// error is logged by the Orchestrator and also counts as a miss.
type Responder interface {
	Name() string
	Respond(ctx context.Context, req Request) (reply Reply, ok bool, err error)
}

// Orchestrator tries each tier in order and returns the first hit.
type Orchestrator struct {
	tiers    []Responder
	fallback *GenericTier
}

// NewOrchestrator builds the chain. fallback answers when every tier misses
// and is also appended as the last tier when not already present.
func NewOrchestrator(fallback *GenericTier, tiers ...Responder) *Orchestrator {
	if fallback == nil {
		fallback = NewGenericTier("")
	}
	o := &Orchestrator{fallback: fallback}
	for _, t := range tiers {
		if t != nil {
			o.tiers = append(o.tiers, t)
		}
	}
	if len(o.tiers) == 0 || o.tiers[len(o.tiers)-1] != Responder(fallback) {
		o.tiers = append(o.tiers, fallback)
	}
	return o
}

// Respond always returns a reply.
func (o *Orchestrator) Respond(ctx context.Context, req Request) Reply {
	ctx, span := tracer.Start(ctx, "responder.respond")
	defer span.End()
	span.SetAttributes(
		attribute.String("asa.sender", req.Conversation.Sender),
		attribute.Int("asa.batch_size", len(req.Texts)),
	)

	for _, t := range o.tiers {
		reply, ok, err := o.try(ctx, t, req)
		if err != nil {
			slog.Warn("responder: tier failed", "tier", t.Name(), "sender", req.Conversation.Sender, "error", err)
			continue
		}
		if !ok {
			slog.Debug("responder: tier miss", "tier", t.Name(), "sender", req.Conversation.Sender)
			continue
		}
		span.SetAttributes(attribute.String("asa.tier", string(reply.Tier)))
		return reply
	}

	// Unreachable while the generic tier is last; kept for custom chains.
	reply, _, _ := o.fallback.Respond(ctx, req)
	span.SetAttributes(attribute.String("asa.tier", string(reply.Tier)))
	return reply
}

func (o *Orchestrator) try(ctx context.Context, t Responder, req Request) (Reply, bool, error) {
	ctx, span := tracer.Start(ctx, "responder.tier."+t.Name())
	defer span.End()

	reply, ok, err := t.Respond(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Reply{}, false, err
	}
	if ok && strings.TrimSpace(reply.Text) == "" {
		ok = false
	}
	span.SetAttributes(attribute.Bool("asa.hit", ok))
	return reply, ok, nil
}

// liveText is a string swapped at runtime by config reloads.
type liveText struct{ p atomic.Pointer[string] }

func (l *liveText) Load() string {
	if s := l.p.Load(); s != nil {
		return *s
	}
	return ""
}

func (l *liveText) Store(s string) { l.p.Store(&s) }
