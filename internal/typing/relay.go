// Package typing relays typing indicators. The server keeps no timers and
// no state: debouncing happens on the client.
package typing

import (
	"context"

	"hermes/server/internal/apperr"
	"hermes/server/internal/events"
	"hermes/server/internal/guard"
	"hermes/server/internal/metrics"

	"go.uber.org/zap"
)

type Broadcaster interface {
	BroadcastToRoom(room string, ev events.Envelope, excludeConn string) int
}

type Relay struct {
	guard   *guard.Guard
	hub     Broadcaster
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewRelay(g *guard.Guard, hub Broadcaster, m *metrics.Metrics, log *zap.Logger) *Relay {
	return &Relay{guard: g, hub: hub, metrics: m, log: log}
}

// Relay forwards a typing or stopTyping signal from the authenticated user
// to a friend's identity room or to a group room. The sender named in the
// payload is always replaced by from.
func (r *Relay) Relay(ctx context.Context, t events.Type, from string, p events.TypingPayload, origin string) error {
	if t != events.Typing && t != events.StopTyping {
		return apperr.InvalidArg("unsupported typing event")
	}
	p.From = from

	var room string
	switch {
	case p.To != "" && p.GroupID == "":
		if err := r.guard.AuthorizeDirect(ctx, from, p.To); err != nil {
			return err
		}
		room = events.IdentityRoom(p.To)
		origin = ""
	case p.GroupID != "" && p.To == "":
		if err := r.guard.AuthorizeGroup(ctx, from, p.GroupID); err != nil {
			return err
		}
		room = events.GroupRoom(p.GroupID)
	default:
		return apperr.InvalidArg("exactly one of to or groupId is required")
	}

	ev, err := events.New(t, p)
	if err != nil {
		return err
	}
	r.hub.BroadcastToRoom(room, ev, origin)
	r.metrics.TypingRelayed.Inc()
	return nil
}
