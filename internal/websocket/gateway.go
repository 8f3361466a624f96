package websocket

import (
	"context"

	"hermes/server/internal/apperr"
	"hermes/server/internal/config"
	"hermes/server/internal/dispatcher"
	"hermes/server/internal/events"
	"hermes/server/internal/guard"
	"hermes/server/internal/metrics"
	"hermes/server/internal/typing"

	"go.uber.org/zap"
)

// Gateway routes inbound channel events to the dispatcher, the typing relay
// and the hub's room table.
type Gateway struct {
	hub        *Hub
	dispatcher *dispatcher.Dispatcher
	relay      *typing.Relay
	guard      *guard.Guard
	cfg        config.WSConfig
	metrics    *metrics.Metrics
	log        *zap.Logger
}

func NewGateway(hub *Hub, d *dispatcher.Dispatcher, relay *typing.Relay, g *guard.Guard,
	cfg config.WSConfig, m *metrics.Metrics, log *zap.Logger) *Gateway {
	return &Gateway{hub: hub, dispatcher: d, relay: relay, guard: g, cfg: cfg, metrics: m, log: log}
}

// Serve runs an authenticated connection until it closes.
func (g *Gateway) Serve(conn Conn, username string) {
	ctx := context.Background()
	c := NewClient(username, conn, g.cfg)
	g.hub.Register(ctx, c)

	go c.WritePump()
	c.ReadPump(ctx, g) // blocks until the connection closes
}

// Handle processes one inbound event. Failures are reported to the
// originating connection as an error event.
func (g *Gateway) Handle(ctx context.Context, c *Client, env events.Envelope) {
	if err := g.handle(ctx, c, env); err != nil {
		g.log.Debug("event rejected",
			zap.String("type", string(env.Type)), zap.String("username", c.Username), zap.Error(err))
		g.sendError(c, string(apperr.CodeOf(err)), apperr.MessageOf(err), env.Type)
	}
}

func (g *Gateway) handle(ctx context.Context, c *Client, env events.Envelope) error {
	switch env.Type {
	case events.JoinRoom:
		var p events.RoomPayload
		if err := env.Decode(&p); err != nil {
			return apperr.InvalidArg("malformed payload")
		}
		if p.Username != c.Username {
			return apperr.ErrIdentityMismatch
		}
		return g.join(c, events.IdentityRoom(c.Username))

	case events.JoinGroup:
		var p events.RoomPayload
		if err := env.Decode(&p); err != nil || p.GroupID == "" {
			return apperr.InvalidArg("groupId is required")
		}
		if err := g.guard.AuthorizeGroup(ctx, c.Username, p.GroupID); err != nil {
			return err
		}
		return g.join(c, events.GroupRoom(p.GroupID))

	case events.LeaveGroup:
		var p events.RoomPayload
		if err := env.Decode(&p); err != nil || p.GroupID == "" {
			return apperr.InvalidArg("groupId is required")
		}
		g.hub.Leave(c, events.GroupRoom(p.GroupID))
		return nil

	case events.SendMessage, events.SendGroupMessage:
		var p events.SendPayload
		if err := env.Decode(&p); err != nil {
			return apperr.InvalidArg("malformed payload")
		}
		if p.Sender != "" && p.Sender != c.Username {
			return apperr.ErrIdentityMismatch
		}
		req := dispatcher.SendRequest{
			Sender:   c.Username,
			Content:  p.Content,
			ClientID: p.ClientID,
			Origin:   c.ID,
		}
		if env.Type == events.SendMessage {
			req.Receiver = p.Receiver
		} else {
			req.GroupID = p.GroupID
		}
		_, err := g.dispatcher.Send(ctx, req)
		return err

	case events.Typing, events.StopTyping:
		var p events.TypingPayload
		if err := env.Decode(&p); err != nil {
			return apperr.InvalidArg("malformed payload")
		}
		return g.relay.Relay(ctx, env.Type, c.Username, p, c.ID)

	default:
		return apperr.InvalidArg("unknown event " + string(env.Type))
	}
}

func (g *Gateway) join(c *Client, room string) error {
	g.hub.Join(c, room)
	ev, err := events.New(events.Joined, events.RoomPayload{Room: room})
	if err != nil {
		return err
	}
	g.hub.SendToConn(c.ID, ev)
	return nil
}

func (g *Gateway) sendError(c *Client, code, message string, t events.Type) {
	ev, err := events.New(events.Error, events.ErrorPayload{Code: code, Message: message, Event: t})
	if err != nil {
		return
	}
	g.hub.SendToConn(c.ID, ev)
}
