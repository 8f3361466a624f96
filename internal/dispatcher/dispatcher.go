// Package dispatcher turns a send request into a persisted message and its
// fan-out on the push channel. REST and channel callers share it.
package dispatcher

import (
	"context"
	"time"

	"hermes/server/internal/apperr"
	"hermes/server/internal/broker"
	"hermes/server/internal/events"
	"hermes/server/internal/guard"
	"hermes/server/internal/metrics"
	"hermes/server/internal/models"

	"go.uber.org/zap"
)

// Broadcaster is the slice of the hub the dispatcher emits through.
type Broadcaster interface {
	BroadcastToRoom(room string, ev events.Envelope, excludeConn string) int
	SendToConn(connID string, ev events.Envelope) bool
}

type Store interface {
	GetUser(ctx context.Context, username string) (*models.User, error)
	CreateDirectMessage(ctx context.Context, sender, receiver, content string) (*models.DirectMessage, error)
	GetDirectMessage(ctx context.Context, id string) (*models.DirectMessage, error)
	DeleteDirectMessage(ctx context.Context, id string) error
	CreateGroupMessage(ctx context.Context, groupID, sender, content string) (*models.GroupMessage, error)
}

type Dispatcher struct {
	store     Store
	guard     *guard.Guard
	hub       Broadcaster
	publisher broker.Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func New(store Store, g *guard.Guard, hub Broadcaster, pub broker.Publisher, m *metrics.Metrics, log *zap.Logger) *Dispatcher {
	if pub == nil {
		pub = broker.Noop{}
	}
	return &Dispatcher{store: store, guard: g, hub: hub, publisher: pub, metrics: m, log: log}
}

// Result carries the persisted message; exactly one field is set.
type Result struct {
	Direct *models.DirectMessage
	Group  *models.GroupMessage
}

// Send validates, authorizes, persists and emits. Nothing is written or
// emitted when validation or authorization fails, and nothing is emitted
// when persistence fails.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*Result, error) {
	if err := req.normalize(); err != nil {
		d.reject(err)
		return nil, err
	}

	switch req.Kind() {
	case KindDirect:
		msg, err := d.sendDirect(ctx, req)
		if err != nil {
			d.reject(err)
			return nil, err
		}
		return &Result{Direct: msg}, nil
	default:
		msg, err := d.sendGroup(ctx, req)
		if err != nil {
			d.reject(err)
			return nil, err
		}
		return &Result{Group: msg}, nil
	}
}

func (d *Dispatcher) sendDirect(ctx context.Context, req SendRequest) (*models.DirectMessage, error) {
	if err := d.guard.AuthorizeDirect(ctx, req.Sender, req.Receiver); err != nil {
		return nil, err
	}

	msg, err := d.store.CreateDirectMessage(ctx, req.Sender, req.Receiver, req.Content)
	if err != nil {
		d.log.Error("failed to save direct message",
			zap.String("sender", req.Sender), zap.String("receiver", req.Receiver), zap.Error(err))
		return nil, err
	}

	msg.SenderAvatar = d.avatar(ctx, msg.Sender)
	msg.ReceiverAvatar = d.avatar(ctx, msg.Receiver)

	delivery := events.MessagePayload{DirectMessage: *msg}
	d.broadcast(events.IdentityRoom(msg.Receiver), events.ReceiveMessage, delivery, req.Origin)
	d.broadcast(events.IdentityRoom(msg.Sender), events.ReceiveMessage, delivery, req.Origin)
	d.ack(req.Origin, events.MessageSent, events.MessagePayload{DirectMessage: *msg, ClientID: req.ClientID})

	d.metrics.MessagesDispatched.WithLabelValues(KindDirect.String()).Inc()
	d.publish(ctx, broker.MessageEvent{
		ID:        msg.ID,
		Kind:      KindDirect.String(),
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	})
	return msg, nil
}

func (d *Dispatcher) sendGroup(ctx context.Context, req SendRequest) (*models.GroupMessage, error) {
	if err := d.guard.AuthorizeGroup(ctx, req.Sender, req.GroupID); err != nil {
		return nil, err
	}

	msg, err := d.store.CreateGroupMessage(ctx, req.GroupID, req.Sender, req.Content)
	if err != nil {
		d.log.Error("failed to save group message",
			zap.String("sender", req.Sender), zap.String("group", req.GroupID), zap.Error(err))
		return nil, err
	}

	d.broadcast(events.GroupRoom(msg.GroupID), events.ReceiveGroupMessage,
		events.GroupMessagePayload{GroupMessage: *msg}, req.Origin)
	d.ack(req.Origin, events.GroupMessageSent, events.GroupMessagePayload{GroupMessage: *msg, ClientID: req.ClientID})

	d.metrics.MessagesDispatched.WithLabelValues(KindGroup.String()).Inc()
	d.publish(ctx, broker.MessageEvent{
		ID:        msg.ID,
		Kind:      KindGroup.String(),
		Sender:    msg.Sender,
		GroupID:   msg.GroupID,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	})
	return msg, nil
}

// Delete removes a direct message on behalf of its sender and tells both
// participants.
func (d *Dispatcher) Delete(ctx context.Context, id, requester string) (*models.DirectMessage, error) {
	msg, err := d.store.GetDirectMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Sender != requester {
		return nil, apperr.ErrNotMessageOwner
	}
	if err := d.store.DeleteDirectMessage(ctx, id); err != nil {
		return nil, err
	}

	payload := events.MessageDeletedPayload{ID: msg.ID, Sender: msg.Sender, Receiver: msg.Receiver}
	d.broadcast(events.IdentityRoom(msg.Sender), events.MessageDeleted, payload, "")
	d.broadcast(events.IdentityRoom(msg.Receiver), events.MessageDeleted, payload, "")
	return msg, nil
}

// avatar reads the current picture at delivery time.
func (d *Dispatcher) avatar(ctx context.Context, username string) string {
	u, err := d.store.GetUser(ctx, username)
	if err != nil {
		d.log.Warn("avatar lookup failed", zap.String("username", username), zap.Error(err))
		return models.DefaultAvatar
	}
	return u.AvatarPath()
}

func (d *Dispatcher) broadcast(room string, t events.Type, payload any, exclude string) {
	ev, err := events.New(t, payload)
	if err != nil {
		d.log.Error("failed to encode event", zap.String("type", string(t)), zap.Error(err))
		return
	}
	d.hub.BroadcastToRoom(room, ev, exclude)
}

func (d *Dispatcher) ack(origin string, t events.Type, payload any) {
	if origin == "" {
		return
	}
	ev, err := events.New(t, payload)
	if err != nil {
		d.log.Error("failed to encode ack", zap.String("type", string(t)), zap.Error(err))
		return
	}
	d.hub.SendToConn(origin, ev)
}

func (d *Dispatcher) publish(ctx context.Context, ev broker.MessageEvent) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.publisher.PublishMessageSent(pctx, ev); err != nil {
		d.log.Warn("failed to publish message event", zap.String("id", ev.ID), zap.Error(err))
	}
}

func (d *Dispatcher) reject(err error) {
	d.metrics.MessagesRejected.WithLabelValues(string(apperr.CodeOf(err))).Inc()
}
