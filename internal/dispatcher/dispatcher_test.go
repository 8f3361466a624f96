package dispatcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"hermes/server/internal/apperr"
	"hermes/server/internal/broker"
	"hermes/server/internal/events"
	"hermes/server/internal/guard"
	"hermes/server/internal/metrics"
	"hermes/server/internal/models"
	"hermes/server/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type emission struct {
	room    string
	conn    string
	exclude string
	ev      events.Envelope
}

type recorder struct {
	mu   sync.Mutex
	sent []emission
}

func (r *recorder) BroadcastToRoom(room string, ev events.Envelope, exclude string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, emission{room: room, exclude: exclude, ev: ev})
	return 1
}

func (r *recorder) SendToConn(connID string, ev events.Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, emission{conn: connID, ev: ev})
	return true
}

func (r *recorder) ofType(t events.Type) []emission {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emission
	for _, e := range r.sent {
		if e.ev.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) PublishMessageSent(context.Context, broker.MessageEvent) error {
	p.calls++
	return errors.New("broker down")
}

func (p *failingPublisher) Close() error { return nil }

type fixture struct {
	store *memory.Store
	hub   *recorder
	pub   *failingPublisher
	d     *Dispatcher
	group string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	for _, n := range []string{"alice", "bob", "carol"} {
		_, err := s.CreateUser(ctx, n, "hash")
		require.NoError(t, err)
	}
	require.NoError(t, s.AddFriend(ctx, "alice", "bob"))
	_, err := s.SetAvatar(ctx, "bob", "/uploads/profile-pictures/bob-1.png")
	require.NoError(t, err)
	g, err := s.CreateGroup(ctx, "g1", "alice", []string{"bob"})
	require.NoError(t, err)

	hub := &recorder{}
	pub := &failingPublisher{}
	d := New(s, guard.New(s), hub, pub, metrics.New(), zap.NewNop())
	return &fixture{store: s, hub: hub, pub: pub, d: d, group: g.ID}
}

func TestDirectSendPersistsAndEmitsToBothRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.d.Send(ctx, SendRequest{Sender: "alice", Receiver: "bob", Content: "hi"})
	require.NoError(t, err)
	require.NotNil(t, res.Direct)
	assert.Equal(t, "alice", res.Direct.Sender)
	assert.Equal(t, "bob", res.Direct.Receiver)
	assert.Equal(t, "hi", res.Direct.Content)
	assert.Equal(t, models.DefaultAvatar, res.Direct.SenderAvatar)
	assert.Equal(t, "/uploads/profile-pictures/bob-1.png", res.Direct.ReceiverAvatar)

	stored, err := f.store.ListDirectMessages(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, res.Direct.ID, stored[0].ID)

	rooms := map[string]bool{}
	for _, e := range f.hub.ofType(events.ReceiveMessage) {
		rooms[e.room] = true
		var p events.MessagePayload
		require.NoError(t, e.ev.Decode(&p))
		assert.Equal(t, res.Direct.ID, p.ID)
	}
	assert.Equal(t, map[string]bool{"alice": true, "bob": true}, rooms)
	assert.Empty(t, f.hub.ofType(events.MessageSent), "REST callers get no ack")
}

func TestDirectSendFromChannelAcksOrigin(t *testing.T) {
	f := newFixture(t)

	_, err := f.d.Send(context.Background(), SendRequest{
		Sender: "alice", Receiver: "bob", Content: "hi", Origin: "conn-1", ClientID: "tmp-1",
	})
	require.NoError(t, err)

	for _, e := range f.hub.ofType(events.ReceiveMessage) {
		assert.Equal(t, "conn-1", e.exclude)
	}
	acks := f.hub.ofType(events.MessageSent)
	require.Len(t, acks, 1)
	assert.Equal(t, "conn-1", acks[0].conn)

	var p events.MessagePayload
	require.NoError(t, acks[0].ev.Decode(&p))
	assert.Equal(t, "tmp-1", p.ClientID)
}

func TestDirectSendToNonFriendIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.d.Send(ctx, SendRequest{Sender: "alice", Receiver: "carol", Content: "hi"})
	assert.ErrorIs(t, err, apperr.ErrNotFriend)

	stored, _ := f.store.ListDirectMessages(ctx, "alice", "carol")
	assert.Empty(t, stored)
	assert.Empty(t, f.hub.sent)
	assert.Zero(t, f.pub.calls)
}

func TestGroupSendByNonMemberIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.d.Send(ctx, SendRequest{Sender: "carol", GroupID: f.group, Content: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotGroupMember)

	stored, _ := f.store.ListGroupMessages(ctx, f.group)
	assert.Empty(t, stored)
	assert.Empty(t, f.hub.ofType(events.ReceiveGroupMessage))
}

func TestGroupSendEmitsToGroupRoom(t *testing.T) {
	f := newFixture(t)

	res, err := f.d.Send(context.Background(), SendRequest{
		Sender: "bob", GroupID: f.group, Content: "  hello all ", Origin: "conn-9",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello all", res.Group.Content)

	out := f.hub.ofType(events.ReceiveGroupMessage)
	require.Len(t, out, 1)
	assert.Equal(t, events.GroupRoom(f.group), out[0].room)
	assert.Equal(t, "conn-9", out[0].exclude)
	assert.Len(t, f.hub.ofType(events.GroupMessageSent), 1)
}

func TestPublisherFailureDoesNotFailSend(t *testing.T) {
	f := newFixture(t)

	_, err := f.d.Send(context.Background(), SendRequest{Sender: "alice", Receiver: "bob", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.pub.calls)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	cases := []SendRequest{
		{Receiver: "bob", Content: "hi"},
		{Sender: "alice", Content: "hi"},
		{Sender: "alice", Receiver: "bob", GroupID: f.group, Content: "hi"},
		{Sender: "alice", Receiver: "bob", Content: "   "},
		{Sender: "alice", Receiver: "bob", Content: strings.Repeat("é", MaxContentRunes+1)},
	}
	for _, req := range cases {
		_, err := f.d.Send(context.Background(), req)
		assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
	}
	assert.Empty(t, f.hub.sent)
}

func TestDeleteOnlyBySender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.d.Send(ctx, SendRequest{Sender: "alice", Receiver: "bob", Content: "oops"})
	require.NoError(t, err)

	_, err = f.d.Delete(ctx, res.Direct.ID, "bob")
	assert.ErrorIs(t, err, apperr.ErrNotMessageOwner)

	_, err = f.d.Delete(ctx, res.Direct.ID, "alice")
	require.NoError(t, err)
	assert.Len(t, f.hub.ofType(events.MessageDeleted), 2)

	_, err = f.d.Delete(ctx, res.Direct.ID, "alice")
	assert.ErrorIs(t, err, apperr.ErrMessageNotFound)
}
