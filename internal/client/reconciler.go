// Package client keeps a chat client's local view consistent with what the
// server pushes: transcripts, unread counters, conversation order and the
// typing indicator.
package client

import (
	"sort"
	"sync"
	"time"

	"hermes/server/internal/events"
	"hermes/server/internal/models"

	"github.com/google/uuid"
)

type Kind int

const (
	Direct Kind = iota
	Group
)

// Key identifies a conversation: a peer username or a group id.
type Key struct {
	Kind Kind
	ID   string
}

func DirectKey(peer string) Key { return Key{Kind: Direct, ID: peer} }

func GroupKey(groupID string) Key { return Key{Kind: Group, ID: groupID} }

// Message is a transcript entry. Pending entries were sent by this client and
// are waiting for the server's ack; their ID is empty until then.
type Message struct {
	ID        string
	ClientID  string
	Sender    string
	Receiver  string
	GroupID   string
	Content   string
	Timestamp time.Time
	Pending   bool
	Failed    bool
}

func FromDirect(m models.DirectMessage) Message {
	return Message{ID: m.ID, Sender: m.Sender, Receiver: m.Receiver, Content: m.Content, Timestamp: m.Timestamp}
}

func FromGroup(m models.GroupMessage) Message {
	return Message{ID: m.ID, Sender: m.Sender, GroupID: m.GroupID, Content: m.Content, Timestamp: m.Timestamp}
}

type conversation struct {
	messages     []Message
	ids          map[string]struct{}
	unread int
	// activity is the reconciler sequence number of the last message event;
	// zero until one happens here.
	activity uint64
	// since orders conversations that share the same activity, from the
	// server's last message or creation time.
	since time.Time
	// typist is the identity currently typing in this conversation.
	typist string
}

func newConversation() *conversation {
	return &conversation{ids: make(map[string]struct{})}
}

// Reconciler is the client-side state for one signed-in identity. It is safe
// for concurrent use; the session's read loop and the UI both call it.
type Reconciler struct {
	mu      sync.Mutex
	self    string
	convs   map[Key]*conversation
	open    Key
	hasOpen bool
	online  map[string]bool
	seq     uint64
	now     func() time.Time
}

func NewReconciler(self string) *Reconciler {
	return &Reconciler{
		self:   self,
		convs:  make(map[Key]*conversation),
		online: make(map[string]bool),
		now:    time.Now,
	}
}

func (r *Reconciler) Self() string { return r.self }

func (r *Reconciler) conv(k Key) *conversation {
	c, ok := r.convs[k]
	if !ok {
		c = newConversation()
		r.convs[k] = c
	}
	return c
}

// Seed registers the friend list and groups. Until a message event happens
// friends are ordered by their last message time and groups by their
// creation time.
func (r *Reconciler) Seed(friends []models.Friend, groups []models.Group) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range friends {
		c := r.conv(DirectKey(f.Username))
		if f.LastMessageTimestamp != nil && f.LastMessageTimestamp.After(c.since) {
			c.since = *f.LastMessageTimestamp
		}
	}
	for _, g := range groups {
		c := r.conv(GroupKey(g.ID))
		if g.CreatedAt.After(c.since) {
			c.since = g.CreatedAt
		}
	}
}

// Open makes k the current conversation: its unread counter drops to zero and
// any typing indicator is cleared. The caller must refetch its history.
func (r *Reconciler) Open(k Key) (refetch bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hasOpen {
		if prev, ok := r.convs[r.open]; ok {
			prev.typist = ""
		}
	}
	c := r.conv(k)
	c.unread = 0
	c.typist = ""
	r.open, r.hasOpen = k, true
	return true
}

// Current returns the open conversation, if any.
func (r *Reconciler) Current() (Key, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open, r.hasOpen
}

// keyOf places m in a conversation as seen from this identity.
func (r *Reconciler) keyOf(m Message) Key {
	if m.GroupID != "" {
		return GroupKey(m.GroupID)
	}
	if m.Sender == r.self {
		return DirectKey(m.Receiver)
	}
	return DirectKey(m.Sender)
}

// SendLocal appends an optimistic entry for a message this client is about
// to send and returns it with a fresh client id.
func (r *Reconciler) SendLocal(k Key, content string) Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := Message{
		ClientID:  uuid.NewString(),
		Sender:    r.self,
		Content:   content,
		Timestamp: r.now().UTC(),
		Pending:   true,
	}
	if k.Kind == Group {
		m.GroupID = k.ID
	} else {
		m.Receiver = k.ID
	}
	c := r.conv(k)
	c.messages = append(c.messages, m)
	r.touch(c)
	return m
}

// Ack replaces the pending entry carrying clientID with the persisted
// message. If the message already arrived by another path the pending entry
// is dropped instead.
func (r *Reconciler) Ack(clientID string, m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.conv(r.keyOf(m))
	idx := -1
	for i := range c.messages {
		if c.messages[i].Pending && c.messages[i].ClientID == clientID {
			idx = i
			break
		}
	}

	_, seen := c.ids[m.ID]
	switch {
	case idx >= 0 && seen:
		c.messages = append(c.messages[:idx], c.messages[idx+1:]...)
	case idx >= 0:
		m.ClientID = clientID
		c.messages[idx] = m
		c.ids[m.ID] = struct{}{}
	case !seen:
		c.messages = append(c.messages, m)
		c.ids[m.ID] = struct{}{}
	}
	r.touch(c)
}

// MarkFailed flags a pending entry whose send could not be written.
func (r *Reconciler) MarkFailed(k Key, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.conv(k)
	for i := range c.messages {
		if c.messages[i].ClientID == clientID && c.messages[i].Pending {
			c.messages[i].Pending = false
			c.messages[i].Failed = true
		}
	}
}

// Receive merges a pushed message. Duplicates are ignored. Messages for a
// conversation other than the open one count as unread unless this identity
// sent them.
func (r *Reconciler) Receive(m Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := r.keyOf(m)
	c := r.conv(k)
	if _, dup := c.ids[m.ID]; dup {
		return false
	}
	c.ids[m.ID] = struct{}{}
	c.messages = append(c.messages, m)
	if m.Sender != r.self && (!r.hasOpen || r.open != k) {
		c.unread++
	}
	if c.typist == m.Sender {
		c.typist = ""
	}
	r.touch(c)
	return true
}

// Remove drops a deleted message from its transcript.
func (r *Reconciler) Remove(k Key, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.convs[k]
	if !ok {
		return
	}
	if _, ok := c.ids[id]; !ok {
		return
	}
	delete(c.ids, id)
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			break
		}
	}
}

// LoadHistory merges fetched history into k. Entries are deduplicated by id
// and the persisted part is sorted by timestamp; pending entries stay last.
func (r *Reconciler) LoadHistory(k Key, history []Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.conv(k)
	var persisted, pending []Message
	for _, m := range c.messages {
		if m.ID == "" {
			pending = append(pending, m)
		} else {
			persisted = append(persisted, m)
		}
	}
	for _, m := range history {
		if _, dup := c.ids[m.ID]; dup {
			continue
		}
		c.ids[m.ID] = struct{}{}
		persisted = append(persisted, m)
	}
	sort.SliceStable(persisted, func(i, j int) bool {
		return persisted[i].Timestamp.Before(persisted[j].Timestamp)
	})
	c.messages = append(persisted, pending...)
	if n := len(persisted); n > 0 && persisted[n-1].Timestamp.After(c.since) {
		c.since = persisted[n-1].Timestamp
	}
}

// touch moves c ahead of every other conversation.
func (r *Reconciler) touch(c *conversation) {
	r.seq++
	c.activity = r.seq
}

// Transcript returns a copy of the messages of k in display order.
func (r *Reconciler) Transcript(k Key) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.convs[k]
	if !ok {
		return nil
	}
	return append([]Message(nil), c.messages...)
}

func (r *Reconciler) Unread(k Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.convs[k]; ok {
		return c.unread
	}
	return 0
}

// Conversations lists every known conversation, most recently active first.
func (r *Reconciler) Conversations() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]Key, 0, len(r.convs))
	for k := range r.convs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := r.convs[keys[i]], r.convs[keys[j]]
		if a.activity != b.activity {
			return a.activity > b.activity
		}
		if !a.since.Equal(b.since) {
			return a.since.After(b.since)
		}
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].ID < keys[j].ID
	})
	return keys
}

// SetTyping records that identity started or stopped typing in k. This
// identity's own typing, echoed from another device, is ignored.
func (r *Reconciler) SetTyping(k Key, identity string, typing bool) {
	if identity == r.self {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.conv(k)
	switch {
	case typing:
		c.typist = identity
	case c.typist == identity:
		c.typist = ""
	}
}

// TypingText is the indicator for the open conversation, or "" when nobody
// is typing there.
func (r *Reconciler) TypingText() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasOpen {
		return ""
	}
	c, ok := r.convs[r.open]
	if !ok || c.typist == "" {
		return ""
	}
	return c.typist + " is typing…"
}

func (r *Reconciler) IsOnline(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online[username]
}

// Apply merges one server event. Events the reconciler has no state for are
// ignored.
func (r *Reconciler) Apply(env events.Envelope) error {
	switch env.Type {
	case events.ReceiveMessage:
		var p events.MessagePayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		r.Receive(FromDirect(p.DirectMessage))

	case events.ReceiveGroupMessage:
		var p events.GroupMessagePayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		r.Receive(FromGroup(p.GroupMessage))

	case events.MessageSent:
		var p events.MessagePayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		r.Ack(p.ClientID, FromDirect(p.DirectMessage))

	case events.GroupMessageSent:
		var p events.GroupMessagePayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		r.Ack(p.ClientID, FromGroup(p.GroupMessage))

	case events.MessageDeleted:
		var p events.MessageDeletedPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		peer := p.Sender
		if peer == r.self {
			peer = p.Receiver
		}
		r.Remove(DirectKey(peer), p.ID)

	case events.Typing, events.StopTyping:
		var p events.TypingPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		k := DirectKey(p.From)
		if p.GroupID != "" {
			k = GroupKey(p.GroupID)
		}
		r.SetTyping(k, p.From, env.Type == events.Typing)

	case events.UserOnline, events.UserOffline:
		var p events.PresencePayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		r.mu.Lock()
		r.online[p.Username] = p.Online
		r.mu.Unlock()
	}
	return nil
}
