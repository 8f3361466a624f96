// Package events defines the push-channel vocabulary shared by the hub, the
// dispatcher, the typing relay and the client SDK.
package events

import (
	"encoding/json"
	"time"

	"hermes/server/internal/models"
)

// Type names a channel event.
type Type string

const (
	// Inbound (client to server)
	JoinRoom         Type = "joinRoom"
	JoinGroup        Type = "joinGroup"
	LeaveGroup       Type = "leaveGroup"
	SendMessage      Type = "sendMessage"
	SendGroupMessage Type = "sendGroupMessage"

	// Both directions
	Typing     Type = "typing"
	StopTyping Type = "stopTyping"

	// Outbound (server to client)
	ReceiveMessage      Type = "receiveMessage"
	ReceiveGroupMessage Type = "receiveGroupMessage"
	MessageSent         Type = "messageSent"
	GroupMessageSent    Type = "groupMessageSent"
	MessageDeleted      Type = "messageDeleted"
	UserOnline          Type = "userOnline"
	UserOffline         Type = "userOffline"
	Joined              Type = "joined"
	Error               Type = "error"
)

// Envelope is the frame written to and read from the channel.
type Envelope struct {
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New encodes payload into an envelope stamped with the current time.
func New(t Type, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Payload: raw, Timestamp: time.Now().UTC()}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Payload, v)
}

// RoomPayload is carried by joinRoom, joinGroup, leaveGroup and joined.
type RoomPayload struct {
	Username string `json:"username,omitempty"`
	GroupID  string `json:"groupId,omitempty"`
	Room     string `json:"room,omitempty"`
}

// SendPayload is an inbound sendMessage or sendGroupMessage. ClientID is an
// opaque id chosen by the sender and echoed on the ack.
type SendPayload struct {
	ClientID string `json:"clientId,omitempty"`
	Sender   string `json:"sender,omitempty"`
	Receiver string `json:"receiver,omitempty"`
	GroupID  string `json:"groupId,omitempty"`
	Content  string `json:"content"`
}

// MessagePayload is a delivered or acknowledged direct message.
type MessagePayload struct {
	models.DirectMessage
	ClientID string `json:"clientId,omitempty"`
}

// GroupMessagePayload is a delivered or acknowledged group message.
type GroupMessagePayload struct {
	models.GroupMessage
	ClientID string `json:"clientId,omitempty"`
}

type MessageDeletedPayload struct {
	ID       string `json:"id"`
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
}

// TypingPayload names the typist and exactly one of To or GroupID.
type TypingPayload struct {
	From    string `json:"from"`
	To      string `json:"to,omitempty"`
	GroupID string `json:"groupId,omitempty"`
}

type PresencePayload struct {
	Username string     `json:"username"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// ErrorPayload reports a rejected inbound event back to its sender.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   Type   `json:"event,omitempty"`
}

// GroupRoomPrefix is reserved and never valid at the start of a username.
const GroupRoomPrefix = "group_"

// IdentityRoom is the per-user room every connection of a user joins.
func IdentityRoom(username string) string {
	return username
}

// GroupRoom is the room viewers of a group join.
func GroupRoom(groupID string) string {
	return GroupRoomPrefix + groupID
}
