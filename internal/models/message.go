package models

import "time"

// DirectMessage is a message between two friends. Avatars are attached at
// read time and never stored.
type DirectMessage struct {
	ID             string    `json:"id" db:"id"`
	Sender         string    `json:"sender" db:"sender"`
	Receiver       string    `json:"receiver" db:"receiver"`
	Content        string    `json:"content" db:"content"`
	Timestamp      time.Time `json:"timestamp" db:"created_at"`
	SenderAvatar   string    `json:"senderAvatar,omitempty" db:"-"`
	ReceiverAvatar string    `json:"receiverAvatar,omitempty" db:"-"`
}

// GroupMessage is a message posted to a group.
type GroupMessage struct {
	ID        string    `json:"id" db:"id"`
	GroupID   string    `json:"groupId" db:"group_id"`
	Sender    string    `json:"sender" db:"sender"`
	Content   string    `json:"content" db:"content"`
	Timestamp time.Time `json:"timestamp" db:"created_at"`
}
