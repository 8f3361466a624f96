// Package broker publishes message events for downstream consumers such as
// notification workers.
package broker

import (
	"context"
	"time"
)

// MessageEvent describes a message that was persisted and delivered.
type MessageEvent struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // direct or group
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver,omitempty"`
	GroupID   string    `json:"groupId,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Key partitions events by conversation.
func (e MessageEvent) Key() string {
	if e.GroupID != "" {
		return "group:" + e.GroupID
	}
	if e.Sender < e.Receiver {
		return "direct:" + e.Sender + ":" + e.Receiver
	}
	return "direct:" + e.Receiver + ":" + e.Sender
}

type Publisher interface {
	PublishMessageSent(ctx context.Context, ev MessageEvent) error
	Close() error
}

// Noop is used when no brokers are configured.
type Noop struct{}

func (Noop) PublishMessageSent(context.Context, MessageEvent) error { return nil }

func (Noop) Close() error { return nil }
