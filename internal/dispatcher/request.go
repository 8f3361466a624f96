package dispatcher

import (
	"strings"
	"unicode/utf8"

	"hermes/server/internal/apperr"
)

// MaxContentRunes bounds the length of a single message.
const MaxContentRunes = 4000

type Kind int

const (
	KindInvalid Kind = iota
	KindDirect
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindGroup:
		return "group"
	default:
		return "invalid"
	}
}

// SendRequest targets exactly one of Receiver or GroupID. Origin is the
// connection id the request came from, empty for REST callers; ClientID is
// echoed back on the ack so the sender can reconcile its optimistic copy.
type SendRequest struct {
	Sender   string
	Content  string
	Receiver string
	GroupID  string
	ClientID string
	Origin   string
}

func (r SendRequest) Kind() Kind {
	switch {
	case r.Receiver != "" && r.GroupID == "":
		return KindDirect
	case r.GroupID != "" && r.Receiver == "":
		return KindGroup
	default:
		return KindInvalid
	}
}

// normalize trims the content and validates the request shape.
func (r *SendRequest) normalize() error {
	r.Sender = strings.TrimSpace(r.Sender)
	r.Receiver = strings.TrimSpace(r.Receiver)
	r.GroupID = strings.TrimSpace(r.GroupID)
	r.Content = strings.TrimSpace(r.Content)

	if r.Sender == "" {
		return apperr.InvalidArg("sender is required")
	}
	if r.Kind() == KindInvalid {
		return apperr.InvalidArg("exactly one of receiver or groupId is required")
	}
	if r.Content == "" {
		return apperr.InvalidArg("content is required")
	}
	if utf8.RuneCountInString(r.Content) > MaxContentRunes {
		return apperr.InvalidArg("content is too long")
	}
	return nil
}
