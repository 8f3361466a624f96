// Package guard decides whether a sender may address a receiver or group.
// It only reads the store and is consulted before any message is written.
package guard

import (
	"context"

	"hermes/server/internal/apperr"
)

// Relations is the read side the guard needs from the store.
type Relations interface {
	AreFriends(ctx context.Context, a, b string) (bool, error)
	IsGroupMember(ctx context.Context, groupID, username string) (bool, error)
}

type Guard struct {
	rel Relations
}

func New(rel Relations) *Guard {
	return &Guard{rel: rel}
}

// CanDirectMessage is true iff receiver is one of sender's friends.
func (g *Guard) CanDirectMessage(ctx context.Context, sender, receiver string) (bool, error) {
	if sender == receiver {
		return false, nil
	}
	return g.rel.AreFriends(ctx, sender, receiver)
}

// CanGroupMessage is true iff sender is a member of the group. Unknown
// groups yield ErrGroupNotFound.
func (g *Guard) CanGroupMessage(ctx context.Context, sender, groupID string) (bool, error) {
	return g.rel.IsGroupMember(ctx, groupID, sender)
}

func (g *Guard) AuthorizeDirect(ctx context.Context, sender, receiver string) error {
	ok, err := g.CanDirectMessage(ctx, sender, receiver)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrNotFriend
	}
	return nil
}

func (g *Guard) AuthorizeGroup(ctx context.Context, sender, groupID string) error {
	ok, err := g.CanGroupMessage(ctx, sender, groupID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrNotGroupMember
	}
	return nil
}
