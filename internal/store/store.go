// Package store declares the persistence collaborators of the chat core:
// identities and relationships, groups, messages and posts.
package store

import (
	"context"
	"sync"
	"time"

	"hermes/server/internal/models"
)

type Users interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUser(ctx context.Context, username string) (*models.User, error)
	UpdateProfile(ctx context.Context, username string, update models.ProfileUpdate) (*models.User, error)
	// SetAvatar stores the new avatar path and returns the previous one.
	SetAvatar(ctx context.Context, username, path string) (string, error)
	// DeleteUser removes the account together with its friendships, requests,
	// messages, posts and memberships. Owned groups pass to the
	// longest-standing remaining member or are deleted when empty.
	DeleteUser(ctx context.Context, username string) (*models.User, error)
}

// Relationships is the single source of truth for friendships. A friendship
// is one row per unordered pair, so symmetry cannot drift.
type Relationships interface {
	AreFriends(ctx context.Context, a, b string) (bool, error)
	AddFriend(ctx context.Context, a, b string) error
	RemoveFriend(ctx context.Context, a, b string) error
	ListFriends(ctx context.Context, username string) ([]models.Friend, error)

	SendFriendRequest(ctx context.Context, sender, receiver string) error
	// AcceptFriendRequest creates the friendship and removes the request
	// (and any reverse request) atomically.
	AcceptFriendRequest(ctx context.Context, sender, receiver string) error
	RejectFriendRequest(ctx context.Context, sender, receiver string) error
	// ListFriendRequests returns the requests received by username.
	ListFriendRequests(ctx context.Context, username string) ([]models.FriendRequest, error)
}

type Groups interface {
	// CreateGroup always inserts the owner as a member.
	CreateGroup(ctx context.Context, name, owner string, members []string) (*models.Group, error)
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	ListGroups(ctx context.Context, username string) ([]models.Group, error)
	AddGroupMember(ctx context.Context, groupID, username string) error
	RemoveGroupMember(ctx context.Context, groupID, username string) error
	IsGroupMember(ctx context.Context, groupID, username string) (bool, error)
}

type Messages interface {
	CreateDirectMessage(ctx context.Context, sender, receiver, content string) (*models.DirectMessage, error)
	GetDirectMessage(ctx context.Context, id string) (*models.DirectMessage, error)
	DeleteDirectMessage(ctx context.Context, id string) error
	// ListDirectMessages returns the conversation between a and b in
	// ascending timestamp order.
	ListDirectMessages(ctx context.Context, a, b string) ([]models.DirectMessage, error)

	CreateGroupMessage(ctx context.Context, groupID, sender, content string) (*models.GroupMessage, error)
	ListGroupMessages(ctx context.Context, groupID string) ([]models.GroupMessage, error)
}

type Posts interface {
	CreatePost(ctx context.Context, author, content string) (*models.Post, error)
	// ListFeed returns the posts of username and their friends, newest first.
	ListFeed(ctx context.Context, username string) ([]models.Post, error)
}

type Store interface {
	Users
	Relationships
	Groups
	Messages
	Posts
	Close()
}

// Clock hands out strictly increasing timestamps so that messages persisted
// by one process never share a timestamp.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockFunc is NewClock with an injectable time source.
func NewClockFunc(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns max(wall clock, previous+1µs), truncated to microseconds to
// survive a round trip through Postgres.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
