package memory

import (
	"context"
	"testing"

	"hermes/server/internal/apperr"
	"hermes/server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store, names ...string) {
	t.Helper()
	for _, n := range names {
		_, err := s.CreateUser(context.Background(), n, "hash")
		require.NoError(t, err)
	}
}

func TestCreateUserRejectsDuplicates(t *testing.T) {
	s := New()
	seed(t, s, "alice")

	_, err := s.CreateUser(context.Background(), "alice", "other")
	assert.ErrorIs(t, err, apperr.ErrUsernameTaken)
}

func TestFriendshipIsSymmetric(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "alice", "bob")

	require.NoError(t, s.AddFriend(ctx, "bob", "alice"))

	ab, err := s.AreFriends(ctx, "alice", "bob")
	require.NoError(t, err)
	ba, err := s.AreFriends(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, ab)
	assert.True(t, ba)

	assert.ErrorIs(t, s.AddFriend(ctx, "alice", "bob"), apperr.ErrAlreadyFriends)

	require.NoError(t, s.RemoveFriend(ctx, "alice", "bob"))
	ba, _ = s.AreFriends(ctx, "bob", "alice")
	assert.False(t, ba)
	assert.ErrorIs(t, s.RemoveFriend(ctx, "alice", "bob"), apperr.ErrNotFriends)
}

func TestFriendRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "alice", "bob", "carol")

	assert.ErrorIs(t, s.SendFriendRequest(ctx, "alice", "alice"), apperr.ErrSelfFriend)
	assert.ErrorIs(t, s.SendFriendRequest(ctx, "alice", "zed"), apperr.ErrUserNotFound)

	require.NoError(t, s.SendFriendRequest(ctx, "alice", "bob"))
	assert.ErrorIs(t, s.SendFriendRequest(ctx, "alice", "bob"), apperr.ErrDuplicateRequest)
	assert.ErrorIs(t, s.SendFriendRequest(ctx, "bob", "alice"), apperr.ErrReverseRequestExists)

	reqs, err := s.ListFriendRequests(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "alice", reqs[0].Sender)

	require.NoError(t, s.AcceptFriendRequest(ctx, "alice", "bob"))
	ok, _ := s.AreFriends(ctx, "bob", "alice")
	assert.True(t, ok)

	reqs, _ = s.ListFriendRequests(ctx, "bob")
	assert.Empty(t, reqs)
	assert.ErrorIs(t, s.AcceptFriendRequest(ctx, "alice", "bob"), apperr.ErrFriendRequestNotFound)
	assert.ErrorIs(t, s.SendFriendRequest(ctx, "bob", "alice"), apperr.ErrAlreadyFriends)

	require.NoError(t, s.SendFriendRequest(ctx, "carol", "alice"))
	require.NoError(t, s.RejectFriendRequest(ctx, "carol", "alice"))
	ok, _ = s.AreFriends(ctx, "carol", "alice")
	assert.False(t, ok)
	assert.ErrorIs(t, s.RejectFriendRequest(ctx, "carol", "alice"), apperr.ErrFriendRequestNotFound)
}

func TestListFriendsCarriesLastMessageTimestamp(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "alice", "bob", "carol")
	require.NoError(t, s.AddFriend(ctx, "alice", "bob"))
	require.NoError(t, s.AddFriend(ctx, "alice", "carol"))

	_, err := s.CreateDirectMessage(ctx, "alice", "bob", "hi")
	require.NoError(t, err)
	last, err := s.CreateDirectMessage(ctx, "bob", "alice", "hey")
	require.NoError(t, err)

	friends, err := s.ListFriends(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, friends, 2)

	byName := map[string]models.Friend{}
	for _, f := range friends {
		byName[f.Username] = f
	}
	require.NotNil(t, byName["bob"].LastMessageTimestamp)
	assert.Equal(t, last.Timestamp, *byName["bob"].LastMessageTimestamp)
	assert.Nil(t, byName["carol"].LastMessageTimestamp)
	assert.Equal(t, models.DefaultAvatar, byName["carol"].ProfilePicture)
}

func TestDirectMessagesAreOrderedAndDeletable(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "alice", "bob")

	m1, _ := s.CreateDirectMessage(ctx, "alice", "bob", "one")
	m2, _ := s.CreateDirectMessage(ctx, "bob", "alice", "two")
	_, _ = s.CreateDirectMessage(ctx, "alice", "bob", "three")

	msgs, err := s.ListDirectMessages(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"one", "two", "three"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})
	assert.True(t, m1.Timestamp.Before(m2.Timestamp))

	require.NoError(t, s.DeleteDirectMessage(ctx, m2.ID))
	_, err = s.GetDirectMessage(ctx, m2.ID)
	assert.ErrorIs(t, err, apperr.ErrMessageNotFound)
	assert.ErrorIs(t, s.DeleteDirectMessage(ctx, m2.ID), apperr.ErrMessageNotFound)
}

func TestGroupOwnerIsAlwaysMember(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "alice", "bob", "carol")

	g, err := s.CreateGroup(ctx, "trip", "alice", []string{"bob", "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, g.Members)

	ok, err := s.IsGroupMember(ctx, g.ID, "carol")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AddGroupMember(ctx, g.ID, "carol"))
	assert.ErrorIs(t, s.AddGroupMember(ctx, g.ID, "carol"), apperr.ErrAlreadyMember)

	_, err = s.IsGroupMember(ctx, "missing", "alice")
	assert.ErrorIs(t, err, apperr.ErrGroupNotFound)

	groups, err := s.ListGroups(ctx, "carol")
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}

func TestRemovingOwnerHandsGroupToOldestMember(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "alice", "bob", "carol")

	g, _ := s.CreateGroup(ctx, "trip", "alice", nil)
	require.NoError(t, s.AddGroupMember(ctx, g.ID, "bob"))
	require.NoError(t, s.AddGroupMember(ctx, g.ID, "carol"))

	require.NoError(t, s.RemoveGroupMember(ctx, g.ID, "alice"))
	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Owner)
	assert.ErrorIs(t, s.RemoveGroupMember(ctx, g.ID, "alice"), apperr.ErrMemberNotFound)
}

func TestDeleteUserCascades(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "alice", "bob", "carol")
	require.NoError(t, s.AddFriend(ctx, "alice", "bob"))
	require.NoError(t, s.SendFriendRequest(ctx, "alice", "carol"))
	_, _ = s.CreateDirectMessage(ctx, "alice", "bob", "hi")
	_, _ = s.CreatePost(ctx, "alice", "hello world")

	solo, _ := s.CreateGroup(ctx, "solo", "alice", nil)
	shared, _ := s.CreateGroup(ctx, "shared", "alice", []string{"carol"})
	_, _ = s.CreateGroupMessage(ctx, shared.ID, "alice", "welcome")

	deleted, err := s.DeleteUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", deleted.Username)

	_, err = s.GetUser(ctx, "alice")
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)

	friends, _ := s.ListFriends(ctx, "bob")
	assert.Empty(t, friends)
	reqs, _ := s.ListFriendRequests(ctx, "carol")
	assert.Empty(t, reqs)
	msgs, _ := s.ListDirectMessages(ctx, "alice", "bob")
	assert.Empty(t, msgs)
	feed, _ := s.ListFeed(ctx, "bob")
	assert.Empty(t, feed)

	_, err = s.GetGroup(ctx, solo.ID)
	assert.ErrorIs(t, err, apperr.ErrGroupNotFound)

	g, err := s.GetGroup(ctx, shared.ID)
	require.NoError(t, err)
	assert.Equal(t, "carol", g.Owner)
	assert.Equal(t, []string{"carol"}, g.Members)
	gm, _ := s.ListGroupMessages(ctx, shared.ID)
	assert.Empty(t, gm)
}

func TestFeedShowsOwnAndFriendsPostsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "alice", "bob", "carol")
	require.NoError(t, s.AddFriend(ctx, "alice", "bob"))

	_, _ = s.CreatePost(ctx, "alice", "first")
	_, _ = s.CreatePost(ctx, "carol", "stranger")
	_, _ = s.CreatePost(ctx, "bob", "second")

	feed, err := s.ListFeed(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, "second", feed[0].Content)
	assert.Equal(t, "first", feed[1].Content)
}
