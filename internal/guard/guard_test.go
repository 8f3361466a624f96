package guard

import (
	"context"
	"testing"

	"hermes/server/internal/apperr"
	"hermes/server/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Guard, *memory.Store, string) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	for _, n := range []string{"alice", "bob", "carol"} {
		_, err := s.CreateUser(ctx, n, "hash")
		require.NoError(t, err)
	}
	require.NoError(t, s.AddFriend(ctx, "alice", "bob"))
	g, err := s.CreateGroup(ctx, "trip", "alice", []string{"bob"})
	require.NoError(t, err)
	return New(s), s, g.ID
}

func TestDirectMessageRequiresFriendship(t *testing.T) {
	g, _, _ := setup(t)
	ctx := context.Background()

	ok, err := g.CanDirectMessage(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.CanDirectMessage(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.CanDirectMessage(ctx, "alice", "carol")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, g.AuthorizeDirect(ctx, "carol", "alice"), apperr.ErrNotFriend)
	assert.ErrorIs(t, g.AuthorizeDirect(ctx, "alice", "alice"), apperr.ErrNotFriend)
}

func TestGroupMessageRequiresMembership(t *testing.T) {
	g, s, groupID := setup(t)
	ctx := context.Background()

	assert.NoError(t, g.AuthorizeGroup(ctx, "bob", groupID))
	assert.ErrorIs(t, g.AuthorizeGroup(ctx, "carol", groupID), apperr.ErrNotGroupMember)
	assert.ErrorIs(t, g.AuthorizeGroup(ctx, "alice", "nope"), apperr.ErrGroupNotFound)

	require.NoError(t, s.RemoveGroupMember(ctx, groupID, "bob"))
	assert.ErrorIs(t, g.AuthorizeGroup(ctx, "bob", groupID), apperr.ErrNotGroupMember)
}

func TestRevokedFriendshipIsSeenImmediately(t *testing.T) {
	g, s, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, s.RemoveFriend(ctx, "bob", "alice"))
	assert.ErrorIs(t, g.AuthorizeDirect(ctx, "alice", "bob"), apperr.ErrNotFriend)
}
