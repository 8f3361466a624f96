// Package memory is an in-process implementation of store.Store. It backs
// unit tests and the "memory" database driver.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"hermes/server/internal/apperr"
	"hermes/server/internal/models"
	"hermes/server/internal/store"

	"github.com/google/uuid"
)

type pair struct{ a, b string }

type member struct {
	username string
	joinedAt time.Time
}

type group struct {
	id        string
	name      string
	owner     string
	createdAt time.Time
	members   []member
}

func (g *group) model() models.Group {
	out := models.Group{ID: g.id, Name: g.name, Owner: g.owner, CreatedAt: g.createdAt}
	out.Members = make([]string, 0, len(g.members))
	for _, m := range g.members {
		out.Members = append(out.Members, m.username)
	}
	return out
}

func (g *group) indexOf(username string) int {
	for i, m := range g.members {
		if m.username == username {
			return i
		}
	}
	return -1
}

type Store struct {
	mu    sync.RWMutex
	clock *store.Clock

	users       map[string]*models.User
	friendships map[pair]time.Time // canonical (least, greatest)
	requests    map[pair]time.Time // (sender, receiver)
	groups      map[string]*group
	direct      []*models.DirectMessage
	groupMsgs   []*models.GroupMessage
	posts       []*models.Post
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return NewWithClock(store.NewClock())
}

func NewWithClock(clock *store.Clock) *Store {
	return &Store{
		clock:       clock,
		users:       make(map[string]*models.User),
		friendships: make(map[pair]time.Time),
		requests:    make(map[pair]time.Time),
		groups:      make(map[string]*group),
	}
}

func (s *Store) Close() {}

func canonical(a, b string) pair {
	a, b = models.CanonicalPair(a, b)
	return pair{a, b}
}

// --- users ---

func (s *Store) CreateUser(_ context.Context, username, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; ok {
		return nil, apperr.ErrUsernameTaken
	}
	now := s.clock.Now()
	u := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[username] = u
	cp := *u
	return &cp, nil
}

func (s *Store) GetUser(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return nil, apperr.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) UpdateProfile(_ context.Context, username string, update models.ProfileUpdate) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return nil, apperr.ErrUserNotFound
	}
	if update.Bio != nil {
		u.Bio = *update.Bio
	}
	if update.Nickname != nil {
		u.Nickname = *update.Nickname
	}
	u.UpdatedAt = s.clock.Now()
	cp := *u
	return &cp, nil
}

func (s *Store) SetAvatar(_ context.Context, username, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return "", apperr.ErrUserNotFound
	}
	prev := u.Avatar
	u.Avatar = path
	u.UpdatedAt = s.clock.Now()
	return prev, nil
}

func (s *Store) DeleteUser(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return nil, apperr.ErrUserNotFound
	}
	delete(s.users, username)

	for p := range s.friendships {
		if p.a == username || p.b == username {
			delete(s.friendships, p)
		}
	}
	for p := range s.requests {
		if p.a == username || p.b == username {
			delete(s.requests, p)
		}
	}

	s.direct = filter(s.direct, func(m *models.DirectMessage) bool {
		return m.Sender != username && m.Receiver != username
	})
	s.groupMsgs = filter(s.groupMsgs, func(m *models.GroupMessage) bool {
		return m.Sender != username
	})
	s.posts = filter(s.posts, func(p *models.Post) bool {
		return p.Author != username
	})

	for id, g := range s.groups {
		if g.indexOf(username) >= 0 {
			s.removeMemberLocked(id, g, username)
		}
	}

	cp := *u
	return &cp, nil
}

// removeMemberLocked drops username from g. An owner hands the group to the
// longest-standing remaining member; an emptied group is deleted with its
// messages.
func (s *Store) removeMemberLocked(id string, g *group, username string) {
	i := g.indexOf(username)
	g.members = append(g.members[:i], g.members[i+1:]...)

	if len(g.members) == 0 {
		delete(s.groups, id)
		s.groupMsgs = filter(s.groupMsgs, func(m *models.GroupMessage) bool {
			return m.GroupID != id
		})
		return
	}
	if g.owner == username {
		g.owner = g.members[0].username
	}
}

// --- relationships ---

func (s *Store) AreFriends(_ context.Context, a, b string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.friendships[canonical(a, b)]
	return ok, nil
}

func (s *Store) requireUsersLocked(names ...string) error {
	for _, n := range names {
		if _, ok := s.users[n]; !ok {
			return apperr.ErrUserNotFound
		}
	}
	return nil
}

func (s *Store) AddFriend(_ context.Context, a, b string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a == b {
		return apperr.ErrSelfFriend
	}
	if err := s.requireUsersLocked(a, b); err != nil {
		return err
	}
	key := canonical(a, b)
	if _, ok := s.friendships[key]; ok {
		return apperr.ErrAlreadyFriends
	}
	s.friendships[key] = s.clock.Now()
	delete(s.requests, pair{a, b})
	delete(s.requests, pair{b, a})
	return nil
}

func (s *Store) RemoveFriend(_ context.Context, a, b string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := canonical(a, b)
	if _, ok := s.friendships[key]; !ok {
		return apperr.ErrNotFriends
	}
	delete(s.friendships, key)
	return nil
}

func (s *Store) ListFriends(_ context.Context, username string) ([]models.Friend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireUsersLocked(username); err != nil {
		return nil, err
	}

	type entry struct {
		name  string
		since time.Time
	}
	var names []entry
	for p, since := range s.friendships {
		switch username {
		case p.a:
			names = append(names, entry{p.b, since})
		case p.b:
			names = append(names, entry{p.a, since})
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i].since.Equal(names[j].since) {
			return names[i].name < names[j].name
		}
		return names[i].since.Before(names[j].since)
	})

	friends := make([]models.Friend, 0, len(names))
	for _, e := range names {
		u := s.users[e.name]
		f := models.Friend{UserResponse: u.ToResponse()}
		for _, m := range s.direct {
			if (m.Sender == username && m.Receiver == e.name) || (m.Sender == e.name && m.Receiver == username) {
				if f.LastMessageTimestamp == nil || m.Timestamp.After(*f.LastMessageTimestamp) {
					ts := m.Timestamp
					f.LastMessageTimestamp = &ts
				}
			}
		}
		friends = append(friends, f)
	}
	return friends, nil
}

func (s *Store) SendFriendRequest(_ context.Context, sender, receiver string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sender == receiver {
		return apperr.ErrSelfFriend
	}
	if err := s.requireUsersLocked(sender, receiver); err != nil {
		return err
	}
	if _, ok := s.friendships[canonical(sender, receiver)]; ok {
		return apperr.ErrAlreadyFriends
	}
	if _, ok := s.requests[pair{sender, receiver}]; ok {
		return apperr.ErrDuplicateRequest
	}
	if _, ok := s.requests[pair{receiver, sender}]; ok {
		return apperr.ErrReverseRequestExists
	}
	s.requests[pair{sender, receiver}] = s.clock.Now()
	return nil
}

func (s *Store) AcceptFriendRequest(_ context.Context, sender, receiver string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[pair{sender, receiver}]; !ok {
		return apperr.ErrFriendRequestNotFound
	}
	delete(s.requests, pair{sender, receiver})
	delete(s.requests, pair{receiver, sender})

	key := canonical(sender, receiver)
	if _, ok := s.friendships[key]; !ok {
		s.friendships[key] = s.clock.Now()
	}
	return nil
}

func (s *Store) RejectFriendRequest(_ context.Context, sender, receiver string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[pair{sender, receiver}]; !ok {
		return apperr.ErrFriendRequestNotFound
	}
	delete(s.requests, pair{sender, receiver})
	return nil
}

func (s *Store) ListFriendRequests(_ context.Context, username string) ([]models.FriendRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireUsersLocked(username); err != nil {
		return nil, err
	}
	out := []models.FriendRequest{}
	for p, at := range s.requests {
		if p.b == username {
			out = append(out, models.FriendRequest{Sender: p.a, Receiver: p.b, CreatedAt: at})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- groups ---

func (s *Store) CreateGroup(_ context.Context, name, owner string, members []string) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUsersLocked(owner); err != nil {
		return nil, err
	}
	if err := s.requireUsersLocked(members...); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	g := &group{id: uuid.NewString(), name: name, owner: owner, createdAt: now}
	g.members = append(g.members, member{owner, now})
	for _, m := range members {
		if g.indexOf(m) < 0 {
			g.members = append(g.members, member{m, now})
		}
	}
	s.groups[g.id] = g

	out := g.model()
	return &out, nil
}

func (s *Store) GetGroup(_ context.Context, groupID string) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil, apperr.ErrGroupNotFound
	}
	out := g.model()
	return &out, nil
}

func (s *Store) ListGroups(_ context.Context, username string) ([]models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Group{}
	for _, g := range s.groups {
		if g.indexOf(username) >= 0 {
			out = append(out, g.model())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) AddGroupMember(_ context.Context, groupID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return apperr.ErrGroupNotFound
	}
	if err := s.requireUsersLocked(username); err != nil {
		return err
	}
	if g.indexOf(username) >= 0 {
		return apperr.ErrAlreadyMember
	}
	g.members = append(g.members, member{username, s.clock.Now()})
	return nil
}

func (s *Store) RemoveGroupMember(_ context.Context, groupID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return apperr.ErrGroupNotFound
	}
	if g.indexOf(username) < 0 {
		return apperr.ErrMemberNotFound
	}
	s.removeMemberLocked(groupID, g, username)
	return nil
}

func (s *Store) IsGroupMember(_ context.Context, groupID, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return false, apperr.ErrGroupNotFound
	}
	return g.indexOf(username) >= 0, nil
}

// --- messages ---

func (s *Store) CreateDirectMessage(_ context.Context, sender, receiver, content string) (*models.DirectMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUsersLocked(sender, receiver); err != nil {
		return nil, err
	}
	m := &models.DirectMessage{
		ID:        uuid.NewString(),
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Timestamp: s.clock.Now(),
	}
	s.direct = append(s.direct, m)
	cp := *m
	return &cp, nil
}

func (s *Store) GetDirectMessage(_ context.Context, id string) (*models.DirectMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.direct {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, apperr.ErrMessageNotFound
}

func (s *Store) DeleteDirectMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.direct {
		if m.ID == id {
			s.direct = append(s.direct[:i], s.direct[i+1:]...)
			return nil
		}
	}
	return apperr.ErrMessageNotFound
}

func (s *Store) ListDirectMessages(_ context.Context, a, b string) ([]models.DirectMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.DirectMessage{}
	for _, m := range s.direct {
		if (m.Sender == a && m.Receiver == b) || (m.Sender == b && m.Receiver == a) {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) CreateGroupMessage(_ context.Context, groupID, sender, content string) (*models.GroupMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[groupID]; !ok {
		return nil, apperr.ErrGroupNotFound
	}
	m := &models.GroupMessage{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		Sender:    sender,
		Content:   content,
		Timestamp: s.clock.Now(),
	}
	s.groupMsgs = append(s.groupMsgs, m)
	cp := *m
	return &cp, nil
}

func (s *Store) ListGroupMessages(_ context.Context, groupID string) ([]models.GroupMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.groups[groupID]; !ok {
		return nil, apperr.ErrGroupNotFound
	}
	out := []models.GroupMessage{}
	for _, m := range s.groupMsgs {
		if m.GroupID == groupID {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// --- posts ---

func (s *Store) CreatePost(_ context.Context, author, content string) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUsersLocked(author); err != nil {
		return nil, err
	}
	p := &models.Post{ID: uuid.NewString(), Author: author, Content: content, CreatedAt: s.clock.Now()}
	s.posts = append(s.posts, p)
	cp := *p
	return &cp, nil
}

func (s *Store) ListFeed(_ context.Context, username string) ([]models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireUsersLocked(username); err != nil {
		return nil, err
	}
	out := []models.Post{}
	for _, p := range s.posts {
		if p.Author == username {
			out = append(out, *p)
			continue
		}
		if _, ok := s.friendships[canonical(username, p.Author)]; ok {
			out = append(out, *p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func filter[T any](in []T, keep func(T) bool) []T {
	out := in[:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
