// Package presence counts live connections per user so the channel can tell
// a user's first connection and last disconnect apart from the rest.
package presence

import (
	"context"
	"sync"
	"time"
)

type Tracker interface {
	// Connect records a new connection and reports whether it is the
	// user's first live one.
	Connect(ctx context.Context, username string) (bool, error)
	// Disconnect drops a connection and reports whether it was the last.
	Disconnect(ctx context.Context, username string) (bool, error)
	IsOnline(ctx context.Context, username string) (bool, error)
	// LastSeen is the zero time when the user was never seen offline.
	LastSeen(ctx context.Context, username string) (time.Time, error)
}

type Memory struct {
	mu       sync.Mutex
	conns    map[string]int
	lastSeen map[string]time.Time
	now      func() time.Time
}

var _ Tracker = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		conns:    make(map[string]int),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (m *Memory) Connect(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conns[username]++
	return m.conns[username] == 1, nil
}

func (m *Memory) Disconnect(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.conns[username]
	if !ok {
		return false, nil
	}
	if n > 1 {
		m.conns[username] = n - 1
		return false, nil
	}
	delete(m.conns, username)
	m.lastSeen[username] = m.now().UTC()
	return true, nil
}

func (m *Memory) IsOnline(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[username] > 0, nil
}

func (m *Memory) LastSeen(_ context.Context, username string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen[username], nil
}
