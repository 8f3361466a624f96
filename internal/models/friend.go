package models

import "time"

// Friend is one entry of a user's friend list.
type Friend struct {
	UserResponse
	// LastMessageTimestamp is the time of the latest direct message exchanged
	// with this friend in either direction; nil when they never talked.
	LastMessageTimestamp *time.Time `json:"lastMessageTimestamp"`
}

// FriendRequest is a pending, one-directional request from Sender to Receiver.
type FriendRequest struct {
	Sender    string    `json:"sender" db:"sender"`
	Receiver  string    `json:"receiver" db:"receiver"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Friendship is stored once per unordered pair with UserA < UserB.
type Friendship struct {
	UserA     string    `db:"user_a"`
	UserB     string    `db:"user_b"`
	CreatedAt time.Time `db:"created_at"`
}

// CanonicalPair orders two usernames the way friendships are keyed.
func CanonicalPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}
