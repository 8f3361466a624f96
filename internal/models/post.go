package models

import "time"

// Post is an append-only feed item visible to the author and their friends.
type Post struct {
	ID        string    `json:"id" db:"id"`
	Author    string    `json:"username" db:"author"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
