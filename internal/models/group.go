package models

import "time"

// Group represents a chat group. The owner is always one of the members.
type Group struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"groupName" db:"name"`
	Owner     string    `json:"owner" db:"owner"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// HasMember reports whether username belongs to the group.
func (g *Group) HasMember(username string) bool {
	for _, m := range g.Members {
		if m == username {
			return true
		}
	}
	return false
}
