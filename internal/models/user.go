package models

import "time"

// DefaultAvatar is served for users who never uploaded a profile picture.
const DefaultAvatar = "/uploads/profile-pictures/default.jpg"

// User represents a registered account. Username is the identity used for
// rooms, friendships and message addressing.
type User struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"` // Never expose in JSON
	Bio          string    `json:"bio" db:"bio"`
	Nickname     string    `json:"nickname" db:"nickname"`
	Avatar       string    `json:"profilePicture" db:"avatar"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// UserResponse is what we send to clients (without sensitive data)
type UserResponse struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Bio            string    `json:"bio"`
	Nickname       string    `json:"nickname"`
	ProfilePicture string    `json:"profilePicture"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ToResponse converts User to UserResponse
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:             u.ID,
		Username:       u.Username,
		Bio:            u.Bio,
		Nickname:       u.Nickname,
		ProfilePicture: u.AvatarPath(),
		CreatedAt:      u.CreatedAt,
	}
}

// AvatarPath falls back to the default picture.
func (u *User) AvatarPath() string {
	if u.Avatar == "" {
		return DefaultAvatar
	}
	return u.Avatar
}

// ProfileUpdate carries the optional profile fields; nil means unchanged.
type ProfileUpdate struct {
	Bio      *string
	Nickname *string
}
