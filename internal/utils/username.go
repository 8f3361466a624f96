package utils

import (
	"regexp"
	"strings"

	"hermes/server/internal/apperr"
	"hermes/server/internal/events"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,30}$`)

const MinPasswordLength = 6

// ValidateUsername checks the shape of a handle. Handles double as room
// names, so the group room prefix is reserved.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return apperr.InvalidArg("username must be 3-30 letters, digits, dots, dashes or underscores")
	}
	if strings.HasPrefix(username, events.GroupRoomPrefix) {
		return apperr.InvalidArg("username is reserved")
	}
	return nil
}

func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return apperr.InvalidArg("password must be at least 6 characters")
	}
	return nil
}
