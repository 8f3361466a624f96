package handlers

import (
	"context"

	"hermes/server/internal/apperr"
	"hermes/server/internal/events"

	"github.com/gofiber/fiber/v2"
)

// GetPresence reports whether a user is online and when they were last seen
func (h *Handler) GetPresence(c *fiber.Ctx) error {
	ctx := context.Background()
	username := c.Params("username")

	if _, err := h.store.GetUser(ctx, username); err != nil {
		return h.fail(c, err)
	}
	online, err := h.presence.IsOnline(ctx, username)
	if err != nil {
		return h.fail(c, apperr.Unavailable("presence lookup failed", err))
	}
	p := events.PresencePayload{Username: username, Online: online}
	if !online {
		seen, err := h.presence.LastSeen(ctx, username)
		if err != nil {
			return h.fail(c, apperr.Unavailable("presence lookup failed", err))
		}
		if !seen.IsZero() {
			p.LastSeen = &seen
		}
	}
	return ok(c, fiber.StatusOK, p)
}
