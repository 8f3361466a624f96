package handlers

import (
	"context"

	"hermes/server/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// AddFriendRequest is the body of /add-friend
type AddFriendRequest struct {
	Username       string `json:"username"`
	FriendUsername string `json:"friendUsername"`
}

// FriendRequestBody names both ends of a pending request
type FriendRequestBody struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
}

func parseFriendRequest(c *fiber.Ctx) (FriendRequestBody, string) {
	var req FriendRequestBody
	if err := c.BodyParser(&req); err != nil {
		return req, "Invalid request body"
	}
	if req.Sender == "" || req.Receiver == "" {
		return req, "Sender and receiver are required"
	}
	return req, ""
}

// AddFriend befriends two users directly
func (h *Handler) AddFriend(c *fiber.Ctx) error {
	var req AddFriendRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Username == "" || req.FriendUsername == "" {
		return badRequest(c, "Username and friendUsername are required")
	}
	if err := middleware.EnsureSelf(c, req.Username); err != nil {
		return h.fail(c, err)
	}

	if err := h.store.AddFriend(context.Background(), req.Username, req.FriendUsername); err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, fiber.Map{"message": "Friend added successfully"})
}

// SendFriendRequest records a pending request from sender to receiver
func (h *Handler) SendFriendRequest(c *fiber.Ctx) error {
	req, problem := parseFriendRequest(c)
	if problem != "" {
		return badRequest(c, problem)
	}
	if err := middleware.EnsureSelf(c, req.Sender); err != nil {
		return h.fail(c, err)
	}

	if err := h.store.SendFriendRequest(context.Background(), req.Sender, req.Receiver); err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusCreated, fiber.Map{"message": "Friend request sent"})
}

// AcceptFriendRequest is performed by the receiver of the request
func (h *Handler) AcceptFriendRequest(c *fiber.Ctx) error {
	req, problem := parseFriendRequest(c)
	if problem != "" {
		return badRequest(c, problem)
	}
	if err := middleware.EnsureSelf(c, req.Receiver); err != nil {
		return h.fail(c, err)
	}

	if err := h.store.AcceptFriendRequest(context.Background(), req.Sender, req.Receiver); err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, fiber.Map{"message": "Friend request accepted"})
}

// RejectFriendRequest is performed by the receiver of the request
func (h *Handler) RejectFriendRequest(c *fiber.Ctx) error {
	req, problem := parseFriendRequest(c)
	if problem != "" {
		return badRequest(c, problem)
	}
	if err := middleware.EnsureSelf(c, req.Receiver); err != nil {
		return h.fail(c, err)
	}

	if err := h.store.RejectFriendRequest(context.Background(), req.Sender, req.Receiver); err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, fiber.Map{"message": "Friend request rejected"})
}

// GetFriendRequests lists requests received by the user
func (h *Handler) GetFriendRequests(c *fiber.Ctx) error {
	username := c.Params("username")
	if err := middleware.EnsureSelf(c, username); err != nil {
		return h.fail(c, err)
	}

	reqs, err := h.store.ListFriendRequests(context.Background(), username)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, reqs)
}

// RemoveFriend ends a friendship for both sides
func (h *Handler) RemoveFriend(c *fiber.Ctx) error {
	username := c.Params("username")
	if err := middleware.EnsureSelf(c, username); err != nil {
		return h.fail(c, err)
	}

	if err := h.store.RemoveFriend(context.Background(), username, c.Params("friend")); err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, fiber.Map{"message": "Friend removed"})
}

// GetFriends returns the friend list with the last message time per friend
func (h *Handler) GetFriends(c *fiber.Ctx) error {
	username := c.Params("username")
	if err := middleware.EnsureSelf(c, username); err != nil {
		return h.fail(c, err)
	}

	friends, err := h.store.ListFriends(context.Background(), username)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, friends)
}
