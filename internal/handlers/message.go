package handlers

import (
	"context"

	"hermes/server/internal/apperr"
	"hermes/server/internal/dispatcher"
	"hermes/server/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// SendMessageRequest represents send message request body
type SendMessageRequest struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
}

// DeleteMessageRequest optionally names the requester
type DeleteMessageRequest struct {
	Username string `json:"username"`
}

// SendMessage sends a direct message through the dispatcher, the same path
// the channel uses
func (h *Handler) SendMessage(c *fiber.Ctx) error {
	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Receiver == "" {
		return badRequest(c, "Receiver is required")
	}
	if err := middleware.EnsureSelf(c, req.Sender); err != nil {
		return h.fail(c, err)
	}

	res, err := h.dispatcher.Send(context.Background(), dispatcher.SendRequest{
		Sender:   req.Sender,
		Receiver: req.Receiver,
		Content:  req.Content,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusCreated, res.Direct)
}

// GetMessages returns the conversation between two users, oldest first
func (h *Handler) GetMessages(c *fiber.Ctx) error {
	user1, user2 := c.Params("user1"), c.Params("user2")
	me := middleware.GetUsername(c)
	if me != user1 && me != user2 {
		return h.fail(c, apperr.Forbidden("you can only read your own conversations"))
	}

	msgs, err := h.store.ListDirectMessages(context.Background(), user1, user2)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, msgs)
}

// DeleteMessage lets the sender retract a direct message
func (h *Handler) DeleteMessage(c *fiber.Ctx) error {
	var req DeleteMessageRequest
	_ = c.BodyParser(&req)

	me := middleware.GetUsername(c)
	if req.Username != "" && req.Username != me {
		return h.fail(c, apperr.ErrIdentityMismatch)
	}

	msg, err := h.dispatcher.Delete(context.Background(), c.Params("id"), me)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, fiber.Map{"id": msg.ID})
}
