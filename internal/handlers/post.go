package handlers

import (
	"context"
	"strings"
	"unicode/utf8"

	"hermes/server/internal/dispatcher"
	"hermes/server/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// CreatePostRequest represents create post request body
type CreatePostRequest struct {
	Username string `json:"username"`
	Content  string `json:"content"`
}

// CreatePost appends a post to the caller's feed
func (h *Handler) CreatePost(c *fiber.Ctx) error {
	var req CreatePostRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := middleware.EnsureSelf(c, req.Username); err != nil {
		return h.fail(c, err)
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return badRequest(c, "Content is required")
	}
	if utf8.RuneCountInString(content) > dispatcher.MaxContentRunes {
		return badRequest(c, "Content is too long")
	}

	post, err := h.store.CreatePost(context.Background(), req.Username, content)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusCreated, post)
}

// GetPosts returns the feed of the user: their posts and their friends',
// newest first
func (h *Handler) GetPosts(c *fiber.Ctx) error {
	username := c.Params("username")
	if err := middleware.EnsureSelf(c, username); err != nil {
		return h.fail(c, err)
	}

	posts, err := h.store.ListFeed(context.Background(), username)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, posts)
}
