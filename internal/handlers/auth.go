package handlers

import (
	"context"
	"strings"
	"time"

	"hermes/server/internal/apperr"
	"hermes/server/internal/middleware"
	"hermes/server/internal/models"
	"hermes/server/internal/utils"

	"github.com/gofiber/fiber/v2"
)

// CredentialsRequest is the body of register and login
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register handles user registration
func (h *Handler) Register(c *fiber.Ctx) error {
	var req CredentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	req.Username = strings.TrimSpace(req.Username)

	if err := utils.ValidateUsername(req.Username); err != nil {
		return h.fail(c, err)
	}
	if err := utils.ValidatePassword(req.Password); err != nil {
		return h.fail(c, err)
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		return h.fail(c, apperr.Internal("failed to hash password"))
	}

	user, err := h.store.CreateUser(context.Background(), req.Username, hashedPassword)
	if err != nil {
		return h.fail(c, err)
	}

	if err := h.issueSession(c, user); err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusCreated, user.ToResponse())
}

// Login handles user login
func (h *Handler) Login(c *fiber.Ctx) error {
	var req CredentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Username == "" || req.Password == "" {
		return badRequest(c, "Username and password are required")
	}

	user, err := h.store.GetUser(context.Background(), req.Username)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeNotFound {
			return h.fail(c, apperr.ErrInvalidCredentials)
		}
		return h.fail(c, err)
	}
	if !utils.CheckPassword(user.PasswordHash, req.Password) {
		return h.fail(c, apperr.ErrInvalidCredentials)
	}

	if err := h.issueSession(c, user); err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, fiber.Map{
		"username": user.Username,
		"user":     user.ToResponse(),
	})
}

// Logout clears the session cookies
func (h *Handler) Logout(c *fiber.Ctx) error {
	h.clearSession(c)
	return ok(c, fiber.StatusOK, fiber.Map{"message": "Logged out"})
}

// RefreshToken exchanges the refresh cookie for a new access token
func (h *Handler) RefreshToken(c *fiber.Ctx) error {
	refresh := c.Cookies("refresh_token")
	if refresh == "" {
		return h.fail(c, apperr.Unauthenticated("no refresh token"))
	}
	claims, err := h.jwt.ValidateToken(refresh, utils.TokenTypeRefresh)
	if err != nil {
		return h.fail(c, apperr.Unauthenticated("invalid refresh token"))
	}
	user, err := h.store.GetUser(context.Background(), claims.Username)
	if err != nil {
		return h.fail(c, apperr.Unauthenticated("account no longer exists"))
	}
	if !claims.BelongsTo(user.CreatedAt) {
		return h.fail(c, apperr.Unauthenticated("invalid refresh token"))
	}

	token, err := h.jwt.GenerateToken(user.Username, user.CreatedAt)
	if err != nil {
		return h.fail(c, apperr.Internal("failed to generate token"))
	}
	h.setCookie(c, "token", token, h.jwt.AccessTTL())
	return ok(c, fiber.StatusOK, fiber.Map{"username": claims.Username})
}

// GetMe returns current authenticated user
func (h *Handler) GetMe(c *fiber.Ctx) error {
	user, err := h.store.GetUser(context.Background(), middleware.GetUsername(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, user.ToResponse())
}

func (h *Handler) issueSession(c *fiber.Ctx, user *models.User) error {
	token, err := h.jwt.GenerateToken(user.Username, user.CreatedAt)
	if err != nil {
		return apperr.Internal("failed to generate token")
	}
	refreshToken, err := h.jwt.GenerateRefreshToken(user.Username, user.CreatedAt)
	if err != nil {
		return apperr.Internal("failed to generate refresh token")
	}

	h.setCookie(c, "token", token, h.jwt.AccessTTL())
	h.setCookie(c, "refresh_token", refreshToken, h.jwt.RefreshTTL())
	return nil
}

func (h *Handler) setCookie(c *fiber.Ctx, name, value string, ttl time.Duration) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		HTTPOnly: true,
		Secure:   h.secureCookies,
		SameSite: "Lax",
		MaxAge:   int(ttl.Seconds()),
	})
}

func (h *Handler) clearSession(c *fiber.Ctx) {
	for _, name := range []string{"token", "refresh_token"} {
		c.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    "",
			HTTPOnly: true,
			Secure:   h.secureCookies,
			SameSite: "Lax",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
		})
	}
}
