package middleware

import (
	"context"
	"errors"
	"strings"

	"hermes/server/internal/apperr"
	"hermes/server/internal/models"
	"hermes/server/internal/utils"

	"github.com/gofiber/fiber/v2"
)

const usernameKey = "username"

// UserLookup resolves the account a token names.
type UserLookup interface {
	GetUser(ctx context.Context, username string) (*models.User, error)
}

// Auth validates the access token from the "token" cookie, a bearer header
// or, for websocket upgrades where browsers cannot set headers, the "token"
// query parameter. Tokens of deleted accounts, or of an earlier account with
// the same username, are refused.
func Auth(jwt *utils.JWTManager, users UserLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := c.Cookies("token")
		if tokenString == "" {
			if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
				tokenString = strings.TrimPrefix(h, "Bearer ")
			}
		}
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized - No token provided",
				"code":    apperr.CodeUnauthenticated,
			})
		}

		claims, err := jwt.ValidateToken(tokenString, utils.TokenTypeAccess)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized - Invalid token",
				"code":    apperr.CodeUnauthenticated,
			})
		}

		user, err := users.GetUser(c.UserContext(), claims.Username)
		switch {
		case errors.Is(err, apperr.ErrUserNotFound):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized - Account no longer exists",
				"code":    apperr.CodeUnauthenticated,
			})
		case err != nil:
			return c.Status(apperr.HTTPStatus(err)).JSON(fiber.Map{
				"success": false,
				"error":   apperr.MessageOf(err),
				"code":    apperr.CodeOf(err),
			})
		case !claims.BelongsTo(user.CreatedAt):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized - Invalid token",
				"code":    apperr.CodeUnauthenticated,
			})
		}

		c.Locals(usernameKey, claims.Username)
		return c.Next()
	}
}

// GetUsername gets the authenticated username from context
func GetUsername(c *fiber.Ctx) string {
	username, ok := c.Locals(usernameKey).(string)
	if !ok {
		return ""
	}
	return username
}

// EnsureSelf fails unless the authenticated user is username.
func EnsureSelf(c *fiber.Ctx, username string) error {
	if username == "" || GetUsername(c) != username {
		return apperr.ErrIdentityMismatch
	}
	return nil
}
