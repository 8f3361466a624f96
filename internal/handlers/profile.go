package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hermes/server/internal/apperr"
	"hermes/server/internal/middleware"
	"hermes/server/internal/models"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const avatarURLPrefix = "/uploads/profile-pictures/"

var allowedAvatarExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true}

// ProfileFieldRequest is the body of the bio and nickname updates
type ProfileFieldRequest struct {
	Bio      *string `json:"bio"`
	Nickname *string `json:"nickname"`
}

// GetUser returns the public profile of any user
func (h *Handler) GetUser(c *fiber.Ctx) error {
	user, err := h.store.GetUser(context.Background(), c.Params("username"))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, user.ToResponse())
}

func (h *Handler) GetBio(c *fiber.Ctx) error {
	user, err := h.store.GetUser(context.Background(), c.Params("username"))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, fiber.Map{"bio": user.Bio})
}

func (h *Handler) GetNickname(c *fiber.Ctx) error {
	user, err := h.store.GetUser(context.Background(), c.Params("username"))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, fiber.Map{"nickname": user.Nickname})
}

// UpdateBio replaces the caller's bio
func (h *Handler) UpdateBio(c *fiber.Ctx) error {
	var req ProfileFieldRequest
	if err := c.BodyParser(&req); err != nil || req.Bio == nil {
		return badRequest(c, "Bio is required")
	}
	return h.updateProfile(c, models.ProfileUpdate{Bio: req.Bio})
}

// UpdateNickname replaces the caller's nickname
func (h *Handler) UpdateNickname(c *fiber.Ctx) error {
	var req ProfileFieldRequest
	if err := c.BodyParser(&req); err != nil || req.Nickname == nil {
		return badRequest(c, "Nickname is required")
	}
	return h.updateProfile(c, models.ProfileUpdate{Nickname: req.Nickname})
}

func (h *Handler) updateProfile(c *fiber.Ctx, update models.ProfileUpdate) error {
	username := c.Params("username")
	if err := middleware.EnsureSelf(c, username); err != nil {
		return h.fail(c, err)
	}

	user, err := h.store.UpdateProfile(context.Background(), username, update)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, user.ToResponse())
}

// UpdateProfilePicture stores a square, resized copy of the uploaded image
// and removes the previous one.
func (h *Handler) UpdateProfilePicture(c *fiber.Ctx) error {
	username := c.Params("username")
	if err := middleware.EnsureSelf(c, username); err != nil {
		return h.fail(c, err)
	}

	file, err := c.FormFile("profilePicture")
	if err != nil {
		return badRequest(c, "No profile picture uploaded")
	}
	if file.Size > h.uploads.MaxAvatarBytes {
		return badRequest(c, fmt.Sprintf("Profile picture exceeds limit of %d bytes", h.uploads.MaxAvatarBytes))
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedAvatarExts[ext] {
		return badRequest(c, "Invalid image format. Allowed: jpg, jpeg, png, gif")
	}

	src, err := file.Open()
	if err != nil {
		return badRequest(c, "Could not read upload")
	}
	defer src.Close()

	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	if err != nil {
		return badRequest(c, "File is not a valid image")
	}
	size := h.uploads.AvatarSize
	img = imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)

	dir := filepath.Join(h.uploads.Dir, "profile-pictures")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return h.fail(c, apperr.Internal("failed to create upload directory"))
	}
	filename := fmt.Sprintf("%s-%d%s", username, time.Now().UnixMilli(), ext)
	if err := imaging.Save(img, filepath.Join(dir, filename)); err != nil {
		h.log.Error("save avatar", zap.String("username", username), zap.Error(err))
		return h.fail(c, apperr.Internal("failed to save profile picture"))
	}

	url := avatarURLPrefix + filename
	prev, err := h.store.SetAvatar(context.Background(), username, url)
	if err != nil {
		h.removeAvatar(url)
		return h.fail(c, err)
	}
	h.removeAvatar(prev)

	return ok(c, fiber.StatusOK, fiber.Map{"profilePicture": url})
}

// DeleteUser removes the caller's account and everything it owns
func (h *Handler) DeleteUser(c *fiber.Ctx) error {
	username := c.Params("username")
	if err := middleware.EnsureSelf(c, username); err != nil {
		return h.fail(c, err)
	}

	user, err := h.store.DeleteUser(context.Background(), username)
	if err != nil {
		return h.fail(c, err)
	}
	h.removeAvatar(user.Avatar)
	h.hub.DisconnectUser(username)
	h.clearSession(c)

	h.log.Info("account deleted", zap.String("username", username))
	return ok(c, fiber.StatusOK, fiber.Map{"message": "Account deleted"})
}

// removeAvatar deletes an uploaded picture. The default picture and paths
// outside the avatar directory are left alone.
func (h *Handler) removeAvatar(url string) {
	if url == "" || url == models.DefaultAvatar || !strings.HasPrefix(url, avatarURLPrefix) {
		return
	}
	name := filepath.Base(url)
	if err := os.Remove(filepath.Join(h.uploads.Dir, "profile-pictures", name)); err != nil && !os.IsNotExist(err) {
		h.log.Warn("remove avatar", zap.String("path", url), zap.Error(err))
	}
}
