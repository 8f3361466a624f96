// Package handlers implements the REST surface. Every handler answers with
// the {"success": bool, "data"|"error"} envelope.
package handlers

import (
	"hermes/server/internal/apperr"
	"hermes/server/internal/config"
	"hermes/server/internal/dispatcher"
	"hermes/server/internal/presence"
	"hermes/server/internal/store"
	"hermes/server/internal/utils"
	ws "hermes/server/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Deps struct {
	Store         store.Store
	Dispatcher    *dispatcher.Dispatcher
	Hub           *ws.Hub
	Gateway       *ws.Gateway
	Presence      presence.Tracker
	JWT           *utils.JWTManager
	Uploads       config.UploadsConfig
	SecureCookies bool
	Log           *zap.Logger
}

type Handler struct {
	store         store.Store
	dispatcher    *dispatcher.Dispatcher
	hub           *ws.Hub
	gateway       *ws.Gateway
	presence      presence.Tracker
	jwt           *utils.JWTManager
	uploads       config.UploadsConfig
	secureCookies bool
	log           *zap.Logger
}

func New(d Deps) *Handler {
	return &Handler{
		store:         d.Store,
		dispatcher:    d.Dispatcher,
		hub:           d.Hub,
		gateway:       d.Gateway,
		presence:      d.Presence,
		jwt:           d.JWT,
		uploads:       d.Uploads,
		secureCookies: d.SecureCookies,
		log:           d.Log,
	}
}

// fail writes err with the status its code maps to.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status := apperr.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", c.Method()), zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   apperr.MessageOf(err),
		"code":    apperr.CodeOf(err),
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error":   msg,
		"code":    apperr.CodeInvalidArgument,
	})
}

func ok(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}
