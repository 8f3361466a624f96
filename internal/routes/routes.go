package routes

import (
	"net/http"

	"hermes/server/internal/config"
	"hermes/server/internal/handlers"
	"hermes/server/internal/middleware"
	"hermes/server/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

type Options struct {
	Limits     config.LimitsConfig
	UploadsDir string
	// Users backs token checks on protected routes.
	Users middleware.UserLookup
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Setup configures all application routes
func Setup(app *fiber.App, h *handlers.Handler, jwt *utils.JWTManager, opts Options) {
	limits := middleware.NewRateLimits(opts.Limits)
	auth := middleware.Auth(jwt, opts.Users)

	// Health check (public)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": "Hermes API is running",
		})
	})
	if opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics))
	}
	if opts.UploadsDir != "" {
		app.Static("/uploads", opts.UploadsDir)
	}

	// Auth routes (public)
	app.Post("/register", limits.Auth(), h.Register)
	app.Post("/login", limits.Auth(), h.Login)
	app.Post("/refresh", limits.Auth(), h.RefreshToken)
	app.Post("/logout", auth, h.Logout)
	app.Get("/me", auth, h.GetMe)

	// Friend routes (protected)
	app.Post("/add-friend", auth, limits.Write(), h.AddFriend)
	app.Post("/send-friend-request", auth, limits.Write(), h.SendFriendRequest)
	app.Post("/accept-friend-request", auth, h.AcceptFriendRequest)
	app.Post("/reject-friend-request", auth, h.RejectFriendRequest)
	app.Get("/friend-requests/:username", auth, h.GetFriendRequests)
	app.Get("/friends/:username", auth, limits.Read(), h.GetFriends)
	app.Delete("/friends/:username/:friend", auth, h.RemoveFriend)

	// Direct message routes (protected)
	app.Get("/messages/:user1/:user2", auth, limits.Read(), h.GetMessages)
	app.Post("/message", auth, limits.Send(), h.SendMessage)
	app.Delete("/message/:id", auth, h.DeleteMessage)

	// Group routes (protected)
	app.Post("/create-group", auth, limits.Write(), h.CreateGroup)
	app.Get("/groups/:username", auth, h.GetGroups)
	app.Get("/group/:groupId", auth, h.GetGroup)
	app.Post("/group/:groupId/add-member", auth, h.AddGroupMember)
	app.Post("/group/:groupId/leave", auth, h.LeaveGroup)
	app.Delete("/kick/:groupId/:userId", auth, h.KickMember)
	app.Post("/group-message", auth, limits.Send(), h.SendGroupMessage)
	app.Get("/group-messages/:groupId", auth, limits.Read(), h.GetGroupMessages)

	// Profile routes; reads are public
	app.Get("/user/:username", h.GetUser)
	app.Get("/user/:username/bio", h.GetBio)
	app.Put("/user/:username/bio", auth, h.UpdateBio)
	app.Get("/user/:username/nickname", h.GetNickname)
	app.Put("/user/:username/nickname", auth, h.UpdateNickname)
	app.Put("/user/:username/profile-picture", auth, limits.Upload(), h.UpdateProfilePicture)
	app.Delete("/user/:username", auth, limits.Auth(), h.DeleteUser)

	// Posts (protected)
	app.Post("/post", auth, limits.Write(), h.CreatePost)
	app.Get("/posts/:username", auth, h.GetPosts)

	app.Get("/presence/:username", auth, h.GetPresence)

	// WebSocket route (protected)
	app.Get("/ws", auth, h.WebSocketUpgrade, h.WebSocket())
	app.Get("/ws/stats", auth, h.GetWebSocketStats)
}
