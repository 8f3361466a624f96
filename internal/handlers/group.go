package handlers

import (
	"context"
	"strings"

	"hermes/server/internal/apperr"
	"hermes/server/internal/dispatcher"
	"hermes/server/internal/events"
	"hermes/server/internal/middleware"
	"hermes/server/internal/models"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// CreateGroupRequest represents create group request body
type CreateGroupRequest struct {
	GroupName string   `json:"groupName"`
	Members   []string `json:"members"`
	Owner     string   `json:"owner"`
}

// AddMemberRequest represents add member request body
type AddMemberRequest struct {
	Username string `json:"username"`
}

// SendGroupMessageRequest represents send group message request body
type SendGroupMessageRequest struct {
	GroupID string `json:"groupId"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// CreateGroup creates a new group owned by the caller
func (h *Handler) CreateGroup(c *fiber.Ctx) error {
	var req CreateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	req.GroupName = strings.TrimSpace(req.GroupName)
	if req.GroupName == "" {
		return badRequest(c, "Group name is required")
	}
	if err := middleware.EnsureSelf(c, req.Owner); err != nil {
		return h.fail(c, err)
	}

	group, err := h.store.CreateGroup(context.Background(), req.GroupName, req.Owner, req.Members)
	if err != nil {
		return h.fail(c, err)
	}

	h.log.Info("group created",
		zap.String("group_id", group.ID), zap.String("owner", group.Owner), zap.Int("members", len(group.Members)))
	return ok(c, fiber.StatusCreated, group)
}

// GetGroups returns the groups the user belongs to
func (h *Handler) GetGroups(c *fiber.Ctx) error {
	username := c.Params("username")
	if err := middleware.EnsureSelf(c, username); err != nil {
		return h.fail(c, err)
	}

	groups, err := h.store.ListGroups(context.Background(), username)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, groups)
}

// GetGroup returns group details to its members
func (h *Handler) GetGroup(c *fiber.Ctx) error {
	group, err := h.memberGroup(c, c.Params("groupId"))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, group)
}

// AddGroupMember lets any member add another user
func (h *Handler) AddGroupMember(c *fiber.Ctx) error {
	var req AddMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Username == "" {
		return badRequest(c, "Username is required")
	}

	group, err := h.memberGroup(c, c.Params("groupId"))
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.store.AddGroupMember(context.Background(), group.ID, req.Username); err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, fiber.Map{"message": "Member added"})
}

// KickMember removes a member; only the owner may do this. The kicked user's
// connections leave the group room at once.
func (h *Handler) KickMember(c *fiber.Ctx) error {
	groupID, target := c.Params("groupId"), c.Params("userId")

	group, err := h.store.GetGroup(context.Background(), groupID)
	if err != nil {
		return h.fail(c, err)
	}
	if group.Owner != middleware.GetUsername(c) {
		return h.fail(c, apperr.ErrNotGroupOwner)
	}
	if target == group.Owner {
		return badRequest(c, "The owner cannot kick themselves; leave the group instead")
	}

	if err := h.store.RemoveGroupMember(context.Background(), groupID, target); err != nil {
		return h.fail(c, err)
	}
	h.hub.EvictUser(target, events.GroupRoom(groupID))
	return ok(c, fiber.StatusOK, fiber.Map{"message": "Member removed"})
}

// LeaveGroup removes the caller from the group
func (h *Handler) LeaveGroup(c *fiber.Ctx) error {
	groupID := c.Params("groupId")
	me := middleware.GetUsername(c)

	if err := h.store.RemoveGroupMember(context.Background(), groupID, me); err != nil {
		return h.fail(c, err)
	}
	h.hub.EvictUser(me, events.GroupRoom(groupID))
	return ok(c, fiber.StatusOK, fiber.Map{"message": "Left group"})
}

// SendGroupMessage sends a message to a group through the dispatcher
func (h *Handler) SendGroupMessage(c *fiber.Ctx) error {
	var req SendGroupMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.GroupID == "" {
		return badRequest(c, "Group ID is required")
	}
	if err := middleware.EnsureSelf(c, req.Sender); err != nil {
		return h.fail(c, err)
	}

	res, err := h.dispatcher.Send(context.Background(), dispatcher.SendRequest{
		Sender:  req.Sender,
		GroupID: req.GroupID,
		Content: req.Content,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusCreated, res.Group)
}

// GetGroupMessages returns the group history to members
func (h *Handler) GetGroupMessages(c *fiber.Ctx) error {
	group, err := h.memberGroup(c, c.Params("groupId"))
	if err != nil {
		return h.fail(c, err)
	}

	msgs, err := h.store.ListGroupMessages(context.Background(), group.ID)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, msgs)
}

// memberGroup loads the group and checks the caller belongs to it.
func (h *Handler) memberGroup(c *fiber.Ctx, groupID string) (*models.Group, error) {
	group, err := h.store.GetGroup(context.Background(), groupID)
	if err != nil {
		return nil, err
	}
	if !group.HasMember(middleware.GetUsername(c)) {
		return nil, apperr.ErrNotGroupMember
	}
	return group, nil
}
