package api

import (
	"net/http"

	"ai-baas/backend/conversation/models"
	"ai-baas/backend/pkg/errors"
	"ai-baas/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type branchRequest struct {
	Name *string `json:"name"`
}

type renameRequest struct {
	Name string `json:"name" binding:"required"`
}

// ownedBranch loads the :id branch when the caller owns its conversation
func (h *Handler) ownedBranch(c *gin.Context) (*models.Branch, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return nil, false
	}
	ctx := c.Request.Context()
	branch, err := h.branches.GetBranch(ctx, id)
	if err != nil {
		fail(c, err)
		return nil, false
	}
	if _, err := h.conversations.Authorize(ctx, middleware.CallerID(c), branch.ConversationID); err != nil {
		fail(c, errors.NotFound("branch %d not found", id))
		return nil, false
	}
	return branch, true
}

func (h *Handler) ListBranches(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.conversations.Authorize(ctx, middleware.CallerID(c), id); err != nil {
		fail(c, err)
		return
	}
	branches, err := h.branches.ListBranches(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"branches": branches})
}

func (h *Handler) CreateBranch(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req branchRequest
	if !bindOptional(c, &req) {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.conversations.Authorize(ctx, middleware.CallerID(c), id); err != nil {
		fail(c, err)
		return
	}
	branch, err := h.branches.CreateBranch(ctx, id, req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, branch)
}

func (h *Handler) RenameBranch(c *gin.Context) {
	branch, ok := h.ownedBranch(c)
	if !ok {
		return
	}
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	renamed, err := h.branches.RenameBranch(c.Request.Context(), branch.ID, req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, renamed)
}

func (h *Handler) SwitchBranch(c *gin.Context) {
	branch, ok := h.ownedBranch(c)
	if !ok {
		return
	}
	active, err := h.branches.SwitchActive(c.Request.Context(), branch.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, active)
}

func (h *Handler) ListBranchMessages(c *gin.Context) {
	branch, ok := h.ownedBranch(c)
	if !ok {
		return
	}
	msgs, err := h.branches.BranchMessages(c.Request.Context(), branch.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) DeleteBranch(c *gin.Context) {
	branch, ok := h.ownedBranch(c)
	if !ok {
		return
	}
	if err := h.branches.DeleteBranch(c.Request.Context(), branch.ID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
