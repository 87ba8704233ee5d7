package api

import (
	"net/http"
	"strconv"

	"ai-baas/backend/ai"
	"ai-baas/backend/conversation/service"
	"ai-baas/backend/pkg/errors"
	"ai-baas/backend/pkg/logger"
	"ai-baas/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Handler exposes conversations, chat turns and branches over HTTP
type Handler struct {
	chat          *service.ChatService
	conversations *service.ConversationService
	branches      *service.BranchManager
	threads       *service.ThreadResolver
}

func NewHandler(chat *service.ChatService, conversations *service.ConversationService, branches *service.BranchManager, threads *service.ThreadResolver) *Handler {
	return &Handler{
		chat:          chat,
		conversations: conversations,
		branches:      branches,
		threads:       threads,
	}
}

func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func badBody(c *gin.Context, err error) {
	fail(c, errors.BadRequestWithDetails(errors.CodeBadRequest, "Invalid request body", err.Error()))
}

func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		fail(c, errors.NewBadRequestError(errors.CodeBadRequest, "Invalid "+name))
		return 0, false
	}
	return uint(id), true
}

// bindOptional binds a JSON body when one was sent
func bindOptional(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		badBody(c, err)
		return false
	}
	return true
}

type createConversationRequest struct {
	Title string `json:"title"`
}

func (h *Handler) CreateConversation(c *gin.Context) {
	var req createConversationRequest
	if !bindOptional(c, &req) {
		return
	}
	conv, err := h.conversations.Create(c.Request.Context(), middleware.CallerID(c), req.Title)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) ListMessages(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	msgs, err := h.conversations.ListMessages(c.Request.Context(), middleware.CallerID(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) GetConfig(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	cfg, err := h.conversations.GetConfig(c.Request.Context(), middleware.CallerID(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) UpdateConfig(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.RequestOverrides
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	cfg, err := h.conversations.UpdateConfig(c.Request.Context(), middleware.CallerID(c), id, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) Usage(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	usage, err := h.conversations.Usage(c.Request.Context(), middleware.CallerID(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

// Chat runs one turn. With "stream": true the reply is sent as server-sent
// events: "fragment" per chunk, then "done" or "error".
func (h *Handler) Chat(c *gin.Context) {
	var req service.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	userID := middleware.CallerID(c)

	if !req.Stream {
		resp, err := h.chat.Send(c.Request.Context(), userID, req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	h.streamChat(c, userID, req)
}

func (h *Handler) streamChat(c *gin.Context, userID uint, req service.ChatRequest) {
	ctx := c.Request.Context()
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Status(http.StatusOK)
	}

	resp, err := h.chat.SendStream(ctx, userID, req, func(fragment string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		start()
		c.SSEvent("fragment", gin.H{"content": fragment})
		c.Writer.Flush()
		return nil
	})

	if err != nil {
		if !started {
			fail(c, err)
			return
		}
		appErr := errors.FromError(err)
		logger.FromGin(c).LogError(err, "stream failed after first fragment")
		c.SSEvent("error", gin.H{"code": appErr.Code, "message": appErr.Message})
		c.Writer.Flush()
		return
	}

	if resp.StreamState == ai.StreamCancelled && ctx.Err() != nil {
		// nobody is listening anymore
		return
	}
	start()
	c.SSEvent("done", resp)
	c.Writer.Flush()
}

type previewRequest struct {
	LeafMessageID *uint `json:"leaf_message_id,omitempty"`
	service.RequestOverrides
}

func (h *Handler) PreviewContext(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req previewRequest
	if !bindOptional(c, &req) {
		return
	}
	assembly, err := h.chat.PreviewContext(c.Request.Context(), middleware.CallerID(c), id, req.LeafMessageID, req.RequestOverrides)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, assembly)
}

func (h *Handler) Regenerate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	parentID, err := strconv.ParseUint(c.Query("parent_message_id"), 10, 64)
	if err != nil || parentID == 0 {
		fail(c, errors.NewBadRequestError(errors.CodeBadRequest, "parent_message_id query parameter is required"))
		return
	}
	var overrides service.RequestOverrides
	if !bindOptional(c, &overrides) {
		return
	}

	resp, err := h.chat.Regenerate(c.Request.Context(), middleware.CallerID(c), id, uint(parentID), overrides)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) GetThread(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.conversations.AuthorizeMessage(ctx, middleware.CallerID(c), id); err != nil {
		fail(c, err)
		return
	}
	thread, err := h.threads.ResolveThread(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": thread})
}
