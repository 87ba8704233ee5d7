package api

import (
	"net/http"
	"strconv"

	"ai-baas/backend/pkg/errors"
	"ai-baas/backend/pkg/middleware"
	"ai-baas/backend/retrieval/service"

	"github.com/gin-gonic/gin"
)

// Handler exposes document indexing and search
type Handler struct {
	augmentor    *service.Augmentor
	defaultLimit int
}

func NewHandler(augmentor *service.Augmentor, defaultLimit int) *Handler {
	if defaultLimit <= 0 {
		defaultLimit = 3
	}
	return &Handler{augmentor: augmentor, defaultLimit: defaultLimit}
}

type indexRequest struct {
	Text string `json:"text" binding:"required"`
}

type searchRequest struct {
	Query string `json:"query" binding:"required"`
	Limit *int   `json:"limit"`
}

func fileID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("file_id"), 10, 64)
	if err != nil || id == 0 {
		_ = c.Error(errors.NewBadRequestError(errors.CodeBadRequest, "Invalid file_id"))
		c.Abort()
		return 0, false
	}
	return uint(id), true
}

// IndexDocument replaces the indexed chunks of a file with its extracted text
func (h *Handler) IndexDocument(c *gin.Context) {
	id, ok := fileID(c)
	if !ok {
		return
	}
	var req indexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.BadRequestWithDetails(errors.CodeBadRequest, "Invalid request body", err.Error()))
		c.Abort()
		return
	}

	n, err := h.augmentor.IndexDocument(c.Request.Context(), id, middleware.CallerID(c), req.Text)
	if err != nil {
		_ = c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, gin.H{"file_id": id, "chunks": n})
}

func (h *Handler) DeleteDocument(c *gin.Context) {
	id, ok := fileID(c)
	if !ok {
		return
	}
	if err := h.augmentor.DeleteDocument(c.Request.Context(), id, middleware.CallerID(c)); err != nil {
		_ = c.Error(err)
		c.Abort()
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.BadRequestWithDetails(errors.CodeBadRequest, "Invalid request body", err.Error()))
		c.Abort()
		return
	}
	limit := h.defaultLimit
	if req.Limit != nil {
		limit = *req.Limit
	}

	results, err := h.augmentor.Query(c.Request.Context(), req.Query, middleware.CallerID(c), limit)
	if err != nil {
		_ = c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func RegisterRoutes(rg *gin.RouterGroup, h *Handler) {
	rg.POST("/documents/:file_id/index", h.IndexDocument)
	rg.DELETE("/documents/:file_id", h.DeleteDocument)
	rg.POST("/search", h.Search)
}
