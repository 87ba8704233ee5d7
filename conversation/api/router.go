package api

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the conversation endpoints on an authenticated group
func RegisterRoutes(rg *gin.RouterGroup, h *Handler) {
	rg.POST("/chat", h.Chat)

	convs := rg.Group("/conversations")
	{
		convs.POST("", h.CreateConversation)
		convs.GET("/:id/messages", h.ListMessages)
		convs.GET("/:id/config", h.GetConfig)
		convs.PUT("/:id/config", h.UpdateConfig)
		convs.POST("/:id/context", h.PreviewContext)
		convs.GET("/:id/branches", h.ListBranches)
		convs.POST("/:id/branches", h.CreateBranch)
		convs.POST("/:id/regenerate", h.Regenerate)
		convs.GET("/:id/usage", h.Usage)
	}

	rg.GET("/messages/:id/thread", h.GetThread)

	branches := rg.Group("/branches")
	{
		branches.PATCH("/:id", h.RenameBranch)
		branches.GET("/:id/messages", h.ListBranchMessages)
		branches.POST("/:id/switch", h.SwitchBranch)
		branches.DELETE("/:id", h.DeleteBranch)
	}
}
