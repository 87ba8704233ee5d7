package router

import (
	"net/http"

	convapi "ai-baas/backend/conversation/api"
	convws "ai-baas/backend/conversation/ws"
	"ai-baas/backend/pkg/config"
	"ai-baas/backend/pkg/di"
	"ai-baas/backend/pkg/errors"
	"ai-baas/backend/pkg/logger"
	"ai-baas/backend/pkg/middleware"
	retrievalapi "ai-baas/backend/retrieval/api"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	Config      *config.Config
	RateLimiter *middleware.RateLimiter
}

// New creates the engine with the global middleware chain
func New(container *di.Container) *Router {
	cfg := container.Config
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(middleware.Tracing(otel.GetTracerProvider()))
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware())
	engine.Use(bodyLimit(cfg.Security.MaxBodySize))

	limiter := middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptions{
		Limit: rate.Limit(cfg.Security.RateLimit),
		Burst: cfg.Security.RateLimitBurst,
	})

	return &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		Config:      cfg,
		RateLimiter: limiter,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	c := r.Container

	r.Engine.GET("/health", c.Health.Handler())

	// schema validation runs before identity so malformed calls fail fast
	if r.Config.Features.ValidateRequests {
		r.AddOpenAPIValidation(r.Config.Features.OpenAPISpecPath)
	}

	v1 := r.Engine.Group("/api/v1")
	v1.Use(middleware.CallerIdentity())
	v1.Use(r.RateLimiter.Middleware())

	convapi.RegisterRoutes(v1, convapi.NewHandler(c.Chat, c.Conversations, c.Branches, c.Threads))
	retrievalapi.RegisterRoutes(v1, retrievalapi.NewHandler(c.Augmentor, r.Config.Retrieval.DefaultResults))

	if r.Config.Features.EnableWebSockets {
		v1.GET("/ws/chat", convws.NewChatSocket(c.Chat).Serve)
	}
}

// bodyLimit caps request bodies at n bytes. n <= 0 disables the cap.
func bodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// corsMiddleware allows browser clients, including websocket upgrades
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Origin, Upgrade, Connection, Cache-Control, X-Request-ID, X-User-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
