package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/LobbyChat/internal/handler"
	"github.com/Gopher0727/LobbyChat/utils/ratelimit"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth    *handler.AuthHandler
	Catalog *handler.CatalogHandler
	Group   *handler.GroupHandler
	Message *handler.MessageHandler
	Gateway http.Handler
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// NewRouter builds the gin engine with every route under /api/v1.
func NewRouter(mode string, m *MiddlewareManager, h Handlers, checks map[string]HealthCheck) *gin.Engine {
	gin.SetMode(mode)
	r := gin.New()
	r.Use(m.Logger(), m.Recovery(), m.CORS())

	r.GET("/health", healthHandler(checks))

	api := r.Group("/api/v1")
	api.Use(m.RateLimiterByEndpoint(ratelimit.EndpointAPI))
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", m.RateLimiterByEndpoint(ratelimit.EndpointRegister), h.Auth.Register)
			auth.POST("/login", m.RateLimiterByEndpoint(ratelimit.EndpointLogin), h.Auth.Login)
			auth.POST("/logout", h.Auth.Logout)
			auth.POST("/refresh", h.Auth.Refresh)
		}

		api.GET("/platforms", h.Catalog.ListPlatforms)
		api.GET("/games", h.Catalog.ListGames)

		api.GET("/groups", h.Group.ListGroups)
		api.GET("/groups/:id", h.Group.GetGroup)
		api.GET("/groups/:id/members", h.Group.ListMembers)
		api.GET("/groups/:id/messages", h.Message.GetMessages)
		api.GET("/messages/:id", h.Message.GetMessage)

		// the gateway authenticates the upgraded connection itself
		api.GET("/ws", gin.WrapH(h.Gateway))
	}

	protected := api.Group("")
	protected.Use(m.JWTAuth())
	{
		protected.POST("/groups", h.Group.CreateGroup)
		protected.PUT("/groups/:id", h.Group.RenameGroup)
		protected.DELETE("/groups/:id", h.Group.DeleteGroup)
		protected.POST("/groups/:id/join", h.Group.JoinGroup)
		protected.POST("/groups/:id/leave", h.Group.LeaveGroup)
		protected.POST("/groups/:id/messages", m.RateLimiterByEndpoint(ratelimit.EndpointMessage), h.Message.SendMessage)
	}

	return r
}

func healthHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	}
}
