package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/LobbyChat/internal/handler"
	"github.com/Gopher0727/LobbyChat/internal/service"
	logger "github.com/Gopher0727/LobbyChat/middleware/log"
	"github.com/Gopher0727/LobbyChat/utils/ratelimit"
)

const traceHeader = "X-Trace-ID"

type MiddlewareManager struct {
	auth        service.IAuthService
	rateLimiter ratelimit.Limiter
	limits      ratelimit.PerMinute
	logger      *logger.Logger
}

func NewMiddlewareManager(
	auth service.IAuthService,
	rateLimiter ratelimit.Limiter,
	limits ratelimit.PerMinute,
	log *logger.Logger,
) *MiddlewareManager {
	return &MiddlewareManager{
		auth:        auth,
		rateLimiter: rateLimiter,
		limits:      limits,
		logger:      log,
	}
}

func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, handler.ErrorResponse{Error: message, Code: code})
}

// JWTAuth resolves the bearer token through the same resolver the WebSocket
// gateway uses and stores the principal in the gin context.
func (m *MiddlewareManager) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortError(c, http.StatusUnauthorized, "authentication_failed", "authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortError(c, http.StatusUnauthorized, "authentication_failed", "invalid authorization header format")
			return
		}

		principal, err := m.auth.Resolve(c.Request.Context(), parts[1])
		if err != nil {
			m.logger.WarnContext(c.Request.Context(), "token validation failed",
				zap.Error(err),
				zap.String("ip", c.ClientIP()),
			)
			abortError(c, http.StatusUnauthorized, "authentication_failed", "invalid or expired token")
			return
		}

		c.Set(handler.ContextUserID, principal.UserID)
		c.Set(handler.ContextUsername, principal.Username)
		c.Next()
	}
}

// RateLimiterByEndpoint applies the endpoint's per-minute budget, keyed by
// user when authenticated and by client IP otherwise.
func (m *MiddlewareManager) RateLimiterByEndpoint(endpoint string) gin.HandlerFunc {
	rule := ratelimit.RuleFor(endpoint, m.limits)

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var key string
		if userID := c.GetString(handler.ContextUserID); userID != "" {
			key = fmt.Sprintf("user:%s:%s", userID, endpoint)
		} else {
			key = fmt.Sprintf("ip:%s:%s", c.ClientIP(), endpoint)
		}

		allowed, err := m.rateLimiter.Allow(ctx, key, rule)
		if err != nil {
			m.logger.ErrorContext(ctx, "rate limit check failed",
				zap.Error(err),
				zap.String("key", key),
				zap.String("endpoint", endpoint),
			)
			abortError(c, http.StatusInternalServerError, "unavailable", service.ErrTransient.Error())
			return
		}

		if !allowed {
			remaining, _ := m.rateLimiter.Remaining(ctx, key, rule)
			c.Header("Retry-After", fmt.Sprintf("%d", int(rule.Window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"code":        "rate_limited",
				"retry_after": int(rule.Window.Seconds()),
				"remaining":   remaining,
			})
			return
		}

		c.Next()
	}
}

// Logger attaches a trace ID to the request context and logs one line per request.
func (m *MiddlewareManager) Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		ctx := c.Request.Context()
		traceID := c.GetHeader(traceHeader)
		if traceID != "" {
			ctx = logger.WithTraceID(ctx, traceID)
		} else {
			ctx, traceID = logger.EnsureTraceID(ctx)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Header(traceHeader, traceID)

		c.Next()

		statusCode := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		}
		if userID := c.GetString(handler.ContextUserID); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}

		switch {
		case statusCode >= 500:
			m.logger.ErrorContext(ctx, "server error", fields...)
		case statusCode >= 400:
			m.logger.WarnContext(ctx, "client error", fields...)
		default:
			m.logger.InfoContext(ctx, "request completed", fields...)
		}
	}
}

func (m *MiddlewareManager) CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", traceHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (m *MiddlewareManager) Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.ErrorContext(c.Request.Context(), "panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)
				abortError(c, http.StatusInternalServerError, "unavailable", service.ErrTransient.Error())
			}
		}()

		c.Next()
	}
}
