package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gopher0727/LobbyChat/internal/handler"
	"github.com/Gopher0727/LobbyChat/internal/service"
	"github.com/Gopher0727/LobbyChat/middleware/jwt"
	logger "github.com/Gopher0727/LobbyChat/middleware/log"
	"github.com/Gopher0727/LobbyChat/utils/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	manager *MiddlewareManager
	tokens  *jwt.TokenManager
	redis   *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tokens := jwt.NewTokenManager("middleware-secret", 1, 1)
	// Resolve only needs the token manager
	auth := service.NewAuthService(nil, tokens, zap.NewNop())
	limiter := ratelimit.NewWindowLimiter(rdb, zap.NewNop(), false)
	limits := ratelimit.PerMinute{Register: 2, Login: 2, Message: 3, API: 100}

	return &testEnv{
		manager: NewMiddlewareManager(auth, limiter, limits, logger.NewNop()),
		tokens:  tokens,
		redis:   mr,
	}
}

func TestJWTAuth(t *testing.T) {
	env := newTestEnv(t)
	r := gin.New()
	r.GET("/me", env.manager.JWTAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":  c.GetString(handler.ContextUserID),
			"username": c.GetString(handler.ContextUsername),
		})
	})

	token, err := env.tokens.GenerateToken("u1", "alice")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"forged", "Bearer not.a.token", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.JSONEq(t, `{"user_id":"u1","username":"alice"}`, w.Body.String())
}

func TestRateLimiterByEndpoint(t *testing.T) {
	env := newTestEnv(t)
	r := gin.New()
	r.POST("/login", env.manager.RateLimiterByEndpoint(ratelimit.EndpointLogin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	hit := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, hit().Code)
	assert.Equal(t, http.StatusOK, hit().Code)

	w := hit()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	t.Run("store failure is not fail-open", func(t *testing.T) {
		env.redis.SetError("READONLY")
		defer env.redis.SetError("")
		assert.Equal(t, http.StatusInternalServerError, hit().Code)
	})
}

func TestLoggerSetsTraceID(t *testing.T) {
	env := newTestEnv(t)
	r := gin.New()
	r.Use(env.manager.Logger())
	r.GET("/trace", func(c *gin.Context) {
		c.String(http.StatusOK, logger.GetTraceID(c.Request.Context()))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/trace", nil))
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get(traceHeader))

	req := httptest.NewRequest(http.MethodGet, "/trace", nil)
	req.Header.Set(traceHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Body.String(), "an incoming trace ID is kept")
}

func TestRecovery(t *testing.T) {
	env := newTestEnv(t)
	r := gin.New()
	r.Use(env.manager.Logger(), env.manager.Recovery())
	r.GET("/panic", func(c *gin.Context) { panic(errors.New("kaboom")) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body handler.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	r := gin.New()
	r.Use(env.manager.CORS())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/x", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
