package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/LobbyChat/internal/service"
)

// Context keys set by the JWT middleware.
const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
)

// ErrorResponse is the body of every failed request. Code tells apart
// failures that share a status, e.g. the 409 conflicts.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{service.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{service.ErrAuthenticationFailed, http.StatusUnauthorized, "authentication_failed"},
	{service.ErrForbidden, http.StatusForbidden, "forbidden"},
	{service.ErrNotFound, http.StatusNotFound, "not_found"},
	{service.ErrAlreadyMember, http.StatusConflict, "already_member"},
	{service.ErrNotMember, http.StatusConflict, "not_member"},
	{service.ErrCreatorCannotLeave, http.StatusConflict, "creator_cannot_leave"},
	{service.ErrAlreadyExists, http.StatusConflict, "already_exists"},
}

// respondError writes the status and code for a service error. Anything
// unrecognised is logged and reported as a retryable 500.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			c.JSON(m.status, ErrorResponse{Error: err.Error(), Code: m.code})
			return
		}
	}
	logger.Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: service.ErrTransient.Error(),
		Code:  "unavailable",
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_input"})
}

// currentUser returns the authenticated user ID, writing 401 when absent.
func currentUser(c *gin.Context) (string, bool) {
	userID := c.GetString(ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: "authentication_failed"})
		return "", false
	}
	return userID, true
}
