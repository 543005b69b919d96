package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Gopher0727/LobbyChat/internal/model"
	"github.com/Gopher0727/LobbyChat/internal/repository"
	"github.com/Gopher0727/LobbyChat/internal/utils"
	"github.com/Gopher0727/LobbyChat/middleware/jwt"
)

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Username   string `json:"username" binding:"required"`
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
	PlatformID string `json:"platform_id"`
}

// LoginRequest represents a user login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse is returned by register and login
type AuthResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// Principal is the identity behind a verified credential.
type Principal struct {
	UserID   string
	Username string
}

// IAuthService defines the interface for authentication operations
type IAuthService interface {
	Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error)
	Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error)
	Resolve(ctx context.Context, token string) (*Principal, error)
	Refresh(ctx context.Context, token string) (string, error)
}

// AuthService implements the IAuthService interface
type AuthService struct {
	userRepo     repository.IUserRepository
	tokenManager *jwt.TokenManager
	logger       *zap.Logger
}

// NewAuthService creates a new IAuthService instance
func NewAuthService(userRepo repository.IUserRepository, tokenManager *jwt.TokenManager, logger *zap.Logger) IAuthService {
	return &AuthService{
		userRepo:     userRepo,
		tokenManager: tokenManager,
		logger:       logger,
	}
}

// Register creates a new user account and signs them in
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if !utils.ValidateUserName(username) {
		return nil, invalidInput("username must be %d-%d letters, digits, '_', '.' or '-'", utils.MinUserNameLength, utils.MaxUserNameLength)
	}
	if !utils.ValidateEmail(email) {
		return nil, invalidInput("invalid email address")
	}
	if !utils.ValidatePassword(req.Password) {
		return nil, invalidInput("password must be at least %d characters", utils.MinPasswordLength)
	}

	exists, err := s.userRepo.ExistsByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return nil, transient("check existing user", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: username or email already registered", ErrAlreadyExists)
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		ID:           uuid.New().String(),
		UserName:     username,
		Email:        email,
		PasswordHash: hash,
		PlatformID:   req.PlatformID,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		// lost a race with a concurrent registration
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: username or email already registered", ErrAlreadyExists)
		}
		return nil, transient("create user", err)
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("username", user.UserName))
	return s.issue(user)
}

// Login authenticates by email and password
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAuthenticationFailed
		}
		return nil, transient("find user", err)
	}
	if !utils.CheckPassword(user.PasswordHash, req.Password) {
		return nil, ErrAuthenticationFailed
	}
	return s.issue(user)
}

func (s *AuthService) issue(user *model.User) (*AuthResponse, error) {
	token, err := s.tokenManager.GenerateToken(user.ID, user.UserName)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &AuthResponse{Token: token, User: user}, nil
}

// Resolve verifies a bearer token. It is shared by the HTTP middleware and
// the WebSocket gateway.
func (s *AuthService) Resolve(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrAuthenticationFailed
	}
	claims, err := s.tokenManager.ParseToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	return &Principal{UserID: claims.UserID, Username: claims.UserName}, nil
}

// Refresh issues a new token for one that is close to expiry.
func (s *AuthService) Refresh(ctx context.Context, token string) (string, error) {
	refreshed, err := s.tokenManager.RefreshToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrNotRefreshable) {
			return "", invalidInput("token is not yet eligible for refresh")
		}
		return "", fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	return refreshed, nil
}
