package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.auth.Register(ctx, &RegisterRequest{
		Username: "dave",
		Email:    "Dave@Example.com",
		Password: "secret1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "dave@example.com", resp.User.Email)
	assert.NotEqual(t, "secret1", resp.User.PasswordHash)

	principal, err := h.auth.Resolve(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, principal.UserID)
	assert.Equal(t, "dave", principal.Username)

	login, err := h.auth.Login(ctx, &LoginRequest{Email: "dave@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, login.User.ID)

	_, err = h.auth.Login(ctx, &LoginRequest{Email: "dave@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	_, err = h.auth.Login(ctx, &LoginRequest{Email: "nobody@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := map[string]RegisterRequest{
		"short username": {Username: "ab", Email: "ab@example.com", Password: "secret1"},
		"bad email":      {Username: "erin", Email: "erin-at-example", Password: "secret1"},
		"short password": {Username: "erin", Email: "erin@example.com", Password: "12345"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.auth.Register(ctx, &req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	t.Run("duplicates", func(t *testing.T) {
		_, err := h.auth.Register(ctx, &RegisterRequest{Username: "frank", Email: "frank@example.com", Password: "secret1"})
		require.NoError(t, err)

		_, err = h.auth.Register(ctx, &RegisterRequest{Username: "frank", Email: "other@example.com", Password: "secret1"})
		assert.ErrorIs(t, err, ErrAlreadyExists)
		_, err = h.auth.Register(ctx, &RegisterRequest{Username: "frank2", Email: "FRANK@example.com", Password: "secret1"})
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})
}

func TestResolve_Rejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, token := range []string{"", "garbage", "a.b.c"} {
		_, err := h.auth.Resolve(ctx, token)
		assert.ErrorIs(t, err, ErrAuthenticationFailed, "token %q", token)
	}
}
