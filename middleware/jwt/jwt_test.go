package jwt

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndParse(t *testing.T) {
	tm := NewTokenManager("test-secret", 24, 24)

	token, err := tm.GenerateToken("user-1", "alice")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := tm.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if claims.UserID != "user-1" || claims.UserName != "alice" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, _ := NewTokenManager("secret-a", 1, 1).GenerateToken("user-1", "alice")

	if _, err := NewTokenManager("secret-b", 1, 1).ParseToken(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseToken_Expired(t *testing.T) {
	tm := NewTokenManager("test-secret", 1, 1)
	issued := time.Now().Add(-2 * time.Hour)
	tm.now = func() time.Time { return issued }
	token, err := tm.GenerateToken("user-1", "alice")
	if err != nil {
		t.Fatal(err)
	}

	tm.now = time.Now
	if _, err := tm.ParseToken(token); err != ErrExpiredToken {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseToken_Garbage(t *testing.T) {
	tm := NewTokenManager("test-secret", 1, 1)
	for _, tok := range []string{"", "abc", "a.b.c"} {
		if _, err := tm.ParseToken(tok); err != ErrInvalidToken {
			t.Errorf("token %q: expected ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestParseToken_RejectsNoneAlgorithm(t *testing.T) {
	claims := Claims{UserID: "user-1", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewTokenManager("test-secret", 1, 1).ParseToken(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRefreshToken(t *testing.T) {
	t.Run("within refresh window", func(t *testing.T) {
		tm := NewTokenManager("test-secret", 1, 2)
		token, _ := tm.GenerateToken("user-1", "alice")

		refreshed, err := tm.RefreshToken(token)
		if err != nil {
			t.Fatalf("RefreshToken failed: %v", err)
		}
		claims, err := tm.ParseToken(refreshed)
		if err != nil || claims.UserID != "user-1" {
			t.Errorf("refreshed token invalid: %v %+v", err, claims)
		}
	})

	t.Run("too early to refresh", func(t *testing.T) {
		tm := NewTokenManager("test-secret", 48, 1)
		token, _ := tm.GenerateToken("user-1", "alice")

		if _, err := tm.RefreshToken(token); err != ErrNotRefreshable {
			t.Errorf("expected ErrNotRefreshable, got %v", err)
		}
	})

	t.Run("expired beyond window", func(t *testing.T) {
		tm := NewTokenManager("test-secret", 1, 1)
		tm.now = func() time.Time { return time.Now().Add(-5 * time.Hour) }
		token, _ := tm.GenerateToken("user-1", "alice")
		tm.now = time.Now

		if _, err := tm.RefreshToken(token); err != ErrNotRefreshable {
			t.Errorf("expected ErrNotRefreshable, got %v", err)
		}
	})
}
