package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-attempts/internal/config"
)

func TestAuthServiceRoundTrip(t *testing.T) {
	auth := NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour})

	tok, err := auth.GenerateStudentToken(42)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := auth.ValidateToken(tok)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != 42 || claims.TokenType != TokenTypeStudent || claims.Subject != "42" {
		t.Errorf("claims = %+v", claims)
	}

	tok, err = auth.GenerateAdminToken(7, []string{"attempts:manage"})
	if err != nil {
		t.Fatal(err)
	}
	claims, err = auth.ValidateToken(tok)
	if err != nil {
		t.Fatal(err)
	}
	if claims.TokenType != TokenTypeAdmin || !claims.HasPermission("attempts:manage") || claims.HasPermission("exams:write") {
		t.Errorf("admin claims = %+v", claims)
	}
}

func TestAuthServiceRejectsBadTokens(t *testing.T) {
	auth := NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour})
	other := NewAuthService(&config.Config{JWTSecret: "other-secret", JWTExpiry: time.Hour})
	expired := NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: -time.Minute})

	foreign, _ := other.GenerateStudentToken(1)
	stale, _ := expired.GenerateStudentToken(1)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": foreign,
		"expired":      stale,
		"unsigned":     none,
		"empty":        "",
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := auth.ValidateToken(tok); !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("err = %v, want ErrUnauthenticated", err)
			}
		})
	}
}
