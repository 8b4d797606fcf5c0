package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndParseToken(t *testing.T) {
	secret := "test-secret-key-for-jwt-signing"

	token, err := GenerateToken("night-log", secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateToken() returned empty token")
	}

	claims, err := ParseToken(token, secret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "night-log" {
		t.Errorf("Subject = %q, want night-log", claims.Subject)
	}
	if claims.Scope != ScopeMonitor {
		t.Errorf("Scope = %q, want %q", claims.Scope, ScopeMonitor)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
}

func TestGenerateToken_DefaultTTL(t *testing.T) {
	token, err := GenerateToken("ops", "secret", 0)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := ParseToken(token, "secret")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	diff := claims.ExpiresAt.Time.Sub(time.Now().Add(DefaultTTL))
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("default TTL off by %v", diff)
	}
}

func TestGenerateToken_NoSecret(t *testing.T) {
	if _, err := GenerateToken("ops", "", time.Hour); !errors.Is(err, ErrNoSecret) {
		t.Errorf("GenerateToken() error = %v, want ErrNoSecret", err)
	}
}

func TestParseToken_Invalid(t *testing.T) {
	good, err := GenerateToken("ops", "correct-secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	sign := func(c Claims, method jwt.SigningMethod) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, c).SignedString([]byte("correct-secret"))
		if err != nil {
			t.Fatalf("signing: %v", err)
		}
		return s
	}
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-valid-jwt"},
		{"malformed", "abc.def"},
		{"wrong secret", good + "x"},
		{"expired", sign(Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
			Scope:            ScopeMonitor,
		}, jwt.SigningMethodHS256)},
		{"no expiry", sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "ops"}, Scope: ScopeMonitor}, jwt.SigningMethodHS256)},
		{"no subject", sign(Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}, Scope: ScopeMonitor}, jwt.SigningMethodHS256)},
		{"wrong scope", sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", ExpiresAt: future}, Scope: "admin"}, jwt.SigningMethodHS256)},
		{"wrong method", sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", ExpiresAt: future}, Scope: ScopeMonitor}, jwt.SigningMethodHS512)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.token, "correct-secret"); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}
