package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionCookieName    = "portal_session"
	testSessionUserID        = "user-123"
	testSessionUserEmail     = "user@example.com"
)

func signTestToken(t *testing.T, claims SessionClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	signed := signTestToken(t, SessionClaims{
		UserID:    testSessionUserID,
		UserEmail: testSessionUserEmail,
		UserRole:  "Advocate",
		UserPlan:  "PRO",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultSessionIssuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	})

	claims, err := validator.ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testSessionUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}
	if !claims.Premium() || claims.Role() != RoleAdvocate || claims.CounterpartRole() != RoleClient {
		t.Fatalf("unexpected derived claims: premium=%v role=%s", claims.Premium(), claims.Role())
	}
}

func TestSessionValidatorValidateTokenExpired(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	signed := signTestToken(t, SessionClaims{
		UserID: testSessionUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultSessionIssuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(-time.Hour)),
		},
	})

	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestSessionValidatorRejectsForeignIssuer(t *testing.T) {
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	signed := signTestToken(t, SessionClaims{
		UserID: testSessionUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   testSessionUserID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestSessionValidatorValidateRequestUsesCookie(t *testing.T) {
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	signed := signTestToken(t, SessionClaims{
		UserID: testSessionUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultSessionIssuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	request := httptest.NewRequest(http.MethodGet, "/relationships", http.NoBody)
	request.AddCookie(&http.Cookie{
		Name:  testSessionCookieName,
		Value: signed,
	})

	claims, token, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if claims.UserID != testSessionUserID || token != signed {
		t.Fatalf("unexpected user id %s or token", claims.UserID)
	}
	if claims.Premium() || claims.Role() != RoleClient {
		t.Fatalf("expected free client defaults")
	}

	bearer := httptest.NewRequest(http.MethodGet, "/relationships", http.NoBody)
	bearer.Header.Set("Authorization", "Bearer "+signed)
	if _, _, err := validator.ValidateRequest(bearer); err != nil {
		t.Fatalf("bearer validation failed: %v", err)
	}

	anonymous := httptest.NewRequest(http.MethodGet, "/relationships", http.NoBody)
	if _, _, err := validator.ValidateRequest(anonymous); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}
