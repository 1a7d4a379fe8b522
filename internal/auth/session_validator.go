package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSessionIssuer = "advocates-auth"

const (
	RoleAdvocate = "advocate"
	RoleClient   = "client"
)

var (
	ErrMissingSessionSigningKey = errors.New("session validator: signing key required")
	ErrMissingSessionCookieName = errors.New("session validator: cookie name required")
	ErrMissingSessionToken      = errors.New("session validator: token required")
	ErrInvalidSessionToken      = errors.New("session validator: invalid token")
	ErrExpiredSessionToken      = errors.New("session validator: token expired")
	ErrMissingSessionSubject    = errors.New("session validator: subject required")
)

var premiumPlans = map[string]struct{}{
	"premium":    {},
	"pro":        {},
	"enterprise": {},
}

// SessionClaims mirrors the JWT payload issued by the portal's auth service.
type SessionClaims struct {
	UserID          string `json:"user_id"`
	UserEmail       string `json:"user_email"`
	UserDisplayName string `json:"user_display_name"`
	UserRole        string `json:"user_role"`
	UserPlan        string `json:"user_plan"`
	jwt.RegisteredClaims
}

// Premium reports whether the viewer's plan unlocks unmasked profile data.
func (c SessionClaims) Premium() bool {
	_, ok := premiumPlans[strings.ToLower(strings.TrimSpace(c.UserPlan))]
	return ok
}

// Role returns the viewer's marketplace side, defaulting to client.
func (c SessionClaims) Role() string {
	if strings.EqualFold(strings.TrimSpace(c.UserRole), RoleAdvocate) {
		return RoleAdvocate
	}
	return RoleClient
}

// CounterpartRole is the role of the profiles the viewer browses and contacts.
func (c SessionClaims) CounterpartRole() string {
	if c.Role() == RoleAdvocate {
		return RoleClient
	}
	return RoleAdvocate
}

// SessionValidatorConfig describes how to validate session JWTs.
type SessionValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Clock         func() time.Time
}

// SessionValidator validates HS256 session JWTs.
type SessionValidator struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	clock         func() time.Time
}

// NewSessionValidator constructs a validator with the provided configuration.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultSessionIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		cookieName:    cookieName,
		clock:         clock,
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (v *SessionValidator) CookieName() string {
	return v.cookieName
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (v *SessionValidator) ValidateToken(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidSessionToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if strings.TrimSpace(claims.Subject) == "" && strings.TrimSpace(claims.UserID) == "" {
		return SessionClaims{}, ErrMissingSessionSubject
	}
	return *claims, nil
}

// ValidateRequest extracts the session token from the configured cookie, falling
// back to a bearer Authorization header, and validates it. The raw token is
// returned so it can be forwarded to the marketplace API.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, string, error) {
	if r == nil {
		return SessionClaims{}, "", ErrMissingSessionToken
	}
	token := ""
	if cookie, err := r.Cookie(v.cookieName); err == nil && cookie != nil {
		token = cookie.Value
	}
	if strings.TrimSpace(token) == "" {
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
	}
	claims, err := v.ValidateToken(token)
	if err != nil {
		return SessionClaims{}, "", err
	}
	return claims, strings.TrimSpace(token), nil
}
