package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token issuance lives in the platform's auth service; this manager verifies
// what that service minted. SignAccessToken exists for tests and local
// tooling only.

var ErrInvalidToken = errors.New("invalid token")

type AccessClaims struct {
	jwt.RegisteredClaims
	TokenType string   `json:"token_type"`
	Scopes    []string `json:"scopes,omitempty"`
}

// HasScope reports whether the token carries the given scope.
func (c *AccessClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type JWTManager struct {
	issuer       string
	audience     string
	accessSecret []byte
}

func NewJWTManager(issuer, audience, accessSecret string) *JWTManager {
	return &JWTManager{
		issuer:       issuer,
		audience:     audience,
		accessSecret: []byte(accessSecret),
	}
}

func (m *JWTManager) SignAccessToken(userID string, ttl time.Duration) (string, error) {
	return m.SignScopedToken(userID, nil, ttl)
}

func (m *JWTManager) SignScopedToken(userID string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: "access",
		Scopes:    scopes,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
}

func (m *JWTManager) ParseAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.accessSecret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.TokenType != "access" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
