// Package auth provides HMAC JWT validation for the orchestrator API.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator validates and issues HS256 tokens with a shared secret.
type JWTValidator struct {
	secret []byte
	issuer string
}

// NewJWTValidator creates a new JWT validator. An empty secret disables
// validation; IsConfigured reports this.
func NewJWTValidator(secret, issuer string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret), issuer: issuer}
}

// IsConfigured returns true if a signing secret is set
func (v *JWTValidator) IsConfigured() bool {
	return len(v.secret) > 0
}

// ValidateToken validates a JWT token and returns the claims
func (v *JWTValidator) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	if v.issuer != "" {
		iss, ok := claims["iss"].(string)
		if !ok || iss != v.issuer {
			return nil, fmt.Errorf("invalid issuer")
		}
	}

	return claims, nil
}

// IssueToken signs a token for the given subject, valid for ttl.
func (v *JWTValidator) IssueToken(subject string, ttl time.Duration) (string, error) {
	if !v.IsConfigured() {
		return "", fmt.Errorf("no signing secret configured")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": v.issuer,
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	return token.SignedString(v.secret)
}
