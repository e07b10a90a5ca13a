package jwtutil

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims scope a caller to exactly one workspace. Identity management lives
// in an external service; this package only mints and verifies the tokens
// that carry the tenant boundary.
type Claims struct {
	WorkspaceID string `json:"workspace_id"`
	jwt.RegisteredClaims
}

// GenerateToken signs a workspace-scoped token with the shared HMAC secret.
func GenerateToken(secret, workspaceID string, ttl time.Duration) (string, error) {
	if workspaceID == "" {
		return "", errors.New("workspace id is required")
	}
	now := time.Now()
	claims := Claims{
		WorkspaceID: workspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   workspaceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token failed: %w", err)
	}
	return signed, nil
}

// ParseToken verifies the signature and expiry and returns the claims.
func ParseToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token failed: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.WorkspaceID == "" {
		return nil, errors.New("token has no workspace claim")
	}
	return claims, nil
}
