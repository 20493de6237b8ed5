package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const resumeTokenTTL = 24 * time.Hour

// MintResumeToken signs a token the client presents on reconnect to reclaim
// its player id. Account authentication is a collaborator concern; this only
// proves continuity of one join.
func MintResumeToken(playerID, secret string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   playerID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(resumeTokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign resume token: %w", err)
	}
	return signed, nil
}

// VerifyResumeToken validates a resume token and returns the player id it
// was minted for.
func VerifyResumeToken(tokenString, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("parse resume token: %w", err)
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("resume token missing subject")
	}
	return claims.Subject, nil
}
