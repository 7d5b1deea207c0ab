package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// claims identifies the connecting user. Grounded on go-server's
// internal/auth.Claims, trimmed to what this demonstration transport
// needs.
type claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

type jwtManager struct {
	secret   []byte
	duration time.Duration
}

func newJWTManager(secret string, duration time.Duration) *jwtManager {
	return &jwtManager{secret: []byte(secret), duration: duration}
}

func (m *jwtManager) generate(userID string) (string, error) {
	c := &claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.duration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(m.secret)
}

func (m *jwtManager) verify(tokenString string) (*claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return c, nil
}

// fromRequest extracts the JWT from the query string (the common case
// for WebSocket upgrades, which cannot set arbitrary headers from a
// browser) and falls back to the Authorization header.
func (m *jwtManager) fromRequest(r *http.Request) (*claims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		const prefix = "Bearer "
		h := r.Header.Get("Authorization")
		if len(h) > len(prefix) && h[:len(prefix)] == prefix {
			token = h[len(prefix):]
		}
	}
	if token == "" {
		return nil, errors.New("no token provided")
	}
	return m.verify(token)
}
