package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
)

type JwtManager struct {
	auth *jwtauth.JWTAuth
	ttl  time.Duration
}

func NewJwtManager(secret []byte, ttl time.Duration) *JwtManager {
	return &JwtManager{auth: jwtauth.New("HS256", secret, nil), ttl: ttl}
}

func (m *JwtManager) Verifier() func(http.Handler) http.Handler {
	return jwtauth.Verifier(m.auth)
}

func (m *JwtManager) Authenticator() func(http.Handler) http.Handler {
	return jwtauth.Authenticator(m.auth)
}

const userIdKey = "user_id"

func (m *JwtManager) CreateUserJwt(userId uuid.UUID) (string, error) {
	claims := map[string]interface{}{
		userIdKey: userId.String(),
		"exp":     time.Now().Add(m.ttl),
	}
	_, token, err := m.auth.Encode(claims)
	if err != nil {
		slog.Error("error generating jwt", "error", err)
		return "", fmt.Errorf("error generating access token: %w", err)
	}
	return token, nil
}

func userIdFromClaims(claims map[string]interface{}) (uuid.UUID, error) {
	valueUncasted, ok := claims[userIdKey]
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid token: unable to locate key %v in claims", userIdKey)
	}

	value, ok := valueUncasted.(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid token: value for key %v has invalid type", userIdKey)
	}

	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user uuid '%v': %w", value, err)
	}
	return id, nil
}
