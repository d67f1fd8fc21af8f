package registration

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gushil/kobocat/api/schema"
)

const tokenIssuer = "kobocat-activation"

var ErrInvalidActivationToken = errors.New("invalid activation token")

type activationClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenSigner issues and checks the signed tokens embedded in activation links.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenSigner(secret []byte, ttl time.Duration) *TokenSigner {
	return &TokenSigner{secret: secret, ttl: ttl}
}

func (s *TokenSigner) Sign(user schema.User) (string, error) {
	now := time.Now()
	claims := activationClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   user.Id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("error signing activation token: %w", err)
	}
	return token, nil
}

// Verify returns the user id and email the token was issued for.
func (s *TokenSigner) Verify(token string) (uuid.UUID, string, error) {
	claims := &activationClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: %v", ErrInvalidActivationToken, err)
	}

	userId, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: bad subject", ErrInvalidActivationToken)
	}

	return userId, claims.Email, nil
}
