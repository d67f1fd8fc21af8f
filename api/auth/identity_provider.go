package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gushil/kobocat/api/schema"
	"gorm.io/gorm"
)

var (
	ErrUserNotFoundWithUsername = errors.New("no user found for given username")
	ErrInvalidCredentials       = errors.New("invalid login credentials")
	ErrInactiveUser             = errors.New("user account is inactive")
	ErrGeneratingJwt            = errors.New("error generating jwt")
)

type LoginResult struct {
	UserId      uuid.UUID
	AccessToken string
}

type IdentityProvider interface {
	// Rejects requests without a valid token.
	AuthMiddleware() chi.Middlewares

	// Admits requests without a token as the anonymous user.
	OptionalAuthMiddleware() chi.Middlewares

	LoginWithUsername(username, password string) (LoginResult, error)
}

func addInitialAdminToDb(db *gorm.DB, username, email string, password []byte) error {
	user := schema.User{
		Id:                 uuid.New(),
		Username:           username,
		NormalizedUsername: schema.NormalizeUsername(username),
		Email:              email,
		Password:           password,
		IsActive:           true,
		IsAdmin:            true,
	}

	err := db.Transaction(func(txn *gorm.DB) error {
		var existingUser schema.User
		result := txn.Limit(1).Find(&existingUser, "normalized_username = ?", user.NormalizedUsername)
		if result.Error != nil {
			slog.Error("sql error checking if admin has already been added", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected == 0 {
			result := txn.Create(&user)
			if result.Error != nil {
				slog.Error("sql error creating initial admin user", "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error adding initial admin to db: %w", err)
	}

	return nil
}

type requestContextKey string

const userRequestContextKey requestContextKey = "user"

// UserFromContext returns the caller set by the auth middleware. Anonymous callers are
// the zero user.
func UserFromContext(r *http.Request) (schema.User, error) {
	userUntyped := r.Context().Value(userRequestContextKey)
	if userUntyped == nil {
		return schema.User{}, fmt.Errorf("user field not found in request context")
	}
	user, ok := userUntyped.(schema.User)
	if !ok {
		return schema.User{}, fmt.Errorf("invalid value for user field")
	}
	return user, nil
}
