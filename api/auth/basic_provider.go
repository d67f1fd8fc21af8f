package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/gushil/kobocat/api/schema"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type BasicIdentityProvider struct {
	jwtManager *JwtManager
	db         *gorm.DB
	auditLog   AuditLogger
}

type BasicProviderArgs struct {
	Secret        []byte
	TokenTTL      time.Duration
	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

func NewBasicIdentityProvider(db *gorm.DB, auditLog AuditLogger, args BasicProviderArgs) (IdentityProvider, error) {
	if args.AdminUsername != "" {
		hashedPwd, err := bcrypt.GenerateFromPassword([]byte(args.AdminPassword), 10)
		if err != nil {
			return nil, fmt.Errorf("error encrypting admin password: %w", err)
		}

		err = addInitialAdminToDb(db, args.AdminUsername, args.AdminEmail, hashedPwd)
		if err != nil {
			return nil, fmt.Errorf("error adding inital admin to db: %w", err)
		}
	}

	ttl := args.TokenTTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}

	return &BasicIdentityProvider{
		jwtManager: NewJwtManager(args.Secret, ttl),
		db:         db,
		auditLog:   auditLog,
	}, nil
}

func (auth *BasicIdentityProvider) loadUser(w http.ResponseWriter, r *http.Request, claims map[string]interface{}) (schema.User, bool) {
	userId, err := userIdFromClaims(claims)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return schema.User{}, false
	}

	user, err := schema.GetUser(userId, auth.db.WithContext(r.Context()))
	if err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return schema.User{}, false
		}
		http.Error(w, fmt.Sprintf("unable to find user %v: %v", userId, err), http.StatusInternalServerError)
		return schema.User{}, false
	}

	if !user.IsActive {
		http.Error(w, ErrInactiveUser.Error(), http.StatusUnauthorized)
		return schema.User{}, false
	}

	return user, true
}

func withUser(r *http.Request, user schema.User) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userRequestContextKey, user))
}

func (auth *BasicIdentityProvider) addUserToContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			_, claims, err := jwtauth.FromContext(r.Context())
			if err != nil {
				http.Error(w, fmt.Sprintf("error retrieving auth claims: %v", err), http.StatusUnauthorized)
				return
			}

			user, ok := auth.loadUser(w, r, claims)
			if !ok {
				return
			}
			next.ServeHTTP(w, withUser(r, user))
		}
		return http.HandlerFunc(handler)
	}
}

// Requests without a token continue as the anonymous user, bad tokens are still rejected.
func (auth *BasicIdentityProvider) addOptionalUserToContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			token, claims, err := jwtauth.FromContext(r.Context())
			if errors.Is(err, jwtauth.ErrNoTokenFound) || (err == nil && token == nil) {
				next.ServeHTTP(w, withUser(r, schema.User{}))
				return
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			user, ok := auth.loadUser(w, r, claims)
			if !ok {
				return
			}
			next.ServeHTTP(w, withUser(r, user))
		}
		return http.HandlerFunc(handler)
	}
}

func (auth *BasicIdentityProvider) AuthMiddleware() chi.Middlewares {
	return chi.Middlewares{auth.jwtManager.Verifier(), auth.jwtManager.Authenticator(), auth.addUserToContext(), auth.auditLog.Middleware}
}

func (auth *BasicIdentityProvider) OptionalAuthMiddleware() chi.Middlewares {
	return chi.Middlewares{auth.jwtManager.Verifier(), auth.addOptionalUserToContext(), auth.auditLog.Middleware}
}

func (auth *BasicIdentityProvider) LoginWithUsername(username, password string) (LoginResult, error) {
	user, err := schema.GetUserByUsername(username, auth.db)
	if err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			return LoginResult{}, ErrUserNotFoundWithUsername
		}
		slog.Error("error looking up user by username", "error", err)
		return LoginResult{}, schema.ErrDbAccessFailed
	}

	if user.IsOrganization || len(user.Password) == 0 {
		return LoginResult{}, ErrInvalidCredentials
	}

	err = bcrypt.CompareHashAndPassword(user.Password, []byte(password))
	if err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	if !user.IsActive {
		return LoginResult{}, ErrInactiveUser
	}

	token, err := auth.jwtManager.CreateUserJwt(user.Id)
	if err != nil {
		return LoginResult{}, ErrGeneratingJwt
	}

	return LoginResult{UserId: user.Id, AccessToken: token}, nil
}
