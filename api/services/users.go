package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gushil/kobocat/api/auth"
	"github.com/gushil/kobocat/api/profiles"
	"github.com/gushil/kobocat/api/registration"
	"github.com/gushil/kobocat/api/schema"
	"github.com/gushil/kobocat/utils"
)

type UserService struct {
	profiles  *profiles.Manager
	activator *registration.Activator
	userAuth  auth.IdentityProvider
}

func (s *UserService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.OptionalAuthMiddleware()...)

		r.Post("/signup", s.Signup)
	})

	r.Get("/login", s.Login)
	r.Get("/activate", s.Activate)

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Get("/me", s.Me)
	})

	return r
}

type signupResponse struct {
	UserId   string `json:"user_id"`
	Username string `json:"username"`
}

func (s *UserService) Signup(w http.ResponseWriter, r *http.Request) {
	var params profiles.CreateProfileRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	profile, err := s.profiles.CreateUserProfile(r.Context(), params, user)
	if err != nil {
		writeError(w, "signup failed", err)
		return
	}

	utils.WriteJsonResponseWithStatus(w, http.StatusCreated, signupResponse{
		UserId: profile.UserId.String(), Username: profile.User.Username,
	})
}

type loginResponse struct {
	UserId      string `json:"user_id"`
	AccessToken string `json:"access_token"`
}

func (s *UserService) Login(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()
	if !ok {
		http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
		return
	}

	login, err := s.userAuth.LoginWithUsername(username, password)
	if err != nil {
		responseCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, auth.ErrUserNotFoundWithUsername):
			responseCode = http.StatusNotFound
		case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInactiveUser):
			responseCode = http.StatusUnauthorized
		}
		http.Error(w, fmt.Sprintf("login failed: %v", err), responseCode)
		return
	}

	utils.WriteJsonResponse(w, loginResponse{UserId: login.UserId.String(), AccessToken: login.AccessToken})
}

type activateResponse struct {
	UserId        string `json:"user_id"`
	Username      string `json:"username"`
	EmailVerified bool   `json:"email_verified"`
}

func (s *UserService) Activate(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token query parameter", http.StatusBadRequest)
		return
	}

	user, err := s.activator.Activate(r.Context(), token)
	if err != nil {
		if errors.Is(err, registration.ErrInvalidActivationToken) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, fmt.Sprintf("activation failed: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, activateResponse{
		UserId: user.Id.String(), Username: user.Username, EmailVerified: user.EmailVerified,
	})
}

func (s *UserService) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	profile, err := s.profiles.GetProfile(r.Context(), user.Username)
	if err != nil {
		if errors.Is(err, schema.ErrProfileNotFound) {
			// Accounts seeded at startup have no profile row.
			utils.WriteJsonResponse(w, profiles.ProfileRepresentation{Id: user.Id, Username: user.Username, Email: &user.Email})
			return
		}
		writeError(w, "error retrieving profile", err)
		return
	}

	rep, err := s.profiles.ProjectProfile(r.Context(), profile, user)
	if err != nil {
		writeError(w, "error rendering profile", err)
		return
	}

	utils.WriteJsonResponse(w, rep)
}
