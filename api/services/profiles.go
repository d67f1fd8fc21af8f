package services

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gushil/kobocat/api/auth"
	"github.com/gushil/kobocat/api/permissions"
	"github.com/gushil/kobocat/api/profiles"
	"github.com/gushil/kobocat/api/schema"
	"github.com/gushil/kobocat/utils"
)

type ProfileService struct {
	profiles *profiles.Manager
	resolver *permissions.Resolver
	userAuth auth.IdentityProvider
}

func (s *ProfileService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.OptionalAuthMiddleware()...)

		r.Post("/", s.Create)
		r.Get("/{username}", s.Get)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Put("/{username}", s.Update(profiles.Full))
		r.Patch("/{username}", s.Update(profiles.Partial))
	})

	return r
}

func (s *ProfileService) Create(w http.ResponseWriter, r *http.Request) {
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
		writeError(w, "error creating profile", err)
		return
	}

	rep, err := s.profiles.ProjectProfile(r.Context(), profile, user)
	if err != nil {
		writeError(w, "error rendering profile", err)
		return
	}

	utils.WriteJsonResponseWithStatus(w, http.StatusCreated, rep)
}

func (s *ProfileService) Get(w http.ResponseWriter, r *http.Request) {
	username, err := utils.URLParam(r, "username")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	profile, err := s.profiles.GetProfile(r.Context(), username)
	if err != nil {
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

func (s *ProfileService) Update(mode profiles.UpdateMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, err := utils.URLParam(r, "username")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var params profiles.UpdateProfileRequest
		if !utils.ParseRequestBody(w, r, &params) {
			return
		}

		user, ok := requestUser(w, r)
		if !ok {
			return
		}

		profile, err := s.profiles.GetProfile(r.Context(), username)
		if err != nil {
			writeError(w, "error retrieving profile", err)
			return
		}

		err = requireCapability(r, s.resolver, user, schema.ProfileRef(profile.Id), schema.CapChange, permissions.ProfilePolicy)
		if err != nil {
			writeError(w, "error updating profile", err)
			return
		}

		updated, err := s.profiles.UpdateUserProfile(r.Context(), profile, params, mode)
		if err != nil {
			writeError(w, "error updating profile", err)
			return
		}

		rep, err := s.profiles.ProjectProfile(r.Context(), updated, user)
		if err != nil {
			writeError(w, "error rendering profile", err)
			return
		}

		utils.WriteJsonResponse(w, rep)
	}
}
