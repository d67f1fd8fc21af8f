package services

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gushil/kobocat/api/auth"
	"github.com/gushil/kobocat/api/errs"
	"github.com/gushil/kobocat/api/profiles"
	"github.com/gushil/kobocat/utils"
)

type OrganizationService struct {
	profiles *profiles.Manager
	userAuth auth.IdentityProvider
}

func (s *OrganizationService) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(s.userAuth.AuthMiddleware()...).Post("/", s.Create)
	r.With(s.userAuth.OptionalAuthMiddleware()...).Get("/{org}", s.Get)

	return r
}

// Rejected input is echoed back next to the field errors so clients can re-render it.
type rejectedOrganizationResponse struct {
	Error  string                            `json:"error"`
	Fields errs.ValidationErrors             `json:"fields"`
	Input  profiles.CreateOrganizationRequest `json:"input"`
}

func (s *OrganizationService) Create(w http.ResponseWriter, r *http.Request) {
	var params profiles.CreateOrganizationRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	org, err := s.profiles.CreateOrganization(r.Context(), params, user)
	if err != nil {
		var invalid errs.ValidationErrors
		if errors.As(err, &invalid) {
			utils.WriteJsonResponseWithStatus(w, http.StatusBadRequest, rejectedOrganizationResponse{
				Error: "error creating organization", Fields: invalid, Input: params,
			})
			return
		}
		writeError(w, "error creating organization", err)
		return
	}

	utils.WriteJsonResponseWithStatus(w, http.StatusCreated, profiles.RepresentOrganization(org))
}

func (s *OrganizationService) Get(w http.ResponseWriter, r *http.Request) {
	orgName, err := utils.URLParam(r, "org")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	org, err := s.profiles.GetOrganization(r.Context(), orgName)
	if err != nil {
		writeError(w, "error retrieving organization", err)
		return
	}

	utils.WriteJsonResponse(w, profiles.RepresentOrganization(org))
}
