package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gushil/kobocat/api/auth"
	"github.com/gushil/kobocat/api/errs"
	"github.com/gushil/kobocat/api/metrics"
	"github.com/gushil/kobocat/api/mirror"
	"github.com/gushil/kobocat/api/permissions"
	"github.com/gushil/kobocat/api/schema"
	"github.com/gushil/kobocat/utils"
	"github.com/gushil/kobocat/utils/logging"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FormService struct {
	db       *gorm.DB
	resolver *permissions.Resolver
	mirror   mirror.Mirror
	userAuth auth.IdentityProvider
}

func (s *FormService) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(s.userAuth.OptionalAuthMiddleware()...).Get("/", s.List)

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Post("/", s.Create)
		r.Patch("/{form_id}", s.Patch)
		r.Post("/{form_id}/share", s.Share)
		r.Post("/{form_id}/submissions", s.Submit)
	})

	return r
}

type formResponse struct {
	Id         uuid.UUID `json:"id"`
	IdString   string    `json:"id_string"`
	Title      string    `json:"title"`
	SharedData bool      `json:"shared_data"`
	Owner      uuid.UUID `json:"owner"`
	CreatedAt  time.Time `json:"date_created"`
}

func convertToFormResponse(form schema.Form) formResponse {
	return formResponse{
		Id:         form.Id,
		IdString:   form.IdString,
		Title:      form.Title,
		SharedData: form.SharedData,
		Owner:      form.OwnerId,
		CreatedAt:  form.CreatedAt,
	}
}

// List returns the forms the caller can view. Passing ?shared=true also lists forms
// whose data is published.
func (s *FormService) List(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	var override clause.Expression
	if utils.IsTruthy(r.URL.Query().Get("shared")) {
		override = permissions.SharedData
	}

	infos := []formResponse{}
	for form, err := range s.resolver.VisibleForms(r.Context(), user, permissions.ProfilePolicy, override) {
		if err != nil {
			writeError(w, "error listing forms", err)
			return
		}
		infos = append(infos, convertToFormResponse(form))
	}

	utils.WriteJsonResponse(w, infos)
}

type createFormRequest struct {
	IdString   string `json:"id_string"`
	Title      string `json:"title"`
	SharedData bool   `json:"shared_data"`
}

func (s *FormService) Create(w http.ResponseWriter, r *http.Request) {
	var params createFormRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.IdString == "" {
		writeError(w, "error creating form", errs.Invalid("id_string", "This field is required."))
		return
	}

	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	form := schema.Form{
		Id:         uuid.New(),
		IdString:   params.IdString,
		Title:      params.Title,
		SharedData: params.SharedData,
		OwnerId:    user.Id,
	}

	err := s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if result := txn.Create(&form); result.Error != nil {
			slog.Error("sql error creating form", "id_string", form.IdString, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return permissions.GrantAll(txn, user.Id, schema.FormRef(form.Id))
	})
	if err != nil {
		writeError(w, "error creating form", err)
		return
	}

	utils.WriteJsonResponseWithStatus(w, http.StatusCreated, convertToFormResponse(form))
}

type patchFormRequest struct {
	SharedData *bool   `json:"shared_data"`
	Title      *string `json:"title"`
}

func (s *FormService) Patch(w http.ResponseWriter, r *http.Request) {
	formId, err := utils.URLParamUUID(r, "form_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params patchFormRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	var form schema.Form
	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		var err error
		form, err = checkFormExists(txn, formId)
		if err != nil {
			return err
		}

		err = requireCapability(r, s.resolver, user, schema.FormRef(form.Id), schema.CapChange, permissions.ProfilePolicy)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if params.SharedData != nil {
			updates["shared_data"] = *params.SharedData
		}
		if params.Title != nil {
			updates["title"] = *params.Title
		}
		if len(updates) == 0 {
			return nil
		}

		if result := txn.Model(&form).Updates(updates); result.Error != nil {
			slog.Error("sql error updating form", "form_id", form.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		writeError(w, "error updating form", err)
		return
	}

	if params.SharedData != nil {
		form.SharedData = *params.SharedData
	}
	if params.Title != nil {
		form.Title = *params.Title
	}

	utils.WriteJsonResponse(w, convertToFormResponse(form))
}

type shareFormRequest struct {
	Username string `json:"username"`
}

// Share gives another user the view capability on the form.
func (s *FormService) Share(w http.ResponseWriter, r *http.Request) {
	formId, err := utils.URLParamUUID(r, "form_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params shareFormRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		form, err := checkFormExists(txn, formId)
		if err != nil {
			return err
		}

		err = requireCapability(r, s.resolver, user, schema.FormRef(form.Id), schema.CapChange, permissions.ProfilePolicy)
		if err != nil {
			return err
		}

		grantee, err := schema.GetUserByUsername(params.Username, txn)
		if err != nil {
			if errors.Is(err, schema.ErrUserNotFound) {
				return errs.Invalid("username", fmt.Sprintf("User %s does not exist.", params.Username))
			}
			return err
		}

		return permissions.Grant(txn, grantee.Id, schema.FormRef(form.Id), schema.CapView)
	})
	if err != nil {
		writeError(w, "error sharing form", err)
		return
	}

	utils.WriteSuccess(w)
}

type submissionResponse struct {
	Id        uuid.UUID       `json:"id"`
	Form      uuid.UUID       `json:"form"`
	Json      json.RawMessage `json:"json"`
	CreatedAt time.Time       `json:"date_created"`
}

func (s *FormService) Submit(w http.ResponseWriter, r *http.Request) {
	formId, err := utils.URLParamUUID(r, "form_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params json.RawMessage
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	submission := schema.Submission{Id: uuid.New(), FormId: formId, Json: datatypes.JSON(params)}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		form, err := checkFormExists(txn, formId)
		if err != nil {
			return err
		}

		err = requireCapability(r, s.resolver, user, schema.FormRef(form.Id), schema.CapAdd, permissions.ProfilePolicy)
		if err != nil {
			return err
		}

		if result := txn.Create(&submission); result.Error != nil {
			slog.Error("sql error creating submission", "form_id", form.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})
	if err != nil {
		writeError(w, "error creating submission", err)
		return
	}

	if err := s.mirror.Refresh(r.Context(), submission.Id); err != nil {
		metrics.MirrorRefreshFailures.Inc()
		slog.Warn("mirror refresh failed", logging.Code(logging.MIRROR_SYNC), "submission_id", submission.Id, "error", err)
	}

	utils.WriteJsonResponseWithStatus(w, http.StatusCreated, submissionResponse{
		Id: submission.Id, Form: submission.FormId, Json: json.RawMessage(submission.Json), CreatedAt: submission.CreatedAt,
	})
}
