package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gushil/kobocat/api/auth"
	"github.com/gushil/kobocat/api/errs"
	"github.com/gushil/kobocat/api/permissions"
	"github.com/gushil/kobocat/api/schema"
	"github.com/gushil/kobocat/utils"
	"gorm.io/gorm"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	code := errs.StatusCode(err)
	if code == http.StatusInternalServerError {
		slog.Error("unclassified error passed to GetResponseCode", "error", err)
	}
	return code
}

type errorResponse struct {
	Error  string                `json:"error"`
	Fields errs.ValidationErrors `json:"fields,omitempty"`
}

// writeError reports err with its status code, including per-field messages for
// validation and conflict errors.
func writeError(w http.ResponseWriter, action string, err error) {
	code := GetResponseCode(err)
	if fields, ok := errs.FieldErrors(err); ok {
		utils.WriteJsonResponseWithStatus(w, code, errorResponse{Error: action, Fields: fields})
		return
	}
	http.Error(w, fmt.Sprintf("%v: %v", action, err), code)
}

func requestUser(w http.ResponseWriter, r *http.Request) (schema.User, bool) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return schema.User{}, false
	}
	return user, true
}

func requireCapability(r *http.Request, resolver *permissions.Resolver, user schema.User, resource schema.Resource, capability schema.Capability, policy permissions.PolicyContext) error {
	capable, err := resolver.Capable(r.Context(), user, resource, capability, policy)
	if err != nil {
		return CodedError(err, http.StatusInternalServerError)
	}
	if !capable {
		return errs.Unauthorized("user does not have %v permission", schema.Codename(capability, resource.Type))
	}
	return nil
}

func checkFormExists(txn *gorm.DB, formId uuid.UUID) (schema.Form, error) {
	form, err := schema.GetForm(formId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrFormNotFound) {
			return form, CodedError(err, http.StatusNotFound)
		}
		return form, CodedError(err, http.StatusInternalServerError)
	}
	return form, nil
}
