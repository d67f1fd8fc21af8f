package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/gushil/kobocat/api/errs"
	"github.com/gushil/kobocat/api/metrics"
	"github.com/gushil/kobocat/api/permissions"
	"github.com/gushil/kobocat/api/registration"
	"github.com/gushil/kobocat/api/schema"
	"github.com/gushil/kobocat/utils/logging"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Manager struct {
	db         *gorm.DB
	resolver   *permissions.Resolver
	dispatcher registration.Dispatcher
	reserved   ReservedNames
}

func NewManager(db *gorm.DB, resolver *permissions.Resolver, dispatcher registration.Dispatcher, reserved ReservedNames) *Manager {
	if reserved == nil {
		reserved = DefaultReservedNames()
	}
	return &Manager{db: db, resolver: resolver, dispatcher: dispatcher, reserved: reserved}
}

type CreateProfileRequest struct {
	Username     string          `json:"username"`
	Email        string          `json:"email"`
	Password     string          `json:"password"`
	Name         string          `json:"name"`
	City         string          `json:"city"`
	Country      string          `json:"country"`
	Organization string          `json:"organization"`
	Website      string          `json:"website"`
	Twitter      string          `json:"twitter"`
	RequireAuth  bool            `json:"require_auth"`
	Metadata     json.RawMessage `json:"metadata"`
}

// Nil fields are left unchanged.
type UpdateProfileRequest struct {
	Username     *string          `json:"username"`
	Email        *string          `json:"email"`
	Password     *string          `json:"password"`
	Name         *string          `json:"name"`
	City         *string          `json:"city"`
	Country      *string          `json:"country"`
	Organization *string          `json:"organization"`
	Website      *string          `json:"website"`
	Twitter      *string          `json:"twitter"`
	RequireAuth  *bool            `json:"require_auth"`
	Metadata     *json.RawMessage `json:"metadata"`
}

const requiredMessage = "This field is required."

func validateEmail(email string) string {
	if _, err := mail.ParseAddress(email); err != nil {
		return "Enter a valid email address."
	}
	return ""
}

func validateCountry(country string) string {
	if len(country) > 2 {
		return "Ensure this field has no more than 2 characters."
	}
	return ""
}

func validateMetadata(metadata json.RawMessage) string {
	if len(metadata) > 0 && !json.Valid(metadata) {
		return "Value must be valid JSON."
	}
	return ""
}

func hashPassword(password string) ([]byte, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	if err != nil {
		return nil, fmt.Errorf("error encrypting password: %w", err)
	}
	return hashed, nil
}

func clampRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return value
}

func recordRejected(invalid errs.ValidationErrors) {
	for field := range invalid {
		metrics.ValidationFailures.WithLabelValues(field).Inc()
	}
}

func (m *Manager) validateCreate(ctx context.Context, fields CreateProfileRequest) (errs.ValidationErrors, error) {
	invalid := errs.ValidationErrors{}

	if strings.TrimSpace(fields.Username) == "" {
		invalid.Add("username", requiredMessage)
	} else if _, err := m.ValidateUsername(ctx, fields.Username, Full); err != nil {
		fieldErrors, ok := errs.FieldErrors(err)
		if !ok {
			return nil, err
		}
		invalid.Merge(fieldErrors)
	}

	if fields.Email == "" {
		invalid.Add("email", requiredMessage)
	} else if msg := validateEmail(fields.Email); msg != "" {
		invalid.Add("email", msg)
	}

	if fields.Password == "" {
		invalid.Add("password", requiredMessage)
	}

	if msg := validateCountry(fields.Country); msg != "" {
		invalid.Add("country", msg)
	}
	if msg := validateMetadata(fields.Metadata); msg != "" {
		invalid.Add("metadata", msg)
	}

	return invalid, nil
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// CreateUserProfile registers a new account and its profile. Every rejected field is
// reported together in one ValidationErrors. A ConflictError means another request took
// the username between validation and insert.
func (m *Manager) CreateUserProfile(ctx context.Context, fields CreateProfileRequest, actingUser schema.User) (schema.UserProfile, error) {
	invalid, err := m.validateCreate(ctx, fields)
	if err != nil {
		return schema.UserProfile{}, err
	}
	if len(invalid) > 0 {
		recordRejected(invalid)
		return schema.UserProfile{}, invalid
	}

	hashedPwd, err := hashPassword(fields.Password)
	if err != nil {
		return schema.UserProfile{}, err
	}

	first, last := SplitName(fields.Name, nameFieldLimit)
	user := schema.User{
		Id:                 uuid.New(),
		Username:           fields.Username,
		NormalizedUsername: schema.NormalizeUsername(fields.Username),
		Email:              fields.Email,
		Password:           hashedPwd,
		FirstName:          clampRunes(first, nameFieldLimit),
		LastName:           clampRunes(last, nameFieldLimit),
		IsActive:           false,
	}

	profile := schema.UserProfile{
		Id:           uuid.New(),
		UserId:       user.Id,
		Name:         fields.Name,
		City:         fields.City,
		Country:      fields.Country,
		Organization: fields.Organization,
		HomePage:     fields.Website,
		Twitter:      fields.Twitter,
		RequireAuth:  fields.RequireAuth,
		Metadata:     datatypes.JSON(fields.Metadata),
	}
	if !actingUser.IsAnonymous() {
		profile.CreatedById = &actingUser.Id
	}

	err = m.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if result := txn.Create(&user); result.Error != nil {
			if isDuplicate(result.Error) {
				return errs.Conflict("username", fmt.Sprintf("%s already exists", user.NormalizedUsername), result.Error)
			}
			slog.Error("sql error creating user", "username", user.Username, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		// Accounts created through the api skip the email confirmation gate.
		if result := txn.Model(&user).Update("is_active", true); result.Error != nil {
			slog.Error("sql error activating user", "user_id", user.Id, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		if result := txn.Create(&profile); result.Error != nil {
			slog.Error("sql error creating user profile", "user_id", user.Id, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		return permissions.GrantAll(txn, user.Id, schema.ProfileRef(profile.Id))
	})
	if err != nil {
		return schema.UserProfile{}, fmt.Errorf("error creating user profile: %w", err)
	}
	user.IsActive = true
	profile.User = &user

	metrics.ProfilesCreated.Inc()
	slog.Info("user profile created", logging.Code(logging.PROFILE_CREATE), "user_id", user.Id, "username", user.Username)

	if err := m.dispatcher.SendActivation(ctx, user); err != nil {
		metrics.ActivationFailures.Inc()
		slog.Warn("activation message not sent", logging.Code(logging.ACTIVATION), "user_id", user.Id, "error", err)
	}

	return profile, nil
}

func (m *Manager) validateUpdate(fields UpdateProfileRequest, mode UpdateMode) errs.ValidationErrors {
	invalid := errs.ValidationErrors{}

	if fields.Country != nil {
		if msg := validateCountry(*fields.Country); msg != "" {
			invalid.Add("country", msg)
		}
	}
	if fields.Metadata != nil {
		if msg := validateMetadata(*fields.Metadata); msg != "" {
			invalid.Add("metadata", msg)
		}
	}

	// A password change on a full update re-checks the account form as a whole.
	if fields.Password != nil && mode == Full {
		if *fields.Password == "" {
			invalid.Add("password", requiredMessage)
		}
		if fields.Email != nil {
			if msg := validateEmail(*fields.Email); msg != "" {
				invalid.Add("email", msg)
			}
		}
	}

	return invalid
}

// UpdateUserProfile applies the supplied fields to an existing profile. Usernames are
// fixed at creation and a supplied username is ignored.
func (m *Manager) UpdateUserProfile(ctx context.Context, existing schema.UserProfile, fields UpdateProfileRequest, mode UpdateMode) (schema.UserProfile, error) {
	if invalid := m.validateUpdate(fields, mode); len(invalid) > 0 {
		recordRejected(invalid)
		return existing, invalid
	}

	if fields.Username != nil && schema.NormalizeUsername(*fields.Username) != schema.NormalizeUsername(existingUsername(existing)) {
		slog.Debug("ignoring username change on update", "profile_id", existing.Id, "mode", mode.String())
	}

	profileUpdates := map[string]interface{}{}
	if fields.Name != nil {
		profileUpdates["name"] = *fields.Name
	}
	if fields.City != nil {
		profileUpdates["city"] = *fields.City
	}
	if fields.Country != nil {
		profileUpdates["country"] = *fields.Country
	}
	if fields.Organization != nil {
		profileUpdates["organization"] = *fields.Organization
	}
	if fields.Website != nil {
		profileUpdates["home_page"] = *fields.Website
	}
	if fields.Twitter != nil {
		profileUpdates["twitter"] = *fields.Twitter
	}
	if fields.RequireAuth != nil {
		profileUpdates["require_auth"] = *fields.RequireAuth
	}
	if fields.Metadata != nil {
		profileUpdates["metadata"] = datatypes.JSON(*fields.Metadata)
	}

	userUpdates := map[string]interface{}{}
	if fields.Email != nil && *fields.Email != "" {
		userUpdates["email"] = *fields.Email
		userUpdates["email_verified"] = false
	}
	if fields.Name != nil && *fields.Name != "" {
		first, last := SplitName(*fields.Name, nameFieldLimit)
		userUpdates["first_name"] = clampRunes(first, nameFieldLimit)
		userUpdates["last_name"] = clampRunes(last, nameFieldLimit)
	}
	if fields.Password != nil && *fields.Password != "" {
		hashedPwd, err := hashPassword(*fields.Password)
		if err != nil {
			return existing, err
		}
		userUpdates["password"] = hashedPwd
	}

	err := m.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if len(profileUpdates) > 0 {
			if result := txn.Model(&schema.UserProfile{}).Where("id = ?", existing.Id).Updates(profileUpdates); result.Error != nil {
				slog.Error("sql error updating profile", "profile_id", existing.Id, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}
		if len(userUpdates) > 0 {
			if result := txn.Model(&schema.User{}).Where("id = ?", existing.UserId).Updates(userUpdates); result.Error != nil {
				slog.Error("sql error updating user", "user_id", existing.UserId, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}
		return nil
	})
	if err != nil {
		return existing, fmt.Errorf("error updating user profile: %w", err)
	}

	slog.Info("user profile updated", logging.Code(logging.PROFILE_UPDATE), "profile_id", existing.Id, "mode", mode.String())

	var updated schema.UserProfile
	result := m.db.WithContext(ctx).Preload("User").First(&updated, "id = ?", existing.Id)
	if result.Error != nil {
		slog.Error("sql error reloading profile", "profile_id", existing.Id, "error", result.Error)
		return existing, schema.ErrDbAccessFailed
	}
	return updated, nil
}

func existingUsername(profile schema.UserProfile) string {
	if profile.User == nil {
		return ""
	}
	return profile.User.Username
}

func (m *Manager) GetProfile(ctx context.Context, username string) (schema.UserProfile, error) {
	profile, err := schema.GetProfileByUsername(username, m.db.WithContext(ctx))
	if err != nil {
		if errors.Is(err, schema.ErrProfileNotFound) {
			return profile, errs.NotFound("profile", err)
		}
		return profile, err
	}
	return profile, nil
}
