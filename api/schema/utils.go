package schema

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrProfileNotFound      = errors.New("profile not found")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrFormNotFound         = errors.New("form not found")
	ErrSubmissionNotFound   = errors.New("submission not found")
	ErrNoteNotFound         = errors.New("note not found")
	ErrDbAccessFailed       = errors.New("db access failed")
)

func GetUser(userId uuid.UUID, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user", "user_id", userId, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetUserByUsername(username string, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "normalized_username = ?", NormalizeUsername(username))
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user by username", "username", username, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

// Reports whether any account, person or organization, holds the username ignoring case.
func UsernameTaken(username string, db *gorm.DB) (bool, error) {
	var count int64
	result := db.Model(&User{}).Where("normalized_username = ?", NormalizeUsername(username)).Count(&count)
	if result.Error != nil {
		slog.Error("sql error checking username", "username", username, "error", result.Error)
		return false, ErrDbAccessFailed
	}
	return count > 0, nil
}

func userIdByUsername(username string, db *gorm.DB) *gorm.DB {
	return db.Model(&User{}).Select("id").Where("normalized_username = ?", NormalizeUsername(username))
}

func GetProfileByUsername(username string, db *gorm.DB) (UserProfile, error) {
	var profile UserProfile

	result := db.Preload("User").
		Where("user_id = (?)", userIdByUsername(username, db)).
		First(&profile)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return profile, ErrProfileNotFound
		}
		slog.Error("sql error in get profile", "username", username, "error", result.Error)
		return profile, ErrDbAccessFailed
	}

	return profile, nil
}

func GetOrganizationByUsername(org string, db *gorm.DB) (OrganizationProfile, error) {
	var organization OrganizationProfile

	result := db.Preload("User").Preload("Members").Preload("Members.User").
		Where("user_id = (?)", userIdByUsername(org, db)).
		First(&organization)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return organization, ErrOrganizationNotFound
		}
		slog.Error("sql error in get organization", "org", org, "error", result.Error)
		return organization, ErrDbAccessFailed
	}

	return organization, nil
}

func GetForm(formId uuid.UUID, db *gorm.DB) (Form, error) {
	var form Form

	result := db.First(&form, "id = ?", formId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return form, ErrFormNotFound
		}
		slog.Error("sql error in get form", "form_id", formId, "error", result.Error)
		return form, ErrDbAccessFailed
	}

	return form, nil
}

func GetSubmission(submissionId uuid.UUID, db *gorm.DB, loadForm bool) (Submission, error) {
	var submission Submission

	query := db
	if loadForm {
		query = query.Preload("Form")
	}
	result := query.First(&submission, "id = ?", submissionId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return submission, ErrSubmissionNotFound
		}
		slog.Error("sql error in get submission", "submission_id", submissionId, "error", result.Error)
		return submission, ErrDbAccessFailed
	}

	return submission, nil
}

func GetNote(noteId uuid.UUID, db *gorm.DB) (Note, error) {
	var note Note

	result := db.Preload("Submission").First(&note, "id = ?", noteId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return note, ErrNoteNotFound
		}
		slog.Error("sql error in get note", "note_id", noteId, "error", result.Error)
		return note, ErrDbAccessFailed
	}

	return note, nil
}
