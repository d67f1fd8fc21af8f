// Package testdb opens throwaway sqlite databases with the full schema migrated.
package testdb

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/gushil/kobocat/api/schema"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// A file backed database so every pooled connection sees the same data.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "kobocat.db")
	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=on"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := db.AutoMigrate(schema.AllModels()...); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}

func CreateUser(t testing.TB, db *gorm.DB, username string, isAdmin bool) schema.User {
	t.Helper()

	user := schema.User{
		Id:                 uuid.New(),
		Username:           username,
		NormalizedUsername: schema.NormalizeUsername(username),
		Email:              username + "@mail.com",
		IsActive:           true,
		IsAdmin:            isAdmin,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatal(err)
	}
	return user
}

func CreateForm(t testing.TB, db *gorm.DB, owner schema.User, shared bool) schema.Form {
	t.Helper()

	form := schema.Form{
		Id:         uuid.New(),
		IdString:   "form_" + uuid.NewString()[:8],
		Title:      "household survey",
		SharedData: shared,
		OwnerId:    owner.Id,
	}
	if err := db.Create(&form).Error; err != nil {
		t.Fatal(err)
	}
	return form
}

func CreateSubmission(t testing.TB, db *gorm.DB, form schema.Form) schema.Submission {
	t.Helper()

	submission := schema.Submission{
		Id:     uuid.New(),
		FormId: form.Id,
		Json:   []byte(`{"age": 30}`),
	}
	if err := db.Create(&submission).Error; err != nil {
		t.Fatal(err)
	}
	return submission
}

func GrantView(t testing.TB, db *gorm.DB, user schema.User, form schema.Form) {
	t.Helper()

	grant := schema.RoleGrant{
		UserId:       user.Id,
		ResourceType: schema.FormResource,
		ResourceId:   form.Id,
		Capability:   schema.CapView,
	}
	if err := db.Create(&grant).Error; err != nil {
		t.Fatal(err)
	}
}
