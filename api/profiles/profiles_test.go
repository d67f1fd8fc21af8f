package profiles_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/gushil/kobocat/api/errs"
	"github.com/gushil/kobocat/api/permissions"
	"github.com/gushil/kobocat/api/profiles"
	"github.com/gushil/kobocat/api/schema"
	"github.com/gushil/kobocat/api/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	users []string
	err   error
}

func (d *recordingDispatcher) SendActivation(ctx context.Context, user schema.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = append(d.users, user.Username)
	return d.err
}

func newManager(t *testing.T) (*profiles.Manager, *gorm.DB, *recordingDispatcher) {
	db := testdb.Open(t)
	dispatcher := &recordingDispatcher{}
	return profiles.NewManager(db, permissions.NewResolver(db), dispatcher, nil), db, dispatcher
}

func strPtr(s string) *string { return &s }

func createRequest(username string) profiles.CreateProfileRequest {
	return profiles.CreateProfileRequest{
		Username: username,
		Email:    username + "@mail.com",
		Password: "pa$$word",
		Name:     "Jane Field Worker",
		City:     "Nairobi",
		Country:  "KE",
		Website:  "https://example.org",
		Metadata: json.RawMessage(`{"lang":"sw"}`),
	}
}

func fieldErrors(t *testing.T, err error) errs.ValidationErrors {
	t.Helper()
	var invalid errs.ValidationErrors
	require.ErrorAs(t, err, &invalid)
	return invalid
}

func TestValidateUsername(t *testing.T) {
	manager, db, _ := newManager(t)
	ctx := context.Background()
	testdb.CreateUser(t, db, "alice", false)

	cases := []struct {
		candidate string
		message   string
	}{
		{"Admin", "admin is a reserved name, please choose another"},
		{"bad-name", "username may only contain alpha-numeric characters and underscores"},
		{"with space", "username may only contain alpha-numeric characters and underscores"},
		{"ALICE", "alice already exists"},
		{strings.Repeat("a", 151), "Ensure this field has no more than 150 characters."},
	}
	for _, c := range cases {
		_, err := manager.ValidateUsername(ctx, c.candidate, profiles.Full)
		assert.Equal(t, c.message, fieldErrors(t, err)["username"], c.candidate)
	}

	value, err := manager.ValidateUsername(ctx, strings.Repeat("a", 150), profiles.Full)
	require.NoError(t, err)
	assert.Len(t, value, 150)

	value, err = manager.ValidateUsername(ctx, "New_User1", profiles.Full)
	require.NoError(t, err)
	assert.Equal(t, "New_User1", value)

	value, err = manager.ValidateUsername(ctx, "admin", profiles.Partial)
	require.NoError(t, err)
	assert.Equal(t, "admin", value)
}

func TestCreateUserProfile(t *testing.T) {
	manager, db, dispatcher := newManager(t)
	ctx := context.Background()
	creator := testdb.CreateUser(t, db, "creator", false)

	profile, err := manager.CreateUserProfile(ctx, createRequest("Jane_Doe"), creator)
	require.NoError(t, err)

	user, err := schema.GetUser(profile.UserId, db)
	require.NoError(t, err)
	assert.True(t, user.IsActive)
	assert.Equal(t, "Jane_Doe", user.Username)
	assert.Equal(t, "jane_doe", user.NormalizedUsername)
	assert.Equal(t, "Jane", user.FirstName)
	assert.Equal(t, "Field Worker", user.LastName)
	assert.NoError(t, bcrypt.CompareHashAndPassword(user.Password, []byte("pa$$word")))

	stored, err := schema.GetProfileByUsername("jane_doe", db)
	require.NoError(t, err)
	require.NotNil(t, stored.CreatedById)
	assert.Equal(t, creator.Id, *stored.CreatedById)
	assert.Equal(t, "https://example.org", stored.HomePage)
	assert.JSONEq(t, `{"lang":"sw"}`, string(stored.Metadata))

	assert.Equal(t, []string{"Jane_Doe"}, dispatcher.users)

	capable, err := permissions.NewResolver(db).Capable(ctx, user, schema.ProfileRef(profile.Id), schema.CapView, permissions.ProfilePolicy)
	require.NoError(t, err)
	assert.True(t, capable)
}

func TestCreateUserProfileAnonymousCreator(t *testing.T) {
	manager, _, _ := newManager(t)

	profile, err := manager.CreateUserProfile(context.Background(), createRequest("solo"), schema.User{})
	require.NoError(t, err)
	assert.Nil(t, profile.CreatedById)
}

func TestCreateUserProfileAggregatesErrors(t *testing.T) {
	manager, db, dispatcher := newManager(t)

	_, err := manager.CreateUserProfile(context.Background(), profiles.CreateProfileRequest{Username: "admin", Country: "Kenya"}, schema.User{})
	invalid := fieldErrors(t, err)
	assert.Equal(t, "admin is a reserved name, please choose another", invalid["username"])
	assert.Contains(t, invalid, "email")
	assert.Contains(t, invalid, "password")
	assert.Contains(t, invalid, "country")

	var count int64
	require.NoError(t, db.Model(&schema.User{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Empty(t, dispatcher.users)
}

func TestCreateUserProfileDispatchFailureIsIgnored(t *testing.T) {
	manager, _, dispatcher := newManager(t)
	dispatcher.err = errors.New("smtp down")

	_, err := manager.CreateUserProfile(context.Background(), createRequest("resilient"), schema.User{})
	assert.NoError(t, err)
}

func TestCreateUserProfileInsertRace(t *testing.T) {
	manager, db, _ := newManager(t)

	// Another request claims the username after validation, inside the insert.
	err := db.Callback().Create().Before("gorm:create").Register("test:race", func(tx *gorm.DB) {
		if user, ok := tx.Statement.Dest.(*schema.User); ok && user.Username == "racer" {
			tx.Session(&gorm.Session{NewDB: true}).Exec(
				"INSERT INTO users (id, username, normalized_username) VALUES (?, ?, ?)",
				"00000000-0000-0000-0000-000000000001", "RACER", "racer")
		}
	})
	require.NoError(t, err)

	_, err = manager.CreateUserProfile(context.Background(), createRequest("racer"), schema.User{})

	var conflict *errs.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "username", conflict.Field)
}

func TestProjectProfile(t *testing.T) {
	manager, db, _ := newManager(t)
	ctx := context.Background()

	created, err := manager.CreateUserProfile(ctx, createRequest("subject"), schema.User{})
	require.NoError(t, err)
	profile, err := manager.GetProfile(ctx, "subject")
	require.NoError(t, err)

	owner := *created.User
	stranger := testdb.CreateUser(t, db, "stranger", false)
	admin := testdb.CreateUser(t, db, "admin_user", true)

	rep, err := manager.ProjectProfile(ctx, profile, owner)
	require.NoError(t, err)
	require.NotNil(t, rep.Email)
	assert.Equal(t, "subject@mail.com", *rep.Email)

	rep, err = manager.ProjectProfile(ctx, profile, admin)
	require.NoError(t, err)
	assert.NotNil(t, rep.Email)

	for _, viewer := range []schema.User{stranger, {}} {
		rep, err = manager.ProjectProfile(ctx, profile, viewer)
		require.NoError(t, err)
		assert.Nil(t, rep.Email)

		encoded, err := json.Marshal(rep)
		require.NoError(t, err)
		assert.NotContains(t, string(encoded), "email")
		assert.NotContains(t, string(encoded), "password")
	}

	assert.Equal(t, "subject", rep.Username)
	assert.False(t, rep.IsOrg)
	assert.Contains(t, rep.Gravatar, "https://secure.gravatar.com/avatar/")
}

func TestUpdateUserProfile(t *testing.T) {
	manager, db, _ := newManager(t)
	ctx := context.Background()

	_, err := manager.CreateUserProfile(ctx, createRequest("editor"), schema.User{})
	require.NoError(t, err)
	profile, err := manager.GetProfile(ctx, "editor")
	require.NoError(t, err)

	updated, err := manager.UpdateUserProfile(ctx, profile, profiles.UpdateProfileRequest{
		Username: strPtr("renamed"),
		Name:     strPtr("Grace Brewster Hopper"),
		City:     strPtr("Arlington"),
	}, profiles.Partial)
	require.NoError(t, err)

	assert.Equal(t, "Arlington", updated.City)
	assert.Equal(t, "Grace Brewster Hopper", updated.Name)
	assert.Equal(t, "editor", updated.User.Username)
	assert.Equal(t, "Grace", updated.User.FirstName)
	assert.Equal(t, "Brewster Hopper", updated.User.LastName)
	assert.Equal(t, "Nairobi", profile.City)

	_, err = schema.GetUserByUsername("renamed", db)
	assert.ErrorIs(t, err, schema.ErrUserNotFound)
}

func TestUpdateUserProfilePasswordModes(t *testing.T) {
	manager, db, _ := newManager(t)
	ctx := context.Background()

	_, err := manager.CreateUserProfile(ctx, createRequest("changer"), schema.User{})
	require.NoError(t, err)
	profile, err := manager.GetProfile(ctx, "changer")
	require.NoError(t, err)

	// Full updates re-check the form when the password changes.
	_, err = manager.UpdateUserProfile(ctx, profile, profiles.UpdateProfileRequest{
		Password: strPtr("n3w"),
		Email:    strPtr("not-an-email"),
		City:     strPtr("Lagos"),
	}, profiles.Full)
	assert.Contains(t, fieldErrors(t, err), "email")

	unchanged, err := schema.GetProfileByUsername("changer", db)
	require.NoError(t, err)
	assert.Equal(t, "Nairobi", unchanged.City)
	assert.NoError(t, bcrypt.CompareHashAndPassword(unchanged.User.Password, []byte("pa$$word")))

	// Partial updates skip that check.
	updated, err := manager.UpdateUserProfile(ctx, profile, profiles.UpdateProfileRequest{
		Password: strPtr("n3w"),
		Email:    strPtr("changer@new.org"),
	}, profiles.Partial)
	require.NoError(t, err)
	assert.Equal(t, "changer@new.org", updated.User.Email)
	assert.NoError(t, bcrypt.CompareHashAndPassword(updated.User.Password, []byte("n3w")))

	updated, err = manager.UpdateUserProfile(ctx, updated, profiles.UpdateProfileRequest{
		Password: strPtr("final"),
		Email:    strPtr("changer@final.org"),
	}, profiles.Full)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword(updated.User.Password, []byte("final")))
}

func TestCreateOrganization(t *testing.T) {
	manager, db, _ := newManager(t)
	ctx := context.Background()
	creator := testdb.CreateUser(t, db, "founder", false)

	org, err := manager.CreateOrganization(ctx, profiles.CreateOrganizationRequest{
		Org:   "Field_Team",
		Name:  "Field Team",
		Email: "team@mail.com",
	}, creator)
	require.NoError(t, err)

	rep := profiles.RepresentOrganization(org)
	assert.Equal(t, "Field_Team", rep.Org)
	assert.Equal(t, "Field Team", rep.Name)
	assert.Equal(t, []profiles.MemberRepresentation{{User: "founder", Role: schema.OrgOwner}}, rep.Users)
	assert.True(t, org.User.IsOrganization)

	capable, err := permissions.NewResolver(db).Capable(ctx, creator, schema.OrganizationRef(org.Id), schema.CapChange, permissions.ProfilePolicy)
	require.NoError(t, err)
	assert.True(t, capable)

	// Organization names collide with any account regardless of case.
	_, err = manager.CreateOrganization(ctx, profiles.CreateOrganizationRequest{Org: "field_team", Name: "Again"}, creator)
	assert.Equal(t, "Organization field_team already exists.", fieldErrors(t, err)["org"])

	_, err = manager.CreateOrganization(ctx, profiles.CreateOrganizationRequest{Org: "FOUNDER", Name: "Clash"}, creator)
	assert.Equal(t, "Organization founder already exists.", fieldErrors(t, err)["org"])
}

func TestCreateOrganizationRejections(t *testing.T) {
	manager, db, _ := newManager(t)
	ctx := context.Background()
	creator := testdb.CreateUser(t, db, "founder", false)

	_, err := manager.CreateOrganization(ctx, profiles.CreateOrganizationRequest{}, creator)
	assert.Equal(t, errs.ValidationErrors{"org": "org is required!", "name": "name is required!"}, fieldErrors(t, err))

	_, err = manager.CreateOrganization(ctx, profiles.CreateOrganizationRequest{Org: "API", Name: "x"}, creator)
	assert.Equal(t, "api is a reserved name, please choose another", fieldErrors(t, err)["org"])

	_, err = manager.CreateOrganization(ctx, profiles.CreateOrganizationRequest{Org: "no.dots", Name: "x"}, creator)
	assert.Equal(t, "organization may only contain alpha-numeric characters and underscores", fieldErrors(t, err)["org"])

	_, err = manager.CreateOrganization(ctx, profiles.CreateOrganizationRequest{Org: "valid", Name: "Valid"}, schema.User{})
	var authz *errs.AuthorizationError
	assert.ErrorAs(t, err, &authz)

	var count int64
	require.NoError(t, db.Model(&schema.OrganizationProfile{}).Count(&count).Error)
	assert.Zero(t, count)
}
