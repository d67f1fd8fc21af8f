package permissions_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/gushil/kobocat/api/permissions"
	"github.com/gushil/kobocat/api/schema"
	"github.com/gushil/kobocat/api/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func formIds(t *testing.T, resolver *permissions.Resolver, user schema.User, policy permissions.PolicyContext, withShared bool) []uuid.UUID {
	t.Helper()

	override := permissions.SharedData
	if !withShared {
		override = nil
	}

	ids := []uuid.UUID{}
	for form, err := range resolver.VisibleForms(context.Background(), user, policy, override) {
		require.NoError(t, err)
		ids = append(ids, form.Id)
	}
	return ids
}

func TestVisibleFormsGrantsAndSharedData(t *testing.T) {
	db := testdb.Open(t)
	resolver := permissions.NewResolver(db)

	owner := testdb.CreateUser(t, db, "owner", false)
	viewer := testdb.CreateUser(t, db, "viewer", false)

	private := testdb.CreateForm(t, db, owner, false)
	granted := testdb.CreateForm(t, db, owner, false)
	shared := testdb.CreateForm(t, db, owner, true)

	testdb.GrantView(t, db, viewer, granted)

	assert.ElementsMatch(t, []uuid.UUID{granted.Id, shared.Id}, formIds(t, resolver, viewer, permissions.NotePolicy, true))
	assert.ElementsMatch(t, []uuid.UUID{granted.Id}, formIds(t, resolver, viewer, permissions.NotePolicy, false))
	assert.NotContains(t, formIds(t, resolver, viewer, permissions.NotePolicy, true), private.Id)
}

func TestVisibleFormsNoGrants(t *testing.T) {
	db := testdb.Open(t)
	resolver := permissions.NewResolver(db)

	owner := testdb.CreateUser(t, db, "owner", false)
	stranger := testdb.CreateUser(t, db, "stranger", false)
	testdb.CreateForm(t, db, owner, false)

	assert.Empty(t, formIds(t, resolver, stranger, permissions.NotePolicy, true))
	assert.Empty(t, formIds(t, resolver, schema.User{}, permissions.NotePolicy, false))
}

func TestVisibleFormsAnonymousSeesShared(t *testing.T) {
	db := testdb.Open(t)
	resolver := permissions.NewResolver(db)

	owner := testdb.CreateUser(t, db, "owner", false)
	testdb.CreateForm(t, db, owner, false)
	shared := testdb.CreateForm(t, db, owner, true)

	assert.Equal(t, []uuid.UUID{shared.Id}, formIds(t, resolver, schema.User{}, permissions.NotePolicy, true))
}

func TestGlobalGrantsOnlyWhenPolicyAllows(t *testing.T) {
	db := testdb.Open(t)
	resolver := permissions.NewResolver(db)

	owner := testdb.CreateUser(t, db, "owner", false)
	admin := testdb.CreateUser(t, db, "admin", true)
	form := testdb.CreateForm(t, db, owner, false)

	assert.Empty(t, formIds(t, resolver, admin, permissions.NotePolicy, true))
	assert.Equal(t, []uuid.UUID{form.Id}, formIds(t, resolver, admin, permissions.ProfilePolicy, false))

	ctx := context.Background()
	capable, err := resolver.Capable(ctx, admin, schema.FormRef(form.Id), schema.CapView, permissions.NotePolicy)
	require.NoError(t, err)
	assert.False(t, capable)

	capable, err = resolver.Capable(ctx, admin, schema.FormRef(form.Id), schema.CapView, permissions.ProfilePolicy)
	require.NoError(t, err)
	assert.True(t, capable)
}

func TestVisibleFormsIsRestartable(t *testing.T) {
	db := testdb.Open(t)
	resolver := permissions.NewResolver(db)

	owner := testdb.CreateUser(t, db, "owner", false)
	testdb.CreateForm(t, db, owner, true)
	testdb.CreateForm(t, db, owner, true)

	seq := resolver.VisibleForms(context.Background(), owner, permissions.NotePolicy, permissions.SharedData)

	count := 0
	for _, err := range seq {
		require.NoError(t, err)
		count++
		break
	}
	assert.Equal(t, 1, count)

	forms, err := schema.Collect(seq)
	require.NoError(t, err)
	assert.Len(t, forms, 2)
}

func TestGrantIsIdempotent(t *testing.T) {
	db := testdb.Open(t)
	resolver := permissions.NewResolver(db)

	user := testdb.CreateUser(t, db, "user", false)
	note := schema.NoteRef(uuid.New())

	require.NoError(t, permissions.GrantAll(db, user.Id, note))
	require.NoError(t, permissions.GrantAll(db, user.Id, note))

	var count int64
	require.NoError(t, db.Model(&schema.RoleGrant{}).Where("resource_id = ?", note.Id).Count(&count).Error)
	assert.EqualValues(t, 4, count)

	for _, capability := range schema.AllCapabilities() {
		capable, err := resolver.Capable(context.Background(), user, note, capability, permissions.NotePolicy)
		require.NoError(t, err)
		assert.True(t, capable, capability)
	}

	require.NoError(t, permissions.RevokeAll(db, note))
	capable, err := resolver.Capable(context.Background(), user, note, schema.CapView, permissions.NotePolicy)
	require.NoError(t, err)
	assert.False(t, capable)
}

func TestUnknownResourceTypePanics(t *testing.T) {
	db := testdb.Open(t)
	resolver := permissions.NewResolver(db)
	user := testdb.CreateUser(t, db, "user", false)

	assert.Panics(t, func() {
		_, _ = resolver.Capable(context.Background(), user, schema.Resource{Type: "widget", Id: uuid.New()}, schema.CapView, permissions.NotePolicy)
	})
}
