package notes_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gushil/kobocat/api/errs"
	"github.com/gushil/kobocat/api/notes"
	"github.com/gushil/kobocat/api/permissions"
	"github.com/gushil/kobocat/api/schema"
	"github.com/gushil/kobocat/api/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingMirror struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (m *recordingMirror) Refresh(ctx context.Context, submissionId uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, submissionId)
	return m.err
}

type fixture struct {
	db       *gorm.DB
	mirror   *recordingMirror
	manager  *notes.Manager
	owner    schema.User
	viewer   schema.User
	stranger schema.User
}

func setup(t *testing.T) fixture {
	db := testdb.Open(t)
	mirror := &recordingMirror{}
	return fixture{
		db:       db,
		mirror:   mirror,
		manager:  notes.NewManager(db, permissions.NewResolver(db), mirror),
		owner:    testdb.CreateUser(t, db, "owner", false),
		viewer:   testdb.CreateUser(t, db, "viewer", false),
		stranger: testdb.CreateUser(t, db, "stranger", false),
	}
}

func noteIds(t *testing.T, f fixture, user schema.User) []uuid.UUID {
	t.Helper()
	ids := []uuid.UUID{}
	for note, err := range f.manager.ListVisible(context.Background(), user) {
		require.NoError(t, err)
		ids = append(ids, note.Id)
	}
	return ids
}

func TestCreateGrantsAllCapabilities(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	form := testdb.CreateForm(t, f.db, f.owner, false)
	testdb.GrantView(t, f.db, f.viewer, form)
	submission := testdb.CreateSubmission(t, f.db, form)

	note, err := f.manager.Create(ctx, f.viewer, submission.Id, "looks right")
	require.NoError(t, err)

	resolver := permissions.NewResolver(f.db)
	for _, capability := range schema.AllCapabilities() {
		capable, err := resolver.Capable(ctx, f.viewer, schema.NoteRef(note.Id), capability, permissions.NotePolicy)
		require.NoError(t, err)
		assert.True(t, capable, capability)
	}

	assert.Equal(t, []uuid.UUID{submission.Id}, f.mirror.calls)
}

func TestCreateValidation(t *testing.T) {
	f := setup(t)

	_, err := f.manager.Create(context.Background(), f.owner, uuid.New(), "   ")

	var invalid errs.ValidationErrors
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid, "note")
	assert.Contains(t, invalid, "instance")
	assert.Empty(t, f.mirror.calls)
}

func TestCreateRequiresFormAccess(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	form := testdb.CreateForm(t, f.db, f.owner, false)
	submission := testdb.CreateSubmission(t, f.db, form)

	_, err := f.manager.Create(ctx, f.stranger, submission.Id, "hello")
	var authz *errs.AuthorizationError
	assert.ErrorAs(t, err, &authz)

	_, err = f.manager.Create(ctx, schema.User{}, submission.Id, "hello")
	assert.ErrorAs(t, err, &authz)

	var count int64
	require.NoError(t, f.db.Model(&schema.Note{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Empty(t, f.mirror.calls)

	shared := testdb.CreateForm(t, f.db, f.owner, true)
	sharedSubmission := testdb.CreateSubmission(t, f.db, shared)
	_, err = f.manager.Create(ctx, f.stranger, sharedSubmission.Id, "hello")
	assert.NoError(t, err)
}

func TestListVisible(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	privateForm := testdb.CreateForm(t, f.db, f.owner, false)
	sharedForm := testdb.CreateForm(t, f.db, f.owner, true)
	testdb.GrantView(t, f.db, f.owner, privateForm)
	testdb.GrantView(t, f.db, f.owner, sharedForm)
	testdb.GrantView(t, f.db, f.viewer, privateForm)

	privateNote, err := f.manager.Create(ctx, f.owner, testdb.CreateSubmission(t, f.db, privateForm).Id, "private")
	require.NoError(t, err)
	sharedNote, err := f.manager.Create(ctx, f.owner, testdb.CreateSubmission(t, f.db, sharedForm).Id, "shared")
	require.NoError(t, err)

	assert.ElementsMatch(t, []uuid.UUID{privateNote.Id, sharedNote.Id}, noteIds(t, f, f.viewer))
	assert.ElementsMatch(t, []uuid.UUID{sharedNote.Id}, noteIds(t, f, f.stranger))
	assert.ElementsMatch(t, []uuid.UUID{sharedNote.Id}, noteIds(t, f, schema.User{}))

	_, err = f.manager.Get(ctx, f.stranger, privateNote.Id)
	var notFound *errs.NotFoundError
	assert.ErrorAs(t, err, &notFound)

	got, err := f.manager.Get(ctx, f.viewer, privateNote.Id)
	require.NoError(t, err)
	assert.Equal(t, "private", got.Note)
}

func TestListVisibleIgnoresAdminFlag(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	admin := testdb.CreateUser(t, f.db, "admin", true)
	form := testdb.CreateForm(t, f.db, f.owner, false)
	testdb.GrantView(t, f.db, f.owner, form)
	_, err := f.manager.Create(ctx, f.owner, testdb.CreateSubmission(t, f.db, form).Id, "hidden")
	require.NoError(t, err)

	assert.Empty(t, noteIds(t, f, admin))
}

func TestListForSubmission(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	form := testdb.CreateForm(t, f.db, f.owner, true)
	first := testdb.CreateSubmission(t, f.db, form)
	second := testdb.CreateSubmission(t, f.db, form)

	note, err := f.manager.Create(ctx, f.owner, first.Id, "first")
	require.NoError(t, err)
	_, err = f.manager.Create(ctx, f.owner, second.Id, "second")
	require.NoError(t, err)

	found, err := schema.Collect(f.manager.ListForSubmission(ctx, f.viewer, first.Id))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, note.Id, found[0].Id)
}

func TestDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	form := testdb.CreateForm(t, f.db, f.owner, true)
	submission := testdb.CreateSubmission(t, f.db, form)
	note, err := f.manager.Create(ctx, f.owner, submission.Id, "remove me")
	require.NoError(t, err)

	err = f.manager.Delete(ctx, f.stranger, note.Id)
	var authz *errs.AuthorizationError
	assert.ErrorAs(t, err, &authz)

	require.NoError(t, f.manager.Delete(ctx, f.owner, note.Id))
	assert.Equal(t, []uuid.UUID{submission.Id, submission.Id}, f.mirror.calls)

	err = f.manager.Delete(ctx, f.owner, note.Id)
	var notFound *errs.NotFoundError
	assert.ErrorAs(t, err, &notFound)

	var grants int64
	require.NoError(t, f.db.Model(&schema.RoleGrant{}).Where("resource_id = ?", note.Id).Count(&grants).Error)
	assert.Zero(t, grants)
}

func TestMirrorFailureIsNotFatal(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mirror.err = errors.New("document store unavailable")

	form := testdb.CreateForm(t, f.db, f.owner, true)
	submission := testdb.CreateSubmission(t, f.db, form)

	note, err := f.manager.Create(ctx, f.owner, submission.Id, "still saved")
	require.NoError(t, err)

	_, err = schema.GetNote(note.Id, f.db)
	require.NoError(t, err)
	assert.Len(t, f.mirror.calls, 1)

	require.NoError(t, f.manager.Delete(ctx, f.owner, note.Id))
	assert.Len(t, f.mirror.calls, 2)
}
