package mirror_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/gushil/kobocat/api/mirror"
	"github.com/gushil/kobocat/api/schema"
	"github.com/gushil/kobocat/api/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshWritesNotes(t *testing.T) {
	db := testdb.Open(t)
	store := mirror.NewMemoryStore()
	m := mirror.NewSubmissionMirror(db, store)

	owner := testdb.CreateUser(t, db, "owner", false)
	form := testdb.CreateForm(t, db, owner, false)
	submission := testdb.CreateSubmission(t, db, form)

	note := schema.Note{Id: uuid.New(), SubmissionId: submission.Id, Note: "checked by supervisor", OwnerId: &owner.Id}
	require.NoError(t, db.Create(&note).Error)

	require.NoError(t, m.Refresh(context.Background(), submission.Id))

	doc, ok := store.Get(submission.Id)
	require.True(t, ok)
	assert.Equal(t, form.Id.String(), doc.FormId)
	assert.EqualValues(t, 30, doc.Data["age"])
	require.Len(t, doc.Notes, 1)
	assert.Equal(t, "checked by supervisor", doc.Notes[0].Note)
	assert.Equal(t, "owner", doc.Notes[0].Owner)

	require.NoError(t, db.Delete(&note).Error)
	require.NoError(t, m.Refresh(context.Background(), submission.Id))

	doc, ok = store.Get(submission.Id)
	require.True(t, ok)
	assert.Empty(t, doc.Notes)
}

func TestRefreshMissingSubmissionRemovesDocument(t *testing.T) {
	db := testdb.Open(t)
	store := mirror.NewMemoryStore()
	m := mirror.NewSubmissionMirror(db, store)

	id := uuid.New()
	require.NoError(t, store.Upsert(context.Background(), id, mirror.SubmissionDocument{SubmissionId: id.String()}))

	require.NoError(t, m.Refresh(context.Background(), id))

	_, ok := store.Get(id)
	assert.False(t, ok)
}

func TestBuildDocumentRejectsMalformedData(t *testing.T) {
	_, err := mirror.BuildDocument(schema.Submission{Id: uuid.New(), Json: []byte("{not json")})
	assert.Error(t, err)
}
