package notes

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/gushil/kobocat/api/errs"
	"github.com/gushil/kobocat/api/metrics"
	"github.com/gushil/kobocat/api/mirror"
	"github.com/gushil/kobocat/api/permissions"
	"github.com/gushil/kobocat/api/schema"
	"github.com/gushil/kobocat/utils/logging"
	"gorm.io/gorm"
)

type Manager struct {
	db       *gorm.DB
	resolver *permissions.Resolver
	mirror   mirror.Mirror
}

func NewManager(db *gorm.DB, resolver *permissions.Resolver, mirror mirror.Mirror) *Manager {
	return &Manager{db: db, resolver: resolver, mirror: mirror}
}

// Notes on submissions whose form the user may view, or whose form is shared.
func (m *Manager) visibleQuery(ctx context.Context, user schema.User) *gorm.DB {
	forms := m.resolver.VisibleFormsQuery(ctx, user, permissions.NotePolicy, permissions.SharedData).Select("forms.id")
	submissions := m.db.WithContext(ctx).Model(&schema.Submission{}).Select("id").Where("form_id IN (?)", forms)
	return m.db.WithContext(ctx).Model(&schema.Note{}).Where("submission_id IN (?)", submissions)
}

// ListVisible lazily yields every note the user may see, in store order.
func (m *Manager) ListVisible(ctx context.Context, user schema.User) iter.Seq2[schema.Note, error] {
	return func(yield func(schema.Note, error) bool) {
		for note, err := range schema.Stream[schema.Note](m.visibleQuery(ctx, user)) {
			if !yield(note, err) {
				return
			}
		}
	}
}

func (m *Manager) ListForSubmission(ctx context.Context, user schema.User, submissionId uuid.UUID) iter.Seq2[schema.Note, error] {
	return func(yield func(schema.Note, error) bool) {
		query := m.visibleQuery(ctx, user).Where("submission_id = ?", submissionId)
		for note, err := range schema.Stream[schema.Note](query) {
			if !yield(note, err) {
				return
			}
		}
	}
}

// Get returns a NotFoundError for notes the user cannot see.
func (m *Manager) Get(ctx context.Context, user schema.User, noteId uuid.UUID) (schema.Note, error) {
	var note schema.Note
	result := m.visibleQuery(ctx, user).Where("id = ?", noteId).First(&note)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return note, errs.NotFound("note", schema.ErrNoteNotFound)
		}
		slog.Error("sql error in get visible note", "note_id", noteId, "error", result.Error)
		return note, schema.ErrDbAccessFailed
	}
	return note, nil
}

func (m *Manager) Create(ctx context.Context, user schema.User, submissionId uuid.UUID, text string) (schema.Note, error) {
	if user.IsAnonymous() {
		return schema.Note{}, errs.Unauthorized("authentication required to add notes")
	}

	invalid := errs.ValidationErrors{}
	if strings.TrimSpace(text) == "" {
		invalid.Add("note", "This field is required.")
	}

	submission, err := schema.GetSubmission(submissionId, m.db.WithContext(ctx), true)
	if err != nil {
		if !errors.Is(err, schema.ErrSubmissionNotFound) {
			return schema.Note{}, err
		}
		invalid.Add("instance", fmt.Sprintf("Invalid pk \"%v\" - object does not exist.", submissionId))
	}

	if err := invalid.OrNil(); err != nil {
		return schema.Note{}, err
	}

	if !submission.Form.SharedData {
		canView, err := m.resolver.Capable(ctx, user, schema.FormRef(submission.FormId), schema.CapView, permissions.NotePolicy)
		if err != nil {
			return schema.Note{}, err
		}
		if !canView {
			return schema.Note{}, errs.Unauthorized("user %v cannot view form %v", user.Username, submission.FormId)
		}
	}

	note := schema.Note{
		Id:           uuid.New(),
		SubmissionId: submission.Id,
		Note:         text,
		OwnerId:      &user.Id,
	}

	err = m.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if result := txn.Create(&note); result.Error != nil {
			slog.Error("sql error creating note", "submission_id", submission.Id, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return permissions.GrantAll(txn, user.Id, schema.NoteRef(note.Id))
	})
	if err != nil {
		return schema.Note{}, fmt.Errorf("error creating note: %w", err)
	}

	metrics.NotesCreated.Inc()
	slog.Info("note created", logging.Code(logging.NOTE_CREATE), "note_id", note.Id, "submission_id", submission.Id, "user_id", user.Id)

	m.refresh(ctx, submission.Id)

	return note, nil
}

func (m *Manager) Delete(ctx context.Context, user schema.User, noteId uuid.UUID) error {
	note, err := schema.GetNote(noteId, m.db.WithContext(ctx))
	if err != nil {
		if errors.Is(err, schema.ErrNoteNotFound) {
			return errs.NotFound("note", err)
		}
		return err
	}

	canDelete, err := m.resolver.Capable(ctx, user, schema.NoteRef(note.Id), schema.CapDelete, permissions.NotePolicy)
	if err != nil {
		return err
	}
	if !canDelete {
		return errs.Unauthorized("user %v cannot delete note %v", user.Username, note.Id)
	}

	err = m.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := permissions.RevokeAll(txn, schema.NoteRef(note.Id)); err != nil {
			return err
		}
		if result := txn.Delete(&schema.Note{}, "id = ?", note.Id); result.Error != nil {
			slog.Error("sql error deleting note", "note_id", note.Id, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error deleting note: %w", err)
	}

	metrics.NotesDeleted.Inc()
	slog.Info("note deleted", logging.Code(logging.NOTE_DELETE), "note_id", note.Id, "submission_id", note.SubmissionId, "user_id", user.Id)

	m.refresh(ctx, note.SubmissionId)

	return nil
}

// A failed refresh leaves the mirror stale but never fails the operation.
func (m *Manager) refresh(ctx context.Context, submissionId uuid.UUID) {
	if err := m.mirror.Refresh(ctx, submissionId); err != nil {
		metrics.MirrorRefreshFailures.Inc()
		slog.Warn("mirror refresh failed", logging.Code(logging.MIRROR_SYNC), "submission_id", submissionId, "error", err)
	}
}
