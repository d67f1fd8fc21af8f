// Package mirror keeps a denormalised copy of each submission, with its notes, in a
// document store used for fast reads.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gushil/kobocat/api/metrics"
	"github.com/gushil/kobocat/api/schema"
	"github.com/gushil/kobocat/utils/logging"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

type Mirror interface {
	// Refresh rebuilds the secondary copy of the submission from the primary store.
	Refresh(ctx context.Context, submissionId uuid.UUID) error
}

type NoteDocument struct {
	Id        string    `json:"note_id"`
	Note      string    `json:"note"`
	Owner     string    `json:"owner,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type SubmissionDocument struct {
	SubmissionId string         `json:"submission_id"`
	FormId       string         `json:"form_id"`
	Data         map[string]any `json:"data"`
	Notes        []NoteDocument `json:"notes"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type DocumentStore interface {
	Upsert(ctx context.Context, id uuid.UUID, doc SubmissionDocument) error
	Delete(ctx context.Context, id uuid.UUID) error
	Close() error
}

type SubmissionMirror struct {
	db    *gorm.DB
	store DocumentStore
}

func NewSubmissionMirror(db *gorm.DB, store DocumentStore) *SubmissionMirror {
	return &SubmissionMirror{db: db, store: store}
}

func (m *SubmissionMirror) Refresh(ctx context.Context, submissionId uuid.UUID) error {
	timer := prometheus.NewTimer(metrics.MirrorRefresh)
	defer timer.ObserveDuration()

	var submission schema.Submission
	result := m.db.WithContext(ctx).
		Preload("Notes", func(db *gorm.DB) *gorm.DB { return db.Order("created_at") }).
		Preload("Notes.Owner").
		First(&submission, "id = ?", submissionId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Info("submission no longer exists, removing mirror", logging.Code(logging.MIRROR_SYNC), "submission_id", submissionId)
			return m.store.Delete(ctx, submissionId)
		}
		slog.Error("sql error loading submission for mirror", "submission_id", submissionId, "error", result.Error)
		return schema.ErrDbAccessFailed
	}

	doc, err := BuildDocument(submission)
	if err != nil {
		return err
	}

	if err := m.store.Upsert(ctx, submissionId, doc); err != nil {
		return fmt.Errorf("error writing mirror of submission %v: %w", submissionId, err)
	}
	return nil
}

// Requires Notes and Notes.Owner to be loaded.
func BuildDocument(submission schema.Submission) (SubmissionDocument, error) {
	doc := SubmissionDocument{
		SubmissionId: submission.Id.String(),
		FormId:       submission.FormId.String(),
		Data:         map[string]any{},
		Notes:        make([]NoteDocument, 0, len(submission.Notes)),
		UpdatedAt:    submission.UpdatedAt,
	}

	if len(submission.Json) > 0 {
		if err := json.Unmarshal(submission.Json, &doc.Data); err != nil {
			return doc, fmt.Errorf("submission %v has malformed data: %w", submission.Id, err)
		}
	}

	for _, note := range submission.Notes {
		noteDoc := NoteDocument{
			Id:        note.Id.String(),
			Note:      note.Note,
			CreatedAt: note.CreatedAt,
		}
		if note.Owner != nil {
			noteDoc.Owner = note.Owner.Username
		}
		doc.Notes = append(doc.Notes, noteDoc)
	}

	return doc, nil
}
