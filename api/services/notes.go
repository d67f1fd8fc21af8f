package services

import (
	"iter"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gushil/kobocat/api/auth"
	"github.com/gushil/kobocat/api/notes"
	"github.com/gushil/kobocat/api/schema"
	"github.com/gushil/kobocat/utils"
)

type NoteService struct {
	notes    *notes.Manager
	userAuth auth.IdentityProvider
}

func (s *NoteService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.OptionalAuthMiddleware()...)

		r.Get("/", s.List)
		r.Get("/{note_id}", s.Get)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Post("/", s.Create)
		r.Delete("/{note_id}", s.Delete)
	})

	return r
}

type noteResponse struct {
	Id        uuid.UUID  `json:"id"`
	Note      string     `json:"note"`
	Instance  uuid.UUID  `json:"instance"`
	Owner     *uuid.UUID `json:"owner"`
	CreatedAt time.Time  `json:"date_created"`
}

func convertToNoteResponse(note schema.Note) noteResponse {
	return noteResponse{
		Id:        note.Id,
		Note:      note.Note,
		Instance:  note.SubmissionId,
		Owner:     note.OwnerId,
		CreatedAt: note.CreatedAt,
	}
}

func (s *NoteService) List(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	var seq iter.Seq2[schema.Note, error]
	if instance := r.URL.Query().Get("instance"); instance != "" {
		submissionId, err := uuid.Parse(instance)
		if err != nil {
			http.Error(w, "invalid instance id: "+err.Error(), http.StatusBadRequest)
			return
		}
		seq = s.notes.ListForSubmission(r.Context(), user, submissionId)
	} else {
		seq = s.notes.ListVisible(r.Context(), user)
	}

	infos := []noteResponse{}
	for note, err := range seq {
		if err != nil {
			writeError(w, "error listing notes", err)
			return
		}
		infos = append(infos, convertToNoteResponse(note))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *NoteService) Get(w http.ResponseWriter, r *http.Request) {
	noteId, err := utils.URLParamUUID(r, "note_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	note, err := s.notes.Get(r.Context(), user, noteId)
	if err != nil {
		writeError(w, "error retrieving note", err)
		return
	}

	utils.WriteJsonResponse(w, convertToNoteResponse(note))
}

type createNoteRequest struct {
	Instance uuid.UUID `json:"instance"`
	Note     string    `json:"note"`
}

func (s *NoteService) Create(w http.ResponseWriter, r *http.Request) {
	var params createNoteRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	note, err := s.notes.Create(r.Context(), user, params.Instance, params.Note)
	if err != nil {
		writeError(w, "error creating note", err)
		return
	}

	utils.WriteJsonResponseWithStatus(w, http.StatusCreated, convertToNoteResponse(note))
}

func (s *NoteService) Delete(w http.ResponseWriter, r *http.Request) {
	noteId, err := utils.URLParamUUID(r, "note_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	if err := s.notes.Delete(r.Context(), user, noteId); err != nil {
		writeError(w, "error deleting note", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
