package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kiranshivaraju/jobkeeper/internal/api/response"
	"github.com/kiranshivaraju/jobkeeper/internal/filing"
	"github.com/kiranshivaraju/jobkeeper/internal/jobs"
	"github.com/kiranshivaraju/jobkeeper/internal/store"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

// maxUploadBytes bounds the multipart form kept in memory per request.
const maxUploadBytes = 32 << 20

// JobService defines the interface the job handlers depend on.
type JobService interface {
	Create(ctx context.Context, p jobs.CreateParams) (*models.Job, error)
	Get(ctx context.Context, id int64) (*models.Job, error)
	GetBySlug(ctx context.Context, slug string) (*models.Job, error)
	SetState(ctx context.Context, id int64, state models.State) error
	SetStatus(ctx context.Context, id int64, status models.Status, duration *time.Duration) error
	Files(ctx context.Context, id int64) ([]*models.DataFile, error)
}

type jobView struct {
	ID         int64      `json:"id"`
	Type       string     `json:"type"`
	Identifier string     `json:"identifier,omitempty"`
	Slug       string     `json:"slug"`
	State      string     `json:"state"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	Closure    *time.Time `json:"closure,omitempty"`
	DurationMS *int64     `json:"duration_ms,omitempty"`
}

func viewOf(j *models.Job) jobView {
	v := jobView{
		ID:         j.ID,
		Type:       j.Type,
		Identifier: j.Identifier,
		Slug:       j.Slug,
		State:      j.State.String(),
		Status:     j.Status.String(),
		CreatedAt:  j.Timestamp,
		Closure:    j.Closure,
	}
	if j.Duration != nil {
		ms := j.Duration.Milliseconds()
		v.DurationMS = &ms
	}
	return v
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// The request is multipart/form-data: a "type" value, optional "identifier"
// and "slug" values, and one file part per required upload field.
func NewCreateJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Request body must be multipart/form-data", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		typ := r.FormValue("type")
		if typ == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"type is required", nil)
			return
		}

		params := jobs.CreateParams{
			Type:           typ,
			Identifier:     r.FormValue("identifier"),
			Slug:           r.FormValue("slug"),
			Uploads:        make(map[string]jobs.Upload),
			ResultsExistOK: r.FormValue("results_exist_ok") == "true",
		}

		for field, headers := range r.MultipartForm.File {
			if len(headers) == 0 {
				continue
			}
			f, err := headers[0].Open()
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"Could not read uploaded file "+field, nil)
				return
			}
			defer f.Close()
			params.Uploads[field] = jobs.Upload{
				Filename: headers[0].Filename,
				Content:  f,
			}
		}

		job, err := svc.Create(r.Context(), params)
		if err != nil {
			writeCreateError(w, err)
			return
		}

		response.Created(w, viewOf(job))
	}
}

func writeCreateError(w http.ResponseWriter, err error) {
	var missing *filing.MissingFileError
	switch {
	case errors.Is(err, jobs.ErrUnknownType):
		response.Error(w, http.StatusBadRequest, "UNKNOWN_JOB_TYPE",
			"No such job type is registered", nil)
	case errors.Is(err, jobs.ErrInvalidIdentifier):
		response.Error(w, http.StatusBadRequest, "INVALID_IDENTIFIER",
			"identifier must be at most 32 alphanumeric characters", nil)
	case errors.As(err, &missing):
		response.Error(w, http.StatusUnprocessableEntity, "MISSING_REQUIRED_FILE",
			"A required file is missing from the upload", map[string]string{"field": missing.Field})
	case errors.Is(err, filing.ErrNoFileRegistry):
		response.Error(w, http.StatusInternalServerError, "CONFIGURATION_ERROR",
			"Job type is not configured for required file promotion", nil)
	case errors.Is(err, store.ErrDuplicateKey):
		response.Error(w, http.StatusConflict, "SLUG_TAKEN",
			"A job with this slug already exists", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		job, err := svc.Get(r.Context(), id)
		if err != nil {
			writeLookupError(w, err)
			return
		}
		response.JSON(w, viewOf(job))
	}
}

// NewGetJobBySlugHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/by-slug/{slug}.
func NewGetJobBySlugHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
		if err != nil {
			writeLookupError(w, err)
			return
		}
		response.JSON(w, viewOf(job))
	}
}

// NewSetStateHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/state. Transitions are forward-only.
func NewSetStateHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}

		var req struct {
			State string `json:"state"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		state, err := models.ParseState(req.State)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"state must be one of created, submitted, running, completed", nil)
			return
		}

		if err := svc.SetState(r.Context(), id, state); err != nil {
			writeTransitionError(w, err)
			return
		}
		response.JSON(w, map[string]any{"id": id, "state": state.String()})
	}
}

// NewSetStatusHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/status. Status is terminal once non-active.
func NewSetStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}

		var req struct {
			Status     string `json:"status"`
			DurationMS *int64 `json:"duration_ms"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		status, err := models.ParseStatus(req.Status)
		if err != nil || status == models.StatusActive {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be succeeded or failed", nil)
			return
		}

		var dur *time.Duration
		if req.DurationMS != nil {
			d := time.Duration(*req.DurationMS) * time.Millisecond
			dur = &d
		}

		if err := svc.SetStatus(r.Context(), id, status, dur); err != nil {
			writeTransitionError(w, err)
			return
		}
		response.JSON(w, map[string]any{"id": id, "status": status.String()})
	}
}

// NewListFilesHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/files.
func NewListFilesHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		files, err := svc.Files(r.Context(), id)
		if err != nil {
			writeLookupError(w, err)
			return
		}
		if files == nil {
			files = []*models.DataFile{}
		}
		response.JSON(w, files)
	}
}

func jobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"jobID must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
		return
	}
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
		"An unexpected error occurred", nil)
}

func writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
	case errors.Is(err, store.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
