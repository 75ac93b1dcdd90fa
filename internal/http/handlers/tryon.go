package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tryon-server/internal/domain"
	"tryon-server/internal/quality"
	"tryon-server/internal/storage"
)

const resultURLTTL = time.Hour

type tryOnCreateRequest struct {
	GarmentID   string `json:"garment_id"`
	UserPhotoID string `json:"user_photo_id"`
}

type personPayload struct {
	FaceSimilarity     float64 `json:"face_similarity"`
	FaceDetectedSource bool    `json:"face_detected_source"`
	FaceDetectedResult bool    `json:"face_detected_result"`
}

type tryOnValidateRequest struct {
	Person *personPayload `json:"person"`
}

func (a *App) jobResponse(r *http.Request, job *domain.TryOnJob) map[string]any {
	resp := map[string]any{
		"id":            job.ID,
		"user_id":       job.UserID,
		"garment_id":    job.GarmentID,
		"user_photo_id": job.UserPhotoID,
		"status":        job.Status,
		"provider":      job.Provider,
		"created_at":    job.CreatedAt,
	}
	if job.ErrorMessage != "" {
		resp["error_message"] = job.ErrorMessage
	}
	if job.CompletedAt != nil {
		resp["completed_at"] = job.CompletedAt
	}
	if job.Quality != nil {
		resp["quality"] = job.Quality
	}
	if job.ResultImageKey != "" {
		url, err := a.Store.SignedURL(r.Context(), storage.BucketResults, job.ResultImageKey, resultURLTTL)
		if err != nil {
			a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("handlers: sign result url failed")
		} else {
			resp["result_url"] = url
		}
	}
	return resp
}

// TryOnCreate accepts a garment and photo pair and enqueues generation. The
// response carries the job as it stood when submission settled, so callers
// may see pending, processing or an immediate failure.
func (a *App) TryOnCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req tryOnCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.GarmentID == "" || req.UserPhotoID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "garment_id and user_photo_id are required")
		return
	}
	job, err := a.Service.Create(r.Context(), userID, req.GarmentID, req.UserPhotoID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "garment or user photo not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}
	a.json(w, http.StatusAccepted, a.jobResponse(r, job))
}

// TryOnList returns the caller's jobs, newest first. An optional status query
// narrows the result.
func (a *App) TryOnList(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	status := domain.TryOnStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		a.error(w, http.StatusBadRequest, "bad_request", "unknown status filter")
		return
	}
	jobs, err := a.Service.List(r.Context(), userID, status)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to list jobs")
		return
	}
	items := make([]map[string]any, 0, len(jobs))
	for i := range jobs {
		items = append(items, a.jobResponse(r, &jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": items})
}

func (a *App) TryOnGet(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.loadJobForUser(r.Context(), chi.URLParam(r, "job_id"), userID)
	if err != nil {
		a.notFoundOrInternal(w, err)
		return
	}
	a.json(w, http.StatusOK, a.jobResponse(r, job))
}

// TryOnPoll forces one provider status check and returns the refreshed job.
// Terminal jobs come back unchanged without touching the provider.
func (a *App) TryOnPoll(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.loadJobForUser(r.Context(), chi.URLParam(r, "job_id"), userID)
	if err != nil {
		a.notFoundOrInternal(w, err)
		return
	}
	job, err = a.Service.Poll(r.Context(), job.ID)
	if err != nil {
		a.error(w, http.StatusBadGateway, "provider_error", "status check failed")
		return
	}
	a.json(w, http.StatusOK, a.jobResponse(r, job))
}

// TryOnValidate scores the completed result and attaches the report. Person
// metrics are optional; when the request omits them the report is computed
// from image pixels alone.
func (a *App) TryOnValidate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.loadJobForUser(r.Context(), chi.URLParam(r, "job_id"), userID)
	if err != nil {
		a.notFoundOrInternal(w, err)
		return
	}
	var req tryOnValidateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
			return
		}
	}
	var person *quality.PersonSignal
	if req.Person != nil {
		person = &quality.PersonSignal{
			FaceSimilarity:     req.Person.FaceSimilarity,
			FaceDetectedSource: req.Person.FaceDetectedSource,
			FaceDetectedResult: req.Person.FaceDetectedResult,
		}
	}
	report, err := a.Service.Validate(r.Context(), job.ID, person)
	if err != nil {
		if errors.Is(err, domain.ErrNoResult) {
			a.error(w, http.StatusConflict, "no_result", "job has no result to validate")
			return
		}
		var verr *quality.ValidationError
		if errors.As(err, &verr) {
			a.error(w, http.StatusBadGateway, "validation_failed", "could not fetch images for validation")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "validation failed")
		return
	}
	a.json(w, http.StatusOK, report)
}

func (a *App) TryOnDelete(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.loadJobForUser(r.Context(), chi.URLParam(r, "job_id"), userID)
	if err != nil {
		a.notFoundOrInternal(w, err)
		return
	}
	if err := a.Service.Delete(r.Context(), job.ID); err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TryOnEvents streams job transitions as server-sent events. The current
// snapshot is sent immediately, then every committed transition until the job
// reaches a terminal state or the client disconnects.
func (a *App) TryOnEvents(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.loadJobForUser(r.Context(), chi.URLParam(r, "job_id"), userID)
	if err != nil {
		a.notFoundOrInternal(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	// Subscribe before the initial snapshot so transitions racing this
	// handler are not lost.
	ch, cancel := a.Bus.Subscribe(job.ID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent := func(j *domain.TryOnJob) bool {
		payload, err := json.Marshal(a.jobResponse(r, j))
		if err != nil {
			return false
		}
		if _, err := w.Write(append(append([]byte("data: "), payload...), '\n', '\n')); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeEvent(job) || job.Status.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case snapshot, ok := <-ch:
			if !ok {
				return
			}
			if !writeEvent(&snapshot) {
				return
			}
			if snapshot.Status.Terminal() {
				return
			}
		}
	}
}
