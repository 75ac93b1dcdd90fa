package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"tryon-server/internal/domain"
	"tryon-server/internal/events"
	"tryon-server/internal/quality"
	"tryon-server/internal/storage"
)

// TryOnService is the orchestration surface the handlers drive.
type TryOnService interface {
	Create(ctx context.Context, userID, garmentID, userPhotoID string) (*domain.TryOnJob, error)
	Get(ctx context.Context, id string) (*domain.TryOnJob, error)
	List(ctx context.Context, userID string, status domain.TryOnStatus) ([]domain.TryOnJob, error)
	Poll(ctx context.Context, id string) (*domain.TryOnJob, error)
	Validate(ctx context.Context, id string, person *quality.PersonSignal) (*domain.QualityReport, error)
	Delete(ctx context.Context, id string) error
}

type App struct {
	Service TryOnService
	Bus     *events.Bus
	Store   storage.ObjectStore
	Logger  zerolog.Logger
}

func NewApp(service TryOnService, bus *events.Bus, store storage.ObjectStore, logger zerolog.Logger) *App {
	return &App{Service: service, Bus: bus, Store: store, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}

// currentUserID reads the authenticated subject forwarded by the edge proxy.
func (a *App) currentUserID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// loadJobForUser fetches a job and hides its existence from other users.
func (a *App) loadJobForUser(ctx context.Context, jobID, userID string) (*domain.TryOnJob, error) {
	job, err := a.Service.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (a *App) notFoundOrInternal(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	a.error(w, http.StatusInternalServerError, "internal", "internal error")
}
