package tryon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tryon-server/internal/domain"
	"tryon-server/internal/events"
	"tryon-server/internal/providers/replicate"
	"tryon-server/internal/quality"
	"tryon-server/internal/storage"
)

const (
	providerName = "replicate"
	signedURLTTL = time.Hour

	timeoutMessage = "processing timeout (exceeded 5 minutes)"

	defaultPollInterval    = 5 * time.Second
	defaultMaxPollAttempts = 60
)

// PredictionClient is the slice of the provider API the orchestrator drives.
type PredictionClient interface {
	CreatePrediction(ctx context.Context, input replicate.PredictionInput) (*replicate.Prediction, error)
	GetPrediction(ctx context.Context, id string) (*replicate.Prediction, error)
}

// Artifacts downloads and persists generated results.
type Artifacts interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	Persist(ctx context.Context, userID, jobID string, data []byte) (string, error)
}

// ResultValidator scores a generated result against its garment reference.
type ResultValidator interface {
	Validate(ctx context.Context, garmentURL, resultURL string, person *quality.PersonSignal) (*domain.QualityReport, error)
}

// Options tunes the polling policy. Zero values take the defaults (5 s
// interval, 60 attempts).
type Options struct {
	PollInterval    time.Duration
	MaxPollAttempts int
}

// Orchestrator owns the try-on job state machine. It is the single writer of
// job state; every observer, poll- or push-based, is a read-only projection.
type Orchestrator struct {
	repo        domain.TryOnJobRepository
	catalog     domain.CatalogRepository
	predictions PredictionClient
	artifacts   Artifacts
	validator   ResultValidator
	store       storage.ObjectStore
	publisher   events.Publisher
	logger      zerolog.Logger

	pollInterval    time.Duration
	maxPollAttempts int

	// baseCtx outlives individual requests so background polling keeps
	// running after the triggering HTTP call returns.
	baseCtx context.Context
	wg      sync.WaitGroup

	// finalizing dedupes concurrent finalizers per job so at most one
	// storage write happens; the repository CAS covers cross-process races.
	finalizing sync.Map
}

// NewOrchestrator wires the orchestrator. ctx bounds all background polling;
// cancel it during shutdown and call Wait.
func NewOrchestrator(
	ctx context.Context,
	repo domain.TryOnJobRepository,
	catalog domain.CatalogRepository,
	predictions PredictionClient,
	artifacts Artifacts,
	validator ResultValidator,
	store storage.ObjectStore,
	publisher events.Publisher,
	logger zerolog.Logger,
	opts Options,
) *Orchestrator {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	attempts := opts.MaxPollAttempts
	if attempts <= 0 {
		attempts = defaultMaxPollAttempts
	}
	return &Orchestrator{
		repo:            repo,
		catalog:         catalog,
		predictions:     predictions,
		artifacts:       artifacts,
		validator:       validator,
		store:           store,
		publisher:       publisher,
		logger:          logger,
		pollInterval:    interval,
		maxPollAttempts: attempts,
		baseCtx:         ctx,
	}
}

// Create allocates a pending job, submits it to the prediction provider and,
// on success, starts background polling. The caller gets the job back as soon
// as submission settles; it observes pending/processing (or failed when the
// provider rejected the input), never the final result.
func (o *Orchestrator) Create(ctx context.Context, userID, garmentID, photoID string) (*domain.TryOnJob, error) {
	job := &domain.TryOnJob{
		ID:          uuid.NewString(),
		UserID:      userID,
		GarmentID:   garmentID,
		UserPhotoID: photoID,
		Status:      domain.TryOnStatusPending,
		Provider:    providerName,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.repo.Create(ctx, job); err != nil {
		return nil, err
	}
	o.notify(ctx, job)

	prediction, err := o.submit(ctx, job)
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("tryon: submission failed")
		return o.fail(ctx, job.ID, err.Error())
	}

	if err := o.repo.MarkProcessing(ctx, job.ID, prediction.ID); err != nil {
		return nil, err
	}
	job.Status = domain.TryOnStatusProcessing
	job.ProviderJobID = prediction.ID
	o.notify(ctx, job)
	o.logger.Info().Str("job_id", job.ID).Str("prediction_id", prediction.ID).Msg("tryon: submitted")

	o.wg.Add(1)
	go o.pollLoop(job.ID, prediction.ID)

	return job, nil
}

// submit resolves signed URLs for the garment and user photo and creates the
// prediction.
func (o *Orchestrator) submit(ctx context.Context, job *domain.TryOnJob) (*replicate.Prediction, error) {
	garmentKey, category, err := o.catalog.GarmentImage(ctx, job.GarmentID)
	if err != nil {
		return nil, fmt.Errorf("load garment: %w", err)
	}
	photoKey, err := o.catalog.UserPhotoImage(ctx, job.UserPhotoID)
	if err != nil {
		return nil, fmt.Errorf("load user photo: %w", err)
	}
	garmentURL, err := o.store.SignedURL(ctx, storage.BucketGarments, garmentKey, signedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("sign garment url: %w", err)
	}
	photoURL, err := o.store.SignedURL(ctx, storage.BucketUserPhotos, photoKey, signedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("sign user photo url: %w", err)
	}
	return o.predictions.CreatePrediction(ctx, replicate.PredictionInput{
		GarmentURL: garmentURL,
		HumanURL:   photoURL,
		Category:   category,
	})
}

// pollLoop drives one job to a terminal state on its own goroutine. Every
// failure path writes back through the same compare-and-set used by
// finalization, so the loop can never leave the job dangling. The attempt cap
// is measured from submission and bounds total wait even when individual
// polls keep succeeding with a non-terminal status.
func (o *Orchestrator) pollLoop(jobID, predictionID string) {
	defer o.wg.Done()
	ctx := o.baseCtx

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= o.maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		prediction, err := o.predictions.GetPrediction(ctx, predictionID)
		if err != nil {
			// Transient by contract; only the attempt cap bounds the wait.
			o.logger.Warn().Err(err).Str("job_id", jobID).Int("attempt", attempt).Msg("tryon: poll failed")
			continue
		}

		done, err := o.applyPrediction(ctx, jobID, prediction)
		if err != nil {
			o.logger.Error().Err(err).Str("job_id", jobID).Msg("tryon: apply prediction failed")
			continue
		}
		if done {
			return
		}
	}

	if _, err := o.fail(ctx, jobID, timeoutMessage); err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("tryon: timeout finalize failed")
	}
}

// applyPrediction maps one provider observation onto the job. It returns true
// once the job is terminal.
func (o *Orchestrator) applyPrediction(ctx context.Context, jobID string, prediction *replicate.Prediction) (bool, error) {
	switch prediction.Status {
	case replicate.StatusSucceeded:
		if err := o.Finalize(ctx, jobID, prediction.Output); err != nil {
			return false, err
		}
		return true, nil
	case replicate.StatusFailed:
		msg := prediction.Error
		if msg == "" {
			msg = "AI processing failed"
		}
		_, err := o.fail(ctx, jobID, msg)
		return true, err
	case replicate.StatusCanceled:
		_, err := o.fail(ctx, jobID, "processing was canceled")
		return true, err
	default:
		return false, nil
	}
}

// Poll performs one on-demand status check. It is idempotent: a job already
// in a terminal state is returned untouched without a provider call, which
// makes racing the background loop safe.
func (o *Orchestrator) Poll(ctx context.Context, jobID string) (*domain.TryOnJob, error) {
	job, err := o.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() || job.ProviderJobID == "" {
		return job, nil
	}

	prediction, err := o.predictions.GetPrediction(ctx, job.ProviderJobID)
	if err != nil {
		if replicate.IsTransient(err) {
			o.logger.Warn().Err(err).Str("job_id", jobID).Msg("tryon: on-demand poll failed")
			return job, nil
		}
		return nil, err
	}
	if _, err := o.applyPrediction(ctx, jobID, prediction); err != nil {
		return nil, err
	}
	return o.repo.GetByID(ctx, jobID)
}

// Finalize persists the prediction output under the job-scoped key and
// completes the job. Concurrent invocations for the same job collapse to a
// single storage write; the status update is a compare-and-set, so whichever
// finalizer loses observes the terminal state and becomes a no-op. A
// download or persistence failure fails the job instead of leaving it in
// processing.
func (o *Orchestrator) Finalize(ctx context.Context, jobID, outputURL string) error {
	if _, loaded := o.finalizing.LoadOrStore(jobID, struct{}{}); loaded {
		return nil
	}
	defer o.finalizing.Delete(jobID)

	job, err := o.repo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	data, err := o.artifacts.Fetch(ctx, outputURL)
	if err != nil {
		_, ferr := o.fail(ctx, jobID, fmt.Sprintf("failed to save result: %v", err))
		return ferr
	}
	key, err := o.artifacts.Persist(ctx, job.UserID, job.ID, data)
	if err != nil {
		_, ferr := o.fail(ctx, jobID, fmt.Sprintf("failed to save result: %v", err))
		return ferr
	}

	changed, err := o.repo.Finalize(ctx, jobID, domain.TryOnStatusCompleted, key, "", time.Now().UTC())
	if err != nil {
		return err
	}
	if changed {
		job, err = o.repo.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		o.notify(ctx, job)
		o.logger.Info().Str("job_id", jobID).Str("result_key", key).Msg("tryon: completed")
	}
	return nil
}

// fail finalizes the job as failed with the given cause. When the job is
// already terminal the write is skipped and the stored state returned.
func (o *Orchestrator) fail(ctx context.Context, jobID, msg string) (*domain.TryOnJob, error) {
	changed, err := o.repo.Finalize(ctx, jobID, domain.TryOnStatusFailed, "", msg, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	job, err := o.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if changed {
		o.notify(ctx, job)
		o.logger.Info().Str("job_id", jobID).Str("cause", msg).Msg("tryon: failed")
	}
	return job, nil
}

// Get returns the stored job snapshot.
func (o *Orchestrator) Get(ctx context.Context, jobID string) (*domain.TryOnJob, error) {
	return o.repo.GetByID(ctx, jobID)
}

// List returns the user's jobs, newest first, optionally filtered by status.
func (o *Orchestrator) List(ctx context.Context, userID string, status domain.TryOnStatus) ([]domain.TryOnJob, error) {
	return o.repo.ListByUser(ctx, userID, status)
}

// Validate scores the generated result against its garment reference and
// attaches the report to the job. Job status is never modified here; a
// validation failure is surfaced to the caller and nothing else changes.
func (o *Orchestrator) Validate(ctx context.Context, jobID string, person *quality.PersonSignal) (*domain.QualityReport, error) {
	job, err := o.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.TryOnStatusCompleted || job.ResultImageKey == "" {
		return nil, domain.ErrNoResult
	}

	garmentKey, _, err := o.catalog.GarmentImage(ctx, job.GarmentID)
	if err != nil {
		return nil, fmt.Errorf("load garment: %w", err)
	}
	garmentURL, err := o.store.SignedURL(ctx, storage.BucketGarments, garmentKey, signedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("sign garment url: %w", err)
	}
	resultURL, err := o.store.SignedURL(ctx, storage.BucketResults, job.ResultImageKey, signedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("sign result url: %w", err)
	}

	report, err := o.validator.Validate(ctx, garmentURL, resultURL, person)
	if err != nil {
		return nil, err
	}
	if err := o.repo.AttachQuality(ctx, jobID, report); err != nil {
		return nil, err
	}
	job.Quality = report
	o.notify(ctx, job)
	return report, nil
}

// Delete removes the persisted result artifact, if any, then the job record.
// A job that failed before producing an artifact skips the storage step.
func (o *Orchestrator) Delete(ctx context.Context, jobID string) error {
	job, err := o.repo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.ResultImageKey != "" {
		if err := o.store.Delete(ctx, storage.BucketResults, job.ResultImageKey); err != nil {
			return fmt.Errorf("delete artifact: %w", err)
		}
	}
	return o.repo.Delete(ctx, jobID)
}

// Resume restarts background polling for jobs that were in flight when the
// process last stopped.
func (o *Orchestrator) Resume(ctx context.Context) error {
	jobs, err := o.repo.ListByStatus(ctx, domain.TryOnStatusProcessing)
	if err != nil {
		return err
	}
	for i := range jobs {
		job := jobs[i]
		if job.ProviderJobID == "" {
			if _, err := o.fail(ctx, job.ID, "interrupted before submission completed"); err != nil {
				o.logger.Error().Err(err).Str("job_id", job.ID).Msg("tryon: resume cleanup failed")
			}
			continue
		}
		o.wg.Add(1)
		go o.pollLoop(job.ID, job.ProviderJobID)
		o.logger.Info().Str("job_id", job.ID).Msg("tryon: resumed polling")
	}
	return nil
}

// Wait blocks until every background polling loop has returned. Cancel the
// constructor context first.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) notify(ctx context.Context, job *domain.TryOnJob) {
	if o.publisher == nil {
		return
	}
	o.publisher.Publish(ctx, job)
}
