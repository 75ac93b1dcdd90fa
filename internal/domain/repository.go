package domain

import (
	"context"
	"time"
)

// TryOnJobRepository defines persistence for try-on jobs.
type TryOnJobRepository interface {
	Create(ctx context.Context, job *TryOnJob) error
	GetByID(ctx context.Context, id string) (*TryOnJob, error)
	ListByUser(ctx context.Context, userID string, status TryOnStatus) ([]TryOnJob, error)
	ListByStatus(ctx context.Context, status TryOnStatus) ([]TryOnJob, error)
	MarkProcessing(ctx context.Context, id, providerJobID string) error
	// Finalize moves a job from a non-terminal state into status, recording
	// resultKey or errMsg and the completion time. It is a compare-and-set:
	// when the job is already terminal it returns false and writes nothing.
	Finalize(ctx context.Context, id string, status TryOnStatus, resultKey, errMsg string, completedAt time.Time) (bool, error)
	AttachQuality(ctx context.Context, id string, report *QualityReport) error
	Delete(ctx context.Context, id string) error
}

// CatalogRepository exposes read-only image metadata for garments and user
// photos. Both tables are owned by the wardrobe subsystem; the orchestrator
// only resolves image keys from them.
type CatalogRepository interface {
	GarmentImage(ctx context.Context, id string) (key, category string, err error)
	UserPhotoImage(ctx context.Context, id string) (key string, err error)
}
