package domain

import "time"

// TryOnStatus enumerates try-on job lifecycle states.
type TryOnStatus string

const (
	TryOnStatusPending    TryOnStatus = "pending"
	TryOnStatusProcessing TryOnStatus = "processing"
	TryOnStatusCompleted  TryOnStatus = "completed"
	TryOnStatusFailed     TryOnStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s TryOnStatus) Terminal() bool {
	return s == TryOnStatusCompleted || s == TryOnStatusFailed
}

// Valid reports whether s is one of the four defined statuses.
func (s TryOnStatus) Valid() bool {
	switch s {
	case TryOnStatusPending, TryOnStatusProcessing, TryOnStatusCompleted, TryOnStatusFailed:
		return true
	default:
		return false
	}
}

// TryOnJob encapsulates one garment try-on driven against the prediction
// provider. Garment and user photo records are owned by the wardrobe
// subsystem; the job only references them.
//
// Invariants: ResultImageKey is non-empty iff the job completed, ErrorMessage
// is non-empty iff it failed, CompletedAt is set exactly once on reaching a
// terminal state.
type TryOnJob struct {
	ID             string
	UserID         string
	GarmentID      string
	UserPhotoID    string
	Status         TryOnStatus
	Provider       string
	ProviderJobID  string
	ResultImageKey string
	ErrorMessage   string
	CreatedAt      time.Time
	CompletedAt    *time.Time
	Quality        *QualityReport
}
