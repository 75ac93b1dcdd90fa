package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tryon-server/internal/domain"
)

const channelPrefix = "tryon:jobs:"

// RedisPublisher mirrors job snapshots onto a per-job Redis channel so other
// processes can observe transitions. Delivery is best effort; a publish
// failure is logged and dropped because the poll-based query path still
// reflects the committed state.
type RedisPublisher struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher wraps an established Redis client.
func NewRedisPublisher(rdb *redis.Client, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, logger: logger}
}

type snapshot struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	ProviderJobID  string     `json:"provider_job_id,omitempty"`
	ResultImageKey string     `json:"result_image_key,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Publish sends the snapshot to tryon:jobs:{id}.
func (p *RedisPublisher) Publish(ctx context.Context, job *domain.TryOnJob) {
	if p == nil || p.rdb == nil || job == nil {
		return
	}
	payload, err := json.Marshal(snapshot{
		ID:             job.ID,
		Status:         string(job.Status),
		ProviderJobID:  job.ProviderJobID,
		ResultImageKey: job.ResultImageKey,
		ErrorMessage:   job.ErrorMessage,
		CompletedAt:    job.CompletedAt,
	})
	if err != nil {
		return
	}
	if err := p.rdb.Publish(ctx, channelPrefix+job.ID, payload).Err(); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("events: redis publish failed")
	}
}
