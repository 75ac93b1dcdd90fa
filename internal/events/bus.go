package events

import (
	"context"
	"sync"

	"tryon-server/internal/domain"
)

// Publisher delivers job snapshots to observers. The orchestrator calls it
// after every durably committed transition, never before.
type Publisher interface {
	Publish(ctx context.Context, job *domain.TryOnJob)
}

// Fanout broadcasts each snapshot to every wrapped publisher.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, job *domain.TryOnJob) {
	for _, p := range f {
		p.Publish(ctx, job)
	}
}

const subscriberBuffer = 16

// Bus is an in-process publisher with per-job subscriptions. Observers are
// read-only projections of orchestrator state; the bus never feeds anything
// back into it.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan domain.TryOnJob
}

var _ Publisher = (*Bus)(nil)

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]chan domain.TryOnJob)}
}

// Subscribe registers for snapshots of one job. The returned cancel func
// releases the subscription and closes the channel; it is safe to call more
// than once.
func (b *Bus) Subscribe(jobID string) (<-chan domain.TryOnJob, func()) {
	ch := make(chan domain.TryOnJob, subscriberBuffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int]chan domain.TryOnJob)
	}
	b.subs[jobID][id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[jobID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(b.subs, jobID)
		}
	}
	return ch, cancel
}

// Publish delivers a copy of the snapshot to every subscriber of the job.
// A subscriber whose buffer is full misses the snapshot rather than blocking
// the orchestrator.
func (b *Bus) Publish(ctx context.Context, job *domain.TryOnJob) {
	if job == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[job.ID] {
		select {
		case ch <- *job:
		default:
		}
	}
}
