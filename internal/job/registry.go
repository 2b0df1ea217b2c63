package job

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
)

var ErrJobNotFound = errors.New("job not found")

// Registry holds snapshots of recent jobs so their outcome can be retrieved
// after completion. Entries are retained for a fixed window measured from job
// creation, regardless of the state of the job.
type Registry struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]Job
	retention time.Duration
	now       func() time.Time
}

type RegistryOption func(*Registry)

func WithRegistryClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.now = clock
		}
	}
}

func NewRegistry(retention time.Duration, opts ...RegistryOption) *Registry {
	registry := &Registry{
		jobs:      make(map[uuid.UUID]Job),
		retention: retention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(registry)
	}

	return registry
}

// Record upserts a snapshot of the job. Recording the same state twice is a
// no-op, however a snapshot which would regress the stored state is rejected.
func (registry *Registry) Record(job Job) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if existing, ok := registry.jobs[job.ID]; ok {
		if existing.State != job.State && !existing.State.CanTransition(job.State) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, existing.State, job.State)
		}
	}

	registry.jobs[job.ID] = job
	return nil
}

// Lookup returns the job with the ID provided. ErrJobNotFound is returned if
// no such job exists, or if it has outlived the retention window (in which case
// it is also evicted).
func (registry *Registry) Lookup(id uuid.UUID) (Job, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	job, ok := registry.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}

	if registry.expired(job, registry.now()) {
		delete(registry.jobs, id)
		return Job{}, ErrJobNotFound
	}

	return job, nil
}

func (registry *Registry) Delete(id uuid.UUID) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	delete(registry.jobs, id)
}

// Sweep evicts every job which has outlived the retention window.
func (registry *Registry) Sweep() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	now := registry.now()
	removed := 0
	for id, job := range registry.jobs {
		if registry.expired(job, now) {
			delete(registry.jobs, id)
			removed++
		}
	}

	if removed > 0 {
		log.Emit(logger.REMOVE, "Cleaned up %d old job entries\n", removed)
	}

	return removed
}

func (registry *Registry) Len() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	return len(registry.jobs)
}

func (registry *Registry) expired(job Job, now time.Time) bool {
	return now.Sub(job.CreatedAt) > registry.retention
}
