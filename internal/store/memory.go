package store

import (
	"context"
	"sync"

	"github.com/dubflow/api/internal/model"
)

// MemoryRepository keeps jobs in process memory. It is used by tests and
// single-node development setups.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]*model.Job)}
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (r *MemoryRepository) Put(_ context.Context, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *MemoryRepository) List(_ context.Context) ([]*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jobs := make([]*model.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job.Clone())
	}
	return jobs, nil
}
