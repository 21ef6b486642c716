// Package store persists translation jobs.
//
// Repository is the durable backend (memory, redis or postgres). Store sits
// in front of it with a cache and one lock per job, so read-modify-write
// updates of the same job never interleave and callers never share a
// pointer to cached state.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/dubflow/api/internal/model"
)

var ErrNotFound = errors.New("job not found")

// Repository is a durable job backend.
type Repository interface {
	Get(ctx context.Context, id string) (*model.Job, error)
	Put(ctx context.Context, job *model.Job) error
	List(ctx context.Context) ([]*model.Job, error)
}

// Store caches jobs in front of a Repository.
type Store struct {
	repo Repository

	mu    sync.Mutex
	cache map[string]*model.Job
	locks map[string]*sync.Mutex
}

func New(repo Repository) *Store {
	return &Store{
		repo:  repo,
		cache: make(map[string]*model.Job),
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) cached(id string) (*model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.cache[id]
	return job, ok
}

func (s *Store) remember(job *model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[job.ID] = job.Clone()
}

// Create saves a new job.
func (s *Store) Create(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	l := s.lockFor(job.ID)
	l.Lock()
	defer l.Unlock()

	if err := s.repo.Put(ctx, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	s.remember(job)
	return nil
}

// Get returns a copy of the job.
func (s *Store) Get(ctx context.Context, id string) (*model.Job, error) {
	if job, ok := s.cached(id); ok {
		return job.Clone(), nil
	}
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(job)
	return job.Clone(), nil
}

// Update applies fn to the current job under the job's lock and persists
// the result. Nothing is written when fn returns an error.
func (s *Store) Update(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(current); err != nil {
		return nil, err
	}
	if err := s.repo.Put(ctx, current); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	s.remember(current)
	return current.Clone(), nil
}

// ListByOwner returns the jobs of one owner, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID int64) ([]*model.Job, error) {
	jobs, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	owned := lo.Filter(jobs, func(j *model.Job, _ int) bool {
		return j.OwnerID == ownerID
	})
	sort.SliceStable(owned, func(i, k int) bool {
		return owned[i].CreatedAt.After(owned[k].CreatedAt)
	})
	return owned, nil
}
