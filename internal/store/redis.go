package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dubflow/api/internal/model"
)

const jobIndexKey = "jobs"

// RedisRepository stores each job as JSON under job:<id> and keeps the ids
// in a set for listing.
type RedisRepository struct {
	redis     *redis.Client
	retention time.Duration
}

// NewRedisRepository creates a repository. A retention of zero keeps jobs
// forever.
func NewRedisRepository(redisClient *redis.Client, retention time.Duration) *RedisRepository {
	return &RedisRepository{redis: redisClient, retention: retention}
}

func jobKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}

func (r *RedisRepository) Get(ctx context.Context, id string) (*model.Job, error) {
	data, err := r.redis.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

func (r *RedisRepository) Put(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), data, r.retention)
		pipe.SAdd(ctx, jobIndexKey, job.ID)
		return nil
	})
	return err
}

// List returns every stored job. Ids whose record has expired are pruned
// from the index.
func (r *RedisRepository) List(ctx context.Context) ([]*model.Job, error) {
	ids, err := r.redis.SMembers(ctx, jobIndexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	values, err := r.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]*model.Job, 0, len(values))
	var expired []interface{}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var job model.Job
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			return nil, fmt.Errorf("failed to decode job %s: %w", ids[i], err)
		}
		jobs = append(jobs, &job)
	}
	if len(expired) > 0 {
		r.redis.SRem(ctx, jobIndexKey, expired...)
	}
	return jobs, nil
}
