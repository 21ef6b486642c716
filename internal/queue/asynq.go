package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dubflow/api/internal/model"
	"github.com/dubflow/api/internal/pipeline"
)

// AsynqDispatcher enqueues durable tasks in redis.
type AsynqDispatcher struct {
	client  *asynq.Client
	timeout time.Duration
}

// NewAsynqDispatcher creates a dispatcher. Timeout bounds one task run.
func NewAsynqDispatcher(client *asynq.Client, timeout time.Duration) *AsynqDispatcher {
	return &AsynqDispatcher{client: client, timeout: timeout}
}

func (d *AsynqDispatcher) enqueue(ctx context.Context, task *asynq.Task) error {
	opts := []asynq.Option{
		asynq.Queue(QueueName),
		asynq.MaxRetry(3),
		asynq.Retention(24 * time.Hour),
	}
	if d.timeout > 0 {
		opts = append(opts, asynq.Timeout(d.timeout))
	}
	if _, err := d.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func (d *AsynqDispatcher) EnqueuePipeline(ctx context.Context, jobID string, from model.Step) error {
	task, err := NewPipelineTask(jobID, from)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return d.enqueue(ctx, task)
}

func (d *AsynqDispatcher) EnqueueRegeneration(ctx context.Context, jobID string, req pipeline.RegenerateRequest) error {
	task, err := NewRegenerateTask(jobID, req)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return d.enqueue(ctx, task)
}
