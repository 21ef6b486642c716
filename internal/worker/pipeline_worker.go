package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/dubflow/api/internal/model"
	"github.com/dubflow/api/internal/pipeline"
	"github.com/dubflow/api/internal/queue"
	"github.com/dubflow/api/internal/store"
	"github.com/dubflow/api/pkg/logger"
)

// Engine is the part of the pipeline a worker drives.
type Engine interface {
	RunFrom(ctx context.Context, jobID string, from model.Step) error
	Resume(ctx context.Context, jobID string) error
	Regenerate(ctx context.Context, jobID string, req pipeline.RegenerateRequest) (*model.AudioVersion, error)
}

// PipelineWorker processes pipeline and regeneration tasks. It serves both
// the asynq server and the in-process dispatcher.
type PipelineWorker struct {
	engine     Engine
	logger     *slog.Logger
	retryCount func(ctx context.Context) (int, bool)
}

// NewPipelineWorker creates a new pipeline worker
func NewPipelineWorker(engine Engine, log *slog.Logger) *PipelineWorker {
	if log == nil {
		log = logger.Discard()
	}
	return &PipelineWorker{
		engine:     engine,
		logger:     log.With("component", "pipeline_worker"),
		retryCount: asynq.GetRetryCount,
	}
}

// Register installs the task handlers on mux.
func (w *PipelineWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(queue.TaskTypePipeline, w.ProcessPipelineTask)
	mux.HandleFunc(queue.TaskTypeRegenerate, w.ProcessRegenerateTask)
}

// RunPipeline runs jobID from step from.
func (w *PipelineWorker) RunPipeline(ctx context.Context, jobID string, from model.Step) error {
	w.logger.Info("Starting pipeline run", "job_id", jobID, "from", from.String())
	if err := w.engine.RunFrom(ctx, jobID, from); err != nil {
		return err
	}
	w.logger.Info("Pipeline run completed", "job_id", jobID)
	return nil
}

// ResumePipeline continues jobID from wherever its stored status and
// artifacts say, so no completed step runs again.
func (w *PipelineWorker) ResumePipeline(ctx context.Context, jobID string) error {
	w.logger.Info("Resuming pipeline run", "job_id", jobID)
	if err := w.engine.Resume(ctx, jobID); err != nil {
		return err
	}
	w.logger.Info("Pipeline run completed", "job_id", jobID)
	return nil
}

// RunRegeneration produces one new audio version.
func (w *PipelineWorker) RunRegeneration(ctx context.Context, jobID string, req pipeline.RegenerateRequest) error {
	w.logger.Info("Starting audio regeneration", "job_id", jobID, "version", req.Version)
	v, err := w.engine.Regenerate(ctx, jobID, req)
	if err != nil {
		return err
	}
	w.logger.Info("Audio regeneration completed", "job_id", jobID, "version", v.Version, "path", v.Path)
	return nil
}

// ProcessPipelineTask handles pipeline task processing. A redelivered task
// resumes the job instead of restarting at the enqueued step.
func (w *PipelineWorker) ProcessPipelineTask(ctx context.Context, t *asynq.Task) error {
	jobID, from, err := queue.ParsePipelineTask(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if retried, ok := w.retryCount(ctx); ok && retried > 0 {
		return w.retryable(w.ResumePipeline(ctx, jobID))
	}
	return w.retryable(w.RunPipeline(ctx, jobID, from))
}

// ProcessRegenerateTask handles regeneration task processing
func (w *PipelineWorker) ProcessRegenerateTask(ctx context.Context, t *asynq.Task) error {
	jobID, req, err := queue.ParseRegenerateTask(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return w.retryable(w.RunRegeneration(ctx, jobID, req))
}

// retryable leaves only infrastructure errors to asynq's retry. A job parked
// in a failed status, step-specific or generic, is retried by the user, not
// by the queue.
func (w *PipelineWorker) retryable(err error) error {
	if err == nil {
		return nil
	}
	var stepErr *pipeline.StepError
	var genericErr *pipeline.GenericError
	if errors.As(err, &stepErr) ||
		errors.As(err, &genericErr) ||
		errors.Is(err, pipeline.ErrJobNotCompleted) ||
		errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}
