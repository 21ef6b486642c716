// Package queue hands pipeline runs and audio regenerations to background
// workers, either through asynq or in-process goroutines.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dubflow/api/internal/model"
	"github.com/dubflow/api/internal/pipeline"
)

const (
	TaskTypePipeline   = "translation:pipeline"
	TaskTypeRegenerate = "translation:regenerate"

	QueueName = "translation"
)

// Dispatcher schedules background work for a job.
type Dispatcher interface {
	EnqueuePipeline(ctx context.Context, jobID string, from model.Step) error
	EnqueueRegeneration(ctx context.Context, jobID string, req pipeline.RegenerateRequest) error
}

// Runner executes the work a Dispatcher schedules.
type Runner interface {
	RunPipeline(ctx context.Context, jobID string, from model.Step) error
	RunRegeneration(ctx context.Context, jobID string, req pipeline.RegenerateRequest) error
}

type taskPayload struct {
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

type pipelinePayload struct {
	ResumeFrom string `json:"resumeFrom"`
}

func newTask(taskType, jobID string, payload interface{}) (*asynq.Task, error) {
	inner, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	data, err := json.Marshal(taskPayload{JobID: jobID, Payload: inner})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

// NewPipelineTask builds the task that runs jobID from step from.
func NewPipelineTask(jobID string, from model.Step) (*asynq.Task, error) {
	return newTask(TaskTypePipeline, jobID, pipelinePayload{ResumeFrom: from.String()})
}

// NewRegenerateTask builds the task that produces a new audio version.
func NewRegenerateTask(jobID string, req pipeline.RegenerateRequest) (*asynq.Task, error) {
	return newTask(TaskTypeRegenerate, jobID, req)
}

func decode(t *asynq.Task, into interface{}) (string, error) {
	var p taskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return "", fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if p.JobID == "" {
		return "", fmt.Errorf("task payload has no job id")
	}
	if err := json.Unmarshal(p.Payload, into); err != nil {
		return p.JobID, fmt.Errorf("failed to unmarshal %s payload: %w", t.Type(), err)
	}
	return p.JobID, nil
}

// ParsePipelineTask recovers the job id and start step of a pipeline task.
func ParsePipelineTask(t *asynq.Task) (string, model.Step, error) {
	var p pipelinePayload
	jobID, err := decode(t, &p)
	if err != nil {
		return jobID, 0, err
	}
	step, err := model.ParseStep(p.ResumeFrom)
	if err != nil {
		return jobID, 0, err
	}
	return jobID, step, nil
}

// ParseRegenerateTask recovers the job id and request of a regeneration task.
func ParseRegenerateTask(t *asynq.Task) (string, pipeline.RegenerateRequest, error) {
	var req pipeline.RegenerateRequest
	jobID, err := decode(t, &req)
	return jobID, req, err
}
