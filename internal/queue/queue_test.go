package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dubflow/api/internal/model"
	"github.com/dubflow/api/internal/pipeline"
)

func TestPipelineTask(t *testing.T) {
	task, err := NewPipelineTask("job-1", model.StepTranslate)
	require.NoError(t, err)
	assert.Equal(t, TaskTypePipeline, task.Type())
	assert.JSONEq(t, `{"jobId":"job-1","payload":{"resumeFrom":"translation"}}`, string(task.Payload()))

	jobID, step, err := ParsePipelineTask(task)
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
	assert.Equal(t, model.StepTranslate, step)

	_, _, err = ParsePipelineTask(asynq.NewTask(TaskTypePipeline, []byte(`{"jobId":"x","payload":{"resumeFrom":"mixing"}}`)))
	assert.Error(t, err)
	_, _, err = ParsePipelineTask(asynq.NewTask(TaskTypePipeline, []byte(`not json`)))
	assert.Error(t, err)
}

func TestRegenerateTask(t *testing.T) {
	req := pipeline.RegenerateRequest{
		Version:       3,
		VoiceMappings: map[string]string{"Speaker A": "nova"},
		SpeakingRate:  0.9,
		Source:        model.TranscriptSourceSource,
	}
	task, err := NewRegenerateTask("job-2", req)
	require.NoError(t, err)

	jobID, decoded, err := ParseRegenerateTask(task)
	require.NoError(t, err)
	assert.Equal(t, "job-2", jobID)
	assert.Equal(t, req, decoded)
}

type fakeRunner struct {
	mu      sync.Mutex
	running int
	peak    int
	release chan struct{}
	err     error
	steps   []model.Step
}

func (r *fakeRunner) RunPipeline(ctx context.Context, jobID string, from model.Step) error {
	r.mu.Lock()
	r.running++
	if r.running > r.peak {
		r.peak = r.running
	}
	r.steps = append(r.steps, from)
	r.mu.Unlock()

	if r.release != nil {
		<-r.release
	}

	r.mu.Lock()
	r.running--
	r.mu.Unlock()
	return r.err
}

func (r *fakeRunner) RunRegeneration(ctx context.Context, jobID string, req pipeline.RegenerateRequest) error {
	return r.err
}

func TestLocalDispatcher_ReportsResult(t *testing.T) {
	runner := &fakeRunner{err: errors.New("step failed")}
	d := NewLocalDispatcher(context.Background(), runner, 2, nil)

	assert.Nil(t, d.Done("job-1"))
	require.NoError(t, d.EnqueuePipeline(context.Background(), "job-1", model.StepMerge))

	select {
	case err := <-d.Done("job-1"):
		assert.EqualError(t, err, "step failed")
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
	assert.Equal(t, []model.Step{model.StepMerge}, runner.steps)

	require.NoError(t, d.EnqueueRegeneration(context.Background(), "job-1", pipeline.RegenerateRequest{Version: 2}))
	d.Wait()
	assert.EqualError(t, <-d.Done("job-1"), "step failed")

	assert.Error(t, d.EnqueuePipeline(context.Background(), "job-1", model.Step(0)))
}

func TestLocalDispatcher_BoundsConcurrency(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	d := NewLocalDispatcher(context.Background(), runner, 2, nil)

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, d.EnqueuePipeline(context.Background(), id, model.StepPreprocess))
	}
	time.Sleep(50 * time.Millisecond)
	close(runner.release)
	d.Wait()

	assert.LessOrEqual(t, runner.peak, 2)
	assert.Len(t, runner.steps, 4)
}

func TestLocalDispatcher_ForgetsOldResults(t *testing.T) {
	runner := &fakeRunner{}
	d := NewLocalDispatcher(context.Background(), runner, 1, nil)
	d.keepFinished = 2

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, d.EnqueuePipeline(context.Background(), id, model.StepPreprocess))
		d.Wait()
	}

	assert.Nil(t, d.Done("a"))
	assert.NotNil(t, d.Done("b"))
	assert.NotNil(t, d.Done("c"))
	assert.NoError(t, <-d.Done("c"))

	// A rerun replaces the finished result it supersedes
	require.NoError(t, d.EnqueuePipeline(context.Background(), "b", model.StepMerge))
	d.Wait()
	assert.NotNil(t, d.Done("b"))
	assert.NotNil(t, d.Done("c"))
	assert.Len(t, d.results, 2)
}
