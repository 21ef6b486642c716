package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dubflow/api/internal/model"
	"github.com/dubflow/api/internal/pipeline"
	"github.com/dubflow/api/pkg/logger"
)

// LocalDispatcher runs tasks in goroutines of the current process, at most
// concurrency at a time. Tasks are lost on restart; the resume logic picks
// the jobs up again on retry.
type LocalDispatcher struct {
	runner Runner
	ctx    context.Context
	slots  chan struct{}
	logger *slog.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	results  map[string]*taskResult
	finished []*taskResult
	// keepFinished bounds how many finished results stay readable via Done.
	keepFinished int
}

// defaultKeepFinished is the number of finished task results retained.
const defaultKeepFinished = 256

type taskResult struct {
	jobID string
	done  chan error
}

// NewLocalDispatcher creates a dispatcher whose tasks run under ctx.
func NewLocalDispatcher(ctx context.Context, runner Runner, concurrency int, log *slog.Logger) *LocalDispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = logger.Discard()
	}
	return &LocalDispatcher{
		runner:  runner,
		ctx:     ctx,
		slots:   make(chan struct{}, concurrency),
		logger:  log.With("component", "local_dispatcher"),
		results: make(map[string]*taskResult),

		keepFinished: defaultKeepFinished,
	}
}

func (d *LocalDispatcher) EnqueuePipeline(_ context.Context, jobID string, from model.Step) error {
	if !from.Valid() {
		return fmt.Errorf("invalid start step %d", from)
	}
	d.start(jobID, func(ctx context.Context) error {
		return d.runner.RunPipeline(ctx, jobID, from)
	})
	return nil
}

func (d *LocalDispatcher) EnqueueRegeneration(_ context.Context, jobID string, req pipeline.RegenerateRequest) error {
	d.start(jobID, func(ctx context.Context) error {
		return d.runner.RunRegeneration(ctx, jobID, req)
	})
	return nil
}

func (d *LocalDispatcher) start(jobID string, run func(ctx context.Context) error) {
	result := &taskResult{jobID: jobID, done: make(chan error, 1)}
	done := result.done
	d.mu.Lock()
	d.results[jobID] = result
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.retire(result)
		defer close(done)

		select {
		case d.slots <- struct{}{}:
		case <-d.ctx.Done():
			done <- d.ctx.Err()
			return
		}
		defer func() { <-d.slots }()

		err := run(d.ctx)
		if err != nil {
			d.logger.Warn("Task finished with error", "job_id", jobID, "error", err)
		}
		done <- err
	}()
}

// retire records a finished task and forgets the oldest finished results
// beyond keepFinished. A result superseded by a newer task is simply dropped.
func (d *LocalDispatcher) retire(result *taskResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.results[result.jobID] != result {
		return
	}
	d.finished = append(d.finished, result)
	for len(d.finished) > d.keepFinished {
		oldest := d.finished[0]
		d.finished[0] = nil
		d.finished = d.finished[1:]
		if d.results[oldest.jobID] == oldest {
			delete(d.results, oldest.jobID)
		}
	}
}

// Done returns the result channel of the latest task enqueued for jobID, or
// nil when none was or its result has been forgotten. The channel yields one
// value and is then closed.
func (d *LocalDispatcher) Done(jobID string) <-chan error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if result, ok := d.results[jobID]; ok {
		return result.done
	}
	return nil
}

// Wait blocks until every started task has returned.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}
