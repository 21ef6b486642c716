// Package pipeline drives a translation job through its seven steps,
// persisting the job after every transition so an interrupted or failed run
// can be resumed from the right step.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dubflow/api/internal/artifact"
	"github.com/dubflow/api/internal/chunk"
	"github.com/dubflow/api/internal/metrics"
	"github.com/dubflow/api/internal/model"
	"github.com/dubflow/api/internal/synth"
	"github.com/dubflow/api/pkg/logger"
)

// Preprocessor cleans the uploaded audio and cuts it into chunks for
// speech-to-text.
type Preprocessor interface {
	Preprocess(ctx context.Context, inputPath, outputDir string) (cleanedPath, chunkDir string, err error)
}

// Transcriber writes a speaker-tagged transcript of every audio chunk in
// chunkDir to outputPath and returns that path.
type Transcriber interface {
	Transcribe(ctx context.Context, chunkDir, outputPath, sourceLang string) (string, error)
}

// Translator translates one chunk of speaker-tagged text, keeping the
// speaker labels unchanged.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// AudioGenerator speaks a transcript into one audio file.
type AudioGenerator interface {
	Generate(ctx context.Context, req synth.Request) (*synth.Result, error)
}

// Publisher copies the final audio somewhere clients can download it from.
type Publisher interface {
	PublishAudio(ctx context.Context, jobID, path string) (string, error)
}

// JobStore is the persistence the pipeline needs.
type JobStore interface {
	Get(ctx context.Context, id string) (*model.Job, error)
	Update(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error)
}

// Notifier pushes job events to subscribed clients.
type Notifier interface {
	BroadcastProgress(jobID string, progress int, status model.Status, message string)
	BroadcastComplete(jobID string, result interface{})
	BroadcastError(jobID string, code, message string)
}

// Engines groups the external collaborators of the pipeline.
type Engines struct {
	Preprocessor Preprocessor
	Transcriber  Transcriber
	Translator   Translator
	Audio        AudioGenerator
}

// Config holds the tunables of the text steps.
type Config struct {
	// ChunkWidth is the maximum translation chunk length in runes.
	ChunkWidth int
	// SpeakingRate is used for the version-1 audio.
	SpeakingRate float64
	// MaxLineLength is the line length above which cleaned text is flagged.
	MaxLineLength int
}

// StepError reports the step a pipeline run failed in.
type StepError struct {
	Step model.Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// GenericError reports a run that parked the job in generic FAILED.
type GenericError struct {
	Err error
}

func (e *GenericError) Error() string { return e.Err.Error() }

func (e *GenericError) Unwrap() error { return e.Err }

var ErrJobNotCompleted = errors.New("job is not completed")

// Pipeline runs jobs. It is safe for concurrent use on different jobs.
type Pipeline struct {
	store     JobStore
	layout    artifact.Layout
	engines   Engines
	processor *chunk.Processor
	notifier  Notifier
	publisher Publisher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a pipeline. A nil notifier drops events.
func New(store JobStore, layout artifact.Layout, engines Engines, processor *chunk.Processor, notifier Notifier, cfg Config, log *slog.Logger) *Pipeline {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Pipeline{
		store:     store,
		layout:    layout,
		engines:   engines,
		processor: processor,
		notifier:  notifier,
		cfg:       cfg,
		logger:    log.With("component", "pipeline"),
		now:       time.Now,
	}
}

// SetPublisher enables publishing the final audio after a successful run.
func (p *Pipeline) SetPublisher(pub Publisher) {
	p.publisher = pub
}

// Layout exposes the artifact layout the pipeline writes to.
func (p *Pipeline) Layout() artifact.Layout { return p.layout }

// Run executes a fresh job from the first step.
func (p *Pipeline) Run(ctx context.Context, jobID string) error {
	return p.RunFrom(ctx, jobID, model.StepPreprocess)
}

// Resume continues a job whose previous run was interrupted or failed. A job
// still holding an in-progress status re-enters the step it was running; a
// failed job re-enters where ResolveResume says. A job whose final audio
// already exists is marked completed.
func (p *Pipeline) Resume(ctx context.Context, jobID string) error {
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job.Status == model.StatusCompleted {
		return nil
	}
	if step, ok := job.Status.ActiveStep(); ok {
		return p.RunFrom(ctx, jobID, step)
	}
	r := ResolveResume(job, p.layout.For(job.ID, job.SourceLanguage, job.TargetLanguage), artifact.Exists)
	if r.Completed {
		return p.complete(ctx, jobID)
	}
	return p.RunFrom(ctx, jobID, r.Step)
}

// RunFrom executes from and every later step, stopping at the first failure.
// A step failure parks the job in that step's FAILED status and is returned
// as a *StepError; anything else that parks the job in generic FAILED,
// including a panic, is returned as a *GenericError.
func (p *Pipeline) RunFrom(ctx context.Context, jobID string, from model.Step) (err error) {
	log := p.logger.With("job_id", jobID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Pipeline panicked", "panic", r)
			err = p.failGeneric(ctx, jobID, fmt.Errorf("pipeline panic: %v", r))
		}
	}()

	if !from.Valid() {
		return p.failGeneric(ctx, jobID, fmt.Errorf("invalid start step %d", from))
	}

	if _, err := p.store.Update(persistCtx(ctx), jobID, func(j *model.Job) error {
		if j.StartedAt == nil {
			started := p.now()
			j.StartedAt = &started
		}
		j.CompletedAt = nil
		return nil
	}); err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	log.Info("Pipeline started", "from", from.String())
	for _, step := range from.From() {
		if err := p.runStep(ctx, jobID, step); err != nil {
			return err
		}
	}
	return p.complete(ctx, jobID)
}

// stepFunc runs one step against a snapshot of the job and returns the
// change to apply to the stored job on success.
type stepFunc func(ctx context.Context, job *model.Job, paths artifact.Paths) (func(*model.Job), error)

func (p *Pipeline) stepFunc(step model.Step) stepFunc {
	switch step {
	case model.StepPreprocess:
		return p.preprocess
	case model.StepTranscribe:
		return p.transcribe
	case model.StepFormat:
		return p.format
	case model.StepTranslate:
		return p.translate
	case model.StepMerge:
		return p.merge
	case model.StepClean:
		return p.clean
	case model.StepAudio:
		return p.generateAudio
	}
	return nil
}

func (p *Pipeline) runStep(ctx context.Context, jobID string, step model.Step) error {
	log := p.logger.With("job_id", jobID, "step", step.String())

	job, err := p.store.Update(persistCtx(ctx), jobID, func(j *model.Job) error {
		j.Status = step.ActiveStatus()
		j.Progress = step.EntryProgress()
		j.Message = step.Message()
		j.SetError("")
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist %s start: %w", step, err)
	}
	p.notifier.BroadcastProgress(jobID, job.Progress, job.Status, job.Message)
	log.Info("Step started")

	start := p.now()
	apply, runErr := p.stepFunc(step)(ctx, job, p.layout.For(job.ID, job.SourceLanguage, job.TargetLanguage))
	elapsed := p.now().Sub(start).Seconds()

	if runErr != nil {
		metrics.RecordStep(step.String(), "failed", elapsed)
		metrics.RecordJob(step.FailedStatus().String())
		log.Error("Step failed", "error", runErr)

		message := fmt.Sprintf("Failed during %s: %v", step, runErr)
		if _, err := p.store.Update(persistCtx(ctx), jobID, func(j *model.Job) error {
			j.Status = step.FailedStatus()
			j.Message = message
			j.SetError(runErr.Error())
			return nil
		}); err != nil {
			log.Error("Failed to persist step failure", "error", err)
		}
		p.notifier.BroadcastError(jobID, step.FailedStatus().String(), message)
		return &StepError{Step: step, Err: runErr}
	}

	job, err = p.store.Update(persistCtx(ctx), jobID, func(j *model.Job) error {
		apply(j)
		j.Progress = step.ExitProgress()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist %s result: %w", step, err)
	}
	metrics.RecordStep(step.String(), "success", elapsed)
	p.notifier.BroadcastProgress(jobID, job.Progress, job.Status, job.Message)
	log.Info("Step completed", "duration_s", elapsed)
	return nil
}

func (p *Pipeline) complete(ctx context.Context, jobID string) error {
	job, err := p.store.Update(persistCtx(ctx), jobID, func(j *model.Job) error {
		j.Status = model.StatusCompleted
		j.Progress = 100
		j.Message = "Translation completed successfully"
		j.SetError("")
		completed := p.now()
		j.CompletedAt = &completed
		if j.Artifacts.FinalTargetAudio == "" {
			paths := p.layout.For(j.ID, j.SourceLanguage, j.TargetLanguage)
			j.Artifacts.FinalTargetAudio = paths.FinalTargetAudio()
		}
		return nil
	})
	if err != nil {
		return p.failGeneric(ctx, jobID, fmt.Errorf("failed to persist completion: %w", err))
	}

	if p.publisher != nil {
		url, err := p.publisher.PublishAudio(ctx, jobID, job.Artifacts.FinalTargetAudio)
		if err != nil {
			p.logger.Warn("Failed to publish final audio", "job_id", jobID, "error", err)
		} else if url != "" {
			job, err = p.store.Update(persistCtx(ctx), jobID, func(j *model.Job) error {
				j.AudioURL = url
				return nil
			})
			if err != nil {
				p.logger.Warn("Failed to save audio URL", "job_id", jobID, "error", err)
			}
		}
	}

	metrics.RecordJob(model.StatusCompleted.String())
	p.notifier.BroadcastComplete(jobID, job)
	p.logger.Info("Pipeline completed", "job_id", jobID)
	return nil
}

// failGeneric parks a job in generic FAILED for errors that belong to no
// step and returns cause as a *GenericError.
func (p *Pipeline) failGeneric(ctx context.Context, jobID string, cause error) error {
	message := fmt.Sprintf("Processing failed: %v", cause)
	if _, err := p.store.Update(persistCtx(ctx), jobID, func(j *model.Job) error {
		j.Status = model.StatusFailed
		j.Message = message
		j.SetError(cause.Error())
		return nil
	}); err != nil {
		p.logger.Error("Failed to persist generic failure", "job_id", jobID, "error", err)
	}
	metrics.RecordJob(model.StatusFailed.String())
	p.notifier.BroadcastError(jobID, model.StatusFailed.String(), message)
	return &GenericError{Err: cause}
}

// persistCtx keeps job writes alive when the run itself is being canceled,
// so a shutdown still leaves a resumable status behind.
func persistCtx(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

type nopNotifier struct{}

func (nopNotifier) BroadcastProgress(string, int, model.Status, string) {}
func (nopNotifier) BroadcastComplete(string, interface{})               {}
func (nopNotifier) BroadcastError(string, string, string)               {}
