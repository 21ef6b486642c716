package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/dubflow/api/internal/artifact"
	"github.com/dubflow/api/internal/chunk"
	"github.com/dubflow/api/internal/lang"
	"github.com/dubflow/api/internal/model"
	"github.com/dubflow/api/internal/pipeline"
	"github.com/dubflow/api/internal/queue"
	"github.com/dubflow/api/internal/store"
	"github.com/dubflow/api/internal/transcript"
	"github.com/dubflow/api/pkg/logger"
)

var (
	ErrJobNotFound         = errors.New("job not found")
	ErrJobNotFailed        = errors.New("job is not in a failed state")
	ErrJobNotCompleted     = errors.New("job is not completed")
	ErrInvalidSpeakingRate = errors.New("speaking rate must be between 0.5 and 2.0")
	ErrTranscriptMissing   = errors.New("transcript is missing or has no speaker lines")
	ErrSameLanguage        = errors.New("source and target language must differ")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file exceeds the upload size limit")
	ErrTestModeDisabled    = errors.New("test mode is disabled")
	ErrUnknownStep         = errors.New("unknown pipeline step")
	ErrUnknownFileType     = errors.New("unknown file type")
	ErrFileNotAvailable    = errors.New("file is not available")
)

const (
	MinSpeakingRate = 0.5
	MaxSpeakingRate = 2.0
)

// AllowedExtensions are the accepted upload formats.
var AllowedExtensions = []string{".mp3", ".wav", ".m4a", ".flac"}

// Options configures a JobService.
type Options struct {
	MaxUploadBytes int64
	TestMode       bool
}

// JobService validates client requests against the job state and hands the
// accepted ones to the queue.
type JobService struct {
	store      *store.Store
	dispatcher queue.Dispatcher
	layout     artifact.Layout
	notifier   pipeline.Notifier
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

func NewJobService(st *store.Store, dispatcher queue.Dispatcher, layout artifact.Layout, notifier pipeline.Notifier, opts Options, log *slog.Logger) *JobService {
	if log == nil {
		log = logger.Discard()
	}
	return &JobService{
		store:      st,
		dispatcher: dispatcher,
		layout:     layout,
		notifier:   notifier,
		opts:       opts,
		logger:     log.With("component", "job_service"),
		now:        time.Now,
	}
}

// UploadInput is one uploaded media file.
type UploadInput struct {
	OwnerID        int64
	Filename       string
	Size           int64
	Body           io.Reader
	SourceLanguage string
	TargetLanguage string
}

// ValidateUpload checks everything about an upload that does not need the
// file body.
func (s *JobService) ValidateUpload(in *UploadInput) (source, target string, err error) {
	ext := strings.ToLower(filepath.Ext(in.Filename))
	if !lo.Contains(AllowedExtensions, ext) {
		return "", "", fmt.Errorf("%w: %q (allowed: %s)", ErrUnsupportedFileType, ext, strings.Join(AllowedExtensions, ", "))
	}
	if s.opts.MaxUploadBytes > 0 && in.Size > s.opts.MaxUploadBytes {
		return "", "", ErrFileTooLarge
	}
	source, err = lang.Normalize(in.SourceLanguage)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUnsupportedLanguage, err)
	}
	target, err = lang.Normalize(in.TargetLanguage)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUnsupportedLanguage, err)
	}
	if source == target {
		return "", "", ErrSameLanguage
	}
	return source, target, nil
}

// Upload stores the file and queues the pipeline from the first step.
func (s *JobService) Upload(ctx context.Context, in *UploadInput) (*model.UploadResponse, error) {
	source, target, err := s.ValidateUpload(in)
	if err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	paths := s.layout.For(jobID, source, target)
	dst := paths.Upload(in.Filename)
	if err := saveUpload(dst, in.Body, s.opts.MaxUploadBytes); err != nil {
		os.RemoveAll(paths.Dir())
		return nil, err
	}

	now := s.now()
	job := &model.Job{
		ID:               jobID,
		OwnerID:          in.OwnerID,
		OriginalFilename: filepath.Base(in.Filename),
		SourceLanguage:   source,
		TargetLanguage:   target,
		Status:           model.StatusUploaded,
		Message:          "File uploaded successfully",
		CreatedAt:        now,
		Artifacts:        model.ArtifactPaths{OriginalFile: dst},
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	if err := s.dispatcher.EnqueuePipeline(ctx, jobID, model.StepPreprocess); err != nil {
		s.park(ctx, jobID, err)
		return nil, err
	}

	s.logger.Info("Job created", "job_id", jobID, "owner_id", in.OwnerID, "source", source, "target", target)
	return &model.UploadResponse{
		JobID:          jobID,
		Status:         job.Status,
		Message:        "Translation job queued",
		SourceLanguage: source,
		TargetLanguage: target,
		CreatedAt:      now,
	}, nil
}

func saveUpload(dst string, body io.Reader, limit int64) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create upload: %w", err)
	}
	defer f.Close()

	if limit > 0 {
		body = io.LimitReader(body, limit+1)
	}
	n, err := io.Copy(f, body)
	if err != nil {
		return fmt.Errorf("failed to save upload: %w", err)
	}
	if limit > 0 && n > limit {
		return ErrFileTooLarge
	}
	return nil
}

// park moves a job that could not be queued into generic FAILED so it can
// be retried.
func (s *JobService) park(ctx context.Context, jobID string, cause error) {
	_, err := s.store.Update(context.WithoutCancel(ctx), jobID, func(j *model.Job) error {
		j.Status = model.StatusFailed
		j.Message = "Failed to queue job"
		j.SetError(cause.Error())
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to park job", "job_id", jobID, "error", err)
	}
}

func (s *JobService) get(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}

// update maps a missing job to ErrJobNotFound.
func (s *JobService) update(ctx context.Context, jobID string, fn func(*model.Job) error) (*model.Job, error) {
	job, err := s.store.Update(ctx, jobID, fn)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}

// GetStatus returns the current state of a job
func (s *JobService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.statusOf(job), nil
}

func (s *JobService) statusOf(job *model.Job) *model.JobStatusResponse {
	paths := s.pathsOf(job)
	resp := &model.JobStatusResponse{
		JobID:            job.ID,
		OwnerID:          job.OwnerID,
		Status:           job.Status,
		Progress:         job.Progress,
		Message:          job.Message,
		ErrorMessage:     job.ErrorMessage,
		OriginalFilename: job.OriginalFilename,
		SourceLanguage:   job.SourceLanguage,
		TargetLanguage:   job.TargetLanguage,
		CreatedAt:        job.CreatedAt,
		CompletedAt:      job.CompletedAt,
		RetryCount:       job.RetryCount,
		Files:            s.files(job, paths),
		AudioVersions:    job.AudioVersions,
		AudioURL:         job.AudioURL,
	}
	if job.Status == model.StatusTranslatingToTarget || job.Status == model.StatusFailedTranslatingToTarget {
		progress := chunk.Progress(paths.TranslationChunksDir())
		resp.Translation = &progress
	}
	return resp
}

func (s *JobService) pathsOf(job *model.Job) artifact.Paths {
	return s.layout.For(job.ID, job.SourceLanguage, job.TargetLanguage)
}

// files lists the downloadable artifacts that exist on disk.
func (s *JobService) files(job *model.Job, paths artifact.Paths) []model.ResultFile {
	files := []model.ResultFile{}
	add := func(fileType, path, language string, version int) {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return
		}
		files = append(files, model.ResultFile{
			Type:     fileType,
			Name:     filepath.Base(path),
			Language: language,
			Version:  version,
			Size:     info.Size(),
		})
	}

	add(model.FileTypeSourceTranscript, recorded(job.Artifacts.FormattedTranscript, paths.FormattedTranscript()), job.SourceLanguage, 0)
	add(model.FileTypeTargetTranscript, recorded(job.Artifacts.CleanedTranscript, paths.CleanedTranscript()), job.TargetLanguage, 0)
	add(model.FileTypeTargetAudio, recorded(job.Artifacts.FinalTargetAudio, paths.FinalTargetAudio()), job.TargetLanguage, 1)
	for _, v := range job.AudioVersions {
		add(model.FileTypeAudioVersion, v.Path, v.AudioLanguage, v.Version)
	}
	return files
}

func recorded(path, fallback string) string {
	if path != "" {
		return path
	}
	return fallback
}

// ListByOwner returns every job of one owner, newest first.
func (s *JobService) ListByOwner(ctx context.Context, ownerID int64) (*model.UserJobsResponse, error) {
	jobs, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	statuses := lo.Map(jobs, func(j *model.Job, _ int) model.JobStatusResponse {
		return *s.statusOf(j)
	})
	return &model.UserJobsResponse{
		OwnerID: ownerID,
		Jobs:    statuses,
		Total:   len(statuses),
	}, nil
}

// Retry resumes a failed job at the step the resume resolver picks. A job
// whose final audio already exists is completed without queuing anything.
func (s *JobService) Retry(ctx context.Context, jobID string) (*model.RetryResponse, error) {
	var resume pipeline.Resume
	job, err := s.update(ctx, jobID, func(j *model.Job) error {
		if !j.Status.IsFailed() {
			return ErrJobNotFailed
		}
		resume = pipeline.ResolveResume(j, s.pathsOf(j), artifact.Exists)
		j.RetryCount++
		j.SetError("")
		if resume.Completed {
			completed := s.now()
			j.Status = model.StatusCompleted
			j.Progress = 100
			j.Message = "Translation completed successfully"
			j.CompletedAt = &completed
			return nil
		}
		j.Status = resume.Step.ActiveStatus()
		j.Progress = resume.Step.EntryProgress()
		j.Message = fmt.Sprintf("Retrying from step: %s", resume.Step)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if resume.Completed {
		s.logger.Info("Retry found completed artifacts", "job_id", jobID)
		if s.notifier != nil {
			s.notifier.BroadcastComplete(jobID, s.statusOf(job))
		}
		return &model.RetryResponse{
			JobID:      jobID,
			Status:     job.Status,
			ResumeFrom: "completed",
			Message:    job.Message,
		}, nil
	}

	if err := s.dispatcher.EnqueuePipeline(ctx, jobID, resume.Step); err != nil {
		s.park(ctx, jobID, err)
		return nil, err
	}

	s.logger.Info("Job retry queued", "job_id", jobID, "from", resume.Step.String(), "retry_count", job.RetryCount)
	if s.notifier != nil {
		s.notifier.BroadcastProgress(jobID, job.Progress, job.Status, job.Message)
	}
	return &model.RetryResponse{
		JobID:      jobID,
		Status:     job.Status,
		ResumeFrom: resume.Step.String(),
		Message:    job.Message,
	}, nil
}

// RegenerateAudio queues a new audio version of a completed job.
func (s *JobService) RegenerateAudio(ctx context.Context, jobID string, req *model.RegenerateAudioRequest) (*model.RegenerateAudioResponse, error) {
	if req.SpeakingRate < MinSpeakingRate || req.SpeakingRate > MaxSpeakingRate {
		return nil, ErrInvalidSpeakingRate
	}
	source := req.TranscriptSource
	if source == "" {
		source = model.TranscriptSourceTarget
	}

	job, err := s.get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.StatusCompleted {
		return nil, ErrJobNotCompleted
	}

	paths := s.pathsOf(job)
	language := job.TargetLanguage
	path := recorded(job.Artifacts.CleanedTranscript, paths.CleanedTranscript())
	if source == model.TranscriptSourceSource {
		language = job.SourceLanguage
		path = recorded(job.Artifacts.FormattedTranscript, paths.FormattedTranscript())
	}
	data, err := os.ReadFile(path)
	if err != nil || strings.TrimSpace(string(data)) == "" || !transcript.HasSpeakerLines(string(data)) {
		return nil, ErrTranscriptMissing
	}

	var version int
	if _, err := s.update(ctx, jobID, func(j *model.Job) error {
		if j.Status != model.StatusCompleted {
			return ErrJobNotCompleted
		}
		version = j.ReserveAudioVersion()
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.dispatcher.EnqueueRegeneration(ctx, jobID, pipeline.RegenerateRequest{
		Version:       version,
		VoiceMappings: req.VoiceMappings,
		SpeakingRate:  req.SpeakingRate,
		Source:        source,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Audio regeneration queued", "job_id", jobID, "version", version, "source", source)
	return &model.RegenerateAudioResponse{
		JobID:         jobID,
		Version:       version,
		AudioLanguage: language,
		Message:       fmt.Sprintf("Audio regeneration v%d queued", version),
	}, nil
}

// InjectFailure parks a job in the failure state of point, as if that step
// had failed. Only available in test mode.
func (s *JobService) InjectFailure(ctx context.Context, jobID, point string) (*model.JobStatusResponse, error) {
	if !s.opts.TestMode {
		return nil, ErrTestModeDisabled
	}
	failure, ok := model.LookupInjectedFailure(point)
	if !ok {
		return nil, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownStep, point, strings.Join(model.InjectionPoints(), ", "))
	}

	job, err := s.update(ctx, jobID, func(j *model.Job) error {
		j.Status = failure.Status
		j.Progress = failure.Progress
		j.Message = fmt.Sprintf("Simulated failure during %s", point)
		j.SetError(fmt.Sprintf("Injected failure at %s", point))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Warn("Failure injected", "job_id", jobID, "point", point, "status", failure.Status.String())
	if s.notifier != nil {
		s.notifier.BroadcastError(jobID, failure.Status.String(), job.Message)
	}
	return s.statusOf(job), nil
}

// ResolveDownload returns the path of an artifact by file type. version is
// only used for audio versions.
func (s *JobService) ResolveDownload(ctx context.Context, jobID, fileType string, version int) (string, error) {
	job, err := s.get(ctx, jobID)
	if err != nil {
		return "", err
	}
	paths := s.pathsOf(job)

	var path string
	switch fileType {
	case model.FileTypeSourceTranscript:
		path = recorded(job.Artifacts.FormattedTranscript, paths.FormattedTranscript())
	case model.FileTypeTargetTranscript:
		path = recorded(job.Artifacts.CleanedTranscript, paths.CleanedTranscript())
	case model.FileTypeTargetAudio:
		path = recorded(job.Artifacts.FinalTargetAudio, paths.FinalTargetAudio())
	case model.FileTypeAudioVersion:
		if version <= 1 {
			path = recorded(job.Artifacts.FinalTargetAudio, paths.FinalTargetAudio())
			break
		}
		v, ok := job.FindAudioVersion(version)
		if !ok {
			return "", ErrFileNotAvailable
		}
		path = v.Path
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFileType, fileType)
	}

	if !artifact.NonEmptyFile(path) {
		return "", ErrFileNotAvailable
	}
	return path, nil
}
