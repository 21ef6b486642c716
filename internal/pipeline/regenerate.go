package pipeline

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/dubflow/api/internal/metrics"
	"github.com/dubflow/api/internal/model"
	"github.com/dubflow/api/internal/synth"
)

// RegenerateRequest asks for a new audio version of a completed job.
type RegenerateRequest struct {
	Version       int                    `json:"version"`
	VoiceMappings map[string]string      `json:"voiceMappings,omitempty"`
	SpeakingRate  float64                `json:"speakingRate"`
	Source        model.TranscriptSource `json:"transcriptSource"`
}

// Regenerate speaks the chosen transcript again with new voices or rate and
// records the result as a new audio version. The job status and the
// version-1 audio are never touched.
func (p *Pipeline) Regenerate(ctx context.Context, jobID string, req RegenerateRequest) (*model.AudioVersion, error) {
	log := p.logger.With("job_id", jobID, "version", req.Version)

	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if job.Status != model.StatusCompleted {
		return nil, ErrJobNotCompleted
	}
	if req.Version < 2 {
		return nil, fmt.Errorf("invalid audio version %d", req.Version)
	}

	paths := p.layout.For(job.ID, job.SourceLanguage, job.TargetLanguage)
	language := job.TargetLanguage
	transcriptPath := pick(job.Artifacts.CleanedTranscript, paths.CleanedTranscript())
	if req.Source == model.TranscriptSourceSource {
		language = job.SourceLanguage
		transcriptPath = pick(job.Artifacts.FormattedTranscript, paths.FormattedTranscript())
	}
	text, err := readText(transcriptPath)
	if err != nil {
		return nil, err
	}

	start := p.now()
	log.Info("Regenerating audio", "source", req.Source, "rate", req.SpeakingRate)
	result, err := p.engines.Audio.Generate(ctx, synth.Request{
		Transcript:     text,
		Language:       language,
		VoiceOverrides: req.VoiceMappings,
		SpeakingRate:   req.SpeakingRate,
		SegmentDir:     paths.AudioSegmentsDir(req.Version),
		OutputPath:     paths.FinalAudio(language, req.Version),
	})
	elapsed := p.now().Sub(start).Seconds()
	if err != nil {
		metrics.RecordStep("regeneration", "failed", elapsed)
		log.Error("Audio regeneration failed", "error", err)
		p.notifier.BroadcastError(jobID, "REGENERATION_FAILED", fmt.Sprintf("Audio regeneration v%d failed: %v", req.Version, err))
		return nil, err
	}

	version := model.AudioVersion{
		Version:                req.Version,
		Path:                   result.Path,
		VoiceMappings:          maps.Clone(req.VoiceMappings),
		EffectiveVoiceMappings: result.EffectiveVoices,
		SpeakingRate:           req.SpeakingRate,
		TranscriptSource:       req.Source,
		AudioLanguage:          language,
		CreatedAt:              p.now(),
		TotalSegments:          result.Total,
		SuccessfulSegments:     result.Succeeded,
		FailedSegmentsCount:    result.Failed,
	}
	if _, err := p.store.Update(persistCtx(ctx), jobID, func(j *model.Job) error {
		j.AudioVersions = slices.DeleteFunc(j.AudioVersions, func(v model.AudioVersion) bool {
			return v.Version == version.Version
		})
		j.AudioVersions = append(j.AudioVersions, version)
		slices.SortFunc(j.AudioVersions, func(a, b model.AudioVersion) int {
			return a.Version - b.Version
		})
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to record audio version: %w", err)
	}

	metrics.RecordStep("regeneration", "success", elapsed)
	p.notifier.BroadcastComplete(jobID, version)
	log.Info("Audio regenerated", "path", result.Path, "failed_segments", result.Failed)
	return &version, nil
}
