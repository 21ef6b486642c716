package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dubflow/api/internal/artifact"
	"github.com/dubflow/api/internal/chunk"
	"github.com/dubflow/api/internal/model"
	"github.com/dubflow/api/internal/synth"
	"github.com/dubflow/api/internal/transcript"
)

var (
	ErrMissingUpload   = errors.New("original upload is missing")
	ErrEmptyTranscript = errors.New("transcript is empty")
)

func (p *Pipeline) preprocess(ctx context.Context, job *model.Job, paths artifact.Paths) (func(*model.Job), error) {
	input := job.Artifacts.OriginalFile
	if input == "" || !artifact.Exists(input) {
		return nil, ErrMissingUpload
	}
	cleaned, chunkDir, err := p.engines.Preprocessor.Preprocess(ctx, input, paths.ProcessedDir())
	if err != nil {
		return nil, err
	}
	return func(j *model.Job) {
		j.Artifacts.ProcessedAudioDir = paths.ProcessedDir()
		j.Artifacts.CleanedAudio = cleaned
		j.Artifacts.AudioChunksDir = chunkDir
	}, nil
}

func (p *Pipeline) transcribe(ctx context.Context, job *model.Job, paths artifact.Paths) (func(*model.Job), error) {
	chunkDir := pick(job.Artifacts.AudioChunksDir, paths.AudioChunksDir())
	out, err := p.engines.Transcriber.Transcribe(ctx, chunkDir, paths.RawTranscript(), job.SourceLanguage)
	if err != nil {
		return nil, err
	}
	if !artifact.NonEmptyFile(out) {
		return nil, fmt.Errorf("%w: %s", ErrEmptyTranscript, out)
	}
	return func(j *model.Job) {
		j.Artifacts.RawTranscript = out
	}, nil
}

func (p *Pipeline) format(_ context.Context, job *model.Job, paths artifact.Paths) (func(*model.Job), error) {
	raw, err := readText(pick(job.Artifacts.RawTranscript, paths.RawTranscript()))
	if err != nil {
		return nil, err
	}
	formatted := transcript.Format(raw)
	if formatted == "" {
		return nil, ErrEmptyTranscript
	}
	out := paths.FormattedTranscript()
	if err := artifact.WriteFile(out, []byte(formatted)); err != nil {
		return nil, err
	}
	return func(j *model.Job) {
		j.Artifacts.FormattedTranscript = out
	}, nil
}

func (p *Pipeline) translate(ctx context.Context, job *model.Job, paths artifact.Paths) (func(*model.Job), error) {
	text, err := readText(pick(job.Artifacts.FormattedTranscript, paths.FormattedTranscript()))
	if err != nil {
		return nil, err
	}
	chunks := transcript.Split(text, p.cfg.ChunkWidth)
	dir := paths.TranslationChunksDir()

	translateChunk := func(ctx context.Context, text string) (string, error) {
		return p.engines.Translator.Translate(ctx, text, job.SourceLanguage, job.TargetLanguage)
	}
	report, err := p.processor.Process(ctx, chunks, dir, translateChunk)
	if err != nil {
		return nil, err
	}
	if report.Failed > 0 {
		p.logger.Warn("Some chunks failed translation",
			"job_id", job.ID,
			"failed", report.Failed,
			"chunks", report.FailedSeq,
		)
	}
	return func(j *model.Job) {
		j.Artifacts.TranslationChunksDir = dir
	}, nil
}

func (p *Pipeline) merge(_ context.Context, job *model.Job, paths artifact.Paths) (func(*model.Job), error) {
	out := paths.MergedTranscript()
	report, err := chunk.Merge(pick(job.Artifacts.TranslationChunksDir, paths.TranslationChunksDir()), out)
	if err != nil {
		return nil, err
	}
	merged, err := readText(out)
	if err != nil {
		return nil, err
	}
	v := chunk.Validate(merged, job.TargetLanguage)
	p.logger.Info("Merged translation",
		"job_id", job.ID,
		"merged", len(report.Merged),
		"failed", len(report.Failed),
		"speaker_lines", v.SpeakerLines,
		"valid", v.Valid,
	)
	for _, issue := range v.Issues {
		p.logger.Warn("Merged transcript issue", "job_id", job.ID, "issue", issue)
	}
	return func(j *model.Job) {
		j.Artifacts.MergedTranscript = out
	}, nil
}

func (p *Pipeline) clean(_ context.Context, job *model.Job, paths artifact.Paths) (func(*model.Job), error) {
	merged, err := readText(pick(job.Artifacts.MergedTranscript, paths.MergedTranscript()))
	if err != nil {
		return nil, err
	}
	cleaned := transcript.Clean(merged)
	if cleaned == "" {
		return nil, ErrEmptyTranscript
	}
	report := transcript.ValidateClean(cleaned, job.TargetLanguage, p.cfg.MaxLineLength)
	if !report.Ready() {
		p.logger.Warn("Cleaned transcript is not ready for synthesis", "job_id", job.ID, "issues", report.Issues)
	}
	for _, w := range report.Warnings {
		p.logger.Debug("Cleaned transcript warning", "job_id", job.ID, "warning", w)
	}

	out := paths.CleanedTranscript()
	if err := artifact.WriteFile(out, []byte(cleaned)); err != nil {
		return nil, err
	}
	return func(j *model.Job) {
		j.Artifacts.CleanedTranscript = out
	}, nil
}

func (p *Pipeline) generateAudio(ctx context.Context, job *model.Job, paths artifact.Paths) (func(*model.Job), error) {
	text, err := readText(pick(job.Artifacts.CleanedTranscript, paths.CleanedTranscript()))
	if err != nil {
		return nil, err
	}
	segDir := paths.AudioSegmentsDir(1)
	out := paths.FinalTargetAudio()
	result, err := p.engines.Audio.Generate(ctx, synth.Request{
		Transcript:   text,
		Language:     job.TargetLanguage,
		SpeakingRate: p.cfg.SpeakingRate,
		SegmentDir:   segDir,
		OutputPath:   out,
	})
	if err != nil {
		return nil, err
	}
	if result.Failed > 0 {
		p.logger.Warn("Audio generated with silent segments", "job_id", job.ID, "failed", result.Failed, "total", result.Total)
	}
	return func(j *model.Job) {
		j.Artifacts.AudioSegmentsDir = segDir
		j.Artifacts.FinalTargetAudio = out
	}, nil
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// pick prefers the path recorded on the job over the computed one.
func pick(recorded, computed string) string {
	if recorded != "" {
		return recorded
	}
	return computed
}
