package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/dubflow/api/internal/artifact"
	"github.com/dubflow/api/internal/lang"
	"github.com/dubflow/api/internal/metrics"
	"github.com/dubflow/api/pkg/logger"
)

var (
	ErrNoSegmentsSynthesized = errors.New("no segment could be synthesized")
	ErrEmptyTranscript       = errors.New("transcript has no speaker segments")
)

// Engine converts text to speech audio bytes.
type Engine interface {
	Synthesize(ctx context.Context, text, voice, languageCode string, rate float64) ([]byte, error)
}

// Assembler performs the audio file operations synthesis needs.
type Assembler interface {
	// Silence writes a silent clip of duration d to path.
	Silence(ctx context.Context, path string, d time.Duration) error
	// Concat joins inputs in order with gap silence between them, optionally
	// normalizing loudness, and writes the result to outputPath.
	Concat(ctx context.Context, inputs []string, gap time.Duration, normalize bool, outputPath string) error
}

// Config tunes a Synthesizer.
type Config struct {
	// SafeLength is the longest text, in runes, sent in one engine call.
	SafeLength int
	// Attempts is the number of tries per piece at the requested rate.
	Attempts int
	// RetryBase is the exponential backoff base in seconds: the wait after
	// attempt n is RetryBase^(n-1) seconds.
	RetryBase float64
	// RequestInterval is the fixed pause between engine calls.
	RequestInterval time.Duration
	// DefaultRate is used for the final retry when a custom rate failed.
	DefaultRate float64
	// SilenceDuration is the length of the clip replacing a failed segment.
	SilenceDuration time.Duration
	// Gap is the silence between consecutive segments in the final file.
	Gap time.Duration
}

// DefaultConfig mirrors the production settings.
func DefaultConfig() Config {
	return Config{
		SafeLength:      4000,
		Attempts:        3,
		RetryBase:       2,
		RequestInterval: 200 * time.Millisecond,
		DefaultRate:     1.0,
		SilenceDuration: 2 * time.Second,
		Gap:             500 * time.Millisecond,
	}
}

// Request describes one synthesis run.
type Request struct {
	Transcript     string
	Language       string
	VoiceOverrides map[string]string
	SpeakingRate   float64
	SegmentDir     string
	OutputPath     string
}

// SegmentFailure records a segment that was replaced by silence.
type SegmentFailure struct {
	Index   int    `json:"index"`
	Speaker string `json:"speaker"`
	Error   string `json:"error"`
}

// Result describes the produced audio.
type Result struct {
	Path            string
	Total           int
	Succeeded       int
	Failed          int
	Reused          int
	Failures        []SegmentFailure
	EffectiveVoices map[string]string
}

// Synthesizer speaks a transcript segment by segment and assembles the
// clips into one file.
type Synthesizer struct {
	engine    Engine
	assembler Assembler
	voices    *VoiceCatalog
	cfg       Config
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewSynthesizer creates a synthesizer. A nil catalog uses DefaultCatalog.
func NewSynthesizer(engine Engine, assembler Assembler, voices *VoiceCatalog, cfg Config, log *slog.Logger) *Synthesizer {
	if voices == nil {
		voices = DefaultCatalog()
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.DefaultRate <= 0 {
		cfg.DefaultRate = 1.0
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Synthesizer{
		engine:    engine,
		assembler: assembler,
		voices:    voices,
		cfg:       cfg,
		logger:    log.With("component", "synthesizer"),
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Generate synthesizes every segment of req.Transcript into req.SegmentDir
// and assembles them into req.OutputPath. Segment files left by an earlier
// run are reused without calling the engine. A failing segment is replaced
// by silence; Generate only fails when no segment at all was synthesized.
func (s *Synthesizer) Generate(ctx context.Context, req Request) (*Result, error) {
	segments := ParseSegments(req.Transcript)
	if len(segments) == 0 {
		return nil, ErrEmptyTranscript
	}
	if err := os.MkdirAll(req.SegmentDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %w", err)
	}

	rate := req.SpeakingRate
	if rate <= 0 {
		rate = s.cfg.DefaultRate
	}
	languageCode := lang.Region(req.Language)

	result := &Result{Path: req.OutputPath, Total: len(segments), EffectiveVoices: make(map[string]string)}
	for _, speaker := range Speakers(segments) {
		result.EffectiveVoices[speaker] = s.voices.Resolve(req.Language, speaker, req.VoiceOverrides)
	}

	files := make([]string, 0, len(segments))
	calledEngine := false
	for _, seg := range segments {
		path := filepath.Join(req.SegmentDir, artifact.SegmentFileName(seg.Index, seg.Speaker))
		silencePath := filepath.Join(req.SegmentDir, artifact.SilenceFileName(seg.Index, seg.Speaker))

		if artifact.NonEmptyFile(path) {
			result.Succeeded++
			result.Reused++
			files = append(files, path)
			metrics.RecordUnit("segment", "skipped")
			logger.LogUnitEvent(s.logger, "segment", "skip", seg.Index, 0, "")
			continue
		}

		if calledEngine {
			if err := s.sleep(ctx, s.cfg.RequestInterval); err != nil {
				return nil, err
			}
		}
		calledEngine = true

		start := time.Now()
		err := s.synthesizeSegment(ctx, seg, result.EffectiveVoices[seg.Speaker], languageCode, rate, path)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		elapsed := time.Since(start).Milliseconds()

		if err != nil {
			logger.LogUnitEvent(s.logger, "segment", "error", seg.Index, elapsed, err.Error())
			metrics.RecordUnit("segment", "failed")
			result.Failed++
			result.Failures = append(result.Failures, SegmentFailure{Index: seg.Index, Speaker: seg.Speaker, Error: err.Error()})
			if serr := s.assembler.Silence(ctx, silencePath, s.cfg.SilenceDuration); serr != nil {
				return nil, fmt.Errorf("failed to create silence for segment %d: %w", seg.Index, serr)
			}
			files = append(files, silencePath)
			continue
		}

		os.Remove(silencePath)
		result.Succeeded++
		files = append(files, path)
		metrics.RecordUnit("segment", "success")
		logger.LogUnitEvent(s.logger, "segment", "success", seg.Index, elapsed, "")
	}

	if result.Succeeded == 0 {
		return result, fmt.Errorf("%w: %d segments failed", ErrNoSegmentsSynthesized, result.Failed)
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return result, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := s.assembler.Concat(ctx, files, s.cfg.Gap, true, req.OutputPath); err != nil {
		return result, fmt.Errorf("failed to assemble audio: %w", err)
	}

	s.logger.Info("Audio assembled",
		"output", req.OutputPath,
		"segments", result.Total,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"reused", result.Reused,
	)
	return result, nil
}

// synthesizeSegment writes one segment file. Text over the safe length is
// synthesized piece by piece and the pieces joined without a gap.
func (s *Synthesizer) synthesizeSegment(ctx context.Context, seg Segment, voice, languageCode string, rate float64, path string) error {
	pieces := splitForSynthesis(seg.Text, s.cfg.SafeLength)
	if len(pieces) == 1 {
		audio, err := s.synthesizeWithRetry(ctx, pieces[0], voice, languageCode, rate)
		if err != nil {
			return err
		}
		return artifact.WriteFile(path, audio)
	}

	parts := make([]string, 0, len(pieces))
	defer func() {
		for _, p := range parts {
			os.Remove(p)
		}
	}()
	for i, piece := range pieces {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.RequestInterval); err != nil {
				return err
			}
		}
		audio, err := s.synthesizeWithRetry(ctx, piece, voice, languageCode, rate)
		if err != nil {
			return fmt.Errorf("piece %d of %d: %w", i+1, len(pieces), err)
		}
		part := fmt.Sprintf("%s.part%02d.mp3", path, i+1)
		if err := artifact.WriteFile(part, audio); err != nil {
			return err
		}
		parts = append(parts, part)
	}
	return s.assembler.Concat(ctx, parts, 0, false, path)
}

// synthesizeWithRetry tries the engine Attempts times with exponential
// backoff, then once more at the default rate if a custom rate was asked for.
func (s *Synthesizer) synthesizeWithRetry(ctx context.Context, text, voice, languageCode string, rate float64) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		audio, err := s.engine.Synthesize(ctx, text, voice, languageCode, rate)
		if err == nil && len(audio) == 0 {
			err = errors.New("engine returned no audio")
		}
		if err == nil {
			return audio, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.RecordUnit("segment", "retry")
		s.logger.Warn("Synthesis attempt failed", "attempt", attempt, "max_attempts", s.cfg.Attempts, "voice", voice, "error", err)
		if attempt < s.cfg.Attempts {
			if err := s.sleep(ctx, s.backoff(attempt)); err != nil {
				return nil, err
			}
		}
	}

	if rate != s.cfg.DefaultRate {
		s.logger.Info("Retrying at default speaking rate", "voice", voice, "rate", rate, "default_rate", s.cfg.DefaultRate)
		audio, err := s.engine.Synthesize(ctx, text, voice, languageCode, s.cfg.DefaultRate)
		if err == nil && len(audio) > 0 {
			return audio, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	return nil, lastErr
}

func (s *Synthesizer) backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(s.cfg.RetryBase, float64(attempt-1)) * float64(time.Second))
}
