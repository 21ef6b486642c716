// Package chunk runs a transform over translation chunks one file per chunk
// and reassembles the results.
//
// A chunk's success file is the only record that it has been processed, so
// the whole step can be re-run after a crash or failure and only the missing
// chunks reach the external engine again.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dubflow/api/internal/artifact"
	"github.com/dubflow/api/internal/metrics"
	"github.com/dubflow/api/internal/transcript"
	"github.com/dubflow/api/pkg/logger"
)

var (
	ErrNoChunks        = errors.New("no chunks to process")
	ErrAllChunksFailed = errors.New("all chunks failed")
	errEmptyOutput     = errors.New("empty response from transform")
)

// Transform turns the text of one chunk into its output, usually by calling
// a translation engine.
type Transform func(ctx context.Context, text string) (string, error)

// Report counts what happened to each chunk of one Process call.
type Report struct {
	Total     int
	Skipped   int
	Succeeded int
	Failed    int
	FailedSeq []int
}

// Processor applies a Transform to every chunk with bounded retries.
type Processor struct {
	// MaxRetries is the number of attempts per chunk.
	MaxRetries int
	// BaseDelay is the wait after the first failed attempt; later waits grow
	// by a factor of 1.5.
	BaseDelay time.Duration
	// RateLimitDelay is the fixed pause between chunks that reached the engine.
	RateLimitDelay time.Duration

	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewProcessor creates a processor. A nil logger discards output.
func NewProcessor(maxRetries int, baseDelay, rateLimitDelay time.Duration, log *slog.Logger) *Processor {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Processor{
		MaxRetries:     maxRetries,
		BaseDelay:      baseDelay,
		RateLimitDelay: rateLimitDelay,
		logger:         log.With("component", "chunk_processor"),
		sleep:          sleepContext,
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

// Backoff is the wait after the given failed attempt (1-based).
func (p *Processor) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(1.5, float64(attempt-1)))
}

// Process runs transform over chunks in sequence order, writing one success
// or error file per chunk into dir. Individual chunk failures are recorded
// and skipped; Process only fails when there is nothing to process, the
// context ends, or every chunk failed.
func (p *Processor) Process(ctx context.Context, chunks []transcript.Chunk, dir string, transform Transform) (*Report, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chunk directory: %w", err)
	}

	report := &Report{Total: len(chunks)}
	calledEngine := false
	for _, c := range chunks {
		successPath := filepath.Join(dir, artifact.ChunkFileName(c.Seq))
		if artifact.Exists(successPath) {
			report.Skipped++
			metrics.RecordUnit("chunk", "skipped")
			logger.LogUnitEvent(p.logger, "chunk", "skip", c.Seq, 0, "")
			continue
		}

		if calledEngine {
			if err := p.sleep(ctx, p.RateLimitDelay); err != nil {
				return report, err
			}
		}
		calledEngine = true

		start := time.Now()
		output, err := p.attempt(ctx, c, transform)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		elapsed := time.Since(start).Milliseconds()

		if err != nil {
			report.Failed++
			report.FailedSeq = append(report.FailedSeq, c.Seq)
			metrics.RecordUnit("chunk", "failed")
			logger.LogUnitEvent(p.logger, "chunk", "error", c.Seq, elapsed, err.Error())
			if werr := p.writeSentinel(dir, c, err); werr != nil {
				return report, werr
			}
			continue
		}

		if err := artifact.WriteFile(successPath, []byte(output)); err != nil {
			return report, fmt.Errorf("failed to save chunk %d: %w", c.Seq, err)
		}
		if err := os.Remove(filepath.Join(dir, artifact.ChunkErrorFileName(c.Seq))); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("Failed to remove stale error file", "seq", c.Seq, "error", err)
		}
		report.Succeeded++
		metrics.RecordUnit("chunk", "success")
		logger.LogUnitEvent(p.logger, "chunk", "success", c.Seq, elapsed, "")
	}

	if report.Succeeded+report.Skipped == 0 {
		return report, fmt.Errorf("%w: %d of %d", ErrAllChunksFailed, report.Failed, report.Total)
	}
	return report, nil
}

// attempt calls transform up to MaxRetries times and returns the normalized
// output of the first non-empty success.
func (p *Processor) attempt(ctx context.Context, c transcript.Chunk, transform Transform) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= p.MaxRetries; attempt++ {
		out, err := transform(ctx, c.String())
		if err == nil && strings.TrimSpace(out) == "" {
			err = errEmptyOutput
		}
		if err == nil {
			return SeparateSpeakers(NormalizeSpeakerLabels(out)), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		metrics.RecordUnit("chunk", "retry")
		p.logger.Warn("Chunk attempt failed",
			"seq", c.Seq, "attempt", attempt, "max_attempts", p.MaxRetries, "error", err)
		if attempt < p.MaxRetries {
			if serr := p.sleep(ctx, p.Backoff(attempt)); serr != nil {
				return "", serr
			}
		}
	}
	return "", lastErr
}

func (p *Processor) writeSentinel(dir string, c transcript.Chunk, cause error) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Translation failed after %d attempts\n", p.MaxRetries)
	fmt.Fprintf(&b, "Error: %v\n", cause)
	fmt.Fprintf(&b, "Original text:\n%s\n", c.String())

	path := filepath.Join(dir, artifact.ChunkErrorFileName(c.Seq))
	if err := artifact.WriteFile(path, []byte(b.String())); err != nil {
		return fmt.Errorf("failed to save error file for chunk %d: %w", c.Seq, err)
	}
	return nil
}

// labelPattern recognizes speaker labels a translation engine may produce
// at the start of a line: "話者A", "スピーカー B", "SpeakerC", "Speaker 2",
// with a half- or full-width colon or just a space after them.
var labelPattern = regexp.MustCompile(`^[ \t]*(?:話者|スピーカー|(?i:speaker))[ \t_]*([A-Z]|[0-9]{1,2})(?:[ \t]*[:：][ \t]*|[ \t]+)(.*)$`)

// NormalizeSpeakerLabels rewrites every recognized label to "Speaker X: ".
// Numbered labels are 1-based: "Speaker 1" becomes "Speaker A".
func NormalizeSpeakerLabels(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		m := labelPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		label := "Speaker " + m[1]
		if n, err := strconv.Atoi(m[1]); err == nil {
			label = transcript.SpeakerLabel(n - 1)
		}
		body := strings.TrimSpace(m[2])
		if body == "" {
			lines[i] = label + ":"
			continue
		}
		lines[i] = transcript.SpeakerLine(label, body)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// SeparateSpeakers leaves exactly one blank line between turns of different
// speakers and at most one blank line anywhere else.
func SeparateSpeakers(text string) string {
	var out []string
	current := ""
	pendingBlank := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			pendingBlank = len(out) > 0
			continue
		}
		speaker, _, tagged := transcript.ParseSpeakerLine(line)
		if pendingBlank || (tagged && current != "" && speaker != current) {
			out = append(out, "")
		}
		pendingBlank = false
		if tagged {
			current = speaker
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n") + "\n"
}
