package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dubflow/api/internal/artifact"
	"github.com/dubflow/api/internal/transcript"
)

// MockEngines stands in for the audio service and the speech APIs when
// they are not configured. Every operation is deterministic and local so
// the whole pipeline can run in development and in end-to-end tests.
type MockEngines struct {
	// Transcript is written by Transcribe. Empty uses a two-speaker dialogue.
	Transcript string
	// Latency is slept before each call.
	Latency time.Duration
}

func NewMockEngines() *MockEngines {
	return &MockEngines{}
}

const mockTranscript = `Speaker A: Good morning. Thank you for coming in today.
Speaker B: Thanks for having me. I am glad to be here.
Speaker A: Let us start with the schedule for next week.
Speaker B: Sure. The release is planned for Thursday.`

func (m *MockEngines) wait(ctx context.Context) error {
	if m.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Preprocess copies the upload as the cleaned file and as the only chunk.
func (m *MockEngines) Preprocess(ctx context.Context, inputPath, outputDir string) (string, string, error) {
	if err := m.wait(ctx); err != nil {
		return "", "", err
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to read input: %w", err)
	}
	ext := filepath.Ext(inputPath)
	cleaned := filepath.Join(outputDir, "cleaned"+ext)
	chunkDir := filepath.Join(outputDir, "chunks")
	if err := artifact.WriteFile(cleaned, data); err != nil {
		return "", "", err
	}
	if err := artifact.WriteFile(filepath.Join(chunkDir, "chunk_001"+ext), data); err != nil {
		return "", "", err
	}
	return cleaned, chunkDir, nil
}

// Transcribe writes the configured transcript once per audio chunk.
func (m *MockEngines) Transcribe(ctx context.Context, chunkDir, outputPath, _ string) (string, error) {
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	entries, err := os.ReadDir(chunkDir)
	if err != nil {
		return "", fmt.Errorf("failed to read audio chunks: %w", err)
	}
	text := m.Transcript
	if text == "" {
		text = mockTranscript
	}
	var parts []string
	for _, e := range entries {
		if !e.IsDir() && audioExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			parts = append(parts, tagSpeakers(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no audio chunks in %s", chunkDir)
	}
	if err := artifact.WriteFile(outputPath, []byte(strings.Join(parts, "\n")+"\n")); err != nil {
		return "", err
	}
	return outputPath, nil
}

// Translate tags every speaker line with the target language.
func (m *MockEngines) Translate(ctx context.Context, text, _, targetLang string) (string, error) {
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if speaker, body, ok := transcript.ParseSpeakerLine(line); ok {
			out = append(out, transcript.SpeakerLine(speaker, fmt.Sprintf("[%s] %s", targetLang, body)))
		}
	}
	return strings.Join(out, "\n"), nil
}

// Synthesize returns a small fake MP3 payload naming its inputs.
func (m *MockEngines) Synthesize(ctx context.Context, text, voice, languageCode string, rate float64) ([]byte, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("ID3|%s|%s|%.2f|%d\n", voice, languageCode, rate, len([]rune(text)))), nil
}

// Silence writes an empty-marker clip.
func (m *MockEngines) Silence(_ context.Context, path string, d time.Duration) error {
	return artifact.WriteFile(path, []byte(fmt.Sprintf("ID3|silence|%d\n", d.Milliseconds())))
}

// Concat appends the inputs byte for byte.
func (m *MockEngines) Concat(_ context.Context, inputs []string, _ time.Duration, _ bool, outputPath string) error {
	var buf bytes.Buffer
	for _, in := range inputs {
		f, err := os.Open(in)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", in, err)
		}
		_, err = io.Copy(&buf, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return artifact.WriteFile(outputPath, buf.Bytes())
}
