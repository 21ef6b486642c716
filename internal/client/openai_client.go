package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/dubflow/api/internal/artifact"
	"github.com/dubflow/api/internal/config"
	"github.com/dubflow/api/internal/metrics"
	"github.com/dubflow/api/internal/transcript"
	"github.com/dubflow/api/pkg/logger"
)

var audioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".flac": true,
}

// OpenAIClient implements speech-to-text, translation and speech synthesis
// on top of an OpenAI-compatible API.
type OpenAIClient struct {
	cli         *openai.Client
	chatModel   string
	temperature float32
	sttModel    string
	ttsModel    string
	logger      *slog.Logger
	configured  bool
}

// NewOpenAIClient creates a client. BaseURL may point at any compatible
// provider.
func NewOpenAIClient(cfg *config.OpenAIConfig, log *slog.Logger) *OpenAIClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if log == nil {
		log = logger.Discard()
	}
	return &OpenAIClient{
		cli:         openai.NewClientWithConfig(clientConfig),
		chatModel:   cfg.ChatModel,
		temperature: float32(cfg.Temperature),
		sttModel:    cfg.TranscriptionModel,
		ttsModel:    cfg.SpeechModel,
		logger:      log.With("component", "openai_client"),
		configured:  cfg.APIKey != "",
	}
}

// Transcribe sends every audio chunk in chunkDir to speech-to-text in name
// order and writes the speaker-tagged transcript to outputPath. A chunk that
// fails is logged and skipped; the call fails only when none succeeded.
func (c *OpenAIClient) Transcribe(ctx context.Context, chunkDir, outputPath, sourceLang string) (string, error) {
	entries, err := os.ReadDir(chunkDir)
	if err != nil {
		return "", fmt.Errorf("failed to read audio chunks: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && audioExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return "", fmt.Errorf("no audio chunks in %s", chunkDir)
	}

	var parts []string
	for i, name := range files {
		resp, err := c.cli.CreateTranscription(ctx, openai.AudioRequest{
			Model:    c.sttModel,
			FilePath: filepath.Join(chunkDir, name),
			Language: sourceLang,
		})
		metrics.RecordEngineCall("openai_transcription", err)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			logger.LogUnitEvent(c.logger, "audio_chunk", "error", i+1, 0, err.Error())
			continue
		}
		text := strings.TrimSpace(resp.Text)
		if text == "" {
			logger.LogUnitEvent(c.logger, "audio_chunk", "empty", i+1, 0, "")
			continue
		}
		parts = append(parts, tagSpeakers(text))
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("none of %d audio chunks could be transcribed", len(files))
	}

	if err := artifact.WriteFile(outputPath, []byte(strings.Join(parts, "\n")+"\n")); err != nil {
		return "", err
	}
	return outputPath, nil
}

// tagSpeakers keeps engine speaker labels and attributes untagged output to
// Speaker A.
func tagSpeakers(text string) string {
	if transcript.HasSpeakerLines(text) {
		return text
	}
	return transcript.SpeakerLine(transcript.FallbackSpeaker, transcript.CollapseSpaces(strings.ReplaceAll(text, "\n", " ")))
}

const translationPrompt = `You are a professional translator. Translate the following %s dialogue transcript into %s.
Rules:
1) Keep every speaker label exactly as it is, for example "Speaker A:".
2) Keep one line per speaker turn and keep the order of turns.
3) Translate naturally for spoken audio. Do not add notes, headings or explanations.
4) Return only the translated transcript.`

// Translate translates one speaker-tagged chunk.
func (c *OpenAIClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf(translationPrompt, languageName(sourceLang), languageName(targetLang)),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		Temperature: c.temperature,
	}

	resp, err := c.cli.CreateChatCompletion(ctx, req)
	metrics.RecordEngineCall("openai_chat", err)
	if err != nil {
		return "", fmt.Errorf("translation request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices from translation API")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Synthesize renders text as MP3 speech.
func (c *OpenAIClient) Synthesize(ctx context.Context, text, voice, languageCode string, rate float64) ([]byte, error) {
	resp, err := c.cli.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.ttsModel),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          rate,
	})
	metrics.RecordEngineCall("openai_speech", err)
	if err != nil {
		return nil, fmt.Errorf("speech request failed (%s, %s): %w", voice, languageCode, err)
	}
	defer resp.Close()
	return io.ReadAll(resp)
}

// languageName turns a code such as "ja" into "Japanese" for prompts.
func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}

// IsConfigured returns true if an API key is set.
func (c *OpenAIClient) IsConfigured() bool {
	return c.configured
}
