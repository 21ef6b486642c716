package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dubflow/api/internal/config"
	"github.com/dubflow/api/internal/metrics"
)

// AudioProcessor defines the audio operations the pipeline delegates to the
// DSP microservice. Paths are on a volume shared with the service.
type AudioProcessor interface {
	Preprocess(ctx context.Context, inputPath, outputDir string) (string, string, error)
	Silence(ctx context.Context, path string, d time.Duration) error
	Concat(ctx context.Context, inputs []string, gap time.Duration, normalize bool, outputPath string) error
	HealthCheck(ctx context.Context) error
}

// AudioClient implements AudioProcessor for the Python microservice
type AudioClient struct {
	httpClient *http.Client
	baseURL    string
	bitrate    string
}

// PreprocessRequest asks for noise reduction, resampling and chunking
type PreprocessRequest struct {
	InputPath    string `json:"input_path"`
	OutputDir    string `json:"output_dir"`
	SampleRate   int    `json:"sample_rate"`
	Channels     int    `json:"channels"`
	ChunkSeconds int    `json:"chunk_seconds"`
}

// PreprocessResponse describes the preprocessed audio
type PreprocessResponse struct {
	CleanedPath string  `json:"cleaned_path"`
	ChunkDir    string  `json:"chunk_dir"`
	ChunkCount  int     `json:"chunk_count"`
	Duration    float64 `json:"duration"`
}

// SilenceRequest asks for a silent clip
type SilenceRequest struct {
	OutputPath string `json:"output_path"`
	DurationMs int64  `json:"duration_ms"`
	Bitrate    string `json:"bitrate"`
}

// ConcatRequest joins clips with silence between them
type ConcatRequest struct {
	Inputs     []string `json:"inputs"`
	GapMs      int64    `json:"gap_ms"`
	Normalize  bool     `json:"normalize"`
	Bitrate    string   `json:"bitrate"`
	OutputPath string   `json:"output_path"`
}

// FileResponse is returned by endpoints that write one file
type FileResponse struct {
	OutputPath string  `json:"output_path"`
	Duration   float64 `json:"duration"`
}

// NewAudioClient creates a new audio processing client
func NewAudioClient(cfg *config.AudioConfig, bitrate string) *AudioClient {
	return &AudioClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
		bitrate: bitrate,
	}
}

// Preprocess cleans the upload to 16 kHz mono and cuts it into 5-minute
// chunks for speech-to-text.
func (c *AudioClient) Preprocess(ctx context.Context, inputPath, outputDir string) (string, string, error) {
	var result PreprocessResponse
	err := c.post(ctx, "/preprocess", &PreprocessRequest{
		InputPath:    inputPath,
		OutputDir:    outputDir,
		SampleRate:   16000,
		Channels:     1,
		ChunkSeconds: 300,
	}, &result)
	if err != nil {
		return "", "", err
	}
	if result.ChunkCount == 0 {
		return "", "", fmt.Errorf("audio service produced no chunks")
	}
	return result.CleanedPath, result.ChunkDir, nil
}

// Silence writes a silent MP3 of duration d to path.
func (c *AudioClient) Silence(ctx context.Context, path string, d time.Duration) error {
	var result FileResponse
	return c.post(ctx, "/silence", &SilenceRequest{
		OutputPath: path,
		DurationMs: d.Milliseconds(),
		Bitrate:    c.bitrate,
	}, &result)
}

// Concat joins inputs in order with gap silence between them.
func (c *AudioClient) Concat(ctx context.Context, inputs []string, gap time.Duration, normalize bool, outputPath string) error {
	var result FileResponse
	return c.post(ctx, "/concat", &ConcatRequest{
		Inputs:     inputs,
		GapMs:      gap.Milliseconds(),
		Normalize:  normalize,
		Bitrate:    c.bitrate,
		OutputPath: outputPath,
	}, &result)
}

// HealthCheck checks if the audio service is available
func (c *AudioClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("audio service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// post sends a POST request with JSON body and parses the response
func (c *AudioClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) (err error) {
	defer func() { metrics.RecordEngineCall("audio_service", err) }()

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("audio service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *AudioClient) IsConfigured() bool {
	return c.baseURL != ""
}
