package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/dubflow/api/internal/artifact"
	"github.com/dubflow/api/internal/chunk"
	"github.com/dubflow/api/internal/client"
	"github.com/dubflow/api/internal/config"
	"github.com/dubflow/api/internal/handler"
	"github.com/dubflow/api/internal/middleware"
	"github.com/dubflow/api/internal/pipeline"
	"github.com/dubflow/api/internal/queue"
	"github.com/dubflow/api/internal/service"
	"github.com/dubflow/api/internal/store"
	"github.com/dubflow/api/internal/synth"
	ws "github.com/dubflow/api/internal/websocket"
	"github.com/dubflow/api/internal/worker"
	"github.com/dubflow/api/pkg/logger"
)

const testUserID = "42"

// testApp holds all components needed for testing
type testApp struct {
	app        *fiber.App
	dispatcher *queue.LocalDispatcher
	layout     artifact.Layout
}

// setupApp wires the app like main.go but with an in-memory store, the
// in-process dispatcher and mock engines. Test mode is on.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	log := logger.Discard()

	jobStore := store.New(store.NewMemoryRepository())
	layout := artifact.NewLayout(t.TempDir())

	hub := ws.NewHub(log)
	go hub.Run(ctx)

	mock := client.NewMockEngines()
	cfg := synth.DefaultConfig()
	cfg.RequestInterval = 0
	engines := pipeline.Engines{
		Preprocessor: mock,
		Transcriber:  mock,
		Translator:   mock,
		Audio:        synth.NewSynthesizer(mock, mock, nil, cfg, log),
	}
	processor := chunk.NewProcessor(1, 0, 0, log)
	pipe := pipeline.New(jobStore, layout, engines, processor, hub, pipeline.Config{ChunkWidth: 3000, SpeakingRate: 1.0}, log)

	dispatcher := queue.NewLocalDispatcher(ctx, worker.NewPipelineWorker(pipe, log), 2, log)
	t.Cleanup(func() {
		cancel()
		dispatcher.Wait()
	})

	jobService := service.NewJobService(jobStore, dispatcher, layout, hub, service.Options{
		MaxUploadBytes: 10 << 20,
		TestMode:       true,
	}, log)

	app := fiber.New(fiber.Config{
		ErrorHandler: handler.ErrorHandler,
		BodyLimit:    50 * 1024 * 1024,
	})
	app.Use(middleware.Metrics())

	routes := &handler.Routes{
		Translation: handler.NewTranslationHandler(jobService, validator.New()),
		Hub:         hub,
		Auth:        middleware.GatewayAuthMiddleware(false),
		// No redis: rate limiting is disabled
		Limiter:  middleware.NewRateLimiter(nil, log),
		Limits:   config.RateLimitConfig{UploadPerHour: 10000, RetryPerHour: 10000, RegeneratePerHour: 10000},
		TestMode: true,
		Services: func() fiber.Map {
			return fiber.Map{"openai": false, "audio": false, "r2": false}
		},
	}
	routes.Mount(app)

	return &testApp{app: app, dispatcher: dispatcher, layout: layout}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doUserRequest performs a request on behalf of the test user.
func doUserRequest(app *fiber.App, method, path, body string) (*http.Response, error) {
	return doRequest(app, method, path, body, map[string]string{
		"X-User-Id": testUserID,
	})
}

// doUpload posts a multipart upload with the given form fields.
func doUpload(t *testing.T, app *fiber.App, filename, content string, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := io.WriteString(part, content); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field %s: %v", k, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, "/api/translation/upload", &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-User-Id", testUserID)

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("upload request failed: %v", err)
	}
	return resp
}

// uploadAndWait uploads a file, waits for its pipeline to finish and returns
// the job id.
func uploadAndWait(t *testing.T, ta *testApp) string {
	t.Helper()
	resp := doUpload(t, ta.app, "interview.mp3", "fake mp3 bytes", map[string]string{
		"sourceLanguage": "en",
		"targetLanguage": "ja",
	})
	assertStatus(t, resp, http.StatusAccepted)
	body := parseJSON(t, resp)
	jobID, _ := body["jobId"].(string)
	if jobID == "" {
		t.Fatalf("expected jobId in upload response, got %v", body)
	}
	waitForTask(t, ta, jobID)
	return jobID
}

// waitForTask blocks until the latest task of jobID returns.
func waitForTask(t *testing.T, ta *testApp, jobID string) {
	t.Helper()
	done := ta.dispatcher.Done(jobID)
	if done == nil {
		t.Fatalf("no task was enqueued for job %s", jobID)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("task for job %s failed: %v", jobID, err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for job %s", jobID)
	}
}

// getStatus fetches the status document of a job.
func getStatus(t *testing.T, app *fiber.App, jobID string) map[string]interface{} {
	t.Helper()
	resp, err := doUserRequest(app, http.MethodGet, "/api/translation/status/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	return parseJSON(t, resp)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// errorCode extracts error.code from an error response.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := parseJSON(t, resp)
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error object, got %v", body)
	}
	code, _ := errObj["code"].(string)
	return code
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
