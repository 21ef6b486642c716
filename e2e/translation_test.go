package e2e

import (
	"net/http"
	"os"
	"strings"
	"testing"
)

func TestUpload_FullPipeline(t *testing.T) {
	ta := setupApp(t)
	jobID := uploadAndWait(t, ta)

	body := getStatus(t, ta.app, jobID)
	if body["status"] != "COMPLETED" {
		t.Fatalf("expected COMPLETED, got %v (%v)", body["status"], body["message"])
	}
	if body["progress"] != float64(100) {
		t.Errorf("expected progress 100, got %v", body["progress"])
	}
	if body["ownerId"] != float64(42) {
		t.Errorf("expected ownerId 42, got %v", body["ownerId"])
	}
	if _, ok := body["completedAt"]; !ok {
		t.Error("expected completedAt on a completed job")
	}

	files, ok := body["files"].([]interface{})
	if !ok {
		t.Fatalf("expected files list, got %v", body["files"])
	}
	types := map[string]bool{}
	for _, f := range files {
		types[f.(map[string]interface{})["type"].(string)] = true
	}
	for _, want := range []string{"source_transcript", "target_transcript", "target_audio"} {
		if !types[want] {
			t.Errorf("expected %s in files, got %v", want, types)
		}
	}
}

func TestUpload_Validation(t *testing.T) {
	ta := setupApp(t)

	tests := []struct {
		name     string
		filename string
		fields   map[string]string
		status   int
	}{
		{"missing file", "", nil, http.StatusBadRequest},
		{"unsupported extension", "notes.txt", nil, http.StatusBadRequest},
		{"same language", "talk.mp3", map[string]string{"sourceLanguage": "en", "targetLanguage": "en"}, http.StatusBadRequest},
		{"invalid language", "talk.mp3", map[string]string{"targetLanguage": "not a language"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doUpload(t, ta.app, tt.filename, "data", tt.fields)
			assertStatus(t, resp, tt.status)
			if code := errorCode(t, resp); code != "VALIDATION_ERROR" {
				t.Errorf("expected VALIDATION_ERROR, got %s", code)
			}
		})
	}
}

func TestUpload_InvalidUserHeader(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/api/translation/jobs", "", map[string]string{
		"X-User-Id": "abc",
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)
}

func TestStatus_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doUserRequest(ta.app, http.MethodGet, "/api/translation/status/does-not-exist", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
	if code := errorCode(t, resp); code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %s", code)
	}
}

func TestDownload(t *testing.T) {
	ta := setupApp(t)
	jobID := uploadAndWait(t, ta)

	resp, err := doUserRequest(ta.app, http.MethodGet, "/api/translation/download/"+jobID+"/target_transcript", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	text := readBody(t, resp)
	if !strings.Contains(text, "[ja]") {
		t.Errorf("expected translated transcript, got %q", text)
	}

	resp, err = doUserRequest(ta.app, http.MethodGet, "/api/translation/download/"+jobID+"/source_transcript", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if text := readBody(t, resp); !strings.Contains(text, "Speaker A:") {
		t.Errorf("expected speaker-tagged source transcript, got %q", text)
	}

	resp, err = doUserRequest(ta.app, http.MethodGet, "/api/translation/download/"+jobID+"/target_audio", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if audio := readBody(t, resp); audio == "" {
		t.Error("expected non-empty audio")
	}

	resp, err = doUserRequest(ta.app, http.MethodGet, "/api/translation/download/"+jobID+"/lyrics", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)

	resp, err = doUserRequest(ta.app, http.MethodGet, "/api/translation/download/"+jobID+"/audio_version?version=5", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestUserJobs(t *testing.T) {
	ta := setupApp(t)
	first := uploadAndWait(t, ta)
	second := uploadAndWait(t, ta)

	resp, err := doUserRequest(ta.app, http.MethodGet, "/api/translation/jobs", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	if body["total"] != float64(2) {
		t.Fatalf("expected 2 jobs, got %v", body["total"])
	}
	jobs := body["jobs"].([]interface{})
	ids := []string{
		jobs[0].(map[string]interface{})["jobId"].(string),
		jobs[1].(map[string]interface{})["jobId"].(string),
	}
	if !(ids[0] == second && ids[1] == first) && !(ids[0] == first && ids[1] == second) {
		t.Errorf("expected both uploaded jobs, got %v", ids)
	}

	// Another owner sees nothing
	resp, err = doUserRequest(ta.app, http.MethodGet, "/api/translation/jobs/7", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if body := parseJSON(t, resp); body["total"] != float64(0) {
		t.Errorf("expected 0 jobs for owner 7, got %v", body["total"])
	}
}

func TestInjectFailureAndRetry(t *testing.T) {
	ta := setupApp(t)
	jobID := uploadAndWait(t, ta)

	resp, err := doUserRequest(ta.app, http.MethodPost, "/api/translation/test/fail/"+jobID, `{"step":"translation"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	body := parseJSON(t, resp)
	if body["status"] != "FAILED_TRANSLATING_TO_TARGET" {
		t.Fatalf("expected FAILED_TRANSLATING_TO_TARGET, got %v", body["status"])
	}
	if body["message"] != "Simulated failure during translation" {
		t.Errorf("unexpected message %v", body["message"])
	}

	resp, err = doUserRequest(ta.app, http.MethodPost, "/api/translation/retry/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	body = parseJSON(t, resp)
	if body["resumeFrom"] != "translation" {
		t.Errorf("expected resumeFrom translation, got %v", body["resumeFrom"])
	}
	if body["status"] != "TRANSLATING_TO_TARGET" {
		t.Errorf("expected TRANSLATING_TO_TARGET, got %v", body["status"])
	}

	waitForTask(t, ta, jobID)

	status := getStatus(t, ta.app, jobID)
	if status["status"] != "COMPLETED" {
		t.Fatalf("expected COMPLETED after retry, got %v", status["status"])
	}
	if status["retryCount"] != float64(1) {
		t.Errorf("expected retryCount 1, got %v", status["retryCount"])
	}
	if _, ok := status["errorMessage"]; ok {
		t.Errorf("expected error to be cleared, got %v", status["errorMessage"])
	}
}

func TestRetry_GenericFailureWithFinalAudio(t *testing.T) {
	ta := setupApp(t)
	jobID := uploadAndWait(t, ta)

	resp, err := doUserRequest(ta.app, http.MethodPost, "/api/translation/test/fail/"+jobID+"?step=generic", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	resp, err = doUserRequest(ta.app, http.MethodPost, "/api/translation/retry/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	body := parseJSON(t, resp)
	if body["resumeFrom"] != "completed" {
		t.Errorf("expected resumeFrom completed, got %v", body["resumeFrom"])
	}
	if body["status"] != "COMPLETED" {
		t.Errorf("expected COMPLETED, got %v", body["status"])
	}
}

func TestRetry_GenericFailureResumesFromArtifacts(t *testing.T) {
	ta := setupApp(t)
	jobID := uploadAndWait(t, ta)

	resp, err := doUserRequest(ta.app, http.MethodPost, "/api/translation/test/fail/"+jobID+"?step=generic", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	// Without the final audio the cleaned transcript is the furthest artifact
	paths := ta.layout.For(jobID, "en", "ja")
	if err := os.Remove(paths.FinalTargetAudio()); err != nil {
		t.Fatalf("failed to remove final audio: %v", err)
	}

	resp, err = doUserRequest(ta.app, http.MethodPost, "/api/translation/retry/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	body := parseJSON(t, resp)
	if body["resumeFrom"] != "audio_generation" {
		t.Errorf("expected resumeFrom audio_generation, got %v", body["resumeFrom"])
	}

	waitForTask(t, ta, jobID)
	if status := getStatus(t, ta.app, jobID); status["status"] != "COMPLETED" {
		t.Errorf("expected COMPLETED, got %v", status["status"])
	}
}

func TestRetry_NotFailed(t *testing.T) {
	ta := setupApp(t)
	jobID := uploadAndWait(t, ta)

	resp, err := doUserRequest(ta.app, http.MethodPost, "/api/translation/retry/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
	if code := errorCode(t, resp); code != "INVALID_JOB_STATE" {
		t.Errorf("expected INVALID_JOB_STATE, got %s", code)
	}
}

func TestInjectFailure_UnknownStep(t *testing.T) {
	ta := setupApp(t)
	jobID := uploadAndWait(t, ta)

	resp, err := doUserRequest(ta.app, http.MethodPost, "/api/translation/test/fail/"+jobID, `{"step":"mixing"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestRegenerateAudio(t *testing.T) {
	ta := setupApp(t)
	jobID := uploadAndWait(t, ta)

	resp, err := doUserRequest(ta.app, http.MethodPost, "/api/translation/regenerate-audio/"+jobID,
		`{"speakingRate":1.25,"voiceMappings":{"A":"nova"}}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	body := parseJSON(t, resp)
	if body["version"] != float64(2) {
		t.Fatalf("expected version 2, got %v", body["version"])
	}
	if body["audioLanguage"] != "ja" {
		t.Errorf("expected audioLanguage ja, got %v", body["audioLanguage"])
	}

	waitForTask(t, ta, jobID)

	status := getStatus(t, ta.app, jobID)
	if status["status"] != "COMPLETED" {
		t.Errorf("regeneration must not change the job status, got %v", status["status"])
	}
	versions, ok := status["audioVersions"].([]interface{})
	if !ok || len(versions) != 1 {
		t.Fatalf("expected one audio version, got %v", status["audioVersions"])
	}
	v := versions[0].(map[string]interface{})
	if v["version"] != float64(2) || v["speakingRate"] != 1.25 {
		t.Errorf("unexpected audio version %v", v)
	}

	resp, err = doUserRequest(ta.app, http.MethodGet, "/api/translation/download/"+jobID+"/audio_version?version=2", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if audio := readBody(t, resp); !strings.Contains(audio, "|1.25|") {
		t.Errorf("expected audio synthesized at rate 1.25, got %q", audio)
	}
}

func TestRegenerateAudio_Validation(t *testing.T) {
	ta := setupApp(t)
	jobID := uploadAndWait(t, ta)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing rate", `{}`, http.StatusBadRequest},
		{"rate too high", `{"speakingRate":3}`, http.StatusBadRequest},
		{"bad transcript source", `{"speakingRate":1,"transcriptSource":"both"}`, http.StatusBadRequest},
		{"malformed body", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := doUserRequest(ta.app, http.MethodPost, "/api/translation/regenerate-audio/"+jobID, tt.body)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			assertStatus(t, resp, tt.status)
		})
	}
}

func TestRegenerateAudio_NotCompleted(t *testing.T) {
	ta := setupApp(t)
	jobID := uploadAndWait(t, ta)

	resp, err := doUserRequest(ta.app, http.MethodPost, "/api/translation/test/fail/"+jobID+"?step=audio_generation", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	resp, err = doUserRequest(ta.app, http.MethodPost, "/api/translation/regenerate-audio/"+jobID, `{"speakingRate":1}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
	if code := errorCode(t, resp); code != "INVALID_JOB_STATE" {
		t.Errorf("expected INVALID_JOB_STATE, got %s", code)
	}
}
