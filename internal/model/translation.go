package model

import "time"

// UploadResponse is returned when a new translation job is accepted
type UploadResponse struct {
	JobID          string    `json:"jobId"`
	Status         Status    `json:"status"`
	Message        string    `json:"message"`
	SourceLanguage string    `json:"sourceLanguage"`
	TargetLanguage string    `json:"targetLanguage"`
	CreatedAt      time.Time `json:"createdAt"`
}

// JobStatusResponse is the externally visible state of a job
type JobStatusResponse struct {
	JobID            string               `json:"jobId"`
	OwnerID          int64                `json:"ownerId"`
	Status           Status               `json:"status"`
	Progress         int                  `json:"progress"`
	Message          string               `json:"message"`
	ErrorMessage     *string              `json:"errorMessage,omitempty"`
	OriginalFilename string               `json:"originalFilename"`
	SourceLanguage   string               `json:"sourceLanguage"`
	TargetLanguage   string               `json:"targetLanguage"`
	CreatedAt        time.Time            `json:"createdAt"`
	CompletedAt      *time.Time           `json:"completedAt,omitempty"`
	RetryCount       int                  `json:"retryCount"`
	Files            []ResultFile         `json:"files"`
	Translation      *TranslationProgress `json:"translation,omitempty"`
	AudioVersions    []AudioVersion       `json:"audioVersions,omitempty"`
	AudioURL         string               `json:"audioUrl,omitempty"`
}

// File types accepted by the download endpoint
const (
	FileTypeSourceTranscript = "source_transcript"
	FileTypeTargetTranscript = "target_transcript"
	FileTypeTargetAudio      = "target_audio"
	FileTypeAudioVersion     = "audio_version"
)

// ResultFile describes one downloadable artifact
type ResultFile struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Version  int    `json:"version,omitempty"`
	Size     int64  `json:"size"`
}

// TranslationProgress summarizes the chunk files written so far
type TranslationProgress struct {
	Completed int     `json:"completed"`
	Errors    int     `json:"errors"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// RetryResponse is returned when a failed job is re-queued
type RetryResponse struct {
	JobID      string `json:"jobId"`
	Status     Status `json:"status"`
	ResumeFrom string `json:"resumeFrom"`
	Message    string `json:"message"`
}

// RegenerateAudioRequest asks for a new audio version of a completed job
type RegenerateAudioRequest struct {
	VoiceMappings    map[string]string `json:"voiceMappings"`
	SpeakingRate     float64           `json:"speakingRate" validate:"required"`
	TranscriptSource TranscriptSource  `json:"transcriptSource" validate:"omitempty,oneof=source target"`
}

// RegenerateAudioResponse is returned when a regeneration is queued
type RegenerateAudioResponse struct {
	JobID         string `json:"jobId"`
	Version       int    `json:"version"`
	AudioLanguage string `json:"audioLanguage"`
	Message       string `json:"message"`
}

// InjectFailureRequest simulates a pipeline failure (test mode only)
type InjectFailureRequest struct {
	Step string `json:"step" validate:"required"`
}

// UserJobsResponse lists the jobs owned by one user
type UserJobsResponse struct {
	OwnerID int64               `json:"ownerId"`
	Jobs    []JobStatusResponse `json:"jobs"`
	Total   int                 `json:"total"`
}
