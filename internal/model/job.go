package model

import (
	"maps"
	"time"
)

// Job represents one translation job and every artifact it has produced
type Job struct {
	ID               string     `json:"id"`
	OwnerID          int64      `json:"ownerId"`
	OriginalFilename string     `json:"originalFilename"`
	SourceLanguage   string     `json:"sourceLanguage"`
	TargetLanguage   string     `json:"targetLanguage"`
	Status           Status     `json:"status"`
	Progress         int        `json:"progress"`
	Message          string     `json:"message"`
	ErrorMessage     *string    `json:"errorMessage,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	RetryCount       int        `json:"retryCount"`

	Artifacts ArtifactPaths `json:"artifacts"`

	AudioVersions    []AudioVersion `json:"audioVersions,omitempty"`
	NextAudioVersion int            `json:"nextAudioVersion,omitempty"`
	AudioURL         string         `json:"audioUrl,omitempty"`
}

// ArtifactPaths holds the on-disk location of each pipeline output. A field
// stays empty until the step that produces it has completed.
type ArtifactPaths struct {
	OriginalFile         string `json:"originalFile,omitempty"`
	ProcessedAudioDir    string `json:"processedAudioDir,omitempty"`
	CleanedAudio         string `json:"cleanedAudio,omitempty"`
	AudioChunksDir       string `json:"audioChunksDir,omitempty"`
	RawTranscript        string `json:"rawTranscript,omitempty"`
	FormattedTranscript  string `json:"formattedTranscript,omitempty"`
	TranslationChunksDir string `json:"translationChunksDir,omitempty"`
	MergedTranscript     string `json:"mergedTranscript,omitempty"`
	CleanedTranscript    string `json:"cleanedTranscript,omitempty"`
	AudioSegmentsDir     string `json:"audioSegmentsDir,omitempty"`
	FinalTargetAudio     string `json:"finalTargetAudio,omitempty"`
}

// AudioVersion records one regeneration of the final audio
type AudioVersion struct {
	Version                int               `json:"version"`
	Path                   string            `json:"path"`
	VoiceMappings          map[string]string `json:"voiceMappings,omitempty"`
	EffectiveVoiceMappings map[string]string `json:"effectiveVoiceMappings"`
	SpeakingRate           float64           `json:"speakingRate"`
	TranscriptSource       TranscriptSource  `json:"transcriptSource"`
	AudioLanguage          string            `json:"audioLanguage"`
	CreatedAt              time.Time         `json:"createdAt"`
	TotalSegments          int               `json:"totalSegments"`
	SuccessfulSegments     int               `json:"successfulSegments"`
	FailedSegmentsCount    int               `json:"failedSegmentsCount"`
}

// TranscriptSource selects which transcript a regeneration speaks
type TranscriptSource string

const (
	TranscriptSourceSource TranscriptSource = "source"
	TranscriptSourceTarget TranscriptSource = "target"
)

// Clone returns a deep copy so callers never share mutable state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.ErrorMessage != nil {
		msg := *j.ErrorMessage
		c.ErrorMessage = &msg
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.AudioVersions != nil {
		c.AudioVersions = make([]AudioVersion, len(j.AudioVersions))
		for i, v := range j.AudioVersions {
			v.VoiceMappings = maps.Clone(v.VoiceMappings)
			v.EffectiveVoiceMappings = maps.Clone(v.EffectiveVoiceMappings)
			c.AudioVersions[i] = v
		}
	}
	return &c
}

// SetError records a failure message, or clears it when msg is empty.
func (j *Job) SetError(msg string) {
	if msg == "" {
		j.ErrorMessage = nil
		return
	}
	j.ErrorMessage = &msg
}

// LatestAudioVersion returns the highest version number recorded, 1 when
// only the pipeline output exists.
func (j *Job) LatestAudioVersion() int {
	latest := 1
	for _, v := range j.AudioVersions {
		if v.Version > latest {
			latest = v.Version
		}
	}
	return latest
}

// ReserveAudioVersion hands out the next regeneration version number.
func (j *Job) ReserveAudioVersion() int {
	next := j.LatestAudioVersion() + 1
	if j.NextAudioVersion > next {
		next = j.NextAudioVersion
	}
	j.NextAudioVersion = next + 1
	return next
}

// FindAudioVersion returns the record for version v.
func (j *Job) FindAudioVersion(v int) (AudioVersion, bool) {
	for _, av := range j.AudioVersions {
		if av.Version == v {
			return av, true
		}
	}
	return AudioVersion{}, false
}
