package model

import (
	"fmt"
)

// Step identifies one stage of the translation pipeline.
type Step uint8

const (
	StepPreprocess Step = iota + 1
	StepTranscribe
	StepFormat
	StepTranslate
	StepMerge
	StepClean
	StepAudio
)

// Steps lists every pipeline step in execution order.
var Steps = []Step{
	StepPreprocess,
	StepTranscribe,
	StepFormat,
	StepTranslate,
	StepMerge,
	StepClean,
	StepAudio,
}

// Status is the lifecycle state of a job. The set of values is closed: only
// the constants below exist, and text decoding rejects anything else.
type Status uint8

const (
	statusInvalid Status = iota
	StatusUploaded
	StatusPreprocessingAudio
	StatusTranscribingSource
	StatusFormattingSourceText
	StatusTranslatingToTarget
	StatusMergingTargetChunks
	StatusCleaningTargetText
	StatusGeneratingTargetAudio
	StatusCompleted
	StatusFailedPreprocessingAudio
	StatusFailedTranscribingSource
	StatusFailedFormattingSourceText
	StatusFailedTranslatingToTarget
	StatusFailedMergingTargetChunks
	StatusFailedCleaningTargetText
	StatusFailedGeneratingTargetAudio
	StatusFailed
)

var statusNames = map[Status]string{
	StatusUploaded:                    "UPLOADED",
	StatusPreprocessingAudio:          "PREPROCESSING_AUDIO",
	StatusTranscribingSource:          "TRANSCRIBING_SOURCE",
	StatusFormattingSourceText:        "FORMATTING_SOURCE_TEXT",
	StatusTranslatingToTarget:         "TRANSLATING_TO_TARGET",
	StatusMergingTargetChunks:         "MERGING_TARGET_CHUNKS",
	StatusCleaningTargetText:          "CLEANING_TARGET_TEXT",
	StatusGeneratingTargetAudio:       "GENERATING_TARGET_AUDIO",
	StatusCompleted:                   "COMPLETED",
	StatusFailedPreprocessingAudio:    "FAILED_PREPROCESSING_AUDIO",
	StatusFailedTranscribingSource:    "FAILED_TRANSCRIBING_SOURCE",
	StatusFailedFormattingSourceText:  "FAILED_FORMATTING_SOURCE_TEXT",
	StatusFailedTranslatingToTarget:   "FAILED_TRANSLATING_TO_TARGET",
	StatusFailedMergingTargetChunks:   "FAILED_MERGING_TARGET_CHUNKS",
	StatusFailedCleaningTargetText:    "FAILED_CLEANING_TARGET_TEXT",
	StatusFailedGeneratingTargetAudio: "FAILED_GENERATING_TARGET_AUDIO",
	StatusFailed:                      "FAILED",
}

var statusByName = func() map[string]Status {
	m := make(map[string]Status, len(statusNames))
	for s, name := range statusNames {
		m[name] = s
	}
	return m
}()

// stepInfo is the static description of a pipeline step.
type stepInfo struct {
	name          string
	active        Status
	failed        Status
	entryProgress int
	exitProgress  int
	message       string
}

var stepTable = map[Step]stepInfo{
	StepPreprocess: {"preprocessing", StatusPreprocessingAudio, StatusFailedPreprocessingAudio, 5, 15, "Preprocessing audio..."},
	StepTranscribe: {"transcription", StatusTranscribingSource, StatusFailedTranscribingSource, 20, 40, "Transcribing source audio..."},
	StepFormat:     {"formatting", StatusFormattingSourceText, StatusFailedFormattingSourceText, 45, 50, "Formatting source transcript..."},
	StepTranslate:  {"translation", StatusTranslatingToTarget, StatusFailedTranslatingToTarget, 55, 70, "Translating transcript..."},
	StepMerge:      {"merging", StatusMergingTargetChunks, StatusFailedMergingTargetChunks, 75, 80, "Merging translated chunks..."},
	StepClean:      {"cleaning", StatusCleaningTargetText, StatusFailedCleaningTargetText, 82, 85, "Cleaning translated text..."},
	StepAudio:      {"audio_generation", StatusGeneratingTargetAudio, StatusFailedGeneratingTargetAudio, 90, 100, "Generating target audio..."},
}

// resumeTable maps each step-specific failure to the step that re-runs it.
// Generic FAILED is deliberately absent: it is resolved by artifact probing.
var resumeTable = map[Status]Step{
	StatusFailedPreprocessingAudio:    StepPreprocess,
	StatusFailedTranscribingSource:    StepTranscribe,
	StatusFailedFormattingSourceText:  StepFormat,
	StatusFailedTranslatingToTarget:   StepTranslate,
	StatusFailedMergingTargetChunks:   StepMerge,
	StatusFailedCleaningTargetText:    StepClean,
	StatusFailedGeneratingTargetAudio: StepAudio,
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// ParseStatus returns the status with the given wire name.
func ParseStatus(name string) (Status, error) {
	s, ok := statusByName[name]
	if !ok {
		return statusInvalid, fmt.Errorf("unknown job status %q", name)
	}
	return s, nil
}

func (s Status) MarshalText() ([]byte, error) {
	name, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("invalid job status %d", uint8(s))
	}
	return []byte(name), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsFailed reports whether s is generic FAILED or any step-specific failure.
func (s Status) IsFailed() bool {
	return s == StatusFailed || s.IsStepFailure()
}

// IsStepFailure reports whether s is one of the seven FAILED_<STATE> values.
func (s Status) IsStepFailure() bool {
	_, ok := resumeTable[s]
	return ok
}

// IsTerminal reports whether no task is expected to advance the job.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s.IsFailed()
}

// ResumeStep returns the step a step-specific failure resumes at.
func (s Status) ResumeStep() (Step, bool) {
	step, ok := resumeTable[s]
	return step, ok
}

// ActiveStep returns the step that runs while a job holds status s.
func (s Status) ActiveStep() (Step, bool) {
	for _, step := range Steps {
		if stepTable[step].active == s {
			return step, true
		}
	}
	return 0, false
}

// ParseStep accepts the step name used by the failure-injection endpoint.
func ParseStep(name string) (Step, error) {
	for _, step := range Steps {
		if stepTable[step].name == name {
			return step, nil
		}
	}
	return 0, fmt.Errorf("unknown pipeline step %q", name)
}

func (s Step) String() string {
	if info, ok := stepTable[s]; ok {
		return info.name
	}
	return fmt.Sprintf("Step(%d)", uint8(s))
}

// Valid reports whether s is one of the seven pipeline steps.
func (s Step) Valid() bool {
	_, ok := stepTable[s]
	return ok
}

// ActiveStatus is the in-progress status a job holds while s runs.
func (s Step) ActiveStatus() Status { return stepTable[s].active }

// FailedStatus is the status a job parks in when s fails.
func (s Step) FailedStatus() Status { return stepTable[s].failed }

// EntryProgress is the progress reported when s starts.
func (s Step) EntryProgress() int { return stepTable[s].entryProgress }

// ExitProgress is the progress reported when s succeeds.
func (s Step) ExitProgress() int { return stepTable[s].exitProgress }

// Message is the human-readable description shown while s runs.
func (s Step) Message() string { return stepTable[s].message }

// Next returns the step after s, or false when s is the last one.
func (s Step) Next() (Step, bool) {
	if s >= StepAudio || !s.Valid() {
		return 0, false
	}
	return s + 1, true
}

// From returns s and every later step in pipeline order.
func (s Step) From() []Step {
	if !s.Valid() {
		return nil
	}
	return Steps[int(s)-1:]
}

// InjectedFailure describes the status and progress a simulated failure
// leaves behind for a given injection point.
type InjectedFailure struct {
	Status   Status
	Progress int
}

// failureInjections is keyed by the step names of ParseStep plus "generic".
var failureInjections = map[string]InjectedFailure{
	"preprocessing":    {StatusFailedPreprocessingAudio, 10},
	"transcription":    {StatusFailedTranscribingSource, 30},
	"formatting":       {StatusFailedFormattingSourceText, 50},
	"translation":      {StatusFailedTranslatingToTarget, 65},
	"merging":          {StatusFailedMergingTargetChunks, 78},
	"cleaning":         {StatusFailedCleaningTargetText, 83},
	"audio_generation": {StatusFailedGeneratingTargetAudio, 95},
	"generic":          {StatusFailed, 50},
}

// LookupInjectedFailure returns the simulated failure for an injection point.
func LookupInjectedFailure(point string) (InjectedFailure, bool) {
	f, ok := failureInjections[point]
	return f, ok
}

// InjectionPoints lists the accepted failure-injection points.
func InjectionPoints() []string {
	points := make([]string, 0, len(failureInjections))
	for _, step := range Steps {
		points = append(points, step.String())
	}
	return append(points, "generic")
}
