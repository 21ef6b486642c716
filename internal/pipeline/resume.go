package pipeline

import (
	"github.com/dubflow/api/internal/artifact"
	"github.com/dubflow/api/internal/model"
)

// Resume is where a retried job re-enters the pipeline.
type Resume struct {
	Step model.Step
	// Completed is set when the final audio already exists and nothing is
	// left to run.
	Completed bool
}

// ExistsFunc reports whether a file or directory exists.
type ExistsFunc func(path string) bool

// ResolveResume decides where a failed job continues. A step-specific
// failure resumes at its own step. Anything else, generic FAILED included,
// is resolved by looking for the furthest artifact on disk. Only the paths
// for the job's own language pair are checked.
func ResolveResume(job *model.Job, paths artifact.Paths, exists ExistsFunc) Resume {
	if step, ok := job.Status.ResumeStep(); ok {
		return Resume{Step: step}
	}
	if exists == nil {
		exists = artifact.Exists
	}

	a := job.Artifacts
	checks := []struct {
		paths  []string
		resume Resume
	}{
		{[]string{a.FinalTargetAudio, paths.FinalTargetAudio()}, Resume{Completed: true}},
		{[]string{a.CleanedTranscript, paths.CleanedTranscript()}, Resume{Step: model.StepAudio}},
		{[]string{a.MergedTranscript, paths.MergedTranscript()}, Resume{Step: model.StepClean}},
		{[]string{a.TranslationChunksDir, paths.TranslationChunksDir()}, Resume{Step: model.StepMerge}},
		{[]string{a.FormattedTranscript, paths.FormattedTranscript()}, Resume{Step: model.StepTranslate}},
		{[]string{a.RawTranscript, paths.RawTranscript()}, Resume{Step: model.StepFormat}},
		{[]string{a.AudioChunksDir, paths.AudioChunksDir()}, Resume{Step: model.StepTranscribe}},
	}
	for _, check := range checks {
		for _, path := range check.paths {
			if path != "" && exists(path) {
				return check.resume
			}
		}
	}
	return Resume{Step: model.StepPreprocess}
}
