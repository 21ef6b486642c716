package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dubflow/api/internal/artifact"
	"github.com/dubflow/api/internal/chunk"
	"github.com/dubflow/api/internal/model"
	"github.com/dubflow/api/internal/synth"
)

// memStore is a minimal JobStore that remembers every status it was given.
type memStore struct {
	mu       sync.Mutex
	jobs     map[string]*model.Job
	statuses []model.Status
	progress []int
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*model.Job)}
}

func (s *memStore) put(job *model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
}

func (s *memStore) Get(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return job.Clone(), nil
}

func (s *memStore) Update(_ context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	next := job.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if next.Status != job.Status {
		s.statuses = append(s.statuses, next.Status)
	}
	s.progress = append(s.progress, next.Progress)
	s.jobs[id] = next
	return next.Clone(), nil
}

type fakePreprocessor struct {
	calls int
	err   error
}

func (f *fakePreprocessor) Preprocess(_ context.Context, input, outputDir string) (string, string, error) {
	f.calls++
	if f.err != nil {
		return "", "", f.err
	}
	chunkDir := filepath.Join(outputDir, "chunks")
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return "", "", err
	}
	cleaned := filepath.Join(outputDir, "cleaned.wav")
	if err := os.WriteFile(cleaned, []byte("audio"), 0o644); err != nil {
		return "", "", err
	}
	return cleaned, chunkDir, os.WriteFile(filepath.Join(chunkDir, "chunk_000.wav"), []byte("audio"), 0o644)
}

type fakeTranscriber struct {
	calls int
	raw   string
	err   error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _, outputPath, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return outputPath, artifact.WriteFile(outputPath, []byte(f.raw))
}

// fakeTranslator keeps each speaker label and wraps the spoken text.
type fakeTranslator struct {
	mu    sync.Mutex
	calls int
	fail  bool
	panic bool
}

func (f *fakeTranslator) Translate(_ context.Context, text, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panic {
		panic("translator exploded")
	}
	if f.fail {
		return "", errors.New("translation service unavailable")
	}
	label, body, _ := strings.Cut(text, ": ")
	return label + ": 翻訳「" + body + "」", nil
}

type fakeAudio struct {
	requests []synth.Request
	err      error
}

func (f *fakeAudio) Generate(_ context.Context, req synth.Request) (*synth.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	segments := synth.ParseSegments(req.Transcript)
	if err := artifact.WriteFile(req.OutputPath, []byte(req.Transcript)); err != nil {
		return nil, err
	}
	return &synth.Result{
		Path:            req.OutputPath,
		Total:           len(segments),
		Succeeded:       len(segments),
		EffectiveVoices: map[string]string{"Speaker A": "onyx"},
	}, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	progress  []int
	completes int
	errors    []string
}

func (n *recordingNotifier) BroadcastProgress(_ string, progress int, _ model.Status, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, progress)
}

func (n *recordingNotifier) BroadcastComplete(string, interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completes++
}

func (n *recordingNotifier) BroadcastError(_ string, code, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, code)
}

const rawTranscript = "SPEAKER_00: Hello everyone, welcome to the show.\n" +
	"SPEAKER_00: Today we talk about travel.\n" +
	"SPEAKER_01: Thanks for having me.\n" +
	"SPEAKER_00: Let's begin.\n"

type harness struct {
	store        *memStore
	notifier     *recordingNotifier
	preprocessor *fakePreprocessor
	transcriber  *fakeTranscriber
	translator   *fakeTranslator
	audio        *fakeAudio
	pipeline     *Pipeline
	layout       artifact.Layout
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:        newMemStore(),
		notifier:     &recordingNotifier{},
		preprocessor: &fakePreprocessor{},
		transcriber:  &fakeTranscriber{raw: rawTranscript},
		translator:   &fakeTranslator{},
		audio:        &fakeAudio{},
		layout:       artifact.NewLayout(t.TempDir()),
	}
	h.pipeline = New(
		h.store,
		h.layout,
		Engines{Preprocessor: h.preprocessor, Transcriber: h.transcriber, Translator: h.translator, Audio: h.audio},
		chunk.NewProcessor(2, 0, 0, nil),
		h.notifier,
		Config{ChunkWidth: 3000, SpeakingRate: 1.0, MaxLineLength: 500},
		nil,
	)
	return h
}

// newJob stores an uploaded en to ja job with its original file on disk.
func (h *harness) newJob(t *testing.T, id string) *model.Job {
	t.Helper()
	paths := h.layout.For(id, "en", "ja")
	upload := paths.Upload("interview.mp3")
	require.NoError(t, artifact.WriteFile(upload, []byte("mp3")))
	job := &model.Job{
		ID:               id,
		OriginalFilename: "interview.mp3",
		SourceLanguage:   "en",
		TargetLanguage:   "ja",
		Status:           model.StatusUploaded,
		CreatedAt:        time.Now(),
		Artifacts:        model.ArtifactPaths{OriginalFile: upload},
	}
	h.store.put(job)
	return job
}

func TestRun_EnglishToJapanese(t *testing.T) {
	h := newHarness(t)
	h.newJob(t, "job-1")

	require.NoError(t, h.pipeline.Run(context.Background(), "job-1"))

	job, err := h.store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Nil(t, job.ErrorMessage)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)

	assert.Equal(t, []model.Status{
		model.StatusPreprocessingAudio,
		model.StatusTranscribingSource,
		model.StatusFormattingSourceText,
		model.StatusTranslatingToTarget,
		model.StatusMergingTargetChunks,
		model.StatusCleaningTargetText,
		model.StatusGeneratingTargetAudio,
		model.StatusCompleted,
	}, h.store.statuses)
	for i := 1; i < len(h.store.progress); i++ {
		assert.GreaterOrEqual(t, h.store.progress[i], h.store.progress[i-1], "progress went backwards at write %d", i)
	}

	paths := h.layout.For("job-1", "en", "ja")
	assert.Equal(t, paths.RawTranscript(), job.Artifacts.RawTranscript)
	assert.Equal(t, paths.FormattedTranscript(), job.Artifacts.FormattedTranscript)
	assert.Equal(t, paths.MergedTranscript(), job.Artifacts.MergedTranscript)
	assert.Equal(t, paths.CleanedTranscript(), job.Artifacts.CleanedTranscript)
	assert.Equal(t, paths.FinalTargetAudio(), job.Artifacts.FinalTargetAudio)
	assert.FileExists(t, job.Artifacts.FinalTargetAudio)
	assert.True(t, strings.HasSuffix(job.Artifacts.FinalTargetAudio, "full_audio_ja.mp3"))

	cleaned, err := os.ReadFile(job.Artifacts.CleanedTranscript)
	require.NoError(t, err)
	assert.Contains(t, string(cleaned), "Speaker A: 翻訳「Hello everyone, welcome to the show. Today we talk about travel.」")
	assert.Contains(t, string(cleaned), "Speaker B: 翻訳「Thanks for having me.」")
	assert.NotContains(t, string(cleaned), "TRANSLATION CHUNK")

	require.Len(t, h.audio.requests, 1)
	assert.Equal(t, "ja", h.audio.requests[0].Language)
	assert.Equal(t, paths.AudioSegmentsDir(1), h.audio.requests[0].SegmentDir)
	assert.Equal(t, 1, h.notifier.completes)
	assert.Empty(t, h.notifier.errors)
}

func TestRunFrom_StepFailureParksJob(t *testing.T) {
	// Starting each step with nothing upstream makes it fail on its input.
	for _, step := range model.Steps {
		t.Run(step.String(), func(t *testing.T) {
			h := newHarness(t)
			job := h.newJob(t, "job-"+step.String())
			if step == model.StepPreprocess {
				h.preprocessor.err = errors.New("ffmpeg exited with status 1")
			}
			if step == model.StepTranscribe {
				h.transcriber.err = errors.New("speech service rejected audio")
			}

			err := h.pipeline.RunFrom(context.Background(), job.ID, step)
			require.Error(t, err)

			var stepErr *StepError
			require.True(t, errors.As(err, &stepErr))
			assert.Equal(t, step, stepErr.Step)

			stored, err := h.store.Get(context.Background(), job.ID)
			require.NoError(t, err)
			assert.Equal(t, step.FailedStatus(), stored.Status)
			require.NotNil(t, stored.ErrorMessage)
			assert.Equal(t, []string{step.FailedStatus().String()}, h.notifier.errors)

			resume := ResolveResume(stored, h.layout.For(job.ID, "en", "ja"), artifact.Exists)
			assert.Equal(t, Resume{Step: step}, resume)
		})
	}
}

func TestResume_AfterTranslationFailure(t *testing.T) {
	h := newHarness(t)
	h.newJob(t, "job-2")
	h.translator.fail = true

	err := h.pipeline.Run(context.Background(), "job-2")
	require.ErrorIs(t, err, chunk.ErrAllChunksFailed)

	job, err := h.store.Get(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailedTranslatingToTarget, job.Status)

	h.translator.fail = false
	require.NoError(t, h.pipeline.Resume(context.Background(), "job-2"))

	job, err = h.store.Get(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Equal(t, 1, h.preprocessor.calls)
	assert.Equal(t, 1, h.transcriber.calls)
	assert.FileExists(t, job.Artifacts.FinalTargetAudio)
}

func TestResume_CompletedArtifactsOnlyFinalize(t *testing.T) {
	h := newHarness(t)
	h.newJob(t, "job-3")
	require.NoError(t, h.pipeline.Run(context.Background(), "job-3"))

	_, err := h.store.Update(context.Background(), "job-3", func(j *model.Job) error {
		j.Status = model.StatusFailed
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, h.pipeline.Resume(context.Background(), "job-3"))
	job, err := h.store.Get(context.Background(), "job-3")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Len(t, h.audio.requests, 1, "no step ran again")
}

func TestResume_InterruptedStepIsReentered(t *testing.T) {
	h := newHarness(t)
	h.newJob(t, "job-5")
	require.NoError(t, h.pipeline.Run(context.Background(), "job-5"))
	translations := h.translator.calls

	// A worker died while merging: the status is still in progress
	_, err := h.store.Update(context.Background(), "job-5", func(j *model.Job) error {
		j.Status = model.StatusMergingTargetChunks
		j.Progress = model.StepMerge.EntryProgress()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, h.pipeline.Resume(context.Background(), "job-5"))
	job, err := h.store.Get(context.Background(), "job-5")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Equal(t, 1, h.preprocessor.calls)
	assert.Equal(t, 1, h.transcriber.calls)
	assert.Equal(t, translations, h.translator.calls)
	assert.Len(t, h.audio.requests, 2, "only merge and later steps ran again")
}

func TestResume_CompletedJobIsLeftAlone(t *testing.T) {
	h := newHarness(t)
	h.newJob(t, "job-6")
	require.NoError(t, h.pipeline.Run(context.Background(), "job-6"))

	require.NoError(t, h.pipeline.Resume(context.Background(), "job-6"))
	assert.Len(t, h.audio.requests, 1)
	assert.Equal(t, 1, h.preprocessor.calls)
}

func TestRun_PanicBecomesGenericFailure(t *testing.T) {
	h := newHarness(t)
	h.newJob(t, "job-4")
	h.translator.panic = true

	err := h.pipeline.Run(context.Background(), "job-4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "translator exploded")
	var genericErr *GenericError
	assert.ErrorAs(t, err, &genericErr)
	var stepErr *StepError
	assert.False(t, errors.As(err, &stepErr))

	job, err := h.store.Get(context.Background(), "job-4")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
}

func TestResolveResume(t *testing.T) {
	layout := artifact.NewLayout("/outputs")
	paths := layout.For("j", "en", "ja")

	t.Run("step failures resume at their step", func(t *testing.T) {
		for _, step := range model.Steps {
			job := &model.Job{ID: "j", Status: step.FailedStatus()}
			assert.Equal(t, Resume{Step: step}, ResolveResume(job, paths, func(string) bool { return true }))
		}
	})

	tests := []struct {
		name     string
		existing []string
		want     Resume
	}{
		{"nothing", nil, Resume{Step: model.StepPreprocess}},
		{"audio chunks", []string{paths.AudioChunksDir()}, Resume{Step: model.StepTranscribe}},
		{"raw transcript", []string{paths.AudioChunksDir(), paths.RawTranscript()}, Resume{Step: model.StepFormat}},
		{"formatted", []string{paths.RawTranscript(), paths.FormattedTranscript()}, Resume{Step: model.StepTranslate}},
		{"translation chunks", []string{paths.FormattedTranscript(), paths.TranslationChunksDir()}, Resume{Step: model.StepMerge}},
		{"merged", []string{paths.TranslationChunksDir(), paths.MergedTranscript()}, Resume{Step: model.StepClean}},
		{"cleaned", []string{paths.MergedTranscript(), paths.CleanedTranscript()}, Resume{Step: model.StepAudio}},
		{"final audio", []string{paths.CleanedTranscript(), paths.FinalTargetAudio()}, Resume{Completed: true}},
		{"other direction is ignored", []string{layout.For("j", "ja", "en").CleanedTranscript()}, Resume{Step: model.StepPreprocess}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := make(map[string]bool)
			for _, p := range tt.existing {
				set[p] = true
			}
			job := &model.Job{ID: "j", Status: model.StatusFailed}
			assert.Equal(t, tt.want, ResolveResume(job, paths, func(p string) bool { return set[p] }))
		})
	}
}

func TestRegenerate(t *testing.T) {
	h := newHarness(t)
	h.newJob(t, "job-5")
	require.NoError(t, h.pipeline.Run(context.Background(), "job-5"))

	paths := h.layout.For("job-5", "en", "ja")
	original, err := os.ReadFile(paths.FinalTargetAudio())
	require.NoError(t, err)

	version, err := h.pipeline.Regenerate(context.Background(), "job-5", RegenerateRequest{
		Version:       2,
		VoiceMappings: map[string]string{"Speaker A": "alloy"},
		SpeakingRate:  1.25,
		Source:        model.TranscriptSourceTarget,
	})
	require.NoError(t, err)
	assert.Equal(t, paths.FinalAudio("ja", 2), version.Path)
	assert.Equal(t, "ja", version.AudioLanguage)

	source, err := h.pipeline.Regenerate(context.Background(), "job-5", RegenerateRequest{
		Version:      3,
		SpeakingRate: 1.0,
		Source:       model.TranscriptSourceSource,
	})
	require.NoError(t, err)
	assert.Equal(t, paths.FinalAudio("en", 3), source.Path)
	assert.Equal(t, paths.AudioSegmentsDir(3), h.audio.requests[2].SegmentDir)
	assert.Contains(t, h.audio.requests[2].Transcript, "Hello everyone")

	job, err := h.store.Get(context.Background(), "job-5")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, job.Status)
	require.Len(t, job.AudioVersions, 2)
	assert.Equal(t, 2, job.AudioVersions[0].Version)
	assert.Equal(t, 3, job.AudioVersions[1].Version)
	assert.Equal(t, 3, job.LatestAudioVersion())

	after, err := os.ReadFile(paths.FinalTargetAudio())
	require.NoError(t, err)
	assert.Equal(t, original, after, "version 1 is never overwritten")
}

func TestRegenerate_RequiresCompletedJob(t *testing.T) {
	h := newHarness(t)
	h.newJob(t, "job-6")

	_, err := h.pipeline.Regenerate(context.Background(), "job-6", RegenerateRequest{Version: 2, SpeakingRate: 1})
	assert.ErrorIs(t, err, ErrJobNotCompleted)
	assert.Empty(t, h.audio.requests)
}
