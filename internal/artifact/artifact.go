// Package artifact computes where every intermediate and final output of a
// job lives on disk. All functions are pure: the same inputs always yield the
// same paths, which is what makes resume detection work across restarts.
package artifact

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	processedDir    = "processed"
	audioChunksDir  = "chunks"
	translationDir  = "translation_chunks"
	audioSegments   = "audio_segments"
	uploadDir       = "upload"
	chunkErrorTag   = "_ERROR"
	chunkTextSuffix = ".txt"
)

// Layout roots every job directory under a single outputs directory.
type Layout struct {
	Root string
}

// NewLayout returns a layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// JobDir is the directory owned exclusively by one job.
func (l Layout) JobDir(jobID string) string {
	return filepath.Join(l.Root, jobID)
}

// For returns the artifact paths of a job translating source into target.
func (l Layout) For(jobID, source, target string) Paths {
	return Paths{dir: l.JobDir(jobID), source: source, target: target}
}

// Paths resolves artifact locations for one job and language pair.
type Paths struct {
	dir    string
	source string
	target string
}

func (p Paths) Dir() string { return p.dir }

// Upload is where the original file named name is stored.
func (p Paths) Upload(name string) string {
	return filepath.Join(p.dir, uploadDir, filepath.Base(name))
}

func (p Paths) ProcessedDir() string { return filepath.Join(p.dir, processedDir) }

// AudioChunksDir holds the fixed-length audio chunks handed to speech-to-text.
func (p Paths) AudioChunksDir() string {
	return filepath.Join(p.dir, processedDir, audioChunksDir)
}

func (p Paths) RawTranscript() string {
	return filepath.Join(p.dir, transcriptName(p.source, "raw"))
}

func (p Paths) FormattedTranscript() string {
	return filepath.Join(p.dir, transcriptName(p.source, "formatted"))
}

func (p Paths) TranslationChunksDir() string { return filepath.Join(p.dir, translationDir) }

func (p Paths) MergedTranscript() string {
	return filepath.Join(p.dir, transcriptName(p.target, "merged"))
}

func (p Paths) CleanedTranscript() string {
	return filepath.Join(p.dir, transcriptName(p.target, "clean"))
}

// AudioSegmentsDir is the segment directory for an audio version. Version 1
// (and anything below it) is the original pipeline output.
func (p Paths) AudioSegmentsDir(version int) string {
	return filepath.Join(p.dir, audioSegments+versionSuffix(version))
}

// FinalAudio is the assembled audio file for lang at the given version.
func (p Paths) FinalAudio(lang string, version int) string {
	return filepath.Join(p.dir, fmt.Sprintf("full_audio_%s%s.mp3", lang, versionSuffix(version)))
}

// FinalTargetAudio is the version-1 output of the pipeline.
func (p Paths) FinalTargetAudio() string { return p.FinalAudio(p.target, 1) }

func transcriptName(lang, stage string) string {
	return fmt.Sprintf("transcript_%s_%s.txt", lang, stage)
}

func versionSuffix(version int) string {
	if version <= 1 {
		return ""
	}
	return fmt.Sprintf("_v%d", version)
}

// ChunkFileName is the success file name of chunk seq.
func ChunkFileName(seq int) string {
	return fmt.Sprintf("chunk_%03d%s", seq, chunkTextSuffix)
}

// ChunkErrorFileName is the sentinel written when chunk seq failed for good.
func ChunkErrorFileName(seq int) string {
	return fmt.Sprintf("chunk_%03d%s%s", seq, chunkErrorTag, chunkTextSuffix)
}

var chunkFilePattern = regexp.MustCompile(`^chunk_(\d+)(_ERROR)?\.txt$`)

// ParseChunkFileName recovers the sequence number from a chunk file name.
func ParseChunkFileName(name string) (seq int, isError bool, ok bool) {
	m := chunkFilePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false, false
	}
	return n, m[2] != "", true
}

// SegmentFileName names the synthesized clip for one dialogue segment.
func SegmentFileName(index int, speaker string) string {
	return fmt.Sprintf("segment_%04d_%s.mp3", index, strings.ReplaceAll(speaker, " ", "_"))
}

// SilenceFileName names the placeholder used when a segment failed. It is
// distinct from SegmentFileName so a later run retries the segment.
func SilenceFileName(index int, speaker string) string {
	return fmt.Sprintf("segment_%04d_%s_silence.mp3", index, strings.ReplaceAll(speaker, " ", "_"))
}
