package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths_Layout(t *testing.T) {
	p := NewLayout("/data/outputs").For("job-1", "en", "ja")

	assert.Equal(t, "/data/outputs/job-1", p.Dir())
	assert.Equal(t, "/data/outputs/job-1/processed", p.ProcessedDir())
	assert.Equal(t, "/data/outputs/job-1/processed/chunks", p.AudioChunksDir())
	assert.Equal(t, "/data/outputs/job-1/transcript_en_raw.txt", p.RawTranscript())
	assert.Equal(t, "/data/outputs/job-1/transcript_en_formatted.txt", p.FormattedTranscript())
	assert.Equal(t, "/data/outputs/job-1/translation_chunks", p.TranslationChunksDir())
	assert.Equal(t, "/data/outputs/job-1/transcript_ja_merged.txt", p.MergedTranscript())
	assert.Equal(t, "/data/outputs/job-1/transcript_ja_clean.txt", p.CleanedTranscript())
	assert.Equal(t, "/data/outputs/job-1/audio_segments", p.AudioSegmentsDir(1))
	assert.Equal(t, "/data/outputs/job-1/full_audio_ja.mp3", p.FinalTargetAudio())
	assert.Equal(t, "/data/outputs/job-1/upload/talk.mp3", p.Upload("../../talk.mp3"))
}

func TestPaths_Versioned(t *testing.T) {
	p := NewLayout("out").For("abc", "ja", "en")

	assert.Equal(t, filepath.Join("out", "abc", "audio_segments_v2"), p.AudioSegmentsDir(2))
	assert.Equal(t, filepath.Join("out", "abc", "full_audio_ja_v3.mp3"), p.FinalAudio("ja", 3))
	assert.Equal(t, filepath.Join("out", "abc", "full_audio_en.mp3"), p.FinalAudio("en", 1))
}

func TestPaths_Stable(t *testing.T) {
	a := NewLayout("root").For("id", "en", "ja")
	b := NewLayout("root").For("id", "en", "ja")
	assert.Equal(t, a, b)
	assert.Equal(t, a.CleanedTranscript(), b.CleanedTranscript())
}

func TestChunkFileNames(t *testing.T) {
	assert.Equal(t, "chunk_007.txt", ChunkFileName(7))
	assert.Equal(t, "chunk_007_ERROR.txt", ChunkErrorFileName(7))
	assert.Equal(t, "chunk_1234.txt", ChunkFileName(1234))

	tests := []struct {
		name    string
		seq     int
		isError bool
		ok      bool
	}{
		{"chunk_001.txt", 1, false, true},
		{"chunk_012_ERROR.txt", 12, true, true},
		{"chunk_1000.txt", 1000, false, true},
		{"chunk_000.txt", 0, false, false},
		{"chunk_01.md", 0, false, false},
		{"notes.txt", 0, false, false},
		{"chunk_003.txt.tmp", 0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, isErr, ok := ParseChunkFileName(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.seq, seq)
			assert.Equal(t, tt.isError, isErr)
		})
	}
}

func TestSegmentFileNames(t *testing.T) {
	assert.Equal(t, "segment_0003_Speaker_B.mp3", SegmentFileName(3, "Speaker B"))
	assert.Equal(t, "segment_0003_Speaker_B_silence.mp3", SilenceFileName(3, "Speaker B"))
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chunk_001.txt")

	require.NoError(t, WriteFile(path, []byte("Speaker A: hi\n")))
	require.NoError(t, WriteFile(path, []byte("Speaker A: again\n")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Speaker A: again\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
	assert.True(t, Exists(path))
	assert.True(t, NonEmptyFile(path))
	assert.False(t, NonEmptyFile(filepath.Dir(path)))
	assert.False(t, Exists(""))
}
