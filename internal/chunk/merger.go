package chunk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/dubflow/api/internal/artifact"
	"github.com/dubflow/api/internal/lang"
	"github.com/dubflow/api/internal/model"
	"github.com/dubflow/api/internal/transcript"
)

var ErrNoUsableChunks = errors.New("no usable chunk content")

var extraBlankLines = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)

// Marker is the debug line placed before each chunk while merging.
func Marker(seq int) string {
	return fmt.Sprintf("=== TRANSLATION CHUNK %s ===", artifact.ChunkFileName(seq))
}

// MergeReport lists the chunks that made it into the merged document and
// the ones that had to be skipped.
type MergeReport struct {
	Merged []int    `json:"merged"`
	Failed []string `json:"failed,omitempty"`
}

type chunkFile struct {
	seq  int
	name string
}

// listChunks returns the success files of dir ordered by sequence number.
func listChunks(dir string) ([]chunkFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk directory: %w", err)
	}
	var files []chunkFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq, isError, ok := artifact.ParseChunkFileName(e.Name())
		if !ok || isError {
			continue
		}
		files = append(files, chunkFile{seq: seq, name: e.Name()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].seq < files[j].seq })
	return files, nil
}

// Merge concatenates the success chunks of dir in sequence order and writes
// the normalized document to outputPath. Empty or unreadable chunks are
// reported and skipped; Merge fails only when no chunk had content.
func Merge(dir, outputPath string) (*MergeReport, error) {
	files, err := listChunks(dir)
	if err != nil {
		return nil, err
	}

	report := &MergeReport{}
	var parts []string
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, f.name))
		if err != nil {
			report.Failed = append(report.Failed, f.name)
			continue
		}
		content := cleanChunkContent(string(data))
		if content == "" {
			report.Failed = append(report.Failed, f.name)
			continue
		}
		parts = append(parts, Marker(f.seq), content, "")
		report.Merged = append(report.Merged, f.seq)
	}
	if len(report.Merged) == 0 {
		return report, fmt.Errorf("%w in %s", ErrNoUsableChunks, dir)
	}

	merged := finalize(transcript.StripMarkers(strings.Join(parts, "\n")))
	if err := artifact.WriteFile(outputPath, []byte(merged)); err != nil {
		return report, fmt.Errorf("failed to save merged transcript: %w", err)
	}
	return report, nil
}

func cleanChunkContent(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = transcript.StripMarkers(content)
	content = strings.TrimSpace(content)
	return extraBlankLines.ReplaceAllString(content, "\n\n")
}

// finalize puts a single space after every speaker colon, keeps at most one
// blank line in a row and ends the document with exactly one newline.
func finalize(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		line = strings.TrimRight(line, " \t")
		if speaker, body, ok := transcript.ParseSpeakerLine(line); ok && body != "" {
			line = transcript.SpeakerLine(speaker, body)
		}
		lines[i] = line
	}
	content = extraBlankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(content) + "\n"
}

// Validation is the diagnostic summary of a merged document.
type Validation struct {
	Valid        bool     `json:"valid"`
	Markers      int      `json:"markers"`
	SpeakerLines int      `json:"speakerLines"`
	ScriptChars  int      `json:"scriptChars"`
	Issues       []string `json:"issues,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

var markerLine = regexp.MustCompile(`(?m)^=== TRANSLATION CHUNK .*===[ \t]*$`)

// Validate inspects merged text for leftover markers, speaker lines and
// characters of the target language. It never modifies anything.
func Validate(text, targetLang string) Validation {
	v := Validation{
		Markers:     len(markerLine.FindAllStringIndex(text, -1)),
		ScriptChars: lang.ScriptCount(text, targetLang),
	}
	for _, line := range strings.Split(text, "\n") {
		if _, _, ok := transcript.ParseSpeakerLine(line); ok {
			v.SpeakerLines++
		}
	}

	if v.Markers > 0 {
		v.Warnings = append(v.Warnings, fmt.Sprintf("%d chunk markers remain", v.Markers))
	}
	if v.SpeakerLines == 0 {
		v.Issues = append(v.Issues, "no speaker lines found")
	}
	if v.ScriptChars == 0 {
		v.Issues = append(v.Issues, fmt.Sprintf("no %s characters found", targetLang))
	}
	v.Valid = len(v.Issues) == 0
	return v
}

// Progress counts the chunk files written to dir so far. The total is the
// highest sequence number seen, since chunks are numbered contiguously.
func Progress(dir string) model.TranslationProgress {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return model.TranslationProgress{}
	}

	done := make(map[int]bool)
	failed := make(map[int]bool)
	maxSeq := 0
	for _, e := range entries {
		seq, isError, ok := artifact.ParseChunkFileName(e.Name())
		if !ok {
			continue
		}
		if isError {
			failed[seq] = true
		} else {
			done[seq] = true
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	for seq := range done {
		delete(failed, seq)
	}

	p := model.TranslationProgress{Completed: len(done), Errors: len(failed), Total: maxSeq}
	if maxSeq > 0 {
		p.Percent = float64(int(float64(len(done))/float64(maxSeq)*1000+0.5)) / 10
	}
	return p
}
