// Package synth turns a speaker-tagged transcript into one spoken audio file,
// one clip per dialogue turn.
package synth

import (
	"strings"

	"github.com/dubflow/api/internal/transcript"
)

// Segment is one speaker turn of a transcript. Index is 1-based.
type Segment struct {
	Index   int
	Speaker string
	Text    string
}

// ParseSegments collects dialogue turns: a speaker tag opens a segment and
// every following untagged, non-empty line joins it until the next tag.
// Text before the first tag is ignored, as are turns without content.
func ParseSegments(text string) []Segment {
	var segments []Segment
	var current *Segment
	flush := func() {
		if current != nil && current.Text != "" {
			current.Index = len(segments) + 1
			segments = append(segments, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if speaker, body, ok := transcript.ParseSpeakerLine(line); ok {
			flush()
			current = &Segment{Speaker: speaker, Text: transcript.CollapseSpaces(body)}
			continue
		}
		if current != nil {
			current.Text = transcript.JoinText(current.Text, transcript.CollapseSpaces(line))
		}
	}
	flush()
	return segments
}

// Speakers returns the distinct speakers of segments in order of appearance.
func Speakers(segments []Segment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range segments {
		if !seen[s.Speaker] {
			seen[s.Speaker] = true
			out = append(out, s.Speaker)
		}
	}
	return out
}

// splitForSynthesis cuts text into pieces of at most limit runes, at
// sentence boundaries where possible. A sentence longer than limit is cut at
// the last space inside the window, or hard at limit when there is none.
func splitForSynthesis(text string, limit int) []string {
	if limit <= 0 || transcript.RuneLen(text) <= limit {
		return []string{text}
	}

	var pieces []string
	current := ""
	for _, sentence := range transcript.SplitSentences(text) {
		for _, part := range hardWrap(sentence, limit) {
			candidate := transcript.JoinText(current, part)
			if current != "" && transcript.RuneLen(candidate) > limit {
				pieces = append(pieces, current)
				current = part
				continue
			}
			current = candidate
		}
	}
	if current != "" {
		pieces = append(pieces, current)
	}
	return pieces
}

func hardWrap(s string, limit int) []string {
	runes := []rune(s)
	var out []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimSpace(string(runes[:cut])))
		runes = []rune(strings.TrimSpace(string(runes[cut:])))
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
