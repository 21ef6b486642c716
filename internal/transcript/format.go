package transcript

import (
	"regexp"
	"strings"
)

// rawSpeakerPattern matches the labels speech-to-text engines emit, such as
// "Speaker 0:", "speaker B:" or "SPEAKER_01:". A letter id must be a single
// separated letter so prose like "Speakers:" or "Speaker notes:" stays text.
var rawSpeakerPattern = regexp.MustCompile(`(?i)^(speaker(?:[ _]*\d+|[ _]+[a-z]))\b[ \t]*[:：][ \t]*(.*)$`)

// Format makes a raw diarized transcript readable. Engine speaker ids are
// remapped to Speaker A, B, C... in order of first appearance, untagged lines
// are attributed to the speaker above them (or Speaker A at the top), and a
// blank line separates speaker changes.
func Format(raw string) string {
	mapping := make(map[string]string)
	next := 0
	current := ""
	var out []string

	assign := func(id string) string {
		if label, ok := mapping[id]; ok {
			return label
		}
		label := SpeakerLabel(next)
		mapping[id] = label
		next++
		return label
	}

	for _, line := range strings.Split(normalizeNewlines(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		m := rawSpeakerPattern.FindStringSubmatch(line)
		if m == nil {
			if current == "" {
				current = assign("")
			}
			out = append(out, SpeakerLine(current, line))
			continue
		}

		speaker := assign(strings.ToUpper(strings.Join(strings.Fields(strings.ReplaceAll(m[1], "_", " ")), " ")))
		if current != "" && speaker != current {
			out = append(out, "")
		}
		current = speaker
		if text := strings.TrimSpace(m[2]); text != "" {
			out = append(out, SpeakerLine(speaker, CollapseSpaces(text)))
		}
	}

	formatted := collapseBlankLines(strings.Join(out, "\n"), 1)
	formatted = strings.Trim(formatted, "\n")
	if formatted == "" {
		return ""
	}
	return formatted + "\n"
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// collapseBlankLines trims every line's trailing whitespace and limits runs
// of blank lines to max.
func collapseBlankLines(s string, max int) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blanks := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			blanks++
			if blanks > max {
				continue
			}
			out = append(out, "")
			continue
		}
		blanks = 0
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
