package transcript

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var markerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)=== TRANSLATION CHUNK chunk_\d+\.txt ===[ \t]*\n?`),
	regexp.MustCompile(`(?i)=== TRANSLATION CHUNK [^\n]*? ===[ \t]*\n?`),
	regexp.MustCompile(`(?i)===[^\n]*?CHUNK[^\n]*?===[ \t]*\n?`),
	regexp.MustCompile(`(?i)=== chunk_\d+\.txt ===[ \t]*\n?`),
}

// StripMarkers removes chunk-boundary marker lines left by the merger.
func StripMarkers(text string) string {
	for _, p := range markerPatterns {
		text = p.ReplaceAllString(text, "")
	}
	return text
}

type replacement struct {
	pattern *regexp.Regexp
	with    string
}

var artifactPatterns = []replacement{
	{regexp.MustCompile(`\[翻訳者注[:：][^\]]*\]`), ""},
	{regexp.MustCompile(`\[注[:：][^\]]*\]`), ""},
	{regexp.MustCompile(`[(（]翻訳[:：][^)）]*[)）]`), ""},
	{regexp.MustCompile(`(?i)\[(?:translator'?s? )?notes?:[^\]]*\]`), ""},
	{regexp.MustCompile("(?s)```.*?```"), ""},
	{regexp.MustCompile("`"), ""},
	{regexp.MustCompile(`\*\*(.+?)\*\*`), "$1"},
	{regexp.MustCompile(`__(.+?)__`), "$1"},
	{regexp.MustCompile(`##[^\n]*?##`), ""},
	{regexp.MustCompile(`(?m)^[ \t]*#+[ \t]+`), ""},
	{regexp.MustCompile(`-{3,}`), ""},
	{regexp.MustCompile(`={3,}`), ""},
	{regexp.MustCompile(`\*{3,}`), ""},
	{regexp.MustCompile(`<[^<>\n]+>`), ""},
	{regexp.MustCompile(`https?://\S+`), ""},
	{regexp.MustCompile(`\S+@\S+\.\S+`), ""},
}

var (
	doubledFullStop   = regexp.MustCompile(`。(?:[ \t]*。)+`)
	doubledComma      = regexp.MustCompile(`、(?:[ \t]*、)+`)
	spaceBeforePunct  = regexp.MustCompile(`[ \t]+([、。！？])`)
	spaceAfterPunct   = regexp.MustCompile(`([。！？])[ \t]+`)
	multipleSpaces    = regexp.MustCompile(`[ \t]{2,}`)
	speakerLabelSpace = regexp.MustCompile(`^(Speaker [A-Z])[ \t]*[:：][ \t]*`)
)

// Clean sanitizes merged translation output for speech synthesis:
//
//  1. chunk markers are stripped
//  2. speaker labels are normalized and empty speaker lines dropped
//  3. translator notes, markdown, rules, tags, URLs and e-mails are removed
//  4. blank lines are collapsed, with two blank lines at every speaker change
//  5. punctuation and in-line spacing are tidied
//
// Tidying punctuation can expose new artifacts, so the passes repeat until
// the text stops changing. Clean is idempotent: Clean(Clean(x)) == Clean(x).
func Clean(text string) string {
	text = cleanOnce(text)
	for i := 0; i < maxCleanPasses; i++ {
		next := cleanOnce(text)
		if next == text {
			break
		}
		text = next
	}
	return text
}

const maxCleanPasses = 8

func cleanOnce(text string) string {
	text = norm.NFC.String(normalizeNewlines(text))
	text = StripMarkers(text)
	text = normalizeSpeakerLines(text)
	text = stripArtifacts(text)
	text = normalizeSpacing(text)
	text = cleanPunctuation(text)
	return norm.NFC.String(text)
}

func normalizeSpeakerLines(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if speaker, body, ok := ParseSpeakerLine(line); ok {
			if body == "" {
				continue
			}
			line = SpeakerLine(speaker, body)
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func stripArtifacts(text string) string {
	// Every replacement shortens the text, so this reaches a fixed point.
	for {
		before := text
		for _, r := range artifactPatterns {
			text = r.pattern.ReplaceAllString(text, r.with)
		}
		if text == before {
			break
		}
	}
	return text
}

// normalizeSpacing trims lines, drops speaker lines emptied by earlier
// passes, keeps at most one blank line inside a turn and exactly two before
// a new speaker.
func normalizeSpacing(text string) string {
	var out []string
	current := ""
	pendingBlank := false

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			pendingBlank = len(out) > 0
			continue
		}

		speaker, body, tagged := ParseSpeakerLine(line)
		if tagged && body == "" {
			continue
		}

		switch {
		case tagged && current != "" && speaker != current:
			out = append(out, "", "")
		case pendingBlank:
			out = append(out, "")
		}
		pendingBlank = false
		if tagged {
			current = speaker
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func cleanPunctuation(text string) string {
	text = spaceBeforePunct.ReplaceAllString(text, "$1")
	text = doubledFullStop.ReplaceAllString(text, "。")
	text = doubledComma.ReplaceAllString(text, "、")
	text = spaceAfterPunct.ReplaceAllString(text, "$1 ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		line = speakerLabelSpace.ReplaceAllString(line, "$1: ")
		line = multipleSpaces.ReplaceAllString(line, " ")
		lines[i] = strings.TrimSpace(line)
	}

	text = strings.TrimSpace(strings.Join(lines, "\n"))
	if text == "" {
		return ""
	}
	return text + "\n"
}
