// Package transcript holds the text transformations applied to speaker-tagged
// transcripts: formatting the raw speech-to-text output, splitting it into
// translation chunks and cleaning translated text before synthesis.
//
// A speaker-tagged transcript is a sequence of lines of the form
// "Speaker X: text", where X is a single upper-case letter. Lines without a
// tag continue the turn of the speaker above them.
package transcript

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dubflow/api/internal/lang"
)

// FallbackSpeaker is assigned to text that appears before any speaker tag.
const FallbackSpeaker = "Speaker A"

var speakerLinePattern = regexp.MustCompile(`^(Speaker [A-Z])[ \t]*[:：][ \t]*(.*)$`)

// ParseSpeakerLine splits a tagged line into its speaker label and text.
func ParseSpeakerLine(line string) (speaker, text string, ok bool) {
	m := speakerLinePattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", "", false
	}
	return m[1], strings.TrimSpace(m[2]), true
}

// SpeakerLine renders a tagged line in canonical form.
func SpeakerLine(speaker, text string) string {
	return speaker + ": " + text
}

// HasSpeakerLines reports whether any line of text carries a speaker tag.
func HasSpeakerLines(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if _, _, ok := ParseSpeakerLine(line); ok {
			return true
		}
	}
	return false
}

// SpeakerLabel returns the label for the i-th distinct speaker (0-based).
// Labels past Z saturate at "Speaker Z".
func SpeakerLabel(i int) string {
	if i > 25 {
		i = 25
	}
	if i < 0 {
		i = 0
	}
	return "Speaker " + string(rune('A'+i))
}

const closers = `"'”’」』）)]】`

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func isCJKTerminal(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

// SplitSentences cuts text after sentence-ending punctuation. ASCII
// terminators only end a sentence when followed by whitespace or the end of
// the text; CJK terminators always do. Closing quotes and brackets stay with
// the sentence they close. The pieces rejoined with JoinText give back text
// up to whitespace.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	var sentences []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		cjk := isCJKTerminal(runes[i])
		j := i + 1
		for j < len(runes) && (isTerminal(runes[j]) || strings.ContainsRune(closers, runes[j])) {
			if isCJKTerminal(runes[j]) {
				cjk = true
			}
			j++
		}
		if j < len(runes) && !cjk && !unicode.IsSpace(runes[j]) {
			i = j - 1
			continue
		}
		if s := strings.TrimSpace(string(runes[start:j])); s != "" {
			sentences = append(sentences, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// JoinText appends b to a, separated by a single space unless both sides of
// the seam are CJK text, which is written without spaces.
func JoinText(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	last, _ := utf8.DecodeLastRuneInString(a)
	first, _ := utf8.DecodeRuneInString(b)
	if lang.IsCJK(last) && lang.IsCJK(first) {
		return a + b
	}
	return a + " " + b
}

// RuneLen is the length used for every width and safe-length comparison.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// CollapseSpaces replaces every whitespace run with a single space.
func CollapseSpaces(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
