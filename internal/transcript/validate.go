package transcript

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dubflow/api/internal/lang"
)

// DefaultMaxLineLength is the line length above which ValidateClean warns
// that a line will be slow to synthesize.
const DefaultMaxLineLength = 500

var (
	leftoverBracket = regexp.MustCompile(`\[[^\]\n]*\]`)
	leftoverURL     = regexp.MustCompile(`https?://`)
)

// CleanReport describes whether a cleaned transcript is ready for synthesis.
// Issues make the text unusable; warnings are informational.
type CleanReport struct {
	SpeakerLines int      `json:"speakerLines"`
	ScriptChars  int      `json:"scriptChars"`
	Issues       []string `json:"issues,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Ready reports whether no issue was found.
func (r CleanReport) Ready() bool {
	return len(r.Issues) == 0
}

// ValidateClean inspects cleaned text. A maxLine of zero or less uses
// DefaultMaxLineLength.
func ValidateClean(text, language string, maxLine int) CleanReport {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineLength
	}

	var report CleanReport
	if StripMarkers(text) != text {
		report.Issues = append(report.Issues, "chunk markers remain")
	}

	for i, line := range strings.Split(text, "\n") {
		if _, _, ok := ParseSpeakerLine(line); ok {
			report.SpeakerLines++
		}
		if n := RuneLen(line); n > maxLine {
			report.Warnings = append(report.Warnings, fmt.Sprintf("line %d is %d characters long", i+1, n))
		}
	}
	if report.SpeakerLines == 0 {
		report.Issues = append(report.Issues, "no speaker lines")
	}

	report.ScriptChars = lang.ScriptCount(text, language)
	if report.ScriptChars == 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("no %s characters", language))
	}

	if leftoverBracket.MatchString(text) {
		report.Warnings = append(report.Warnings, "bracketed text remains")
	}
	if leftoverURL.MatchString(text) {
		report.Warnings = append(report.Warnings, "URL remains")
	}
	return report
}
