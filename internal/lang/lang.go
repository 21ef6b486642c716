// Package lang normalizes language codes and knows which Unicode scripts a
// language is written in.
package lang

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// Normalize turns a user supplied code ("ja", "ja-JP", "EN_us") into its
// base language subtag ("ja", "en").
func Normalize(code string) (string, error) {
	code = strings.TrimSpace(strings.ReplaceAll(code, "_", "-"))
	if code == "" {
		return "", fmt.Errorf("empty language code")
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("invalid language code %q: %w", code, err)
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "", fmt.Errorf("invalid language code %q", code)
	}
	return base.String(), nil
}

// Region returns the BCP 47 tag with the most likely region for a base
// language, as speech engines expect ("ja" -> "ja-JP").
func Region(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	base, _ := tag.Base()
	region, _ := tag.Region()
	t, err := language.Compose(base, region)
	if err != nil {
		return code
	}
	return t.String()
}

var scripts = map[string][]*unicode.RangeTable{
	"ja": {unicode.Hiragana, unicode.Katakana, unicode.Han},
	"zh": {unicode.Han},
	"ko": {unicode.Hangul, unicode.Han},
	"ru": {unicode.Cyrillic},
	"uk": {unicode.Cyrillic},
	"bg": {unicode.Cyrillic},
	"el": {unicode.Greek},
	"ar": {unicode.Arabic},
	"fa": {unicode.Arabic},
	"he": {unicode.Hebrew},
	"hi": {unicode.Devanagari},
	"th": {unicode.Thai},
}

// ScriptCount counts the characters of text written in the script of lang.
// Languages without an entry are assumed to use the Latin script.
func ScriptCount(text, lang string) int {
	tables, ok := scripts[baseOf(lang)]
	if !ok {
		tables = []*unicode.RangeTable{unicode.Latin}
	}
	n := 0
	for _, r := range text {
		if unicode.IsOneOf(tables, r) {
			n++
		}
	}
	return n
}

// IsCJK reports whether r belongs to a script written without spaces
// between words, or is one of its punctuation marks.
func IsCJK(r rune) bool {
	if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana) {
		return true
	}
	return r >= 0x3000 && r <= 0x303F || r >= 0xFF00 && r <= 0xFF65
}

func baseOf(code string) string {
	base, err := Normalize(code)
	if err != nil {
		return strings.ToLower(code)
	}
	return base
}
