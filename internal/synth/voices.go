package synth

import (
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/dubflow/api/internal/lang"
)

// LanguageVoices assigns voices for one language.
type LanguageVoices struct {
	Default  string            `yaml:"default"`
	Speakers map[string]string `yaml:"speakers"`
}

// VoiceCatalog holds the default voice for every (language, speaker) pair.
//
// Example file:
//
//	default: alloy
//	languages:
//	  ja:
//	    default: nova
//	    speakers:
//	      Speaker A: onyx
//	      Speaker B: echo
type VoiceCatalog struct {
	Default   string                    `yaml:"default"`
	Languages map[string]LanguageVoices `yaml:"languages"`
}

// DefaultCatalog returns the built-in voice assignment: two distinct male
// voices for the first two speakers, then alternating female and male.
func DefaultCatalog() *VoiceCatalog {
	speakers := map[string]string{
		"Speaker A": "onyx",
		"Speaker B": "echo",
		"Speaker C": "nova",
		"Speaker D": "fable",
		"Speaker E": "shimmer",
	}
	c := &VoiceCatalog{Default: "alloy", Languages: make(map[string]LanguageVoices)}
	for _, code := range []string{"en", "ja", "es", "fr", "de", "zh", "ko"} {
		c.Languages[code] = LanguageVoices{Default: "alloy", Speakers: speakers}
	}
	return c
}

// LoadCatalog reads a YAML catalog and layers it over the defaults. An empty
// path returns the defaults.
func LoadCatalog(path string) (*VoiceCatalog, error) {
	catalog := DefaultCatalog()
	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read voice catalog: %w", err)
	}
	var file VoiceCatalog
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse voice catalog: %w", err)
	}

	if file.Default != "" {
		catalog.Default = file.Default
	}
	for code, voices := range file.Languages {
		base := normalizeLang(code)
		merged := catalog.Languages[base]
		if voices.Default != "" {
			merged.Default = voices.Default
		}
		merged.Speakers = lo.Assign(merged.Speakers, lo.MapKeys(voices.Speakers, func(_ string, k string) string {
			return normalizeSpeaker(k)
		}))
		catalog.Languages[base] = merged
	}
	return catalog, nil
}

// Resolve picks the voice for speaker: an override (keyed "Speaker A" or
// just "A"), then the language's speaker default, then the language default,
// then the catalog default.
func (c *VoiceCatalog) Resolve(language, speaker string, overrides map[string]string) string {
	if v := overrides[speaker]; v != "" {
		return v
	}
	if v := overrides[strings.TrimPrefix(speaker, "Speaker ")]; v != "" {
		return v
	}
	if voices, ok := c.Languages[normalizeLang(language)]; ok {
		if v := voices.Speakers[speaker]; v != "" {
			return v
		}
		if voices.Default != "" {
			return voices.Default
		}
	}
	return c.Default
}

func normalizeLang(code string) string {
	if base, err := lang.Normalize(code); err == nil {
		return base
	}
	return strings.ToLower(code)
}

func normalizeSpeaker(key string) string {
	key = strings.TrimSpace(key)
	if len(key) == 1 {
		return "Speaker " + strings.ToUpper(key)
	}
	return key
}
