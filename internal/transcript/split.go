package transcript

import "strings"

// Chunk is one unit of transcript text submitted to translation. Seq is
// 1-based and contiguous in transcript order.
type Chunk struct {
	Seq     int
	Speaker string
	Text    string
}

// String renders the chunk as a single tagged line.
func (c Chunk) String() string {
	return SpeakerLine(c.Speaker, c.Text)
}

type block struct {
	speaker string
	text    string
}

// Split turns a speaker-tagged transcript into translation chunks of at most
// width runes. Consecutive lines of one speaker become a single block; a
// block that does not fit is cut at sentence boundaries and every piece keeps
// the speaker label. Width is a soft bound: a lone sentence longer than width
// becomes its own oversized chunk. A width of zero or less disables splitting.
func Split(text string, width int) []Chunk {
	var chunks []Chunk
	for _, b := range blocks(text) {
		for _, piece := range pack(b, width) {
			chunks = append(chunks, Chunk{
				Seq:     len(chunks) + 1,
				Speaker: b.speaker,
				Text:    piece,
			})
		}
	}
	return chunks
}

// blocks merges consecutive lines of the same speaker.
func blocks(text string) []block {
	var out []block
	for _, line := range strings.Split(normalizeNewlines(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		speaker, body, tagged := ParseSpeakerLine(line)
		if !tagged {
			body = line
			if len(out) == 0 {
				speaker = FallbackSpeaker
			} else {
				speaker = out[len(out)-1].speaker
			}
		}

		if n := len(out); n > 0 && out[n-1].speaker == speaker {
			out[n-1].text = JoinText(out[n-1].text, CollapseSpaces(body))
			continue
		}
		out = append(out, block{speaker: speaker, text: CollapseSpaces(body)})
	}

	// Dropping an empty turn can leave two blocks of one speaker side by side.
	kept := out[:0]
	for _, b := range out {
		if b.text == "" {
			continue
		}
		if n := len(kept); n > 0 && kept[n-1].speaker == b.speaker {
			kept[n-1].text = JoinText(kept[n-1].text, b.text)
			continue
		}
		kept = append(kept, b)
	}
	return kept
}

// pack greedily fills pieces with whole sentences.
func pack(b block, width int) []string {
	fits := func(s string) bool {
		return width <= 0 || RuneLen(SpeakerLine(b.speaker, s)) <= width
	}
	if fits(b.text) {
		return []string{b.text}
	}

	var pieces []string
	current := ""
	for _, sentence := range SplitSentences(b.text) {
		candidate := JoinText(current, sentence)
		if current != "" && !fits(candidate) {
			pieces = append(pieces, current)
			current = sentence
			continue
		}
		current = candidate
	}
	if current != "" {
		pieces = append(pieces, current)
	}
	return pieces
}
