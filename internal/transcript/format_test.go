package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat_RemapsSpeakersByFirstAppearance(t *testing.T) {
	raw := "SPEAKER_01: Hello there.\r\nSPEAKER_00: Hi!\nHow are you?\n\n\nSPEAKER_01: Fine."

	want := "Speaker A: Hello there.\n" +
		"\n" +
		"Speaker B: Hi!\n" +
		"Speaker B: How are you?\n" +
		"\n" +
		"Speaker A: Fine.\n"
	assert.Equal(t, want, Format(raw))
}

func TestFormat_OrphanLinesAtTop(t *testing.T) {
	raw := "intro without a tag\nSpeaker 0: hi"

	assert.Equal(t, "Speaker A: intro without a tag\n\nSpeaker B: hi\n", Format(raw))
}

func TestFormat_DropsEmptyTurns(t *testing.T) {
	raw := "Speaker A:\nSpeaker A:   spaced    out   text"

	assert.Equal(t, "Speaker A: spaced out text\n", Format(raw))
}

func TestFormat_ProseIsNotASpeakerTag(t *testing.T) {
	raw := "Speaker 1: welcome\nSpeakers: two of us today\nSpeaker notes: none\nspeaker_2: thanks"

	want := "Speaker A: welcome\n" +
		"Speaker A: Speakers: two of us today\n" +
		"Speaker A: Speaker notes: none\n" +
		"\n" +
		"Speaker B: thanks\n"
	assert.Equal(t, want, Format(raw))
}

func TestFormat_Empty(t *testing.T) {
	assert.Equal(t, "", Format(""))
	assert.Equal(t, "", Format("\n \n\t\n"))
}

func TestFormat_IsStable(t *testing.T) {
	raw := "speaker 3: one\nspeaker 7: two\nthree\nspeaker 3: four"

	once := Format(raw)
	assert.Equal(t, once, Format(once))
}
