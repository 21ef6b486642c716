package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusText(t *testing.T) {
	for s, name := range statusNames {
		data, err := json.Marshal(s)
		require.NoError(t, err)
		assert.Equal(t, `"`+name+`"`, string(data))

		var decoded Status
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, s, decoded)
	}

	var s Status
	assert.Error(t, json.Unmarshal([]byte(`"TRANSLATING"`), &s))
	_, err := json.Marshal(Status(200))
	assert.Error(t, err)
}

func TestStatusClassification(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsFailed())
	assert.False(t, StatusFailed.IsStepFailure())
	assert.False(t, StatusTranslatingToTarget.IsTerminal())
	assert.False(t, StatusUploaded.IsFailed())

	_, ok := StatusFailed.ResumeStep()
	assert.False(t, ok)
}

func TestStepTable(t *testing.T) {
	require.Len(t, Steps, 7)
	prev := 0
	for i, step := range Steps {
		assert.True(t, step.FailedStatus().IsStepFailure(), step.String())
		resume, ok := step.FailedStatus().ResumeStep()
		require.True(t, ok)
		assert.Equal(t, step, resume)

		assert.GreaterOrEqual(t, step.EntryProgress(), prev)
		assert.Greater(t, step.ExitProgress(), step.EntryProgress())
		prev = step.ExitProgress()

		parsed, err := ParseStep(step.String())
		require.NoError(t, err)
		assert.Equal(t, step, parsed)
		assert.Len(t, step.From(), 7-i)
	}
	assert.Equal(t, 100, StepAudio.ExitProgress())

	next, ok := StepMerge.Next()
	assert.True(t, ok)
	assert.Equal(t, StepClean, next)
	_, ok = StepAudio.Next()
	assert.False(t, ok)
	assert.Nil(t, Step(0).From())

	_, err := ParseStep("mixing")
	assert.Error(t, err)
}

func TestInjectedFailures(t *testing.T) {
	points := InjectionPoints()
	assert.Len(t, points, 8)
	assert.Equal(t, "generic", points[7])

	for _, point := range points {
		f, ok := LookupInjectedFailure(point)
		require.True(t, ok, point)
		assert.True(t, f.Status.IsFailed())
	}

	f, _ := LookupInjectedFailure("translation")
	assert.Equal(t, InjectedFailure{Status: StatusFailedTranslatingToTarget, Progress: 65}, f)

	_, ok := LookupInjectedFailure("upload")
	assert.False(t, ok)
}
