package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStuckDetectorFiresOnRepeats(t *testing.T) {
	d := NewStuckDetector(StuckConfig{WindowSize: 10, Threshold: 3, Action: StuckTerminate})

	args := map[string]any{"query": "weather"}
	d.Record("search", args)
	d.Record("search", args)
	assert.False(t, d.IsStuck())

	d.Record("search", args)
	assert.True(t, d.IsStuck())
	assert.Equal(t, StuckTerminate, d.Action())
}

func TestStuckDetectorNormalizesArgOrder(t *testing.T) {
	d := NewStuckDetector(StuckConfig{WindowSize: 5, Threshold: 2})
	d.Record("t", map[string]any{"a": 1, "b": 2})
	d.Record("t", map[string]any{"b": 2, "a": 1})
	assert.True(t, d.IsStuck())
}

func TestStuckDetectorDistinguishesArgs(t *testing.T) {
	d := NewStuckDetector(StuckConfig{WindowSize: 5, Threshold: 3})
	d.Record("search", map[string]any{"q": "one"})
	d.Record("search", map[string]any{"q": "two"})
	d.Record("search", map[string]any{"q": "three"})
	assert.False(t, d.IsStuck())
}

func TestStuckDetectorSlidingWindow(t *testing.T) {
	d := NewStuckDetector(StuckConfig{WindowSize: 2, Threshold: 3})
	same := map[string]any{"x": 1}
	d.Record("t", same)
	d.Record("t", same)
	d.Record("t", same)
	// Window of 2 can never hold 3 repeats.
	assert.False(t, d.IsStuck())
}

func TestNudgeEscalatesToTerminate(t *testing.T) {
	d := NewStuckDetector(StuckConfig{WindowSize: 10, Threshold: 2, Action: StuckNudge})
	same := map[string]any{"x": 1}
	d.Record("t", same)
	d.Record("t", same)

	assert.True(t, d.IsStuck())
	assert.Equal(t, StuckNudge, d.Action())
	// A second firing terminates instead of nudging forever.
	assert.Equal(t, StuckTerminate, d.Action())
}
