package reasoning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCallLimit(t *testing.T) {
	tracker := NewResourceTracker(ResourceLimits{MaxToolCalls: 3})

	require.NoError(t, tracker.Check())
	tracker.RecordToolCalls(2)
	require.NoError(t, tracker.Check())

	tracker.RecordToolCalls(1)
	err := tracker.Check()
	require.Error(t, err)
	var resErr *ResourceError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, ResourceToolCalls, resErr.Kind)
	assert.Equal(t, 3, resErr.Limit)
	assert.Equal(t, 3, resErr.Actual)
}

func TestZeroLimitDisablesCheck(t *testing.T) {
	tracker := NewResourceTracker(ResourceLimits{})
	tracker.RecordToolCalls(10_000)
	assert.NoError(t, tracker.Check())
}

func TestWallClockLimit(t *testing.T) {
	tracker := NewResourceTracker(ResourceLimits{MaxWallClock: time.Millisecond})
	time.Sleep(5 * time.Millisecond)

	err := tracker.CheckWallClock()
	require.Error(t, err)
	var resErr *ResourceError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, ResourceWallClock, resErr.Kind)
}

func TestDepthLimit(t *testing.T) {
	tracker := NewResourceTrackerAtDepth(ResourceLimits{MaxDepth: 2}, 2)
	err := tracker.CheckDepth()
	require.Error(t, err)
	var resErr *ResourceError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, ResourceDepth, resErr.Kind)

	shallow := NewResourceTrackerAtDepth(ResourceLimits{MaxDepth: 2}, 1)
	assert.NoError(t, shallow.CheckDepth())
}

func TestUsageSnapshot(t *testing.T) {
	tracker := NewResourceTrackerAtDepth(DefaultResourceLimits(), 3)
	tracker.RecordToolCalls(7)

	usage := tracker.Usage()
	assert.Equal(t, 7, usage.ToolCalls)
	assert.Equal(t, 3, usage.Depth)
	assert.GreaterOrEqual(t, usage.WallClock, time.Duration(0))
}
