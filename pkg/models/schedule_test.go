package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronNextRun(t *testing.T) {
	// 12:30 UTC -> next hourly fire is 13:00 UTC.
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC).UnixMilli()
	schedule := TaskSchedule{Kind: ScheduleCron, Expression: "0 * * * *"}

	next := schedule.NextRunAfter(nil, now)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC).UnixMilli(), *next)
}

func TestCronHonorsTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// 08:30 New York, daily fire at 09:00 local.
	now := time.Date(2025, 6, 1, 8, 30, 0, 0, loc).UnixMilli()
	schedule := TaskSchedule{Kind: ScheduleCron, Expression: "0 9 * * *", Timezone: "America/New_York"}

	next := schedule.NextRunAfter(nil, now)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2025, 6, 1, 9, 0, 0, 0, loc).UnixMilli(), *next)
}

func TestOnceSchedule(t *testing.T) {
	now := time.Now().UnixMilli()
	schedule := TaskSchedule{Kind: ScheduleOnce, RunAt: now + 1000}

	next := schedule.NextRunAfter(nil, now)
	require.NotNil(t, next)
	assert.Equal(t, now+1000, *next)

	// After the single firing there is no next run.
	lastRun := now + 1000
	assert.Nil(t, schedule.NextRunAfter(&lastRun, now+2000))
}

func TestIntervalSchedule(t *testing.T) {
	now := time.Now().UnixMilli()
	schedule := TaskSchedule{Kind: ScheduleInterval, IntervalMS: 60_000}

	next := schedule.NextRunAfter(nil, now)
	require.NotNil(t, next)
	assert.Equal(t, now+60_000, *next)

	// A future start_at anchors the first run.
	start := now + 120_000
	anchored := TaskSchedule{Kind: ScheduleInterval, IntervalMS: 60_000, StartAt: &start}
	next = anchored.NextRunAfter(nil, now)
	require.NotNil(t, next)
	assert.Equal(t, start, *next)
}

func TestManualAndWebhookNeverFire(t *testing.T) {
	now := time.Now().UnixMilli()
	assert.Nil(t, TaskSchedule{Kind: ScheduleManual}.NextRunAfter(nil, now))
	assert.Nil(t, TaskSchedule{Kind: ScheduleWebhook, WebhookID: "wh"}.NextRunAfter(nil, now))
}

func TestScheduleValidate(t *testing.T) {
	assert.Error(t, TaskSchedule{Kind: ScheduleOnce}.Validate())
	assert.Error(t, TaskSchedule{Kind: ScheduleInterval}.Validate())
	assert.Error(t, TaskSchedule{Kind: ScheduleCron, Expression: "not a cron"}.Validate())
	assert.Error(t, TaskSchedule{Kind: ScheduleCron, Expression: "0 * * * *", Timezone: "Mars/Olympus"}.Validate())
	assert.NoError(t, TaskSchedule{Kind: ScheduleCron, Expression: "0 * * * *"}.Validate())
	assert.NoError(t, TaskSchedule{Kind: ScheduleManual}.Validate())
}
