package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtrader/internal/provider"
)

func newTestCalendar(t *testing.T, days ...string) *Calendar {
	t.Helper()
	p := provider.NewMemory()
	p.SetCalendar(days...)
	cal, err := New(p, []Session{{Open: "09:30:00", Close: "11:30:00"}, {Open: "13:00:00", Close: "15:00:00"}}, "2024-01-01", "2024-12-31")
	require.NoError(t, err)
	return cal
}

func TestTradingDaysRange(t *testing.T) {
	cal := newTestCalendar(t, "2024-01-02", "2024-01-03", "2024-01-04")
	assert.Equal(t, []string{"2024-01-03", "2024-01-04"}, cal.TradingDays("2024-01-03", "2024-12-31"))
	assert.Empty(t, cal.TradingDays("2024-02-01", "2024-02-28"))
}

func TestIsTradingTime(t *testing.T) {
	cal := newTestCalendar(t, "2024-01-02")
	in, _ := time.ParseInLocation(DateTimeLayout, "2024-01-02 10:00:00", time.Local)
	lunch, _ := time.ParseInLocation(DateTimeLayout, "2024-01-02 12:00:00", time.Local)
	weekend, _ := time.ParseInLocation(DateTimeLayout, "2024-01-06 10:00:00", time.Local)

	assert.True(t, cal.IsTradingTime(in))
	assert.False(t, cal.IsTradingTime(lunch))
	assert.False(t, cal.IsTradingTime(weekend))
}

func TestBuildScheduleDaily(t *testing.T) {
	points := BuildSchedule(FrequencyDaily, []string{"14:55:00", "10:00:00", "14:55:00"}, nil, 0)
	assert.Equal(t, []string{"10:00:00", "14:55:00"}, points)
}

func TestBuildScheduleMinute(t *testing.T) {
	sessions := []Session{{Open: "09:30:00", Close: "09:33:00"}}
	points := BuildSchedule(FrequencyMinute, nil, sessions, 0)
	assert.Equal(t, []string{"09:30:00", "09:31:00", "09:32:00", "09:33:00"}, points)
}

func TestBuildScheduleTick(t *testing.T) {
	sessions := []Session{{Open: "09:30:00", Close: "09:30:10"}}
	points := BuildSchedule(FrequencyTick, nil, sessions, 5*time.Second)
	assert.Equal(t, []string{"09:30:00", "09:30:05", "09:30:10"}, points)
}

func TestClampPointsDropsOutOfSession(t *testing.T) {
	sessions := []Session{{Open: "09:30:00", Close: "15:00:00"}}
	points := ClampPoints([]string{"10:00:00", "08:00:00", "15:30:00"}, sessions)
	assert.Equal(t, []string{"10:00:00"}, points)
}

func TestMergePointsDeduplicatesAndSorts(t *testing.T) {
	merged := MergePoints([]string{"14:00:00", "10:00:00"}, []string{"10:00:00", "09:31:00"})
	assert.Equal(t, []string{"09:31:00", "10:00:00", "14:00:00"}, merged)
}

func TestAtCombinesDateAndClock(t *testing.T) {
	dt, err := At("2024-01-02", "09:30:00")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02 09:30:00", dt.Format(DateTimeLayout))

	_, err = At("2024-01-02", "nope")
	assert.Error(t, err)
}
