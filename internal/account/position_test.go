package account

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDT = time.Date(2024, 1, 2, 9, 30, 0, 0, time.Local)

func TestPositionOpenAveragesCost(t *testing.T) {
	pos := newPosition("000001.SZ", "", DirectionLong, 0.2, RuleT1, testDT)
	pos.Open(100, 10, testDT)
	pos.Open(100, 12, testDT)

	assert.Equal(t, int64(200), pos.Total)
	assert.InDelta(t, 11.0, pos.AvgCost, 1e-9)
	assert.Equal(t, int64(0), pos.Available)
	assert.Equal(t, int64(200), pos.TodayOpen)
}

func TestPositionT1Availability(t *testing.T) {
	pos := newPosition("000001.SZ", "", DirectionLong, 0.2, RuleT1, testDT)
	pos.Open(100, 10, testDT)

	// Invariant: available + today_open == total under T+1.
	assert.Equal(t, pos.Total, pos.Available+pos.TodayOpen)

	pos.SettleT1()
	assert.Equal(t, int64(100), pos.Available)
	assert.Equal(t, int64(0), pos.TodayOpen)
	assert.Equal(t, pos.Total, pos.Available+pos.TodayOpen)
}

func TestPositionT0IsImmediatelyAvailable(t *testing.T) {
	pos := newPosition("000001.SZ", "", DirectionLong, 0.2, RuleT0, testDT)
	pos.Open(100, 10, testDT)
	assert.Equal(t, int64(100), pos.Available)
}

func TestPositionCloseRealizesPnL(t *testing.T) {
	pos := newPosition("000001.SZ", "", DirectionLong, 0.2, RuleT1, testDT)
	pos.Open(100, 10, testDT)
	pos.SettleT1()

	pnl, err := pos.Close(60, 11, testDT)
	require.NoError(t, err)
	assert.InDelta(t, 60.0, pnl, 1e-9)
	assert.Equal(t, int64(40), pos.Total)
	assert.Equal(t, int64(40), pos.Available)

	_, err = pos.Close(100, 11, testDT)
	assert.ErrorIs(t, err, ErrCloseExceedsTotal)
}

func TestShortPositionPnLAndMargin(t *testing.T) {
	pos := newPosition("000001.SZ", "", DirectionShort, 0.2, RuleT1, testDT)
	pos.Open(100, 10, testDT)
	pos.UpdatePrice(9)

	assert.InDelta(t, -900.0, pos.MarketValue(), 1e-9)
	assert.InDelta(t, 100.0, pos.UnrealizedPnL(), 1e-9)
	assert.InDelta(t, 900*0.2, pos.Margin(), 1e-9)

	pos.SettleT1()
	pnl, err := pos.Close(100, 9, testDT)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, pnl, 1e-9)
}

func TestSettleDaySnapshotsAgainstPrevClose(t *testing.T) {
	pos := newPosition("000001.SZ", "Ping An", DirectionLong, 0.2, RuleT1, testDT)
	pos.Open(100, 10, testDT)

	entry := pos.SettleDay(10.5, "2024-01-02")
	require.NotNil(t, entry)
	assert.Equal(t, "2024-01-02", entry.Date)
	assert.InDelta(t, 50.0, entry.DailyPnL, 1e-9) // first day baselines at cost
	assert.InDelta(t, 1050.0, entry.MarketValue, 1e-9)

	entry = pos.SettleDay(10.2, "2024-01-03")
	require.NotNil(t, entry)
	assert.InDelta(t, -30.0, entry.DailyPnL, 1e-9)
	assert.InDelta(t, 10.2, pos.LastSettlePrice, 1e-9)
}

func TestSettleDayEmptyPositionReturnsNil(t *testing.T) {
	pos := newPosition("000001.SZ", "", DirectionLong, 0.2, RuleT1, testDT)
	assert.Nil(t, pos.SettleDay(10, "2024-01-02"))
	assert.InDelta(t, 10.0, pos.LastSettlePrice, 1e-9)
}
