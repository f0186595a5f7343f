package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessTradeOpensAndRemoves(t *testing.T) {
	m := NewManager(0.2, RuleT0)

	pnl, err := m.ProcessTrade("000001.SZ", "", true, 100, 10, testDT, ModeLongOnly)
	require.NoError(t, err)
	assert.Zero(t, pnl)
	require.NotNil(t, m.Get("000001.SZ", DirectionLong))

	pnl, err = m.ProcessTrade("000001.SZ", "", false, 100, 11, testDT, ModeLongOnly)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, pnl, 1e-9)

	// Zero total removes the slot; ghost positions must not linger.
	assert.Nil(t, m.Get("000001.SZ", DirectionLong))
	assert.Empty(t, m.All())
}

func TestProcessTradeClosesOppositeFirst(t *testing.T) {
	m := NewManager(0.2, RuleT0)

	_, err := m.ProcessTrade("000001.SZ", "", false, 100, 10, testDT, ModeLongShort)
	require.NoError(t, err)
	require.NotNil(t, m.Get("000001.SZ", DirectionShort))

	// A buy of 150 covers the 100 short then opens 50 long.
	pnl, err := m.ProcessTrade("000001.SZ", "", true, 150, 9, testDT, ModeLongShort)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, pnl, 1e-9)

	assert.Nil(t, m.Get("000001.SZ", DirectionShort))
	long := m.Get("000001.SZ", DirectionLong)
	require.NotNil(t, long)
	assert.Equal(t, int64(50), long.Total)
	assert.InDelta(t, 9.0, long.AvgCost, 1e-9)
}

func TestProcessTradeShortInLongOnlyFails(t *testing.T) {
	m := NewManager(0.2, RuleT0)
	_, err := m.ProcessTrade("000001.SZ", "", false, 100, 10, testDT, ModeLongOnly)
	assert.ErrorIs(t, err, ErrShortNotAllowed)
}

func TestProcessTradeSellLimitedByAvailability(t *testing.T) {
	m := NewManager(0.2, RuleT1)
	_, err := m.ProcessTrade("000001.SZ", "", true, 100, 10, testDT, ModeLongShort)
	require.NoError(t, err)

	// Bought today under T+1: nothing available to close, so the whole sell
	// opens a short.
	_, err = m.ProcessTrade("000001.SZ", "", false, 50, 10, testDT, ModeLongShort)
	require.NoError(t, err)
	long := m.Get("000001.SZ", DirectionLong)
	short := m.Get("000001.SZ", DirectionShort)
	require.NotNil(t, long)
	require.NotNil(t, short)
	assert.Equal(t, int64(100), long.Total)
	assert.Equal(t, int64(50), short.Total)
}

func TestSnapshotBefore(t *testing.T) {
	m := NewManager(0.2, RuleT1)
	m.RecordSnapshot("2024-01-02", []DailyPosition{{Date: "2024-01-02", Symbol: "A"}})
	m.RecordSnapshot("2024-01-03", []DailyPosition{{Date: "2024-01-03", Symbol: "B"}})
	m.RecordSnapshot("2024-01-04", []DailyPosition{{Date: "2024-01-04", Symbol: "C"}})

	snap := m.SnapshotBefore("2024-01-04")
	require.NotNil(t, snap)
	assert.Equal(t, "2024-01-03", snap.Date)

	assert.Nil(t, m.SnapshotBefore("2024-01-02"))
}

func TestRecordSnapshotReplacesSameDate(t *testing.T) {
	m := NewManager(0.2, RuleT1)
	m.RecordSnapshot("2024-01-02", []DailyPosition{{Symbol: "A"}})
	m.RecordSnapshot("2024-01-02", []DailyPosition{{Symbol: "B"}})

	snaps := m.Snapshots()
	require.Len(t, snaps, 1)
	require.Len(t, snaps[0].Positions, 1)
	assert.Equal(t, "B", snaps[0].Positions[0].Symbol)
}
