package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtrader/internal/account"
	"qtrader/internal/order"
)

func sampleEnvelope() *Envelope {
	portfolio := account.NewPortfolio(1_000_000)
	portfolio.History = []account.EquityPoint{
		{Date: "2024-01-02", NetWorth: 1_000_100, Cash: 999_000},
		{Date: "2024-01-03", NetWorth: 1_000_200, Cash: 998_000},
	}
	filled := time.Date(2024, 1, 2, 14, 55, 0, 0, time.Local)
	return &Envelope{
		Status: StatusPaused,
		Context: ContextState{
			Mode:         "backtest",
			StrategyName: "test",
			StartDate:    "2024-01-02",
			EndDate:      "2024-01-10",
			CurrentDT:    time.Date(2024, 1, 3, 14, 55, 0, 0, time.Local),
			Frequency:    "daily",
		},
		Portfolio: portfolio,
		Positions: []*account.Position{{
			Symbol: "000001.SZ", Direction: account.DirectionLong,
			Total: 100, Available: 100, AvgCost: 10,
		}},
		PositionSnapshots: []account.DailySnapshot{
			{Date: "2024-01-02", Positions: []account.DailyPosition{{
				Date: "2024-01-02", Symbol: "000001.SZ", Direction: "long",
				Amount: 100, ClosePrice: 10.5,
			}}},
		},
		Orders: []*order.Order{
			{ID: "O-000001", Symbol: "000001.SZ", Amount: 100, Status: order.StatusFilled, FilledTime: filled, FilledPrice: 10},
			{ID: "O-000002", Symbol: "000001.SZ", Amount: 100, Status: order.StatusOpen},
		},
		UserData: map[string]any{"note": "hello"},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test_pause.state.json")
	require.NoError(t, Save(path, sampleEnvelope()))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, loaded.Status)
	assert.Equal(t, "test", loaded.Context.StrategyName)
	require.Len(t, loaded.Portfolio.History, 2)
	require.Len(t, loaded.Positions, 1)
	assert.Equal(t, account.DirectionLong, loaded.Positions[0].Direction)
	require.Len(t, loaded.Orders, 2)
	assert.Equal(t, order.StatusFilled, loaded.Orders[0].Status)
	assert.Equal(t, "hello", loaded.UserData["note"])
	require.NoError(t, loaded.EnsureResumable())
}

func TestLoadRejectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrCorruptedFile)
}

func TestOnlyPausedIsResumable(t *testing.T) {
	for _, status := range []RunStatus{StatusInterrupted, StatusFinished, StatusRunning} {
		env := sampleEnvelope()
		env.Status = status
		assert.Error(t, env.EnsureResumable(), string(status))
	}
}

func TestUnknownSectionsSurviveResave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "with_extra.state.json")
	require.NoError(t, Save(path, sampleEnvelope()))

	// Simulate a newer writer adding a section this reader does not know.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	patched := strings.Replace(string(data), `"version":`, `"futureComponent":{"x":1},"version":`, 1)
	require.NoError(t, os.WriteFile(path, []byte(patched), 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)

	resaved := filepath.Join(dir, "resaved.state.json")
	require.NoError(t, Save(resaved, loaded))
	out, err := os.ReadFile(resaved)
	require.NoError(t, err)
	assert.Contains(t, string(out), "futureComponent")
}

func TestForkTruncatesEverything(t *testing.T) {
	forked, err := Fork(sampleEnvelope(), ForkOptions{
		Date:         "2024-01-03",
		StrategyName: "newstrat",
		Reinitialize: true,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPaused, forked.Status)
	assert.Equal(t, "newstrat", forked.Context.StrategyName)
	assert.Equal(t, "2024-01-03", forked.Context.StartDate)
	assert.True(t, forked.Context.CurrentDT.IsZero())

	// History strictly before the fork date.
	require.Len(t, forked.Portfolio.History, 1)
	assert.Equal(t, "2024-01-02", forked.Portfolio.History[0].Date)

	// Positions rebuilt from the last snapshot before F, fully available,
	// cost rebased to that close.
	require.Len(t, forked.Positions, 1)
	pos := forked.Positions[0]
	assert.Equal(t, int64(100), pos.Total)
	assert.Equal(t, int64(100), pos.Available)
	assert.InDelta(t, 10.5, pos.AvgCost, 1e-9)
	assert.InDelta(t, 10.5, pos.LastSettlePrice, 1e-9)

	// Only pre-fork fills survive; the OPEN order is gone.
	require.Len(t, forked.Orders, 1)
	assert.Equal(t, "O-000001", forked.Orders[0].ID)

	// Reinitialize clears the user dictionary.
	assert.Nil(t, forked.UserData)
}

func TestForkBeforeAnySnapshotStartsEmpty(t *testing.T) {
	forked, err := Fork(sampleEnvelope(), ForkOptions{
		Date:         "2024-01-02",
		StrategyName: "newstrat",
		Reinitialize: true,
	})
	require.NoError(t, err)
	assert.Empty(t, forked.Positions)
	assert.Empty(t, forked.Portfolio.History)
	assert.Empty(t, forked.Orders)
}

func TestForkKeepsUserDataWhenNotReinitializing(t *testing.T) {
	forked, err := Fork(sampleEnvelope(), ForkOptions{
		Date:         "2024-01-03",
		StrategyName: "newstrat",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", forked.UserData["note"])
}

func TestForkRequiresStrategyAndValidDate(t *testing.T) {
	_, err := Fork(sampleEnvelope(), ForkOptions{Date: "2024-01-03"})
	assert.Error(t, err)

	_, err = Fork(sampleEnvelope(), ForkOptions{Date: "not-a-date", StrategyName: "x"})
	assert.Error(t, err)

	finished := sampleEnvelope()
	finished.Status = StatusFinished
	_, err = Fork(finished, ForkOptions{Date: "2024-01-03", StrategyName: "x"})
	assert.ErrorIs(t, err, ErrNotResumable)
}
