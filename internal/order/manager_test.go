package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDT = time.Date(2024, 1, 2, 9, 30, 0, 0, time.Local)

func submit(t *testing.T, m *Manager, amount int64) *Order {
	t.Helper()
	o, err := m.Submit("000001.SZ", "", amount, TypeMarket, 0, testDT, testDT)
	require.NoError(t, err)
	return o
}

func TestSubmitDerivesSideFromSign(t *testing.T) {
	m := NewManager(1)

	buy := submit(t, m, 100)
	assert.Equal(t, SideBuy, buy.Side)
	assert.Equal(t, int64(100), buy.Amount)

	sell := submit(t, m, -50)
	assert.Equal(t, SideSell, sell.Side)
	assert.Equal(t, int64(50), sell.Amount)
}

func TestSubmitRejections(t *testing.T) {
	m := NewManager(100)

	_, err := m.Submit("000001.SZ", "", 0, TypeMarket, 0, testDT, testDT)
	assert.ErrorIs(t, err, ErrZeroAmount)

	_, err = m.Submit("000001.SZ", "", 50, TypeMarket, 0, testDT, testDT)
	assert.ErrorIs(t, err, ErrBelowLotSize)

	_, err = m.Submit("000001.SZ", "", 100, TypeLimit, 0, testDT, testDT)
	assert.ErrorIs(t, err, ErrMissingLimit)

	_, err = m.Submit("000001.SZ", "", 100, TypeLimit, -1, testDT, testDT)
	assert.ErrorIs(t, err, ErrMissingLimit)

	// Rejected submissions are not stored.
	assert.Empty(t, m.Open())
}

func TestSubmitNormalizesToLotSize(t *testing.T) {
	m := NewManager(100)
	o, err := m.Submit("000001.SZ", "", 250, TypeMarket, 0, testDT, testDT)
	require.NoError(t, err)
	assert.Equal(t, int64(200), o.Amount)
}

func TestOrderIDsAreSequential(t *testing.T) {
	m := NewManager(1)
	first := submit(t, m, 100)
	second := submit(t, m, 100)
	assert.Equal(t, "O-000001", first.ID)
	assert.Equal(t, "O-000002", second.ID)
}

func TestCancelOnlyOpenOrders(t *testing.T) {
	m := NewManager(1)
	o := submit(t, m, 100)

	assert.True(t, m.Cancel(o.ID))
	assert.Equal(t, StatusCancelled, o.Status)
	assert.False(t, m.Cancel(o.ID))
	assert.False(t, m.Cancel("O-999999"))
}

func TestFillIsTerminalAndSingle(t *testing.T) {
	m := NewManager(1)
	o := submit(t, m, 100)

	require.NoError(t, o.Fill(10, 5, testDT))
	assert.Equal(t, StatusFilled, o.Status)
	assert.ErrorIs(t, o.Fill(11, 5, testDT), ErrInvalidTransition)

	// Terminal states stay terminal.
	o.Expire()
	assert.Equal(t, StatusFilled, o.Status)
	assert.False(t, o.Cancel())
}

func TestResetExpiresOpenAndKeepsHistory(t *testing.T) {
	m := NewManager(1)
	open := submit(t, m, 100)
	filled := submit(t, m, 200)
	require.NoError(t, filled.Fill(10, 5, testDT))
	m.AddToHistory(filled)

	m.Reset()

	assert.Equal(t, StatusExpired, open.Status)
	assert.Empty(t, m.Open())
	require.Len(t, m.History(), 1)
	assert.Equal(t, filled.ID, m.History()[0].ID)
}

func TestAllKnownPrefersToday(t *testing.T) {
	m := NewManager(1)
	filled := submit(t, m, 100)
	require.NoError(t, filled.Fill(10, 5, testDT))
	m.AddToHistory(filled)
	open := submit(t, m, 100)

	all := m.AllKnown()
	require.Len(t, all, 2)
	assert.Equal(t, filled.ID, all[0].ID)
	assert.Equal(t, open.ID, all[1].ID)
}

func TestRestoreSplitsContainersAndKeepsSequence(t *testing.T) {
	m := NewManager(1)
	filled := &Order{ID: "O-000004", Status: StatusFilled, FilledTime: testDT}
	pending := &Order{ID: "O-000007", Status: StatusOpen}

	m.Restore([]*Order{filled, pending})

	require.Len(t, m.History(), 1)
	require.Len(t, m.Open(), 1)

	next := submit(t, m, 100)
	assert.Equal(t, "O-000008", next.ID)
}
