package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtrader/internal/account"
	"qtrader/internal/calendar"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"engine": {"mode": "backtest", "startDate": "2024-01-02", "endDate": "2024-01-31"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, calendar.FrequencyDaily, cfg.Engine.Frequency)
	assert.Equal(t, account.RuleT1, cfg.Account.TradingRule)
	assert.Equal(t, account.ModeLongOnly, cfg.Account.TradingMode)
	assert.InDelta(t, 1_000_000.0, cfg.Account.InitialCash, 1e-9)
	assert.InDelta(t, 5.0, cfg.Matching.Commission.MinCommission, 1e-9)
	assert.Equal(t, HandleBarTime{DefaultHandleBarTime}, cfg.Lifecycle.Hooks.HandleBar)
	assert.Equal(t, 5, cfg.Engine.BlockThresholdSeconds)
	assert.Equal(t, "increment", cfg.Snapshot.AutoSaveMode)
}

func TestHandleBarAcceptsStringOrList(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"engine": {"mode": "backtest", "startDate": "2024-01-02", "endDate": "2024-01-31"},
		"lifecycle": {"hooks": {"handleBar": "10:00:00"}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, HandleBarTime{"10:00:00"}, cfg.Lifecycle.Hooks.HandleBar)

	cfg, err = Load(writeConfig(t, `{
		"engine": {"mode": "backtest", "startDate": "2024-01-02", "endDate": "2024-01-31"},
		"lifecycle": {"hooks": {"handleBar": ["10:00:00", "14:00:00"]}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, HandleBarTime{"10:00:00", "14:00:00"}, cfg.Lifecycle.Hooks.HandleBar)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad mode", `{"engine": {"mode": "live"}}`},
		{"backtest without dates", `{"engine": {"mode": "backtest"}}`},
		{"inverted dates", `{"engine": {"mode": "backtest", "startDate": "2024-02-01", "endDate": "2024-01-01"}}`},
		{"bad frequency", `{"engine": {"mode": "backtest", "frequency": "hourly", "startDate": "2024-01-02", "endDate": "2024-01-31"}}`},
		{"bad rule", `{"engine": {"mode": "backtest", "startDate": "2024-01-02", "endDate": "2024-01-31"}, "account": {"tradingRule": "T+2"}}`},
		{"bad hook time", `{"engine": {"mode": "backtest", "startDate": "2024-01-02", "endDate": "2024-01-31"}, "lifecycle": {"hooks": {"handleBar": "25:00:00"}}}`},
		{"inverted session", `{"engine": {"mode": "backtest", "startDate": "2024-01-02", "endDate": "2024-01-31"}, "lifecycle": {"tradingSessions": [["15:00:00", "09:30:00"]]}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestSimulationIgnoresDates(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"engine": {"mode": "simulation"}}`))
	require.NoError(t, err)
	assert.Equal(t, ModeSimulation, cfg.Engine.Mode)
}

func TestSessions(t *testing.T) {
	cfg := Default()
	sessions := cfg.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "09:30:00", sessions[0].Open)
	assert.Equal(t, "15:00:00", sessions[1].Close)
}
