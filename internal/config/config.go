package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"qtrader/internal/account"
	"qtrader/internal/calendar"
)

// Mode selects the runtime mode.
type Mode string

const (
	ModeBacktest   Mode = "backtest"
	ModeSimulation Mode = "simulation"
)

const (
	DefaultBeforeTradingTime = "09:15:00"
	DefaultHandleBarTime     = "14:55:00"
	DefaultAfterTradingTime  = "15:05:00"
	DefaultBrokerSettleTime  = "15:30:00"
)

// Config is the resolved engine configuration.
type Config struct {
	Engine    EngineConfig    `json:"engine"`
	Account   AccountConfig   `json:"account"`
	Matching  MatchingConfig  `json:"matching"`
	Lifecycle LifecycleConfig `json:"lifecycle"`
	Benchmark BenchmarkConfig `json:"benchmark"`
	Snapshot  SnapshotConfig  `json:"snapshot"`
	Server    ServerConfig    `json:"server"`
	Workspace WorkspaceConfig `json:"workspace"`
	Artifacts ArtifactsConfig `json:"artifacts"`
}

// EngineConfig drives the scheduler and sandbox.
type EngineConfig struct {
	Mode                  Mode               `json:"mode"`
	Frequency             calendar.Frequency `json:"frequency"`
	TickIntervalSeconds   int                `json:"tickIntervalSeconds"`
	StartDate             string             `json:"startDate"`
	EndDate               string             `json:"endDate"`
	StrategyName          string             `json:"strategyName"`
	BlockThresholdSeconds int                `json:"blockThresholdSeconds"`
	StrictInit            bool               `json:"strictInit"`
}

// AccountConfig describes the simulated account.
type AccountConfig struct {
	InitialCash     float64             `json:"initialCash"`
	TradingRule     account.TradingRule `json:"tradingRule"`
	TradingMode     account.TradingMode `json:"tradingMode"`
	OrderLotSize    int64               `json:"orderLotSize"`
	ShortMarginRate float64             `json:"shortMarginRate"`
}

// MatchingConfig holds slippage and commission parameters.
type MatchingConfig struct {
	Slippage   SlippageConfig   `json:"slippage"`
	Commission CommissionConfig `json:"commission"`
}

// SlippageConfig is the fixed-rate slippage model.
type SlippageConfig struct {
	Rate float64 `json:"rate"`
}

// CommissionConfig is the piecewise commission schedule.
type CommissionConfig struct {
	BuyCommission  float64 `json:"buyCommission"`
	SellCommission float64 `json:"sellCommission"`
	BuyTax         float64 `json:"buyTax"`
	SellTax        float64 `json:"sellTax"`
	MinCommission  float64 `json:"minCommission"`
}

// LifecycleConfig places the lifecycle hooks on the clock.
type LifecycleConfig struct {
	TradingSessions [][2]string `json:"tradingSessions"`
	Hooks           HooksConfig `json:"hooks"`
}

// HooksConfig holds the per-day hook times.
type HooksConfig struct {
	BeforeTrading string        `json:"beforeTrading"`
	AfterTrading  string        `json:"afterTrading"`
	BrokerSettle  string        `json:"brokerSettle"`
	HandleBar     HandleBarTime `json:"handleBar"`
}

// HandleBarTime accepts a single "HH:MM:SS" string or a list of them.
type HandleBarTime []string

// UnmarshalJSON decodes either a string or a string list.
func (h *HandleBarTime) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*h = HandleBarTime{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("handleBar must be a time string or a list of them")
	}
	*h = HandleBarTime(many)
	return nil
}

// BenchmarkConfig selects the benchmark symbol, if any.
type BenchmarkConfig struct {
	Symbol string `json:"symbol"`
}

// SnapshotConfig controls auto-saving.
type SnapshotConfig struct {
	AutoSaveInterval int    `json:"autoSaveInterval"`
	AutoSaveMode     string `json:"autoSaveMode"` // overwrite | increment
}

// ServerConfig controls the monitoring server.
type ServerConfig struct {
	Enable bool   `json:"enable"`
	Addr   string `json:"addr"`
}

// WorkspaceConfig places run artifacts on disk.
type WorkspaceConfig struct {
	Root string `json:"root"`
}

// ArtifactsConfig enables optional artifact sinks beyond the CSV files.
type ArtifactsConfig struct {
	Database *DatabaseConfig `json:"database,omitempty"`
}

// DatabaseConfig is the optional postgres artifact sink.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

// Load reads a JSON config file, applies defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the ready-to-run default configuration.
func Default() *Config {
	cfg := Config{}.withDefaults()
	return &cfg
}

func (c Config) withDefaults() Config {
	if c.Engine.Mode == "" {
		c.Engine.Mode = ModeBacktest
	}
	if c.Engine.Frequency == "" {
		c.Engine.Frequency = calendar.FrequencyDaily
	}
	if c.Engine.TickIntervalSeconds <= 0 {
		c.Engine.TickIntervalSeconds = 3
	}
	if c.Engine.StrategyName == "" {
		c.Engine.StrategyName = "UnnamedStrategy"
	}
	if c.Engine.BlockThresholdSeconds <= 0 {
		c.Engine.BlockThresholdSeconds = 5
	}
	if c.Account.InitialCash == 0 {
		c.Account.InitialCash = 1_000_000
	}
	if c.Account.TradingRule == "" {
		c.Account.TradingRule = account.RuleT1
	}
	if c.Account.TradingMode == "" {
		c.Account.TradingMode = account.ModeLongOnly
	}
	if c.Account.OrderLotSize <= 0 {
		c.Account.OrderLotSize = 1
	}
	if c.Account.ShortMarginRate == 0 {
		c.Account.ShortMarginRate = 0.2
	}
	if c.Matching.Commission.MinCommission == 0 {
		c.Matching.Commission.MinCommission = 5
	}
	if c.Lifecycle.Hooks.BeforeTrading == "" {
		c.Lifecycle.Hooks.BeforeTrading = DefaultBeforeTradingTime
	}
	if c.Lifecycle.Hooks.AfterTrading == "" {
		c.Lifecycle.Hooks.AfterTrading = DefaultAfterTradingTime
	}
	if c.Lifecycle.Hooks.BrokerSettle == "" {
		c.Lifecycle.Hooks.BrokerSettle = DefaultBrokerSettleTime
	}
	if len(c.Lifecycle.Hooks.HandleBar) == 0 {
		c.Lifecycle.Hooks.HandleBar = HandleBarTime{DefaultHandleBarTime}
	}
	if len(c.Lifecycle.TradingSessions) == 0 {
		c.Lifecycle.TradingSessions = [][2]string{{"09:30:00", "11:30:00"}, {"13:00:00", "15:00:00"}}
	}
	if c.Snapshot.AutoSaveMode == "" {
		c.Snapshot.AutoSaveMode = "increment"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8050"
	}
	if c.Workspace.Root == "" {
		c.Workspace.Root = "workspaces"
	}
	return c
}

// Validate checks the resolved configuration.
func (c Config) Validate() error {
	switch c.Engine.Mode {
	case ModeBacktest, ModeSimulation:
	default:
		return fmt.Errorf("invalid engine mode: %q", c.Engine.Mode)
	}
	switch c.Engine.Frequency {
	case calendar.FrequencyDaily, calendar.FrequencyMinute, calendar.FrequencyTick:
	default:
		return fmt.Errorf("invalid frequency: %q", c.Engine.Frequency)
	}
	if c.Engine.Mode == ModeBacktest {
		if c.Engine.StartDate == "" || c.Engine.EndDate == "" {
			return fmt.Errorf("backtest requires startDate and endDate")
		}
		if c.Engine.StartDate > c.Engine.EndDate {
			return fmt.Errorf("startDate %s is after endDate %s", c.Engine.StartDate, c.Engine.EndDate)
		}
	}
	switch c.Account.TradingRule {
	case account.RuleT1, account.RuleT0:
	default:
		return fmt.Errorf("invalid trading rule: %q", c.Account.TradingRule)
	}
	switch c.Account.TradingMode {
	case account.ModeLongOnly, account.ModeLongShort:
	default:
		return fmt.Errorf("invalid trading mode: %q", c.Account.TradingMode)
	}
	if c.Account.InitialCash < 0 {
		return fmt.Errorf("initialCash must be >= 0")
	}
	if c.Matching.Slippage.Rate < 0 {
		return fmt.Errorf("slippage rate must be >= 0")
	}
	switch c.Snapshot.AutoSaveMode {
	case "overwrite", "increment":
	default:
		return fmt.Errorf("invalid autoSaveMode: %q", c.Snapshot.AutoSaveMode)
	}
	for _, hook := range append([]string{
		c.Lifecycle.Hooks.BeforeTrading,
		c.Lifecycle.Hooks.AfterTrading,
		c.Lifecycle.Hooks.BrokerSettle,
	}, c.Lifecycle.Hooks.HandleBar...) {
		if _, err := time.Parse(calendar.ClockLayout, hook); err != nil {
			return fmt.Errorf("invalid hook time %q: %w", hook, err)
		}
	}
	for _, s := range c.Lifecycle.TradingSessions {
		if s[0] > s[1] {
			return fmt.Errorf("trading session %s-%s is inverted", s[0], s[1])
		}
	}
	return nil
}

// Sessions converts the configured session pairs to calendar sessions.
func (c Config) Sessions() []calendar.Session {
	out := make([]calendar.Session, 0, len(c.Lifecycle.TradingSessions))
	for _, s := range c.Lifecycle.TradingSessions {
		out = append(out, calendar.Session{Open: s[0], Close: s[1]})
	}
	return out
}

// TickInterval returns the simulation tick granularity.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Engine.TickIntervalSeconds) * time.Second
}

// BlockThreshold returns the sandbox watchdog threshold.
func (c Config) BlockThreshold() time.Duration {
	return time.Duration(c.Engine.BlockThresholdSeconds) * time.Second
}
