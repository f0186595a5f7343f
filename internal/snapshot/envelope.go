package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"qtrader/internal/account"
	"qtrader/internal/benchmark"
	"qtrader/internal/config"
	"qtrader/internal/order"
)

// Version is the envelope format version.
const Version = 1

var (
	ErrBadVersion    = errors.New("unsupported snapshot version")
	ErrNotResumable  = errors.New("snapshot is not a PAUSED envelope")
	ErrCorruptedFile = errors.New("snapshot file is corrupted")
)

// RunStatus tags the run state an envelope was taken in. Only PAUSED
// envelopes are legal inputs to resume or fork.
type RunStatus string

const (
	StatusRunning     RunStatus = "RUNNING"
	StatusPaused      RunStatus = "PAUSED"
	StatusInterrupted RunStatus = "INTERRUPTED"
	StatusFinished    RunStatus = "FINISHED"
)

// ContextState is the serializable slice of the run context.
type ContextState struct {
	Mode           string    `json:"mode"`
	StrategyName   string    `json:"strategyName"`
	StartDate      string    `json:"startDate"`
	EndDate        string    `json:"endDate"`
	CurrentDT      time.Time `json:"currentDt"`
	Frequency      string    `json:"frequency"`
	CustomSchedule []string  `json:"customSchedule,omitempty"`
}

// Envelope is the self-describing full state of a run. Component sections a
// reader does not know are carried in extra and preserved on re-save.
type Envelope struct {
	Version int       `json:"version"`
	Status  RunStatus `json:"status"`
	SavedAt time.Time `json:"savedAt"`

	Context           ContextState            `json:"context"`
	Config            *config.Config          `json:"config,omitempty"`
	Portfolio         *account.Portfolio      `json:"portfolio"`
	Positions         []*account.Position     `json:"positions"`
	PositionSnapshots []account.DailySnapshot `json:"positionSnapshots"`
	Orders            []*order.Order          `json:"orders"`
	Benchmark         *benchmark.Tracker      `json:"benchmark,omitempty"`
	UserData          map[string]any          `json:"userData,omitempty"`

	// Code snapshots are documentation artifacts; execution rebinds against
	// the registered strategy name.
	StrategySource string `json:"strategySource,omitempty"`
	ProviderSource string `json:"providerSource,omitempty"`

	extra map[string]json.RawMessage
}

var knownSections = map[string]struct{}{
	"version": {}, "status": {}, "savedAt": {},
	"context": {}, "config": {}, "portfolio": {}, "positions": {},
	"positionSnapshots": {}, "orders": {}, "benchmark": {},
	"userData": {}, "strategySource": {}, "providerSource": {},
}

// InheritExtra carries the unknown sections of a previously loaded envelope
// so a re-save preserves them.
func (e *Envelope) InheritExtra(parent *Envelope) {
	if parent == nil || len(parent.extra) == 0 {
		return
	}
	if e.extra == nil {
		e.extra = make(map[string]json.RawMessage, len(parent.extra))
	}
	for key, raw := range parent.extra {
		e.extra[key] = raw
	}
}

// EnsureResumable verifies the envelope may rehydrate execution state.
func (e *Envelope) EnsureResumable() error {
	if e.Status != StatusPaused {
		return errors.Wrap(ErrNotResumable, string(e.Status))
	}
	return nil
}

// Save writes the envelope to path, merging back any unknown sections that
// were present when it was loaded.
func Save(path string, e *Envelope) error {
	e.Version = Version
	e.SavedAt = time.Now()

	known, err := sonic.Marshal(struct {
		Version int       `json:"version"`
		Status  RunStatus `json:"status"`
		SavedAt time.Time `json:"savedAt"`

		Context           ContextState            `json:"context"`
		Config            *config.Config          `json:"config,omitempty"`
		Portfolio         *account.Portfolio      `json:"portfolio"`
		Positions         []*account.Position     `json:"positions"`
		PositionSnapshots []account.DailySnapshot `json:"positionSnapshots"`
		Orders            []*order.Order          `json:"orders"`
		Benchmark         *benchmark.Tracker      `json:"benchmark,omitempty"`
		UserData          map[string]any          `json:"userData,omitempty"`
		StrategySource    string                  `json:"strategySource,omitempty"`
		ProviderSource    string                  `json:"providerSource,omitempty"`
	}{
		Version: e.Version, Status: e.Status, SavedAt: e.SavedAt,
		Context: e.Context, Config: e.Config, Portfolio: e.Portfolio,
		Positions: e.Positions, PositionSnapshots: e.PositionSnapshots,
		Orders: e.Orders, Benchmark: e.Benchmark, UserData: e.UserData,
		StrategySource: e.StrategySource, ProviderSource: e.ProviderSource,
	})
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}

	payload := known
	if len(e.extra) > 0 {
		var merged map[string]json.RawMessage
		if err := sonic.Unmarshal(known, &merged); err != nil {
			return errors.Wrap(err, "merge envelope sections")
		}
		for key, raw := range e.extra {
			if _, ok := knownSections[key]; !ok {
				merged[key] = raw
			}
		}
		payload, err = sonic.Marshal(merged)
		if err != nil {
			return errors.Wrap(err, "marshal merged envelope")
		}
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create snapshot dir")
		}
	}
	return os.WriteFile(path, payload, 0o644)
}

// Load reads an envelope from path, keeping unknown sections aside for the
// next Save.
func Load(path string) (*Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot")
	}

	var sections map[string]json.RawMessage
	if err := sonic.Unmarshal(data, &sections); err != nil {
		return nil, errors.Wrap(ErrCorruptedFile, err.Error())
	}

	var e Envelope
	if err := sonic.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(ErrCorruptedFile, err.Error())
	}
	if e.Version != Version {
		return nil, errors.Wrap(ErrBadVersion, path)
	}
	switch e.Status {
	case StatusPaused, StatusInterrupted, StatusFinished, StatusRunning:
	default:
		return nil, errors.Wrap(ErrCorruptedFile, "unknown status tag")
	}

	e.extra = make(map[string]json.RawMessage)
	for key, raw := range sections {
		if _, ok := knownSections[key]; !ok {
			e.extra[key] = raw
		}
	}
	return &e, nil
}
