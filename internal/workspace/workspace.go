package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Workspace is the per-run directory holding logs, snapshots and the CSV
// artifacts. Every run gets its own directory; a fork never writes into its
// parent's workspace.
type Workspace struct {
	RunID string
	Dir   string
}

// New creates a fresh workspace under root, named by strategy, mode and a
// short run id.
func New(root, strategyName, mode string) (*Workspace, error) {
	runID := uuid.NewString()[:8]
	dir := filepath.Join(root, fmt.Sprintf("%s_%s_%s", strategyName, mode, runID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create workspace")
	}
	logs.Infof("workspace created: %s", dir)
	return &Workspace{RunID: runID, Dir: dir}, nil
}

// Open wraps an existing workspace directory, for resume.
func Open(dir string) (*Workspace, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrap(err, "open workspace")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("workspace path is not a directory: %s", dir)
	}
	return &Workspace{RunID: filepath.Base(dir), Dir: dir}, nil
}

// Path resolves a file name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// EquityCSV is the equity history artifact path.
func (w *Workspace) EquityCSV() string {
	return w.Path("equity.csv")
}

// OrdersCSV is the order log artifact path.
func (w *Workspace) OrdersCSV() string {
	return w.Path("orders.csv")
}

// PositionsCSV is the daily positions artifact path.
func (w *Workspace) PositionsCSV() string {
	return w.Path("daily_positions.csv")
}

// StateFile resolves the snapshot path for a tag (pause, interrupt, final,
// auto_save...).
func (w *Workspace) StateFile(strategyName, tag string) string {
	return w.Path(fmt.Sprintf("%s_%s.state.json", strategyName, tag))
}

// LogFile is the run log path.
func (w *Workspace) LogFile() string {
	return w.Path("run.log")
}
