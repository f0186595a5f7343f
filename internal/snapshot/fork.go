package snapshot

import (
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"qtrader/internal/account"
	"qtrader/internal/calendar"
	"qtrader/internal/order"
)

// ForkOptions parameterizes a fork: the fork date F and the replacement
// strategy are required; provider replacement is optional.
type ForkOptions struct {
	Date           string // YYYY-MM-DD; history strictly before F survives
	StrategyName   string
	Reinitialize   bool
	StrategySource string
	ProviderSource string
}

// Fork derives a new envelope that inherits the parent's history strictly
// before the fork date and discards everything else:
//
//   - portfolio and benchmark history truncated to < F
//   - positions rebuilt from the latest daily snapshot < F (empty if none)
//   - only filled orders with fill date < F survive; no OPEN order does
//   - user data cleared unless Reinitialize is false
func Fork(parent *Envelope, opts ForkOptions) (*Envelope, error) {
	if err := parent.EnsureResumable(); err != nil {
		return nil, err
	}
	if opts.StrategyName == "" {
		return nil, errors.New("fork requires a strategy")
	}
	if _, err := time.Parse(calendar.DateLayout, opts.Date); err != nil {
		return nil, errors.Wrap(err, "parse fork date")
	}

	forked := &Envelope{
		Status:  StatusPaused,
		Context: parent.Context,
		Config:  parent.Config,
	}
	forked.Context.StrategyName = opts.StrategyName
	forked.Context.StartDate = opts.Date
	forked.Context.CurrentDT = time.Time{}

	portfolio := *parent.Portfolio
	portfolio.History = nil
	for _, h := range parent.Portfolio.History {
		if h.Date < opts.Date {
			portfolio.History = append(portfolio.History, h)
		}
	}
	forked.Portfolio = &portfolio

	for _, s := range parent.PositionSnapshots {
		if s.Date < opts.Date {
			forked.PositionSnapshots = append(forked.PositionSnapshots, s)
		}
	}
	forked.Positions = rebuildPositions(forked.PositionSnapshots, parent.Positions)

	for _, o := range parent.Orders {
		if o.Status != order.StatusFilled {
			continue
		}
		if o.FilledTime.IsZero() || o.FilledTime.Format(calendar.DateLayout) >= opts.Date {
			continue
		}
		forked.Orders = append(forked.Orders, o)
	}

	if parent.Benchmark != nil {
		bench := *parent.Benchmark
		bench.History = nil
		for _, h := range parent.Benchmark.History {
			if h.Date < opts.Date {
				bench.History = append(bench.History, h)
			}
		}
		forked.Benchmark = &bench
	}

	if opts.Reinitialize {
		forked.UserData = nil
		forked.Context.CustomSchedule = nil
	} else {
		forked.UserData = parent.UserData
		logs.Warn("fork keeps the parent strategy's user data; make sure the new strategy understands it")
	}

	forked.StrategySource = opts.StrategySource
	forked.ProviderSource = opts.ProviderSource
	if forked.ProviderSource == "" {
		forked.ProviderSource = parent.ProviderSource
	}

	forked.InheritExtra(parent)
	logs.Infof("forked at %s: %d history rows, %d positions, %d filled orders",
		opts.Date, len(forked.Portfolio.History), len(forked.Positions), len(forked.Orders))
	return forked, nil
}

// rebuildPositions reconstructs the book from the latest snapshot before the
// fork date. Rebuilt slots take the snapshot close as cost basis and settle
// price and are fully available.
func rebuildPositions(snapshots []account.DailySnapshot, template []*account.Position) []*account.Position {
	if len(snapshots) == 0 {
		return nil
	}
	last := snapshots[len(snapshots)-1]

	rules := make(map[string]*account.Position, len(template))
	for _, pos := range template {
		rules[pos.Symbol+"/"+pos.Direction.String()] = pos
	}

	var out []*account.Position
	for _, row := range last.Positions {
		if row.Amount == 0 {
			continue
		}
		dir := account.DirectionLong
		if row.Direction == account.DirectionShort.String() {
			dir = account.DirectionShort
		}
		pos := &account.Position{
			Symbol:          row.Symbol,
			Name:            row.Name,
			Direction:       dir,
			Total:           row.Amount,
			Available:       row.Amount,
			TodayOpen:       0,
			AvgCost:         row.ClosePrice,
			CurrentPrice:    row.ClosePrice,
			LastSettlePrice: row.ClosePrice,
		}
		if tpl, ok := rules[row.Symbol+"/"+row.Direction]; ok {
			pos.MarginRate = tpl.MarginRate
			pos.Rule = tpl.Rule
		}
		out = append(out, pos)
	}
	return out
}
