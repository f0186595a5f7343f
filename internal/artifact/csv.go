package artifact

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/yanun0323/errors"

	"qtrader/internal/account"
	"qtrader/internal/calendar"
	"qtrader/internal/order"
)

// The CSV artifacts are the durable outputs downstream consumers read; the
// column order and float rendering are fixed so identical runs produce
// byte-identical files.

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create csv")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return errors.Wrap(err, "write csv")
	}
	w.Flush()
	return w.Error()
}

// WriteEquityCSV writes the daily equity history.
func WriteEquityCSV(path string, history []account.EquityPoint) error {
	rows := [][]string{{"date", "net_worth", "cash", "long_market_value", "short_market_value", "returns"}}
	for _, h := range history {
		rows = append(rows, []string{
			h.Date,
			formatFloat(h.NetWorth),
			formatFloat(h.Cash),
			formatFloat(h.LongValue),
			formatFloat(h.ShortValue),
			formatFloat(h.Returns),
		})
	}
	return writeCSV(path, rows)
}

// WriteOrdersCSV writes every known order, history first, then today's book.
func WriteOrdersCSV(path string, orders []*order.Order) error {
	rows := [][]string{{
		"id", "symbol", "side", "type", "limit_price", "amount", "status",
		"created_time", "filled_time", "filled_price", "commission",
	}}
	for _, o := range orders {
		limit := ""
		if o.Type == order.TypeLimit {
			limit = formatFloat(o.LimitPrice)
		}
		filledTime := ""
		filledPrice := ""
		commission := ""
		if o.Status == order.StatusFilled {
			filledTime = o.FilledTime.Format(calendar.DateTimeLayout)
			filledPrice = formatFloat(o.FilledPrice)
			commission = formatFloat(o.Commission)
		}
		rows = append(rows, []string{
			o.ID,
			o.Symbol,
			o.Side.String(),
			o.Type.String(),
			limit,
			strconv.FormatInt(o.Amount, 10),
			o.Status.String(),
			o.CreatedTime.Format(calendar.DateTimeLayout),
			filledTime,
			filledPrice,
			commission,
		})
	}
	return writeCSV(path, rows)
}

// WritePositionsCSV writes one row per (date, symbol, direction).
func WritePositionsCSV(path string, snapshots []account.DailySnapshot) error {
	rows := [][]string{{
		"date", "symbol", "direction", "amount", "avg_cost", "close_price",
		"market_value", "daily_pnl", "daily_pnl_ratio",
	}}
	for _, snap := range snapshots {
		for _, p := range snap.Positions {
			rows = append(rows, []string{
				p.Date,
				p.Symbol,
				p.Direction,
				strconv.FormatInt(p.Amount, 10),
				formatFloat(p.AvgCost),
				formatFloat(p.ClosePrice),
				formatFloat(p.MarketValue),
				formatFloat(p.DailyPnL),
				formatFloat(p.DailyPnLRatio),
			})
		}
	}
	return writeCSV(path, rows)
}
