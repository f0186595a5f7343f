package artifact

import (
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"qtrader/internal/account"
	"qtrader/internal/config"
	"qtrader/internal/order"
	"qtrader/pkg/conn"
)

// EquityRecord mirrors one equity.csv row in the artifact database.
type EquityRecord struct {
	ID         uint   `gorm:"primaryKey"`
	RunID      string `gorm:"index"`
	Date       string `gorm:"index"`
	NetWorth   float64
	Cash       float64
	LongValue  float64
	ShortValue float64
	Returns    float64
}

// OrderRecord mirrors one orders.csv row in the artifact database.
type OrderRecord struct {
	ID          uint   `gorm:"primaryKey"`
	RunID       string `gorm:"index"`
	OrderID     string `gorm:"index"`
	Symbol      string
	Side        string
	Type        string
	LimitPrice  float64
	Amount      int64
	Status      string
	CreatedTime time.Time
	FilledTime  *time.Time
	FilledPrice float64
	Commission  float64
}

// PositionRecord mirrors one daily_positions.csv row in the artifact database.
type PositionRecord struct {
	ID          uint   `gorm:"primaryKey"`
	RunID       string `gorm:"index"`
	Date        string `gorm:"index"`
	Symbol      string
	Direction   string
	Amount      int64
	AvgCost     float64
	ClosePrice  float64
	MarketValue float64
	DailyPnL    float64
}

// Store mirrors the finished run's artifacts into PostgreSQL for downstream
// analysis. It is an optional sink next to the CSV files, never a source.
type Store struct {
	client *conn.Client
}

// OpenStore connects to the configured artifact database and migrates the
// record tables.
func OpenStore(cfg *config.DatabaseConfig) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("artifact database is not configured")
	}
	client, err := conn.New(conn.Option{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Database: cfg.Database,
		SSLMode:  cfg.SSLMode,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open artifact store")
	}
	if err := client.DB().AutoMigrate(&EquityRecord{}, &OrderRecord{}, &PositionRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate artifact tables")
	}
	return &Store{client: client}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.client.Close()
}

// SaveRun writes the run's full artifact set under its run id.
func (s *Store) SaveRun(runID string, history []account.EquityPoint, orders []*order.Order, snapshots []account.DailySnapshot) error {
	db := s.client.DB()

	equity := make([]EquityRecord, 0, len(history))
	for _, h := range history {
		equity = append(equity, EquityRecord{
			RunID:      runID,
			Date:       h.Date,
			NetWorth:   h.NetWorth,
			Cash:       h.Cash,
			LongValue:  h.LongValue,
			ShortValue: h.ShortValue,
			Returns:    h.Returns,
		})
	}
	if len(equity) > 0 {
		if err := db.Create(&equity).Error; err != nil {
			return errors.Wrap(err, "save equity records")
		}
	}

	orderRecords := make([]OrderRecord, 0, len(orders))
	for _, o := range orders {
		rec := OrderRecord{
			RunID:       runID,
			OrderID:     o.ID,
			Symbol:      o.Symbol,
			Side:        o.Side.String(),
			Type:        o.Type.String(),
			LimitPrice:  o.LimitPrice,
			Amount:      o.Amount,
			Status:      o.Status.String(),
			CreatedTime: o.CreatedTime,
			FilledPrice: o.FilledPrice,
			Commission:  o.Commission,
		}
		if !o.FilledTime.IsZero() {
			filled := o.FilledTime
			rec.FilledTime = &filled
		}
		orderRecords = append(orderRecords, rec)
	}
	if len(orderRecords) > 0 {
		if err := db.Create(&orderRecords).Error; err != nil {
			return errors.Wrap(err, "save order records")
		}
	}

	var positionRecords []PositionRecord
	for _, snap := range snapshots {
		for _, p := range snap.Positions {
			positionRecords = append(positionRecords, PositionRecord{
				RunID:       runID,
				Date:        p.Date,
				Symbol:      p.Symbol,
				Direction:   p.Direction,
				Amount:      p.Amount,
				AvgCost:     p.AvgCost,
				ClosePrice:  p.ClosePrice,
				MarketValue: p.MarketValue,
				DailyPnL:    p.DailyPnL,
			})
		}
	}
	if len(positionRecords) > 0 {
		if err := db.Create(&positionRecords).Error; err != nil {
			return errors.Wrap(err, "save position records")
		}
	}

	logs.Infof("artifacts mirrored to database: run=%s equity=%d orders=%d positions=%d",
		runID, len(equity), len(orderRecords), len(positionRecords))
	return nil
}
