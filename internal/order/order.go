package order

import (
	"time"

	"github.com/yanun0323/errors"
)

var (
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrAlreadyFilled     = errors.New("order already has a fill")
)

// Side is the trade direction, derived from the sign of the submitted amount.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideSell {
		return "SELL"
	}
	return "BUY"
}

// Type is the order type.
type Type uint8

const (
	TypeMarket Type = iota
	TypeLimit
)

func (t Type) String() string {
	if t == TypeLimit {
		return "LIMIT"
	}
	return "MARKET"
}

// Status is the lifecycle state of an order.
type Status uint8

const (
	StatusOpen Status = iota
	StatusFilled
	StatusCancelled
	StatusExpired
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusExpired:
		return "EXPIRED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "OPEN"
	}
}

// Terminal reports whether the status admits no further transition.
func (s Status) Terminal() bool {
	return s != StatusOpen
}

// Order is a single trading order. Amount is the absolute quantity; the sign
// of the submitted amount became Side.
type Order struct {
	ID         string  `json:"id"`
	Symbol     string  `json:"symbol"`
	SymbolName string  `json:"symbolName,omitempty"`
	Amount     int64   `json:"amount"`
	Side       Side    `json:"side"`
	Type       Type    `json:"type"`
	LimitPrice float64 `json:"limitPrice,omitempty"`
	Status     Status  `json:"status"`

	CreatedTime    time.Time `json:"createdTime"`
	CreatedBarTime time.Time `json:"createdBarTime"`
	FilledTime     time.Time `json:"filledTime"`
	FilledPrice    float64   `json:"filledPrice,omitempty"`
	Commission     float64   `json:"commission,omitempty"`

	// Immediate marks an order that still matches against its creation-bar
	// quote; it flips off once the order survives a bar and rests.
	Immediate bool `json:"immediate"`

	RejectReason string `json:"rejectReason,omitempty"`
}

// Fill marks the order filled. An order can carry exactly one fill.
func (o *Order) Fill(price, commission float64, dt time.Time) error {
	if o.Status != StatusOpen {
		return ErrInvalidTransition
	}
	if !o.FilledTime.IsZero() {
		return ErrAlreadyFilled
	}
	o.Status = StatusFilled
	o.FilledPrice = price
	o.Commission = commission
	o.FilledTime = dt
	return nil
}

// Reject marks the order rejected with a reason.
func (o *Order) Reject(reason string) {
	if o.Status != StatusOpen {
		return
	}
	o.Status = StatusRejected
	o.RejectReason = reason
}

// Cancel marks an open order cancelled. Terminal orders are left untouched.
func (o *Order) Cancel() bool {
	if o.Status != StatusOpen {
		return false
	}
	o.Status = StatusCancelled
	return true
}

// Expire marks an open order expired at end of day.
func (o *Order) Expire() {
	if o.Status != StatusOpen {
		return
	}
	o.Status = StatusExpired
}

// MarkResting demotes the order to a resting limit order; later pulses match
// it against the current bar instead of its creation bar.
func (o *Order) MarkResting() {
	o.Immediate = false
}
