package models

import (
	"fmt"
	"time"
)

// TradeState represents the lifecycle state of a trade
type TradeState string

const (
	TradeStateNew        TradeState = "New"
	TradeStateProcessing TradeState = "Processing"
	TradeStateSettled    TradeState = "Settled"
)

var tradeStateOrder = map[TradeState]int{
	TradeStateNew:        0,
	TradeStateProcessing: 1,
	TradeStateSettled:    2,
}

// CanTransitionTo reports whether next directly follows s
func (s TradeState) CanTransitionTo(next TradeState) bool {
	cur, ok := tradeStateOrder[s]
	if !ok {
		return false
	}
	n, ok := tradeStateOrder[next]
	return ok && n == cur+1
}

// Trade represents a booked trade. One row is written per processed order.
type Trade struct {
	ID        string     `gorm:"primaryKey;size:50" json:"id"`
	AccountID int        `gorm:"index;not null" json:"accountId"`
	Security  string     `gorm:"size:15;not null;index" json:"security"`
	Side      TradeSide  `gorm:"size:10;not null" json:"side"`
	Quantity  int        `gorm:"not null" json:"quantity"`
	State     TradeState `gorm:"size:20;not null;default:'New'" json:"state"`
	Created   time.Time  `gorm:"column:created;not null;index" json:"created"`
	Updated   time.Time  `gorm:"column:updated;not null" json:"updated"`
}

// TableName specifies the table name for Trade model
func (Trade) TableName() string {
	return "trades"
}

// NewTrade builds a trade in state New from an order
func NewTrade(id string, order *TradeOrder, now time.Time) *Trade {
	return &Trade{
		ID:        id,
		AccountID: order.AccountID,
		Security:  order.Security,
		Side:      order.Side,
		Quantity:  order.Quantity,
		State:     TradeStateNew,
		Created:   now,
		Updated:   now,
	}
}

// Advance moves the trade to the next lifecycle state.
// Settled trades are immutable.
func (t *Trade) Advance(next TradeState, now time.Time) error {
	if t.IsSettled() {
		return fmt.Errorf("trade %s: settled trades are immutable", t.ID)
	}
	if !t.State.CanTransitionTo(next) {
		return fmt.Errorf("trade %s: illegal transition %s -> %s", t.ID, t.State, next)
	}
	t.State = next
	t.Updated = now
	return nil
}

// IsSettled returns true once the trade reached its terminal state
func (t *Trade) IsSettled() bool {
	return t.State == TradeStateSettled
}
