package models

import "strings"

// TradeSide represents the side of an order
type TradeSide string

const (
	TradeSideBuy  TradeSide = "Buy"
	TradeSideSell TradeSide = "Sell"
)

// Sign returns +1 for buys and -1 for sells
func (s TradeSide) Sign() int {
	if s == TradeSideSell {
		return -1
	}
	return 1
}

// ParseTradeSide accepts the side in any letter case
func ParseTradeSide(v string) (TradeSide, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "buy":
		return TradeSideBuy, true
	case "sell":
		return TradeSideSell, true
	default:
		return "", false
	}
}

// TradeOrder is an incoming order to be booked. It is never persisted.
type TradeOrder struct {
	ID        string    `json:"id"`
	AccountID int       `json:"accountId"`
	Security  string    `json:"security"`
	Side      TradeSide `json:"side"`
	Quantity  int       `json:"quantity"`
}

// Delta returns the signed quantity the order contributes to a position
func (o *TradeOrder) Delta() int {
	return o.Side.Sign() * o.Quantity
}

// TradeBookingResult pairs a settled trade with the position it produced
type TradeBookingResult struct {
	Trade    *Trade    `json:"trade"`
	Position *Position `json:"position"`
}
