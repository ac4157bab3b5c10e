package models

import (
	"fmt"
	"time"
)

// Position is the net signed quantity an account holds in a security.
// Positive is net long, negative net short, zero flat.
type Position struct {
	AccountID int       `gorm:"primaryKey;autoIncrement:false" json:"accountId"`
	Security  string    `gorm:"primaryKey;size:15" json:"security"`
	Quantity  int       `gorm:"not null;default:0" json:"quantity"`
	Updated   time.Time `gorm:"column:updated" json:"updated"`
}

// TableName specifies the table name for Position model
func (Position) TableName() string {
	return "positions"
}

// PositionKey identifies a position row
type PositionKey struct {
	AccountID int
	Security  string
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%d/%s", k.AccountID, k.Security)
}

// Key returns the composite key of the position
func (p *Position) Key() PositionKey {
	return PositionKey{AccountID: p.AccountID, Security: p.Security}
}

// NewPosition returns a flat position for the key
func NewPosition(accountID int, security string) *Position {
	return &Position{AccountID: accountID, Security: security}
}

// Apply adds the signed contribution of a trade to the running total
func (p *Position) Apply(delta int, now time.Time) {
	p.Quantity += delta
	p.Updated = now
}

// IsFlat returns true when the running total is zero
func (p *Position) IsFlat() bool {
	return p.Quantity == 0
}
