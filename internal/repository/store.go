package repository

import (
	"context"
	"errors"

	"github.com/traderx-trade-processor/internal/models"
)

var (
	ErrTradeNotFound    = errors.New("trade not found")
	ErrPositionNotFound = errors.New("position not found")
	ErrDuplicateTrade   = errors.New("trade id already exists")
)

// TradeFilter narrows trade listings. Zero values mean no filter.
type TradeFilter struct {
	AccountID *int
	Security  string
	Page      int
	PageSize  int
}

func (f TradeFilter) offsetLimit() (int, int) {
	if f.PageSize <= 0 {
		return 0, -1
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * f.PageSize, f.PageSize
}

// TradeStore persists trades keyed by id
type TradeStore interface {
	// Create inserts a new trade, ErrDuplicateTrade if the id is taken
	Create(ctx context.Context, trade *models.Trade) error
	// Save upserts a trade by id
	Save(ctx context.Context, trade *models.Trade) error
	GetByID(ctx context.Context, id string) (*models.Trade, error)
	// List returns trades newest first along with the unpaginated total
	List(ctx context.Context, filter TradeFilter) ([]models.Trade, int64, error)
	Count(ctx context.Context) (int64, error)
}

// PositionStore persists positions keyed by (account, security)
type PositionStore interface {
	GetByKey(ctx context.Context, accountID int, security string) (*models.Position, error)
	// GetForUpdate returns the position row locked until the surrounding
	// transaction ends, creating a flat row first if none exists. The bool
	// reports whether the row was created by this call.
	GetForUpdate(ctx context.Context, accountID int, security string) (*models.Position, bool, error)
	// Save upserts a position by composite key
	Save(ctx context.Context, position *models.Position) error
	ListByAccountID(ctx context.Context, accountID int) ([]models.Position, error)
	Count(ctx context.Context) (int64, error)
}

// Tx is the set of repositories bound to a single transaction
type Tx interface {
	Trades() TradeStore
	Positions() PositionStore
}

// Store gives access to repositories and runs units of work atomically.
// All writes made through the Tx passed to fn are committed together when fn
// returns nil and discarded otherwise.
type Store interface {
	Tx
	Transaction(ctx context.Context, fn func(tx Tx) error) error
}
