package service

import (
	"context"
	"strings"

	"github.com/traderx-trade-processor/internal/models"
	"github.com/traderx-trade-processor/internal/repository"
)

// LedgerService serves the read side of trades and positions
type LedgerService struct {
	store repository.Store
}

// NewLedgerService creates a new LedgerService
func NewLedgerService(store repository.Store) *LedgerService {
	return &LedgerService{store: store}
}

// ListTrades returns trades newest first and the total matching the filter
func (s *LedgerService) ListTrades(ctx context.Context, filter repository.TradeFilter) ([]models.Trade, int64, error) {
	filter.Security = strings.ToUpper(strings.TrimSpace(filter.Security))
	return s.store.Trades().List(ctx, filter)
}

// GetTrade returns a trade by id
func (s *LedgerService) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	return s.store.Trades().GetByID(ctx, id)
}

// ListPositions returns every position of the account, flat ones included
func (s *LedgerService) ListPositions(ctx context.Context, accountID int) ([]models.Position, error) {
	return s.store.Positions().ListByAccountID(ctx, accountID)
}

// GetPosition returns the position of the account in one security
func (s *LedgerService) GetPosition(ctx context.Context, accountID int, security string) (*models.Position, error) {
	return s.store.Positions().GetByKey(ctx, accountID, strings.ToUpper(strings.TrimSpace(security)))
}
