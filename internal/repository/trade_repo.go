package repository

import (
	"context"
	"errors"

	"github.com/traderx-trade-processor/internal/models"
	"gorm.io/gorm"
)

// TradeRepository handles trade data access
type TradeRepository struct {
	db *gorm.DB
}

// NewTradeRepository creates a new TradeRepository
func NewTradeRepository(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create creates a new trade
func (r *TradeRepository) Create(ctx context.Context, trade *models.Trade) error {
	if err := r.db.WithContext(ctx).Create(trade).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTrade
		}
		return err
	}
	return nil
}

// Save updates a trade, inserting it if missing
func (r *TradeRepository) Save(ctx context.Context, trade *models.Trade) error {
	return r.db.WithContext(ctx).Save(trade).Error
}

// GetByID retrieves a trade by ID
func (r *TradeRepository) GetByID(ctx context.Context, id string) (*models.Trade, error) {
	var trade models.Trade
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&trade)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, result.Error
	}
	return &trade, nil
}

// List retrieves trades with optional account/security filter and pagination
func (r *TradeRepository) List(ctx context.Context, filter TradeFilter) ([]models.Trade, int64, error) {
	var trades []models.Trade
	var total int64

	where := func(db *gorm.DB) *gorm.DB {
		if filter.AccountID != nil {
			db = db.Where("account_id = ?", *filter.AccountID)
		}
		if filter.Security != "" {
			db = db.Where("security = ?", filter.Security)
		}
		return db
	}

	if err := r.db.WithContext(ctx).Model(&models.Trade{}).Scopes(where).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := filter.offsetLimit()
	result := r.db.WithContext(ctx).Scopes(where).
		Order("created DESC").
		Order("id").
		Offset(offset).
		Limit(limit).
		Find(&trades)

	return trades, total, result.Error
}

// Count counts all trades
func (r *TradeRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Trade{}).Count(&count).Error
	return count, err
}
