package repository

import (
	"context"
	"errors"

	"github.com/traderx-trade-processor/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PositionRepository handles position data access
type PositionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new PositionRepository
func NewPositionRepository(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// GetByKey retrieves a position by account ID and security
func (r *PositionRepository) GetByKey(ctx context.Context, accountID int, security string) (*models.Position, error) {
	var position models.Position
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND security = ?", accountID, security).
		First(&position)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrPositionNotFound
		}
		return nil, result.Error
	}
	return &position, nil
}

// GetForUpdate seeds a flat row if needed, then reads it with a row lock.
// The seed insert makes the lock effective for the first trade of a key,
// where SELECT ... FOR UPDATE alone would find nothing to lock.
func (r *PositionRepository) GetForUpdate(ctx context.Context, accountID int, security string) (*models.Position, bool, error) {
	seed := models.NewPosition(accountID, security)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(seed)
	if result.Error != nil {
		return nil, false, result.Error
	}
	created := result.RowsAffected == 1

	var position models.Position
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ? AND security = ?", accountID, security).
		First(&position).Error
	if err != nil {
		return nil, false, err
	}
	return &position, created, nil
}

// Save updates a position, inserting it if missing
func (r *PositionRepository) Save(ctx context.Context, position *models.Position) error {
	return r.db.WithContext(ctx).Save(position).Error
}

// ListByAccountID retrieves all positions for an account
func (r *PositionRepository) ListByAccountID(ctx context.Context, accountID int) ([]models.Position, error) {
	var positions []models.Position
	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("security").
		Find(&positions)
	return positions, result.Error
}

// Count counts all position rows
func (r *PositionRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Position{}).Count(&count).Error
	return count, err
}
