package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/traderx-trade-processor/internal/models"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// GormStore is the relational Store backed by gorm
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GormStore
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Trades returns a trade repository outside any transaction
func (s *GormStore) Trades() TradeStore {
	return NewTradeRepository(s.db)
}

// Positions returns a position repository outside any transaction
func (s *GormStore) Positions() PositionStore {
	return NewPositionRepository(s.db)
}

// Transaction runs fn inside a database transaction
func (s *GormStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) Trades() TradeStore       { return NewTradeRepository(t.db) }
func (t *gormTx) Positions() PositionStore { return NewPositionRepository(t.db) }

// Migrate creates or updates the schema. It runs once at startup, before the
// server accepts traffic.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Trade{},
		&models.Position{},
	)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
