package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/traderx-trade-processor/internal/events"
	"github.com/traderx-trade-processor/internal/lookup"
	"github.com/traderx-trade-processor/internal/models"
	"github.com/traderx-trade-processor/internal/repository"
)

const (
	defaultLookupTimeout = 3 * time.Second
	maxSecurityLength    = 15
	maxOrderIDLength     = 50
)

// OrderProcessor books orders into trades and keeps positions in step.
// It is the only writer of trade and position rows.
type OrderProcessor struct {
	store         repository.Store
	securities    lookup.SecurityResolver
	accounts      lookup.AccountResolver
	publisher     events.Publisher
	lookupTimeout time.Duration
	log           logrus.FieldLogger

	now   func() time.Time
	newID func() string
}

// ProcessorOption customizes an OrderProcessor
type ProcessorOption func(*OrderProcessor)

// WithLookupTimeout bounds each security and account lookup
func WithLookupTimeout(d time.Duration) ProcessorOption {
	return func(p *OrderProcessor) {
		if d > 0 {
			p.lookupTimeout = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *OrderProcessor) { p.now = now }
}

// WithIDGenerator replaces the trade id generator used when an order has no id
func WithIDGenerator(gen func() string) ProcessorOption {
	return func(p *OrderProcessor) { p.newID = gen }
}

// NewOrderProcessor creates a new OrderProcessor
func NewOrderProcessor(
	store repository.Store,
	securities lookup.SecurityResolver,
	accounts lookup.AccountResolver,
	publisher events.Publisher,
	log logrus.FieldLogger,
	opts ...ProcessorOption,
) *OrderProcessor {
	if publisher == nil {
		publisher = events.Noop{}
	}
	p := &OrderProcessor{
		store:         store,
		securities:    securities,
		accounts:      accounts,
		publisher:     publisher,
		lookupTimeout: defaultLookupTimeout,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessOrder validates the order, books a settled trade and applies its
// signed quantity to the (account, security) position in one transaction,
// then publishes both to the account topics.
//
// An order carrying the id of an already booked trade with the same terms is
// answered with the existing trade and the current position; nothing is
// written or published.
func (p *OrderProcessor) ProcessOrder(ctx context.Context, order models.TradeOrder) (*models.TradeBookingResult, error) {
	if err := normalizeOrder(&order); err != nil {
		return nil, err
	}

	log := p.log.WithFields(logrus.Fields{
		"order_id":   order.ID,
		"account_id": order.AccountID,
		"security":   order.Security,
		"side":       order.Side,
		"quantity":   order.Quantity,
	})
	log.Info("order received")

	if err := p.resolve(ctx, &order); err != nil {
		log.WithError(err).Warn("order rejected")
		return nil, err
	}

	tradeID := order.ID
	if tradeID == "" {
		tradeID = p.newID()
	}

	var (
		result   models.TradeBookingResult
		replayed bool
	)
	err := p.store.Transaction(ctx, func(tx repository.Tx) error {
		position, created, err := tx.Positions().GetForUpdate(ctx, order.AccountID, order.Security)
		if err != nil {
			return err
		}
		if created {
			log.Info("position created")
		}

		existing, err := tx.Trades().GetByID(ctx, tradeID)
		switch {
		case err == nil:
			if !sameTerms(existing, &order) {
				return ErrDuplicateOrderID
			}
			result = models.TradeBookingResult{Trade: existing, Position: position}
			replayed = true
			return nil
		case !errors.Is(err, repository.ErrTradeNotFound):
			return err
		}

		trade := models.NewTrade(tradeID, &order, p.now())
		position.Apply(order.Delta(), trade.Created)

		if err := tx.Trades().Create(ctx, trade); err != nil {
			return err
		}
		if err := tx.Positions().Save(ctx, position); err != nil {
			return err
		}
		for _, next := range []models.TradeState{models.TradeStateProcessing, models.TradeStateSettled} {
			if err := trade.Advance(next, p.now()); err != nil {
				return err
			}
			if err := tx.Trades().Save(ctx, trade); err != nil {
				return err
			}
		}

		result = models.TradeBookingResult{Trade: trade, Position: position}
		return nil
	})
	if err != nil {
		err = classifyStorageError(err)
		log.WithError(err).Error("order booking failed")
		return nil, err
	}

	if replayed {
		log.WithField("trade_id", tradeID).Info("order already booked")
		return &result, nil
	}

	log.WithFields(logrus.Fields{
		"trade_id": result.Trade.ID,
		"position": result.Position.Quantity,
	}).Info("order booked")

	p.publish(ctx, &result, log)
	return &result, nil
}

func (p *OrderProcessor) resolve(ctx context.Context, order *models.TradeOrder) error {
	lctx, cancel := context.WithTimeout(ctx, p.lookupTimeout)
	defer cancel()

	if _, err := p.securities.ResolveSecurity(lctx, order.Security); err != nil {
		return lookupError(ErrUnknownSecurity, order.Security, err)
	}
	if _, err := p.accounts.ResolveAccount(lctx, order.AccountID); err != nil {
		return lookupError(ErrUnknownAccount, fmt.Sprint(order.AccountID), err)
	}
	return nil
}

func (p *OrderProcessor) publish(ctx context.Context, result *models.TradeBookingResult, log logrus.FieldLogger) {
	trade := *result.Trade
	position := *result.Position

	if err := p.publisher.Publish(ctx, events.TradesTopic(trade.AccountID), &trade); err != nil {
		log.WithError(err).Error("failed to publish trade")
	}
	if err := p.publisher.Publish(ctx, events.PositionsTopic(position.AccountID), &position); err != nil {
		log.WithError(err).Error("failed to publish position")
	}
}

func normalizeOrder(order *models.TradeOrder) error {
	order.ID = strings.TrimSpace(order.ID)
	order.Security = strings.ToUpper(strings.TrimSpace(order.Security))

	side, ok := models.ParseTradeSide(string(order.Side))
	if !ok {
		return fmt.Errorf("%w: side %q must be Buy or Sell", ErrInvalidOrder, order.Side)
	}
	order.Side = side

	switch {
	case order.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, order.Quantity)
	case order.Security == "":
		return fmt.Errorf("%w: security is required", ErrInvalidOrder)
	case len(order.Security) > maxSecurityLength:
		return fmt.Errorf("%w: security %q too long", ErrInvalidOrder, order.Security)
	case order.AccountID <= 0:
		return fmt.Errorf("%w: account id must be positive, got %d", ErrInvalidOrder, order.AccountID)
	case len(order.ID) > maxOrderIDLength:
		return fmt.Errorf("%w: order id longer than %d characters", ErrInvalidOrder, maxOrderIDLength)
	}
	return nil
}

func lookupError(kind error, key string, err error) error {
	if errors.Is(err, lookup.ErrNotFound) {
		return fmt.Errorf("%w: %s", kind, key)
	}
	return fmt.Errorf("%w: %s: %w: %v", kind, key, ErrLookupUnavailable, err)
}

func classifyStorageError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidOrder):
		return err
	case errors.Is(err, repository.ErrDuplicateTrade):
		return ErrDuplicateOrderID
	default:
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
}

func sameTerms(trade *models.Trade, order *models.TradeOrder) bool {
	return trade.AccountID == order.AccountID &&
		trade.Security == order.Security &&
		trade.Side == order.Side &&
		trade.Quantity == order.Quantity
}
