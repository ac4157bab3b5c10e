package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traderx-trade-processor/internal/events"
	"github.com/traderx-trade-processor/internal/lookup"
	"github.com/traderx-trade-processor/internal/models"
	"github.com/traderx-trade-processor/internal/repository"
)

const testAccount = 22214

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type capturedEvent struct {
	topic   string
	payload any
}

type capturePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
	err    error
}

func (p *capturePublisher) Publish(ctx context.Context, topic string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, capturedEvent{topic: topic, payload: payload})
	return p.err
}

func (p *capturePublisher) published() []capturedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]capturedEvent(nil), p.events...)
}

type slowResolver struct {
	lookup.Resolver
	delay time.Duration
}

func (r slowResolver) ResolveSecurity(ctx context.Context, ticker string) (*lookup.Security, error) {
	select {
	case <-time.After(r.delay):
		return r.Resolver.ResolveSecurity(ctx, ticker)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", lookup.ErrUnavailable, ctx.Err())
	}
}

type fixture struct {
	store     *repository.MemoryStore
	publisher *capturePublisher
	processor *OrderProcessor
}

func newFixture(t *testing.T, opts ...ProcessorOption) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	resolver := lookup.NewStatic([]string{"AAPL", "MSFT", "IBM"}, []int{testAccount, 52355})
	pub := &capturePublisher{}
	return &fixture{
		store:     store,
		publisher: pub,
		processor: NewOrderProcessor(store, resolver, resolver, pub, testLogger(), opts...),
	}
}

func (f *fixture) counts(t *testing.T) (trades, positions int64) {
	t.Helper()
	trades, err := f.store.Trades().Count(context.Background())
	require.NoError(t, err)
	positions, err = f.store.Positions().Count(context.Background())
	require.NoError(t, err)
	return trades, positions
}

func order(side models.TradeSide, qty int) models.TradeOrder {
	return models.TradeOrder{AccountID: testAccount, Security: "AAPL", Side: side, Quantity: qty}
}

func TestProcessOrder_BuyOnNewPosition(t *testing.T) {
	f := newFixture(t)

	result, err := f.processor.ProcessOrder(context.Background(), order(models.TradeSideBuy, 100))
	require.NoError(t, err)

	assert.Equal(t, models.TradeStateSettled, result.Trade.State)
	assert.NotEmpty(t, result.Trade.ID)
	assert.Equal(t, testAccount, result.Position.AccountID)
	assert.Equal(t, "AAPL", result.Position.Security)
	assert.Equal(t, 100, result.Position.Quantity)
	assert.False(t, result.Trade.Updated.Before(result.Trade.Created))

	stored, err := f.store.Trades().GetByID(context.Background(), result.Trade.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStateSettled, stored.State)

	pos, err := f.store.Positions().GetByKey(context.Background(), testAccount, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 100, pos.Quantity)
}

func TestProcessOrder_SellReducesPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.processor.ProcessOrder(ctx, order(models.TradeSideBuy, 100))
	require.NoError(t, err)
	result, err := f.processor.ProcessOrder(ctx, order(models.TradeSideSell, 40))
	require.NoError(t, err)

	assert.Equal(t, 60, result.Position.Quantity)
	trades, positions := f.counts(t)
	assert.Equal(t, int64(2), trades)
	assert.Equal(t, int64(1), positions)
}

func TestProcessOrder_FlatPositionIsKept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.processor.ProcessOrder(ctx, order(models.TradeSideSell, 25))
	require.NoError(t, err)
	result, err := f.processor.ProcessOrder(ctx, order(models.TradeSideBuy, 25))
	require.NoError(t, err)

	assert.True(t, result.Position.IsFlat())
	pos, err := f.store.Positions().GetByKey(ctx, testAccount, "AAPL")
	require.NoError(t, err)
	assert.Zero(t, pos.Quantity)
}

func TestProcessOrder_UnknownSecurity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.processor.ProcessOrder(ctx, order(models.TradeSideBuy, 10))
	require.NoError(t, err)
	tradesBefore, positionsBefore := f.counts(t)

	o := order(models.TradeSideBuy, 10)
	o.Security = "ZZZZ"
	_, err = f.processor.ProcessOrder(ctx, o)

	assert.ErrorIs(t, err, ErrUnknownSecurity)
	assert.NotErrorIs(t, err, ErrLookupUnavailable)
	tradesAfter, positionsAfter := f.counts(t)
	assert.Equal(t, tradesBefore, tradesAfter)
	assert.Equal(t, positionsBefore, positionsAfter)
}

func TestProcessOrder_UnknownAccount(t *testing.T) {
	f := newFixture(t)
	o := order(models.TradeSideBuy, 10)
	o.AccountID = 99999

	_, err := f.processor.ProcessOrder(context.Background(), o)

	assert.ErrorIs(t, err, ErrUnknownAccount)
	trades, positions := f.counts(t)
	assert.Zero(t, trades)
	assert.Zero(t, positions)
	assert.Empty(t, f.publisher.published())
}

func TestProcessOrder_LookupTimeout(t *testing.T) {
	store := repository.NewMemoryStore()
	static := lookup.NewStatic([]string{"AAPL"}, []int{testAccount})
	slow := slowResolver{Resolver: static, delay: time.Second}
	p := NewOrderProcessor(store, slow, static, nil, testLogger(), WithLookupTimeout(20*time.Millisecond))

	_, err := p.ProcessOrder(context.Background(), order(models.TradeSideBuy, 10))

	assert.ErrorIs(t, err, ErrUnknownSecurity)
	assert.ErrorIs(t, err, ErrLookupUnavailable)
	count, cerr := store.Trades().Count(context.Background())
	require.NoError(t, cerr)
	assert.Zero(t, count)
}

func TestProcessOrder_InvalidOrder(t *testing.T) {
	tests := []struct {
		name  string
		order models.TradeOrder
	}{
		{"zero quantity", models.TradeOrder{AccountID: testAccount, Security: "AAPL", Side: models.TradeSideBuy, Quantity: 0}},
		{"negative quantity", models.TradeOrder{AccountID: testAccount, Security: "AAPL", Side: models.TradeSideSell, Quantity: -5}},
		{"unknown side", models.TradeOrder{AccountID: testAccount, Security: "AAPL", Side: "Short", Quantity: 5}},
		{"missing side", models.TradeOrder{AccountID: testAccount, Security: "AAPL", Quantity: 5}},
		{"missing security", models.TradeOrder{AccountID: testAccount, Side: models.TradeSideBuy, Quantity: 5}},
		{"missing account", models.TradeOrder{Security: "AAPL", Side: models.TradeSideBuy, Quantity: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.processor.ProcessOrder(context.Background(), tt.order)
			assert.ErrorIs(t, err, ErrInvalidOrder)
			trades, positions := f.counts(t)
			assert.Zero(t, trades)
			assert.Zero(t, positions)
		})
	}
}

func TestProcessOrder_NormalizesInput(t *testing.T) {
	f := newFixture(t)
	o := models.TradeOrder{AccountID: testAccount, Security: " aapl ", Side: "buy", Quantity: 7}

	result, err := f.processor.ProcessOrder(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", result.Trade.Security)
	assert.Equal(t, models.TradeSideBuy, result.Trade.Side)
}

func TestProcessOrder_StorageFailureRollsBack(t *testing.T) {
	for _, op := range []string{"trades.create", "positions.save", "trades.save", "commit"} {
		t.Run(op, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, err := f.processor.ProcessOrder(ctx, order(models.TradeSideBuy, 100))
			require.NoError(t, err)
			published := len(f.publisher.published())

			f.store.SetFaultHook(func(got string) error {
				if got == op {
					return errors.New("disk full")
				}
				return nil
			})
			_, err = f.processor.ProcessOrder(ctx, order(models.TradeSideBuy, 50))
			assert.ErrorIs(t, err, ErrStorageFailure)
			f.store.SetFaultHook(nil)

			trades, _ := f.counts(t)
			assert.Equal(t, int64(1), trades)
			pos, err := f.store.Positions().GetByKey(ctx, testAccount, "AAPL")
			require.NoError(t, err)
			assert.Equal(t, 100, pos.Quantity)
			assert.Len(t, f.publisher.published(), published)
		})
	}
}

func TestProcessOrder_PublishesTradeAndPosition(t *testing.T) {
	f := newFixture(t)

	result, err := f.processor.ProcessOrder(context.Background(), order(models.TradeSideBuy, 100))
	require.NoError(t, err)

	published := f.publisher.published()
	require.Len(t, published, 2)
	assert.Equal(t, events.TradesTopic(testAccount), published[0].topic)
	assert.Equal(t, events.PositionsTopic(testAccount), published[1].topic)

	trade := published[0].payload.(*models.Trade)
	assert.Equal(t, result.Trade.ID, trade.ID)
	assert.Equal(t, models.TradeStateSettled, trade.State)
	position := published[1].payload.(*models.Position)
	assert.Equal(t, 100, position.Quantity)
}

func TestProcessOrder_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	result, err := f.processor.ProcessOrder(context.Background(), order(models.TradeSideBuy, 100))
	require.NoError(t, err)
	assert.Equal(t, 100, result.Position.Quantity)

	trades, _ := f.counts(t)
	assert.Equal(t, int64(1), trades)
}

func TestProcessOrder_CallerSuppliedIDIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := order(models.TradeSideBuy, 100)
	o.ID = "order-1"

	first, err := f.processor.ProcessOrder(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, "order-1", first.Trade.ID)

	second, err := f.processor.ProcessOrder(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, "order-1", second.Trade.ID)
	assert.Equal(t, 100, second.Position.Quantity)

	trades, _ := f.counts(t)
	assert.Equal(t, int64(1), trades)
	assert.Len(t, f.publisher.published(), 2)
}

func TestProcessOrder_ReusedIDWithDifferentTerms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := order(models.TradeSideBuy, 100)
	o.ID = "order-1"
	_, err := f.processor.ProcessOrder(ctx, o)
	require.NoError(t, err)

	o.Quantity = 5
	_, err = f.processor.ProcessOrder(ctx, o)
	assert.ErrorIs(t, err, ErrDuplicateOrderID)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	other := models.TradeOrder{ID: "order-1", AccountID: testAccount, Security: "MSFT", Side: models.TradeSideBuy, Quantity: 100}
	_, err = f.processor.ProcessOrder(ctx, other)
	assert.ErrorIs(t, err, ErrDuplicateOrderID)

	_, err = f.store.Positions().GetByKey(ctx, testAccount, "MSFT")
	assert.ErrorIs(t, err, repository.ErrPositionNotFound)
}

func TestProcessOrder_GeneratedIDs(t *testing.T) {
	ids := []string{"gen-1", "gen-2"}
	var n int
	f := newFixture(t, WithIDGenerator(func() string {
		id := ids[n]
		n++
		return id
	}))
	ctx := context.Background()

	first, err := f.processor.ProcessOrder(ctx, order(models.TradeSideBuy, 1))
	require.NoError(t, err)
	second, err := f.processor.ProcessOrder(ctx, order(models.TradeSideBuy, 1))
	require.NoError(t, err)

	assert.Equal(t, "gen-1", first.Trade.ID)
	assert.Equal(t, "gen-2", second.Trade.ID)
	assert.Equal(t, 2, second.Position.Quantity)
}

func TestProcessOrder_Clock(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	var tick int
	f := newFixture(t, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}))

	result, err := f.processor.ProcessOrder(context.Background(), order(models.TradeSideBuy, 1))
	require.NoError(t, err)

	assert.Equal(t, base.Add(time.Millisecond), result.Trade.Created)
	assert.Equal(t, base.Add(3*time.Millisecond), result.Trade.Updated)
	assert.Equal(t, result.Trade.Created, result.Position.Updated)
}

func TestProcessOrder_ConcurrentSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, qty := range []int{50, 30} {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			_, err := f.processor.ProcessOrder(ctx, order(models.TradeSideBuy, qty))
			assert.NoError(t, err)
		}(qty)
	}
	wg.Wait()

	pos, err := f.store.Positions().GetByKey(ctx, testAccount, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 80, pos.Quantity)
}

func TestProcessOrder_ConcurrentSumMatchesSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		want int
	)
	for i := 1; i <= 40; i++ {
		side := models.TradeSideBuy
		if i%3 == 0 {
			side = models.TradeSideSell
		}
		o := order(side, i)
		want += o.Delta()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.processor.ProcessOrder(ctx, o)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pos, err := f.store.Positions().GetByKey(ctx, testAccount, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, want, pos.Quantity)
	trades, _ := f.counts(t)
	assert.Equal(t, int64(40), trades)
}
