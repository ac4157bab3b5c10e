package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/traderx-trade-processor/internal/models"
)

// MemoryStore is an in-process Store with the same transactional semantics as
// GormStore: writes are staged per transaction and committed together, and
// GetForUpdate holds a per-key lock until the transaction ends.
type MemoryStore struct {
	mu        sync.RWMutex
	trades    map[string]models.Trade
	positions map[models.PositionKey]models.Position
	locks     *keyLocks

	faultMux sync.RWMutex
	fault    func(op string) error
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trades:    make(map[string]models.Trade),
		positions: make(map[models.PositionKey]models.Position),
		locks:     newKeyLocks(),
	}
}

// SetFaultHook installs fn to be consulted before every write and before
// commit. A non-nil return aborts the operation with that error.
func (s *MemoryStore) SetFaultHook(fn func(op string) error) {
	s.faultMux.Lock()
	s.fault = fn
	s.faultMux.Unlock()
}

func (s *MemoryStore) checkFault(op string) error {
	s.faultMux.RLock()
	fn := s.fault
	s.faultMux.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(op)
}

// Trades returns an autocommit trade view
func (s *MemoryStore) Trades() TradeStore {
	return &autoTrades{store: s}
}

// Positions returns an autocommit position view
func (s *MemoryStore) Positions() PositionStore {
	return &autoPositions{store: s}
}

// Transaction runs fn and commits its staged writes if it returns nil
func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		store:     s,
		trades:    make(map[string]models.Trade),
		created:   make(map[string]struct{}),
		positions: make(map[models.PositionKey]models.Position),
		held:      make(map[models.PositionKey]struct{}),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

type memTx struct {
	store     *MemoryStore
	trades    map[string]models.Trade
	created   map[string]struct{}
	positions map[models.PositionKey]models.Position
	held      map[models.PositionKey]struct{}
}

func (t *memTx) Trades() TradeStore       { return (*memTrades)(t) }
func (t *memTx) Positions() PositionStore { return (*memPositions)(t) }

func (t *memTx) commit() error {
	if err := t.store.checkFault("commit"); err != nil {
		return err
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for id := range t.created {
		if _, exists := t.store.trades[id]; exists {
			return ErrDuplicateTrade
		}
	}
	for id, trade := range t.trades {
		t.store.trades[id] = trade
	}
	for key, position := range t.positions {
		t.store.positions[key] = position
	}
	return nil
}

func (t *memTx) release() {
	for key := range t.held {
		t.store.locks.release(key)
	}
	t.held = nil
}

type memTrades memTx

func (r *memTrades) Create(ctx context.Context, trade *models.Trade) error {
	if err := r.store.checkFault("trades.create"); err != nil {
		return err
	}
	if _, ok := r.trades[trade.ID]; ok {
		return ErrDuplicateTrade
	}
	r.store.mu.RLock()
	_, exists := r.store.trades[trade.ID]
	r.store.mu.RUnlock()
	if exists {
		return ErrDuplicateTrade
	}
	r.trades[trade.ID] = *trade
	r.created[trade.ID] = struct{}{}
	return nil
}

func (r *memTrades) Save(ctx context.Context, trade *models.Trade) error {
	if err := r.store.checkFault("trades.save"); err != nil {
		return err
	}
	r.trades[trade.ID] = *trade
	return nil
}

func (r *memTrades) GetByID(ctx context.Context, id string) (*models.Trade, error) {
	if trade, ok := r.trades[id]; ok {
		return &trade, nil
	}
	r.store.mu.RLock()
	trade, ok := r.store.trades[id]
	r.store.mu.RUnlock()
	if !ok {
		return nil, ErrTradeNotFound
	}
	return &trade, nil
}

func (r *memTrades) List(ctx context.Context, filter TradeFilter) ([]models.Trade, int64, error) {
	merged := r.snapshot()

	matches := make([]models.Trade, 0, len(merged))
	for _, trade := range merged {
		if filter.AccountID != nil && trade.AccountID != *filter.AccountID {
			continue
		}
		if filter.Security != "" && trade.Security != filter.Security {
			continue
		}
		matches = append(matches, trade)
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].Created.Equal(matches[j].Created) {
			return matches[i].Created.After(matches[j].Created)
		}
		return matches[i].ID < matches[j].ID
	})

	total := int64(len(matches))
	offset, limit := filter.offsetLimit()
	if offset >= len(matches) {
		return []models.Trade{}, total, nil
	}
	matches = matches[offset:]
	if limit >= 0 && limit < len(matches) {
		matches = matches[:limit]
	}
	return matches, total, nil
}

func (r *memTrades) Count(ctx context.Context) (int64, error) {
	return int64(len(r.snapshot())), nil
}

func (r *memTrades) snapshot() map[string]models.Trade {
	r.store.mu.RLock()
	merged := make(map[string]models.Trade, len(r.store.trades)+len(r.trades))
	for id, trade := range r.store.trades {
		merged[id] = trade
	}
	r.store.mu.RUnlock()
	for id, trade := range r.trades {
		merged[id] = trade
	}
	return merged
}

type memPositions memTx

func (r *memPositions) GetByKey(ctx context.Context, accountID int, security string) (*models.Position, error) {
	key := models.PositionKey{AccountID: accountID, Security: security}
	if position, ok := r.positions[key]; ok {
		return &position, nil
	}
	r.store.mu.RLock()
	position, ok := r.store.positions[key]
	r.store.mu.RUnlock()
	if !ok {
		return nil, ErrPositionNotFound
	}
	return &position, nil
}

func (r *memPositions) GetForUpdate(ctx context.Context, accountID int, security string) (*models.Position, bool, error) {
	key := models.PositionKey{AccountID: accountID, Security: security}
	if _, ok := r.held[key]; !ok {
		if err := r.store.locks.acquire(ctx, key); err != nil {
			return nil, false, err
		}
		r.held[key] = struct{}{}
	}

	position, err := r.GetByKey(ctx, accountID, security)
	if err == nil {
		return position, false, nil
	}
	fresh := models.NewPosition(accountID, security)
	r.positions[key] = *fresh
	return fresh, true, nil
}

func (r *memPositions) Save(ctx context.Context, position *models.Position) error {
	if err := r.store.checkFault("positions.save"); err != nil {
		return err
	}
	r.positions[position.Key()] = *position
	return nil
}

func (r *memPositions) ListByAccountID(ctx context.Context, accountID int) ([]models.Position, error) {
	merged := r.snapshot()
	positions := make([]models.Position, 0)
	for key, position := range merged {
		if key.AccountID == accountID {
			positions = append(positions, position)
		}
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Security < positions[j].Security
	})
	return positions, nil
}

func (r *memPositions) Count(ctx context.Context) (int64, error) {
	return int64(len(r.snapshot())), nil
}

func (r *memPositions) snapshot() map[models.PositionKey]models.Position {
	r.store.mu.RLock()
	merged := make(map[models.PositionKey]models.Position, len(r.store.positions)+len(r.positions))
	for key, position := range r.store.positions {
		merged[key] = position
	}
	r.store.mu.RUnlock()
	for key, position := range r.positions {
		merged[key] = position
	}
	return merged
}

// autoTrades runs every call in its own transaction
type autoTrades struct {
	store *MemoryStore
}

func (a *autoTrades) Create(ctx context.Context, trade *models.Trade) error {
	return a.store.Transaction(ctx, func(tx Tx) error { return tx.Trades().Create(ctx, trade) })
}

func (a *autoTrades) Save(ctx context.Context, trade *models.Trade) error {
	return a.store.Transaction(ctx, func(tx Tx) error { return tx.Trades().Save(ctx, trade) })
}

func (a *autoTrades) GetByID(ctx context.Context, id string) (trade *models.Trade, err error) {
	err = a.store.Transaction(ctx, func(tx Tx) error {
		trade, err = tx.Trades().GetByID(ctx, id)
		return err
	})
	return trade, err
}

func (a *autoTrades) List(ctx context.Context, filter TradeFilter) (trades []models.Trade, total int64, err error) {
	err = a.store.Transaction(ctx, func(tx Tx) error {
		trades, total, err = tx.Trades().List(ctx, filter)
		return err
	})
	return trades, total, err
}

func (a *autoTrades) Count(ctx context.Context) (count int64, err error) {
	err = a.store.Transaction(ctx, func(tx Tx) error {
		count, err = tx.Trades().Count(ctx)
		return err
	})
	return count, err
}

// autoPositions runs every call in its own transaction
type autoPositions struct {
	store *MemoryStore
}

func (a *autoPositions) GetByKey(ctx context.Context, accountID int, security string) (position *models.Position, err error) {
	err = a.store.Transaction(ctx, func(tx Tx) error {
		position, err = tx.Positions().GetByKey(ctx, accountID, security)
		return err
	})
	return position, err
}

func (a *autoPositions) GetForUpdate(ctx context.Context, accountID int, security string) (position *models.Position, created bool, err error) {
	err = a.store.Transaction(ctx, func(tx Tx) error {
		position, created, err = tx.Positions().GetForUpdate(ctx, accountID, security)
		return err
	})
	return position, created, err
}

func (a *autoPositions) Save(ctx context.Context, position *models.Position) error {
	return a.store.Transaction(ctx, func(tx Tx) error { return tx.Positions().Save(ctx, position) })
}

func (a *autoPositions) ListByAccountID(ctx context.Context, accountID int) (positions []models.Position, err error) {
	err = a.store.Transaction(ctx, func(tx Tx) error {
		positions, err = tx.Positions().ListByAccountID(ctx, accountID)
		return err
	})
	return positions, err
}

func (a *autoPositions) Count(ctx context.Context) (count int64, err error) {
	err = a.store.Transaction(ctx, func(tx Tx) error {
		count, err = tx.Positions().Count(ctx)
		return err
	})
	return count, err
}

// keyLocks hands out one exclusive lock per position key
type keyLocks struct {
	mu    sync.Mutex
	slots map[models.PositionKey]chan struct{}
}

func newKeyLocks() *keyLocks {
	return &keyLocks{slots: make(map[models.PositionKey]chan struct{})}
}

func (l *keyLocks) slot(key models.PositionKey) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *keyLocks) acquire(ctx context.Context, key models.PositionKey) error {
	select {
	case l.slot(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *keyLocks) release(key models.PositionKey) {
	<-l.slot(key)
}
