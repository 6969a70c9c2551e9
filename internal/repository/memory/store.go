package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"storefront-fulfillment/internal/domain"

	"github.com/google/uuid"
)

var (
	_ domain.OrderRepository     = (*Store)(nil)
	_ domain.InventoryRepository = (*Store)(nil)
	_ domain.ChangeStream        = (*Store)(nil)
	_ domain.TransactionManager  = (*Store)(nil)
)

type txKey struct{}

// txState buffers the events of an open transaction until commit.
type txState struct {
	events []domain.ChangeEvent
}

// Store is an in-process record store. Writers are serialized; a transaction
// holds the writer lock for its whole duration and is rolled back to a
// snapshot when its function fails.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	orders    map[string]domain.OrderRecord
	inventory map[string]domain.InventoryRecord
	history   []domain.OrderHistory
	failures  map[string]error

	subMu sync.Mutex
	subs  map[*subscriber]struct{}

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		orders:    make(map[string]domain.OrderRecord),
		inventory: make(map[string]domain.InventoryRecord),
		failures:  make(map[string]error),
		subs:      make(map[*subscriber]struct{}),
		now:       time.Now,
	}
}

// SetClock overrides the time source used for history and inventory stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetFailure makes op fail with err until cleared with a nil err.
// Ops: get_order, update_order, query_orders, create_history, get_inventory, cas_inventory.
func (s *Store) SetFailure(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) failure(op string) error {
	if err, ok := s.failures[op]; ok {
		return domain.StorageFailure(op, err)
	}
	return nil
}

// Do runs fn atomically. Nested calls join the outer transaction.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	snap := s.snapshot()
	tx := &txState{}

	err := fn(context.WithValue(ctx, txKey{}, tx))
	if err != nil {
		s.restore(snap)
		s.txMu.Unlock()
		return err
	}
	s.txMu.Unlock()

	s.publish(tx.events)
	return nil
}

// write applies fn under the writer lock, joining the transaction in ctx if any.
func (s *Store) write(ctx context.Context, fn func() ([]domain.ChangeEvent, error)) error {
	if tx, ok := ctx.Value(txKey{}).(*txState); ok {
		s.mu.Lock()
		events, err := fn()
		s.mu.Unlock()
		if err == nil {
			tx.events = append(tx.events, events...)
		}
		return err
	}

	s.txMu.Lock()
	s.mu.Lock()
	events, err := fn()
	s.mu.Unlock()
	s.txMu.Unlock()
	if err == nil {
		s.publish(events)
	}
	return err
}

type snapshot struct {
	orders    map[string]domain.OrderRecord
	inventory map[string]domain.InventoryRecord
	history   []domain.OrderHistory
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := snapshot{
		orders:    make(map[string]domain.OrderRecord, len(s.orders)),
		inventory: make(map[string]domain.InventoryRecord, len(s.inventory)),
		history:   append([]domain.OrderHistory(nil), s.history...),
	}
	for k, v := range s.orders {
		snap.orders[k] = v
	}
	for k, v := range s.inventory {
		snap.inventory[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = snap.orders
	s.inventory = snap.inventory
	s.history = snap.history
}

func (s *Store) changeEvent(table, id string, typ domain.ChangeType, version int64, old, cur interface{}) domain.ChangeEvent {
	ev := domain.ChangeEvent{
		ID:         id,
		Table:      table,
		Type:       typ,
		Version:    version,
		OccurredAt: s.now(),
	}
	if old != nil {
		ev.Old, _ = json.Marshal(old)
	}
	ev.New, _ = json.Marshal(cur)
	return ev
}

func newID() string {
	return uuid.NewString()
}
