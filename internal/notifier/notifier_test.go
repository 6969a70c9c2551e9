package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront-fulfillment/internal/domain"
	infracache "storefront-fulfillment/internal/infrastructure/cache"
	"storefront-fulfillment/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	changed []OrderChanged
	orders  []NewOrder
	refunds []RefundStatusChanged
	low     []LowStock
}

func (r *recorder) attach(bus *Bus) {
	Subscribe(bus, func(_ context.Context, s OrderChanged) { r.mu.Lock(); r.changed = append(r.changed, s); r.mu.Unlock() })
	Subscribe(bus, func(_ context.Context, s NewOrder) { r.mu.Lock(); r.orders = append(r.orders, s); r.mu.Unlock() })
	Subscribe(bus, func(_ context.Context, s RefundStatusChanged) {
		r.mu.Lock()
		r.refunds = append(r.refunds, s)
		r.mu.Unlock()
	})
	Subscribe(bus, func(_ context.Context, s LowStock) { r.mu.Lock(); r.low = append(r.low, s); r.mu.Unlock() })
}

type failingDedup struct{}

func (failingDedup) FirstSeen(context.Context, string) (bool, error) {
	return false, errors.New("dedup store down")
}

func newTestNotifier(threshold int) (*Notifier, *recorder) {
	bus := NewBus()
	rec := &recorder{}
	rec.attach(bus)
	dedup := NewCacheDeduplicator(infracache.NewMemoryCache(time.Minute, time.Minute), "test", time.Minute)
	return New(memory.NewStore(), bus, dedup, threshold), rec
}

func orderEvent(t *testing.T, typ domain.ChangeType, old, cur *domain.Order) domain.ChangeEvent {
	t.Helper()
	ev := domain.ChangeEvent{ID: cur.ID, Table: domain.TableOrders, Type: typ, Version: cur.Version, OccurredAt: testNow}
	var err error
	if old != nil {
		ev.Old, err = json.Marshal(old.Record())
		require.NoError(t, err)
	}
	ev.New, err = json.Marshal(cur.Record())
	require.NoError(t, err)
	return ev
}

func inventoryEvent(t *testing.T, productID string, oldStock, newStock int, version int64) domain.ChangeEvent {
	t.Helper()
	old, err := json.Marshal(domain.InventoryRecord{ProductID: productID, Stock: oldStock, Version: version - 1})
	require.NoError(t, err)
	cur, err := json.Marshal(domain.InventoryRecord{ProductID: productID, Stock: newStock, Version: version})
	require.NoError(t, err)
	return domain.ChangeEvent{ID: productID, Table: domain.TableInventory, Type: domain.ChangeUpdate, Version: version, Old: old, New: cur, OccurredAt: testNow}
}

func deliveredWithRefund(t *testing.T, id string) *domain.Order {
	t.Helper()
	o := domain.NewOrder(id, "user-1", []domain.OrderItem{{ProductID: "p1", Quantity: 1, UnitPrice: 5}}, testNow)
	steps := []domain.Transition{
		{Kind: domain.OpApprove},
		{Kind: domain.OpAdvanceDelivery, Delivery: domain.DeliveryProcessing},
		{Kind: domain.OpAdvanceDelivery, Delivery: domain.DeliveryShipping},
		{Kind: domain.OpAdvanceDelivery, Delivery: domain.DeliveryDelivered},
		{Kind: domain.OpOpenRefund, Reason: "broken", EvidenceURL: "mem://evidence/refunds/x.webp"},
	}
	for _, s := range steps {
		require.NoError(t, o.Apply(s, testNow))
	}
	return o
}

func TestNotifier_InsertRaisesNewOrder(t *testing.T) {
	n, rec := newTestNotifier(5)
	o := domain.NewOrder("O1", "user-1", nil, testNow)

	n.Handle(context.Background(), orderEvent(t, domain.ChangeInsert, nil, o))

	require.Len(t, rec.changed, 1)
	require.Len(t, rec.orders, 1)
	assert.Equal(t, "O1", rec.orders[0].Order.ID)
	assert.Equal(t, "user-1", rec.changed[0].UserID)
	assert.Empty(t, rec.refunds)
}

func TestNotifier_RefundResolution(t *testing.T) {
	n, rec := newTestNotifier(5)
	old := deliveredWithRefund(t, "O1")
	cur := old.Clone()
	require.NoError(t, cur.Apply(domain.Transition{Kind: domain.OpResolveRefund, Refund: domain.RefundApproved}, testNow))
	cur.Version = old.Version + 1

	n.Handle(context.Background(), orderEvent(t, domain.ChangeUpdate, old, cur))

	require.Len(t, rec.refunds, 1)
	assert.Equal(t, domain.RefundPending, rec.refunds[0].Previous)
	assert.Equal(t, domain.RefundApproved, rec.refunds[0].Status)
	assert.Equal(t, "user-1", rec.refunds[0].UserID)
	assert.Empty(t, rec.orders)
}

func TestNotifier_RefundOpenIsNotResolution(t *testing.T) {
	n, rec := newTestNotifier(5)
	cur := deliveredWithRefund(t, "O1")
	old := domain.NewOrder("O1", "user-1", nil, testNow)

	n.Handle(context.Background(), orderEvent(t, domain.ChangeUpdate, old, cur))

	assert.Len(t, rec.changed, 1)
	assert.Empty(t, rec.refunds)
}

func TestNotifier_DuplicateDeliveryHandledOnce(t *testing.T) {
	n, rec := newTestNotifier(5)
	ev := orderEvent(t, domain.ChangeInsert, nil, domain.NewOrder("O1", "user-1", nil, testNow))

	n.Handle(context.Background(), ev)
	n.Handle(context.Background(), ev)

	assert.Len(t, rec.changed, 1)
	assert.Len(t, rec.orders, 1)
}

func TestNotifier_DedupFailureStillDelivers(t *testing.T) {
	bus := NewBus()
	rec := &recorder{}
	rec.attach(bus)
	n := New(memory.NewStore(), bus, failingDedup{}, 5)
	ev := orderEvent(t, domain.ChangeInsert, nil, domain.NewOrder("O1", "user-1", nil, testNow))

	n.Handle(context.Background(), ev)
	n.Handle(context.Background(), ev)

	assert.Len(t, rec.orders, 2)
}

func TestNotifier_LowStockCrossing(t *testing.T) {
	tests := []struct {
		name     string
		old, cur int
		want     bool
	}{
		{"crosses into threshold", 6, 5, true},
		{"crosses below threshold", 10, 0, true},
		{"already low", 5, 4, false},
		{"stays above", 9, 6, false},
		{"restock", 2, 20, false},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, rec := newTestNotifier(5)
			n.Handle(context.Background(), inventoryEvent(t, "p1", tt.old, tt.cur, int64(i+2)))
			if tt.want {
				require.Len(t, rec.low, 1)
				assert.Equal(t, tt.cur, rec.low[0].Stock)
				assert.Equal(t, tt.old, rec.low[0].Previous)
				assert.Equal(t, 5, rec.low[0].Threshold)
			} else {
				assert.Empty(t, rec.low)
			}
		})
	}
}

func TestNotifier_UndecodableChangeIsDropped(t *testing.T) {
	n, rec := newTestNotifier(5)
	n.Handle(context.Background(), domain.ChangeEvent{ID: "O1", Table: domain.TableOrders, Type: domain.ChangeUpdate, Version: 2, New: []byte(`{"approval_status":`)})
	assert.Empty(t, rec.changed)
}

func TestNotifier_RunConsumesStoreChanges(t *testing.T) {
	store := memory.NewStore()
	store.SetClock(func() time.Time { return testNow })
	bus := NewBus()
	dash := NewAdminDashboard()
	dash.Attach(bus)
	dedup := NewCacheDeduplicator(infracache.NewMemoryCache(time.Minute, time.Minute), "test", time.Minute)
	n := New(store, bus, dedup, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.Eventually(t, func() bool { return store.Subscribers() > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, store.PutOrder(context.Background(), domain.NewOrder("O1", "user-1", nil, testNow)))
	require.NoError(t, store.PutInventory(context.Background(), "p1", 10, 0))
	require.NoError(t, store.PutInventory(context.Background(), "p1", 2, 8))

	require.Eventually(t, func() bool {
		snap := dash.Snapshot()
		return len(snap.Orders) == 1 && len(snap.Alerts) == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("notifier did not stop")
	}
}
