package usecase

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"storefront-fulfillment/internal/domain"
	"storefront-fulfillment/internal/repository/memory"
	"storefront-fulfillment/pkg/storage"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store     *memory.Store
	blobs     *storage.MemoryStorage
	ledger    *InventoryLedger
	lifecycle *OrderLifecycle
	refunds   *RefundUsecase
	batch     *BatchUsecase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	store.SetClock(func() time.Time { return testNow })
	blobs := storage.NewMemoryStorage()
	blobs.SetClock(func() time.Time { return testNow })

	ledger := NewInventoryLedger(store, 3)
	ledger.backoff = 0
	lifecycle := NewOrderLifecycle(store, ledger, store)
	lifecycle.SetClock(func() time.Time { return testNow })
	refunds := NewRefundUsecase(lifecycle, store, blobs, time.Hour)
	refunds.SetClock(func() time.Time { return testNow })

	return &fixture{
		store:     store,
		blobs:     blobs,
		ledger:    ledger,
		lifecycle: lifecycle,
		refunds:   refunds,
		batch:     NewBatchUsecase(lifecycle, store, 4),
	}
}

func item(productID string, qty int) domain.OrderItem {
	return domain.OrderItem{ProductID: productID, Name: "Item " + productID, Quantity: qty, UnitPrice: 10}
}

func (f *fixture) seedStock(t *testing.T, productID string, stock int) {
	t.Helper()
	require.NoError(t, f.store.PutInventory(context.Background(), productID, stock, 0))
}

func (f *fixture) seedOrder(t *testing.T, id, userID string, items ...domain.OrderItem) {
	t.Helper()
	require.NoError(t, f.store.PutOrder(context.Background(), domain.NewOrder(id, userID, items, testNow)))
}

func (f *fixture) stock(t *testing.T, productID string) domain.InventoryRecord {
	t.Helper()
	recs, err := f.store.GetMany(context.Background(), []string{productID})
	require.NoError(t, err)
	rec, ok := recs[productID]
	require.True(t, ok, "no inventory for %s", productID)
	return rec
}

func (f *fixture) order(t *testing.T, id string) *domain.Order {
	t.Helper()
	o, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

// deliver approves the order and walks it to delivered.
func (f *fixture) deliver(t *testing.T, id string) {
	t.Helper()
	ctx := adminCtx()
	_, err := f.lifecycle.Approve(ctx, id)
	require.NoError(t, err)
	for _, s := range []domain.DeliveryStatus{domain.DeliveryProcessing, domain.DeliveryShipping, domain.DeliveryDelivered} {
		_, err := f.lifecycle.AdvanceDelivery(ctx, id, s)
		require.NoError(t, err)
	}
}

func adminCtx() context.Context {
	return domain.WithActor(context.Background(), &domain.User{ID: "admin-1", Role: domain.RoleAdmin})
}

func customerCtx(userID string) context.Context {
	return domain.WithActor(context.Background(), &domain.User{ID: userID, Role: domain.RoleCustomer})
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
