package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"storefront-fulfillment/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprove_CommitsInventory(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "P1", 5)
	f.seedOrder(t, "A", "u1", item("P1", 3))

	order, err := f.lifecycle.Approve(adminCtx(), "A")
	require.NoError(t, err)

	assert.Equal(t, domain.ApprovalConfirmed, order.ApprovalStatus())
	assert.Equal(t, 2, f.stock(t, "P1").Stock)
	assert.Equal(t, 3, f.stock(t, "P1").Sold)
	assert.Equal(t, int64(2), f.order(t, "A").Version)
}

func TestApprove_InsufficientStockLeavesEverythingUntouched(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "P1", 20)
	f.seedStock(t, "P2", 4)
	f.seedOrder(t, "B", "u1", item("P1", 1), item("P2", 10))

	_, err := f.lifecycle.Approve(adminCtx(), "B")
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, domain.ApprovalPending, f.order(t, "B").ApprovalStatus())
	assert.Equal(t, 20, f.stock(t, "P1").Stock)
	assert.Equal(t, 4, f.stock(t, "P2").Stock)

	history, err := f.lifecycle.GetOrderHistory(adminCtx(), "B")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestApprove_SecondCallIsRejected(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "P1", 5)
	f.seedOrder(t, "A", "u1", item("P1", 1))

	_, err := f.lifecycle.Approve(adminCtx(), "A")
	require.NoError(t, err)

	_, err = f.lifecycle.Approve(adminCtx(), "A")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 4, f.stock(t, "P1").Stock)
	assert.Equal(t, 1, f.stock(t, "P1").Sold)
}

func TestApprove_UnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.lifecycle.Approve(adminCtx(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApprove_ConcurrentOrdersNeverOversell(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "P1", 5)
	for i := 0; i < 12; i++ {
		f.seedOrder(t, fmt.Sprintf("O%02d", i), "u1", item("P1", 1))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
		short    int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.lifecycle.Approve(adminCtx(), id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				approved++
			case assert.ErrorIs(t, err, domain.ErrInsufficientStock):
				short++
			}
		}(fmt.Sprintf("O%02d", i))
	}
	wg.Wait()

	assert.Equal(t, 5, approved)
	assert.Equal(t, 7, short)
	assert.Equal(t, 0, f.stock(t, "P1").Stock)
	assert.Equal(t, 5, f.stock(t, "P1").Sold)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "P1", 5)
	f.seedOrder(t, "A", "u1", item("P1", 2))
	f.seedOrder(t, "B", "u1", item("P1", 2))

	order, err := f.lifecycle.Cancel(adminCtx(), "A", "customer asked")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalCancelled, order.ApprovalStatus())
	assert.Equal(t, domain.DeliveryPending, order.DeliveryStatus())
	assert.Equal(t, 5, f.stock(t, "P1").Stock)

	_, err = f.lifecycle.Approve(adminCtx(), "B")
	require.NoError(t, err)
	_, err = f.lifecycle.Cancel(adminCtx(), "B", "")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.ApprovalConfirmed, f.order(t, "B").ApprovalStatus())
}

func TestAdvanceDelivery_FollowsTable(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "P1", 5)
	f.seedOrder(t, "D", "u1", item("P1", 1))
	_, err := f.lifecycle.Approve(adminCtx(), "D")
	require.NoError(t, err)

	order, err := f.lifecycle.AdvanceDelivery(adminCtx(), "D", domain.DeliveryProcessing)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryProcessing, order.DeliveryStatus())

	_, err = f.lifecycle.AdvanceDelivery(adminCtx(), "D", domain.DeliveryDelivered)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.DeliveryProcessing, f.order(t, "D").DeliveryStatus())

	_, err = f.lifecycle.AdvanceDelivery(adminCtx(), "D", domain.DeliveryPending)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.lifecycle.AdvanceDelivery(adminCtx(), "D", domain.DeliveryStatus("lost"))
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestAdvanceDelivery_FromFreshOrder(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "A", "u1", item("P1", 1))

	order, err := f.lifecycle.AdvanceDelivery(adminCtx(), "A", domain.DeliveryProcessing)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryProcessing, order.DeliveryStatus())
	assert.Equal(t, domain.ApprovalPending, order.ApprovalStatus())

	order, err = f.lifecycle.AdvanceDelivery(adminCtx(), "A", domain.DeliveryCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryCancelled, order.DeliveryStatus())
}

func TestAdvanceDelivery_TerminalStatesAreFinal(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "P1", 5)
	f.seedOrder(t, "A", "u1", item("P1", 1))
	f.deliver(t, "A")

	for _, target := range domain.DeliveryStatuses {
		_, err := f.lifecycle.AdvanceDelivery(adminCtx(), "A", target)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition, "target %s", target)
	}
	assert.Equal(t, domain.DeliveryDelivered, f.order(t, "A").DeliveryStatus())
}

func TestTransitions_WriteHistory(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "P1", 5)
	f.seedOrder(t, "A", "u1", item("P1", 1))

	_, err := f.lifecycle.Approve(adminCtx(), "A")
	require.NoError(t, err)
	_, err = f.lifecycle.AdvanceDelivery(adminCtx(), "A", domain.DeliveryProcessing)
	require.NoError(t, err)

	history, err := f.lifecycle.GetOrderHistory(adminCtx(), "A")
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, "approval_status", history[0].Field)
	assert.Equal(t, "pending", *history[0].PreviousStatus)
	assert.Equal(t, "confirmed", history[0].NewStatus)
	assert.Equal(t, "admin-1", *history[0].CreatedBy)

	assert.Equal(t, "delivery_status", history[1].Field)
	assert.Equal(t, "processing", history[1].NewStatus)
}

func TestTransitions_SystemActorWithoutUser(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "A", "u1", item("P1", 1))

	_, err := f.lifecycle.Cancel(context.Background(), "A", "")
	require.NoError(t, err)

	history, err := f.lifecycle.GetOrderHistory(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.SystemActor, *history[0].CreatedBy)
}

func TestTransitions_HistoryFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "P1", 5)
	f.seedOrder(t, "A", "u1", item("P1", 2))
	f.store.SetFailure("create_history", assert.AnError)

	_, err := f.lifecycle.Approve(adminCtx(), "A")
	require.ErrorIs(t, err, domain.ErrStorage)

	assert.Equal(t, domain.ApprovalPending, f.order(t, "A").ApprovalStatus())
	assert.Equal(t, 5, f.stock(t, "P1").Stock)
	assert.Equal(t, 0, f.stock(t, "P1").Sold)
}

func TestGetOrder_HidesOtherCustomersOrders(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "A", "u1", item("P1", 1))

	_, err := f.lifecycle.GetOrder(customerCtx("u1"), "A")
	require.NoError(t, err)

	_, err = f.lifecycle.GetOrder(customerCtx("u2"), "A")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.lifecycle.GetOrder(adminCtx(), "A")
	assert.NoError(t, err)
}

func TestListMyOrders(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "A", "u1", item("P1", 1))
	f.seedOrder(t, "B", "u2", item("P1", 1))
	f.seedOrder(t, "C", "u1", item("P1", 1))

	orders, total, err := f.lifecycle.ListMyOrders(customerCtx("u1"), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	for _, o := range orders {
		assert.Equal(t, "u1", o.UserID)
	}

	_, _, err = f.lifecycle.ListMyOrders(context.Background(), 1, 10)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
