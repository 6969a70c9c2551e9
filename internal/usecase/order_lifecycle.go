package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-fulfillment/internal/domain"
	"storefront-fulfillment/pkg/logger"
	"storefront-fulfillment/pkg/metrics"
)

const maxConflictRetries = 3

// OrderLifecycle moves single orders through approval and delivery.
type OrderLifecycle struct {
	orderRepo domain.OrderRepository
	ledger    *InventoryLedger
	txManager domain.TransactionManager
	now       func() time.Time
}

func NewOrderLifecycle(orderRepo domain.OrderRepository, ledger *InventoryLedger, txManager domain.TransactionManager) *OrderLifecycle {
	return &OrderLifecycle{
		orderRepo: orderRepo,
		ledger:    ledger,
		txManager: txManager,
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (u *OrderLifecycle) SetClock(now func() time.Time) {
	u.now = now
}

// Approve commits the order's items to inventory and confirms it.
func (u *OrderLifecycle) Approve(ctx context.Context, orderID string) (*domain.Order, error) {
	return u.apply(ctx, orderID, change{
		transition: domain.Transition{Kind: domain.OpApprove},
		effect: func(txCtx context.Context, order *domain.Order) error {
			return u.ledger.Commit(txCtx, order.Lines())
		},
	})
}

// Cancel rejects a pending order. Nothing was committed, so nothing is restored.
func (u *OrderLifecycle) Cancel(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	return u.apply(ctx, orderID, change{
		transition: domain.Transition{Kind: domain.OpCancel},
		reason:     reason,
	})
}

// AdvanceDelivery moves delivery one step forward, or to cancelled.
func (u *OrderLifecycle) AdvanceDelivery(ctx context.Context, orderID string, target domain.DeliveryStatus) (*domain.Order, error) {
	return u.apply(ctx, orderID, change{
		transition: domain.Transition{Kind: domain.OpAdvanceDelivery, Delivery: target},
	})
}

// PropagateCancellation cancels delivery of an order whose approval was cancelled.
func (u *OrderLifecycle) PropagateCancellation(ctx context.Context, orderID string) (*domain.Order, error) {
	return u.apply(ctx, orderID, change{
		transition: domain.Transition{Kind: domain.OpPropagateCancel},
		reason:     "approval cancelled",
	})
}

// ForceDelivery sets delivery to target outside the normal progression.
func (u *OrderLifecycle) ForceDelivery(ctx context.Context, orderID string, target domain.DeliveryStatus, reason string) (*domain.Order, error) {
	return u.apply(ctx, orderID, change{
		transition: domain.Transition{Kind: domain.OpForceDelivery, Delivery: target, Reason: reason},
		reason:     reason,
	})
}

func (u *OrderLifecycle) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := u.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := ensureOwner(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (u *OrderLifecycle) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, int64, error) {
	return u.orderRepo.Query(ctx, filter)
}

// ListMyOrders lists the orders of the caller.
func (u *OrderLifecycle) ListMyOrders(ctx context.Context, page, limit int) ([]*domain.Order, int64, error) {
	user, ok := domain.UserFromContext(ctx)
	if !ok {
		return nil, 0, fmt.Errorf("%w: no authenticated user", domain.ErrValidation)
	}
	return u.orderRepo.Query(ctx, domain.OrderFilter{UserID: user.ID, Page: page, Limit: limit})
}

func (u *OrderLifecycle) GetOrderHistory(ctx context.Context, orderID string) ([]domain.OrderHistory, error) {
	if _, err := u.orderRepo.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	return u.orderRepo.GetOrderHistory(ctx, orderID)
}

// change is one transition request run by apply.
type change struct {
	transition domain.Transition
	reason     string
	// guard runs on the fresh order before the transition.
	guard func(ctx context.Context, order *domain.Order) error
	// effect runs inside the transaction after the transition was accepted.
	effect func(ctx context.Context, order *domain.Order) error
}

// apply loads the order, runs the transition, its side effect, the versioned
// write and the history entry in one transaction. A concurrency conflict
// restarts the whole unit on a fresh read.
func (u *OrderLifecycle) apply(ctx context.Context, orderID string, c change) (*domain.Order, error) {
	actor := domain.ActorID(ctx)
	op := string(c.transition.Kind)

	var (
		updated *domain.Order
		before  domain.FulfillmentState
		err     error
	)
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		updated, before, err = u.applyOnce(ctx, orderID, actor, c)
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			break
		}
	}

	metrics.ObserveTransition(op, err)
	logger.Transition(ctx, orderID, op, actor, err)
	if err == nil && c.transition.Kind == domain.OpForceDelivery {
		logger.Override(ctx, orderID, string(before.Delivery()), string(c.transition.Delivery), c.reason, actor)
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (u *OrderLifecycle) applyOnce(ctx context.Context, orderID, actor string, c change) (*domain.Order, domain.FulfillmentState, error) {
	var (
		updated *domain.Order
		before  domain.FulfillmentState
	)
	err := u.txManager.Do(ctx, func(txCtx context.Context) error {
		order, err := u.orderRepo.GetByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if c.guard != nil {
			if err := c.guard(txCtx, order); err != nil {
				return err
			}
		}

		before = order.State()
		if err := order.Apply(c.transition, u.now()); err != nil {
			return err
		}
		if c.effect != nil {
			if err := c.effect(txCtx, order); err != nil {
				return err
			}
		}
		if err := u.orderRepo.Update(txCtx, order); err != nil {
			return err
		}

		history := historyEntry(order, before, c, actor)
		if err := u.orderRepo.CreateOrderHistory(txCtx, &history); err != nil {
			return fmt.Errorf("failed to record history: %w", err)
		}

		updated = order
		return nil
	})
	return updated, before, err
}

func historyEntry(order *domain.Order, before domain.FulfillmentState, c change, actor string) domain.OrderHistory {
	after := order.State()
	var field, prev, next string

	switch c.transition.Kind {
	case domain.OpApprove, domain.OpCancel:
		field, prev, next = "approval_status", string(before.Approval()), string(after.Approval())
	case domain.OpForceDelivery:
		field, prev, next = "delivery_status(override)", string(before.Delivery()), string(after.Delivery())
	case domain.OpAdvanceDelivery, domain.OpPropagateCancel:
		field, prev, next = "delivery_status", string(before.Delivery()), string(after.Delivery())
	default:
		field, prev, next = "refund_status", refundLabel(before.Refund()), refundLabel(after.Refund())
	}

	reason := strings.TrimSpace(c.reason)
	if reason == "" {
		reason = fmt.Sprintf("System: %s changed from %s to %s", field, prev, next)
	}

	return domain.OrderHistory{
		OrderID:        order.ID,
		Field:          field,
		PreviousStatus: &prev,
		NewStatus:      next,
		Reason:         &reason,
		CreatedBy:      &actor,
	}
}

func refundLabel(r *domain.RefundCase) string {
	if r == nil {
		return "none"
	}
	return string(r.Status)
}

// ensureOwner hides other customers' orders. Admins and the system actor see all.
func ensureOwner(ctx context.Context, order *domain.Order) error {
	user, ok := domain.UserFromContext(ctx)
	if !ok || user.IsAdmin() {
		return nil
	}
	if order.UserID != user.ID {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, order.ID)
	}
	return nil
}
