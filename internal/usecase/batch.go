package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront-fulfillment/internal/domain"
	"storefront-fulfillment/pkg/logger"
	"storefront-fulfillment/pkg/metrics"

	"golang.org/x/sync/errgroup"
)

const batchPageSize = 200

type SkippedOrder struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
	Kind    string `json:"kind"`
}

type ApproveBatchResult struct {
	Approved    int            `json:"approved"`
	Skipped     int            `json:"skipped"`
	ApprovedIDs []string       `json:"approvedIds"`
	SkipReasons []SkippedOrder `json:"skipReasons"`
	Aborted     bool           `json:"aborted"`
	AbortReason string         `json:"abortReason,omitempty"`
}

// AdvanceBatchResult reports both sub-passes of AutoAdvanceDelivery.
type AdvanceBatchResult struct {
	Updated     int            `json:"updated"`
	Skipped     int            `json:"skipped"`
	Advanced    []string       `json:"advanced"`
	Propagated  []string       `json:"propagated"`
	SkipReasons []SkippedOrder `json:"skipReasons"`
	Aborted     bool           `json:"aborted"`
	AbortReason string         `json:"abortReason,omitempty"`
}

type OverrideBatchResult struct {
	Updated     int            `json:"updated"`
	Skipped     int            `json:"skipped"`
	UpdatedIDs  []string       `json:"updatedIds"`
	SkipReasons []SkippedOrder `json:"skipReasons"`
	Aborted     bool           `json:"aborted"`
	AbortReason string         `json:"abortReason,omitempty"`
}

// BatchUsecase applies lifecycle operations to many orders, isolating
// failures per order. Only a record store failure stops a pass early.
type BatchUsecase struct {
	lifecycle   *OrderLifecycle
	orderRepo   domain.OrderRepository
	concurrency int
}

func NewBatchUsecase(lifecycle *OrderLifecycle, orderRepo domain.OrderRepository, concurrency int) *BatchUsecase {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchUsecase{
		lifecycle:   lifecycle,
		orderRepo:   orderRepo,
		concurrency: concurrency,
	}
}

// AutoApprove runs approve over every pending order.
func (u *BatchUsecase) AutoApprove(ctx context.Context) (ApproveBatchResult, error) {
	start := time.Now()
	var result ApproveBatchResult

	ids, err := u.collect(ctx, domain.OrderFilter{Approval: []domain.ApprovalStatus{domain.ApprovalPending}})
	if err != nil {
		result.Aborted, result.AbortReason = true, err.Error()
		logger.BatchSummary("auto_approve", 0, 0, true, time.Since(start))
		return result, err
	}

	out := u.run(ctx, "auto_approve", ids, func(ctx context.Context, id string) error {
		_, err := u.lifecycle.Approve(ctx, id)
		return err
	})

	result.ApprovedIDs = out.done
	result.SkipReasons = out.skipped
	result.Approved = len(out.done)
	result.Skipped = len(out.skipped)
	if out.abort != nil {
		result.Aborted, result.AbortReason = true, out.abort.Error()
	}
	logger.BatchSummary("auto_approve", result.Approved, result.Skipped, result.Aborted, time.Since(start))
	return result, out.abort
}

// AutoAdvanceDelivery advances every confirmed, undelivered order one step,
// then propagates approval cancellations to delivery.
func (u *BatchUsecase) AutoAdvanceDelivery(ctx context.Context) (AdvanceBatchResult, error) {
	start := time.Now()
	var result AdvanceBatchResult

	finish := func(err error) (AdvanceBatchResult, error) {
		result.Updated = len(result.Advanced) + len(result.Propagated)
		result.Skipped = len(result.SkipReasons)
		if err != nil {
			result.Aborted, result.AbortReason = true, err.Error()
		}
		logger.BatchSummary("auto_advance", result.Updated, result.Skipped, result.Aborted, time.Since(start))
		return result, err
	}

	forward, err := u.collect(ctx, domain.OrderFilter{
		Approval: []domain.ApprovalStatus{domain.ApprovalConfirmed},
		Delivery: []domain.DeliveryStatus{domain.DeliveryPending, domain.DeliveryProcessing, domain.DeliveryShipping},
	})
	if err != nil {
		return finish(err)
	}
	out := u.run(ctx, "auto_advance", forward, func(ctx context.Context, id string) error {
		order, err := u.orderRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		next, ok := domain.NextDelivery(order.DeliveryStatus())
		if !ok {
			return &domain.TransitionError{Field: "delivery_status", From: string(order.DeliveryStatus()), To: "next"}
		}
		_, err = u.lifecycle.AdvanceDelivery(ctx, id, next)
		return err
	})
	result.Advanced = out.done
	result.SkipReasons = append(result.SkipReasons, out.skipped...)
	if out.abort != nil {
		return finish(out.abort)
	}

	cancelled, err := u.collect(ctx, domain.OrderFilter{
		Approval:        []domain.ApprovalStatus{domain.ApprovalCancelled},
		ExcludeDelivery: []domain.DeliveryStatus{domain.DeliveryCancelled, domain.DeliveryDelivered},
	})
	if err != nil {
		return finish(err)
	}
	out = u.run(ctx, "propagate_cancel", cancelled, func(ctx context.Context, id string) error {
		_, err := u.lifecycle.PropagateCancellation(ctx, id)
		return err
	})
	result.Propagated = out.done
	result.SkipReasons = append(result.SkipReasons, out.skipped...)
	sortSkips(result.SkipReasons)
	return finish(out.abort)
}

// BulkAdvanceDelivery forces the selected orders to target regardless of
// their current delivery status. Every change is an audited override.
func (u *BatchUsecase) BulkAdvanceDelivery(ctx context.Context, orderIDs []string, target domain.DeliveryStatus, reason string) (OverrideBatchResult, error) {
	start := time.Now()
	var result OverrideBatchResult

	if !target.Valid() {
		return result, fmt.Errorf("%w: unknown delivery status '%s'", domain.ErrValidation, target)
	}
	if strings.TrimSpace(reason) == "" {
		return result, fmt.Errorf("%w: override reason is required", domain.ErrValidation)
	}

	ids := dedupe(orderIDs)
	out := u.run(ctx, "delivery_override", ids, func(ctx context.Context, id string) error {
		_, err := u.lifecycle.ForceDelivery(ctx, id, target, reason)
		return err
	})

	result.UpdatedIDs = out.done
	result.SkipReasons = out.skipped
	result.Updated = len(out.done)
	result.Skipped = len(out.skipped)
	if out.abort != nil {
		result.Aborted, result.AbortReason = true, out.abort.Error()
	}
	logger.BatchSummary("delivery_override", result.Updated, result.Skipped, result.Aborted, time.Since(start))
	return result, out.abort
}

type passOutcome struct {
	done    []string
	skipped []SkippedOrder
	abort   error
}

// run fans fn out over ids with bounded concurrency. A storage error stops
// new work from starting; orders already running finish.
func (u *BatchUsecase) run(ctx context.Context, name string, ids []string, fn func(ctx context.Context, id string) error) passOutcome {
	var (
		mu  sync.Mutex
		out passOutcome
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)

	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := fn(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				out.done = append(out.done, id)
				metrics.BatchOrders.WithLabelValues(name, "updated").Inc()
			case errors.Is(err, domain.ErrStorage):
				metrics.BatchOrders.WithLabelValues(name, "aborted").Inc()
				return fmt.Errorf("order %s: %w", id, err)
			default:
				out.skipped = append(out.skipped, SkippedOrder{OrderID: id, Reason: err.Error(), Kind: domain.ErrorKind(err)})
				metrics.BatchOrders.WithLabelValues(name, "skipped").Inc()
			}
			return nil
		})
	}

	out.abort = g.Wait()
	if out.abort == nil && ctx.Err() != nil {
		out.abort = ctx.Err()
	}
	sort.Strings(out.done)
	sortSkips(out.skipped)
	return out
}

// collect pages through the matching order ids before any of them change.
func (u *BatchUsecase) collect(ctx context.Context, filter domain.OrderFilter) ([]string, error) {
	filter.Sort = domain.SortByID
	filter.Limit = batchPageSize
	filter.Page = 0

	var ids []string
	for {
		page, _, err := u.orderRepo.Query(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, o := range page {
			ids = append(ids, o.ID)
		}
		if len(page) < batchPageSize {
			return ids, nil
		}
		filter.AfterID = page[len(page)-1].ID
	}
}

func sortSkips(skips []SkippedOrder) {
	sort.Slice(skips, func(i, j int) bool { return skips[i].OrderID < skips[j].OrderID })
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
