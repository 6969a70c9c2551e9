package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-fulfillment/internal/domain"
	"storefront-fulfillment/pkg/metrics"
)

const defaultLedgerBackoff = 20 * time.Millisecond

// Feasibility is the result of a stock check. FirstFailing is set when OK is false.
type Feasibility struct {
	OK           bool
	FirstFailing *domain.InsufficientStockError
}

// InventoryLedger owns the stock and sold counters. Commits are
// compare-and-swap writes retried on conflict.
type InventoryLedger struct {
	repo       domain.InventoryRepository
	maxRetries int
	backoff    time.Duration
}

func NewInventoryLedger(repo domain.InventoryRepository, maxRetries int) *InventoryLedger {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &InventoryLedger{
		repo:       repo,
		maxRetries: maxRetries,
		backoff:    defaultLedgerBackoff,
	}
}

// CheckFeasible reports whether every line fits the current stock.
func (l *InventoryLedger) CheckFeasible(ctx context.Context, lines []domain.StockLine) (Feasibility, error) {
	merged, err := mergeLines(lines)
	if err != nil {
		return Feasibility{}, err
	}
	records, err := l.repo.GetMany(ctx, productIDs(merged))
	if err != nil {
		return Feasibility{}, err
	}
	return evaluate(merged, records)
}

// Commit moves quantity from stock to sold for every line, all or nothing.
func (l *InventoryLedger) Commit(ctx context.Context, lines []domain.StockLine) error {
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}
	if len(merged) == 0 {
		return nil
	}

	for attempt := 1; ; attempt++ {
		records, err := l.repo.GetMany(ctx, productIDs(merged))
		if err != nil {
			return err
		}
		f, err := evaluate(merged, records)
		if err != nil {
			return err
		}
		if !f.OK {
			return f.FirstFailing
		}

		updates := make([]domain.InventoryUpdate, 0, len(merged))
		for _, line := range merged {
			rec := records[line.ProductID]
			updates = append(updates, domain.InventoryUpdate{
				ProductID:     line.ProductID,
				ExpectedStock: rec.Stock,
				ExpectedSold:  rec.Sold,
				Stock:         rec.Stock - line.Quantity,
				Sold:          rec.Sold + line.Quantity,
			})
		}

		err = l.repo.CompareAndSwap(ctx, updates)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) || attempt >= l.maxRetries {
			return err
		}

		metrics.LedgerRetries.Inc()
		select {
		case <-time.After(l.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// LowStock lists products at or below threshold, lowest first.
func (l *InventoryLedger) LowStock(ctx context.Context, threshold, limit int) ([]domain.InventoryRecord, error) {
	return l.repo.ListLowStock(ctx, threshold, limit)
}

// mergeLines sums quantities per product, keeping first-seen order.
func mergeLines(lines []domain.StockLine) ([]domain.StockLine, error) {
	index := make(map[string]int, len(lines))
	merged := make([]domain.StockLine, 0, len(lines))
	for _, line := range lines {
		if line.ProductID == "" {
			return nil, fmt.Errorf("%w: stock line without product id", domain.ErrValidation)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for product %s must be positive", domain.ErrValidation, line.ProductID)
		}
		if i, ok := index[line.ProductID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}

func evaluate(merged []domain.StockLine, records map[string]domain.InventoryRecord) (Feasibility, error) {
	for _, line := range merged {
		rec, ok := records[line.ProductID]
		if !ok {
			return Feasibility{}, fmt.Errorf("%w: product %s has no inventory record", domain.ErrNotFound, line.ProductID)
		}
		if rec.Stock < line.Quantity {
			return Feasibility{FirstFailing: &domain.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: rec.Stock,
			}}, nil
		}
	}
	return Feasibility{OK: true}, nil
}

func productIDs(lines []domain.StockLine) []string {
	ids := make([]string, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}
	return ids
}
