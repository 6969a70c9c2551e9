package memory

import (
	"context"
	"fmt"
	"sort"

	"storefront-fulfillment/internal/domain"
)

// PutInventory sets the counters of a product, as a restock would.
func (s *Store) PutInventory(ctx context.Context, productID string, stock, sold int) error {
	return s.write(ctx, func() ([]domain.ChangeEvent, error) {
		old, exists := s.inventory[productID]
		rec := domain.InventoryRecord{
			ProductID: productID,
			Stock:     stock,
			Sold:      sold,
			Version:   old.Version + 1,
			UpdatedAt: s.now(),
		}
		s.inventory[productID] = rec
		if exists {
			return []domain.ChangeEvent{s.changeEvent(domain.TableInventory, productID, domain.ChangeUpdate, rec.Version, old, rec)}, nil
		}
		return []domain.ChangeEvent{s.changeEvent(domain.TableInventory, productID, domain.ChangeInsert, rec.Version, nil, rec)}, nil
	})
}

func (s *Store) GetMany(ctx context.Context, productIDs []string) (map[string]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("get_inventory"); err != nil {
		return nil, err
	}
	out := make(map[string]domain.InventoryRecord, len(productIDs))
	for _, id := range productIDs {
		if rec, ok := s.inventory[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, updates []domain.InventoryUpdate) error {
	return s.write(ctx, func() ([]domain.ChangeEvent, error) {
		if err := s.failure("cas_inventory"); err != nil {
			return nil, err
		}
		for _, u := range updates {
			cur, ok := s.inventory[u.ProductID]
			if !ok {
				return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, u.ProductID)
			}
			if cur.Stock != u.ExpectedStock || cur.Sold != u.ExpectedSold {
				return nil, fmt.Errorf("%w: product %s changed since read", domain.ErrConcurrencyConflict, u.ProductID)
			}
		}

		events := make([]domain.ChangeEvent, 0, len(updates))
		for _, u := range updates {
			old := s.inventory[u.ProductID]
			rec := old
			rec.Stock = u.Stock
			rec.Sold = u.Sold
			rec.Version = old.Version + 1
			rec.UpdatedAt = s.now()
			s.inventory[u.ProductID] = rec
			events = append(events, s.changeEvent(domain.TableInventory, rec.ProductID, domain.ChangeUpdate, rec.Version, old, rec))
		}
		return events, nil
	})
}

func (s *Store) ListLowStock(ctx context.Context, threshold, limit int) ([]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("get_inventory"); err != nil {
		return nil, err
	}
	var out []domain.InventoryRecord
	for _, rec := range s.inventory {
		if rec.Stock <= threshold {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stock == out[j].Stock {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].Stock < out[j].Stock
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
