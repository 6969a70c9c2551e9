package memory

import (
	"context"
	"fmt"
	"sort"

	"storefront-fulfillment/internal/domain"
)

// PutOrder inserts or replaces an order as an external writer would.
func (s *Store) PutOrder(ctx context.Context, order *domain.Order) error {
	return s.write(ctx, func() ([]domain.ChangeEvent, error) {
		rec := order.Record()
		old, exists := s.orders[rec.ID]
		s.orders[rec.ID] = rec
		if exists {
			return []domain.ChangeEvent{s.changeEvent(domain.TableOrders, rec.ID, domain.ChangeUpdate, rec.Version, old, rec)}, nil
		}
		return []domain.ChangeEvent{s.changeEvent(domain.TableOrders, rec.ID, domain.ChangeInsert, rec.Version, nil, rec)}, nil
	})
}

func (s *Store) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("get_order"); err != nil {
		return nil, err
	}
	rec, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	return domain.OrderFromRecord(rec)
}

func (s *Store) Update(ctx context.Context, order *domain.Order) error {
	return s.write(ctx, func() ([]domain.ChangeEvent, error) {
		if err := s.failure("update_order"); err != nil {
			return nil, err
		}
		old, ok := s.orders[order.ID]
		if !ok {
			return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, order.ID)
		}
		if old.Version != order.Version {
			return nil, fmt.Errorf("%w: order %s is at version %d, expected %d", domain.ErrConcurrencyConflict, order.ID, old.Version, order.Version)
		}

		rec := order.Record()
		rec.UserID = old.UserID
		rec.Items = old.Items
		rec.TotalAmount = old.TotalAmount
		rec.CreatedAt = old.CreatedAt
		rec.Version = old.Version + 1
		s.orders[order.ID] = rec
		order.Version = rec.Version

		return []domain.ChangeEvent{s.changeEvent(domain.TableOrders, rec.ID, domain.ChangeUpdate, rec.Version, old, rec)}, nil
	})
}

func (s *Store) Query(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("query_orders"); err != nil {
		return nil, 0, err
	}

	var matched []domain.OrderRecord
	for _, rec := range s.orders {
		if matches(rec, filter) {
			matched = append(matched, rec)
		}
	}

	if filter.Sort == domain.SortByID {
		sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	} else {
		sort.Slice(matched, func(i, j int) bool {
			if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
				return matched[i].ID > matched[j].ID
			}
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		})
	}

	total := int64(len(matched))
	if filter.Limit > 0 {
		offset := 0
		if filter.Page > 1 {
			offset = (filter.Page - 1) * filter.Limit
		}
		if offset >= len(matched) {
			matched = nil
		} else {
			end := offset + filter.Limit
			if end > len(matched) {
				end = len(matched)
			}
			matched = matched[offset:end]
		}
	}

	orders := make([]*domain.Order, 0, len(matched))
	for _, rec := range matched {
		o, err := domain.OrderFromRecord(rec)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, nil
}

func matches(rec domain.OrderRecord, f domain.OrderFilter) bool {
	if f.UserID != "" && rec.UserID != f.UserID {
		return false
	}
	if len(f.Approval) > 0 && !contains(f.Approval, rec.ApprovalStatus) {
		return false
	}
	if len(f.Delivery) > 0 && !contains(f.Delivery, rec.DeliveryStatus) {
		return false
	}
	if len(f.ExcludeDelivery) > 0 && contains(f.ExcludeDelivery, rec.DeliveryStatus) {
		return false
	}
	if f.RefundStatus != "" && (rec.RefundStatus == nil || *rec.RefundStatus != f.RefundStatus) {
		return false
	}
	if f.CreatedFrom != nil && rec.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && rec.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	if f.Sort == domain.SortByID && f.AfterID != "" && rec.ID <= f.AfterID {
		return false
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func (s *Store) EvidenceURLs(ctx context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("query_orders"); err != nil {
		return nil, err
	}
	urls := make(map[string]struct{})
	for _, rec := range s.orders {
		if rec.RefundEvidenceURL != nil && *rec.RefundEvidenceURL != "" {
			urls[*rec.RefundEvidenceURL] = struct{}{}
		}
	}
	return urls, nil
}

func (s *Store) CreateOrderHistory(ctx context.Context, history *domain.OrderHistory) error {
	return s.write(ctx, func() ([]domain.ChangeEvent, error) {
		if err := s.failure("create_history"); err != nil {
			return nil, err
		}
		if history.ID == "" {
			history.ID = newID()
		}
		if history.CreatedAt.IsZero() {
			history.CreatedAt = s.now()
		}
		s.history = append(s.history, *history)
		return nil, nil
	})
}

func (s *Store) GetOrderHistory(ctx context.Context, orderID string) ([]domain.OrderHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.OrderHistory
	for _, h := range s.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}
