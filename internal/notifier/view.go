package notifier

import (
	"fmt"
	"sort"
	"sync"

	"storefront-fulfillment/internal/domain"

	"github.com/goccy/go-json"
)

// OrderView is an observer's canonical copy of the orders it shows. Events
// are merged into it by id and never replace it wholesale.
type OrderView struct {
	mu      sync.RWMutex
	records map[string]domain.OrderRecord
}

func NewOrderView() *OrderView {
	return &OrderView{records: make(map[string]domain.OrderRecord)}
}

type rowKey struct {
	ID      string `json:"id"`
	Version *int64 `json:"version"`
}

// Apply merges a possibly partial row over the stored record, inserting it
// when absent. Rows older than the stored version are ignored.
func (v *OrderView) Apply(row []byte) (domain.OrderRecord, bool, error) {
	var key rowKey
	if err := json.Unmarshal(row, &key); err != nil {
		return domain.OrderRecord{}, false, fmt.Errorf("%w: decode order row: %v", domain.ErrValidation, err)
	}
	if key.ID == "" {
		return domain.OrderRecord{}, false, fmt.Errorf("%w: order row without id", domain.ErrValidation)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	existing, ok := v.records[key.ID]
	if ok && key.Version != nil && *key.Version <= existing.Version {
		return existing, false, nil
	}

	merged := cloneRecord(existing)
	if err := json.Unmarshal(row, &merged); err != nil {
		return existing, false, fmt.Errorf("%w: merge order row: %v", domain.ErrValidation, err)
	}
	v.records[key.ID] = merged
	return merged, true, nil
}

// Reconcile merges a full refetch, keeping any record newer than the fetched one.
func (v *OrderView) Reconcile(records []domain.OrderRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, rec := range records {
		if existing, ok := v.records[rec.ID]; ok && existing.Version > rec.Version {
			continue
		}
		v.records[rec.ID] = cloneRecord(rec)
	}
}

func (v *OrderView) Get(id string) (domain.OrderRecord, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.records[id]
	return cloneRecord(rec), ok
}

func (v *OrderView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.records)
}

// List returns all records, newest first.
func (v *OrderView) List() []domain.OrderRecord {
	v.mu.RLock()
	out := make([]domain.OrderRecord, 0, len(v.records))
	for _, rec := range v.records {
		out = append(out, cloneRecord(rec))
	}
	v.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// cloneRecord copies every pointer and slice so a merge never writes into
// a record another reader holds.
func cloneRecord(rec domain.OrderRecord) domain.OrderRecord {
	c := rec
	c.Items = append(domain.OrderItems(nil), rec.Items...)
	if rec.RefundStatus != nil {
		s := *rec.RefundStatus
		c.RefundStatus = &s
	}
	if rec.RefundReason != nil {
		s := *rec.RefundReason
		c.RefundReason = &s
	}
	if rec.RefundEvidenceURL != nil {
		s := *rec.RefundEvidenceURL
		c.RefundEvidenceURL = &s
	}
	if rec.RefundRequestedAt != nil {
		t := *rec.RefundRequestedAt
		c.RefundRequestedAt = &t
	}
	if rec.RefundResolvedAt != nil {
		t := *rec.RefundResolvedAt
		c.RefundResolvedAt = &t
	}
	return c
}
