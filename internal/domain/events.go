package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
)

// ChangeEvent is one committed record change. Old is empty for inserts.
type ChangeEvent struct {
	ID         string          `json:"id"`
	Table      string          `json:"table"`
	Type       ChangeType      `json:"type"`
	Version    int64           `json:"version"`
	Old        json.RawMessage `json:"old,omitempty"`
	New        json.RawMessage `json:"new"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// DedupKey identifies a change across redeliveries.
func (e ChangeEvent) DedupKey() string {
	return fmt.Sprintf("%s:%s:%d", e.Table, e.ID, e.Version)
}

// DecodeOrders returns the old and new order rows. old is nil for inserts.
func (e ChangeEvent) DecodeOrders() (old, cur *OrderRecord, err error) {
	cur = &OrderRecord{}
	if err := json.Unmarshal(e.New, cur); err != nil {
		return nil, nil, fmt.Errorf("%w: decode new order row: %v", ErrValidation, err)
	}
	if len(e.Old) > 0 && string(e.Old) != "null" {
		old = &OrderRecord{}
		if err := json.Unmarshal(e.Old, old); err != nil {
			return nil, nil, fmt.Errorf("%w: decode old order row: %v", ErrValidation, err)
		}
	}
	return old, cur, nil
}

// DecodeInventory returns the old and new inventory rows.
func (e ChangeEvent) DecodeInventory() (old, cur *InventoryRecord, err error) {
	cur = &InventoryRecord{}
	if err := json.Unmarshal(e.New, cur); err != nil {
		return nil, nil, fmt.Errorf("%w: decode new inventory row: %v", ErrValidation, err)
	}
	if len(e.Old) > 0 && string(e.Old) != "null" {
		old = &InventoryRecord{}
		if err := json.Unmarshal(e.Old, old); err != nil {
			return nil, nil, fmt.Errorf("%w: decode old inventory row: %v", ErrValidation, err)
		}
	}
	return old, cur, nil
}

type ChangeFilter struct {
	Tables []string
}

func (f ChangeFilter) Match(table string) bool {
	if len(f.Tables) == 0 {
		return true
	}
	for _, t := range f.Tables {
		if t == table {
			return true
		}
	}
	return false
}

// ChangeStream delivers committed changes at least once. The channel is
// closed when ctx is done.
type ChangeStream interface {
	Subscribe(ctx context.Context, filter ChangeFilter) (<-chan ChangeEvent, error)
}
