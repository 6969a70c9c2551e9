package domain

import (
	"context"
	"time"
)

// InventoryRecord holds the available and sold counters of one product.
type InventoryRecord struct {
	ProductID string    `json:"product_id"`
	Stock     int       `json:"stock"`
	Sold      int       `json:"sold"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StockLine is a requested quantity of one product.
type StockLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// InventoryUpdate is a compare-and-swap write. It only applies when the
// stored counters still equal the expected ones.
type InventoryUpdate struct {
	ProductID     string
	ExpectedStock int
	ExpectedSold  int
	Stock         int
	Sold          int
}

type InventoryRepository interface {
	GetMany(ctx context.Context, productIDs []string) (map[string]InventoryRecord, error)
	// CompareAndSwap applies all updates or none. A failed predicate returns
	// ErrConcurrencyConflict.
	CompareAndSwap(ctx context.Context, updates []InventoryUpdate) error
	ListLowStock(ctx context.Context, threshold, limit int) ([]InventoryRecord, error)
}
