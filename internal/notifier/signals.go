package notifier

import (
	"encoding/json"
	"time"

	"storefront-fulfillment/internal/domain"
)

const (
	KindOrderChanged        = "order_changed"
	KindNewOrder            = "new_order"
	KindRefundStatusChanged = "refund_status_changed"
	KindLowStock            = "low_stock"
)

// OrderChanged carries the raw, possibly partial, row of every order event.
type OrderChanged struct {
	OrderID string          `json:"orderId"`
	UserID  string          `json:"userId,omitempty"`
	Version int64           `json:"version"`
	Row     json.RawMessage `json:"row"`
}

func (OrderChanged) Kind() string { return KindOrderChanged }

// NewOrder is raised for inserted orders, for admin observers.
type NewOrder struct {
	Order domain.OrderRecord `json:"order"`
}

func (NewOrder) Kind() string { return KindNewOrder }

// RefundStatusChanged is raised when a refund case is resolved, for the owner.
type RefundStatusChanged struct {
	OrderID  string              `json:"orderId"`
	UserID   string              `json:"userId"`
	Previous domain.RefundStatus `json:"previous"`
	Status   domain.RefundStatus `json:"status"`
	At       time.Time           `json:"at"`
}

func (RefundStatusChanged) Kind() string { return KindRefundStatusChanged }

// LowStock is raised when a product's stock drops to or below the threshold.
type LowStock struct {
	ProductID string    `json:"productId"`
	Stock     int       `json:"stock"`
	Previous  int       `json:"previous"`
	Threshold int       `json:"threshold"`
	At        time.Time `json:"at"`
}

func (LowStock) Kind() string { return KindLowStock }
