package domain

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type OrderSort string

const (
	SortNewest OrderSort = "newest"
	SortByID   OrderSort = "id"
)

type OrderFilter struct {
	Page            int
	Limit           int
	UserID          string
	Approval        []ApprovalStatus
	Delivery        []DeliveryStatus
	ExcludeDelivery []DeliveryStatus
	RefundStatus    RefundStatus
	CreatedFrom     *time.Time
	CreatedTo       *time.Time
	// AfterID is a keyset cursor, only honoured with SortByID.
	AfterID string
	Sort    OrderSort
}

// --- Order Entities ---

type OrderItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Color     string  `json:"color,omitempty"`
	Size      string  `json:"size,omitempty"`
	Image     string  `json:"image,omitempty"`
	Reviewed  bool    `json:"reviewed"`
}

// OrderItems is stored as a JSONB column.
type OrderItems []OrderItem

func (i OrderItems) Value() (driver.Value, error) {
	if i == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(i)
}

func (i *OrderItems) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, i)
	case string:
		return json.Unmarshal([]byte(v), i)
	case nil:
		*i = nil
		return nil
	default:
		return errors.New("type assertion to []byte failed")
	}
}

// Order is an externally created purchase. Its fulfillment state can only be
// changed through Apply.
type Order struct {
	ID          string
	UserID      string
	Items       OrderItems
	TotalAmount float64
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time

	state FulfillmentState
}

// NewOrder builds a pending order, used when seeding stores.
func NewOrder(id, userID string, items []OrderItem, createdAt time.Time) *Order {
	var total float64
	for _, it := range items {
		total += it.UnitPrice * float64(it.Quantity)
	}
	return &Order{
		ID:          id,
		UserID:      userID,
		Items:       items,
		TotalAmount: total,
		Version:     1,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
		state:       InitialState(),
	}
}

func (o *Order) State() FulfillmentState        { return o.state }
func (o *Order) ApprovalStatus() ApprovalStatus { return o.state.approval }
func (o *Order) DeliveryStatus() DeliveryStatus { return o.state.delivery }
func (o *Order) Refund() *RefundCase            { return o.state.Refund() }

// Apply runs t through the transition table. On error the order is unchanged.
func (o *Order) Apply(t Transition, now time.Time) error {
	if err := o.state.Apply(t, now); err != nil {
		return err
	}
	o.UpdatedAt = now
	return nil
}

// Lines flattens the order items into ledger stock lines.
func (o *Order) Lines() []StockLine {
	lines := make([]StockLine, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, StockLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append(OrderItems(nil), o.Items...)
	c.state.refund = o.state.refund.clone()
	return &c
}

func (o *Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID             string         `json:"id"`
		UserID         string         `json:"userId"`
		Items          OrderItems     `json:"items"`
		TotalAmount    float64        `json:"totalAmount"`
		ApprovalStatus ApprovalStatus `json:"approvalStatus"`
		DeliveryStatus DeliveryStatus `json:"deliveryStatus"`
		Refund         *RefundCase    `json:"refund"`
		Version        int64          `json:"version"`
		CreatedAt      time.Time      `json:"createdAt"`
		UpdatedAt      time.Time      `json:"updatedAt"`
	}{
		ID:             o.ID,
		UserID:         o.UserID,
		Items:          o.Items,
		TotalAmount:    o.TotalAmount,
		ApprovalStatus: o.state.approval,
		DeliveryStatus: o.state.delivery,
		Refund:         o.state.refund,
		Version:        o.Version,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	})
}

// OrderRecord is the flat row form of an order, as stored and as carried on
// the change stream.
type OrderRecord struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	Items             OrderItems     `json:"items"`
	TotalAmount       float64        `json:"total_amount"`
	ApprovalStatus    ApprovalStatus `json:"approval_status"`
	DeliveryStatus    DeliveryStatus `json:"delivery_status"`
	RefundRequested   bool           `json:"refund_requested"`
	RefundStatus      *RefundStatus  `json:"refund_status"`
	RefundReason      *string        `json:"refund_reason"`
	RefundEvidenceURL *string        `json:"refund_evidence_url"`
	RefundRequestedAt *time.Time     `json:"refund_requested_at"`
	RefundResolvedAt  *time.Time     `json:"refund_resolved_at"`
	Version           int64          `json:"version"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Record flattens the order.
func (o *Order) Record() OrderRecord {
	rec := OrderRecord{
		ID:             o.ID,
		UserID:         o.UserID,
		Items:          append(OrderItems(nil), o.Items...),
		TotalAmount:    o.TotalAmount,
		ApprovalStatus: o.state.approval,
		DeliveryStatus: o.state.delivery,
		Version:        o.Version,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if r := o.state.refund.clone(); r != nil {
		rec.RefundRequested = r.Requested
		rec.RefundStatus = &r.Status
		rec.RefundReason = &r.Reason
		rec.RefundEvidenceURL = &r.EvidenceURL
		rec.RefundRequestedAt = &r.RequestedAt
		rec.RefundResolvedAt = r.ResolvedAt
	}
	return rec
}

// OrderFromRecord rebuilds an order, rejecting unknown statuses.
func OrderFromRecord(rec OrderRecord) (*Order, error) {
	var refund *RefundCase
	if rec.RefundStatus != nil {
		refund = &RefundCase{
			Requested:  rec.RefundRequested,
			Status:     *rec.RefundStatus,
			ResolvedAt: rec.RefundResolvedAt,
		}
		if rec.RefundReason != nil {
			refund.Reason = *rec.RefundReason
		}
		if rec.RefundEvidenceURL != nil {
			refund.EvidenceURL = *rec.RefundEvidenceURL
		}
		if rec.RefundRequestedAt != nil {
			refund.RequestedAt = *rec.RefundRequestedAt
		}
	}

	state, err := NewFulfillmentState(rec.ApprovalStatus, rec.DeliveryStatus, refund)
	if err != nil {
		return nil, err
	}

	return &Order{
		ID:          rec.ID,
		UserID:      rec.UserID,
		Items:       rec.Items,
		TotalAmount: rec.TotalAmount,
		Version:     rec.Version,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		state:       state,
	}, nil
}

// --- History ---

type OrderHistory struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"orderId"`
	Field          string    `json:"field"`
	PreviousStatus *string   `json:"previousStatus"`
	NewStatus      string    `json:"newStatus"`
	Reason         *string   `json:"reason"`
	CreatedBy      *string   `json:"createdBy"`
	CreatedAt      time.Time `json:"createdAt"`
}

// --- Interfaces ---

type OrderRepository interface {
	GetByID(ctx context.Context, id string) (*Order, error)
	// Update persists the fulfillment fields of order when the stored version
	// still equals order.Version, then advances order.Version.
	Update(ctx context.Context, order *Order) error
	Query(ctx context.Context, filter OrderFilter) ([]*Order, int64, error)
	EvidenceURLs(ctx context.Context) (map[string]struct{}, error)

	CreateOrderHistory(ctx context.Context, history *OrderHistory) error
	GetOrderHistory(ctx context.Context, orderID string) ([]OrderHistory, error)
}

type TransactionManager interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}
