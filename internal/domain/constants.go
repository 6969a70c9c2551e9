package domain

// Approval Statuses
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalConfirmed ApprovalStatus = "confirmed"
	ApprovalCancelled ApprovalStatus = "cancelled"
)

// Delivery Statuses
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryProcessing DeliveryStatus = "processing"
	DeliveryShipping   DeliveryStatus = "shipping"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryCancelled  DeliveryStatus = "cancelled"
)

// Refund Statuses
type RefundStatus string

const (
	RefundPending  RefundStatus = "pending"
	RefundApproved RefundStatus = "approved"
	RefundRejected RefundStatus = "rejected"
)

// Actor used for batch sweeps and any call without an authenticated user.
const SystemActor = "system"

// Record tables emitted on the change stream
const (
	TableOrders    = "orders"
	TableInventory = "inventory"
)

// List Exports for API
var ApprovalStatuses = []ApprovalStatus{
	ApprovalPending,
	ApprovalConfirmed,
	ApprovalCancelled,
}

var DeliveryStatuses = []DeliveryStatus{
	DeliveryPending,
	DeliveryProcessing,
	DeliveryShipping,
	DeliveryDelivered,
	DeliveryCancelled,
}

var RefundStatuses = []RefundStatus{
	RefundPending,
	RefundApproved,
	RefundRejected,
}

func (s ApprovalStatus) Valid() bool {
	for _, v := range ApprovalStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s DeliveryStatus) Valid() bool {
	for _, v := range DeliveryStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further delivery change is allowed through normal advancement.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryCancelled
}

func (s RefundStatus) Valid() bool {
	for _, v := range RefundStatuses {
		if v == s {
			return true
		}
	}
	return false
}
