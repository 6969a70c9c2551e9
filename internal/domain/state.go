package domain

import (
	"fmt"
	"strings"
	"time"
)

// TransitionKind names one change of the composite fulfillment state.
type TransitionKind string

const (
	OpApprove         TransitionKind = "approve"
	OpCancel          TransitionKind = "cancel"
	OpAdvanceDelivery TransitionKind = "advance_delivery"
	OpPropagateCancel TransitionKind = "propagate_cancellation"
	OpForceDelivery   TransitionKind = "force_delivery"
	OpOpenRefund      TransitionKind = "open_refund"
	OpWithdrawRefund  TransitionKind = "withdraw_refund"
	OpResolveRefund   TransitionKind = "resolve_refund"
)

const (
	MaxRefundReasonLength  = 500
	refundReasonFieldLabel = "refund reason"
)

// Transition is a requested change. Only the fields relevant to Kind are read.
type Transition struct {
	Kind        TransitionKind
	Delivery    DeliveryStatus
	Refund      RefundStatus
	Reason      string
	EvidenceURL string
}

// RefundCase is the nested refund sub-record of a delivered order.
type RefundCase struct {
	Requested   bool         `json:"requested"`
	Status      RefundStatus `json:"status"`
	Reason      string       `json:"reason"`
	EvidenceURL string       `json:"evidenceUrl"`
	RequestedAt time.Time    `json:"requestedAt"`
	ResolvedAt  *time.Time   `json:"resolvedAt,omitempty"`
}

func (r *RefundCase) clone() *RefundCase {
	if r == nil {
		return nil
	}
	c := *r
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// deliveryNext is the single forward step allowed from each delivery status.
var deliveryNext = map[DeliveryStatus]DeliveryStatus{
	DeliveryPending:    DeliveryProcessing,
	DeliveryProcessing: DeliveryShipping,
	DeliveryShipping:   DeliveryDelivered,
}

// NextDelivery returns the forward step after from, if any.
func NextDelivery(from DeliveryStatus) (DeliveryStatus, bool) {
	next, ok := deliveryNext[from]
	return next, ok
}

// FulfillmentState is the composite of approval, delivery and refund status.
// Its fields are only written by Apply after Check accepted the transition.
type FulfillmentState struct {
	approval ApprovalStatus
	delivery DeliveryStatus
	refund   *RefundCase
}

// NewFulfillmentState restores a state read from storage.
func NewFulfillmentState(approval ApprovalStatus, delivery DeliveryStatus, refund *RefundCase) (FulfillmentState, error) {
	if !approval.Valid() {
		return FulfillmentState{}, fmt.Errorf("%w: unknown approval status '%s'", ErrValidation, approval)
	}
	if !delivery.Valid() {
		return FulfillmentState{}, fmt.Errorf("%w: unknown delivery status '%s'", ErrValidation, delivery)
	}
	if refund != nil && !refund.Status.Valid() {
		return FulfillmentState{}, fmt.Errorf("%w: unknown refund status '%s'", ErrValidation, refund.Status)
	}
	return FulfillmentState{approval: approval, delivery: delivery, refund: refund.clone()}, nil
}

// InitialState is the state every externally created order starts in.
func InitialState() FulfillmentState {
	return FulfillmentState{approval: ApprovalPending, delivery: DeliveryPending}
}

func (s FulfillmentState) Approval() ApprovalStatus { return s.approval }
func (s FulfillmentState) Delivery() DeliveryStatus { return s.delivery }
func (s FulfillmentState) Refund() *RefundCase      { return s.refund.clone() }

// Check validates t against the current state without changing it.
func (s FulfillmentState) Check(t Transition) error {
	switch t.Kind {
	case OpApprove:
		if s.approval != ApprovalPending {
			return &TransitionError{Field: "approval_status", From: string(s.approval), To: string(ApprovalConfirmed)}
		}
	case OpCancel:
		if s.approval != ApprovalPending {
			return &TransitionError{Field: "approval_status", From: string(s.approval), To: string(ApprovalCancelled)}
		}
	case OpAdvanceDelivery:
		if !t.Delivery.Valid() {
			return fmt.Errorf("%w: unknown delivery status '%s'", ErrValidation, t.Delivery)
		}
		if t.Delivery == DeliveryCancelled {
			if s.delivery.Terminal() {
				return &TransitionError{Field: "delivery_status", From: string(s.delivery), To: string(t.Delivery)}
			}
			return nil
		}
		if next, ok := deliveryNext[s.delivery]; !ok || next != t.Delivery {
			return &TransitionError{Field: "delivery_status", From: string(s.delivery), To: string(t.Delivery)}
		}
	case OpPropagateCancel:
		if s.approval != ApprovalCancelled || s.delivery.Terminal() {
			return &TransitionError{Field: "delivery_status", From: string(s.delivery), To: string(DeliveryCancelled), Reason: "approval is not cancelled"}
		}
	case OpForceDelivery:
		if !t.Delivery.Valid() {
			return fmt.Errorf("%w: unknown delivery status '%s'", ErrValidation, t.Delivery)
		}
		if strings.TrimSpace(t.Reason) == "" {
			return fmt.Errorf("%w: override reason is required", ErrValidation)
		}
		if s.delivery == t.Delivery {
			return &TransitionError{Field: "delivery_status", From: string(s.delivery), To: string(t.Delivery), Reason: "already at target"}
		}
	case OpOpenRefund:
		if err := validateRefundReason(t.Reason); err != nil {
			return err
		}
		if t.EvidenceURL == "" {
			return fmt.Errorf("%w: evidence url is required", ErrValidation)
		}
		if s.delivery != DeliveryDelivered {
			return &TransitionError{Field: "refund_status", From: "none", To: string(RefundPending), Reason: "order is not delivered"}
		}
		if s.refund != nil {
			return &TransitionError{Field: "refund_status", From: string(s.refund.Status), To: string(RefundPending), Reason: "refund case already opened"}
		}
	case OpWithdrawRefund:
		if s.refund == nil {
			return &TransitionError{Field: "refund_status", From: "none", To: "none"}
		}
		if s.refund.Status != RefundPending {
			return &TransitionError{Field: "refund_status", From: string(s.refund.Status), To: "none"}
		}
	case OpResolveRefund:
		if t.Refund != RefundApproved && t.Refund != RefundRejected {
			return fmt.Errorf("%w: refund can only be resolved to approved or rejected", ErrValidation)
		}
		if s.refund == nil {
			return &TransitionError{Field: "refund_status", From: "none", To: string(t.Refund)}
		}
		if s.refund.Status != RefundPending {
			return &TransitionError{Field: "refund_status", From: string(s.refund.Status), To: string(t.Refund)}
		}
	default:
		return fmt.Errorf("%w: unknown transition '%s'", ErrValidation, t.Kind)
	}
	return nil
}

// Apply checks t and, when accepted, writes the resulting state.
func (s *FulfillmentState) Apply(t Transition, now time.Time) error {
	if err := s.Check(t); err != nil {
		return err
	}

	switch t.Kind {
	case OpApprove:
		s.approval = ApprovalConfirmed
	case OpCancel:
		s.approval = ApprovalCancelled
	case OpAdvanceDelivery, OpForceDelivery:
		s.delivery = t.Delivery
	case OpPropagateCancel:
		s.delivery = DeliveryCancelled
	case OpOpenRefund:
		s.refund = &RefundCase{
			Requested:   true,
			Status:      RefundPending,
			Reason:      strings.TrimSpace(t.Reason),
			EvidenceURL: t.EvidenceURL,
			RequestedAt: now,
		}
	case OpWithdrawRefund:
		s.refund = nil
	case OpResolveRefund:
		// Copied so states handed out earlier keep the pending case.
		resolved := now
		r := s.refund.clone()
		r.Status = t.Refund
		r.ResolvedAt = &resolved
		s.refund = r
	}
	return nil
}

func validateRefundReason(reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, refundReasonFieldLabel)
	}
	if len([]rune(reason)) > MaxRefundReasonLength {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrValidation, refundReasonFieldLabel, MaxRefundReasonLength)
	}
	return nil
}
