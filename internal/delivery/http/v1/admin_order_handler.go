package v1

import (
	"errors"
	"net/http"
	"time"

	"storefront-fulfillment/internal/domain"
	"storefront-fulfillment/internal/usecase"
	"storefront-fulfillment/pkg/logger"
	"storefront-fulfillment/pkg/utils"

	"github.com/goccy/go-json"
)

type AdminOrderHandler struct {
	lifecycle *usecase.OrderLifecycle
	refunds   *usecase.RefundUsecase
	batch     *usecase.BatchUsecase
}

func NewAdminOrderHandler(lifecycle *usecase.OrderLifecycle, refunds *usecase.RefundUsecase, batch *usecase.BatchUsecase) *AdminOrderHandler {
	return &AdminOrderHandler{lifecycle: lifecycle, refunds: refunds, batch: batch}
}

func (h *AdminOrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := utils.ParseInt(q.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	limit := utils.ParseInt(q.Get("limit"), 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	filter := domain.OrderFilter{
		Page:         page,
		Limit:        limit,
		UserID:       q.Get("user_id"),
		RefundStatus: domain.RefundStatus(q.Get("refund_status")),
	}
	for _, s := range utils.SplitCSV(q.Get("approval_status")) {
		status := domain.ApprovalStatus(s)
		if !status.Valid() {
			utils.WriteError(w, http.StatusBadRequest, "Invalid approval_status '"+s+"'")
			return
		}
		filter.Approval = append(filter.Approval, status)
	}
	for _, s := range utils.SplitCSV(q.Get("delivery_status")) {
		status := domain.DeliveryStatus(s)
		if !status.Valid() {
			utils.WriteError(w, http.StatusBadRequest, "Invalid delivery_status '"+s+"'")
			return
		}
		filter.Delivery = append(filter.Delivery, status)
	}
	if filter.RefundStatus != "" && !filter.RefundStatus.Valid() {
		utils.WriteError(w, http.StatusBadRequest, "Invalid refund_status")
		return
	}
	var ok bool
	if filter.CreatedFrom, ok = parseTime(w, q.Get("from"), "from"); !ok {
		return
	}
	if filter.CreatedTo, ok = parseTime(w, q.Get("to"), "to"); !ok {
		return
	}

	orders, total, err := h.lifecycle.ListOrders(r.Context(), filter)
	if err != nil {
		writeUsecaseError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

func (h *AdminOrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.lifecycle.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeUsecaseError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, order)
}

func (h *AdminOrderHandler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.lifecycle.GetOrderHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeUsecaseError(w, r, err)
		return
	}
	if history == nil {
		history = []domain.OrderHistory{}
	}
	utils.WriteJSON(w, http.StatusOK, history)
}

func (h *AdminOrderHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.lifecycle.Approve(r.Context(), r.PathValue("id")))
}

func (h *AdminOrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeOptional(w, r, &req) {
		return
	}
	h.respond(w, r)(h.lifecycle.Cancel(r.Context(), r.PathValue("id"), req.Reason))
}

// UpdateDelivery advances delivery one step, or overrides it when force is set.
func (h *AdminOrderHandler) UpdateDelivery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status domain.DeliveryStatus `json:"status"`
		Reason string                `json:"reason"`
		Force  bool                  `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid input")
		return
	}

	id := r.PathValue("id")
	if req.Force {
		h.respond(w, r)(h.lifecycle.ForceDelivery(r.Context(), id, req.Status, req.Reason))
		return
	}
	h.respond(w, r)(h.lifecycle.AdvanceDelivery(r.Context(), id, req.Status))
}

func (h *AdminOrderHandler) ApproveRefund(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.refunds.ApproveRefund(r.Context(), r.PathValue("id")))
}

func (h *AdminOrderHandler) RejectRefund(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.refunds.RejectRefund(r.Context(), r.PathValue("id")))
}

func (h *AdminOrderHandler) AutoApprove(w http.ResponseWriter, r *http.Request) {
	result, err := h.batch.AutoApprove(r.Context())
	writeBatch(w, r, result, err)
}

func (h *AdminOrderHandler) AutoAdvance(w http.ResponseWriter, r *http.Request) {
	result, err := h.batch.AutoAdvanceDelivery(r.Context())
	writeBatch(w, r, result, err)
}

func (h *AdminOrderHandler) DeliveryOverride(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderIDs []string              `json:"orderIds"`
		Status   domain.DeliveryStatus `json:"status"`
		Reason   string                `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid input")
		return
	}
	result, err := h.batch.BulkAdvanceDelivery(r.Context(), req.OrderIDs, req.Status, req.Reason)
	writeBatch(w, r, result, err)
}

func (h *AdminOrderHandler) respond(w http.ResponseWriter, r *http.Request) func(*domain.Order, error) {
	return func(order *domain.Order, err error) {
		if err != nil {
			writeUsecaseError(w, r, err)
			return
		}
		utils.WriteJSON(w, http.StatusOK, order)
	}
}

// writeBatch reports an aborted pass together with its partial result.
func writeBatch(w http.ResponseWriter, r *http.Request, result interface{}, err error) {
	switch {
	case err == nil:
		utils.WriteJSON(w, http.StatusOK, result)
	case errors.Is(err, domain.ErrValidation):
		writeUsecaseError(w, r, err)
	default:
		logger.WithContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Batch aborted")
		utils.WriteJSON(w, statusFor(err), map[string]interface{}{
			"error":  err.Error(),
			"kind":   domain.ErrorKind(err),
			"result": result,
		})
	}
}

func decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid input")
		return false
	}
	return true
}

func parseTime(w http.ResponseWriter, value, name string) (*time.Time, bool) {
	if value == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid "+name+", expected RFC3339")
		return nil, false
	}
	return &t, true
}
