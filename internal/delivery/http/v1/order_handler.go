package v1

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"storefront-fulfillment/internal/domain"
	"storefront-fulfillment/internal/notifier"
	"storefront-fulfillment/internal/usecase"
	"storefront-fulfillment/pkg/logger"
	"storefront-fulfillment/pkg/utils"
)

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
}

// OrderHandler serves the customer's own orders and refund requests.
type OrderHandler struct {
	lifecycle     *usecase.OrderLifecycle
	refunds       *usecase.RefundUsecase
	customers     *notifier.CustomerOrders
	maxUploadSize int64
}

func NewOrderHandler(lifecycle *usecase.OrderLifecycle, refunds *usecase.RefundUsecase, customers *notifier.CustomerOrders, maxUploadSizeMB int64) *OrderHandler {
	return &OrderHandler{
		lifecycle:     lifecycle,
		refunds:       refunds,
		customers:     customers,
		maxUploadSize: maxUploadSizeMB << 20,
	}
}

func (h *OrderHandler) GetMyOrders(w http.ResponseWriter, r *http.Request) {
	page := utils.ParseInt(r.URL.Query().Get("page"), 1)
	limit := utils.ParseInt(r.URL.Query().Get("limit"), 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	orders, total, err := h.lifecycle.ListMyOrders(r.Context(), page, limit)
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

func (h *OrderHandler) GetMyOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.lifecycle.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeUsecaseError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, order)
}

// GetNotices returns the refund decisions pushed to the caller.
func (h *OrderHandler) GetNotices(w http.ResponseWriter, r *http.Request) {
	user, ok := domain.UserFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	notices := h.customers.Notices(user.ID)
	if notices == nil {
		notices = []notifier.RefundStatusChanged{}
	}
	utils.WriteJSON(w, http.StatusOK, notices)
}

// RequestRefund takes a multipart form with a reason field and an evidence image.
func (h *OrderHandler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.WriteError(w, http.StatusRequestEntityTooLarge, "Evidence file too large")
			return
		}
		utils.WriteError(w, http.StatusBadRequest, "File too large or invalid format")
		return
	}

	file, header, err := r.FormFile("evidence")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Evidence image is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		utils.WriteError(w, http.StatusBadRequest, "Invalid file extension")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		logger.WithContext(r.Context()).Warn().Err(err).Msg("Evidence read failed")
		utils.WriteError(w, http.StatusBadRequest, "Invalid file")
		return
	}

	order, err := h.refunds.RequestRefund(r.Context(), r.PathValue("id"), r.FormValue("reason"), usecase.Evidence{
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
	})
	if err != nil {
		writeUsecaseError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, order)
}

func (h *OrderHandler) CancelRefund(w http.ResponseWriter, r *http.Request) {
	order, err := h.refunds.CancelRefundRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		writeUsecaseError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, order)
}
