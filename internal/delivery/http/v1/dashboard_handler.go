package v1

import (
	"net/http"
	"time"

	"storefront-fulfillment/internal/domain"
	"storefront-fulfillment/internal/notifier"
	"storefront-fulfillment/internal/usecase"
	"storefront-fulfillment/pkg/cache"
	"storefront-fulfillment/pkg/utils"
)

const (
	lowStockCacheKey = "dashboard:low_stock"
	lowStockCacheTTL = 30 * time.Second
	lowStockLimit    = 50
)

type DashboardHandler struct {
	dashboard *notifier.AdminDashboard
	ledger    *usecase.InventoryLedger
	cache     cache.CacheService
	threshold int
}

func NewDashboardHandler(dashboard *notifier.AdminDashboard, ledger *usecase.InventoryLedger, c cache.CacheService, threshold int) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard, ledger: ledger, cache: c, threshold: threshold}
}

// GetDashboard returns the live order snapshot plus the current low stock list.
func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	lowStock, err := h.lowStock(r)
	if err != nil {
		writeUsecaseError(w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot":  h.dashboard.Snapshot(),
		"lowStock":  lowStock,
		"threshold": h.threshold,
	})
}

func (h *DashboardHandler) lowStock(r *http.Request) ([]domain.InventoryRecord, error) {
	return cache.Remember(h.cache, lowStockCacheKey, lowStockCacheTTL, func() ([]domain.InventoryRecord, error) {
		records, err := h.ledger.LowStock(r.Context(), h.threshold, lowStockLimit)
		if records == nil && err == nil {
			records = []domain.InventoryRecord{}
		}
		return records, err
	})
}
