package main

import (
	"context"
	"net/http"

	"storefront-fulfillment/internal/delivery/http/middleware"
	v1 "storefront-fulfillment/internal/delivery/http/v1"
	"storefront-fulfillment/pkg/metrics"
	"storefront-fulfillment/pkg/utils"
)

type routeHandlers struct {
	admin     *v1.AdminOrderHandler
	orders    *v1.OrderHandler
	dashboard *v1.DashboardHandler
	live      *v1.LiveHub
	health    func(ctx context.Context) error
}

func adminOnly(h http.Handler) http.Handler {
	return middleware.AuthMiddleware(middleware.AdminMiddleware(h))
}

func registerRoutes(h routeHandlers) *http.ServeMux {
	mux := http.NewServeMux()

	admin := func(fn http.HandlerFunc) http.Handler { return adminOnly(fn) }
	customer := func(fn http.HandlerFunc) http.Handler { return middleware.AuthMiddleware(fn) }

	// Admin Orders
	mux.Handle("GET /api/v1/admin/orders", admin(h.admin.ListOrders))
	mux.Handle("GET /api/v1/admin/orders/{id}", admin(h.admin.GetOrder))
	mux.Handle("GET /api/v1/admin/orders/{id}/history", admin(h.admin.GetOrderHistory))
	mux.Handle("POST /api/v1/admin/orders/{id}/approve", admin(h.admin.Approve))
	mux.Handle("POST /api/v1/admin/orders/{id}/cancel", admin(h.admin.Cancel))
	mux.Handle("PATCH /api/v1/admin/orders/{id}/delivery", admin(h.admin.UpdateDelivery))
	mux.Handle("POST /api/v1/admin/orders/{id}/refund/approve", admin(h.admin.ApproveRefund))
	mux.Handle("POST /api/v1/admin/orders/{id}/refund/reject", admin(h.admin.RejectRefund))

	// Admin Batches
	mux.Handle("POST /api/v1/admin/orders/batch/auto-approve", admin(h.admin.AutoApprove))
	mux.Handle("POST /api/v1/admin/orders/batch/auto-advance", admin(h.admin.AutoAdvance))
	mux.Handle("POST /api/v1/admin/orders/batch/delivery-override", admin(h.admin.DeliveryOverride))

	// Admin Dashboard
	mux.Handle("GET /api/v1/admin/dashboard", admin(h.dashboard.GetDashboard))

	// Customer Orders
	mux.Handle("GET /api/v1/orders", customer(h.orders.GetMyOrders))
	mux.Handle("GET /api/v1/orders/notices", customer(h.orders.GetNotices))
	mux.Handle("GET /api/v1/orders/{id}", customer(h.orders.GetMyOrder))
	mux.Handle("POST /api/v1/orders/{id}/refund", customer(h.orders.RequestRefund))
	mux.Handle("DELETE /api/v1/orders/{id}/refund", customer(h.orders.CancelRefund))

	mux.Handle("GET /metrics", metrics.Handler())

	healthHandler := func(w http.ResponseWriter, r *http.Request) {
		if err := h.health(r.Context()); err != nil {
			utils.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
			return
		}
		utils.WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "liveClients": h.live.Clients()})
	}
	mux.HandleFunc("GET /api/v1/health", healthHandler)
	mux.HandleFunc("GET /health", healthHandler)

	return mux
}
