package notifier

import (
	"context"
	"sync"
	"time"

	"storefront-fulfillment/internal/domain"
	"storefront-fulfillment/pkg/logger"
)

const (
	maxCustomerNotices = 50
	maxAdminAlerts     = 100
	refreshPageSize    = 500
)

// CustomerOrders keeps one order view per customer plus their refund notices.
type CustomerOrders struct {
	mu      sync.RWMutex
	views   map[string]*OrderView
	owners  map[string]string
	notices map[string][]RefundStatusChanged
}

func NewCustomerOrders() *CustomerOrders {
	return &CustomerOrders{
		views:   make(map[string]*OrderView),
		owners:  make(map[string]string),
		notices: make(map[string][]RefundStatusChanged),
	}
}

func (c *CustomerOrders) Attach(bus *Bus) {
	Subscribe(bus, c.onOrderChanged)
	Subscribe(bus, c.onRefundStatusChanged)
}

func (c *CustomerOrders) onOrderChanged(_ context.Context, s OrderChanged) {
	c.mu.Lock()
	userID := s.UserID
	if userID == "" {
		userID = c.owners[s.OrderID]
	} else {
		c.owners[s.OrderID] = userID
	}
	if userID == "" {
		c.mu.Unlock()
		logger.Debug().Str("order_id", s.OrderID).Msg("Order change without known owner")
		return
	}
	view, ok := c.views[userID]
	if !ok {
		view = NewOrderView()
		c.views[userID] = view
	}
	c.mu.Unlock()

	if _, _, err := view.Apply(s.Row); err != nil {
		logger.Warn().Err(err).Str("order_id", s.OrderID).Msg("Customer view merge failed")
	}
}

func (c *CustomerOrders) onRefundStatusChanged(_ context.Context, s RefundStatusChanged) {
	c.mu.Lock()
	defer c.mu.Unlock()
	notices := append(c.notices[s.UserID], s)
	if len(notices) > maxCustomerNotices {
		notices = notices[len(notices)-maxCustomerNotices:]
	}
	c.notices[s.UserID] = notices
}

// Reconcile merges a full refetch of one customer's orders.
func (c *CustomerOrders) Reconcile(userID string, records []domain.OrderRecord) {
	c.mu.Lock()
	view, ok := c.views[userID]
	if !ok {
		view = NewOrderView()
		c.views[userID] = view
	}
	for _, rec := range records {
		c.owners[rec.ID] = userID
	}
	c.mu.Unlock()
	view.Reconcile(records)
}

func (c *CustomerOrders) Orders(userID string) []domain.OrderRecord {
	c.mu.RLock()
	view, ok := c.views[userID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return view.List()
}

func (c *CustomerOrders) Notices(userID string) []RefundStatusChanged {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]RefundStatusChanged(nil), c.notices[userID]...)
}

// Alert is an admin facing notification.
type Alert struct {
	Kind      string    `json:"kind"`
	OrderID   string    `json:"orderId,omitempty"`
	ProductID string    `json:"productId,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// DashboardSnapshot is what the admin console renders.
type DashboardSnapshot struct {
	Orders     []domain.OrderRecord          `json:"orders"`
	ByApproval map[domain.ApprovalStatus]int `json:"byApproval"`
	ByDelivery map[domain.DeliveryStatus]int `json:"byDelivery"`
	Alerts     []Alert                       `json:"alerts"`
}

// AdminDashboard keeps every order and a bounded list of alerts.
type AdminDashboard struct {
	view *OrderView

	mu     sync.RWMutex
	alerts []Alert
}

func NewAdminDashboard() *AdminDashboard {
	return &AdminDashboard{view: NewOrderView()}
}

func (d *AdminDashboard) Attach(bus *Bus) {
	Subscribe(bus, d.onOrderChanged)
	Subscribe(bus, d.onNewOrder)
	Subscribe(bus, d.onLowStock)
}

func (d *AdminDashboard) onOrderChanged(_ context.Context, s OrderChanged) {
	if _, _, err := d.view.Apply(s.Row); err != nil {
		logger.Warn().Err(err).Str("order_id", s.OrderID).Msg("Dashboard merge failed")
	}
}

func (d *AdminDashboard) onNewOrder(_ context.Context, s NewOrder) {
	d.addAlert(Alert{
		Kind:    KindNewOrder,
		OrderID: s.Order.ID,
		Message: "New order received",
		At:      s.Order.CreatedAt,
	})
}

func (d *AdminDashboard) onLowStock(_ context.Context, s LowStock) {
	d.addAlert(Alert{
		Kind:      KindLowStock,
		ProductID: s.ProductID,
		Message:   "Stock is running low",
		At:        s.At,
	})
}

func (d *AdminDashboard) addAlert(a Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, a)
	if len(d.alerts) > maxAdminAlerts {
		d.alerts = d.alerts[len(d.alerts)-maxAdminAlerts:]
	}
}

// Reconcile merges a full refetch of all orders.
func (d *AdminDashboard) Reconcile(records []domain.OrderRecord) {
	d.view.Reconcile(records)
}

// Refresh refetches every order from repo page by page and reconciles the view.
func (d *AdminDashboard) Refresh(ctx context.Context, repo domain.OrderRepository) error {
	filter := domain.OrderFilter{Sort: domain.SortByID, Limit: refreshPageSize}
	for {
		page, _, err := repo.Query(ctx, filter)
		if err != nil {
			return err
		}
		records := make([]domain.OrderRecord, 0, len(page))
		for _, o := range page {
			records = append(records, o.Record())
		}
		d.view.Reconcile(records)
		if len(page) < refreshPageSize {
			return nil
		}
		filter.AfterID = page[len(page)-1].ID
	}
}

func (d *AdminDashboard) Snapshot() DashboardSnapshot {
	orders := d.view.List()
	snap := DashboardSnapshot{
		Orders:     orders,
		ByApproval: make(map[domain.ApprovalStatus]int),
		ByDelivery: make(map[domain.DeliveryStatus]int),
	}
	for _, o := range orders {
		snap.ByApproval[o.ApprovalStatus]++
		snap.ByDelivery[o.DeliveryStatus]++
	}

	d.mu.RLock()
	snap.Alerts = append([]Alert(nil), d.alerts...)
	d.mu.RUnlock()
	return snap
}
