package v1

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"storefront-fulfillment/internal/domain"
	infracache "storefront-fulfillment/internal/infrastructure/cache"
	"storefront-fulfillment/internal/notifier"
	"storefront-fulfillment/internal/repository/memory"
	"storefront-fulfillment/internal/usecase"
	"storefront-fulfillment/pkg/storage"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	store     *memory.Store
	blobs     *storage.MemoryStorage
	lifecycle *usecase.OrderLifecycle
	admin     *AdminOrderHandler
	orders    *OrderHandler
	dashboard *DashboardHandler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore()
	store.SetClock(func() time.Time { return testNow })
	blobs := storage.NewMemoryStorage()

	ledger := usecase.NewInventoryLedger(store, 3)
	lifecycle := usecase.NewOrderLifecycle(store, ledger, store)
	refunds := usecase.NewRefundUsecase(lifecycle, store, blobs, time.Hour)
	batch := usecase.NewBatchUsecase(lifecycle, store, 2)

	return &harness{
		store:     store,
		blobs:     blobs,
		lifecycle: lifecycle,
		admin:     NewAdminOrderHandler(lifecycle, refunds, batch),
		orders:    NewOrderHandler(lifecycle, refunds, notifier.NewCustomerOrders(), 1),
		dashboard: NewDashboardHandler(notifier.NewAdminDashboard(), ledger, infracache.NewMemoryCache(time.Minute, time.Minute), 5),
	}
}

func (h *harness) seed(t *testing.T, orderID, userID, productID string, qty, stock int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.PutInventory(ctx, productID, stock, 0))
	require.NoError(t, h.store.PutOrder(ctx, domain.NewOrder(orderID, userID, []domain.OrderItem{{ProductID: productID, Quantity: qty, UnitPrice: 10}}, testNow)))
}

func (h *harness) deliver(t *testing.T, orderID string) {
	t.Helper()
	ctx := asUser(context.Background(), "admin-1", domain.RoleAdmin)
	_, err := h.lifecycle.Approve(ctx, orderID)
	require.NoError(t, err)
	for _, s := range []domain.DeliveryStatus{domain.DeliveryProcessing, domain.DeliveryShipping, domain.DeliveryDelivered} {
		_, err := h.lifecycle.AdvanceDelivery(ctx, orderID, s)
		require.NoError(t, err)
	}
}

func asUser(ctx context.Context, id, role string) context.Context {
	return domain.WithActor(ctx, &domain.User{ID: id, Role: role})
}

func request(method, target, id string, body []byte, userID, role string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if id != "" {
		req.SetPathValue("id", id)
	}
	return req.WithContext(asUser(req.Context(), userID, role))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrValidation, http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{&domain.InsufficientStockError{ProductID: "p"}, http.StatusConflict},
		{domain.ErrConcurrencyConflict, http.StatusConflict},
		{&domain.TransitionError{Field: "approval_status"}, http.StatusUnprocessableEntity},
		{domain.StorageFailure("x", assert.AnError), http.StatusBadGateway},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestAdminApprove(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "O1", "u1", "p1", 2, 5)
	h.seed(t, "O2", "u1", "p2", 9, 3)

	rec := httptest.NewRecorder()
	h.admin.Approve(rec, request(http.MethodPost, "/api/v1/admin/orders/O1/approve", "O1", nil, "admin-1", domain.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", decode(t, rec)["approvalStatus"])

	rec = httptest.NewRecorder()
	h.admin.Approve(rec, request(http.MethodPost, "/api/v1/admin/orders/O2/approve", "O2", nil, "admin-1", domain.RoleAdmin))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "InsufficientStock", decode(t, rec)["kind"])

	rec = httptest.NewRecorder()
	h.admin.Approve(rec, request(http.MethodPost, "/api/v1/admin/orders/O1/approve", "O1", nil, "admin-1", domain.RoleAdmin))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = httptest.NewRecorder()
	h.admin.Approve(rec, request(http.MethodPost, "/api/v1/admin/orders/nope/approve", "nope", nil, "admin-1", domain.RoleAdmin))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminUpdateDelivery(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "O1", "u1", "p1", 1, 5)

	rec := httptest.NewRecorder()
	h.admin.UpdateDelivery(rec, request(http.MethodPatch, "/", "O1", []byte(`{"status":"processing"}`), "admin-1", domain.RoleAdmin))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = httptest.NewRecorder()
	h.admin.UpdateDelivery(rec, request(http.MethodPatch, "/", "O1", []byte(`{"status":"shipping","force":true,"reason":"courier picked up early"}`), "admin-1", domain.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "shipping", decode(t, rec)["deliveryStatus"])

	rec = httptest.NewRecorder()
	h.admin.UpdateDelivery(rec, request(http.MethodPatch, "/", "O1", []byte(`{`), "admin-1", domain.RoleAdmin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminListOrdersFilters(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "O1", "u1", "p1", 1, 5)
	h.seed(t, "O2", "u2", "p2", 1, 5)

	rec := httptest.NewRecorder()
	h.admin.ListOrders(rec, request(http.MethodGet, "/api/v1/admin/orders?user_id=u2&approval_status=pending", "", nil, "admin-1", domain.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["total"])

	rec = httptest.NewRecorder()
	h.admin.ListOrders(rec, request(http.MethodGet, "/api/v1/admin/orders?delivery_status=lost", "", nil, "admin-1", domain.RoleAdmin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminBatchAborted(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "O1", "u1", "p1", 1, 5)
	h.store.SetFailure("query_orders", assert.AnError)

	rec := httptest.NewRecorder()
	h.admin.AutoApprove(rec, request(http.MethodPost, "/", "", nil, "admin-1", domain.RoleAdmin))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "StorageError", body["kind"])
	result, ok := body["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, result["aborted"])
}

func TestAdminDeliveryOverrideValidation(t *testing.T) {
	h := newHarness(t)
	rec := httptest.NewRecorder()
	h.admin.DeliveryOverride(rec, request(http.MethodPost, "/", "", []byte(`{"orderIds":["O1"],"status":"shipping"}`), "admin-1", domain.RoleAdmin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func evidenceForm(t *testing.T, reason, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("reason", reason))

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="evidence"; filename="`+filename+`"`)
	hdr.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{G: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCustomerRefundFlow(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "O1", "u1", "p1", 1, 5)
	h.deliver(t, "O1")

	body, contentType := evidenceForm(t, "arrived torn", "photo.png", pngBytes(t))
	req := request(http.MethodPost, "/api/v1/orders/O1/refund", "O1", body.Bytes(), "u1", domain.RoleCustomer)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.orders.RequestRefund(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	refund, ok := decode(t, rec)["refund"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "pending", refund["status"])
	assert.Equal(t, 1, h.blobs.Len())

	rec = httptest.NewRecorder()
	h.orders.CancelRefund(rec, request(http.MethodDelete, "/api/v1/orders/O1/refund", "O1", nil, "u1", domain.RoleCustomer))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode(t, rec)["refund"])
	assert.Equal(t, 0, h.blobs.Len())
}

func TestCustomerRefundRejectsOtherUsersOrder(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "O1", "u1", "p1", 1, 5)
	h.deliver(t, "O1")

	body, contentType := evidenceForm(t, "arrived torn", "photo.png", pngBytes(t))
	req := request(http.MethodPost, "/", "O1", body.Bytes(), "u2", domain.RoleCustomer)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.orders.RequestRefund(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, h.blobs.Len())
}

func TestCustomerRefundRejectsBadExtension(t *testing.T) {
	h := newHarness(t)
	body, contentType := evidenceForm(t, "torn", "photo.exe", pngBytes(t))
	req := request(http.MethodPost, "/", "O1", body.Bytes(), "u1", domain.RoleCustomer)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.orders.RequestRefund(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboardCachesLowStock(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.PutInventory(context.Background(), "p1", 2, 0))

	rec := httptest.NewRecorder()
	h.dashboard.GetDashboard(rec, request(http.MethodGet, "/", "", nil, "admin-1", domain.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["lowStock"], 1)

	require.NoError(t, h.store.PutInventory(context.Background(), "p2", 1, 0))
	rec = httptest.NewRecorder()
	h.dashboard.GetDashboard(rec, request(http.MethodGet, "/", "", nil, "admin-1", domain.RoleAdmin))
	assert.Len(t, decode(t, rec)["lowStock"], 1)
}
