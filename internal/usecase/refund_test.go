package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"storefront-fulfillment/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deliveredOrder(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.seedStock(t, "P1", 5)
	f.seedOrder(t, "D", "u1", item("P1", 1))
	f.deliver(t, "D")
	return f
}

func TestRefund_RequestApproveThenCancelFails(t *testing.T) {
	f := deliveredOrder(t)
	ctx := customerCtx("u1")

	order, err := f.refunds.RequestRefund(ctx, "D", "arrived broken", Evidence{Data: pngBytes(t), ContentType: "image/png"})
	require.NoError(t, err)
	refund := order.Refund()
	require.NotNil(t, refund)
	assert.True(t, refund.Requested)
	assert.Equal(t, domain.RefundPending, refund.Status)
	assert.Equal(t, "arrived broken", refund.Reason)
	assert.True(t, strings.HasPrefix(refund.EvidenceURL, "mem://evidence/refunds/D/"))
	assert.Equal(t, 1, f.blobs.Len())

	order, err = f.refunds.ApproveRefund(adminCtx(), "D")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundApproved, order.Refund().Status)
	require.NotNil(t, order.Refund().ResolvedAt)

	_, err = f.refunds.CancelRefundRequest(ctx, "D")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.RefundApproved, f.order(t, "D").Refund().Status)
	assert.Equal(t, 1, f.blobs.Len())
}

func TestRefund_RequiresDeliveredOrder(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "A", "u1", item("P1", 1))

	_, err := f.refunds.RequestRefund(customerCtx("u1"), "A", "late", Evidence{Data: pngBytes(t), ContentType: "image/png"})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Nil(t, f.order(t, "A").Refund())
	assert.Equal(t, 0, f.blobs.Len())
}

func TestRefund_RejectsSecondPendingRequest(t *testing.T) {
	f := deliveredOrder(t)
	ctx := customerCtx("u1")
	ev := Evidence{Data: pngBytes(t), ContentType: "image/png"}

	_, err := f.refunds.RequestRefund(ctx, "D", "broken", ev)
	require.NoError(t, err)
	_, err = f.refunds.RequestRefund(ctx, "D", "still broken", ev)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 1, f.blobs.Len())
}

func TestRefund_CannotReopenResolvedCase(t *testing.T) {
	resolvers := map[string]func(f *fixture) (*domain.Order, error){
		"approved": func(f *fixture) (*domain.Order, error) { return f.refunds.ApproveRefund(adminCtx(), "D") },
		"rejected": func(f *fixture) (*domain.Order, error) { return f.refunds.RejectRefund(adminCtx(), "D") },
	}
	for name, resolve := range resolvers {
		t.Run(name, func(t *testing.T) {
			f := deliveredOrder(t)
			ctx := customerCtx("u1")
			ev := Evidence{Data: pngBytes(t), ContentType: "image/png"}

			_, err := f.refunds.RequestRefund(ctx, "D", "broken", ev)
			require.NoError(t, err)
			resolved, err := resolve(f)
			require.NoError(t, err)
			want := resolved.Refund()

			_, err = f.refunds.RequestRefund(ctx, "D", "here is a better photo", ev)
			require.ErrorIs(t, err, domain.ErrInvalidTransition)

			got := f.order(t, "D").Refund()
			require.NotNil(t, got)
			assert.Equal(t, want.Status, got.Status)
			assert.Equal(t, want.EvidenceURL, got.EvidenceURL)
			assert.Equal(t, 1, f.blobs.Len())
		})
	}
}

func TestRefund_ValidatesInput(t *testing.T) {
	f := deliveredOrder(t)
	ctx := customerCtx("u1")

	_, err := f.refunds.RequestRefund(ctx, "D", "", Evidence{Data: pngBytes(t), ContentType: "image/png"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.refunds.RequestRefund(ctx, "D", strings.Repeat("x", domain.MaxRefundReasonLength+1), Evidence{Data: pngBytes(t), ContentType: "image/png"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.refunds.RequestRefund(ctx, "D", "broken", Evidence{Data: []byte("%PDF-1.4"), ContentType: "application/pdf"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.refunds.RequestRefund(ctx, "D", "broken", Evidence{Data: []byte("not really a png"), ContentType: "image/png"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.refunds.RequestRefund(ctx, "D", "broken", Evidence{ContentType: "image/png"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.Nil(t, f.order(t, "D").Refund())
	assert.Equal(t, 0, f.blobs.Len())
}

func TestRefund_OtherCustomerCannotRequest(t *testing.T) {
	f := deliveredOrder(t)

	_, err := f.refunds.RequestRefund(customerCtx("u2"), "D", "broken", Evidence{Data: pngBytes(t), ContentType: "image/png"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRefund_UploadFailureRecordsNothing(t *testing.T) {
	f := deliveredOrder(t)
	f.blobs.FailUpload = assert.AnError
	before := f.order(t, "D")

	_, err := f.refunds.RequestRefund(customerCtx("u1"), "D", "broken", Evidence{Data: pngBytes(t), ContentType: "image/png"})
	require.ErrorIs(t, err, domain.ErrStorage)

	after := f.order(t, "D")
	assert.Nil(t, after.Refund())
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, domain.DeliveryDelivered, after.DeliveryStatus())
}

func TestRefund_WriteFailureRemovesUploadedBlob(t *testing.T) {
	f := deliveredOrder(t)
	f.store.SetFailure("update_order", assert.AnError)

	_, err := f.refunds.RequestRefund(customerCtx("u1"), "D", "broken", Evidence{Data: pngBytes(t), ContentType: "image/png"})
	require.ErrorIs(t, err, domain.ErrStorage)

	assert.Equal(t, 0, f.blobs.Len())
	f.store.SetFailure("update_order", nil)
	assert.Nil(t, f.order(t, "D").Refund())
}

func TestRefund_CancelRemovesBlobAndClearsCase(t *testing.T) {
	f := deliveredOrder(t)
	ctx := customerCtx("u1")

	_, err := f.refunds.RequestRefund(ctx, "D", "broken", Evidence{Data: pngBytes(t), ContentType: "image/png"})
	require.NoError(t, err)

	order, err := f.refunds.CancelRefundRequest(ctx, "D")
	require.NoError(t, err)
	assert.Nil(t, order.Refund())
	assert.Equal(t, 0, f.blobs.Len())
	assert.Equal(t, domain.DeliveryDelivered, order.DeliveryStatus())
}

func TestRefund_CancelKeepsCaseWhenBlobRemovalFails(t *testing.T) {
	f := deliveredOrder(t)
	ctx := customerCtx("u1")

	_, err := f.refunds.RequestRefund(ctx, "D", "broken", Evidence{Data: pngBytes(t), ContentType: "image/png"})
	require.NoError(t, err)
	f.blobs.FailRemove = assert.AnError

	_, err = f.refunds.CancelRefundRequest(ctx, "D")
	require.ErrorIs(t, err, domain.ErrStorage)
	require.NotNil(t, f.order(t, "D").Refund())
	assert.Equal(t, domain.RefundPending, f.order(t, "D").Refund().Status)
}

func TestRefund_ResolveRequiresPendingCase(t *testing.T) {
	f := deliveredOrder(t)

	_, err := f.refunds.ApproveRefund(adminCtx(), "D")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.refunds.RejectRefund(adminCtx(), "D")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestReconcileOrphanEvidence(t *testing.T) {
	f := deliveredOrder(t)
	ctx := customerCtx("u1")

	_, err := f.refunds.RequestRefund(ctx, "D", "broken", Evidence{Data: pngBytes(t), ContentType: "image/png"})
	require.NoError(t, err)

	old := testNow.Add(-2 * time.Hour)
	f.blobs.SetClock(func() time.Time { return old })
	_, err = f.blobs.Upload(ctx, "refunds/X/stale.webp", []byte("x"), "image/webp")
	require.NoError(t, err)
	f.blobs.SetClock(func() time.Time { return testNow })
	_, err = f.blobs.Upload(ctx, "refunds/Y/fresh.webp", []byte("x"), "image/webp")
	require.NoError(t, err)

	res, err := f.refunds.ReconcileOrphanEvidence(adminCtx())
	require.NoError(t, err)
	assert.Equal(t, OrphanSweepResult{Scanned: 3, Removed: 1, Failed: 0}, res)
	assert.False(t, f.blobs.Has("refunds/X/stale.webp"))
	assert.True(t, f.blobs.Has("refunds/Y/fresh.webp"))
	assert.Equal(t, 2, f.blobs.Len())
}

func TestReconcileOrphanEvidence_ListFailure(t *testing.T) {
	f := newFixture(t)
	f.blobs.FailList = assert.AnError

	_, err := f.refunds.ReconcileOrphanEvidence(adminCtx())
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestRefund_ResolutionHistoryKeepsPreviousStatus(t *testing.T) {
	f := deliveredOrder(t)

	_, err := f.refunds.RequestRefund(customerCtx("u1"), "D", "broken", Evidence{Data: pngBytes(t), ContentType: "image/png"})
	require.NoError(t, err)
	_, err = f.refunds.RejectRefund(adminCtx(), "D")
	require.NoError(t, err)

	history, err := f.lifecycle.GetOrderHistory(adminCtx(), "D")
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, "refund_status", last.Field)
	require.NotNil(t, last.PreviousStatus)
	assert.Equal(t, "pending", *last.PreviousStatus)
	assert.Equal(t, "rejected", last.NewStatus)
}

// racingBlobs resolves the refund while the evidence is being removed.
type racingBlobs struct {
	domain.BlobStore
	onRemove func()
}

func (b *racingBlobs) Remove(ctx context.Context, path string) error {
	if b.onRemove != nil {
		b.onRemove()
	}
	return b.BlobStore.Remove(ctx, path)
}

func TestRefund_WithdrawLosesRaceWithApproval(t *testing.T) {
	f := deliveredOrder(t)
	ctx := customerCtx("u1")

	_, err := f.refunds.RequestRefund(ctx, "D", "broken", Evidence{Data: pngBytes(t), ContentType: "image/png"})
	require.NoError(t, err)

	blobs := &racingBlobs{BlobStore: f.blobs}
	blobs.onRemove = func() {
		_, err := f.refunds.ApproveRefund(adminCtx(), "D")
		require.NoError(t, err)
	}
	refunds := NewRefundUsecase(f.lifecycle, f.store, blobs, time.Hour)

	_, err = refunds.CancelRefundRequest(ctx, "D")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	refund := f.order(t, "D").Refund()
	require.NotNil(t, refund)
	assert.Equal(t, domain.RefundApproved, refund.Status)
	assert.Equal(t, 0, f.blobs.Len())
}

func TestSameEvidence(t *testing.T) {
	f := deliveredOrder(t)

	assert.ErrorIs(t, sameEvidence(f.order(t, "D"), "https://cdn/x.webp"), domain.ErrInvalidTransition)

	order, err := f.refunds.RequestRefund(customerCtx("u1"), "D", "broken", Evidence{Data: pngBytes(t), ContentType: "image/png"})
	require.NoError(t, err)
	assert.NoError(t, sameEvidence(order, order.Refund().EvidenceURL))
	assert.ErrorIs(t, sameEvidence(order, "https://cdn/other.webp"), domain.ErrInvalidTransition)
}
