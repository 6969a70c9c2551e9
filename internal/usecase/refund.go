package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-fulfillment/internal/domain"
	"storefront-fulfillment/pkg/logger"
	"storefront-fulfillment/pkg/metrics"
	"storefront-fulfillment/pkg/utils"
)

// EvidencePrefix is the blob path prefix of every refund evidence file.
const EvidencePrefix = "refunds/"

// Evidence is an uploaded refund image before normalisation.
type Evidence struct {
	Data        []byte
	ContentType string
}

// OrphanSweepResult summarises one reconciliation pass over evidence blobs.
type OrphanSweepResult struct {
	Scanned int `json:"scanned"`
	Removed int `json:"removed"`
	Failed  int `json:"failed"`
}

type RefundUsecase struct {
	lifecycle   *OrderLifecycle
	orderRepo   domain.OrderRepository
	blobs       domain.BlobStore
	gracePeriod time.Duration
	now         func() time.Time
}

func NewRefundUsecase(lifecycle *OrderLifecycle, orderRepo domain.OrderRepository, blobs domain.BlobStore, gracePeriod time.Duration) *RefundUsecase {
	return &RefundUsecase{
		lifecycle:   lifecycle,
		orderRepo:   orderRepo,
		blobs:       blobs,
		gracePeriod: gracePeriod,
		now:         time.Now,
	}
}

func (u *RefundUsecase) SetClock(now func() time.Time) {
	u.now = now
}

// RequestRefund uploads the evidence and opens a pending refund case.
// If the case cannot be written the upload is removed again.
func (u *RefundUsecase) RequestRefund(ctx context.Context, orderID, reason string, evidence Evidence) (*domain.Order, error) {
	order, err := u.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := ensureOwner(ctx, order); err != nil {
		return nil, err
	}

	// The placeholder url lets the state check run before anything is uploaded.
	precheck := domain.Transition{Kind: domain.OpOpenRefund, Reason: reason, EvidenceURL: "pending-upload"}
	if err := order.State().Check(precheck); err != nil {
		return nil, err
	}

	data, contentType, ext, err := normaliseEvidence(evidence)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("%s%s/%s%s", EvidencePrefix, orderID, utils.GenerateUUID(), ext)
	url, err := u.blobs.Upload(ctx, path, data, contentType)
	if err != nil {
		return nil, domain.StorageFailure("upload_evidence", err)
	}

	updated, err := u.lifecycle.apply(ctx, orderID, change{
		transition: domain.Transition{Kind: domain.OpOpenRefund, Reason: reason, EvidenceURL: url},
		reason:     reason,
		guard:      ensureOwner,
	})
	if err != nil {
		if rmErr := u.blobs.Remove(ctx, path); rmErr != nil {
			metrics.OrphanBlobs.WithLabelValues("left").Inc()
			logger.OrphanBlob(path, rmErr)
		} else {
			metrics.OrphanBlobs.WithLabelValues("compensated").Inc()
		}
		return nil, err
	}
	return updated, nil
}

// CancelRefundRequest removes the evidence and clears a pending case.
// When the blob cannot be removed the case is left untouched.
func (u *RefundUsecase) CancelRefundRequest(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := u.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := ensureOwner(ctx, order); err != nil {
		return nil, err
	}

	withdraw := domain.Transition{Kind: domain.OpWithdrawRefund}
	if err := order.State().Check(withdraw); err != nil {
		return nil, err
	}

	evidenceURL := order.Refund().EvidenceURL
	path, err := u.blobs.PathFromURL(evidenceURL)
	if err != nil {
		return nil, domain.StorageFailure("remove_evidence", err)
	}
	if err := u.blobs.Remove(ctx, path); err != nil {
		return nil, domain.StorageFailure("remove_evidence", err)
	}

	updated, err := u.lifecycle.apply(ctx, orderID, change{
		transition: withdraw,
		reason:     "refund request withdrawn",
		guard: func(ctx context.Context, fresh *domain.Order) error {
			if err := ensureOwner(ctx, fresh); err != nil {
				return err
			}
			return sameEvidence(fresh, evidenceURL)
		},
	})
	if err != nil {
		metrics.OrphanBlobs.WithLabelValues("lost").Inc()
		logger.EvidenceLost(orderID, path, err)
		return nil, err
	}
	return updated, nil
}

// sameEvidence rejects a withdrawal when the case changed after the blob was removed.
func sameEvidence(order *domain.Order, evidenceURL string) error {
	r := order.Refund()
	if r == nil {
		return &domain.TransitionError{Field: "refund_status", From: "none", To: "none", Reason: "refund case already cleared"}
	}
	if r.Status != domain.RefundPending || r.EvidenceURL != evidenceURL {
		return &domain.TransitionError{Field: "refund_status", From: string(r.Status), To: "none", Reason: "refund case changed during withdrawal"}
	}
	return nil
}

func (u *RefundUsecase) ApproveRefund(ctx context.Context, orderID string) (*domain.Order, error) {
	return u.resolve(ctx, orderID, domain.RefundApproved)
}

func (u *RefundUsecase) RejectRefund(ctx context.Context, orderID string) (*domain.Order, error) {
	return u.resolve(ctx, orderID, domain.RefundRejected)
}

func (u *RefundUsecase) resolve(ctx context.Context, orderID string, status domain.RefundStatus) (*domain.Order, error) {
	return u.lifecycle.apply(ctx, orderID, change{
		transition: domain.Transition{Kind: domain.OpResolveRefund, Refund: status},
	})
}

// ReconcileOrphanEvidence removes evidence blobs older than the grace period
// that no order references.
func (u *RefundUsecase) ReconcileOrphanEvidence(ctx context.Context) (OrphanSweepResult, error) {
	var result OrphanSweepResult

	objects, err := u.blobs.List(ctx, EvidencePrefix)
	if err != nil {
		return result, domain.StorageFailure("list_evidence", err)
	}
	urls, err := u.orderRepo.EvidenceURLs(ctx)
	if err != nil {
		return result, err
	}

	referenced := make(map[string]struct{}, len(urls))
	for url := range urls {
		if path, err := u.blobs.PathFromURL(url); err == nil {
			referenced[path] = struct{}{}
		}
	}

	cutoff := u.now().Add(-u.gracePeriod)
	for _, obj := range objects {
		result.Scanned++
		if _, ok := referenced[obj.Path]; ok {
			continue
		}
		if obj.LastModified.After(cutoff) {
			continue
		}
		if err := u.blobs.Remove(ctx, obj.Path); err != nil {
			result.Failed++
			metrics.OrphanBlobs.WithLabelValues("sweep_failed").Inc()
			logger.OrphanBlob(obj.Path, err)
			continue
		}
		result.Removed++
		metrics.OrphanBlobs.WithLabelValues("swept").Inc()
	}

	logger.Info().
		Int("scanned", result.Scanned).
		Int("removed", result.Removed).
		Int("failed", result.Failed).
		Msg("Evidence Sweep Finished")
	return result, nil
}

func normaliseEvidence(e Evidence) ([]byte, string, string, error) {
	if len(e.Data) == 0 {
		return nil, "", "", fmt.Errorf("%w: evidence image is required", domain.ErrValidation)
	}
	contentType := strings.ToLower(strings.TrimSpace(strings.Split(e.ContentType, ";")[0]))
	if !utils.IsImage(contentType) {
		return nil, "", "", fmt.Errorf("%w: unsupported evidence type '%s'", domain.ErrValidation, e.ContentType)
	}
	data, outType, ext, err := utils.ProcessImage(e.Data)
	if err != nil {
		if errors.Is(err, utils.ErrNotImage) {
			return nil, "", "", fmt.Errorf("%w: evidence is not a readable image", domain.ErrValidation)
		}
		return nil, "", "", err
	}
	return data, outType, ext, nil
}
