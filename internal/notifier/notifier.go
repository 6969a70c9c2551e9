package notifier

import (
	"context"

	"storefront-fulfillment/internal/domain"
	"storefront-fulfillment/pkg/logger"
)

// Notifier turns committed record changes into signals on the bus.
// Changes arrive at least once; each one is handled once per dedup window.
type Notifier struct {
	stream    domain.ChangeStream
	bus       *Bus
	dedup     Deduplicator
	threshold int
}

func New(stream domain.ChangeStream, bus *Bus, dedup Deduplicator, lowStockThreshold int) *Notifier {
	return &Notifier{
		stream:    stream,
		bus:       bus,
		dedup:     dedup,
		threshold: lowStockThreshold,
	}
}

// Run consumes the change stream until ctx is done or the stream closes.
func (n *Notifier) Run(ctx context.Context) error {
	events, err := n.stream.Subscribe(ctx, domain.ChangeFilter{Tables: []string{domain.TableOrders, domain.TableInventory}})
	if err != nil {
		return err
	}

	logger.Info().Int("low_stock_threshold", n.threshold).Msg("Change notifier started")
	for ev := range events {
		n.Handle(ctx, ev)
	}
	logger.Info().Msg("Change notifier stopped")
	return ctx.Err()
}

// Handle classifies one change and publishes its signals.
func (n *Notifier) Handle(ctx context.Context, ev domain.ChangeEvent) {
	first, err := n.dedup.FirstSeen(ctx, ev.DedupKey())
	if err != nil {
		// Observers merge by version, so a duplicate is safe when the
		// dedup store is unavailable.
		logger.Warn().Err(err).Str("key", ev.DedupKey()).Msg("Dedup lookup failed")
	} else if !first {
		logger.Debug().Str("key", ev.DedupKey()).Msg("Duplicate change skipped")
		return
	}

	switch ev.Table {
	case domain.TableOrders:
		n.handleOrder(ctx, ev)
	case domain.TableInventory:
		n.handleInventory(ctx, ev)
	}
}

func (n *Notifier) handleOrder(ctx context.Context, ev domain.ChangeEvent) {
	old, cur, err := ev.DecodeOrders()
	if err != nil {
		logger.Error().Err(err).Str("order_id", ev.ID).Msg("Undecodable order change")
		return
	}

	n.bus.Publish(ctx, OrderChanged{
		OrderID: ev.ID,
		UserID:  cur.UserID,
		Version: ev.Version,
		Row:     ev.New,
	})

	switch ev.Type {
	case domain.ChangeInsert:
		n.bus.Publish(ctx, NewOrder{Order: *cur})
	case domain.ChangeUpdate:
		if old == nil || cur.RefundStatus == nil {
			return
		}
		status := *cur.RefundStatus
		if status != domain.RefundApproved && status != domain.RefundRejected {
			return
		}
		var previous domain.RefundStatus
		if old.RefundStatus != nil {
			previous = *old.RefundStatus
		}
		if previous == status {
			return
		}
		n.bus.Publish(ctx, RefundStatusChanged{
			OrderID:  ev.ID,
			UserID:   cur.UserID,
			Previous: previous,
			Status:   status,
			At:       ev.OccurredAt,
		})
	}
}

func (n *Notifier) handleInventory(ctx context.Context, ev domain.ChangeEvent) {
	old, cur, err := ev.DecodeInventory()
	if err != nil {
		logger.Error().Err(err).Str("product_id", ev.ID).Msg("Undecodable inventory change")
		return
	}
	if ev.Type != domain.ChangeUpdate || old == nil {
		return
	}
	if old.Stock > n.threshold && cur.Stock <= n.threshold {
		n.bus.Publish(ctx, LowStock{
			ProductID: ev.ID,
			Stock:     cur.Stock,
			Previous:  old.Stock,
			Threshold: n.threshold,
			At:        ev.OccurredAt,
		})
	}
}
