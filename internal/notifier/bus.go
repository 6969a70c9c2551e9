package notifier

import (
	"context"
	"sync"

	"storefront-fulfillment/pkg/logger"
	"storefront-fulfillment/pkg/metrics"
)

// Signal is a typed notification derived from a record change.
type Signal interface {
	Kind() string
}

type handler func(ctx context.Context, s Signal)

// Bus delivers signals synchronously to the handlers subscribed to their kind.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]handler)}
}

// Subscribe registers fn for every published signal of type T.
func Subscribe[T Signal](b *Bus, fn func(ctx context.Context, s T)) {
	var zero T
	kind := zero.Kind()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], func(ctx context.Context, s Signal) {
		if typed, ok := s.(T); ok {
			fn(ctx, typed)
		}
	})
}

// Publish calls every handler of s in subscription order. A panicking
// handler is logged and does not stop the others.
func (b *Bus) Publish(ctx context.Context, s Signal) {
	b.mu.RLock()
	handlers := b.handlers[s.Kind()]
	b.mu.RUnlock()

	metrics.NotifierSignals.WithLabelValues(s.Kind()).Inc()
	for _, h := range handlers {
		b.call(ctx, h, s)
	}
}

func (b *Bus) call(ctx context.Context, h handler, s Signal) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("signal", s.Kind()).
				Interface("panic", r).
				Msg("Signal handler panicked")
		}
	}()
	h(ctx, s)
}
