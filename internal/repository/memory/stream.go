package memory

import (
	"context"
	"sync"

	"storefront-fulfillment/internal/domain"
)

type subscriber struct {
	filter domain.ChangeFilter
	out    chan domain.ChangeEvent
	wake   chan struct{}
	done   <-chan struct{}

	mu    sync.Mutex
	queue []domain.ChangeEvent
}

// Subscribe streams committed changes matching filter until ctx is done.
// Delivery never blocks writers.
func (s *Store) Subscribe(ctx context.Context, filter domain.ChangeFilter) (<-chan domain.ChangeEvent, error) {
	sub := &subscriber{
		filter: filter,
		out:    make(chan domain.ChangeEvent),
		wake:   make(chan struct{}, 1),
		done:   ctx.Done(),
	}

	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()

	go func() {
		sub.pump()
		s.subMu.Lock()
		delete(s.subs, sub)
		s.subMu.Unlock()
	}()
	return sub.out, nil
}

// Redeliver pushes events again, as an at-least-once stream may.
func (s *Store) Redeliver(events ...domain.ChangeEvent) {
	s.publish(events)
}

func (s *Store) publish(events []domain.ChangeEvent) {
	if len(events) == 0 {
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for sub := range s.subs {
		sub.push(events)
	}
}

func (sub *subscriber) push(events []domain.ChangeEvent) {
	sub.mu.Lock()
	for _, ev := range events {
		if sub.filter.Match(ev.Table) {
			sub.queue = append(sub.queue, ev)
		}
	}
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscriber) pump() {
	defer close(sub.out)
	for {
		sub.mu.Lock()
		if len(sub.queue) == 0 {
			sub.mu.Unlock()
			select {
			case <-sub.wake:
				continue
			case <-sub.done:
				return
			}
		}
		ev := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		select {
		case sub.out <- ev:
		case <-sub.done:
			return
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (s *Store) Subscribers() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}
