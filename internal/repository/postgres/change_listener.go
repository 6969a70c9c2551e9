package postgres

import (
	"context"
	"time"

	"storefront-fulfillment/internal/domain"
	"storefront-fulfillment/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	listenBackoffMin = 500 * time.Millisecond
	listenBackoffMax = 30 * time.Second
)

// ChangeListener streams the notifications the orders and inventory
// triggers send on channel. Rows too large for a notification arrive partial.
type ChangeListener struct {
	db      *pgxpool.Pool
	channel string
}

func NewChangeListener(db *pgxpool.Pool, channel string) *ChangeListener {
	return &ChangeListener{db: db, channel: channel}
}

var _ domain.ChangeStream = (*ChangeListener)(nil)

// Subscribe holds one dedicated connection per subscription and reconnects
// with backoff until ctx is done.
func (l *ChangeListener) Subscribe(ctx context.Context, filter domain.ChangeFilter) (<-chan domain.ChangeEvent, error) {
	out := make(chan domain.ChangeEvent, 64)
	go func() {
		defer close(out)
		backoff := listenBackoffMin
		for ctx.Err() == nil {
			err := l.listen(ctx, filter, out, func() { backoff = listenBackoffMin })
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Str("channel", l.channel).Dur("retry_in", backoff).Msg("Change listener disconnected")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, listenBackoffMax)
		}
	}()
	return out, nil
}

func (l *ChangeListener) listen(ctx context.Context, filter domain.ChangeFilter, out chan<- domain.ChangeEvent, connected func()) error {
	c, err := l.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.Release()

	if _, err := c.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return err
	}
	connected()
	logger.Info().Str("channel", l.channel).Msg("Listening for record changes")

	for {
		n, err := c.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		var ev domain.ChangeEvent
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			logger.Error().Err(err).Str("channel", l.channel).Msg("Undecodable change notification")
			continue
		}
		if !filter.Match(ev.Table) {
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
