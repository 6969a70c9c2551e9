package notifier

import (
	"context"
	"time"

	"storefront-fulfillment/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const envelopeVersion = 1

// Publisher is the async producer the relay writes to.
type Publisher interface {
	Publish(key, value []byte, headers ...kafka.Header)
}

// Envelope wraps every relayed signal.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// KafkaRelay forwards customer and admin signals to their topics.
type KafkaRelay struct {
	customer Publisher
	admin    Publisher
	producer string
	now      func() time.Time
}

func NewKafkaRelay(customer, admin Publisher, producer string) *KafkaRelay {
	return &KafkaRelay{customer: customer, admin: admin, producer: producer, now: time.Now}
}

func (r *KafkaRelay) Attach(bus *Bus) {
	Subscribe(bus, func(_ context.Context, s RefundStatusChanged) {
		r.publish(r.customer, s.UserID, s.OrderID, s)
	})
	Subscribe(bus, func(_ context.Context, s NewOrder) {
		r.publish(r.admin, s.Order.ID, s.Order.ID, s)
	})
	Subscribe(bus, func(_ context.Context, s LowStock) {
		r.publish(r.admin, s.ProductID, s.ProductID, s)
	})
}

func (r *KafkaRelay) publish(p Publisher, key, correlationID string, s Signal) {
	payload, err := json.Marshal(s)
	if err != nil {
		logger.Error().Err(err).Str("signal", s.Kind()).Msg("Relay payload encode failed")
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     s.Kind(),
		EventVersion:  envelopeVersion,
		OccurredAt:    r.now().UTC(),
		Producer:      r.producer,
		CorrelationID: correlationID,
		Payload:       payload,
	}
	value, err := json.Marshal(env)
	if err != nil {
		logger.Error().Err(err).Str("signal", s.Kind()).Msg("Relay envelope encode failed")
		return
	}
	p.Publish([]byte(key), value, kafka.Header{Key: "event_type", Value: []byte(s.Kind())})
}
