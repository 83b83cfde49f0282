package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	kafkax "github.com/ariefcatur/go-checkout-orders.git/internal/kafka"
	"github.com/ariefcatur/go-checkout-orders.git/internal/orders"
)

// KafkaCharger asks the payment service for a charge by publishing a
// PaymentRequested event. The outcome comes back asynchronously, either on
// the payment-result topic or through the webhook, keyed by the reference.
type KafkaCharger struct {
	Producer *kafkax.Producer
	Service  string
}

func (c *KafkaCharger) Charge(ctx context.Context, amount decimal.Decimal, reference, orderID string) error {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventPaymentRequested,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      c.Service,
		CorrelationID: orderID,
	}
	ev.Payload = kafkax.MustMarshal(orders.PaymentRequestedPayload{
		Reference: reference,
		OrderID:   orderID,
		Amount:    amount,
	})
	c.Producer.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventPaymentRequested)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	return nil
}
