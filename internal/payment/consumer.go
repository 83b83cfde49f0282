package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-checkout-orders.git/internal/checkout"
	kafkax "github.com/ariefcatur/go-checkout-orders.git/internal/kafka"
	"github.com/ariefcatur/go-checkout-orders.git/internal/ledger"
	"github.com/ariefcatur/go-checkout-orders.git/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders.git/internal/orders"
	"github.com/ariefcatur/go-checkout-orders.git/internal/redisx"
)

// ResultHandler consumes payment outcomes from the result topic. Same
// semantics as the webhook: dedup by event id, then hand the result to the
// orchestrator.
type ResultHandler struct {
	Orch        *checkout.Orchestrator
	Redis       redisx.Cmdable
	ServiceName string
	Metrics     *metrics.CheckoutMetrics
}

func (h *ResultHandler) Handle(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventPaymentResult {
		return nil // ignore
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, h.ServiceName, env.EventID)
	exists, _ := redisx.Exists(ctx, h.Redis, dkey)
	if exists {
		h.count("duplicate")
		return nil
	}
	_ = h.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

	p, err := kafkax.UnwrapPayload[orders.PaymentResultPayload](env.Payload)
	if err != nil {
		return err
	}

	_, err = h.Orch.HandlePaymentResult(ctx, checkout.PaymentResult{
		Reference: p.Reference,
		Outcome:   p.Outcome,
		Reason:    p.Reason,
		TraceID:   env.TraceID,
	})
	switch {
	case err == nil:
		h.count(p.Outcome)
		return nil
	case errors.Is(err, checkout.ErrReconciliationRequired):
		// flagged; retrying would not change anything
		h.count("reconcile")
		log.Printf("payment result %s: %v", p.Reference, err)
		return nil
	case errors.Is(err, ledger.ErrUnknownReservation):
		// a bug or corrupt data, not a transient fault; do not retry
		log.Printf("payment result %s: %v", p.Reference, err)
		return nil
	default:
		return err
	}
}

func (h *ResultHandler) count(outcome string) {
	if h.Metrics != nil {
		h.Metrics.PaymentResults.WithLabelValues(outcome).Inc()
	}
}
