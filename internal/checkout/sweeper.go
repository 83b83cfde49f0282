package checkout

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/ariefcatur/go-checkout-orders.git/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders.git/internal/orders"
)

// Sweeper releases reservations whose expiry passed without commit or
// release, and cancels the orphaned orders still waiting on payment. This is
// the crash-recovery guarantee: stock can never stay stuck in "reserved"
// with no live checkout progressing toward commit.
type Sweeper struct {
	Orch     *Orchestrator
	Interval time.Duration
	Metrics  *metrics.CheckoutMetrics
}

func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.sweep(ctx); err != nil {
				log.Printf("sweep: %v", err)
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	tokens, err := s.Orch.Ledger.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for _, token := range tokens {
		if s.Metrics != nil {
			s.Metrics.SweptTotal.Inc()
		}
		o, err := s.Orch.Orders.GetByReservation(ctx, token)
		if errors.Is(err, orders.ErrNotFound) {
			// reservation with no order: checkout crashed between reserve
			// and create; the release alone already recovered the stock
			log.Printf("swept orphan reservation %s", token)
			continue
		}
		if err != nil {
			log.Printf("sweep lookup %s: %v", token, err)
			continue
		}
		if o.FulfillmentStatus != orders.FulfillmentPending {
			continue
		}
		if err := s.Orch.cancelExpired(ctx, o); err != nil {
			log.Printf("sweep cancel %s: %v", o.ID, err)
		}
	}
	return nil
}

// cancelExpired moves a swept order to failed/cancelled. The ledger side was
// already released by the sweep itself.
func (x *Orchestrator) cancelExpired(ctx context.Context, o *orders.Order) error {
	if o.PaymentStatus == orders.PaymentPending {
		if err := x.transitionPayment(ctx, o, orders.PaymentFailed); err != nil {
			return err
		}
	}
	if err := x.transitionFulfillment(ctx, o, orders.FulfillmentCancelled); err != nil {
		return err
	}
	x.publish(x.Pub.StockReleased, o.ID, orders.EventStockReleased, orders.StockReleasedPayload{
		OrderID:          o.ID,
		ReservationToken: o.ReservationToken,
		Reason:           "EXPIRED",
		Items:            toItemQty(o.Items),
	})
	x.publishFinalized(o)
	return nil
}
