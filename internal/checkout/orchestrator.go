package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-checkout-orders.git/internal/cart"
	kafkax "github.com/ariefcatur/go-checkout-orders.git/internal/kafka"
	"github.com/ariefcatur/go-checkout-orders.git/internal/ledger"
	"github.com/ariefcatur/go-checkout-orders.git/internal/orders"
)

// ErrReconciliationRequired marks a payment success that arrived after the
// reservation expired and was swept. The stock is gone from the hold; it is
// flagged for a human, never silently re-reserved.
var ErrReconciliationRequired = errors.New("late payment success, manual reconciliation required")

type OrderStore interface {
	Create(ctx context.Context, o *orders.Order) error
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	GetByReservation(ctx context.Context, token string) (*orders.Order, error)
	SaveFulfillment(ctx context.Context, o *orders.Order, from orders.FulfillmentStatus) error
	SavePayment(ctx context.Context, o *orders.Order, from orders.PaymentStatus) error
}

// Charger asks the external payment collaborator to collect the amount. The
// outcome arrives later as a PaymentResult keyed by reference.
type Charger interface {
	Charge(ctx context.Context, amount decimal.Decimal, reference, orderID string) error
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafka.Header)
}

// Reconciler records a reservation needing manual follow-up.
type Reconciler interface {
	Flag(ctx context.Context, token, orderID string) error
}

// Publishers holds one topic-bound producer per lifecycle event stream.
type Publishers struct {
	OrderCreated   Publisher
	StockCommitted Publisher
	StockReleased  Publisher
	OrderFinalized Publisher
	Reconcile      Publisher
}

type Orchestrator struct {
	Builder   *cart.Builder
	Ledger    ledger.Ledger
	Orders    OrderStore
	Payments  Charger
	Pub       Publishers
	Reconcile Reconciler
	Service   string
}

type PaymentResult struct {
	Reference string // reservation token
	Outcome   string // paid | declined
	Reason    string
	TraceID   string
}

const (
	OutcomePaid     = "paid"
	OutcomeDeclined = "declined"
)

// Checkout runs steps 1-5: freeze the cart, reserve stock all-or-nothing,
// create the pending order, request the charge. The order is returned in
// pending state; the payment outcome finishes the flow via
// HandlePaymentResult. Steps before order creation need no compensation.
func (x *Orchestrator) Checkout(ctx context.Context, userID string, c cart.Cart, shippingCost, tax decimal.Decimal) (*orders.Order, error) {
	lines, err := x.Builder.Snapshot(ctx, c)
	if err != nil {
		return nil, err
	}

	subtotal := cart.Subtotal(lines)
	total := subtotal.Add(shippingCost).Add(tax)

	token, err := x.Ledger.Reserve(ctx, toLedgerItems(lines))
	if err != nil {
		return nil, err // no order exists on InsufficientStock
	}

	now := time.Now().UTC()
	o := &orders.Order{
		ID:                uuid.NewString(),
		UserID:            userID,
		Items:             lines,
		Subtotal:          subtotal,
		ShippingCost:      shippingCost,
		Tax:               tax,
		Total:             total,
		FulfillmentStatus: orders.FulfillmentPending,
		PaymentStatus:     orders.PaymentPending,
		ReservationToken:  token,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := x.Orders.Create(ctx, o); err != nil {
		// the reservation would be swept eventually; release it now anyway
		if rerr := x.Ledger.Release(ctx, token); rerr != nil {
			log.Printf("release after failed create: %v", rerr)
		}
		return nil, err
	}

	x.publish(x.Pub.OrderCreated, o.ID, orders.EventOrderCreated, orders.OrderCreatedPayload{
		OrderID:          o.ID,
		UserID:           o.UserID,
		Items:            o.Items,
		Total:            o.Total,
		ReservationToken: token,
	})

	if err := x.Payments.Charge(ctx, total, token, o.ID); err != nil {
		// the charge never left the building; fail the order right away
		if ferr := x.failOrder(ctx, o, "CHARGE_REQUEST_FAILED"); ferr != nil {
			log.Printf("fail order %s after charge error: %v", o.ID, ferr)
		}
		return o, fmt.Errorf("request charge: %w", err)
	}

	return o, nil
}

// HandlePaymentResult runs step 6 when the asynchronous outcome arrives.
// Retries are safe: both terminal ledger ops and the status CAS guards make
// a duplicate delivery a no-op.
func (x *Orchestrator) HandlePaymentResult(ctx context.Context, res PaymentResult) (*orders.Order, error) {
	o, err := x.Orders.GetByReservation(ctx, res.Reference)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return nil, fmt.Errorf("payment result %s: %w", res.Reference, ledger.ErrUnknownReservation)
		}
		return nil, err
	}

	switch res.Outcome {
	case OutcomePaid:
		return x.handlePaid(ctx, o)
	case OutcomeDeclined:
		return o, x.failOrder(ctx, o, reasonOr(res.Reason, "PAYMENT_DECLINED"))
	default:
		return nil, fmt.Errorf("unknown payment outcome %q", res.Outcome)
	}
}

func (x *Orchestrator) handlePaid(ctx context.Context, o *orders.Order) (*orders.Order, error) {
	if o.PaymentStatus == orders.PaymentPaid {
		return o, nil // duplicate delivery
	}

	err := x.Ledger.Commit(ctx, o.ReservationToken)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrReservationReleased):
		// expired and swept before the money arrived
		return o, x.flagReconciliation(ctx, o)
	default:
		return nil, err
	}

	if err := x.transitionPayment(ctx, o, orders.PaymentPaid); err != nil {
		return nil, err
	}
	if err := x.transitionFulfillment(ctx, o, orders.FulfillmentConfirmed); err != nil {
		return nil, err
	}

	x.publish(x.Pub.StockCommitted, o.ID, orders.EventStockCommitted, orders.StockCommittedPayload{
		OrderID:          o.ID,
		ReservationToken: o.ReservationToken,
		Items:            toItemQty(o.Items),
	})
	x.publishFinalized(o)
	return o, nil
}

// failOrder is the compensation path shared by declined payments, charge
// failures and user cancellation before payment: release the hold, then
// pending -> failed / cancelled.
func (x *Orchestrator) failOrder(ctx context.Context, o *orders.Order, reason string) error {
	if o.PaymentStatus == orders.PaymentFailed && o.FulfillmentStatus == orders.FulfillmentCancelled {
		return nil // duplicate delivery
	}

	if err := x.Ledger.Release(ctx, o.ReservationToken); err != nil &&
		!errors.Is(err, ledger.ErrReservationReleased) {
		return err
	}

	if o.PaymentStatus == orders.PaymentPending {
		if err := x.transitionPayment(ctx, o, orders.PaymentFailed); err != nil {
			return err
		}
	}
	if o.FulfillmentStatus != orders.FulfillmentCancelled {
		if err := x.transitionFulfillment(ctx, o, orders.FulfillmentCancelled); err != nil {
			return err
		}
	}

	x.publish(x.Pub.StockReleased, o.ID, orders.EventStockReleased, orders.StockReleasedPayload{
		OrderID:          o.ID,
		ReservationToken: o.ReservationToken,
		Reason:           reason,
		Items:            toItemQty(o.Items),
	})
	x.publishFinalized(o)
	return nil
}

// Cancel serves POST /orders/{id}/cancel. Pending orders release their hold;
// confirmed (paid, committed) orders take the refund+restock path. Anything
// past confirmation refuses with ErrIllegalTransition.
func (x *Orchestrator) Cancel(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := x.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch o.FulfillmentStatus {
	case orders.FulfillmentPending:
		return o, x.failOrder(ctx, o, "CANCELLED")
	case orders.FulfillmentConfirmed:
		return o, x.refund(ctx, o)
	default:
		return nil, fmt.Errorf("cancel %s in %s: %w", o.ID, o.FulfillmentStatus, orders.ErrIllegalTransition)
	}
}

// refund handles cancellation after commit: the reservation is long gone, so
// stock goes back via restock, and the payment axis moves paid -> refunded.
func (x *Orchestrator) refund(ctx context.Context, o *orders.Order) error {
	if err := x.transitionPayment(ctx, o, orders.PaymentRefunded); err != nil {
		return err
	}
	if err := x.transitionFulfillment(ctx, o, orders.FulfillmentCancelled); err != nil {
		return err
	}
	if err := x.Ledger.Restock(ctx, toLedgerItems(o.Items)); err != nil {
		return err
	}
	x.publish(x.Pub.StockReleased, o.ID, orders.EventStockReleased, orders.StockReleasedPayload{
		OrderID:          o.ID,
		ReservationToken: o.ReservationToken,
		Reason:           "REFUNDED",
		Items:            toItemQty(o.Items),
	})
	x.publishFinalized(o)
	return nil
}

func (x *Orchestrator) flagReconciliation(ctx context.Context, o *orders.Order) error {
	if x.Reconcile != nil {
		if err := x.Reconcile.Flag(ctx, o.ReservationToken, o.ID); err != nil {
			log.Printf("flag reconciliation %s: %v", o.ReservationToken, err)
		}
	}
	x.publish(x.Pub.Reconcile, o.ID, orders.EventReconcileFlagged, orders.ReconcileFlaggedPayload{
		OrderID:          o.ID,
		ReservationToken: o.ReservationToken,
		Reason:           "LATE_PAYMENT_AFTER_EXPIRY",
	})
	return fmt.Errorf("order %s: %w", o.ID, ErrReconciliationRequired)
}

func (x *Orchestrator) transitionPayment(ctx context.Context, o *orders.Order, to orders.PaymentStatus) error {
	from := o.PaymentStatus
	if err := o.TransitionPayment(to); err != nil {
		return err
	}
	return x.Orders.SavePayment(ctx, o, from)
}

func (x *Orchestrator) transitionFulfillment(ctx context.Context, o *orders.Order, to orders.FulfillmentStatus) error {
	from := o.FulfillmentStatus
	if err := o.TransitionFulfillment(to); err != nil {
		return err
	}
	return x.Orders.SaveFulfillment(ctx, o, from)
}

func (x *Orchestrator) publishFinalized(o *orders.Order) {
	x.publish(x.Pub.OrderFinalized, o.ID, orders.EventOrderFinalized, orders.OrderFinalizedPayload{
		OrderID:     o.ID,
		Fulfillment: string(o.FulfillmentStatus),
		Payment:     string(o.PaymentStatus),
	})
}

func (x *Orchestrator) publish(p Publisher, orderID, eventType string, payload any) {
	if p == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      x.Service,
		CorrelationID: orderID,
	}
	ev.Payload = kafkax.MustMarshal(payload)
	p.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafka.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafka.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func toLedgerItems(items []orders.LineItem) []ledger.Item {
	out := make([]ledger.Item, 0, len(items))
	for _, it := range items {
		out = append(out, ledger.Item{VariationID: it.VariationID, Qty: it.Qty})
	}
	return out
}

func toItemQty(items []orders.LineItem) []orders.ItemQty {
	out := make([]orders.ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, orders.ItemQty{VariationID: it.VariationID, Qty: it.Qty})
	}
	return out
}

func reasonOr(s, def string) string {
	if s != "" {
		return s
	}
	return def
}
