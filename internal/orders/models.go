package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is immutable once created: the unit price frozen at snapshot
// time stays even if the catalog price changes later.
type LineItem struct {
	VariationID string          `json:"variation_id"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Qty         int             `json:"qty"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type Order struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	Items             []LineItem        `json:"items"`
	Subtotal          decimal.Decimal   `json:"subtotal"`
	ShippingCost      decimal.Decimal   `json:"shipping_cost"`
	Tax               decimal.Decimal   `json:"tax"`
	Total             decimal.Decimal   `json:"total"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillment_status"`
	PaymentStatus     PaymentStatus     `json:"payment_status"`
	ReservationToken  string            `json:"reservation_token"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// TransitionFulfillment is the only permitted mutation of the fulfillment
// axis. It validates the edge and bumps UpdatedAt.
func (o *Order) TransitionFulfillment(to FulfillmentStatus) error {
	if !CanTransitionFulfillment(o.FulfillmentStatus, to) {
		return ErrIllegalTransition
	}
	o.FulfillmentStatus = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// TransitionPayment is the only permitted mutation of the payment axis.
func (o *Order) TransitionPayment(to PaymentStatus) error {
	if !CanTransitionPayment(o.PaymentStatus, to) {
		return ErrIllegalTransition
	}
	o.PaymentStatus = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}
