package orders

import "errors"

// ErrIllegalTransition is returned for any edge not present in the
// transition tables below. Status fields are mutated only through
// TransitionFulfillment / TransitionPayment.
var ErrIllegalTransition = errors.New("illegal status transition")

type FulfillmentStatus string

const (
	FulfillmentPending    FulfillmentStatus = "PENDING"
	FulfillmentConfirmed  FulfillmentStatus = "CONFIRMED"
	FulfillmentProcessing FulfillmentStatus = "PROCESSING"
	FulfillmentShipped    FulfillmentStatus = "SHIPPED"
	FulfillmentDelivered  FulfillmentStatus = "DELIVERED"
	FulfillmentCancelled  FulfillmentStatus = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

var fulfillmentNext = map[FulfillmentStatus]map[FulfillmentStatus]bool{
	FulfillmentPending:    {FulfillmentConfirmed: true, FulfillmentCancelled: true},
	FulfillmentConfirmed:  {FulfillmentProcessing: true, FulfillmentCancelled: true},
	FulfillmentProcessing: {FulfillmentShipped: true},
	FulfillmentShipped:    {FulfillmentDelivered: true},
	FulfillmentDelivered:  {},
	FulfillmentCancelled:  {},
}

var paymentNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:  {PaymentPaid: true, PaymentFailed: true},
	PaymentPaid:     {PaymentRefunded: true},
	PaymentFailed:   {},
	PaymentRefunded: {},
}

func CanTransitionFulfillment(from, to FulfillmentStatus) bool {
	return fulfillmentNext[from][to]
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return paymentNext[from][to]
}

func (s FulfillmentStatus) IsTerminal() bool {
	return len(fulfillmentNext[s]) == 0
}

func (s PaymentStatus) IsTerminal() bool {
	return len(paymentNext[s]) == 0
}
