package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated     = "OrderCreated"
	EventPaymentRequested = "PaymentRequested"
	EventPaymentResult    = "PaymentResult"
	EventStockCommitted   = "StockCommitted"
	EventStockReleased    = "StockReleased"
	EventOrderFinalized   = "OrderFinalized"
	EventReconcileFlagged = "ReconciliationFlagged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "checkout-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payload types per event ----

type ItemQty struct {
	VariationID string `json:"variation_id"`
	Qty         int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID          string          `json:"order_id"`
	UserID           string          `json:"user_id"`
	Items            []LineItem      `json:"items"`
	Total            decimal.Decimal `json:"total"`
	ReservationToken string          `json:"reservation_token"`
}

type PaymentRequestedPayload struct {
	Reference string          `json:"reference"` // reservation token
	OrderID   string          `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
}

type PaymentResultPayload struct {
	Reference string `json:"reference"` // reservation token
	Outcome   string `json:"outcome"`   // paid | declined
	Reason    string `json:"reason,omitempty"`
}

type StockCommittedPayload struct {
	OrderID          string    `json:"order_id"`
	ReservationToken string    `json:"reservation_token"`
	Items            []ItemQty `json:"items"`
}

type StockReleasedPayload struct {
	OrderID          string    `json:"order_id,omitempty"`
	ReservationToken string    `json:"reservation_token"`
	Reason           string    `json:"reason"` // PAYMENT_FAILED | CANCELLED | EXPIRED
	Items            []ItemQty `json:"items,omitempty"`
}

type OrderFinalizedPayload struct {
	OrderID     string `json:"order_id"`
	Fulfillment string `json:"fulfillment_status"`
	Payment     string `json:"payment_status"`
}

type ReconcileFlaggedPayload struct {
	OrderID          string `json:"order_id"`
	ReservationToken string `json:"reservation_token"`
	Reason           string `json:"reason"` // e.g., LATE_PAYMENT_AFTER_EXPIRY
}
