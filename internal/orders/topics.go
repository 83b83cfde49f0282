package orders

const (
	TopicOrderCreated     = "checkout.order.created"
	TopicPaymentRequested = "checkout.payment.requested"
	TopicPaymentResult    = "checkout.payment.result"
	TopicStockCommitted   = "checkout.stock.committed"
	TopicStockReleased    = "checkout.stock.released"
	TopicOrderFinalized   = "checkout.order.finalized"
	TopicReconcileFlagged = "checkout.reconciliation.flagged"
)

// Partition key = order_id so all events of one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
