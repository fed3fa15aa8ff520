package contracts

import "time"

// OrderStatusEvent is published whenever a payment notification moves an
// order to a new status. Downstream consumers (fulfilment, email) subscribe
// to the orders exchange.
type OrderStatusEvent struct {
	EventID       string    `json:"event_id"`
	OrderID       string    `json:"order_id"`
	CustomerID    string    `json:"customer_id"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	TransactionID string    `json:"transaction_id,omitempty"`
	TotalAmount   int64     `json:"total_amount"`
	OccurredAt    time.Time `json:"occurred_at"`
}

const OrderStatusEventType = "orders.status"
