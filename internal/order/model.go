package order

import (
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// PaymentStatus tracks the gateway-derived state of the payment itself,
// separate from the order lifecycle.
type PaymentStatus string

const (
	PaymentProcessing PaymentStatus = "processing"
	PaymentSucceeded  PaymentStatus = "succeeded"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
)

type Order struct {
	ID              string         `json:"id"`
	CustomerID      string         `json:"customer_id"`
	Status          Status         `json:"status"`
	TotalAmount     int64          `json:"total_amount"`
	PaymentIntentID *string        `json:"payment_intent_id"`
	PaymentStatus   *PaymentStatus `json:"payment_status"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Items           []Item         `json:"items,omitempty"`
}

// Item snapshots the product price at order time; it is never re-read from
// the live product row.
type Item struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
	CreatedAt time.Time `json:"created_at"`
}

// MapGatewayStatus translates an EasyTransac payment status into the
// internal (payment_status, order status) pair. Unrecognized values are
// passed through as the payment status and leave the order pending.
func MapGatewayStatus(gateway string) (PaymentStatus, Status) {
	switch gateway {
	case "captured":
		return PaymentSucceeded, StatusPaid
	case "pending":
		return PaymentProcessing, StatusPending
	case "failed", "refused":
		return PaymentFailed, StatusCancelled
	case "cancelled":
		return PaymentCancelled, StatusCancelled
	default:
		return PaymentStatus(gateway), StatusPending
	}
}
