package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"boutique/pkg/contracts"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrEmptyOrder         = errors.New("order needs at least one item")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrProductUnavailable = errors.New("product not found or inactive")
)

// StatusNotifier pushes order status changes to connected clients. The
// websocket hub implements it; a nil notifier disables pushes.
type StatusNotifier interface {
	BroadcastOrderUpdate(orderID, status string)
}

type Service struct {
	pool     *pgxpool.Pool
	notifier StatusNotifier
	logger   *slog.Logger
}

func NewService(pool *pgxpool.Pool, notifier StatusNotifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pool: pool, notifier: notifier, logger: logger}
}

// Line is one cart entry at checkout.
type Line struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Create snapshots current product prices into order items and records the
// order as pending. total_amount is computed here so it always equals the
// sum of unit_price * quantity.
func (s *Service) Create(ctx context.Context, customerID uuid.UUID, lines []Line) (*Order, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyOrder
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	orderID := uuid.New()

	var total int64
	items := make([]Item, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		productID, err := uuid.Parse(line.ProductID)
		if err != nil {
			return nil, ErrProductUnavailable
		}

		var price int64
		var active bool
		err = tx.QueryRow(ctx, `
			SELECT price, is_active FROM products WHERE id = $1`,
			productID,
		).Scan(&price, &active)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrProductUnavailable
			}
			return nil, fmt.Errorf("select product: %w", err)
		}
		if !active {
			return nil, ErrProductUnavailable
		}

		total += price * int64(line.Quantity)
		items = append(items, Item{
			ID:        uuid.New().String(),
			OrderID:   orderID.String(),
			ProductID: productID.String(),
			Quantity:  line.Quantity,
			UnitPrice: price,
			CreatedAt: now,
		})
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, customer_id, status, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		orderID, customerID, StatusPending, total, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	for _, item := range items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, orderID, item.ProductID, item.Quantity, item.UnitPrice, now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &Order{
		ID:          orderID.String(),
		CustomerID:  customerID.String(),
		Status:      StatusPending,
		TotalAmount: total,
		CreatedAt:   now,
		UpdatedAt:   now,
		Items:       items,
	}, nil
}

// MarkPaymentInitiated stores the gateway transaction reference after a
// successful payment-page creation. Exactly one order update per call.
func (s *Service) MarkPaymentInitiated(ctx context.Context, orderID, transactionID string) error {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return ErrOrderNotFound
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET payment_intent_id = $2, payment_status = $3, updated_at = NOW()
		WHERE id = $1`,
		id, transactionID, PaymentProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark payment initiated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// Notification is the reconciliation-relevant part of a gateway webhook.
type Notification struct {
	OrderID       string
	GatewayStatus string
	TransactionID string
}

type NotificationResult struct {
	PaymentStatus  PaymentStatus
	OrderStatus    Status
	AlreadySettled bool
}

// ApplyNotification reconciles an order with an asynchronous, at-least-once
// gateway notification. The order row is locked for the whole transition, an
// order already paid is left untouched (repeated deliveries are no-ops), and
// stock decrements are single atomic updates floored at zero. Stock moves
// only on the transition into succeeded, so a retried captured notification
// cannot decrement twice.
func (s *Service) ApplyNotification(ctx context.Context, n Notification) (*NotificationResult, error) {
	paymentStatus, orderStatus := MapGatewayStatus(n.GatewayStatus)
	result := &NotificationResult{PaymentStatus: paymentStatus, OrderStatus: orderStatus}

	id, err := uuid.Parse(n.OrderID)
	if err != nil {
		return nil, ErrOrderNotFound
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var current Status
	var customerID uuid.UUID
	var totalAmount int64
	err = tx.QueryRow(ctx, `
		SELECT status, customer_id, total_amount
		FROM orders
		WHERE id = $1
		FOR UPDATE`,
		id,
	).Scan(&current, &customerID, &totalAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	if current == StatusPaid {
		s.logger.Info("order already settled, ignoring notification",
			"order_id", n.OrderID, "gateway_status", n.GatewayStatus)
		result.AlreadySettled = true
		result.OrderStatus = StatusPaid
		return result, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET payment_status = $2, status = $3, payment_intent_id = NULLIF($4, ''), updated_at = NOW()
		WHERE id = $1`,
		id, paymentStatus, orderStatus, n.TransactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	if paymentStatus == PaymentSucceeded {
		if err := s.decrementStock(ctx, tx, id); err != nil {
			return nil, err
		}
	}

	event := contracts.OrderStatusEvent{
		EventID:       uuid.New().String(),
		OrderID:       n.OrderID,
		CustomerID:    customerID.String(),
		Status:        string(orderStatus),
		PaymentStatus: string(paymentStatus),
		TransactionID: n.TransactionID,
		TotalAmount:   totalAmount,
		OccurredAt:    time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal status event: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO order_events_outbox (event_id, event_type, payload)
		VALUES ($1, $2, $3)`,
		event.EventID, contracts.OrderStatusEventType, payload,
	)
	if err != nil {
		return nil, fmt.Errorf("insert outbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.BroadcastOrderUpdate(n.OrderID, string(orderStatus))
	}
	return result, nil
}

func (s *Service) decrementStock(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) error {
	rows, err := tx.Query(ctx, `
		SELECT product_id, quantity FROM order_items WHERE order_id = $1`,
		orderID,
	)
	if err != nil {
		return fmt.Errorf("select order items: %w", err)
	}

	type line struct {
		productID uuid.UUID
		quantity  int
	}
	var lines []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.productID, &l.quantity); err != nil {
			rows.Close()
			return err
		}
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, l := range lines {
		_, err := tx.Exec(ctx, `
			UPDATE products
			SET stock = GREATEST(stock - $2, 0), updated_at = NOW()
			WHERE id = $1`,
			l.productID, l.quantity,
		)
		if err != nil {
			return fmt.Errorf("decrement stock for product %s: %w", l.productID, err)
		}
	}
	return nil
}

func (s *Service) List(ctx context.Context, customerID uuid.UUID) ([]Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, customer_id, status, total_amount, payment_intent_id, payment_status, created_at, updated_at
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC`, customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var result []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.Status, &o.TotalAmount, &o.PaymentIntentID, &o.PaymentStatus, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return nil, ErrOrderNotFound
	}

	var o Order
	err = s.pool.QueryRow(ctx, `
		SELECT id, customer_id, status, total_amount, payment_intent_id, payment_status, created_at, updated_at
		FROM orders
		WHERE id = $1`,
		id,
	).Scan(&o.ID, &o.CustomerID, &o.Status, &o.TotalAmount, &o.PaymentIntentID, &o.PaymentStatus, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, created_at
		FROM order_items
		WHERE order_id = $1`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.CreatedAt); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &o, nil
}
