package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"boutique/internal/order"

	gw "github.com/gorilla/websocket"
)

type Conn = gw.Conn

var upgrader = gw.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades a confirmation-page connection and keeps it fed with the
// order's status until the payment settles.
type Handler struct {
	hub      *Hub
	orderSvc *order.Service
	logger   *slog.Logger
}

func NewHandler(hub *Hub, orderSvc *order.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: hub, orderSvc: orderSvc, logger: logger}
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderID")
	customerID := r.Header.Get("X-Customer-ID")
	if orderID == "" || customerID == "" {
		http.Error(w, "missing order or customer id", http.StatusBadRequest)
		return
	}

	// Look the order up before upgrading so a wrong customer gets a plain
	// HTTP error instead of a dead socket.
	o, err := h.orderSvc.Get(r.Context(), orderID)
	if err != nil {
		if !errors.Is(err, order.ErrOrderNotFound) {
			h.logger.Error("order lookup failed", "order_id", orderID, "err", err)
		}
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if o.CustomerID != customerID {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:     h.hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		orderID: orderID,
	}

	client.hub.register <- client
	go client.writePump()
	go client.readPump()

	// Seed the connection with the current status; the webhook may already
	// have landed before the browser navigated back.
	upd := OrderUpdate{OrderID: orderID, Status: string(o.Status)}
	if b, err := json.Marshal(upd); err == nil {
		select {
		case client.send <- b:
		case <-time.After(1 * time.Second):
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(gw.TextMessage, msg); err != nil {
			return
		}
	}
}
