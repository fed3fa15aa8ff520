package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"boutique/internal/easytransac"
	"boutique/internal/order"
)

type initiateRequest struct {
	OrderID      string `json:"orderId"`
	Amount       int64  `json:"amount"`
	CustomerInfo struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"customerInfo"`
	OrderItems []json.RawMessage `json:"orderItems"`
}

// initiatePayment builds a signed payment-page request for the gateway and,
// on success, stores the transaction reference on the order. The amount is
// integer cents; the order itself was created by the checkout step.
func (s *Server) initiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.opts.Metrics.PaymentsInitiated.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid JSON body"})
		return
	}

	if req.OrderID == "" || req.Amount <= 0 || req.CustomerInfo.Email == "" || len(req.OrderItems) == 0 {
		s.opts.Metrics.PaymentsInitiated.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "missing parameters"})
		return
	}

	if !s.opts.Gateway.Configured() {
		s.opts.Logger.Error("payment gateway credentials not configured", "order_id", req.OrderID)
		s.opts.Metrics.PaymentsInitiated.WithLabelValues("config_error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "payment configuration error"})
		return
	}

	page, err := s.opts.Gateway.CreatePaymentPage(r.Context(), easytransac.PaymentPageRequest{
		OrderID:         req.OrderID,
		AmountCents:     req.Amount,
		ClientIP:        clientIP(r),
		ReturnURL:       s.opts.PublicBaseURL + "/checkout/confirmation?orderId=" + url.QueryEscape(req.OrderID),
		CancelURL:       s.opts.PublicBaseURL + "/checkout?error=payment-cancelled",
		NotificationURL: s.opts.PublicBaseURL + "/api/webhooks/easytransac",
		Description:     "Order #" + shortID(req.OrderID),
		Email:           req.CustomerInfo.Email,
		FirstName:       req.CustomerInfo.FirstName,
		LastName:        req.CustomerInfo.LastName,
	})
	if err != nil {
		s.opts.Logger.Error("payment initiation failed", "order_id", req.OrderID, "err", err)
		s.opts.Metrics.PaymentsInitiated.WithLabelValues("gateway_error").Inc()
		msg := "payment initiation failed"
		var gwErr *easytransac.GatewayError
		if errors.As(err, &gwErr) && gwErr.Message != "" {
			msg = gwErr.Message
		}
		if errors.Is(err, easytransac.ErrNotConfigured) || errors.Is(err, easytransac.ErrNoSecret) {
			msg = "payment configuration error"
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": msg})
		return
	}

	if err := s.opts.Orders.MarkPaymentInitiated(r.Context(), req.OrderID, page.TransactionID); err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			s.opts.Metrics.PaymentsInitiated.WithLabelValues("unknown_order").Inc()
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "order not found"})
			return
		}
		s.opts.Logger.Error("persist transaction reference", "order_id", req.OrderID, "transaction_id", page.TransactionID, "err", err)
		s.opts.Metrics.PaymentsInitiated.WithLabelValues("store_error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "database error"})
		return
	}

	s.opts.Metrics.PaymentsInitiated.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{
		"paymentUrl":    page.URL,
		"transactionId": page.TransactionID,
	})
}

// handleNotification is the reconciliation entrypoint for the gateway's
// asynchronous, at-least-once callbacks.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		s.opts.Metrics.NotificationsRejected.WithLabelValues("invalid_body").Inc()
		writeWebhookError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	orderID := stringField(payload, "OrderId")
	gatewayStatus := stringField(payload, "Status")
	transactionID := stringField(payload, "TransactionId")

	// The gateway does not sign every notification type. Unsigned payloads
	// are accepted unless RequireSignature is set; a present signature is
	// always checked.
	if _, ok := payload[easytransac.SignatureField]; ok {
		if err := easytransac.Verify(payload, s.opts.WebhookSecret); err != nil {
			s.opts.Logger.Error("webhook signature rejected", "order_id", orderID, "gateway_status", gatewayStatus, "err", err)
			s.opts.Metrics.NotificationsRejected.WithLabelValues("bad_signature").Inc()
			writeWebhookError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	} else if s.opts.RequireSignature {
		s.opts.Logger.Error("webhook without signature rejected", "order_id", orderID, "gateway_status", gatewayStatus)
		s.opts.Metrics.NotificationsRejected.WithLabelValues("missing_signature").Inc()
		writeWebhookError(w, http.StatusUnauthorized, "signature required")
		return
	}

	if orderID == "" {
		s.opts.Metrics.NotificationsRejected.WithLabelValues("missing_order_id").Inc()
		writeWebhookError(w, http.StatusBadRequest, "missing OrderId")
		return
	}

	if s.opts.Dedup != nil {
		first, err := s.opts.Dedup.FirstDelivery(r.Context(), orderID, gatewayStatus, transactionID)
		if err != nil {
			// Dedup is best effort; the status compare-and-set below stays
			// correct without it.
			s.opts.Logger.Warn("webhook dedup unavailable", "order_id", orderID, "err", err)
		} else if !first {
			s.opts.Metrics.DuplicateDeliveries.Inc()
			writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
			return
		}
	}

	result, err := s.opts.Orders.ApplyNotification(r.Context(), order.Notification{
		OrderID:       orderID,
		GatewayStatus: gatewayStatus,
		TransactionID: transactionID,
	})
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			// Nothing here can ever apply this notification; answering
			// success stops the gateway from retrying it forever.
			s.opts.Logger.Warn("notification for unknown order", "order_id", orderID, "gateway_status", gatewayStatus)
			writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
			return
		}
		s.opts.Logger.Error("apply notification failed", "order_id", orderID, "gateway_status", gatewayStatus, "err", err)
		writeWebhookError(w, http.StatusInternalServerError, "database error")
		return
	}

	if result.AlreadySettled {
		s.opts.Metrics.DuplicateDeliveries.Inc()
	} else {
		s.opts.Metrics.NotificationsProcessed.WithLabelValues(string(result.PaymentStatus)).Inc()
		s.opts.Logger.Info("notification applied",
			"order_id", orderID,
			"gateway_status", gatewayStatus,
			"payment_status", result.PaymentStatus,
			"order_status", result.OrderStatus,
		)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func writeWebhookError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}

// clientIP mirrors the forwarded-header precedence the gateway expects:
// best effort, not authoritative.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("x-real-ip"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("x-forwarded-for"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	return "127.0.0.1"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// stringField tolerates the gateway sending identifiers as JSON numbers.
func stringField(payload map[string]any, name string) string {
	switch v := payload[name].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
