package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"boutique/internal/order"

	"github.com/google/uuid"
)

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	customerID, err := s.customerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Items []order.Line `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	o, err := s.opts.Orders.Create(r.Context(), customerID, req.Items)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrEmptyOrder),
			errors.Is(err, order.ErrInvalidQuantity),
			errors.Is(err, order.ErrProductUnavailable):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.opts.Logger.Error("create order", "customer_id", customerID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	customerID, err := s.customerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orders, err := s.opts.Orders.List(r.Context(), customerID)
	if err != nil {
		s.opts.Logger.Error("list orders", "customer_id", customerID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	customerID, err := s.customerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := s.opts.Orders.Get(r.Context(), r.PathValue("orderID"))
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		s.opts.Logger.Error("get order", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if o.CustomerID != customerID.String() {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	writeJSON(w, http.StatusOK, o)
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.opts.Catalog.ListActive(r.Context())
	if err != nil {
		s.opts.Logger.Error("list products", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) customerID(r *http.Request) (uuid.UUID, error) {
	value := r.Header.Get("X-Customer-ID")
	if value == "" {
		return uuid.Nil, errors.New("missing X-Customer-ID header")
	}
	return uuid.Parse(value)
}
