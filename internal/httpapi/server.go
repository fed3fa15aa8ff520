package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"boutique/internal/catalog"
	"boutique/internal/easytransac"
	"boutique/internal/metrics"
	"boutique/internal/order"

	"github.com/google/uuid"
)

// The handler dependencies are interfaces so tests can drive the endpoints
// with fakes instead of a live database and gateway.

type OrderService interface {
	Create(ctx context.Context, customerID uuid.UUID, lines []order.Line) (*order.Order, error)
	MarkPaymentInitiated(ctx context.Context, orderID, transactionID string) error
	ApplyNotification(ctx context.Context, n order.Notification) (*order.NotificationResult, error)
	List(ctx context.Context, customerID uuid.UUID) ([]order.Order, error)
	Get(ctx context.Context, orderID string) (*order.Order, error)
}

type PaymentGateway interface {
	Configured() bool
	CreatePaymentPage(ctx context.Context, req easytransac.PaymentPageRequest) (*easytransac.PaymentPage, error)
}

type Catalog interface {
	ListActive(ctx context.Context) ([]catalog.Product, error)
}

// Deduper filters repeated webhook deliveries. Nil disables the filter; the
// store-level compare-and-set still keeps redelivery safe.
type Deduper interface {
	FirstDelivery(ctx context.Context, orderID, status, transactionID string) (bool, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Orders  OrderService
	Catalog Catalog
	Gateway PaymentGateway
	Dedup   Deduper
	Health  Pinger
	Metrics *metrics.Registry

	// PublicBaseURL anchors the return, cancel and notification URLs sent
	// to the gateway.
	PublicBaseURL    string
	WebhookSecret    string
	RequireSignature bool

	Logger *slog.Logger
}

type Server struct {
	opts Options
	mux  *http.ServeMux
}

func NewServer(opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{opts: opts, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/checkout", s.createOrder)
	s.mux.HandleFunc("POST /api/checkout/initiate", s.initiatePayment)
	s.mux.HandleFunc("POST /api/webhooks/easytransac", s.handleNotification)
	s.mux.HandleFunc("GET /api/orders", s.listOrders)
	s.mux.HandleFunc("GET /api/orders/{orderID}", s.getOrder)
	s.mux.HandleFunc("GET /api/products", s.listProducts)
	s.mux.HandleFunc("GET /healthz", s.health)
	s.mux.Handle("GET /metrics", s.opts.Metrics.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// HandleFunc lets the app attach extra routes (the websocket endpoint).
func (s *Server) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
