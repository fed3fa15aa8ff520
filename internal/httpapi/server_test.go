package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"boutique/internal/catalog"
	"boutique/internal/easytransac"
	"boutique/internal/order"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrders struct {
	markedOrderID string
	markedTxID    string
	markErr       error

	applied     []order.Notification
	applyResult *order.NotificationResult
	applyErr    error
}

func (f *fakeOrders) Create(ctx context.Context, customerID uuid.UUID, lines []order.Line) (*order.Order, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeOrders) MarkPaymentInitiated(ctx context.Context, orderID, transactionID string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.markedOrderID = orderID
	f.markedTxID = transactionID
	return nil
}

func (f *fakeOrders) ApplyNotification(ctx context.Context, n order.Notification) (*order.NotificationResult, error) {
	f.applied = append(f.applied, n)
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	if f.applyResult != nil {
		return f.applyResult, nil
	}
	payment, status := order.MapGatewayStatus(n.GatewayStatus)
	return &order.NotificationResult{PaymentStatus: payment, OrderStatus: status}, nil
}

func (f *fakeOrders) List(ctx context.Context, customerID uuid.UUID) ([]order.Order, error) {
	return nil, nil
}

func (f *fakeOrders) Get(ctx context.Context, orderID string) (*order.Order, error) {
	return nil, order.ErrOrderNotFound
}

type fakeGateway struct {
	configured bool
	page       *easytransac.PaymentPage
	err        error
	lastReq    easytransac.PaymentPageRequest
	calls      int
}

func (f *fakeGateway) Configured() bool { return f.configured }

func (f *fakeGateway) CreatePaymentPage(ctx context.Context, req easytransac.PaymentPageRequest) (*easytransac.PaymentPage, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

type fakeCatalog struct{}

func (fakeCatalog) ListActive(ctx context.Context) ([]catalog.Product, error) { return nil, nil }

type fakeDedup struct {
	first bool
	err   error
	calls int
}

func (f *fakeDedup) FirstDelivery(ctx context.Context, orderID, status, transactionID string) (bool, error) {
	f.calls++
	return f.first, f.err
}

type testEnv struct {
	srv     *Server
	orders  *fakeOrders
	gateway *fakeGateway
}

func newTestServer(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	orders := &fakeOrders{}
	gateway := &fakeGateway{
		configured: true,
		page:       &easytransac.PaymentPage{URL: "https://pay.example/p/tx-1", TransactionID: "tx-1"},
	}
	opts := Options{
		Orders:        orders,
		Catalog:       fakeCatalog{},
		Gateway:       gateway,
		PublicBaseURL: "https://shop.example",
		WebhookSecret: "webhook-secret",
		Logger:        slog.New(slog.DiscardHandler),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return &testEnv{srv: NewServer(opts), orders: orders, gateway: gateway}
}

func postJSON(t *testing.T, srv *Server, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func validInitiateBody() map[string]any {
	return map[string]any{
		"orderId": "c1a7e5f0-0000-4000-8000-000000000001",
		"amount":  1000,
		"customerInfo": map[string]string{
			"email":      "alice@example.com",
			"first_name": "Alice",
			"last_name":  "Martin",
		},
		"orderItems": []map[string]any{{"productId": "p1", "quantity": 2}},
	}
}

func TestInitiatePayment_MissingParameters(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"no order id", func(b map[string]any) { delete(b, "orderId") }},
		{"no amount", func(b map[string]any) { delete(b, "amount") }},
		{"no customer info", func(b map[string]any) { delete(b, "customerInfo") }},
		{"no items", func(b map[string]any) { b["orderItems"] = []any{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestServer(t, nil)
			body := validInitiateBody()
			tt.mutate(body)

			rec := postJSON(t, env.srv, "/api/checkout/initiate", body, nil)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, env.gateway.calls, "gateway must not be contacted")
			assert.Empty(t, env.orders.markedOrderID, "order must not be mutated")
		})
	}
}

func TestInitiatePayment_NotConfigured(t *testing.T) {
	env := newTestServer(t, func(o *Options) {
		o.Gateway = &fakeGateway{configured: false}
	})

	rec := postJSON(t, env.srv, "/api/checkout/initiate", validInitiateBody(), nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "configuration")
}

func TestInitiatePayment_GatewayError(t *testing.T) {
	env := newTestServer(t, nil)
	env.gateway.err = &easytransac.GatewayError{HTTPStatus: 200, Code: "ERROR", Message: "card declined"}

	rec := postJSON(t, env.srv, "/api/checkout/initiate", validInitiateBody(), nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "card declined")
	assert.Empty(t, env.orders.markedOrderID, "order must not be mutated on gateway failure")
}

func TestInitiatePayment_Success(t *testing.T) {
	env := newTestServer(t, nil)

	rec := postJSON(t, env.srv, "/api/checkout/initiate", validInitiateBody(), map[string]string{
		"x-real-ip": "203.0.113.9",
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://pay.example/p/tx-1", resp["paymentUrl"])
	assert.Equal(t, "tx-1", resp["transactionId"])

	assert.Equal(t, "c1a7e5f0-0000-4000-8000-000000000001", env.orders.markedOrderID)
	assert.Equal(t, "tx-1", env.orders.markedTxID)

	sent := env.gateway.lastReq
	assert.Equal(t, int64(1000), sent.AmountCents)
	assert.Equal(t, "203.0.113.9", sent.ClientIP)
	assert.Contains(t, sent.ReturnURL, "https://shop.example/checkout/confirmation?orderId=")
	assert.Contains(t, sent.ReturnURL, "c1a7e5f0-0000-4000-8000-000000000001")
	assert.Equal(t, "https://shop.example/api/webhooks/easytransac", sent.NotificationURL)
}

func TestInitiatePayment_UnknownOrder(t *testing.T) {
	env := newTestServer(t, nil)
	env.orders.markErr = order.ErrOrderNotFound

	rec := postJSON(t, env.srv, "/api/checkout/initiate", validInitiateBody(), nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{"x-real-ip wins", map[string]string{"x-real-ip": "198.51.100.1", "x-forwarded-for": "203.0.113.7"}, "198.51.100.1"},
		{"first forwarded entry", map[string]string{"x-forwarded-for": "203.0.113.7, 10.0.0.1"}, "203.0.113.7"},
		{"loopback fallback", nil, "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}

func signedNotification(t *testing.T, fields map[string]any) map[string]any {
	t.Helper()
	sig, err := easytransac.Sign(fields, "webhook-secret")
	require.NoError(t, err)
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["Signature"] = sig
	return out
}

func TestWebhook_MissingOrderID(t *testing.T) {
	env := newTestServer(t, nil)

	rec := postJSON(t, env.srv, "/api/webhooks/easytransac", map[string]any{"Status": "captured"}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "OrderId")
	assert.Empty(t, env.orders.applied, "no state change on rejection")
}

func TestWebhook_BadSignature(t *testing.T) {
	env := newTestServer(t, nil)

	body := map[string]any{"OrderId": "o1", "Status": "captured", "Signature": "deadbeef"}
	rec := postJSON(t, env.srv, "/api/webhooks/easytransac", body, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, env.orders.applied, "no state change on bad signature")
}

func TestWebhook_ValidSignature(t *testing.T) {
	env := newTestServer(t, nil)

	body := signedNotification(t, map[string]any{
		"OrderId":       "o1",
		"Status":        "captured",
		"TransactionId": "tx-9",
	})
	rec := postJSON(t, env.srv, "/api/webhooks/easytransac", body, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success"}`, rec.Body.String())

	require.Len(t, env.orders.applied, 1)
	assert.Equal(t, order.Notification{OrderID: "o1", GatewayStatus: "captured", TransactionID: "tx-9"}, env.orders.applied[0])
}

func TestWebhook_UnsignedPolicy(t *testing.T) {
	body := map[string]any{"OrderId": "o1", "Status": "captured"}

	t.Run("accepted by default", func(t *testing.T) {
		env := newTestServer(t, nil)
		rec := postJSON(t, env.srv, "/api/webhooks/easytransac", body, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, env.orders.applied, 1)
	})

	t.Run("rejected when signature required", func(t *testing.T) {
		env := newTestServer(t, func(o *Options) { o.RequireSignature = true })
		rec := postJSON(t, env.srv, "/api/webhooks/easytransac", body, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, env.orders.applied)
	})
}

func TestWebhook_UnknownOrderAnswersSuccess(t *testing.T) {
	env := newTestServer(t, nil)
	env.orders.applyErr = order.ErrOrderNotFound

	body := map[string]any{"OrderId": "nope", "Status": "captured"}
	rec := postJSON(t, env.srv, "/api/webhooks/easytransac", body, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook_PersistenceFailure(t *testing.T) {
	env := newTestServer(t, nil)
	env.orders.applyErr = errors.New("connection reset")

	body := map[string]any{"OrderId": "o1", "Status": "captured"}
	rec := postJSON(t, env.srv, "/api/webhooks/easytransac", body, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	dedup := &fakeDedup{first: false}
	env := newTestServer(t, func(o *Options) { o.Dedup = dedup })

	body := map[string]any{"OrderId": "o1", "Status": "captured"}
	rec := postJSON(t, env.srv, "/api/webhooks/easytransac", body, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, dedup.calls)
	assert.Empty(t, env.orders.applied, "duplicate stops before the store")
}

func TestWebhook_DedupOutageFallsThrough(t *testing.T) {
	dedup := &fakeDedup{err: errors.New("redis down")}
	env := newTestServer(t, func(o *Options) { o.Dedup = dedup })

	body := map[string]any{"OrderId": "o1", "Status": "captured"}
	rec := postJSON(t, env.srv, "/api/webhooks/easytransac", body, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.orders.applied, 1, "store-level idempotency takes over")
}

func TestHealth(t *testing.T) {
	env := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
