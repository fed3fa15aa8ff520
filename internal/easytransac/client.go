package easytransac

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// DefaultEndpoint is the gateway's hosted payment-page creation endpoint.
const DefaultEndpoint = "https://www.easytransac.com/api/payment/page"

var ErrNotConfigured = errors.New("easytransac: api key or secret not configured")

// GatewayError is a non-success answer from the gateway, either at the HTTP
// level or as a non-OK Code embedded in the response body.
type GatewayError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("easytransac: gateway refused request: %s (code=%s, http=%d)", e.Message, e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("easytransac: gateway refused request (code=%s, http=%d)", e.Code, e.HTTPStatus)
}

type Client struct {
	endpoint  string
	apiKey    string
	apiSecret string
	httpc     *http.Client
}

func NewClient(endpoint, apiKey, apiSecret string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint:  endpoint,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		httpc:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Configured() bool {
	return c.apiKey != "" && c.apiSecret != ""
}

// PaymentPageRequest carries everything the payment-page call needs. Amounts
// are integer minor units (cents); the gateway wants major units.
type PaymentPageRequest struct {
	OrderID         string
	AmountCents     int64
	ClientIP        string
	ReturnURL       string
	CancelURL       string
	NotificationURL string
	Description     string
	Email           string
	FirstName       string
	LastName        string
}

type PaymentPage struct {
	URL           string
	TransactionID string
}

// CreatePaymentPage signs and sends the hosted-page creation request.
// Strong authentication (3DS) is always on and the method defaults to card.
func (c *Client) CreatePaymentPage(ctx context.Context, req PaymentPageRequest) (*PaymentPage, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	fields := map[string]any{
		"Amount":          json.Number(FormatAmount(req.AmountCents)),
		"ClientIp":        req.ClientIP,
		"OrderId":         req.OrderID,
		"ReturnUrl":       req.ReturnURL,
		"CancelUrl":       req.CancelURL,
		"NotificationUrl": req.NotificationURL,
		"Description":     req.Description,
		"Email":           req.Email,
		"FirstName":       req.FirstName,
		"LastName":        req.LastName,
		"3DS":             "yes",
		"PaymentMethod":   "cb",
	}

	sig, err := Sign(fields, c.apiSecret)
	if err != nil {
		return nil, err
	}
	fields[SignatureField] = sig

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build payment request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.apiKey, "")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call gateway: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Code          string `json:"Code"`
		Error         string `json:"Error"`
		TransactionID string `json:"TransactionId"`
		Payment       struct {
			URL string `json:"Url"`
		} `json:"Payment"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode gateway response (http=%d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || out.Code != "OK" {
		return nil, &GatewayError{HTTPStatus: resp.StatusCode, Code: out.Code, Message: out.Error}
	}

	return &PaymentPage{URL: out.Payment.URL, TransactionID: out.TransactionID}, nil
}

// FormatAmount converts integer cents to a major-unit decimal with no
// trailing zeros: 1000 -> "10", 1050 -> "10.5", 1005 -> "10.05".
func FormatAmount(cents int64) string {
	return strconv.FormatFloat(float64(cents)/100, 'f', -1, 64)
}
