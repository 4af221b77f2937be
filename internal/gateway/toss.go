package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const tossName = "toss"

// TossConfig holds credentials for the TossPayments-style adapter. ClientKey
// is handed to the browser widget; SecretKey authenticates server calls.
type TossConfig struct {
	ClientKey     string
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
}

// TossAdapter implements the widget-based flow: initiate builds a client-side
// session descriptor without any network call, and the server finalizes via
// the confirm endpoint once the customer returns with a paymentKey.
type TossAdapter struct {
	cfg    TossConfig
	client *http.Client
}

func NewTossAdapter(cfg TossConfig) *TossAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.tosspayments.com"
	}
	return &TossAdapter{cfg: cfg, client: newHTTPClient(cfg.Timeout)}
}

func (a *TossAdapter) Name() string { return tossName }

func (a *TossAdapter) SupportedMethods() []string {
	return []string{"card", "transfer", "virtual_account", "mobile"}
}

func (a *TossAdapter) SupportedCurrencies() []string { return []string{"KRW"} }

func (a *TossAdapter) authHeader() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(a.cfg.SecretKey+":"))
}

func (a *TossAdapter) post(ctx context.Context, op, path string, payload any) (json.RawMessage, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, transportErr(tossName, op, err)
	}
	headers := map[string]string{
		"Authorization": a.authHeader(),
		"Content-Type":  "application/json",
	}
	return doRequest(ctx, a.client, tossName, op, http.MethodPost, a.cfg.BaseURL+path, headers, body)
}

func (a *TossAdapter) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	// No provider round trip: the widget opens the session client-side.
	return &InitiateResult{
		PaymentID: "toss-" + req.OrderID,
		SessionData: map[string]string{
			"clientKey":     a.cfg.ClientKey,
			"orderId":       req.OrderID,
			"amount":        fmt.Sprintf("%d", ProviderAmount(req.Amount, req.Currency)),
			"orderName":     "Order " + req.OrderID,
			"customerName":  req.CustomerName,
			"customerEmail": req.CustomerEmail,
			"successUrl":    req.ReturnURL,
			"failUrl":       req.CancelURL,
		},
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}, nil
}

type tossPayment struct {
	PaymentKey  string `json:"paymentKey"`
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"totalAmount"`
	Method      string `json:"method"`
	ApproveNo   string `json:"approveNo"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

func (a *TossAdapter) Confirm(ctx context.Context, paymentID string, providerData map[string]string) (*Response, error) {
	payload := map[string]any{
		"paymentKey": providerData["paymentKey"],
		"orderId":    providerData["orderId"],
		"amount":     providerData["amount"],
	}
	raw, status, err := a.post(ctx, "confirm", "/v1/payments/confirm", payload)
	if err != nil {
		return nil, err
	}

	var p tossPayment
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, transportErr(tossName, "confirm", err)
	}
	if status >= 400 || p.Status != "DONE" {
		code := p.Code
		if code == "" {
			code = "CONFIRM_REJECTED"
		}
		return &Response{Success: false, ErrorCode: code, ErrorMessage: p.Message, Raw: raw}, nil
	}
	return &Response{
		Success:        true,
		TransactionID:  p.PaymentKey,
		ApprovalNumber: p.ApproveNo,
		Raw:            raw,
	}, nil
}

func (a *TossAdapter) Cancel(ctx context.Context, paymentID, reason string) (*Response, error) {
	raw, status, err := a.post(ctx, "cancel", "/v1/payments/"+paymentID+"/cancel", map[string]any{
		"cancelReason": reason,
	})
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		var p tossPayment
		_ = json.Unmarshal(raw, &p)
		return &Response{Success: false, ErrorCode: p.Code, ErrorMessage: p.Message, Raw: raw}, nil
	}
	return &Response{Success: true, TransactionID: paymentID, Raw: raw}, nil
}

func (a *TossAdapter) Refund(ctx context.Context, req RefundRequest) (*Response, error) {
	// Toss refunds through the cancel endpoint with a partial cancelAmount.
	raw, status, err := a.post(ctx, "refund", "/v1/payments/"+req.TransactionID+"/cancel", map[string]any{
		"cancelReason": req.Reason,
		"cancelAmount": ProviderAmount(req.Amount, req.Currency),
	})
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		var p tossPayment
		_ = json.Unmarshal(raw, &p)
		code := p.Code
		if code == "" {
			code = "REFUND_REJECTED"
		}
		return &Response{Success: false, ErrorCode: code, ErrorMessage: p.Message, Raw: raw}, nil
	}
	return &Response{Success: true, TransactionID: req.TransactionID, Raw: raw}, nil
}

// VerifyWebhookSignature is best-effort: Toss webhooks carry no standard
// signature scheme, so when a shared webhook secret is configured we compare
// an HMAC-SHA256 of the raw payload; with no secret configured everything
// passes.
func (a *TossAdapter) VerifyWebhookSignature(payload []byte, signature string) bool {
	if a.cfg.WebhookSecret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookSecret))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type tossWebhookPayload struct {
	EventType string `json:"eventType"`
	Data      struct {
		PaymentKey  string `json:"paymentKey"`
		OrderID     string `json:"orderId"`
		Status      string `json:"status"`
		TotalAmount int64  `json:"totalAmount"`
	} `json:"data"`
}

func (a *TossAdapter) ParseWebhookEvent(eventName string, payload []byte) (*WebhookEvent, error) {
	var p tossWebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("toss: decode webhook payload: %w", err)
	}
	if eventName == "" {
		eventName = p.EventType
	}

	var kind EventKind
	switch eventName {
	case "PAYMENT_STATUS_CHANGED", "DEPOSIT_CALLBACK":
		switch p.Data.Status {
		case "DONE":
			kind = EventPaymentSucceeded
		case "CANCELED", "PARTIAL_CANCELED":
			kind = EventRefundCompleted
		case "ABORTED", "EXPIRED":
			kind = EventPaymentFailed
		default:
			return nil, fmt.Errorf("toss: unhandled payment status %q", p.Data.Status)
		}
	case "BILLING_PAYMENT_APPROVED":
		kind = EventRecurringSucceeded
	default:
		return nil, fmt.Errorf("toss: unhandled webhook event %q", eventName)
	}

	return &WebhookEvent{
		Kind:             kind,
		TransactionID:    p.Data.PaymentKey,
		GatewayPaymentID: "toss-" + p.Data.OrderID,
		Amount:           p.Data.TotalAmount,
		Currency:         "KRW",
		Raw:              payload,
	}, nil
}

func (a *TossAdapter) GenerateReceipt(ctx context.Context, paymentID, transactionID string) (*Receipt, error) {
	headers := map[string]string{"Authorization": a.authHeader()}
	raw, _, err := doRequest(ctx, a.client, tossName, "receipt", http.MethodGet, a.cfg.BaseURL+"/v1/payments/"+transactionID, headers, nil)
	if err != nil {
		return nil, err
	}
	var p tossPayment
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, transportErr(tossName, "receipt", err)
	}
	return &Receipt{
		PaymentID:      paymentID,
		TransactionID:  p.PaymentKey,
		Amount:         p.TotalAmount,
		Currency:       "KRW",
		Method:         p.Method,
		ApprovalNumber: p.ApproveNo,
		IssuedAt:       time.Now(),
	}, nil
}
