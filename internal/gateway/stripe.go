package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const stripeName = "stripe"

// StripeConfig holds the read-only credentials for the Stripe adapter.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string // defaults to the live API host
	Timeout       time.Duration
}

// StripeAdapter talks the Stripe-style form-encoded REST API and verifies
// webhooks with the t=<ts>,v1=<hmac> signature scheme.
type StripeAdapter struct {
	cfg    StripeConfig
	client *http.Client
}

func NewStripeAdapter(cfg StripeConfig) *StripeAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.stripe.com"
	}
	return &StripeAdapter{cfg: cfg, client: newHTTPClient(cfg.Timeout)}
}

func (a *StripeAdapter) Name() string { return stripeName }

func (a *StripeAdapter) SupportedMethods() []string {
	return []string{"card", "apple_pay", "google_pay"}
}

func (a *StripeAdapter) SupportedCurrencies() []string {
	return []string{"USD", "EUR", "GBP", "KRW", "JPY"}
}

func (a *StripeAdapter) post(ctx context.Context, op, path string, form url.Values, out any) (json.RawMessage, int, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + a.cfg.SecretKey,
		"Content-Type":  "application/x-www-form-urlencoded",
	}
	body, status, err := doRequest(ctx, a.client, stripeName, op, http.MethodPost, a.cfg.BaseURL+path, headers, []byte(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, 0, transportErr(stripeName, op, err)
		}
	}
	return body, status, nil
}

func (a *StripeAdapter) get(ctx context.Context, op, path string, out any) (json.RawMessage, int, error) {
	headers := map[string]string{"Authorization": "Bearer " + a.cfg.SecretKey}
	body, status, err := doRequest(ctx, a.client, stripeName, op, http.MethodGet, a.cfg.BaseURL+path, headers, nil)
	if err != nil {
		return nil, 0, err
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, 0, transportErr(stripeName, op, err)
		}
	}
	return body, status, nil
}

type stripeSession struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
	Error     *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *StripeAdapter) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", req.OrderID)
	form.Set("customer_email", req.CustomerEmail)
	form.Set("success_url", req.ReturnURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", fmt.Sprintf("%d", ProviderAmount(req.Amount, req.Currency)))
	form.Set("line_items[0][price_data][product_data][name]", "Order "+req.OrderID)
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var session stripeSession
	_, status, err := a.post(ctx, "initiate", "/v1/checkout/sessions", form, &session)
	if err != nil {
		return nil, err
	}
	if status >= 400 || session.Error != nil {
		msg := "checkout session rejected"
		if session.Error != nil {
			msg = session.Error.Message
		}
		return nil, fmt.Errorf("stripe initiate: %s", msg)
	}

	return &InitiateResult{
		PaymentID:  session.ID,
		PaymentURL: session.URL,
		ExpiresAt:  time.Unix(session.ExpiresAt, 0),
	}, nil
}

type stripeIntent struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	LatestCharge     string `json:"latest_charge"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

func (a *StripeAdapter) Confirm(ctx context.Context, paymentID string, providerData map[string]string) (*Response, error) {
	// The checkout session resolves to a payment intent once the customer
	// returns; providerData carries its id.
	intentID := providerData["payment_intent"]
	if intentID == "" {
		intentID = paymentID
	}

	var intent stripeIntent
	raw, _, err := a.get(ctx, "confirm", "/v1/payment_intents/"+intentID, &intent)
	if err != nil {
		return nil, err
	}

	if intent.Status != "succeeded" {
		resp := &Response{Success: false, ErrorCode: "PAYMENT_NOT_SUCCEEDED", ErrorMessage: "payment intent status " + intent.Status, Raw: raw}
		if intent.LastPaymentError != nil {
			resp.ErrorCode = strings.ToUpper(intent.LastPaymentError.Code)
			resp.ErrorMessage = intent.LastPaymentError.Message
		}
		return resp, nil
	}
	return &Response{
		Success:        true,
		TransactionID:  intent.ID,
		ApprovalNumber: intent.LatestCharge,
		Raw:            raw,
	}, nil
}

func (a *StripeAdapter) Cancel(ctx context.Context, paymentID, reason string) (*Response, error) {
	form := url.Values{}
	form.Set("cancellation_reason", "requested_by_customer")

	var intent stripeIntent
	raw, status, err := a.post(ctx, "cancel", "/v1/payment_intents/"+paymentID+"/cancel", form, &intent)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return &Response{Success: false, ErrorCode: "CANCEL_REJECTED", ErrorMessage: reason, Raw: raw}, nil
	}
	return &Response{Success: true, TransactionID: intent.ID, Raw: raw}, nil
}

type stripeRefund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *StripeAdapter) Refund(ctx context.Context, req RefundRequest) (*Response, error) {
	form := url.Values{}
	form.Set("payment_intent", req.TransactionID)
	form.Set("amount", fmt.Sprintf("%d", ProviderAmount(req.Amount, req.Currency)))
	if req.Reason != "" {
		form.Set("metadata[reason]", req.Reason)
	}

	var refund stripeRefund
	raw, status, err := a.post(ctx, "refund", "/v1/refunds", form, &refund)
	if err != nil {
		return nil, err
	}
	if status >= 400 || refund.Error != nil {
		resp := &Response{Success: false, ErrorCode: "REFUND_REJECTED", Raw: raw}
		if refund.Error != nil {
			resp.ErrorCode = strings.ToUpper(refund.Error.Code)
			resp.ErrorMessage = refund.Error.Message
		}
		return resp, nil
	}
	return &Response{Success: true, TransactionID: refund.ID, Raw: raw}, nil
}

// VerifyWebhookSignature checks the "t=<unix>,v1=<hex>" header scheme:
// HMAC-SHA256 of "<t>.<payload>" with the webhook secret, compared in
// constant time.
func (a *StripeAdapter) VerifyWebhookSignature(payload []byte, signature string) bool {
	var ts, v1 string
	for _, part := range strings.Split(signature, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if ts == "" || v1 == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	provided, err := hex.DecodeString(v1)
	if err != nil {
		return false
	}
	decoded, _ := hex.DecodeString(expected)
	return hmac.Equal(decoded, provided)
}

type stripeWebhookPayload struct {
	Data struct {
		Object struct {
			ID            string            `json:"id"`
			PaymentIntent string            `json:"payment_intent"`
			Amount        int64             `json:"amount"`
			Currency      string            `json:"currency"`
			Metadata      map[string]string `json:"metadata"`
			LastPaymentError *struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"last_payment_error"`
		} `json:"object"`
	} `json:"data"`
}

var stripeEventKinds = map[string]EventKind{
	"payment_intent.succeeded":      EventPaymentSucceeded,
	"payment_intent.payment_failed": EventPaymentFailed,
	"payment_intent.canceled":       EventPaymentCancelled,
	"charge.dispute.created":        EventChargebackCreated,
	"charge.refunded":               EventRefundCompleted,
	"invoice.payment_succeeded":     EventRecurringSucceeded,
}

func (a *StripeAdapter) ParseWebhookEvent(eventName string, payload []byte) (*WebhookEvent, error) {
	kind, ok := stripeEventKinds[eventName]
	if !ok {
		return nil, fmt.Errorf("stripe: unhandled webhook event %q", eventName)
	}

	var p stripeWebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("stripe: decode webhook payload: %w", err)
	}

	obj := p.Data.Object
	txID := obj.ID
	if obj.PaymentIntent != "" {
		txID = obj.PaymentIntent
	}
	ev := &WebhookEvent{
		Kind:             kind,
		TransactionID:    txID,
		GatewayPaymentID: obj.Metadata["checkout_session"],
		Amount:           LocalAmount(obj.Amount, strings.ToUpper(obj.Currency)),
		Currency:         strings.ToUpper(obj.Currency),
		Raw:              payload,
	}
	if obj.LastPaymentError != nil {
		ev.ErrorCode = strings.ToUpper(obj.LastPaymentError.Code)
		ev.ErrorMessage = obj.LastPaymentError.Message
	}
	return ev, nil
}

func (a *StripeAdapter) GenerateReceipt(ctx context.Context, paymentID, transactionID string) (*Receipt, error) {
	var intent stripeIntent
	_, _, err := a.get(ctx, "receipt", "/v1/payment_intents/"+transactionID, &intent)
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(intent.Currency)
	return &Receipt{
		PaymentID:      paymentID,
		TransactionID:  intent.ID,
		Amount:         LocalAmount(intent.Amount, currency),
		Currency:       currency,
		Method:         "card",
		ApprovalNumber: intent.LatestCharge,
		IssuedAt:       time.Now(),
	}, nil
}
