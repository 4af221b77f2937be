package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const paypalName = "paypal"

// PayPalConfig holds the REST client credentials for the PayPal-style adapter.
type PayPalConfig struct {
	ClientID  string
	Secret    string
	WebhookID string
	BaseURL   string
	Timeout   time.Duration
}

// PayPalAdapter drives the orders API: initiate creates an order and returns
// the approval link, confirm captures it after the customer approves.
type PayPalAdapter struct {
	cfg    PayPalConfig
	client *http.Client
}

func NewPayPalAdapter(cfg PayPalConfig) *PayPalAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-m.paypal.com"
	}
	return &PayPalAdapter{cfg: cfg, client: newHTTPClient(cfg.Timeout)}
}

func (a *PayPalAdapter) Name() string { return paypalName }

func (a *PayPalAdapter) SupportedMethods() []string { return []string{"paypal", "card"} }

func (a *PayPalAdapter) SupportedCurrencies() []string {
	return []string{"USD", "EUR", "GBP", "AUD", "CAD", "JPY"}
}

func (a *PayPalAdapter) accessToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	basic := base64.StdEncoding.EncodeToString([]byte(a.cfg.ClientID + ":" + a.cfg.Secret))
	headers := map[string]string{
		"Authorization": "Basic " + basic,
		"Content-Type":  "application/x-www-form-urlencoded",
	}
	raw, status, err := doRequest(ctx, a.client, paypalName, "token", http.MethodPost, a.cfg.BaseURL+"/v1/oauth2/token", headers, []byte(form.Encode()))
	if err != nil {
		return "", err
	}
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &tok); err != nil || status >= 400 || tok.AccessToken == "" {
		return "", transportErr(paypalName, "token", fmt.Errorf("token request failed (status %d)", status))
	}
	return tok.AccessToken, nil
}

func (a *PayPalAdapter) call(ctx context.Context, op, method, path string, payload any) (json.RawMessage, int, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, 0, err
	}
	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, 0, transportErr(paypalName, op, err)
		}
	}
	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/json",
	}
	return doRequest(ctx, a.client, paypalName, op, method, a.cfg.BaseURL+path, headers, body)
}

// amountString renders an amount the way the orders API expects: decimal for
// fractional currencies, whole number otherwise.
func amountString(amount int64, currency string) string {
	if zeroDecimal[currency] {
		return strconv.FormatInt(amount, 10)
	}
	return fmt.Sprintf("%d.00", amount)
}

type paypalOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Amount struct {
					Value        string `json:"value"`
					CurrencyCode string `json:"currency_code"`
				} `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (a *PayPalAdapter) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	raw, status, err := a.call(ctx, "initiate", http.MethodPost, "/v2/checkout/orders", map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.OrderID,
			"custom_id":    req.OrderID,
			"amount": map[string]string{
				"currency_code": req.Currency,
				"value":         amountString(req.Amount, req.Currency),
			},
		}},
		"application_context": map[string]string{
			"return_url": req.ReturnURL,
			"cancel_url": req.CancelURL,
		},
	})
	if err != nil {
		return nil, err
	}

	var order paypalOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, transportErr(paypalName, "initiate", err)
	}
	if status >= 400 || order.ID == "" {
		return nil, fmt.Errorf("paypal initiate: order creation failed (status %d)", status)
	}

	approval := ""
	for _, link := range order.Links {
		if link.Rel == "approve" {
			approval = link.Href
		}
	}
	return &InitiateResult{
		PaymentID:  order.ID,
		PaymentURL: approval,
		ExpiresAt:  time.Now().Add(3 * time.Hour),
	}, nil
}

func (a *PayPalAdapter) Confirm(ctx context.Context, paymentID string, providerData map[string]string) (*Response, error) {
	raw, status, err := a.call(ctx, "confirm", http.MethodPost, "/v2/checkout/orders/"+paymentID+"/capture", struct{}{})
	if err != nil {
		return nil, err
	}

	var order paypalOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, transportErr(paypalName, "confirm", err)
	}
	if status >= 400 || order.Status != "COMPLETED" {
		resp := &Response{Success: false, ErrorCode: "CAPTURE_FAILED", ErrorMessage: "order status " + order.Status, Raw: raw}
		if len(order.Details) > 0 {
			resp.ErrorCode = order.Details[0].Issue
			resp.ErrorMessage = order.Details[0].Description
		}
		return resp, nil
	}

	captureID := ""
	if len(order.PurchaseUnits) > 0 && len(order.PurchaseUnits[0].Payments.Captures) > 0 {
		captureID = order.PurchaseUnits[0].Payments.Captures[0].ID
	}
	return &Response{
		Success:        true,
		TransactionID:  captureID,
		ApprovalNumber: order.ID,
		Raw:            raw,
	}, nil
}

// Cancel is a no-op success: an unapproved PayPal order expires on its own
// and the API offers no void call for it.
func (a *PayPalAdapter) Cancel(ctx context.Context, paymentID, reason string) (*Response, error) {
	return &Response{Success: true, Raw: json.RawMessage(`{"note":"unapproved orders expire automatically"}`)}, nil
}

func (a *PayPalAdapter) Refund(ctx context.Context, req RefundRequest) (*Response, error) {
	raw, status, err := a.call(ctx, "refund", http.MethodPost, "/v2/payments/captures/"+req.TransactionID+"/refund", map[string]any{
		"amount": map[string]string{
			"currency_code": req.Currency,
			"value":         amountString(req.Amount, req.Currency),
		},
		"note_to_payer": req.Reason,
	})
	if err != nil {
		return nil, err
	}

	var refund struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Details []struct {
			Issue       string `json:"issue"`
			Description string `json:"description"`
		} `json:"details"`
	}
	if err := json.Unmarshal(raw, &refund); err != nil {
		return nil, transportErr(paypalName, "refund", err)
	}
	if status >= 400 || (refund.Status != "COMPLETED" && refund.Status != "PENDING") {
		resp := &Response{Success: false, ErrorCode: "REFUND_FAILED", Raw: raw}
		if len(refund.Details) > 0 {
			resp.ErrorCode = refund.Details[0].Issue
			resp.ErrorMessage = refund.Details[0].Description
		}
		return resp, nil
	}
	return &Response{Success: true, TransactionID: refund.ID, Raw: raw}, nil
}

// VerifyWebhookSignature is best-effort: full verification requires a
// round trip to the provider's verify endpoint, so offline we check an
// HMAC-SHA256 of the payload keyed by the configured webhook id.
func (a *PayPalAdapter) VerifyWebhookSignature(payload []byte, signature string) bool {
	if a.cfg.WebhookID == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookID))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type paypalWebhookPayload struct {
	Resource struct {
		ID       string `json:"id"`
		CustomID string `json:"custom_id"`
		Status   string `json:"status"`
		Amount   struct {
			Value        string `json:"value"`
			CurrencyCode string `json:"currency_code"`
		} `json:"amount"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

var paypalEventKinds = map[string]EventKind{
	"PAYMENT.CAPTURE.COMPLETED": EventPaymentSucceeded,
	"PAYMENT.CAPTURE.DENIED":    EventPaymentFailed,
	"CHECKOUT.ORDER.VOIDED":     EventPaymentCancelled,
	"CUSTOMER.DISPUTE.CREATED":  EventChargebackCreated,
	"PAYMENT.CAPTURE.REFUNDED":  EventRefundCompleted,
	"PAYMENT.SALE.COMPLETED":    EventRecurringSucceeded,
}

func (a *PayPalAdapter) ParseWebhookEvent(eventName string, payload []byte) (*WebhookEvent, error) {
	kind, ok := paypalEventKinds[eventName]
	if !ok {
		return nil, fmt.Errorf("paypal: unhandled webhook event %q", eventName)
	}

	var p paypalWebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("paypal: decode webhook payload: %w", err)
	}

	currency := p.Resource.Amount.CurrencyCode
	amount := int64(0)
	if v := p.Resource.Amount.Value; v != "" {
		whole := strings.SplitN(v, ".", 2)[0]
		amount, _ = strconv.ParseInt(whole, 10, 64)
	}

	return &WebhookEvent{
		Kind:             kind,
		TransactionID:    p.Resource.ID,
		GatewayPaymentID: p.Resource.SupplementaryData.RelatedIDs.OrderID,
		Amount:           amount,
		Currency:         currency,
		Raw:              payload,
	}, nil
}

func (a *PayPalAdapter) GenerateReceipt(ctx context.Context, paymentID, transactionID string) (*Receipt, error) {
	raw, _, err := a.call(ctx, "receipt", http.MethodGet, "/v2/payments/captures/"+transactionID, nil)
	if err != nil {
		return nil, err
	}
	var capture struct {
		ID     string `json:"id"`
		Amount struct {
			Value        string `json:"value"`
			CurrencyCode string `json:"currency_code"`
		} `json:"amount"`
	}
	if err := json.Unmarshal(raw, &capture); err != nil {
		return nil, transportErr(paypalName, "receipt", err)
	}
	amount, _ := strconv.ParseInt(strings.SplitN(capture.Amount.Value, ".", 2)[0], 10, 64)
	return &Receipt{
		PaymentID:      paymentID,
		TransactionID:  capture.ID,
		Amount:         amount,
		Currency:       capture.Amount.CurrencyCode,
		Method:         "paypal",
		ApprovalNumber: capture.ID,
		IssuedAt:       time.Now(),
	}, nil
}
