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
	"time"
)

const inicisName = "inicis"

// InicisConfig holds the merchant credentials for the Inicis-style adapter.
type InicisConfig struct {
	MID     string
	SignKey string
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// InicisAdapter implements the merchant-page flow: initiate renders signed
// form parameters for the provider's payment window, confirm exchanges the
// returned auth token at the auth URL the provider supplies.
type InicisAdapter struct {
	cfg    InicisConfig
	client *http.Client
}

func NewInicisAdapter(cfg InicisConfig) *InicisAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://iniapi.inicis.com"
	}
	return &InicisAdapter{cfg: cfg, client: newHTTPClient(cfg.Timeout)}
}

func (a *InicisAdapter) Name() string { return inicisName }

func (a *InicisAdapter) SupportedMethods() []string {
	return []string{"card", "bank_transfer", "virtual_account", "mobile"}
}

func (a *InicisAdapter) SupportedCurrencies() []string { return []string{"KRW"} }

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (a *InicisAdapter) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())
	oid := req.OrderID
	price := fmt.Sprintf("%d", ProviderAmount(req.Amount, req.Currency))

	// The payment window validates this field-hash against the sign key.
	signature := sha256Hex("oid=" + oid + "&price=" + price + "&timestamp=" + timestamp)
	verification := sha256Hex("oid=" + oid + "&price=" + price + "&signKey=" + a.cfg.SignKey + "&timestamp=" + timestamp)

	return &InitiateResult{
		PaymentID: "inicis-" + oid,
		SessionData: map[string]string{
			"mid":          a.cfg.MID,
			"oid":          oid,
			"price":        price,
			"timestamp":    timestamp,
			"signature":    signature,
			"verification": verification,
			"mKey":         sha256Hex(a.cfg.SignKey),
			"buyername":    req.CustomerName,
			"buyeremail":   req.CustomerEmail,
			"buyertel":     req.CustomerPhone,
			"returnUrl":    req.ReturnURL,
			"closeUrl":     req.CancelURL,
		},
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}, nil
}

type inicisAuthResult struct {
	ResultCode string `json:"resultCode"`
	ResultMsg  string `json:"resultMsg"`
	TID        string `json:"tid"`
	ApplNum    string `json:"applNum"`
	TotPrice   int64  `json:"TotPrice,string"`
	PayMethod  string `json:"payMethod"`
	BuyerName  string `json:"buyerName"`
}

func (a *InicisAdapter) Confirm(ctx context.Context, paymentID string, providerData map[string]string) (*Response, error) {
	authURL := providerData["authUrl"]
	if authURL == "" {
		authURL = a.cfg.BaseURL + "/api/payAuth"
	}

	form := url.Values{}
	form.Set("mid", a.cfg.MID)
	form.Set("authToken", providerData["authToken"])
	form.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	form.Set("signature", sha256Hex("authToken="+providerData["authToken"]+"&timestamp="+form.Get("timestamp")))
	form.Set("charset", "UTF-8")
	form.Set("format", "JSON")

	headers := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}
	raw, _, err := doRequest(ctx, a.client, inicisName, "confirm", http.MethodPost, authURL, headers, []byte(form.Encode()))
	if err != nil {
		return nil, err
	}

	var res inicisAuthResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, transportErr(inicisName, "confirm", err)
	}
	if res.ResultCode != "0000" {
		return &Response{Success: false, ErrorCode: res.ResultCode, ErrorMessage: res.ResultMsg, Raw: raw}, nil
	}
	return &Response{
		Success:        true,
		TransactionID:  res.TID,
		ApprovalNumber: res.ApplNum,
		Raw:            raw,
	}, nil
}

// Cancel is a no-op success: an unconfirmed Inicis window transaction simply
// expires, there is nothing server-side to void.
func (a *InicisAdapter) Cancel(ctx context.Context, paymentID, reason string) (*Response, error) {
	return &Response{Success: true, Raw: json.RawMessage(`{"note":"no server-side cancel before approval"}`)}, nil
}

type inicisRefundResult struct {
	ResultCode string `json:"resultCode"`
	ResultMsg  string `json:"resultMsg"`
	CancelTID  string `json:"cancelTid"`
}

func (a *InicisAdapter) Refund(ctx context.Context, req RefundRequest) (*Response, error) {
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())
	payload := map[string]any{
		"mid":       a.cfg.MID,
		"tid":       req.TransactionID,
		"price":     ProviderAmount(req.Amount, req.Currency),
		"msg":       req.Reason,
		"timestamp": timestamp,
		"hashData":  sha256Hex(a.cfg.APIKey + a.cfg.MID + "refund" + timestamp + req.TransactionID),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, transportErr(inicisName, "refund", err)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	raw, _, err := doRequest(ctx, a.client, inicisName, "refund", http.MethodPost, a.cfg.BaseURL+"/api/v1/refund", headers, body)
	if err != nil {
		return nil, err
	}

	var res inicisRefundResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, transportErr(inicisName, "refund", err)
	}
	if res.ResultCode != "00" && res.ResultCode != "0000" {
		return &Response{Success: false, ErrorCode: res.ResultCode, ErrorMessage: res.ResultMsg, Raw: raw}, nil
	}
	return &Response{Success: true, TransactionID: res.CancelTID, Raw: raw}, nil
}

// VerifyWebhookSignature checks the deposit-notification field hash computed
// over the raw payload with the sign key. Best-effort when no signature is
// sent (older notification formats carry none).
func (a *InicisAdapter) VerifyWebhookSignature(payload []byte, signature string) bool {
	if signature == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(a.cfg.SignKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	decoded, _ := hex.DecodeString(expected)
	return hmac.Equal(decoded, provided)
}

type inicisWebhookPayload struct {
	TID        string `json:"tid"`
	Oid        string `json:"oid"`
	Status     string `json:"status"`
	Price      int64  `json:"price"`
	ResultCode string `json:"resultCode"`
	ResultMsg  string `json:"resultMsg"`
}

func (a *InicisAdapter) ParseWebhookEvent(eventName string, payload []byte) (*WebhookEvent, error) {
	var p inicisWebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("inicis: decode webhook payload: %w", err)
	}

	var kind EventKind
	switch eventName {
	case "vbank.deposit", "payment.approved":
		kind = EventPaymentSucceeded
	case "payment.failed":
		kind = EventPaymentFailed
	case "payment.cancelled", "vbank.refund":
		kind = EventRefundCompleted
	default:
		return nil, fmt.Errorf("inicis: unhandled webhook event %q", eventName)
	}

	return &WebhookEvent{
		Kind:             kind,
		TransactionID:    p.TID,
		GatewayPaymentID: "inicis-" + p.Oid,
		Amount:           p.Price,
		Currency:         "KRW",
		ErrorCode:        p.ResultCode,
		ErrorMessage:     p.ResultMsg,
		Raw:              payload,
	}, nil
}

func (a *InicisAdapter) GenerateReceipt(ctx context.Context, paymentID, transactionID string) (*Receipt, error) {
	headers := map[string]string{"Content-Type": "application/json"}
	body, _ := json.Marshal(map[string]string{"mid": a.cfg.MID, "tid": transactionID})
	raw, _, err := doRequest(ctx, a.client, inicisName, "receipt", http.MethodPost, a.cfg.BaseURL+"/api/v1/transaction", headers, body)
	if err != nil {
		return nil, err
	}
	var res inicisAuthResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, transportErr(inicisName, "receipt", err)
	}
	return &Receipt{
		PaymentID:      paymentID,
		TransactionID:  res.TID,
		Amount:         res.TotPrice,
		Currency:       "KRW",
		Method:         res.PayMethod,
		ApprovalNumber: res.ApplNum,
		CustomerName:   res.BuyerName,
		IssuedAt:       time.Now(),
	}, nil
}
