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

const kcpName = "kcp"

// KCPConfig holds the site credentials for the KCP-style adapter.
type KCPConfig struct {
	SiteCode string
	SiteKey  string
	CertInfo string
	BaseURL  string
	Timeout  time.Duration
}

// KCPAdapter implements the two-step trade-register flow: initiate registers
// the order and returns window parameters, confirm posts the encrypted auth
// data back for approval.
type KCPAdapter struct {
	cfg    KCPConfig
	client *http.Client
}

func NewKCPAdapter(cfg KCPConfig) *KCPAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://stg-spl.kcp.co.kr"
	}
	return &KCPAdapter{cfg: cfg, client: newHTTPClient(cfg.Timeout)}
}

func (a *KCPAdapter) Name() string { return kcpName }

func (a *KCPAdapter) SupportedMethods() []string {
	return []string{"card", "bank_transfer", "virtual_account", "mobile", "gift_certificate"}
}

func (a *KCPAdapter) SupportedCurrencies() []string { return []string{"KRW"} }

func (a *KCPAdapter) post(ctx context.Context, op, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, transportErr(kcpName, op, err)
	}
	headers := map[string]string{"Content-Type": "application/json"}
	raw, _, err := doRequest(ctx, a.client, kcpName, op, http.MethodPost, a.cfg.BaseURL+path, headers, body)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

type kcpResult struct {
	ResCd       string `json:"res_cd"`
	ResMsg      string `json:"res_msg"`
	TNO         string `json:"tno"`
	ApprovalKey string `json:"approval_key"`
	AppNo       string `json:"app_no"`
	Amount      int64  `json:"amount,string"`
	PayMethod   string `json:"pay_method"`
}

func (a *KCPAdapter) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	raw, err := a.post(ctx, "initiate", "/std/tradeReg/register", map[string]any{
		"site_cd":   a.cfg.SiteCode,
		"ordr_idxx": req.OrderID,
		"good_mny":  fmt.Sprintf("%d", ProviderAmount(req.Amount, req.Currency)),
		"good_name": "Order " + req.OrderID,
		"buyr_name": req.CustomerName,
		"buyr_mail": req.CustomerEmail,
		"buyr_tel2": req.CustomerPhone,
		"ret_url":   req.ReturnURL,
		"escw_used": "N",
	})
	if err != nil {
		return nil, err
	}

	var res kcpResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, transportErr(kcpName, "initiate", err)
	}
	if res.ResCd != "0000" {
		return nil, fmt.Errorf("kcp initiate: %s (%s)", res.ResMsg, res.ResCd)
	}

	return &InitiateResult{
		PaymentID: "kcp-" + req.OrderID,
		SessionData: map[string]string{
			"site_cd":      a.cfg.SiteCode,
			"ordr_idxx":    req.OrderID,
			"approval_key": res.ApprovalKey,
			"good_mny":     fmt.Sprintf("%d", ProviderAmount(req.Amount, req.Currency)),
		},
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}, nil
}

func (a *KCPAdapter) Confirm(ctx context.Context, paymentID string, providerData map[string]string) (*Response, error) {
	raw, err := a.post(ctx, "confirm", "/std/payment", map[string]any{
		"site_cd":       a.cfg.SiteCode,
		"kcp_cert_info": a.cfg.CertInfo,
		"tran_cd":       providerData["tran_cd"],
		"enc_data":      providerData["enc_data"],
		"enc_info":      providerData["enc_info"],
	})
	if err != nil {
		return nil, err
	}

	var res kcpResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, transportErr(kcpName, "confirm", err)
	}
	if res.ResCd != "0000" {
		return &Response{Success: false, ErrorCode: res.ResCd, ErrorMessage: res.ResMsg, Raw: raw}, nil
	}
	return &Response{
		Success:        true,
		TransactionID:  res.TNO,
		ApprovalNumber: res.AppNo,
		Raw:            raw,
	}, nil
}

// Cancel is a no-op success before approval; a registered trade that is never
// paid simply lapses.
func (a *KCPAdapter) Cancel(ctx context.Context, paymentID, reason string) (*Response, error) {
	return &Response{Success: true, Raw: json.RawMessage(`{"note":"no server-side cancel before approval"}`)}, nil
}

func (a *KCPAdapter) Refund(ctx context.Context, req RefundRequest) (*Response, error) {
	raw, err := a.post(ctx, "refund", "/std/cancel", map[string]any{
		"site_cd":       a.cfg.SiteCode,
		"kcp_cert_info": a.cfg.CertInfo,
		"tno":           req.TransactionID,
		"mod_type":      "STSC",
		"mod_mny":       fmt.Sprintf("%d", ProviderAmount(req.Amount, req.Currency)),
		"mod_desc":      req.Reason,
	})
	if err != nil {
		return nil, err
	}

	var res kcpResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, transportErr(kcpName, "refund", err)
	}
	if res.ResCd != "0000" {
		return &Response{Success: false, ErrorCode: res.ResCd, ErrorMessage: res.ResMsg, Raw: raw}, nil
	}
	return &Response{Success: true, TransactionID: res.TNO, Raw: raw}, nil
}

// VerifyWebhookSignature is best-effort: KCP notifications carry no real
// signature scheme, so a configured site key gates an HMAC comparison and an
// empty signature passes.
func (a *KCPAdapter) VerifyWebhookSignature(payload []byte, signature string) bool {
	if signature == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(a.cfg.SiteKey))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type kcpWebhookPayload struct {
	TNO      string `json:"tno"`
	OrderNo  string `json:"ordr_idxx"`
	TxStatus string `json:"tx_stat"`
	Amount   int64  `json:"amount,string"`
	ResCd    string `json:"res_cd"`
	ResMsg   string `json:"res_msg"`
}

func (a *KCPAdapter) ParseWebhookEvent(eventName string, payload []byte) (*WebhookEvent, error) {
	var p kcpWebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("kcp: decode webhook payload: %w", err)
	}

	var kind EventKind
	switch eventName {
	case "payment.completed", "vbank.deposit":
		kind = EventPaymentSucceeded
	case "payment.failed":
		kind = EventPaymentFailed
	case "payment.cancelled":
		kind = EventPaymentCancelled
	case "payment.refunded":
		kind = EventRefundCompleted
	default:
		return nil, fmt.Errorf("kcp: unhandled webhook event %q", eventName)
	}

	return &WebhookEvent{
		Kind:             kind,
		TransactionID:    p.TNO,
		GatewayPaymentID: "kcp-" + p.OrderNo,
		Amount:           p.Amount,
		Currency:         "KRW",
		ErrorCode:        p.ResCd,
		ErrorMessage:     p.ResMsg,
		Raw:              payload,
	}, nil
}

func (a *KCPAdapter) GenerateReceipt(ctx context.Context, paymentID, transactionID string) (*Receipt, error) {
	raw, err := a.post(ctx, "receipt", "/std/transaction", map[string]any{
		"site_cd": a.cfg.SiteCode,
		"tno":     transactionID,
	})
	if err != nil {
		return nil, err
	}
	var res kcpResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, transportErr(kcpName, "receipt", err)
	}
	return &Receipt{
		PaymentID:      paymentID,
		TransactionID:  res.TNO,
		Amount:         res.Amount,
		Currency:       "KRW",
		Method:         res.PayMethod,
		ApprovalNumber: res.AppNo,
		IssuedAt:       time.Now(),
	}, nil
}
