package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/example/commerce-payments/internal/payment"
)

// Payment handlers

func (h *Handlers) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req payment.InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Kind: "validation", Message: err.Error()}})
		return
	}
	if req.OrderID == "" || req.Gateway == "" {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Kind: "validation", Message: "order_id and gateway are required"}})
		return
	}

	result, err := h.orchestrator.Initiate(r.Context(), req)
	if err != nil {
		respondErr(w, err)
		return
	}
	h.countPayment(req.Gateway, result.Payment.Status)
	respondJSON(w, http.StatusCreated, result)
}

func (h *Handlers) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := paymentIDFromPath(r.URL.Path, "/confirm")
	var req struct {
		TransactionID string            `json:"transaction_id"`
		ProviderData  map[string]string `json:"provider_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Kind: "validation", Message: err.Error()}})
		return
	}

	p, err := h.orchestrator.Confirm(r.Context(), paymentID, req.TransactionID, req.ProviderData)
	if err != nil {
		respondErr(w, err)
		return
	}
	h.countPayment(p.Gateway, p.Status)
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) CancelPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := paymentIDFromPath(r.URL.Path, "/cancel")
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Kind: "validation", Message: err.Error()}})
		return
	}

	p, err := h.orchestrator.Cancel(r.Context(), paymentID, req.Reason)
	if err != nil {
		respondErr(w, err)
		return
	}
	h.countPayment(p.Gateway, p.Status)
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) RefundPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := paymentIDFromPath(r.URL.Path, "/refund")
	var req struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Kind: "validation", Message: err.Error()}})
		return
	}

	p, err := h.orchestrator.Refund(r.Context(), paymentID, req.Amount, req.Reason)
	if err != nil {
		respondErr(w, err)
		return
	}
	h.countPayment(p.Gateway, p.Status)
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) PaymentReceipt(w http.ResponseWriter, r *http.Request) {
	paymentID := paymentIDFromPath(r.URL.Path, "/receipt")
	receipt, err := h.orchestrator.Receipt(r.Context(), paymentID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}

// Webhook handler

func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	gatewayName := strings.TrimPrefix(r.URL.Path, "/webhooks/")
	if gatewayName == "" {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Kind: "validation", Message: "gateway name is required"}})
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Kind: "validation", Message: "unreadable payload"}})
		return
	}

	eventName := r.Header.Get("X-Event-Name")
	if eventName == "" {
		eventName = r.URL.Query().Get("event")
	}
	signature := firstHeader(r, "Stripe-Signature", "X-Webhook-Signature", "Paypal-Transmission-Sig")

	if err := h.reconciler.Process(r.Context(), gatewayName, eventName, payload, signature); err != nil {
		h.countWebhook(gatewayName, "error")
		h.logger.Warn("webhook processing failed",
			zap.String("gateway", gatewayName),
			zap.String("event", eventName),
			zap.Error(err))
		respondErr(w, err)
		return
	}
	h.countWebhook(gatewayName, "ok")
	respondJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func firstHeader(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := r.Header.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func paymentIDFromPath(path, suffix string) string {
	return strings.TrimSuffix(strings.TrimPrefix(path, "/payments/"), suffix)
}

func (h *Handlers) countWebhook(gatewayName, result string) {
	if h.metrics != nil {
		h.metrics.WebhookEventsTotal.WithLabelValues(gatewayName, result).Inc()
	}
}
