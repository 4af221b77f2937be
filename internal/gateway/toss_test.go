package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTossInitiate_NoNetworkCall(t *testing.T) {
	adapter := NewTossAdapter(TossConfig{ClientKey: "ck_test", SecretKey: "sk_test", BaseURL: "http://127.0.0.1:1"})

	result, err := adapter.Initiate(context.Background(), InitiateRequest{
		OrderID:  "order-1",
		Amount:   50000,
		Currency: "KRW",
	})
	require.NoError(t, err)
	assert.Equal(t, "toss-order-1", result.PaymentID)
	assert.Equal(t, "ck_test", result.SessionData["clientKey"])
	assert.Equal(t, "50000", result.SessionData["amount"])
	assert.Empty(t, result.PaymentURL)
}

func TestTossConfirm_Done(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/confirm", r.URL.Path)
		authHeader := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(authHeader, "Basic "))
		decoded, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(authHeader, "Basic "))
		assert.Equal(t, "sk_test:", string(decoded))

		fmt.Fprint(w, `{"paymentKey":"pk_99","orderId":"order-1","status":"DONE","totalAmount":50000,"approveNo":"00012345"}`)
	}))
	defer server.Close()

	adapter := NewTossAdapter(TossConfig{SecretKey: "sk_test", BaseURL: server.URL})
	resp, err := adapter.Confirm(context.Background(), "toss-order-1", map[string]string{
		"paymentKey": "pk_99",
		"orderId":    "order-1",
		"amount":     "50000",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "pk_99", resp.TransactionID)
	assert.Equal(t, "00012345", resp.ApprovalNumber)
}

func TestTossConfirm_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":"EXCEED_MAX_CARD_INSTALLMENT_PLAN","message":"over the limit"}`)
	}))
	defer server.Close()

	adapter := NewTossAdapter(TossConfig{SecretKey: "sk_test", BaseURL: server.URL})
	resp, err := adapter.Confirm(context.Background(), "toss-order-1", map[string]string{})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "EXCEED_MAX_CARD_INSTALLMENT_PLAN", resp.ErrorCode)
}

func TestTossRefund_UsesCancelEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/pk_99/cancel", r.URL.Path)
		fmt.Fprint(w, `{"paymentKey":"pk_99","status":"PARTIAL_CANCELED"}`)
	}))
	defer server.Close()

	adapter := NewTossAdapter(TossConfig{SecretKey: "sk_test", BaseURL: server.URL})
	resp, err := adapter.Refund(context.Background(), RefundRequest{
		TransactionID: "pk_99",
		Amount:        10000,
		Currency:      "KRW",
		Reason:        "partial return",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestTossParseWebhookEvent(t *testing.T) {
	adapter := NewTossAdapter(TossConfig{})

	tests := []struct {
		status string
		want   EventKind
	}{
		{"DONE", EventPaymentSucceeded},
		{"CANCELED", EventRefundCompleted},
		{"ABORTED", EventPaymentFailed},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			payload := []byte(fmt.Sprintf(`{"eventType":"PAYMENT_STATUS_CHANGED","data":{"paymentKey":"pk_99","orderId":"order-1","status":%q,"totalAmount":50000}}`, tt.status))
			event, err := adapter.ParseWebhookEvent("", payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, event.Kind)
			assert.Equal(t, "pk_99", event.TransactionID)
			assert.Equal(t, "toss-order-1", event.GatewayPaymentID)
		})
	}

	_, err := adapter.ParseWebhookEvent("SOMETHING_ELSE", []byte(`{}`))
	assert.Error(t, err)
}

func TestTossVerifyWebhookSignature_NoSecretPasses(t *testing.T) {
	adapter := NewTossAdapter(TossConfig{})
	assert.True(t, adapter.VerifyWebhookSignature([]byte(`{}`), "anything"))

	withSecret := NewTossAdapter(TossConfig{WebhookSecret: "secret"})
	assert.False(t, withSecret.VerifyWebhookSignature([]byte(`{}`), "wrong"))
}
