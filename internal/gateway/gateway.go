package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventKind is the normalized webhook event classification shared by all
// providers. Provider-specific event names are mapped to one of these at the
// adapter boundary.
type EventKind string

const (
	EventPaymentSucceeded   EventKind = "payment_succeeded"
	EventPaymentFailed      EventKind = "payment_failed"
	EventPaymentCancelled   EventKind = "payment_cancelled"
	EventChargebackCreated  EventKind = "chargeback_created"
	EventRefundCompleted    EventKind = "refund_completed"
	EventRecurringSucceeded EventKind = "recurring_succeeded"
)

// InitiateRequest carries everything an adapter needs to open a payment
// session with its provider. It never touches local payment state.
type InitiateRequest struct {
	OrderID       string
	Amount        int64
	Currency      string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	ReturnURL     string
	CancelURL     string
	Metadata      map[string]string
}

// InitiateResult is what the client needs to complete payment out of band.
// Exactly one of PaymentURL or SessionData is populated depending on whether
// the provider redirects or hands back a client-side session descriptor.
type InitiateResult struct {
	PaymentID   string
	PaymentURL  string
	SessionData map[string]string
	ExpiresAt   time.Time
}

// Response is a provider's answer to confirm/cancel/refund. A business
// failure reported by the provider comes back as Success=false with an error
// code; it is not a Go error. Transport failures are returned as
// *TransportError instead.
type Response struct {
	Success        bool
	TransactionID  string
	ApprovalNumber string
	ErrorCode      string
	ErrorMessage   string
	Raw            json.RawMessage
}

// RefundRequest asks the provider to return part or all of a captured amount.
// Callers enforce the refund cap before reaching the adapter.
type RefundRequest struct {
	TransactionID string
	Amount        int64
	Currency      string
	Reason        string
}

// Receipt is rendered from the provider's authoritative transaction record.
type Receipt struct {
	PaymentID      string
	TransactionID  string
	Amount         int64
	Currency       string
	Method         string
	ApprovalNumber string
	CustomerName   string
	IssuedAt       time.Time
}

// WebhookEvent is a provider callback normalized into the closed event set.
// TransactionID matches the provider transaction id stored on confirm;
// GatewayPaymentID matches the provider-assigned key returned at initiate,
// for events that arrive before confirmation.
type WebhookEvent struct {
	Kind             EventKind
	TransactionID    string
	GatewayPaymentID string
	Amount           int64
	Currency         string
	ErrorCode        string
	ErrorMessage     string
	Raw              json.RawMessage
}

// Adapter is the per-provider capability interface. Implementations hold only
// read-only configuration; all methods are safe for concurrent use.
type Adapter interface {
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Confirm(ctx context.Context, paymentID string, providerData map[string]string) (*Response, error)
	Cancel(ctx context.Context, paymentID, reason string) (*Response, error)
	Refund(ctx context.Context, req RefundRequest) (*Response, error)
	VerifyWebhookSignature(payload []byte, signature string) bool
	ParseWebhookEvent(eventName string, payload []byte) (*WebhookEvent, error)
	GenerateReceipt(ctx context.Context, paymentID, transactionID string) (*Receipt, error)
	SupportedMethods() []string
	SupportedCurrencies() []string
}

// TransportError marks a network/timeout/protocol failure talking to a
// provider, as opposed to a provider-reported business failure.
type TransportError struct {
	Gateway string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway %s: %s: %v", e.Gateway, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportErr(gateway, op string, err error) error {
	return &TransportError{Gateway: gateway, Op: op, Err: err}
}
