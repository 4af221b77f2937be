package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/commerce-payments/internal/order"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusProcessing        Status = "processing"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

var (
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrDuplicatePayment      = errors.New("a non-terminal payment already exists for this order")
	ErrInvalidTransition     = errors.New("invalid payment status transition")
	ErrOrderNotPayable       = errors.New("order is not in a payable status")
	ErrNotRefundable         = errors.New("payment is not in a refundable status")
	ErrRefundExceedsCaptured = errors.New("refund amount exceeds captured amount")
	ErrGatewayDeclined       = errors.New("gateway declined the operation")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrInvalidAmount         = errors.New("amount must be positive")
)

// validTransitions defines the allowed status transitions.
var validTransitions = map[Status][]Status{
	StatusPending:           {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusProcessing:        {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:         {StatusRefunded, StatusPartiallyRefunded},
	StatusPartiallyRefunded: {StatusRefunded, StatusPartiallyRefunded},
	StatusFailed:            {},
	StatusCancelled:         {},
	StatusRefunded:          {},
}

// CanTransitionTo checks whether the payment may move to the target status.
func (p *Payment) CanTransitionTo(target Status) bool {
	for _, s := range validTransitions[p.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// Active reports whether the payment is in a non-terminal state. At most one
// active payment may exist per order.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing
}

type Payment struct {
	ID               string            `json:"id"`
	OrderID          string            `json:"order_id"`
	Amount           int64             `json:"amount"`
	RefundedAmount   int64             `json:"refunded_amount"`
	Currency         string            `json:"currency"`
	Status           Status            `json:"status"`
	Gateway          string            `json:"gateway"`
	Method           string            `json:"method"`
	TransactionID    string            `json:"transaction_id,omitempty"`
	GatewayPaymentID string            `json:"gateway_payment_id,omitempty"`
	GatewayResponse  json.RawMessage   `json:"-"`
	ProcessedAt      *time.Time        `json:"processed_at,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func (p *Payment) transition(target Status) error {
	if !p.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, target)
	}
	p.Status = target
	p.UpdatedAt = time.Now()
	return nil
}

// Store is the transactional boundary for payment state. Order status and
// history writes ride on the same transaction so payment + order + history
// commit atomically.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Get(ctx context.Context, id string) (*Payment, error)
	FindActiveByOrder(ctx context.Context, orderID string) (*Payment, error)
	FindByTransactionID(ctx context.Context, gateway, transactionID string) (*Payment, error)
	FindByGatewayPaymentID(ctx context.Context, gateway, gatewayPaymentID string) (*Payment, error)
}

// Tx exposes row-locked operations inside one transaction. PaymentForUpdate
// must block concurrent callers on the same payment row.
type Tx interface {
	PaymentForUpdate(ctx context.Context, id string) (*Payment, error)
	ActivePaymentForOrder(ctx context.Context, orderID string) (*Payment, error)
	CreatePayment(ctx context.Context, p *Payment) error
	SavePayment(ctx context.Context, p *Payment) error
	UpdateOrderStatus(ctx context.Context, orderID string, status order.Status) error
	AppendOrderHistory(ctx context.Context, entry order.HistoryEntry) error
}
