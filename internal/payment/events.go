package payment

import "time"

// Events published on payment state transitions. The producer wraps each in
// an envelope carrying the concrete type name.

type PaymentInitiated struct {
	PaymentID   string    `json:"payment_id"`
	OrderID     string    `json:"order_id"`
	Gateway     string    `json:"gateway"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	InitiatedAt time.Time `json:"initiated_at"`
}

type PaymentCompleted struct {
	PaymentID     string    `json:"payment_id"`
	OrderID       string    `json:"order_id"`
	Gateway       string    `json:"gateway"`
	TransactionID string    `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	CompletedAt   time.Time `json:"completed_at"`
}

type PaymentFailed struct {
	PaymentID string    `json:"payment_id"`
	OrderID   string    `json:"order_id"`
	Gateway   string    `json:"gateway"`
	ErrorCode string    `json:"error_code"`
	FailedAt  time.Time `json:"failed_at"`
}

type PaymentCancelled struct {
	PaymentID   string    `json:"payment_id"`
	OrderID     string    `json:"order_id"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

type PaymentRefunded struct {
	PaymentID      string    `json:"payment_id"`
	OrderID        string    `json:"order_id"`
	Amount         int64     `json:"amount"`
	RefundedAmount int64     `json:"refunded_amount"`
	Full           bool      `json:"full"`
	RefundedAt     time.Time `json:"refunded_at"`
}
