// Package order models the order service this core consumes. Orders are
// owned elsewhere; this module reads them for validation and writes status
// transitions plus history notes through the payment store's transaction
// boundary so they commit atomically with payment mutations.
package order

import (
	"context"
	"errors"
	"time"
)

var ErrOrderNotFound = errors.New("order not found")

type Status string

const (
	StatusPending         Status = "pending"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusConfirmed       Status = "confirmed"
	StatusCancelled       Status = "cancelled"
	StatusRefunded        Status = "refunded"
)

// Payable reports whether a payment may be initiated for an order in this
// status.
func (s Status) Payable() bool {
	return s == StatusPending || s == StatusAwaitingPayment
}

type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type Order struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Items     []Item    `json:"items"`
	Total     int64     `json:"total"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

type HistoryEntry struct {
	OrderID   string    `json:"order_id"`
	Status    Status    `json:"status"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// Reader is the read side of the external order service.
type Reader interface {
	Get(ctx context.Context, id string) (*Order, error)
}
