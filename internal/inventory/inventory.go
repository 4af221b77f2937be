package inventory

import (
	"context"
	"errors"
	"time"
)

var (
	ErrProductNotFound     = errors.New("product not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidQuantity     = errors.New("quantity must not be zero")
	ErrUnknownMovementType = errors.New("unknown movement type")
)

// MovementType classifies a ledger entry. Sale and damage subtract, purchase,
// restock and return add, adjustment applies its signed delta directly.
type MovementType string

const (
	MovementSale       MovementType = "sale"
	MovementPurchase   MovementType = "purchase"
	MovementAdjustment MovementType = "adjustment"
	MovementReturn     MovementType = "return"
	MovementDamage     MovementType = "damage"
	MovementRestock    MovementType = "restock"
)

func (t MovementType) valid() bool {
	switch t {
	case MovementSale, MovementPurchase, MovementAdjustment, MovementReturn, MovementDamage, MovementRestock:
		return true
	}
	return false
}

// Stock is the derived current-quantity row for one product. It is mutated
// only through ledger operations.
type Stock struct {
	ProductID         string    `json:"product_id"`
	TrackQuantity     bool      `json:"track_quantity"`
	Quantity          int       `json:"quantity"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	AllowBackorders   bool      `json:"allow_backorders"`
	UnitPrice         int64     `json:"unit_price"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Movement is one immutable ledger entry. Balance is a read-time annotation
// (running balance in history listings), not a stored column.
type Movement struct {
	ID        string       `json:"id"`
	ProductID string       `json:"product_id"`
	Delta     int          `json:"delta"`
	Type      MovementType `json:"type"`
	Reason    string       `json:"reason,omitempty"`
	Reference string       `json:"reference,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	Balance   int          `json:"balance,omitempty"`
}

// Item is one line of a reservation or release.
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Adjustment is one line of a bulk adjustment.
type Adjustment struct {
	ProductID string       `json:"product_id"`
	Quantity  int          `json:"quantity"`
	Type      MovementType `json:"type"`
	Reason    string       `json:"reason,omitempty"`
}

// BulkResult summarizes a bulk adjustment: per-item isolation means the batch
// succeeds overall while individual lines may fail.
type BulkResult struct {
	BatchRef  string     `json:"batch_ref"`
	Applied   []Movement `json:"applied"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
}

// Report aggregates ledger state across all tracked products.
type Report struct {
	TotalProducts  int     `json:"total_products"`
	InStock        int     `json:"in_stock"`
	OutOfStock     int     `json:"out_of_stock"`
	LowStock       int     `json:"low_stock"`
	TotalValuation int64   `json:"total_valuation"`
	LowestStock    []Stock `json:"lowest_stock"`
}

// Store is the transactional boundary the ledger runs on. InTx must provide
// the atomicity and per-product mutual exclusion described by Tx. Movements
// lists entries newest first.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Stock(ctx context.Context, productID string) (*Stock, error)
	Stocks(ctx context.Context) ([]Stock, error)
	Movements(ctx context.Context, productID string, limit, offset int) ([]Movement, error)
}

// Tx exposes the row-locked operations available inside one transaction.
// StockForUpdate must block concurrent callers on the same product row until
// the transaction ends.
type Tx interface {
	StockForUpdate(ctx context.Context, productID string) (*Stock, error)
	SaveStock(ctx context.Context, stock *Stock) error
	AppendMovement(ctx context.Context, m *Movement) error
}
