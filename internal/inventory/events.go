package inventory

import "time"

// Events published on ledger mutations.

type StockAdjusted struct {
	ProductID  string       `json:"product_id"`
	Delta      int          `json:"delta"`
	Type       MovementType `json:"type"`
	Quantity   int          `json:"quantity"`
	Reference  string       `json:"reference,omitempty"`
	AdjustedAt time.Time    `json:"adjusted_at"`
}

type StockReserved struct {
	OrderID    string    `json:"order_id"`
	Items      []Item    `json:"items"`
	ReservedAt time.Time `json:"reserved_at"`
}

type StockReleased struct {
	OrderID    string    `json:"order_id"`
	Items      []Item    `json:"items"`
	ReleasedAt time.Time `json:"released_at"`
}
