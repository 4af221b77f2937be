package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/commerce-payments/internal/inventory"
)

// InventoryStore is an in-memory inventory.Store. One mutex spans each
// transaction, which gives the same serialization the Postgres store gets
// from row locks: concurrent mutations on a product never interleave.
type InventoryStore struct {
	mu        sync.Mutex
	stocks    map[string]inventory.Stock
	movements map[string][]inventory.Movement
}

func NewInventoryStore() *InventoryStore {
	return &InventoryStore{
		stocks:    make(map[string]inventory.Stock),
		movements: make(map[string][]inventory.Movement),
	}
}

// Seed installs a stock row directly, for tests and fixtures.
func (s *InventoryStore) Seed(stock inventory.Stock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stocks[stock.ProductID] = stock
}

func (s *InventoryStore) InTx(ctx context.Context, fn func(tx inventory.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &inventoryTx{
		store:     s,
		stocks:    make(map[string]inventory.Stock),
		movements: nil,
	}
	if err := fn(tx); err != nil {
		return err
	}
	// Commit buffered writes.
	for id, stock := range tx.stocks {
		s.stocks[id] = stock
	}
	for _, m := range tx.movements {
		s.movements[m.ProductID] = append(s.movements[m.ProductID], m)
	}
	return nil
}

func (s *InventoryStore) Stock(ctx context.Context, productID string) (*inventory.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stock, ok := s.stocks[productID]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", productID, inventory.ErrProductNotFound)
	}
	out := stock
	return &out, nil
}

func (s *InventoryStore) Stocks(ctx context.Context) ([]inventory.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inventory.Stock, 0, len(s.stocks))
	for _, stock := range s.stocks {
		out = append(out, stock)
	}
	return out, nil
}

// Movements returns entries newest first.
func (s *InventoryStore) Movements(ctx context.Context, productID string, limit, offset int) ([]inventory.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.movements[productID]
	out := make([]inventory.Movement, 0, limit)
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		m := all[i]
		m.Balance = 0
		out = append(out, m)
	}
	return out, nil
}

type inventoryTx struct {
	store     *InventoryStore
	stocks    map[string]inventory.Stock
	movements []inventory.Movement
}

func (tx *inventoryTx) StockForUpdate(ctx context.Context, productID string) (*inventory.Stock, error) {
	if stock, ok := tx.stocks[productID]; ok {
		out := stock
		return &out, nil
	}
	stock, ok := tx.store.stocks[productID]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", productID, inventory.ErrProductNotFound)
	}
	out := stock
	return &out, nil
}

func (tx *inventoryTx) SaveStock(ctx context.Context, stock *inventory.Stock) error {
	tx.stocks[stock.ProductID] = *stock
	return nil
}

func (tx *inventoryTx) AppendMovement(ctx context.Context, m *inventory.Movement) error {
	entry := *m
	entry.Balance = 0
	tx.movements = append(tx.movements, entry)
	return nil
}
