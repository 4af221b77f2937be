package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/commerce-payments/internal/order"
	"github.com/example/commerce-payments/internal/payment"
)

// PaymentStore is an in-memory payment.Store that also serves as the order
// reader, mirroring how the Postgres store shares one database with the
// order tables. A single mutex spans each transaction.
type PaymentStore struct {
	mu       sync.Mutex
	payments map[string]payment.Payment
	orders   map[string]order.Order
	history  map[string][]order.HistoryEntry
}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{
		payments: make(map[string]payment.Payment),
		orders:   make(map[string]order.Order),
		history:  make(map[string][]order.HistoryEntry),
	}
}

// SeedOrder installs an order row directly, for tests and fixtures.
func (s *PaymentStore) SeedOrder(o order.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

// History returns the recorded status history for an order.
func (s *PaymentStore) History(orderID string) []order.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]order.HistoryEntry, len(s.history[orderID]))
	copy(out, s.history[orderID])
	return out
}

// Orders exposes the store as an order.Reader.
func (s *PaymentStore) Orders() *OrderReader { return &OrderReader{store: s} }

// OrderReader adapts PaymentStore to order.Reader.
type OrderReader struct {
	store *PaymentStore
}

func (r *OrderReader) Get(ctx context.Context, id string) (*order.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	o, ok := r.store.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, order.ErrOrderNotFound)
	}
	out := o
	items := make([]order.Item, len(o.Items))
	copy(items, o.Items)
	out.Items = items
	return &out, nil
}

func (s *PaymentStore) InTx(ctx context.Context, fn func(tx payment.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &paymentTx{
		store:    s,
		payments: make(map[string]payment.Payment),
		orders:   make(map[string]order.Order),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for id, p := range tx.payments {
		s.payments[id] = p
	}
	for id, o := range tx.orders {
		s.orders[id] = o
	}
	for _, entry := range tx.history {
		s.history[entry.OrderID] = append(s.history[entry.OrderID], entry)
	}
	return nil
}

func clonePayment(p payment.Payment) *payment.Payment {
	out := p
	if p.Metadata != nil {
		out.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func (s *PaymentStore) Get(ctx context.Context, id string) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", id, payment.ErrPaymentNotFound)
	}
	return clonePayment(p), nil
}

func (s *PaymentStore) FindActiveByOrder(ctx context.Context, orderID string) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findActiveLocked(orderID)
}

func (s *PaymentStore) findActiveLocked(orderID string) (*payment.Payment, error) {
	for _, p := range s.payments {
		if p.OrderID == orderID && p.Status.Active() {
			return clonePayment(p), nil
		}
	}
	return nil, fmt.Errorf("order %s: %w", orderID, payment.ErrPaymentNotFound)
}

func (s *PaymentStore) FindByTransactionID(ctx context.Context, gatewayName, transactionID string) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.Gateway == gatewayName && p.TransactionID == transactionID && transactionID != "" {
			return clonePayment(p), nil
		}
	}
	return nil, fmt.Errorf("transaction %s: %w", transactionID, payment.ErrPaymentNotFound)
}

func (s *PaymentStore) FindByGatewayPaymentID(ctx context.Context, gatewayName, gatewayPaymentID string) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.Gateway == gatewayName && p.GatewayPaymentID == gatewayPaymentID && gatewayPaymentID != "" {
			return clonePayment(p), nil
		}
	}
	return nil, fmt.Errorf("gateway payment %s: %w", gatewayPaymentID, payment.ErrPaymentNotFound)
}

type paymentTx struct {
	store    *PaymentStore
	payments map[string]payment.Payment
	orders   map[string]order.Order
	history  []order.HistoryEntry
}

func (tx *paymentTx) PaymentForUpdate(ctx context.Context, id string) (*payment.Payment, error) {
	if p, ok := tx.payments[id]; ok {
		return clonePayment(p), nil
	}
	p, ok := tx.store.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", id, payment.ErrPaymentNotFound)
	}
	return clonePayment(p), nil
}

func (tx *paymentTx) ActivePaymentForOrder(ctx context.Context, orderID string) (*payment.Payment, error) {
	for _, p := range tx.payments {
		if p.OrderID == orderID && p.Status.Active() {
			return clonePayment(p), nil
		}
	}
	return tx.store.findActiveLocked(orderID)
}

func (tx *paymentTx) CreatePayment(ctx context.Context, p *payment.Payment) error {
	if _, exists := tx.store.payments[p.ID]; exists {
		return fmt.Errorf("payment %s already exists", p.ID)
	}
	tx.payments[p.ID] = *clonePayment(*p)
	return nil
}

func (tx *paymentTx) SavePayment(ctx context.Context, p *payment.Payment) error {
	tx.payments[p.ID] = *clonePayment(*p)
	return nil
}

func (tx *paymentTx) UpdateOrderStatus(ctx context.Context, orderID string, status order.Status) error {
	o, ok := tx.orders[orderID]
	if !ok {
		o, ok = tx.store.orders[orderID]
		if !ok {
			return fmt.Errorf("order %s: %w", orderID, order.ErrOrderNotFound)
		}
	}
	o.Status = status
	tx.orders[orderID] = o
	return nil
}

func (tx *paymentTx) AppendOrderHistory(ctx context.Context, entry order.HistoryEntry) error {
	tx.history = append(tx.history, entry)
	return nil
}
