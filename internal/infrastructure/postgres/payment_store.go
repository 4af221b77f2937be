package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/commerce-payments/internal/order"
	"github.com/example/commerce-payments/internal/payment"
)

// PaymentStore implements payment.Store on PostgreSQL. Per-payment
// serialization comes from SELECT ... FOR UPDATE on the payment row, and a
// partial unique index enforces the one-active-payment-per-order invariant
// even if two initiates race past the in-transaction check.
type PaymentStore struct {
	db *sql.DB
}

func NewPaymentStore(db *sql.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

func (s *PaymentStore) InTx(ctx context.Context, fn func(tx payment.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin payment tx: %w", err)
	}
	if err := fn(&paymentTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit payment tx: %w", err)
	}
	return nil
}

const paymentColumns = `id, order_id, amount, refunded_amount, currency, status, gateway, method,
	transaction_id, gateway_payment_id, gateway_response, metadata, processed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*payment.Payment, error) {
	var p payment.Payment
	var gatewayResponse, metadata []byte
	var processedAt sql.NullTime
	err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.RefundedAmount, &p.Currency, &p.Status,
		&p.Gateway, &p.Method, &p.TransactionID, &p.GatewayPaymentID,
		&gatewayResponse, &metadata, &processedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(gatewayResponse) > 0 {
		p.GatewayResponse = gatewayResponse
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode payment metadata: %w", err)
		}
	}
	if processedAt.Valid {
		t := processedAt.Time
		p.ProcessedAt = &t
	}
	return &p, nil
}

func (s *PaymentStore) Get(ctx context.Context, id string) (*payment.Payment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if err != nil {
		return nil, fmt.Errorf("load payment %s: %w", id, err)
	}
	return p, nil
}

func (s *PaymentStore) FindActiveByOrder(ctx context.Context, orderID string) (*payment.Payment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE order_id = $1 AND status IN ('pending', 'processing')`, orderID)
	p, err := scanPayment(row)
	if err != nil {
		return nil, fmt.Errorf("find active payment for order %s: %w", orderID, err)
	}
	return p, nil
}

func (s *PaymentStore) FindByTransactionID(ctx context.Context, gatewayName, transactionID string) (*payment.Payment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE gateway = $1 AND transaction_id = $2 AND transaction_id <> ''`, gatewayName, transactionID)
	p, err := scanPayment(row)
	if err != nil {
		return nil, fmt.Errorf("find payment by transaction %s: %w", transactionID, err)
	}
	return p, nil
}

func (s *PaymentStore) FindByGatewayPaymentID(ctx context.Context, gatewayName, gatewayPaymentID string) (*payment.Payment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE gateway = $1 AND gateway_payment_id = $2 AND gateway_payment_id <> ''`, gatewayName, gatewayPaymentID)
	p, err := scanPayment(row)
	if err != nil {
		return nil, fmt.Errorf("find payment by gateway key %s: %w", gatewayPaymentID, err)
	}
	return p, nil
}

// Orders exposes the shared database as an order.Reader.
func (s *PaymentStore) Orders() *OrderReader { return &OrderReader{db: s.db} }

// OrderReader reads order rows from the shared database.
type OrderReader struct {
	db *sql.DB
}

func (r *OrderReader) Get(ctx context.Context, id string) (*order.Order, error) {
	var o order.Order
	var items []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, status, items, total, currency, created_at FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.Status, &items, &o.Total, &o.Currency, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, order.ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", id, err)
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("decode order items: %w", err)
		}
	}
	return &o, nil
}

type paymentTx struct {
	tx *sql.Tx
}

func (t *paymentTx) PaymentForUpdate(ctx context.Context, id string) (*payment.Payment, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id)
	p, err := scanPayment(row)
	if err != nil {
		return nil, fmt.Errorf("lock payment %s: %w", id, err)
	}
	return p, nil
}

func (t *paymentTx) ActivePaymentForOrder(ctx context.Context, orderID string) (*payment.Payment, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE order_id = $1 AND status IN ('pending', 'processing') FOR UPDATE`, orderID)
	p, err := scanPayment(row)
	if err != nil {
		return nil, fmt.Errorf("find active payment for order %s: %w", orderID, err)
	}
	return p, nil
}

func encodePaymentJSON(p *payment.Payment) (gatewayResponse, metadata []byte, err error) {
	if p.GatewayResponse != nil {
		gatewayResponse = p.GatewayResponse
	}
	if p.Metadata != nil {
		metadata, err = json.Marshal(p.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("encode payment metadata: %w", err)
		}
	}
	return gatewayResponse, metadata, nil
}

func (t *paymentTx) CreatePayment(ctx context.Context, p *payment.Payment) error {
	gatewayResponse, metadata, err := encodePaymentJSON(p)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO payments (id, order_id, amount, refunded_amount, currency, status, gateway, method,
			transaction_id, gateway_payment_id, gateway_response, metadata, processed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		p.ID, p.OrderID, p.Amount, p.RefundedAmount, p.Currency, p.Status, p.Gateway, p.Method,
		p.TransactionID, p.GatewayPaymentID, gatewayResponse, metadata, p.ProcessedAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create payment %s: %w", p.ID, err)
	}
	return nil
}

func (t *paymentTx) SavePayment(ctx context.Context, p *payment.Payment) error {
	gatewayResponse, metadata, err := encodePaymentJSON(p)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`UPDATE payments
		 SET status = $2, refunded_amount = $3, transaction_id = $4, gateway_payment_id = $5,
		     gateway_response = $6, metadata = $7, processed_at = $8, updated_at = $9
		 WHERE id = $1`,
		p.ID, p.Status, p.RefundedAmount, p.TransactionID, p.GatewayPaymentID,
		gatewayResponse, metadata, p.ProcessedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save payment %s: %w", p.ID, err)
	}
	return nil
}

func (t *paymentTx) UpdateOrderStatus(ctx context.Context, orderID string, status order.Status) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1`, orderID, status)
	if err != nil {
		return fmt.Errorf("update order %s status: %w", orderID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("order %s: %w", orderID, order.ErrOrderNotFound)
	}
	return nil
}

func (t *paymentTx) AppendOrderHistory(ctx context.Context, entry order.HistoryEntry) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO order_status_history (order_id, status, note, created_at)
		 VALUES ($1, $2, $3, $4)`,
		entry.OrderID, entry.Status, entry.Note, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append history for order %s: %w", entry.OrderID, err)
	}
	return nil
}
