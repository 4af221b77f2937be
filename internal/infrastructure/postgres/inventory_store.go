package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/commerce-payments/internal/inventory"
)

// InventoryStore implements inventory.Store on PostgreSQL. Per-product
// serialization comes from SELECT ... FOR UPDATE on the stock row.
type InventoryStore struct {
	db *sql.DB
}

func NewInventoryStore(db *sql.DB) *InventoryStore {
	return &InventoryStore{db: db}
}

func (s *InventoryStore) InTx(ctx context.Context, fn func(tx inventory.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin inventory tx: %w", err)
	}
	if err := fn(&inventoryTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit inventory tx: %w", err)
	}
	return nil
}

const stockColumns = `product_id, track_quantity, quantity, low_stock_threshold, allow_backorders, unit_price, updated_at`

func scanStock(row *sql.Row) (*inventory.Stock, error) {
	var stock inventory.Stock
	err := row.Scan(&stock.ProductID, &stock.TrackQuantity, &stock.Quantity,
		&stock.LowStockThreshold, &stock.AllowBackorders, &stock.UnitPrice, &stock.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, inventory.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stock, nil
}

func (s *InventoryStore) Stock(ctx context.Context, productID string) (*inventory.Stock, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stockColumns+` FROM product_stock WHERE product_id = $1`, productID)
	stock, err := scanStock(row)
	if err != nil {
		return nil, fmt.Errorf("load stock %s: %w", productID, err)
	}
	return stock, nil
}

func (s *InventoryStore) Stocks(ctx context.Context) ([]inventory.Stock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stockColumns+` FROM product_stock ORDER BY product_id`)
	if err != nil {
		return nil, fmt.Errorf("list stocks: %w", err)
	}
	defer rows.Close()

	var out []inventory.Stock
	for rows.Next() {
		var stock inventory.Stock
		if err := rows.Scan(&stock.ProductID, &stock.TrackQuantity, &stock.Quantity,
			&stock.LowStockThreshold, &stock.AllowBackorders, &stock.UnitPrice, &stock.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, stock)
	}
	return out, rows.Err()
}

// Movements lists ledger entries newest first.
func (s *InventoryStore) Movements(ctx context.Context, productID string, limit, offset int) ([]inventory.Movement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, delta, type, reason, reference, created_at
		 FROM inventory_movements
		 WHERE product_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		productID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list movements %s: %w", productID, err)
	}
	defer rows.Close()

	var out []inventory.Movement
	for rows.Next() {
		var m inventory.Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Delta, &m.Type, &m.Reason, &m.Reference, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type inventoryTx struct {
	tx *sql.Tx
}

func (t *inventoryTx) StockForUpdate(ctx context.Context, productID string) (*inventory.Stock, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+stockColumns+` FROM product_stock WHERE product_id = $1 FOR UPDATE`, productID)
	stock, err := scanStock(row)
	if err != nil {
		return nil, fmt.Errorf("lock stock %s: %w", productID, err)
	}
	return stock, nil
}

func (t *inventoryTx) SaveStock(ctx context.Context, stock *inventory.Stock) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE product_stock
		 SET quantity = $2, low_stock_threshold = $3, allow_backorders = $4, unit_price = $5, updated_at = $6
		 WHERE product_id = $1`,
		stock.ProductID, stock.Quantity, stock.LowStockThreshold,
		stock.AllowBackorders, stock.UnitPrice, stock.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save stock %s: %w", stock.ProductID, err)
	}
	return nil
}

func (t *inventoryTx) AppendMovement(ctx context.Context, m *inventory.Movement) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO inventory_movements (id, product_id, delta, type, reason, reference, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ProductID, m.Delta, m.Type, m.Reason, m.Reference, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append movement for %s: %w", m.ProductID, err)
	}
	return nil
}
