package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/commerce-payments/internal/notify"
)

// Publisher is the explicit event sink ledger mutations are announced on.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Ledger owns all stock mutations: every change goes through one store
// transaction that updates the derived quantity row and appends an immutable
// movement, so the sum of deltas always equals the current quantity.
type Ledger struct {
	store    Store
	notifier *notify.Notifier
	events   Publisher
	logger   *zap.Logger
}

func NewLedger(store Store, notifier *notify.Notifier, events Publisher, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, notifier: notifier, events: events, logger: logger}
}

// deltaFor maps a movement type and requested quantity onto a signed delta.
func deltaFor(t MovementType, quantity int) (int, error) {
	if !t.valid() {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMovementType, t)
	}
	abs := quantity
	if abs < 0 {
		abs = -abs
	}
	switch t {
	case MovementSale, MovementDamage:
		return -abs, nil
	case MovementPurchase, MovementRestock, MovementReturn:
		return abs, nil
	default: // adjustment keeps its sign
		return quantity, nil
	}
}

// Adjust applies one stock change. The quantity row update and the movement
// append commit in a single transaction; the low-stock evaluation and event
// publish run after commit and never fail the adjustment.
func (l *Ledger) Adjust(ctx context.Context, productID string, quantity int, movementType MovementType, reason, reference string) (*Movement, error) {
	if quantity == 0 {
		return nil, ErrInvalidQuantity
	}
	delta, err := deltaFor(movementType, quantity)
	if err != nil {
		return nil, err
	}

	var movement *Movement
	var after *Stock
	err = l.store.InTx(ctx, func(tx Tx) error {
		stock, err := tx.StockForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if !stock.TrackQuantity {
			return fmt.Errorf("product %s does not track quantity: %w", productID, ErrInvalidQuantity)
		}
		next := stock.Quantity + delta
		if next < 0 && !stock.AllowBackorders {
			return fmt.Errorf("product %s: have %d, delta %d: %w", productID, stock.Quantity, delta, ErrInsufficientStock)
		}

		stock.Quantity = next
		stock.UpdatedAt = time.Now()
		if err := tx.SaveStock(ctx, stock); err != nil {
			return err
		}

		movement = &Movement{
			ID:        uuid.New().String(),
			ProductID: productID,
			Delta:     delta,
			Type:      movementType,
			Reason:    reason,
			Reference: reference,
			CreatedAt: time.Now(),
			Balance:   next,
		}
		if err := tx.AppendMovement(ctx, movement); err != nil {
			return err
		}
		after = stock
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.afterMutation(ctx, after, StockAdjusted{
		ProductID:  productID,
		Delta:      delta,
		Type:       movementType,
		Quantity:   after.Quantity,
		Reference:  reference,
		AdjustedAt: movement.CreatedAt,
	})
	return movement, nil
}

// BulkAdjust applies each adjustment independently: a failing line is logged
// and skipped, the rest still commit. All lines share one batch reference.
func (l *Ledger) BulkAdjust(ctx context.Context, adjustments []Adjustment) (*BulkResult, error) {
	result := &BulkResult{BatchRef: "batch-" + uuid.New().String()}
	for _, adj := range adjustments {
		movement, err := l.Adjust(ctx, adj.ProductID, adj.Quantity, adj.Type, adj.Reason, result.BatchRef)
		if err != nil {
			result.Failed++
			l.logger.Warn("bulk adjustment line failed",
				zap.String("product_id", adj.ProductID),
				zap.Int("quantity", adj.Quantity),
				zap.String("type", string(adj.Type)),
				zap.Error(err))
			continue
		}
		result.Succeeded++
		result.Applied = append(result.Applied, *movement)
	}
	return result, nil
}

// Reserve decrements stock for every tracked item of an order inside one
// transaction. Any shortfall rejects the whole reservation.
func (l *Ledger) Reserve(ctx context.Context, items []Item, orderID string) error {
	return l.moveForOrder(ctx, items, orderID, MovementSale, "reserved for order")
}

// Release returns previously reserved stock, symmetric to Reserve. Used when
// an order is cancelled or fully refunded.
func (l *Ledger) Release(ctx context.Context, items []Item, orderID string) error {
	return l.moveForOrder(ctx, items, orderID, MovementReturn, "released for order")
}

func (l *Ledger) moveForOrder(ctx context.Context, items []Item, orderID string, movementType MovementType, reason string) error {
	if len(items) == 0 {
		return nil
	}
	var touched []*Stock
	now := time.Now()
	err := l.store.InTx(ctx, func(tx Tx) error {
		for _, item := range items {
			if item.Quantity <= 0 {
				return fmt.Errorf("product %s: %w", item.ProductID, ErrInvalidQuantity)
			}
			stock, err := tx.StockForUpdate(ctx, item.ProductID)
			if err != nil {
				return err
			}
			if !stock.TrackQuantity {
				continue
			}
			delta, _ := deltaFor(movementType, item.Quantity)
			next := stock.Quantity + delta
			if next < 0 && !stock.AllowBackorders {
				return fmt.Errorf("product %s: have %d, need %d: %w", item.ProductID, stock.Quantity, item.Quantity, ErrInsufficientStock)
			}

			stock.Quantity = next
			stock.UpdatedAt = now
			if err := tx.SaveStock(ctx, stock); err != nil {
				return err
			}
			if err := tx.AppendMovement(ctx, &Movement{
				ID:        uuid.New().String(),
				ProductID: item.ProductID,
				Delta:     delta,
				Type:      movementType,
				Reason:    reason,
				Reference: orderID,
				CreatedAt: now,
			}); err != nil {
				return err
			}
			touched = append(touched, stock)
		}
		return nil
	})
	if err != nil {
		return err
	}

	var event any
	if movementType == MovementSale {
		event = StockReserved{OrderID: orderID, Items: items, ReservedAt: now}
	} else {
		event = StockReleased{OrderID: orderID, Items: items, ReleasedAt: now}
	}
	for _, stock := range touched {
		l.notifyStockLevel(ctx, stock)
	}
	l.publish(ctx, orderID, event)
	return nil
}

// History lists movements chronologically ascending, each annotated with the
// running balance: walk newest-first from the current quantity, then reverse.
func (l *Ledger) History(ctx context.Context, productID string, limit, offset int) ([]Movement, error) {
	stock, err := l.store.Stock(ctx, productID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	// Newer movements above the requested page still contribute to the
	// running balance, so fetch the whole newest-first prefix.
	newestFirst, err := l.store.Movements(ctx, productID, limit+offset, 0)
	if err != nil {
		return nil, err
	}

	balance := stock.Quantity
	for i := range newestFirst {
		newestFirst[i].Balance = balance
		balance -= newestFirst[i].Delta
	}
	if offset >= len(newestFirst) {
		return []Movement{}, nil
	}
	page := newestFirst[offset:]

	// Reverse into chronological order.
	out := make([]Movement, len(page))
	for i, m := range page {
		out[len(page)-1-i] = m
	}
	return out, nil
}

// LowStock lists tracked products at or below their threshold but not empty.
func (l *Ledger) LowStock(ctx context.Context) ([]Stock, error) {
	stocks, err := l.store.Stocks(ctx)
	if err != nil {
		return nil, err
	}
	var out []Stock
	for _, s := range stocks {
		if s.TrackQuantity && s.Quantity > 0 && s.Quantity <= s.LowStockThreshold {
			out = append(out, s)
		}
	}
	return out, nil
}

// OutOfStock lists tracked products with no stock left.
func (l *Ledger) OutOfStock(ctx context.Context) ([]Stock, error) {
	stocks, err := l.store.Stocks(ctx)
	if err != nil {
		return nil, err
	}
	var out []Stock
	for _, s := range stocks {
		if s.TrackQuantity && s.Quantity <= 0 {
			out = append(out, s)
		}
	}
	return out, nil
}

const reportTopN = 10

// Report aggregates counts, valuation and the lowest-stock products.
func (l *Ledger) Report(ctx context.Context) (*Report, error) {
	stocks, err := l.store.Stocks(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	var tracked []Stock
	for _, s := range stocks {
		if !s.TrackQuantity {
			continue
		}
		tracked = append(tracked, s)
		report.TotalProducts++
		switch {
		case s.Quantity <= 0:
			report.OutOfStock++
		case s.Quantity <= s.LowStockThreshold:
			report.LowStock++
			report.InStock++
		default:
			report.InStock++
		}
		if s.Quantity > 0 {
			report.TotalValuation += int64(s.Quantity) * s.UnitPrice
		}
	}

	sort.Slice(tracked, func(i, j int) bool { return tracked[i].Quantity < tracked[j].Quantity })
	if len(tracked) > reportTopN {
		tracked = tracked[:reportTopN]
	}
	report.LowestStock = tracked
	return report, nil
}

func (l *Ledger) afterMutation(ctx context.Context, stock *Stock, event any) {
	l.notifyStockLevel(ctx, stock)
	l.publish(ctx, stock.ProductID, event)
}

func (l *Ledger) notifyStockLevel(ctx context.Context, stock *Stock) {
	if l.notifier == nil {
		return
	}
	alertType := notify.Evaluate(stock.Quantity, stock.LowStockThreshold)
	if alertType == notify.AlertNone {
		return
	}
	l.notifier.Dispatch(ctx, notify.Alert{
		ProductID: stock.ProductID,
		Type:      alertType,
		Quantity:  stock.Quantity,
		Threshold: stock.LowStockThreshold,
		RaisedAt:  time.Now(),
	})
}

func (l *Ledger) publish(ctx context.Context, key string, event any) {
	if l.events == nil {
		return
	}
	if err := l.events.Publish(ctx, key, event); err != nil {
		l.logger.Warn("inventory event publish failed", zap.String("key", key), zap.Error(err))
	}
}
