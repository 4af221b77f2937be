package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/commerce-payments/internal/gateway"
	"github.com/example/commerce-payments/internal/inventory"
	"github.com/example/commerce-payments/internal/order"
)

// Publisher is the explicit event sink payment transitions are announced on.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Orchestrator drives a payment through initiate, confirm/cancel and refund.
// Gateway calls happen outside the local transaction so row locks are never
// held across a provider round trip.
type Orchestrator struct {
	store    Store
	registry *gateway.Registry
	orders   order.Reader
	ledger   *inventory.Ledger
	events   Publisher
	logger   *zap.Logger
}

func NewOrchestrator(store Store, registry *gateway.Registry, orders order.Reader, ledger *inventory.Ledger, events Publisher, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		registry: registry,
		orders:   orders,
		ledger:   ledger,
		events:   events,
		logger:   logger,
	}
}

type InitiateRequest struct {
	OrderID       string            `json:"order_id"`
	Gateway       string            `json:"gateway"`
	Method        string            `json:"method"`
	CustomerName  string            `json:"customer_name"`
	CustomerEmail string            `json:"customer_email"`
	CustomerPhone string            `json:"customer_phone"`
	ReturnURL     string            `json:"return_url"`
	CancelURL     string            `json:"cancel_url"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type InitiateResult struct {
	Payment     *Payment          `json:"payment"`
	PaymentURL  string            `json:"payment_url,omitempty"`
	SessionData map[string]string `json:"session_data,omitempty"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// Initiate creates a pending payment row and opens a session with the
// provider. The row is created before the gateway call so a concurrent
// initiate for the same order is rejected; a gateway failure marks it failed.
func (o *Orchestrator) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	adapter, err := o.registry.Get(req.Gateway)
	if err != nil {
		return nil, err
	}

	ord, err := o.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if !ord.Status.Payable() {
		return nil, fmt.Errorf("order %s is %s: %w", ord.ID, ord.Status, ErrOrderNotPayable)
	}

	p := &Payment{
		ID:        uuid.New().String(),
		OrderID:   req.OrderID,
		Amount:    ord.Total,
		Currency:  ord.Currency,
		Status:    StatusPending,
		Gateway:   req.Gateway,
		Method:    req.Method,
		Metadata:  req.Metadata,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	err = o.store.InTx(ctx, func(tx Tx) error {
		// The duplicate check and the insert share the transaction so two
		// concurrent initiates cannot both pass.
		existing, err := tx.ActivePaymentForOrder(ctx, req.OrderID)
		if err != nil && !errors.Is(err, ErrPaymentNotFound) {
			return err
		}
		if existing != nil {
			return fmt.Errorf("order %s has payment %s (%s): %w", req.OrderID, existing.ID, existing.Status, ErrDuplicatePayment)
		}
		return tx.CreatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	session, err := adapter.Initiate(ctx, gateway.InitiateRequest{
		OrderID:       req.OrderID,
		Amount:        ord.Total,
		Currency:      ord.Currency,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		ReturnURL:     req.ReturnURL,
		CancelURL:     req.CancelURL,
		Metadata:      req.Metadata,
	})
	if err != nil {
		if markErr := o.markFailed(ctx, p.ID, "INITIATE_FAILED", nil); markErr != nil {
			o.logger.Error("mark payment failed after initiate error", zap.String("payment_id", p.ID), zap.Error(markErr))
		}
		return nil, fmt.Errorf("initiate payment %s: %w", p.ID, err)
	}

	err = o.store.InTx(ctx, func(tx Tx) error {
		row, err := tx.PaymentForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		row.GatewayPaymentID = session.PaymentID
		return tx.SavePayment(ctx, row)
	})
	if err != nil {
		return nil, err
	}
	p.GatewayPaymentID = session.PaymentID

	o.publish(ctx, p.ID, PaymentInitiated{
		PaymentID:   p.ID,
		OrderID:     p.OrderID,
		Gateway:     p.Gateway,
		Amount:      p.Amount,
		Currency:    p.Currency,
		InitiatedAt: p.CreatedAt,
	})

	return &InitiateResult{
		Payment:     p,
		PaymentURL:  session.PaymentURL,
		SessionData: session.SessionData,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

// Confirm finalizes a payment after the customer returns. The provider call
// happens before the local transaction; a provider-reported business failure
// marks the payment failed and leaves the order untouched.
func (o *Orchestrator) Confirm(ctx context.Context, paymentID, transactionID string, providerData map[string]string) (*Payment, error) {
	p, err := o.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.Status.Active() {
		return nil, fmt.Errorf("payment %s is %s: %w", p.ID, p.Status, ErrInvalidTransition)
	}

	adapter, err := o.registry.Get(p.Gateway)
	if err != nil {
		return nil, err
	}

	if providerData == nil {
		providerData = map[string]string{}
	}
	if transactionID != "" && providerData["transaction_id"] == "" {
		providerData["transaction_id"] = transactionID
	}

	resp, err := adapter.Confirm(ctx, p.GatewayPaymentID, providerData)
	if err != nil {
		return nil, fmt.Errorf("confirm payment %s: %w", p.ID, err)
	}

	if !resp.Success {
		if err := o.markFailed(ctx, p.ID, resp.ErrorCode, resp.Raw); err != nil {
			return nil, err
		}
		return o.store.Get(ctx, p.ID)
	}

	txID := resp.TransactionID
	if txID == "" {
		txID = transactionID
	}
	if _, err := o.complete(ctx, p.ID, txID, resp.Raw); err != nil {
		return nil, err
	}
	return o.store.Get(ctx, p.ID)
}

// Cancel voids a pending or processing payment. The provider cancel is
// best-effort: a failure there is logged but does not keep the local payment
// out of the cancelled state.
func (o *Orchestrator) Cancel(ctx context.Context, paymentID, reason string) (*Payment, error) {
	p, err := o.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.Status.Active() {
		return nil, fmt.Errorf("payment %s is %s: %w", p.ID, p.Status, ErrInvalidTransition)
	}

	if p.GatewayPaymentID != "" || p.TransactionID != "" {
		adapter, err := o.registry.Get(p.Gateway)
		if err != nil {
			return nil, err
		}
		target := p.TransactionID
		if target == "" {
			target = p.GatewayPaymentID
		}
		if resp, err := adapter.Cancel(ctx, target, reason); err != nil {
			o.logger.Warn("gateway cancel failed", zap.String("payment_id", p.ID), zap.Error(err))
		} else if !resp.Success {
			o.logger.Warn("gateway rejected cancel",
				zap.String("payment_id", p.ID),
				zap.String("error_code", resp.ErrorCode))
		}
	}

	if _, err := o.markCancelled(ctx, p.ID, reason); err != nil {
		return nil, err
	}
	return o.store.Get(ctx, p.ID)
}

// Refund returns part or all of a completed payment. The refund cap is the
// captured amount minus prior refunds; a full refund also flips the order to
// refunded and releases its reserved inventory.
func (o *Orchestrator) Refund(ctx context.Context, paymentID string, amount int64, reason string) (*Payment, error) {
	p, err := o.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusCompleted && p.Status != StatusPartiallyRefunded {
		return nil, fmt.Errorf("payment %s is %s: %w", p.ID, p.Status, ErrNotRefundable)
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if remaining := p.Amount - p.RefundedAmount; amount > remaining {
		return nil, fmt.Errorf("requested %d, remaining %d: %w", amount, remaining, ErrRefundExceedsCaptured)
	}

	adapter, err := o.registry.Get(p.Gateway)
	if err != nil {
		return nil, err
	}
	resp, err := adapter.Refund(ctx, gateway.RefundRequest{
		TransactionID: p.TransactionID,
		Amount:        amount,
		Currency:      p.Currency,
		Reason:        reason,
	})
	if err != nil {
		return nil, fmt.Errorf("refund payment %s: %w", p.ID, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("refund payment %s: %s (%s): %w", p.ID, resp.ErrorMessage, resp.ErrorCode, ErrGatewayDeclined)
	}

	if _, err := o.applyRefund(ctx, p.ID, amount, resp.Raw); err != nil {
		return nil, err
	}
	return o.store.Get(ctx, p.ID)
}

// Receipt fetches the authoritative transaction record from the provider.
func (o *Orchestrator) Receipt(ctx context.Context, paymentID string) (*gateway.Receipt, error) {
	p, err := o.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.TransactionID == "" {
		return nil, fmt.Errorf("payment %s has no confirmed transaction: %w", p.ID, ErrInvalidTransition)
	}
	adapter, err := o.registry.Get(p.Gateway)
	if err != nil {
		return nil, err
	}
	return adapter.GenerateReceipt(ctx, p.ID, p.TransactionID)
}

// complete marks a payment completed, advances the order and appends history
// in one transaction. Returns applied=false without error when the payment is
// already completed, which makes duplicate webhook deliveries no-ops.
func (o *Orchestrator) complete(ctx context.Context, paymentID, transactionID string, raw json.RawMessage) (bool, error) {
	var completed *Payment
	err := o.store.InTx(ctx, func(tx Tx) error {
		p, err := tx.PaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == StatusCompleted {
			return nil
		}
		if err := p.transition(StatusCompleted); err != nil {
			return err
		}
		now := time.Now()
		p.TransactionID = transactionID
		p.ProcessedAt = &now
		if raw != nil {
			p.GatewayResponse = raw
		}
		if err := tx.SavePayment(ctx, p); err != nil {
			return err
		}
		if err := tx.UpdateOrderStatus(ctx, p.OrderID, order.StatusConfirmed); err != nil {
			return err
		}
		if err := tx.AppendOrderHistory(ctx, order.HistoryEntry{
			OrderID:   p.OrderID,
			Status:    order.StatusConfirmed,
			Note:      fmt.Sprintf("payment completed via %s (tx %s)", p.Gateway, transactionID),
			CreatedAt: now,
		}); err != nil {
			return err
		}
		completed = p
		return nil
	})
	if err != nil {
		return false, err
	}
	if completed == nil {
		return false, nil
	}

	o.publish(ctx, completed.ID, PaymentCompleted{
		PaymentID:     completed.ID,
		OrderID:       completed.OrderID,
		Gateway:       completed.Gateway,
		TransactionID: transactionID,
		Amount:        completed.Amount,
		Currency:      completed.Currency,
		CompletedAt:   *completed.ProcessedAt,
	})
	return true, nil
}

// markFailed moves a payment to failed. The order status is deliberately left
// alone; the caller or a later webhook decides the next step.
func (o *Orchestrator) markFailed(ctx context.Context, paymentID, errorCode string, raw json.RawMessage) error {
	var failed *Payment
	err := o.store.InTx(ctx, func(tx Tx) error {
		p, err := tx.PaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == StatusFailed {
			return nil
		}
		if err := p.transition(StatusFailed); err != nil {
			return err
		}
		if raw != nil {
			p.GatewayResponse = raw
		}
		if err := tx.SavePayment(ctx, p); err != nil {
			return err
		}
		failed = p
		return nil
	})
	if err != nil || failed == nil {
		return err
	}

	o.publish(ctx, failed.ID, PaymentFailed{
		PaymentID: failed.ID,
		OrderID:   failed.OrderID,
		Gateway:   failed.Gateway,
		ErrorCode: errorCode,
		FailedAt:  failed.UpdatedAt,
	})
	return nil
}

func (o *Orchestrator) markCancelled(ctx context.Context, paymentID, reason string) (bool, error) {
	p, err := o.store.Get(ctx, paymentID)
	if err != nil {
		return false, err
	}
	// Cancelling the payment does not move the order; the history entry
	// records the status the order keeps.
	ord, err := o.orders.Get(ctx, p.OrderID)
	if err != nil {
		return false, err
	}

	var cancelled *Payment
	err = o.store.InTx(ctx, func(tx Tx) error {
		p, err := tx.PaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == StatusCancelled {
			return nil
		}
		if err := p.transition(StatusCancelled); err != nil {
			return err
		}
		if err := tx.SavePayment(ctx, p); err != nil {
			return err
		}
		if err := tx.AppendOrderHistory(ctx, order.HistoryEntry{
			OrderID:   p.OrderID,
			Status:    ord.Status,
			Note:      "payment cancelled: " + reason,
			CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		cancelled = p
		return nil
	})
	if err != nil {
		return false, err
	}
	if cancelled == nil {
		return false, nil
	}

	o.publish(ctx, cancelled.ID, PaymentCancelled{
		PaymentID:   cancelled.ID,
		OrderID:     cancelled.OrderID,
		Reason:      reason,
		CancelledAt: cancelled.UpdatedAt,
	})
	return true, nil
}

// applyRefund records a committed provider refund. A full refund flips the
// order to refunded and releases the order's reserved inventory after the
// transaction commits.
func (o *Orchestrator) applyRefund(ctx context.Context, paymentID string, amount int64, raw json.RawMessage) (bool, error) {
	var refunded *Payment
	var full bool
	err := o.store.InTx(ctx, func(tx Tx) error {
		p, err := tx.PaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == StatusRefunded {
			return nil
		}
		if p.Status != StatusCompleted && p.Status != StatusPartiallyRefunded {
			return fmt.Errorf("payment %s is %s: %w", p.ID, p.Status, ErrNotRefundable)
		}

		p.RefundedAmount += amount
		if p.RefundedAmount > p.Amount {
			return fmt.Errorf("refunded %d of %d: %w", p.RefundedAmount, p.Amount, ErrRefundExceedsCaptured)
		}
		full = p.RefundedAmount == p.Amount
		target := StatusPartiallyRefunded
		if full {
			target = StatusRefunded
		}
		if err := p.transition(target); err != nil {
			return err
		}
		if raw != nil {
			p.GatewayResponse = raw
		}
		if err := tx.SavePayment(ctx, p); err != nil {
			return err
		}

		now := time.Now()
		if full {
			if err := tx.UpdateOrderStatus(ctx, p.OrderID, order.StatusRefunded); err != nil {
				return err
			}
			if err := tx.AppendOrderHistory(ctx, order.HistoryEntry{
				OrderID:   p.OrderID,
				Status:    order.StatusRefunded,
				Note:      fmt.Sprintf("payment refunded in full (%d %s)", p.Amount, p.Currency),
				CreatedAt: now,
			}); err != nil {
				return err
			}
		} else {
			// Partial refund leaves the order in its prior status; only a
			// history note records it.
			if err := tx.AppendOrderHistory(ctx, order.HistoryEntry{
				OrderID:   p.OrderID,
				Status:    order.StatusConfirmed,
				Note:      fmt.Sprintf("partially refunded %d %s (%d of %d total)", amount, p.Currency, p.RefundedAmount, p.Amount),
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		refunded = p
		return nil
	})
	if err != nil {
		return false, err
	}
	if refunded == nil {
		return false, nil
	}

	if full {
		o.releaseOrderStock(ctx, refunded.OrderID)
	}
	o.publish(ctx, refunded.ID, PaymentRefunded{
		PaymentID:      refunded.ID,
		OrderID:        refunded.OrderID,
		Amount:         amount,
		RefundedAmount: refunded.RefundedAmount,
		Full:           full,
		RefundedAt:     refunded.UpdatedAt,
	})
	return true, nil
}

// releaseOrderStock undoes the order's reservation. It runs in its own ledger
// transaction after the refund commits; a failure here is logged for manual
// follow-up rather than unwinding the refund.
func (o *Orchestrator) releaseOrderStock(ctx context.Context, orderID string) {
	if o.ledger == nil {
		return
	}
	ord, err := o.orders.Get(ctx, orderID)
	if err != nil {
		o.logger.Error("load order for stock release", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	items := make([]inventory.Item, 0, len(ord.Items))
	for _, item := range ord.Items {
		items = append(items, inventory.Item{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if err := o.ledger.Release(ctx, items, orderID); err != nil {
		o.logger.Error("release stock after full refund", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, key string, event any) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, key, event); err != nil {
		o.logger.Warn("payment event publish failed", zap.String("key", key), zap.Error(err))
	}
}
