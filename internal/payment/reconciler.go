package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/commerce-payments/internal/gateway"
	"github.com/example/commerce-payments/internal/order"
)

// Reconciler consumes gateway-initiated webhook events and maps them onto
// the same transitions as the synchronous orchestrator path. Handlers are
// idempotent: a duplicate delivery finds the payment already in its target
// state and does nothing.
type Reconciler struct {
	orchestrator *Orchestrator
	registry     *gateway.Registry
	payments     Store
	logger       *zap.Logger
}

func NewReconciler(orchestrator *Orchestrator, registry *gateway.Registry, payments Store, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		orchestrator: orchestrator,
		registry:     registry,
		payments:     payments,
		logger:       logger,
	}
}

// Process verifies, parses and applies one webhook delivery. Events that
// reference no local payment are logged and dropped: webhooks may race ahead
// of local state or carry provider test data, and the provider retries on
// real errors anyway.
func (r *Reconciler) Process(ctx context.Context, gatewayName, eventName string, payload []byte, signature string) error {
	adapter, err := r.registry.Get(gatewayName)
	if err != nil {
		return err
	}
	if signature != "" && !adapter.VerifyWebhookSignature(payload, signature) {
		return fmt.Errorf("gateway %s event %s: %w", gatewayName, eventName, ErrInvalidSignature)
	}

	r.logger.Info("webhook received",
		zap.String("gateway", gatewayName),
		zap.String("event", eventName),
		zap.Int("payload_bytes", len(payload)))

	event, err := adapter.ParseWebhookEvent(eventName, payload)
	if err != nil {
		// Unknown event names are normal; providers send more than we handle.
		r.logger.Info("webhook event ignored",
			zap.String("gateway", gatewayName),
			zap.String("event", eventName),
			zap.Error(err))
		return nil
	}

	p, err := r.resolvePayment(ctx, gatewayName, event)
	if err != nil {
		// Infrastructure failure, not an unknown payment: surface it so the
		// provider retries the delivery.
		return fmt.Errorf("gateway %s event %s: %w", gatewayName, eventName, err)
	}
	if p == nil {
		r.logger.Info("webhook references no local payment, dropped",
			zap.String("gateway", gatewayName),
			zap.String("event", eventName),
			zap.String("transaction_id", event.TransactionID),
			zap.String("gateway_payment_id", event.GatewayPaymentID))
		return nil
	}

	switch event.Kind {
	case gateway.EventPaymentSucceeded:
		return r.handleSucceeded(ctx, p, event)
	case gateway.EventPaymentFailed:
		return r.handleFailed(ctx, p, event)
	case gateway.EventPaymentCancelled:
		return r.handleCancelled(ctx, p, event)
	case gateway.EventRefundCompleted:
		return r.handleRefund(ctx, p, event)
	case gateway.EventChargebackCreated:
		return r.handleChargeback(ctx, p, event)
	case gateway.EventRecurringSucceeded:
		r.logger.Info("recurring payment acknowledged",
			zap.String("payment_id", p.ID),
			zap.String("transaction_id", event.TransactionID))
		return nil
	default:
		return nil
	}
}

// resolvePayment matches the event to a local row: by stored transaction id
// first, then by the provider-assigned key from initiate. A nil, nil return
// means no local payment matches; any other error is a store failure.
func (r *Reconciler) resolvePayment(ctx context.Context, gatewayName string, event *gateway.WebhookEvent) (*Payment, error) {
	if event.TransactionID != "" {
		p, err := r.payments.FindByTransactionID(ctx, gatewayName, event.TransactionID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrPaymentNotFound) {
			return nil, fmt.Errorf("lookup payment by transaction %s: %w", event.TransactionID, err)
		}
	}
	if event.GatewayPaymentID != "" {
		p, err := r.payments.FindByGatewayPaymentID(ctx, gatewayName, event.GatewayPaymentID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrPaymentNotFound) {
			return nil, fmt.Errorf("lookup payment by gateway key %s: %w", event.GatewayPaymentID, err)
		}
	}
	return nil, nil
}

func (r *Reconciler) handleSucceeded(ctx context.Context, p *Payment, event *gateway.WebhookEvent) error {
	if p.Status == StatusCompleted {
		r.logger.Info("payment already completed, webhook is a no-op", zap.String("payment_id", p.ID))
		return nil
	}
	if !p.Status.Active() {
		r.logger.Warn("success webhook for payment in terminal state, dropped",
			zap.String("payment_id", p.ID),
			zap.String("status", string(p.Status)))
		return nil
	}
	applied, err := r.orchestrator.complete(ctx, p.ID, event.TransactionID, event.Raw)
	if err != nil {
		return fmt.Errorf("apply success webhook to payment %s: %w", p.ID, err)
	}
	if !applied {
		r.logger.Info("success webhook raced a concurrent confirm, no-op", zap.String("payment_id", p.ID))
	}
	return nil
}

func (r *Reconciler) handleFailed(ctx context.Context, p *Payment, event *gateway.WebhookEvent) error {
	if p.Status == StatusFailed {
		return nil
	}
	if !p.Status.Active() {
		r.logger.Warn("failure webhook for payment in terminal state, dropped",
			zap.String("payment_id", p.ID),
			zap.String("status", string(p.Status)))
		return nil
	}
	if err := r.orchestrator.markFailed(ctx, p.ID, event.ErrorCode, event.Raw); err != nil {
		return fmt.Errorf("apply failure webhook to payment %s: %w", p.ID, err)
	}
	return nil
}

func (r *Reconciler) handleCancelled(ctx context.Context, p *Payment, event *gateway.WebhookEvent) error {
	if p.Status == StatusCancelled {
		return nil
	}
	if !p.Status.Active() {
		r.logger.Warn("cancel webhook for payment in terminal state, dropped",
			zap.String("payment_id", p.ID),
			zap.String("status", string(p.Status)))
		return nil
	}
	if _, err := r.orchestrator.markCancelled(ctx, p.ID, "cancelled by gateway"); err != nil {
		return fmt.Errorf("apply cancel webhook to payment %s: %w", p.ID, err)
	}
	return nil
}

func (r *Reconciler) handleRefund(ctx context.Context, p *Payment, event *gateway.WebhookEvent) error {
	if p.Status == StatusRefunded {
		return nil
	}
	if p.Status != StatusCompleted && p.Status != StatusPartiallyRefunded {
		r.logger.Warn("refund webhook for non-refundable payment, dropped",
			zap.String("payment_id", p.ID),
			zap.String("status", string(p.Status)))
		return nil
	}
	amount := event.Amount
	remaining := p.Amount - p.RefundedAmount
	if amount <= 0 || amount > remaining {
		// Providers report refunds in their own unit conventions; when the
		// amount is absent or inconsistent treat it as the full remainder.
		amount = remaining
	}
	if _, err := r.orchestrator.applyRefund(ctx, p.ID, amount, event.Raw); err != nil {
		return fmt.Errorf("apply refund webhook to payment %s: %w", p.ID, err)
	}
	return nil
}

// handleChargeback records the dispute on the order timeline and flags the
// payment; the money movement is settled out-of-band with the provider.
func (r *Reconciler) handleChargeback(ctx context.Context, p *Payment, event *gateway.WebhookEvent) error {
	return r.payments.InTx(ctx, func(tx Tx) error {
		row, err := tx.PaymentForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		if row.Metadata == nil {
			row.Metadata = map[string]string{}
		}
		if row.Metadata["chargeback"] == "true" {
			return nil
		}
		row.Metadata["chargeback"] = "true"
		row.UpdatedAt = time.Now()
		if err := tx.SavePayment(ctx, row); err != nil {
			return err
		}
		return tx.AppendOrderHistory(ctx, order.HistoryEntry{
			OrderID:   row.OrderID,
			Status:    order.StatusConfirmed,
			Note:      fmt.Sprintf("chargeback received for transaction %s", event.TransactionID),
			CreatedAt: time.Now(),
		})
	})
}
