package payment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/commerce-payments/internal/gateway"
	"github.com/example/commerce-payments/internal/infrastructure/memory"
	"github.com/example/commerce-payments/internal/inventory"
	"github.com/example/commerce-payments/internal/order"
	"github.com/example/commerce-payments/internal/payment"
)

// fakeAdapter is a scriptable gateway.Adapter.
type fakeAdapter struct {
	name           string
	initiateResult *gateway.InitiateResult
	initiateErr    error
	confirmResp    *gateway.Response
	confirmErr     error
	cancelResp     *gateway.Response
	refundResp     *gateway.Response
	refundErr      error
	verifyOK       bool
	webhookEvent   *gateway.WebhookEvent
	parseErr       error

	refundCalls  []gateway.RefundRequest
	cancelCalls  int
	confirmCalls int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	if f.initiateResult != nil {
		return f.initiateResult, nil
	}
	return &gateway.InitiateResult{
		PaymentID:  "fake-" + req.OrderID,
		PaymentURL: "https://pay.example.com/" + req.OrderID,
		ExpiresAt:  time.Now().Add(30 * time.Minute),
	}, nil
}

func (f *fakeAdapter) Confirm(ctx context.Context, paymentID string, providerData map[string]string) (*gateway.Response, error) {
	f.confirmCalls++
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	if f.confirmResp != nil {
		return f.confirmResp, nil
	}
	return &gateway.Response{Success: true, TransactionID: "tx-" + paymentID}, nil
}

func (f *fakeAdapter) Cancel(ctx context.Context, paymentID, reason string) (*gateway.Response, error) {
	f.cancelCalls++
	if f.cancelResp != nil {
		return f.cancelResp, nil
	}
	return &gateway.Response{Success: true, TransactionID: paymentID}, nil
}

func (f *fakeAdapter) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Response, error) {
	f.refundCalls = append(f.refundCalls, req)
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	if f.refundResp != nil {
		return f.refundResp, nil
	}
	return &gateway.Response{Success: true, TransactionID: req.TransactionID}, nil
}

func (f *fakeAdapter) VerifyWebhookSignature(payload []byte, signature string) bool { return f.verifyOK }

func (f *fakeAdapter) ParseWebhookEvent(eventName string, payload []byte) (*gateway.WebhookEvent, error) {
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.webhookEvent, nil
}

func (f *fakeAdapter) GenerateReceipt(ctx context.Context, paymentID, transactionID string) (*gateway.Receipt, error) {
	return &gateway.Receipt{PaymentID: paymentID, TransactionID: transactionID, IssuedAt: time.Now()}, nil
}

func (f *fakeAdapter) SupportedMethods() []string    { return []string{"card"} }
func (f *fakeAdapter) SupportedCurrencies() []string { return []string{"KRW"} }

type fixture struct {
	orchestrator *payment.Orchestrator
	reconciler   *payment.Reconciler
	payments     *memory.PaymentStore
	stocks       *memory.InventoryStore
	adapter      *fakeAdapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	adapter := &fakeAdapter{name: "fakepay", verifyOK: true}
	registry := gateway.NewRegistry()
	registry.Register(adapter)

	payments := memory.NewPaymentStore()
	payments.SeedOrder(order.Order{
		ID:        "order-1",
		Status:    order.StatusPending,
		Items:     []order.Item{{ProductID: "p1", Quantity: 2}},
		Total:     10000,
		Currency:  "KRW",
		CreatedAt: time.Now(),
	})

	stocks := memory.NewInventoryStore()
	stocks.Seed(inventory.Stock{ProductID: "p1", TrackQuantity: true, Quantity: 8, LowStockThreshold: 2, UnitPrice: 5000})
	ledger := inventory.NewLedger(stocks, nil, nil, zap.NewNop())

	orchestrator := payment.NewOrchestrator(payments, registry, payments.Orders(), ledger, nil, zap.NewNop())
	reconciler := payment.NewReconciler(orchestrator, registry, payments, zap.NewNop())
	return &fixture{
		orchestrator: orchestrator,
		reconciler:   reconciler,
		payments:     payments,
		stocks:       stocks,
		adapter:      adapter,
	}
}

func (f *fixture) initiate(t *testing.T) *payment.Payment {
	t.Helper()
	result, err := f.orchestrator.Initiate(context.Background(), payment.InitiateRequest{
		OrderID: "order-1",
		Gateway: "fakepay",
		Method:  "card",
	})
	require.NoError(t, err)
	return result.Payment
}

func (f *fixture) completed(t *testing.T) *payment.Payment {
	t.Helper()
	p := f.initiate(t)
	confirmed, err := f.orchestrator.Confirm(context.Background(), p.ID, "", nil)
	require.NoError(t, err)
	require.Equal(t, payment.StatusCompleted, confirmed.Status)
	return confirmed
}

func TestInitiate_CreatesPendingPayment(t *testing.T) {
	f := newFixture(t)

	result, err := f.orchestrator.Initiate(context.Background(), payment.InitiateRequest{
		OrderID: "order-1",
		Gateway: "fakepay",
		Method:  "card",
	})
	require.NoError(t, err)

	assert.Equal(t, payment.StatusPending, result.Payment.Status)
	assert.Equal(t, int64(10000), result.Payment.Amount)
	assert.Equal(t, "KRW", result.Payment.Currency)
	assert.Equal(t, "fake-order-1", result.Payment.GatewayPaymentID)
	assert.NotEmpty(t, result.PaymentURL)

	stored, err := f.payments.Get(context.Background(), result.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, stored.Status)
	assert.Equal(t, "fake-order-1", stored.GatewayPaymentID)
}

func TestInitiate_RejectsDuplicateActivePayment(t *testing.T) {
	f := newFixture(t)
	f.initiate(t)

	_, err := f.orchestrator.Initiate(context.Background(), payment.InitiateRequest{
		OrderID: "order-1",
		Gateway: "fakepay",
	})
	assert.ErrorIs(t, err, payment.ErrDuplicatePayment)
}

func TestInitiate_AllowsRetryAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.adapter.initiateErr = &gateway.TransportError{Gateway: "fakepay", Op: "initiate", Err: errors.New("timeout")}

	_, err := f.orchestrator.Initiate(context.Background(), payment.InitiateRequest{
		OrderID: "order-1",
		Gateway: "fakepay",
	})
	require.Error(t, err)

	// The failed attempt is terminal, so a fresh initiate goes through.
	f.adapter.initiateErr = nil
	f.initiate(t)
}

func TestInitiate_GatewayFailureMarksPaymentFailed(t *testing.T) {
	f := newFixture(t)
	f.adapter.initiateErr = &gateway.TransportError{Gateway: "fakepay", Op: "initiate", Err: errors.New("timeout")}

	_, err := f.orchestrator.Initiate(context.Background(), payment.InitiateRequest{
		OrderID: "order-1",
		Gateway: "fakepay",
	})
	require.Error(t, err)
	var transportErr *gateway.TransportError
	assert.ErrorAs(t, err, &transportErr)

	_, err = f.payments.FindActiveByOrder(context.Background(), "order-1")
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)
}

func TestInitiate_OrderNotPayable(t *testing.T) {
	f := newFixture(t)
	f.payments.SeedOrder(order.Order{ID: "order-2", Status: order.StatusConfirmed, Total: 5000, Currency: "KRW"})

	_, err := f.orchestrator.Initiate(context.Background(), payment.InitiateRequest{
		OrderID: "order-2",
		Gateway: "fakepay",
	})
	assert.ErrorIs(t, err, payment.ErrOrderNotPayable)
}

func TestInitiate_OrderNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.orchestrator.Initiate(context.Background(), payment.InitiateRequest{
		OrderID: "missing",
		Gateway: "fakepay",
	})
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestInitiate_UnsupportedGateway(t *testing.T) {
	f := newFixture(t)

	_, err := f.orchestrator.Initiate(context.Background(), payment.InitiateRequest{
		OrderID: "order-1",
		Gateway: "nopay",
	})
	assert.ErrorIs(t, err, gateway.ErrUnsupportedGateway)
}

func TestConfirm_CompletesPaymentAndOrder(t *testing.T) {
	f := newFixture(t)
	p := f.initiate(t)

	confirmed, err := f.orchestrator.Confirm(context.Background(), p.ID, "", nil)
	require.NoError(t, err)

	assert.Equal(t, payment.StatusCompleted, confirmed.Status)
	assert.Equal(t, "tx-fake-order-1", confirmed.TransactionID)
	require.NotNil(t, confirmed.ProcessedAt)

	ord, err := f.payments.Orders().Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, ord.Status)

	history := f.payments.History("order-1")
	require.Len(t, history, 1)
	assert.Contains(t, history[0].Note, "payment completed")
}

func TestConfirm_DeclinedMarksFailedAndLeavesOrder(t *testing.T) {
	f := newFixture(t)
	p := f.initiate(t)
	f.adapter.confirmResp = &gateway.Response{
		Success:      false,
		ErrorCode:    "CARD_DECLINED",
		ErrorMessage: "insufficient funds",
	}

	failed, err := f.orchestrator.Confirm(context.Background(), p.ID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, failed.Status)

	ord, err := f.payments.Orders().Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, ord.Status)
	assert.Empty(t, f.payments.History("order-1"))
}

func TestConfirm_RejectsTerminalPayment(t *testing.T) {
	f := newFixture(t)
	p := f.completed(t)

	_, err := f.orchestrator.Confirm(context.Background(), p.ID, "", nil)
	assert.ErrorIs(t, err, payment.ErrInvalidTransition)
}

func TestCancel_VoidsActivePayment(t *testing.T) {
	f := newFixture(t)
	p := f.initiate(t)

	cancelled, err := f.orchestrator.Cancel(context.Background(), p.ID, "customer changed mind")
	require.NoError(t, err)

	assert.Equal(t, payment.StatusCancelled, cancelled.Status)
	assert.Equal(t, 1, f.adapter.cancelCalls)
	history := f.payments.History("order-1")
	require.Len(t, history, 1)
	assert.Contains(t, history[0].Note, "payment cancelled")
}

func TestCancel_GatewayFailureStillCancelsLocally(t *testing.T) {
	f := newFixture(t)
	p := f.initiate(t)
	f.adapter.cancelResp = &gateway.Response{Success: false, ErrorCode: "ALREADY_SETTLED"}

	cancelled, err := f.orchestrator.Cancel(context.Background(), p.ID, "late cancel")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCancelled, cancelled.Status)
}

func TestCancel_HistoryRecordsCurrentOrderStatus(t *testing.T) {
	f := newFixture(t)
	f.payments.SeedOrder(order.Order{
		ID:        "order-2",
		Status:    order.StatusAwaitingPayment,
		Items:     []order.Item{{ProductID: "p1", Quantity: 1}},
		Total:     5000,
		Currency:  "KRW",
		CreatedAt: time.Now(),
	})
	result, err := f.orchestrator.Initiate(context.Background(), payment.InitiateRequest{
		OrderID: "order-2",
		Gateway: "fakepay",
		Method:  "card",
	})
	require.NoError(t, err)

	_, err = f.orchestrator.Cancel(context.Background(), result.Payment.ID, "changed mind")
	require.NoError(t, err)

	history := f.payments.History("order-2")
	require.Len(t, history, 1)
	assert.Equal(t, order.StatusAwaitingPayment, history[0].Status)
}

func TestCancel_RejectsTerminalPayment(t *testing.T) {
	f := newFixture(t)
	p := f.completed(t)

	_, err := f.orchestrator.Cancel(context.Background(), p.ID, "too late")
	assert.ErrorIs(t, err, payment.ErrInvalidTransition)
}

func TestRefund_Partial(t *testing.T) {
	f := newFixture(t)
	p := f.completed(t)

	refunded, err := f.orchestrator.Refund(context.Background(), p.ID, 3000, "one item returned")
	require.NoError(t, err)

	assert.Equal(t, payment.StatusPartiallyRefunded, refunded.Status)
	assert.Equal(t, int64(3000), refunded.RefundedAmount)
	require.Len(t, f.adapter.refundCalls, 1)
	assert.Equal(t, int64(3000), f.adapter.refundCalls[0].Amount)

	// Partial refund leaves the order confirmed.
	ord, err := f.payments.Orders().Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, ord.Status)
}

func TestRefund_CapIsCapturedMinusRefunded(t *testing.T) {
	f := newFixture(t)
	p := f.completed(t)

	_, err := f.orchestrator.Refund(context.Background(), p.ID, 3000, "first")
	require.NoError(t, err)

	// 8000 > 10000 - 3000 remaining.
	_, err = f.orchestrator.Refund(context.Background(), p.ID, 8000, "second")
	assert.ErrorIs(t, err, payment.ErrRefundExceedsCaptured)

	_, err = f.orchestrator.Refund(context.Background(), p.ID, 7000, "second")
	require.NoError(t, err)

	final, err := f.payments.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, final.Status)
	assert.Equal(t, int64(10000), final.RefundedAmount)
}

func TestRefund_FullFlipsOrderAndReleasesStock(t *testing.T) {
	f := newFixture(t)
	p := f.completed(t)

	refunded, err := f.orchestrator.Refund(context.Background(), p.ID, 10000, "order cancelled")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, refunded.Status)

	ord, err := f.payments.Orders().Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusRefunded, ord.Status)

	// The 2 reserved units of p1 come back.
	stock, err := f.stocks.Stock(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, stock.Quantity)
}

func TestRefund_RejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)
	p := f.completed(t)

	_, err := f.orchestrator.Refund(context.Background(), p.ID, 0, "")
	assert.ErrorIs(t, err, payment.ErrInvalidAmount)
	_, err = f.orchestrator.Refund(context.Background(), p.ID, -100, "")
	assert.ErrorIs(t, err, payment.ErrInvalidAmount)
}

func TestRefund_RejectsNonRefundableStatus(t *testing.T) {
	f := newFixture(t)
	p := f.initiate(t)

	_, err := f.orchestrator.Refund(context.Background(), p.ID, 1000, "")
	assert.ErrorIs(t, err, payment.ErrNotRefundable)
}

func TestRefund_GatewayDeclined(t *testing.T) {
	f := newFixture(t)
	p := f.completed(t)
	f.adapter.refundResp = &gateway.Response{Success: false, ErrorCode: "REFUND_WINDOW_CLOSED"}

	_, err := f.orchestrator.Refund(context.Background(), p.ID, 1000, "")
	assert.ErrorIs(t, err, payment.ErrGatewayDeclined)

	// Local state untouched on decline.
	stored, err := f.payments.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, stored.Status)
	assert.Zero(t, stored.RefundedAmount)
}

func TestReceipt_RequiresConfirmedTransaction(t *testing.T) {
	f := newFixture(t)
	p := f.initiate(t)

	_, err := f.orchestrator.Receipt(context.Background(), p.ID)
	assert.ErrorIs(t, err, payment.ErrInvalidTransition)
}

func TestReceipt_FetchesFromGateway(t *testing.T) {
	f := newFixture(t)
	p := f.completed(t)

	receipt, err := f.orchestrator.Receipt(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, receipt.PaymentID)
	assert.Equal(t, p.TransactionID, receipt.TransactionID)
}
