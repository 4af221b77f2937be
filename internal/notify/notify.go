// Package notify derives low-stock alerts from ledger state and fans them
// out to external channels. Dispatch failures are logged and swallowed; a
// notification problem must never fail the stock change that triggered it.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type AlertType string

const (
	AlertNone       AlertType = ""
	AlertLowStock   AlertType = "low_stock"
	AlertCritical   AlertType = "critical_stock"
	AlertOutOfStock AlertType = "out_of_stock"
)

// Evaluate classifies the current quantity against the threshold. Pure.
func Evaluate(quantity, threshold int) AlertType {
	switch {
	case quantity <= 0:
		return AlertOutOfStock
	case quantity <= threshold/2:
		return AlertCritical
	case quantity <= threshold:
		return AlertLowStock
	default:
		return AlertNone
	}
}

// Alert is one derived stock alert. Not persisted; computed after each
// adjustment and handed to the sinks.
type Alert struct {
	ProductID string    `json:"product_id"`
	Type      AlertType `json:"type"`
	Quantity  int       `json:"quantity"`
	Threshold int       `json:"threshold"`
	RaisedAt  time.Time `json:"raised_at"`
}

// Message renders the templated alert text shared by all channels.
func (a Alert) Message() string {
	switch a.Type {
	case AlertOutOfStock:
		return fmt.Sprintf("Product %s is out of stock", a.ProductID)
	case AlertCritical:
		return fmt.Sprintf("Product %s is critically low: %d left (threshold %d)", a.ProductID, a.Quantity, a.Threshold)
	default:
		return fmt.Sprintf("Product %s is low on stock: %d left (threshold %d)", a.ProductID, a.Quantity, a.Threshold)
	}
}

// Sink delivers an alert over one channel (email, webhook, in-app).
type Sink interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// Throttle suppresses repeat alerts for the same product and severity within
// a window. ShouldSend reports true when the alert may go out.
type Throttle interface {
	ShouldSend(ctx context.Context, productID string, alertType AlertType) bool
}

type Notifier struct {
	sinks    []Sink
	throttle Throttle
	logger   *zap.Logger
}

// NewNotifier builds a notifier; throttle may be nil, in which case every
// alert dispatches.
func NewNotifier(logger *zap.Logger, throttle Throttle, sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks, throttle: throttle, logger: logger}
}

// Dispatch sends the alert to every sink. Errors are logged per sink and
// never returned to the caller.
func (n *Notifier) Dispatch(ctx context.Context, alert Alert) {
	if alert.Type == AlertNone {
		return
	}
	if n.throttle != nil && !n.throttle.ShouldSend(ctx, alert.ProductID, alert.Type) {
		n.logger.Debug("stock alert throttled",
			zap.String("product_id", alert.ProductID),
			zap.String("type", string(alert.Type)))
		return
	}
	for _, sink := range n.sinks {
		if err := sink.Send(ctx, alert); err != nil {
			n.logger.Warn("stock alert delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("product_id", alert.ProductID),
				zap.String("type", string(alert.Type)),
				zap.Error(err))
		}
	}
}
