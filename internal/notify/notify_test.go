package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		quantity  int
		threshold int
		want      AlertType
	}{
		{"well stocked", 50, 5, AlertNone},
		{"just above threshold", 6, 5, AlertNone},
		{"at threshold", 5, 5, AlertLowStock},
		{"below threshold", 4, 5, AlertLowStock},
		{"at half threshold", 2, 5, AlertCritical},
		{"below half threshold", 1, 5, AlertCritical},
		{"zero", 0, 5, AlertOutOfStock},
		{"negative with backorders", -3, 5, AlertOutOfStock},
		{"zero threshold still flags empty", 0, 0, AlertOutOfStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.quantity, tt.threshold))
		})
	}
}

func TestAlertMessage(t *testing.T) {
	out := Alert{ProductID: "p1", Type: AlertOutOfStock}.Message()
	assert.Contains(t, out, "out of stock")

	low := Alert{ProductID: "p1", Type: AlertLowStock, Quantity: 3, Threshold: 5}.Message()
	assert.Contains(t, low, "low on stock")

	crit := Alert{ProductID: "p1", Type: AlertCritical, Quantity: 1, Threshold: 5}.Message()
	assert.Contains(t, crit, "critically low")
}

type captureSink struct {
	alerts []Alert
	err    error
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Send(ctx context.Context, alert Alert) error {
	s.alerts = append(s.alerts, alert)
	return s.err
}

type denyThrottle struct{ denied []string }

func (t *denyThrottle) ShouldSend(ctx context.Context, productID string, alertType AlertType) bool {
	t.denied = append(t.denied, productID)
	return false
}

func TestNotifier_DispatchToAllSinks(t *testing.T) {
	first := &captureSink{}
	second := &captureSink{err: errors.New("smtp down")}
	n := NewNotifier(zap.NewNop(), nil, first, second)

	alert := Alert{ProductID: "p1", Type: AlertLowStock, Quantity: 3, Threshold: 5, RaisedAt: time.Now()}
	n.Dispatch(context.Background(), alert)

	// The failing sink must not stop the others.
	assert.Len(t, first.alerts, 1)
	assert.Len(t, second.alerts, 1)
	assert.Equal(t, "p1", first.alerts[0].ProductID)
}

func TestNotifier_SkipsAlertNone(t *testing.T) {
	sink := &captureSink{}
	n := NewNotifier(zap.NewNop(), nil, sink)

	n.Dispatch(context.Background(), Alert{ProductID: "p1", Type: AlertNone})

	assert.Empty(t, sink.alerts)
}

func TestNotifier_Throttled(t *testing.T) {
	sink := &captureSink{}
	throttle := &denyThrottle{}
	n := NewNotifier(zap.NewNop(), throttle, sink)

	n.Dispatch(context.Background(), Alert{ProductID: "p1", Type: AlertLowStock})

	assert.Empty(t, sink.alerts)
	assert.Equal(t, []string{"p1"}, throttle.denied)
}
