package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/example/commerce-payments/internal/email"
)

// EmailSink delivers alerts through the SMTP email service.
type EmailSink struct {
	service *email.Service
}

func NewEmailSink(service *email.Service) *EmailSink {
	return &EmailSink{service: service}
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Send(ctx context.Context, alert Alert) error {
	subject := fmt.Sprintf("[%s] %s", alert.Type, alert.ProductID)
	return s.service.SendStockAlert(subject, alert.ProductID, alert.Quantity, alert.Threshold)
}

// WebhookSink posts the alert as JSON to a configured endpoint (e.g. a chat
// integration).
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Send(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(map[string]any{
		"type":      alert.Type,
		"product":   alert.ProductID,
		"quantity":  alert.Quantity,
		"threshold": alert.Threshold,
		"message":   alert.Message(),
		"raised_at": alert.RaisedAt,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook sink returned status %d", resp.StatusCode)
	}
	return nil
}

// LogSink is the in-app channel: alerts land in the structured log where the
// admin dashboard tails them.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "in-app" }

func (s *LogSink) Send(ctx context.Context, alert Alert) error {
	s.logger.Warn("stock alert",
		zap.String("type", string(alert.Type)),
		zap.String("product_id", alert.ProductID),
		zap.Int("quantity", alert.Quantity),
		zap.Int("threshold", alert.Threshold))
	return nil
}
