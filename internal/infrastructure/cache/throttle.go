package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/commerce-payments/internal/notify"
)

// AlertThrottle dedupes stock alerts per product and severity using Redis
// SetNX with a TTL window. When Redis is unreachable the alert goes through:
// a missed dedup is better than a missed alert.
type AlertThrottle struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewAlertThrottle(addr string, ttl time.Duration, logger *zap.Logger) (*AlertThrottle, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &AlertThrottle{client: client, ttl: ttl, logger: logger}, nil
}

func (t *AlertThrottle) ShouldSend(ctx context.Context, productID string, alertType notify.AlertType) bool {
	key := fmt.Sprintf("stockalert:%s:%s", productID, alertType)
	ok, err := t.client.SetNX(ctx, key, time.Now().Unix(), t.ttl).Result()
	if err != nil {
		t.logger.Warn("alert throttle check failed", zap.String("key", key), zap.Error(err))
		return true
	}
	return ok
}

func (t *AlertThrottle) Close() error {
	return t.client.Close()
}
